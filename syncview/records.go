package syncview

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendance-console-go/db"
	"attendance-console-go/models"
)

// Collection paths.
const (
	StudentsPath    = "students"
	CoursesPath     = "courses"
	EnrollmentsPath = "enrollments"
	AttendancePath  = "attendance"
)

var (
	studentFields = map[string]bool{
		"name": true, "email": true, "mobile": true, "cohort": true,
		"campus": true, "school": true, "major": true,
	}
	courseFields = map[string]bool{
		"name": true, "code": true, "instructor": true, "schedule": true, "description": true,
	}
)

// NewStudents creates the view of all students.
func NewStudents(store db.Store, log *zap.Logger) *View[models.Student] {
	v := NewView(store, StudentsPath, func(id string, child db.Snapshot) ([]models.Student, error) {
		var s models.Student
		if err := child.Decode(&s); err != nil {
			return nil, err
		}
		s.ID = id
		return []models.Student{s}, nil
	}, log)
	v.fields = studentFields
	return v
}

// NewCourses creates the view of all courses.
func NewCourses(store db.Store, log *zap.Logger) *View[models.Course] {
	v := NewView(store, CoursesPath, func(id string, child db.Snapshot) ([]models.Course, error) {
		var c models.Course
		if err := child.Decode(&c); err != nil {
			return nil, err
		}
		c.ID = id
		return []models.Course{c}, nil
	}, log)
	v.fields = courseFields
	return v
}

// FindStudent returns the student with id from a mirrored list.
func FindStudent(students []models.Student, id string) (models.Student, bool) {
	for _, s := range students {
		if s.ID == id {
			return s, true
		}
	}
	return models.Student{}, false
}

// FindCourse returns the course with id from a mirrored list.
func FindCourse(courses []models.Course, id string) (models.Course, bool) {
	for _, c := range courses {
		if c.ID == id {
			return c, true
		}
	}
	return models.Course{}, false
}

// Search keeps the students whose name, email or id contains term, ignoring case.
func Search(students []models.Student, term string) []models.Student {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return students
	}
	out := make([]models.Student, 0, len(students))
	for _, s := range students {
		if strings.Contains(strings.ToLower(s.Name), term) ||
			strings.Contains(strings.ToLower(s.Email), term) ||
			strings.Contains(strings.ToLower(s.ID), term) {
			out = append(out, s)
		}
	}
	return out
}

// RowResult is the outcome of creating one input of a bulk create.
type RowResult struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// BulkResult reports every row of a bulk create.
type BulkResult struct {
	Rows      []RowResult `json:"rows"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// OK reports whether every row was created.
func (r BulkResult) OK() bool {
	return r.Failed == 0
}

// CreateAll issues one create per input, all in parallel, and reports each row.
// A failing row does not stop or undo the others.
func CreateAll[T, In any](ctx context.Context, v *View[T], inputs []In) BulkResult {
	rows := make([]RowResult, len(inputs))
	var g errgroup.Group
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			id, err := v.Create(ctx, in)
			rows[i] = RowResult{Index: i, ID: id, Err: err}
			if err != nil {
				rows[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{Rows: rows}
	for _, r := range rows {
		if r.Err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	return res
}
