package syncview

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"attendance-console-go/db"
	"attendance-console-go/models"
)

// DateLayout is the format of attendance dates.
const DateLayout = "2006-01-02"

// present reports whether a stored marker means the key is set. Only true counts;
// anything else is logged and treated as absent.
func present(log *zap.Logger, child db.Snapshot) bool {
	if b, ok := child.Value.(bool); ok && b {
		return true
	}
	log.Debug("ignoring non-true presence marker", zap.String("path", child.Path), zap.Any("value", child.Value))
	return false
}

// Enrollments issues enrollment commands and builds per-course enrollment views.
type Enrollments struct {
	store db.Store
	log   *zap.Logger
}

// NewEnrollments creates the enrollment command set.
func NewEnrollments(store db.Store, log *zap.Logger) *Enrollments {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enrollments{store: store, log: log}
}

// SetEnrolled adds or removes the enrollment key. Removing a missing key is a no-op.
func (e *Enrollments) SetEnrolled(ctx context.Context, key models.EnrollmentKey, enrolled bool) error {
	if !validID(key.CourseID) || !validID(key.StudentID) {
		return fmt.Errorf("%w: course and student are required", ErrInvalidInput)
	}
	var value any
	if enrolled {
		value = true
	}
	path := db.JoinPath(EnrollmentsPath, key.CourseID, key.StudentID)
	if err := e.store.Update(ctx, map[string]any{path: value}); err != nil {
		return fmt.Errorf("set enrollment %s: %w", path, err)
	}
	return nil
}

func (e *Enrollments) expand(courseID string) ExpandFunc[models.EnrollmentKey] {
	return func(studentID string, child db.Snapshot) ([]models.EnrollmentKey, error) {
		if !present(e.log, child) {
			return nil, nil
		}
		return []models.EnrollmentKey{{CourseID: courseID, StudentID: studentID}}, nil
	}
}

// View creates a live view of one course's enrollment keys.
func (e *Enrollments) View(courseID string) *View[models.EnrollmentKey] {
	return NewView(e.store, db.JoinPath(EnrollmentsPath, courseID), e.expand(courseID), e.log)
}

// List reads one course's enrollment keys once.
func (e *Enrollments) List(ctx context.Context, courseID string) ([]models.EnrollmentKey, error) {
	v := e.View(courseID)
	snap, err := e.store.Get(ctx, v.Path())
	if err != nil {
		return nil, err
	}
	return v.Decode(snap), nil
}

// Attendance issues attendance commands and builds per-course attendance views.
type Attendance struct {
	store db.Store
	log   *zap.Logger
}

// NewAttendance creates the attendance command set.
func NewAttendance(store db.Store, log *zap.Logger) *Attendance {
	if log == nil {
		log = zap.NewNop()
	}
	return &Attendance{store: store, log: log}
}

// Record marks every listed student present in the course on date, in one atomic write.
// Blank ids are ignored; duplicates collapse into one key.
func (a *Attendance) Record(ctx context.Context, courseID, date string, studentIDs []string) ([]models.AttendanceKey, error) {
	if !validID(courseID) {
		return nil, fmt.Errorf("%w: please select a course", ErrInvalidInput)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be yyyy-MM-dd", ErrInvalidInput)
	}
	updates := map[string]any{}
	var keys []models.AttendanceKey
	for _, id := range studentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !validID(id) {
			return nil, fmt.Errorf("%w: student id %q", ErrInvalidInput, id)
		}
		path := db.JoinPath(AttendancePath, courseID, date, id)
		if _, dup := updates[path]; dup {
			continue
		}
		updates[path] = true
		keys = append(keys, models.AttendanceKey{CourseID: courseID, Date: date, StudentID: id})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: please enter at least one student id", ErrInvalidInput)
	}
	if err := a.store.Update(ctx, updates); err != nil {
		return nil, fmt.Errorf("record attendance for %s on %s: %w", courseID, date, err)
	}
	return keys, nil
}

func (a *Attendance) expand(courseID string) ExpandFunc[models.AttendanceKey] {
	return func(date string, child db.Snapshot) ([]models.AttendanceKey, error) {
		var keys []models.AttendanceKey
		for _, studentID := range child.Keys() {
			if present(a.log, child.Child(studentID)) {
				keys = append(keys, models.AttendanceKey{CourseID: courseID, Date: date, StudentID: studentID})
			}
		}
		return keys, nil
	}
}

// View creates a live view of one course's attendance keys.
func (a *Attendance) View(courseID string) *View[models.AttendanceKey] {
	return NewView(a.store, db.JoinPath(AttendancePath, courseID), a.expand(courseID), a.log)
}

// List reads one course's attendance keys once.
func (a *Attendance) List(ctx context.Context, courseID string) ([]models.AttendanceKey, error) {
	v := a.View(courseID)
	snap, err := a.store.Get(ctx, v.Path())
	if err != nil {
		return nil, err
	}
	return v.Decode(snap), nil
}

// Days groups attendance keys by date. Each date lists its present students in ascending order.
func Days(keys []models.AttendanceKey) map[string][]string {
	days := map[string][]string{}
	for _, k := range keys {
		days[k.Date] = append(days[k.Date], k.StudentID)
	}
	for _, ids := range days {
		sort.Strings(ids)
	}
	return days
}

// EnrolledIDs returns the student ids of a course's enrollment keys.
func EnrolledIDs(keys []models.EnrollmentKey) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.StudentID)
	}
	return ids
}
