package report

import (
	"math"

	"attendance-console-go/models"
)

// CourseStat summarizes one course on the dashboard.
type CourseStat struct {
	CourseID string `json:"courseId"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Enrolled int    `json:"enrolled"`
	Sessions int    `json:"sessions"`
	// Rate is the mean share of enrolled students present per session, in percent.
	Rate int `json:"attendanceRate"`
}

// Summary is the dashboard payload.
type Summary struct {
	TotalStudents  int          `json:"totalStudents"`
	TotalCourses   int          `json:"totalCourses"`
	ActiveStudents int          `json:"activeStudents"`
	Courses        []CourseStat `json:"courses"`
}

// Dashboard computes totals and per-course attendance rates over rng.
// enrolled maps course id to enrolled student ids; attendance maps course id to its days.
// A student is active when present at least once in rng in any course.
func Dashboard(students []models.Student, courses []models.Course, enrolled map[string][]string, attendance map[string]map[string][]string, rng Range) Summary {
	sum := Summary{
		TotalStudents: len(students),
		TotalCourses:  len(courses),
		Courses:       make([]CourseStat, 0, len(courses)),
	}
	known := make(map[string]bool, len(students))
	for _, s := range students {
		known[s.ID] = true
	}
	active := map[string]bool{}

	for _, c := range courses {
		stat := CourseStat{CourseID: c.ID, Name: c.Name, Code: c.Code, Enrolled: len(enrolled[c.ID])}
		members := make(map[string]bool, stat.Enrolled)
		for _, id := range enrolled[c.ID] {
			members[id] = true
		}

		var total float64
		for _, r := range Filter(Flatten(attendance[c.ID]), rng) {
			stat.Sessions++
			present := 0
			for _, id := range r.PresentStudents {
				if known[id] {
					active[id] = true
				}
				if members[id] {
					present++
				}
			}
			if stat.Enrolled > 0 {
				total += float64(present) / float64(stat.Enrolled)
			}
		}
		if stat.Sessions > 0 {
			stat.Rate = int(math.Round(total / float64(stat.Sessions) * 100))
		}
		sum.Courses = append(sum.Courses, stat)
	}
	sum.ActiveStudents = len(active)
	return sum
}
