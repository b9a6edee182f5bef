package handlers

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attendance-console-go/models"
	"attendance-console-go/report"
	"attendance-console-go/spreadsheet"
	"attendance-console-go/syncview"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// requireCourse answers 404 and returns false when the course does not exist.
func (h *APIHandler) requireCourse(c *gin.Context) (string, bool) {
	courseID := c.Param("id")
	ok, err := h.exists(c.Request.Context(), syncview.CoursesPath, courseID)
	if err != nil {
		h.respondError(c, err, "Failed to verify course")
		return "", false
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
		return "", false
	}
	return courseID, true
}

// --- Enrollment Handlers ---

// GetEnrollments handles GET /api/courses/:id/enrollments
func (h *APIHandler) GetEnrollments(c *gin.Context) {
	courseID, ok := h.requireCourse(c)
	if !ok {
		return
	}
	keys, err := h.Enrollments.List(c.Request.Context(), courseID)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve enrollments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"courseId": courseID, "studentIds": syncview.EnrolledIDs(keys)})
}

// Enroll handles PUT /api/courses/:id/enrollments/:studentId
func (h *APIHandler) Enroll(c *gin.Context) {
	courseID, ok := h.requireCourse(c)
	if !ok {
		return
	}
	studentID := c.Param("studentId")
	found, err := h.exists(c.Request.Context(), syncview.StudentsPath, studentID)
	if err != nil {
		h.respondError(c, err, "Failed to verify student")
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	h.setEnrolled(c, models.EnrollmentKey{CourseID: courseID, StudentID: studentID}, true)
}

// Unenroll handles DELETE /api/courses/:id/enrollments/:studentId. Removing a
// missing enrollment is not an error.
func (h *APIHandler) Unenroll(c *gin.Context) {
	h.setEnrolled(c, models.EnrollmentKey{CourseID: c.Param("id"), StudentID: c.Param("studentId")}, false)
}

func (h *APIHandler) setEnrolled(c *gin.Context, key models.EnrollmentKey, enrolled bool) {
	if err := h.Enrollments.SetEnrolled(c.Request.Context(), key, enrolled); err != nil {
		h.respondError(c, err, "Failed to update enrollment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"courseId": key.CourseID, "studentId": key.StudentID, "enrolled": enrolled})
}

// --- Attendance Handlers ---

// RecordAttendance handles POST /api/courses/:id/attendance
func (h *APIHandler) RecordAttendance(c *gin.Context) {
	var sub models.AttendanceSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.bindError(c, err)
		return
	}
	courseID, ok := h.requireCourse(c)
	if !ok {
		return
	}
	keys, err := h.Attendance.Record(c.Request.Context(), courseID, sub.Date, sub.StudentIDs)
	if err != nil {
		h.respondError(c, err, "Failed to record attendance")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Attendance recorded", "recorded": keys})
}

// buildReport aggregates the course's attendance over the ?start=&end= range.
func (h *APIHandler) buildReport(c *gin.Context) (string, report.Report, bool) {
	rng, err := report.ParseRange(c.Query("start"), c.Query("end"), h.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dates must use the yyyy-MM-dd format"})
		return "", report.Report{}, false
	}
	courseID, ok := h.requireCourse(c)
	if !ok {
		return "", report.Report{}, false
	}
	keys, err := h.Attendance.List(c.Request.Context(), courseID)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve attendance")
		return "", report.Report{}, false
	}
	return courseID, report.Build(syncview.Days(keys), rng), true
}

// AttendanceReport handles GET /api/courses/:id/attendance/report
func (h *APIHandler) AttendanceReport(c *gin.Context) {
	if _, rep, ok := h.buildReport(c); ok {
		c.JSON(http.StatusOK, rep)
	}
}

// ExportAttendance handles GET /api/courses/:id/attendance/export
func (h *APIHandler) ExportAttendance(c *gin.Context) {
	courseID, rep, ok := h.buildReport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := spreadsheet.WriteReport(&buf, spreadsheet.ReportSheet, rep.Rows); err != nil {
		h.respondError(c, err, "Failed to export report")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+spreadsheet.ReportFilename(courseID)+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// --- Dashboard Handler ---

// Dashboard handles GET /api/dashboard
func (h *APIHandler) Dashboard(c *gin.Context) {
	rng, err := report.ParseRange(c.Query("start"), c.Query("end"), h.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Dates must use the yyyy-MM-dd format"})
		return
	}
	students := h.Students.Items()
	courses := h.Courses.Items()

	var mu sync.Mutex
	enrolled := make(map[string][]string, len(courses))
	attendance := make(map[string]map[string][]string, len(courses))

	g, ctx := errgroup.WithContext(c.Request.Context())
	for _, course := range courses {
		courseID := course.ID
		g.Go(func() error {
			keys, err := h.Enrollments.List(ctx, courseID)
			if err != nil {
				return err
			}
			mu.Lock()
			enrolled[courseID] = syncview.EnrolledIDs(keys)
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			keys, err := h.Attendance.List(ctx, courseID)
			if err != nil {
				return err
			}
			mu.Lock()
			attendance[courseID] = syncview.Days(keys)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.Log.Error("dashboard read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard"})
		return
	}

	c.JSON(http.StatusOK, report.Dashboard(students, courses, enrolled, attendance, rng))
}
