package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attendance-console-go/auth"
	"attendance-console-go/db"
	"attendance-console-go/models"
	"attendance-console-go/spreadsheet"
	"attendance-console-go/syncview"
)

// darkModeKey is the local storage key of the dark-mode preference.
const darkModeKey = "darkMode"

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIHandler holds the dependencies for API handlers: the backing store, the live
// views over it and the session gateway.
type APIHandler struct {
	Store       db.Store
	Students    *syncview.View[models.Student]
	Courses     *syncview.View[models.Course]
	Enrollments *syncview.Enrollments
	Attendance  *syncview.Attendance
	Gateway     *auth.Gateway
	Tokens      *auth.Tokens
	Prefs       auth.KV
	Log         *zap.Logger
	Now         func() time.Time

	// SecureCookie marks the session cookie Secure. It is on unless configured off.
	SecureCookie bool

	base     context.Context
	upgrader websocket.Upgrader
}

// NewAPIHandler creates a new APIHandler. Its views stay empty until Open.
func NewAPIHandler(store db.Store, gateway *auth.Gateway, tokens *auth.Tokens, prefs auth.KV, origins []string, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{
		Store:        store,
		Students:     syncview.NewStudents(store, log),
		Courses:      syncview.NewCourses(store, log),
		Enrollments:  syncview.NewEnrollments(store, log),
		Attendance:   syncview.NewAttendance(store, log),
		Gateway:      gateway,
		Tokens:       tokens,
		Prefs:        prefs,
		Log:          log,
		Now:          time.Now,
		SecureCookie: true,
		base:         context.Background(),
		upgrader:     websocket.Upgrader{CheckOrigin: allowOrigins(origins)},
	}
}

// Open starts the student and course views. ctx bounds the handler's lifetime:
// cancelling it ends the views and every open stream.
func (h *APIHandler) Open(ctx context.Context) error {
	h.base = ctx
	if err := h.Students.Open(ctx); err != nil {
		return err
	}
	if err := h.Courses.Open(ctx); err != nil {
		h.Students.Close()
		return err
	}
	return nil
}

// Close tears down the views.
func (h *APIHandler) Close() {
	h.Courses.Close()
	h.Students.Close()
}

// exists reports whether anything is stored under the joined path.
func (h *APIHandler) exists(ctx context.Context, parts ...string) (bool, error) {
	snap, err := h.Store.Get(ctx, db.JoinPath(parts...))
	if err != nil {
		return false, err
	}
	return snap.Exists(), nil
}

// --- Student Handlers ---

// GetAllStudents handles GET /api/students?search=
func (h *APIHandler) GetAllStudents(c *gin.Context) {
	c.JSON(http.StatusOK, syncview.Search(h.Students.Items(), c.Query("search")))
}

// GetStudentByID handles GET /api/students/:id
func (h *APIHandler) GetStudentByID(c *gin.Context) {
	student, ok := syncview.FindStudent(h.Students.Items(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Student not found"})
		return
	}
	c.JSON(http.StatusOK, student)
}

// AddStudent handles POST /api/students
func (h *APIHandler) AddStudent(c *gin.Context) {
	var in models.StudentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.bindError(c, err)
		return
	}
	id, err := h.Students.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "Failed to add student")
		return
	}
	c.JSON(http.StatusCreated, in.WithID(id))
}

// UpdateStudent handles PATCH /api/students/:id
func (h *APIHandler) UpdateStudent(c *gin.Context) {
	h.patch(c, h.Students.Update, "Student")
}

// DeleteStudent handles DELETE /api/students/:id
func (h *APIHandler) DeleteStudent(c *gin.Context) {
	if err := h.Students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "Failed to delete student")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Student deleted"})
}

// --- Course Handlers ---

// GetAllCourses handles GET /api/courses
func (h *APIHandler) GetAllCourses(c *gin.Context) {
	c.JSON(http.StatusOK, h.Courses.Items())
}

// GetCourseByID handles GET /api/courses/:id
func (h *APIHandler) GetCourseByID(c *gin.Context) {
	course, ok := syncview.FindCourse(h.Courses.Items(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
		return
	}
	c.JSON(http.StatusOK, course)
}

// AddCourse handles POST /api/courses
func (h *APIHandler) AddCourse(c *gin.Context) {
	var in models.CourseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.bindError(c, err)
		return
	}
	id, err := h.Courses.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err, "Failed to add course")
		return
	}
	c.JSON(http.StatusCreated, in.WithID(id))
}

// UpdateCourse handles PATCH /api/courses/:id
func (h *APIHandler) UpdateCourse(c *gin.Context) {
	h.patch(c, h.Courses.Update, "Course")
}

// DeleteCourse handles DELETE /api/courses/:id
func (h *APIHandler) DeleteCourse(c *gin.Context) {
	if err := h.Courses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, "Failed to delete course")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Course deleted"})
}

type updateFunc func(ctx context.Context, id string, fields map[string]any) error

func (h *APIHandler) patch(c *gin.Context, update updateFunc, kind string) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.bindError(c, err)
		return
	}
	if err := validateFields(fields); err != nil {
		h.respondError(c, err, "Invalid request body")
		return
	}
	id := c.Param("id")
	if err := update(c.Request.Context(), id, fields); err != nil {
		h.respondError(c, err, "Failed to update "+kind)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": kind + " updated", "id": id})
}

// --- Import Handler ---

// ImportStudents handles POST /api/import/students
func (h *APIHandler) ImportStudents(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	h.Log.Info("received student import", zap.String("file", header.Filename), zap.Int64("size", header.Size))

	inputs, err := spreadsheet.ReadStudents(file, h.Log)
	if err != nil {
		h.respondError(c, err, "Failed to read spreadsheet")
		return
	}
	if len(inputs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "The spreadsheet contains no student rows"})
		return
	}

	res := syncview.CreateAll(c.Request.Context(), h.Students, inputs)
	status, message := http.StatusOK, "Import successful"
	if !res.OK() {
		status, message = http.StatusMultiStatus, "Some rows could not be imported"
		h.Log.Warn("partial student import", zap.String("file", header.Filename),
			zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
	}
	c.JSON(status, gin.H{
		"message":       message,
		"importedCount": res.Succeeded,
		"failedCount":   res.Failed,
		"rows":          res.Rows,
	})
}

// --- Preference Handlers ---

type darkModeRequest struct {
	DarkMode *bool `json:"darkMode" binding:"required"`
}

// GetDarkMode handles GET /api/preferences/dark-mode
func (h *APIHandler) GetDarkMode(c *gin.Context) {
	v, ok, err := h.Prefs.Get(c.Request.Context(), darkModeKey)
	if err != nil {
		h.respondError(c, err, "Failed to read preference")
		return
	}
	c.JSON(http.StatusOK, gin.H{"darkMode": v == "true", "set": ok})
}

// SetDarkMode handles PUT /api/preferences/dark-mode
func (h *APIHandler) SetDarkMode(c *gin.Context) {
	var req darkModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	value := "false"
	if *req.DarkMode {
		value = "true"
	}
	if err := h.Prefs.Set(c.Request.Context(), darkModeKey, value); err != nil {
		h.respondError(c, err, "Failed to save preference")
		return
	}
	c.JSON(http.StatusOK, gin.H{"darkMode": *req.DarkMode, "set": true})
}

// --- Ping Handler ---

// Ping handles GET /api/ping and checks the store connection when it can.
func (h *APIHandler) Ping(c *gin.Context) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			h.Log.Error("store ping failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Store unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
