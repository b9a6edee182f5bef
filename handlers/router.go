package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// NewRouter wires every API route onto a gin engine.
func NewRouter(h *APIHandler, origins []string) *gin.Engine {
	useJSONFieldNames()

	router := gin.Default()
	if len(origins) > 0 {
		router.Use(cors.New(corsConfig(origins)))
	}

	api := router.Group("/api")
	{
		api.GET("/ping", h.Ping)

		api.POST("/auth/login", h.Login)
		api.POST("/auth/logout", h.Logout)
		api.GET("/auth/session", h.Session)
	}

	secured := api.Group("", h.RequireSession())
	{
		// Student routes
		secured.GET("/students", h.GetAllStudents)
		secured.POST("/students", h.AddStudent)
		secured.GET("/students/:id", h.GetStudentByID)
		secured.PATCH("/students/:id", h.UpdateStudent)
		secured.DELETE("/students/:id", h.DeleteStudent)

		// Import route
		secured.POST("/import/students", h.ImportStudents)

		// Course routes
		secured.GET("/courses", h.GetAllCourses)
		secured.POST("/courses", h.AddCourse)
		secured.GET("/courses/:id", h.GetCourseByID)
		secured.PATCH("/courses/:id", h.UpdateCourse)
		secured.DELETE("/courses/:id", h.DeleteCourse)

		// Enrollment and attendance routes within a course
		secured.GET("/courses/:id/enrollments", h.GetEnrollments)
		secured.PUT("/courses/:id/enrollments/:studentId", h.Enroll)
		secured.DELETE("/courses/:id/enrollments/:studentId", h.Unenroll)
		secured.POST("/courses/:id/attendance", h.RecordAttendance)
		secured.GET("/courses/:id/attendance/report", h.AttendanceReport)
		secured.GET("/courses/:id/attendance/export", h.ExportAttendance)

		secured.GET("/dashboard", h.Dashboard)
		secured.GET("/preferences/dark-mode", h.GetDarkMode)
		secured.PUT("/preferences/dark-mode", h.SetDarkMode)

		secured.GET("/stream/:collection", h.Stream)
		secured.GET("/stream/:collection/:courseId", h.Stream)
	}

	return router
}
