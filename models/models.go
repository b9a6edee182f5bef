package models

// Student represents a student record stored under students/<id>
type Student struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
	Cohort string `json:"cohort"`
	Campus string `json:"campus"`
	School string `json:"school"`
	Major  string `json:"major"`
}

// StudentInput is a Student without its store-assigned id.
type StudentInput struct {
	Name   string `json:"name" binding:"required"`
	Email  string `json:"email" binding:"omitempty,email"`
	Mobile string `json:"mobile"`
	Cohort string `json:"cohort"`
	Campus string `json:"campus"`
	School string `json:"school"`
	Major  string `json:"major"`
}

// WithID attaches a store id to the input.
func (in StudentInput) WithID(id string) Student {
	return Student{
		ID:     id,
		Name:   in.Name,
		Email:  in.Email,
		Mobile: in.Mobile,
		Cohort: in.Cohort,
		Campus: in.Campus,
		School: in.School,
		Major:  in.Major,
	}
}

// Course represents a course record stored under courses/<id>
type Course struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	Instructor  string `json:"instructor"`
	Schedule    string `json:"schedule"`
	Description string `json:"description,omitempty"`
}

// CourseInput is a Course without its store-assigned id.
type CourseInput struct {
	Name        string `json:"name" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Instructor  string `json:"instructor" binding:"required"`
	Schedule    string `json:"schedule" binding:"required"` // e.g. "Mon/Wed 10:00-11:30"
	Description string `json:"description,omitempty"`
}

// WithID attaches a store id to the input.
func (in CourseInput) WithID(id string) Course {
	return Course{
		ID:          id,
		Name:        in.Name,
		Code:        in.Code,
		Instructor:  in.Instructor,
		Schedule:    in.Schedule,
		Description: in.Description,
	}
}

// EnrollmentKey identifies one student's enrollment in one course.
// A key existing in the store means enrolled; there is no "not enrolled" value.
type EnrollmentKey struct {
	CourseID  string `json:"courseId"`
	StudentID string `json:"studentId"`
}

// AttendanceKey identifies one student's presence in a course on a date (yyyy-MM-dd).
type AttendanceKey struct {
	CourseID  string `json:"courseId"`
	Date      string `json:"date"`
	StudentID string `json:"studentId"`
}

// User is the signed-in console session.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"` // "primary" or "mock"
}

// AttendanceSubmission is the body of an attendance recording request.
type AttendanceSubmission struct {
	Date       string   `json:"date" binding:"required"`
	StudentIDs []string `json:"studentIds" binding:"required,min=1"`
}

// Credentials is the body of a login request.
type Credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}
