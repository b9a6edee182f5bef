package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"attendance-console-go/auth"
	"attendance-console-go/db"
	"attendance-console-go/spreadsheet"
	"attendance-console-go/syncview"
)

var registerOnce sync.Once

// useJSONFieldNames makes validation errors report json field names.
func useJSONFieldNames() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(func(f reflect.StructField) string {
				name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
				if name == "-" || name == "" {
					return f.Name
				}
				return name
			})
		}
	})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	default:
		return "failed the " + fe.Tag() + " check"
	}
}

// requiredFields lists fields that must be non-empty when patched.
var requiredFields = map[string]bool{"name": true, "code": true, "instructor": true, "schedule": true}

// validateFields checks a partial update: values are strings, required fields stay
// non-empty and emails stay valid.
func validateFields(fields map[string]any) error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	for name, value := range fields {
		s, isString := value.(string)
		if !isString {
			return fmt.Errorf("%w: field %q must be a string", syncview.ErrInvalidInput, name)
		}
		var err error
		switch {
		case name == "email":
			err = v.Var(s, "omitempty,email")
		case requiredFields[name]:
			err = v.Var(strings.TrimSpace(s), "required")
		}
		if err != nil {
			var ve validator.ValidationErrors
			if errors.As(err, &ve) && len(ve) > 0 {
				return fmt.Errorf("%w: %s %s", syncview.ErrInvalidInput, name, fieldMessage(ve[0]))
			}
			return err
		}
	}
	return nil
}

// respondError maps err to a status code and a human-readable body.
func (h *APIHandler) respondError(c *gin.Context, err error, msg string) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fieldMessage(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg, "fields": fields})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, syncview.ErrInvalidInput),
		errors.Is(err, db.ErrInvalidPath),
		errors.Is(err, spreadsheet.ErrImportFormat):
		status = http.StatusBadRequest
	case errors.Is(err, syncview.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, db.ErrWriteRejected):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.Log.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	h.Log.Debug(msg, zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(status, gin.H{"error": msg + ": " + err.Error()})
}

// bindError answers a request whose body could not be bound.
func (h *APIHandler) bindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		h.respondError(c, err, "Invalid request body")
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}
