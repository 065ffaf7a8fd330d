package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/internal/service"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
	"github.com/noah-isme/sma-booking-api/pkg/response"
)

// AccessCodeHeader carries the parent's student access code.
const AccessCodeHeader = "X-Access-Code"

// ParentAuthenticator resolves access codes to students.
type ParentAuthenticator interface {
	AuthenticateParent(ctx context.Context, code string) (*models.StudentDetail, error)
}

// ParentAccess requires a valid, unexpired access code of an active student.
func ParentAccess(auth ParentAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.GetHeader(AccessCodeHeader)
		if code == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "access code required"))
			c.Abort()
			return
		}
		student, err := auth.AuthenticateParent(c.Request.Context(), code)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextStudentKey, student)
		c.Set(ContextCallerKey, service.ParentCaller(student.ID))
		c.Next()
	}
}

// StudentFromContext returns the student resolved by ParentAccess.
func StudentFromContext(c *gin.Context) *models.StudentDetail {
	value, exists := c.Get(ContextStudentKey)
	if !exists {
		return nil
	}
	student, _ := value.(*models.StudentDetail)
	return student
}
