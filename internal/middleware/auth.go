package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	// SubjectHeader carries the identity provider's subject id, set by the
	// upstream auth proxy after it has verified the caller.
	SubjectHeader = "X-Auth-Subject"

	// SubjectSessionKey is the session fallback used by browser clients.
	SubjectSessionKey = "subject"

	subjectContextKey = "subject"
)

// LoadSubject resolves the caller's subject id and stores it on the context.
// Anonymous callers pass through. SubjectHeader is honoured only when
// trustHeader is set, i.e. when a proxy in front of the service strips it from
// client requests and sets it after verifying the caller. Otherwise only the
// session is consulted.
func LoadSubject(trustHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var subject string
		if trustHeader {
			subject = strings.TrimSpace(c.GetHeader(SubjectHeader))
		}
		if subject == "" {
			session := sessions.Default(c)
			if v, ok := session.Get(SubjectSessionKey).(string); ok {
				subject = strings.TrimSpace(v)
			}
		}
		if subject != "" {
			c.Set(subjectContextKey, subject)
		}
		c.Next()
	}
}

// AuthRequired ensures a subject was resolved by LoadSubject
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Subject(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"kind":    "unauthorized",
					"message": "Please log in to continue.",
				},
			})
			return
		}
		c.Next()
	}
}

// Subject returns the caller's subject id, or "" when anonymous.
func Subject(c *gin.Context) string {
	return c.GetString(subjectContextKey)
}
