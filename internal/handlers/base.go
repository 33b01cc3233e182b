package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/middleware"
	"purrcast/internal/utils"
)

// RenderError writes the public part of err. The cause goes to the log only.
func RenderError(c *gin.Context, log logrus.FieldLogger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	entry := log.WithFields(logrus.Fields{
		"kind":       kind,
		"path":       c.FullPath(),
		"request_id": c.Writer.Header().Get(middleware.RequestIDHeader),
	}).WithError(err)
	if status >= 500 {
		entry.Error("request error")
	} else {
		entry.Debug("request error")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": apperr.PublicMessage(err),
		},
	})
}

// queryPage reads ?page=, defaulting to 1. Normalization of values below 1
// happens in the service.
func queryPage(c *gin.Context) (int, error) {
	raw := c.DefaultQuery("page", "1")
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("page must be an integer.")
	}
	return page, nil
}

// requiredID parses a positive id taken from a path, query or form value.
func requiredID(value, name string) (uint, error) {
	id, ok := utils.ParseID(value)
	if !ok {
		return 0, apperr.Validation(name + " must be a positive integer.")
	}
	return id, nil
}

func optionalInt(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apperr.Validation(name + " must be an integer.")
	}
	return n, nil
}
