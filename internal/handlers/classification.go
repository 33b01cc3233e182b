package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
)

const PredictorTokenHeader = "X-Predictor-Token"

type ClassificationRecorder interface {
	RecordClassification(ctx context.Context, id uint, onHead bool) error
}

// ClassificationHandler receives verdicts from the head-position predictor.
type ClassificationHandler struct {
	posts ClassificationRecorder
	token string
	log   logrus.FieldLogger
}

func NewClassificationHandler(posts ClassificationRecorder, token string, log logrus.FieldLogger) *ClassificationHandler {
	return &ClassificationHandler{posts: posts, token: token, log: log.WithField("handler", "classification")}
}

type classificationRequest struct {
	IsCatOnHead *bool `json:"is_cat_on_head" binding:"required"`
}

// Record handles PUT /internal/posts/:id/classification.
func (h *ClassificationHandler) Record(c *gin.Context) {
	// 未配置 token 时关闭回调接口
	got := c.GetHeader(PredictorTokenHeader)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"kind": "unauthorized", "message": "Invalid predictor token."},
		})
		return
	}

	id, err := requiredID(c.Param("id"), "id")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}

	var req classificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RenderError(c, h.log, apperr.Validation("Body must be {\"is_cat_on_head\": true|false}."))
		return
	}

	if err := h.posts.RecordClassification(c.Request.Context(), id, *req.IsCatOnHead); err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
