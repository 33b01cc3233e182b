package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"purrcast/internal/middleware"
	"purrcast/internal/models"
)

type Upvoter interface {
	Upvote(ctx context.Context, postID uint, subject string) ([]models.Upvote, error)
}

type VoteHandler struct {
	ledger Upvoter
	log    logrus.FieldLogger
}

func NewVoteHandler(ledger Upvoter, log logrus.FieldLogger) *VoteHandler {
	return &VoteHandler{ledger: ledger, log: log.WithField("handler", "votes")}
}

// Upvote handles PUT /posts/:id/upvote and returns the post's voter rows.
func (h *VoteHandler) Upvote(c *gin.Context) {
	id, err := requiredID(c.Param("id"), "id")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}

	upvotes, err := h.ledger.Upvote(c.Request.Context(), id, middleware.Subject(c))
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"post_id": id,
		"count":   len(upvotes),
		"upvotes": upvotes,
	})
}
