package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purrcast/internal/apperr"
	"purrcast/internal/middleware"
	"purrcast/internal/models"
)

type fakeLedger struct {
	upvotes     []models.Upvote
	err         error
	lastPost    uint
	lastSubject string
}

func (f *fakeLedger) Upvote(_ context.Context, postID uint, subject string) ([]models.Upvote, error) {
	f.lastPost, f.lastSubject = postID, subject
	return f.upvotes, f.err
}

func voteEngine(l Upvoter) *gin.Engine {
	h := NewVoteHandler(l, testLog)
	return newEngine(func(r *gin.Engine) {
		r.PUT("/posts/:id/upvote", h.Upvote)
	})
}

func TestUpvote_OK(t *testing.T) {
	l := &fakeLedger{upvotes: []models.Upvote{{ID: 1, PostID: 4, UserID: 2}}}
	r := voteEngine(l)

	req := httptest.NewRequest(http.MethodPut, "/posts/4/upvote", nil)
	req.Header.Set(middleware.SubjectHeader, "auth0|alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Equal(t, uint(4), l.lastPost)
	assert.Equal(t, "auth0|alice", l.lastSubject)
}

func TestUpvote_AlreadyVoted(t *testing.T) {
	l := &fakeLedger{err: apperr.New(apperr.KindConflict, "You've already upvoted this post.", apperr.ErrAlreadyVoted)}
	r := voteEngine(l)

	req := httptest.NewRequest(http.MethodPut, "/posts/4/upvote", nil)
	req.Header.Set(middleware.SubjectHeader, "auth0|alice")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(apperr.KindConflict), decodeError(t, w).Error.Kind)
}
