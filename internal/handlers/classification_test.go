package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"purrcast/internal/apperr"
)

type fakeRecorder struct {
	calls  int
	id     uint
	onHead bool
	err    error
}

func (f *fakeRecorder) RecordClassification(_ context.Context, id uint, onHead bool) error {
	f.calls++
	f.id, f.onHead = id, onHead
	return f.err
}

func classificationEngine(rec ClassificationRecorder, token string) *gin.Engine {
	h := NewClassificationHandler(rec, token, testLog)
	return newEngine(func(r *gin.Engine) {
		r.PUT("/internal/posts/:id/classification", h.Record)
	})
}

func newClassificationRequest(body, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, "/internal/posts/12/classification", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(PredictorTokenHeader, token)
	}
	return req
}

func TestClassification_Recorded(t *testing.T) {
	rec := &fakeRecorder{}
	r := classificationEngine(rec, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newClassificationRequest(`{"is_cat_on_head": false}`, "s3cret"))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, uint(12), rec.id)
	assert.False(t, rec.onHead)
}

func TestClassification_WrongToken(t *testing.T) {
	rec := &fakeRecorder{}
	r := classificationEngine(rec, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newClassificationRequest(`{"is_cat_on_head": true}`, "guess"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, rec.calls)
}

func TestClassification_DisabledWithoutToken(t *testing.T) {
	rec := &fakeRecorder{}
	r := classificationEngine(rec, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newClassificationRequest(`{"is_cat_on_head": true}`, ""))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, rec.calls)
}

func TestClassification_MissingField(t *testing.T) {
	rec := &fakeRecorder{}
	r := classificationEngine(rec, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newClassificationRequest(`{}`, "s3cret"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls)
}

func TestClassification_UnknownPost(t *testing.T) {
	rec := &fakeRecorder{err: apperr.NotFound("Post not found.")}
	r := classificationEngine(rec, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, newClassificationRequest(`{"is_cat_on_head": true}`, "s3cret"))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
