package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/middleware"
	"purrcast/internal/models"
	"purrcast/internal/services"
)

type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (services.IngestResult, error)
}

type PostFinder interface {
	FindAll(ctx context.Context, page int, subject string) (models.Page[models.PostView], error)
	FindAllNearby(ctx context.Context, page int, stateID, cityID uint) (models.Page[models.PostView], error)
	FindAllUpvotedBy(ctx context.Context, page int, subject string) (models.Page[models.PostView], error)
	FindOne(ctx context.Context, id uint) (*models.PostView, error)
}

// PostHandler 帖子相关接口
type PostHandler struct {
	ingester       Ingester
	posts          PostFinder
	maxUploadBytes int64
	log            logrus.FieldLogger
}

func NewPostHandler(ingester Ingester, posts PostFinder, maxUploadBytes int64, log logrus.FieldLogger) *PostHandler {
	return &PostHandler{
		ingester:       ingester,
		posts:          posts,
		maxUploadBytes: maxUploadBytes,
		log:            log.WithField("handler", "posts"),
	}
}

// Upload 处理图片上传 (POST /posts)
// multipart fields: image, state, city, timezone_offset
func (h *PostHandler) Upload(c *gin.Context) {
	// 多留 1MB 给其他表单字段
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			RenderError(c, h.log, apperr.Validation("That image is too large."))
			return
		}
		RenderError(c, h.log, apperr.Validation("Please attach an image in the \"image\" field."))
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		RenderError(c, h.log, apperr.Validation("That image is too large."))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		RenderError(c, h.log, apperr.Validation("We couldn't read the uploaded file."))
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		RenderError(c, h.log, apperr.Validation("That image is too large."))
		return
	}

	state, err := requiredID(c.PostForm("state"), "state")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	city, err := requiredID(c.PostForm("city"), "city")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	offset, err := optionalInt(c.PostForm("timezone_offset"), "timezone_offset")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}

	res, err := h.ingester.Ingest(c.Request.Context(), services.IngestRequest{
		Image:          data,
		MimeType:       header.Header.Get("Content-Type"),
		Subject:        middleware.Subject(c),
		State:          state,
		City:           city,
		TimezoneOffset: offset,
	})
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// List 最新帖子 (GET /posts)
func (h *PostHandler) List(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	res, err := h.posts.FindAll(c.Request.Context(), page, "")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Nearby 同一地区的帖子 (GET /posts/nearby?state=&city=)
func (h *PostHandler) Nearby(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	state, err := requiredID(c.Query("state"), "state")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	city, err := requiredID(c.Query("city"), "city")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	res, err := h.posts.FindAllNearby(c.Request.Context(), page, state, city)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Mine 当前用户的帖子 (GET /posts/mine)
func (h *PostHandler) Mine(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	res, err := h.posts.FindAll(c.Request.Context(), page, middleware.Subject(c))
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Upvoted 当前用户点赞过的帖子 (GET /posts/upvoted)
func (h *PostHandler) Upvoted(c *gin.Context) {
	page, err := queryPage(c)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	res, err := h.posts.FindAllUpvotedBy(c.Request.Context(), page, middleware.Subject(c))
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Detail 帖子详情 (GET /posts/:id)
func (h *PostHandler) Detail(c *gin.Context) {
	id, err := requiredID(c.Param("id"), "id")
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	post, err := h.posts.FindOne(c.Request.Context(), id)
	if err != nil {
		RenderError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, post)
}
