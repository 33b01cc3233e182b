package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/db"
	"purrcast/internal/models"
	"purrcast/internal/observability"
)

type IngestRequest struct {
	Image          []byte
	MimeType       string
	Subject        string // empty for anonymous uploads
	State          uint
	City           uint
	TimezoneOffset int
}

type IngestResult struct {
	ResourceURL string `json:"resource_url"`
	PostID      uint   `json:"post_id"`
}

type RegionStore interface {
	CityInState(ctx context.Context, cityID, stateID uint) (bool, error)
}

// Ingestor runs the upload pipeline: normalize, gate, upload, persist, then
// hand the post to the dispatcher without waiting on it. Any stage failure
// aborts the remaining stages.
type Ingestor struct {
	normalizer *Normalizer
	gate       *ContentGate
	uploader   *BlobUploader
	posts      *PostService
	users      UserStore
	regions    RegionStore
	dispatcher JobDispatcher
	log        logrus.FieldLogger
	metrics    *observability.Metrics
}

func NewIngestor(
	normalizer *Normalizer,
	gate *ContentGate,
	uploader *BlobUploader,
	posts *PostService,
	users UserStore,
	regions RegionStore,
	dispatcher JobDispatcher,
	log logrus.FieldLogger,
	metrics *observability.Metrics,
) *Ingestor {
	return &Ingestor{
		normalizer: normalizer,
		gate:       gate,
		uploader:   uploader,
		posts:      posts,
		users:      users,
		regions:    regions,
		dispatcher: dispatcher,
		log:        log.WithField("component", "ingest"),
		metrics:    metrics,
	}
}

func (in *Ingestor) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	res, err := in.ingest(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		in.log.WithError(err).WithFields(logrus.Fields{
			"state": req.State,
			"city":  req.City,
		}).Warn("ingestion failed")
	}
	in.metrics.IngestTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (in *Ingestor) ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if err := in.validate(ctx, req); err != nil {
		return IngestResult{}, err
	}

	var img NormalizedImage
	err := in.stage("normalize", func() (err error) {
		img, err = in.normalizer.Normalize(req.Image, req.MimeType)
		return err
	})
	if err != nil {
		return IngestResult{}, err
	}

	if err := in.stage("gate", func() error { return in.gate.Check(ctx, img.Data) }); err != nil {
		return IngestResult{}, err
	}

	var obj StoredObject
	err = in.stage("upload", func() (err error) {
		obj, err = in.uploader.Upload(ctx, img.Data, img.ContentType)
		return err
	})
	if err != nil {
		return IngestResult{}, err
	}

	author := in.resolveAuthor(ctx, req.Subject)

	var post *models.Post
	err = in.stage("persist", func() (err error) {
		post, err = in.posts.Create(ctx, obj.SecureURL, author, req.State, req.City, req.TimezoneOffset)
		return err
	})
	if err != nil {
		// The blob stays behind unreferenced; no compensating delete.
		in.log.WithError(err).WithField("url", obj.SecureURL).Error("post not saved after successful upload")
		return IngestResult{}, err
	}

	in.dispatcher.Dispatch(ctx, obj.SecureURL, post.ID)

	in.log.WithFields(logrus.Fields{
		"post_id":   post.ID,
		"anonymous": author.IsAnonymous(),
	}).Info("post created")
	return IngestResult{ResourceURL: obj.SecureURL, PostID: post.ID}, nil
}

func (in *Ingestor) validate(ctx context.Context, req IngestRequest) error {
	if len(req.Image) == 0 {
		return apperr.Validation("Please attach an image.")
	}
	if req.State == 0 || req.City == 0 {
		return apperr.Validation("state and city are required.")
	}
	if req.TimezoneOffset < MinTimezoneOffset || req.TimezoneOffset > MaxTimezoneOffset {
		return apperr.Validation(fmt.Sprintf("timezone_offset must be between %d and %d minutes.", MinTimezoneOffset, MaxTimezoneOffset))
	}

	ok, err := in.regions.CityInState(ctx, req.City, req.State)
	if err != nil {
		return apperr.Persistence("We couldn't verify your location. Please try again later.", err)
	}
	if !ok {
		return apperr.Validation("That city does not belong to that state.")
	}
	return nil
}

// resolveAuthor maps the subject to a user. Unknown subjects post
// anonymously rather than failing an upload that has already been stored.
func (in *Ingestor) resolveAuthor(ctx context.Context, subject string) models.Author {
	if subject == "" {
		return models.Anonymous()
	}
	user, err := in.users.FindUserBySubject(ctx, subject)
	if err != nil {
		entry := in.log.WithField("subject", subject)
		if !errors.Is(err, db.ErrNotFound) {
			entry = entry.WithError(err)
		}
		entry.Warn("could not resolve uploader, posting anonymously")
		return models.Anonymous()
	}
	return models.Identified(user.ID)
}

func (in *Ingestor) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	in.metrics.IngestStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}
