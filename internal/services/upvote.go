package services

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/db"
	"purrcast/internal/models"
	"purrcast/internal/observability"
)

type UpvoteStore interface {
	FindUserBySubject(ctx context.Context, subject string) (*models.User, error)
	FindPublishedPost(ctx context.Context, id uint) (*models.Post, error)
	HasUpvote(ctx context.Context, postID, userID uint) (bool, error)
	CreateUpvote(ctx context.Context, upvote *models.Upvote) error
	ListUpvotes(ctx context.Context, postID uint) ([]models.Upvote, error)
}

// UpvoteLedger records at most one upvote per (user, post). The pre-insert
// check is a fast path; the unique index on upvotes is what enforces it.
type UpvoteLedger struct {
	store   UpvoteStore
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

func NewUpvoteLedger(store UpvoteStore, log logrus.FieldLogger, metrics *observability.Metrics) *UpvoteLedger {
	return &UpvoteLedger{
		store:   store,
		log:     log.WithField("component", "upvotes"),
		metrics: metrics,
	}
}

// Upvote records the subject's vote and returns every upvote on the post.
func (l *UpvoteLedger) Upvote(ctx context.Context, postID uint, subject string) ([]models.Upvote, error) {
	upvotes, err := l.upvote(ctx, postID, subject)
	switch {
	case err == nil:
		l.metrics.Upvotes.WithLabelValues("created").Inc()
	case apperr.KindOf(err) == apperr.KindConflict:
		l.metrics.Upvotes.WithLabelValues("conflict").Inc()
	default:
		l.metrics.Upvotes.WithLabelValues("error").Inc()
	}
	return upvotes, err
}

func (l *UpvoteLedger) upvote(ctx context.Context, postID uint, subject string) ([]models.Upvote, error) {
	if subject == "" {
		return nil, apperr.New(apperr.KindNotFound, "We couldn't find your account.", apperr.ErrUnknownUser)
	}

	user, err := l.store.FindUserBySubject(ctx, subject)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "We couldn't find your account.", apperr.ErrUnknownUser)
	}
	if err != nil {
		return nil, apperr.Persistence("An error occurred while recording your upvote.", err)
	}

	post, err := l.store.FindPublishedPost(ctx, postID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !post.Visible()) {
		return nil, apperr.NotFound("That post may have been deleted or never existed.")
	}
	if err != nil {
		return nil, apperr.Persistence("An error occurred while recording your upvote.", err)
	}

	voted, err := l.store.HasUpvote(ctx, postID, user.ID)
	if err != nil {
		return nil, apperr.Persistence("An error occurred while recording your upvote.", err)
	}
	if voted {
		return nil, alreadyVoted()
	}

	err = l.store.CreateUpvote(ctx, &models.Upvote{PostID: postID, UserID: user.ID})
	if errors.Is(err, db.ErrDuplicateKey) {
		l.log.WithFields(logrus.Fields{"post_id": postID, "user_id": user.ID}).Info("concurrent duplicate upvote rejected by unique index")
		return nil, alreadyVoted()
	}
	if err != nil {
		return nil, apperr.Persistence("An error occurred while recording your upvote.", err)
	}

	upvotes, err := l.store.ListUpvotes(ctx, postID)
	if err != nil {
		return nil, apperr.Persistence("Your upvote was saved but we couldn't refresh the votes.", err)
	}
	return upvotes, nil
}

func alreadyVoted() error {
	return apperr.New(apperr.KindConflict, "You've already upvoted this post.", apperr.ErrAlreadyVoted)
}
