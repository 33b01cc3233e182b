package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/db"
	"purrcast/internal/models"
	"purrcast/internal/utils"
)

// PageSize is the fixed window of every post listing.
const PageSize = 10

// MaxPage keeps (page-1)*PageSize far from integer overflow.
const MaxPage = 1_000_000

// PostStore is the persistence port behind PostService.
type PostStore interface {
	CreatePost(ctx context.Context, post *models.Post) error
	ListPosts(ctx context.Context, f db.PostFilter, skip, take int) ([]models.Post, error)
	ListUpvotedPosts(ctx context.Context, userID uint, skip, take int) ([]models.Post, error)
	FindPublishedPost(ctx context.Context, id uint) (*models.Post, error)
	ListPendingClassification(ctx context.Context, after, before time.Time, limit int) ([]models.Post, error)
	SetClassification(ctx context.Context, id uint, onHead bool) error
}

type UserStore interface {
	FindUserBySubject(ctx context.Context, subject string) (*models.User, error)
}

type PostService struct {
	posts PostStore
	users UserStore
	log   logrus.FieldLogger
}

func NewPostService(posts PostStore, users UserStore, log logrus.FieldLogger) *PostService {
	return &PostService{
		posts: posts,
		users: users,
		log:   log.WithField("component", "posts"),
	}
}

// Create stores a new published, unclassified post. It must only be called
// after the image upload has succeeded.
func (s *PostService) Create(ctx context.Context, contentURL string, author models.Author, stateID, cityID uint, timezoneOffset int) (*models.Post, error) {
	post := &models.Post{
		ContentURL:     contentURL,
		StateID:        stateID,
		CityID:         cityID,
		Published:      true,
		IsDeleted:      false,
		TimezoneOffset: timezoneOffset,
	}
	post.SetAuthor(author)

	if err := s.posts.CreatePost(ctx, post); err != nil {
		return nil, apperr.Persistence("There was an issue saving your post. Please try again later.", err)
	}
	return post, nil
}

// FindAll lists visible posts, newest first. A non-empty subject restricts
// the listing to that user's posts; an unknown subject yields an empty page.
func (s *PostService) FindAll(ctx context.Context, page int, subject string) (models.Page[models.PostView], error) {
	page, skip, take := pageWindow(page)

	filter := db.PostFilter{}
	if subject != "" {
		user, err := s.users.FindUserBySubject(ctx, subject)
		if errors.Is(err, db.ErrNotFound) {
			return buildPage(page, nil), nil
		}
		if err != nil {
			return models.Page[models.PostView]{}, apperr.Persistence("An error occurred while fetching posts. Please try again later.", err)
		}
		filter.AuthorID = user.ID
	}

	posts, err := s.posts.ListPosts(ctx, filter, skip, take)
	if err != nil {
		return models.Page[models.PostView]{}, apperr.Persistence("An error occurred while fetching posts. Please try again later.", err)
	}
	return buildPage(page, posts), nil
}

func (s *PostService) FindAllNearby(ctx context.Context, page int, stateID, cityID uint) (models.Page[models.PostView], error) {
	if stateID == 0 || cityID == 0 {
		return models.Page[models.PostView]{}, apperr.Validation("state and city are required.")
	}
	page, skip, take := pageWindow(page)

	posts, err := s.posts.ListPosts(ctx, db.PostFilter{StateID: stateID, CityID: cityID}, skip, take)
	if err != nil {
		return models.Page[models.PostView]{}, apperr.Persistence("An error occurred while fetching posts near you. Please try again later.", err)
	}
	return buildPage(page, posts), nil
}

// FindAllUpvotedBy lists visible posts the subject has upvoted.
func (s *PostService) FindAllUpvotedBy(ctx context.Context, page int, subject string) (models.Page[models.PostView], error) {
	page, skip, take := pageWindow(page)

	user, err := s.users.FindUserBySubject(ctx, subject)
	if errors.Is(err, db.ErrNotFound) {
		return models.Page[models.PostView]{}, apperr.New(apperr.KindNotFound, "We couldn't find your account.", apperr.ErrUnknownUser)
	}
	if err != nil {
		return models.Page[models.PostView]{}, apperr.Persistence("An error occurred while fetching your upvotes.", err)
	}

	posts, err := s.posts.ListUpvotedPosts(ctx, user.ID, skip, take)
	if err != nil {
		return models.Page[models.PostView]{}, apperr.Persistence("An error occurred while fetching your upvotes.", err)
	}
	return buildPage(page, posts), nil
}

// FindOne returns a published, non-deleted post.
func (s *PostService) FindOne(ctx context.Context, id uint) (*models.PostView, error) {
	post, err := s.posts.FindPublishedPost(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFound("That post may have been deleted or never existed.")
	}
	if err != nil {
		return nil, apperr.Persistence("An error occurred while fetching the post. Please try again later.", err)
	}
	if !post.Visible() {
		return nil, apperr.NotFound("That post may have been deleted or never existed.")
	}
	view := models.NewPostView(post)
	return &view, nil
}

// FindPendingClassification returns visible posts still waiting for a
// head-position result, created within [after, before).
func (s *PostService) FindPendingClassification(ctx context.Context, after, before time.Time, limit int) ([]models.Post, error) {
	posts, err := s.posts.ListPendingClassification(ctx, after, before, limit)
	if err != nil {
		return nil, apperr.Persistence("An error occurred while fetching pending posts.", err)
	}
	return posts, nil
}

// RecordClassification stores the predictor's verdict for a post.
func (s *PostService) RecordClassification(ctx context.Context, id uint, onHead bool) error {
	err := s.posts.SetClassification(ctx, id, onHead)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("No such post.")
	}
	if err != nil {
		return apperr.Persistence("Could not record the classification.", err)
	}
	s.log.WithFields(logrus.Fields{"post_id": id, "on_head": onHead}).Info("classification recorded")
	return nil
}

// pageWindow normalizes a 1-based page number and returns its skip/take.
func pageWindow(page int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page, (page - 1) * PageSize, PageSize
}

func buildPage(page int, posts []models.Post) models.Page[models.PostView] {
	views := make([]models.PostView, len(posts))
	for i := range posts {
		views[i] = models.NewPostView(&posts[i])
	}

	out := models.Page[models.PostView]{Posts: views, CurrPage: page}
	if len(posts) >= PageSize {
		out.NextPage = utils.Ptr(page + 1)
	}
	if page > 1 {
		out.PrevPage = utils.Ptr(page - 1)
	}
	return out
}
