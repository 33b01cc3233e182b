package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"purrcast/internal/models"
)

// ErrDuplicateKey is returned when an insert hits a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

const dateLayout = "2006-01-02"

// PostFilter narrows a post listing. Zero fields do not filter.
type PostFilter struct {
	AuthorID uint
	StateID  uint
	CityID   uint
}

// Store is the gorm-backed repository behind every persistence port.
type Store struct {
	db *gorm.DB
}

func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) CreatePost(ctx context.Context, post *models.Post) error {
	return s.db.WithContext(ctx).Create(post).Error
}

// visiblePosts 只返回已发布且未删除的帖子，附带点赞数
func (s *Store) visiblePosts(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Post{}).
		Select("posts.*, (SELECT COUNT(*) FROM upvotes WHERE upvotes.post_id = posts.id) AS upvote_count").
		Where("posts.published = ? AND posts.is_deleted = ?", true, false).
		Preload("User").
		Preload("State").
		Preload("City")
}

func (s *Store) ListPosts(ctx context.Context, f PostFilter, skip, take int) ([]models.Post, error) {
	q := s.visiblePosts(ctx)
	if f.AuthorID != 0 {
		q = q.Where("posts.author_id = ?", f.AuthorID)
	}
	if f.StateID != 0 {
		q = q.Where("posts.state_id = ?", f.StateID)
	}
	if f.CityID != 0 {
		q = q.Where("posts.city_id = ?", f.CityID)
	}

	var posts []models.Post
	err := q.Order("posts.created_at DESC, posts.id DESC").
		Offset(skip).
		Limit(take).
		Find(&posts).Error
	return posts, err
}

// ListUpvotedPosts lists visible posts that userID has upvoted, most recent vote first.
func (s *Store) ListUpvotedPosts(ctx context.Context, userID uint, skip, take int) ([]models.Post, error) {
	var posts []models.Post
	err := s.visiblePosts(ctx).
		Joins("JOIN upvotes uv ON uv.post_id = posts.id AND uv.user_id = ?", userID).
		Order("uv.created_at DESC, posts.id DESC").
		Offset(skip).
		Limit(take).
		Find(&posts).Error
	return posts, err
}

func (s *Store) FindPublishedPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := s.visiblePosts(ctx).Where("posts.id = ?", id).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ListPendingClassification returns visible posts without a classification
// created within [after, before), oldest first.
func (s *Store) ListPendingClassification(ctx context.Context, after, before time.Time, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Where("published = ? AND is_deleted = ? AND is_cat_on_head IS NULL", true, false).
		Where("created_at >= ? AND created_at < ?", after, before).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (s *Store) SetClassification(ctx context.Context, id uint, onHead bool) error {
	res := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", id).
		Update("is_cat_on_head", onHead)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) FindUserBySubject(ctx context.Context, subject string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("subject_id = ?", subject).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CityInState(ctx context.Context, cityID, stateID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.City{}).
		Where("id = ? AND state_id = ?", cityID, stateID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) HasUpvote(ctx context.Context, postID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Upvote{}).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Count(&count).Error
	return count > 0, err
}

// CreateUpvote inserts the row; a concurrent duplicate surfaces as ErrDuplicateKey.
func (s *Store) CreateUpvote(ctx context.Context, upvote *models.Upvote) error {
	err := s.db.WithContext(ctx).Create(upvote).Error
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func (s *Store) ListUpvotes(ctx context.Context, postID uint) ([]models.Upvote, error) {
	var upvotes []models.Upvote
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&upvotes).Error
	return upvotes, err
}

func (s *Store) FindDailyPrediction(ctx context.Context, stateID, cityID uint, date time.Time) (*models.DailyPrediction, error) {
	var p models.DailyPrediction
	err := s.db.WithContext(ctx).
		Where("state_id = ? AND city_id = ? AND date = ?", stateID, cityID, date.Format(dateLayout)).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindWeeklyPrediction(ctx context.Context, stateID, cityID uint, weekPivot time.Time) (*models.WeeklyPrediction, error) {
	var p models.WeeklyPrediction
	err := s.db.WithContext(ctx).
		Where("state_id = ? AND city_id = ? AND week_pivot = ?", stateID, cityID, weekPivot.Format(dateLayout)).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
