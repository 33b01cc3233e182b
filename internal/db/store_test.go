package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"purrcast/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(conn))
	return conn
}

type fixture struct {
	state models.State
	city  models.City
	user  models.User
}

func seed(t *testing.T, conn *gorm.DB) fixture {
	t.Helper()
	suffix := uuid.NewString()[:8]

	f := fixture{}
	f.state = models.State{Code: suffix[:2], Name: "State " + suffix}
	require.NoError(t, conn.Create(&f.state).Error)
	f.city = models.City{Name: "City " + suffix, StateID: f.state.ID}
	require.NoError(t, conn.Create(&f.city).Error)
	f.user = models.User{SubjectID: "auth0|" + suffix, Name: "Tester", Username: "tester" + suffix}
	require.NoError(t, conn.Create(&f.user).Error)

	t.Cleanup(func() {
		conn.Where("user_id = ?", f.user.ID).Delete(&models.Upvote{})
		conn.Where("state_id = ?", f.state.ID).Delete(&models.Post{})
		conn.Where("state_id = ?", f.state.ID).Delete(&models.DailyPrediction{})
		conn.Delete(&f.user)
		conn.Delete(&f.city)
		conn.Delete(&f.state)
	})
	return f
}

func newPost(f fixture, published, deleted bool) *models.Post {
	return &models.Post{
		ContentURL: "https://cdn.example/" + uuid.NewString() + ".png",
		StateID:    f.state.ID,
		CityID:     f.city.ID,
		Published:  published,
		IsDeleted:  deleted,
	}
}

func TestStore_ListPostsHidesUnpublishedAndDeleted(t *testing.T) {
	conn := setupTestDB(t)
	f := seed(t, conn)
	store := NewStore(conn)
	ctx := context.Background()

	visible := newPost(f, true, false)
	require.NoError(t, store.CreatePost(ctx, visible))
	require.NoError(t, store.CreatePost(ctx, newPost(f, false, false)))
	deleted := newPost(f, true, true)
	require.NoError(t, store.CreatePost(ctx, deleted))

	posts, err := store.ListPosts(ctx, PostFilter{StateID: f.state.ID, CityID: f.city.ID}, 0, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, visible.ID, posts[0].ID)
	assert.Equal(t, f.city.Name, posts[0].City.Name)

	_, err = store.FindPublishedPost(ctx, deleted.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_ConcurrentUpvotesLeaveOneRow(t *testing.T) {
	conn := setupTestDB(t)
	f := seed(t, conn)
	store := NewStore(conn)
	ctx := context.Background()

	post := newPost(f, true, false)
	require.NoError(t, store.CreatePost(ctx, post))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreateUpvote(ctx, &models.Upvote{PostID: post.ID, UserID: f.user.ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateKey)
	}
	assert.Equal(t, 1, succeeded)

	upvotes, err := store.ListUpvotes(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, upvotes, 1)

	found, err := store.FindPublishedPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.UpvoteCount)
}

func TestStore_DailyPredictionByDate(t *testing.T) {
	conn := setupTestDB(t)
	f := seed(t, conn)
	store := NewStore(conn)
	ctx := context.Background()

	value := 0.42
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	require.NoError(t, conn.Create(&models.DailyPrediction{
		StateID: f.state.ID, CityID: f.city.ID, Date: day, Prediction: &value,
	}).Error)

	got, err := store.FindDailyPrediction(ctx, f.state.ID, f.city.ID, day)
	require.NoError(t, err)
	require.NotNil(t, got.Prediction)
	assert.InDelta(t, 0.42, *got.Prediction, 1e-9)

	_, err = store.FindDailyPrediction(ctx, f.state.ID, f.city.ID, day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNotFound)

	dup := conn.Create(&models.DailyPrediction{StateID: f.state.ID, CityID: f.city.ID, Date: day}).Error
	assert.True(t, isUniqueViolation(dup))
}

func TestStore_SetClassification(t *testing.T) {
	conn := setupTestDB(t)
	f := seed(t, conn)
	store := NewStore(conn)
	ctx := context.Background()

	post := newPost(f, true, false)
	require.NoError(t, store.CreatePost(ctx, post))

	pending, err := store.ListPendingClassification(ctx, post.CreatedAt.Add(-time.Minute), post.CreatedAt.Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Contains(t, postIDs(pending), post.ID)

	require.NoError(t, store.SetClassification(ctx, post.ID, true))
	found, err := store.FindPublishedPost(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, found.IsCatOnHead)
	assert.True(t, *found.IsCatOnHead)

	assert.ErrorIs(t, store.SetClassification(ctx, 0, true), ErrNotFound)
}

func postIDs(posts []models.Post) []uint {
	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
