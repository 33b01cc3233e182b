package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"purrcast/internal/db"
	"purrcast/internal/models"
	"purrcast/internal/observability"
)

var testLog = observability.NewDiscardLogger()

type stubClassifier struct {
	mu    sync.Mutex
	tags  []Tag
	err   error
	calls int
}

func (s *stubClassifier) Tags(_ context.Context, _ []byte, _ int) ([]Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.tags, s.err
}

func catTags() []Tag {
	return []Tag{{Label: "cat", Confidence: 87.5}, {Label: "pillow", Confidence: 52}}
}

func newTestGate(c Classifier) *ContentGate {
	return NewContentGate(c, 49, []string{"cat", "kitten", "tabby"}, testLog, observability.NewMetricsForTesting())
}

// memStore is an in-memory stand-in for db.Store.
type memStore struct {
	mu sync.Mutex

	nextID  uint
	posts   []models.Post
	users   map[string]models.User
	cities  map[uint]uint // city -> state
	upvotes []models.Upvote
	daily   map[string]*float64
	weekly  map[string]*float64

	createErr error
	listErr   error

	lastSkip, lastTake int
	lastFilter         db.PostFilter

	// beforeCreateUpvote runs after HasUpvote checks and before the insert.
	beforeCreateUpvote func()
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]models.User{},
		cities: map[uint]uint{},
		daily:  map[string]*float64{},
		weekly: map[string]*float64{},
	}
}

func (m *memStore) addUser(subject string, id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[subject] = models.User{ID: id, SubjectID: subject, Name: subject}
}

func (m *memStore) addPost(p models.Post) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.posts = append(m.posts, p)
	return p.ID
}

func (m *memStore) CreatePost(_ context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	post.ID = m.nextID
	post.CreatedAt = time.Now()
	m.posts = append(m.posts, *post)
	return nil
}

func (m *memStore) ListPosts(_ context.Context, f db.PostFilter, skip, take int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSkip, m.lastTake, m.lastFilter = skip, take, f
	if m.listErr != nil {
		return nil, m.listErr
	}

	var matched []models.Post
	for i := len(m.posts) - 1; i >= 0; i-- {
		p := m.posts[i]
		if !p.Visible() {
			continue
		}
		if f.AuthorID != 0 && (p.AuthorID == nil || *p.AuthorID != f.AuthorID) {
			continue
		}
		if f.StateID != 0 && p.StateID != f.StateID {
			continue
		}
		if f.CityID != 0 && p.CityID != f.CityID {
			continue
		}
		matched = append(matched, p)
	}
	return window(matched, skip, take), nil
}

func (m *memStore) ListUpvotedPosts(_ context.Context, userID uint, skip, take int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.Post
	for i := len(m.upvotes) - 1; i >= 0; i-- {
		uv := m.upvotes[i]
		if uv.UserID != userID {
			continue
		}
		for _, p := range m.posts {
			if p.ID == uv.PostID && p.Visible() {
				matched = append(matched, p)
			}
		}
	}
	return window(matched, skip, take), nil
}

func (m *memStore) FindPublishedPost(_ context.Context, id uint) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.ID == id && p.Visible() {
			p := p
			return &p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) ListPendingClassification(_ context.Context, after, before time.Time, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Post
	for _, p := range m.posts {
		if p.Visible() && p.IsCatOnHead == nil && !p.CreatedAt.Before(after) && p.CreatedAt.Before(before) {
			out = append(out, p)
		}
	}
	return window(out, 0, limit), nil
}

func (m *memStore) SetClassification(_ context.Context, id uint, onHead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.posts {
		if m.posts[i].ID == id {
			v := onHead
			m.posts[i].IsCatOnHead = &v
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) FindUserBySubject(_ context.Context, subject string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[subject]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (m *memStore) CityInState(_ context.Context, cityID, stateID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cities[cityID]
	return ok && s == stateID, nil
}

func (m *memStore) HasUpvote(_ context.Context, postID, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uv := range m.upvotes {
		if uv.PostID == postID && uv.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateUpvote(_ context.Context, upvote *models.Upvote) error {
	if m.beforeCreateUpvote != nil {
		m.beforeCreateUpvote()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uv := range m.upvotes {
		if uv.PostID == upvote.PostID && uv.UserID == upvote.UserID {
			return db.ErrDuplicateKey
		}
	}
	upvote.ID = uint(len(m.upvotes) + 1)
	m.upvotes = append(m.upvotes, *upvote)
	return nil
}

func (m *memStore) ListUpvotes(_ context.Context, postID uint) ([]models.Upvote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Upvote
	for _, uv := range m.upvotes {
		if uv.PostID == postID {
			out = append(out, uv)
		}
	}
	return out, nil
}

func bucketKey(stateID, cityID uint, date time.Time) string {
	return fmt.Sprintf("%d/%d/%s", stateID, cityID, date.Format("2006-01-02"))
}

func (m *memStore) FindDailyPrediction(_ context.Context, stateID, cityID uint, date time.Time) (*models.DailyPrediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.daily[bucketKey(stateID, cityID, date)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &models.DailyPrediction{StateID: stateID, CityID: cityID, Date: date, Prediction: v}, nil
}

func (m *memStore) FindWeeklyPrediction(_ context.Context, stateID, cityID uint, pivot time.Time) (*models.WeeklyPrediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.weekly[bucketKey(stateID, cityID, pivot)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &models.WeeklyPrediction{StateID: stateID, CityID: cityID, WeekPivot: pivot, Prediction: v}, nil
}

func window(posts []models.Post, skip, take int) []models.Post {
	if skip >= len(posts) {
		return nil
	}
	end := skip + take
	if end > len(posts) {
		end = len(posts)
	}
	return posts[skip:end]
}
