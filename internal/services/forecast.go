package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/db"
	"purrcast/internal/models"
	"purrcast/internal/observability"
	"purrcast/internal/utils"
)

// Timezone offsets are minutes in the getTimezoneOffset convention
// (UTC minus local), bounded by the real-world extremes UTC-14..UTC+14.
const (
	MinTimezoneOffset = -840
	MaxTimezoneOffset = 840
)

type Scope string

const (
	ScopeDaily  Scope = "daily"
	ScopeWeekly Scope = "weekly"
)

// ParseScope maps the query value to a Scope; empty means daily.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeDaily:
		return ScopeDaily, nil
	case ScopeWeekly:
		return ScopeWeekly, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("scope must be %q or %q.", ScopeDaily, ScopeWeekly))
	}
}

// Forecast is a probability in [0,1] or the absent forecast. The zero value
// is absent.
type Forecast struct {
	value   float64
	present bool
}

func NoForecast() Forecast { return Forecast{} }

func ForecastOf(v float64) Forecast { return Forecast{value: v, present: true} }

func (f Forecast) Value() (float64, bool) { return f.value, f.present }

// MarshalJSON renders an absent forecast as null.
func (f Forecast) MarshalJSON() ([]byte, error) {
	if !f.present {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

type ForecastQuery struct {
	State          uint
	City           uint
	TimezoneOffset int
	Scope          Scope
}

type ForecastResult struct {
	State    uint     `json:"state"`
	City     uint     `json:"city"`
	Date     string   `json:"date"`
	Scope    Scope    `json:"scope"`
	Forecast Forecast `json:"forecast"`
}

// PredictionStore reads the precomputed aggregates.
type PredictionStore interface {
	FindDailyPrediction(ctx context.Context, stateID, cityID uint, date time.Time) (*models.DailyPrediction, error)
	FindWeeklyPrediction(ctx context.Context, stateID, cityID uint, weekPivot time.Time) (*models.WeeklyPrediction, error)
}

type ForecastService struct {
	store   PredictionStore
	cache   *utils.TTLCache[string, Forecast]
	clock   clockwork.Clock
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

func NewForecastService(store PredictionStore, cache *utils.TTLCache[string, Forecast], clock clockwork.Clock, log logrus.FieldLogger, metrics *observability.Metrics) *ForecastService {
	return &ForecastService{
		store:   store,
		cache:   cache,
		clock:   clock,
		log:     log.WithField("component", "forecast"),
		metrics: metrics,
	}
}

// LocalDate returns the caller's calendar date as midnight UTC. The caller's
// local instant is now minus offsetMinutes.
func LocalDate(now time.Time, offsetMinutes int) time.Time {
	local := now.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *ForecastService) GetForecast(ctx context.Context, q ForecastQuery) (ForecastResult, error) {
	if q.Scope == "" {
		q.Scope = ScopeDaily
	}
	if q.Scope != ScopeDaily && q.Scope != ScopeWeekly {
		return ForecastResult{}, apperr.Validation(fmt.Sprintf("scope must be %q or %q.", ScopeDaily, ScopeWeekly))
	}
	if q.State == 0 || q.City == 0 {
		return ForecastResult{}, apperr.Validation("state and city are required.")
	}
	if q.TimezoneOffset < MinTimezoneOffset || q.TimezoneOffset > MaxTimezoneOffset {
		return ForecastResult{}, apperr.Validation(fmt.Sprintf("timezone_offset must be between %d and %d minutes.", MinTimezoneOffset, MaxTimezoneOffset))
	}

	date := LocalDate(s.clock.Now(), q.TimezoneOffset)
	result := ForecastResult{
		State: q.State,
		City:  q.City,
		Date:  date.Format("2006-01-02"),
		Scope: q.Scope,
	}

	key := fmt.Sprintf("%s:%d:%d:%s", q.Scope, q.State, q.City, result.Date)
	if f, ok := s.cache.Get(key); ok {
		s.metrics.ForecastCache.WithLabelValues("hit").Inc()
		result.Forecast = f
		return result, nil
	}
	s.metrics.ForecastCache.WithLabelValues("miss").Inc()

	f, err := s.lookup(ctx, q, date)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("forecast lookup failed")
		return ForecastResult{}, apperr.Persistence("An error occurred while fetching the forecast. Please try again later.", err)
	}

	outcome := "absent"
	if _, ok := f.Value(); ok {
		outcome = "found"
	}
	s.metrics.ForecastLookups.WithLabelValues(string(q.Scope), outcome).Inc()

	s.cache.Set(key, f)
	result.Forecast = f
	return result, nil
}

func (s *ForecastService) lookup(ctx context.Context, q ForecastQuery, date time.Time) (Forecast, error) {
	var value *float64
	switch q.Scope {
	case ScopeWeekly:
		row, err := s.store.FindWeeklyPrediction(ctx, q.State, q.City, date)
		if errors.Is(err, db.ErrNotFound) {
			return NoForecast(), nil
		}
		if err != nil {
			return Forecast{}, err
		}
		value = row.Prediction
	default:
		row, err := s.store.FindDailyPrediction(ctx, q.State, q.City, date)
		if errors.Is(err, db.ErrNotFound) {
			return NoForecast(), nil
		}
		if err != nil {
			return Forecast{}, err
		}
		value = row.Prediction
	}

	if value == nil {
		return NoForecast(), nil
	}
	return ForecastOf(*value), nil
}
