package models

import (
	"time"
)

// DailyPrediction and WeeklyPrediction are produced by the external
// aggregation job and are read-only here. Date and WeekPivot are calendar
// dates in the caller-local sense (see services.LocalDate).
type DailyPrediction struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StateID    uint      `gorm:"not null;uniqueIndex:idx_daily_bucket" json:"state_id"`
	CityID     uint      `gorm:"not null;uniqueIndex:idx_daily_bucket" json:"city_id"`
	Date       time.Time `gorm:"type:date;not null;uniqueIndex:idx_daily_bucket" json:"date"`
	Prediction *float64  `json:"prediction"` // nil when the job had nothing to aggregate
	CreatedAt  time.Time `json:"created_at"`
}

type WeeklyPrediction struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StateID    uint      `gorm:"not null;uniqueIndex:idx_weekly_bucket" json:"state_id"`
	CityID     uint      `gorm:"not null;uniqueIndex:idx_weekly_bucket" json:"city_id"`
	WeekPivot  time.Time `gorm:"type:date;not null;uniqueIndex:idx_weekly_bucket" json:"week_pivot"`
	Prediction *float64  `json:"prediction"`
	CreatedAt  time.Time `json:"created_at"`
}
