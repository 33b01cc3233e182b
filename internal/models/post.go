package models

import (
	"time"
)

type Post struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ContentURL     string    `gorm:"not null" json:"content_url"`
	AuthorID       *uint     `gorm:"index" json:"-"` // nil for anonymous posts; use Author()
	User           *User     `gorm:"foreignKey:AuthorID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"`
	StateID        uint      `gorm:"not null;index:idx_post_region" json:"state_id"`
	State          State     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	CityID         uint      `gorm:"not null;index:idx_post_region" json:"city_id"`
	City           City      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Published      bool      `gorm:"not null;index" json:"published"`
	IsDeleted      bool      `gorm:"not null;index" json:"is_deleted"`
	IsCatOnHead    *bool     `json:"is_cat_on_head"` // nil until the predictor reports back
	TimezoneOffset int       `gorm:"not null" json:"timezone_offset"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// 非数据库字段，用于查询时填充
	UpvoteCount int `gorm:"->;-:migration" json:"upvote_count"`
}

// Author reports who published the post.
func (p *Post) Author() Author {
	if p.AuthorID == nil {
		return Anonymous()
	}
	return Identified(*p.AuthorID)
}

// SetAuthor stores a into the nullable author column.
func (p *Post) SetAuthor(a Author) {
	if id, ok := a.UserID(); ok {
		p.AuthorID = &id
		return
	}
	p.AuthorID = nil
}

// Visible reports whether listings and lookups may return the post.
func (p *Post) Visible() bool {
	return p.Published && !p.IsDeleted
}
