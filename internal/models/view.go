package models

import (
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// plainText strips markup from s. StrictPolicy escapes entities for HTML
// output; JSON consumers get the literal characters back.
func plainText(s string) string {
	return html.UnescapeString(strictPolicy.Sanitize(s))
}

// AuthorView is the public slice of a user profile shown next to a post.
type AuthorView struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

type RegionView struct {
	StateID   uint   `json:"state_id"`
	StateCode string `json:"state_code"`
	StateName string `json:"state_name"`
	CityID    uint   `json:"city_id"`
	CityName  string `json:"city_name"`
}

// PostView is the denormalized post projection returned by every read path.
type PostView struct {
	ID          uint        `json:"id"`
	ContentURL  string      `json:"content_url"`
	Author      *AuthorView `json:"author,omitempty"` // omitted for anonymous posts
	Region      RegionView  `json:"region"`
	Upvotes     int         `json:"upvotes"`
	IsCatOnHead *bool       `json:"is_cat_on_head"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewPostView projects p. State, City and User must be preloaded.
func NewPostView(p *Post) PostView {
	v := PostView{
		ID:         p.ID,
		ContentURL: p.ContentURL,
		Region: RegionView{
			StateID:   p.StateID,
			StateCode: p.State.Code,
			StateName: p.State.Name,
			CityID:    p.CityID,
			CityName:  p.City.Name,
		},
		Upvotes:     p.UpvoteCount,
		IsCatOnHead: p.IsCatOnHead,
		CreatedAt:   p.CreatedAt,
	}
	if _, ok := p.Author().UserID(); ok && p.User != nil {
		v.Author = &AuthorView{
			Name:     plainText(p.User.Name),
			Username: plainText(p.User.Username),
			Bio:      plainText(p.User.Bio),
		}
	}
	return v
}

// Page is one window of a paginated listing. NextPage and PrevPage are nil
// when there is no such page.
type Page[T any] struct {
	Posts    []T  `json:"posts"`
	CurrPage int  `json:"curr_page"`
	NextPage *int `json:"next_page,omitempty"`
	PrevPage *int `json:"prev_page,omitempty"`
}
