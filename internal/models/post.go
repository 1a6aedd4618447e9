package models

import (
	"time"
)

// Post is the target entity of likes and reposts.
// LikesCount and RepostsCount are only written by the toggle service.
type Post struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	UserID       string    `json:"user_id" gorm:"size:128;index"` // Firebase UID of the author
	Content      string    `json:"content"`
	ImageURLs    []string  `json:"image_urls,omitempty" gorm:"serializer:json"`
	LikesCount   int       `json:"likes_count" gorm:"not null;default:0"`
	RepostsCount int       `json:"reposts_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PostCounters is the counter slice of a post read inside a toggle transaction
type PostCounters struct {
	PostID       string
	LikesCount   int
	RepostsCount int
}

// Get returns the value of the named counter
func (c *PostCounters) Get(field CounterField) int {
	if field == RepostsCountField {
		return c.RepostsCount
	}
	return c.LikesCount
}

// Set updates the named counter
func (c *PostCounters) Set(field CounterField, v int) {
	if field == RepostsCountField {
		c.RepostsCount = v
		return
	}
	c.LikesCount = v
}

// CreatePostRequest defines the request body for creating a new post
type CreatePostRequest struct {
	Content   string   `json:"content" validate:"required,min=1,max=280"`
	ImageURLs []string `json:"image_urls,omitempty" validate:"omitempty,dive,url"`
}
