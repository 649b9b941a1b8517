// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

import (
	"time"

	"github.com/google/uuid"
)

// Post is a single user-authored feed item. ID, AuthorID, AuthorName and
// CreatedAt are fixed at insertion; AuthorName is a snapshot and is not
// kept in sync with later profile changes.
type Post struct {
	ID         uuid.UUID `json:"id"`
	AuthorID   uuid.UUID `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   Category  `json:"category,omitempty"`
	ImageURL   *string   `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OwnedBy reports whether the post was authored by the given user.
func (p *Post) OwnedBy(userID uuid.UUID) bool {
	return p.AuthorID == userID
}

// HasImage returns true if an image URL is attached to the post.
func (p *Post) HasImage() bool {
	return p.ImageURL != nil && *p.ImageURL != ""
}

// PostPatch carries the mutable fields of an update. ImageURL is only
// written when non-nil so an edit without a new upload keeps the old image.
type PostPatch struct {
	Title    string
	Content  string
	Category Category
	ImageURL *string
}
