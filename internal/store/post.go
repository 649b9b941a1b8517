// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"postfeed/internal/models"
)

var (
	// ErrNotFound is returned when no post exists with the given ID.
	ErrNotFound = errors.New("post not found")
	// ErrNotOwner is returned when the post exists but belongs to someone else.
	ErrNotOwner = errors.New("post owned by another user")
)

const postColumns = `id, author_id, author_name, title, content, category, image_url, created_at, updated_at`

// PostStore handles all post-related database operations.
type PostStore struct {
	db *sql.DB
}

// NewPostStore creates a new PostStore with the given database connection.
func NewPostStore(db *sql.DB) *PostStore {
	return &PostStore{db: db}
}

// Query returns the posts matching the filter, newest first. Posts created
// in the same instant keep insertion order via the seq column.
func (s *PostStore) Query(ctx context.Context, filter models.Filter) ([]models.Post, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if c, ok := filter.Category(); ok {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+postColumns+`
			FROM posts WHERE category = $1
			ORDER BY created_at DESC, seq DESC
		`, string(c))
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+postColumns+`
			FROM posts
			ORDER BY created_at DESC, seq DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

// FindByID retrieves a post by its UUID. Returns nil if not found.
func (s *PostStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+` FROM posts WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post by id: %w", err)
	}
	return p, nil
}

// Insert stores a new post and returns it with the ID and timestamps the
// database assigned. Only AuthorID, AuthorName, Title, Content, Category
// and ImageURL are read from p.
func (s *PostStore) Insert(ctx context.Context, p *models.Post) (*models.Post, error) {
	created, err := scanPost(s.db.QueryRowContext(ctx, `
		INSERT INTO posts (author_id, author_name, title, content, category, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+postColumns,
		p.AuthorID, p.AuthorName, p.Title, p.Content, nullCategory(p.Category), p.ImageURL,
	))
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return created, nil
}

// Update applies the patch to the post if ownerID authored it. A nil
// patch.ImageURL leaves the stored image untouched. Returns ErrNotOwner or
// ErrNotFound when no row matched.
func (s *PostStore) Update(ctx context.Context, id, ownerID uuid.UUID, patch models.PostPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts SET
			title = $1,
			content = $2,
			category = $3,
			image_url = COALESCE($4, image_url),
			updated_at = NOW()
		WHERE id = $5 AND author_id = $6
	`, patch.Title, patch.Content, nullCategory(patch.Category), patch.ImageURL, id, ownerID)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

// Delete removes the post if ownerID authored it. Returns ErrNotOwner or
// ErrNotFound when no row matched.
func (s *PostStore) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM posts WHERE id = $1 AND author_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

// checkAffected tells apart "not yours" from "gone" when an owner-scoped
// write matched nothing.
func (s *PostStore) checkAffected(ctx context.Context, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check post exists: %w", err)
	}
	if exists {
		return ErrNotOwner
	}
	return ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p        models.Post
		category sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.AuthorID, &p.AuthorName, &p.Title, &p.Content,
		&category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan post: %w", err)
	}
	p.Category = models.Category(category.String)
	return &p, nil
}

// nullCategory maps the unset category to SQL NULL.
func nullCategory(c models.Category) sql.NullString {
	return sql.NullString{String: string(c), Valid: c != ""}
}
