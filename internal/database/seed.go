package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// Demo credentials created by Seed in development.
const (
	SeedEmail    = "demo@postfeed.local"
	SeedPassword = "demo-password"
)

// Seed populates an empty database with a demo user and a welcome post so
// a fresh development instance does not start on the empty-feed screen.
func Seed(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return fmt.Errorf("seed check users: %w", err)
	}

	if count > 0 {
		slog.Info("database already seeded, skipping")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("seed bcrypt: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRow(`
		INSERT INTO users (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id
	`, SeedEmail, string(hash), "Demo").Scan(&userID)
	if err != nil {
		return fmt.Errorf("seed insert user: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO posts (author_id, author_name, title, content, category)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, "Demo", "Welcome to the feed",
		"This post was created by the development seed.\nEdit or delete it once you sign in as the demo user.",
		"Technology")
	if err != nil {
		return fmt.Errorf("seed insert post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed commit: %w", err)
	}

	slog.Info("database seeded with demo user",
		"email", SeedEmail,
		"password", SeedPassword,
	)

	return nil
}
