package feed

import (
	"strings"
	"unicode/utf8"

	"postfeed/internal/models"
)

// Draft limits.
const (
	MaxTitleLen   = 300
	MaxContentLen = 20000
)

// Draft is the user-editable part of a post, as submitted by the form.
type Draft struct {
	Title    string          `json:"title"`
	Content  string          `json:"content"`
	Category models.Category `json:"category"`
}

// normalized returns the draft with surrounding whitespace trimmed and
// line endings unified.
func (d Draft) normalized() Draft {
	return Draft{
		Title:    strings.TrimSpace(d.Title),
		Content:  strings.TrimSpace(strings.ReplaceAll(d.Content, "\r\n", "\n")),
		Category: models.Category(strings.TrimSpace(string(d.Category))),
	}
}

// Validate checks a normalized draft. It returns a *ValidationError naming
// the first offending field.
func (d Draft) Validate() error {
	switch {
	case d.Title == "":
		return &ValidationError{Field: "title", Message: "title is required"}
	case utf8.RuneCountInString(d.Title) > MaxTitleLen:
		return &ValidationError{Field: "title", Message: "title is too long"}
	case d.Content == "":
		return &ValidationError{Field: "content", Message: "content is required"}
	case utf8.RuneCountInString(d.Content) > MaxContentLen:
		return &ValidationError{Field: "content", Message: "content is too long"}
	case d.Category == "":
		return &ValidationError{Field: "category", Message: "category is required"}
	case !d.Category.Valid():
		return &ValidationError{Field: "category", Message: "unknown category " + string(d.Category)}
	}
	return nil
}

// prepare normalizes and validates the draft. The image is not checked
// here: an unusable image is dropped at upload time and never rejects the
// post.
func prepare(d Draft) (Draft, error) {
	d = d.normalized()
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}
