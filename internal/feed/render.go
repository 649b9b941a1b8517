package feed

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"postfeed/internal/markdown"
	"postfeed/internal/models"
)

// Preview limits for feed cards.
const (
	PreviewMaxLines = 4
	PreviewMaxRunes = 200
	ellipsis        = "..."
)

// Snapshot is the state a view is rendered from.
type Snapshot struct {
	Posts     []models.Post
	Category  models.Filter
	Loaded    bool
	EditingID *uuid.UUID
	Viewer    uuid.UUID
}

// View is the rendered feed.
type View struct {
	Category   models.Filter     `json:"category"`
	Categories []models.Category `json:"categories"`
	Loading    bool              `json:"loading"`
	// Empty is set once a load completed with no posts; the client shows
	// the "create the first post" prompt.
	Empty     bool       `json:"empty"`
	EditingID *uuid.UUID `json:"editing_id,omitempty"`
	Posts     []Card     `json:"posts"`
}

// Card is one post in the feed list.
type Card struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	Preview    string          `json:"preview"`
	ReadMore   bool            `json:"read_more"`
	Category   models.Category `json:"category,omitempty"`
	ImageURL   string          `json:"image_url,omitempty"`
	AuthorName string          `json:"author_name"`
	Age        string          `json:"age"`
	CreatedAt  time.Time       `json:"created_at"`
	Editable   bool            `json:"editable"`
}

// PostDetail is the full post shown in the detail modal.
type PostDetail struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	ContentHTML string          `json:"content_html,omitempty"`
	Category    models.Category `json:"category,omitempty"`
	ImageURL    string          `json:"image_url,omitempty"`
	AuthorName  string          `json:"author_name"`
	Age         string          `json:"age"`
	CreatedAt   time.Time       `json:"created_at"`
	Editable    bool            `json:"editable"`
}

// Render maps a snapshot to its view. It has no side effects.
func Render(s Snapshot, now time.Time) View {
	cards := lo.Map(s.Posts, func(p models.Post, _ int) Card {
		preview, more := Truncate(p.Content)
		return Card{
			ID:         p.ID,
			Title:      p.Title,
			Preview:    preview,
			ReadMore:   more,
			Category:   p.Category,
			ImageURL:   imageURL(p),
			AuthorName: p.AuthorName,
			Age:        RelativeAge(p.CreatedAt, now),
			CreatedAt:  p.CreatedAt,
			Editable:   s.Viewer != uuid.Nil && p.OwnedBy(s.Viewer),
		}
	})

	category := s.Category
	if category == "" {
		category = models.FilterAll
	}
	return View{
		Category:   category,
		Categories: models.Categories,
		Loading:    !s.Loaded,
		Empty:      s.Loaded && len(cards) == 0,
		EditingID:  s.EditingID,
		Posts:      cards,
	}
}

// RenderDetail renders the untruncated post.
func RenderDetail(p models.Post, viewer uuid.UUID, now time.Time) PostDetail {
	html, err := markdown.ToHTML(p.Content)
	if err != nil {
		slog.Warn("render post content", "post_id", p.ID, "error", err)
	}
	return PostDetail{
		ID:          p.ID,
		Title:       p.Title,
		Content:     p.Content,
		ContentHTML: html,
		Category:    p.Category,
		ImageURL:    imageURL(p),
		AuthorName:  p.AuthorName,
		Age:         RelativeAge(p.CreatedAt, now),
		CreatedAt:   p.CreatedAt,
		Editable:    viewer != uuid.Nil && p.OwnedBy(viewer),
	}
}

// Truncate shortens content for a feed card to at most PreviewMaxLines lines
// and PreviewMaxRunes characters, appending "..." when anything was cut.
// The second result reports whether the content was cut.
func Truncate(content string) (string, bool) {
	cut := false
	// Trailing newlines are not a visible line.
	text := strings.TrimRight(content, "\r\n")

	if lines := strings.Split(text, "\n"); len(lines) > PreviewMaxLines {
		text = strings.Join(lines[:PreviewMaxLines], "\n")
		cut = true
	}
	if utf8.RuneCountInString(text) > PreviewMaxRunes {
		text = string([]rune(text)[:PreviewMaxRunes])
		cut = true
	}
	if !cut {
		return content, false
	}
	return strings.TrimRight(text, " \t\r\n") + ellipsis, true
}

// RelativeAge describes how long ago t was: minutes below an hour, hours
// below a day, days below a week, and the calendar date after that.
func RelativeAge(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.In(now.Location()).Format("Jan 2, 2006")
	}
}

func imageURL(p models.Post) string {
	if !p.HasImage() {
		return ""
	}
	return *p.ImageURL
}
