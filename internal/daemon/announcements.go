package daemon

import (
	"fmt"
	"sync"
	"time"
)

// Announcement is one login-screen notice.
type Announcement struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Author   string `json:"author"`
	PostedAt int64  `json:"posted_at"` // epoch ms
}

// Announcements holds the rolling notice list served over /api and shown
// at login. Newest first; the list is bounded. The HTTP layer reads the
// list off the game loop goroutine, hence the lock.
type Announcements struct {
	mu    sync.RWMutex
	items []Announcement
	max   int
}

func NewAnnouncements() *Announcements {
	return &Announcements{max: 50}
}

func (a *Announcements) ID() string         { return "announcements" }
func (a *Announcements) ResetOnError() bool { return true }

// Post prepends a notice, trimming the tail past the cap.
func (a *Announcements) Post(title, body, author string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append([]Announcement{{
		Title:    title,
		Body:     body,
		Author:   author,
		PostedAt: time.Now().UnixMilli(),
	}}, a.items...)
	if len(a.items) > a.max {
		a.items = a.items[:a.max]
	}
}

// List returns a copy of the notices, newest first.
func (a *Announcements) List() []Announcement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Announcement, len(a.items))
	copy(out, a.items)
	return out
}

func (a *Announcements) Serialize() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	items := make([]any, 0, len(a.items))
	for _, it := range a.items {
		items = append(items, map[string]any{
			"title":     it.Title,
			"body":      it.Body,
			"author":    it.Author,
			"posted_at": it.PostedAt,
		})
	}
	return map[string]any{"items": items}
}

func (a *Announcements) Restore(data map[string]any) error {
	raw, ok := data["items"].([]any)
	if !ok {
		return fmt.Errorf("announcements: malformed state")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = a.items[:0]
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("announcements: malformed item")
		}
		item := Announcement{}
		item.Title, _ = m["title"].(string)
		item.Body, _ = m["body"].(string)
		item.Author, _ = m["author"].(string)
		if f, ok := m["posted_at"].(float64); ok {
			item.PostedAt = int64(f)
		}
		a.items = append(a.items, item)
	}
	return nil
}
