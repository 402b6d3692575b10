package storage

import (
	"errors"
	"time"
)

var (
	// ErrExists is returned by InsertWork when the URL is already tracked.
	ErrExists = errors.New("storage: record already exists")
	// ErrStale is returned by UpsertWork when the stored installment is not lower
	// than the incoming one; nothing is written.
	ErrStale  = errors.New("storage: stale installment")
	ErrClosed = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "file": Path is used as a prefix for <prefix>.snapshot.json and <prefix>.journal.jsonl
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Work is one tracked serialized work keyed by its normalized source URL.
type Work struct {
	URL                  string    `json:"url"`
	Title                string    `json:"title"`
	LatestInstallment    int       `json:"latest_installment"`
	LatestInstallmentURL string    `json:"latest_installment_url"`
	ImageURL             string    `json:"image_url,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Destination is a notification sink. There is at most one per (platform, group).
type Destination struct {
	Platform    string    `json:"platform"`
	GroupID     string    `json:"group_id"`
	GroupName   string    `json:"group_name"`
	ChannelID   string    `json:"channel_id"`
	ThreadID    int       `json:"thread_id,omitempty"`
	ChannelName string    `json:"channel_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d Destination) key() string { return d.Platform + "\x00" + d.GroupID }
