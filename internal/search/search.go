package search

import (
	"context"
	"time"
)

// Record is a pitch as indexed for search.
type Record struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Idea      string `json:"idea"`
	Tone      string `json:"tone"`
	Pitch     string `json:"pitch"`
	CreatedAt int64  `json:"createdAt"` // unix milliseconds
}

func (r Record) Created() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// Query describes a history search. UserID is mandatory; results never cross users.
type Query struct {
	UserID string
	Text   string
	Tone   string
	Limit  int
	Offset int
}

// Searcher can execute a history search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, int, error)
	Healthy() bool
}
