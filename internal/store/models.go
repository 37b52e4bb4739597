package store

import "time"

// Pitch is a stored generation. Content is the serialized generation JSON and
// is opaque to the store.
type Pitch struct {
	ID        string
	UserID    string
	Content   string
	CreatedAt time.Time
}

// PitchFilter narrows a user's pitch history. Text matches idea or pitch
// case-insensitively; Tone must match exactly.
type PitchFilter struct {
	Text   string
	Tone   string
	Limit  int
	Offset int
}
