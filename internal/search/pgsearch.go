package search

import (
	"context"
	"fmt"
	"log"

	"pitchai/api/internal/pitch"
	"pitchai/api/internal/store"
)

// PitchLister is the store capability the fallback searcher needs.
type PitchLister interface {
	ListPitches(ctx context.Context, userID string, filter store.PitchFilter) ([]store.Pitch, int, error)
	ListAllPitches(ctx context.Context) ([]store.Pitch, error)
	OwnedPitchIDs(ctx context.Context, userID string, ids []string) ([]string, error)
}

// PgSearch answers searches with substring matching in PostgreSQL.
type PgSearch struct {
	store PitchLister
}

func NewPgSearch(store PitchLister) *PgSearch {
	return &PgSearch{store: store}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Record, int, error) {
	pitches, total, err := p.store.ListPitches(ctx, q.UserID, store.PitchFilter{
		Text:   q.Text,
		Tone:   q.Tone,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	return ToRecords(pitches), total, nil
}

// OwnedIDs reports which of ids still exist for userID.
func (p *PgSearch) OwnedIDs(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	found, err := p.store.OwnedPitchIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("pg verify ids: %w", err)
	}
	owned := make(map[string]bool, len(found))
	for _, id := range found {
		owned[id] = true
	}
	return owned, nil
}

// LoadAllRecords returns every stored pitch for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]Record, error) {
	pitches, err := p.store.ListAllPitches(ctx)
	if err != nil {
		return nil, err
	}
	return ToRecords(pitches), nil
}

// ToRecords decodes stored pitches. Rows with malformed content are skipped.
func ToRecords(pitches []store.Pitch) []Record {
	records := make([]Record, 0, len(pitches))
	for _, p := range pitches {
		record, err := ToRecord(p)
		if err != nil {
			log.Printf("search: skipping pitch %s: %v", p.ID, err)
			continue
		}
		records = append(records, record)
	}
	return records
}

func ToRecord(p store.Pitch) (Record, error) {
	content, err := pitch.Decode(p.Content)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:        p.ID,
		UserID:    p.UserID,
		Idea:      content.Idea,
		Tone:      content.Tone,
		Pitch:     content.Pitch,
		CreatedAt: p.CreatedAt.UnixMilli(),
	}, nil
}
