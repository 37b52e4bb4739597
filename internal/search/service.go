package search

import (
	"context"
	"log"
	"strings"
	"time"
)

const recoveryReindexTimeout = 5 * time.Minute

// Indexer keeps an external index in sync with stored pitches.
type Indexer interface {
	Searcher
	IndexPitch(r Record) error
	// ReplaceAll drops every indexed document and indexes records in their place.
	ReplaceAll(records []Record) error
	DeletePitch(id string) error
}

// recoverable indexes call back when they come back online after an outage.
type recoverable interface {
	OnRecover(fn func())
}

// Service is the facade that tries Meilisearch for text queries and falls
// back to PostgreSQL.
type Service struct {
	index Indexer
	pg    *PgSearch
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Indexer, pg *PgSearch) *Service {
	if m, ok := index.(*Meili); ok && m == nil {
		index = nil
	}
	s := &Service{index: index, pg: pg}
	if r, ok := index.(recoverable); ok {
		r.OnRecover(s.reindexAfterRecovery)
	}
	return s
}

// reindexAfterRecovery rebuilds the index from PostgreSQL so writes and
// deletes made while the index was unreachable are reflected.
func (s *Service) reindexAfterRecovery() {
	ctx, cancel := context.WithTimeout(context.Background(), recoveryReindexTimeout)
	defer cancel()
	count, err := s.ReindexAll(ctx)
	if err != nil {
		log.Printf("search: reindex after recovery: %v", err)
		return
	}
	log.Printf("search: reindexed %d pitches after recovery", count)
}

// Search returns the caller's pitches matching q, newest first. Unfiltered
// listings always come from PostgreSQL so a just-created pitch is visible
// before the index catches up.
func (s *Service) Search(ctx context.Context, q Query) ([]Record, int, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.Tone = strings.TrimSpace(q.Tone)

	if q.Text != "" && s.indexReady() {
		records, total, err := s.index.Search(ctx, q)
		if err == nil {
			records, total, err = s.dropStale(ctx, q.UserID, records, total)
		}
		if err == nil {
			return nonNil(records), total, nil
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	records, total, err := s.pg.Search(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return nonNil(records), total, nil
}

// dropStale removes index hits that PostgreSQL no longer holds for the user,
// such as pitches deleted while the index was unreachable.
func (s *Service) dropStale(ctx context.Context, userID string, records []Record, total int) ([]Record, int, error) {
	if len(records) == 0 {
		return records, total, nil
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	owned, err := s.pg.OwnedIDs(ctx, userID, ids)
	if err != nil {
		return nil, 0, err
	}
	kept := records[:0:0]
	for _, r := range records {
		if owned[r.ID] {
			kept = append(kept, r)
		}
	}
	total -= len(records) - len(kept)
	if total < len(kept) {
		total = len(kept)
	}
	return kept, total, nil
}

// IndexPitch indexes a pitch (fire-and-forget).
func (s *Service) IndexPitch(r Record) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.IndexPitch(r); err != nil {
			log.Printf("search: index pitch %s: %v", r.ID, err)
		}
	}()
}

// DeletePitch removes a pitch from the index (fire-and-forget).
func (s *Service) DeletePitch(id string) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := s.index.DeletePitch(id); err != nil {
			log.Printf("search: delete pitch %s: %v", id, err)
		}
	}()
}

// ReindexAll replaces the index contents with every stored pitch and returns
// how many were sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.indexReady() {
		return 0, nil
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.index.ReplaceAll(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// IndexHealthy reports whether an index is configured and reachable.
func (s *Service) IndexHealthy() bool {
	return s.indexReady()
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func nonNil(r []Record) []Record {
	if r == nil {
		return []Record{}
	}
	return r
}
