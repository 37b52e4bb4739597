package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"pitchai/api/internal/pitch"
)

const idxPitches = "pitchai_pitches"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	onRecover func()
}

// NewMeili creates a Meilisearch client and configures the pitch index.
// The client starts unhealthy if the server cannot be reached and recovers
// through the background health loop.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPitches,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPitches, err)
	}

	index := m.client.Index(idxPitches)
	filterable := []interface{}{"userId", "tone"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"idea", "pitch"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
				m.recovered()
			}
		}
	}
}

// OnRecover registers fn to run each time Meilisearch becomes reachable again.
func (m *Meili) OnRecover(fn func()) {
	m.mu.Lock()
	m.onRecover = fn
	m.mu.Unlock()
}

func (m *Meili) recovered() {
	m.mu.Lock()
	fn := m.onRecover
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the pitch index, always scoped to the caller's user id.
func (m *Meili) Search(_ context.Context, q Query) ([]Record, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if q.UserID == "" {
		return nil, 0, fmt.Errorf("meilisearch: user id is required")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	offset := int64(q.Offset)
	if offset < 0 {
		offset = 0
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxPitches,
			Query:    q.Text,
			Limit:    limit,
			Offset:   offset,
			Filter:   buildFilter(q),
			Sort:     []string{"createdAt:desc"},
		}},
	})
	if err != nil {
		if isTransportError(err) {
			m.healthy.Store(false)
		}
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	records, total := collectHits(resp.Results, q.UserID)
	return records, total, nil
}

// collectHits keeps hits owned by userID. The filter already scopes by user;
// the check guards against a misconfigured index without filterable
// attributes, and dropped hits are taken out of the total.
func collectHits(results []meili.SearchResponse, userID string) ([]Record, int) {
	var records []Record
	total := 0
	for _, sr := range results {
		dropped := 0
		for _, hit := range sr.Hits {
			record := hitToRecord(hit)
			if record.UserID != userID {
				dropped++
				continue
			}
			records = append(records, record)
		}
		total += max(int(sr.EstimatedTotalHits)-dropped, 0)
	}
	return records, max(total, len(records))
}

// isTransportError reports whether err means Meilisearch could not be
// reached, as opposed to the server rejecting the request.
func isTransportError(err error) bool {
	var merr *meili.Error
	if !errors.As(err, &merr) {
		return false
	}
	switch merr.ErrCode {
	case meili.MeilisearchCommunicationError, meili.MeilisearchTimeoutError, meili.MeilisearchMaxRetriesExceeded:
		return true
	}
	return false
}

// buildFilter scopes the query to the user. Tones outside the known set
// are not interpolated; they match nothing.
func buildFilter(q Query) []string {
	filters := []string{fmt.Sprintf("userId = %q", q.UserID)}
	if q.Tone != "" {
		if tone, ok := pitch.NormalizeTone(q.Tone); ok {
			filters = append(filters, fmt.Sprintf("tone = %q", tone))
		} else {
			filters = append(filters, `tone = ""`)
		}
	}
	return filters
}

func hitToRecord(hit meili.Hit) Record {
	r := Record{
		ID:     decodeString(hit, "id"),
		UserID: decodeString(hit, "userId"),
		Idea:   decodeString(hit, "idea"),
		Tone:   decodeString(hit, "tone"),
		Pitch:  decodeString(hit, "pitch"),
	}
	if raw, ok := hit["createdAt"]; ok {
		_ = json.Unmarshal(raw, &r.CreatedAt)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexPitch adds or updates a pitch in the search index.
func (m *Meili) IndexPitch(r Record) error {
	_, err := m.client.Index(idxPitches).AddDocuments([]Record{r}, nil)
	return err
}

// ReplaceAll clears the pitch index and indexes records. Meilisearch applies
// the two tasks in enqueue order.
func (m *Meili) ReplaceAll(records []Record) error {
	index := m.client.Index(idxPitches)
	if _, err := index.DeleteAllDocuments(nil); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	if _, err := index.AddDocuments(records, nil); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// DeletePitch removes a pitch from the search index.
func (m *Meili) DeletePitch(id string) error {
	_, err := m.client.Index(idxPitches).DeleteDocument(id, nil)
	return err
}
