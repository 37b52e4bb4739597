package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"pitchai/api/internal/store"
)

type fakeLister struct {
	lastFilter store.PitchFilter
	lastUser   string
	pitches    []store.Pitch
	err        error
	ownedErr   error
}

func (f *fakeLister) ListPitches(_ context.Context, userID string, filter store.PitchFilter) ([]store.Pitch, int, error) {
	f.lastUser = userID
	f.lastFilter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.pitches, len(f.pitches), nil
}

func (f *fakeLister) ListAllPitches(context.Context) ([]store.Pitch, error) {
	return f.pitches, f.err
}

func (f *fakeLister) OwnedPitchIDs(_ context.Context, userID string, ids []string) ([]string, error) {
	if f.ownedErr != nil {
		return nil, f.ownedErr
	}
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	owned := []string{}
	for _, p := range f.pitches {
		if p.UserID == userID && wanted[p.ID] {
			owned = append(owned, p.ID)
		}
	}
	return owned, nil
}

func (f *fakeLister) remove(id string) {
	kept := f.pitches[:0:0]
	for _, p := range f.pitches {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	f.pitches = kept
}

type fakeIndex struct {
	mu        sync.Mutex
	healthy   bool
	results   []Record
	err       error
	queries   []Query
	indexed   []Record
	replaced  []Record
	deleted   []string
	done      chan struct{}
	onRecover func()
}

func (f *fakeIndex) Healthy() bool { return f.healthy }
func (f *fakeIndex) Search(_ context.Context, q Query) ([]Record, int, error) {
	f.queries = append(f.queries, q)
	return f.results, len(f.results), f.err
}
func (f *fakeIndex) IndexPitch(r Record) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, r)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}
func (f *fakeIndex) ReplaceAll(records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append([]Record(nil), records...)
	return nil
}
func (f *fakeIndex) OnRecover(fn func()) { f.onRecover = fn }

func (f *fakeIndex) markRecovered() {
	f.healthy = true
	if f.onRecover != nil {
		f.onRecover()
	}
}
func (f *fakeIndex) DeletePitch(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

var storedPitch = store.Pitch{
	ID:        "p-1",
	UserID:    "user-1",
	Content:   `{"idea":"Solar kiosks","tone":"casual","pitch":"Power for every stall."}`,
	CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
}

func TestSearchWithoutTextUsesPostgres(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{storedPitch}}
	index := &fakeIndex{healthy: true}
	svc := NewService(index, NewPgSearch(lister))

	records, total, err := svc.Search(context.Background(), Query{UserID: "user-1", Tone: " casual "})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].Idea != "Solar kiosks" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if len(index.queries) != 0 {
		t.Fatal("expected index to be bypassed for unfiltered text")
	}
	if lister.lastFilter.Tone != "casual" || lister.lastUser != "user-1" {
		t.Fatalf("unexpected filter: user=%s %+v", lister.lastUser, lister.lastFilter)
	}
	if !records[0].Created().Equal(storedPitch.CreatedAt) {
		t.Fatalf("expected created time to round trip, got %s", records[0].Created())
	}
}

func pitchWithID(id string) store.Pitch {
	p := storedPitch
	p.ID = id
	return p
}

func TestSearchWithTextUsesHealthyIndex(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{pitchWithID("p-9")}}
	index := &fakeIndex{healthy: true, results: []Record{{ID: "p-9", UserID: "user-1"}}}
	svc := NewService(index, NewPgSearch(lister))

	records, _, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "solar"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "p-9" {
		t.Fatalf("expected index results, got %+v", records)
	}
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{storedPitch}}
	index := &fakeIndex{healthy: true, err: errors.New("boom")}
	svc := NewService(index, NewPgSearch(lister))

	records, _, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "solar"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "p-1" {
		t.Fatalf("expected postgres fallback, got %+v", records)
	}
	if lister.lastFilter.Text != "solar" {
		t.Fatalf("expected text passed to fallback, got %+v", lister.lastFilter)
	}
}

func TestSearchSkipsUnhealthyIndexAndNilMeili(t *testing.T) {
	lister := &fakeLister{}
	index := &fakeIndex{healthy: false}
	svc := NewService(index, NewPgSearch(lister))
	records, _, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "x"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if records == nil || len(index.queries) != 0 {
		t.Fatalf("expected empty non-nil fallback results, got %v", records)
	}

	var missing *Meili
	svc = NewService(missing, NewPgSearch(lister))
	if svc.IndexHealthy() {
		t.Fatal("expected nil meili to be treated as absent")
	}
}

func TestSearchPropagatesPostgresError(t *testing.T) {
	svc := NewService(nil, NewPgSearch(&fakeLister{err: errors.New("db down")}))
	if _, _, err := svc.Search(context.Background(), Query{UserID: "user-1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestToRecordsSkipsMalformedContent(t *testing.T) {
	bad := storedPitch
	bad.ID = "p-bad"
	bad.Content = "{not json"
	records := ToRecords([]store.Pitch{bad, storedPitch})
	if len(records) != 1 || records[0].ID != "p-1" {
		t.Fatalf("expected malformed row skipped, got %+v", records)
	}
}

func TestIndexAndDeleteAreForwarded(t *testing.T) {
	index := &fakeIndex{healthy: true, done: make(chan struct{}, 2)}
	svc := NewService(index, NewPgSearch(&fakeLister{}))

	svc.IndexPitch(Record{ID: "p-1"})
	svc.DeletePitch("p-2")
	for i := 0; i < 2; i++ {
		select {
		case <-index.done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for index calls")
		}
	}

	index.mu.Lock()
	defer index.mu.Unlock()
	if len(index.indexed) != 1 || len(index.deleted) != 1 || index.deleted[0] != "p-2" {
		t.Fatalf("unexpected index calls: indexed=%v deleted=%v", index.indexed, index.deleted)
	}
}

func TestReindexAll(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, NewPgSearch(&fakeLister{pitches: []store.Pitch{storedPitch}}))
	count, err := svc.ReindexAll(context.Background())
	if err != nil {
		t.Fatalf("ReindexAll() error = %v", err)
	}
	if count != 1 || len(index.replaced) != 1 || index.replaced[0].ID != "p-1" {
		t.Fatalf("expected index contents replaced with one record, got %d %+v", count, index.replaced)
	}

	count, err = NewService(nil, NewPgSearch(&fakeLister{})).ReindexAll(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("expected no-op without index, got %d %v", count, err)
	}
}

func TestSearchDropsHitsMissingFromPostgres(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{storedPitch}}
	index := &fakeIndex{healthy: true, results: []Record{
		{ID: "p-1", UserID: "user-1"},
		{ID: "p-gone", UserID: "user-1"},
	}}
	svc := NewService(index, NewPgSearch(lister))

	records, total, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "solar"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "p-1" || total != 1 {
		t.Fatalf("expected stale hit dropped, got total=%d %+v", total, records)
	}
}

func TestSearchFallsBackWhenHitVerificationFails(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{storedPitch}, ownedErr: errors.New("db hiccup")}
	index := &fakeIndex{healthy: true, results: []Record{{ID: "p-gone", UserID: "user-1"}}}
	svc := NewService(index, NewPgSearch(lister))

	records, _, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "solar"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != "p-1" {
		t.Fatalf("expected postgres results, got %+v", records)
	}
}

func TestDeleteDuringOutageIsNotResurrected(t *testing.T) {
	lister := &fakeLister{pitches: []store.Pitch{storedPitch, pitchWithID("p-2")}}
	index := &fakeIndex{healthy: true}
	svc := NewService(index, NewPgSearch(lister))
	if index.onRecover == nil {
		t.Fatal("expected service to register a recovery hook")
	}
	if _, err := svc.ReindexAll(context.Background()); err != nil {
		t.Fatalf("ReindexAll() error = %v", err)
	}
	if len(index.replaced) != 2 {
		t.Fatalf("expected both pitches indexed, got %+v", index.replaced)
	}

	index.healthy = false
	lister.remove("p-2")
	svc.DeletePitch("p-2")
	if len(index.deleted) != 0 {
		t.Fatalf("expected delete to skip the unreachable index, got %v", index.deleted)
	}

	// Results below stand in for an index that still returns the deleted pitch.
	index.results = []Record{{ID: "p-2", UserID: "user-1"}, {ID: "p-1", UserID: "user-1"}}
	index.markRecovered()

	if len(index.replaced) != 1 || index.replaced[0].ID != "p-1" {
		t.Fatalf("expected recovery reindex without the deleted pitch, got %+v", index.replaced)
	}
	records, total, err := svc.Search(context.Background(), Query{UserID: "user-1", Text: "solar"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].ID != "p-1" {
		t.Fatalf("expected deleted pitch to stay gone, got total=%d %+v", total, records)
	}
}

func TestBuildFilterScopesUser(t *testing.T) {
	filters := buildFilter(Query{UserID: "user-1", Tone: "casual"})
	if len(filters) != 2 || filters[0] != `userId = "user-1"` || filters[1] != `tone = "casual"` {
		t.Fatalf("unexpected filters: %v", filters)
	}

	filters = buildFilter(Query{UserID: "user-1", Tone: `casual" OR userId = "user-2`})
	if len(filters) != 2 || filters[1] != `tone = ""` {
		t.Fatalf("expected unknown tone to match nothing, got %v", filters)
	}

	filters = buildFilter(Query{UserID: "user-1", Tone: "Investor-Focused"})
	if filters[1] != `tone = "investor-focused"` {
		t.Fatalf("expected tone normalized, got %v", filters)
	}
}

func hit(id, userID string) meili.Hit {
	return meili.Hit{
		"id":     json.RawMessage(fmt.Sprintf("%q", id)),
		"userId": json.RawMessage(fmt.Sprintf("%q", userID)),
	}
}

func TestCollectHitsCountsOnlyKeptHits(t *testing.T) {
	records, total := collectHits([]meili.SearchResponse{{
		Hits:               meili.Hits{hit("p-1", "user-1"), hit("p-2", "user-2"), hit("p-3", "user-1")},
		EstimatedTotalHits: 3,
	}}, "user-1")
	if len(records) != 2 || total != 2 {
		t.Fatalf("expected two kept hits, got total=%d %+v", total, records)
	}

	records, total = collectHits([]meili.SearchResponse{{
		Hits:               meili.Hits{hit("p-1", "user-1")},
		EstimatedTotalHits: 40,
	}}, "user-1")
	if len(records) != 1 || total != 40 {
		t.Fatalf("expected estimate kept for later pages, got total=%d", total)
	}
}

func TestIsTransportError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"communication", &meili.Error{ErrCode: meili.MeilisearchCommunicationError}, true},
		{"timeout", fmt.Errorf("wrapped: %w", &meili.Error{ErrCode: meili.MeilisearchTimeoutError}), true},
		{"retries", &meili.Error{ErrCode: meili.MeilisearchMaxRetriesExceeded}, true},
		{"api error", &meili.Error{ErrCode: meili.MeilisearchApiError}, false},
		{"decode", &meili.Error{ErrCode: meili.ErrCodeResponseUnmarshalBody}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransportError(tc.err); got != tc.want {
				t.Fatalf("isTransportError() = %v, want %v", got, tc.want)
			}
		})
	}
}
