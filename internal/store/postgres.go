package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultListLimit = 100

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertPitch(ctx context.Context, userID, content string) (Pitch, error) {
	pitch := Pitch{UserID: userID, Content: content}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pitches (user_id, content)
		VALUES ($1, $2)
		RETURNING id::text, created_at
	`, userID, content).Scan(&pitch.ID, &pitch.CreatedAt)
	if err != nil {
		return Pitch{}, fmt.Errorf("insert pitch: %w", err)
	}
	return pitch, nil
}

// GetPitch returns sql.ErrNoRows when the pitch does not exist or belongs to
// another user.
func (s *PostgresStore) GetPitch(ctx context.Context, id, userID string) (Pitch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Pitch{}, sql.ErrNoRows
	}
	var pitch Pitch
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, user_id, content, created_at
		FROM pitches
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&pitch.ID, &pitch.UserID, &pitch.Content, &pitch.CreatedAt)
	if err != nil {
		return Pitch{}, err
	}
	return pitch, nil
}

// DeletePitch removes a pitch owned by userID and reports whether one was removed.
func (s *PostgresStore) DeletePitch(ctx context.Context, id, userID string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM pitches WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete pitch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pitch rows: %w", err)
	}
	return affected > 0, nil
}

// ListPitches returns a user's pitches newest first along with the total
// number matching the filter. Rows whose content is not a JSON object are
// left out of both.
func (s *PostgresStore) ListPitches(ctx context.Context, userID string, filter PitchFilter) ([]Pitch, int, error) {
	where := []string{"user_id = $1", "pitch_content(content) IS NOT NULL"}
	args := []any{userID}

	if text := strings.TrimSpace(filter.Text); text != "" {
		args = append(args, text)
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(position(lower($%d) in lower(coalesce(pitch_content(content)->>'idea', ''))) > 0 OR position(lower($%d) in lower(coalesce(pitch_content(content)->>'pitch', ''))) > 0)",
			n, n))
	}
	if tone := strings.TrimSpace(filter.Tone); tone != "" {
		args = append(args, tone)
		where = append(where, fmt.Sprintf("pitch_content(content)->>'tone' = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pitches WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pitches: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id::text, user_id, content, created_at
		FROM pitches
		WHERE %s
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, clause, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list pitches: %w", err)
	}
	defer rows.Close()

	pitches, err := scanPitches(rows)
	if err != nil {
		return nil, 0, err
	}
	return pitches, total, nil
}

// ListTones returns the distinct tones a user has generated with, in order of
// first use.
func (s *PostgresStore) ListTones(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tone FROM (
			SELECT pitch_content(content)->>'tone' AS tone, min(created_at) AS first_used
			FROM pitches
			WHERE user_id = $1
			GROUP BY 1
		) t
		WHERE tone IS NOT NULL AND tone <> ''
		ORDER BY first_used
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tones: %w", err)
	}
	defer rows.Close()

	tones := make([]string, 0)
	for rows.Next() {
		var tone string
		if err := rows.Scan(&tone); err != nil {
			return nil, fmt.Errorf("scan tone: %w", err)
		}
		tones = append(tones, tone)
	}
	return tones, rows.Err()
}

// OwnedPitchIDs returns the subset of ids that exist and belong to userID.
func (s *PostgresStore) OwnedPitchIDs(ctx context.Context, userID string, ids []string) ([]string, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	owned := make([]string, 0, len(valid))
	if len(valid) == 0 {
		return owned, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text FROM pitches
		WHERE user_id = $1 AND id::text = ANY($2)
	`, userID, valid)
	if err != nil {
		return nil, fmt.Errorf("owned pitch ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pitch id: %w", err)
		}
		owned = append(owned, id)
	}
	return owned, rows.Err()
}

// ListAllPitches returns every stored pitch for search reindexing.
func (s *PostgresStore) ListAllPitches(ctx context.Context) ([]Pitch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, user_id, content, created_at
		FROM pitches
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("load pitches: %w", err)
	}
	defer rows.Close()
	return scanPitches(rows)
}

func scanPitches(rows *sql.Rows) ([]Pitch, error) {
	pitches := make([]Pitch, 0)
	for rows.Next() {
		var p Pitch
		if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pitch: %w", err)
		}
		pitches = append(pitches, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pitches: %w", err)
	}
	return pitches, nil
}

func (s *PostgresStore) RevokeSession(ctx context.Context, sessionKey, userID string, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_sessions (session_key, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_key) DO UPDATE SET expires_at = GREATEST(revoked_sessions.expires_at, EXCLUDED.expires_at)
	`, sessionKey, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsSessionRevoked(ctx context.Context, sessionKey string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_sessions WHERE session_key = $1 AND expires_at > NOW())
	`, sessionKey).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked session: %w", err)
	}
	return revoked, nil
}

// PruneRevokedSessions drops revocations whose tokens have expired.
func (s *PostgresStore) PruneRevokedSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("prune revoked sessions: %w", err)
	}
	return result.RowsAffected()
}
