package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"pitchai/api/internal/archive"
	"pitchai/api/internal/auth"
	"pitchai/api/internal/config"
	"pitchai/api/internal/export"
	"pitchai/api/internal/generator"
	"pitchai/api/internal/idp"
	"pitchai/api/internal/pitch"
	"pitchai/api/internal/rbac"
	"pitchai/api/internal/search"
	"pitchai/api/internal/session"
	"pitchai/api/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
	// Remotely verified tokens carry no expiry we can read; revocations for
	// them are kept this long.
	remoteSessionTTL = time.Hour
)

type Session struct {
	Token         string
	UserID        string
	Email         string
	Role          string
	RevocationKey string
	ExpiresAt     time.Time
}

// PitchView is a stored pitch with its content flattened.
type PitchView struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"userId"`
	Idea      string    `json:"idea"`
	Tone      string    `json:"tone"`
	Pitch     string    `json:"pitch"`
	CreatedAt time.Time `json:"createdAt"`
}

type GenerateInput struct {
	IdeaDescription string `json:"idea_description"`
	Tone            string `json:"tone"`
}

type PitchQuery struct {
	Text   string
	Tone   string
	Limit  int
	Offset int
}

type ToneOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type ShareLink struct {
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type dataStore interface {
	InsertPitch(context.Context, string, string) (store.Pitch, error)
	GetPitch(context.Context, string, string) (store.Pitch, error)
	DeletePitch(context.Context, string, string) (bool, error)
	ListTones(context.Context, string) ([]string, error)
	Ping(ctx context.Context) error
}

type revocationStore interface {
	RevokeSession(context.Context, string, string, time.Time) error
	IsSessionRevoked(context.Context, string) (bool, error)
}

// revocationLookup is implemented by stores that keep who signed a session out.
type revocationLookup interface {
	Lookup(context.Context, string) (session.Revocation, error)
}

type pitchGenerator interface {
	Generate(context.Context, generator.Request) (generator.Result, error)
}

type identityProvider interface {
	Configured() bool
	GetUser(context.Context, string) (idp.User, error)
	SendMagicLink(context.Context, string, string) error
	SignOut(context.Context, string) error
}

type pitchSearch interface {
	Search(context.Context, search.Query) ([]search.Record, int, error)
	IndexPitch(search.Record)
	DeletePitch(string)
	ReindexAll(context.Context) (int, error)
	IndexHealthy() bool
}

type pitchExporter interface {
	Export(context.Context, export.Pitch, export.Format) (*export.Result, error)
}

type objectStore interface {
	Put(context.Context, string, []byte, string) error
	PresignedURL(context.Context, string, string, time.Duration) (string, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  revocationStore
	redis     *session.RedisStore
	generator pitchGenerator
	identity  identityProvider
	search    pitchSearch
	exporter  pitchExporter
	archive   objectStore
}

// New creates a service that keeps revoked sessions in PostgreSQL.
func New(cfg config.Config, dataStore *store.PostgresStore, webhook *generator.Webhook, identity *idp.Client, searchService *search.Service) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		generator: webhook,
		identity:  identity,
		search:    searchService,
		exporter:  export.NewService(),
	}
}

// NewWithSessionStore creates a service that keeps revoked sessions in Redis.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, redisStore *session.RedisStore, webhook *generator.Webhook, identity *idp.Client, searchService *search.Service) *Service {
	svc := New(cfg, dataStore, webhook, identity, searchService)
	svc.sessions = redisStore
	svc.redis = redisStore
	return svc
}

// WithArchive enables shareable export links.
func (s *Service) WithArchive(objects *archive.Store) *Service {
	if objects != nil {
		s.archive = objects
	}
	return s
}

// Bootstrap pushes every stored pitch into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.search.ReindexAll(ctx)
	if err != nil {
		return fmt.Errorf("reindex pitches: %w", err)
	}
	if count > 0 {
		log.Printf("search: indexed %d pitches", count)
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) authorize(sess Session, action rbac.Action) error {
	if !s.Can(sess.Role, action) {
		return errForbidden()
	}
	return nil
}

func (s *Service) logRevokedUse(ctx context.Context, key string) {
	lookup, ok := s.sessions.(revocationLookup)
	if !ok {
		return
	}
	record, err := lookup.Lookup(ctx, key)
	if err != nil {
		log.Printf("revoked session %s: %v", key, err)
		return
	}
	log.Printf("rejected token for session %s signed out by user %s at %s", key, record.UserID, record.RevokedAt.Format(time.RFC3339))
}

// SessionFromToken verifies an access token locally when the signing secret
// is known and with the identity provider otherwise.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.verifyToken(ctx, token)
	if err != nil {
		return Session{}, err
	}

	key := auth.RevocationKey(claims, token)
	revoked, err := s.sessions.IsSessionRevoked(ctx, key)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		s.logRevokedUse(ctx, key)
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:         token,
		UserID:        claims.Sub,
		Email:         claims.Email,
		Role:          string(rbac.Normalize(claims.Role)),
		RevocationKey: key,
		ExpiresAt:     time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) verifyToken(ctx context.Context, token string) (auth.Claims, error) {
	if s.cfg.JWTSecret != "" {
		return auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	}
	if s.identity == nil || !s.identity.Configured() {
		return auth.Claims{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is not configured", nil)
	}
	user, err := s.identity.GetUser(ctx, token)
	if err != nil {
		return auth.Claims{}, err
	}
	if user.ID == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		Exp:   time.Now().Add(remoteSessionTTL).Unix(),
	}, nil
}

// SendMagicLink asks the identity provider to email a sign-in link.
func (s *Service) SendMagicLink(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return domainError(http.StatusBadRequest, "EMAIL_REQUIRED", "Email is required.", nil)
	}
	if s.identity == nil || !s.identity.Configured() {
		return domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is not configured", nil)
	}
	if err := s.identity.SendMagicLink(ctx, email, redirectTo); err != nil {
		var apiErr *idp.APIError
		if errors.As(err, &apiErr) {
			log.Printf("identity provider sign-in error: %s", apiErr.Message)
			return domainError(http.StatusBadRequest, "MAGIC_LINK_FAILED", apiErr.Error(), nil)
		}
		return err
	}
	return nil
}

// SignOut revokes the session until its token expires and ends it with the
// identity provider when one is configured.
func (s *Service) SignOut(ctx context.Context, sess Session) error {
	if err := s.sessions.RevokeSession(ctx, sess.RevocationKey, sess.UserID, sess.ExpiresAt); err != nil {
		return err
	}
	if s.identity != nil && s.identity.Configured() {
		if err := s.identity.SignOut(ctx, sess.Token); err != nil {
			log.Printf("identity provider sign-out for %s: %v", sess.UserID, err)
		}
	}
	return nil
}

// GeneratePitch forwards the idea to the generation webhook and saves the
// result for the caller.
func (s *Service) GeneratePitch(ctx context.Context, sess Session, input GenerateInput) (PitchView, error) {
	if err := s.authorize(sess, rbac.ActionGenerate); err != nil {
		return PitchView{}, err
	}
	idea := strings.TrimSpace(input.IdeaDescription)
	if idea == "" || strings.TrimSpace(input.Tone) == "" {
		return PitchView{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "idea_description and tone are required", nil)
	}
	tone, ok := pitch.NormalizeTone(input.Tone)
	if !ok {
		return PitchView{}, domainError(http.StatusBadRequest, "INVALID_TONE", "tone must be one of: "+strings.Join(pitch.Tones, ", "), nil)
	}

	generated, err := s.generator.Generate(ctx, generator.Request{IdeaDescription: idea, Tone: tone})
	if err != nil {
		log.Printf("generate pitch for %s: %v", sess.UserID, err)
		return PitchView{}, domainError(http.StatusBadGateway, "GENERATION_FAILED", "Pitch generation failed", nil)
	}

	content, err := pitch.Encode(pitch.Content{
		Idea:  generated.Idea,
		Tone:  generated.Tone,
		Pitch: generated.Pitch,
	})
	if err != nil {
		return PitchView{}, err
	}
	saved, err := s.store.InsertPitch(ctx, sess.UserID, content)
	if err != nil {
		return PitchView{}, err
	}

	record, err := search.ToRecord(saved)
	if err != nil {
		return PitchView{}, err
	}
	s.search.IndexPitch(record)
	return viewFromRecord(record), nil
}

// ListPitches returns the caller's pitches newest first with the number
// matching the query.
func (s *Service) ListPitches(ctx context.Context, sess Session, query PitchQuery) ([]PitchView, int, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, 0, err
	}

	tone := strings.TrimSpace(query.Tone)
	if strings.EqualFold(tone, "all") {
		tone = ""
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.search.Search(ctx, search.Query{
		UserID: sess.UserID,
		Text:   query.Text,
		Tone:   tone,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, 0, err
	}

	views := make([]PitchView, 0, len(records))
	for _, record := range records {
		views = append(views, viewFromRecord(record))
	}
	return views, total, nil
}

// ListTones returns the tones the caller has generated with.
func (s *Service) ListTones(ctx context.Context, sess Session) ([]ToneOption, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	tones, err := s.store.ListTones(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	options := make([]ToneOption, 0, len(tones))
	for _, tone := range tones {
		options = append(options, ToneOption{Value: tone, Label: pitch.ToneLabel(tone)})
	}
	return options, nil
}

func (s *Service) GetPitch(ctx context.Context, sess Session, id string) (PitchView, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return PitchView{}, err
	}
	return s.loadPitch(ctx, sess.UserID, id)
}

func (s *Service) loadPitch(ctx context.Context, userID, id string) (PitchView, error) {
	stored, err := s.store.GetPitch(ctx, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PitchView{}, errPitchNotFound()
		}
		return PitchView{}, err
	}
	record, err := search.ToRecord(stored)
	if err != nil {
		log.Printf("pitch %s has malformed content: %v", stored.ID, err)
		return PitchView{}, errPitchNotFound()
	}
	return viewFromRecord(record), nil
}

// DeletePitch removes one of the caller's pitches.
func (s *Service) DeletePitch(ctx context.Context, sess Session, id string) error {
	if err := s.authorize(sess, rbac.ActionDelete); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Pitch ID is required", nil)
	}
	deleted, err := s.store.DeletePitch(ctx, id, sess.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return errPitchNotFound()
	}
	s.search.DeletePitch(id)
	return nil
}

// ExportPitch renders one of the caller's pitches as a downloadable file.
func (s *Service) ExportPitch(ctx context.Context, sess Session, id, format string) (*export.Result, error) {
	if err := s.authorize(sess, rbac.ActionExport); err != nil {
		return nil, err
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be one of: md, html, pdf", nil)
	}
	view, err := s.loadPitch(ctx, sess.UserID, id)
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(ctx, export.Pitch{
		ID:        view.ID,
		Idea:      view.Idea,
		Tone:      view.Tone,
		Body:      view.Pitch,
		CreatedAt: view.CreatedAt,
	}, parsed)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
		}
		return nil, err
	}
	return result, nil
}

// SharePitch uploads an export to object storage and returns a link that
// expires after the configured share TTL.
func (s *Service) SharePitch(ctx context.Context, sess Session, id, format string) (ShareLink, error) {
	if s.archive == nil {
		return ShareLink{}, domainError(http.StatusServiceUnavailable, "SHARE_UNAVAILABLE", "Sharing is not configured", nil)
	}
	result, err := s.ExportPitch(ctx, sess, id, format)
	if err != nil {
		return ShareLink{}, err
	}

	key := archive.ObjectKey(sess.UserID, id, result.Filename)
	if err := s.archive.Put(ctx, key, result.Data, result.MimeType); err != nil {
		return ShareLink{}, err
	}
	ttl := s.cfg.ShareTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	link, err := s.archive.PresignedURL(ctx, key, result.Filename, ttl)
	if err != nil {
		return ShareLink{}, err
	}
	return ShareLink{
		URL:       link,
		Filename:  result.Filename,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}, nil
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions checks Redis when it holds revoked sessions. It reports false
// when sessions live in the database.
func (s *Service) PingSessions(ctx context.Context) (bool, error) {
	if s.redis == nil {
		return false, nil
	}
	return true, s.redis.Ping(ctx)
}

func (s *Service) SearchIndexHealthy() bool {
	return s.search.IndexHealthy()
}

func viewFromRecord(r search.Record) PitchView {
	return PitchView{
		ID:        r.ID,
		UserID:    r.UserID,
		Idea:      r.Idea,
		Tone:      r.Tone,
		Pitch:     r.Pitch,
		CreatedAt: r.Created(),
	}
}
