package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usncompetitions/notifier/internal/broadcast"
	"github.com/usncompetitions/notifier/internal/channel"
	"github.com/usncompetitions/notifier/internal/config"
	"github.com/usncompetitions/notifier/internal/db"
	"github.com/usncompetitions/notifier/internal/metrics"
	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

const testAPIKey = "test-static-key"

type stubChannel struct {
	name       string
	configured bool
	valid      func(models.Recipient) bool
	onSend     func(ctx context.Context, r models.Recipient)

	mu   sync.Mutex
	sent []int64
}

func (c *stubChannel) Name() string                              { return c.name }
func (c *stubChannel) ValidateRecipient(r models.Recipient) bool { return c.valid(r) }
func (c *stubChannel) ValidateConfiguration() bool               { return c.configured }
func (c *stubChannel) TestConnection(ctx context.Context) bool   { return c.configured }

func (c *stubChannel) Send(ctx context.Context, r models.Recipient, subject, body string) *channel.DeliveryResult {
	if c.onSend != nil {
		c.onSend(ctx, r)
	}
	if !c.valid(r) {
		return &channel.DeliveryResult{Status: models.DeliveryBlocked, Error: "invalid recipient"}
	}
	c.mu.Lock()
	c.sent = append(c.sent, r.UserID)
	c.mu.Unlock()
	now := time.Now()
	return &channel.DeliveryResult{Success: true, Status: models.DeliverySent, MessageID: "1", SentAt: &now}
}

func (c *stubChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type testEnv struct {
	server   *Server
	db       *sql.DB
	telegram *stubChannel
	email    *stubChannel
	metrics  *metrics.Metrics
}

// newTestEnv seeds Ana (chat + email, two registrations), Ben (chat only)
// and Chen (email only)
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	ctx := context.Background()
	reg := repository.NewRegistrationRepository(database.DB)
	require.NoError(t, reg.UpsertCompetition(ctx, &models.Competition{ID: 1, Name: "Open Cup", IsActive: true}))
	require.NoError(t, reg.UpsertCompetition(ctx, &models.Competition{ID: 2, Name: "Spring Masters", IsActive: true}))
	for _, u := range []models.User{
		{ID: 1, FirstName: "Ana", TelegramID: 101, Email: "ana@example.com", Country: "PT"},
		{ID: 2, FirstName: "Ben", TelegramID: 102, Country: "US"},
		{ID: 3, FirstName: "Chen", Email: "chen@example.com", Country: "PT"},
	} {
		require.NoError(t, reg.UpsertUser(ctx, &u))
	}
	for _, r := range []models.Registration{
		{ID: 1, UserID: 1, CompetitionID: 1, Role: models.RolePlayer, Status: models.RegistrationApproved},
		{ID: 2, UserID: 1, CompetitionID: 2, Role: models.RolePlayer, Status: models.RegistrationApproved},
		{ID: 3, UserID: 2, CompetitionID: 1, Role: models.RolePlayer, Status: models.RegistrationApproved},
		{ID: 4, UserID: 3, CompetitionID: 2, Role: models.RolePlayer, Status: models.RegistrationApproved},
	} {
		require.NoError(t, reg.UpsertRegistration(ctx, &r))
	}

	telegram := &stubChannel{name: models.ChannelTelegram, configured: true, valid: func(r models.Recipient) bool { return r.TelegramID > 0 }}
	email := &stubChannel{name: models.ChannelEmail, configured: true, valid: func(r models.Recipient) bool { return r.Email != "" }}
	registry := channel.Registry{}
	registry.Register(telegram)
	registry.Register(email)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	renderer := template.NewRenderer()

	cfg := &config.Config{}
	cfg.Auth.APIKey = testAPIKey
	cfg.Broadcast.PreviewSampleSize = 5

	srv := NewServer(cfg, Services{
		DB:            database.DB,
		Orchestrator:  broadcast.New(database.DB, renderer, registry, m, logger),
		Renderer:      renderer,
		Channels:      registry,
		Metrics:       m,
		MetricsServer: metrics.NewServer(m, "", "/metrics", nil, logger),
		Version:       "test",
	}, logger)

	return &testEnv{server: srv, db: database.DB, telegram: telegram, email: email, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doWithKey(t, method, path, body, testAPIKey)
}

func (e *testEnv) doWithKey(t *testing.T, method, path string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

type recipientPage struct {
	Items []models.Recipient `json:"items"`
	Total int                `json:"total"`
	Limit int                `json:"limit"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doWithKey(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decode[HealthResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "ok", resp.Database)
}

func TestMetricsMounted(t *testing.T) {
	env := newTestEnv(t)

	env.doWithKey(t, http.MethodGet, "/health", nil, "")
	rr := env.doWithKey(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "notifier_api_requests_total")
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	stored, err := repository.NewAPIKeyRepository(env.db).Create(context.Background(), "ops", "test")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "Authorization", "Bearer nk_wrong", http.StatusUnauthorized},
		{"static bearer", "Authorization", "Bearer " + testAPIKey, http.StatusOK},
		{"static header", "X-API-Key", testAPIKey, http.StatusOK},
		{"stored key", "Authorization", "Bearer " + stored.Key, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/variables", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestAuthMiddleware_RevokedKey(t *testing.T) {
	env := newTestEnv(t)

	repo := repository.NewAPIKeyRepository(env.db)
	stored, err := repo.Create(context.Background(), "ops", "test")
	require.NoError(t, err)
	require.NoError(t, repo.Revoke(context.Background(), stored.ID))

	rr := env.doWithKey(t, http.MethodGet, "/api/v1/channels", nil, stored.Key)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRecipients(t *testing.T) {
	env := newTestEnv(t)

	t.Run("filters", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/v1/recipients/filters", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		filters := decode[models.AvailableFilters](t, rr)
		assert.Len(t, filters.Competitions, 2)
		assert.ElementsMatch(t, []string{"PT", "US"}, filters.Countries)
	})

	t.Run("count", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/recipients/count", models.RecipientFilter{Countries: []string{"PT"}})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 2, decode[CountResponse](t, rr).Count)
	})

	t.Run("count without body", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/recipients/count", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 3, decode[CountResponse](t, rr).Count)
	})

	t.Run("search", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/recipients/search", models.RecipientFilter{EventIDs: []int64{1}})
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[recipientPage](t, rr)
		assert.Equal(t, 2, resp.Total)
		assert.Equal(t, defaultSearchLimit, resp.Limit)
		require.Len(t, resp.Items, 2)
		assert.Equal(t, "Open Cup", resp.Items[0].CompetitionName)
	})

	t.Run("invalid role", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/v1/recipients/count", map[string]any{"roles": []string{"captain"}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode[ErrorResponse](t, rr).Error, "Roles")
	})
}

func TestChannels(t *testing.T) {
	env := newTestEnv(t)
	env.email.configured = false

	rr := env.do(t, http.MethodGet, "/api/v1/channels", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	infos := decode[[]ChannelInfo](t, rr)
	require.Len(t, infos, 2)
	assert.Equal(t, ChannelInfo{Name: "email", Configured: false}, infos[0])
	assert.Equal(t, ChannelInfo{Name: "telegram", Configured: true}, infos[1])

	rr = env.do(t, http.MethodGet, "/api/v1/channels?test=true", nil)
	infos = decode[[]ChannelInfo](t, rr)
	require.NotNil(t, infos[1].Reachable)
	assert.True(t, *infos[1].Reachable)
	require.NotNil(t, infos[0].Reachable)
	assert.False(t, *infos[0].Reachable)
}
