package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usncompetitions/notifier/internal/models"
)

func createBroadcast(t *testing.T, env *testEnv, templateID string, filter models.RecipientFilter) models.Broadcast {
	t.Helper()

	rr := env.do(t, http.MethodPost, "/api/v1/broadcasts", BroadcastRequest{
		Name:         "Round 1 reminder",
		TemplateID:   templateID,
		Filters:      filter,
		SendTelegram: true,
		SendEmail:    true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[models.Broadcast](t, rr)
}

type ledgerPage struct {
	Items []models.BroadcastRecipient `json:"items"`
	Total int                         `json:"total"`
}

func TestBroadcasts_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")

	tests := []struct {
		name string
		req  BroadcastRequest
		want int
	}{
		{"missing name", BroadcastRequest{TemplateID: tmpl.ID, SendTelegram: true}, http.StatusBadRequest},
		{"no channel", BroadcastRequest{Name: "x", TemplateID: tmpl.ID}, http.StatusBadRequest},
		{"unknown template", BroadcastRequest{Name: "x", TemplateID: "missing", SendEmail: true}, http.StatusBadRequest},
		{"invalid status filter", BroadcastRequest{
			Name: "x", TemplateID: tmpl.ID, SendEmail: true,
			Filters: models.RecipientFilter{Statuses: []string{"lost"}},
		}, http.StatusBadRequest},
		{"valid", BroadcastRequest{Name: "x", TemplateID: tmpl.ID, SendEmail: true}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/broadcasts", tt.req)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestBroadcasts_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")
	b := createBroadcast(t, env, tmpl.ID, models.RecipientFilter{})
	assert.Equal(t, models.BroadcastDraft, b.Status)

	rr := env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID+"/preview?sample=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	preview := decode[models.BroadcastPreview](t, rr)
	assert.Equal(t, 3, preview.TotalRecipients)
	assert.Len(t, preview.Samples, 2)
	assert.Empty(t, preview.Errors)

	rr = env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute?dry_run=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	dry := decode[models.ExecutionSummary](t, rr)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.Sent)
	assert.Zero(t, env.telegram.count())

	rr = env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	summary := decode[models.ExecutionSummary](t, rr)
	assert.Equal(t, 3, summary.TotalRecipients)
	assert.Equal(t, 3, summary.Sent)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 2, env.telegram.count())
	assert.Equal(t, 2, env.email.count())

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stored := decode[models.Broadcast](t, rr)
	assert.Equal(t, models.BroadcastCompleted, stored.Status)
	assert.Equal(t, 3, stored.SentCount)

	rr = env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/v1/broadcasts/"+b.ID, BroadcastRequest{Name: "edit", TemplateID: tmpl.ID, SendEmail: true})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID+"/recipients?telegram_status=blocked", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[ledgerPage](t, rr)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, int64(3), page.Items[0].UserID)

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID+"/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[models.LedgerStats](t, rr)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.TelegramSent)
	assert.Equal(t, 2, stats.EmailSent)

	rr = env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	reset := decode[models.Broadcast](t, rr)
	assert.Equal(t, models.BroadcastDraft, reset.Status)
	assert.Zero(t, reset.SentCount)

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID+"/recipients", nil)
	assert.Zero(t, decode[ledgerPage](t, rr).Total)

	rr = env.do(t, http.MethodDelete, "/api/v1/broadcasts/"+b.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestBroadcasts_UpdateDraft(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")
	b := createBroadcast(t, env, tmpl.ID, models.RecipientFilter{})

	rr := env.do(t, http.MethodPut, "/api/v1/broadcasts/"+b.ID, BroadcastRequest{
		Name:       "PT only",
		TemplateID: tmpl.ID,
		Filters:    models.RecipientFilter{Countries: []string{"PT"}},
		SendEmail:  true,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	updated := decode[models.Broadcast](t, rr)
	assert.Equal(t, "PT only", updated.Name)
	assert.False(t, updated.SendTelegram)

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts?status=draft&search=PT", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Items []models.Broadcast `json:"items"`
		Total int                `json:"total"`
	}](t, rr)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, []string{"PT"}, list.Items[0].Filters.Countries)
}

func TestBroadcasts_ExecuteErrors(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")
	b := createBroadcast(t, env, tmpl.ID, models.RecipientFilter{})

	rr := env.do(t, http.MethodPost, "/api/v1/broadcasts/missing/execute", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/missing/preview", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/templates/"+tmpl.ID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decode[ErrorResponse](t, rr).Error, "inactive")
	assert.Zero(t, env.telegram.count())
}

func TestBroadcasts_ExecuteSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")
	b := createBroadcast(t, env, tmpl.ID, models.RecipientFilter{})

	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	var once sync.Once
	env.telegram.onSend = func(ctx context.Context, r models.Recipient) {
		once.Do(disconnect)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute", nil).WithContext(reqCtx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rr := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 3, decode[models.ExecutionSummary](t, rr).Sent)
	assert.Equal(t, 2, env.telegram.count())
	assert.Equal(t, 2, env.email.count())

	rr = env.do(t, http.MethodGet, "/api/v1/broadcasts/"+b.ID, nil)
	assert.Equal(t, models.BroadcastCompleted, decode[models.Broadcast](t, rr).Status)
}

func TestBroadcasts_ShutdownStopsRunningExecution(t *testing.T) {
	env := newTestEnv(t)
	tmpl := createTemplate(t, env, "reminder")
	b := createBroadcast(t, env, tmpl.ID, models.RecipientFilter{})

	var once sync.Once
	env.telegram.onSend = func(ctx context.Context, r models.Recipient) {
		once.Do(func() {
			require.NoError(t, env.server.Shutdown(context.Background()))
			<-ctx.Done()
		})
	}

	rr := env.do(t, http.MethodPost, "/api/v1/broadcasts/"+b.ID+"/execute", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())

	resp := decode[ExecuteResponse](t, rr)
	require.NotNil(t, resp.ExecutionSummary)
	assert.Len(t, resp.Results, 1)
	assert.Contains(t, resp.Error, "interrupted")

	stored, err := env.server.broadcasts.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastFailed, stored.Status)
}
