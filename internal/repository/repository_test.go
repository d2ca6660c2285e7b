package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/usncompetitions/notifier/internal/db"
	"github.com/usncompetitions/notifier/internal/models"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return database.DB
}

func createTestTemplate(t *testing.T, conn *sql.DB, name string) *models.MessageTemplate {
	t.Helper()

	tmpl := &models.MessageTemplate{
		Name:         name,
		Subject:      "Hello {{first_name}}",
		TelegramBody: "Hi {{first_name}}",
		EmailBody:    "<p>Hi {{first_name}}</p>",
	}
	if err := NewTemplateRepository(conn).Create(context.Background(), tmpl); err != nil {
		t.Fatalf("failed to create template: %v", err)
	}
	return tmpl
}

func createTestBroadcast(t *testing.T, conn *sql.DB, templateID string) *models.Broadcast {
	t.Helper()

	b := &models.Broadcast{
		Name:         "Finals reminder",
		TemplateID:   templateID,
		SendTelegram: true,
		Filters:      models.RecipientFilter{Roles: []string{models.RolePlayer}},
	}
	if err := NewBroadcastRepository(conn).Create(context.Background(), b); err != nil {
		t.Fatalf("failed to create broadcast: %v", err)
	}
	return b
}

func TestTemplateRepository_CRUD(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewTemplateRepository(conn)
	ctx := context.Background()

	tmpl := createTestTemplate(t, conn, "welcome")
	if tmpl.ID == "" {
		t.Fatal("expected ID to be set")
	}

	got, err := repo.GetByName(ctx, "welcome")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got == nil || got.ID != tmpl.ID {
		t.Fatalf("expected template %s, got %+v", tmpl.ID, got)
	}
	if !got.IsActive {
		t.Error("expected new template to be active")
	}

	got.Subject = "Updated"
	got.Variables = map[string]string{"first_name": "First name"}
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err = repo.GetByID(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Subject != "Updated" {
		t.Errorf("expected subject 'Updated', got %q", got.Subject)
	}
	if got.Variables["first_name"] != "First name" {
		t.Errorf("expected variables to round-trip, got %v", got.Variables)
	}

	if err := repo.SetActive(ctx, tmpl.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	list, total, err := repo.List(ctx, models.TemplateListFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 || len(list) != 0 {
		t.Errorf("expected no active templates, got %d", total)
	}

	if err := repo.Delete(ctx, tmpl.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = repo.GetByID(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Error("expected template to be deleted")
	}

	if err := repo.Delete(ctx, tmpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplateRepository_DeleteInUse(t *testing.T) {
	conn := setupTestDB(t)
	tmpl := createTestTemplate(t, conn, "in-use")
	createTestBroadcast(t, conn, tmpl.ID)

	err := NewTemplateRepository(conn).Delete(context.Background(), tmpl.ID)
	if !errors.Is(err, ErrTemplateInUse) {
		t.Errorf("expected ErrTemplateInUse, got %v", err)
	}
}

func TestBroadcastRepository_Lifecycle(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewBroadcastRepository(conn)
	ctx := context.Background()

	tmpl := createTestTemplate(t, conn, "lifecycle")
	b := createTestBroadcast(t, conn, tmpl.ID)

	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.BroadcastDraft {
		t.Fatalf("expected draft, got %s", got.Status)
	}
	if len(got.Filters.Roles) != 1 || got.Filters.Roles[0] != models.RolePlayer {
		t.Errorf("expected filters to round-trip, got %+v", got.Filters)
	}

	now := time.Now()
	if err := repo.MarkInProgress(ctx, b.ID, now); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	if err := repo.MarkInProgress(ctx, b.ID, now); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected second MarkInProgress to conflict, got %v", err)
	}

	got.Name = "Edited"
	if err := repo.Update(ctx, got); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected update of running broadcast to conflict, got %v", err)
	}
	if err := repo.Delete(ctx, b.ID); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected delete of running broadcast to conflict, got %v", err)
	}

	if err := repo.SetTotal(ctx, b.ID, 3); err != nil {
		t.Fatalf("SetTotal failed: %v", err)
	}
	if err := repo.Complete(ctx, b.ID, 2, 1, time.Now()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	got, _ = repo.GetByID(ctx, b.ID)
	if got.Status != models.BroadcastCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.TotalRecipients != 3 || got.SentCount != 2 || got.FailedCount != 1 {
		t.Errorf("unexpected counters: total=%d sent=%d failed=%d", got.TotalRecipients, got.SentCount, got.FailedCount)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected started_at and completed_at to be set")
	}

	if err := repo.MarkFailed(ctx, b.ID, time.Now()); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected MarkFailed of completed broadcast to conflict, got %v", err)
	}

	if err := repo.Reset(ctx, b.ID); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	got, _ = repo.GetByID(ctx, b.ID)
	if got.Status != models.BroadcastDraft {
		t.Errorf("expected draft after reset, got %s", got.Status)
	}
	if got.TotalRecipients != 0 || got.SentCount != 0 || got.FailedCount != 0 {
		t.Error("expected counters to be zeroed")
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("expected timestamps to be cleared")
	}

	if err := repo.Reset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.MarkInProgress(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBroadcastRepository_ListAndDue(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewBroadcastRepository(conn)
	ctx := context.Background()
	tmpl := createTestTemplate(t, conn, "due")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	due := &models.Broadcast{Name: "due", TemplateID: tmpl.ID, SendTelegram: true, ScheduledAt: &past}
	later := &models.Broadcast{Name: "later", TemplateID: tmpl.ID, SendTelegram: true, ScheduledAt: &future}
	unscheduled := &models.Broadcast{Name: "manual", TemplateID: tmpl.ID, SendEmail: true}
	for _, b := range []*models.Broadcast{due, later, unscheduled} {
		if err := repo.Create(ctx, b); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list, err := repo.ListDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != due.ID {
		t.Fatalf("expected only the due broadcast, got %+v", list)
	}

	all, total, err := repo.List(ctx, models.BroadcastListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Errorf("expected 3 broadcasts, got %d", total)
	}

	searched, total, err := repo.List(ctx, models.BroadcastListFilter{Search: "man"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || searched[0].ID != unscheduled.ID {
		t.Errorf("expected search to match 'manual', got %+v", searched)
	}

	n, err := repo.CountByTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("CountByTemplate failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 references, got %d", n)
	}
}

func TestBroadcastRepository_MarkInProgressLostRace(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer conn.Close()

	mock.ExpectExec("UPDATE broadcasts").
		WithArgs(models.BroadcastInProgress, sqlmock.AnyArg(), sqlmock.AnyArg(), "b1", models.BroadcastDraft).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	repo := NewBroadcastRepository(conn)
	if err := repo.MarkInProgress(context.Background(), "b1", time.Now()); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLedgerRepository(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewLedgerRepository(conn)
	ctx := context.Background()

	tmpl := createTestTemplate(t, conn, "ledger")
	b := createTestBroadcast(t, conn, tmpl.ID)

	rows := []models.BroadcastRecipient{
		{BroadcastID: b.ID, UserID: 1, TelegramID: 1001},
		{BroadcastID: b.ID, UserID: 2, Email: "two@example.com"},
		{BroadcastID: b.ID, UserID: 1, TelegramID: 1001},
	}
	inserted, err := repo.CreateBatch(ctx, rows)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("expected duplicate user to be skipped, got %d rows", len(inserted))
	}
	for _, row := range inserted {
		if row.ID == "" {
			t.Error("expected row ID to be assigned")
		}
	}

	sentAt := time.Now()
	if err := repo.UpdateTelegram(ctx, inserted[0].ID, models.DeliverySent, &sentAt, "", "42"); err != nil {
		t.Fatalf("UpdateTelegram failed: %v", err)
	}
	if err := repo.UpdateEmail(ctx, inserted[1].ID, models.DeliveryFailed, nil, "mailbox unavailable"); err != nil {
		t.Fatalf("UpdateEmail failed: %v", err)
	}
	if err := repo.SetRendered(ctx, inserted[0].ID, "Subject", "Body"); err != nil {
		t.Fatalf("SetRendered failed: %v", err)
	}
	if err := repo.UpdateTelegram(ctx, "missing", models.DeliverySent, nil, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	row, err := repo.GetByUser(ctx, b.ID, 1)
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if row.TelegramStatus != models.DeliverySent || row.TelegramMessageID != "42" {
		t.Errorf("unexpected telegram state: %s %q", row.TelegramStatus, row.TelegramMessageID)
	}
	if row.TelegramSentAt == nil {
		t.Error("expected telegram_sent_at to be set")
	}
	if row.RenderedBody != "Body" {
		t.Errorf("expected rendered body, got %q", row.RenderedBody)
	}

	stats, err := repo.GetStats(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Total != 2 || stats.TelegramSent != 1 || stats.TelegramPending != 1 || stats.EmailFailed != 1 || stats.EmailPending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	failed, total, err := repo.List(ctx, models.LedgerFilter{BroadcastID: b.ID, EmailStatus: models.DeliveryFailed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || failed[0].UserID != 2 || failed[0].EmailError != "mailbox unavailable" {
		t.Errorf("unexpected filtered ledger: %+v", failed)
	}

	if err := NewBroadcastRepository(conn).MarkInProgress(ctx, b.ID, time.Now()); err != nil {
		t.Fatalf("MarkInProgress failed: %v", err)
	}
	if err := NewBroadcastRepository(conn).Reset(ctx, b.ID); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	_, total, err = repo.List(ctx, models.LedgerFilter{BroadcastID: b.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 0 {
		t.Errorf("expected reset to purge ledger, got %d rows", total)
	}
}

func TestAPIKeyRepository(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewAPIKeyRepository(conn)
	ctx := context.Background()

	result, err := repo.Create(ctx, "ops", "admin@example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(result.Key) < 20 || result.Key[:3] != "nk_" {
		t.Fatalf("unexpected key format: %q", result.Key)
	}

	key, err := repo.Authenticate(ctx, result.Key)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if key.ID != result.ID || key.LastUsedAt == nil {
		t.Errorf("unexpected authenticated key: %+v", key)
	}

	if _, err := repo.Authenticate(ctx, result.Key+"x"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey for tampered key, got %v", err)
	}
	if _, err := repo.Authenticate(ctx, "short"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey for short key, got %v", err)
	}

	if err := repo.Revoke(ctx, result.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := repo.Authenticate(ctx, result.Key); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected revoked key to be rejected, got %v", err)
	}

	keys, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0].Active {
		t.Errorf("expected one inactive key, got %+v", keys)
	}

	if err := repo.Revoke(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistrationRepository_Upsert(t *testing.T) {
	conn := setupTestDB(t)
	repo := NewRegistrationRepository(conn)
	ctx := context.Background()

	if err := repo.UpsertCompetition(ctx, &models.Competition{ID: 1, Name: "Open Cup", IsActive: true}); err != nil {
		t.Fatalf("UpsertCompetition failed: %v", err)
	}
	user := &models.User{ID: 7, FirstName: "Ana", TelegramID: 700}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	user.City = "Lisbon"
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}
	if err := repo.UpsertRegistration(ctx, &models.Registration{ID: 1, UserID: 7, CompetitionID: 1, Role: models.RolePlayer}); err != nil {
		t.Fatalf("UpsertRegistration failed: %v", err)
	}
	if err := repo.UpdateUserEmail(ctx, 7, "ana@example.com"); err != nil {
		t.Fatalf("UpdateUserEmail failed: %v", err)
	}

	var city, email, status string
	err := conn.QueryRow(`SELECT u.city, u.email, r.status FROM users u JOIN registrations r ON r.user_id = u.id WHERE u.id = 7`).
		Scan(&city, &email, &status)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if city != "Lisbon" || email != "ana@example.com" || status != models.RegistrationPending {
		t.Errorf("unexpected row: city=%q email=%q status=%q", city, email, status)
	}

	if err := repo.UpdateUserEmail(ctx, 99, "x@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
