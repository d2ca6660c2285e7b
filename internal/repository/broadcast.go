package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/usncompetitions/notifier/internal/models"
)

// ErrStatusConflict is returned when a broadcast is not in the status an
// operation requires, including a lost draft -> in_progress race.
var ErrStatusConflict = errors.New("broadcast status does not allow this operation")

type BroadcastRepository struct {
	db *sql.DB
}

func NewBroadcastRepository(db *sql.DB) *BroadcastRepository {
	return &BroadcastRepository{db: db}
}

const broadcastColumns = `id, name, template_id, COALESCE(filters, '{}'), send_telegram, send_email, status,
	total_recipients, sent_count, failed_count, scheduled_at, started_at, completed_at,
	COALESCE(created_by, ''), created_at, updated_at`

// Create inserts a new draft broadcast
func (r *BroadcastRepository) Create(ctx context.Context, b *models.Broadcast) error {
	filters, err := json.Marshal(b.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	b.ID = uuid.New().String()
	b.Status = models.BroadcastDraft
	b.TotalRecipients, b.SentCount, b.FailedCount = 0, 0, 0
	b.StartedAt, b.CompletedAt = nil, nil
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO broadcasts (id, name, template_id, filters, send_telegram, send_email, status, scheduled_at, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.TemplateID, string(filters), b.SendTelegram, b.SendEmail, b.Status,
		utcPtr(b.ScheduledAt), b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	return nil
}

// GetByID returns a broadcast by ID
func (r *BroadcastRepository) GetByID(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := scanBroadcast(r.db.QueryRowContext(ctx, "SELECT "+broadcastColumns+" FROM broadcasts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// List returns broadcasts newest first
func (r *BroadcastRepository) List(ctx context.Context, filter models.BroadcastListFilter) ([]models.Broadcast, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM broadcasts"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + broadcastColumns + " FROM broadcasts" + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	broadcasts, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return broadcasts, total, nil
}

// ListDue returns draft broadcasts scheduled at or before now, oldest first
func (r *BroadcastRepository) ListDue(ctx context.Context, now time.Time) ([]models.Broadcast, error) {
	return r.query(ctx,
		"SELECT "+broadcastColumns+" FROM broadcasts WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ? ORDER BY scheduled_at",
		models.BroadcastDraft, now.UTC(),
	)
}

func (r *BroadcastRepository) query(ctx context.Context, query string, args ...any) ([]models.Broadcast, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var broadcasts []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		broadcasts = append(broadcasts, *b)
	}
	return broadcasts, rows.Err()
}

// Update changes the editable fields of a draft broadcast
func (r *BroadcastRepository) Update(ctx context.Context, b *models.Broadcast) error {
	filters, err := json.Marshal(b.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}
	b.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET name = ?, template_id = ?, filters = ?, send_telegram = ?, send_email = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		b.Name, b.TemplateID, string(filters), b.SendTelegram, b.SendEmail, utcPtr(b.ScheduledAt), b.UpdatedAt,
		b.ID, models.BroadcastDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to update broadcast: %w", err)
	}
	return r.expectTransition(ctx, res, b.ID)
}

// Delete removes a broadcast and, by cascade, its ledger rows.
// Running broadcasts cannot be deleted.
func (r *BroadcastRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM broadcasts WHERE id = ? AND status != ?", id, models.BroadcastInProgress)
	if err != nil {
		return fmt.Errorf("failed to delete broadcast: %w", err)
	}
	return r.expectTransition(ctx, res, id)
}

// MarkInProgress atomically moves a draft broadcast to in_progress.
// It returns ErrStatusConflict when the broadcast is in any other status.
func (r *BroadcastRepository) MarkInProgress(ctx context.Context, id string, startedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = ?, started_at = ?, completed_at = NULL, total_recipients = 0, sent_count = 0, failed_count = 0, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BroadcastInProgress, startedAt.UTC(), startedAt.UTC(), id, models.BroadcastDraft,
	)
	if err != nil {
		return fmt.Errorf("failed to start broadcast: %w", err)
	}
	return r.expectTransition(ctx, res, id)
}

// SetTotal records the resolved recipient count of a running broadcast
func (r *BroadcastRepository) SetTotal(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE broadcasts SET total_recipients = ?, updated_at = ? WHERE id = ?",
		total, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set total recipients: %w", err)
	}
	return nil
}

// Complete stores the final counters and moves in_progress to completed
func (r *BroadcastRepository) Complete(ctx context.Context, id string, sent, failed int, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = ?, sent_count = ?, failed_count = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BroadcastCompleted, sent, failed, completedAt.UTC(), completedAt.UTC(), id, models.BroadcastInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to complete broadcast: %w", err)
	}
	return r.expectTransition(ctx, res, id)
}

// MarkFailed moves in_progress to failed
func (r *BroadcastRepository) MarkFailed(ctx context.Context, id string, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcasts SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.BroadcastFailed, completedAt.UTC(), completedAt.UTC(), id, models.BroadcastInProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to mark broadcast failed: %w", err)
	}
	return r.expectTransition(ctx, res, id)
}

// Reset returns a started broadcast to draft, zeroing counters and
// purging the ledger of the previous run. Resetting a draft is a no-op.
func (r *BroadcastRepository) Reset(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.BroadcastStatus
	err = tx.QueryRowContext(ctx, "SELECT status FROM broadcasts WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == models.BroadcastDraft {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM broadcast_recipients WHERE broadcast_id = ?", id); err != nil {
		return fmt.Errorf("failed to purge ledger: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE broadcasts
		SET status = ?, total_recipients = 0, sent_count = 0, failed_count = 0,
		    started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ?`,
		models.BroadcastDraft, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset broadcast: %w", err)
	}

	return tx.Commit()
}

// CountByTemplate returns how many broadcasts reference a template
func (r *BroadcastRepository) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM broadcasts WHERE template_id = ?", templateID).Scan(&n)
	return n, err
}

// CountByStatus returns the number of broadcasts per status
func (r *BroadcastRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM broadcasts GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// expectTransition distinguishes a missing row from a status mismatch
func (r *BroadcastRepository) expectTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM broadcasts WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStatusConflict
}

func scanBroadcast(s scanner) (*models.Broadcast, error) {
	b := &models.Broadcast{}
	var filters string
	var scheduledAt, startedAt, completedAt sql.NullTime

	err := s.Scan(&b.ID, &b.Name, &b.TemplateID, &filters, &b.SendTelegram, &b.SendEmail, &b.Status,
		&b.TotalRecipients, &b.SentCount, &b.FailedCount, &scheduledAt, &startedAt, &completedAt,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filters), &b.Filters); err != nil {
		return nil, fmt.Errorf("failed to decode filters: %w", err)
	}
	b.ScheduledAt = nullTime(scheduledAt)
	b.StartedAt = nullTime(startedAt)
	b.CompletedAt = nullTime(completedAt)

	return b, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
