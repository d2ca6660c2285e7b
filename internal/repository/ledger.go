package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/usncompetitions/notifier/internal/models"
)

// LedgerRepository stores per-recipient delivery state (broadcast_recipients)
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, broadcast_id, user_id, COALESCE(telegram_id, 0),
	COALESCE(telegram_status, 'pending'), telegram_sent_at, COALESCE(telegram_error, ''), COALESCE(telegram_message_id, ''),
	COALESCE(email, ''), COALESCE(email_status, 'pending'), email_sent_at, COALESCE(email_error, ''),
	COALESCE(rendered_subject, ''), COALESCE(rendered_body, ''), created_at, updated_at`

// CreateBatch inserts pending rows in one transaction. Rows for a
// (broadcast, user) pair that already exists are skipped; the returned
// slice holds only inserted rows, with IDs assigned.
func (r *LedgerRepository) CreateBatch(ctx context.Context, rows []models.BroadcastRecipient) ([]models.BroadcastRecipient, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO broadcast_recipients (id, broadcast_id, user_id, telegram_id, telegram_status, email, email_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := make([]models.BroadcastRecipient, 0, len(rows))
	for _, row := range rows {
		row.ID = uuid.New().String()
		row.TelegramStatus = models.DeliveryPending
		row.EmailStatus = models.DeliveryPending
		row.CreatedAt = now
		row.UpdatedAt = now

		res, err := stmt.ExecContext(ctx,
			row.ID, row.BroadcastID, row.UserID, nullInt(row.TelegramID), row.TelegramStatus,
			nullString(row.Email), row.EmailStatus, row.CreatedAt, row.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert ledger row for user %d: %w", row.UserID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, row)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

// UpdateTelegram records the chat channel outcome of one row
func (r *LedgerRepository) UpdateTelegram(ctx context.Context, id string, status models.DeliveryStatus, sentAt *time.Time, errMsg, messageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_recipients
		SET telegram_status = ?, telegram_sent_at = ?, telegram_error = ?, telegram_message_id = ?, updated_at = ?
		WHERE id = ?`,
		status, utcPtr(sentAt), nullString(errMsg), nullString(messageID), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update telegram status: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// UpdateEmail records the email channel outcome of one row
func (r *LedgerRepository) UpdateEmail(ctx context.Context, id string, status models.DeliveryStatus, sentAt *time.Time, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE broadcast_recipients
		SET email_status = ?, email_sent_at = ?, email_error = ?, updated_at = ?
		WHERE id = ?`,
		status, utcPtr(sentAt), nullString(errMsg), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update email status: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// SetRendered stores the subject and body actually sent
func (r *LedgerRepository) SetRendered(ctx context.Context, id, subject, body string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE broadcast_recipients SET rendered_subject = ?, rendered_body = ?, updated_at = ? WHERE id = ?",
		subject, body, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store rendered message: %w", err)
	}
	return nil
}

// GetByUser returns the ledger row of one user in one broadcast
func (r *LedgerRepository) GetByUser(ctx context.Context, broadcastID string, userID int64) (*models.BroadcastRecipient, error) {
	row, err := scanLedger(r.db.QueryRowContext(ctx,
		"SELECT "+ledgerColumns+" FROM broadcast_recipients WHERE broadcast_id = ? AND user_id = ?",
		broadcastID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// List returns ledger rows of a broadcast ordered by user
func (r *LedgerRepository) List(ctx context.Context, filter models.LedgerFilter) ([]models.BroadcastRecipient, int, error) {
	where := " WHERE broadcast_id = ?"
	args := []any{filter.BroadcastID}

	if filter.TelegramStatus != "" {
		where += " AND telegram_status = ?"
		args = append(args, filter.TelegramStatus)
	}
	if filter.EmailStatus != "" {
		where += " AND email_status = ?"
		args = append(args, filter.EmailStatus)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM broadcast_recipients"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + ledgerColumns + " FROM broadcast_recipients" + where + " ORDER BY user_id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []models.BroadcastRecipient
	for rows.Next() {
		row, err := scanLedger(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *row)
	}
	return result, total, rows.Err()
}

// GetStats aggregates channel statuses of a broadcast
func (r *LedgerRepository) GetStats(ctx context.Context, broadcastID string) (*models.LedgerStats, error) {
	stats := &models.LedgerStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN telegram_status IN ('sent', 'delivered') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN telegram_status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN telegram_status = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN telegram_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN email_status IN ('sent', 'delivered') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN email_status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN email_status = 'blocked' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN email_status = 'pending' THEN 1 ELSE 0 END), 0)
		FROM broadcast_recipients WHERE broadcast_id = ?`, broadcastID,
	).Scan(&stats.Total,
		&stats.TelegramSent, &stats.TelegramFailed, &stats.TelegramBlocked, &stats.TelegramPending,
		&stats.EmailSent, &stats.EmailFailed, &stats.EmailBlocked, &stats.EmailPending)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func scanLedger(s scanner) (*models.BroadcastRecipient, error) {
	row := &models.BroadcastRecipient{}
	var telegramSentAt, emailSentAt sql.NullTime

	err := s.Scan(&row.ID, &row.BroadcastID, &row.UserID, &row.TelegramID,
		&row.TelegramStatus, &telegramSentAt, &row.TelegramError, &row.TelegramMessageID,
		&row.Email, &row.EmailStatus, &emailSentAt, &row.EmailError,
		&row.RenderedSubject, &row.RenderedBody, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}

	row.TelegramSentAt = nullTime(telegramSentAt)
	row.EmailSentAt = nullTime(emailSentAt)
	return row, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
