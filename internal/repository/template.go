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

var ErrTemplateInUse = errors.New("template is referenced by broadcasts")

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, name, COALESCE(description, ''), subject, telegram_body, email_body,
	COALESCE(available_variables, '{}'), is_active, COALESCE(created_by, ''), created_at, updated_at`

// Create inserts a new active template
func (r *TemplateRepository) Create(ctx context.Context, t *models.MessageTemplate) error {
	vars, err := marshalVariables(t.Variables)
	if err != nil {
		return err
	}

	t.ID = uuid.New().String()
	t.IsActive = true
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO message_templates (id, name, description, subject, telegram_body, email_body, available_variables, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.Subject, t.TelegramBody, t.EmailBody, vars, t.IsActive, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID returns a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.MessageTemplate, error) {
	return r.getOne(ctx, "SELECT "+templateColumns+" FROM message_templates WHERE id = ?", id)
}

// GetByName returns a template by its unique name
func (r *TemplateRepository) GetByName(ctx context.Context, name string) (*models.MessageTemplate, error) {
	return r.getOne(ctx, "SELECT "+templateColumns+" FROM message_templates WHERE name = ?", name)
}

func (r *TemplateRepository) getOne(ctx context.Context, query string, arg any) (*models.MessageTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns templates with optional filtering
func (r *TemplateRepository) List(ctx context.Context, filter models.TemplateListFilter) ([]models.MessageTemplate, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Search != "" {
		where += " AND (name LIKE ? OR description LIKE ?)"
		search := "%" + filter.Search + "%"
		args = append(args, search, search)
	}
	if filter.ActiveOnly {
		where += " AND is_active = 1"
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_templates"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + templateColumns + " FROM message_templates" + where + " ORDER BY name"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var templates []models.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		templates = append(templates, *t)
	}

	return templates, total, rows.Err()
}

// Update overwrites the editable fields of a template
func (r *TemplateRepository) Update(ctx context.Context, t *models.MessageTemplate) error {
	vars, err := marshalVariables(t.Variables)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE message_templates
		SET name = ?, description = ?, subject = ?, telegram_body = ?, email_body = ?, available_variables = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, t.Subject, t.TelegramBody, t.EmailBody, vars, t.IsActive, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// SetActive toggles the soft-delete flag
func (r *TemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE message_templates SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// Delete removes a template that no broadcast references
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var refs int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM broadcasts WHERE template_id = ?", id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrTemplateInUse
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM message_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if err := expectOne(res, ErrNotFound); err != nil {
		return err
	}

	return tx.Commit()
}

func scanTemplate(s scanner) (*models.MessageTemplate, error) {
	t := &models.MessageTemplate{}
	var vars string
	err := s.Scan(&t.ID, &t.Name, &t.Description, &t.Subject, &t.TelegramBody, &t.EmailBody,
		&vars, &t.IsActive, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if vars != "" {
		if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode template variables: %w", err)
		}
	}
	return t, nil
}

func marshalVariables(vars map[string]string) (string, error) {
	if len(vars) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to encode template variables: %w", err)
	}
	return string(data), nil
}
