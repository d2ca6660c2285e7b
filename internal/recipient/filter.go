// Package recipient resolves broadcast recipients from the registration store.
package recipient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/usncompetitions/notifier/internal/models"
)

const selectColumns = `
	SELECT u.id, COALESCE(u.telegram_id, 0), COALESCE(u.telegram_username, ''), COALESCE(u.email, ''),
	       u.first_name, COALESCE(u.last_name, ''), COALESCE(u.phone, ''),
	       COALESCE(u.country, ''), COALESCE(u.city, ''), COALESCE(u.club, ''),
	       COALESCE(u.company, ''), COALESCE(u.position, ''), COALESCE(u.certificate_name, ''),
	       COALESCE(u.presentation, ''), COALESCE(u.bio, ''),
	       COALESCE(r.id, 0), COALESCE(r.role, ''), COALESCE(r.status, ''),
	       COALESCE(c.id, 0), COALESCE(c.name, ''), COALESCE(c.type, '')`

const joinClause = `
	FROM users u
	LEFT JOIN registrations r ON r.user_id = u.id
	LEFT JOIN competitions c ON c.id = r.competition_id
	WHERE 1=1`

// Filter queries users joined with their registrations and competitions
type Filter struct {
	db *sql.DB
}

func NewFilter(db *sql.DB) *Filter {
	return &Filter{db: db}
}

// GetRecipients returns one projection per matching join row, ordered by
// user and registration. A user with several matching registrations
// appears once per registration.
func (f *Filter) GetRecipients(ctx context.Context, filter models.RecipientFilter) ([]models.Recipient, error) {
	where, args := buildWhere(filter)
	query := selectColumns + joinClause + where + " ORDER BY u.id, r.id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(
			&r.UserID, &r.TelegramID, &r.TelegramUsername, &r.Email,
			&r.FirstName, &r.LastName, &r.Phone,
			&r.Country, &r.City, &r.Club,
			&r.Company, &r.Position, &r.CertificateName,
			&r.Presentation, &r.Bio,
			&r.RegistrationID, &r.Role, &r.Status,
			&r.CompetitionID, &r.CompetitionName, &r.CompetitionType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}

	return recipients, rows.Err()
}

// CountRecipients returns the number of distinct users matching filter.
// Limit and offset are ignored.
func (f *Filter) CountRecipients(ctx context.Context, filter models.RecipientFilter) (int, error) {
	where, args := buildWhere(filter)

	var count int
	err := f.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT u.id)"+joinClause+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return count, nil
}

// GetAvailableFilters enumerates the values currently present in the store
func (f *Filter) GetAvailableFilters(ctx context.Context) (*models.AvailableFilters, error) {
	result := &models.AvailableFilters{
		Competitions: []models.CompetitionOption{},
		Statuses:     models.RegistrationStatuses,
	}

	rows, err := f.db.QueryContext(ctx, "SELECT id, name FROM competitions ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	for rows.Next() {
		var c models.CompetitionOption
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return nil, err
		}
		result.Competitions = append(result.Competitions, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if result.Roles, err = f.distinct(ctx, "SELECT DISTINCT role FROM registrations WHERE role IS NOT NULL AND role != '' ORDER BY role"); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	if result.Countries, err = f.distinct(ctx, "SELECT DISTINCT country FROM users WHERE country IS NOT NULL AND country != '' ORDER BY country"); err != nil {
		return nil, fmt.Errorf("failed to list countries: %w", err)
	}
	if result.Cities, err = f.distinct(ctx, "SELECT DISTINCT city FROM users WHERE city IS NOT NULL AND city != '' ORDER BY city"); err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}

	return result, nil
}

func (f *Filter) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// buildWhere ANDs every non-empty criterion
func buildWhere(filter models.RecipientFilter) (string, []any) {
	var sb strings.Builder
	var args []any

	if len(filter.EventIDs) > 0 {
		sb.WriteString(" AND r.competition_id IN (" + placeholders(len(filter.EventIDs)) + ")")
		for _, id := range filter.EventIDs {
			args = append(args, id)
		}
	}
	args = appendIn(&sb, args, "r.role", filter.Roles)
	args = appendIn(&sb, args, "r.status", filter.Statuses)
	args = appendIn(&sb, args, "u.country", filter.Countries)
	args = appendIn(&sb, args, "u.city", filter.Cities)

	if filter.RequireContact {
		sb.WriteString(" AND u.email IS NOT NULL AND u.email != ''")
	}

	return sb.String(), args
}

func appendIn(sb *strings.Builder, args []any, column string, values []string) []any {
	if len(values) == 0 {
		return args
	}
	sb.WriteString(" AND " + column + " IN (" + placeholders(len(values)) + ")")
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
