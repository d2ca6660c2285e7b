package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/usncompetitions/notifier/internal/models"
)

// RegistrationRepository writes the user, competition and registration
// tables. The registration subsystem owns these records; this repository
// is used for imports and fixtures.
type RegistrationRepository struct {
	db *sql.DB
}

func NewRegistrationRepository(db *sql.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// UpsertUser inserts or replaces a user by ID
func (r *RegistrationRepository) UpsertUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, telegram_id, telegram_username, email, first_name, last_name, phone, country, city,
		                   club, company, position, certificate_name, presentation, bio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			telegram_id = excluded.telegram_id, telegram_username = excluded.telegram_username,
			email = excluded.email, first_name = excluded.first_name, last_name = excluded.last_name,
			phone = excluded.phone, country = excluded.country, city = excluded.city, club = excluded.club,
			company = excluded.company, position = excluded.position, certificate_name = excluded.certificate_name,
			presentation = excluded.presentation, bio = excluded.bio`,
		u.ID, nullInt(u.TelegramID), nullString(u.TelegramUsername), nullString(u.Email), u.FirstName,
		nullString(u.LastName), nullString(u.Phone), nullString(u.Country), nullString(u.City),
		nullString(u.Club), nullString(u.Company), nullString(u.Position), nullString(u.CertificateName),
		nullString(u.Presentation), nullString(u.Bio), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", u.ID, err)
	}
	return nil
}

// UpsertCompetition inserts or replaces a competition by ID
func (r *RegistrationRepository) UpsertCompetition(ctx context.Context, c *models.Competition) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO competitions (id, name, type, is_active, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, is_active = excluded.is_active`,
		c.ID, c.Name, nullString(c.Type), c.IsActive, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert competition %d: %w", c.ID, err)
	}
	return nil
}

// UpsertRegistration inserts or replaces a registration by ID
func (r *RegistrationRepository) UpsertRegistration(ctx context.Context, reg *models.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	if reg.Status == "" {
		reg.Status = models.RegistrationPending
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registrations (id, user_id, competition_id, role, status, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, competition_id = excluded.competition_id,
			role = excluded.role, status = excluded.status`,
		reg.ID, reg.UserID, reg.CompetitionID, reg.Role, reg.Status, reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert registration %d: %w", reg.ID, err)
	}
	return nil
}

// UpdateUserEmail changes a user's email address
func (r *RegistrationRepository) UpdateUserEmail(ctx context.Context, userID int64, email string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET email = ? WHERE id = ?", nullString(email), userID)
	if err != nil {
		return fmt.Errorf("failed to update user email: %w", err)
	}
	return expectOne(res, ErrNotFound)
}
