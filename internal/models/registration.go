package models

import "time"

// Registration roles
const (
	RolePlayer  = "player"
	RoleAdviser = "adviser"
	RoleViewer  = "viewer"
	RoleVoter   = "voter"
)

// Registration statuses
const (
	RegistrationPending  = "pending"
	RegistrationApproved = "approved"
	RegistrationRejected = "rejected"
)

// Roles lists every registration role
var Roles = []string{RolePlayer, RoleAdviser, RoleViewer, RoleVoter}

// RegistrationStatuses lists every registration status
var RegistrationStatuses = []string{RegistrationPending, RegistrationApproved, RegistrationRejected}

// User is a registered person, owned by the registration subsystem
type User struct {
	ID               int64     `json:"id" yaml:"id"`
	TelegramID       int64     `json:"telegram_id" yaml:"telegram_id"`
	TelegramUsername string    `json:"telegram_username,omitempty" yaml:"telegram_username"`
	Email            string    `json:"email,omitempty" yaml:"email"`
	FirstName        string    `json:"first_name" yaml:"first_name"`
	LastName         string    `json:"last_name,omitempty" yaml:"last_name"`
	Phone            string    `json:"phone,omitempty" yaml:"phone"`
	Country          string    `json:"country,omitempty" yaml:"country"`
	City             string    `json:"city,omitempty" yaml:"city"`
	Club             string    `json:"club,omitempty" yaml:"club"`
	Company          string    `json:"company,omitempty" yaml:"company"`
	Position         string    `json:"position,omitempty" yaml:"position"`
	CertificateName  string    `json:"certificate_name,omitempty" yaml:"certificate_name"`
	Presentation     string    `json:"presentation,omitempty" yaml:"presentation"`
	Bio              string    `json:"bio,omitempty" yaml:"bio"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// Competition is an event users register for
type Competition struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Type      string    `json:"type,omitempty" yaml:"type"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Registration links a user to a competition with a role
type Registration struct {
	ID            int64     `json:"id" yaml:"id"`
	UserID        int64     `json:"user_id" yaml:"user_id"`
	CompetitionID int64     `json:"competition_id" yaml:"competition_id"`
	Role          string    `json:"role" yaml:"role"`
	Status        string    `json:"status" yaml:"status"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}
