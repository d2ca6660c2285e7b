package models

import "strings"

// Recipient is one row of the users/registrations/competitions join.
// Nullable join columns are flattened to zero values.
type Recipient struct {
	UserID           int64  `json:"user_id"`
	TelegramID       int64  `json:"telegram_id"`
	TelegramUsername string `json:"telegram_username,omitempty"`
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Country          string `json:"country,omitempty"`
	City             string `json:"city,omitempty"`
	Club             string `json:"club,omitempty"`
	Company          string `json:"company,omitempty"`
	Position         string `json:"position,omitempty"`
	CertificateName  string `json:"certificate_name,omitempty"`
	Presentation     string `json:"presentation,omitempty"`
	Bio              string `json:"bio,omitempty"`
	RegistrationID   int64  `json:"registration_id,omitempty"`
	Role             string `json:"role,omitempty"`
	Status           string `json:"registration_status,omitempty"`
	CompetitionID    int64  `json:"competition_id,omitempty"`
	CompetitionName  string `json:"competition_name,omitempty"`
	CompetitionType  string `json:"competition_type,omitempty"`
}

// FullName joins first and last name
func (r *Recipient) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// TemplateVars returns the rendering context for this recipient
func (r *Recipient) TemplateVars() map[string]any {
	return map[string]any{
		"first_name":          r.FirstName,
		"last_name":           r.LastName,
		"telegram_username":   r.TelegramUsername,
		"email":               r.Email,
		"phone":               r.Phone,
		"country":             r.Country,
		"city":                r.City,
		"club":                r.Club,
		"company":             r.Company,
		"position":            r.Position,
		"certificate_name":    r.CertificateName,
		"presentation":        r.Presentation,
		"bio":                 r.Bio,
		"competition_name":    r.CompetitionName,
		"competition_type":    r.CompetitionType,
		"role":                r.Role,
		"registration_status": r.Status,
	}
}

// RecipientFilter selects recipients. Empty slices impose no constraint.
type RecipientFilter struct {
	EventIDs       []int64  `json:"competition_ids,omitempty"`
	Roles          []string `json:"roles,omitempty" validate:"omitempty,dive,oneof=player adviser viewer voter"`
	Statuses       []string `json:"statuses,omitempty" validate:"omitempty,dive,oneof=pending approved rejected"`
	Countries      []string `json:"countries,omitempty"`
	Cities         []string `json:"cities,omitempty"`
	RequireContact bool     `json:"has_email,omitempty"`
	Limit          int      `json:"limit,omitempty" validate:"gte=0"`
	Offset         int      `json:"offset,omitempty" validate:"gte=0"`
}

// CompetitionOption is a selectable event in the filter builder
type CompetitionOption struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AvailableFilters enumerates values present in the store
type AvailableFilters struct {
	Competitions []CompetitionOption `json:"competitions"`
	Roles        []string            `json:"roles"`
	Statuses     []string            `json:"statuses"`
	Countries    []string            `json:"countries"`
	Cities       []string            `json:"cities"`
}
