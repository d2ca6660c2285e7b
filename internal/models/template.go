package models

import "time"

// MessageTemplate is a reusable broadcast message definition
type MessageTemplate struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Subject      string            `json:"subject"`
	TelegramBody string            `json:"telegram_body"`
	EmailBody    string            `json:"email_body"`
	Variables    map[string]string `json:"available_variables,omitempty"` // name -> description
	IsActive     bool              `json:"is_active"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BodyFor returns the body variant used by the given channel.
// An empty variant falls back to the other one.
func (t *MessageTemplate) BodyFor(channel string) string {
	switch channel {
	case ChannelEmail:
		if t.EmailBody != "" {
			return t.EmailBody
		}
		return t.TelegramBody
	default:
		if t.TelegramBody != "" {
			return t.TelegramBody
		}
		return t.EmailBody
	}
}

// TemplateListFilter for listing templates
type TemplateListFilter struct {
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}
