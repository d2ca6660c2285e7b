package models

import "time"

// DeliveryStatus is the per-channel state of a ledger row
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBlocked   DeliveryStatus = "blocked"
	// DeliverySimulated is reported by dry runs and never persisted
	DeliverySimulated DeliveryStatus = "simulated"
)

// IsSuccess reports whether the status counts as a successful delivery
func (s DeliveryStatus) IsSuccess() bool {
	return s == DeliverySent || s == DeliveryDelivered
}

// Icon returns a short marker used in ledger listings
func (s DeliveryStatus) Icon() string {
	switch s {
	case DeliverySent:
		return "✅"
	case DeliveryDelivered:
		return "📬"
	case DeliveryFailed:
		return "❌"
	case DeliveryBlocked:
		return "🚫"
	case DeliveryPending:
		return "⏳"
	default:
		return "-"
	}
}

// BroadcastRecipient is the per-recipient delivery ledger entry
type BroadcastRecipient struct {
	ID                string         `json:"id"`
	BroadcastID       string         `json:"broadcast_id"`
	UserID            int64          `json:"user_id"`
	TelegramID        int64          `json:"telegram_id,omitempty"`
	TelegramStatus    DeliveryStatus `json:"telegram_status"`
	TelegramSentAt    *time.Time     `json:"telegram_sent_at,omitempty"`
	TelegramError     string         `json:"telegram_error,omitempty"`
	TelegramMessageID string         `json:"telegram_message_id,omitempty"`
	Email             string         `json:"email,omitempty"`
	EmailStatus       DeliveryStatus `json:"email_status"`
	EmailSentAt       *time.Time     `json:"email_sent_at,omitempty"`
	EmailError        string         `json:"email_error,omitempty"`
	RenderedSubject   string         `json:"rendered_subject,omitempty"`
	RenderedBody      string         `json:"rendered_body,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// LedgerFilter for listing ledger rows of one broadcast
type LedgerFilter struct {
	BroadcastID    string
	TelegramStatus DeliveryStatus
	EmailStatus    DeliveryStatus
	Limit          int
	Offset         int
}

// LedgerStats aggregates ledger rows of one broadcast
type LedgerStats struct {
	Total           int `json:"total"`
	TelegramSent    int `json:"telegram_sent"`
	TelegramFailed  int `json:"telegram_failed"`
	TelegramBlocked int `json:"telegram_blocked"`
	TelegramPending int `json:"telegram_pending"`
	EmailSent       int `json:"email_sent"`
	EmailFailed     int `json:"email_failed"`
	EmailBlocked    int `json:"email_blocked"`
	EmailPending    int `json:"email_pending"`
}
