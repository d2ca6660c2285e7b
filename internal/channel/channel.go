// Package channel implements the delivery channels used by broadcasts.
package channel

import (
	"context"
	"time"

	"github.com/usncompetitions/notifier/internal/models"
)

// Channel is a pluggable delivery mechanism.
// Send never returns an error for expected delivery failures; they are
// reported through the DeliveryResult.
type Channel interface {
	Name() string
	Send(ctx context.Context, r models.Recipient, subject, body string) *DeliveryResult
	ValidateRecipient(r models.Recipient) bool
	ValidateConfiguration() bool
	TestConnection(ctx context.Context) bool
}

// DeliveryResult is the outcome of one send attempt
type DeliveryResult struct {
	Success   bool                  `json:"success"`
	Status    models.DeliveryStatus `json:"status"`
	MessageID string                `json:"message_id,omitempty"`
	Error     string                `json:"error,omitempty"`
	SentAt    *time.Time            `json:"sent_at,omitempty"`
}

func sent(messageID string) *DeliveryResult {
	now := time.Now()
	return &DeliveryResult{
		Success:   true,
		Status:    models.DeliverySent,
		MessageID: messageID,
		SentAt:    &now,
	}
}

func failure(status models.DeliveryStatus, msg string) *DeliveryResult {
	return &DeliveryResult{Status: status, Error: msg}
}

// Registry holds the configured channels by name
type Registry map[string]Channel

// Register adds c under its name
func (r Registry) Register(c Channel) {
	r[c.Name()] = c
}
