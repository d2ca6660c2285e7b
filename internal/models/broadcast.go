package models

import "time"

// BroadcastStatus is the lifecycle state of a broadcast
type BroadcastStatus string

const (
	BroadcastDraft      BroadcastStatus = "draft"
	BroadcastInProgress BroadcastStatus = "in_progress"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastFailed     BroadcastStatus = "failed"
)

// Channel names
const (
	ChannelTelegram = "telegram"
	ChannelEmail    = "email"
)

// Broadcast is one campaign execution unit
type Broadcast struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	TemplateID      string          `json:"template_id"`
	Filters         RecipientFilter `json:"filters"`
	SendTelegram    bool            `json:"send_telegram"`
	SendEmail       bool            `json:"send_email"`
	Status          BroadcastStatus `json:"status"`
	TotalRecipients int             `json:"total_recipients"`
	SentCount       int             `json:"sent_count"`
	FailedCount     int             `json:"failed_count"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsEditable reports whether filters, template and channel toggles may change
func (b *Broadcast) IsEditable() bool {
	return b.Status == BroadcastDraft
}

// EnabledChannels returns the channel names toggled on, chat first
func (b *Broadcast) EnabledChannels() []string {
	var channels []string
	if b.SendTelegram {
		channels = append(channels, ChannelTelegram)
	}
	if b.SendEmail {
		channels = append(channels, ChannelEmail)
	}
	return channels
}

// BroadcastListFilter for listing broadcasts
type BroadcastListFilter struct {
	Status BroadcastStatus
	Search string
	Limit  int
	Offset int
}

// ChannelOutcome is the result of one channel attempt for one recipient
type ChannelOutcome struct {
	Status    DeliveryStatus `json:"status"`
	MessageID string         `json:"message_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RecipientResult is the per-recipient part of an execution summary
type RecipientResult struct {
	UserID   int64                     `json:"user_id"`
	Name     string                    `json:"name"`
	Success  bool                      `json:"success"`
	Channels map[string]ChannelOutcome `json:"channels"`
	Error    string                    `json:"error,omitempty"`
}

// ExecutionSummary is returned by a broadcast run
type ExecutionSummary struct {
	BroadcastID     string            `json:"broadcast_id"`
	DryRun          bool              `json:"dry_run"`
	TotalRecipients int               `json:"total_recipients"`
	Sent            int               `json:"sent"`
	Failed          int               `json:"failed"`
	Note            string            `json:"note,omitempty"`
	Results         []RecipientResult `json:"results"`
}

// PreviewSample is one rendered sample in a broadcast preview
type PreviewSample struct {
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	Subject      string `json:"subject"`
	TelegramBody string `json:"telegram_body,omitempty"`
	EmailBody    string `json:"email_body,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BroadcastPreview is the read-only operator preview of a broadcast
type BroadcastPreview struct {
	BroadcastID     string          `json:"broadcast_id"`
	Name            string          `json:"name"`
	TemplateName    string          `json:"template_name"`
	TotalRecipients int             `json:"total_recipients"`
	Channels        []string        `json:"channels"`
	Variables       []string        `json:"variables"`
	Samples         []PreviewSample `json:"samples"`
	Errors          []string        `json:"errors,omitempty"`
}
