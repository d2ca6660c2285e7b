package models

import "time"

// APIKey represents an admin API key
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`          // bcrypt hash, never expose
	KeyPrefix  string     `json:"key_prefix"` // for lookup and display
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Active     bool       `json:"active"`
}

// APIKeyCreateResult returned when creating a new key
// Contains the full key which is shown only once
type APIKeyCreateResult struct {
	APIKey
	Key string `json:"key"`
}
