package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/usncompetitions/notifier/internal/models"
)

const (
	keyPrefix    = "nk_"
	keyPrefixLen = len(keyPrefix) + 8
)

var ErrInvalidAPIKey = errors.New("invalid API key")

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create generates a key and stores its bcrypt hash. The plaintext key is
// only available in the returned result.
func (r *APIKeyRepository) Create(ctx context.Context, name, createdBy string) (*models.APIKeyCreateResult, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := keyPrefix + hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key: %w", err)
	}

	k := models.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: key[:keyPrefixLen],
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, created_by, created_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.CreatedBy, k.CreatedAt, k.Active,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &models.APIKeyCreateResult{APIKey: k, Key: key}, nil
}

// Authenticate resolves an active key and stamps its last use
func (r *APIKeyRepository) Authenticate(ctx context.Context, key string) (*models.APIKey, error) {
	if len(key) <= keyPrefixLen {
		return nil, ErrInvalidAPIKey
	}

	k, err := scanAPIKey(r.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, key_prefix, COALESCE(created_by, ''), created_at, last_used_at, active
		FROM api_keys WHERE key_prefix = ? AND active = 1`, key[:keyPrefixLen],
	))
	if err == sql.ErrNoRows {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(key)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	now := time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", now, k.ID); err != nil {
		return nil, err
	}
	k.LastUsedAt = &now

	return k, nil
}

// List returns all keys, newest first
func (r *APIKeyRepository) List(ctx context.Context) ([]models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, key_hash, key_prefix, COALESCE(created_by, ''), created_at, last_used_at, active
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Revoke deactivates a key
func (r *APIKeyRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE api_keys SET active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

func scanAPIKey(s scanner) (*models.APIKey, error) {
	k := &models.APIKey{}
	var lastUsedAt sql.NullTime
	if err := s.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedBy, &k.CreatedAt, &lastUsedAt, &k.Active); err != nil {
		return nil, err
	}
	k.LastUsedAt = nullTime(lastUsedAt)
	return k, nil
}
