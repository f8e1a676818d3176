// Package credstore persists the session's tokens in durable key/value
// storage so a restarted console can resume without logging in again.
package credstore

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("credstore: not found")

// Fixed keys for the two persisted tokens.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Store is a minimal durable key/value store. Drivers live under drivers/
// (sqlite, redis) and memory/.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or replaces the value for key.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases any underlying resources.
	Close() error
}

// Tokens is the persisted credential pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// LoadTokens reads both tokens. Absent keys come back as empty strings.
func LoadTokens(ctx context.Context, s Store) (Tokens, error) {
	var t Tokens
	var err error

	if t.AccessToken, err = getOptional(ctx, s, KeyAccessToken); err != nil {
		return Tokens{}, err
	}
	if t.RefreshToken, err = getOptional(ctx, s, KeyRefreshToken); err != nil {
		return Tokens{}, err
	}
	return t, nil
}

// SaveTokens writes both tokens. An empty refresh token leaves the stored
// one untouched, since some servers only rotate the access token.
func SaveTokens(ctx context.Context, s Store, t Tokens) error {
	if err := s.Set(ctx, KeyAccessToken, t.AccessToken); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if t.RefreshToken == "" {
		return nil
	}
	if err := s.Set(ctx, KeyRefreshToken, t.RefreshToken); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// ClearTokens removes both tokens.
func ClearTokens(ctx context.Context, s Store) error {
	return s.Delete(ctx, KeyAccessToken, KeyRefreshToken)
}

func getOptional(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", key, err)
	}
	return v, nil
}
