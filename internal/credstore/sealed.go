package credstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/oltmanager/pkg/cryptox"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
)

// Sealed encrypts values before handing them to the wrapped Store. Values it
// cannot open (written unsealed, or under another master key) read as
// ErrNotFound so callers fall back to a fresh login.
type Sealed struct {
	Store  Store
	Sealer *cryptox.Sealer
	Logger *slog.Logger
}

var _ Store = (*Sealed)(nil)

// NewSealed wraps s so values are sealed at rest.
func NewSealed(s Store, sealer *cryptox.Sealer) *Sealed {
	return &Sealed{Store: s, Sealer: sealer}
}

func (s *Sealed) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}

	sealed, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		slogx.OrDefault(s.Logger).Warn("ignoring unsealed credential", "key", key)
		return "", ErrNotFound
	}

	plain, err := s.Sealer.Open(sealed)
	if err != nil {
		slogx.OrDefault(s.Logger).Warn("ignoring credential sealed under another key", "key", key, "error", err)
		return "", ErrNotFound
	}
	return string(plain), nil
}

func (s *Sealed) Set(ctx context.Context, key, value string) error {
	sealed, err := s.Sealer.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("credstore: seal %s: %w", key, err)
	}
	return s.Store.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (s *Sealed) Delete(ctx context.Context, keys ...string) error {
	return s.Store.Delete(ctx, keys...)
}

func (s *Sealed) Close() error { return s.Store.Close() }
