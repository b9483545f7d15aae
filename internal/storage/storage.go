// Package storage is the durable client-local key-value store the session
// core persists into. Every backend applies a Mutation atomically so a
// session token is never written without its user record.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Keys persisted by the session core.
const (
	KeyToken             = "auth_token"
	KeyUser              = "auth_user"
	KeyPendingEmail      = "pending_verify_email"
	KeyBeneficiaries     = "beneficiaries"
	KeyBannerDismissedAt = "app_banner_dismissed_at"
)

// SessionKeys are cleared together on logout and forced invalidation.
// Beneficiaries and the banner preference belong to the device, not the login.
var SessionKeys = []string{KeyToken, KeyUser, KeyPendingEmail}

// Mutation groups writes and deletes that must land together.
type Mutation struct {
	Set    map[string]string
	Delete []string
}

// Empty reports whether the mutation has nothing to apply.
func (m Mutation) Empty() bool {
	return len(m.Set) == 0 && len(m.Delete) == 0
}

// Store persists string values by key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Apply(ctx context.Context, m Mutation) error
	Ping(ctx context.Context) error
}

// Set writes a single key.
func Set(ctx context.Context, s Store, key, value string) error {
	return s.Apply(ctx, Mutation{Set: map[string]string{key: value}})
}

// Delete removes the given keys. Missing keys are not an error.
func Delete(ctx context.Context, s Store, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.Apply(ctx, Mutation{Delete: keys})
}

// GetJSON decodes the value at key into dst. It reports false when the key
// is absent or holds a value that does not decode; callers treat both as
// absent. The error is only set for backend failures.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, nil
	}
	return true, nil
}
