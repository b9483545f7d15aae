// Package prefs holds small per-device UI preferences.
package prefs

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// DefaultBannerCooldown is how long a dismissed app banner stays hidden.
const DefaultBannerCooldown = 24 * time.Hour

// Banner remembers when the app-install banner was last dismissed. The
// value is stored as Unix milliseconds.
type Banner struct {
	kv  storage.Store
	now func() time.Time
}

func NewBanner(kv storage.Store) *Banner {
	return &Banner{kv: kv, now: time.Now}
}

// Dismiss records the current time.
func (b *Banner) Dismiss(ctx context.Context) (time.Time, error) {
	at := b.now().UTC().Truncate(time.Millisecond)
	if err := storage.Set(ctx, b.kv, storage.KeyBannerDismissedAt, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// DismissedAt returns the last dismissal. Missing or unparsable values
// report false.
func (b *Banner) DismissedAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := b.kv.Get(ctx, storage.KeyBannerDismissedAt)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Visible reports whether the banner should show given cooldown.
func (b *Banner) Visible(ctx context.Context, cooldown time.Duration) (bool, error) {
	at, ok, err := b.DismissedAt(ctx)
	if err != nil || !ok {
		return true, err
	}
	return b.now().Sub(at) >= cooldown, nil
}
