package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/faithtrack-bot-go/internal/models"
)

// Store is the persisted tier shared between instances
type Store interface {
	// Get returns the live entry for key, or nil when absent or expired.
	Get(ctx context.Context, key string, now time.Time) (*models.RateLimitEntry, error)
	// Increment adds one to key's counter, opening a new window when none is
	// live. When ceiling > 0 and the counter has already reached it, the
	// entry is returned unchanged and incremented is false.
	Increment(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (entry *models.RateLimitEntry, incremented bool, err error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Stats summarizes live entries.
	Stats(ctx context.Context, limits map[models.ActionType]models.RateLimitConfig, now time.Time) (*models.RateLimitStats, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Purger is implemented by stores that do not expire entries on their own
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) error
}

// Key builds the composite key of an action and a user
func Key(action models.ActionType, userID string) string {
	return fmt.Sprintf("%s:%s", action, userID)
}

// ActionOf extracts the action type from a composite key
func ActionOf(key string) models.ActionType {
	action, _, _ := strings.Cut(key, ":")
	return models.ActionType(action)
}
