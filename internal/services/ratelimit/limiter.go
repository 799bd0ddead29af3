// Package ratelimit implements per-user fixed-window rate limiting with an
// in-process memory tier in front of an optional persisted store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/faithtrack-bot-go/pkg/logger"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrEmptyUser     = errors.New("user id is required")
	// ErrRecordDenied is returned by RecordAction when the store failed and
	// the failure policy denies.
	ErrRecordDenied = errors.New("rate limit record rejected by failure policy")
)

// Limiter enforces fixed-window budgets per action type and user
type Limiter struct {
	enabled bool
	limits  map[models.ActionType]models.RateLimitConfig
	memory  *cache.Cache
	store   Store
	policy  *policy.Policy
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// mu serializes read-modify-write on memory entries
	mu sync.Mutex
}

// NewLimiter creates a limiter. store may be nil for a memory-only limiter.
func NewLimiter(
	cfg config.RateLimitConfig,
	store Store,
	pol *policy.Policy,
	logger *logrus.Logger,
	m *metrics.Metrics,
	now func() time.Time,
) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		enabled: cfg.Enabled,
		limits:  cfg.ActionLimits(),
		// Entries carry their own reset time; Sweep evicts them.
		memory:  cache.New(cache.NoExpiration, 0),
		store:   store,
		policy:  pol,
		logger:  logger,
		metrics: m,
		now:     now,
	}
}

// Limit returns the budget configured for action
func (l *Limiter) Limit(action models.ActionType) (models.RateLimitConfig, bool) {
	limit, ok := l.limits[normalizeAction(action)]
	return limit, ok
}

// normalizeAction folds action names the way the config loader folds its keys
func normalizeAction(action models.ActionType) models.ActionType {
	return models.ActionType(strings.ToLower(strings.TrimSpace(string(action))))
}

func (l *Limiter) limitFor(userID string, action models.ActionType, override *models.RateLimitConfig) (models.RateLimitConfig, error) {
	if strings.TrimSpace(userID) == "" {
		return models.RateLimitConfig{}, ErrEmptyUser
	}
	if override != nil && override.MaxRequests > 0 && override.Window > 0 {
		return *override, nil
	}
	limit, ok := l.limits[action]
	if !ok {
		return models.RateLimitConfig{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return limit, nil
}

// CheckRateLimit reports whether userID may perform action now without
// counting the attempt. override replaces the configured budget when set.
func (l *Limiter) CheckRateLimit(ctx context.Context, userID string, action models.ActionType, override *models.RateLimitConfig) (*models.RateLimitResult, error) {
	action = normalizeAction(action)
	limit, err := l.limitFor(userID, action, override)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !l.enabled {
		return unlimited(limit, now), nil
	}

	key := Key(action, userID)
	entry := l.memoryEntry(key, now)

	if entry == nil && l.store != nil {
		stored, err := l.timedGet(ctx, key, now)
		if err != nil {
			if !l.policy.Resolve(policy.RateLimitCheck, err) {
				return l.record(action, denied(limit, nil, now)), nil
			}
			result := unlimited(limit, now)
			result.FailedOpen = true
			return l.record(action, result), nil
		}
		if stored != nil {
			l.hydrate(stored)
			entry = stored
		}
	}

	return l.record(action, evaluate(limit, entry, now)), nil
}

// RecordAction counts one action in both tiers
func (l *Limiter) RecordAction(ctx context.Context, userID string, action models.ActionType) error {
	action = normalizeAction(action)
	limit, err := l.limitFor(userID, action, nil)
	if err != nil {
		return err
	}
	if !l.enabled {
		return nil
	}

	now := l.now()
	key := Key(action, userID)
	l.incrementMemory(key, limit, 0, now)

	if l.store == nil {
		return nil
	}
	stored, _, err := l.timedIncrement(ctx, key, limit.Window, 0, now)
	if err != nil {
		if !l.policy.Resolve(policy.RateLimitRecord, err) {
			return fmt.Errorf("%w: %v", ErrRecordDenied, err)
		}
		return nil
	}
	l.hydrate(stored)
	return nil
}

// Consume checks and counts in one step. With a store configured the
// compare-and-increment happens atomically in the store.
func (l *Limiter) Consume(ctx context.Context, userID string, action models.ActionType) (*models.RateLimitResult, error) {
	action = normalizeAction(action)
	limit, err := l.limitFor(userID, action, nil)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if !l.enabled {
		return unlimited(limit, now), nil
	}

	key := Key(action, userID)

	if l.store != nil {
		stored, incremented, err := l.timedIncrement(ctx, key, limit.Window, limit.MaxRequests, now)
		if err == nil {
			l.hydrate(stored)
			if !incremented {
				return l.record(action, denied(limit, stored, now)), nil
			}
			return l.record(action, evaluateConsumed(limit, stored)), nil
		}
		if !l.policy.Resolve(policy.RateLimitCheck, err) {
			return l.record(action, denied(limit, nil, now)), nil
		}
		// Fail open onto the memory tier so a single instance still limits.
		entry, incremented := l.incrementMemory(key, limit, limit.MaxRequests, now)
		result := evaluateConsumed(limit, entry)
		if !incremented {
			result = denied(limit, entry, now)
		}
		result.FailedOpen = true
		return l.record(action, result), nil
	}

	entry, incremented := l.incrementMemory(key, limit, limit.MaxRequests, now)
	if !incremented {
		return l.record(action, denied(limit, entry, now)), nil
	}
	return l.record(action, evaluateConsumed(limit, entry)), nil
}

// ResetRateLimit clears the window of userID for action in both tiers
func (l *Limiter) ResetRateLimit(ctx context.Context, userID string, action models.ActionType) error {
	action = normalizeAction(action)
	if _, err := l.limitFor(userID, action, nil); err != nil {
		return err
	}
	key := Key(action, userID)

	l.mu.Lock()
	l.memory.Delete(key)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to reset %s: %w", key, err)
		}
	}

	logger.WithUser(l.logger, userID, string(action)).Info("Rate limit reset")
	return nil
}

// Sweep evicts expired memory entries and returns how many were removed
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0

	l.mu.Lock()
	for key, item := range l.memory.Items() {
		entry := item.Object.(*models.RateLimitEntry)
		if entry.Expired(now) {
			l.memory.Delete(key)
			removed++
		}
	}
	remaining := l.memory.ItemCount()
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetMemoryEntries(remaining)
	}
	if removed > 0 {
		l.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": remaining,
		}).Debug("Swept expired rate limit entries")
	}
	return removed
}

// PurgeStore removes expired entries from a store that keeps them. Stores
// with native expiry are left alone.
func (l *Limiter) PurgeStore(ctx context.Context) error {
	purger, ok := l.store.(Purger)
	if !ok {
		return nil
	}
	return purger.PurgeExpired(ctx, l.now())
}

// GetStats returns store statistics, falling back to the memory tier
func (l *Limiter) GetStats(ctx context.Context) (*models.RateLimitStats, error) {
	now := l.now()
	if l.store != nil {
		stats, err := l.store.Stats(ctx, l.limits, now)
		if err == nil {
			return stats, nil
		}
		if !l.policy.Resolve(policy.Stats, err) {
			return nil, err
		}
	}
	return l.memoryStats(now), nil
}

func (l *Limiter) memoryStats(now time.Time) *models.RateLimitStats {
	stats := &models.RateLimitStats{KeysPerAction: make(map[string]int)}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, item := range l.memory.Items() {
		entry := item.Object.(*models.RateLimitEntry)
		if entry.Expired(now) {
			continue
		}
		action := ActionOf(key)
		stats.ActiveKeys++
		stats.KeysPerAction[string(action)]++
		if limit, ok := l.limits[action]; ok && entry.Count >= limit.MaxRequests {
			stats.LimitedKeys++
		}
	}
	return stats
}

// memoryEntry returns a copy of the live memory entry, deleting it when expired
func (l *Limiter) memoryEntry(key string, now time.Time) *models.RateLimitEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	val, found := l.memory.Get(key)
	if !found {
		return nil
	}
	entry := val.(*models.RateLimitEntry)
	if entry.Expired(now) {
		l.memory.Delete(key)
		return nil
	}
	cp := *entry
	return &cp
}

// incrementMemory bumps the memory counter, opening a window when none is
// live. With ceiling > 0 a counter already at the ceiling is left as is.
func (l *Limiter) incrementMemory(key string, limit models.RateLimitConfig, ceiling int, now time.Time) (*models.RateLimitEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entry *models.RateLimitEntry
	if val, found := l.memory.Get(key); found {
		entry = val.(*models.RateLimitEntry)
	}
	if entry == nil || entry.Expired(now) {
		entry = &models.RateLimitEntry{Key: key, ResetTime: now.Add(limit.Window)}
		l.memory.Set(key, entry, cache.NoExpiration)
	}
	if ceiling > 0 && entry.Count >= ceiling {
		cp := *entry
		return &cp, false
	}
	entry.Count++
	cp := *entry
	return &cp, true
}

// hydrate copies a store entry into memory unless memory already counts more
func (l *Limiter) hydrate(stored *models.RateLimitEntry) {
	if stored == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if val, found := l.memory.Get(stored.Key); found {
		current := val.(*models.RateLimitEntry)
		if current.ResetTime.Equal(stored.ResetTime) && current.Count >= stored.Count {
			return
		}
	}
	cp := *stored
	l.memory.Set(stored.Key, &cp, cache.NoExpiration)
}

func (l *Limiter) timedGet(ctx context.Context, key string, now time.Time) (*models.RateLimitEntry, error) {
	start := time.Now()
	entry, err := l.store.Get(ctx, key, now)
	if l.metrics != nil {
		l.metrics.RecordStoreOperation(l.store.Name(), "get", err, time.Since(start))
	}
	return entry, err
}

func (l *Limiter) timedIncrement(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (*models.RateLimitEntry, bool, error) {
	start := time.Now()
	entry, incremented, err := l.store.Increment(ctx, key, window, ceiling, now)
	if l.metrics != nil {
		l.metrics.RecordStoreOperation(l.store.Name(), "increment", err, time.Since(start))
	}
	return entry, incremented, err
}

func (l *Limiter) record(action models.ActionType, result *models.RateLimitResult) *models.RateLimitResult {
	if l.metrics != nil {
		l.metrics.RecordRateLimit(string(action), result.Allowed)
	}
	if !result.Allowed {
		l.logger.WithFields(logrus.Fields{
			"action":      string(action),
			"retry_after": result.RetryAfter,
		}).Warn("Rate limit exceeded")
	}
	return result
}

func unlimited(limit models.RateLimitConfig, now time.Time) *models.RateLimitResult {
	return &models.RateLimitResult{
		Allowed:   true,
		Remaining: limit.MaxRequests,
		ResetTime: now.Add(limit.Window),
	}
}

// evaluate judges a check that does not count: the next attempt is allowed
// while the counter is below the budget.
func evaluate(limit models.RateLimitConfig, entry *models.RateLimitEntry, now time.Time) *models.RateLimitResult {
	if entry == nil {
		return unlimited(limit, now)
	}
	if entry.Count >= limit.MaxRequests {
		return denied(limit, entry, now)
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Remaining: limit.MaxRequests - entry.Count,
		ResetTime: entry.ResetTime,
	}
}

// evaluateConsumed judges an attempt that has just been counted
func evaluateConsumed(limit models.RateLimitConfig, entry *models.RateLimitEntry) *models.RateLimitResult {
	remaining := limit.MaxRequests - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Remaining: remaining,
		ResetTime: entry.ResetTime,
	}
}

func denied(limit models.RateLimitConfig, entry *models.RateLimitEntry, now time.Time) *models.RateLimitResult {
	reset := now.Add(limit.Window)
	if entry != nil {
		reset = entry.ResetTime
	}
	retryAfter := reset.Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  reset,
		RetryAfter: retryAfter,
	}
}
