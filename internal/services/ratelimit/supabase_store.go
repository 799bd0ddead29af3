package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/supabase"
)

var _ Store = (*SupabaseStore)(nil)

const rateLimitsTable = "rate_limits"

type rateLimitRow struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// SupabaseStore keeps counters in the rate_limits table.
//
// Increment is a read followed by an upsert, so concurrent increments of the
// same key from different instances can be lost. The Redis store is the
// atomic choice.
type SupabaseStore struct {
	client *supabase.Client
}

// NewSupabaseStore creates a store over the rate_limits table
func NewSupabaseStore(client *supabase.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

func (s *SupabaseStore) Name() string { return "supabase" }

func (s *SupabaseStore) Get(ctx context.Context, key string, now time.Time) (*models.RateLimitEntry, error) {
	var rows []rateLimitRow
	err := s.client.From(rateLimitsTable).
		Select("key,count,reset_time").
		Eq("key", key).
		Limit(1).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("select rate limit %s: %w", key, err)
	}
	if len(rows) == 0 || !now.Before(rows[0].ResetTime) {
		return nil, nil
	}
	return &models.RateLimitEntry{Key: key, Count: rows[0].Count, ResetTime: rows[0].ResetTime}, nil
}

func (s *SupabaseStore) Increment(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (*models.RateLimitEntry, bool, error) {
	entry, err := s.Get(ctx, key, now)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		entry = &models.RateLimitEntry{Key: key, ResetTime: now.Add(window)}
	}
	if ceiling > 0 && entry.Count >= ceiling {
		return entry, false, nil
	}
	entry.Count++

	row := rateLimitRow{Key: key, Count: entry.Count, ResetTime: entry.ResetTime.UTC()}
	if err := s.client.From(rateLimitsTable).OnConflict("key").Upsert(ctx, row); err != nil {
		return nil, false, fmt.Errorf("upsert rate limit %s: %w", key, err)
	}
	return entry, true, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	if err := s.client.From(rateLimitsTable).Eq("key", key).Delete(ctx); err != nil {
		return fmt.Errorf("delete rate limit %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose window closed before now
func (s *SupabaseStore) PurgeExpired(ctx context.Context, now time.Time) error {
	cutoff := now.UTC().Format(time.RFC3339)
	if err := s.client.From(rateLimitsTable).Lt("reset_time", cutoff).Delete(ctx); err != nil {
		return fmt.Errorf("purge rate limits: %w", err)
	}
	return nil
}

// Stats calls the get_rate_limit_stats RPC
func (s *SupabaseStore) Stats(ctx context.Context, _ map[models.ActionType]models.RateLimitConfig, _ time.Time) (*models.RateLimitStats, error) {
	var stats models.RateLimitStats
	if err := s.client.RPC(ctx, "get_rate_limit_stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get_rate_limit_stats: %w", err)
	}
	if stats.KeysPerAction == nil {
		stats.KeysPerAction = make(map[string]int)
	}
	return &stats, nil
}
