package moderation

import (
	"context"
	"fmt"
	"sync"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/supabase"
)

// LogStore persists the audit row written for every moderation call
type LogStore interface {
	Save(ctx context.Context, entry *models.ModerationLog) error
	Stats(ctx context.Context) (*models.ModerationStats, error)
	Name() string
}

const (
	moderationLogsTable = "moderation_logs"
	defaultLogCapacity  = 1000
)

// SupabaseLogStore writes to the moderation_logs table
type SupabaseLogStore struct {
	client *supabase.Client
}

// NewSupabaseLogStore creates a log store over the moderation_logs table
func NewSupabaseLogStore(client *supabase.Client) *SupabaseLogStore {
	return &SupabaseLogStore{client: client}
}

func (s *SupabaseLogStore) Name() string { return "supabase" }

func (s *SupabaseLogStore) Save(ctx context.Context, entry *models.ModerationLog) error {
	if err := s.client.From(moderationLogsTable).Insert(ctx, entry); err != nil {
		return fmt.Errorf("insert moderation log: %w", err)
	}
	return nil
}

// Stats aggregates server side through the get_moderation_stats RPC
func (s *SupabaseLogStore) Stats(ctx context.Context) (*models.ModerationStats, error) {
	var stats models.ModerationStats
	if err := s.client.RPC(ctx, "get_moderation_stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("get moderation stats: %w", err)
	}
	if stats.FlagCounts == nil {
		stats.FlagCounts = map[string]int{}
	}
	return &stats, nil
}

// MemoryLogStore keeps the most recent audit rows in a ring buffer
type MemoryLogStore struct {
	mu      sync.RWMutex
	entries []models.ModerationLog
	next    int
	full    bool
}

// NewMemoryLogStore creates a store holding up to capacity rows
func NewMemoryLogStore(capacity int) *MemoryLogStore {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &MemoryLogStore{entries: make([]models.ModerationLog, capacity)}
}

func (s *MemoryLogStore) Name() string { return "memory" }

func (s *MemoryLogStore) Save(_ context.Context, entry *models.ModerationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = *entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to n rows, newest first
func (s *MemoryLogStore) Recent(n int) []models.ModerationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.size()
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.ModerationLog, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

func (s *MemoryLogStore) Stats(_ context.Context) (*models.ModerationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.ModerationStats{FlagCounts: map[string]int{}}
	for i := 0; i < s.size(); i++ {
		entry := s.entries[i]
		stats.Total++
		if entry.IsApproved {
			stats.Approved++
		} else {
			stats.Rejected++
		}
		if entry.RequiresReview {
			stats.PendingReview++
		}
		for _, flag := range entry.Flags {
			stats.FlagCounts[flag]++
		}
	}
	return stats, nil
}

func (s *MemoryLogStore) size() int {
	if s.full {
		return len(s.entries)
	}
	return s.next
}
