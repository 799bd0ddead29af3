// Package search queries community posts and profiles through Supabase RPCs.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/faithtrack-bot-go/internal/services/cache"
	"github.com/sirupsen/logrus"
)

const (
	maxLimit     = 50
	defaultLimit = 20

	nsSuggestions = "suggestions"
)

var ErrEmptyQuery = errors.New("search query is required")

// RPCClient calls a remote procedure and decodes its result
type RPCClient interface {
	RPC(ctx context.Context, fn string, params any, out any) error
}

// Service runs searches, degrading to empty results when the backend fails
type Service struct {
	client  RPCClient
	cache   cache.Service
	limit   int
	policy  *policy.Policy
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewService creates a search service. client may be nil when Supabase is
// not configured; every search then returns no results.
func NewService(client RPCClient, results cache.Service, limit int, pol *policy.Policy, logger *logrus.Logger, m *metrics.Metrics) *Service {
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	return &Service{
		client:  client,
		cache:   results,
		limit:   limit,
		policy:  pol,
		logger:  logger,
		metrics: m,
	}
}

// SearchPosts runs the search_posts RPC
func (s *Service) SearchPosts(ctx context.Context, query string, limit int) ([]models.SearchPost, error) {
	query, err := normalize(query)
	if err != nil {
		return nil, err
	}
	posts := []models.SearchPost{}
	if err := s.call(ctx, "search_posts", map[string]any{
		"search_query": query,
		"result_limit": s.clamp(limit),
	}, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// SearchUsers runs the search_users RPC
func (s *Service) SearchUsers(ctx context.Context, query string, limit int) ([]models.SearchUser, error) {
	query, err := normalize(query)
	if err != nil {
		return nil, err
	}
	users := []models.SearchUser{}
	if err := s.call(ctx, "search_users", map[string]any{
		"search_query": query,
		"result_limit": s.clamp(limit),
	}, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Suggestions returns completions for a partial query, cached per prefix
func (s *Service) Suggestions(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := normalize(prefix)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if val, found := s.cache.Get(ctx, nsSuggestions, prefix); found {
			return val.([]string), nil
		}
	}

	var rows []struct {
		Suggestion string `json:"suggestion"`
	}
	if err := s.call(ctx, "get_search_suggestions", map[string]any{"search_query": prefix}, &rows); err != nil {
		return nil, err
	}

	suggestions := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.Suggestion != "" {
			suggestions = append(suggestions, row.Suggestion)
		}
	}
	// failures are not cached, so an outage does not pin empty results
	if s.cache != nil && len(rows) > 0 {
		s.cache.Set(ctx, nsSuggestions, prefix, suggestions)
	}
	return suggestions, nil
}

// ClearCache drops cached suggestions
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

// call runs fn and leaves out untouched when the failure policy allows
// degrading to an empty result
func (s *Service) call(ctx context.Context, fn string, params map[string]any, out any) error {
	if s.client == nil {
		return nil
	}

	start := time.Now()
	err := s.client.RPC(ctx, fn, params, out)
	if s.metrics != nil {
		s.metrics.RecordStoreOperation("supabase", fn, err, time.Since(start))
	}
	if err == nil {
		return nil
	}
	if s.policy.Resolve(policy.Search, err) {
		return nil
	}
	return fmt.Errorf("%s: %w", fn, err)
}

func (s *Service) clamp(limit int) int {
	if limit <= 0 {
		return s.limit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func normalize(query string) (string, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query, nil
}
