package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/moderation"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	rulesKey = "dynamic_moderation_rules"
	// removedKey holds the IDs of deleted rules so built-in and configured
	// rules stay deleted across restarts
	removedKey = "dynamic_moderation_removed"
)

// RuleSet is the live rule table rules are replayed into
type RuleSet interface {
	AddRule(rule models.ModerationRule) (models.ModerationRule, error)
	RemoveRule(id string) error
}

// DynamicConfigService persists moderation rules added at runtime so they
// survive a restart
type DynamicConfigService struct {
	redis     *redis.Client
	logger    *logrus.Logger
	mu        sync.RWMutex
	listeners []func([]models.ModerationRule)
}

// NewDynamicConfigService creates a new dynamic config service
func NewDynamicConfigService(redisClient *redis.Client, logger *logrus.Logger) *DynamicConfigService {
	return &DynamicConfigService{
		redis:     redisClient,
		logger:    logger,
		listeners: make([]func([]models.ModerationRule), 0),
	}
}

// Load removes deleted rules from rules and replays stored ones into it.
// Rules that are already present or no longer compile are skipped.
func (s *DynamicConfigService) Load(ctx context.Context, rules RuleSet) (int, error) {
	removed, err := s.RemovedRules(ctx)
	if err != nil {
		return 0, err
	}
	stored, err := s.StoredRules(ctx)
	if err != nil {
		return 0, err
	}

	for _, id := range removed {
		if err := rules.RemoveRule(id); err != nil && !errors.Is(err, moderation.ErrRuleNotFound) {
			s.logger.WithError(err).WithField("rule_id", id).Warn("Failed to remove deleted moderation rule")
		}
	}

	loaded := 0
	for _, rule := range stored {
		if _, err := rules.AddRule(rule); err != nil {
			if !errors.Is(err, moderation.ErrDuplicateRule) {
				s.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Skipping stored moderation rule")
			}
			continue
		}
		loaded++
	}

	s.logger.WithFields(logrus.Fields{
		"rules":   loaded,
		"removed": len(removed),
	}).Info("Loaded dynamic moderation rules")
	return loaded, nil
}

// SaveRule stores rule, replacing any stored rule with the same ID
func (s *DynamicConfigService) SaveRule(ctx context.Context, rule models.ModerationRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	s.mu.Lock()
	rules, err := s.getRules(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	replaced := false
	for i := range rules {
		if rules[i].ID == rule.ID {
			rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		rules = append(rules, rule)
	}

	err = s.saveRules(ctx, rules)
	if err == nil {
		err = s.redis.SRem(ctx, removedKey, rule.ID).Err()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifyConfigChange(rules)
	s.logger.WithField("rule_id", rule.ID).Info("Stored moderation rule")
	return nil
}

// DeleteRule removes a stored rule and remembers id as deleted, so a rule
// from the static config or the built-in set is dropped again on Load.
func (s *DynamicConfigService) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	rules, err := s.getRules(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.redis.SAdd(ctx, removedKey, id).Err(); err != nil {
		s.mu.Unlock()
		return err
	}

	kept := rules[:0]
	for _, rule := range rules {
		if rule.ID != id {
			kept = append(kept, rule)
		}
	}
	if len(kept) == len(rules) {
		s.mu.Unlock()
		return nil
	}

	err = s.saveRules(ctx, kept)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notifyConfigChange(kept)
	return nil
}

// StoredRules returns the persisted rules
func (s *DynamicConfigService) StoredRules(ctx context.Context) ([]models.ModerationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRules(ctx)
}

// RemovedRules returns the IDs of deleted rules
func (s *DynamicConfigService) RemovedRules(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, removedKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// RegisterConfigChangeListener registers a callback for rule changes
func (s *DynamicConfigService) RegisterConfigChangeListener(listener func([]models.ModerationRule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Private methods

func (s *DynamicConfigService) getRules(ctx context.Context) ([]models.ModerationRule, error) {
	data, err := s.redis.Get(ctx, rulesKey).Result()
	if err == redis.Nil {
		return []models.ModerationRule{}, nil
	}
	if err != nil {
		return nil, err
	}

	var rules []models.ModerationRule
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *DynamicConfigService) saveRules(ctx context.Context, rules []models.ModerationRule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rulesKey, data, 0).Err()
}

func (s *DynamicConfigService) notifyConfigChange(rules []models.ModerationRule) {
	s.mu.RLock()
	listeners := make([]func([]models.ModerationRule), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		snapshot := make([]models.ModerationRule, len(rules))
		copy(snapshot, rules)
		listener(snapshot)
	}
}
