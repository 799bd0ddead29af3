// Package moderation screens user content with a keyword/regex rule set and
// spam heuristics, and records an audit row for every verdict.
package moderation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/faithtrack-bot-go/pkg/markdown"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultCategory      = "default"
	defaultMaxLength     = 5000
	defaultThreshold     = 0.7
	contentPreviewLength = 100
	auditTimeout         = 5 * time.Second
)

// DefaultMaxLengths are the per-category content limits in characters
func DefaultMaxLengths() map[string]int {
	return map[string]int{
		defaultCategory:  defaultMaxLength,
		"post":           defaultMaxLength,
		"comment":        1000,
		"prayer_request": 2000,
		"bio":            500,
	}
}

// Moderator evaluates content against rules and heuristics
type Moderator struct {
	enabled    bool
	threshold  float64
	maxLengths map[string]int

	// rules is replaced, never mutated in place, so readers can iterate a
	// snapshot without holding the lock
	mu    sync.RWMutex
	rules []*compiledRule

	heuristics []heuristic
	logs       LogStore
	policy     *policy.Policy
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewModerator loads the default rules followed by the configured ones.
// logs may be nil to skip auditing.
func NewModerator(
	cfg config.ModerationConfig,
	logs LogStore,
	pol *policy.Policy,
	logger *logrus.Logger,
	m *metrics.Metrics,
	now func() time.Time,
) (*Moderator, error) {
	if now == nil {
		now = time.Now
	}
	threshold := cfg.ReviewThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	maxLengths := DefaultMaxLengths()
	for category, limit := range cfg.MaxLength {
		if limit > 0 {
			maxLengths[strings.ToLower(category)] = limit
		}
	}

	mod := &Moderator{
		enabled:    cfg.Enabled,
		threshold:  threshold,
		maxLengths: maxLengths,
		heuristics: defaultHeuristics(),
		logs:       logs,
		policy:     pol,
		logger:     logger,
		metrics:    m,
		now:        now,
	}

	for _, rule := range append(DefaultRules(), cfg.Rules...) {
		if _, err := mod.AddRule(rule); err != nil {
			return nil, fmt.Errorf("load rule %q: %w", rule.Name, err)
		}
	}
	return mod, nil
}

// ModerateContent returns the verdict for content and writes the audit row.
// It never returns nil: evaluation failures resolve through the failure
// policy and are flagged moderation_failed for manual review.
func (m *Moderator) ModerateContent(ctx context.Context, content, authorID, category string) *models.ModerationResult {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		category = defaultCategory
	}

	if !m.enabled {
		return &models.ModerationResult{IsApproved: true, Confidence: 1, Flags: []string{}}
	}

	result, err := m.evaluate(ctx, content, category)
	if err != nil {
		result = m.failed(err)
	}

	if m.metrics != nil {
		m.metrics.RecordModeration(category, result.IsApproved, result.RequiresReview, result.Flags)
	}
	m.logger.WithFields(logrus.Fields{
		"author_id":       authorID,
		"category":        category,
		"approved":        result.IsApproved,
		"confidence":      result.Confidence,
		"flags":           result.Flags,
		"requires_review": result.RequiresReview,
	}).Debug("Content moderated")

	m.audit(ctx, content, authorID, category, result)
	return result
}

func (m *Moderator) evaluate(ctx context.Context, content, category string) (result *models.ModerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("moderation panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(content) == "" {
		return &models.ModerationResult{
			Reason:     "Content cannot be empty",
			Confidence: 1,
			Flags:      []string{FlagEmptyContent},
		}, nil
	}
	if limit := m.maxLength(category); utf8.RuneCountInString(content) > limit {
		return &models.ModerationResult{
			Reason:     fmt.Sprintf("Content exceeds the %d character limit", limit),
			Confidence: 1,
			Flags:      []string{FlagTooLong},
		}, nil
	}

	result = &models.ModerationResult{IsApproved: true, Confidence: 1, Flags: []string{}}
	seen := make(map[string]bool)
	raise := func(flag string, confidence float64) {
		if !seen[flag] {
			seen[flag] = true
			result.Flags = append(result.Flags, flag)
		}
		result.Confidence = math.Min(result.Confidence, confidence)
	}

	forceReview := false
	for _, cr := range m.snapshot() {
		// allow rules document accepted content and change nothing
		if cr.rule.Action == models.RuleAllow || !cr.re.MatchString(content) {
			continue
		}
		raise(cr.rule.Category, severityConfidence[cr.rule.Severity])
		if cr.rule.Action == models.RuleBlock && result.IsApproved {
			result.IsApproved = false
			result.Reason = fmt.Sprintf("Content violates the %s rule", cr.rule.Name)
		}
		if cr.rule.ForceReview {
			forceReview = true
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, detect := range m.heuristics {
		if f := detect(content); f != nil {
			raise(f.flag, f.confidence)
		}
	}

	result.RequiresReview = forceReview || result.Confidence < m.threshold
	if result.IsApproved && result.RequiresReview {
		result.Reason = "Queued for manual review"
	}
	return result, nil
}

func (m *Moderator) failed(err error) *models.ModerationResult {
	if m.policy.Resolve(policy.Moderation, err) {
		return &models.ModerationResult{
			IsApproved:     true,
			Reason:         "Moderation unavailable, queued for manual review",
			Flags:          []string{FlagModerationFailed},
			RequiresReview: true,
		}
	}
	return &models.ModerationResult{
		Reason:         "Moderation unavailable",
		Flags:          []string{FlagModerationFailed},
		RequiresReview: true,
	}
}

func (m *Moderator) audit(ctx context.Context, content, authorID, category string, result *models.ModerationResult) {
	if m.logs == nil {
		return
	}

	entry := &models.ModerationLog{
		ID:               uuid.NewString(),
		AuthorID:         authorID,
		Category:         category,
		ContentPreview:   markdown.Preview(content, contentPreviewLength),
		IsApproved:       result.IsApproved,
		ModerationReason: result.Reason,
		ConfidenceScore:  result.Confidence,
		Flags:            result.Flags,
		RequiresReview:   result.RequiresReview,
		CreatedAt:        m.now().UTC(),
	}

	// the verdict is already decided; a cancelled request still gets its row
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	start := time.Now()
	err := m.logs.Save(saveCtx, entry)
	if m.metrics != nil {
		m.metrics.RecordStoreOperation(m.logs.Name(), "moderation_log", err, time.Since(start))
	}
	if err != nil {
		m.policy.Resolve(policy.ModerationAudit, err)
	}
}

func (m *Moderator) maxLength(category string) int {
	if limit, ok := m.maxLengths[category]; ok {
		return limit
	}
	return m.maxLengths[defaultCategory]
}

func (m *Moderator) snapshot() []*compiledRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// AddRule compiles and appends a rule, assigning an ID when it has none
func (m *Moderator) AddRule(rule models.ModerationRule) (models.ModerationRule, error) {
	cr, err := compileRule(rule)
	if err != nil {
		return models.ModerationRule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.rules {
		if existing.rule.ID == cr.rule.ID {
			return models.ModerationRule{}, fmt.Errorf("%w: %s", ErrDuplicateRule, cr.rule.ID)
		}
	}
	rules := make([]*compiledRule, len(m.rules), len(m.rules)+1)
	copy(rules, m.rules)
	m.rules = append(rules, cr)
	return cr.rule, nil
}

// RemoveRule deletes the rule with id
func (m *Moderator) RemoveRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.rules {
		if existing.rule.ID != id {
			continue
		}
		rules := make([]*compiledRule, 0, len(m.rules)-1)
		rules = append(rules, m.rules[:i]...)
		m.rules = append(rules, m.rules[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Rules returns the active rules in evaluation order
func (m *Moderator) Rules() []models.ModerationRule {
	rules := m.snapshot()
	out := make([]models.ModerationRule, 0, len(rules))
	for _, cr := range rules {
		out = append(out, cr.rule)
	}
	return out
}

// GetStats aggregates the audit log
func (m *Moderator) GetStats(ctx context.Context) (*models.ModerationStats, error) {
	empty := &models.ModerationStats{FlagCounts: map[string]int{}}
	if m.logs == nil {
		return empty, nil
	}
	stats, err := m.logs.Stats(ctx)
	if err != nil {
		if m.policy.Resolve(policy.Stats, err) {
			return empty, nil
		}
		return nil, err
	}
	return stats, nil
}
