package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.June, 23, 10, 15, 30, 0, time.UTC)

func nullLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func newTestModerator(t *testing.T, logs LogStore, overrides map[string]string) *Moderator {
	t.Helper()
	pol, err := policy.New(overrides, nullLogger(), metrics.NewMetrics())
	require.NoError(t, err)

	mod, err := NewModerator(
		config.ModerationConfig{Enabled: true, ReviewThreshold: 0.7},
		logs, pol, nullLogger(), metrics.NewMetrics(),
		func() time.Time { return fixedNow },
	)
	require.NoError(t, err)
	return mod
}

type failingLogStore struct{}

func (failingLogStore) Name() string { return "failing" }
func (failingLogStore) Save(context.Context, *models.ModerationLog) error {
	return errors.New("connection refused")
}
func (failingLogStore) Stats(context.Context) (*models.ModerationStats, error) {
	return nil, errors.New("connection refused")
}

func TestModerateContent(t *testing.T) {
	tt := []struct {
		desc         string
		content      string
		category     string
		wantApproved bool
		wantReview   bool
		wantFlags    []string
		maxConf      float64
	}{
		{
			desc:         "clean content",
			content:      "Grateful for answered prayer this week.",
			wantApproved: true,
			wantFlags:    []string{},
			maxConf:      1,
		},
		{
			desc:         "promotional spam",
			content:      "BUY NOW http://a http://b http://c",
			category:     "general",
			wantApproved: true,
			wantReview:   true,
			wantFlags:    []string{FlagSpamLinks, FlagSuspiciousPatterns},
			maxConf:      0.6,
		},
		{
			// blocked content is still queued so moderators see it
			desc:       "high severity block",
			content:    "you absolute bastard",
			wantReview: true,
			wantFlags:  []string{"profanity"},
			maxConf:    0.5,
		},
		{
			desc:       "block wins over an allow rule",
			content:    "John 3:16 is wasted on a bastard like you",
			wantReview: true,
			wantFlags:  []string{"profanity"},
			maxConf:    0.5,
		},
		{
			desc:         "low severity flag stays approved",
			content:      "Damn traffic made me late to service",
			wantApproved: true,
			wantFlags:    []string{"mild_language"},
			maxConf:      0.9,
		},
		{
			desc:         "keyword matches whole words only",
			content:      "A sermon about damnation and grace",
			wantApproved: true,
			wantFlags:    []string{},
			maxConf:      1,
		},
		{
			desc:         "forced review at the threshold",
			content:      "Please send me money through a wire transfer",
			wantApproved: true,
			wantReview:   true,
			wantFlags:    []string{"scam"},
			maxConf:      0.7,
		},
		{
			desc:         "worst match caps confidence",
			content:      "Damn, some days I want to die",
			wantApproved: true,
			wantReview:   true,
			wantFlags:    []string{"self_harm", "mild_language"},
			maxConf:      0.5,
		},
		{
			desc:         "repetitive content",
			content:      "amen amen amen amen amen and praise the lord today",
			wantApproved: true,
			wantReview:   true,
			wantFlags:    []string{FlagRepetitiveContent},
			maxConf:      0.6,
		},
		{
			desc:         "shouting",
			content:      "PLEASE PRAY FOR MY FAMILY TONIGHT",
			wantApproved: true,
			wantFlags:    []string{FlagExcessiveCaps},
			maxConf:      0.8,
		},
		{
			desc:      "empty content",
			content:   "   \n",
			wantFlags: []string{FlagEmptyContent},
			maxConf:   1,
		},
		{
			desc:      "too long for category",
			content:   strings.Repeat("a", 501),
			category:  "bio",
			wantFlags: []string{FlagTooLong},
			maxConf:   1,
		},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			mod := newTestModerator(t, nil, nil)
			res := mod.ModerateContent(context.Background(), ts.content, "u1", ts.category)

			require.NotNil(t, res)
			assert.Equal(t, ts.wantApproved, res.IsApproved)
			assert.Equal(t, ts.wantReview, res.RequiresReview)
			assert.ElementsMatch(t, ts.wantFlags, res.Flags)
			assert.LessOrEqual(t, res.Confidence, ts.maxConf)
			if !res.IsApproved {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestModerateContent_ReasonFromFirstBlockingRule(t *testing.T) {
	mod := newTestModerator(t, nil, nil)
	res := mod.ModerateContent(context.Background(), "bastard, go back to your country", "u1", "post")

	assert.False(t, res.IsApproved)
	assert.Equal(t, "Content violates the Profanity rule", res.Reason)
	assert.ElementsMatch(t, []string{"profanity", "hate_speech"}, res.Flags)
}

func TestModerateContent_ConfidenceNeverRises(t *testing.T) {
	mod := newTestModerator(t, nil, nil)
	for i := 0; i < 9; i++ {
		_, err := mod.AddRule(models.ModerationRule{
			Name:     "low " + string(rune('a'+i)),
			Pattern:  "grace",
			Action:   models.RuleFlag,
			Severity: models.SeverityLow,
		})
		require.NoError(t, err)
	}

	res := mod.ModerateContent(context.Background(), "grace for those who want to die inside", "u1", "")
	assert.Equal(t, 0.5, res.Confidence)
}

func TestModerateContent_FailsOpenOnPanic(t *testing.T) {
	logs := NewMemoryLogStore(10)
	mod := newTestModerator(t, logs, nil)
	mod.heuristics = append(mod.heuristics, func(string) *finding { panic("boom") })

	res := mod.ModerateContent(context.Background(), "hello church", "u1", "post")
	assert.True(t, res.IsApproved)
	assert.True(t, res.RequiresReview)
	assert.Equal(t, []string{FlagModerationFailed}, res.Flags)

	rows := logs.Recent(1)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{FlagModerationFailed}, rows[0].Flags)
}

func TestModerateContent_CancelledContext(t *testing.T) {
	mod := newTestModerator(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := mod.ModerateContent(ctx, "hello church", "u1", "post")
	assert.True(t, res.IsApproved)
	assert.True(t, res.HasFlag(FlagModerationFailed))
}

func TestModerateContent_DenyPolicy(t *testing.T) {
	mod := newTestModerator(t, nil, map[string]string{string(policy.Moderation): "deny"})
	mod.heuristics = []heuristic{func(string) *finding { panic("boom") }}

	res := mod.ModerateContent(context.Background(), "hello church", "u1", "post")
	assert.False(t, res.IsApproved)
	assert.True(t, res.RequiresReview)
}

func TestModerateContent_AuditFailureKeepsVerdict(t *testing.T) {
	mod := newTestModerator(t, failingLogStore{}, nil)

	res := mod.ModerateContent(context.Background(), "you absolute bastard", "u1", "post")
	assert.False(t, res.IsApproved)

	stats, err := mod.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestModerateContent_Disabled(t *testing.T) {
	mod, err := NewModerator(config.ModerationConfig{Enabled: false}, nil, nil, nullLogger(), nil, nil)
	require.NoError(t, err)

	res := mod.ModerateContent(context.Background(), "you absolute bastard", "u1", "post")
	assert.True(t, res.IsApproved)
}

func TestModerateContent_WritesAuditRow(t *testing.T) {
	logs := NewMemoryLogStore(10)
	mod := newTestModerator(t, logs, nil)

	mod.ModerateContent(context.Background(), "BUY NOW http://a http://b http://c", "u1", "post")
	mod.ModerateContent(context.Background(), "you absolute bastard", "u2", "comment")
	mod.ModerateContent(context.Background(), "Praying for you", "u3", "comment")

	rows := logs.Recent(3)
	require.Len(t, rows, 3)
	assert.Equal(t, "u3", rows[0].AuthorID)
	assert.Equal(t, "u1", rows[2].AuthorID)
	assert.Equal(t, "post", rows[2].Category)
	assert.Equal(t, fixedNow, rows[2].CreatedAt)
	assert.NotEmpty(t, rows[2].ID)

	stats, err := mod.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, stats.PendingReview)
	assert.Equal(t, 1, stats.FlagCounts[FlagSpamLinks])
}

func TestRules(t *testing.T) {
	mod := newTestModerator(t, nil, nil)
	initial := len(mod.Rules())

	rule, err := mod.AddRule(models.ModerationRule{
		Name:     "Prosperity gospel",
		Pattern:  "seed offering",
		Action:   models.RuleFlag,
		Severity: models.SeverityMedium,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "prosperity_gospel", rule.Category)
	assert.Len(t, mod.Rules(), initial+1)

	res := mod.ModerateContent(context.Background(), "Plant your SEED OFFERING today", "u1", "post")
	assert.True(t, res.HasFlag("prosperity_gospel"))

	_, err = mod.AddRule(rule)
	assert.ErrorIs(t, err, ErrDuplicateRule)

	_, err = mod.AddRule(models.ModerationRule{
		Name: "Broken", Pattern: "([", IsRegex: true,
		Action: models.RuleBlock, Severity: models.SeverityHigh,
	})
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = mod.AddRule(models.ModerationRule{
		Name: "No severity", Pattern: "x", Action: models.RuleBlock,
	})
	assert.ErrorIs(t, err, ErrInvalidRule)

	require.NoError(t, mod.RemoveRule(rule.ID))
	assert.Len(t, mod.Rules(), initial)
	assert.ErrorIs(t, mod.RemoveRule(rule.ID), ErrRuleNotFound)

	res = mod.ModerateContent(context.Background(), "Plant your seed offering today", "u1", "post")
	assert.False(t, res.HasFlag("prosperity_gospel"))
}

func TestNewModerator_ConfiguredRules(t *testing.T) {
	_, err := NewModerator(config.ModerationConfig{
		Enabled: true,
		Rules:   []models.ModerationRule{{ID: "profanity", Name: "Dup", Pattern: "x", Action: models.RuleFlag, Severity: models.SeverityLow}},
	}, nil, nil, nullLogger(), nil, nil)
	assert.ErrorIs(t, err, ErrDuplicateRule)
}
