package policy

import (
	"errors"
	"testing"

	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsFailOpen(t *testing.T) {
	p, err := New(nil, nil, nil)
	require.NoError(t, err)

	for op := range Defaults() {
		assert.True(t, p.Resolve(op, errors.New("boom")), string(op))
	}
	assert.Equal(t, Allow, p.Decision(Operation("unlisted")))
}

func TestOverrides(t *testing.T) {
	log, hook := test.NewNullLogger()
	p, err := New(map[string]string{"rate_limit_check": "DENY"}, log, metrics.NewMetrics())
	require.NoError(t, err)

	assert.False(t, p.Resolve(RateLimitCheck, errors.New("store down")))
	assert.True(t, p.Resolve(Moderation, errors.New("panic")))

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
	assert.Equal(t, "deny", hook.Entries[0].Data["decision"])
}

func TestNew_InvalidDecision(t *testing.T) {
	_, err := New(map[string]string{"moderation": "sometimes"}, nil, nil)
	assert.Error(t, err)
}

func TestNew_UnknownOperation(t *testing.T) {
	// a misspelt key must not leave the real operation failing open unnoticed
	_, err := New(map[string]string{"ratelimit_check": "deny"}, nil, nil)
	assert.ErrorContains(t, err, "ratelimit_check")

	p, err := New(map[string]string{" Rate_Limit_Check ": "deny"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Deny, p.Decision(RateLimitCheck))
}
