package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	c := NewCache(time.Minute, 2, logger)

	_, found := c.Get(ctx, "suggestions", "pray")
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "suggestions", "pray", []string{"prayer", "praying"}))

	// keys are normalized
	val, found := c.Get(ctx, "suggestions", "  PRAY ")
	require.True(t, found)
	assert.Equal(t, []string{"prayer", "praying"}, val)

	// namespaces do not collide
	_, found = c.Get(ctx, "posts", "pray")
	assert.False(t, found)

	// a full cache drops new entries
	require.NoError(t, c.Set(ctx, "suggestions", "psalm", []string{"psalm 23"}))
	require.NoError(t, c.Set(ctx, "suggestions", "grace", []string{"grace"}))
	_, found = c.Get(ctx, "suggestions", "grace")
	assert.False(t, found)

	require.NoError(t, c.Clear(ctx))
	_, found = c.Get(ctx, "suggestions", "pray")
	assert.False(t, found)
}

func TestCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c := NewCache(0, 10, nil)

	require.NoError(t, c.Set(ctx, "suggestions", "pray", []string{"prayer"}))
	_, found := c.Get(ctx, "suggestions", "pray")
	assert.False(t, found)
	assert.NoError(t, c.Clear(ctx))
}
