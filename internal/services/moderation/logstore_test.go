package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLogStore_Ring(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLogStore(2)

	for _, author := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.Save(ctx, &models.ModerationLog{AuthorID: author, IsApproved: true}))
	}

	rows := store.Recent(0)
	require.Len(t, rows, 2)
	assert.Equal(t, "u3", rows[0].AuthorID)
	assert.Equal(t, "u2", rows[1].AuthorID)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Approved)
}

func TestSupabaseLogStore(t *testing.T) {
	ctx := context.Background()
	var inserted []models.ModerationLog

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/moderation_logs":
			var row models.ModerationLog
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&row)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			inserted = append(inserted, row)
			w.WriteHeader(http.StatusCreated)
		case "/rest/v1/rpc/get_moderation_stats":
			json.NewEncoder(w).Encode(map[string]any{"total": 4, "approved": 3, "rejected": 1, "pending_review": 2})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := supabase.NewClient(config.SupabaseConfig{URL: server.URL, ServiceKey: "key"}, nullLogger())
	require.NoError(t, err)
	store := NewSupabaseLogStore(client)

	require.NoError(t, store.Save(ctx, &models.ModerationLog{
		AuthorID:        "u1",
		ContentPreview:  "BUY NOW…",
		ConfidenceScore: 0.6,
		Flags:           []string{FlagSpamLinks},
		RequiresReview:  true,
	}))
	require.Len(t, inserted, 1)
	assert.Equal(t, "u1", inserted[0].AuthorID)
	assert.Equal(t, []string{FlagSpamLinks}, inserted[0].Flags)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.PendingReview)
	assert.NotNil(t, stats.FlagCounts)
}
