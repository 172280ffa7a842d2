package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/rag"
)

func TestTurnStoreKey(t *testing.T) {
	s := NewTurnStore(nil, 0, 0)
	assert.Equal(t, "rag:turns:room:A", s.turnsKey("room:A"))
	assert.Equal(t, 20, s.maxTurns)
	assert.Equal(t, 24*time.Hour, s.ttl)
}

// Runs against REDIS_TEST_ADDR; skipped without it.
func TestTurnStoreAppendLoadTrim(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: REDIS_TEST_ADDR not set")
	}
	client := redisv9.NewClient(&redisv9.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := NewTurnStore(client, time.Minute, 3)
	conv := "room:" + uuid.NewString()
	t.Cleanup(func() { _ = s.Delete(ctx, conv) })

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, conv, rag.Turn{
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
		}))
	}

	turns, err := s.Load(ctx, conv)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q3", turns[0].Question)
	assert.Equal(t, "a5", turns[2].Answer)

	empty, err := s.Load(ctx, "room:"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
