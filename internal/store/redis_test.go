package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai/internal/models"
)

// Runs against a live server only when REDIS_URL is set.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := NewRedisClient(context.Background(), url)
	require.NoError(t, err)
	st := NewRedisStore(client, time.Minute)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestRedisStore(t)
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { st.Delete(ctx, id) })

	sess := models.NewSession(id, time.Now().UTC(), models.TTSPreferences{VoiceID: "nova"})
	require.NoError(t, st.Create(ctx, sess))
	assert.ErrorIs(t, st.Create(ctx, sess), ErrExists)

	topic := "plate tectonics"
	sess.Topic = &topic
	require.NoError(t, st.Update(ctx, sess))

	loaded, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "plate tectonics", loaded.TopicName())
	assert.Equal(t, "nova", loaded.TTSPreferences.VoiceID)
	assert.NotNil(t, loaded.AuthTokens)

	ttl, err := st.client.TTL(ctx, st.key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, st.Delete(ctx, id))
	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Update(ctx, sess), ErrNotFound)
}

func TestRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
