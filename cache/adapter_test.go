package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/nisekogame/backend/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewPubSub_Local(t *testing.T) {
	ps, err := cache.NewPubSub(cache.Config{LocalPubSubBuf: 4})
	require.NoError(t, err)
	defer ps.Close()

	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "coop_score")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "coop_score", "payload"))
	select {
	case msg := <-ch:
		assert.Equal(t, &cache.Message{Channel: "coop_score", Payload: "payload"}, msg)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestNewPubSub_RedisUnreachable(t *testing.T) {
	_, err := cache.NewPubSub(cache.Config{RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestSubscribe_CancelWithFullBuffer(t *testing.T) {
	ps, err := cache.NewPubSub(cache.Config{LocalPubSubBuf: 1})
	require.NoError(t, err)
	defer ps.Close()
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	ch, cancel, err := ps.Subscribe(ctx, "coop_score")
	require.NoError(t, err)

	require.NoError(t, ps.Publish(ctx, "coop_score", "first"))
	require.Eventually(t, func() bool { return len(ch) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, ps.Publish(ctx, "coop_score", "second"))

	// Nobody reads ch again; cancel must still release the forwarder.
	cancel()
	cancel()
}
