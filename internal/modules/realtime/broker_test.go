package realtime

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerCutsOffStalledSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	const topic = "orders:r1"

	stalled, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)
	live, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)
	defer live.Close()

	for i := 0; i < b.buffer; i++ {
		require.NoError(t, b.Publish(ctx, topic, []byte(strconv.Itoa(i))))
	}
	first, err := live.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0", string(first))

	// stalled is full; publishing must not wait for it.
	require.NoError(t, b.Publish(ctx, topic, []byte("last")))
	assert.Equal(t, 1, b.Subscribers(topic))

	var lagErr error
	for lagErr == nil {
		_, lagErr = stalled.Next(ctx)
	}
	assert.ErrorIs(t, lagErr, ErrSubscriberLagged)

	var got []string
	for i := 0; i < b.buffer; i++ {
		msg, err := live.Next(ctx)
		require.NoError(t, err)
		got = append(got, string(msg))
	}
	assert.Equal(t, "1", got[0])
	assert.Equal(t, "last", got[len(got)-1])
}

func TestMemoryBrokerPublishHonoursCanceledContext(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Publish(ctx, "orders:r1", []byte("x")), context.Canceled)
}
