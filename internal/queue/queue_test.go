package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: TypeReconcile, Body: []byte("event-123")}
	got, err := deserialize(serialize(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDeserializeWithoutType(t *testing.T) {
	got, err := deserialize("just-a-body")
	require.NoError(t, err)
	assert.Empty(t, got.Type)
	assert.Equal(t, "just-a-body", string(got.Body))
}

func TestInMemoryPublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeReconcile, Body: []byte("ev1")}))

	out, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-out:
		assert.Equal(t, TypeReconcile, msg.Type)
		assert.Equal(t, "ev1", string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, Message{Body: []byte("fill")}))

	cancel()
	err := q.Publish(ctx, Message{Body: []byte("blocked")})
	assert.ErrorIs(t, err, context.Canceled)
}
