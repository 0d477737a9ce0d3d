package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvMsg(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func TestMemBroker_FanOut(t *testing.T) {
	b := NewMemBroker()
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx, []string{"depth:btcusdt"})
	require.NoError(t, err)
	all, err := b.Subscribe(ctx, []string{"depth:btcusdt", "depth:ethusdt"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "depth:btcusdt", []byte("x")))
	require.NoError(t, b.Publish(ctx, "depth:ethusdt", []byte("y")))
	require.NoError(t, b.Publish(ctx, "depth:nobody", []byte("z")))

	assert.Equal(t, Message{Topic: "depth:btcusdt", Payload: []byte("x")}, recvMsg(t, a))
	assert.Equal(t, "x", string(recvMsg(t, all).Payload))
	assert.Equal(t, "y", string(recvMsg(t, all).Payload))
	assert.Empty(t, a)
}

func TestMemBroker_CleanupOnCancel(t *testing.T) {
	b := NewMemBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, 2, b.topics())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, b.topics())
	assert.NoError(t, b.Publish(context.Background(), "t1", []byte("late")))
}

func TestMemBroker_Close(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, b.Publish(ctx, "a", nil), ErrBrokerClosed)
	_, err = b.Subscribe(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestTopicSubjectMapping(t *testing.T) {
	assert.Equal(t, "depth.btcusdt", topicToSubject(DepthTopic("btcusdt")))
	assert.Equal(t, "aggtrade.*", topicToSubject("aggtrade:*"))
	assert.Equal(t, "depth:btcusdt", subjectToTopic("depth.btcusdt"))
}
