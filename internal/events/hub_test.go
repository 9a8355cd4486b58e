package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestHubDeliversToWorkspaceSubscribers(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("ws-1")
	defer cancel()
	other, cancelOther := hub.Subscribe("ws-2")
	defer cancelOther()

	require.NoError(t, hub.Publish(context.Background(), Event{Type: TypeProgress, WorkspaceID: "ws-1", At: time.Now()}))

	select {
	case ev := <-ch:
		assert.Equal(t, TypeProgress, ev.Type)
		assert.Equal(t, "ws-1", ev.WorkspaceID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case ev := <-other:
		t.Fatalf("event leaked across workspaces: %+v", ev)
	default:
	}
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := testHub()
	_, cancel := hub.Subscribe("ws-1")
	cancel()
	cancel() // second leave is a no-op
	assert.Equal(t, 0, hub.Subscribers("ws-1"))
	// Publishing to a workspace with no subscribers must not fail.
	require.NoError(t, hub.Publish(context.Background(), Event{Type: TypeComplete, WorkspaceID: "ws-1"}))
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe("ws-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscriber buffer while nobody drains it.
		for i := 0; i < subscriberBuffer*3; i++ {
			_ = hub.Publish(context.Background(), Event{Type: TypeProgress, WorkspaceID: "ws-1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestTerminalTypes(t *testing.T) {
	assert.False(t, TypeProgress.Terminal())
	assert.True(t, TypeComplete.Terminal())
	assert.True(t, TypeError.Terminal())
	assert.True(t, TypeCancelled.Terminal())
}
