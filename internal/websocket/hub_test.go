package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(hub *Hub) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, 8),
		id:     "test-client",
		logger: testLogger(),
	}
}

func TestHubBroadcastReachesClients(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	client := newTestClient(hub)
	hub.register <- client

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.BroadcastUpdate("batch:progress", "factor_exposure", "active",
		map[string]interface{}{"run_id": "run-1"})

	select {
	case payload := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "batch:progress", msg.Type)
		assert.Equal(t, "factor_exposure", msg.Phase)
		assert.Equal(t, "active", msg.Status)
		assert.False(t, msg.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached the client")
	}
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	client := newTestClient(hub)
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)

	select {
	case _, ok := <-client.send:
		assert.False(t, ok, "send channel must be closed on unregister")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}

func TestHubStopClosesAllClients(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()

	a, b := newTestClient(hub), newTestClient(hub)
	hub.register <- a
	hub.register <- b
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 },
		time.Second, 5*time.Millisecond)

	hub.Stop()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)

	// Stop is idempotent.
	hub.Stop()
}

func TestHubAttachOnlyWhileRunning(t *testing.T) {
	hub := NewHub(testLogger())

	assert.False(t, hub.Attach(newTestClient(hub)), "attach must be refused before Start")

	hub.Start()
	require.True(t, hub.Attach(newTestClient(hub)))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.Stop()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)

	// The loop has exited; a late attach must return instead of blocking.
	assert.False(t, hub.Attach(newTestClient(hub)))
	assert.Zero(t, hub.ClientCount())
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	// Nothing to deliver to; must not block or panic.
	hub.BroadcastUpdate("batch:status", "", "running", nil)
}
