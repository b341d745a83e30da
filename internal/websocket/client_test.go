package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r, testLogger())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWSAttachesClient(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	conn := dialTestServer(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.BroadcastUpdate("batch:status", "", "running", nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, messageType)
	assert.Contains(t, string(payload), "batch:status")
}

func TestServeWSAfterStopClosesConnection(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	hub.Stop()

	// The upgrade still succeeds, but the handler must close the connection
	// instead of parking forever on a hub loop that has exited.
	conn := dialTestServer(t, hub)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection must be closed by the server")
	assert.Zero(t, hub.ClientCount())
}
