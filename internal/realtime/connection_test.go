package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialTestSocket(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestConnectionSendAfterCloseDoesNotPanic(t *testing.T) {
	conn := NewConnection("u1", dialTestSocket(t), 4)
	conn.Start()
	conn.Close(websocket.CloseNormalClosure, "bye")

	// Broadcasts race with teardown; every send on a closed connection
	// must report an error rather than crash the sender's goroutine.
	for i := 0; i < 32; i++ {
		require.Error(t, conn.Send([]byte("change")))
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn := NewConnection("u1", dialTestSocket(t), 4)
	conn.Start()

	conn.Close(websocket.CloseNormalClosure, "bye")
	conn.Close(websocket.CloseGoingAway, "again")

	require.Error(t, conn.Send([]byte("late")))
}

func TestConnectionSendOnFullBufferCloses(t *testing.T) {
	// No write loop: the buffer never drains.
	conn := NewConnection("u1", dialTestSocket(t), 2)

	require.NoError(t, conn.Send([]byte("a")))
	require.NoError(t, conn.Send([]byte("b")))
	require.Error(t, conn.Send([]byte("c")))
	require.Error(t, conn.Send([]byte("d")), "connection is closed after overflowing")
}
