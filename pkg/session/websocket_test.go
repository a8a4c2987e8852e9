package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoAgent answers every message with the same event sequence the real
// backend produces for a single tool call.
func echoAgent(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			var in protocol.Outbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			for _, ev := range []protocol.Event{
				protocol.StatusEvent{Content: "thinking"},
				protocol.ToolCallEvent{Name: "echo", Arguments: `{"text":"` + in.Message + `"}`},
				protocol.ToolOutputEvent{Name: "echo", Output: in.Message},
				protocol.MessageEvent{Content: "you said: " + in.Message},
				protocol.DoneEvent{},
			} {
				b, err := protocol.Encode(ev)
				require.NoError(t, err)
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestChannel_AgainstWebSocketServer(t *testing.T) {
	srv := echoAgent(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"

	c, err := New(url, WithReconnectDelay(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.WaitOpen(ctx))

	require.True(t, c.Send("ping"))
	st := waitState(t, c, func(st chat.State) bool { return len(st.Messages) == 4 && !st.Thinking })

	require.Equal(t, chat.RoleUser, st.Messages[0].Role)
	require.True(t, st.Messages[1].IsToolCall())
	require.Equal(t, "echo", *st.Messages[1].ToolName)
	require.True(t, st.Messages[2].IsToolOutput())
	require.Equal(t, "ping", st.Messages[2].Content)
	require.Equal(t, "you said: ping", st.Messages[3].Content)
}

func TestChannel_ReconnectsWhenServerComesBack(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	accepted := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := New(url, WithReconnectDelay(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	first := <-accepted
	waitState(t, c, connected)
	_ = first.Close()

	select {
	case second := <-accepted:
		defer func() { _ = second.Close() }()
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}
	waitState(t, c, connected)
}
