package session

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/persistence/messagestore"
	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var errRefused = errors.New("connection refused")

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// drop simulates the server going away.
func (f *fakeConn) drop() { f.closeOnce.Do(func() { close(f.closed) }) }

func (f *fakeConn) push(t *testing.T, ev protocol.Event) {
	t.Helper()
	b, err := protocol.Encode(ev)
	require.NoError(t, err)
	f.in <- b
}

func (f *fakeConn) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// fakeDialer hands out queued connections and refuses once the queue is empty.
type fakeDialer struct {
	mu    sync.Mutex
	queue []*fakeConn
	dials atomic.Int32
}

func (d *fakeDialer) enqueue(c *fakeConn) {
	d.mu.Lock()
	d.queue = append(d.queue, c)
	d.mu.Unlock()
}

func (d *fakeDialer) DialContext(ctx context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, errRefused
	}
	c := d.queue[0]
	d.queue = d.queue[1:]
	return c, nil
}

func newTestChannel(t *testing.T, d Dialer, opts ...Option) *Channel {
	t.Helper()
	opts = append([]Option{WithDialer(d), WithReconnectDelay(20 * time.Millisecond)}, opts...)
	c, err := New("ws://agent.test:8000/ws/chat", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitState(t *testing.T, c *Channel, cond func(chat.State) bool) chat.State {
	t.Helper()
	var st chat.State
	require.Eventually(t, func() bool {
		st = c.State()
		return cond(st)
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func connected(st chat.State) bool { return st.Connected }

func TestChannel_SendWhenNotOpenIsNoop(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d)

	require.Eventually(t, func() bool { return d.dials.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.False(t, c.Send("hello"))
	require.Empty(t, c.State().Messages)
	require.False(t, c.State().Connected)
}

func TestChannel_SendEchoesAndTransmits(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d)

	waitState(t, c, connected)
	require.Equal(t, PhaseOpen, c.Phase())

	require.True(t, c.Send("what is my balance?"))
	st := c.State()
	require.Len(t, st.Messages, 1)
	require.Equal(t, chat.RoleUser, st.Messages[0].Role)
	require.Equal(t, "what is my balance?", st.Messages[0].Content)

	writes := conn.written()
	require.Len(t, writes, 1)
	var out protocol.Outbound
	require.NoError(t, json.Unmarshal(writes[0], &out))
	require.Equal(t, "what is my balance?", out.Message)
}

func TestChannel_SendWhitespaceWhenOpenIsTransmitted(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d)
	waitState(t, c, connected)

	require.True(t, c.Send("   "))
	st := c.State()
	require.Len(t, st.Messages, 1)
	require.Equal(t, chat.RoleUser, st.Messages[0].Role)
	require.Equal(t, "   ", st.Messages[0].Content)

	writes := conn.written()
	require.Len(t, writes, 1)
	var out protocol.Outbound
	require.NoError(t, json.Unmarshal(writes[0], &out))
	require.Equal(t, "   ", out.Message)
}

func TestChannel_ReducesInboundEventsInOrder(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d)
	waitState(t, c, connected)

	conn.push(t, protocol.StatusEvent{Content: "thinking"})
	waitState(t, c, func(st chat.State) bool { return st.Thinking })

	conn.in <- []byte(`{"type":"tool_call","name":"get_balance","arguments":"{}"}`)
	conn.in <- []byte(`{"type":"reasoning","content":"future tag"}`)
	conn.in <- []byte(`not even json`)
	conn.push(t, protocol.ToolOutputEvent{Name: "get_balance", Output: "1.2"})
	conn.in <- []byte(`{"type":"message","content":"Your balance is 1.2 ETH"}`)
	conn.push(t, protocol.DoneEvent{})

	st := waitState(t, c, func(st chat.State) bool { return len(st.Messages) == 3 && !st.Thinking })
	require.True(t, st.Messages[0].IsToolCall())
	require.Equal(t, "Calling **get_balance**", st.Messages[0].Content)
	require.Equal(t, "{}", *st.Messages[0].ToolArguments)
	require.True(t, st.Messages[1].IsToolOutput())
	require.Equal(t, chat.RoleAssistant, st.Messages[2].Role)
	require.Equal(t, "Your balance is 1.2 ETH", st.Messages[2].Content)
	require.True(t, st.Connected)

	for i := 1; i < len(st.Messages); i++ {
		require.NotEqual(t, st.Messages[i-1].ID, st.Messages[i].ID)
	}
}

func TestChannel_ReconnectsAfterDropAndKeepsThinking(t *testing.T) {
	d := &fakeDialer{}
	first, second := newFakeConn(), newFakeConn()
	d.enqueue(first)
	c := newTestChannel(t, d)
	waitState(t, c, connected)

	first.push(t, protocol.StatusEvent{})
	waitState(t, c, func(st chat.State) bool { return st.Thinking })

	first.drop()
	st := waitState(t, c, func(st chat.State) bool { return !st.Connected })
	require.True(t, st.Thinking, "a dropped connection does not reset thinking")
	require.False(t, c.Send("lost"))

	d.enqueue(second)
	waitState(t, c, connected)
	require.GreaterOrEqual(t, d.dials.Load(), int32(2))

	second.push(t, protocol.DoneEvent{})
	waitState(t, c, func(st chat.State) bool { return !st.Thinking })
}

func TestChannel_WriteFailureDemotesToClose(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	conn.writeErr = errors.New("broken pipe")
	d.enqueue(conn)
	c := newTestChannel(t, d, WithReconnectDelay(time.Hour))
	waitState(t, c, connected)

	require.True(t, c.Send("hi"))
	st := waitState(t, c, func(st chat.State) bool { return !st.Connected })
	require.Len(t, st.Messages, 1)
	require.Equal(t, PhaseClosed, c.Phase())
}

func TestChannel_ReconnectAttemptsArePaced(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d, WithReconnectDelay(50*time.Millisecond))

	time.Sleep(260 * time.Millisecond)
	require.NoError(t, c.Close())
	dials := d.dials.Load()
	// one initial dial plus at most one per delay
	require.GreaterOrEqual(t, dials, int32(2))
	require.LessOrEqual(t, dials, int32(7))
}

func TestChannel_ScheduleReconnectReplacesPendingTimer(t *testing.T) {
	c := &Channel{reconnectDelay: time.Hour}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	defer c.cancel()

	c.scheduleReconnect()
	first := c.reconnectTimer
	require.NotNil(t, first)

	c.scheduleReconnect()
	require.NotSame(t, first, c.reconnectTimer)
	require.False(t, first.Stop(), "prior timer must already be stopped")

	c.stopReconnectTimer()
	require.Nil(t, c.reconnectTimer)
}

func TestChannel_CloseStopsReconnectAndLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c, err := New("ws://agent.test:8000/ws/chat", WithDialer(d), WithReconnectDelay(30*time.Millisecond))
	require.NoError(t, err)
	waitState(t, c, connected)

	conn.drop()
	waitState(t, c, func(st chat.State) bool { return !st.Connected })

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	dials := d.dials.Load()

	time.Sleep(120 * time.Millisecond)
	require.Equal(t, dials, d.dials.Load(), "no reconnect after Close")
	require.False(t, c.Send("after close"))
	c.Clear()
}

func TestChannel_CloseClosesOpenConnectionOnce(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d)
	waitState(t, c, connected)

	require.NoError(t, c.Close())
	require.Equal(t, int32(1), conn.closes.Load())
	require.False(t, c.State().Connected)
}

func TestChannel_ReplaysPersistedLogAndClears(t *testing.T) {
	ctx := context.Background()
	store := messagestore.NewMemoryStore()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Save(ctx, []chat.Message{
		{ID: "9000000000000", Role: chat.RoleUser, Content: "earlier", Timestamp: ts},
		{ID: "9000000000001", Role: chat.RoleAssistant, Content: "reply", Timestamp: ts},
	})

	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d, WithStore(store))

	st := c.State()
	require.Len(t, st.Messages, 2)
	require.Equal(t, "earlier", st.Messages[0].Content)

	waitState(t, c, connected)
	require.True(t, c.Send("again"))
	st = c.State()
	require.Len(t, st.Messages, 3)
	require.Equal(t, "9000000000002", st.Messages[2].ID)
	require.Len(t, store.Load(ctx), 3)

	c.Clear()
	require.Empty(t, c.State().Messages)
	require.Empty(t, store.Load(ctx))
	require.True(t, c.State().Connected)
}

func TestChannel_SubscribeSeesLatestState(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	c := newTestChannel(t, d)

	states, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitOpen(ctx))

	conn.push(t, protocol.MessageEvent{Content: "hello"})
	require.Eventually(t, func() bool {
		select {
		case st := <-states:
			return len(st.Messages) == 1
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

type recordingMirror struct {
	mu     sync.Mutex
	events []protocol.Event
	states int
}

func (m *recordingMirror) PublishEvent(_ context.Context, _ string, ev protocol.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *recordingMirror) PublishState(context.Context, string, chat.State) {
	m.mu.Lock()
	m.states++
	m.mu.Unlock()
}

func TestChannel_MirrorsDecodedEvents(t *testing.T) {
	d := &fakeDialer{}
	conn := newFakeConn()
	d.enqueue(conn)
	mirror := &recordingMirror{}
	c := newTestChannel(t, d, WithMirror(mirror))
	waitState(t, c, connected)

	conn.in <- []byte(`{"type":"unknown"}`)
	conn.push(t, protocol.ErrorEvent{Content: "boom"})
	st := waitState(t, c, func(st chat.State) bool { return len(st.Messages) == 1 })
	require.Equal(t, chat.RoleError, st.Messages[0].Role)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Equal(t, []protocol.Event{protocol.ErrorEvent{Content: "boom"}}, mirror.events)
	require.Greater(t, mirror.states, 0)
}

func TestNew_ValidatesArguments(t *testing.T) {
	_, err := New("")
	require.ErrorContains(t, err, "empty url")

	_, err = New("ws://x", WithReconnectDelay(0))
	require.ErrorContains(t, err, "reconnect delay must be positive")

	_, err = New("ws://x", WithDialer(nil))
	require.ErrorContains(t, err, "dialer is nil")
}
