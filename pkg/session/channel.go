package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/persistence/messagestore"
	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay = 2000 * time.Millisecond
	defaultWriteTimeout   = 10 * time.Second
)

// Phase is the connection lifecycle state. There is no observable closing
// phase: a connection is either being dialed, open, or gone.
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseConnecting
	PhaseOpen
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	default:
		return "closed"
	}
}

// Mirror receives a copy of every decoded inbound event and every published
// state. Implementations must not block.
type Mirror interface {
	PublishEvent(ctx context.Context, sessionID string, ev protocol.Event)
	PublishState(ctx context.Context, sessionID string, st chat.State)
}

// Channel owns one duplex connection to the agent at a time and keeps it
// alive: whenever the connection closes, for whatever reason, a reconnect is
// scheduled after a fixed delay until the channel is closed.
//
// All state lives in a single loop goroutine. Dial results, inbound frames,
// read errors, timer fires, Send and Clear are messages to that loop, so
// events apply strictly in arrival order and observers never see a partial
// update.
type Channel struct {
	id             string
	url            string
	dialer         Dialer
	store          messagestore.Store
	ids            *chat.IDSequence
	clock          chat.Clock
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	mirror         Mirror
	logger         zerolog.Logger

	inbox     chan any
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the loop goroutine
	phase          Phase
	conn           Conn
	gen            uint64
	msgLog         *messagestore.Log
	state          chat.State
	reconnectTimer *time.Timer

	mu        sync.RWMutex
	snapshot  chat.State
	snapPhase Phase
	subs      map[int]chan chat.State
	nextSub   int
}

type Option func(*Channel) error

func WithDialer(d Dialer) Option {
	return func(c *Channel) error {
		if d == nil {
			return errors.New("dialer is nil")
		}
		c.dialer = d
		return nil
	}
}

func WithStore(s messagestore.Store) Option {
	return func(c *Channel) error {
		c.store = s
		return nil
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) error {
		if d <= 0 {
			return errors.Errorf("reconnect delay must be positive, got %s", d)
		}
		c.reconnectDelay = d
		return nil
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Channel) error {
		c.writeTimeout = d
		return nil
	}
}

func WithIDSequence(ids *chat.IDSequence) Option {
	return func(c *Channel) error {
		c.ids = ids
		return nil
	}
}

func WithClock(clock chat.Clock) Option {
	return func(c *Channel) error {
		c.clock = clock
		return nil
	}
}

func WithMirror(m Mirror) Option {
	return func(c *Channel) error {
		c.mirror = m
		return nil
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) error {
		c.logger = l
		return nil
	}
}

func WithSessionID(id string) Option {
	return func(c *Channel) error {
		if strings.TrimSpace(id) == "" {
			return errors.New("session id is empty")
		}
		c.id = id
		return nil
	}
}

// New replays the persisted log, starts the event loop and immediately begins
// connecting to url. Call Close to dispose of the channel.
func New(url string, options ...Option) (*Channel, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("session: empty url")
	}
	c := &Channel{
		id:             uuid.NewString(),
		url:            url,
		reconnectDelay: DefaultReconnectDelay,
		writeTimeout:   defaultWriteTimeout,
		clock:          chat.WallClock,
		logger:         log.Logger,
		inbox:          make(chan any),
		done:           make(chan struct{}),
		subs:           map[int]chan chat.State{},
	}
	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "session: apply option")
		}
	}
	if c.dialer == nil {
		c.dialer = NewWebSocketDialer()
	}
	if c.store == nil {
		c.store = messagestore.NewMemoryStore()
	}
	if c.ids == nil {
		c.ids = chat.NewSessionIDSequence()
	}
	c.logger = c.logger.With().Str("component", "session").Str("session_id", c.id).Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.msgLog = messagestore.OpenLog(c.ctx, c.store)
	for _, m := range c.msgLog.Messages() {
		c.ids.Observe(m.ID)
	}
	c.state = chat.State{Messages: c.msgLog.Messages()}
	c.publish()

	go c.run()
	c.post(connectCmd{})
	return c, nil
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) URL() string { return c.url }

// State returns the latest published state.
func (c *Channel) State() chat.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Clone()
}

func (c *Channel) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapPhase
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers only ever see the most recent state. The returned
// function unsubscribes.
func (c *Channel) Subscribe() (<-chan chat.State, func()) {
	ch := make(chan chat.State, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot.Clone()
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// WaitOpen blocks until the channel is connected or ctx is done.
func (c *Channel) WaitOpen(ctx context.Context) error {
	states, unsubscribe := c.Subscribe()
	defer unsubscribe()
	for {
		select {
		case st, ok := <-states:
			if !ok {
				return errors.New("session: channel closed")
			}
			if st.Connected {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return errors.New("session: channel closed")
		}
	}
}

// Send echoes text into the log and transmits it. It does nothing and returns
// false unless the connection is open.
func (c *Channel) Send(text string) bool {
	reply := make(chan bool, 1)
	if !c.post(sendCmd{text: text, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-c.done:
		return false
	}
}

// Clear empties the log and the persisted copy. The connection is untouched.
func (c *Channel) Clear() {
	reply := make(chan bool, 1)
	if !c.post(clearCmd{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// Close tears down the connection and cancels any pending reconnect. It is
// safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.wg.Wait()
		c.mu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
	return nil
}

// Done is closed once the loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

type connectCmd struct{}

type reconnectCmd struct{}

type dialResult struct {
	gen  uint64
	conn Conn
	err  error
}

type frameMsg struct {
	gen  uint64
	data []byte
}

type readErr struct {
	gen uint64
	err error
}

type sendCmd struct {
	text  string
	reply chan bool
}

type clearCmd struct {
	reply chan bool
}

// post hands msg to the loop. It returns false if the channel is closed.
func (c *Channel) post(msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Channel) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *Channel) handle(msg any) {
	switch m := msg.(type) {
	case connectCmd:
		c.connect()
	case reconnectCmd:
		c.reconnectTimer = nil
		c.logger.Debug().Msg("reconnecting")
		c.connect()
	case dialResult:
		c.onDialResult(m)
	case frameMsg:
		if m.gen == c.gen && c.phase == PhaseOpen {
			c.onFrame(m.data)
		}
	case readErr:
		if m.gen == c.gen && c.phase == PhaseOpen {
			c.logger.Info().Err(m.err).Msg("connection lost")
			c.onClose()
		}
	case sendCmd:
		m.reply <- c.send(m.text)
	case clearCmd:
		c.msgLog.Clear(c.ctx)
		c.state.Messages = c.msgLog.Messages()
		c.publish()
		m.reply <- true
	}
}

// connect starts a dial unless one is in flight or a connection is open.
func (c *Channel) connect() {
	if c.phase != PhaseClosed {
		return
	}
	c.phase = PhaseConnecting
	c.gen++
	gen := c.gen
	c.publish()

	c.logger.Debug().Str("url", c.url).Uint64("gen", gen).Msg("dialing")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		conn, err := c.dialer.DialContext(c.ctx, c.url)
		if !c.post(dialResult{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Channel) onDialResult(r dialResult) {
	if r.gen != c.gen || c.phase != PhaseConnecting {
		if r.conn != nil {
			_ = r.conn.Close()
		}
		return
	}
	if r.err != nil {
		c.logger.Debug().Err(r.err).Str("url", c.url).Msg("dial failed")
		c.onClose()
		return
	}
	c.conn = r.conn
	c.phase = PhaseOpen
	c.state.Connected = true
	c.logger.Info().Str("url", c.url).Msg("connected")
	c.publish()

	c.wg.Add(1)
	go c.readLoop(r.gen, r.conn)
}

func (c *Channel) readLoop(gen uint64, conn Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.post(readErr{gen: gen, err: err})
			return
		}
		if !c.post(frameMsg{gen: gen, data: data}) {
			return
		}
	}
}

func (c *Channel) onFrame(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEventType) {
			c.logger.Debug().Err(err).Msg("ignoring unknown event")
		} else {
			c.logger.Warn().Err(err).Msg("ignoring malformed frame")
		}
		return
	}
	if c.mirror != nil {
		c.mirror.PublishEvent(c.ctx, c.id, ev)
	}

	next, changed := chat.Reduce(c.state, ev, c.ids, c.clock)
	if changed {
		c.msgLog.Replace(c.ctx, next.Messages)
		next.Messages = c.msgLog.Messages()
	}
	c.state = next
	c.publish()
}

// onClose moves to Closed and arms the reconnect timer. Thinking is left
// alone: only done, error and message events clear it.
func (c *Channel) onClose() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.phase = PhaseClosed
	c.state.Connected = false
	c.publish()
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	c.stopReconnectTimer()
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.post(reconnectCmd{})
	})
}

func (c *Channel) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Channel) send(text string) bool {
	if c.phase != PhaseOpen || c.conn == nil {
		c.logger.Debug().Str("phase", c.phase.String()).Msg("send dropped, not connected")
		return false
	}
	frame, err := protocol.EncodeOutbound(text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("send dropped")
		return false
	}

	c.msgLog.Append(c.ctx, chat.NewUserMessage(text, c.ids, c.clock))
	c.state.Messages = c.msgLog.Messages()
	c.publish()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("write failed, closing connection")
		c.onClose()
	}
	return true
}

func (c *Channel) teardown() {
	c.stopReconnectTimer()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.phase = PhaseClosed
	c.state.Connected = false
	c.publish()
	c.logger.Debug().Msg("channel closed")
}

// publish makes c.state visible to State, Subscribe and the mirror.
func (c *Channel) publish() {
	snap := c.state.Clone()
	c.mu.Lock()
	c.snapshot = snap
	c.snapPhase = c.phase
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.PublishState(c.ctx, c.id, snap)
	}
}
