package poller

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WalletPoller fetches GET /api/wallet. A failed fetch shows the wallet as
// disconnected and arms a single retry; a successful one disarms it.
type WalletPoller struct {
	url        string
	client     *http.Client
	retryDelay time.Duration
	logger     zerolog.Logger
	onChange   func(info *chat.WalletInfo, loading bool)

	mu         sync.Mutex
	baseCtx    context.Context
	wallet     *chat.WalletInfo
	inflight   int
	retryTimer *time.Timer
	closed     bool
}

type WalletOption func(*WalletPoller)

func WithWalletHTTPClient(c *http.Client) WalletOption {
	return func(p *WalletPoller) { p.client = c }
}

func WithWalletRetryDelay(d time.Duration) WalletOption {
	return func(p *WalletPoller) { p.retryDelay = d }
}

// WithWalletOnChange registers a callback invoked after every state change.
// It runs without the poller lock held.
func WithWalletOnChange(fn func(info *chat.WalletInfo, loading bool)) WalletOption {
	return func(p *WalletPoller) { p.onChange = fn }
}

func NewWalletPoller(url string, options ...WalletOption) *WalletPoller {
	p := &WalletPoller{
		url:        url,
		client:     defaultClient(),
		retryDelay: DefaultRetryDelay,
		logger:     log.With().Str("component", "wallet-poller").Logger(),
		baseCtx:    context.Background(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Start issues the initial fetch. Automatic retries run under ctx.
func (p *WalletPoller) Start(ctx context.Context) chat.WalletInfo {
	p.mu.Lock()
	p.baseCtx = ctx
	p.mu.Unlock()
	return p.Fetch(ctx)
}

// Fetch performs one attempt and always returns a WalletInfo. The poller
// reports loading until every concurrent attempt has finished.
func (p *WalletPoller) Fetch(ctx context.Context) chat.WalletInfo {
	p.mu.Lock()
	p.inflight++
	snap, loading := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap, loading)

	var info chat.WalletInfo
	err := getJSON(ctx, p.client, p.url, &info)

	p.mu.Lock()
	if err != nil {
		p.logger.Warn().Err(err).Dur("retry_in", p.retryDelay).Msg("wallet fetch failed, retrying")
		info = chat.DisconnectedWallet()
		p.scheduleRetryLocked()
	} else {
		p.stopRetryLocked()
	}
	p.wallet = &info
	p.inflight--
	snap, loading = p.snapshotLocked()
	p.mu.Unlock()

	p.notify(snap, loading)
	return info
}

// Refresh is the user-initiated fetch. A pending automatic retry is canceled
// first; one that has already started runs to completion.
func (p *WalletPoller) Refresh(ctx context.Context) chat.WalletInfo {
	p.mu.Lock()
	p.stopRetryLocked()
	p.mu.Unlock()
	return p.Fetch(ctx)
}

// Snapshot returns the last wallet (nil before the first fetch completes)
// and whether a fetch is in progress.
func (p *WalletPoller) Snapshot() (*chat.WalletInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *WalletPoller) RetryScheduled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryTimer != nil
}

// Close cancels any pending retry. Later fetches still work but never
// schedule a retry.
func (p *WalletPoller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stopRetryLocked()
}

func (p *WalletPoller) snapshotLocked() (*chat.WalletInfo, bool) {
	loading := p.inflight > 0
	if p.wallet == nil {
		return nil, loading
	}
	w := *p.wallet
	return &w, loading
}

func (p *WalletPoller) scheduleRetryLocked() {
	p.stopRetryLocked()
	if p.closed || p.baseCtx.Err() != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(p.retryDelay, func() {
		p.mu.Lock()
		if p.retryTimer != t {
			p.mu.Unlock()
			return
		}
		p.retryTimer = nil
		ctx := p.baseCtx
		p.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		p.Fetch(ctx)
	})
	p.retryTimer = t
}

func (p *WalletPoller) stopRetryLocked() {
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
}

func (p *WalletPoller) notify(info *chat.WalletInfo, loading bool) {
	if p.onChange != nil {
		p.onChange(info, loading)
	}
}
