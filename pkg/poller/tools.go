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

// ToolsPoller fetches GET /api/tools until the first success. Each success
// replaces the whole catalog; failures leave the previous catalog in place.
type ToolsPoller struct {
	url        string
	client     *http.Client
	retryDelay time.Duration
	logger     zerolog.Logger
	onChange   func([]chat.ToolInfo)

	mu    sync.Mutex
	tools []chat.ToolInfo
}

type ToolsOption func(*ToolsPoller)

func WithToolsHTTPClient(c *http.Client) ToolsOption {
	return func(p *ToolsPoller) { p.client = c }
}

func WithToolsRetryDelay(d time.Duration) ToolsOption {
	return func(p *ToolsPoller) { p.retryDelay = d }
}

func WithToolsOnChange(fn func([]chat.ToolInfo)) ToolsOption {
	return func(p *ToolsPoller) { p.onChange = fn }
}

func NewToolsPoller(url string, options ...ToolsOption) *ToolsPoller {
	p := &ToolsPoller{
		url:        url,
		client:     defaultClient(),
		retryDelay: DefaultRetryDelay,
		logger:     log.With().Str("component", "tools-poller").Logger(),
		tools:      []chat.ToolInfo{},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Fetch performs one attempt.
func (p *ToolsPoller) Fetch(ctx context.Context) ([]chat.ToolInfo, error) {
	var tools []chat.ToolInfo
	if err := getJSON(ctx, p.client, p.url, &tools); err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []chat.ToolInfo{}
	}
	p.mu.Lock()
	p.tools = tools
	p.mu.Unlock()
	if p.onChange != nil {
		p.onChange(p.Tools())
	}
	return tools, nil
}

// Run retries Fetch every retryDelay until it succeeds or ctx is done. There
// is no attempt cap.
func (p *ToolsPoller) Run(ctx context.Context) ([]chat.ToolInfo, error) {
	for {
		tools, err := p.Fetch(ctx)
		if err == nil {
			return tools, nil
		}
		p.logger.Debug().Err(err).Dur("retry_in", p.retryDelay).Msg("tool catalog fetch failed")

		t := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// Tools returns a copy of the current catalog, empty until the first success.
func (p *ToolsPoller) Tools() []chat.ToolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.ToolInfo, len(p.tools))
	copy(out, p.tools)
	return out
}
