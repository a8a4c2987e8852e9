package poller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type loadingRecorder struct {
	mu     sync.Mutex
	states []bool
	last   *chat.WalletInfo
}

func (r *loadingRecorder) record(info *chat.WalletInfo, loading bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, loading)
	r.last = info
}

func (r *loadingRecorder) loadingStates() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func TestWalletPoller_HTTP500SynthesizesDisconnectedAndSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &loadingRecorder{}
	p := NewWalletPoller(srv.URL+"/api/wallet", WithWalletOnChange(rec.record))
	defer p.Close()

	info := p.Start(context.Background())
	require.Equal(t, chat.DisconnectedWallet(), info)
	require.Nil(t, info.Address)
	require.Nil(t, info.NetworkID)
	require.Equal(t, "disconnected", info.Status)

	require.Equal(t, []bool{true, false}, rec.loadingStates())
	require.True(t, p.RetryScheduled())

	snap, loading := p.Snapshot()
	require.False(t, loading)
	require.Equal(t, "disconnected", snap.Status)
}

func TestWalletPoller_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"address":"0xabc","network_id":"base-sepolia","status":"connected"}`))
	}))
	defer srv.Close()

	p := NewWalletPoller(srv.URL, WithWalletRetryDelay(10*time.Millisecond))
	defer p.Close()
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		info, loading := p.Snapshot()
		return info != nil && info.IsConnected() && !loading
	}, 2*time.Second, 5*time.Millisecond)
	info, _ := p.Snapshot()
	require.Equal(t, "0xabc", *info.Address)
	require.Equal(t, "base-sepolia", *info.NetworkID)
	require.False(t, p.RetryScheduled())
	require.Equal(t, int32(3), calls.Load())
}

func TestWalletPoller_RefreshCancelsPendingRetry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"address":null,"network_id":null,"status":"connected"}`))
	}))
	defer srv.Close()

	p := NewWalletPoller(srv.URL, WithWalletRetryDelay(150*time.Millisecond))
	defer p.Close()
	p.Start(context.Background())
	require.True(t, p.RetryScheduled())

	fail.Store(false)
	info := p.Refresh(context.Background())
	require.True(t, info.IsConnected())
	require.False(t, p.RetryScheduled())

	time.Sleep(250 * time.Millisecond)
	require.Equal(t, int32(2), calls.Load(), "canceled retry must not fire")
}

func TestWalletPoller_LoadingUntilLastConcurrentFetchFinishes(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		_, _ = w.Write([]byte(`{"address":"0xabc","network_id":"base-sepolia","status":"connected"}`))
	}))
	defer srv.Close()

	unblock := sync.OnceFunc(func() { close(release) })
	defer unblock()
	p := NewWalletPoller(srv.URL, WithWalletRetryDelay(time.Hour))
	defer p.Close()

	slow := make(chan chat.WalletInfo, 1)
	go func() { slow <- p.Fetch(context.Background()) }()
	<-entered

	info := p.Refresh(context.Background())
	require.True(t, info.IsConnected())
	_, loading := p.Snapshot()
	require.True(t, loading, "the first fetch is still running")

	unblock()
	require.True(t, (<-slow).IsConnected())
	wallet, loading := p.Snapshot()
	require.False(t, loading)
	require.NotNil(t, wallet)
	require.Equal(t, int32(2), calls.Load())
}

func TestWalletPoller_TransportFailureAndClose(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewWalletPoller(url, WithWalletRetryDelay(time.Hour))
	info := p.Fetch(context.Background())
	require.False(t, info.IsConnected())
	require.True(t, p.RetryScheduled())

	p.Close()
	require.False(t, p.RetryScheduled())
	p.Fetch(context.Background())
	require.False(t, p.RetryScheduled(), "closed poller never schedules retries")
}

func TestWalletPoller_MalformedBodyCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	p := NewWalletPoller(srv.URL, WithWalletRetryDelay(time.Hour))
	defer p.Close()
	require.Equal(t, "disconnected", p.Fetch(context.Background()).Status)
	require.True(t, p.RetryScheduled())
}

func TestToolsPoller_RetriesThenReplacesCatalog(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch {
		case n < 3:
			http.Error(w, "down", http.StatusInternalServerError)
		case n == 3:
			_, _ = w.Write([]byte(`[{"name":"get_balance","description":"Get balance"},{"name":"transfer","description":null}]`))
		default:
			_, _ = w.Write([]byte(`[{"name":"get_wallet_details","description":null}]`))
		}
	}))
	defer srv.Close()

	var changes atomic.Int32
	p := NewToolsPoller(srv.URL, WithToolsRetryDelay(5*time.Millisecond), WithToolsOnChange(func([]chat.ToolInfo) { changes.Add(1) }))
	require.Empty(t, p.Tools())

	tools, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "get_balance", tools[0].Name)
	require.Equal(t, "Get balance", *tools[0].Description)
	require.Nil(t, tools[1].Description)
	require.Equal(t, int32(3), calls.Load())

	_, err = p.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []chat.ToolInfo{{Name: "get_wallet_details"}}, p.Tools())
	require.Equal(t, int32(2), changes.Load())
}

func TestToolsPoller_FailureKeepsPriorCatalogAndRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewToolsPoller(srv.URL, WithToolsRetryDelay(10*time.Millisecond))
	_, err := p.Fetch(context.Background())
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Empty(t, p.Tools())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	require.NoError(t, CheckHealth(context.Background(), nil, srv.URL))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	}))
	defer bad.Close()
	require.ErrorContains(t, CheckHealth(context.Background(), nil, bad.URL), "unexpected status")
}
