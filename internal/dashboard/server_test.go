package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raykavin/dryrun/internal/core"
)

type fakeProvider struct {
	snapshot  *core.Snapshot
	prices    map[string]float64
	symbols   map[string]string
	lastEvent time.Time
	trades    []core.Trade
	tradesErr error
}

func (f *fakeProvider) View() *core.Snapshot { return f.snapshot }

func (f *fakeProvider) LastPrice(symbol string) float64 { return f.prices[symbol] }

func (f *fakeProvider) StrategySymbol(name string) string { return f.symbols[name] }

func (f *fakeProvider) LastEventAt() time.Time { return f.lastEvent }

func (f *fakeProvider) Trades() ([]core.Trade, error) { return f.trades, f.tradesErr }

func newTestProvider() *fakeProvider {
	snapshot := core.NewSnapshot()
	snapshot.Strategies["BTC_RSI"] = &core.StrategyState{
		Capital: 980,
		Position: &core.Position{
			Side:       core.SideLong,
			EntryPrice: 100,
			Size:       20,
		},
	}
	snapshot.Strategies["ETH_CCI"] = &core.StrategyState{Capital: 1000}

	return &fakeProvider{
		snapshot:  snapshot,
		prices:    map[string]float64{"BTCUSDT": 101},
		symbols:   map[string]string{"BTC_RSI": "BTCUSDT", "ETH_CCI": "ETHUSDT"},
		lastEvent: time.Now(),
	}
}

func newTestServer(t *testing.T, provider StateProvider) *httptest.Server {
	t.Helper()

	server := NewServer("127.0.0.1:0", provider, nil)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Status(t *testing.T) {
	provider := newTestProvider()
	ts := newTestServer(t, provider)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	require.False(t, status.Stale)
	require.Len(t, status.Strategies, 2)

	btc := status.Strategies[0]
	require.Equal(t, "BTC_RSI", btc.Name)
	require.Equal(t, "BTCUSDT", btc.Symbol)
	require.NotNil(t, btc.Position)
	require.InDelta(t, 20.0, btc.UnrealizedPnL, 1e-9)

	eth := status.Strategies[1]
	require.Equal(t, "ETH_CCI", eth.Name)
	require.Nil(t, eth.Position)
	require.Equal(t, 0.0, eth.UnrealizedPnL)
}

func TestServer_StatusStale(t *testing.T) {
	provider := newTestProvider()
	provider.lastEvent = time.Now().Add(-10 * time.Minute)
	ts := newTestServer(t, provider)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.True(t, status.Stale)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, health.StatusCode)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, newTestProvider())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Trades(t *testing.T) {
	provider := newTestProvider()
	now := time.Now()
	provider.trades = []core.Trade{
		{Strategy: "BTC_RSI", ExitTime: now.Add(-2 * time.Hour), PnL: 10},
		{Strategy: "ETH_CCI", ExitTime: now.Add(-1 * time.Hour), PnL: -5},
		{Strategy: "BTC_RSI", ExitTime: now, PnL: 20},
	}
	ts := newTestServer(t, provider)

	resp, err := http.Get(ts.URL + "/api/trades")
	require.NoError(t, err)
	defer resp.Body.Close()

	var trades []core.Trade
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&trades))
	require.Len(t, trades, 3)
	require.InDelta(t, 20.0, trades[0].PnL, 1e-9)
	require.InDelta(t, 10.0, trades[2].PnL, 1e-9)

	filtered, err := http.Get(ts.URL + "/api/trades?strategy=ETH_CCI")
	require.NoError(t, err)
	defer filtered.Body.Close()

	trades = nil
	require.NoError(t, json.NewDecoder(filtered.Body).Decode(&trades))
	require.Len(t, trades, 1)
	require.Equal(t, "ETH_CCI", trades[0].Strategy)
}

func TestServer_TradesError(t *testing.T) {
	provider := newTestProvider()
	provider.tradesErr = errors.New("journal closed")
	ts := newTestServer(t, provider)

	resp, err := http.Get(ts.URL + "/api/trades")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_Index(t *testing.T) {
	ts := newTestServer(t, newTestProvider())

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	missing, err := http.Get(ts.URL + "/nothing-here")
	require.NoError(t, err)
	missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)
}
