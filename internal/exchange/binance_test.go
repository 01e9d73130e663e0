package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/require"
)

func newKlineTestFeeder(t *testing.T, klinesBody string) *Binance {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v3/klines" {
			fmt.Fprint(w, klinesBody)
			return
		}
		fmt.Fprint(w, "{}")
	}))
	t.Cleanup(server.Close)

	client := binance.NewClient("", "")
	client.BaseURL = server.URL

	return &Binance{ctx: context.Background(), client: client}
}

func TestBinance_CandlesByLimitEmptyResponse(t *testing.T) {
	feeder := newKlineTestFeeder(t, `[]`)

	candles, err := feeder.CandlesByLimit(context.Background(), "BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Empty(t, candles)
}

func TestBinance_CandlesByLimitDiscardsIncomplete(t *testing.T) {
	feeder := newKlineTestFeeder(t, `[
		[1700000000000, "100", "101", "99", "100.5", "12", 1700000899999, "1206", 40, "6", "603", "0"],
		[1700000900000, "100.5", "102", "100", "101", "3", 1700001799999, "303", 10, "1.5", "151.5", "0"]
	]`)

	candles, err := feeder.CandlesByLimit(context.Background(), "BTCUSDT", "15m", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	require.Equal(t, "BTCUSDT", candles[0].Pair)
	require.InDelta(t, 100.5, candles[0].Close, 1e-9)
}
