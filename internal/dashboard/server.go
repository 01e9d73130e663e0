// Package dashboard serves a read-only web view of the engine state.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/pkg/logger"
	"github.com/raykavin/dryrun/pkg/logger/zerolog"
)

// staleAfter marks the engine as stale when no market event arrived for
// longer than this
const staleAfter = 2 * time.Minute

// StateProvider is the engine surface the dashboard reads from
type StateProvider interface {
	// View returns a copy of the current engine state
	View() *core.Snapshot

	// LastPrice returns the freshest known price for a symbol, zero if none
	LastPrice(symbol string) float64

	// StrategySymbol returns the pair a strategy trades, empty when unknown
	StrategySymbol(name string) string

	// LastEventAt returns when market data last arrived
	LastEventAt() time.Time

	// Trades returns all closed trades
	Trades() ([]core.Trade, error)
}

// Server exposes the engine state over HTTP. All endpoints are read only.
type Server struct {
	provider StateProvider
	server   *http.Server
	index    *template.Template
	log      logger.Logger
}

// NewServer creates a dashboard server listening on addr
func NewServer(addr string, provider StateProvider, log logger.Logger) *Server {
	if log == nil {
		log = zerolog.NewNop()
	}

	s := &Server{
		provider: provider,
		index:    template.Must(template.New("index").Parse(indexHTML)),
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves until Shutdown is called or the listener fails
func (s *Server) Start() error {
	s.log.Infof("Dashboard available at http://%s", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// strategyStatus is one row of the status response
type strategyStatus struct {
	Name          string         `json:"name"`
	Symbol        string         `json:"symbol"`
	Capital       float64        `json:"capital"`
	Position      *core.Position `json:"position,omitempty"`
	LastPrice     float64        `json:"last_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	ClosedTrades  int            `json:"closed_trades"`
}

type statusResponse struct {
	UpdatedAt   time.Time        `json:"updated_at"`
	LastEventAt time.Time        `json:"last_event_at"`
	Stale       bool             `json:"stale"`
	Strategies  []strategyStatus `json:"strategies"`
}

// handleStatus renders capital, positions and mark to market per strategy
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.provider.View()
	lastEvent := s.provider.LastEventAt()

	names := make([]string, 0, len(snapshot.Strategies))
	for name := range snapshot.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	response := statusResponse{
		UpdatedAt:   snapshot.UpdatedAt,
		LastEventAt: lastEvent,
		Stale:       lastEvent.IsZero() || time.Since(lastEvent) > staleAfter,
		Strategies:  make([]strategyStatus, 0, len(names)),
	}

	for _, name := range names {
		state := snapshot.Strategies[name]
		symbol := s.provider.StrategySymbol(name)

		row := strategyStatus{
			Name:         name,
			Symbol:       symbol,
			Capital:      state.Capital,
			Position:     state.Position,
			LastPrice:    s.provider.LastPrice(symbol),
			ClosedTrades: len(state.Trades),
		}
		if state.InPosition() && row.LastPrice > 0 {
			row.UnrealizedPnL = state.Position.UnrealizedPnL(row.LastPrice)
		}

		response.Strategies = append(response.Strategies, row)
	}

	writeJSON(w, response)
}

// handleTrades renders the closed trades, most recent first
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	var filters []core.TradeFilter
	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		filters = append(filters, core.WithStrategy(strategy))
	}

	trades, err := s.provider.Trades()
	if err != nil {
		s.log.WithError(err).Error("dashboard: failed to load trades")
		http.Error(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	selected := make([]core.Trade, 0, len(trades))
	for _, trade := range trades {
		keep := true
		for _, filter := range filters {
			if !filter(trade) {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, trade)
		}
	}

	// Most recent first
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].ExitTime.After(selected[j].ExitTime)
	})

	writeJSON(w, selected)
}

// handleHealth reports whether market data is still flowing
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	lastEvent := s.provider.LastEventAt()

	if lastEvent.IsZero() || time.Since(lastEvent) > staleAfter {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, lastEvent.String())
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleIndex renders the polling HTML page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	if err := s.index.Execute(w, nil); err != nil {
		s.log.Error("Template execution failed: ", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>dryrun</title>
<style>
  body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
  h1 { font-size: 1.2em; }
  table { border-collapse: collapse; margin-bottom: 2em; }
  th, td { border: 1px solid #444; padding: 4px 10px; text-align: right; }
  th { background: #222; }
  td:first-child, th:first-child { text-align: left; }
  .pos { color: #6c6; }
  .neg { color: #c66; }
  #stale { color: #c66; display: none; }
</style>
</head>
<body>
<h1>dryrun <span id="stale">[STALE FEED]</span></h1>
<table id="status">
  <thead>
    <tr><th>Strategy</th><th>Symbol</th><th>Capital</th><th>Position</th><th>Price</th><th>Unrealized</th><th>Trades</th></tr>
  </thead>
  <tbody></tbody>
</table>
<h1>Closed trades</h1>
<table id="trades">
  <thead>
    <tr><th>Strategy</th><th>Side</th><th>Entry</th><th>Exit</th><th>PnL</th><th>%</th><th>Reason</th><th>Closed</th></tr>
  </thead>
  <tbody></tbody>
</table>
<script>
function cls(v) { return v >= 0 ? "pos" : "neg"; }
function fmt(v, d) { return v.toFixed(d === undefined ? 2 : d); }

async function refresh() {
  try {
    const status = await (await fetch("/api/status")).json();
    document.getElementById("stale").style.display = status.stale ? "inline" : "none";
    const body = document.querySelector("#status tbody");
    body.innerHTML = "";
    for (const s of status.strategies) {
      const pos = s.position
        ? s.position.side + " " + fmt(s.position.size, 6) + " @ " + fmt(s.position.entry_price, 4)
        : "flat";
      body.innerHTML += "<tr><td>" + s.name + "</td><td>" + s.symbol + "</td><td>" +
        fmt(s.capital) + "</td><td>" + pos + "</td><td>" + fmt(s.last_price, 4) +
        "</td><td class=" + cls(s.unrealized_pnl) + ">" + fmt(s.unrealized_pnl) +
        "</td><td>" + s.closed_trades + "</td></tr>";
    }

    const trades = await (await fetch("/api/trades")).json();
    const tbody = document.querySelector("#trades tbody");
    tbody.innerHTML = "";
    for (const t of trades.slice(0, 50)) {
      tbody.innerHTML += "<tr><td>" + t.strategy + "</td><td>" + t.side + "</td><td>" +
        fmt(t.entry_price, 4) + "</td><td>" + fmt(t.exit_price, 4) +
        "</td><td class=" + cls(t.pnl) + ">" + fmt(t.pnl) +
        "</td><td class=" + cls(t.pnl_pct) + ">" + fmt(t.pnl_pct) +
        "</td><td>" + t.reason + "</td><td>" + new Date(t.exit_time).toLocaleString() +
        "</td></tr>";
    }
  } catch (e) {
    document.getElementById("stale").style.display = "inline";
  }
}

refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
