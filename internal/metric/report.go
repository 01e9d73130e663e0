package metric

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"

	"github.com/raykavin/dryrun/internal/core"
)

// StrategySummary aggregates the closed trades of one strategy
type StrategySummary struct {
	Name    string
	Symbol  string
	PnLs    []float64 // per-trade profit in quote currency
	Returns []float64 // per-trade fractional returns
}

// Trades returns the number of closed trades
func (s StrategySummary) Trades() int {
	return len(s.PnLs)
}

// Wins returns the number of non-losing trades
func (s StrategySummary) Wins() int {
	wins := 0
	for _, pnl := range s.PnLs {
		if pnl >= 0 {
			wins++
		}
	}
	return wins
}

// Losses returns the number of losing trades
func (s StrategySummary) Losses() int {
	return s.Trades() - s.Wins()
}

// Profit returns the total profit in quote currency
func (s StrategySummary) Profit() float64 {
	total := 0.0
	for _, pnl := range s.PnLs {
		total += pnl
	}
	return total
}

// Summarize groups closed trades by strategy, ordered by name
func Summarize(trades []core.Trade) []StrategySummary {
	byName := make(map[string]*StrategySummary)

	for _, trade := range trades {
		summary, ok := byName[trade.Strategy]
		if !ok {
			summary = &StrategySummary{Name: trade.Strategy, Symbol: trade.Symbol}
			byName[trade.Strategy] = summary
		}
		summary.PnLs = append(summary.PnLs, trade.PnL)
		summary.Returns = append(summary.Returns, trade.PnLPercent/100)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]StrategySummary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, *byName[name])
	}
	return summaries
}

// WriteReport renders a performance report of all summaries: a table of
// per-strategy statistics, a histogram of returns and bootstrapped
// confidence intervals.
func WriteReport(w io.Writer, summaries []StrategySummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no closed trades yet")
		return
	}

	var (
		trades int
		wins   int
		loses  int
		total  float64
		sqn    float64
	)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Strategy", "Symbol", "Trades", "Win", "Loss", "% Win", "Payoff", "Pr Fact.", "SQN", "Profit"})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)

	returns := make([]float64, 0)
	avgPayoff := 0.0
	avgProfitFactor := 0.0

	for _, summary := range summaries {
		avgPayoff += Payoff(summary.Returns) * float64(summary.Trades())
		avgProfitFactor += ProfitFactor(summary.Returns) * float64(summary.Trades())

		table.Append([]string{
			summary.Name,
			summary.Symbol,
			strconv.Itoa(summary.Trades()),
			strconv.Itoa(summary.Wins()),
			strconv.Itoa(summary.Losses()),
			fmt.Sprintf("%.1f %%", WinRate(summary.PnLs)),
			fmt.Sprintf("%.3f", Payoff(summary.Returns)),
			fmt.Sprintf("%.3f", ProfitFactor(summary.Returns)),
			fmt.Sprintf("%.1f", SQN(summary.PnLs)),
			fmt.Sprintf("%.2f", summary.Profit()),
		})

		trades += summary.Trades()
		wins += summary.Wins()
		loses += summary.Losses()
		total += summary.Profit()
		sqn += SQN(summary.PnLs)
		returns = append(returns, summary.Returns...)
	}

	table.SetFooter([]string{
		"TOTAL",
		"",
		strconv.Itoa(trades),
		strconv.Itoa(wins),
		strconv.Itoa(loses),
		fmt.Sprintf("%.1f %%", float64(wins)/float64(trades)*100),
		fmt.Sprintf("%.3f", avgPayoff/float64(trades)),
		fmt.Sprintf("%.3f", avgProfitFactor/float64(trades)),
		fmt.Sprintf("%.1f", sqn/float64(len(summaries))),
		fmt.Sprintf("%.2f", total),
	})
	table.Render()

	fmt.Fprintln(w, "------ RETURN -------")
	returnsPercent := make([]float64, len(returns))
	for i, r := range returns {
		returnsPercent[i] = r * 100
	}
	if len(returnsPercent) > 0 {
		hist := histogram.Hist(15, returnsPercent)
		histogram.Fprint(w, hist, histogram.Linear(10))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "------ CONFIDENCE INTERVAL (95%) -------")
	for _, summary := range summaries {
		fmt.Fprintf(w, "| %s |\n", summary.Name)

		returnsInterval := Bootstrap(summary.Returns, Mean, 10000, 0.95)
		payoffInterval := Bootstrap(summary.Returns, Payoff, 10000, 0.95)
		profitFactorInterval := Bootstrap(summary.Returns, ProfitFactor, 10000, 0.95)

		fmt.Fprintf(w, "RETURN:      %.2f%% (%.2f%% ~ %.2f%%)\n",
			returnsInterval.Mean*100, returnsInterval.Lower*100, returnsInterval.Upper*100)
		fmt.Fprintf(w, "PAYOFF:      %.2f (%.2f ~ %.2f)\n",
			payoffInterval.Mean, payoffInterval.Lower, payoffInterval.Upper)
		fmt.Fprintf(w, "PROF.FACTOR: %.2f (%.2f ~ %.2f)\n",
			profitFactorInterval.Mean, profitFactorInterval.Lower, profitFactorInterval.Upper)
	}
}
