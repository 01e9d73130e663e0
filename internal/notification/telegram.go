// Package notification provides implementations for various notification services
package notification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"slices"

	"github.com/jpillora/backoff"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/internal/metric"
	"github.com/raykavin/dryrun/pkg/logger"
)

// closeRegexp matches manual close commands, e.g. /close BTC_RSI
var closeRegexp = regexp.MustCompile(`/close\s+(?P<name>\w+)`)

const sendAttempts = 3

// Controller is the engine surface the telegram bot drives
type Controller interface {
	// View returns a copy of the current engine state
	View() *core.Snapshot

	// LastPrice returns the freshest known price for a symbol, zero if none
	LastPrice(symbol string) float64

	// StrategySymbol returns the pair a strategy trades, empty when unknown
	StrategySymbol(name string) string

	// Trades returns all closed trades
	Trades() ([]core.Trade, error)

	// RequestClose closes the open position of a strategy at market
	RequestClose(name string) (core.Trade, error)
}

// Telegram implements the core.NotifierWithStart interface
type telegram struct {
	controller  Controller
	users       []int
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         logger.Logger
}

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(controller Controller, token string, users []int, log logger.Logger) (core.NotifierWithStart, error) {
	// Initialize menu and poller
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: 10 * time.Second}

	// Create user authorization middleware
	userMiddleware := createAuthMiddleware(poller, users, log)

	// Initialize bot client
	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     token,
		Poller:    userMiddleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	// Setup keyboard and commands
	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &telegram{
		controller:  controller,
		client:      client,
		users:       users,
		defaultMenu: menu,
		log:         log,
	}

	// Register command handlers
	registerHandlers(client, bot)

	return bot, nil
}

// createAuthMiddleware creates a middleware to validate authorized users
func createAuthMiddleware(poller *tb.LongPoller, users []int, log logger.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(users, int(u.Message.Sender.ID)) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn = menu.Text("/status")
		profitBtn = menu.Text("/profit")
		closeBtn  = menu.Text("/close")
		helpBtn   = menu.Text("/help")
	)

	menu.Reply(
		menu.Row(statusBtn, profitBtn),
		menu.Row(closeBtn, helpBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/status", Description: "Capital and open positions"},
		{Text: "/profit", Description: "Summary of closed trade results"},
		{Text: "/close", Description: "Close the position of a strategy"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/profit", bot.ProfitHandle)
	client.Handle("/close", bot.CloseHandle)
}

// Start begins the Telegram bot and notifies all authorized users
func (t *telegram) Start() {
	go t.client.Start()
	t.sendMessageWithOptions("Bot initialized.", t.defaultMenu)
}

// Notify sends a message to all authorized users. Delivery happens in the
// background so the engine never waits on the Telegram API.
func (t *telegram) Notify(text string) {
	go t.broadcast(text)
}

// broadcast delivers a message to every authorized user, retrying
// transient failures a few times before giving up
func (t *telegram) broadcast(text string) {
	for _, user := range t.users {
		to := &tb.User{ID: int64(user)}
		retry := &backoff.Backoff{Min: time.Second, Max: 10 * time.Second}

		var err error
		for attempt := 0; attempt < sendAttempts; attempt++ {
			if attempt > 0 {
				time.Sleep(retry.Duration())
			}
			if _, err = t.client.Send(to, text); err == nil {
				break
			}
		}
		if err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

// sendMessageWithOptions sends a message to all authorized users with additional options
func (t *telegram) sendMessageWithOptions(text string, options ...interface{}) {
	for _, user := range t.users {
		_, err := t.client.Send(&tb.User{ID: int64(user)}, text, options...)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification with options")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *telegram) sendMessage(to *tb.User, text string, options ...interface{}) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// HelpHandle displays available commands
func (t *telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		t.OnError(err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle displays capital and open positions per strategy
func (t *telegram) StatusHandle(m *tb.Message) {
	message := formatStatusMessage(t.controller.View(),
		t.controller.StrategySymbol, t.controller.LastPrice)
	t.sendMessage(m.Sender, message)
}

// ProfitHandle shows closed trading results
func (t *telegram) ProfitHandle(m *tb.Message) {
	trades, err := t.controller.Trades()
	if err != nil {
		t.OnError(err)
		return
	}

	t.sendMessage(m.Sender, formatProfitMessage(metric.Summarize(trades)))
}

// CloseHandle closes the open position of a strategy at the last price
func (t *telegram) CloseHandle(m *tb.Message) {
	match := closeRegexp.FindStringSubmatch(m.Text)
	if len(match) == 0 {
		t.sendMessage(m.Sender, "Invalid command.\nExample of usage:\n`/close BTC_RSI`")
		return
	}

	trade, err := t.controller.RequestClose(match[1])
	if err != nil {
		t.sendMessage(m.Sender, fmt.Sprintf("Close failed: `%s`", err.Error()))
		return
	}

	t.sendMessage(m.Sender, fmt.Sprintf("Closed `%s`: PnL `%.2f` (`%.2f%%`)",
		trade.Strategy, trade.PnL, trade.PnLPercent))
}

// OnPositionOpened notifies users that a strategy entered a position
func (t *telegram) OnPositionOpened(strategy, symbol string, position core.Position) {
	t.Notify(formatPositionOpenedMessage(strategy, symbol, position))
}

// OnPositionClosed notifies users that a position was closed
func (t *telegram) OnPositionClosed(trade core.Trade, capital float64) {
	t.Notify(formatPositionClosedMessage(trade, capital))
}

// OnError notifies users about errors
func (t *telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n")
	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}

// formatStatusMessage renders capital and positions of every strategy
func formatStatusMessage(snapshot *core.Snapshot, symbolOf func(string) string,
	lastPrice func(string) float64) string {

	if len(snapshot.Strategies) == 0 {
		return "No strategies registered."
	}

	names := make([]string, 0, len(snapshot.Strategies))
	for name := range snapshot.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("*STATUS*\n")

	for _, name := range names {
		state := snapshot.Strategies[name]
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "*%s*\n", name)
		fmt.Fprintf(&sb, "Capital: `%.2f`\n", state.Capital)

		if !state.InPosition() {
			sb.WriteString("Position: `flat`\n")
			continue
		}

		position := state.Position
		fmt.Fprintf(&sb, "Position: `%s`\n", position)

		if price := lastPrice(symbolOf(name)); price > 0 {
			fmt.Fprintf(&sb, "Price: `%.8f` PnL: `%.2f`\n",
				price, position.UnrealizedPnL(price))
		}
	}

	return sb.String()
}

// formatProfitMessage renders per strategy results of closed trades
func formatProfitMessage(summaries []metric.StrategySummary) string {
	if len(summaries) == 0 {
		return "No trades registered."
	}

	var sb strings.Builder
	sb.WriteString("*PROFIT*\n")

	total := 0.0
	for _, summary := range summaries {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "*%s* `%s`\n", summary.Name, summary.Symbol)
		fmt.Fprintf(&sb, "Trades: `%d` Win: `%.1f%%`\n",
			summary.Trades(), metric.WinRate(summary.PnLs))
		fmt.Fprintf(&sb, "Profit: `%.2f` PF: `%.2f`\n",
			summary.Profit(), metric.ProfitFactor(summary.Returns))
		total += summary.Profit()
	}

	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "Total: `%.2f`\n", total)

	return sb.String()
}

// formatPositionOpenedMessage renders an entry alert
func formatPositionOpenedMessage(strategy, symbol string, position core.Position) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🆕 POSITION OPENED - %s\n", strategy)
	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "Symbol: `%s`\n", symbol)
	fmt.Fprintf(&sb, "Side: `%s`\n", strings.ToUpper(string(position.Side)))
	fmt.Fprintf(&sb, "Entry: `%.8f`\n", position.EntryPrice)
	fmt.Fprintf(&sb, "Size: `%.8f`\n", position.Size)
	fmt.Fprintf(&sb, "Stop: `%.8f`\n", position.StopPrice)
	fmt.Fprintf(&sb, "Target: `%.8f`\n", position.TargetPrice)
	return sb.String()
}

// formatPositionClosedMessage renders an exit alert
func formatPositionClosedMessage(trade core.Trade, capital float64) string {
	title := "✅"
	if trade.PnL < 0 {
		title = "❌"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s POSITION CLOSED - %s\n", title, trade.Strategy)
	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "Symbol: `%s`\n", trade.Symbol)
	fmt.Fprintf(&sb, "Side: `%s`\n", strings.ToUpper(string(trade.Side)))
	fmt.Fprintf(&sb, "Entry: `%.8f`\n", trade.EntryPrice)
	fmt.Fprintf(&sb, "Exit: `%.8f`\n", trade.ExitPrice)
	fmt.Fprintf(&sb, "PnL: `%.2f` (`%.2f%%`)\n", trade.PnL, trade.PnLPercent)
	fmt.Fprintf(&sb, "Reason: `%s`\n", trade.Reason)
	fmt.Fprintf(&sb, "Capital: `%.2f`\n", capital)
	return sb.String()
}
