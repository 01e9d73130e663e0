package dryrun

import (
	"github.com/raykavin/dryrun/internal/core"
	"github.com/raykavin/dryrun/pkg/logger"
)

// Option is a functional option for configuring a Bot instance
type Option func(*Bot)

// WithLogger replaces the default logger
func WithLogger(log logger.Logger) Option {
	return func(bot *Bot) {
		bot.log = log
	}
}

// WithSnapshotStore sets the engine state store, by default a local file
// called state.json
func WithSnapshotStore(store core.SnapshotStore) Option {
	return func(bot *Bot) {
		bot.store = store
	}
}

// WithJournal sets the trade journal, by default a local file selected by
// the journal driver configuration
func WithJournal(journal core.Journal) Option {
	return func(bot *Bot) {
		bot.journal = journal
	}
}

// WithNotifier registers a notifier to the bot, currently only telegram is
// built in
func WithNotifier(notifier core.Notifier) Option {
	return func(bot *Bot) {
		bot.notifier = notifier
		if bot.manager != nil {
			bot.manager.SetNotifier(notifier)
		}
	}
}
