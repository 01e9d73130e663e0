package dryrun

import (
	"github.com/raykavin/dryrun/internal/notification"
)

// initializeNotifications sets up notification systems like Telegram
func initializeNotifications(bot *Bot) error {
	if !bot.config.Telegram.Enabled {
		return nil
	}

	telegram, err := notification.NewTelegram(
		bot,
		bot.config.Telegram.Token,
		bot.config.Telegram.Users,
		bot.log,
	)
	if err != nil {
		return err
	}

	bot.telegram = telegram

	// Register telegram as notifier
	WithNotifier(bot.telegram)(bot)

	return nil
}
