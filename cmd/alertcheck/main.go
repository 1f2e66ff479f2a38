// Command alertcheck validates the Telegram alert configuration by sending a
// test message to the configured chat.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/logging"
	"github.com/irfndi/celebrum-pricesync/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	if cfg.Telegram.BotToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is not configured")
		os.Exit(1)
	}
	if cfg.Telegram.ChatID == 0 {
		logger.Error("TELEGRAM_CHAT_ID is not configured")
		os.Exit(1)
	}

	ns, err := services.NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Environment, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create Telegram bot")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	host := services.NewResourceOptimizer(logger).SystemInfo(ctx).Hostname
	if err := ns.SendTest(ctx, host); err != nil {
		logger.WithError(err).Error("Telegram alert check failed")
		os.Exit(1)
	}
	logger.WithField("chat_id", cfg.Telegram.ChatID).Info("Telegram alert check passed")
}
