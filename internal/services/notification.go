package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// telegramSender is the part of *bot.Bot the notifier uses.
type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// NotificationService posts operator alerts to a Telegram chat. A service
// built without a token or chat id drops every alert.
type NotificationService struct {
	sender      telegramSender
	chatID      int64
	environment string
	logger      *logrus.Logger

	// breaker alerts are throttled per provider
	mu            sync.Mutex
	lastBreakerAt map[string]time.Time
	cooldown      time.Duration
	now           func() time.Time
}

func NewNotificationService(botToken string, chatID int64, environment string, logger *logrus.Logger) (*NotificationService, error) {
	if logger == nil {
		logger = logrus.New()
	}
	ns := &NotificationService{
		chatID:        chatID,
		environment:   environment,
		logger:        logger,
		lastBreakerAt: make(map[string]time.Time),
		cooldown:      15 * time.Minute,
		now:           time.Now,
	}
	if botToken == "" || chatID == 0 {
		logger.Info("Telegram alerts disabled")
		return ns, nil
	}

	// getMe is skipped so a Telegram outage cannot block a sync run from starting.
	b, err := bot.New(botToken, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	ns.sender = b
	return ns, nil
}

// Enabled reports whether alerts are delivered.
func (ns *NotificationService) Enabled() bool {
	return ns != nil && ns.sender != nil
}

// NotifyRunFailed reports a sync run that ended in failed.
func (ns *NotificationService) NotifyRunFailed(ctx context.Context, run *models.SyncRun) error {
	if !ns.Enabled() || run == nil {
		return nil
	}
	return ns.send(ctx, ns.formatRunFailedMessage(run))
}

// NotifyBreakerOpen reports a provider breaker opening, at most once per
// cooldown per provider.
func (ns *NotificationService) NotifyBreakerOpen(ctx context.Context, snapshot BreakerSnapshot) error {
	if !ns.Enabled() {
		return nil
	}

	ns.mu.Lock()
	now := ns.now()
	if last, ok := ns.lastBreakerAt[snapshot.Name]; ok && now.Sub(last) < ns.cooldown {
		ns.mu.Unlock()
		return nil
	}
	ns.lastBreakerAt[snapshot.Name] = now
	ns.mu.Unlock()

	return ns.send(ctx, ns.formatBreakerMessage(snapshot))
}

// SendTest delivers a test message so operators can verify the bot token
// and chat id without waiting for a real failure.
func (ns *NotificationService) SendTest(ctx context.Context, hostname string) error {
	if !ns.Enabled() {
		return errors.New("telegram alerts are not configured")
	}
	text := fmt.Sprintf("✅ <b>Price sync alert check</b> (%s)\nHost: %s\nSent: %s\n",
		html.EscapeString(ns.environment),
		html.EscapeString(hostname),
		ns.now().UTC().Format(time.RFC3339))
	return ns.send(ctx, text)
}

func (ns *NotificationService) send(ctx context.Context, text string) error {
	_, err := ns.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		ns.logger.WithError(err).Warn("Failed to send telegram alert")
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

func (ns *NotificationService) formatRunFailedMessage(run *models.SyncRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔴 <b>Price sync failed</b> (%s)\n", html.EscapeString(ns.environment))
	fmt.Fprintf(&b, "Run: <code>%s</code>\n", run.RunID)
	fmt.Fprintf(&b, "Host: %s\n", html.EscapeString(run.Hostname))
	fmt.Fprintf(&b, "Started: %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Processed: %d/%d\n", run.Processed, run.TotalSymbols)
	fmt.Fprintf(&b, "Primary: %d  Fallback: %d  Failed: %d  Skipped: %d\n",
		run.PrimarySuccess, run.FallbackSuccess, run.Failed, run.Skipped)
	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", html.EscapeString(run.ErrorMessage))
	}
	return b.String()
}

func (ns *NotificationService) formatBreakerMessage(s BreakerSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ <b>Provider circuit open</b> (%s)\n", html.EscapeString(ns.environment))
	fmt.Fprintf(&b, "Provider: %s\n", html.EscapeString(s.Name))
	fmt.Fprintf(&b, "Failures: %d\n", s.FailureCount)
	if !s.LastFailureTime.IsZero() {
		fmt.Fprintf(&b, "Last failure: %s\n", s.LastFailureTime.UTC().Format(time.RFC3339))
	}
	return b.String()
}
