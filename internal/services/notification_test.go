package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tgmodels.Message), args.Error(1)
}

func newTestNotifier(sender telegramSender) *NotificationService {
	ns, _ := NewNotificationService("", 0, "production", logrus.New())
	ns.sender = sender
	ns.chatID = 4242
	return ns
}

func TestNewNotificationService_Disabled(t *testing.T) {
	ns, err := NewNotificationService("", 0, "test", nil)
	require.NoError(t, err)
	assert.False(t, ns.Enabled())

	// disabled services accept alerts silently
	assert.NoError(t, ns.NotifyRunFailed(context.Background(), &models.SyncRun{}))
	assert.NoError(t, ns.NotifyBreakerOpen(context.Background(), BreakerSnapshot{Name: "yahoo"}))

	var nilService *NotificationService
	assert.False(t, nilService.Enabled())
}

func TestNotificationService_NotifyRunFailed(t *testing.T) {
	sender := &mockSender{}
	ns := newTestNotifier(sender)

	run := models.NewSyncRun(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), "production", "worker-1")
	run.RunID = uuid.MustParse("7f9d8a4e-3b0c-4d55-9a1e-3c0de3a1b2c4")
	run.Status = models.SyncRunFailed
	run.TotalSymbols = 10
	run.Processed = 4
	run.ErrorMessage = "store unavailable: <conn refused>"

	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		text := p.Text
		return p.ChatID == int64(4242) &&
			p.ParseMode == tgmodels.ParseModeHTML &&
			assert.Contains(t, text, "7f9d8a4e-3b0c-4d55-9a1e-3c0de3a1b2c4") &&
			assert.Contains(t, text, "Processed: 4/10") &&
			assert.Contains(t, text, "&lt;conn refused&gt;")
	})).Return(&tgmodels.Message{ID: 1}, nil).Once()

	require.NoError(t, ns.NotifyRunFailed(context.Background(), run))
	sender.AssertExpectations(t)
}

func TestNotificationService_BreakerCooldown(t *testing.T) {
	sender := &mockSender{}
	ns := newTestNotifier(sender)
	clock := newFakeClock()
	ns.now = clock.Now

	sender.On("SendMessage", mock.Anything, mock.Anything).Return(&tgmodels.Message{ID: 1}, nil)

	snap := BreakerSnapshot{Name: "alphavantage", State: "OPEN", FailureCount: 5}
	require.NoError(t, ns.NotifyBreakerOpen(context.Background(), snap))
	require.NoError(t, ns.NotifyBreakerOpen(context.Background(), snap))
	require.NoError(t, ns.NotifyBreakerOpen(context.Background(), BreakerSnapshot{Name: "yahoo"}))
	sender.AssertNumberOfCalls(t, "SendMessage", 2)

	clock.Advance(16 * time.Minute)
	require.NoError(t, ns.NotifyBreakerOpen(context.Background(), snap))
	sender.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestNotificationService_SendError(t *testing.T) {
	sender := &mockSender{}
	ns := newTestNotifier(sender)
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("bad gateway"))

	err := ns.NotifyRunFailed(context.Background(), &models.SyncRun{})
	assert.ErrorContains(t, err, "bad gateway")
}

func TestNotificationService_SendTest(t *testing.T) {
	disabled, err := NewNotificationService("", 0, "test", nil)
	require.NoError(t, err)
	assert.Error(t, disabled.SendTest(context.Background(), "host-a"))

	sender := &mockSender{}
	ns := newTestNotifier(sender)
	ns.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }
	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		return strings.Contains(p.Text, "Host: host-a") && strings.Contains(p.Text, "2024-05-01T09:30:00Z")
	})).Return(&tgmodels.Message{ID: 7}, nil).Once()

	require.NoError(t, ns.SendTest(context.Background(), "host-a"))
	sender.AssertExpectations(t)
}
