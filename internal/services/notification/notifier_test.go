package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/faithtrack-bot-go/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	logger, hook := test.NewNullLogger()
	notifier := NewTelegramNotifier(sender, NewLogNotifier(logger))

	err := notifier.Notify(ctx, &models.Notification{
		SubscriberID: "anon-1",
		ChatID:       99,
		Title:        "Good morning",
		Body:         "Pray <now> & rest",
		Urgency:      models.UrgencyGentle,
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Equal(t, "<b>Good morning</b>\n\nPray &lt;now&gt; &amp; rest", msg.Text)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.True(t, msg.DisableNotification)

	// subscribers without a chat fall back to the log
	require.NoError(t, notifier.Notify(ctx, &models.Notification{SubscriberID: "anon-2", Title: "Evening reflection"}))
	assert.Len(t, sender.sent, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "anon-2", hook.LastEntry().Data["subscriber_id"])

	sender.err = errors.New("Forbidden: bot was blocked by the user")
	assert.Error(t, notifier.Notify(ctx, &models.Notification{ChatID: 99}))
}
