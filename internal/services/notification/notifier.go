package notification

import (
	"context"
	"fmt"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a rendered reminder
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// Sender is the part of the Telegram bot API used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends reminders as chat messages. Subscribers without a
// chat go to the fallback notifier.
type TelegramNotifier struct {
	bot      Sender
	fallback Notifier
}

func NewTelegramNotifier(bot Sender, fallback Notifier) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, fallback: fallback}
}

func (t *TelegramNotifier) Notify(ctx context.Context, n *models.Notification) error {
	if n.ChatID == 0 {
		if t.fallback == nil {
			return fmt.Errorf("subscriber %s has no chat", n.SubscriberID)
		}
		return t.fallback.Notify(ctx, n)
	}

	text := fmt.Sprintf("<b>%s</b>\n\n%s", markdown.Escape(n.Title), markdown.Escape(n.Body))
	msg := tgbotapi.NewMessage(n.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableNotification = n.Urgency == models.UrgencyGentle

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	return nil
}

// LogNotifier writes reminders to the log
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n *models.Notification) error {
	l.logger.WithFields(logrus.Fields{
		"subscriber_id": n.SubscriberID,
		"bucket":        n.Bucket,
		"urgency":       n.Urgency,
		"title":         n.Title,
	}).Info("Daily reminder")
	return nil
}
