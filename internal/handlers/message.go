package handlers

import (
	"context"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/i18n"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/moderation"
	"github.com/faithtrack-bot-go/internal/services/ratelimit"
	"github.com/faithtrack-bot-go/internal/services/storage"
	"github.com/faithtrack-bot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// MessageHandler turns composed messages into community posts
type MessageHandler struct {
	config    *config.Config
	bot       Sender
	storage   *storage.Manager
	limiter   *ratelimit.Limiter
	moderator *moderation.Moderator
	localizer *i18n.Localizer
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	cfg *config.Config,
	bot Sender,
	storage *storage.Manager,
	limiter *ratelimit.Limiter,
	moderator *moderation.Moderator,
	localizer *i18n.Localizer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		config:    cfg,
		bot:       bot,
		storage:   storage,
		limiter:   limiter,
		moderator: moderator,
		localizer: localizer,
		metrics:   m,
		logger:    logger,
	}
}

// HandleMessage processes regular messages
func (h *MessageHandler) HandleMessage(ctx context.Context, update *tgbotapi.Update) error {
	if update.Message == nil || update.Message.IsCommand() {
		return nil
	}
	if update.Message.From == nil || update.Message.From.IsBot {
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordMessageReceived(update.Message.Chat.Type)
	}

	userID := update.Message.From.ID
	composing, err := h.storage.GetUserState(ctx, userID, stateCompose)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read compose state")
		return nil
	}
	if composing != "true" || update.Message.Text == "" {
		return nil
	}

	if err := h.storage.DeleteUserState(ctx, userID, stateCompose); err != nil {
		h.logger.WithError(err).Warn("Failed to clear compose state")
	}
	return h.handlePost(ctx, update.Message)
}

// handlePost runs a post through the creation budget and moderation, then
// publishes it to the community chat
func (h *MessageHandler) handlePost(ctx context.Context, message *tgbotapi.Message) error {
	userID := message.From.ID
	lang := userLanguage(ctx, h.storage, userID, h.config.I18n.DefaultLanguage)

	limit, err := h.limiter.Consume(ctx, userKey(userID), models.ActionPostCreation)
	if err != nil {
		return err
	}
	if !limit.Allowed {
		return h.replyTo(message, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{
			"RetryAfter": formatWait(limit.RetryAfter),
		}))
	}

	result := h.moderator.ModerateContent(ctx, message.Text, userKey(userID), "post")

	logger := h.logger.WithFields(logrus.Fields{
		"user_id":         userID,
		"approved":        result.IsApproved,
		"requires_review": result.RequiresReview,
		"flags":           result.Flags,
	})

	switch {
	case !result.IsApproved:
		logger.Info("Post rejected")
		return h.replyTo(message, h.localizer.Get(lang, i18n.MsgPostRejected, map[string]interface{}{
			"Reason": result.Reason,
		}))
	case result.RequiresReview:
		logger.Info("Post held for review")
		return h.replyTo(message, h.localizer.Get(lang, i18n.MsgPostPendingReview, nil))
	}

	if err := h.publish(message.Text); err != nil {
		logger.WithError(err).Error("Failed to publish post")
		return h.replyTo(message, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	logger.Info("Post published")
	return h.replyTo(message, h.localizer.Get(lang, i18n.MsgPostPublished, nil))
}

// publish sends the post to the community chat as HTML, retrying as plain
// text when Telegram rejects the markup
func (h *MessageHandler) publish(content string) error {
	chatID := h.config.Bot.CommunityChatID
	if chatID == 0 {
		h.logger.Debug("No community chat configured, post not forwarded")
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, markdown.ToTelegramHTML(content))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.WithError(err).Warn("Failed to send HTML post, trying plain text")
		msg.ParseMode = ""
		msg.Text = content
		_, err = h.bot.Send(msg)
		return err
	}
	return nil
}

func (h *MessageHandler) replyTo(message *tgbotapi.Message, text string) error {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	_, err := h.bot.Send(msg)
	return err
}
