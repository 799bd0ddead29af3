package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/i18n"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/notification"
	"github.com/faithtrack-bot-go/internal/services/ratelimit"
	"github.com/faithtrack-bot-go/internal/services/search"
	"github.com/faithtrack-bot-go/internal/services/storage"
	"github.com/faithtrack-bot-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	// stateCompose marks a user whose next message is a community post
	stateCompose = "compose_post"

	searchResultLimit = 5
	previewLength     = 80
)

// limitedActions are the budgets shown by /limits
var limitedActions = []models.ActionType{
	models.ActionPostCreation,
	models.ActionPrayer,
	models.ActionInteraction,
}

// Sender is the part of the Telegram bot API the handlers use
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot       Sender
	config    *config.Config
	storage   *storage.Manager
	limiter   *ratelimit.Limiter
	scheduler *notification.Scheduler
	search    *search.Service
	localizer *i18n.Localizer
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot Sender,
	cfg *config.Config,
	storage *storage.Manager,
	limiter *ratelimit.Limiter,
	scheduler *notification.Scheduler,
	searchService *search.Service,
	localizer *i18n.Localizer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		config:    cfg,
		storage:   storage,
		limiter:   limiter,
		scheduler: scheduler,
		search:    searchService,
		localizer: localizer,
		metrics:   m,
		logger:    logger,
	}
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil {
		return nil
	}
	chatID := message.Chat.ID
	userID := message.From.ID
	command := message.Command()
	lang := userLanguage(ctx, h.storage, userID, h.config.I18n.DefaultLanguage)

	if h.metrics != nil {
		h.metrics.RecordCommandExecuted(command)
	}

	result, err := h.limiter.Consume(ctx, userKey(userID), models.ActionInteraction)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{
			"RetryAfter": formatWait(result.RetryAfter),
		}))
	}

	args := strings.TrimSpace(message.CommandArguments())

	switch command {
	case "start":
		return h.handleStart(ctx, chatID, message.From.FirstName, lang)
	case "help":
		return h.handleHelp(ctx, chatID, lang)
	case "pray":
		return h.handlePray(ctx, chatID, userID, lang)
	case "post":
		return h.handlePost(ctx, chatID, userID, lang)
	case "notify":
		return h.handleNotify(ctx, chatID, userID, args, lang)
	case "limits":
		return h.handleLimits(ctx, chatID, userID, lang)
	case "search":
		return h.handleSearch(ctx, chatID, args, lang)
	case "language":
		return h.handleLanguage(ctx, chatID, userID, args)
	default:
		return h.handleUnknown(ctx, chatID, lang)
	}
}

// handleStart handles /start command
func (h *CommandHandler) handleStart(ctx context.Context, chatID int64, name string, lang string) error {
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgWelcome, map[string]interface{}{
		"Name": name,
	}))
}

// handleHelp handles /help command
func (h *CommandHandler) handleHelp(ctx context.Context, chatID int64, lang string) error {
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgHelp, nil))
}

// handlePray logs a prayer session against the hourly budget
func (h *CommandHandler) handlePray(ctx context.Context, chatID int64, userID int64, lang string) error {
	result, err := h.limiter.Consume(ctx, userKey(userID), models.ActionPrayer)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{
			"RetryAfter": formatWait(result.RetryAfter),
		}))
	}
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgPrayerLogged, map[string]interface{}{
		"Remaining": result.Remaining,
	}))
}

// handlePost waits for the user's next message as a community post
func (h *CommandHandler) handlePost(ctx context.Context, chatID int64, userID int64, lang string) error {
	result, err := h.limiter.CheckRateLimit(ctx, userKey(userID), models.ActionPostCreation, nil)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{
			"RetryAfter": formatWait(result.RetryAfter),
		}))
	}

	if err := h.storage.SetUserState(ctx, userID, stateCompose, "true"); err != nil {
		h.logger.WithError(err).Error("Failed to set compose state")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgPostPrompt, nil))
}

// handleNotify shows, sets or disables the daily reminder.
// Usage: /notify, /notify off, /notify HH:MM [urgency] [timezone]
func (h *CommandHandler) handleNotify(ctx context.Context, chatID int64, userID int64, args string, lang string) error {
	settings, err := h.storage.GetUserSettings(ctx, userID)
	if err != nil || settings == nil {
		settings = &models.UserSettings{UserID: userID, Language: lang}
	}

	fields := strings.Fields(args)
	switch {
	case len(fields) == 0:
		return h.notifyStatus(ctx, chatID, settings.SubscriberID, lang)

	case strings.EqualFold(fields[0], "off"):
		if settings.SubscriberID != "" {
			if err := h.scheduler.Disable(ctx, settings.SubscriberID); err != nil && !errors.Is(err, notification.ErrUnknownSubscriber) {
				h.logger.WithError(err).Error("Failed to disable reminders")
				return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
			}
		}
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifyDisabled, nil))
	}

	prefs := models.NotificationPreferences{
		SubscriberID:  settings.SubscriberID,
		Enabled:       true,
		PreferredTime: fields[0],
		Language:      lang,
		ChatID:        chatID,
	}
	if len(fields) > 1 {
		prefs.Urgency = models.Urgency(strings.ToLower(fields[1]))
	}
	if len(fields) > 2 {
		prefs.Timezone = fields[2]
	}

	saved, err := h.scheduler.SetPreferences(ctx, prefs)
	if err != nil {
		if errors.Is(err, notification.ErrInvalidPreferences) {
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifyUsage, nil))
		}
		h.logger.WithError(err).Error("Failed to save reminder preferences")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	if settings.SubscriberID != saved.SubscriberID {
		settings.SubscriberID = saved.SubscriberID
		if err := h.storage.SaveUserSettings(ctx, userID, settings); err != nil {
			h.logger.WithError(err).Error("Failed to save user settings")
		}
	}

	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifySet, map[string]interface{}{
		"Time":     saved.PreferredTime,
		"Timezone": saved.Timezone,
		"Urgency":  saved.Urgency,
	}))
}

func (h *CommandHandler) notifyStatus(ctx context.Context, chatID int64, subscriberID string, lang string) error {
	if subscriberID == "" {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifyNone, nil))
	}
	prefs, err := h.scheduler.GetPreferences(ctx, subscriberID)
	if err != nil || !prefs.Enabled {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifyNone, nil))
	}
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgNotifyStatus, map[string]interface{}{
		"Time":     prefs.PreferredTime,
		"Timezone": prefs.Timezone,
		"Urgency":  prefs.Urgency,
	}))
}

// handleLimits lists the remaining budgets without counting against them
func (h *CommandHandler) handleLimits(ctx context.Context, chatID int64, userID int64, lang string) error {
	var text strings.Builder
	text.WriteString(h.localizer.Get(lang, i18n.MsgLimitsHeader, nil))

	for _, action := range limitedActions {
		limit, ok := h.limiter.Limit(action)
		if !ok {
			continue
		}
		result, err := h.limiter.CheckRateLimit(ctx, userKey(userID), action, nil)
		if err != nil {
			h.logger.WithError(err).WithField("action", action).Warn("Failed to check rate limit")
			continue
		}
		text.WriteString("\n")
		text.WriteString(h.localizer.Get(lang, i18n.MsgLimitsLine, map[string]interface{}{
			"Action":    action,
			"Remaining": result.Remaining,
			"Max":       limit.MaxRequests,
			"ResetIn":   formatWait(time.Until(result.ResetTime)),
		}))
	}

	return h.reply(chatID, text.String())
}

// handleSearch searches community posts
func (h *CommandHandler) handleSearch(ctx context.Context, chatID int64, query string, lang string) error {
	posts, err := h.search.SearchPosts(ctx, query, searchResultLimit)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return h.reply(chatID, h.localizer.Get(lang, i18n.MsgSearchUsage, nil))
		}
		h.logger.WithError(err).Error("Search failed")
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgError, nil))
	}

	data := map[string]interface{}{"Query": query}
	if len(posts) == 0 {
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgSearchEmpty, data))
	}

	var text strings.Builder
	text.WriteString(h.localizer.Get(lang, i18n.MsgSearchResults, data))
	for i, post := range posts {
		text.WriteString(fmt.Sprintf("\n%d. %s", i+1, markdown.Preview(post.Content, previewLength)))
	}
	return h.reply(chatID, text.String())
}

// handleLanguage changes the user's language
func (h *CommandHandler) handleLanguage(ctx context.Context, chatID int64, userID int64, newLang string) error {
	newLang = strings.ToLower(newLang)
	if !h.localizer.Supported(newLang) {
		lang := userLanguage(ctx, h.storage, userID, h.config.I18n.DefaultLanguage)
		return h.reply(chatID, h.localizer.Get(lang, i18n.MsgLanguageInvalid, map[string]interface{}{
			"Languages": strings.Join(h.localizer.Languages(), ", "),
		}))
	}

	settings, err := h.storage.GetUserSettings(ctx, userID)
	if err != nil || settings == nil {
		settings = &models.UserSettings{UserID: userID}
	}
	settings.Language = newLang
	if err := h.storage.SaveUserSettings(ctx, userID, settings); err != nil {
		h.logger.WithError(err).Error("Failed to save user settings")
		return h.reply(chatID, h.localizer.Get(newLang, i18n.MsgError, nil))
	}

	// reminders follow the new language
	if settings.SubscriberID != "" {
		if prefs, err := h.scheduler.GetPreferences(ctx, settings.SubscriberID); err == nil {
			prefs.Language = newLang
			if _, err := h.scheduler.SetPreferences(ctx, *prefs); err != nil {
				h.logger.WithError(err).Warn("Failed to update reminder language")
			}
		}
	}

	return h.reply(chatID, h.localizer.Get(newLang, i18n.MsgLanguageChanged, map[string]interface{}{
		"Language": newLang,
	}))
}

// handleUnknown handles unknown commands
func (h *CommandHandler) handleUnknown(ctx context.Context, chatID int64, lang string) error {
	return h.reply(chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
}

func (h *CommandHandler) reply(chatID int64, text string) error {
	_, err := h.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func userLanguage(ctx context.Context, store *storage.Manager, userID int64, fallback string) string {
	settings, err := store.GetUserSettings(ctx, userID)
	if err != nil || settings == nil || settings.Language == "" {
		return fallback
	}
	return settings.Language
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// formatWait renders a wait rounded to whole seconds
func formatWait(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return d.Round(time.Second).String()
}
