package i18n

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/notification"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer. English is built in; other languages
// are loaded from <directory>/<lang>.json.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	if err := bundle.AddMessages(language.English, englishMessages...); err != nil {
		return nil, fmt.Errorf("failed to add built-in messages: %w", err)
	}

	defaultLanguage := strings.ToLower(cfg.DefaultLanguage)
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	languages := append([]string{"en"}, cfg.Languages...)

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		lang = strings.ToLower(lang)
		if _, ok := localizers[lang]; ok {
			continue
		}
		path := filepath.Join(cfg.Directory, lang+".json")
		if _, err := bundle.LoadMessageFile(path); err != nil {
			// English needs no file
			if lang != "en" || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
			}
		}
		localizers[lang] = i18n.NewLocalizer(bundle, lang, defaultLanguage)
	}

	if _, ok := localizers[defaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %s is not configured", defaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

func (l *Localizer) localizer(lang string) *i18n.Localizer {
	if localizer, ok := l.localizers[strings.ToLower(lang)]; ok {
		return localizer
	}
	return l.localizers[l.defaultLanguage]
}

// Supported reports whether lang has a loaded localizer
func (l *Localizer) Supported(lang string) bool {
	_, ok := l.localizers[strings.ToLower(lang)]
	return ok
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	msg, ok := localize(l.localizer(lang), &i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if !ok {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message localizes a daily reminder. Title and body fall back to the
// built-in table independently.
func (l *Localizer) Message(lang string, bucket models.TimeBucket, urgency models.Urgency) notification.Message {
	msg := notification.DefaultMessage(bucket, urgency)
	id := fmt.Sprintf("reminder_%s_%s", bucket, urgency)
	localizer := l.localizer(lang)

	if title, ok := localize(localizer, &i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{ID: id + "_title", Other: msg.Title},
	}); ok {
		msg.Title = title
	}
	if body, ok := localize(localizer, &i18n.LocalizeConfig{
		DefaultMessage: &i18n.Message{ID: id + "_body", Other: msg.Body},
	}); ok {
		msg.Body = body
	}
	return msg
}

// localize accepts go-i18n's fallback text, which it returns alongside a
// MessageNotFoundErr when the requested language lacks the message
func localize(localizer *i18n.Localizer, lc *i18n.LocalizeConfig) (string, bool) {
	msg, err := localizer.Localize(lc)
	if err == nil {
		return msg, true
	}
	var notFound *i18n.MessageNotFoundErr
	if errors.As(err, &notFound) && msg != "" {
		return msg, true
	}
	return "", false
}

// Message IDs
const (
	MsgWelcome           = "welcome"
	MsgHelp              = "help"
	MsgUnknownCommand    = "unknown_command"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgError             = "error"
	MsgPrayerLogged      = "prayer_logged"
	MsgPostPrompt        = "post_prompt"
	MsgPostPublished     = "post_published"
	MsgPostPendingReview = "post_pending_review"
	MsgPostRejected      = "post_rejected"
	MsgNotifyUsage       = "notify_usage"
	MsgNotifySet         = "notify_set"
	MsgNotifyDisabled    = "notify_disabled"
	MsgNotifyStatus      = "notify_status"
	MsgNotifyNone        = "notify_none"
	MsgLimitsHeader      = "limits_header"
	MsgLimitsLine        = "limits_line"
	MsgSearchUsage       = "search_usage"
	MsgSearchResults     = "search_results"
	MsgSearchEmpty       = "search_empty"
	MsgLanguageChanged   = "language_changed"
	MsgLanguageInvalid   = "language_invalid"
)

var englishMessages = []*i18n.Message{
	{ID: MsgWelcome, Other: "Welcome to FaithTrack, {{.Name}}! Build a daily habit of prayer and Scripture. Send /help to see what I can do."},
	{ID: MsgHelp, Other: "Commands:\n/pray - log a prayer session\n/post - share with the community\n/notify HH:MM [gentle|moderate|urgent] [timezone] - daily reminder\n/notify off - stop reminders\n/limits - your remaining budgets\n/search <text> - search community posts\n/language <code> - change language"},
	{ID: MsgUnknownCommand, Other: "Unknown command. Send /help for the list of commands."},
	{ID: MsgRateLimitExceeded, Other: "You're doing that too often. Try again in {{.RetryAfter}}."},
	{ID: MsgError, Other: "Something went wrong. Please try again later."},
	{ID: MsgPrayerLogged, Other: "Prayer logged. {{.Remaining}} more can be logged this hour."},
	{ID: MsgPostPrompt, Other: "Send the text of your post. Markdown is supported."},
	{ID: MsgPostPublished, Other: "Your post has been shared with the community."},
	{ID: MsgPostPendingReview, Other: "Thanks! Your post will be shared once a moderator reviews it."},
	{ID: MsgPostRejected, Other: "Your post could not be shared: {{.Reason}}"},
	{ID: MsgNotifyUsage, Other: "Usage: /notify HH:MM [gentle|moderate|urgent] [timezone], or /notify off"},
	{ID: MsgNotifySet, Other: "Daily reminder set for {{.Time}} ({{.Timezone}}), tone: {{.Urgency}}."},
	{ID: MsgNotifyDisabled, Other: "Daily reminders are off."},
	{ID: MsgNotifyStatus, Other: "Your daily reminder is at {{.Time}} ({{.Timezone}}), tone: {{.Urgency}}."},
	{ID: MsgNotifyNone, Other: "You have no daily reminder. Use /notify HH:MM to set one."},
	{ID: MsgLimitsHeader, Other: "Your remaining budgets:"},
	{ID: MsgLimitsLine, Other: "{{.Action}}: {{.Remaining}} of {{.Max}}, resets in {{.ResetIn}}"},
	{ID: MsgSearchUsage, Other: "Usage: /search <text>"},
	{ID: MsgSearchResults, Other: "Posts matching \"{{.Query}}\":"},
	{ID: MsgSearchEmpty, Other: "No posts match \"{{.Query}}\"."},
	{ID: MsgLanguageChanged, Other: "Language changed to {{.Language}}."},
	{ID: MsgLanguageInvalid, Other: "Unsupported language. Available: {{.Languages}}"},
}

// Languages lists loaded language codes
func (l *Localizer) Languages() []string {
	langs := make([]string, 0, len(l.localizers))
	for lang := range l.localizers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

var _ notification.MessageSource = (*Localizer)(nil)
