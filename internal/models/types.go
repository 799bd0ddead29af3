package models

import (
	"time"
)

// ActionType identifies a rate-limited user action
type ActionType string

const (
	ActionPostCreation ActionType = "post_creation"
	ActionInteraction  ActionType = "interaction"
	ActionPrayer       ActionType = "prayer"
	ActionLogin        ActionType = "login"
	ActionAPICalls     ActionType = "api_calls"
)

// AllActions lists every known action type
var AllActions = []ActionType{
	ActionPostCreation,
	ActionInteraction,
	ActionPrayer,
	ActionLogin,
	ActionAPICalls,
}

// Valid reports whether the action type is known
func (a ActionType) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// RateLimitConfig is the fixed-window budget of one action type
type RateLimitConfig struct {
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests"`
	Window      time.Duration `json:"window" mapstructure:"window"`
}

// RateLimitEntry is a counter within one fixed window
type RateLimitEntry struct {
	Key       string    `json:"key"`
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// Expired reports whether the window has closed at now
func (e *RateLimitEntry) Expired(now time.Time) bool {
	return !now.Before(e.ResetTime)
}

// RateLimitResult is the outcome of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	FailedOpen bool          `json:"failed_open,omitempty"`
}

// RateLimitStats summarizes limiter activity
type RateLimitStats struct {
	ActiveKeys    int            `json:"active_keys"`
	LimitedKeys   int            `json:"limited_keys"`
	KeysPerAction map[string]int `json:"keys_per_action"`
}

// RuleAction is what a matching moderation rule does
type RuleAction string

const (
	RuleBlock RuleAction = "block"
	RuleFlag  RuleAction = "flag"
	RuleAllow RuleAction = "allow"
)

// Severity of a moderation rule
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ModerationRule matches content by keyword or regular expression
type ModerationRule struct {
	ID          string     `json:"id" mapstructure:"id"`
	Name        string     `json:"name" mapstructure:"name"`
	Pattern     string     `json:"pattern" mapstructure:"pattern"`
	IsRegex     bool       `json:"is_regex" mapstructure:"is_regex"`
	Action      RuleAction `json:"action" mapstructure:"action"`
	Severity    Severity   `json:"severity" mapstructure:"severity"`
	Category    string     `json:"category" mapstructure:"category"`
	ForceReview bool       `json:"force_review" mapstructure:"force_review"`
}

// ModerationResult is the verdict for one piece of content
type ModerationResult struct {
	IsApproved     bool     `json:"is_approved"`
	Reason         string   `json:"reason,omitempty"`
	Confidence     float64  `json:"confidence"`
	Flags          []string `json:"flags"`
	RequiresReview bool     `json:"requires_review"`
}

// HasFlag reports whether flag was raised
func (r *ModerationResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ModerationLog is the audit row written per moderation call
type ModerationLog struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"author_id"`
	Category         string    `json:"category"`
	ContentPreview   string    `json:"content_preview"`
	IsApproved       bool      `json:"is_approved"`
	ModerationReason string    `json:"moderation_reason,omitempty"`
	ConfidenceScore  float64   `json:"confidence_score"`
	Flags            []string  `json:"flags"`
	RequiresReview   bool      `json:"requires_review"`
	CreatedAt        time.Time `json:"created_at"`
}

// ModerationStats aggregates audit rows
type ModerationStats struct {
	Total         int            `json:"total"`
	Approved      int            `json:"approved"`
	Rejected      int            `json:"rejected"`
	PendingReview int            `json:"pending_review"`
	FlagCounts    map[string]int `json:"flag_counts"`
}

// Urgency is the tone of a daily notification
type Urgency string

const (
	UrgencyGentle   Urgency = "gentle"
	UrgencyModerate Urgency = "moderate"
	UrgencyUrgent   Urgency = "urgent"
)

// Valid reports whether the urgency is known
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyGentle, UrgencyModerate, UrgencyUrgent:
		return true
	}
	return false
}

// TimeBucket is the part of day a notification targets
type TimeBucket string

const (
	BucketMorning   TimeBucket = "morning"
	BucketAfternoon TimeBucket = "afternoon"
	BucketEvening   TimeBucket = "evening"
)

// NotificationPreferences are the anonymous daily reminder settings
type NotificationPreferences struct {
	SubscriberID  string  `json:"subscriber_id"`
	Enabled       bool    `json:"enabled"`
	PreferredTime string  `json:"preferred_time"` // HH:MM, local to Timezone
	Urgency       Urgency `json:"urgency"`
	Timezone      string  `json:"timezone"`
	Language      string  `json:"language"`
	ChatID        int64   `json:"chat_id,omitempty"`
}

// Notification is a rendered reminder ready for delivery
type Notification struct {
	SubscriberID string     `json:"subscriber_id"`
	ChatID       int64      `json:"chat_id,omitempty"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	Bucket       TimeBucket `json:"bucket"`
	Urgency      Urgency    `json:"urgency"`
}

// SearchPost is a community post returned by search
type SearchPost struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Rank      float64   `json:"rank"`
}

// SearchUser is a user profile returned by search
type SearchUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// UserSettings represents user-specific settings
type UserSettings struct {
	UserID       int64
	Language     string
	SubscriberID string // anonymous reminder subscription, if any
}
