// Package notification delivers one anonymous daily reminder per subscriber
// close to the subscriber's preferred local time.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	dateLayout       = "2006-01-02"
	clockLayout      = "15:04"
	defaultTolerance = 5 * time.Minute
	// idleWake bounds how long Run sleeps when nobody is due
	idleWake = time.Hour
	// retryWake spaces out retries of a failed delivery inside its window
	retryWake = 30 * time.Second
)

var (
	ErrUnknownSubscriber  = errors.New("unknown subscriber")
	ErrInvalidPreferences = errors.New("invalid notification preferences")
)

// Store is the persisted state the scheduler needs
type Store interface {
	GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error)
	SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error
	DeletePreferences(ctx context.Context, subscriberID string) error
	ListSubscribers(ctx context.Context) ([]string, error)
	GetLastSent(ctx context.Context, subscriberID string) (string, error)
	SetLastSent(ctx context.Context, subscriberID, date string) error
}

// Scheduler decides when each subscriber is due and delivers the reminder
type Scheduler struct {
	enabled   bool
	tolerance time.Duration
	defaultTZ *time.Location

	store    Store
	notifier Notifier
	messages MessageSource
	policy   *policy.Policy
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// mu keeps a timer pass and an on-demand check from both delivering
	mu   sync.Mutex
	kick chan struct{}
}

// NewScheduler creates a scheduler. messages defaults to the built-in table.
func NewScheduler(
	cfg config.NotificationsConfig,
	store Store,
	notifier Notifier,
	messages MessageSource,
	pol *policy.Policy,
	logger *logrus.Logger,
	m *metrics.Metrics,
	now func() time.Time,
) (*Scheduler, error) {
	if now == nil {
		now = time.Now
	}
	if messages == nil {
		messages = StaticMessages{}
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	tz := cfg.DefaultTimezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load default timezone: %w", err)
	}

	return &Scheduler{
		enabled:   cfg.Enabled,
		tolerance: tolerance,
		defaultTZ: loc,
		store:     store,
		notifier:  notifier,
		messages:  messages,
		policy:    pol,
		logger:    logger,
		metrics:   m,
		now:       now,
		kick:      make(chan struct{}, 1),
	}, nil
}

// SetPreferences validates and stores prefs, assigning an anonymous
// subscriber ID when none is set
func (s *Scheduler) SetPreferences(ctx context.Context, prefs models.NotificationPreferences) (*models.NotificationPreferences, error) {
	if prefs.SubscriberID == "" {
		prefs.SubscriberID = uuid.NewString()
	}
	if _, _, err := parseClock(prefs.PreferredTime); err != nil {
		return nil, err
	}
	if prefs.Urgency == "" {
		prefs.Urgency = models.UrgencyGentle
	}
	if !prefs.Urgency.Valid() {
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrInvalidPreferences, prefs.Urgency)
	}
	if prefs.Timezone == "" {
		prefs.Timezone = s.defaultTZ.String()
	}
	if _, err := time.LoadLocation(prefs.Timezone); err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidPreferences, prefs.Timezone)
	}
	prefs.Language = strings.ToLower(prefs.Language)

	if err := s.store.SavePreferences(ctx, &prefs); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	s.wake()
	return &prefs, nil
}

// GetPreferences returns the stored preferences for subscriberID
func (s *Scheduler) GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error) {
	prefs, err := s.store.GetPreferences(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	if prefs == nil {
		return nil, ErrUnknownSubscriber
	}
	return prefs, nil
}

// Disable turns reminders off but keeps the preferences
func (s *Scheduler) Disable(ctx context.Context, subscriberID string) error {
	prefs, err := s.GetPreferences(ctx, subscriberID)
	if err != nil {
		return err
	}
	prefs.Enabled = false
	if err := s.store.SavePreferences(ctx, prefs); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	s.wake()
	return nil
}

// Unsubscribe forgets the subscriber entirely
func (s *Scheduler) Unsubscribe(ctx context.Context, subscriberID string) error {
	if err := s.store.DeletePreferences(ctx, subscriberID); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	s.wake()
	return nil
}

// CheckAndShow delivers today's reminder if the subscriber is within the
// tolerance of their preferred time and has not been reminded for that day.
// It reports whether a reminder was delivered.
func (s *Scheduler) CheckAndShow(ctx context.Context, subscriberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.GetPreferences(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	if !s.enabled || !prefs.Enabled {
		return false, nil
	}

	lastSent, err := s.store.GetLastSent(ctx, subscriberID)
	if err != nil {
		if !s.policy.Resolve(policy.Notification, err) {
			return false, fmt.Errorf("get last sent: %w", err)
		}
		lastSent = ""
	}

	slot, due := s.dueSlot(prefs, lastSent, s.now())
	if !due {
		return false, nil
	}

	bucket := BucketFor(slot.Hour())
	msg := s.messages.Message(prefs.Language, bucket, prefs.Urgency)
	n := &models.Notification{
		SubscriberID: prefs.SubscriberID,
		ChatID:       prefs.ChatID,
		Title:        msg.Title,
		Body:         msg.Body,
		Bucket:       bucket,
		Urgency:      prefs.Urgency,
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.record(n, "failed")
		return false, fmt.Errorf("deliver reminder: %w", err)
	}
	s.record(n, "delivered")

	// the guard is keyed by the slot's local date so a window spanning
	// midnight fires once
	if err := s.store.SetLastSent(ctx, subscriberID, slot.Format(dateLayout)); err != nil {
		s.policy.Resolve(policy.Notification, err)
	}

	s.logger.WithFields(logrus.Fields{
		"subscriber_id": subscriberID,
		"bucket":        bucket,
		"urgency":       prefs.Urgency,
	}).Info("Reminder delivered")
	return true, nil
}

// NextDelay returns how long until the subscriber next becomes due, zero if
// due now. ok is false when reminders are off or the time is unparseable.
func (s *Scheduler) NextDelay(prefs *models.NotificationPreferences, lastSent string, now time.Time) (delay time.Duration, ok bool) {
	if !s.enabled || prefs == nil || !prefs.Enabled {
		return 0, false
	}
	hour, minute, err := parseClock(prefs.PreferredTime)
	if err != nil {
		return 0, false
	}

	local := now.In(s.location(prefs))
	for offset := -1; offset <= 1; offset++ {
		day := local.AddDate(0, 0, offset)
		slot := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
		if slot.Format(dateLayout) == lastSent || local.After(slot.Add(s.tolerance)) {
			continue
		}
		if opens := slot.Add(-s.tolerance); local.Before(opens) {
			return opens.Sub(local), true
		}
		return 0, true
	}
	// today's slot was already delivered; tomorrow's is past the loop
	day := local.AddDate(0, 0, 2)
	slot := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
	return slot.Add(-s.tolerance).Sub(local), true
}

// dueSlot returns the preferred-time slot whose window contains now and that
// has not been delivered yet
func (s *Scheduler) dueSlot(prefs *models.NotificationPreferences, lastSent string, now time.Time) (time.Time, bool) {
	hour, minute, err := parseClock(prefs.PreferredTime)
	if err != nil {
		s.logger.WithError(err).WithField("subscriber_id", prefs.SubscriberID).Warn("Invalid preferred time")
		return time.Time{}, false
	}

	local := now.In(s.location(prefs))
	for offset := -1; offset <= 1; offset++ {
		day := local.AddDate(0, 0, offset)
		slot := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, local.Location())
		diff := local.Sub(slot)
		if diff < 0 {
			diff = -diff
		}
		if diff <= s.tolerance && slot.Format(dateLayout) != lastSent {
			return slot, true
		}
	}
	return time.Time{}, false
}

// Run delivers reminders until ctx is done. A single timer is armed for the
// earliest subscriber window and re-armed after each pass or preference change.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("Notification scheduler disabled")
		return nil
	}

	timer := time.NewTimer(s.nextWake(ctx))
	defer timer.Stop()

	for {
		passed := false
		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
		case <-timer.C:
			s.checkAll(ctx)
			passed = true
		}

		wake := s.nextWake(ctx)
		if passed && wake < retryWake {
			wake = retryWake
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wake)
		s.logger.WithField("wake_in", wake.String()).Debug("Notification timer armed")
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	ids, err := s.store.ListSubscribers(ctx)
	if err != nil {
		s.policy.Resolve(policy.Notification, err)
		return
	}
	for _, id := range ids {
		if _, err := s.CheckAndShow(ctx, id); err != nil {
			s.logger.WithError(err).WithField("subscriber_id", id).Warn("Reminder check failed")
		}
	}
}

// nextWake is the smallest NextDelay across subscribers
func (s *Scheduler) nextWake(ctx context.Context) time.Duration {
	ids, err := s.store.ListSubscribers(ctx)
	if err != nil {
		s.policy.Resolve(policy.Notification, err)
		return retryWake
	}

	wake := idleWake
	now := s.now()
	for _, id := range ids {
		prefs, err := s.store.GetPreferences(ctx, id)
		if err != nil || prefs == nil {
			continue
		}
		lastSent, err := s.store.GetLastSent(ctx, id)
		if err != nil {
			continue
		}
		if delay, ok := s.NextDelay(prefs, lastSent, now); ok && delay < wake {
			wake = delay
		}
	}
	return wake
}

func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) record(n *models.Notification, status string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(string(n.Bucket), string(n.Urgency), status)
	}
}

func (s *Scheduler) location(prefs *models.NotificationPreferences) *time.Location {
	if prefs.Timezone == "" {
		return s.defaultTZ
	}
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		return s.defaultTZ
	}
	return loc
}

func parseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: preferred time %q must be HH:MM", ErrInvalidPreferences, value)
	}
	return t.Hour(), t.Minute(), nil
}
