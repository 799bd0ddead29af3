package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/policy"
	"github.com/faithtrack-bot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
	ch   chan models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, *n)
	if r.ch != nil {
		r.ch <- *n
	}
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func nullLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func at(hour, minute int) time.Time {
	return time.Date(2024, time.June, 23, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(t *testing.T, notifier Notifier, now func() time.Time) (*Scheduler, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage(&config.Config{}, nullLogger())
	pol, err := policy.New(nil, nullLogger(), metrics.NewMetrics())
	require.NoError(t, err)

	s, err := NewScheduler(
		config.NotificationsConfig{Enabled: true, Tolerance: 5 * time.Minute, DefaultTimezone: "UTC"},
		store, notifier, nil, pol, nullLogger(), metrics.NewMetrics(), now,
	)
	require.NoError(t, err)
	return s, store
}

func subscribe(t *testing.T, s *Scheduler, preferred string) *models.NotificationPreferences {
	t.Helper()
	prefs, err := s.SetPreferences(context.Background(), models.NotificationPreferences{
		Enabled:       true,
		PreferredTime: preferred,
		Urgency:       models.UrgencyModerate,
	})
	require.NoError(t, err)
	return prefs
}

func TestCheckAndShow_OncePerDay(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: at(9, 3)}
	notifier := &recordingNotifier{}
	s, store := newTestScheduler(t, notifier, clock.Now)
	prefs := subscribe(t, s, "09:00")

	shown, err := s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.True(t, shown)

	clock.Set(at(9, 4))
	shown, err = s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.False(t, shown)

	require.Equal(t, 1, notifier.count())
	n := notifier.sent[0]
	assert.Equal(t, models.BucketMorning, n.Bucket)
	assert.Equal(t, models.UrgencyModerate, n.Urgency)
	assert.Equal(t, DefaultMessage(models.BucketMorning, models.UrgencyModerate).Title, n.Title)

	date, err := store.GetLastSent(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-23", date)

	// the next day fires again
	clock.Set(at(9, 0).AddDate(0, 0, 1))
	shown, err = s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.True(t, shown)
}

func TestCheckAndShow_Tolerance(t *testing.T) {
	tt := []struct {
		desc      string
		now       time.Time
		wantShown bool
	}{
		{desc: "too early", now: at(8, 54), wantShown: false},
		{desc: "window opens", now: at(8, 55), wantShown: true},
		{desc: "on time", now: at(9, 0), wantShown: true},
		{desc: "window closes", now: at(9, 5), wantShown: true},
		{desc: "too late", now: at(9, 6), wantShown: false},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			s, _ := newTestScheduler(t, &recordingNotifier{}, func() time.Time { return ts.now })
			prefs := subscribe(t, s, "09:00")

			shown, err := s.CheckAndShow(context.Background(), prefs.SubscriberID)
			require.NoError(t, err)
			assert.Equal(t, ts.wantShown, shown)
		})
	}
}

func TestCheckAndShow_MidnightWindow(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: at(23, 58)}
	notifier := &recordingNotifier{}
	s, _ := newTestScheduler(t, notifier, clock.Now)
	prefs := subscribe(t, s, "23:59")

	shown, err := s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	require.True(t, shown)

	// after midnight the same slot is still inside its window
	clock.Set(at(0, 2).AddDate(0, 0, 1))
	shown, err = s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.False(t, shown)
	assert.Equal(t, models.BucketEvening, notifier.sent[0].Bucket)
}

func TestCheckAndShow_Timezone(t *testing.T) {
	ctx := context.Background()
	// 09:02 in Tokyo
	s, _ := newTestScheduler(t, &recordingNotifier{}, func() time.Time { return at(0, 2) })
	prefs, err := s.SetPreferences(ctx, models.NotificationPreferences{
		Enabled:       true,
		PreferredTime: "09:00",
		Timezone:      "Asia/Tokyo",
	})
	require.NoError(t, err)

	shown, err := s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.True(t, shown)
}

func TestCheckAndShow_DeliveryFailureRetries(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{err: errors.New("chat not found")}
	s, store := newTestScheduler(t, notifier, func() time.Time { return at(9, 0) })
	prefs := subscribe(t, s, "09:00")

	shown, err := s.CheckAndShow(ctx, prefs.SubscriberID)
	assert.Error(t, err)
	assert.False(t, shown)

	date, err := store.GetLastSent(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.Empty(t, date)

	notifier.err = nil
	shown, err = s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.True(t, shown)
}

func TestCheckAndShow_DisabledAndUnknown(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	s, _ := newTestScheduler(t, notifier, func() time.Time { return at(9, 0) })
	prefs := subscribe(t, s, "09:00")

	require.NoError(t, s.Disable(ctx, prefs.SubscriberID))
	shown, err := s.CheckAndShow(ctx, prefs.SubscriberID)
	require.NoError(t, err)
	assert.False(t, shown)

	_, err = s.CheckAndShow(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUnknownSubscriber)

	require.NoError(t, s.Unsubscribe(ctx, prefs.SubscriberID))
	_, err = s.GetPreferences(ctx, prefs.SubscriberID)
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
	assert.Equal(t, 0, notifier.count())
}

func TestSetPreferences_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t, &recordingNotifier{}, nil)

	tt := []struct {
		desc  string
		prefs models.NotificationPreferences
	}{
		{desc: "bad time", prefs: models.NotificationPreferences{PreferredTime: "9am"}},
		{desc: "out of range time", prefs: models.NotificationPreferences{PreferredTime: "25:00"}},
		{desc: "bad urgency", prefs: models.NotificationPreferences{PreferredTime: "09:00", Urgency: "panic"}},
		{desc: "bad timezone", prefs: models.NotificationPreferences{PreferredTime: "09:00", Timezone: "Mars/Olympus"}},
	}
	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			_, err := s.SetPreferences(ctx, ts.prefs)
			assert.ErrorIs(t, err, ErrInvalidPreferences)
		})
	}

	prefs, err := s.SetPreferences(ctx, models.NotificationPreferences{PreferredTime: "18:30", Language: "ES"})
	require.NoError(t, err)
	assert.NotEmpty(t, prefs.SubscriberID)
	assert.Equal(t, models.UrgencyGentle, prefs.Urgency)
	assert.Equal(t, "UTC", prefs.Timezone)
	assert.Equal(t, "es", prefs.Language)
}

func TestNextDelay(t *testing.T) {
	s, _ := newTestScheduler(t, &recordingNotifier{}, nil)
	prefs := &models.NotificationPreferences{Enabled: true, PreferredTime: "09:00", Timezone: "UTC"}

	tt := []struct {
		desc     string
		now      time.Time
		lastSent string
		want     time.Duration
	}{
		{desc: "before the window", now: at(7, 0), want: time.Hour + 55*time.Minute},
		{desc: "inside the window", now: at(9, 2), want: 0},
		{desc: "after the window", now: at(10, 0), want: 22*time.Hour + 55*time.Minute},
		{desc: "already sent today", now: at(9, 2), lastSent: "2024-06-23", want: 23*time.Hour + 53*time.Minute},
	}
	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			delay, ok := s.NextDelay(prefs, ts.lastSent, ts.now)
			require.True(t, ok)
			assert.Equal(t, ts.want, delay)
		})
	}

	_, ok := s.NextDelay(&models.NotificationPreferences{Enabled: false, PreferredTime: "09:00"}, "", at(7, 0))
	assert.False(t, ok)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, models.BucketEvening, BucketFor(4))
	assert.Equal(t, models.BucketMorning, BucketFor(5))
	assert.Equal(t, models.BucketMorning, BucketFor(11))
	assert.Equal(t, models.BucketAfternoon, BucketFor(12))
	assert.Equal(t, models.BucketAfternoon, BucketFor(16))
	assert.Equal(t, models.BucketEvening, BucketFor(17))
}

func TestRun_DeliversOnPreferenceChange(t *testing.T) {
	notifier := &recordingNotifier{ch: make(chan models.Notification, 1)}
	s, _ := newTestScheduler(t, notifier, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// nobody is due yet, so Run is parked on its idle timer until the kick
	subscribe(t, s, time.Now().UTC().Format(clockLayout))

	select {
	case n := <-notifier.ch:
		assert.Equal(t, models.UrgencyModerate, n.Urgency)
	case <-time.After(5 * time.Second):
		t.Fatal("reminder was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, notifier.count())
}
