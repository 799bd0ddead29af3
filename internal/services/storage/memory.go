package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStorage implements storage using in-memory cache
type MemoryStorage struct {
	userSettings *cache.Cache
	preferences  *cache.Cache
	lastSent     *cache.Cache
	userStates   *cache.Cache
	logger       *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	cleanup := cfg.Storage.Memory.CleanupInterval
	return &MemoryStorage{
		userSettings: cache.New(cache.NoExpiration, cache.NoExpiration),
		preferences:  cache.New(cache.NoExpiration, cache.NoExpiration),
		lastSent:     cache.New(lastSentTTL, cleanup),
		userStates:   cache.New(userStateTTL, cleanup),
		logger:       logger,
	}
}

func (m *MemoryStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	key := fmt.Sprintf("user_settings:%d", userID)
	if val, found := m.userSettings.Get(key); found {
		settings := *val.(*models.UserSettings)
		return &settings, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error {
	key := fmt.Sprintf("user_settings:%d", userID)
	stored := *settings
	m.userSettings.Set(key, &stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error) {
	if val, found := m.preferences.Get(subscriberID); found {
		prefs := *val.(*models.NotificationPreferences)
		return &prefs, nil
	}
	return nil, nil
}

func (m *MemoryStorage) SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	stored := *prefs
	m.preferences.Set(prefs.SubscriberID, &stored, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) DeletePreferences(ctx context.Context, subscriberID string) error {
	m.preferences.Delete(subscriberID)
	m.lastSent.Delete(subscriberID)
	return nil
}

func (m *MemoryStorage) ListSubscribers(ctx context.Context) ([]string, error) {
	items := m.preferences.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStorage) GetLastSent(ctx context.Context, subscriberID string) (string, error) {
	if val, found := m.lastSent.Get(subscriberID); found {
		return val.(string), nil
	}
	return "", nil
}

func (m *MemoryStorage) SetLastSent(ctx context.Context, subscriberID, date string) error {
	m.lastSent.SetDefault(subscriberID, date)
	return nil
}

func (m *MemoryStorage) GetUserState(ctx context.Context, userID int64, key string) (string, error) {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	if val, found := m.userStates.Get(stateKey); found {
		return val.(string), nil
	}
	return "", nil
}

func (m *MemoryStorage) SetUserState(ctx context.Context, userID int64, key string, value string) error {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	m.userStates.SetDefault(stateKey, value)
	return nil
}

func (m *MemoryStorage) DeleteUserState(ctx context.Context, userID int64, key string) error {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	m.userStates.Delete(stateKey)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
