package storage

import (
	"context"
	"fmt"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Storage interface defines storage operations
type Storage interface {
	// User settings operations
	GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error)
	SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error

	// Notification preference operations
	GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error)
	SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error
	DeletePreferences(ctx context.Context, subscriberID string) error
	ListSubscribers(ctx context.Context) ([]string, error)

	// Once-per-day guard, date formatted as 2006-01-02
	GetLastSent(ctx context.Context, subscriberID string) (string, error)
	SetLastSent(ctx context.Context, subscriberID, date string) error

	// User state operations
	GetUserState(ctx context.Context, userID int64, key string) (string, error)
	SetUserState(ctx context.Context, userID int64, key string, value string) error
	DeleteUserState(ctx context.Context, userID int64, key string) error

	Close() error
}

// Manager manages different storage backends
type Manager struct {
	storage     Storage
	logger      *logrus.Logger
	redisClient *redis.Client
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.storage = redisStorage
		manager.redisClient = redisStorage.client
	case "memory":
		manager.storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")
	return manager, nil
}

// NewManagerWithStorage wraps an existing backend
func NewManagerWithStorage(storage Storage, logger *logrus.Logger) *Manager {
	manager := &Manager{storage: storage, logger: logger}
	if rs, ok := storage.(*RedisStorage); ok {
		manager.redisClient = rs.client
	}
	return manager
}

// Delegate methods to underlying storage
func (m *Manager) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	return m.storage.GetUserSettings(ctx, userID)
}

func (m *Manager) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error {
	return m.storage.SaveUserSettings(ctx, userID, settings)
}

func (m *Manager) GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error) {
	return m.storage.GetPreferences(ctx, subscriberID)
}

func (m *Manager) SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	return m.storage.SavePreferences(ctx, prefs)
}

func (m *Manager) DeletePreferences(ctx context.Context, subscriberID string) error {
	return m.storage.DeletePreferences(ctx, subscriberID)
}

func (m *Manager) ListSubscribers(ctx context.Context) ([]string, error) {
	return m.storage.ListSubscribers(ctx)
}

func (m *Manager) GetLastSent(ctx context.Context, subscriberID string) (string, error) {
	return m.storage.GetLastSent(ctx, subscriberID)
}

func (m *Manager) SetLastSent(ctx context.Context, subscriberID, date string) error {
	return m.storage.SetLastSent(ctx, subscriberID, date)
}

func (m *Manager) GetUserState(ctx context.Context, userID int64, key string) (string, error) {
	return m.storage.GetUserState(ctx, userID, key)
}

func (m *Manager) SetUserState(ctx context.Context, userID int64, key string, value string) error {
	return m.storage.SetUserState(ctx, userID, key, value)
}

func (m *Manager) DeleteUserState(ctx context.Context, userID int64, key string) error {
	return m.storage.DeleteUserState(ctx, userID, key)
}

func (m *Manager) Close() error {
	return m.storage.Close()
}

// GetRedisClient returns the Redis client if available
func (m *Manager) GetRedisClient() *redis.Client {
	return m.redisClient
}
