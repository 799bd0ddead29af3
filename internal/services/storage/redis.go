package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	subscribersKey = "notify:subscribers"
	// long enough to cover the previous local day in any timezone
	lastSentTTL  = 48 * time.Hour
	userStateTTL = time.Hour
)

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, logger), nil
}

// NewRedisStorageWithClient wraps an already connected client
func NewRedisStorageWithClient(client *redis.Client, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{client: client, logger: logger}
}

func (r *RedisStorage) getJSON(ctx context.Context, key string, out any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStorage) GetUserSettings(ctx context.Context, userID int64) (*models.UserSettings, error) {
	var settings models.UserSettings
	found, err := r.getJSON(ctx, fmt.Sprintf("user_settings:%d", userID), &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

func (r *RedisStorage) SaveUserSettings(ctx context.Context, userID int64, settings *models.UserSettings) error {
	key := fmt.Sprintf("user_settings:%d", userID)
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisStorage) GetPreferences(ctx context.Context, subscriberID string) (*models.NotificationPreferences, error) {
	var prefs models.NotificationPreferences
	found, err := r.getJSON(ctx, "notify:prefs:"+subscriberID, &prefs)
	if err != nil || !found {
		return nil, err
	}
	return &prefs, nil
}

func (r *RedisStorage) SavePreferences(ctx context.Context, prefs *models.NotificationPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, "notify:prefs:"+prefs.SubscriberID, data, 0)
		pipe.SAdd(ctx, subscribersKey, prefs.SubscriberID)
		return nil
	})
	return err
}

func (r *RedisStorage) DeletePreferences(ctx context.Context, subscriberID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, "notify:prefs:"+subscriberID, "notify:last_sent:"+subscriberID)
		pipe.SRem(ctx, subscribersKey, subscriberID)
		return nil
	})
	return err
}

func (r *RedisStorage) ListSubscribers(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, subscribersKey).Result()
}

func (r *RedisStorage) GetLastSent(ctx context.Context, subscriberID string) (string, error) {
	value, err := r.client.Get(ctx, "notify:last_sent:"+subscriberID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (r *RedisStorage) SetLastSent(ctx context.Context, subscriberID, date string) error {
	return r.client.Set(ctx, "notify:last_sent:"+subscriberID, date, lastSentTTL).Err()
}

func (r *RedisStorage) GetUserState(ctx context.Context, userID int64, key string) (string, error) {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	value, err := r.client.Get(ctx, stateKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	return value, err
}

func (r *RedisStorage) SetUserState(ctx context.Context, userID int64, key string, value string) error {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	return r.client.Set(ctx, stateKey, value, userStateTTL).Err()
}

func (r *RedisStorage) DeleteUserState(ctx context.Context, userID int64, key string) error {
	stateKey := fmt.Sprintf("user_state:%d:%s", userID, key)
	return r.client.Del(ctx, stateKey).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
