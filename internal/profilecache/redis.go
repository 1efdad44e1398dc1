package profilecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/bitebox/internal/domain"
)

const profileKeyPrefix = "bitebox:profile:"

// Redis is a Cache shared by all instances of the service.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedis wraps an existing client; its lifecycle stays with the caller.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

type cachedProfile struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Bio         *string   `json:"bio,omitempty"`
	AvatarURL   *string   `json:"avatarUrl,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r *Redis) Get(ctx context.Context, userID string) (domain.Profile, bool, error) {
	raw, err := r.client.Get(ctx, profileKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Profile{}, false, nil
	}
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("redis get profile: %w", err)
	}
	var cached cachedProfile
	if err := json.Unmarshal(raw, &cached); err != nil {
		// Corrupt entries behave as misses.
		return domain.Profile{}, false, nil
	}
	return domain.Profile{
		UserID:      cached.UserID,
		DisplayName: cached.DisplayName,
		Bio:         cached.Bio,
		AvatarURL:   cached.AvatarURL,
		UpdatedAt:   cached.UpdatedAt,
	}, true, nil
}

func (r *Redis) Set(ctx context.Context, profile domain.Profile) error {
	raw, err := json.Marshal(cachedProfile{
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
		UpdatedAt:   profile.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, profileKeyPrefix+profile.UserID, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set profile: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, profileKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis del profile: %w", err)
	}
	return nil
}
