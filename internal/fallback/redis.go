package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"food-ordering-kiosk/internal/entity"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisStore persists the anonymous cart in the device's local Redis under a
// single "cart" key holding a JSON array of lines.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger zerolog.Logger
}

// NewRedisStore scopes the cart key by device id, e.g. "kiosk-3:cart".
func NewRedisStore(rdb *redis.Client, deviceID string, logger zerolog.Logger) *RedisStore {
	key := "cart"
	if deviceID != "" {
		key = fmt.Sprintf("%s:cart", deviceID)
	}
	return &RedisStore{
		rdb:    rdb,
		key:    key,
		logger: logger.With().Str("component", "fallback").Logger(),
	}
}

func (s *RedisStore) Key() string {
	return s.key
}

// Load returns the persisted lines. A missing key is an empty cart.
func (s *RedisStore) Load(ctx context.Context) ([]entity.CartLine, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		s.logger.Error().Err(err).Msgf("Error reading fallback cart %s", s.key)
		return nil, err
	}

	var lines []entity.CartLine
	if err := json.Unmarshal([]byte(val), &lines); err != nil {
		s.logger.Error().Err(err).Msgf("Error unmarshalling fallback cart %s", s.key)
		return nil, err
	}
	return lines, nil
}

func (s *RedisStore) Save(ctx context.Context, lines []entity.CartLine) error {
	if len(lines) == 0 {
		return s.Clear(ctx)
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		s.logger.Error().Err(err).Msgf("Error writing fallback cart %s", s.key)
		return err
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
