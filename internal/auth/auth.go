package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

var errNoBackendLogin = fmt.Errorf("%w: login is not available on this device", repository.ErrUnauthorized)

// Claims are the session claims issued by the backend's login endpoint.
type Claims struct {
	UserID string      `json:"user_id"`
	Role   entity.Role `json:"role"`
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	jwt.RegisteredClaims
}

func (c *Claims) User() entity.User {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	return entity.User{ID: id, Email: c.Email, Name: c.Name, Role: c.Role}
}

func (c *Claims) IsStaff() bool {
	return c.User().IsStaff()
}

// Parse verifies an HS256 token and returns its claims. Failures wrap
// repository.ErrUnauthorized.
func Parse(token, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnauthorized, err)
	}
	if claims.User().ID == "" {
		return nil, fmt.Errorf("%w: token has no user", repository.ErrUnauthorized)
	}
	return claims, nil
}

// Issue signs a token for user. The daemon only uses it for local staff
// sessions and tests; customers get their tokens from the backend.
func Issue(user entity.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		Name:   user.Name,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SessionStore keeps the device's current session token in Redis so a
// restarted daemon resumes the signed-in cart.
type SessionStore struct {
	rdb *redis.Client
	key string
}

func NewSessionStore(rdb *redis.Client, deviceID string) *SessionStore {
	key := "session"
	if deviceID != "" {
		key = fmt.Sprintf("%s:session", deviceID)
	}
	return &SessionStore{rdb: rdb, key: key}
}

// Save stores token until the token itself expires.
func (s *SessionStore) Save(ctx context.Context, token string, claims *Claims) error {
	ttl := 24 * time.Hour
	if claims != nil && claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			return fmt.Errorf("%w: token expired", repository.ErrUnauthorized)
		}
	}
	return s.rdb.Set(ctx, s.key, token, ttl).Err()
}

// Load returns the stored token, or "" when there is none.
func (s *SessionStore) Load(ctx context.Context) (string, error) {
	token, err := s.rdb.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return token, nil
}

func (s *SessionStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
