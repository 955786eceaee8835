package auth

import (
	"context"
	"testing"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	token, err := Issue(entity.User{ID: "s1", Name: "Sam", Email: "sam@diner.test", Role: entity.RoleStaff}, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.User().ID)
	assert.Equal(t, "Sam", claims.Name)
	assert.True(t, claims.IsStaff())
}

func TestParseRejects(t *testing.T) {
	token, err := Issue(entity.User{ID: "u1", Role: entity.RoleCustomer}, "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other")
	assert.ErrorIs(t, err, repository.ErrUnauthorized)

	expired, err := Issue(entity.User{ID: "u1"}, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, "secret")
	assert.ErrorIs(t, err, repository.ErrUnauthorized)

	_, err = Parse("not-a-token", "secret")
	assert.ErrorIs(t, err, repository.ErrUnauthorized)

	anon, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Name: "nobody"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = Parse(anon, "secret")
	assert.ErrorIs(t, err, repository.ErrUnauthorized)
}

func TestSubjectFallback(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u9"}, Role: entity.RoleAdmin}
	assert.Equal(t, "u9", claims.User().ID)
	assert.True(t, claims.User().IsAdmin())
}

func TestSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewSessionStore(rdb, "kiosk-1")
	ctx := context.Background()

	token, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	require.NoError(t, store.Save(ctx, "tok", claims))
	assert.True(t, mr.Exists("kiosk-1:session"))
	assert.Greater(t, mr.TTL("kiosk-1:session"), 50*time.Minute)

	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists("kiosk-1:session"))
}
