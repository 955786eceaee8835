package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Authenticator exchanges credentials for a signed token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// TokenHolder attaches the session token to backend requests.
type TokenHolder interface {
	SetToken(token string)
}

// CartSession is the cart bound to the signed-in user.
type CartSession interface {
	SetUser(ctx context.Context, userID string) error
	Logout(ctx context.Context) error
}

// Session tracks who is signed in on this device and keeps the cart, the
// backend client and the persisted token in step with it.
type Session struct {
	secret string
	authn  Authenticator
	tokens TokenHolder
	store  *SessionStore
	cart   CartSession
	logger zerolog.Logger

	mu     sync.Mutex
	claims *Claims
}

// NewSession accepts nil authn, tokens and store.
func NewSession(secret string, authn Authenticator, tokens TokenHolder, store *SessionStore, cart CartSession, logger zerolog.Logger) *Session {
	return &Session{
		secret: secret,
		authn:  authn,
		tokens: tokens,
		store:  store,
		cart:   cart,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// Current returns the signed-in user's claims, or nil for an anonymous session.
func (s *Session) Current() *Claims {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims
}

// Login signs in through the backend and starts a session with the token.
func (s *Session) Login(ctx context.Context, email, password string) (*Claims, error) {
	if s.authn == nil {
		return nil, errNoBackendLogin
	}
	token, err := s.authn.Login(ctx, email, password)
	if err != nil {
		s.logger.Warn().Err(err).Msgf("Login failed for %s", email)
		return nil, err
	}
	return s.Start(ctx, token)
}

// Start validates token and switches the cart to its user.
func (s *Session) Start(ctx context.Context, token string) (*Claims, error) {
	claims, err := Parse(token, s.secret)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.claims = claims
	s.mu.Unlock()
	if s.tokens != nil {
		s.tokens.SetToken(token)
	}
	if s.store != nil {
		if err := s.store.Save(ctx, token, claims); err != nil {
			s.logger.Error().Err(err).Msg("Error persisting session token")
		}
	}

	user := claims.User()
	s.logger.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("Session started")
	if err := s.cart.SetUser(ctx, user.ID); err != nil {
		return claims, err
	}
	return claims, nil
}

// End signs out and returns the cart to the anonymous device cart.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	s.claims = nil
	s.mu.Unlock()
	if s.tokens != nil {
		s.tokens.SetToken("")
	}
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Error clearing session token")
		}
	}
	return s.cart.Logout(ctx)
}

// Restore resumes the session persisted before a restart. An expired or
// invalid token falls back to an anonymous session.
func (s *Session) Restore(ctx context.Context) error {
	if s.store != nil {
		token, err := s.store.Load(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error reading session token")
		}
		if token != "" {
			if _, err := s.Start(ctx, token); err == nil {
				return nil
			}
			s.logger.Warn().Msg("Stored session is no longer valid")
			if err := s.store.Clear(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Error clearing session token")
			}
		}
	}
	return s.cart.SetUser(ctx, "")
}
