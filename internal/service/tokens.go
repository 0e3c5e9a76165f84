package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/sync-keeper/internal/errs"
)

// TokenService issues and verifies HS256 access tokens whose subject is the
// account id.
type TokenService struct {
	signKey []byte
	ttl     time.Duration
	leeway  time.Duration
	now     func() time.Time
}

// NewTokenService constructs a token service. A non-positive ttl defaults to one hour.
func NewTokenService(signKey []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{signKey: signKey, ttl: ttl, leeway: 30 * time.Second, now: time.Now}
}

// Issue creates a signed token for accountID.
func (s *TokenService) Issue(accountID uuid.UUID) (string, time.Time, error) {
	if accountID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("validation: empty account: %w", errs.ErrInvalidArgument)
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Verify checks signature and time claims and returns the account id.
// Every failure wraps errs.ErrUnauthorized.
func (s *TokenService) Verify(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("bad subject: %w", errs.ErrUnauthorized)
	}
	return id, nil
}
