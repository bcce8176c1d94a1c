package kling

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mediagen/internal/tokencache"
)

const (
	// tokenLifetime is the cryptographic expiry claimed in the JWT.
	tokenLifetime = 30 * time.Minute
	// cacheMargin is subtracted from the cached lifetime so a token is
	// re-minted before the provider considers it expired, tolerating
	// clock skew between us and the provider.
	cacheMargin = 5 * time.Minute
	// notBeforeSkew backdates the nbf claim for the same reason.
	notBeforeSkew = 5 * time.Second
)

// TokenSource mints short-lived bearer tokens from an access/secret key pair
// and caches them keyed by the access-key identity. Concurrent refreshes are
// tolerated: every minted token is independently valid.
type TokenSource struct {
	accessKey string
	secretKey string
	cache     *tokencache.Cache
	now       func() time.Time
}

// NewTokenSource wires a token source around the injectable cache.
func NewTokenSource(accessKey, secretKey string, cache *tokencache.Cache) (*TokenSource, error) {
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("kling: access key and secret key are required")
	}
	if cache == nil {
		cache = tokencache.New()
	}
	return &TokenSource{
		accessKey: accessKey,
		secretKey: secretKey,
		cache:     cache,
		now:       time.Now,
	}, nil
}

// Token returns a cached bearer token, minting a fresh one on miss or
// expiry.
func (s *TokenSource) Token() (string, error) {
	if tok, ok := s.cache.Get(s.cacheKey()); ok {
		return tok, nil
	}
	tok, err := s.mint()
	if err != nil {
		return "", err
	}
	s.cache.Put(s.cacheKey(), tok, tokenLifetime-cacheMargin)
	return tok, nil
}

// Invalidate drops the cached token, forcing a re-mint on the next call.
// Used when the provider rejects a token ahead of its claimed expiry.
func (s *TokenSource) Invalidate() {
	s.cache.Evict(s.cacheKey())
}

func (s *TokenSource) cacheKey() string {
	return "kling:" + s.accessKey
}

func (s *TokenSource) mint() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.accessKey,
		"exp": now.Add(tokenLifetime).Unix(),
		"nbf": now.Add(-notBeforeSkew).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secretKey))
	if err != nil {
		return "", fmt.Errorf("kling: sign token: %w", err)
	}
	return signed, nil
}
