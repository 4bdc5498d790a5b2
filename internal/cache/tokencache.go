// This file implements a process-wide cache for calendar provider
// bearer tokens (MS Graph access tokens), layered on top of the
// generic Redis Cache. Tokens are cached under their owning user id
// so a long-running archive CLI invocation or HTTP handler reuses a
// still-valid token instead of re-authenticating per request.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// cachedToken is the JSON-serializable form stored in Redis.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenCache wraps a Cache with token-specific key namespacing and
// expiry validation. A nil-backed Cache (Redis disabled) degrades to
// always-miss, matching Cache's own disabled-mode contract.
type TokenCache struct {
	cache *Cache
}

// NewTokenCache wraps an existing Cache.
func NewTokenCache(c *Cache) *TokenCache {
	return &TokenCache{cache: c}
}

func tokenKey(userID int64) string {
	return fmt.Sprintf("calendar:token:%d", userID)
}

// Get returns the cached access token for userID if present and not
// expired. A cache miss or an expired token both report ok=false; an
// expired token is not an error, just unusable.
func (t *TokenCache) Get(ctx context.Context, userID int64) (token string, ok bool, err error) {
	if !t.cache.IsEnabled() {
		return "", false, nil
	}

	var cached cachedToken
	if err := t.cache.Get(ctx, tokenKey(userID), &cached); err != nil {
		return "", false, nil
	}
	if time.Now().After(cached.ExpiresAt) {
		return "", false, nil
	}
	return cached.AccessToken, true, nil
}

// Set caches accessToken for userID until ttl from now or, when its
// JWT "exp" claim is present, parseable and earlier, until that exp.
func (t *TokenCache) Set(ctx context.Context, userID int64, accessToken string, ttl time.Duration) error {
	if !t.cache.IsEnabled() {
		return nil
	}

	expiresAt := time.Now().Add(ttl)
	if exp, ok := expiryFromJWT(accessToken); ok && exp.Before(expiresAt) {
		expiresAt = exp
	}

	return t.cache.Set(ctx, tokenKey(userID), cachedToken{AccessToken: accessToken, ExpiresAt: expiresAt}, ttl)
}

// Invalidate drops any cached token for userID, forcing the next Get
// to miss.
func (t *TokenCache) Invalidate(ctx context.Context, userID int64) error {
	if !t.cache.IsEnabled() {
		return nil
	}
	return t.cache.Delete(ctx, tokenKey(userID))
}

// expiryFromJWT decodes the unverified "exp" claim of a bearer token.
// It does not verify the token's signature: the cache only needs the
// claimed expiry to decide how long to hold onto a value it received
// from an already-authenticated call, not to authenticate the token
// itself.
func expiryFromJWT(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
