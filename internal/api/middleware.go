/**
 * @description
 * Authentication middleware for the wallet API. Bearer tokens are verified either with a
 * shared HMAC secret or against a JWKS endpoint (RSA), and the `sub` and `role` claims become
 * the request's domain.Principal. Server-to-server routes use a static API key instead.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and verification.
 * - golang.org/x/sync/singleflight: collapses concurrent JWKS refreshes.
 */

package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/wallet-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

type contextKey string

const principalContextKey = contextKey("principal")

const (
	jwksCacheTTL = 10 * time.Minute
	// jwksMinRefreshInterval throttles refetches triggered by unknown key ids.
	jwksMinRefreshInterval = 30 * time.Second
)

// AuthConfig selects how bearer tokens are verified. JWTSecret takes precedence over JWKSURL.
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
}

// Authenticator verifies bearer tokens.
type Authenticator struct {
	cfg        AuthConfig
	httpClient *http.Client
	now        func() time.Time
	refreshes  singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
	lastErr     error
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Middleware rejects requests without a valid token and stores the principal in the context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Invalid Authorization header format")
			return
		}

		principal, err := a.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", fmt.Sprintf("Invalid token: %v", err))
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses tokenString and returns the principal it carries.
func (a *Authenticator) Verify(tokenString string) (domain.Principal, error) {
	var opts []jwt.ParserOption
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	token, err := jwt.Parse(tokenString, a.keyFunc, opts...)
	if err != nil {
		return domain.Principal{}, err
	}
	if !token.Valid {
		return domain.Principal{}, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, errors.New("invalid token claims")
	}
	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return domain.Principal{}, errors.New("subject not found in token")
	}
	rawRole, _ := claims["role"].(string)
	role, ok := domain.ParseRole(rawRole)
	if !ok {
		return domain.Principal{}, fmt.Errorf("unsupported role %q", rawRole)
	}
	return domain.Principal{ID: subject, Role: role}, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if a.cfg.JWTSecret == "" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	case *jwt.SigningMethodRSA:
		if a.cfg.JWKSURL == "" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		key, err := a.publicKey(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

// publicKey returns the cached key for kid, refetching the JWKS when the cache is stale or
// the kid is unknown. Refetches run outside the key lock, one at a time, and at most once
// per jwksMinRefreshInterval.
func (a *Authenticator) publicKey(kid string) (*rsa.PublicKey, error) {
	if key, ok := a.cachedKey(kid); ok {
		return key, nil
	}
	if _, err, _ := a.refreshes.Do("jwks", a.refreshKeys); err != nil {
		return nil, err
	}
	if key, ok := a.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (a *Authenticator) cachedKey(kid string) (*rsa.PublicKey, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	key, ok := a.keys[kid]
	if !ok || a.now().Sub(a.fetchedAt) >= jwksCacheTTL {
		return nil, false
	}
	return key, true
}

func (a *Authenticator) refreshKeys() (interface{}, error) {
	a.mu.Lock()
	if !a.attemptedAt.IsZero() && a.now().Sub(a.attemptedAt) < jwksMinRefreshInterval {
		err := a.lastErr
		a.mu.Unlock()
		return nil, err
	}
	a.attemptedAt = a.now()
	a.mu.Unlock()

	keys, err := fetchJWKS(a.httpClient, a.cfg.JWKSURL)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if err != nil {
		return nil, err
	}
	a.keys = keys
	a.fetchedAt = a.now()
	return nil, nil
}

func fetchJWKS(client *http.Client, jwksURL string) (map[string]*rsa.PublicKey, error) {
	resp, err := client.Get(jwksURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return nil, fmt.Errorf("kid %s: %w", key.Kid, err)
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey builds a key from the base64url modulus and exponent of a JWK.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 {
		return nil, errors.New("empty exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

// InternalAuthMiddleware guards server-to-server routes with a static API key. With no key
// configured the routes are disabled.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				writeError(w, http.StatusServiceUnavailable, "internal_api_disabled", "Internal API is not configured")
				return
			}

			provided := r.Header.Get("X-Internal-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext returns the caller stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(domain.Principal)
	return p, ok
}
