package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

const defaultRoleClaim = "user_role"

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey verifies HS256 tokens signed with the store's shared secret.
	SigningKey []byte
	// RoleClaim names the claim carrying the console role. Defaults to "user_role".
	RoleClaim string
	Skipper   func(c echo.Context) bool
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSResponse represents the response from a JWKS endpoint.
type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches JWKS keys fetched from a remote endpoint with a configurable TTL.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

// NewJWKSCache creates a new JWKS cache that fetches keys from the given URL.
func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the RSA public key for kid, refetching on miss or expiry.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

// SessionMiddleware resolves the caller's Session from the bearer token.
// A request without a token gets a resolved anonymous session; a request with
// an invalid token is rejected.
func SessionMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	parse := tokenParser(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				setSession(c, Session{Resolved: true})
				return next(c)
			}

			tokenStr, err := bearer(authHeader)
			if err != nil {
				return err
			}
			sess, err := parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			setSession(c, sess)
			return next(c)
		}
	}
}

// DevSessionMiddleware signs every token-less request in as an admin
// "dev-user". Requests that do carry a token are verified as usual.
func DevSessionMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := SessionMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			setSession(c, Session{
				Identity: &Identity{ID: "dev-user"},
				Role:     RoleAdmin,
				Resolved: true,
			})
			return next(c)
		}
	}
}

func bearer(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func tokenParser(cfg JWTConfig) func(string) (Session, error) {
	roleClaim := cfg.RoleClaim
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var keyFunc jwt.Keyfunc
	switch {
	case len(cfg.SigningKey) > 0:
		keyFunc = func(t *jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	case cfg.JWKSURL != "":
		keyFunc = jwksKeyFunc(cfg.JWKSURL)
	default:
		keyFunc = func(t *jwt.Token) (interface{}, error) {
			return nil, fmt.Errorf("no verification key configured")
		}
	}

	return func(tokenStr string) (Session, error) {
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
		if err != nil {
			return Session{}, err
		}
		if !token.Valid {
			return Session{}, fmt.Errorf("token not valid")
		}

		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return Session{}, fmt.Errorf("token has no subject")
		}
		email, _ := claims["email"].(string)

		return Session{
			Identity: &Identity{ID: sub, Email: email},
			Role:     roleFromClaim(claims[roleClaim]),
			Resolved: true,
			Token:    tokenStr,
		}, nil
	}
}

func roleFromClaim(v any) Role {
	switch r := v.(type) {
	case string:
		return Role(r)
	case []any:
		for _, item := range r {
			if s, ok := item.(string); ok && s != "" {
				return Role(s)
			}
		}
	}
	return NoRole
}

func setSession(c echo.Context, s Session) {
	ctx := WithSession(c.Request().Context(), s)
	if s.Token != "" {
		ctx = store.WithAccessToken(ctx, s.Token)
	}
	c.SetRequest(c.Request().WithContext(ctx))
}
