// Package tenant resolves incoming requests to their tenant store and guards
// both API surfaces: API-key auth for game servers, JWT session auth with
// role gating for the panel.
package tenant

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Gin context keys set by the middleware.
const (
	ContextStore   = "tenant.store"
	ContextSession = "tenant.session"
)

// APIKeyHeader carries the per-tenant game-server key.
const APIKeyHeader = "X-API-Key"

// Session is the authenticated panel identity.
type Session struct {
	Username string
	Role     string
}

// Claims is the JWT payload for panel sessions.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware authenticates requests and binds their tenant store.
type Middleware struct {
	provider  storage.Provider
	jwtSecret []byte
	log       zerolog.Logger
}

// NewMiddleware wires the tenant middleware.
func NewMiddleware(provider storage.Provider, jwtSecret string, log zerolog.Logger) *Middleware {
	return &Middleware{provider: provider, jwtSecret: []byte(jwtSecret), log: log}
}

// StoreFrom returns the tenant store bound to the request.
func StoreFrom(c *gin.Context) storage.Store {
	return c.MustGet(ContextStore).(storage.Store)
}

// SessionFrom returns the panel session bound to the request, if any.
func SessionFrom(c *gin.Context) (Session, bool) {
	v, ok := c.Get(ContextSession)
	if !ok {
		return Session{}, false
	}
	return v.(Session), true
}

// APIKeyAuth authenticates Minecraft routes by the tenant API key.
func (m *Middleware) APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": http.StatusUnauthorized, "message": "missing API key",
			})
			return
		}
		store, err := m.provider.ResolveAPIKey(c.Request.Context(), key)
		if err != nil {
			m.abortResolve(c, err, true)
			return
		}
		c.Set(ContextStore, store)
		c.Next()
	}
}

// SessionAuth authenticates panel routes: the Host header selects the tenant
// and the bearer token (or session cookie) carries the staff identity.
func (m *Middleware) SessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, err := m.provider.ResolveHost(c.Request.Context(), hostOnly(c.Request.Host))
		if err != nil {
			m.abortResolve(c, err, false)
			return
		}

		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, err := m.parseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(ContextStore, store)
		c.Set(ContextSession, Session{Username: claims.Username, Role: claims.Role})
		c.Next()
	}
}

// RequirePermission gates a panel route on a role-derived permission.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := SessionFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		for _, p := range models.BasePermissions(sess.Role) {
			if p == perm {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
	}
}

// IssueToken mints a panel session token. Exposed for the dev login flow and
// tests; production panels mint sessions in the auth service.
func (m *Middleware) IssueToken(username, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

func (m *Middleware) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func (m *Middleware) abortResolve(c *gin.Context, err error, minecraft bool) {
	status := http.StatusServiceUnavailable
	msg := "tenant datastore unavailable"
	if errors.Is(err, storage.ErrUnauthorized) || errors.Is(err, storage.ErrNotFound) {
		status = http.StatusUnauthorized
		msg = "unknown tenant"
	} else {
		m.log.Error().Err(err).Msg("tenant resolution failed")
	}
	if minecraft {
		c.AbortWithStatusJSON(status, gin.H{"status": status, "message": msg})
	} else {
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie("session"); err == nil {
		return cookie
	}
	return ""
}

func hostOnly(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
