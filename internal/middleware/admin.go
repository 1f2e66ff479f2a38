package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/irfndi/celebrum-pricesync/internal/config"
)

// AdminRole is the JWT role claim required on operator endpoints.
const AdminRole = "admin"

// AdminClaims represents the JWT claims accepted for admin access.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminMiddleware provides admin authentication middleware.
//
// A request is admitted when it carries any one of: the plain API key, a key
// matching the bcrypt hash, or an HS256 token whose role claim is admin.
type AdminMiddleware struct {
	apiKey     []byte
	apiKeyHash []byte
	jwtSecret  []byte
	now        func() time.Time
}

// NewAdminMiddleware creates a new admin authentication middleware.
// With no credential configured every admin request is refused.
func NewAdminMiddleware(cfg config.SecurityConfig) *AdminMiddleware {
	am := &AdminMiddleware{now: time.Now}
	if cfg.AdminAPIKey != "" {
		am.apiKey = []byte(cfg.AdminAPIKey)
	}
	if cfg.AdminAPIKeyHash != "" {
		am.apiKeyHash = []byte(cfg.AdminAPIKeyHash)
	}
	if cfg.JWTSecret != "" {
		am.jwtSecret = []byte(cfg.JWTSecret)
	}
	return am
}

// Enabled reports whether any admin credential is configured.
func (am *AdminMiddleware) Enabled() bool {
	return len(am.apiKey) > 0 || len(am.apiKeyHash) > 0 || len(am.jwtSecret) > 0
}

// RequireAdminAuth middleware validates admin credentials.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Admin access disabled",
				"message": "No admin credential is configured",
			})
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" && am.ValidateAdminKey(key) {
			c.Next()
			return
		}

		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if am.ValidateAdminKey(token) {
				c.Next()
				return
			}
			if claims, err := am.ValidateToken(token); err == nil {
				c.Set("admin_subject", claims.Subject)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid admin credentials required for this endpoint",
		})
	}
}

// ValidateAdminKey checks key against the plain key and the bcrypt hash.
func (am *AdminMiddleware) ValidateAdminKey(key string) bool {
	if key == "" {
		return false
	}
	if len(am.apiKey) > 0 && subtle.ConstantTimeCompare([]byte(key), am.apiKey) == 1 {
		return true
	}
	if len(am.apiKeyHash) > 0 && bcrypt.CompareHashAndPassword(am.apiKeyHash, []byte(key)) == nil {
		return true
	}
	return false
}

// ValidateToken parses an HS256 token and requires the admin role.
func (am *AdminMiddleware) ValidateToken(tokenString string) (*AdminClaims, error) {
	if len(am.jwtSecret) == 0 {
		return nil, errors.New("jwt authentication not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return am.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(am.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Role != AdminRole {
		return nil, fmt.Errorf("role %q is not allowed", claims.Role)
	}
	return claims, nil
}

// GenerateToken signs an admin token for subject valid for ttl.
func (am *AdminMiddleware) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if len(am.jwtSecret) == 0 {
		return "", errors.New("jwt authentication not configured")
	}
	now := am.now()
	claims := &AdminClaims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.jwtSecret)
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
