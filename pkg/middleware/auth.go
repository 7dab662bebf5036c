package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type userKey struct{}

var UserContextKey = userKey{}

const userIDKey = "user_id"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator validates HS256 bearer tokens locally with the shared
// secret. The subject claim is the user id.
type Authenticator struct {
	secret   []byte
	audience string
}

func NewAuthenticator(cfg *config.Config) *Authenticator {
	return &Authenticator{
		secret:   []byte(cfg.Auth.JWTSecret),
		audience: cfg.Auth.Audience,
	}
}

func (a *Authenticator) ParseToken(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("%w: signing secret not configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// Auth rejects requests without a valid bearer token with 401.
func (a *Authenticator) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if header == "" || len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			abortUnauthorized(c, ErrMissingToken)
			return
		}

		userID, err := a.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			zap.L().Debug("rejected bearer token", zap.Error(err))
			abortUnauthorized(c, err)
			return
		}

		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), UserContextKey, userID))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	be := errutil.From(errutil.Unauthorized("Unauthorized", err))
	c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
}

// UserID returns the authenticated user id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// UserIDFromContext returns the authenticated user id carried by ctx.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(UserContextKey).(string)
	return id
}
