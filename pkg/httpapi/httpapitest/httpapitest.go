// Package httpapitest builds an authenticated router for handler tests.
package httpapitest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/health"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const Secret = "httpapitest-secret"

func NewRouter(t *testing.T) *httpapi.Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{AppEnv: "test"}
	cfg.Auth.JWTSecret = Secret

	return httpapi.NewRouter(httpapi.RouterParams{
		Config: cfg,
		Auth:   middleware.NewAuthenticator(cfg),
		Health: health.ProvideHealth(health.HealthParams{}),
	})
}

func Token(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(Secret))
	require.NoError(t, err)
	return token
}

// Do sends body as JSON. An empty token sends no Authorization header and a
// nil body sends an empty request body.
func Do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func Decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
