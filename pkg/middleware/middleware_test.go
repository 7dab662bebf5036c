package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret"

func signToken(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newAuthRouter() *gin.Engine {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret

	r := gin.New()
	r.Use(NewAuthenticator(cfg).Auth())
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "ctx_user_id": UserIDFromContext(c.Request.Context())})
	})
	return r
}

func TestAuthAcceptsValidToken(t *testing.T) {
	r := newAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "user-1", time.Now().Add(time.Hour)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "user-1", body["user_id"])
	require.Equal(t, "user-1", body["ctx_user_id"])
}

func TestAuthRejects(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"bad signature":  "Bearer " + signToken(t, "other", "user-1", time.Now().Add(time.Hour)),
		"expired":        "Bearer " + signToken(t, testSecret, "user-1", time.Now().Add(-time.Hour)),
		"no subject":     "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour)),
	}

	r := newAuthRouter()
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, "Unauthorized", body["error"])
		})
	}
}

func TestAuthWithoutSecretRejects(t *testing.T) {
	a := NewAuthenticator(&config.Config{})
	_, err := a.ParseToken(signToken(t, testSecret, "user-1", time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestErrorRendersBaseError(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/bad", func(c *gin.Context) {
		_ = c.Error(errutil.BadRequest("amount must be greater than zero", errors.New("invalid")))
	})
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	r.GET("/written", func(c *gin.Context) {
		c.JSON(http.StatusPaymentRequired, gin.H{"success": false})
		_ = c.Error(errors.New("ignored"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"amount must be greater than zero","code":"bad_request"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"Internal Server Error","code":"internal"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.JSONEq(t, `{"success":false}`, w.Body.String())
}

func TestChannel(t *testing.T) {
	r := gin.New()
	r.Use(Channel())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetChannel(c.Request.Context()))
	})

	cases := []struct {
		header, ua, want string
	}{
		{header: "iOS", want: "ios"},
		{ua: "okhttp/4.12.0", want: "android"},
		{ua: "Looks/1.2 CFNetwork/1490 Darwin/23.2.0", want: "ios"},
		{ua: "Mozilla/5.0", want: "web"},
		{ua: "curl/8.0", want: "api"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set(ChannelHeader, tc.header)
		}
		req.Header.Set("User-Agent", tc.ua)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Body.String())
	}
}

func TestRecoverRendersInternalError(t *testing.T) {
	r := gin.New()
	r.Use(gin.CustomRecoveryWithWriter(nil, Recover), Error())
	r.GET("/panic", func(c *gin.Context) {
		panic(errors.New("index out of range"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"Internal Server Error","code":"internal"}`, w.Body.String())
}
