package httpapi_test

import (
	"net/http"
	"testing"

	"looks-ledger/pkg/httpapi/httpapitest"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRouterOpsEndpoints(t *testing.T) {
	r := httpapitest.NewRouter(t)

	w := httpapitest.Do(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", httpapitest.Decode(t, w)["status"])

	w = httpapitest.Do(t, r, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpapitest.Do(t, r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRouterV1RequiresBearer(t *testing.T) {
	r := httpapitest.NewRouter(t)
	r.V1.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.UserID(c), "channel": middleware.GetChannel(c.Request.Context())})
	})

	w := httpapitest.Do(t, r, http.MethodGet, "/v1/whoami", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"Unauthorized","code":"unauthorized"}`, w.Body.String())

	w = httpapitest.Do(t, r, http.MethodGet, "/v1/whoami", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpapitest.Do(t, r, http.MethodGet, "/v1/whoami", httpapitest.Token(t, "user-42"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-42", httpapitest.Decode(t, w)["user_id"])
}

func TestRouterRendersPanicAsError(t *testing.T) {
	r := httpapitest.NewRouter(t)
	r.V1.GET("/boom", func(c *gin.Context) {
		panic("nil map write")
	})

	w := httpapitest.Do(t, r, http.MethodGet, "/v1/boom", httpapitest.Token(t, "user-1"), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"Internal Server Error","code":"internal"}`, w.Body.String())
}
