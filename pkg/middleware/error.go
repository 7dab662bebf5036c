package middleware

import (
	"fmt"
	"net/http"

	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error as {"error", "code"}.
// Handlers that already wrote a response are left alone. Server-side
// failures are logged with the caller and route; the client only sees the
// message.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		be := errutil.From(c.Errors.Last().Err)
		status := be.Code.HTTPStatus()

		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("user_id", UserIDFromContext(c.Request.Context())),
				zap.String("operation", c.FullPath()),
				zap.Int("status", status),
				zap.Error(be),
			)
			if be.Code == errutil.StatusInternal && be.Err != nil && be.Message == be.Err.Error() {
				be.Message = http.StatusText(status)
			}
		}

		c.JSON(status, be.JSON())
	}
}

// Recover renders a panic as an internal error body. gin.CustomRecovery has
// already logged the stack.
func Recover(c *gin.Context, recovered any) {
	err := fmt.Errorf("panic: %v", recovered)
	logger.FromContext(c.Request.Context()).Error("request panicked",
		zap.String("user_id", UserIDFromContext(c.Request.Context())),
		zap.String("operation", c.FullPath()),
		zap.Error(err),
	)

	be := errutil.From(errutil.Internal(http.StatusText(http.StatusInternalServerError), err))
	c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
}
