package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

type channelKey struct{}

var ChannelContextKey = channelKey{}

const ChannelHeader = "X-Client-Platform"

// deriveChannel guesses the client platform from the explicit header, then
// from the user agent.
func deriveChannel(header, userAgent string) string {
	switch h := strings.ToLower(strings.TrimSpace(header)); h {
	case "ios", "android", "web":
		return h
	}

	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "cfnetwork"):
		return "ios"
	case strings.Contains(ua, "android"), strings.Contains(ua, "okhttp"):
		return "android"
	case strings.Contains(ua, "mozilla"):
		return "web"
	default:
		return "api"
	}
}

// Channel stores the client platform on the request context.
func Channel() gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := deriveChannel(c.GetHeader(ChannelHeader), c.Request.UserAgent())
		ctx := context.WithValue(c.Request.Context(), ChannelContextKey, channel)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetChannel returns the current channel, "api" when unset.
func GetChannel(ctx context.Context) string {
	ch, ok := ctx.Value(ChannelContextKey).(string)
	if !ok {
		return "api"
	}
	return ch
}
