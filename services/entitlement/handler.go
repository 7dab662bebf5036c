package entitlement

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/logger"
	"looks-ledger/pkg/middleware"
	"looks-ledger/pkg/task"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrWebhookUnauthorized = errors.New("invalid webhook authorization")
	ErrWebhookMissingUser  = errors.New("event.app_user_id is required")
)

type syncRequest struct {
	Active bool `json:"active"`
}

type Handler struct {
	reconciler    *Reconciler
	enqueuer      task.Enqueuer
	webhookSecret string
}

type HandlerParams struct {
	fx.In
	Reconciler *Reconciler
	Enqueuer   task.Enqueuer `optional:"true"`
	Config     *config.Config
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		reconciler:    p.Reconciler,
		enqueuer:      p.Enqueuer,
		webhookSecret: p.Config.RevenueCat.WebhookSecret,
	}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.V1.POST("/entitlements/sync", h.SyncEntitlements)
	// billing webhooks carry a shared secret instead of a user token
	r.Engine.POST("/v1/webhooks/revenuecat", h.RevenueCatWebhook)
}

func (h *Handler) SyncEntitlements(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.reconciler.Reconcile(c.Request.Context(), middleware.UserID(c), req.Active)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                  true,
		"creator_mode_active":      res.Active,
		"verified_with_revenuecat": res.Verified,
		"state":                    res.State,
	})
}

// RevenueCatWebhook queues a sync for the user named by the event. The
// event payload itself is not trusted, only the user id.
func (h *Handler) RevenueCatWebhook(c *gin.Context) {
	if !h.authorized(c.GetHeader("Authorization")) {
		_ = c.Error(errutil.Unauthorized("Unauthorized", ErrWebhookUnauthorized))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		_ = c.Error(errutil.BadRequest("invalid webhook body", err))
		return
	}

	event := gjson.GetBytes(body, "event")
	userID := event.Get("app_user_id").String()
	if userID == "" {
		userID = event.Get("original_app_user_id").String()
	}
	if userID == "" {
		_ = c.Error(errutil.BadRequest(ErrWebhookMissingUser.Error(), ErrWebhookMissingUser))
		return
	}

	zapLog := logger.FromContext(c.Request.Context()).With(
		zap.String("user_id", userID),
		zap.String("event_type", event.Get("type").String()),
		zap.String("event_id", event.Get("id").String()),
	)

	if h.enqueuer == nil {
		zapLog.Error("webhook received without a task queue")
		_ = c.Error(errutil.New(errutil.StatusServiceUnavailable, "sync queue unavailable"))
		return
	}

	if err := EnqueueSync(c.Request.Context(), h.enqueuer, userID); err != nil {
		zapLog.Error("failed to enqueue entitlement sync", zap.Error(err))
		_ = c.Error(errutil.Internal("failed to enqueue sync", err))
		return
	}

	zapLog.Info("entitlement sync queued from webhook")
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// authorized compares the header with the configured secret. An unset
// secret rejects every call.
func (h *Handler) authorized(header string) bool {
	if h.webhookSecret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = strings.TrimSpace(header[7:])
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(h.webhookSecret)) == 1
}
