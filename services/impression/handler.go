package impression

import (
	"encoding/json"
	"net/http"

	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type recordRequest struct {
	OfferKey    string          `json:"offer_key" binding:"required,max=128"`
	Surface     string          `json:"surface" binding:"required,max=128"`
	ActionTaken string          `json:"action_taken" binding:"omitempty,max=64"`
	Context     json.RawMessage `json:"context"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.V1.POST("/impressions", h.RecordImpression)
}

func (h *Handler) RecordImpression(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest(ErrMissingField.Error(), err))
		return
	}

	ctx := c.Request.Context()
	err := h.svc.Record(ctx, middleware.UserID(c), RecordParams{
		OfferKey:    req.OfferKey,
		Surface:     req.Surface,
		ActionTaken: req.ActionTaken,
		Context:     req.Context,
		Channel:     middleware.GetChannel(ctx),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
