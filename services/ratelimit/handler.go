package ratelimit

import (
	"errors"
	"io"
	"net/http"

	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type checkRequest struct {
	Action string `json:"action"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	r.V1.POST("/generations/check", h.CheckDailyLimit)
}

func (h *Handler) CheckDailyLimit(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	decision, err := h.svc.CheckAndMaybeRecord(c.Request.Context(), middleware.UserID(c), CheckParams{Action: req.Action})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
