package credit

import (
	"errors"
	"io"
	"net/http"

	"looks-ledger/pkg/db/pagination"
	"looks-ledger/pkg/errutil"
	"looks-ledger/pkg/httpapi"
	"looks-ledger/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const IdempotencyHeader = "Idempotency-Key"

type spendRequest struct {
	ReferenceID string         `json:"reference_id" binding:"omitempty,max=128"`
	Description string         `json:"description" binding:"omitempty,max=255"`
	Metadata    map[string]any `json:"metadata"`
}

type addRequest struct {
	Amount      *int64         `json:"amount"`
	ReferenceID string         `json:"reference_id" binding:"omitempty,max=128"`
	Description string         `json:"description" binding:"omitempty,max=255"`
	Metadata    map[string]any `json:"metadata"`
}

type balanceResponse struct {
	Balance           int64  `json:"balance"`
	EntitlementActive bool   `json:"entitlement_active"`
	QualityTier       string `json:"quality_tier"`
	WatermarkDisabled bool   `json:"watermark_disabled"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *httpapi.Router, h *Handler) {
	credits := r.V1.Group("/credits")
	credits.POST("/spend", h.Spend)
	credits.POST("/add", h.Add)
	credits.GET("/balance", h.Balance)
	credits.GET("/entries", h.Entries)
	credits.GET("/verify", h.Verify)
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return errutil.BadRequest("invalid request body", err)
	}
	return nil
}

func (h *Handler) Spend(c *gin.Context) {
	var req spendRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	if req.ReferenceID == "" {
		req.ReferenceID = c.GetHeader(IdempotencyHeader)
	}

	res, err := h.svc.Spend(c.Request.Context(), middleware.UserID(c), SpendParams{
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !res.Success {
		c.JSON(http.StatusPaymentRequired, gin.H{
			"success": false,
			"balance": res.NewBalance,
			"error":   "Insufficient credits",
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Add(c *gin.Context) {
	var req addRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	amount := int64(1)
	if req.Amount != nil {
		amount = *req.Amount
	}
	if req.ReferenceID == "" {
		req.ReferenceID = c.GetHeader(IdempotencyHeader)
	}

	res, err := h.svc.Add(c.Request.Context(), middleware.UserID(c), AddParams{
		Amount:      amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) Balance(c *gin.Context) {
	acc, err := h.svc.GetBalance(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, balanceResponse{
		Balance:           acc.Balance,
		EntitlementActive: acc.EntitlementActive,
		QualityTier:       string(acc.QualityTier),
		WatermarkDisabled: acc.WatermarkDisabled,
	})
}

func (h *Handler) Entries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.svc.ListEntries(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}

func (h *Handler) Verify(c *gin.Context) {
	valid, err := h.svc.VerifyChain(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
