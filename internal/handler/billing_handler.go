package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexigrade/lexigrade-api/internal/service"
	appErrors "github.com/lexigrade/lexigrade-api/pkg/errors"
	"github.com/lexigrade/lexigrade-api/pkg/response"
)

// webhookSignatureHeader carries the provider's hex HMAC over the body.
const webhookSignatureHeader = "X-Webhook-Signature"

// BillingHandler exposes the payment provider webhook and subscription
// lookups.
type BillingHandler struct {
	service *service.BillingService
}

// NewBillingHandler constructs a billing handler.
func NewBillingHandler(svc *service.BillingService) *BillingHandler {
	return &BillingHandler{service: svc}
}

// Webhook godoc
// @Summary Payment provider webhook
// @Description Applies subscription lifecycle events; requests must be signed
// @Tags Billing
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /billing/webhook [post]
func (h *BillingHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "cannot read webhook body"))
		return
	}

	if err := h.service.VerifySignature(body, c.GetHeader(webhookSignatureHeader)); err != nil {
		response.Error(c, err)
		return
	}

	if err := h.service.HandleProviderEvent(c.Request.Context(), body); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}

// Subscription godoc
// @Summary The caller's subscription state
// @Tags Billing
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /billing/subscription [get]
func (h *BillingHandler) Subscription(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	sub, err := h.service.Subscription(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sub, nil)
}
