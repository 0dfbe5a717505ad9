package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unikbot/paycore/internal/cryptopay"
	"github.com/unikbot/paycore/internal/ledger"
	"github.com/unikbot/paycore/internal/logging"
	"github.com/unikbot/paycore/internal/metrics"
	"github.com/unikbot/paycore/internal/money"
	"github.com/unikbot/paycore/internal/reconciler"
	"github.com/unikbot/paycore/internal/subscription"
	"github.com/unikbot/paycore/internal/validation"
)

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "paycore",
		"description": "Crypto payment reconciliation service",
		"version":     "0.1.0",
		"asset":       s.cfg.DefaultAsset,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type createAccountRequest struct {
	UserID   int64  `json:"userId" binding:"required"`
	Username string `json:"username"`
}

func (s *Server) createAccountHandler(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		badRequest(c, "userId is required and must be positive")
		return
	}

	username := validation.SanitizeString(req.Username, validation.MaxStringLength)
	ctx := c.Request.Context()

	if err := s.ledger.EnsureAccount(ctx, req.UserID, username); err != nil {
		internalError(c, err)
		return
	}

	acc, err := s.ledger.GetAccount(ctx, req.UserID)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (s *Server) getAccountHandler(c *gin.Context) {
	userID, err := validation.ParseID(c.Param("userId"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	acc, err := s.ledger.GetAccount(ctx, userID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		notFound(c, "account not found")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	resp := gin.H{
		"userId":    acc.UserID,
		"username":  acc.Username,
		"balance":   acc.Balance,
		"createdAt": acc.CreatedAt,
	}
	if sub, err := s.subs.Status(ctx, userID); err == nil {
		resp["subscription"] = gin.H{
			"endDate": sub.EndDate,
			"active":  sub.Active(time.Now()),
		}
	}
	c.JSON(http.StatusOK, resp)
}

type createTopupRequest struct {
	UserID int64  `json:"userId" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) createTopupHandler(c *gin.Context) {
	var req createTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		metrics.TopupsRejectedTotal.WithLabelValues("bad_request").Inc()
		badRequest(c, "userId and amount are required")
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		metrics.TopupsRejectedTotal.WithLabelValues("malformed_amount").Inc()
		badRequest(c, "amount must be a positive decimal number")
		return
	}

	ctx := c.Request.Context()

	// Accounts are created on first contact so the credit always lands.
	if err := s.ledger.EnsureAccount(ctx, req.UserID, ""); err != nil {
		internalError(c, err)
		return
	}

	inv, err := s.reconciler.StartTopup(ctx, req.UserID, amount)
	if errors.Is(err, reconciler.ErrAmountOutOfBounds) {
		metrics.TopupsRejectedTotal.WithLabelValues("out_of_bounds").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "amount_out_of_bounds",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		logging.L(ctx).Error("top-up creation failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Could not create the invoice. Try again shortly.",
		})
		return
	}

	metrics.TopupsCreatedTotal.Inc()
	c.JSON(http.StatusCreated, gin.H{
		"invoiceId": inv.InvoiceID,
		"status":    inv.Status,
		"amount":    inv.Amount,
		"asset":     inv.Asset,
		"payUrl":    payURL(inv),
	})
}

type checkTopupRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

func (s *Server) checkTopupHandler(c *gin.Context) {
	invoiceID, err := validation.ParseID(c.Param("invoiceId"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var req checkTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		badRequest(c, "userId is required")
		return
	}

	ctx := c.Request.Context()
	result, err := s.reconciler.CheckInvoice(ctx, invoiceID, req.UserID)
	if errors.Is(err, reconciler.ErrProviderFailure) {
		logging.L(ctx).Error("invoice check failed upstream", "invoice_id", invoiceID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Could not verify the invoice right now. Try again shortly.",
		})
		return
	}
	if err != nil {
		// A store failure, not the provider's fault.
		internalError(c, err)
		return
	}

	if result == reconciler.CheckNotFound {
		notFound(c, "invoice not found")
		return
	}

	resp := gin.H{"invoiceId": invoiceID, "result": result}
	if result == reconciler.CheckCredited || result == reconciler.CheckAlreadyCredited {
		if bal, err := s.ledger.GetBalance(ctx, req.UserID); err == nil {
			resp["balance"] = bal
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTopupHandler(c *gin.Context) {
	invoiceID, err := validation.ParseID(c.Param("invoiceId"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()

	// Settled invoices answer from our own records without touching the
	// provider.
	rec, err := s.ledger.GetProcessedInvoice(ctx, invoiceID)
	if err != nil {
		internalError(c, err)
		return
	}
	if rec != nil {
		c.JSON(http.StatusOK, gin.H{
			"invoiceId":   rec.InvoiceID,
			"status":      "credited",
			"amount":      rec.Amount,
			"asset":       rec.Asset,
			"processedAt": rec.ProcessedAt,
			"watching":    false,
		})
		return
	}

	inv, err := s.provider.GetInvoice(ctx, invoiceID)
	if errors.Is(err, cryptopay.ErrInvoiceNotFound) {
		notFound(c, "invoice not found")
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "provider_error",
			"message": "Could not fetch the invoice right now.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invoiceId": inv.InvoiceID,
		"status":    inv.Status,
		"amount":    inv.Amount,
		"asset":     inv.Asset,
		"watching":  s.reconciler.Watching(invoiceID),
	})
}

type purchaseSubscriptionRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

func (s *Server) purchaseSubscriptionHandler(c *gin.Context) {
	var req purchaseSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		badRequest(c, "userId is required")
		return
	}

	sub, err := s.subs.Purchase(c.Request.Context(), req.UserID)
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "Top up your balance before purchasing a subscription.",
		})
	case errors.Is(err, ledger.ErrAccountNotFound):
		notFound(c, "account not found")
	case err != nil:
		internalError(c, err)
	default:
		c.JSON(http.StatusCreated, sub)
	}
}

func (s *Server) getSubscriptionHandler(c *gin.Context) {
	userID, err := validation.ParseID(c.Param("userId"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	sub, err := s.subs.Status(c.Request.Context(), userID)
	if errors.Is(err, subscription.ErrNoSubscription) {
		notFound(c, "no subscription")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId":  sub.UserID,
		"endDate": sub.EndDate,
		"active":  sub.Active(time.Now()),
	})
}

// payURL prefers the newer bot_invoice_url field, falling back to pay_url.
func payURL(inv *cryptopay.Invoice) string {
	if inv.BotInvoiceURL != "" {
		return inv.BotInvoiceURL
	}
	return inv.PayURL
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": msg})
}

func internalError(c *gin.Context, err error) {
	logging.L(c.Request.Context()).Error("request failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "An unexpected error occurred",
	})
}
