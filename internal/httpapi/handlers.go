package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/audit"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/auth"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/calls"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rbac"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/reporting"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Ledger    *ledger.Service
	Tracker   *calls.Tracker
	Reporting *reporting.Service
	Audit     *audit.Service

	// AdminSecret gates login until a proper user store exists.
	AdminSecret string
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Secret string `json:"secret"`
}

// Login issues a JWT token pair after checking the shared operator secret.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	switch req.Role {
	case rbac.RoleAdmin, rbac.RoleOperator, rbac.RoleViewer:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	if h.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.AdminSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// ListActiveCalls returns the live call registry with running costs.
func (h Handlers) ListActiveCalls(c *gin.Context) {
	if h.Tracker == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tracker not configured"})
		return
	}
	snaps := h.Tracker.ActiveCalls()
	if snaps == nil {
		snaps = []calls.ActiveCallSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(snaps), "calls": snaps})
}

// --- Accounts ---

func (h Handlers) GetAccountBalance(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	accountID := c.Param("account_id")
	if accountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}
	acct, err := h.Ledger.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   acct.ID,
		"balance":      acct.Balance,
		"credit_limit": acct.CreditLimit,
		"status":       acct.Status,
	})
}

func (h Handlers) ListAccountTransactions(c *gin.Context) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	accountID := c.Param("account_id")
	if accountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}
	txns, err := h.Ledger.ListTransactions(c.Request.Context(), accountID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transaction lookup failed"})
		return
	}
	if txns == nil {
		txns = []ledger.BalanceTransaction{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "transactions": txns})
}

type balanceAdjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// RechargeAccount performs an admin/operator balance credit and audits it.
func (h Handlers) RechargeAccount(c *gin.Context) {
	h.adjustBalance(c, "recharge")
}

// RefundAccount returns previously debited funds and audits it.
func (h Handlers) RefundAccount(c *gin.Context) {
	h.adjustBalance(c, "refund")
}

func (h Handlers) adjustBalance(c *gin.Context, kind string) {
	if h.Ledger == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ledger not configured"})
		return
	}
	accountID := c.Param("account_id")
	if accountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}
	var req balanceAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var (
		txn ledger.BalanceTransaction
		err error
	)
	if kind == "recharge" {
		txn, err = h.Ledger.Recharge(c.Request.Context(), accountID, req.Amount, req.Reason)
	} else {
		txn, err = h.Ledger.Refund(c.Request.Context(), accountID, req.Amount, req.Reason)
	}
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "account not found"})
		case errors.Is(err, ledger.ErrInvalidAmount):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": kind + " failed"})
		}
		return
	}

	if h.Audit != nil {
		userID, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		// best-effort; the balance movement already committed
		_ = h.Audit.LogBalanceAdjust(c.Request.Context(), userID, role, c.ClientIP(), accountID, kind+": "+req.Reason, "")
	}

	c.JSON(http.StatusOK, txn)
}

// --- Reporting ---

func (h Handlers) TrafficSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.TrafficSummary(c.Request.Context(), reporting.TrafficSummaryRequest{
		Range:           rng,
		DestinationName: c.Query("destination"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rng, ok := parseRange(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		AccountID: c.Param("account_id"),
		Range:     rng,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func parseRange(c *gin.Context) (reporting.TimeRange, bool) {
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return reporting.TimeRange{}, false
	}
	return reporting.TimeRange{From: from, To: to}, true
}
