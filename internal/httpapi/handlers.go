package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"collections-dialer/internal/account"
	"collections-dialer/internal/audit"
	"collections-dialer/internal/auth"
	"collections-dialer/internal/campaign"
	"collections-dialer/internal/job"
	"collections-dialer/internal/reporting"
	"collections-dialer/pkg/logger"
	"collections-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Accounts  *account.Service
	Campaigns *campaign.Service
	Jobs      job.Store
	Reports   *reporting.Service
	Audit     *audit.Service

	// DB backs the health endpoint; nil skips the DB probe.
	DB *sql.DB
}

// --- Auth ---

type loginRequest struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.AccountID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, account_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Account ---

func (h Handlers) GetBalance(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	acct, err := h.Accounts.Get(c.Request.Context(), accountID)
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":            acct.ID,
		"plan":                  acct.Plan,
		"status":                acct.Status,
		"credit_balance_minor":  acct.CreditBalanceMinor,
		"credit_reserved_minor": acct.CreditReservedMinor,
		"credit_available":      acct.Available(),
		"minutes_remaining":     acct.MinutesRemaining,
		"minutes_available":     acct.MinutesAvailable(),
		"currency":              acct.Currency,
	})
}

func (h Handlers) ListTransactions(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	from, to, ok := parseWindow(c)
	if !ok {
		return
	}
	txns, err := h.Accounts.Transactions(c.Request.Context(), accountID, from, to)
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

type creditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Minutes        int64  `json:"minutes"`
	IdempotencyKey string `json:"idempotency_key"`
	Note           string `json:"note,omitempty"`
}

// AdminTopUp credits paid balance. RBAC: owner/finance/super_admin.
func (h Handlers) AdminTopUp(c *gin.Context) {
	h.adminCredit(c, audit.ActionTopUp, h.Accounts.TopUp)
}

// AdminBonus credits promotional balance, ledgered separately.
func (h Handlers) AdminBonus(c *gin.Context) {
	h.adminCredit(c, audit.ActionBonus, h.Accounts.Bonus)
}

func (h Handlers) adminCredit(c *gin.Context, action audit.Action, apply func(ctx context.Context, accountID string, req account.TopUpRequest) (account.Transaction, error)) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.IdempotencyKey == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "idempotency_key required"})
		return
	}

	txn, err := apply(c.Request.Context(), accountID, account.TopUpRequest{
		AmountMinor:    req.AmountMinor,
		Minutes:        req.Minutes,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Note,
	})
	if err != nil {
		abortMapped(c, err)
		return
	}

	h.auditLog(c, accountID, action, txn.ID, map[string]any{
		"amount_minor": req.AmountMinor,
		"minutes":      req.Minutes,
	})
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// --- Batches ---

type createBatchRequest struct {
	Name        string               `json:"name"`
	MaxAttempts int                  `json:"max_attempts,omitempty"`
	Rows        []campaign.DebtorRow `json:"rows"`
}

func (h Handlers) CreateBatch(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Campaigns.CreateBatch(c.Request.Context(), campaign.CreateBatchRequest{
		AccountID:   accountID,
		Name:        req.Name,
		Rows:        req.Rows,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		abortMapped(c, err)
		return
	}

	h.auditLog(c, accountID, audit.ActionBatchCreate, res.Batch.ID, map[string]any{
		"jobs_created":   res.JobsCreated,
		"duplicate_rows": res.DuplicateRows,
		"rejected_rows":  res.RejectedRows,
	})
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) ListBatches(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	batches, err := h.Campaigns.List(c.Request.Context(), accountID)
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (h Handlers) GetBatchProgress(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	batchID := c.Param("batch_id")
	p, err := h.Campaigns.Progress(c.Request.Context(), accountID, batchID)
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) CancelBatch(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	batchID := c.Param("batch_id")
	n, err := h.Campaigns.CancelBatch(c.Request.Context(), accountID, batchID)
	if err != nil {
		abortMapped(c, err)
		return
	}

	h.auditLog(c, accountID, audit.ActionBatchCancel, batchID, map[string]any{
		"jobs_cancelled": n,
	})
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "jobs_cancelled": n})
}

// --- Jobs ---

func (h Handlers) GetJob(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	j, err := h.Jobs.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortMapped(c, err)
		return
	}
	// Tenant isolation: a job from another account is indistinguishable from
	// a missing one.
	if j.AccountID != accountID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, j)
}

// --- Reporting ---

func (h Handlers) CallSummary(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	from, to, ok := parseWindow(c)
	if !ok {
		return
	}
	sum, err := h.Reports.CallSummary(c.Request.Context(), accountID, from, to, c.Query("batch_id"))
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) SpendSummary(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	from, to, ok := parseWindow(c)
	if !ok {
		return
	}
	sum, err := h.Reports.SpendSummary(c.Request.Context(), accountID, from, to)
	if err != nil {
		abortMapped(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- helpers ---

func requireAccountID(c *gin.Context) (string, bool) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil || accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account_id required"})
		return "", false
	}
	return accountID, true
}

// parseWindow reads from/to query params (RFC 3339). Defaults to the last 30
// days ending now.
func parseWindow(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now.Add(time.Minute)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return time.Time{}, time.Time{}, false
		}
		to = t
	}
	if !to.After(from) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h Handlers) auditLog(c *gin.Context, accountID string, action audit.Action, targetID string, detail map[string]any) {
	if h.Audit == nil {
		return
	}
	actor, _ := auth.UserID(c.Request.Context())
	if actor == "" {
		actor = "unknown"
	}
	if err := h.Audit.Log(c.Request.Context(), accountID, actor, action, targetID, detail); err != nil {
		logger.FromGin(c).Warn("audit log failed", "action", action, "err", err)
	}
}

// abortMapped converts service sentinels into HTTP statuses.
func abortMapped(c *gin.Context, err error) {
	switch {
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, job.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, account.ErrInvalidArgument),
		errors.Is(err, campaign.ErrInvalidArgument),
		errors.Is(err, campaign.ErrEmptyBatch),
		errors.Is(err, job.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidArgument),
		errors.Is(err, job.ErrInvalidPayload):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrAccountDisabled):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
	case errors.Is(err, account.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
