package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"supplychain-service/internal/models"
	"supplychain-service/internal/service"
	"supplychain-service/internal/signature"
	"supplychain-service/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CallerHeader carries the address of the account submitting a request
const CallerHeader = "X-Caller-Address"

// AuditLister reads back the audit trail written by the audit worker
type AuditLister interface {
	ListAudit(ctx context.Context, limit int) ([]models.AuditRecord, error)
}

// Option configures a Handler
type Option func(*Handler)

// WithIdempotency replays write responses for repeated Idempotency-Key headers
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = store
		h.idempotencyTTL = ttl
	}
}

// WithAuditLog exposes the audit trail under /api/v1/audit
func WithAuditLog(lister AuditLister) Option {
	return func(h *Handler) {
		h.audit = lister
	}
}

// WithReadinessCheck adds a dependency probed by /ready
func WithReadinessCheck(name string, check func(context.Context) error) Option {
	return func(h *Handler) {
		h.readiness[name] = check
	}
}

// Handler contains HTTP handlers
type Handler struct {
	svc            *service.SupplyChainService
	idempotency    IdempotencyStore
	idempotencyTTL time.Duration
	audit          AuditLister
	readiness      map[string]func(context.Context) error
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.SupplyChainService, opts ...Option) *Handler {
	h := &Handler{
		svc:       svc,
		readiness: make(map[string]func(context.Context) error),
		logger:    util.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/entities", h.addEntity)
		v1.GET("/entities/:id", h.getEntity)

		v1.POST("/products", h.addProduct)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/provenance", h.getProvenance)
		v1.GET("/products/:id/transactions", h.getProductTransactions)

		v1.POST("/transactions", h.issueTransaction)
		v1.GET("/transactions/:id", h.getTransaction)
		v1.POST("/transactions/:id/verify", h.verifyTransaction)

		v1.POST("/signatures/digest", h.digest)

		if h.audit != nil {
			v1.GET("/audit", h.listAudit)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	entities, products, transactions := h.svc.Stats()
	body := gin.H{
		"status":       "ready",
		"time":         time.Now().Unix(),
		"entities":     entities,
		"products":     products,
		"transactions": transactions,
	}
	if len(failed) > 0 {
		body["status"] = "not ready"
		body["failed"] = failed
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) addEntity(c *gin.Context) {
	var req service.AddEntityRequest
	if !bindJSON(c, &req) {
		return
	}
	h.write(c, func(ctx context.Context, caller common.Address) (interface{}, error) {
		return h.svc.AddEntity(ctx, caller, &req)
	})
}

func (h *Handler) getEntity(c *gin.Context) {
	id, ok := addressParam(c, "id")
	if !ok {
		return
	}
	entity, err := h.svc.GetEntity(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entity)
}

func (h *Handler) addProduct(c *gin.Context) {
	var req service.AddProductRequest
	if !bindJSON(c, &req) {
		return
	}
	h.write(c, func(ctx context.Context, caller common.Address) (interface{}, error) {
		return h.svc.AddProduct(ctx, caller, &req)
	})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	product, err := h.svc.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) getProvenance(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	prov, err := h.svc.GetProvenance(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prov)
}

func (h *Handler) getProductTransactions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	txs, err := h.svc.GetProductTransactions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (h *Handler) issueTransaction(c *gin.Context) {
	var req service.IssueTransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	h.write(c, func(ctx context.Context, caller common.Address) (interface{}, error) {
		return h.svc.IssueTransaction(ctx, caller, &req)
	})
}

func (h *Handler) getTransaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	tx, err := h.svc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

type verifyRequest struct {
	Digest hexutil.Bytes  `json:"digest" binding:"required"`
	Signer common.Address `json:"signer" binding:"required"`
}

func (h *Handler) verifyTransaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req verifyRequest
	if !bindJSON(c, &req) {
		return
	}
	match, err := h.svc.IsMatchingSignature(c.Request.Context(), req.Digest, id, req.Signer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": id,
		"signer":         req.Signer,
		"match":          match,
	})
}

type digestRequest struct {
	Issuer    common.Address `json:"issuer" binding:"required"`
	Receiver  common.Address `json:"receiver" binding:"required"`
	ProductID *int64         `json:"product_id" binding:"required"`
}

// digest returns the message an issuer has to sign for a hand-off
func (h *Handler) digest(c *gin.Context) {
	var req digestRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": string(signature.CanonicalMessage(req.Issuer, req.Receiver, *req.ProductID)),
		"digest":  hexutil.Bytes(signature.MessageDigest(req.Issuer, req.Receiver, *req.ProductID)),
	})
}

type auditEntry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	Sequence   int64           `json:"sequence"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

func (h *Handler) listAudit(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be between 1 and 1000",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	records, err := h.audit.ListAudit(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	entries := make([]auditEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, auditEntry{
			EventID:    r.EventID,
			EventType:  r.EventType,
			Sequence:   r.Sequence,
			Payload:    json.RawMessage(r.Payload),
			RecordedAt: r.RecordedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}

// write runs a ledger write on behalf of the calling account, replaying the
// stored response when the Idempotency-Key was seen before
func (h *Handler) write(c *gin.Context, fn func(context.Context, common.Address) (interface{}, error)) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		key = scopedKey(caller, c.FullPath(), key)
		if h.replay(c, key) {
			return
		}
		claimed, err := h.idempotency.Claim(ctx, key, h.idempotencyTTL)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !claimed {
			requestInProgress(c)
			return
		}
	} else {
		key = ""
	}

	result, err := fn(ctx, caller)

	// Settle the key even when the client has gone away.
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		if key != "" {
			if relErr := h.idempotency.Release(settleCtx, key); relErr != nil {
				h.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.respondError(c, err)
		return
	}

	if key != "" {
		if body, mErr := json.Marshal(result); mErr == nil {
			if cErr := h.idempotency.Complete(settleCtx, key, body, h.idempotencyTTL); cErr != nil {
				h.logger.Warn("Failed to store idempotent response", zap.Error(cErr))
			}
		}
	}

	c.JSON(http.StatusCreated, result)
}

// replay writes the stored response for key and reports whether it did
func (h *Handler) replay(c *gin.Context, key string) bool {
	body, found, err := h.idempotency.Lookup(c.Request.Context(), key)
	switch {
	case errors.Is(err, ErrRequestInProgress):
		requestInProgress(c)
		return true
	case err != nil:
		h.respondError(c, err)
		return true
	case !found:
		return false
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
	return true
}

func requestInProgress(c *gin.Context) {
	c.JSON(http.StatusConflict, gin.H{
		"error": "A request with this Idempotency-Key is in progress",
		"code":  "REQUEST_IN_PROGRESS",
	})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{
			"error": "Internal server error",
			"code":  code,
		})
		return
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  code,
	})
}

func statusFor(code string) int {
	switch code {
	case "UNAUTHORIZED":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "DUPLICATE_ENTITY":
		return http.StatusConflict
	case "INTERNAL":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"code":    "INVALID_REQUEST",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func callerAddress(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(CallerHeader)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Missing or invalid " + CallerHeader + " header",
			"code":  "MISSING_CALLER",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func addressParam(c *gin.Context, name string) (common.Address, bool) {
	raw := c.Param(name)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid address",
			"code":  "INVALID_REQUEST",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
			"code":  "INVALID_REQUEST",
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
