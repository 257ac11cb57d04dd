package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"supplychain-service/internal/ledger"
	"supplychain-service/internal/models"
	"supplychain-service/internal/service"
	"supplychain-service/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authority = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type memoryIdempotency struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{values: map[string][]byte{}}
}

func (m *memoryIdempotency) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	if v == nil {
		return nil, true, ErrRequestInProgress
	}
	return v, true, nil
}

func (m *memoryIdempotency) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = nil
	return true, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, key string, response []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = response
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// contextBoundIdempotency fails every call made on a finished context, like
// the Redis client does
type contextBoundIdempotency struct {
	*memoryIdempotency
}

func (m contextBoundIdempotency) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memoryIdempotency.Complete(ctx, key, response, ttl)
}

func (m contextBoundIdempotency) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memoryIdempotency.Release(ctx, key)
}

type staticAudit []models.AuditRecord

func (s staticAudit) ListAudit(_ context.Context, limit int) ([]models.AuditRecord, error) {
	if limit < len(s) {
		return s[:limit], nil
	}
	return s, nil
}

func newRouter(t *testing.T, opts ...Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := service.NewSupplyChainService(ledger.New(signature.NewVerifier()), nil, []common.Address{authority})
	router := gin.New()
	NewHandler(svc, opts...).SetupRoutes(router)
	return router
}

func do(router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	return doWithContext(context.Background(), router, method, path, body, headers)
}

func doWithContext(ctx context.Context, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func asAuthority() map[string]string {
	return map[string]string{CallerHeader: authority.Hex()}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	router := newRouter(t)

	w := do(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["status"])
}

func TestReadyReportsFailedDependency(t *testing.T) {
	router := newRouter(t, WithReadinessCheck("database", func(context.Context) error {
		return fmt.Errorf("connection refused")
	}))

	w := do(router, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", decode(t, w)["status"])
}

func TestSupplyChainFlow(t *testing.T) {
	router := newRouter(t)

	mKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	m := crypto.PubkeyToAddress(mKey.PublicKey)
	c := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	w := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "MANUFACTURER"}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": c, "role": "TRANSPORTER"}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodPost, "/api/v1/products", gin.H{"name": "Steel", "manufacturer": m}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, float64(0), decode(t, w)["id"])

	w = do(router, http.MethodPost, "/api/v1/signatures/digest",
		gin.H{"issuer": m, "receiver": c, "product_id": 0}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	digestResp := decode(t, w)
	assert.Equal(t, string(signature.CanonicalMessage(m, c, 0)), digestResp["message"])

	digest, err := hexutil.Decode(digestResp["digest"].(string))
	require.NoError(t, err)
	sig, err := signature.Sign(digest, mKey)
	require.NoError(t, err)

	w = do(router, http.MethodPost, "/api/v1/transactions", gin.H{
		"issuer":     m,
		"receiver":   c,
		"status":     "IN_TRANSPORT",
		"product_id": 0,
		"signature":  hexutil.Bytes(sig),
	}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/products/0/transactions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions"], 1)

	w = do(router, http.MethodPost, "/api/v1/transactions/0/verify",
		gin.H{"digest": hexutil.Bytes(digest), "signer": m}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["match"])

	w = do(router, http.MethodPost, "/api/v1/transactions/0/verify",
		gin.H{"digest": hexutil.Bytes(digest), "signer": c}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["match"])

	w = do(router, http.MethodGet, "/api/v1/products/0/provenance", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestErrorMapping(t *testing.T) {
	router := newRouter(t)
	m := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	w := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	stranger := map[string]string{CallerHeader: m.Hex()}
	w = do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, stranger)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w)["code"])

	w = do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, asAuthority())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_ENTITY", decode(t, w)["code"])

	w = do(router, http.MethodPost, "/api/v1/products", gin.H{"name": "Steel", "manufacturer": m}, asAuthority())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "UNKNOWN_MANUFACTURER", decode(t, w)["code"])

	w = do(router, http.MethodGet, "/api/v1/products/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/products/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/entities/not-an-address", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/products", gin.H{"manufacturer": m}, asAuthority())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	store := newMemoryIdempotency()
	router := newRouter(t, WithIdempotency(store, time.Minute))
	m := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	headers := asAuthority()
	headers["Idempotency-Key"] = "entity-1"

	first := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "RETAILER"}, headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "RETAILER"}, headers)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	store := newMemoryIdempotency()
	router := newRouter(t, WithIdempotency(store, time.Minute))
	m := common.HexToAddress("0x00000000000000000000000000000000000000ef")

	headers := asAuthority()
	headers["Idempotency-Key"] = "product-1"

	w := do(router, http.MethodPost, "/api/v1/products", gin.H{"name": "Steel", "manufacturer": m}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, store.values)
}

func TestAuditListing(t *testing.T) {
	records := staticAudit{{
		EventID:   "evt-1",
		EventType: models.EventTypeAddEntity,
		Sequence:  1,
		Payload:   []byte(`{"event_id":"evt-1"}`),
	}}
	router := newRouter(t, WithAuditLog(records))

	w := do(router, http.MethodGet, "/api/v1/audit?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]interface{})
	require.Len(t, events, 1)
	entry := events[0].(map[string]interface{})
	assert.Equal(t, "evt-1", entry["payload"].(map[string]interface{})["event_id"])

	w = do(router, http.MethodGet, "/api/v1/audit?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyKeySettledAfterClientCancels(t *testing.T) {
	store := contextBoundIdempotency{newMemoryIdempotency()}
	router := newRouter(t, WithIdempotency(store, time.Minute))
	m := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	m2 := common.HexToAddress("0x00000000000000000000000000000000000000f2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	headers := asAuthority()
	headers["Idempotency-Key"] = "entity-cancelled"
	w := doWithContext(ctx, router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	retry := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "SUPPLIER"}, headers)
	assert.Equal(t, http.StatusCreated, retry.Code, retry.Body.String())
	assert.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))

	headers["Idempotency-Key"] = "product-cancelled"
	w = doWithContext(ctx, router, http.MethodPost, "/api/v1/products", gin.H{"name": "Steel", "manufacturer": m2}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	store.mu.Lock()
	defer store.mu.Unlock()
	_, claimed := store.values[scopedKey(authority, "/api/v1/products", "product-cancelled")]
	assert.False(t, claimed)
}

func TestIssueTransactionRequestErrors(t *testing.T) {
	router := newRouter(t)
	m := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	c := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	w := do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": m, "role": "MANUFACTURER"}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(router, http.MethodPost, "/api/v1/entities", gin.H{"id": c, "role": "TRANSPORTER"}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(router, http.MethodPost, "/api/v1/products", gin.H{"name": "Steel", "manufacturer": m}, asAuthority())
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(router, http.MethodPost, "/api/v1/transactions", gin.H{
		"issuer": m, "receiver": c, "status": "IN_TRANSPORT", "product_id": 0, "signature": "0xzz",
	}, asAuthority())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "MALFORMED_SIGNATURE", decode(t, w)["code"])

	w = do(router, http.MethodPost, "/api/v1/transactions", gin.H{
		"issuer": m, "receiver": c, "status": "IN_TRANSPORT", "signature": "0x00",
	}, asAuthority())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, w)["code"])

	w = do(router, http.MethodPost, "/api/v1/signatures/digest", gin.H{"issuer": m, "receiver": c}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
