package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"supplychain-service/internal/events"
	"supplychain-service/internal/ledger"
	"supplychain-service/internal/models"
	"supplychain-service/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when a write comes from a caller outside the
// configured authority set
var ErrUnauthorized = errors.New("caller is not authorized to write to the ledger")

const publishTimeout = 10 * time.Second

// SupplyChainService is the single entry point to the ledger. Writes are
// restricted to the authorities and applied one at a time; each committed
// write publishes exactly one event, in commit order.
type SupplyChainService struct {
	ledger      *ledger.Ledger
	publisher   events.Publisher
	authorities map[common.Address]struct{}
	logger      *zap.Logger

	writeMu  sync.Mutex
	sequence uint64
}

// NewSupplyChainService creates a new supply chain service
func NewSupplyChainService(
	l *ledger.Ledger,
	publisher events.Publisher,
	authorities []common.Address,
) *SupplyChainService {
	set := make(map[common.Address]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	if publisher == nil {
		publisher = events.Fanout{}
	}
	// Every committed write emitted one event, so a restored ledger continues
	// the sequence where the previous run stopped.
	entities, products, transactions := l.Counts()
	return &SupplyChainService{
		ledger:      l,
		publisher:   publisher,
		authorities: set,
		logger:      util.GetLogger(),
		sequence:    uint64(entities + products + transactions),
	}
}

// AddEntityRequest represents a request to register an entity
type AddEntityRequest struct {
	ID   common.Address `json:"id" binding:"required"`
	Role string         `json:"role" binding:"required"`
}

// AddProductRequest represents a request to create a product. MaterialID names
// a single semi-product; MaterialIDs allows more.
type AddProductRequest struct {
	Name         string         `json:"name" binding:"required"`
	Manufacturer common.Address `json:"manufacturer" binding:"required"`
	MaterialID   *int64         `json:"material_id,omitempty"`
	MaterialIDs  []int64        `json:"material_ids,omitempty"`
}

func (r *AddProductRequest) materials() []int64 {
	var out []int64
	if r.MaterialID != nil {
		out = append(out, *r.MaterialID)
	}
	return append(out, r.MaterialIDs...)
}

// IssueTransactionRequest represents a signed hand-off. Signature is the
// 0x-prefixed hex of the 65-byte signature.
type IssueTransactionRequest struct {
	Issuer    common.Address `json:"issuer" binding:"required"`
	Receiver  common.Address `json:"receiver" binding:"required"`
	Status    string         `json:"status" binding:"required"`
	ProductID *int64         `json:"product_id" binding:"required"`
	Signature string         `json:"signature" binding:"required"`
}

// IsAuthorized reports whether caller may write to the ledger
func (s *SupplyChainService) IsAuthorized(caller common.Address) bool {
	_, ok := s.authorities[caller]
	return ok
}

func (s *SupplyChainService) authorize(op string, caller common.Address) error {
	if s.IsAuthorized(caller) {
		return nil
	}
	util.WritesRejectedTotal.WithLabelValues(op, ErrorCode(ErrUnauthorized)).Inc()
	s.logger.Warn("Unauthorized write rejected",
		zap.String("operation", op),
		zap.String("caller", caller.Hex()))
	return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
}

func (s *SupplyChainService) rejected(op string, err error) {
	code := ErrorCode(err)
	util.WritesRejectedTotal.WithLabelValues(op, code).Inc()
	if code == codeInternal {
		s.logger.Error("Ledger write failed", zap.String("operation", op), zap.Error(err))
		return
	}
	s.logger.Info("Ledger write rejected",
		zap.String("operation", op),
		zap.String("reason", code),
		zap.Error(err))
}

func (s *SupplyChainService) nextBase(eventType string) models.BaseEvent {
	s.sequence++
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Sequence:  s.sequence,
		Timestamp: time.Now().UTC(),
	}
}

// publishContext keeps the request values but not its cancellation
func publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
}

func (s *SupplyChainService) publishFailed(eventType string, err error) {
	util.EventsPublishFailedTotal.WithLabelValues(eventType).Inc()
	s.logger.Error("Failed to publish ledger event",
		zap.String("event_type", eventType),
		zap.Error(err))
}

// AddEntity registers a participant
func (s *SupplyChainService) AddEntity(ctx context.Context, caller common.Address, req *AddEntityRequest) (entity *models.Entity, err error) {
	const op = "add_entity"
	ctx, span := util.StartSpan(ctx, "SupplyChainService.AddEntity",
		attribute.String("entity_id", req.ID.Hex()))
	defer func() { util.EndSpan(span, err) }()

	if err := s.authorize(op, caller); err != nil {
		return nil, err
	}

	role, ok := models.ParseRole(req.Role)
	if !ok {
		err := fmt.Errorf("%w: %q", ledger.ErrInvalidRole, req.Role)
		s.rejected(op, err)
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	entity, err = s.ledger.AddEntity(ctx, req.ID, role)
	util.LedgerWriteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.rejected(op, err)
		return nil, err
	}

	util.EntitiesRegisteredTotal.WithLabelValues(entity.Role.String()).Inc()
	s.logger.Info("Entity registered",
		zap.String("entity_id", entity.ID.Hex()),
		zap.Stringer("role", entity.Role))

	event := &models.AddEntityEvent{
		BaseEvent:  s.nextBase(models.EventTypeAddEntity),
		EntityID:   entity.ID,
		EntityRole: entity.Role,
	}
	pubCtx, cancel := publishContext(ctx)
	defer cancel()
	if err := s.publisher.PublishAddEntity(pubCtx, event); err != nil {
		s.publishFailed(event.EventType, err)
	}

	return entity, nil
}

// AddProduct creates a product
func (s *SupplyChainService) AddProduct(ctx context.Context, caller common.Address, req *AddProductRequest) (product *models.Product, err error) {
	const op = "add_product"
	ctx, span := util.StartSpan(ctx, "SupplyChainService.AddProduct",
		attribute.String("manufacturer", req.Manufacturer.Hex()))
	defer func() { util.EndSpan(span, err) }()

	if err := s.authorize(op, caller); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	product, err = s.ledger.AddProduct(ctx, req.Name, req.Manufacturer, req.materials())
	util.LedgerWriteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.rejected(op, err)
		return nil, err
	}

	util.ProductsCreatedTotal.Inc()
	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("name", product.Name),
		zap.String("manufacturer", product.Manufacturer.Hex()),
		zap.Int64s("materials", product.Materials))

	event := &models.AddProductEvent{
		BaseEvent:    s.nextBase(models.EventTypeAddProduct),
		ProductID:    product.ID,
		Manufacturer: product.Manufacturer,
	}
	pubCtx, cancel := publishContext(ctx)
	defer cancel()
	if err := s.publisher.PublishAddProduct(pubCtx, event); err != nil {
		s.publishFailed(event.EventType, err)
	}

	return product, nil
}

// IssueTransaction records a signed hand-off and advances the product status
func (s *SupplyChainService) IssueTransaction(ctx context.Context, caller common.Address, req *IssueTransactionRequest) (tx *models.Transaction, err error) {
	const op = "issue_transaction"
	ctx, span := util.StartSpan(ctx, "SupplyChainService.IssueTransaction",
		attribute.String("issuer", req.Issuer.Hex()),
		attribute.String("receiver", req.Receiver.Hex()))
	defer func() { util.EndSpan(span, err) }()

	if err := s.authorize(op, caller); err != nil {
		return nil, err
	}

	if req.ProductID == nil {
		err := fmt.Errorf("%w: product id is required", ledger.ErrUnknownProduct)
		s.rejected(op, err)
		return nil, err
	}
	productID := *req.ProductID
	span.SetAttributes(attribute.Int64("product_id", productID))

	// Undecodable hex is handed on as an empty signature, which the ledger
	// classifies as malformed after its other checks.
	sig, decodeErr := hexutil.Decode(req.Signature)
	if decodeErr != nil {
		sig = nil
	}

	status, ok := models.ParseStatus(req.Status)
	if !ok {
		err := fmt.Errorf("%w: unknown status %q", ledger.ErrInvalidStatusTransition, req.Status)
		s.rejected(op, err)
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	tx, err = s.ledger.IssueTransaction(ctx, req.Issuer, req.Receiver, status, productID, sig)
	util.LedgerWriteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if decodeErr != nil && errors.Is(err, ledger.ErrMalformedSignature) {
			err = fmt.Errorf("%w: %v", ledger.ErrMalformedSignature, decodeErr)
		}
		s.rejected(op, err)
		return nil, err
	}

	util.TransactionsIssuedTotal.WithLabelValues(tx.Status.String()).Inc()
	s.logger.Info("Transaction issued",
		zap.Int64("transaction_id", tx.ID),
		zap.Int64("product_id", tx.ProductID),
		zap.String("issuer", tx.Issuer.ID.Hex()),
		zap.String("receiver", tx.Receiver.ID.Hex()),
		zap.Stringer("status", tx.Status))

	event := &models.IssueTransactionEvent{
		BaseEvent:     s.nextBase(models.EventTypeIssueTransaction),
		Issuer:        tx.Issuer.ID,
		Receiver:      tx.Receiver.ID,
		TransactionID: tx.ID,
	}
	pubCtx, cancel := publishContext(ctx)
	defer cancel()
	if err := s.publisher.PublishIssueTransaction(pubCtx, event); err != nil {
		s.publishFailed(event.EventType, err)
	}

	return tx, nil
}

// GetEntity retrieves an entity by id
func (s *SupplyChainService) GetEntity(ctx context.Context, id common.Address) (*models.Entity, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.GetEntity")
	defer span.End()
	return s.ledger.GetEntity(id)
}

// GetProduct retrieves a product by id
func (s *SupplyChainService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.GetProduct")
	defer span.End()
	return s.ledger.GetProduct(id)
}

// GetProvenance returns the product, its materials and their hand-offs
func (s *SupplyChainService) GetProvenance(ctx context.Context, id int64) (*models.Provenance, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.GetProvenance")
	defer span.End()
	return s.ledger.Provenance(id)
}

// GetProductTransactions lists the hand-offs of a product
func (s *SupplyChainService) GetProductTransactions(ctx context.Context, id int64) ([]*models.Transaction, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.GetProductTransactions")
	defer span.End()
	return s.ledger.ProductTransactions(id)
}

// GetTransaction retrieves a transaction by id
func (s *SupplyChainService) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.GetTransaction")
	defer span.End()
	return s.ledger.GetTransaction(id)
}

// IsMatchingSignature checks the signature stored with a transaction against
// digest and claimedSigner
func (s *SupplyChainService) IsMatchingSignature(ctx context.Context, digest []byte, txID int64, claimedSigner common.Address) (bool, error) {
	_, span := util.StartSpan(ctx, "SupplyChainService.IsMatchingSignature",
		attribute.Int64("transaction_id", txID))
	defer span.End()

	ok, err := s.ledger.IsMatchingSignature(digest, txID, claimedSigner)
	switch {
	case err != nil:
		util.SignatureChecksTotal.WithLabelValues("error").Inc()
	case ok:
		util.SignatureChecksTotal.WithLabelValues("match").Inc()
	default:
		util.SignatureChecksTotal.WithLabelValues("mismatch").Inc()
	}
	return ok, err
}

// Stats returns the ledger sizes
func (s *SupplyChainService) Stats() (entities, products, transactions int) {
	return s.ledger.Counts()
}
