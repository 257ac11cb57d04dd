package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event types
const (
	EventTypeAddEntity        = "ADD_ENTITY"
	EventTypeAddProduct       = "ADD_PRODUCT"
	EventTypeIssueTransaction = "ISSUE_TRANSACTION"
)

// BaseEvent contains common fields for all events. Sequence follows commit
// order and is strictly increasing within one ledger process.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// AddEntityEvent published when an entity is registered
type AddEntityEvent struct {
	BaseEvent
	EntityID   common.Address `json:"entity_id"`
	EntityRole Role           `json:"entity_role"`
}

// AddProductEvent published when a product is created
type AddProductEvent struct {
	BaseEvent
	ProductID    int64          `json:"product_id"`
	Manufacturer common.Address `json:"manufacturer"`
}

// IssueTransactionEvent published when a hand-off is recorded
type IssueTransactionEvent struct {
	BaseEvent
	Issuer        common.Address `json:"issuer"`
	Receiver      common.Address `json:"receiver"`
	TransactionID int64          `json:"transaction_id"`
}

// AuditRecord is one consumed ledger event as stored by the audit worker
type AuditRecord struct {
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	Sequence   int64     `db:"sequence" json:"sequence"`
	Payload    []byte    `db:"payload" json:"payload"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}
