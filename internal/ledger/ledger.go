// Package ledger holds the supply-chain state: the entity registry, the
// product ledger and the append-only transaction ledger.
//
// Writers are serialized. Each write validates against the current state,
// hands the change to the Journal and only then mutates memory, so a failed
// check or a failed journal write leaves the ledger untouched. Readers share a
// read lock and always see state between two complete writes.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"supplychain-service/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// Verifier confirms that sig over digest was produced by claimedSigner
type Verifier interface {
	Verify(digest, sig []byte, claimedSigner common.Address) (bool, error)
}

// Journal durably records a change before it becomes visible. An error
// aborts the write.
type Journal interface {
	SaveEntity(ctx context.Context, entity *models.Entity) error
	SaveProduct(ctx context.Context, product *models.Product) error
	SaveTransaction(ctx context.Context, tx *models.Transaction, product *models.Product) error
}

// Snapshot is the full ledger state, used to reload a persisted ledger
type Snapshot struct {
	Entities     []*models.Entity
	Products     []*models.Product
	Transactions []*models.Transaction
}

// Ledger is the single owner of supply-chain state
type Ledger struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	entities     map[common.Address]*models.Entity
	products     []*models.Product
	transactions []*models.Transaction

	verifier     Verifier
	journal      Journal
	strictStatus bool
	bootstrap    map[common.Address]struct{}
	now          func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithJournal persists every change through j before applying it
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithStrictStatus toggles forward-only status transitions. When disabled any
// valid status is accepted.
func WithStrictStatus(strict bool) Option {
	return func(l *Ledger) {
		l.strictStatus = strict
	}
}

// WithBootstrapManufacturers lets the given identities act as manufacturers
// without being registered with that role
func WithBootstrapManufacturers(ids ...common.Address) Option {
	return func(l *Ledger) {
		for _, id := range ids {
			l.bootstrap[id] = struct{}{}
		}
	}
}

// WithClock overrides the transaction timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger
func New(verifier Verifier, opts ...Option) *Ledger {
	l := &Ledger{
		entities:     make(map[common.Address]*models.Entity),
		verifier:     verifier,
		strictStatus: true,
		bootstrap:    make(map[common.Address]struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Restore replaces the in-memory state with snap after checking that it
// satisfies the ledger invariants. The journal is not written.
func (l *Ledger) Restore(snap *Snapshot) error {
	entities := make(map[common.Address]*models.Entity, len(snap.Entities))
	for _, e := range snap.Entities {
		if !e.Role.Valid() {
			return fmt.Errorf("%w: entity %s has role %d", ErrCorruptState, e.ID.Hex(), e.Role)
		}
		if _, ok := entities[e.ID]; ok {
			return fmt.Errorf("%w: entity %s stored twice", ErrCorruptState, e.ID.Hex())
		}
		c := *e
		entities[e.ID] = &c
	}

	products := make([]*models.Product, 0, len(snap.Products))
	for i, p := range snap.Products {
		if p.ID != int64(i) {
			return fmt.Errorf("%w: product at position %d has id %d", ErrCorruptState, i, p.ID)
		}
		if _, ok := entities[p.Manufacturer]; !ok {
			if _, boot := l.bootstrap[p.Manufacturer]; !boot {
				return fmt.Errorf("%w: product %d has unknown manufacturer %s", ErrCorruptState, p.ID, p.Manufacturer.Hex())
			}
		}
		if !p.Status.Valid() {
			return fmt.Errorf("%w: product %d has status %d", ErrCorruptState, p.ID, p.Status)
		}
		for _, m := range p.Materials {
			if m < 0 || m >= p.ID {
				return fmt.Errorf("%w: product %d references material %d", ErrCorruptState, p.ID, m)
			}
		}
		products = append(products, p.Clone())
	}

	transactions := make([]*models.Transaction, 0, len(snap.Transactions))
	for i, tx := range snap.Transactions {
		if tx.ID != int64(i) {
			return fmt.Errorf("%w: transaction at position %d has id %d", ErrCorruptState, i, tx.ID)
		}
		if tx.ProductID < 0 || tx.ProductID >= int64(len(products)) {
			return fmt.Errorf("%w: transaction %d references product %d", ErrCorruptState, tx.ID, tx.ProductID)
		}
		if !tx.Status.Valid() {
			return fmt.Errorf("%w: transaction %d has status %d", ErrCorruptState, tx.ID, tx.Status)
		}
		for _, id := range []common.Address{tx.Issuer.ID, tx.Receiver.ID} {
			if _, ok := entities[id]; !ok {
				return fmt.Errorf("%w: transaction %d references unknown entity %s", ErrCorruptState, tx.ID, id.Hex())
			}
		}
		transactions = append(transactions, tx.Clone())
	}

	for _, p := range products {
		for _, txID := range p.TransactionIDs {
			if txID < 0 || txID >= int64(len(transactions)) || transactions[txID].ProductID != p.ID {
				return fmt.Errorf("%w: product %d lists transaction %d", ErrCorruptState, p.ID, txID)
			}
		}
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entities = entities
	l.products = products
	l.transactions = transactions
	return nil
}

// Counts returns the number of entities, products and transactions
func (l *Ledger) Counts() (entities, products, transactions int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entities), len(l.products), len(l.transactions)
}
