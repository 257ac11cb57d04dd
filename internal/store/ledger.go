package store

import (
	"context"
	"fmt"
	"time"

	"supplychain-service/internal/ledger"
	"supplychain-service/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
)

type entityRow struct {
	ID        []byte    `db:"id"`
	Role      int16     `db:"role"`
	CreatedAt time.Time `db:"created_at"`
}

type productRow struct {
	ID             int64         `db:"id"`
	Name           string        `db:"name"`
	Manufacturer   []byte        `db:"manufacturer"`
	Materials      pq.Int64Array `db:"materials"`
	Status         int16         `db:"status"`
	TransactionIDs pq.Int64Array `db:"transaction_ids"`
	CreatedAt      time.Time     `db:"created_at"`
}

type transactionRow struct {
	ID           int64     `db:"id"`
	Issuer       []byte    `db:"issuer"`
	IssuerRole   int16     `db:"issuer_role"`
	Receiver     []byte    `db:"receiver"`
	ReceiverRole int16     `db:"receiver_role"`
	ProductID    int64     `db:"product_id"`
	Status       int16     `db:"status"`
	Signature    []byte    `db:"signature"`
	CreatedAt    time.Time `db:"created_at"`
}

func toProductRow(p *models.Product) productRow {
	return productRow{
		ID:             p.ID,
		Name:           p.Name,
		Manufacturer:   p.Manufacturer.Bytes(),
		Materials:      pq.Int64Array(nonNil(p.Materials)),
		Status:         int16(p.Status),
		TransactionIDs: pq.Int64Array(nonNil(p.TransactionIDs)),
		CreatedAt:      p.CreatedAt,
	}
}

func (r productRow) model() *models.Product {
	return &models.Product{
		ID:             r.ID,
		Name:           r.Name,
		Manufacturer:   common.BytesToAddress(r.Manufacturer),
		Materials:      nonNil(r.Materials),
		Status:         models.Status(r.Status),
		TransactionIDs: nonNil(r.TransactionIDs),
		CreatedAt:      r.CreatedAt,
	}
}

func toTransactionRow(tx *models.Transaction) transactionRow {
	return transactionRow{
		ID:           tx.ID,
		Issuer:       tx.Issuer.ID.Bytes(),
		IssuerRole:   int16(tx.Issuer.Role),
		Receiver:     tx.Receiver.ID.Bytes(),
		ReceiverRole: int16(tx.Receiver.Role),
		ProductID:    tx.ProductID,
		Status:       int16(tx.Status),
		Signature:    tx.Signature,
		CreatedAt:    tx.Timestamp,
	}
}

func (r transactionRow) model() *models.Transaction {
	return &models.Transaction{
		ID:        r.ID,
		Issuer:    models.Entity{ID: common.BytesToAddress(r.Issuer), Role: models.Role(r.IssuerRole)},
		Receiver:  models.Entity{ID: common.BytesToAddress(r.Receiver), Role: models.Role(r.ReceiverRole)},
		ProductID: r.ProductID,
		Status:    models.Status(r.Status),
		Signature: r.Signature,
		Timestamp: r.CreatedAt,
	}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// SaveEntity inserts a registered entity
func (s *Store) SaveEntity(ctx context.Context, entity *models.Entity) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO entities (id, role) VALUES ($1, $2)",
		entity.ID.Bytes(), int16(entity.Role))
	return err
}

// SaveProduct inserts a new product
func (s *Store) SaveProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (id, name, manufacturer, materials, status, transaction_ids, created_at)
		VALUES (:id, :name, :manufacturer, :materials, :status, :transaction_ids, :created_at)`

	_, err := s.db.NamedExecContext(ctx, query, toProductRow(product))
	return err
}

// SaveTransaction appends a transaction and stores the product state it
// produced, in one database transaction
func (s *Store) SaveTransaction(ctx context.Context, tx *models.Transaction, product *models.Product) error {
	dbtx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	query := `
		INSERT INTO transactions (id, issuer, issuer_role, receiver, receiver_role, product_id, status, signature, created_at)
		VALUES (:id, :issuer, :issuer_role, :receiver, :receiver_role, :product_id, :status, :signature, :created_at)`

	if _, err := dbtx.NamedExecContext(ctx, query, toTransactionRow(tx)); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	res, err := dbtx.ExecContext(ctx,
		"UPDATE products SET status = $1, transaction_ids = $2 WHERE id = $3",
		int16(product.Status), pq.Int64Array(product.TransactionIDs), product.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("product not found: %d", product.ID)
	}

	return dbtx.Commit()
}

// Load reads the whole ledger in id order
func (s *Store) Load(ctx context.Context) (*ledger.Snapshot, error) {
	var entities []entityRow
	if err := s.db.SelectContext(ctx, &entities, "SELECT id, role, created_at FROM entities ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	var products []productRow
	if err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	var transactions []transactionRow
	if err := s.db.SelectContext(ctx, &transactions, "SELECT * FROM transactions ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	snap := &ledger.Snapshot{
		Entities:     make([]*models.Entity, 0, len(entities)),
		Products:     make([]*models.Product, 0, len(products)),
		Transactions: make([]*models.Transaction, 0, len(transactions)),
	}
	for _, r := range entities {
		snap.Entities = append(snap.Entities, &models.Entity{ID: common.BytesToAddress(r.ID), Role: models.Role(r.Role)})
	}
	for _, r := range products {
		snap.Products = append(snap.Products, r.model())
	}
	for _, r := range transactions {
		snap.Transactions = append(snap.Transactions, r.model())
	}
	return snap, nil
}
