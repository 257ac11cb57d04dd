package store

import (
	"context"
	"os"
	"testing"
	"time"

	"supplychain-service/internal/ledger"
	"supplychain-service/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRowRoundTrip(t *testing.T) {
	p := &models.Product{
		ID:             3,
		Name:           "Shirt",
		Manufacturer:   common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
		Materials:      []int64{0, 1},
		Status:         models.StatusStored,
		TransactionIDs: []int64{4},
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	assert.Equal(t, p, toProductRow(p).model())

	empty := toProductRow(&models.Product{ID: 0, Name: "Cotton"})
	assert.NotNil(t, empty.Materials, "empty arrays must be stored as '{}' rather than NULL")
	assert.NotNil(t, empty.TransactionIDs)
}

func TestTransactionRowRoundTrip(t *testing.T) {
	tx := &models.Transaction{
		ID:        7,
		Issuer:    models.Entity{ID: common.HexToAddress("0x01"), Role: models.RoleManufacturer},
		Receiver:  models.Entity{ID: common.HexToAddress("0x02"), Role: models.RoleTransporter},
		ProductID: 3,
		Status:    models.StatusInTransport,
		Signature: []byte{1, 2, 3},
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	assert.Equal(t, tx, toTransactionRow(tx).model())
}

func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = store.GetDB().ExecContext(ctx, "TRUNCATE ledger_audit, processed_events, transactions, products, entities")
	require.NoError(t, err)
	return store
}

func TestJournalAndLoad(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	manufacturer := &models.Entity{ID: common.HexToAddress("0x01"), Role: models.RoleManufacturer}
	transporter := &models.Entity{ID: common.HexToAddress("0x02"), Role: models.RoleTransporter}
	require.NoError(t, store.SaveEntity(ctx, manufacturer))
	require.NoError(t, store.SaveEntity(ctx, transporter))
	assert.Error(t, store.SaveEntity(ctx, manufacturer), "duplicate entity must violate the primary key")

	product := &models.Product{ID: 0, Name: "Cotton", Manufacturer: manufacturer.ID, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveProduct(ctx, product))

	tx := &models.Transaction{
		ID:        0,
		Issuer:    *manufacturer,
		Receiver:  *transporter,
		ProductID: 0,
		Status:    models.StatusInTransport,
		Signature: make([]byte, 65),
		Timestamp: time.Now().UTC(),
	}
	updated := product.Clone()
	updated.Status = models.StatusInTransport
	updated.TransactionIDs = []int64{0}
	require.NoError(t, store.SaveTransaction(ctx, tx, updated))

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 2)
	require.Len(t, snap.Products, 1)
	assert.Equal(t, models.StatusInTransport, snap.Products[0].Status)
	assert.Equal(t, []int64{0}, snap.Products[0].TransactionIDs)
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, transporter.ID, snap.Transactions[0].Receiver.ID)

	require.NoError(t, ledger.New(nil).Restore(snap))
}

func TestRecordAuditIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	record := &models.AuditRecord{
		EventID:   "evt-1",
		EventType: models.EventTypeAddEntity,
		Sequence:  1,
		Payload:   []byte(`{"entity_id":"0x01"}`),
	}

	inserted, err := store.RecordAudit(ctx, record)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.RecordAudit(ctx, record)
	require.NoError(t, err)
	assert.False(t, inserted)

	records, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
