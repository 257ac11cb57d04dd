package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestLoadLedgerSettings(t *testing.T) {
	t.Setenv("LEDGER_AUTHORITIES", "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23, not-an-address ,0x0000000000000000000000000000000000000001")
	t.Setenv("LEDGER_STRICT_STATUS", "false")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("STORAGE_BACKEND", "Memory")

	cfg := Load()

	assert.Equal(t, []common.Address{
		common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
		common.HexToAddress("0x01"),
	}, cfg.Ledger.Authorities)
	assert.False(t, cfg.Ledger.StrictStatus)
	assert.Equal(t, time.Minute, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, StorageMemory, cfg.Database.Backend)
}

func TestEmptyAddressesDisableIntegrations(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.Ledger.StrictStatus)
}
