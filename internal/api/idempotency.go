package api

import (
	"context"
	"fmt"
	"time"

	"supplychain-service/internal/redisclient"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRequestInProgress is returned by Lookup while a claimed key has no
// response yet
var ErrRequestInProgress = redisclient.ErrRequestInProgress

// IdempotencyStore remembers write responses by Idempotency-Key.
// *redisclient.Client implements it.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// Keys are scoped per caller and route so that two accounts can not collide.
func scopedKey(caller common.Address, route, key string) string {
	return fmt.Sprintf("%s:%s:%s", caller.Hex(), route, key)
}
