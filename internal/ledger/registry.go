package ledger

import (
	"context"
	"fmt"

	"supplychain-service/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// AddEntity registers id with role. An id can be registered only once.
func (l *Ledger) AddEntity(ctx context.Context, id common.Address, role models.Role) (*models.Entity, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	_, exists := l.entities[id]
	l.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, id.Hex())
	}

	entity := &models.Entity{ID: id, Role: role}
	if l.journal != nil {
		if err := l.journal.SaveEntity(ctx, entity); err != nil {
			return nil, fmt.Errorf("failed to persist entity: %w", err)
		}
	}

	l.mu.Lock()
	l.entities[id] = entity
	l.mu.Unlock()

	c := *entity
	return &c, nil
}

// GetEntity returns the entity registered under id
func (l *Ledger) GetEntity(id common.Address) (*models.Entity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entity, ok := l.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id.Hex(), ErrNotFound)
	}
	c := *entity
	return &c, nil
}
