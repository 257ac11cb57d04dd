package ledger

import (
	"context"
	"fmt"
	"strings"

	"supplychain-service/internal/models"

	"github.com/ethereum/go-ethereum/common"
)

// AddProduct creates a product made by manufacturer. Materials must be ids of
// products that already exist, which keeps the materials graph acyclic.
func (l *Ledger) AddProduct(ctx context.Context, name string, manufacturer common.Address, materials []int64) (*models.Product, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	err := l.checkManufacturer(manufacturer)
	if err == nil {
		err = l.checkMaterials(materials)
	}
	nextID := int64(len(l.products))
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:             nextID,
		Name:           name,
		Manufacturer:   manufacturer,
		Materials:      append([]int64{}, materials...),
		Status:         models.StatusManufacturing,
		TransactionIDs: []int64{},
		CreatedAt:      l.now().UTC(),
	}

	if l.journal != nil {
		if err := l.journal.SaveProduct(ctx, product); err != nil {
			return nil, fmt.Errorf("failed to persist product: %w", err)
		}
	}

	l.mu.Lock()
	l.products = append(l.products, product)
	l.mu.Unlock()

	return product.Clone(), nil
}

func (l *Ledger) checkManufacturer(id common.Address) error {
	if _, ok := l.bootstrap[id]; ok {
		return nil
	}
	entity, ok := l.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s is not registered", ErrUnknownManufacturer, id.Hex())
	}
	if entity.Role != models.RoleManufacturer {
		return fmt.Errorf("%w: %s has role %s", ErrUnknownManufacturer, id.Hex(), entity.Role)
	}
	return nil
}

func (l *Ledger) checkMaterials(materials []int64) error {
	for _, m := range materials {
		if m < 0 || m >= int64(len(l.products)) {
			return fmt.Errorf("%w: product %d", ErrUnknownMaterial, m)
		}
	}
	return nil
}

// GetProduct returns the product with the given id
func (l *Ledger) GetProduct(id int64) (*models.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	product, ok := l.product(id)
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return product.Clone(), nil
}

func (l *Ledger) product(id int64) (*models.Product, bool) {
	if id < 0 || id >= int64(len(l.products)) {
		return nil, false
	}
	return l.products[id], true
}

// Provenance walks the materials graph from id breadth-first. Every reachable
// product appears once, with its hand-offs in ledger order.
func (l *Ledger) Provenance(id int64) (*models.Provenance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.product(id); !ok {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}

	prov := &models.Provenance{Root: id}
	visited := map[int64]bool{id: true}
	queue := []int64{id}

	for len(queue) > 0 {
		current := l.products[queue[0]]
		queue = queue[1:]

		prov.Nodes = append(prov.Nodes, models.ProvenanceNode{
			Product:      current.Clone(),
			Transactions: l.transactionsOf(current),
		})

		for _, m := range current.Materials {
			if !visited[m] {
				visited[m] = true
				queue = append(queue, m)
			}
		}
	}

	return prov, nil
}
