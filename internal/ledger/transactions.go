package ledger

import (
	"context"
	"errors"
	"fmt"

	"supplychain-service/internal/models"
	"supplychain-service/internal/signature"

	"github.com/ethereum/go-ethereum/common"
)

// IssueTransaction records a signed hand-off of productID from issuer to
// receiver and moves the product to status. sig must be the issuer's
// signature over the canonical message digest for (issuer, receiver, productID).
func (l *Ledger) IssueTransaction(ctx context.Context, issuer, receiver common.Address, status models.Status, productID int64, sig []byte) (*models.Transaction, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	issuerEntity, receiverEntity, product, err := l.checkTransaction(issuer, receiver, status, productID)
	nextID := int64(len(l.transactions))
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	digest := signature.MessageDigest(issuer, receiver, productID)
	ok, err := l.verifier.Verify(digest, sig, issuer)
	if err != nil {
		if errors.Is(err, ErrMalformedSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSignatureMismatch, issuer.Hex())
	}

	tx := &models.Transaction{
		ID:        nextID,
		Issuer:    *issuerEntity,
		Receiver:  *receiverEntity,
		ProductID: productID,
		Status:    status,
		Signature: append([]byte{}, sig...),
		Timestamp: l.now().UTC(),
	}

	updated := product.Clone()
	updated.Status = status
	updated.TransactionIDs = append(updated.TransactionIDs, tx.ID)

	if l.journal != nil {
		if err := l.journal.SaveTransaction(ctx, tx, updated); err != nil {
			return nil, fmt.Errorf("failed to persist transaction: %w", err)
		}
	}

	l.mu.Lock()
	l.transactions = append(l.transactions, tx)
	l.products[productID] = updated
	l.mu.Unlock()

	return tx.Clone(), nil
}

func (l *Ledger) checkTransaction(issuer, receiver common.Address, status models.Status, productID int64) (*models.Entity, *models.Entity, *models.Product, error) {
	issuerEntity, ok := l.entities[issuer]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: issuer %s", ErrUnknownEntity, issuer.Hex())
	}
	receiverEntity, ok := l.entities[receiver]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: receiver %s", ErrUnknownEntity, receiver.Hex())
	}
	product, ok := l.product(productID)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %d", ErrUnknownProduct, productID)
	}
	if err := l.checkTransition(product.Status, status); err != nil {
		return nil, nil, nil, err
	}
	return issuerEntity, receiverEntity, product, nil
}

// checkTransition allows staying at the current stage or moving forward. A
// product passed between several transporters stays IN_TRANSPORT.
func (l *Ledger) checkTransition(current, next models.Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %d", ErrInvalidStatusTransition, next)
	}
	if l.strictStatus && next < current {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, current, next)
	}
	return nil
}

// GetTransaction returns the transaction with the given id
func (l *Ledger) GetTransaction(id int64) (*models.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id < 0 || id >= int64(len(l.transactions)) {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	return l.transactions[id].Clone(), nil
}

// ProductTransactions returns the hand-offs of a product in ledger order
func (l *Ledger) ProductTransactions(productID int64) ([]*models.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	product, ok := l.product(productID)
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return l.transactionsOf(product), nil
}

func (l *Ledger) transactionsOf(p *models.Product) []*models.Transaction {
	out := make([]*models.Transaction, 0, len(p.TransactionIDs))
	for _, id := range p.TransactionIDs {
		out = append(out, l.transactions[id].Clone())
	}
	return out
}

// IsMatchingSignature reports whether the signature stored with transaction
// txID was produced by claimedSigner over digest
func (l *Ledger) IsMatchingSignature(digest []byte, txID int64, claimedSigner common.Address) (bool, error) {
	tx, err := l.GetTransaction(txID)
	if err != nil {
		return false, err
	}
	return l.verifier.Verify(digest, tx.Signature, claimedSigner)
}
