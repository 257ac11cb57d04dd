// Package events fans committed ledger events out to observers.
package events

import (
	"context"
	"errors"

	"supplychain-service/internal/models"

	evbus "github.com/asaskevich/EventBus"
)

// Publisher delivers committed ledger events. Implementations must deliver
// events in the order they are published.
type Publisher interface {
	PublishAddEntity(ctx context.Context, event *models.AddEntityEvent) error
	PublishAddProduct(ctx context.Context, event *models.AddProductEvent) error
	PublishIssueTransaction(ctx context.Context, event *models.IssueTransactionEvent) error
}

// Bus delivers events to in-process subscribers. Handlers run synchronously
// on the publishing goroutine, so they observe events in commit order.
type Bus struct {
	bus evbus.Bus
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

// OnAddEntity subscribes fn to AddEntity events
func (b *Bus) OnAddEntity(fn func(context.Context, *models.AddEntityEvent)) error {
	return b.bus.Subscribe(models.EventTypeAddEntity, fn)
}

// OnAddProduct subscribes fn to AddProduct events
func (b *Bus) OnAddProduct(fn func(context.Context, *models.AddProductEvent)) error {
	return b.bus.Subscribe(models.EventTypeAddProduct, fn)
}

// OnIssueTransaction subscribes fn to IssueTransaction events
func (b *Bus) OnIssueTransaction(fn func(context.Context, *models.IssueTransactionEvent)) error {
	return b.bus.Subscribe(models.EventTypeIssueTransaction, fn)
}

func (b *Bus) PublishAddEntity(ctx context.Context, event *models.AddEntityEvent) error {
	b.bus.Publish(models.EventTypeAddEntity, ctx, event)
	return nil
}

func (b *Bus) PublishAddProduct(ctx context.Context, event *models.AddProductEvent) error {
	b.bus.Publish(models.EventTypeAddProduct, ctx, event)
	return nil
}

func (b *Bus) PublishIssueTransaction(ctx context.Context, event *models.IssueTransactionEvent) error {
	b.bus.Publish(models.EventTypeIssueTransaction, ctx, event)
	return nil
}

// Fanout publishes every event to each publisher in turn. A failing publisher
// does not stop delivery to the rest; all errors are returned joined.
type Fanout []Publisher

func (f Fanout) PublishAddEntity(ctx context.Context, event *models.AddEntityEvent) error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.PublishAddEntity(ctx, event))
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishAddProduct(ctx context.Context, event *models.AddProductEvent) error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.PublishAddProduct(ctx, event))
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishIssueTransaction(ctx context.Context, event *models.IssueTransactionEvent) error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.PublishIssueTransaction(ctx, event))
	}
	return errors.Join(errs...)
}
