package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"supplychain-service/internal/models"
	"supplychain-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ledgerKey is shared by every ledger event so they all go to one partition
// and consumers read them in commit order
const ledgerKey = "ledger"

// EventPublisher handles publishing ledger events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishAddEntity publishes AddEntity event
func (ep *EventPublisher) PublishAddEntity(ctx context.Context, event *models.AddEntityEvent) error {
	return ep.producer.PublishEvent(ctx, ledgerKey, event)
}

// PublishAddProduct publishes AddProduct event
func (ep *EventPublisher) PublishAddProduct(ctx context.Context, event *models.AddProductEvent) error {
	return ep.producer.PublishEvent(ctx, ledgerKey, event)
}

// PublishIssueTransaction publishes IssueTransaction event
func (ep *EventPublisher) PublishIssueTransaction(ctx context.Context, event *models.IssueTransactionEvent) error {
	return ep.producer.PublishEvent(ctx, ledgerKey, event)
}

// EventHandler handles incoming ledger events
type EventHandler struct {
	onAny              func(context.Context, *models.BaseEvent, []byte) error
	onAddEntity        func(context.Context, *models.AddEntityEvent) error
	onAddProduct       func(context.Context, *models.AddProductEvent) error
	onIssueTransaction func(context.Context, *models.IssueTransactionEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnAny registers a handler that receives every event with its raw payload,
// before any typed handler
func (eh *EventHandler) OnAny(handler func(context.Context, *models.BaseEvent, []byte) error) {
	eh.onAny = handler
}

// OnAddEntity registers a handler for AddEntity events
func (eh *EventHandler) OnAddEntity(handler func(context.Context, *models.AddEntityEvent) error) {
	eh.onAddEntity = handler
}

// OnAddProduct registers a handler for AddProduct events
func (eh *EventHandler) OnAddProduct(handler func(context.Context, *models.AddProductEvent) error) {
	eh.onAddProduct = handler
}

// OnIssueTransaction registers a handler for IssueTransaction events
func (eh *EventHandler) OnIssueTransaction(handler func(context.Context, *models.IssueTransactionEvent) error) {
	eh.onIssueTransaction = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to unmarshal base event: %w", err))
	}

	util.GetLogger().Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
		zap.Uint64("sequence", baseEvent.Sequence))

	if eh.onAny != nil {
		if err := eh.onAny(ctx, &baseEvent, msg.Value); err != nil {
			return err
		}
	}

	switch baseEvent.EventType {
	case models.EventTypeAddEntity:
		if eh.onAddEntity != nil {
			var event models.AddEntityEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal AddEntity event: %w", err))
			}
			return eh.onAddEntity(ctx, &event)
		}

	case models.EventTypeAddProduct:
		if eh.onAddProduct != nil {
			var event models.AddProductEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal AddProduct event: %w", err))
			}
			return eh.onAddProduct(ctx, &event)
		}

	case models.EventTypeIssueTransaction:
		if eh.onIssueTransaction != nil {
			var event models.IssueTransactionEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to unmarshal IssueTransaction event: %w", err))
			}
			return eh.onIssueTransaction(ctx, &event)
		}

	default:
		util.GetLogger().Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
