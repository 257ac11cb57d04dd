package worker

import (
	"context"

	"supplychain-service/internal/broker"
	"supplychain-service/internal/models"
	"supplychain-service/internal/util"

	"go.uber.org/zap"
)

// AuditRecorder stores consumed events. It reports false for an event that
// was already recorded.
type AuditRecorder interface {
	RecordAudit(ctx context.Context, record *models.AuditRecord) (bool, error)
}

// AuditWorker consumes the ledger event stream and keeps one audit row per
// event. Redelivered events are recognised by event id and skipped.
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	recorder     AuditRecorder
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer, recorder AuditRecorder) *AuditWorker {
	w := &AuditWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		recorder:     recorder,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnAny(w.record)
	return w
}

func (w *AuditWorker) record(ctx context.Context, event *models.BaseEvent, payload []byte) error {
	inserted, err := w.recorder.RecordAudit(ctx, &models.AuditRecord{
		EventID:   event.EventID,
		EventType: event.EventType,
		Sequence:  int64(event.Sequence),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	if !inserted {
		w.logger.Info("Event already recorded", zap.String("event_id", event.EventID))
		return nil
	}

	util.AuditEventsConsumedTotal.WithLabelValues(event.EventType).Inc()
	w.logger.Info("Ledger event recorded",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Uint64("sequence", event.Sequence))
	return nil
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}
