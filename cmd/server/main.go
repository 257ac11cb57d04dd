package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supplychain-service/config"
	"supplychain-service/internal/api"
	"supplychain-service/internal/broker"
	"supplychain-service/internal/events"
	"supplychain-service/internal/ledger"
	"supplychain-service/internal/models"
	"supplychain-service/internal/redisclient"
	"supplychain-service/internal/service"
	"supplychain-service/internal/signature"
	"supplychain-service/internal/store"
	"supplychain-service/internal/util"
	"supplychain-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting supply chain service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	if len(cfg.Ledger.Authorities) == 0 {
		logger.Warn("LEDGER_AUTHORITIES is empty, every write will be rejected")
	}

	ledgerOpts := []ledger.Option{ledger.WithStrictStatus(cfg.Ledger.StrictStatus)}
	if cfg.Ledger.BootstrapManufacturers {
		ledgerOpts = append(ledgerOpts, ledger.WithBootstrapManufacturers(cfg.Ledger.Authorities...))
	}
	var handlerOpts []api.Option

	ctx := context.Background()

	var db *store.Store
	switch cfg.Database.Backend {
	case config.StoragePostgres:
		db, err = store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		logger.Info("Database connected")

		ledgerOpts = append(ledgerOpts, ledger.WithJournal(db))
		handlerOpts = append(handlerOpts,
			api.WithReadinessCheck("database", db.Ping),
			api.WithAuditLog(db))
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, the ledger will not survive a restart")
	default:
		log.Fatalf("Unknown STORAGE_BACKEND %q", cfg.Database.Backend)
	}

	l := ledger.New(signature.NewVerifier(), ledgerOpts...)

	if db != nil {
		snap, err := db.Load(ctx)
		if err != nil {
			log.Fatalf("Failed to load ledger: %v", err)
		}
		if err := l.Restore(snap); err != nil {
			log.Fatalf("Failed to restore ledger: %v", err)
		}
		entities, products, transactions := l.Counts()
		logger.Info("Ledger restored",
			zap.Int("entities", entities),
			zap.Int("products", products),
			zap.Int("transactions", transactions))
	}

	if cfg.Redis.Enabled() {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected")

		handlerOpts = append(handlerOpts,
			api.WithIdempotency(redisClient, cfg.Redis.IdempotencyTTL),
			api.WithReadinessCheck("redis", redisClient.Ping))
	}

	bus := events.NewBus()
	if err := subscribeEventLog(bus, logger); err != nil {
		log.Fatalf("Failed to subscribe event log: %v", err)
	}
	publishers := events.Fanout{bus}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var auditWorker *worker.AuditWorker
	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger)
		defer producer.Close()
		publishers = append(publishers, broker.NewEventPublisher(producer))
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicLedger))

		if db != nil {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger, cfg.Kafka.ConsumerGroup)
			auditWorker = worker.NewAuditWorker(consumer, db)
			go func() {
				if err := auditWorker.Start(workerCtx); err != nil {
					logger.Error("Audit worker error", zap.Error(err))
				}
			}()
		} else {
			logger.Warn("Audit worker disabled, it needs the postgres backend")
		}
	}

	svc := service.NewSupplyChainService(l, publishers, cfg.Ledger.Authorities)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(svc, handlerOpts...)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if auditWorker != nil {
		auditWorker.Stop()
	}

	logger.Info("Server exited")
}

// subscribeEventLog writes every committed ledger event to the service log
func subscribeEventLog(bus *events.Bus, logger *zap.Logger) error {
	if err := bus.OnAddEntity(func(_ context.Context, e *models.AddEntityEvent) {
		logger.Debug("AddEntity",
			zap.Uint64("sequence", e.Sequence),
			zap.String("entity_id", e.EntityID.Hex()),
			zap.Stringer("role", e.EntityRole))
	}); err != nil {
		return err
	}
	if err := bus.OnAddProduct(func(_ context.Context, e *models.AddProductEvent) {
		logger.Debug("AddProduct",
			zap.Uint64("sequence", e.Sequence),
			zap.Int64("product_id", e.ProductID),
			zap.String("manufacturer", e.Manufacturer.Hex()))
	}); err != nil {
		return err
	}
	return bus.OnIssueTransaction(func(_ context.Context, e *models.IssueTransactionEvent) {
		logger.Debug("IssueTransaction",
			zap.Uint64("sequence", e.Sequence),
			zap.Int64("transaction_id", e.TransactionID),
			zap.String("issuer", e.Issuer.Hex()),
			zap.String("receiver", e.Receiver.Hex()))
	})
}
