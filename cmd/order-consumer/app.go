package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"orderflow/internal/broker"
	"orderflow/internal/config"
	"orderflow/internal/constants"
	"orderflow/internal/consumer"
	"orderflow/internal/dedup"
	"orderflow/internal/dlq"
	"orderflow/internal/logger"
	"orderflow/internal/order"
	"orderflow/pkg/bootstrap"
	"orderflow/pkg/health"
	"orderflow/pkg/logging"
	"orderflow/pkg/metrics"
	"orderflow/pkg/migrations"
	"orderflow/pkg/retry"
	"orderflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	dlqProducer    broker.Producer
	processor      *consumer.Processor
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("order-consumer")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.InitConsumer("order-consumer"); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	if err := a.initProcessor(); err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "order-consumer")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterConsumerMetrics()
	metrics.RegisterBrokerMetrics()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Logger.Info("Database migrations applied")
	}
	return nil
}

func (a *App) initProcessor() error {
	// Dead-letter writes go through a synchronous producer: the envelope must
	// be confirmed on the broker before the original delivery is acknowledged.
	dlqProducer, err := broker.NewSyncProducer(a.Config.Broker, a.Logger)
	if err != nil {
		return err
	}
	a.dlqProducer = dlqProducer

	markers := dedup.NewPostgresStore(a.db)
	invoices := order.NewInvoiceRepository(a.db)
	effect := consumer.NewInvoiceEffect(invoices, a.Logger)
	router := dlq.NewRouter(dlqProducer, constants.EventSchemaRef, a.Logger)

	a.processor = consumer.NewProcessor(markers, effect, router, consumer.ProcessorConfig{
		ConsumerGroup:     a.Config.Broker.Kafka.GroupID,
		SideEffectTimeout: a.Config.Consumer.SideEffectTimeout,
		Retry: retry.Policy{
			MaxAttempts:     a.Config.Consumer.Retry.MaxAttempts,
			InitialInterval: a.Config.Consumer.Retry.InitialInterval,
			MaxInterval:     a.Config.Consumer.Retry.MaxInterval,
			Multiplier:      a.Config.Consumer.Retry.Multiplier,
			MaxElapsedTime:  a.Config.Consumer.Retry.MaxElapsedTime,
		},
	}, a.Logger)
	return nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgresChecker(a.db))
	if a.Config.Broker.Type == "kafka" {
		healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	topic := a.Config.Broker.Kafka.OrderTopic
	if topic == "" {
		topic = constants.DefaultOrderTopic
	}

	g.Go(func() error {
		consumeCtx := logging.WithServiceName(gCtx, "order-consumer")
		a.Logger.InfowCtx(consumeCtx, "Starting order event consumer",
			"topic", topic,
			"group_id", a.Config.Broker.Kafka.GroupID,
		)
		return a.Consumer.Consume(gCtx, topic, a.processor.Handle)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "order-consumer")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down order consumer")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.dlqProducer != nil {
			if err := a.dlqProducer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dlq producer close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(nil, a.db)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
