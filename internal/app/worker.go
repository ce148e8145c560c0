package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"brewstore/internal/config"
	"brewstore/internal/fulfillment"
	"brewstore/internal/queue"
	"brewstore/internal/storage"
	"brewstore/internal/worker"
	"brewstore/pkg/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
)

type Worker struct {
	cfg        config.Worker
	logger     *slog.Logger
	store      *storage.Store
	queue      *queue.Rabbit
	publisher  *messaging.RabbitPublisher
	kafka      *kafka.Writer
	worker     *worker.Worker
	metricsSrv *http.Server
}

func NewWorker(ctx context.Context, cfg config.Worker, logger *slog.Logger) (*Worker, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	q, err := queue.NewRabbit(cfg.RabbitURL, cfg.WorkQueue, cfg.Concurrency, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.StatusExchange)
	if err != nil {
		q.Close()
		store.Close()
		return nil, err
	}

	steps := reserveThenCharge(store.Inventory(), store.Payments(), fulfillment.NewHTTPGateway(cfg.PaymentURL, cfg.PaymentTimeout))
	var writer *kafka.Writer
	if brokers := messaging.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		writer = messaging.NewKafkaWriter(brokers, cfg.NotifyTopic)
		steps = append(steps, fulfillment.NewNotifyStep(writer))
	} else {
		logger.Warn("KAFKA_BROKERS not set, fulfillment notifications disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	w := worker.New(worker.Config{
		Concurrency:    cfg.Concurrency,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		BackoffCeiling: cfg.BackoffCeiling,
		ClaimLease:     cfg.ClaimLease,
	}, q, store.Orders(), fulfillment.NewChain(steps...), worker.NewBusEvents(publisher), worker.NewMetrics(reg), logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return &Worker{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		queue:      q,
		publisher:  publisher,
		kafka:      writer,
		worker:     w,
		metricsSrv: &http.Server{Addr: cfg.MetricsAddr, Handler: mux},
	}, nil
}

// Run returns once every consumer has stopped, so in-flight items are not
// cut off by Close.
func (a *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("worker metrics listening", "addr", a.cfg.MetricsAddr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	err := a.worker.Run(ctx)
	select {
	case srvErr := <-errCh:
		return srvErr
	default:
		return err
	}
}

func (a *Worker) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = a.metricsSrv.Shutdown(shutdownCtx)
	a.queue.Close()
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
	a.publisher.Close()
	a.store.Close()
}

func RunWorker() error {
	logger := newLogger()
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewWorker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init worker: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}

// reserveThenCharge reserves stock before the charge so an out-of-stock order
// never reaches the payment gateway.
func reserveThenCharge(inv fulfillment.Inventory, ledger fulfillment.Ledger, gw fulfillment.Gateway) []fulfillment.Step {
	return []fulfillment.Step{
		fulfillment.NewInventoryStep(inv),
		fulfillment.NewPaymentStep(ledger, gw),
	}
}
