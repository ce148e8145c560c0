package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"brewstore/internal/config"
	"brewstore/internal/httpapi"
	"brewstore/internal/order"
	"brewstore/internal/outbox"
	"brewstore/internal/queue"
	"brewstore/internal/storage"
	"brewstore/internal/websocket"
	"brewstore/pkg/contracts"
	"brewstore/pkg/messaging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	cfg      config.API
	logger   *slog.Logger
	store    *storage.Store
	queue    *queue.Rabbit
	wsHub    *websocket.Hub
	sweeper  *outbox.Sweeper
	consumer *messaging.Consumer
	httpSrv  *http.Server
}

func NewAPI(ctx context.Context, cfg config.API, logger *slog.Logger) (*API, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Prefetch is irrelevant here; the API process only publishes.
	q, err := queue.NewRabbit(cfg.RabbitURL, cfg.WorkQueue, 1, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	consumer, err := messaging.NewRabbitConsumer(cfg.RabbitURL, cfg.StatusExchange, cfg.StatusQueue, logger)
	if err != nil {
		q.Close()
		store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	wsHub := websocket.NewHub()
	placer := order.NewPlacer(store.Orders(), store.Products(), q, logger)

	api := httpapi.NewServer(placer, store.Orders(), store.Products(), httpapi.NewMetrics(reg), logger)
	wsHandler := websocket.NewHandler(wsHub, store.Orders(), logger)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)
	api.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	sweeper := outbox.NewSweeper(store.Orders(), q, cfg.OutboxInterval, cfg.OutboxGrace, cfg.OutboxBatchSize, logger)

	return &API{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		queue:    q,
		wsHub:    wsHub,
		sweeper:  sweeper,
		consumer: consumer,
		httpSrv:  httpSrv,
	}, nil
}

func (a *API) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	a.sweeper.Start(ctx)

	go a.wsHub.Run(ctx)

	go func() {
		errCh <- a.consumer.Start(ctx, a.handleStatusMessage)
	}()

	go func() {
		a.logger.Info("storefront http server listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *API) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.consumer.Close()
	a.queue.Close()
	a.store.Close()
}

func (a *API) handleStatusMessage(_ context.Context, body []byte) error {
	var evt contracts.OrderStatusChanged
	if err := json.Unmarshal(body, &evt); err != nil {
		a.logger.Error("invalid status event", "err", err)
		return messaging.ErrDrop
	}
	a.wsHub.Apply(evt)
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func RunAPI() error {
	logger := newLogger()
	cfg, err := config.LoadAPI()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewAPI(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
