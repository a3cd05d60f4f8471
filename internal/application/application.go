package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/psds-microservice/queue-service/internal/alert"
	"github.com/psds-microservice/queue-service/internal/config"
	"github.com/psds-microservice/queue-service/internal/database"
	"github.com/psds-microservice/queue-service/internal/dispatch"
	"github.com/psds-microservice/queue-service/internal/handler"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/queue"
	"github.com/psds-microservice/queue-service/internal/realtime"
	"github.com/psds-microservice/queue-service/internal/router"
	"github.com/psds-microservice/queue-service/internal/service"
	"github.com/psds-microservice/queue-service/internal/store"
)

// API — приложение режима api: HTTP-сервер плюс фоновый диспетчер
// уведомлений. Реестр соединений и диспетчер создаются на старте
// процесса и передаются вниз явно, никакого глобального состояния.
type API struct {
	cfg        *config.Config
	httpSrv    *http.Server
	registry   *realtime.Registry
	dispatcher *dispatch.Dispatcher
	producer   *kafka.Producer
}

// NewAPI собирает приложение: конфиг → база → стор → реордер →
// реестр → диспетчер → сервис → роутер.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	st := store.NewPostgres(db)
	reorderer := queue.NewReorderer(st)
	registry := realtime.NewRegistry(cfg.WSSendTimeout)
	alerts := alert.NewClient(cfg.AlertServiceURL)
	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopicQueue)
	dispatcher := dispatch.NewDispatcher(registry, alerts, producer, cfg.DispatchWorkers, cfg.DispatchCapacity)

	queueSvc := service.NewQueueService(st, reorderer, dispatcher)
	queueHandler := handler.NewQueueHandler(queueSvc)
	gateway := realtime.NewGateway(registry)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(queueHandler, gateway),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:        cfg,
		httpSrv:    httpSrv,
		registry:   registry,
		dispatcher: dispatcher,
		producer:   producer,
	}, nil
}

// Run запускает HTTP-сервер и блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.httpSrv.Addr)
	log.Printf("  Swagger UI:    %s/swagger", base)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  API v1:        %s/api/v1/", base)
	log.Printf("  WS queue:      ws://%s:%s/ws/queue/{id}", host, a.cfg.HTTPPort)
	log.Printf("  WS ticket:     ws://%s:%s/ws/ticket/{number}", host, a.cfg.HTTPPort)
	log.Printf("  WS admin:      ws://%s:%s/ws/admin", host, a.cfg.HTTPPort)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	// Сначала дожать принятые события, потом разорвать подписки.
	a.dispatcher.Close()
	a.registry.Close()
	if err := a.producer.Close(); err != nil {
		log.Printf("kafka: close: %v", err)
	}
	return nil
}
