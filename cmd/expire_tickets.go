package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/psds-microservice/queue-service/internal/alert"
	"github.com/psds-microservice/queue-service/internal/config"
	"github.com/psds-microservice/queue-service/internal/database"
	"github.com/psds-microservice/queue-service/internal/dispatch"
	"github.com/psds-microservice/queue-service/internal/kafka"
	"github.com/psds-microservice/queue-service/internal/queue"
	"github.com/psds-microservice/queue-service/internal/realtime"
	"github.com/psds-microservice/queue-service/internal/service"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/spf13/cobra"
)

var expireTicketsCmd = &cobra.Command{
	Use:   "expire-tickets",
	Short: "Expire waiting tickets older than TICKET_TTL across all services",
	RunE:  runExpireTickets,
}

func init() {
	rootCmd.AddCommand(expireTicketsCmd)
}

// runExpireTickets — обслуживание очереди вне HTTP: каждый сервис
// проходит через тот же реордер, так что позиции после снятия
// просроченных тикетов остаются 1..N, а события уходят в Kafka.
func runExpireTickets(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	st := store.NewPostgres(db)
	registry := realtime.NewRegistry(cfg.WSSendTimeout)
	producer := kafka.NewProducer(kafka.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopicQueue)
	dispatcher := dispatch.NewDispatcher(registry, alert.NewClient(cfg.AlertServiceURL), producer,
		cfg.DispatchWorkers, cfg.DispatchCapacity)
	queueSvc := service.NewQueueService(st, queue.NewReorderer(st), dispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	services, err := queueSvc.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	log.Printf("expire-tickets: %d services, ttl %s", len(services), cfg.TicketTTL)

	total := 0
	for _, svc := range services {
		n, err := queueSvc.ExpireStale(ctx, svc.ID, cfg.TicketTTL)
		if err != nil {
			log.Printf("expire-tickets: service %d: %v", svc.ID, err)
			continue
		}
		if n > 0 {
			log.Printf("expire-tickets: service %d: expired %d tickets", svc.ID, n)
		}
		total += n
	}

	dispatcher.Close()
	registry.Close()
	if err := producer.Close(); err != nil {
		log.Printf("kafka: close: %v", err)
	}
	log.Printf("expire-tickets: done, expired %d tickets", total)
	return nil
}
