package kafka

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/segmentio/kafka-go"
)

// Producer зеркалирует события очереди в топик Kafka для дашбордов и
// аналитики (best-effort, не блокирует мутации).
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой — методы no-op.
func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 || topic == "" {
		return &Producer{}
	}
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// ProduceQueueEvent отправляет событие очереди в топик. Ключ — id
// сервиса, чтобы события одного сервиса попадали в одну партицию.
func (p *Producer) ProduceQueueEvent(ctx context.Context, ev event.Event) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("kafka: marshal queue event: %v", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte("service-" + strconv.FormatUint(ev.ServiceID, 10)),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Printf("kafka: write queue event: %v", err)
	}
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
