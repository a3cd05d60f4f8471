package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/psds-microservice/queue-service/internal/realtime"
)

// AlertSink — внешний канал оповещения пациента, что подошла его
// очередь. Fire-and-forget: результат не проверяется, ошибки только
// логируются на стороне реализации.
type AlertSink interface {
	NotifyTurn(ctx context.Context, contactRef string, turn event.TurnAlert)
}

// EventProducer — зеркало доменных событий во внешнюю шину (Kafka).
// Тоже best-effort.
type EventProducer interface {
	ProduceQueueEvent(ctx context.Context, ev event.Event)
}

// Dispatcher развязывает коммит реордера и все real-time побочные
// эффекты. Фиксированный набор шардов с ограниченными каналами и по
// одному потребителю на шард: события одного сервиса обрабатываются в
// порядке публикации (serviceID всегда попадает в один шард), разные
// сервисы друг друга не ждут. Publish никогда не блокирует — при
// полном шарде событие теряется с записью в лог, состояние очереди от
// этого не страдает.
type Dispatcher struct {
	registry *realtime.Registry
	alerts   AlertSink
	producer EventProducer

	shards []chan event.Event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher создаёт диспетчер с workers шардами ёмкостью capacity
// каждый и сразу запускает потребителей. alerts и producer могут быть
// nil — соответствующий эффект отключён.
func NewDispatcher(registry *realtime.Registry, alerts AlertSink, producer EventProducer, workers, capacity int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if capacity <= 0 {
		capacity = 256
	}
	d := &Dispatcher{
		registry: registry,
		alerts:   alerts,
		producer: producer,
		shards:   make([]chan event.Event, workers),
	}
	for i := range d.shards {
		d.shards[i] = make(chan event.Event, capacity)
		d.wg.Add(1)
		go d.consume(d.shards[i])
	}
	return d
}

// Publish ставит событие в очередь и немедленно возвращается.
func (d *Dispatcher) Publish(ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	// Неблокирующая постановка под мьютексом: Close не успеет закрыть
	// канал между проверкой closed и записью.
	select {
	case d.shards[int(ev.ServiceID)%len(d.shards)] <- ev:
	default:
		log.Printf("dispatch: shard full, dropped %s event for service %d", ev.Type, ev.ServiceID)
	}
}

// Close останавливает потребителей, дождавшись уже принятых событий.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	for _, shard := range d.shards {
		close(shard)
	}
	d.wg.Wait()
}

func (d *Dispatcher) consume(shard <-chan event.Event) {
	defer d.wg.Done()
	for ev := range shard {
		d.deliver(ev)
	}
}

// deliver переводит одно событие в рассылки реестра и вызовы внешних
// синков. Неизвестный тип события — в лог, не в рассылку.
func (d *Dispatcher) deliver(ev event.Event) {
	switch ev.Type {
	case event.TypeJoined, event.TypeCalled, event.TypeCancelled,
		event.TypeCompleted, event.TypeReordered:
	default:
		log.Printf("dispatch: unhandled event type %q", ev.Type)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("dispatch: marshal event %s: %v", ev.ID, err)
		return
	}

	// Канал сервиса получает событие целиком (полный новый порядок),
	// каждый затронутый тикет — свой персональный срез.
	d.registry.SendService(ev.ServiceID, payload)
	for _, tu := range ev.AffectedTickets {
		msg, err := json.Marshal(ticketMessage{
			Type:      ev.Type,
			ServiceID: ev.ServiceID,
			Ticket:    tu,
			Timestamp: ev.Timestamp,
		})
		if err != nil {
			log.Printf("dispatch: marshal ticket update %s: %v", tu.TicketNumber, err)
			continue
		}
		d.registry.SendTicket(tu.TicketNumber, msg)
	}
	d.registry.BroadcastAdmin(payload)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ev.NewFront != nil && d.alerts != nil {
		d.alerts.NotifyTurn(ctx, ev.NewFront.ContactRef, *ev.NewFront)
	}
	if d.producer != nil {
		d.producer.ProduceQueueEvent(ctx, ev)
	}
}

type ticketMessage struct {
	Type      event.Type         `json:"type"`
	ServiceID uint64             `json:"service_id"`
	Ticket    event.TicketUpdate `json:"ticket"`
	Timestamp time.Time          `json:"timestamp"`
}
