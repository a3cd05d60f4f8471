package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/queue-service/internal/model"
)

// Type — закрытый набор доменных событий очереди. Диспетчер обрабатывает
// его exhaustive-свитчем, новых вариантов без правки диспетчера не бывает.
type Type string

const (
	TypeJoined    Type = "joined"
	TypeCalled    Type = "called"
	TypeCancelled Type = "cancelled"
	TypeCompleted Type = "completed"
	TypeReordered Type = "reordered"
)

// TicketUpdate — срез одного тикета после мутации, в том виде,
// в котором его видят подписчики.
type TicketUpdate struct {
	TicketNumber  string             `json:"ticket_number"`
	Position      int                `json:"position"`
	EstimatedWait int                `json:"estimated_wait"`
	Status        model.TicketStatus `json:"status"`
}

// TurnAlert — контакт пациента, чей тикет вышел на позицию 1.
// Заполняется реордером только когда первый в очереди сменился.
type TurnAlert struct {
	TicketNumber string `json:"ticket_number"`
	ContactRef   string `json:"-"`
	PatientName  string `json:"-"`
}

// Event — иммутабельная запись о завершённой мутации очереди.
// Публикуется строго после коммита транзакции.
type Event struct {
	ID              string         `json:"event_id"`
	Type            Type           `json:"type"`
	ServiceID       uint64         `json:"service_id"`
	AffectedTickets []TicketUpdate `json:"affected_tickets"`
	Timestamp       time.Time      `json:"timestamp"`

	// NewFront != nil, если после мутации позицию 1 занял другой тикет.
	NewFront *TurnAlert `json:"new_front,omitempty"`
}

func New(t Type, serviceID uint64, updates []TicketUpdate) Event {
	return Event{
		ID:              uuid.NewString(),
		Type:            t,
		ServiceID:       serviceID,
		AffectedTickets: updates,
		Timestamp:       time.Now().UTC(),
	}
}
