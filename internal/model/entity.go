package model

import "time"

type TicketStatus string

const (
	TicketStatusWaiting    TicketStatus = "waiting"
	TicketStatusConsulting TicketStatus = "consulting"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCancelled  TicketStatus = "cancelled"
	TicketStatusExpired    TicketStatus = "expired"
)

// Terminal возвращает true для статусов, из которых нет переходов.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled || s == TicketStatusExpired
}

type TicketPriority int

const (
	PriorityLow TicketPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityEmergency
)

func (p TicketPriority) Valid() bool {
	return p >= PriorityLow && p <= PriorityEmergency
}

func (p TicketPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityEmergency:
		return "emergency"
	}
	return "unknown"
}

// ParsePriority разбирает строковое представление приоритета из API.
func ParsePriority(s string) (TicketPriority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "medium":
		return PriorityMedium, true
	case "high":
		return PriorityHigh, true
	case "emergency":
		return PriorityEmergency, true
	}
	return 0, false
}

type ServiceStatus string

const (
	ServiceStatusActive    ServiceStatus = "active"
	ServiceStatusInactive  ServiceStatus = "inactive"
	ServiceStatusEmergency ServiceStatus = "emergency"
)

type Ticket struct {
	ID             string         `gorm:"primaryKey;type:uuid" json:"id"`
	TicketNumber   string         `gorm:"uniqueIndex;not null" json:"ticket_number"`
	ServiceID      uint64         `gorm:"index;not null" json:"service_id"`
	PatientName    string         `gorm:"type:varchar(255);not null" json:"patient_name"`
	PatientContact string         `gorm:"type:varchar(255)" json:"patient_contact,omitempty"`
	Priority       TicketPriority `gorm:"index;not null" json:"priority"`
	Status         TicketStatus   `gorm:"type:varchar(32);index;not null" json:"status"`

	// PositionInQueue имеет смысл только в статусе waiting; 1 — следующий на вызов.
	PositionInQueue   int `gorm:"not null;default:0" json:"position_in_queue"`
	EstimatedWaitTime int `gorm:"not null;default:0" json:"estimated_wait_time"`

	// Seq — монотонный номер прихода внутри сервиса, тай-брейкер FIFO
	// при равном приоритете (таймстемпы могут совпадать).
	Seq uint64 `gorm:"index;not null" json:"-"`

	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ConsultStartedAt *time.Time `json:"consult_started_at,omitempty"`
	ConsultEndedAt   *time.Time `json:"consult_ended_at,omitempty"`
}

type Service struct {
	ID           uint64        `gorm:"primaryKey" json:"id"`
	Name         string        `gorm:"type:varchar(255);not null" json:"name"`
	TicketPrefix string        `gorm:"type:varchar(8);not null" json:"ticket_prefix"`
	Status       ServiceStatus `gorm:"type:varchar(32);index;not null" json:"status"`

	// AvgWaitTime — скользящая оценка длительности одной консультации (минуты),
	// обновляется при завершении консультации.
	AvgWaitTime int `gorm:"not null;default:10" json:"avg_wait_time"`

	// CurrentWaiting всегда равен числу тикетов сервиса в статусе waiting.
	CurrentWaiting int `gorm:"not null;default:0" json:"current_waiting"`

	// NextSeq и NextTicketNo выдаются только внутри транзакции реордера.
	NextSeq      uint64 `gorm:"not null;default:1" json:"-"`
	NextTicketNo uint64 `gorm:"not null;default:1" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
