package store

import (
	"context"
	"errors"

	"github.com/psds-microservice/queue-service/internal/model"
)

// ErrSerialization помечает сбой транзакции, который имеет смысл ретраить
// (конфликт сериализации, deadlock, обрыв соединения). Реордер проверяет
// его через errors.Is.
var ErrSerialization = errors.New("store: serialization failure")

// Tx — эксклюзивный доступ к очереди одного сервиса. Пока транзакция
// открыта, никакой другой вызов InService для того же сервиса не
// читает и не пишет его тикеты.
type Tx interface {
	// Service возвращает заблокированную строку сервиса. Изменения
	// сохраняются через SaveService.
	Service() *model.Service

	// WaitingTickets — все тикеты сервиса в статусе waiting, в порядке seq.
	WaitingTickets() ([]*model.Ticket, error)

	TicketByNumber(number string) (*model.Ticket, error)
	CreateTicket(t *model.Ticket) error
	SaveTicket(t *model.Ticket) error
	SaveService(s *model.Service) error
}

// Store — контракт хранилища очереди. Авторитетное состояние позиций
// и счётчиков меняется только внутри InService.
type Store interface {
	// InService открывает сериализуемую область над очередью сервиса,
	// вызывает fn и коммитит. Ошибка fn откатывает всё целиком.
	InService(ctx context.Context, serviceID uint64, fn func(Tx) error) error

	GetService(ctx context.Context, serviceID uint64) (*model.Service, error)
	GetTicketByNumber(ctx context.Context, number string) (*model.Ticket, error)
	WaitingTickets(ctx context.Context, serviceID uint64) ([]*model.Ticket, error)
	ListServices(ctx context.Context) ([]model.Service, error)
}
