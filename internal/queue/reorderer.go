package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/sethvargo/go-retry"
)

// Mutation выполняет доменное изменение внутри открытой транзакции
// (вставка, снятие или перестановка тикета) и возвращает главный
// затронутый тикет. Mutation может править поля tx.Service() —
// реордер сохранит строку сервиса одним SaveService перед коммитом.
type Mutation func(tx store.Tx) (*model.Ticket, error)

// Result — итог одной зафиксированной мутации: авторитетный порядок
// очереди и событие для диспетчера.
type Result struct {
	// Ticket — главный тикет мутации (вставленный, вызванный, снятый).
	Ticket *model.Ticket
	// Ordered — waiting-набор сервиса после ренумерации, позиции 1..N.
	Ordered []*model.Ticket
	Event   event.Event
}

// Reorderer делает вывод Position Engine долговечным и безопасным при
// конкурентных мутациях: одна сериализуемая транзакция на сервис,
// полная ренумерация waiting-набора, проверка инварианта до коммита,
// ограниченные ретраи при конфликте. С реестром соединений реордер не
// разговаривает — он только возвращает событие.
type Reorderer struct {
	store       store.Store
	maxAttempts uint64
}

func NewReorderer(st store.Store) *Reorderer {
	return &Reorderer{store: st, maxAttempts: 3}
}

// Apply выполняет мутацию очереди сервиса serviceID. При конфликте
// сериализации транзакция повторяется с экспоненциальным бэкоффом;
// после исчерпания попыток возвращается errs.ErrQueueConflict, и
// очередь остаётся в последнем консистентном состоянии.
func (r *Reorderer) Apply(ctx context.Context, serviceID uint64, typ event.Type, fn Mutation) (*Result, error) {
	var res *Result
	backoff := retry.WithMaxRetries(r.maxAttempts-1, retry.NewExponential(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		res, err = r.applyOnce(ctx, serviceID, typ, fn)
		if errors.Is(err, store.ErrSerialization) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrSerialization) {
			return nil, fmt.Errorf("%w: service %d: %v", errs.ErrQueueConflict, serviceID, err)
		}
		return nil, err
	}
	return res, nil
}

func (r *Reorderer) applyOnce(ctx context.Context, serviceID uint64, typ event.Type, fn Mutation) (*Result, error) {
	var res *Result
	err := r.store.InService(ctx, serviceID, func(tx store.Tx) error {
		before, err := tx.WaitingTickets()
		if err != nil {
			return fmt.Errorf("list waiting: %w", err)
		}
		prevFront := frontNumber(Order(before))

		primary, err := fn(tx)
		if err != nil {
			return err
		}

		waiting, err := tx.WaitingTickets()
		if err != nil {
			return fmt.Errorf("list waiting: %w", err)
		}
		svc := tx.Service()
		ordered := Order(waiting)
		changed := Renumber(ordered, svc.AvgWaitTime)
		if err := Verify(ordered); err != nil {
			return err
		}
		for _, t := range changed {
			if err := tx.SaveTicket(t); err != nil {
				return fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
			}
		}
		svc.CurrentWaiting = len(ordered)
		if err := tx.SaveService(svc); err != nil {
			return fmt.Errorf("save service %d: %w", svc.ID, err)
		}

		// Главный тикет отдаётся из ренумерованного набора, чтобы
		// вызывающий увидел авторитетную позицию, а не снимок до сортировки.
		if primary != nil && primary.Status == model.TicketStatusWaiting {
			for _, t := range ordered {
				if t.TicketNumber == primary.TicketNumber {
					primary = t
					break
				}
			}
		}

		res = &Result{
			Ticket:  primary,
			Ordered: ordered,
			Event:   buildEvent(typ, svc.ID, primary, ordered, changed, prevFront),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func frontNumber(ordered []*model.Ticket) string {
	if len(ordered) == 0 {
		return ""
	}
	return ordered[0].TicketNumber
}

func buildEvent(typ event.Type, serviceID uint64, primary *model.Ticket,
	ordered, changed []*model.Ticket, prevFront string) event.Event {

	updates := make([]event.TicketUpdate, 0, len(changed)+1)
	if primary != nil && primary.Status != model.TicketStatusWaiting {
		updates = append(updates, event.TicketUpdate{
			TicketNumber:  primary.TicketNumber,
			Position:      0,
			EstimatedWait: 0,
			Status:        primary.Status,
		})
	}
	for _, t := range changed {
		updates = append(updates, event.TicketUpdate{
			TicketNumber:  t.TicketNumber,
			Position:      t.PositionInQueue,
			EstimatedWait: t.EstimatedWaitTime,
			Status:        t.Status,
		})
	}
	ev := event.New(typ, serviceID, updates)

	// Сменился первый в очереди — диспетчер дёрнет alert sink.
	if front := frontNumber(ordered); front != "" && front != prevFront {
		ev.NewFront = &event.TurnAlert{
			TicketNumber: ordered[0].TicketNumber,
			ContactRef:   ordered[0].PatientContact,
			PatientName:  ordered[0].PatientName,
		}
	}
	return ev
}
