package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/queue"
	"github.com/psds-microservice/queue-service/internal/store"
)

// Publisher — асинхронная публикация доменного события (Dispatcher).
type Publisher interface {
	Publish(ev event.Event)
}

// QueueService — мутации живой очереди. Каждая операция проходит через
// реордер (одна сериализуемая транзакция на сервис) и после коммита
// публикует событие в диспетчер. Ошибка мутации синхронна и доходит до
// вызывающего; судьба real-time рассылки на ответ не влияет.
type QueueService struct {
	store     store.Store
	reorderer *queue.Reorderer
	publisher Publisher
}

func NewQueueService(st store.Store, reorderer *queue.Reorderer, publisher Publisher) *QueueService {
	return &QueueService{store: st, reorderer: reorderer, publisher: publisher}
}

// Join ставит пациента в очередь сервиса и возвращает тикет с
// авторитетной позицией.
func (s *QueueService) Join(ctx context.Context, serviceID uint64, patientName, contact string, prio model.TicketPriority) (*model.Ticket, error) {
	res, err := s.reorderer.Apply(ctx, serviceID, event.TypeJoined, func(tx store.Tx) (*model.Ticket, error) {
		svc := tx.Service()
		if svc.Status == model.ServiceStatusInactive {
			return nil, errs.ErrServiceUnavailable
		}
		now := time.Now().UTC()
		t := &model.Ticket{
			ID:             uuid.NewString(),
			TicketNumber:   fmt.Sprintf("%s-%03d", svc.TicketPrefix, svc.NextTicketNo),
			ServiceID:      svc.ID,
			PatientName:    patientName,
			PatientContact: contact,
			Priority:       prio,
			Status:         model.TicketStatusWaiting,
			Seq:            svc.NextSeq,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		svc.NextSeq++
		svc.NextTicketNo++
		if err := tx.CreateTicket(t); err != nil {
			return nil, fmt.Errorf("create ticket: %w", err)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(res.Event)
	return res.Ticket, nil
}

// CallNext переводит первый waiting-тикет в consulting и ренумерует
// остальных. Пустая очередь — errs.ErrQueueEmpty.
func (s *QueueService) CallNext(ctx context.Context, serviceID uint64) (*model.Ticket, error) {
	res, err := s.reorderer.Apply(ctx, serviceID, event.TypeCalled, func(tx store.Tx) (*model.Ticket, error) {
		waiting, err := tx.WaitingTickets()
		if err != nil {
			return nil, err
		}
		ordered := queue.Order(waiting)
		if len(ordered) == 0 {
			return nil, errs.ErrQueueEmpty
		}
		first := ordered[0]
		now := time.Now().UTC()
		first.Status = model.TicketStatusConsulting
		first.ConsultStartedAt = &now
		first.PositionInQueue = 0
		first.EstimatedWaitTime = 0
		if err := tx.SaveTicket(first); err != nil {
			return nil, fmt.Errorf("save ticket %s: %w", first.TicketNumber, err)
		}
		return first, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(res.Event)
	return res.Ticket, nil
}

// Cancel снимает waiting-тикет с очереди по инициативе пациента.
func (s *QueueService) Cancel(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	return s.closeTicket(ctx, ticketNumber, event.TypeCancelled, model.TicketStatusCancelled)
}

func (s *QueueService) closeTicket(ctx context.Context, ticketNumber string, typ event.Type, to model.TicketStatus) (*model.Ticket, error) {
	ref, err := s.store.GetTicketByNumber(ctx, ticketNumber)
	if err != nil {
		return nil, err
	}
	res, err := s.reorderer.Apply(ctx, ref.ServiceID, typ, func(tx store.Tx) (*model.Ticket, error) {
		t, err := tx.TicketByNumber(ticketNumber)
		if err != nil {
			return nil, err
		}
		if t.Status != model.TicketStatusWaiting {
			return nil, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, t.Status, to)
		}
		t.Status = to
		t.PositionInQueue = 0
		t.EstimatedWaitTime = 0
		if err := tx.SaveTicket(t); err != nil {
			return nil, fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(res.Event)
	return res.Ticket, nil
}

// Complete завершает консультацию и обновляет скользящую оценку
// длительности приёма сервиса.
func (s *QueueService) Complete(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	ref, err := s.store.GetTicketByNumber(ctx, ticketNumber)
	if err != nil {
		return nil, err
	}
	res, err := s.reorderer.Apply(ctx, ref.ServiceID, event.TypeCompleted, func(tx store.Tx) (*model.Ticket, error) {
		t, err := tx.TicketByNumber(ticketNumber)
		if err != nil {
			return nil, err
		}
		if t.Status != model.TicketStatusConsulting {
			return nil, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, t.Status, model.TicketStatusCompleted)
		}
		now := time.Now().UTC()
		t.Status = model.TicketStatusCompleted
		t.ConsultEndedAt = &now
		if err := tx.SaveTicket(t); err != nil {
			return nil, fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
		}

		// Оценка ожидания — EMA по длительности консультаций.
		if t.ConsultStartedAt != nil {
			minutes := int(now.Sub(*t.ConsultStartedAt).Round(time.Minute) / time.Minute)
			if minutes < 1 {
				minutes = 1
			}
			svc := tx.Service()
			if svc.AvgWaitTime <= 0 {
				svc.AvgWaitTime = minutes
			} else {
				svc.AvgWaitTime = (svc.AvgWaitTime*3 + minutes) / 4
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(res.Event)
	return res.Ticket, nil
}

// SetPriority меняет приоритет waiting-тикета: снятие и повторная
// вставка в хвост новой приоритетной полосы, никогда не правка позиции
// на месте.
func (s *QueueService) SetPriority(ctx context.Context, ticketNumber string, prio model.TicketPriority) (*model.Ticket, error) {
	ref, err := s.store.GetTicketByNumber(ctx, ticketNumber)
	if err != nil {
		return nil, err
	}
	res, err := s.reorderer.Apply(ctx, ref.ServiceID, event.TypeReordered, func(tx store.Tx) (*model.Ticket, error) {
		t, err := tx.TicketByNumber(ticketNumber)
		if err != nil {
			return nil, err
		}
		if t.Status != model.TicketStatusWaiting {
			return nil, fmt.Errorf("%w: priority edit in status %s", errs.ErrInvalidTransition, t.Status)
		}
		if t.Priority == prio {
			return t, nil
		}
		svc := tx.Service()
		t.Priority = prio
		t.Seq = svc.NextSeq
		svc.NextSeq++
		if err := tx.SaveTicket(t); err != nil {
			return nil, fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(res.Event)
	return res.Ticket, nil
}

// ExpireStale переводит waiting-тикеты старше olderThan в expired
// одним проходом и возвращает число снятых.
func (s *QueueService) ExpireStale(ctx context.Context, serviceID uint64, olderThan time.Duration) (int, error) {
	expired := 0
	res, err := s.reorderer.Apply(ctx, serviceID, event.TypeReordered, func(tx store.Tx) (*model.Ticket, error) {
		waiting, err := tx.WaitingTickets()
		if err != nil {
			return nil, err
		}
		cutoff := time.Now().UTC().Add(-olderThan)
		expired = 0
		for _, t := range waiting {
			if t.CreatedAt.Before(cutoff) {
				t.Status = model.TicketStatusExpired
				t.PositionInQueue = 0
				t.EstimatedWaitTime = 0
				if err := tx.SaveTicket(t); err != nil {
					return nil, fmt.Errorf("save ticket %s: %w", t.TicketNumber, err)
				}
				expired++
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.publisher.Publish(res.Event)
	}
	return expired, nil
}

// QueueState — консистентный снимок очереди для переподключения или
// обычного опроса: после рефреша клиент никогда не видит неверную
// позицию, максимум устаревшую до следующего push.
func (s *QueueService) QueueState(ctx context.Context, serviceID uint64) (*model.Service, []*model.Ticket, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	waiting, err := s.store.WaitingTickets(ctx, serviceID)
	if err != nil {
		return nil, nil, err
	}
	return svc, waiting, nil
}

// ListServices — все сервисы (для expire-tickets и админки).
func (s *QueueService) ListServices(ctx context.Context) ([]model.Service, error) {
	return s.store.ListServices(ctx)
}

// GetTicket — текущее состояние тикета по номеру.
func (s *QueueService) GetTicket(ctx context.Context, ticketNumber string) (*model.Ticket, error) {
	return s.store.GetTicketByNumber(ctx, ticketNumber)
}
