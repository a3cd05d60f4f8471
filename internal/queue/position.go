package queue

import (
	"fmt"
	"sort"

	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
)

// Order — каноническое упорядочивание waiting-тикетов одного сервиса:
// приоритет по убыванию, внутри приоритета — порядок прихода (seq по
// возрастанию). Новый тикет получает максимальный seq, поэтому встаёт
// перед первым тикетом строго меньшего приоритета и в хвост своей
// приоритетной полосы. Вход не модифицируется.
func Order(tickets []*model.Ticket) []*model.Ticket {
	out := make([]*model.Ticket, len(tickets))
	copy(out, tickets)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Renumber присваивает упорядоченному списку позиции 1..N и оценку
// ожидания (pos-1)*avgWait, возвращая тикеты, у которых позиция или
// оценка изменились. Пустая очередь — no-op.
func Renumber(ordered []*model.Ticket, avgWait int) []*model.Ticket {
	if avgWait < 0 {
		avgWait = 0
	}
	var changed []*model.Ticket
	for i, t := range ordered {
		pos := i + 1
		wait := i * avgWait
		if t.PositionInQueue != pos || t.EstimatedWaitTime != wait {
			t.PositionInQueue = pos
			t.EstimatedWaitTime = wait
			changed = append(changed, t)
		}
	}
	return changed
}

// Verify проверяет инвариант позиций перед коммитом: ровно 1..N без
// дыр и дублей, у всех статус waiting.
func Verify(ordered []*model.Ticket) error {
	for i, t := range ordered {
		if t.Status != model.TicketStatusWaiting {
			return fmt.Errorf("%w: ticket %s has status %s in waiting set",
				errs.ErrQueueCorrupted, t.TicketNumber, t.Status)
		}
		if t.PositionInQueue != i+1 {
			return fmt.Errorf("%w: ticket %s at index %d has position %d",
				errs.ErrQueueCorrupted, t.TicketNumber, i, t.PositionInQueue)
		}
	}
	return nil
}
