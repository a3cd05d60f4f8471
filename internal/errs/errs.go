package errs

import "errors"

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrServiceNotFound = errors.New("service not found")

	// ErrInvalidTransition — попытка перевести тикет из терминального статуса
	// или мимо допустимого ребра жизненного цикла.
	ErrInvalidTransition = errors.New("invalid ticket status transition")

	// ErrQueueConflict — транзакция реордера не смогла зафиксироваться
	// после исчерпания ретраев; очередь осталась в последнем
	// консистентном состоянии.
	ErrQueueConflict = errors.New("queue mutation conflict")

	// ErrQueueCorrupted — предкоммитная проверка инварианта позиций 1..N
	// не прошла; транзакция откатывается целиком.
	ErrQueueCorrupted = errors.New("queue invariant violation")

	ErrQueueEmpty         = errors.New("queue is empty")
	ErrServiceUnavailable = errors.New("service is not accepting tickets")
)
