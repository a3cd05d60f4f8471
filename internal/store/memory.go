package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
)

// Memory — реализация Store в памяти: карта сервисов с по-сервисным
// локом. Используется в тестах и для локального запуска без Postgres.
// Семантика та же, что у Postgres: InService сериализует мутации
// одного сервиса, ошибка fn откатывает все изменения.
type Memory struct {
	mu   sync.Mutex
	svcs map[uint64]*memService
}

type memService struct {
	// lock ёмкостью 1 — область InService; берётся с select по ctx,
	// чтобы ожидание слота было ограниченным, а не вечным.
	lock chan struct{}

	mu      sync.Mutex
	svc     model.Service
	tickets map[string]*model.Ticket
}

func NewMemory() *Memory {
	return &Memory{svcs: make(map[uint64]*memService)}
}

// SeedService регистрирует сервис. Повторный вызов с тем же id перезаписывает.
func (m *Memory) SeedService(svc model.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.svcs[svc.ID] = &memService{
		lock:    make(chan struct{}, 1),
		svc:     svc,
		tickets: make(map[string]*model.Ticket),
	}
}

func (m *Memory) get(serviceID uint64) (*memService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.svcs[serviceID]
	if !ok {
		return nil, errs.ErrServiceNotFound
	}
	return ms, nil
}

func (m *Memory) InService(ctx context.Context, serviceID uint64, fn func(Tx) error) error {
	ms, err := m.get(serviceID)
	if err != nil {
		return err
	}
	select {
	case ms.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSerialization, ctx.Err())
	}
	defer func() { <-ms.lock }()

	ms.mu.Lock()
	svcCopy := ms.svc
	ms.mu.Unlock()

	tx := &memTx{ms: ms, svc: &svcCopy, staged: make(map[string]*model.Ticket)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	ms        *memService
	svc       *model.Service
	svcStaged bool
	staged    map[string]*model.Ticket
}

func (t *memTx) commit() {
	t.ms.mu.Lock()
	defer t.ms.mu.Unlock()
	for num, ticket := range t.staged {
		c := *ticket
		t.ms.tickets[num] = &c
	}
	if t.svcStaged {
		t.ms.svc = *t.svc
	}
}

func (t *memTx) Service() *model.Service { return t.svc }

func (t *memTx) WaitingTickets() ([]*model.Ticket, error) {
	t.ms.mu.Lock()
	merged := make(map[string]*model.Ticket, len(t.ms.tickets))
	for num, ticket := range t.ms.tickets {
		c := *ticket
		merged[num] = &c
	}
	t.ms.mu.Unlock()
	for num, ticket := range t.staged {
		c := *ticket
		merged[num] = &c
	}
	var out []*model.Ticket
	for _, ticket := range merged {
		if ticket.ServiceID == t.svc.ID && ticket.Status == model.TicketStatusWaiting {
			out = append(out, ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (t *memTx) TicketByNumber(number string) (*model.Ticket, error) {
	if ticket, ok := t.staged[number]; ok {
		c := *ticket
		return &c, nil
	}
	t.ms.mu.Lock()
	defer t.ms.mu.Unlock()
	ticket, ok := t.ms.tickets[number]
	if !ok {
		return nil, errs.ErrTicketNotFound
	}
	c := *ticket
	return &c, nil
}

func (t *memTx) CreateTicket(ticket *model.Ticket) error {
	c := *ticket
	t.staged[ticket.TicketNumber] = &c
	return nil
}

func (t *memTx) SaveTicket(ticket *model.Ticket) error {
	c := *ticket
	t.staged[ticket.TicketNumber] = &c
	return nil
}

func (t *memTx) SaveService(svc *model.Service) error {
	t.svc = svc
	t.svcStaged = true
	return nil
}

func (m *Memory) GetService(ctx context.Context, serviceID uint64) (*model.Service, error) {
	ms, err := m.get(serviceID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	c := ms.svc
	return &c, nil
}

func (m *Memory) GetTicketByNumber(ctx context.Context, number string) (*model.Ticket, error) {
	m.mu.Lock()
	svcs := make([]*memService, 0, len(m.svcs))
	for _, ms := range m.svcs {
		svcs = append(svcs, ms)
	}
	m.mu.Unlock()
	for _, ms := range svcs {
		ms.mu.Lock()
		if ticket, ok := ms.tickets[number]; ok {
			c := *ticket
			ms.mu.Unlock()
			return &c, nil
		}
		ms.mu.Unlock()
	}
	return nil, errs.ErrTicketNotFound
}

func (m *Memory) WaitingTickets(ctx context.Context, serviceID uint64) ([]*model.Ticket, error) {
	ms, err := m.get(serviceID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []*model.Ticket
	for _, ticket := range ms.tickets {
		if ticket.Status == model.TicketStatusWaiting {
			c := *ticket
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionInQueue < out[j].PositionInQueue })
	return out, nil
}

func (m *Memory) ListServices(ctx context.Context) ([]model.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Service, 0, len(m.svcs))
	for _, ms := range m.svcs {
		ms.mu.Lock()
		out = append(out, ms.svc)
		ms.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
