package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// Handle — транспортная ручка одного подписчика. Реализация (websocket
// и т.п.) отвечает за фрейминг и keep-alive; реестр после первой же
// ошибки Send ручку выбрасывает.
type Handle interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Registry держит живые подписки трёх видов каналов: по сервису
// (экраны очереди и стойки), по тикету (один пациент) и админский пул
// (все события всех сервисов). Карта подписчиков меняется только в
// subscribe/unsubscribe и при чистке после неудачной отправки; фан-аут
// идёт по снапшоту, так что конкурентные подписки ему не мешают.
type Registry struct {
	mu       sync.RWMutex
	services map[uint64]map[Handle]struct{}
	tickets  map[string]map[Handle]struct{}
	admin    map[Handle]struct{}

	// sendTimeout ограничивает одну отправку: зависший подписчик
	// отключается, а не ждётся бесконечно.
	sendTimeout time.Duration

	closed bool
}

func NewRegistry(sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 2 * time.Second
	}
	return &Registry{
		services:    make(map[uint64]map[Handle]struct{}),
		tickets:     make(map[string]map[Handle]struct{}),
		admin:       make(map[Handle]struct{}),
		sendTimeout: sendTimeout,
	}
}

func (r *Registry) SubscribeService(serviceID uint64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	set, ok := r.services[serviceID]
	if !ok {
		set = make(map[Handle]struct{})
		r.services[serviceID] = set
	}
	set[h] = struct{}{}
}

func (r *Registry) SubscribeTicket(number string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	set, ok := r.tickets[number]
	if !ok {
		set = make(map[Handle]struct{})
		r.tickets[number] = set
	}
	set[h] = struct{}{}
}

func (r *Registry) SubscribeAdmin(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.admin[h] = struct{}{}
}

// UnsubscribeService идемпотентен: снятие уже снятой ручки — no-op.
func (r *Registry) UnsubscribeService(serviceID uint64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.services[serviceID]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(r.services, serviceID)
		}
	}
}

func (r *Registry) UnsubscribeTicket(number string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.tickets[number]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(r.tickets, number)
		}
	}
}

func (r *Registry) UnsubscribeAdmin(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.admin, h)
}

// SendService доставляет сообщение всем текущим подписчикам сервиса.
// Доставка best-effort: упавшая ручка снимается, остальные получают
// сообщение. Ошибок наружу нет.
func (r *Registry) SendService(serviceID uint64, data []byte) {
	r.mu.RLock()
	handles := snapshot(r.services[serviceID])
	r.mu.RUnlock()
	failed := r.fanout(handles, data)
	for _, h := range failed {
		r.UnsubscribeService(serviceID, h)
	}
}

func (r *Registry) SendTicket(number string, data []byte) {
	r.mu.RLock()
	handles := snapshot(r.tickets[number])
	r.mu.RUnlock()
	failed := r.fanout(handles, data)
	for _, h := range failed {
		r.UnsubscribeTicket(number, h)
	}
}

func (r *Registry) BroadcastAdmin(data []byte) {
	r.mu.RLock()
	handles := snapshot(r.admin)
	r.mu.RUnlock()
	failed := r.fanout(handles, data)
	for _, h := range failed {
		r.UnsubscribeAdmin(h)
	}
}

func snapshot(set map[Handle]struct{}) []Handle {
	if len(set) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

func (r *Registry) fanout(handles []Handle, data []byte) []Handle {
	var failed []Handle
	for _, h := range handles {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		err := h.Send(ctx, data)
		cancel()
		if err != nil {
			log.Printf("realtime: drop subscriber: %v", err)
			h.Close()
			failed = append(failed, h)
		}
	}
	return failed
}

// Close снимает и закрывает все подписки; вызывается при остановке процесса.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, set := range r.services {
		for h := range set {
			h.Close()
		}
	}
	for _, set := range r.tickets {
		for h := range set {
			h.Close()
		}
	}
	for h := range r.admin {
		h.Close()
	}
	r.services = make(map[uint64]map[Handle]struct{})
	r.tickets = make(map[string]map[Handle]struct{})
	r.admin = make(map[Handle]struct{})
}
