package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/queue"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServiceID = uint64(1)

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) last(t *testing.T) event.Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.events)
	return p.events[len(p.events)-1]
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestService(t *testing.T) (*QueueService, *store.Memory, *capturePublisher) {
	t.Helper()
	st := store.NewMemory()
	st.SeedService(model.Service{
		ID:           testServiceID,
		Name:         "Therapy",
		TicketPrefix: "T",
		Status:       model.ServiceStatusActive,
		AvgWaitTime:  10,
		NextSeq:      1,
		NextTicketNo: 1,
	})
	pub := &capturePublisher{}
	return NewQueueService(st, queue.NewReorderer(st), pub), st, pub
}

// Сценарий: пустой сервис, два medium-джойна, call-next.
func TestScenario_JoinJoinCallNext(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	p1, err := svc.Join(ctx, testServiceID, "P1", "+700000001", model.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.PositionInQueue)
	assert.Equal(t, 0, p1.EstimatedWaitTime)
	assert.Equal(t, event.TypeJoined, pub.last(t).Type)

	p2, err := svc.Join(ctx, testServiceID, "P2", "+700000002", model.PriorityMedium)
	require.NoError(t, err)
	assert.Equal(t, 2, p2.PositionInQueue)
	assert.Equal(t, 10, p2.EstimatedWaitTime)

	called, err := svc.CallNext(ctx, testServiceID)
	require.NoError(t, err)
	assert.Equal(t, p1.TicketNumber, called.TicketNumber)
	assert.Equal(t, model.TicketStatusConsulting, called.Status)

	// P2 стал первым с нулевым ожиданием.
	got, err := svc.GetTicket(ctx, p2.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PositionInQueue)
	assert.Equal(t, 0, got.EstimatedWaitTime)

	ev := pub.last(t)
	assert.Equal(t, event.TypeCalled, ev.Type)
	require.NotNil(t, ev.NewFront)
	assert.Equal(t, p2.TicketNumber, ev.NewFront.TicketNumber)
}

// Сценарий: high-джойн обгоняет двух medium, FIFO между ними цел.
func TestScenario_HighPriorityJumpsQueue(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p1, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityMedium)
	require.NoError(t, err)
	p2, err := svc.Join(ctx, testServiceID, "P2", "", model.PriorityMedium)
	require.NoError(t, err)

	p3, err := svc.Join(ctx, testServiceID, "P3", "", model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 1, p3.PositionInQueue)

	got1, err := svc.GetTicket(ctx, p1.TicketNumber)
	require.NoError(t, err)
	got2, err := svc.GetTicket(ctx, p2.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, 2, got1.PositionInQueue)
	assert.Equal(t, 3, got2.PositionInQueue)
}

// Сценарий: отмена из середины очереди ренумерует без дыр.
func TestScenario_CancelMiddleRenumbers(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityMedium)
	require.NoError(t, err)
	p2, err := svc.Join(ctx, testServiceID, "P2", "", model.PriorityMedium)
	require.NoError(t, err)
	p3, err := svc.Join(ctx, testServiceID, "P3", "", model.PriorityMedium)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, p2.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusCancelled, cancelled.Status)
	assert.Equal(t, event.TypeCancelled, pub.last(t).Type)

	state, waiting, err := svc.QueueState(ctx, testServiceID)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, 2, state.CurrentWaiting)
	assert.Equal(t, 1, waiting[0].PositionInQueue)
	assert.Equal(t, 2, waiting[1].PositionInQueue)
	assert.Equal(t, p3.TicketNumber, waiting[1].TicketNumber)
}

func TestCallNext_EmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CallNext(context.Background(), testServiceID)
	assert.ErrorIs(t, err, errs.ErrQueueEmpty)
}

func TestJoin_InactiveServiceRejected(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.SeedService(model.Service{
		ID:           testServiceID,
		Name:         "Therapy",
		TicketPrefix: "T",
		Status:       model.ServiceStatusInactive,
		AvgWaitTime:  10,
		NextSeq:      1,
		NextTicketNo: 1,
	})
	_, err := svc.Join(context.Background(), testServiceID, "P1", "", model.PriorityMedium)
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)
}

func TestCancel_OnlyFromWaiting(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	p1, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityMedium)
	require.NoError(t, err)
	_, err = svc.CallNext(ctx, testServiceID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, p1.TicketNumber)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestComplete_UpdatesAvgWait(t *testing.T) {
	svc, st, pub := newTestService(t)
	ctx := context.Background()

	p1, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityMedium)
	require.NoError(t, err)
	_, err = svc.CallNext(ctx, testServiceID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, p1.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusCompleted, done.Status)
	require.NotNil(t, done.ConsultEndedAt)
	assert.Equal(t, event.TypeCompleted, pub.last(t).Type)

	// Консультация заняла меньше минуты — EMA тянется к минимуму в 1 минуту.
	after, err := st.GetService(ctx, testServiceID)
	require.NoError(t, err)
	assert.Equal(t, (10*3+1)/4, after.AvgWaitTime)

	// Из completed пути назад нет.
	_, err = svc.Complete(ctx, p1.TicketNumber)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestSetPriority_ReinsertsAtEndOfBand(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityHigh)
	require.NoError(t, err)
	p2, err := svc.Join(ctx, testServiceID, "P2", "", model.PriorityLow)
	require.NoError(t, err)
	_, err = svc.Join(ctx, testServiceID, "P3", "", model.PriorityHigh)
	require.NoError(t, err)
	p4, err := svc.Join(ctx, testServiceID, "P4", "", model.PriorityLow)
	require.NoError(t, err)

	// P2 поднимают до high: обгоняет low-полосу, но встаёт в хвост
	// high-полосы, не в её голову.
	bumped, err := svc.SetPriority(ctx, p2.TicketNumber, model.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 3, bumped.PositionInQueue)
	assert.Equal(t, event.TypeReordered, pub.last(t).Type)

	tail, err := svc.GetTicket(ctx, p4.TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, 4, tail.PositionInQueue)
}

func TestExpireStale(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.Join(ctx, testServiceID, "P1", "", model.PriorityMedium)
	require.NoError(t, err)
	_, err = svc.Join(ctx, testServiceID, "P2", "", model.PriorityMedium)
	require.NoError(t, err)

	// TTL нулевой не бывает в проде, но для теста годится: всё старше
	// "минус секунда" уже просрочено.
	published := pub.count()
	n, err := svc.ExpireStale(ctx, testServiceID, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, published+1, pub.count())

	state, waiting, err := svc.QueueState(ctx, testServiceID)
	require.NoError(t, err)
	assert.Empty(t, waiting)
	assert.Equal(t, 0, state.CurrentWaiting)

	// Пустой проход события не публикует.
	n, err = svc.ExpireStale(ctx, testServiceID, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, published+1, pub.count())
}

func TestJoin_UnknownService(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Join(context.Background(), 99, "P1", "", model.PriorityMedium)
	assert.ErrorIs(t, err, errs.ErrServiceNotFound)
}
