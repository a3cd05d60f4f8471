package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/event"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/psds-microservice/queue-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testServiceID = uint64(1)

func newTestStore(t *testing.T) *store.Memory {
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
	return st
}

func joinMutation(prio model.TicketPriority) Mutation {
	return func(tx store.Tx) (*model.Ticket, error) {
		svc := tx.Service()
		t := &model.Ticket{
			ID:           uuid.NewString(),
			TicketNumber: fmt.Sprintf("%s-%03d", svc.TicketPrefix, svc.NextTicketNo),
			ServiceID:    svc.ID,
			PatientName:  "patient",
			Priority:     prio,
			Status:       model.TicketStatusWaiting,
			Seq:          svc.NextSeq,
		}
		svc.NextSeq++
		svc.NextTicketNo++
		if err := tx.CreateTicket(t); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func callNextMutation() Mutation {
	return func(tx store.Tx) (*model.Ticket, error) {
		waiting, err := tx.WaitingTickets()
		if err != nil {
			return nil, err
		}
		ordered := Order(waiting)
		if len(ordered) == 0 {
			return nil, errs.ErrQueueEmpty
		}
		first := ordered[0]
		first.Status = model.TicketStatusConsulting
		first.PositionInQueue = 0
		first.EstimatedWaitTime = 0
		return first, tx.SaveTicket(first)
	}
}

func cancelMutation(number string) Mutation {
	return func(tx store.Tx) (*model.Ticket, error) {
		t, err := tx.TicketByNumber(number)
		if err != nil {
			return nil, err
		}
		t.Status = model.TicketStatusCancelled
		t.PositionInQueue = 0
		t.EstimatedWaitTime = 0
		return t, tx.SaveTicket(t)
	}
}

func assertContiguous(t *testing.T, st store.Store) {
	t.Helper()
	waiting, err := st.WaitingTickets(context.Background(), testServiceID)
	require.NoError(t, err)
	seen := make(map[int]bool, len(waiting))
	for _, ticket := range waiting {
		require.False(t, seen[ticket.PositionInQueue],
			"duplicate position %d", ticket.PositionInQueue)
		seen[ticket.PositionInQueue] = true
	}
	for p := 1; p <= len(waiting); p++ {
		require.True(t, seen[p], "missing position %d of %d", p, len(waiting))
	}
	svc, err := st.GetService(context.Background(), testServiceID)
	require.NoError(t, err)
	require.Equal(t, len(waiting), svc.CurrentWaiting)
}

func TestApply_JoinAssignsAuthoritativePosition(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)
	ctx := context.Background()

	res, err := r.Apply(ctx, testServiceID, event.TypeJoined, joinMutation(model.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ticket.PositionInQueue)
	assert.Equal(t, 0, res.Ticket.EstimatedWaitTime)
	require.NotNil(t, res.Event.NewFront)
	assert.Equal(t, res.Ticket.TicketNumber, res.Event.NewFront.TicketNumber)

	res2, err := r.Apply(ctx, testServiceID, event.TypeJoined, joinMutation(model.PriorityMedium))
	require.NoError(t, err)
	assert.Equal(t, 2, res2.Ticket.PositionInQueue)
	assert.Equal(t, 10, res2.Ticket.EstimatedWaitTime)
	// Первый в очереди не сменился — алерта нет.
	assert.Nil(t, res2.Event.NewFront)
}

func TestApply_UnknownServiceFails(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)

	_, err := r.Apply(context.Background(), 42, event.TypeJoined, joinMutation(model.PriorityLow))
	assert.ErrorIs(t, err, errs.ErrServiceNotFound)
}

func TestApply_MutationErrorRollsBackEverything(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)
	ctx := context.Background()

	_, err := r.Apply(ctx, testServiceID, event.TypeJoined, joinMutation(model.PriorityMedium))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = r.Apply(ctx, testServiceID, event.TypeJoined, func(tx store.Tx) (*model.Ticket, error) {
		if _, err := joinMutation(model.PriorityHigh)(tx); err != nil {
			return nil, err
		}
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	waiting, err := st.WaitingTickets(ctx, testServiceID)
	require.NoError(t, err)
	assert.Len(t, waiting, 1, "failed mutation must not leave partial state")
	assertContiguous(t, st)
}

// Случайные последовательности join/cancel/call-next: после каждой
// операции позиции waiting-набора — ровно 1..N без дублей и дыр.
func TestApply_RandomInterleavings_PositionsContiguous(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var waitingNumbers []string
	prios := []model.TicketPriority{
		model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityEmergency,
	}

	for i := 0; i < 300; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(waitingNumbers) == 0:
			res, err := r.Apply(ctx, testServiceID, event.TypeJoined,
				joinMutation(prios[rng.Intn(len(prios))]))
			require.NoError(t, err)
			waitingNumbers = append(waitingNumbers, res.Ticket.TicketNumber)
		case op == 1:
			res, err := r.Apply(ctx, testServiceID, event.TypeCalled, callNextMutation())
			require.NoError(t, err)
			waitingNumbers = remove(waitingNumbers, res.Ticket.TicketNumber)
		default:
			idx := rng.Intn(len(waitingNumbers))
			_, err := r.Apply(ctx, testServiceID, event.TypeCancelled,
				cancelMutation(waitingNumbers[idx]))
			require.NoError(t, err)
			waitingNumbers = remove(waitingNumbers, waitingNumbers[idx])
		}
		assertContiguous(t, st)
	}
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// N конкурентных join по одному сервису: каждый получает свою позицию,
// дублей нет, в конце позиции 1..N.
func TestApply_ConcurrentJoins_DistinctPositions(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)
	const n = 32

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Apply(context.Background(), testServiceID, event.TypeJoined,
				joinMutation(model.PriorityMedium))
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	waiting, err := st.WaitingTickets(context.Background(), testServiceID)
	require.NoError(t, err)
	require.Len(t, waiting, n)
	assertContiguous(t, st)
}

func TestApply_CallNextPromotesSecondTicket(t *testing.T) {
	st := newTestStore(t)
	r := NewReorderer(st)
	ctx := context.Background()

	first, err := r.Apply(ctx, testServiceID, event.TypeJoined, joinMutation(model.PriorityMedium))
	require.NoError(t, err)
	second, err := r.Apply(ctx, testServiceID, event.TypeJoined, joinMutation(model.PriorityMedium))
	require.NoError(t, err)

	res, err := r.Apply(ctx, testServiceID, event.TypeCalled, callNextMutation())
	require.NoError(t, err)
	assert.Equal(t, first.Ticket.TicketNumber, res.Ticket.TicketNumber)
	assert.Equal(t, model.TicketStatusConsulting, res.Ticket.Status)

	require.NotNil(t, res.Event.NewFront)
	assert.Equal(t, second.Ticket.TicketNumber, res.Event.NewFront.TicketNumber)
	require.Len(t, res.Ordered, 1)
	assert.Equal(t, 1, res.Ordered[0].PositionInQueue)
	assert.Equal(t, 0, res.Ordered[0].EstimatedWaitTime)
}
