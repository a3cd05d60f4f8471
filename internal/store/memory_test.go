package store

import (
	"context"
	"testing"
	"time"

	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seatService(st *Memory, id uint64) {
	st.SeedService(model.Service{
		ID:           id,
		Name:         "Lab",
		TicketPrefix: "L",
		Status:       model.ServiceStatusActive,
		AvgWaitTime:  5,
		NextSeq:      1,
		NextTicketNo: 1,
	})
}

func TestInService_UnknownService(t *testing.T) {
	st := NewMemory()
	err := st.InService(context.Background(), 1, func(Tx) error { return nil })
	assert.ErrorIs(t, err, errs.ErrServiceNotFound)
}

// Ожидание слота сериализации ограничено контекстом: занятый сервис
// не подвешивает вызывающего навсегда, а возвращает ретраибельную ошибку.
func TestInService_BoundedWaitForSlot(t *testing.T) {
	st := NewMemory()
	seatService(st, 1)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		st.InService(context.Background(), 1, func(Tx) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := st.InService(ctx, 1, func(Tx) error { return nil })
	assert.ErrorIs(t, err, ErrSerialization)
	close(hold)
}

// Разные сервисы не разделяют лок.
func TestInService_ServicesIndependent(t *testing.T) {
	st := NewMemory()
	seatService(st, 1)
	seatService(st, 2)

	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		st.InService(context.Background(), 1, func(Tx) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := st.InService(ctx, 2, func(Tx) error { return nil })
	assert.NoError(t, err)
	close(hold)
}

func TestInService_ErrorDiscardsStagedWrites(t *testing.T) {
	st := NewMemory()
	seatService(st, 1)
	ctx := context.Background()

	sentinel := assert.AnError
	err := st.InService(ctx, 1, func(tx Tx) error {
		require.NoError(t, tx.CreateTicket(&model.Ticket{
			ID:           "id-1",
			TicketNumber: "L-001",
			ServiceID:    1,
			Status:       model.TicketStatusWaiting,
			Seq:          1,
		}))
		svc := tx.Service()
		svc.CurrentWaiting = 99
		require.NoError(t, tx.SaveService(svc))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = st.GetTicketByNumber(ctx, "L-001")
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
	svc, err := st.GetService(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, svc.CurrentWaiting)
}

func TestInService_CommitPersists(t *testing.T) {
	st := NewMemory()
	seatService(st, 1)
	ctx := context.Background()

	err := st.InService(ctx, 1, func(tx Tx) error {
		return tx.CreateTicket(&model.Ticket{
			ID:              "id-1",
			TicketNumber:    "L-001",
			ServiceID:       1,
			Status:          model.TicketStatusWaiting,
			PositionInQueue: 1,
			Seq:             1,
		})
	})
	require.NoError(t, err)

	got, err := st.GetTicketByNumber(ctx, "L-001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PositionInQueue)

	waiting, err := st.WaitingTickets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)
}
