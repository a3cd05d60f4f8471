package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/psds-microservice/queue-service/internal/errs"
	"github.com/psds-microservice/queue-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres реализует Store поверх gorm. Эксклюзивность по сервису —
// SELECT ... FOR UPDATE на строке services: конкурентные InService по
// одному сервису выстраиваются в очередь на блокировке строки,
// разные сервисы не мешают друг другу.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

type pgTx struct {
	tx  *gorm.DB
	svc *model.Service
}

func (p *Postgres) InService(ctx context.Context, serviceID uint64, fn func(Tx) error) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var svc model.Service
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&svc, serviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.ErrServiceNotFound
			}
			return fmt.Errorf("lock service %d: %w", serviceID, err)
		}
		return fn(&pgTx{tx: tx, svc: &svc})
	})
	return classify(err)
}

// classify переводит коды Postgres 40001/40P01 в ErrSerialization.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Code)
		}
	}
	return err
}

func (t *pgTx) Service() *model.Service { return t.svc }

func (t *pgTx) WaitingTickets() ([]*model.Ticket, error) {
	var tickets []*model.Ticket
	err := t.tx.
		Where("service_id = ? AND status = ?", t.svc.ID, model.TicketStatusWaiting).
		Order("seq ASC").
		Find(&tickets).Error
	return tickets, err
}

func (t *pgTx) TicketByNumber(number string) (*model.Ticket, error) {
	var ticket model.Ticket
	if err := t.tx.Where("ticket_number = ?", number).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (t *pgTx) CreateTicket(ticket *model.Ticket) error {
	return t.tx.Create(ticket).Error
}

func (t *pgTx) SaveTicket(ticket *model.Ticket) error {
	return t.tx.Save(ticket).Error
}

func (t *pgTx) SaveService(svc *model.Service) error {
	return t.tx.Save(svc).Error
}

func (p *Postgres) GetService(ctx context.Context, serviceID uint64) (*model.Service, error) {
	var svc model.Service
	if err := p.db.WithContext(ctx).First(&svc, serviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

func (p *Postgres) GetTicketByNumber(ctx context.Context, number string) (*model.Ticket, error) {
	var ticket model.Ticket
	if err := p.db.WithContext(ctx).Where("ticket_number = ?", number).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

func (p *Postgres) WaitingTickets(ctx context.Context, serviceID uint64) ([]*model.Ticket, error) {
	var tickets []*model.Ticket
	err := p.db.WithContext(ctx).
		Where("service_id = ? AND status = ?", serviceID, model.TicketStatusWaiting).
		Order("position_in_queue ASC").
		Find(&tickets).Error
	return tickets, err
}

func (p *Postgres) ListServices(ctx context.Context) ([]model.Service, error) {
	var services []model.Service
	err := p.db.WithContext(ctx).Order("id ASC").Find(&services).Error
	return services, err
}
