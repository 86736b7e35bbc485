package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
)

// Ledger is the part of inventory.Ledger the lifecycle needs.
type Ledger interface {
	Apply(ctx context.Context, occ inventory.Occupancy) (inventory.Result, error)
	Release(ctx context.Context, occ inventory.Occupancy) (inventory.Result, error)
	ApplyCode(ctx context.Context, occ inventory.Occupancy, targetState int) (inventory.Result, error)
}

// Lifecycle drives reservation transitions and their inventory effects.
//
// ORDERING: the status change is committed first, then the ledger is called.
// If the ledger fails the reservation stays in its new status and the error is
// returned; calling Submit/Cancel again retries only the ledger step, which is
// idempotent.
type Lifecycle struct {
	store  Store
	ledger Ledger
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewLifecycle(store Store, ledger Ledger, logger logrus.FieldLogger) *Lifecycle {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Lifecycle{
		store:  store,
		ledger: ledger,
		log:    logger.WithField("component", "reservation_lifecycle"),
		now:    time.Now,
	}
}

// Create stores a draft reservation. An empty ID is generated.
func (l *Lifecycle) Create(ctx context.Context, r Reservation, caller string) (Reservation, error) {
	if err := r.Validate(); err != nil {
		return Reservation{}, err
	}
	if r.ID == "" {
		r.ID = hotel.ReservationID("RES-" + uuid.NewString()[:8])
	}
	now := l.now().UTC()
	r.Status = StatusDraft
	r.CheckedIn = false
	r.CreatedBy = caller
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := l.store.CreateReservation(ctx, r); err != nil {
		return Reservation{}, fmt.Errorf("create reservation: %w", err)
	}
	return r, nil
}

func (l *Lifecycle) Get(ctx context.Context, id hotel.ReservationID) (Reservation, error) {
	return l.store.GetReservation(ctx, id)
}

// Submit commits Draft -> Submitted, then applies inventory.
// A reservation that is already submitted only retries the inventory step.
func (l *Lifecycle) Submit(ctx context.Context, id hotel.ReservationID) (inventory.Result, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return inventory.Result{}, err
	}
	switch r.Status {
	case StatusDraft:
		if err := l.store.UpdateStatus(ctx, id, StatusDraft, StatusSubmitted); err != nil {
			return inventory.Result{}, fmt.Errorf("submit reservation %s: %w", id, err)
		}
	case StatusSubmitted:
	default:
		return inventory.Result{}, fmt.Errorf("submit reservation %s: %w: status is %s", id, hotel.ErrInvalidState, r.Status)
	}
	return l.OnSubmit(ctx, id)
}

// Cancel commits Submitted -> Cancelled, then releases inventory.
// A reservation that is already cancelled only retries the inventory step.
func (l *Lifecycle) Cancel(ctx context.Context, id hotel.ReservationID) (inventory.Result, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return inventory.Result{}, err
	}
	switch r.Status {
	case StatusSubmitted:
		if err := l.store.UpdateStatus(ctx, id, StatusSubmitted, StatusCancelled); err != nil {
			return inventory.Result{}, fmt.Errorf("cancel reservation %s: %w", id, err)
		}
	case StatusCancelled:
	default:
		return inventory.Result{}, fmt.Errorf("cancel reservation %s: %w: status is %s", id, hotel.ErrInvalidState, r.Status)
	}
	return l.OnCancel(ctx, id)
}

// OnSubmit applies the inventory of a committed submission.
func (l *Lifecycle) OnSubmit(ctx context.Context, id hotel.ReservationID) (inventory.Result, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return inventory.Result{}, err
	}
	res, err := l.ledger.Apply(ctx, r.Occupancy())
	if err != nil {
		l.log.WithError(err).WithField("reservation_id", id).Error("inventory apply failed after submit")
		return inventory.Result{}, err
	}
	return res, nil
}

// OnCancel releases the inventory of a committed cancellation.
func (l *Lifecycle) OnCancel(ctx context.Context, id hotel.ReservationID) (inventory.Result, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return inventory.Result{}, err
	}
	res, err := l.ledger.Release(ctx, r.Occupancy())
	if err != nil {
		l.log.WithError(err).WithField("reservation_id", id).Error("inventory release failed after cancel")
		return inventory.Result{}, err
	}
	return res, nil
}

// ApplyTargetState is the raw inventory edge: 1 applies and 2 releases,
// without changing the reservation status. The code is checked first.
func (l *Lifecycle) ApplyTargetState(ctx context.Context, id hotel.ReservationID, targetState int) (inventory.Result, error) {
	if _, err := inventory.TransitionFromCode(targetState); err != nil {
		return inventory.Result{}, err
	}
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return inventory.Result{}, err
	}
	return l.ledger.ApplyCode(ctx, r.Occupancy(), targetState)
}

// CheckIn opens the folio window and invoice for a submitted reservation.
// Checking in twice returns the existing folio.
func (l *Lifecycle) CheckIn(ctx context.Context, id hotel.ReservationID) (FolioWindow, error) {
	r, err := l.store.GetReservation(ctx, id)
	if err != nil {
		return FolioWindow{}, err
	}
	if r.Status != StatusSubmitted {
		return FolioWindow{}, fmt.Errorf("check in reservation %s: %w: status is %s", id, hotel.ErrInvalidState, r.Status)
	}
	f, err := l.store.OpenFolio(ctx, FolioWindow{
		ID:            FolioID(id),
		ReservationID: id,
		InvoiceID:     InvoiceID(id),
		Customer:      r.Customer,
		Stay:          r.Nights(),
		NightlyRate:   r.NightlyRate,
	})
	if err != nil {
		return FolioWindow{}, fmt.Errorf("check in reservation %s: %w", id, err)
	}
	l.log.WithFields(logrus.Fields{
		"reservation_id": id,
		"folio_window":   f.ID,
		"invoice_id":     f.InvoiceID,
	}).Info("checked in")
	return f, nil
}
