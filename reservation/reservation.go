/*
Package reservation connects reservation documents to the inventory ledger.

PURPOSE:
  A reservation holds Rooms units of one room type for each night between
  check-in and check-out. Submitting it occupies those nights; cancelling it
  frees them. Checking in opens a folio window and its invoice, which is what
  the night audit later charges.

STATUS MACHINE:
  Draft(0) --submit--> Submitted(1) --cancel--> Cancelled(2)
  The numeric codes match the target state codes of the raw inventory edge.

NIGHTS:
  CheckOut is exclusive: a 2025-10-01 -> 2025-10-04 stay occupies the nights
  of the 1st, 2nd and 3rd.

SEE ALSO:
  - lifecycle.go: Submit/cancel hooks and check-in
  - inventory/ledger.go: Apply/Release protocol
*/
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
)

// Status is the document status of a reservation.
type Status int

const (
	StatusDraft     Status = 0
	StatusSubmitted Status = 1
	StatusCancelled Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusSubmitted:
		return "submitted"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Reservation is a booking for one room type.
type Reservation struct {
	ID          hotel.ReservationID
	Customer    string
	RoomType    hotel.RoomType
	CheckIn     hotel.Date
	CheckOut    hotel.Date // exclusive
	Rooms       int
	NightlyRate decimal.Decimal
	Status      Status
	CheckedIn   bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Nights returns the occupied nights, [CheckIn, CheckOut-1].
func (r Reservation) Nights() hotel.DateRange {
	return hotel.NewDateRange(r.CheckIn, r.CheckOut.AddDays(-1))
}

// Occupancy is what the ledger applies or releases for this reservation.
func (r Reservation) Occupancy() inventory.Occupancy {
	return inventory.Occupancy{
		ReservationID: r.ID,
		RoomType:      r.RoomType,
		Stay:          r.Nights(),
		Units:         r.Rooms,
	}
}

func (r Reservation) Validate() error {
	if r.RoomType == "" {
		return &hotel.ValidationError{Field: "room_type", Reason: "is required"}
	}
	if r.CheckIn.IsZero() {
		return &hotel.ValidationError{Field: "check_in", Reason: "is required"}
	}
	if r.CheckOut.IsZero() {
		return &hotel.ValidationError{Field: "check_out", Reason: "is required"}
	}
	if !r.CheckOut.After(r.CheckIn) {
		return &hotel.ValidationError{Field: "check_out", Value: r.CheckOut.String(), Reason: "must be after check_in"}
	}
	if r.Rooms < 1 {
		return &hotel.ValidationError{Field: "rooms", Value: fmt.Sprint(r.Rooms), Reason: "must be at least 1"}
	}
	if r.NightlyRate.IsNegative() {
		return &hotel.ValidationError{Field: "nightly_rate", Value: r.NightlyRate.String(), Reason: "must not be negative"}
	}
	return nil
}

// FolioWindow is the chargeable span opened at check-in. The night audit
// posts one nightly accommodation line per covered date onto InvoiceID.
type FolioWindow struct {
	ID            hotel.FolioWindowID
	ReservationID hotel.ReservationID
	InvoiceID     hotel.InvoiceID
	Customer      string
	Stay          hotel.DateRange
	NightlyRate   decimal.Decimal
}

// FolioID and InvoiceID follow the naming used by the front desk: the folio
// is "f-<reservation>" and its invoice "<reservation>-f-<reservation>".
func FolioID(id hotel.ReservationID) hotel.FolioWindowID {
	return hotel.FolioWindowID("f-" + string(id))
}

func InvoiceID(id hotel.ReservationID) hotel.InvoiceID {
	return hotel.InvoiceID(fmt.Sprintf("%s-%s", id, FolioID(id)))
}

// Store persists reservations and folio windows.
type Store interface {
	CreateReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id hotel.ReservationID) (Reservation, error)

	// UpdateStatus moves a reservation from one status to another and commits.
	// Returns an ErrInvalidState error if the stored status is not from.
	UpdateStatus(ctx context.Context, id hotel.ReservationID, from, to Status) error

	// OpenFolio creates the folio window and its empty invoice, and marks the
	// reservation checked in. An existing folio is returned unchanged.
	OpenFolio(ctx context.Context, f FolioWindow) (FolioWindow, error)
}
