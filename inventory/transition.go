package inventory

import (
	"fmt"
	"time"

	"github.com/darwishdev/abc-hotels/hotel"
)

// =============================================================================
// TRANSITION - The two ledger operations
// =============================================================================

// Transition is the semantic event a reservation produces on the ledger.
type Transition string

const (
	TransitionApplied  Transition = "applied"  // rooms occupied (reservation submitted)
	TransitionReleased Transition = "released" // rooms freed (reservation cancelled)
)

// Numeric target states used by the raw apply endpoint. Only the reservation
// adapter and the HTTP edge should deal in these.
const (
	TargetStateApply   = 1
	TargetStateRelease = 2
)

// TransitionFromCode maps a target state code to a Transition.
func TransitionFromCode(code int) (Transition, error) {
	switch code {
	case TargetStateApply:
		return TransitionApplied, nil
	case TargetStateRelease:
		return TransitionReleased, nil
	default:
		return "", &hotel.InvalidTransitionCodeError{Code: code}
	}
}

func (t Transition) Valid() bool {
	return t == TransitionApplied || t == TransitionReleased
}

// IdempotencyKey is unique per reservation and transition kind.
func IdempotencyKey(reservationID hotel.ReservationID, kind Transition) string {
	return fmt.Sprintf("reservation:%s:%s", reservationID, kind)
}

// =============================================================================
// RECORDS
// =============================================================================

// Occupancy describes what a reservation holds: units of a room type for each
// night of Stay (inclusive).
type Occupancy struct {
	ReservationID hotel.ReservationID
	RoomType      hotel.RoomType
	Stay          hotel.DateRange
	Units         int
}

// TransitionRecord marks a transition as processed. Written once, never updated.
type TransitionRecord struct {
	ReservationID  hotel.ReservationID
	Kind           Transition
	RoomType       hotel.RoomType
	Stay           hotel.DateRange
	RowsTouched    int
	TotalDelta     int
	IdempotencyKey string
	RecordedAt     time.Time
}

// Movement is the per-night effect of a transition. Release replays the
// Applied movements of a reservation so it is the exact inverse of Apply,
// including any clamping that happened on the way in.
type Movement struct {
	ID            string
	ReservationID hotel.ReservationID
	RoomType      hotel.RoomType
	ForDate       hotel.Date
	Kind          Transition
	Units         int
	CreatedAt     time.Time
}

// Result is returned by Apply and Release.
type Result struct {
	RowsTouched int
	// TotalDelta is the net change to available units: negative for Apply,
	// positive for Release, zero for a no-op.
	TotalDelta int
	// Duplicate is true when the transition had already been processed.
	Duplicate bool
	// MissingDates lists nights of the stay that have no seeded bucket.
	MissingDates []hotel.Date
}
