/*
ledger.go - Idempotent apply/release protocol for room inventory

PURPOSE:
  The Ledger keeps inventory buckets consistent with reservations. A submitted
  reservation occupies one or more units of a room type for every night of its
  stay (Apply); a cancelled reservation gives them back (Release).

CRITICAL INVARIANTS:
  1. CONSERVATION: total == occupied + out_of_order + available, after every write
  2. EXACTLY ONCE: a (reservation, transition) pair is processed at most once;
     a replay returns a zero-delta Duplicate result
  3. ALL-OR-NOTHING: every bucket write of one call shares one transaction
  4. EXACT INVERSE: Release replays the recorded Apply movements, so clamped
     nights give back only what they took

CLAMPING:
  Apply never drives available below zero. If a night has fewer available
  units than requested, only what is available is occupied, and the movement
  records the clamped amount.

EXAMPLE FLOW:
  Deluxe 2025-10-01..03, available 5 each night
  1. Apply R:   available 4,4,4  occupied 1,1,1  delta -3
  2. Apply R:   no-op, Duplicate
  3. Release R: available 5,5,5  occupied 0,0,0  delta +3

SEE ALSO:
  - store.go: Persistence interface
  - reservation/lifecycle.go: Submit/cancel hooks calling this ledger
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/hotel"
)

// Ledger applies and releases reservation inventory.
type Ledger struct {
	store TxStore
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewLedger creates a ledger over a transactional store.
func NewLedger(store TxStore, logger logrus.FieldLogger) *Ledger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ledger{
		store: store,
		log:   logger.WithField("component", "inventory_ledger"),
		now:   time.Now,
	}
}

// Apply occupies the reservation's units for every night of its stay.
func (l *Ledger) Apply(ctx context.Context, occ Occupancy) (Result, error) {
	return l.Transition(ctx, TransitionApplied, occ)
}

// Release frees exactly what Apply took for the reservation.
func (l *Ledger) Release(ctx context.Context, occ Occupancy) (Result, error) {
	return l.Transition(ctx, TransitionReleased, occ)
}

// ApplyCode is the numeric edge: 1 applies, 2 releases, anything else is
// rejected with InvalidTransitionCodeError before touching the store.
func (l *Ledger) ApplyCode(ctx context.Context, occ Occupancy, targetState int) (Result, error) {
	kind, err := TransitionFromCode(targetState)
	if err != nil {
		return Result{}, err
	}
	return l.Transition(ctx, kind, occ)
}

// Transition runs one ledger operation inside a single store transaction.
func (l *Ledger) Transition(ctx context.Context, kind Transition, occ Occupancy) (Result, error) {
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: unknown transition %q", hotel.ErrInvalidTransitionCode, kind)
	}
	if occ.ReservationID == "" {
		return Result{}, &hotel.ValidationError{Field: "reservation_id", Reason: "is required"}
	}
	if occ.Units <= 0 {
		occ.Units = 1
	}
	if kind == TransitionApplied {
		if occ.RoomType == "" {
			return Result{}, &hotel.ValidationError{Field: "room_type", Reason: "is required"}
		}
		if err := occ.Stay.Validate(); err != nil {
			return Result{}, err
		}
	}

	var res Result
	err := l.store.WithTx(ctx, func(s Store) error {
		existing, err := s.LoadTransition(ctx, occ.ReservationID, kind)
		if err != nil {
			return err
		}
		if existing != nil {
			res = Result{Duplicate: true}
			return nil
		}

		switch kind {
		case TransitionApplied:
			res, err = l.apply(ctx, s, occ)
		case TransitionReleased:
			res, err = l.release(ctx, s, occ)
		}
		if err != nil {
			return err
		}
		if res.Duplicate {
			return nil
		}

		return s.RecordTransition(ctx, TransitionRecord{
			ReservationID:  occ.ReservationID,
			Kind:           kind,
			RoomType:       occ.RoomType,
			Stay:           occ.Stay,
			RowsTouched:    res.RowsTouched,
			TotalDelta:     res.TotalDelta,
			IdempotencyKey: IdempotencyKey(occ.ReservationID, kind),
			RecordedAt:     l.now().UTC(),
		})
	})
	if errors.Is(err, ErrDuplicateTransition) {
		// Lost a race with a concurrent call for the same transition; theirs won.
		return Result{Duplicate: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s reservation %s: %w", kind, occ.ReservationID, err)
	}

	entry := l.log.WithFields(logrus.Fields{
		"reservation_id": occ.ReservationID,
		"transition":     kind,
		"rows_touched":   res.RowsTouched,
		"total_delta":    res.TotalDelta,
	})
	switch {
	case res.Duplicate:
		entry.Debug("transition already processed")
	case len(res.MissingDates) > 0:
		entry.WithField("missing_dates", len(res.MissingDates)).Warn("stay has nights without inventory")
	default:
		entry.Info("inventory updated")
	}
	return res, nil
}

func (l *Ledger) apply(ctx context.Context, s Store, occ Occupancy) (Result, error) {
	buckets, err := s.LoadBuckets(ctx, occ.RoomType, occ.Stay)
	if err != nil {
		return Result{}, err
	}

	seen := make(map[int]bool, len(buckets))
	movements := make([]Movement, 0, len(buckets))
	var res Result
	for _, b := range buckets {
		seen[b.ForDate.Int()] = true
		took := b.Occupy(occ.Units)
		if err := b.Validate(); err != nil {
			return Result{}, err
		}
		if err := s.SaveBucket(ctx, b); err != nil {
			return Result{}, err
		}
		res.RowsTouched++
		res.TotalDelta -= took
		movements = append(movements, Movement{
			ID:            uuid.NewString(),
			ReservationID: occ.ReservationID,
			RoomType:      occ.RoomType,
			ForDate:       b.ForDate,
			Kind:          TransitionApplied,
			Units:         took,
			CreatedAt:     l.now().UTC(),
		})
	}
	for _, d := range occ.Stay.Dates() {
		if !seen[d.Int()] {
			res.MissingDates = append(res.MissingDates, d)
		}
	}

	if err := s.AppendMovements(ctx, movements); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (l *Ledger) release(ctx context.Context, s Store, occ Occupancy) (Result, error) {
	applied, err := s.LoadTransition(ctx, occ.ReservationID, TransitionApplied)
	if err != nil {
		return Result{}, err
	}
	if applied == nil {
		// Nothing was ever applied. Not recording the release keeps a later
		// Apply/Release pair possible.
		l.log.WithField("reservation_id", occ.ReservationID).Warn("release without prior apply ignored")
		return Result{Duplicate: true}, nil
	}

	taken, err := s.LoadMovements(ctx, occ.ReservationID, TransitionApplied)
	if err != nil {
		return Result{}, err
	}

	var res Result
	movements := make([]Movement, 0, len(taken))
	for _, m := range taken {
		buckets, err := s.LoadBuckets(ctx, m.RoomType, hotel.NewDateRange(m.ForDate, m.ForDate))
		if err != nil {
			return Result{}, err
		}
		if len(buckets) == 0 {
			return Result{}, &hotel.NotFoundError{Kind: "inventory bucket", ID: BucketName("", m.RoomType, m.ForDate)}
		}
		b := buckets[0]
		gave := b.Vacate(m.Units)
		if err := b.Validate(); err != nil {
			return Result{}, err
		}
		if err := s.SaveBucket(ctx, b); err != nil {
			return Result{}, err
		}
		res.RowsTouched++
		res.TotalDelta += gave
		movements = append(movements, Movement{
			ID:            uuid.NewString(),
			ReservationID: occ.ReservationID,
			RoomType:      m.RoomType,
			ForDate:       m.ForDate,
			Kind:          TransitionReleased,
			Units:         gave,
			CreatedAt:     l.now().UTC(),
		})
	}

	if err := s.AppendMovements(ctx, movements); err != nil {
		return Result{}, err
	}
	return res, nil
}
