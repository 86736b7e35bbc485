/*
store.go - Persistence interface for inventory buckets and ledger records

PURPOSE:
  Defines the boundary between the ledger protocol and the database.
  The store owns rows; the ledger owns the rules.

KEY INTERFACES:
  Store:   Bucket reads/writes, transition markers, per-night movements
  TxStore: Store + WithTx for all-or-nothing Apply/Release calls

LOCKING:
  WithTx must give the callback exclusive write access to the bucket rows it
  touches for the life of the transaction (SQLite: BEGIN IMMEDIATE; memory:
  the store mutex). Two reservations on the same room type and night cannot
  lose each other's updates.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - inventory/store: in-memory for tests

SEE ALSO:
  - ledger.go: Apply/Release protocol using Store
*/
package inventory

import (
	"context"
	"errors"

	"github.com/darwishdev/abc-hotels/hotel"
)

// ErrDuplicateTransition is returned by RecordTransition when the idempotency
// key already exists.
var ErrDuplicateTransition = errors.New("duplicate transition")

// Store handles persistence of buckets and ledger records.
type Store interface {
	// LoadBuckets returns existing buckets of a room type in [r.Start, r.End], ordered by date.
	LoadBuckets(ctx context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]Bucket, error)

	// SaveBucket writes the counters of an existing bucket.
	SaveBucket(ctx context.Context, b Bucket) error

	// LoadTransition returns the marker for (reservation, kind), or nil.
	LoadTransition(ctx context.Context, reservationID hotel.ReservationID, kind Transition) (*TransitionRecord, error)

	// RecordTransition writes a marker. Returns ErrDuplicateTransition if it exists.
	RecordTransition(ctx context.Context, rec TransitionRecord) error

	// LoadMovements returns the movements of a reservation for one kind, ordered by date.
	LoadMovements(ctx context.Context, reservationID hotel.ReservationID, kind Transition) ([]Movement, error)

	// AppendMovements persists movements. Append-only.
	AppendMovements(ctx context.Context, ms []Movement) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
