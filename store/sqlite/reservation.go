package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/reservation"
)

// =============================================================================
// RESERVATIONS (reservation.Store interface)
// =============================================================================

func (s *Store) CreateReservation(ctx context.Context, r reservation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reservations
		(id, customer, room_type, check_in, check_out, rooms, nightly_rate, status, checked_in,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Customer, r.RoomType, r.CheckIn.Int(), r.CheckOut.Int(), r.Rooms,
		r.NightlyRate.String(), int(r.Status), boolInt(r.CheckedIn), r.CreatedBy,
		r.CreatedAt.UTC().Format(timeLayout), r.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &hotel.ValidationError{Field: "id", Value: string(r.ID), Reason: "already exists"}
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id hotel.ReservationID) (reservation.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r reservation.Reservation
	var checkIn, checkOut, status, checkedIn int
	var rate, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer, room_type, check_in, check_out, rooms, nightly_rate, status, checked_in,
			created_by, created_at, updated_at
		FROM reservations WHERE id = ?
	`, id).Scan(&r.ID, &r.Customer, &r.RoomType, &checkIn, &checkOut, &r.Rooms, &rate, &status,
		&checkedIn, &r.CreatedBy, &createdAt, &updatedAt)
	if isNoRows(err) {
		return reservation.Reservation{}, &hotel.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("failed to load reservation: %w", err)
	}
	r.CheckIn, _ = hotel.DateFromInt(checkIn)
	r.CheckOut, _ = hotel.DateFromInt(checkOut)
	r.NightlyRate, err = decimal.NewFromString(rate)
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("reservation %s has invalid rate %q: %w", id, rate, err)
	}
	r.Status = reservation.Status(status)
	r.CheckedIn = checkedIn != 0
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// UpdateStatus is a conditional update: it only matches a row still in from.
func (s *Store) UpdateStatus(ctx context.Context, id hotel.ReservationID, from, to reservation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, int(to), s.timestamp(), id, int(from))
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var current int
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reservations WHERE id = ?`, id).Scan(&current)
	if isNoRows(err) {
		return &hotel.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("reservation %s: %w: status is %s, expected %s",
		id, hotel.ErrInvalidState, reservation.Status(current), from)
}

// OpenFolio creates the folio window and its empty invoice and marks the
// reservation checked in, in one transaction. An existing folio for the
// reservation is returned unchanged.
func (s *Store) OpenFolio(ctx context.Context, f reservation.FolioWindow) (reservation.FolioWindow, error) {
	var out reservation.FolioWindow
	err := s.withTx(ctx, func(q querier) error {
		existing, err := loadFolio(ctx, q, f.ReservationID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
			return nil
		}

		now := s.timestamp()
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO invoices (id, folio_window_id, customer, total, created_at, updated_at)
			VALUES (?, ?, ?, '0', ?, ?)
		`, f.InvoiceID, f.ID, f.Customer, now, now); err != nil {
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO folio_windows
			(id, reservation_id, invoice_id, customer, window_start, window_end, nightly_rate, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.ReservationID, f.InvoiceID, f.Customer, f.Stay.Start.Int(), f.Stay.End.Int(),
			f.NightlyRate.String(), now); err != nil {
			return fmt.Errorf("failed to create folio window: %w", err)
		}
		res, err := q.ExecContext(ctx, `
			UPDATE reservations SET checked_in = 1, updated_at = ? WHERE id = ?
		`, now, f.ReservationID)
		if err != nil {
			return fmt.Errorf("failed to mark checked in: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &hotel.NotFoundError{Kind: "reservation", ID: string(f.ReservationID)}
		}
		out = f
		return nil
	})
	if err != nil {
		return reservation.FolioWindow{}, err
	}
	return out, nil
}

func loadFolio(ctx context.Context, q querier, id hotel.ReservationID) (*reservation.FolioWindow, error) {
	var f reservation.FolioWindow
	var start, end int
	var rate string
	err := q.QueryRowContext(ctx, `
		SELECT id, reservation_id, invoice_id, customer, window_start, window_end, nightly_rate
		FROM folio_windows WHERE reservation_id = ?
	`, id).Scan(&f.ID, &f.ReservationID, &f.InvoiceID, &f.Customer, &start, &end, &rate)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load folio window: %w", err)
	}
	f.Stay.Start, _ = hotel.DateFromInt(start)
	f.Stay.End, _ = hotel.DateFromInt(end)
	if f.NightlyRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("folio window %s has invalid rate %q: %w", f.ID, rate, err)
	}
	return &f, nil
}

// Helper functions

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// decimalSum accumulates weighted decimal text columns.
type decimalSum struct {
	total decimal.Decimal
	n     int64
}

func (d *decimalSum) add(v string, weight int64) error {
	x, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", v, err)
	}
	d.total = d.total.Add(x.Mul(decimal.NewFromInt(weight)))
	d.n += weight
	return nil
}

// average rounds to 2 places; 0 when nothing was added.
func (d decimalSum) average() decimal.Decimal {
	if d.n == 0 {
		return decimal.Zero
	}
	return d.total.Div(decimal.NewFromInt(d.n)).Round(2)
}
