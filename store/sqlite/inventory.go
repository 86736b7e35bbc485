package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
)

// =============================================================================
// ROOM TYPES (seeding source)
// =============================================================================

// AddRoomType registers or replaces a seeding source. Existing buckets keep
// their counts; only nights seeded afterwards use the new capacity.
func (s *Store) AddRoomType(ctx context.Context, rt inventory.RoomTypeCapacity) error {
	if rt.Name == "" {
		return &hotel.ValidationError{Field: "name", Reason: "is required"}
	}
	if rt.TotalUnits < 0 || rt.OutOfOrderUnits < 0 || rt.OutOfOrderUnits > rt.TotalUnits {
		return &hotel.ValidationError{Field: "out_of_order_units", Reason: "must be between 0 and total_units"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO room_types (name, total_units, out_of_order_units, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			total_units = excluded.total_units,
			out_of_order_units = excluded.out_of_order_units
	`
	if _, err := s.db.ExecContext(ctx, query, rt.Name, rt.TotalUnits, rt.OutOfOrderUnits, s.timestamp()); err != nil {
		return fmt.Errorf("failed to save room type: %w", err)
	}
	return nil
}

// ListRoomTypes returns room types ordered by name.
func (s *Store) ListRoomTypes(ctx context.Context) ([]inventory.RoomTypeCapacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, total_units, out_of_order_units FROM room_types ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []inventory.RoomTypeCapacity{}
	for rows.Next() {
		var rt inventory.RoomTypeCapacity
		if err := rows.Scan(&rt.Name, &rt.TotalUnits, &rt.OutOfOrderUnits); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// =============================================================================
// SEEDING (population.Store interface)
// =============================================================================

// SeedInventoryWindow inserts one bucket per room type per night of window and
// leaves existing buckets untouched. Each chunk of windowSizeDays nights is a
// single set-based INSERT in its own transaction.
func (s *Store) SeedInventoryWindow(ctx context.Context, window hotel.DateRange, windowSizeDays int, namePrefix string) error {
	if err := window.Validate(); err != nil {
		return err
	}
	if windowSizeDays < 1 {
		windowSizeDays = window.Days()
	}

	query := `
		WITH RECURSIVE days(d) AS (
			SELECT date(?)
			UNION ALL
			SELECT date(d, '+1 day') FROM days WHERE d < date(?)
		)
		INSERT OR IGNORE INTO inventory_buckets
			(room_type, for_date, name, total_units, occupied_count, out_of_order_count, available_units, updated_at)
		SELECT
			rt.name,
			CAST(strftime('%Y%m%d', days.d) AS INTEGER),
			? || rt.name || '-' || strftime('%Y%m%d', days.d),
			rt.total_units,
			0,
			MIN(rt.out_of_order_units, rt.total_units),
			rt.total_units - MIN(rt.out_of_order_units, rt.total_units),
			?
		FROM days CROSS JOIN room_types rt
	`

	for _, chunk := range window.Windows(windowSizeDays) {
		err := s.withTx(ctx, func(q querier) error {
			_, err := q.ExecContext(ctx, query, chunk.Start.String(), chunk.End.String(), namePrefix, s.timestamp())
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", chunk, err)
		}
	}
	return nil
}

// CountInventoryRows counts buckets of any room type within window.
func (s *Store) CountInventoryRows(ctx context.Context, window hotel.DateRange) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM inventory_buckets WHERE for_date BETWEEN ? AND ?
	`, window.Start.Int(), window.End.Int()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count buckets: %w", err)
	}
	return n, nil
}

// =============================================================================
// BUCKETS (inventory.Store interface)
// =============================================================================

const bucketColumns = `name, room_type, for_date, total_units, occupied_count, out_of_order_count, available_units`

func (s *Store) LoadBuckets(ctx context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadBuckets(ctx, s.db, roomType, r)
}

func loadBuckets(ctx context.Context, q querier, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.Bucket, error) {
	return queryBuckets(ctx, q, `
		SELECT `+bucketColumns+` FROM inventory_buckets
		WHERE room_type = ? AND for_date BETWEEN ? AND ?
		ORDER BY for_date
	`, roomType, r.Start.Int(), r.End.Int())
}

// ListBuckets returns buckets of every room type in r, ordered by date then room type.
func (s *Store) ListBuckets(ctx context.Context, r hotel.DateRange) ([]inventory.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryBuckets(ctx, s.db, `
		SELECT `+bucketColumns+` FROM inventory_buckets
		WHERE for_date BETWEEN ? AND ?
		ORDER BY for_date, room_type
	`, r.Start.Int(), r.End.Int())
}

func queryBuckets(ctx context.Context, q querier, query string, args ...any) ([]inventory.Bucket, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load buckets: %w", err)
	}
	defer rows.Close()

	var out []inventory.Bucket
	for rows.Next() {
		var b inventory.Bucket
		var forDate int
		if err := rows.Scan(&b.Name, &b.RoomType, &forDate, &b.TotalUnits,
			&b.OccupiedCount, &b.OutOfOrderCount, &b.AvailableUnits); err != nil {
			return nil, err
		}
		d, err := hotel.DateFromInt(forDate)
		if err != nil {
			return nil, err
		}
		b.ForDate = d
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SaveBucket(ctx context.Context, b inventory.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBucket(ctx, s.db, b, s.timestamp())
}

func saveBucket(ctx context.Context, q querier, b inventory.Bucket, now string) error {
	if err := b.Validate(); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE inventory_buckets
		SET total_units = ?, occupied_count = ?, out_of_order_count = ?, available_units = ?, updated_at = ?
		WHERE room_type = ? AND for_date = ?
	`, b.TotalUnits, b.OccupiedCount, b.OutOfOrderCount, b.AvailableUnits, now, b.RoomType, b.ForDate.Int())
	if err != nil {
		return fmt.Errorf("failed to save bucket %s: %w", inventory.BucketName("", b.RoomType, b.ForDate), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &hotel.NotFoundError{Kind: "inventory bucket", ID: inventory.BucketName("", b.RoomType, b.ForDate)}
	}
	return nil
}

// =============================================================================
// TRANSITIONS AND MOVEMENTS
// =============================================================================

func (s *Store) LoadTransition(ctx context.Context, id hotel.ReservationID, kind inventory.Transition) (*inventory.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadTransition(ctx, s.db, id, kind)
}

func loadTransition(ctx context.Context, q querier, id hotel.ReservationID, kind inventory.Transition) (*inventory.TransitionRecord, error) {
	var rec inventory.TransitionRecord
	var start, end int
	var recordedAt string
	err := q.QueryRowContext(ctx, `
		SELECT reservation_id, kind, room_type, stay_start, stay_end, rows_touched, total_delta,
			idempotency_key, recorded_at
		FROM inventory_transitions
		WHERE reservation_id = ? AND kind = ?
	`, id, kind).Scan(&rec.ReservationID, &rec.Kind, &rec.RoomType, &start, &end,
		&rec.RowsTouched, &rec.TotalDelta, &rec.IdempotencyKey, &recordedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transition: %w", err)
	}
	rec.Stay.Start, _ = hotel.DateFromInt(start)
	rec.Stay.End, _ = hotel.DateFromInt(end)
	rec.RecordedAt = parseTime(recordedAt)
	return &rec, nil
}

func (s *Store) RecordTransition(ctx context.Context, rec inventory.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordTransition(ctx, s.db, rec)
}

func recordTransition(ctx context.Context, q querier, rec inventory.TransitionRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_transitions
		(reservation_id, kind, room_type, stay_start, stay_end, rows_touched, total_delta, idempotency_key, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ReservationID, rec.Kind, rec.RoomType, rec.Stay.Start.Int(), rec.Stay.End.Int(),
		rec.RowsTouched, rec.TotalDelta, rec.IdempotencyKey, rec.RecordedAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueConstraintError(err) {
			return inventory.ErrDuplicateTransition
		}
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

func (s *Store) LoadMovements(ctx context.Context, id hotel.ReservationID, kind inventory.Transition) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadMovements(ctx, s.db, id, kind)
}

func loadMovements(ctx context.Context, q querier, id hotel.ReservationID, kind inventory.Transition) ([]inventory.Movement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, reservation_id, room_type, for_date, kind, units, created_at
		FROM inventory_movements
		WHERE reservation_id = ? AND kind = ?
		ORDER BY for_date
	`, id, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load movements: %w", err)
	}
	defer rows.Close()

	var out []inventory.Movement
	for rows.Next() {
		var m inventory.Movement
		var forDate int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ReservationID, &m.RoomType, &forDate, &m.Kind, &m.Units, &createdAt); err != nil {
			return nil, err
		}
		m.ForDate, _ = hotel.DateFromInt(forDate)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AppendMovements adds movements atomically. Append-only.
func (s *Store) AppendMovements(ctx context.Context, ms []inventory.Movement) error {
	return s.withTx(ctx, func(q querier) error {
		return appendMovements(ctx, q, ms)
	})
}

func appendMovements(ctx context.Context, q querier, ms []inventory.Movement) error {
	for _, m := range ms {
		_, err := q.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, reservation_id, room_type, for_date, kind, units, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.ReservationID, m.RoomType, m.ForDate.Int(), m.Kind, m.Units, m.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to append movement: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	return s.withTx(ctx, func(q querier) error {
		return fn(&txStore{q: q, parent: s})
	})
}

// txStore routes every call through the open transaction. It never touches
// the parent's mutex, which WithTx already holds.
type txStore struct {
	q      querier
	parent *Store
}

func (ts *txStore) LoadBuckets(ctx context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.Bucket, error) {
	return loadBuckets(ctx, ts.q, roomType, r)
}

func (ts *txStore) SaveBucket(ctx context.Context, b inventory.Bucket) error {
	return saveBucket(ctx, ts.q, b, ts.parent.timestamp())
}

func (ts *txStore) LoadTransition(ctx context.Context, id hotel.ReservationID, kind inventory.Transition) (*inventory.TransitionRecord, error) {
	return loadTransition(ctx, ts.q, id, kind)
}

func (ts *txStore) RecordTransition(ctx context.Context, rec inventory.TransitionRecord) error {
	return recordTransition(ctx, ts.q, rec)
}

func (ts *txStore) LoadMovements(ctx context.Context, id hotel.ReservationID, kind inventory.Transition) ([]inventory.Movement, error) {
	return loadMovements(ctx, ts.q, id, kind)
}

func (ts *txStore) AppendMovements(ctx context.Context, ms []inventory.Movement) error {
	return appendMovements(ctx, ts.q, ms)
}

// =============================================================================
// RATE CODES
// =============================================================================

// SeedRateCodes prices seed.Code on every bucket of seed.RoomType within
// seed.Range, replacing an earlier price for the same code. Nights without a
// bucket are skipped. It returns the number of nights priced.
func (s *Store) SeedRateCodes(ctx context.Context, seed inventory.RateSeed) (int, error) {
	if err := seed.Validate(); err != nil {
		return 0, err
	}
	var n int64
	err := s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO inventory_rate_codes (room_type, for_date, rate_code, rate_price, updated_at)
			SELECT room_type, for_date, ?, ?, ?
			FROM inventory_buckets
			WHERE room_type = ? AND for_date BETWEEN ? AND ?
			ON CONFLICT (room_type, for_date, rate_code) DO UPDATE SET
				rate_price = excluded.rate_price,
				updated_at = excluded.updated_at
		`, seed.Code, seed.Price.String(), s.timestamp(),
			string(seed.RoomType), seed.Range.Start.Int(), seed.Range.End.Int())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed rate code %s: %w", seed.Code, err)
	}
	return int(n), nil
}

// ListRates returns the rate codes within r ordered by date, room type and
// code. An empty roomType lists every room type.
func (s *Store) ListRates(ctx context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.RateCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_type, for_date, rate_code, rate_price
		FROM inventory_rate_codes
		WHERE (? = '' OR room_type = ?) AND for_date BETWEEN ? AND ?
		ORDER BY for_date, room_type, rate_code
	`, string(roomType), string(roomType), r.Start.Int(), r.End.Int())
	if err != nil {
		return nil, fmt.Errorf("failed to list rates: %w", err)
	}
	defer rows.Close()

	out := []inventory.RateCode{}
	for rows.Next() {
		var rc inventory.RateCode
		var forDate int
		var price string
		if err := rows.Scan(&rc.RoomType, &forDate, &rc.Code, &price); err != nil {
			return nil, err
		}
		if rc.ForDate, err = hotel.DateFromInt(forDate); err != nil {
			return nil, err
		}
		if rc.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid rate price %q: %w", price, err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Dashboard returns the KPIs of one night: bucket totals plus arrivals,
// departures and in-house reservations. ADR is the mean rate code price of
// the night; without rate codes it falls back to room revenue over rooms sold
// of submitted in-house reservations.
func (s *Store) Dashboard(ctx context.Context, date hotel.Date) (inventory.Dashboard, error) {
	buckets, err := s.ListBuckets(ctx, hotel.NewDateRange(date, date))
	if err != nil {
		return inventory.Dashboard{}, err
	}
	d := inventory.Summarize(date, buckets)

	s.mu.RLock()
	defer s.mu.RUnlock()

	key := date.Int()
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN check_in = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN check_out = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN check_in <= ? AND check_out > ? THEN 1 ELSE 0 END), 0)
		FROM reservations
		WHERE status = 1
	`, key, key, key, key).Scan(&d.Arrivals, &d.Departures, &d.InHouse)
	if err != nil {
		return inventory.Dashboard{}, fmt.Errorf("failed to read reservation counts: %w", err)
	}

	rates, err := s.db.QueryContext(ctx, `
		SELECT rate_price, 1 FROM inventory_rate_codes WHERE for_date = ?
	`, key)
	if err != nil {
		return inventory.Dashboard{}, fmt.Errorf("failed to read rate codes: %w", err)
	}
	sum, err := sumRates(rates)
	if err != nil {
		return inventory.Dashboard{}, err
	}
	if sum.n > 0 {
		d.ADR = sum.average()
		return d, nil
	}

	rates, err = s.db.QueryContext(ctx, `
		SELECT nightly_rate, rooms FROM reservations
		WHERE status = 1 AND check_in <= ? AND check_out > ?
	`, key, key)
	if err != nil {
		return inventory.Dashboard{}, fmt.Errorf("failed to read rates: %w", err)
	}
	if sum, err = sumRates(rates); err != nil {
		return inventory.Dashboard{}, err
	}
	d.ADR = sum.average()
	return d, nil
}

// sumRates reads (price, weight) rows and closes them.
func sumRates(rows *sql.Rows) (decimalSum, error) {
	defer rows.Close()

	var sum decimalSum
	for rows.Next() {
		var v string
		var weight int64
		if err := rows.Scan(&v, &weight); err != nil {
			return sum, err
		}
		if err := sum.add(v, weight); err != nil {
			return sum, err
		}
	}
	return sum, rows.Err()
}
