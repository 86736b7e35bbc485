package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/hotel"
)

// =============================================================================
// BUSINESS DATE (versioned property settings)
// =============================================================================

// GetBusinessDate returns the property's business date. A property that was
// never configured returns the zero BusinessDate.
func (s *Store) GetBusinessDate(ctx context.Context, propertyID string) (audit.BusinessDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bd audit.BusinessDate
	var date sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT business_date, version FROM property_settings WHERE property_id = ?
	`, propertyID).Scan(&date, &bd.Version)
	if isNoRows(err) {
		return audit.BusinessDate{}, nil
	}
	if err != nil {
		return audit.BusinessDate{}, fmt.Errorf("failed to read business date: %w", err)
	}
	if date.Valid {
		if bd.Date, err = hotel.DateFromInt(int(date.Int64)); err != nil {
			return audit.BusinessDate{}, err
		}
	}
	return bd, nil
}

// SetBusinessDate writes d only if the stored version still equals
// expectedVersion (0 for a property without settings) and bumps the version.
func (s *Store) SetBusinessDate(ctx context.Context, propertyID string, expectedVersion int64, d hotel.Date) (audit.BusinessDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	var res sql.Result
	var err error
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO property_settings (property_id, business_date, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(property_id) DO UPDATE SET
				business_date = excluded.business_date,
				version = property_settings.version + 1,
				updated_at = excluded.updated_at
			WHERE property_settings.version = 0
		`, propertyID, d.Int(), now)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE property_settings SET business_date = ?, version = version + 1, updated_at = ?
			WHERE property_id = ? AND version = ?
		`, d.Int(), now, propertyID, expectedVersion)
	}
	if err != nil {
		return audit.BusinessDate{}, fmt.Errorf("failed to write business date: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return audit.BusinessDate{}, fmt.Errorf("business date of %s: %w: expected version %d",
			propertyID, hotel.ErrVersionConflict, expectedVersion)
	}
	return audit.BusinessDate{Date: d, Version: expectedVersion + 1}, nil
}

// =============================================================================
// CANDIDATES
// =============================================================================

// GetAuditCandidates lists folio windows of submitted, checked-in reservations
// whose span covers date, ordered by folio window.
func (s *Store) GetAuditCandidates(ctx context.Context, date hotel.Date) ([]audit.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT fw.id, fw.invoice_id, fw.reservation_id, fw.nightly_rate
		FROM folio_windows fw
		JOIN reservations r ON r.id = fw.reservation_id
		WHERE r.checked_in = 1 AND r.status = 1
			AND fw.window_start <= ? AND fw.window_end >= ?
		ORDER BY fw.id
	`, date.Int(), date.Int())
	if err != nil {
		return nil, fmt.Errorf("failed to select audit candidates: %w", err)
	}
	defer rows.Close()

	out := []audit.Candidate{}
	for rows.Next() {
		var c audit.Candidate
		var rate string
		if err := rows.Scan(&c.FolioWindowID, &c.InvoiceID, &c.ReservationID, &rate); err != nil {
			return nil, err
		}
		if c.NightlyRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("folio window %s has invalid rate %q: %w", c.FolioWindowID, rate, err)
		}
		c.ForDate = date
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

// WithInvoice loads the invoice and its lines, calls fn, then inserts the lines
// fn appended and stores the new total, all in one transaction. Existing lines
// are never rewritten.
func (s *Store) WithInvoice(ctx context.Context, id hotel.InvoiceID, fn func(inv *audit.Invoice) error) error {
	return s.withTx(ctx, func(q querier) error {
		inv, err := loadInvoice(ctx, q, id)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(inv.Lines))
		for _, l := range inv.Lines {
			known[l.ID] = true
		}

		if err := fn(inv); err != nil {
			return err
		}

		for i, l := range inv.Lines {
			if known[l.ID] {
				continue
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO invoice_items
				(id, invoice_id, idx, item_code, folio_window_id, for_date, qty, rate, amount)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, l.ID, id, i, l.ItemCode, nullString(string(l.FolioWindowID)), l.ForDate.Int(),
				l.Qty.String(), l.Rate.String(), l.Amount.String())
			if err != nil {
				if isUniqueConstraintError(err) {
					return fmt.Errorf("invoice %s already has a %s line for %s", id, l.ItemCode, l.ForDate)
				}
				return fmt.Errorf("failed to insert invoice item: %w", err)
			}
		}

		_, err = q.ExecContext(ctx, `
			UPDATE invoices SET total = ?, updated_at = ? WHERE id = ?
		`, inv.Total.String(), s.timestamp(), id)
		if err != nil {
			return fmt.Errorf("failed to update invoice total: %w", err)
		}
		return nil
	})
}

// GetInvoice returns an invoice with its lines.
func (s *Store) GetInvoice(ctx context.Context, id hotel.InvoiceID) (*audit.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadInvoice(ctx, s.db, id)
}

func loadInvoice(ctx context.Context, q querier, id hotel.InvoiceID) (*audit.Invoice, error) {
	inv := &audit.Invoice{}
	var total string
	err := q.QueryRowContext(ctx, `
		SELECT id, folio_window_id, customer, total FROM invoices WHERE id = ?
	`, id).Scan(&inv.ID, &inv.FolioWindowID, &inv.Customer, &total)
	if isNoRows(err) {
		return nil, &hotel.NotFoundError{Kind: "invoice", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invoice %s has invalid total %q: %w", id, total, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, item_code, folio_window_id, for_date, qty, rate, amount
		FROM invoice_items WHERE invoice_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice items: %w", err)
	}
	defer rows.Close()

	inv.Lines = []audit.Line{}
	for rows.Next() {
		var l audit.Line
		var folio sql.NullString
		var forDate int
		var qty, rate, amount string
		if err := rows.Scan(&l.ID, &l.ItemCode, &folio, &forDate, &qty, &rate, &amount); err != nil {
			return nil, err
		}
		l.FolioWindowID = hotel.FolioWindowID(folio.String)
		l.ForDate, _ = hotel.DateFromInt(forDate)
		if l.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if l.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, err
		}
		if l.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

// =============================================================================
// AUDIT RUNS
// =============================================================================

// CreateRun saves a run in the running state.
func (s *Store) CreateRun(ctx context.Context, r audit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_runs (id, property_id, business_date, status, trigger_name, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.PropertyID, r.BusinessDate.Int(), r.Status, r.Trigger, r.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to create audit run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, r audit.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next sql.NullInt64
	if !r.NextBusinessDate.IsZero() {
		next = sql.NullInt64{Int64: int64(r.NextBusinessDate.Int()), Valid: true}
	}
	var finishedAt *string
	if r.FinishedAt != nil {
		v := r.FinishedAt.UTC().Format(timeLayout)
		finishedAt = &v
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_runs SET
			next_business_date = ?, status = ?, candidates = ?, posted = ?, skipped = ?,
			failed = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, next, r.Status, r.Candidates, r.Posted, r.Skipped, r.Failed, nullString(r.Error), finishedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to finish audit run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &hotel.NotFoundError{Kind: "audit run", ID: r.ID}
	}
	return nil
}

// ListRuns returns the most recent runs of a property, newest first.
// A limit of 0 or less returns every run.
func (s *Store) ListRuns(ctx context.Context, propertyID string, limit int) ([]audit.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, business_date, next_business_date, status, trigger_name,
			candidates, posted, skipped, failed, error, started_at, finished_at
		FROM audit_runs
		WHERE property_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, propertyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []audit.Run{}
	for rows.Next() {
		var r audit.Run
		var bd int
		var next sql.NullInt64
		var errText, finishedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.PropertyID, &bd, &next, &r.Status, &r.Trigger,
			&r.Candidates, &r.Posted, &r.Skipped, &r.Failed, &errText, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.BusinessDate, _ = hotel.DateFromInt(bd)
		if next.Valid {
			r.NextBusinessDate, _ = hotel.DateFromInt(int(next.Int64))
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			t := parseTime(finishedAt.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
