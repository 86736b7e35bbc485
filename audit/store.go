package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
)

// Candidate is a folio window to charge for one night.
type Candidate struct {
	FolioWindowID hotel.FolioWindowID `json:"folio_window_id"`
	InvoiceID     hotel.InvoiceID     `json:"invoice_id"`
	ReservationID hotel.ReservationID `json:"reservation_id"`
	NightlyRate   decimal.Decimal     `json:"nightly_rate"`
	ForDate       hotel.Date          `json:"for_date"`
}

// BusinessDate is the property's current operating date. Version increases on
// every write; a zero Date means the property was never configured.
type BusinessDate struct {
	Date    hotel.Date `json:"business_date"`
	Version int64      `json:"version"`
}

func (b BusinessDate) IsSet() bool { return !b.Date.IsZero() }

// RunStatus of an audit run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Run records one audit execution.
type Run struct {
	ID               string     `json:"id"`
	PropertyID       string     `json:"property_id"`
	BusinessDate     hotel.Date `json:"business_date"`
	NextBusinessDate hotel.Date `json:"next_business_date"`
	Status           RunStatus  `json:"status"`
	Trigger          string     `json:"trigger"`
	Candidates       int        `json:"candidates"`
	Posted           int        `json:"posted"`
	Skipped          int        `json:"skipped"`
	Failed           int        `json:"failed"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Store is what the audit engine needs from persistence.
type Store interface {
	GetBusinessDate(ctx context.Context, propertyID string) (BusinessDate, error)

	// SetBusinessDate writes d if the stored version equals expectedVersion.
	// Returns ErrVersionConflict otherwise.
	SetBusinessDate(ctx context.Context, propertyID string, expectedVersion int64, d hotel.Date) (BusinessDate, error)

	// GetAuditCandidates lists checked-in folio windows covering date.
	GetAuditCandidates(ctx context.Context, date hotel.Date) ([]Candidate, error)

	// WithInvoice loads the invoice, calls fn, and persists the result in one
	// transaction. Nothing is written if fn returns an error.
	WithInvoice(ctx context.Context, id hotel.InvoiceID, fn func(inv *Invoice) error) error

	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, propertyID string, limit int) ([]Run, error)
}
