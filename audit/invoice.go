package audit

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
)

// =============================================================================
// INVOICE - Aggregate the audit posts nightly charges onto
// =============================================================================

// NightlyItemCode identifies nightly accommodation lines.
const NightlyItemCode = "nightly-accommodation"

// Line is one invoice item.
type Line struct {
	ID            string              `json:"id"`
	ItemCode      string              `json:"item_code"`
	FolioWindowID hotel.FolioWindowID `json:"folio_window_id,omitempty"`
	ForDate       hotel.Date          `json:"for_date"`
	Qty           decimal.Decimal     `json:"qty"`
	Rate          decimal.Decimal     `json:"rate"`
	Amount        decimal.Decimal     `json:"amount"`
}

// Invoice holds lines and their total.
//
// INVARIANT: at most one NightlyItemCode line per (FolioWindowID, ForDate).
type Invoice struct {
	ID            hotel.InvoiceID     `json:"id"`
	FolioWindowID hotel.FolioWindowID `json:"folio_window_id"`
	Customer      string              `json:"customer"`
	Lines         []Line              `json:"lines"`
	Total         decimal.Decimal     `json:"total"`
}

// HasNightlyLine reports whether the night is already charged.
func (inv *Invoice) HasNightlyLine(folio hotel.FolioWindowID, forDate hotel.Date) bool {
	for _, l := range inv.Lines {
		if l.ItemCode == NightlyItemCode && l.FolioWindowID == folio && l.ForDate.Equal(forDate) {
			return true
		}
	}
	return false
}

// AppendNightlyLine adds the nightly accommodation charge unless it already
// exists, and recomputes the total. Returns whether a line was appended.
func (inv *Invoice) AppendNightlyLine(folio hotel.FolioWindowID, forDate hotel.Date, rate decimal.Decimal) bool {
	if inv.HasNightlyLine(folio, forDate) {
		return false
	}
	qty := decimal.NewFromInt(1)
	inv.Lines = append(inv.Lines, Line{
		ID:            uuid.NewString(),
		ItemCode:      NightlyItemCode,
		FolioWindowID: folio,
		ForDate:       forDate,
		Qty:           qty,
		Rate:          rate,
		Amount:        rate.Mul(qty).Round(2),
	})
	inv.Recompute()
	return true
}

// Recompute sets Total to the sum of line amounts.
func (inv *Invoice) Recompute() {
	total := decimal.Zero
	for _, l := range inv.Lines {
		total = total.Add(l.Amount)
	}
	inv.Total = total
}
