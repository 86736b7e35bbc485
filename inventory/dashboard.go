package inventory

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
)

// Dashboard is the read-only KPI snapshot for one night.
type Dashboard struct {
	Date             hotel.Date      `json:"date"`
	TotalUnits       int             `json:"total_units"`
	Occupied         int             `json:"occupied"`
	OutOfOrder       int             `json:"out_of_order"`
	Available        int             `json:"available"`
	OccupancyPercent float64         `json:"occupancy_percent"`
	Arrivals         int             `json:"arrivals"`
	Departures       int             `json:"departures"`
	InHouse          int             `json:"in_house"`
	ADR              decimal.Decimal `json:"adr"`
	RoomTypes        []BucketView    `json:"room_types"`
}

// BucketView is the API shape of a bucket.
type BucketView struct {
	Name       string         `json:"name"`
	RoomType   hotel.RoomType `json:"room_type"`
	ForDate    hotel.Date     `json:"for_date"`
	Total      int            `json:"total_units"`
	Occupied   int            `json:"occupied_count"`
	OutOfOrder int            `json:"out_of_order_count"`
	Available  int            `json:"available_units"`
}

func (b Bucket) View() BucketView {
	return BucketView{
		Name:       b.Name,
		RoomType:   b.RoomType,
		ForDate:    b.ForDate,
		Total:      b.TotalUnits,
		Occupied:   b.OccupiedCount,
		OutOfOrder: b.OutOfOrderCount,
		Available:  b.AvailableUnits,
	}
}

// Summarize totals the buckets of date. Occupancy is occupied over sellable
// units (total minus out of order), rounded to two decimals; 0 when nothing
// is sellable. Reservation based figures are left for the caller.
func Summarize(date hotel.Date, buckets []Bucket) Dashboard {
	d := Dashboard{Date: date, ADR: decimal.Zero, RoomTypes: []BucketView{}}
	for _, b := range buckets {
		if !b.ForDate.Equal(date) {
			continue
		}
		d.TotalUnits += b.TotalUnits
		d.Occupied += b.OccupiedCount
		d.OutOfOrder += b.OutOfOrderCount
		d.Available += b.AvailableUnits
		d.RoomTypes = append(d.RoomTypes, b.View())
	}
	if sellable := d.TotalUnits - d.OutOfOrder; sellable > 0 {
		d.OccupancyPercent = math.Round(float64(d.Occupied)/float64(sellable)*10000) / 100
	}
	return d
}
