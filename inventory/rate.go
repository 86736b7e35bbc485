package inventory

import (
	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
)

// RateCode is the price of one rate plan on one bucket night.
type RateCode struct {
	RoomType hotel.RoomType  `json:"room_type"`
	ForDate  hotel.Date      `json:"for_date"`
	Code     string          `json:"rate_code"`
	Price    decimal.Decimal `json:"rate_price"`
}

// RateSeed prices Code for every existing bucket of RoomType within Range.
type RateSeed struct {
	Code     string
	RoomType hotel.RoomType
	Range    hotel.DateRange
	Price    decimal.Decimal
}

func (s RateSeed) Validate() error {
	if s.Code == "" {
		return &hotel.ValidationError{Field: "rate_code", Reason: "is required"}
	}
	if s.RoomType == "" {
		return &hotel.ValidationError{Field: "room_type", Reason: "is required"}
	}
	if s.Price.IsNegative() {
		return &hotel.ValidationError{Field: "rate_price", Value: s.Price.String(), Reason: "must not be negative"}
	}
	return s.Range.Validate()
}
