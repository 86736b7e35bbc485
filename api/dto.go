/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Room types:   RoomTypeDTO, CreateRoomTypeRequest
  Reservations: ReservationDTO, CreateReservationRequest, ApplyInventoryRequest,
                TransitionResultDTO, FolioWindowDTO
  Inventory:    SeedRatesRequest, SeedRatesResponse
  Population:   population.Request / population.Response (used as is)
  Audit:        BusinessDateDTO, SetBusinessDateRequest

VALIDATION:
  Request types carry go-playground/validator tags checked by decode()
  before any handler logic runs. The custom "date" tag accepts 2006-01-02
  and 20060102. Cross-field domain rules stay in the domain packages.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/reservation"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RoomTypeDTO represents a room type in API responses.
type RoomTypeDTO struct {
	Name            string `json:"name"`
	TotalUnits      int    `json:"total_units"`
	OutOfOrderUnits int    `json:"out_of_order_units"`
}

// CreateRoomTypeRequest registers or replaces a room type.
type CreateRoomTypeRequest struct {
	Name            string `json:"name" validate:"required,max=64"`
	TotalUnits      int    `json:"total_units" validate:"gte=0"`
	OutOfOrderUnits int    `json:"out_of_order_units" validate:"gte=0,ltefield=TotalUnits"`
}

// CreateReservationRequest creates a draft reservation.
type CreateReservationRequest struct {
	ID          string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Customer    string          `json:"customer"`
	RoomType    string          `json:"room_type" validate:"required"`
	CheckIn     string          `json:"check_in" validate:"required,date"`
	CheckOut    string          `json:"check_out" validate:"required,date"`
	Rooms       int             `json:"rooms" validate:"required,gte=1"`
	NightlyRate decimal.Decimal `json:"nightly_rate"`
}

// ApplyInventoryRequest is the raw numeric edge: 1 applies, 2 releases.
type ApplyInventoryRequest struct {
	TargetState int `json:"target_state"`
}

// SeedRatesRequest prices a rate code on every bucket of a room type in a range.
type SeedRatesRequest struct {
	RateCode  string          `json:"rate_code" validate:"required,max=64"`
	RoomType  string          `json:"room_type" validate:"required"`
	StartDate string          `json:"start_date" validate:"required,date"`
	EndDate   string          `json:"end_date" validate:"required,date"`
	RatePrice decimal.Decimal `json:"rate_price"`
}

func (r SeedRatesRequest) toSeed() (inventory.RateSeed, error) {
	start, err := hotel.ParseDate(r.StartDate)
	if err != nil {
		return inventory.RateSeed{}, &hotel.ValidationError{Field: "start_date", Value: r.StartDate, Reason: "is not a date"}
	}
	end, err := hotel.ParseDate(r.EndDate)
	if err != nil {
		return inventory.RateSeed{}, &hotel.ValidationError{Field: "end_date", Value: r.EndDate, Reason: "is not a date"}
	}
	seed := inventory.RateSeed{
		Code:     r.RateCode,
		RoomType: hotel.RoomType(r.RoomType),
		Range:    hotel.NewDateRange(start, end),
		Price:    r.RatePrice,
	}
	return seed, seed.Validate()
}

// SeedRatesResponse reports how many nights were priced.
type SeedRatesResponse struct {
	RateCode string `json:"rate_code"`
	RoomType string `json:"room_type"`
	Nights   int    `json:"nights"`
}

// SetBusinessDateRequest configures or corrects the business date.
type SetBusinessDateRequest struct {
	BusinessDate    string `json:"business_date" validate:"required,date"`
	ExpectedVersion int64  `json:"expected_version" validate:"gte=0"`
}

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	RoomType    string          `json:"room_type"`
	CheckIn     hotel.Date      `json:"check_in"`
	CheckOut    hotel.Date      `json:"check_out"`
	Nights      int             `json:"nights"`
	Rooms       int             `json:"rooms"`
	NightlyRate decimal.Decimal `json:"nightly_rate"`
	Status      string          `json:"status"`
	DocStatus   int             `json:"docstatus"`
	CheckedIn   bool            `json:"checked_in"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TransitionResultDTO is returned by submit, cancel and the raw edge.
type TransitionResultDTO struct {
	ReservationID string       `json:"reservation_id"`
	Status        string       `json:"status,omitempty"`
	RowsTouched   int          `json:"rows_touched"`
	TotalDelta    int          `json:"total_delta"`
	Duplicate     bool         `json:"duplicate"`
	MissingDates  []hotel.Date `json:"missing_dates,omitempty"`
}

// FolioWindowDTO is returned by check-in.
type FolioWindowDTO struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservation_id"`
	InvoiceID     string          `json:"invoice_id"`
	Customer      string          `json:"customer"`
	Start         hotel.Date      `json:"start"`
	End           hotel.Date      `json:"end"`
	NightlyRate   decimal.Decimal `json:"nightly_rate"`
}

// BusinessDateDTO is the business date and the version to send back on update.
type BusinessDateDTO struct {
	PropertyID   string     `json:"property_id"`
	BusinessDate hotel.Date `json:"business_date"`
	Version      int64      `json:"version"`
	EngineState  string     `json:"engine_state"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toReservationDTO(r reservation.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:          string(r.ID),
		Customer:    r.Customer,
		RoomType:    string(r.RoomType),
		CheckIn:     r.CheckIn,
		CheckOut:    r.CheckOut,
		Nights:      r.Nights().Days(),
		Rooms:       r.Rooms,
		NightlyRate: r.NightlyRate,
		Status:      r.Status.String(),
		DocStatus:   int(r.Status),
		CheckedIn:   r.CheckedIn,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toTransitionDTO(id hotel.ReservationID, status string, res inventory.Result) TransitionResultDTO {
	return TransitionResultDTO{
		ReservationID: string(id),
		Status:        status,
		RowsTouched:   res.RowsTouched,
		TotalDelta:    res.TotalDelta,
		Duplicate:     res.Duplicate,
		MissingDates:  res.MissingDates,
	}
}

func toFolioDTO(f reservation.FolioWindow) FolioWindowDTO {
	return FolioWindowDTO{
		ID:            string(f.ID),
		ReservationID: string(f.ReservationID),
		InvoiceID:     string(f.InvoiceID),
		Customer:      f.Customer,
		Start:         f.Stay.Start,
		End:           f.Stay.End,
		NightlyRate:   f.NightlyRate,
	}
}

func (req CreateReservationRequest) toReservation() (reservation.Reservation, error) {
	in, err := hotel.ParseDate(req.CheckIn)
	if err != nil {
		return reservation.Reservation{}, &hotel.ValidationError{Field: "check_in", Value: req.CheckIn, Reason: "is not a date"}
	}
	out, err := hotel.ParseDate(req.CheckOut)
	if err != nil {
		return reservation.Reservation{}, &hotel.ValidationError{Field: "check_out", Value: req.CheckOut, Reason: "is not a date"}
	}
	return reservation.Reservation{
		ID:          hotel.ReservationID(req.ID),
		Customer:    req.Customer,
		RoomType:    hotel.RoomType(req.RoomType),
		CheckIn:     in,
		CheckOut:    out,
		Rooms:       req.Rooms,
		NightlyRate: req.NightlyRate,
	}, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := hotel.ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

// validationError turns the first validator failure into the domain's
// ValidationError so the API reports every input error the same way.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}
	fe := errs[0]
	reason := "failed " + fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "date":
		reason = "is not a date"
	case "gte":
		reason = "must be at least " + fe.Param()
	case "ltefield":
		reason = "must not exceed " + snake(fe.Param())
	case "max":
		reason = "must be at most " + fe.Param() + " characters"
	}
	return &hotel.ValidationError{Field: fe.Field(), Value: fmt.Sprint(fe.Value()), Reason: reason}
}

// snake converts a Go field name to its JSON spelling: TotalUnits -> total_units.
func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
