/*
handlers.go - HTTP API handlers for the property engine

PURPOSE:
  Exposes inventory, reservations, population and the night audit via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  domain packages.

ENDPOINTS:
  Room types:
    GET    /api/room-types                     List room types
    POST   /api/room-types                     Create or replace a room type

  Reservations:
    POST   /api/reservations                   Create draft reservation
    GET    /api/reservations/{id}              Get reservation
    POST   /api/reservations/{id}/submit       Submit (occupies inventory)
    POST   /api/reservations/{id}/cancel       Cancel (releases inventory)
    POST   /api/reservations/{id}/check-in     Open folio window and invoice
    POST   /api/reservations/{id}/inventory    Raw edge {target_state: 1|2}

  Inventory:
    GET    /api/inventory?room_type&start&end  Buckets in a range
    GET    /api/inventory/dashboard?date       KPIs for one night
    POST   /api/inventory/populate             Backfill buckets (sync or async)
    GET    /api/jobs/{id}                      Background job status

  Night audit:
    GET    /api/audit/business-date            Current business date + version
    PUT    /api/audit/business-date            Configure/correct (CAS)
    GET    /api/audit/candidates?date          Preview, read-only
    POST   /api/audit/run                      Run the audit now
    GET    /api/audit/runs?limit               Recent runs

  Events:
    GET    /api/events?subscriber              SSE progress stream (events.go)

CALLER:
  The X-User header names the caller. It is recorded on reservations and
  is the default progress subscriber of population jobs.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (dto.go)
  3. Call domain logic
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with the HTTP status from statusFor:
  - 400: Validation errors, invalid transition codes, invalid state
  - 404: Resource not found
  - 409: Concurrency and version conflicts, missing property configuration
  - 503: Job queue full
  - 500: Internal errors

SECURITY NOTE:
  No authentication. X-User is trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: SSE stream
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/jobs"
	"github.com/darwishdev/abc-hotels/population"
	"github.com/darwishdev/abc-hotels/progress"
	"github.com/darwishdev/abc-hotels/reservation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// InventoryStore is the read/admin side of inventory the API needs.
type InventoryStore interface {
	AddRoomType(ctx context.Context, rt inventory.RoomTypeCapacity) error
	ListRoomTypes(ctx context.Context) ([]inventory.RoomTypeCapacity, error)
	ListBuckets(ctx context.Context, r hotel.DateRange) ([]inventory.Bucket, error)
	Dashboard(ctx context.Context, date hotel.Date) (inventory.Dashboard, error)
	SeedRateCodes(ctx context.Context, seed inventory.RateSeed) (int, error)
	ListRates(ctx context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.RateCode, error)
}

// Deps are the components the handlers delegate to.
type Deps struct {
	Inventory    InventoryStore
	Reservations *reservation.Lifecycle
	Population   *population.Service
	Jobs         *jobs.Scheduler
	Audit        *audit.Engine
	Hub          *progress.Hub
	PropertyID   string
	Logger       logrus.FieldLogger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deps
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	if d.PropertyID == "" {
		d.PropertyID = hotel.DefaultPropertyID
	}
	return &Handler{
		Deps:     d,
		validate: newValidator(),
		log:      d.Logger.WithField("component", "api"),
	}
}

// UserHeader names the caller.
const UserHeader = "X-User"

func callerOf(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return u
	}
	return "anonymous"
}

// =============================================================================
// ROOM TYPES
// =============================================================================

// ListRoomTypes returns all room types.
// GET /api/room-types
func (h *Handler) ListRoomTypes(w http.ResponseWriter, r *http.Request) {
	rts, err := h.Inventory.ListRoomTypes(r.Context())
	if err != nil {
		h.writeError(w, "Failed to list room types", err)
		return
	}
	dtos := make([]RoomTypeDTO, len(rts))
	for i, rt := range rts {
		dtos[i] = RoomTypeDTO{Name: string(rt.Name), TotalUnits: rt.TotalUnits, OutOfOrderUnits: rt.OutOfOrderUnits}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRoomType registers or replaces a room type.
// POST /api/room-types
func (h *Handler) CreateRoomType(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	rt := inventory.RoomTypeCapacity{
		Name:            hotel.RoomType(req.Name),
		TotalUnits:      req.TotalUnits,
		OutOfOrderUnits: req.OutOfOrderUnits,
	}
	if err := h.Inventory.AddRoomType(r.Context(), rt); err != nil {
		h.writeError(w, "Failed to save room type", err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomTypeDTO(req))
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// CreateReservation stores a draft reservation.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := req.toReservation()
	if err != nil {
		h.writeError(w, "Invalid reservation", err)
		return
	}
	created, err := h.Reservations.Create(r.Context(), res, callerOf(r))
	if err != nil {
		h.writeError(w, "Failed to create reservation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(created))
}

// GetReservation returns one reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.Get(r.Context(), reservationID(r))
	if err != nil {
		h.writeError(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// SubmitReservation commits the submission and occupies inventory.
// POST /api/reservations/{id}/submit
func (h *Handler) SubmitReservation(w http.ResponseWriter, r *http.Request) {
	id := reservationID(r)
	res, err := h.Reservations.Submit(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to submit reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionDTO(id, reservation.StatusSubmitted.String(), res))
}

// CancelReservation commits the cancellation and releases inventory.
// POST /api/reservations/{id}/cancel
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := reservationID(r)
	res, err := h.Reservations.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, "Failed to cancel reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionDTO(id, reservation.StatusCancelled.String(), res))
}

// CheckIn opens the folio window and invoice.
// POST /api/reservations/{id}/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	f, err := h.Reservations.CheckIn(r.Context(), reservationID(r))
	if err != nil {
		h.writeError(w, "Failed to check in", err)
		return
	}
	writeJSON(w, http.StatusOK, toFolioDTO(f))
}

// ApplyInventory is the raw numeric edge to the ledger.
// POST /api/reservations/{id}/inventory
func (h *Handler) ApplyInventory(w http.ResponseWriter, r *http.Request) {
	var req ApplyInventoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := reservationID(r)
	res, err := h.Reservations.ApplyTargetState(r.Context(), id, req.TargetState)
	if err != nil {
		h.writeError(w, "Failed to apply inventory", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionDTO(id, "", res))
}

func reservationID(r *http.Request) hotel.ReservationID {
	return hotel.ReservationID(chi.URLParam(r, "id"))
}

// =============================================================================
// INVENTORY
// =============================================================================

// ListInventory returns buckets in [start, end], optionally for one room type.
// GET /api/inventory?room_type=Deluxe&start=2025-09-01&end=2025-09-30
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := queryDate(q.Get("start"), "start")
	if err != nil {
		h.writeError(w, "Invalid range", err)
		return
	}
	end := start
	if q.Get("end") != "" {
		if end, err = queryDate(q.Get("end"), "end"); err != nil {
			h.writeError(w, "Invalid range", err)
			return
		}
	}
	rng := hotel.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		h.writeError(w, "Invalid range", err)
		return
	}

	buckets, err := h.Inventory.ListBuckets(r.Context(), rng)
	if err != nil {
		h.writeError(w, "Failed to list inventory", err)
		return
	}
	roomType := hotel.RoomType(q.Get("room_type"))
	out := make([]inventory.BucketView, 0, len(buckets))
	for _, b := range buckets {
		if roomType != "" && b.RoomType != roomType {
			continue
		}
		out = append(out, b.View())
	}
	writeJSON(w, http.StatusOK, out)
}

// Dashboard returns the KPIs of one night, today's when date is omitted.
// GET /api/inventory/dashboard?date=2025-09-01
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	date := hotel.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		var err error
		if date, err = queryDate(v, "date"); err != nil {
			h.writeError(w, "Invalid date", err)
			return
		}
	}
	d, err := h.Inventory.Dashboard(r.Context(), date)
	if err != nil {
		h.writeError(w, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListRates returns rate code prices per night.
// GET /api/inventory/rates?room_type=Deluxe&start=2025-10-01&end=2025-10-07
func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := queryDate(q.Get("start"), "start")
	if err != nil {
		h.writeError(w, "Invalid range", err)
		return
	}
	end := start
	if q.Get("end") != "" {
		if end, err = queryDate(q.Get("end"), "end"); err != nil {
			h.writeError(w, "Invalid range", err)
			return
		}
	}
	rng := hotel.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		h.writeError(w, "Invalid range", err)
		return
	}

	rates, err := h.Inventory.ListRates(r.Context(), hotel.RoomType(q.Get("room_type")), rng)
	if err != nil {
		h.writeError(w, "Failed to list rates", err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

// SeedRates prices a rate code on every bucket of a room type in a range.
// POST /api/inventory/rates
func (h *Handler) SeedRates(w http.ResponseWriter, r *http.Request) {
	var req SeedRatesRequest
	if !h.decode(w, r, &req) {
		return
	}
	seed, err := req.toSeed()
	if err != nil {
		h.writeError(w, "Invalid rate seed", err)
		return
	}
	n, err := h.Inventory.SeedRateCodes(r.Context(), seed)
	if err != nil {
		h.writeError(w, "Failed to seed rates", err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"rate_code": seed.Code,
		"room_type": seed.RoomType,
		"range":     seed.Range.String(),
		"nights":    n,
		"user":      callerOf(r),
	}).Info("rate code seeded")
	writeJSON(w, http.StatusOK, SeedRatesResponse{RateCode: seed.Code, RoomType: string(seed.RoomType), Nights: n})
}

// Populate backfills buckets inline (run_now) or in the background.
// POST /api/inventory/populate
func (h *Handler) Populate(w http.ResponseWriter, r *http.Request) {
	var req population.Request
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.Population.Populate(r.Context(), req, callerOf(r))
	if err != nil {
		h.writeError(w, "Failed to populate inventory", err)
		return
	}
	status := http.StatusOK
	if resp.Enqueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// GetJob returns a background job.
// GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.Jobs.Get(id)
	if !ok {
		h.writeError(w, "Job not found", &hotel.NotFoundError{Kind: "job", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// =============================================================================
// NIGHT AUDIT
// =============================================================================

// GetBusinessDate returns the business date and its version.
// GET /api/audit/business-date
func (h *Handler) GetBusinessDate(w http.ResponseWriter, r *http.Request) {
	bd, err := h.Audit.BusinessDate(r.Context())
	if err != nil {
		h.writeError(w, "Failed to read business date", err)
		return
	}
	writeJSON(w, http.StatusOK, BusinessDateDTO{
		PropertyID:   h.PropertyID,
		BusinessDate: bd.Date,
		Version:      bd.Version,
		EngineState:  string(h.Audit.State()),
	})
}

// SetBusinessDate writes the business date if expected_version still matches.
// PUT /api/audit/business-date
func (h *Handler) SetBusinessDate(w http.ResponseWriter, r *http.Request) {
	var req SetBusinessDateRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, _ := hotel.ParseDate(req.BusinessDate)
	bd, err := h.Audit.SetBusinessDate(r.Context(), req.ExpectedVersion, d)
	if err != nil {
		h.writeError(w, "Failed to set business date", err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"business_date": bd.Date.String(),
		"version":       bd.Version,
		"caller":        callerOf(r),
	}).Info("business date set")
	writeJSON(w, http.StatusOK, BusinessDateDTO{
		PropertyID:   h.PropertyID,
		BusinessDate: bd.Date,
		Version:      bd.Version,
		EngineState:  string(h.Audit.State()),
	})
}

// AuditCandidates previews what the audit would charge. Read-only.
// GET /api/audit/candidates?date=2025-10-02
func (h *Handler) AuditCandidates(w http.ResponseWriter, r *http.Request) {
	var date hotel.Date
	if v := r.URL.Query().Get("date"); v != "" {
		var err error
		if date, err = queryDate(v, "date"); err != nil {
			h.writeError(w, "Invalid date", err)
			return
		}
	}
	cs, err := h.Audit.Preview(r.Context(), date)
	if err != nil {
		h.writeError(w, "Failed to list audit candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// RunAudit runs the night audit now. A run with failed charges still
// returns 200 with status "partial" and the failed invoices listed.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Audit.Run(r.Context(), "manual:"+callerOf(r))
	if err != nil && report.Status != audit.RunPartial {
		h.writeError(w, "Night audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListAuditRuns returns recent runs, newest first.
// GET /api/audit/runs?limit=20
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, "Invalid limit", &hotel.ValidationError{Field: "limit", Value: v, Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := h.Audit.Runs(r.Context(), limit)
	if err != nil {
		h.writeError(w, "Failed to list audit runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it writes
// the error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, "Invalid request body", &hotel.ValidationError{Field: "body", Reason: err.Error()})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, "Invalid request", validationError(err))
		return false
	}
	return true
}

func queryDate(v, field string) (hotel.Date, error) {
	if v == "" {
		return hotel.Date{}, &hotel.ValidationError{Field: field, Reason: "is required"}
	}
	d, err := hotel.ParseDate(v)
	if err != nil {
		return hotel.Date{}, &hotel.ValidationError{Field: field, Value: v, Reason: "is not a date"}
	}
	return d, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, hotel.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, hotel.ErrInvalidTransitionCode):
		return http.StatusBadRequest, "invalid_transition_code"
	case errors.Is(err, hotel.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, hotel.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, hotel.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, hotel.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, hotel.ErrConfig):
		return http.StatusConflict, "config"
	case errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Error(message)
	}
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
