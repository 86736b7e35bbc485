/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Room type validation
- Reservation lifecycle and inventory movement through the API
- Error status mapping
- Synchronous and background population
- Business date compare-and-swap and the night audit
- Dashboard and the SSE progress stream
*/
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/jobs"
	"github.com/darwishdev/abc-hotels/lock"
	"github.com/darwishdev/abc-hotels/population"
	"github.com/darwishdev/abc-hotels/progress"
	"github.com/darwishdev/abc-hotels/reservation"
	"github.com/darwishdev/abc-hotels/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	*httptest.Server
	store *sqlite.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hub := progress.NewHub()
	pub := progress.NewPublisher(hub, 256, logger)
	t.Cleanup(pub.Close)

	scheduler := jobs.NewScheduler(1, 8, logger)
	locker := lock.NewLocal()
	ledger := inventory.NewLedger(store, logger)
	pop := population.NewService(
		population.NewOrchestrator(store, pub, logger),
		pub, locker, scheduler,
		population.Options{PropertyID: "HQ", NamePrefix: "INVE-"},
		logger,
	)
	scheduler.Register(population.TaskName, pop.Handler())
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	h := NewHandler(Deps{
		Inventory:    store,
		Reservations: reservation.NewLifecycle(store, ledger, logger),
		Population:   pop,
		Jobs:         scheduler,
		Audit:        audit.NewEngine(store, locker, audit.Options{PropertyID: "HQ"}, logger),
		Hub:          hub,
		PropertyID:   "HQ",
		Logger:       logger,
	})
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

// do sends a JSON request as alice and decodes the response into out (if non-nil).
func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(UserHeader, "alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// withDeluxe registers Deluxe (5 units) and populates October 2025.
func (s *testServer) withDeluxe(t *testing.T) {
	t.Helper()
	status := s.do(t, http.MethodPost, "/api/room-types", CreateRoomTypeRequest{Name: "Deluxe", TotalUnits: 5}, nil)
	require.Equal(t, http.StatusCreated, status)

	var resp population.Response
	status = s.do(t, http.MethodPost, "/api/inventory/populate", population.Request{
		StartDate: "2025-10-01", EndDate: "2025-10-31", RunNow: true,
	}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.Created)
	require.Equal(t, 31, *resp.Created)
}

func (s *testServer) available(t *testing.T, date string) int {
	t.Helper()
	var views []inventory.BucketView
	status := s.do(t, http.MethodGet, "/api/inventory?room_type=Deluxe&start="+date+"&end="+date, nil, &views)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, views, 1)
	return views[0].Available
}

func (s *testServer) reservation(t *testing.T, id, in, out string, rate string) {
	t.Helper()
	body := map[string]any{
		"id": id, "customer": "ACME", "room_type": "Deluxe",
		"check_in": in, "check_out": out, "rooms": 1, "nightly_rate": rate,
	}
	var dto ReservationDTO
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/reservations", body, &dto))
	require.Equal(t, "draft", dto.Status)
}

// =============================================================================
// ROOM TYPES
// =============================================================================

func TestRoomTypes_CreateAndList(t *testing.T) {
	s := newTestServer(t)

	status := s.do(t, http.MethodPost, "/api/room-types", CreateRoomTypeRequest{Name: "Suite", TotalUnits: 3, OutOfOrderUnits: 1}, nil)
	require.Equal(t, http.StatusCreated, status)

	var list []RoomTypeDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/room-types", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, RoomTypeDTO{Name: "Suite", TotalUnits: 3, OutOfOrderUnits: 1}, list[0])
}

func TestRoomTypes_RejectsMoreOutOfOrderThanTotal(t *testing.T) {
	s := newTestServer(t)

	var errResp ErrorResponse
	status := s.do(t, http.MethodPost, "/api/room-types", CreateRoomTypeRequest{Name: "Suite", TotalUnits: 1, OutOfOrderUnits: 2}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errResp.Code)
	assert.Contains(t, errResp.Details, "out_of_order_units")
	assert.Contains(t, errResp.Details, "total_units")
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestReservations_SubmitAndCancelMoveInventory(t *testing.T) {
	// GIVEN: Deluxe with 5 units and a draft reservation for 2025-10-05..07
	// WHEN: It is submitted twice, cancelled, then submitted again
	// THEN: Available goes 5 -> 4 -> 4 -> 5 and the last submit is rejected

	s := newTestServer(t)
	s.withDeluxe(t)
	s.reservation(t, "RES-1", "2025-10-05", "2025-10-07", "120.00")
	assert.Equal(t, 5, s.available(t, "2025-10-05"))

	var tr TransitionResultDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-1/submit", nil, &tr))
	assert.Equal(t, "submitted", tr.Status)
	assert.Equal(t, 2, tr.RowsTouched)
	assert.Equal(t, -2, tr.TotalDelta)
	assert.Equal(t, 4, s.available(t, "2025-10-05"))
	assert.Equal(t, 4, s.available(t, "2025-10-06"))
	assert.Equal(t, 5, s.available(t, "2025-10-07"), "check-out night is not occupied")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-1/submit", nil, &tr))
	assert.True(t, tr.Duplicate)
	assert.Equal(t, 4, s.available(t, "2025-10-05"))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-1/cancel", nil, &tr))
	assert.Equal(t, "cancelled", tr.Status)
	assert.Equal(t, 2, tr.TotalDelta)
	assert.Equal(t, 5, s.available(t, "2025-10-05"))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/reservations/RES-1/submit", nil, &errResp))
	assert.Equal(t, "invalid_state", errResp.Code)

	var dto ReservationDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/reservations/RES-1", nil, &dto))
	assert.Equal(t, "cancelled", dto.Status)
	assert.Equal(t, 2, dto.DocStatus)
	assert.Equal(t, 2, dto.Nights)
	assert.Equal(t, "alice", dto.CreatedBy)
}

func TestReservations_RawInventoryEdge(t *testing.T) {
	// GIVEN: A draft reservation
	// WHEN: target_state 1 is sent twice, then 7
	// THEN: The first applies, the second is a duplicate, 7 is a client error

	s := newTestServer(t)
	s.withDeluxe(t)
	s.reservation(t, "RES-2", "2025-10-10", "2025-10-11", "90")

	var tr TransitionResultDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-2/inventory", ApplyInventoryRequest{TargetState: 1}, &tr))
	assert.False(t, tr.Duplicate)
	assert.Equal(t, -1, tr.TotalDelta)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-2/inventory", ApplyInventoryRequest{TargetState: 1}, &tr))
	assert.True(t, tr.Duplicate)
	assert.Equal(t, 4, s.available(t, "2025-10-10"))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/reservations/RES-2/inventory", ApplyInventoryRequest{TargetState: 7}, &errResp))
	assert.Equal(t, "invalid_transition_code", errResp.Code)
}

func TestReservations_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	s.withDeluxe(t)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/reservations/NOPE", nil, &errResp))
	assert.Equal(t, "not_found", errResp.Code)

	bad := map[string]any{"room_type": "Deluxe", "check_in": "2025-10-05", "check_out": "tomorrow", "rooms": 1}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/reservations", bad, &errResp))
	assert.Contains(t, errResp.Details, "check_out")

	noRooms := map[string]any{"room_type": "Deluxe", "check_in": "2025-10-05", "check_out": "2025-10-06"}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/reservations", noRooms, &errResp))
	assert.Contains(t, errResp.Details, "rooms")

	s.reservation(t, "RES-3", "2025-10-05", "2025-10-06", "100")
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/reservations/RES-3/check-in", nil, &errResp),
		"draft reservations cannot check in")
}

// =============================================================================
// POPULATION
// =============================================================================

func TestPopulate_SecondRunCreatesNothing(t *testing.T) {
	s := newTestServer(t)
	s.withDeluxe(t)

	var resp population.Response
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/inventory/populate", population.Request{
		StartDate: "2025-10-01", EndDate: "2025-10-31", RunNow: true,
	}, &resp))
	require.NotNil(t, resp.Created)
	assert.Equal(t, 0, *resp.Created)
	assert.Equal(t, 0, resp.Failed)
}

func TestPopulate_BackgroundJob(t *testing.T) {
	// GIVEN: A room type and no buckets
	// WHEN: A population is requested without run_now
	// THEN: 202 with a job id, and the job eventually succeeds and creates the buckets

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/room-types", CreateRoomTypeRequest{Name: "Deluxe", TotalUnits: 5}, nil))

	var resp population.Response
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/inventory/populate", population.Request{
		StartDate: "2025-11-01", EndDate: "2025-11-20",
	}, &resp))
	require.True(t, resp.Enqueued)
	require.NotEmpty(t, resp.JobID)

	require.Eventually(t, func() bool {
		var job jobs.Job
		s.do(t, http.MethodGet, "/api/jobs/"+resp.JobID, nil, &job)
		return job.Status == jobs.StatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 5, s.available(t, "2025-11-20"))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/jobs/missing", nil, &errResp))
}

func TestPopulate_RejectsInvertedRange(t *testing.T) {
	s := newTestServer(t)

	var errResp ErrorResponse
	status := s.do(t, http.MethodPost, "/api/inventory/populate", population.Request{
		StartDate: "2025-10-10", EndDate: "2025-10-01", RunNow: true,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", errResp.Code)
}

// =============================================================================
// NIGHT AUDIT
// =============================================================================

func TestAudit_BusinessDateAndRun(t *testing.T) {
	// GIVEN: A checked-in stay 2025-10-01..04 at 100/night
	// WHEN: The audit runs before and after the business date is configured
	// THEN: 409 without a date; afterwards the invoice gets one line and the date advances

	s := newTestServer(t)
	s.withDeluxe(t)
	s.reservation(t, "RES-A", "2025-10-01", "2025-10-04", "100")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-A/submit", nil, nil))

	var folio FolioWindowDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-A/check-in", nil, &folio))
	assert.Equal(t, "2025-10-03", folio.End.String())

	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/audit/run", nil, &errResp))
	assert.Equal(t, "config", errResp.Code)

	var bd BusinessDateDTO
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/audit/business-date", nil, &bd))
	assert.True(t, bd.BusinessDate.IsZero())
	assert.Equal(t, int64(0), bd.Version)
	assert.Equal(t, "idle", bd.EngineState)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/audit/business-date",
		SetBusinessDateRequest{BusinessDate: "2025-10-02", ExpectedVersion: 0}, &bd))
	assert.Equal(t, int64(1), bd.Version)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPut, "/api/audit/business-date",
		SetBusinessDateRequest{BusinessDate: "2025-10-09", ExpectedVersion: 0}, &errResp))
	assert.Equal(t, "version_conflict", errResp.Code)

	var candidates []audit.Candidate
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/audit/candidates", nil, &candidates))
	require.Len(t, candidates, 1)
	assert.Equal(t, folio.InvoiceID, string(candidates[0].InvoiceID))

	var report audit.Report
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/audit/run", nil, &report))
	assert.Equal(t, audit.RunCompleted, report.Status)
	assert.Equal(t, []string{folio.InvoiceID}, report.Posted)
	assert.Equal(t, "2025-10-03", report.NextBusinessDate.String())

	var runs []audit.Run
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/audit/runs?limit=5", nil, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "manual:alice", runs[0].Trigger)

	inv, err := s.store.GetInvoice(context.Background(), reservation.InvoiceID("RES-A"))
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, "2025-10-02", inv.Lines[0].ForDate.String())
}

func TestAudit_RejectsBadLimit(t *testing.T) {
	s := newTestServer(t)
	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/audit/runs?limit=-1", nil, &errResp))
}

// =============================================================================
// DASHBOARD AND EVENTS
// =============================================================================

func TestDashboard_ReflectsSubmittedStay(t *testing.T) {
	s := newTestServer(t)
	s.withDeluxe(t)
	s.reservation(t, "RES-D", "2025-10-05", "2025-10-06", "150")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-D/submit", nil, nil))

	var d inventory.Dashboard
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/inventory/dashboard?date=2025-10-05", nil, &d))
	assert.Equal(t, 5, d.TotalUnits)
	assert.Equal(t, 1, d.Occupied)
	assert.Equal(t, 4, d.Available)
	assert.Equal(t, 20.0, d.OccupancyPercent)
	assert.Equal(t, 1, d.Arrivals)
	assert.Equal(t, "150", d.ADR.String())
}

func TestRates_SeedListAndADR(t *testing.T) {
	// GIVEN: Deluxe populated for October, a 150 stay submitted on the 5th
	// WHEN: BAR is priced 100 and CORP 80 on the 5th to the 6th
	// THEN: Rates list per night and code, and the dashboard ADR is their mean

	s := newTestServer(t)
	s.withDeluxe(t)
	s.reservation(t, "RES-R", "2025-10-05", "2025-10-06", "150")
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/reservations/RES-R/submit", nil, nil))

	for code, price := range map[string]string{"BAR": "100", "CORP": "80"} {
		var resp SeedRatesResponse
		status := s.do(t, http.MethodPost, "/api/inventory/rates", map[string]any{
			"rate_code": code, "room_type": "Deluxe",
			"start_date": "2025-10-05", "end_date": "2025-10-06", "rate_price": price,
		}, &resp)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 2, resp.Nights)
	}

	var rates []inventory.RateCode
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/inventory/rates?room_type=Deluxe&start=2025-10-05&end=2025-10-06", nil, &rates))
	require.Len(t, rates, 4)
	assert.Equal(t, "BAR", rates[0].Code)
	assert.Equal(t, "CORP", rates[1].Code)
	assert.Equal(t, "2025-10-06", rates[2].ForDate.String())

	var d inventory.Dashboard
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/inventory/dashboard?date=2025-10-05", nil, &d))
	assert.Equal(t, "90", d.ADR.String())
}

func TestRates_RejectsBadSeed(t *testing.T) {
	s := newTestServer(t)
	s.withDeluxe(t)

	cases := map[string]map[string]any{
		"missing code":   {"room_type": "Deluxe", "start_date": "2025-10-01", "end_date": "2025-10-02", "rate_price": "10"},
		"inverted range": {"rate_code": "BAR", "room_type": "Deluxe", "start_date": "2025-10-09", "end_date": "2025-10-02", "rate_price": "10"},
		"negative price": {"rate_code": "BAR", "room_type": "Deluxe", "start_date": "2025-10-01", "end_date": "2025-10-02", "rate_price": "-1"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/inventory/rates", body, nil))
		})
	}
}

func TestEvents_StreamsPopulationProgress(t *testing.T) {
	// GIVEN: alice listening on the event stream
	// WHEN: alice runs a population
	// THEN: She receives progress events and a final jobDone

	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/room-types", CreateRoomTypeRequest{Name: "Deluxe", TotalUnits: 5}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/api/events?subscriber=alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	require.True(t, strings.HasPrefix(lines.Text(), ": subscribed alice"))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/inventory/populate", population.Request{
		StartDate: "2025-10-01", EndDate: "2025-10-10", RunNow: true, DaysPerWindow: 5,
	}, nil))

	var names []string
	for lines.Scan() {
		line := lines.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
			if name == progress.EventJobDone {
				break
			}
		}
	}
	require.NotEmpty(t, names)
	assert.Equal(t, progress.EventProgress, names[0])
	assert.Equal(t, progress.EventJobDone, names[len(names)-1])
}
