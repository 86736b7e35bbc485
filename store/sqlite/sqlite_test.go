package sqlite

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/lock"
	"github.com/darwishdev/abc-hotels/population"
	"github.com/darwishdev/abc-hotels/progress"
	"github.com/darwishdev/abc-hotels/reservation"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sept(d int) hotel.Date { return hotel.NewDate(2025, time.September, d) }
func oct(d int) hotel.Date  { return hotel.NewDate(2025, time.October, d) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seeded returns a store with Deluxe (5 units) seeded for September 2025.
func seeded(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Deluxe", TotalUnits: 5}))
	require.NoError(t, s.SeedInventoryWindow(ctx, hotel.NewDateRange(sept(1), sept(30)), 7, "INVE-"))
	return s
}

func bucketOn(t *testing.T, s *Store, rt hotel.RoomType, d hotel.Date) inventory.Bucket {
	t.Helper()
	bs, err := s.LoadBuckets(context.Background(), rt, hotel.NewDateRange(d, d))
	require.NoError(t, err)
	require.Len(t, bs, 1)
	return bs[0]
}

// =============================================================================
// SEEDING
// =============================================================================

func TestSeed_CreatesOneBucketPerRoomTypePerNight(t *testing.T) {
	// GIVEN: Two room types, one with out of order units
	// WHEN: Ten nights are seeded
	// THEN: 20 buckets exist, named by prefix, room type and date

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Deluxe", TotalUnits: 5}))
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Suite", TotalUnits: 3, OutOfOrderUnits: 1}))

	r := hotel.NewDateRange(sept(1), sept(10))
	require.NoError(t, s.SeedInventoryWindow(ctx, r, 5, "INVE-"))

	n, err := s.CountInventoryRows(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	suite := bucketOn(t, s, "Suite", sept(3))
	assert.Equal(t, "INVE-Suite-20250903", suite.Name)
	assert.Equal(t, 3, suite.TotalUnits)
	assert.Equal(t, 1, suite.OutOfOrderCount)
	assert.Equal(t, 2, suite.AvailableUnits)
	assert.NoError(t, suite.Validate())
}

func TestSeed_IsIdempotentAndKeepsCounters(t *testing.T) {
	// GIVEN: A seeded month with one occupied night
	// WHEN: The same month is seeded again with a different window size
	// THEN: No rows are added and the occupied bucket is untouched

	s := seeded(t)
	ctx := context.Background()
	b := bucketOn(t, s, "Deluxe", sept(1))
	b.Occupy(2)
	require.NoError(t, s.SaveBucket(ctx, b))

	month := hotel.NewDateRange(sept(1), sept(30))
	before, err := s.CountInventoryRows(ctx, month)
	require.NoError(t, err)

	require.NoError(t, s.SeedInventoryWindow(ctx, month, 30, "OTHER-"))

	after, err := s.CountInventoryRows(ctx, month)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 30, after)

	again := bucketOn(t, s, "Deluxe", sept(1))
	assert.Equal(t, "INVE-Deluxe-20250901", again.Name)
	assert.Equal(t, 2, again.OccupiedCount)
	assert.Equal(t, 3, again.AvailableUnits)
}

func TestSeed_SpansMonthAndYearBoundaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Deluxe", TotalUnits: 1}))

	r := hotel.NewDateRange(hotel.NewDate(2025, time.December, 30), hotel.NewDate(2026, time.January, 2))
	require.NoError(t, s.SeedInventoryWindow(ctx, r, 3, ""))

	bs, err := s.ListBuckets(ctx, r)
	require.NoError(t, err)
	require.Len(t, bs, 4)
	assert.Equal(t, 20251230, bs[0].ForDate.Int())
	assert.Equal(t, 20260102, bs[3].ForDate.Int())
}

func TestSeed_RejectsInvertedRange(t *testing.T) {
	s := newTestStore(t)
	err := s.SeedInventoryWindow(context.Background(), hotel.NewDateRange(sept(10), sept(1)), 5, "")
	assert.ErrorIs(t, err, hotel.ErrValidation)
}

// =============================================================================
// BUCKETS
// =============================================================================

func TestBuckets_CheckConstraintRejectsBrokenConservation(t *testing.T) {
	// GIVEN: A seeded bucket
	// WHEN: A raw update breaks total = occupied + out_of_order + available
	// THEN: The database rejects it

	s := seeded(t)
	_, err := s.db.Exec(`UPDATE inventory_buckets SET available_units = 9 WHERE room_type = 'Deluxe'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHECK constraint failed")

	_, err = s.db.Exec(`UPDATE inventory_buckets SET occupied_count = -1, available_units = 6 WHERE room_type = 'Deluxe'`)
	require.Error(t, err)
}

func TestBuckets_SaveValidatesAndRequiresExistingRow(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	b := bucketOn(t, s, "Deluxe", sept(5))
	b.AvailableUnits = 10
	assert.ErrorIs(t, s.SaveBucket(ctx, b), hotel.ErrInvariantViolation)

	missing := inventory.Bucket{RoomType: "Deluxe", ForDate: oct(1), TotalUnits: 5, AvailableUnits: 5}
	assert.ErrorIs(t, s.SaveBucket(ctx, missing), hotel.ErrNotFound)
}

// =============================================================================
// LEDGER ON SQLITE
// =============================================================================

func TestLedger_DeluxeScenario(t *testing.T) {
	// GIVEN: Deluxe with 5 units on 2025-09-01
	// WHEN: RES-1 applies, applies again, releases, releases again
	// THEN: Available goes 5 -> 4 -> 4 -> 5 -> 5

	s := seeded(t)
	ctx := context.Background()
	ledger := inventory.NewLedger(s, quietLogger())
	occ := inventory.Occupancy{
		ReservationID: "RES-1",
		RoomType:      "Deluxe",
		Stay:          hotel.NewDateRange(sept(1), sept(1)),
		Units:         1,
	}

	res, err := ledger.Apply(ctx, occ)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsTouched)
	assert.Equal(t, -1, res.TotalDelta)
	assert.Equal(t, 4, bucketOn(t, s, "Deluxe", sept(1)).AvailableUnits)

	res, err = ledger.Apply(ctx, occ)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 4, bucketOn(t, s, "Deluxe", sept(1)).AvailableUnits)

	res, err = ledger.Release(ctx, occ)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalDelta)
	assert.Equal(t, 5, bucketOn(t, s, "Deluxe", sept(1)).AvailableUnits)

	res, err = ledger.Release(ctx, occ)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 5, bucketOn(t, s, "Deluxe", sept(1)).AvailableUnits)

	rec, err := s.LoadTransition(ctx, "RES-1", inventory.TransitionApplied)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, inventory.IdempotencyKey("RES-1", inventory.TransitionApplied), rec.IdempotencyKey)
	assert.Equal(t, sept(1), rec.Stay.Start)
}

func TestLedger_ConcurrentAppliesDoNotLoseUpdates(t *testing.T) {
	// GIVEN: Deluxe with 5 units on 2025-09-02
	// WHEN: Five reservations apply one unit each concurrently
	// THEN: The night is fully occupied

	s := seeded(t)
	ctx := context.Background()
	ledger := inventory.NewLedger(s, quietLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Apply(ctx, inventory.Occupancy{
				ReservationID: hotel.ReservationID("RES-" + string(rune('A'+i))),
				RoomType:      "Deluxe",
				Stay:          hotel.NewDateRange(sept(2), sept(2)),
				Units:         1,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b := bucketOn(t, s, "Deluxe", sept(2))
	assert.Equal(t, 5, b.OccupiedCount)
	assert.Equal(t, 0, b.AvailableUnits)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A bucket change and a marker written inside a transaction
	// WHEN: The callback fails
	// THEN: Neither survives

	s := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx inventory.Store) error {
		bs, err := tx.LoadBuckets(ctx, "Deluxe", hotel.NewDateRange(sept(3), sept(3)))
		require.NoError(t, err)
		bs[0].Occupy(3)
		require.NoError(t, tx.SaveBucket(ctx, bs[0]))
		require.NoError(t, tx.RecordTransition(ctx, inventory.TransitionRecord{
			ReservationID:  "RES-X",
			Kind:           inventory.TransitionApplied,
			RoomType:       "Deluxe",
			Stay:           hotel.NewDateRange(sept(3), sept(3)),
			IdempotencyKey: inventory.IdempotencyKey("RES-X", inventory.TransitionApplied),
			RecordedAt:     time.Now(),
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 5, bucketOn(t, s, "Deluxe", sept(3)).AvailableUnits)
	rec, err := s.LoadTransition(ctx, "RES-X", inventory.TransitionApplied)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordTransition_Duplicate(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	rec := inventory.TransitionRecord{
		ReservationID:  "RES-1",
		Kind:           inventory.TransitionApplied,
		RoomType:       "Deluxe",
		Stay:           hotel.NewDateRange(sept(1), sept(2)),
		IdempotencyKey: inventory.IdempotencyKey("RES-1", inventory.TransitionApplied),
		RecordedAt:     time.Now(),
	}
	require.NoError(t, s.RecordTransition(ctx, rec))
	assert.ErrorIs(t, s.RecordTransition(ctx, rec), inventory.ErrDuplicateTransition)
}

// =============================================================================
// POPULATION ON SQLITE
// =============================================================================

func TestPopulation_CountsOnlyNewBuckets(t *testing.T) {
	// GIVEN: The first 5 nights of a 10 night range already seeded
	// WHEN: The orchestrator runs over the whole range
	// THEN: Only the 5 missing buckets are counted as created

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Deluxe", TotalUnits: 5}))
	require.NoError(t, s.SeedInventoryWindow(ctx, hotel.NewDateRange(sept(1), sept(5)), 5, "INVE-"))

	rec := &progress.Recorder{}
	pub := progress.NewPublisher(rec, 64, quietLogger())
	orch := population.NewOrchestrator(s, pub, quietLogger())

	sum, err := orch.Run(ctx, population.Job{
		Range:         hotel.NewDateRange(sept(1), sept(10)),
		DaysPerWindow: 3,
		NamePrefix:    "INVE-",
		Subscriber:    "alice",
	})
	pub.Close()
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Windows)
	assert.Equal(t, 5, sum.Created)
	assert.Equal(t, 0, sum.Failed)
	assert.NotEmpty(t, rec.Percents())
}

// =============================================================================
// RESERVATIONS AND NIGHT AUDIT ON SQLITE
// =============================================================================

type auditFixture struct {
	store     *Store
	lifecycle *reservation.Lifecycle
	engine    *audit.Engine
}

func newAuditFixture(t *testing.T) auditFixture {
	t.Helper()
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddRoomType(ctx, inventory.RoomTypeCapacity{Name: "Deluxe", TotalUnits: 5}))
	require.NoError(t, s.SeedInventoryWindow(ctx, hotel.NewDateRange(oct(1), oct(31)), 7, "INVE-"))
	ledger := inventory.NewLedger(s, quietLogger())
	return auditFixture{
		store:     s,
		lifecycle: reservation.NewLifecycle(s, ledger, quietLogger()),
		engine:    audit.NewEngine(s, lock.NewLocal(), audit.Options{PropertyID: "HQ"}, quietLogger()),
	}
}

func (f auditFixture) checkedIn(t *testing.T, id hotel.ReservationID, in, out hotel.Date, rate int64) reservation.FolioWindow {
	t.Helper()
	ctx := context.Background()
	_, err := f.lifecycle.Create(ctx, reservation.Reservation{
		ID:          id,
		Customer:    "ACME",
		RoomType:    "Deluxe",
		CheckIn:     in,
		CheckOut:    out,
		Rooms:       1,
		NightlyRate: decimal.NewFromInt(rate),
	}, "alice")
	require.NoError(t, err)
	_, err = f.lifecycle.Submit(ctx, id)
	require.NoError(t, err)
	folio, err := f.lifecycle.CheckIn(ctx, id)
	require.NoError(t, err)
	return folio
}

func TestReservation_RoundTripAndStatusGuard(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	created, err := f.lifecycle.Create(ctx, reservation.Reservation{
		ID:          "RES-9",
		Customer:    "ACME",
		RoomType:    "Deluxe",
		CheckIn:     oct(1),
		CheckOut:    oct(4),
		Rooms:       2,
		NightlyRate: decimal.RequireFromString("120.50"),
	}, "alice")
	require.NoError(t, err)

	got, err := f.store.GetReservation(ctx, "RES-9")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, oct(1), got.CheckIn)
	assert.Equal(t, oct(4), got.CheckOut)
	assert.True(t, got.NightlyRate.Equal(decimal.RequireFromString("120.5")))
	assert.Equal(t, reservation.StatusDraft, got.Status)
	assert.Equal(t, "alice", got.CreatedBy)

	err = f.store.UpdateStatus(ctx, "RES-9", reservation.StatusSubmitted, reservation.StatusCancelled)
	assert.ErrorIs(t, err, hotel.ErrInvalidState)

	_, err = f.store.GetReservation(ctx, "NOPE")
	assert.ErrorIs(t, err, hotel.ErrNotFound)
}

func TestReservation_SubmitCancelMovesInventory(t *testing.T) {
	// GIVEN: A draft reservation of 2 rooms for 2025-10-01..03 (check-out 04)
	// WHEN: It is submitted, then cancelled
	// THEN: The three nights drop to 3 available and return to 5

	f := newAuditFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.Create(ctx, reservation.Reservation{
		ID: "RES-2", RoomType: "Deluxe", CheckIn: oct(1), CheckOut: oct(4), Rooms: 2,
		NightlyRate: decimal.NewFromInt(100),
	}, "alice")
	require.NoError(t, err)

	res, err := f.lifecycle.Submit(ctx, "RES-2")
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsTouched)
	for _, d := range []hotel.Date{oct(1), oct(2), oct(3)} {
		assert.Equal(t, 3, bucketOn(t, f.store, "Deluxe", d).AvailableUnits, d.String())
	}
	assert.Equal(t, 5, bucketOn(t, f.store, "Deluxe", oct(4)).AvailableUnits, "check-out night is free")

	_, err = f.lifecycle.Cancel(ctx, "RES-2")
	require.NoError(t, err)
	for _, d := range []hotel.Date{oct(1), oct(2), oct(3)} {
		assert.Equal(t, 5, bucketOn(t, f.store, "Deluxe", d).AvailableUnits, d.String())
	}
}

func TestCheckIn_OpensFolioAndInvoiceOnce(t *testing.T) {
	f := newAuditFixture(t)
	ctx := context.Background()

	folio := f.checkedIn(t, "RES-1", oct(1), oct(4), 150)
	assert.Equal(t, hotel.FolioWindowID("f-RES-1"), folio.ID)
	assert.Equal(t, hotel.InvoiceID("RES-1-f-RES-1"), folio.InvoiceID)
	assert.Equal(t, hotel.NewDateRange(oct(1), oct(3)), folio.Stay)

	again, err := f.lifecycle.CheckIn(ctx, "RES-1")
	require.NoError(t, err)
	assert.Equal(t, folio.ID, again.ID)

	r, err := f.store.GetReservation(ctx, "RES-1")
	require.NoError(t, err)
	assert.True(t, r.CheckedIn)

	inv, err := f.store.GetInvoice(ctx, folio.InvoiceID)
	require.NoError(t, err)
	assert.Empty(t, inv.Lines)
	assert.True(t, inv.Total.IsZero())
}

func TestBusinessDate_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bd, err := s.GetBusinessDate(ctx, "HQ")
	require.NoError(t, err)
	assert.False(t, bd.IsSet())

	bd, err = s.SetBusinessDate(ctx, "HQ", 0, oct(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), bd.Version)

	_, err = s.SetBusinessDate(ctx, "HQ", 0, oct(5))
	assert.ErrorIs(t, err, hotel.ErrVersionConflict, "initial write cannot happen twice")

	bd, err = s.SetBusinessDate(ctx, "HQ", 1, oct(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), bd.Version)

	_, err = s.SetBusinessDate(ctx, "HQ", 1, oct(3))
	assert.ErrorIs(t, err, hotel.ErrVersionConflict)

	got, err := s.GetBusinessDate(ctx, "HQ")
	require.NoError(t, err)
	assert.Equal(t, oct(2), got.Date)
	assert.Equal(t, int64(2), got.Version)
}

func TestNightAudit_PostsAdvancesAndIsIdempotent(t *testing.T) {
	// GIVEN: Two checked-in stays covering 2025-10-02 and one that ended on the 1st
	// WHEN: The audit runs for the 2nd, the date is rewound, and it runs again
	// THEN: Each covering invoice gets exactly one nightly line and the date moves to the 3rd

	f := newAuditFixture(t)
	ctx := context.Background()
	a := f.checkedIn(t, "RES-A", oct(1), oct(4), 100)
	b := f.checkedIn(t, "RES-B", oct(2), oct(3), 250)
	gone := f.checkedIn(t, "RES-C", oct(1), oct(2), 80)

	bd, err := f.engine.SetBusinessDate(ctx, 0, oct(2))
	require.NoError(t, err)

	preview, err := f.engine.Preview(ctx, hotel.Date{})
	require.NoError(t, err)
	assert.Len(t, preview, 2)

	report, err := f.engine.Run(ctx, "manual")
	require.NoError(t, err)
	assert.Equal(t, audit.RunCompleted, report.Status)
	assert.ElementsMatch(t, []string{string(a.InvoiceID), string(b.InvoiceID)}, report.Posted)
	assert.Equal(t, oct(3), report.NextBusinessDate)

	invA, err := f.store.GetInvoice(ctx, a.InvoiceID)
	require.NoError(t, err)
	require.Len(t, invA.Lines, 1)
	assert.Equal(t, audit.NightlyItemCode, invA.Lines[0].ItemCode)
	assert.Equal(t, oct(2), invA.Lines[0].ForDate)
	assert.True(t, invA.Total.Equal(decimal.NewFromInt(100)))

	invC, err := f.store.GetInvoice(ctx, gone.InvoiceID)
	require.NoError(t, err)
	assert.Empty(t, invC.Lines, "stay ended before the business date")

	// Rewind and rerun: nothing is posted twice.
	bd, err = f.store.GetBusinessDate(ctx, "HQ")
	require.NoError(t, err)
	_, err = f.engine.SetBusinessDate(ctx, bd.Version, oct(2))
	require.NoError(t, err)

	report, err = f.engine.Run(ctx, "manual")
	require.NoError(t, err)
	assert.Empty(t, report.Posted)
	assert.Len(t, report.Skipped, 2)

	invB, err := f.store.GetInvoice(ctx, b.InvoiceID)
	require.NoError(t, err)
	assert.Len(t, invB.Lines, 1)
	assert.True(t, invB.Total.Equal(decimal.NewFromInt(250)))

	runs, err := f.engine.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, report.RunID, runs[0].ID, "newest first")
	assert.Equal(t, audit.RunCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Skipped)
	assert.Equal(t, oct(3), runs[0].NextBusinessDate)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestNightAudit_UniqueIndexGuardsNightlyLines(t *testing.T) {
	// GIVEN: An invoice that already has the nightly line for 2025-10-01
	// WHEN: A second nightly line for the same folio window and date is forced in
	// THEN: The store refuses it and the invoice is unchanged

	f := newAuditFixture(t)
	ctx := context.Background()
	folio := f.checkedIn(t, "RES-A", oct(1), oct(3), 100)

	require.NoError(t, f.store.WithInvoice(ctx, folio.InvoiceID, func(inv *audit.Invoice) error {
		inv.AppendNightlyLine(folio.ID, oct(1), decimal.NewFromInt(100))
		return nil
	}))

	err := f.store.WithInvoice(ctx, folio.InvoiceID, func(inv *audit.Invoice) error {
		inv.Lines = append(inv.Lines, audit.Line{
			ID: "forced", ItemCode: audit.NightlyItemCode, FolioWindowID: folio.ID, ForDate: oct(1),
			Qty: decimal.NewFromInt(1), Rate: decimal.NewFromInt(100), Amount: decimal.NewFromInt(100),
		})
		inv.Recompute()
		return nil
	})
	require.Error(t, err)

	inv, err := f.store.GetInvoice(ctx, folio.InvoiceID)
	require.NoError(t, err)
	assert.Len(t, inv.Lines, 1)
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(100)))
}

func TestDashboard_Totals(t *testing.T) {
	// GIVEN: 5 Deluxe units, one 2-room stay in house on 2025-10-02 at 100 and
	//        one 1-room stay arriving that day at 200
	// WHEN: The dashboard for the 2nd is read
	// THEN: 3 occupied of 5, 60%, one arrival, two in house, ADR 400/3

	f := newAuditFixture(t)
	ctx := context.Background()
	for _, r := range []reservation.Reservation{
		{ID: "RES-1", RoomType: "Deluxe", CheckIn: oct(1), CheckOut: oct(3), Rooms: 2, NightlyRate: decimal.NewFromInt(100)},
		{ID: "RES-2", RoomType: "Deluxe", CheckIn: oct(2), CheckOut: oct(5), Rooms: 1, NightlyRate: decimal.NewFromInt(200)},
	} {
		_, err := f.lifecycle.Create(ctx, r, "alice")
		require.NoError(t, err)
		_, err = f.lifecycle.Submit(ctx, r.ID)
		require.NoError(t, err)
	}

	d, err := f.store.Dashboard(ctx, oct(2))
	require.NoError(t, err)
	assert.Equal(t, 5, d.TotalUnits)
	assert.Equal(t, 3, d.Occupied)
	assert.Equal(t, 2, d.Available)
	assert.Equal(t, 60.0, d.OccupancyPercent)
	assert.Equal(t, 1, d.Arrivals)
	assert.Equal(t, 0, d.Departures)
	assert.Equal(t, 2, d.InHouse)
	assert.True(t, d.ADR.Equal(decimal.RequireFromString("133.33")), d.ADR.String())
	assert.Len(t, d.RoomTypes, 1)
}

func TestRateCodes_SeedOnlyExistingBuckets(t *testing.T) {
	// GIVEN: Deluxe buckets for October only
	// WHEN: BAR is priced from September 29 to October 2, then repriced
	// THEN: Only the two October nights carry it, at the latest price

	f := newAuditFixture(t)
	ctx := context.Background()
	seed := inventory.RateSeed{Code: "BAR", RoomType: "Deluxe", Range: hotel.NewDateRange(hotel.NewDate(2025, time.September, 29), oct(2)), Price: decimal.NewFromInt(120)}

	n, err := f.store.SeedRateCodes(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seed.Price = decimal.RequireFromString("99.50")
	_, err = f.store.SeedRateCodes(ctx, seed)
	require.NoError(t, err)

	rates, err := f.store.ListRates(ctx, "", hotel.NewDateRange(hotel.NewDate(2025, time.September, 1), oct(31)))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.True(t, rates[0].ForDate.Equal(oct(1)))
	assert.True(t, rates[1].Price.Equal(decimal.RequireFromString("99.5")))

	other, err := f.store.ListRates(ctx, "Suite", hotel.NewDateRange(oct(1), oct(31)))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDashboard_ADRFromRateCodes(t *testing.T) {
	// GIVEN: A 2-room stay at 100 in house on 2025-10-02, and two rate codes
	//        priced 150 and 175.55 that night
	// WHEN: The dashboard for the 2nd is read
	// THEN: ADR is the mean rate code price, not the reservation rate

	f := newAuditFixture(t)
	ctx := context.Background()
	r := reservation.Reservation{ID: "RES-1", RoomType: "Deluxe", CheckIn: oct(1), CheckOut: oct(3), Rooms: 2, NightlyRate: decimal.NewFromInt(100)}
	_, err := f.lifecycle.Create(ctx, r, "alice")
	require.NoError(t, err)
	_, err = f.lifecycle.Submit(ctx, r.ID)
	require.NoError(t, err)

	for code, price := range map[string]string{"BAR": "150", "RACK": "175.55"} {
		_, err := f.store.SeedRateCodes(ctx, inventory.RateSeed{Code: code, RoomType: "Deluxe", Range: hotel.NewDateRange(oct(2), oct(2)), Price: decimal.RequireFromString(price)})
		require.NoError(t, err)
	}

	d, err := f.store.Dashboard(ctx, oct(2))
	require.NoError(t, err)
	assert.True(t, d.ADR.Equal(decimal.RequireFromString("162.78")), d.ADR.String())

	d, err = f.store.Dashboard(ctx, oct(1))
	require.NoError(t, err)
	assert.True(t, d.ADR.Equal(decimal.NewFromInt(100)), d.ADR.String())
}
