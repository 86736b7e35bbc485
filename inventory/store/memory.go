// Package store provides an in-memory inventory store for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	roomTypes   map[hotel.RoomType]inventory.RoomTypeCapacity
	buckets     map[bucketKey]inventory.Bucket
	transitions map[transitionKey]inventory.TransitionRecord
	movements   []inventory.Movement

	// seedErr, when set, is returned by SeedInventoryWindow for windows it matches.
	seedErr func(window hotel.DateRange) error
}

type bucketKey struct {
	RoomType hotel.RoomType
	ForDate  int
}

type transitionKey struct {
	ReservationID hotel.ReservationID
	Kind          inventory.Transition
}

func NewMemory() *Memory {
	return &Memory{
		roomTypes:   make(map[hotel.RoomType]inventory.RoomTypeCapacity),
		buckets:     make(map[bucketKey]inventory.Bucket),
		transitions: make(map[transitionKey]inventory.TransitionRecord),
	}
}

// FailSeedingWhen makes SeedInventoryWindow fail for windows where fn returns an error.
func (m *Memory) FailSeedingWhen(fn func(window hotel.DateRange) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seedErr = fn
}

// AddRoomType registers or replaces a seeding source.
func (m *Memory) AddRoomType(_ context.Context, rt inventory.RoomTypeCapacity) error {
	if rt.Name == "" {
		return &hotel.ValidationError{Field: "name", Reason: "is required"}
	}
	if rt.TotalUnits < 0 || rt.OutOfOrderUnits < 0 || rt.OutOfOrderUnits > rt.TotalUnits {
		return &hotel.ValidationError{Field: "out_of_order_units", Reason: "must be between 0 and total_units"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomTypes[rt.Name] = rt
	return nil
}

// ListRoomTypes returns room types ordered by name.
func (m *Memory) ListRoomTypes(_ context.Context) ([]inventory.RoomTypeCapacity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.RoomTypeCapacity, 0, len(m.roomTypes))
	for _, rt := range m.roomTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SeedInventoryWindow inserts a bucket per room type per date of window, leaving
// existing buckets untouched. The window is split into chunks of windowSizeDays
// the same way the SQLite seeding procedure does; the result is the same.
func (m *Memory) SeedInventoryWindow(_ context.Context, window hotel.DateRange, windowSizeDays int, namePrefix string) error {
	if err := window.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seedErr != nil {
		if err := m.seedErr(window); err != nil {
			return err
		}
	}
	if windowSizeDays < 1 {
		windowSizeDays = window.Days()
	}
	for _, chunk := range window.Windows(windowSizeDays) {
		for _, d := range chunk.Dates() {
			for _, rt := range m.roomTypes {
				k := bucketKey{RoomType: rt.Name, ForDate: d.Int()}
				if _, ok := m.buckets[k]; ok {
					continue
				}
				m.buckets[k] = inventory.NewBucket(namePrefix, rt, d)
			}
		}
	}
	return nil
}

// CountInventoryRows counts buckets of any room type within window.
func (m *Memory) CountInventoryRows(_ context.Context, window hotel.DateRange) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.buckets {
		if k.ForDate >= window.Start.Int() && k.ForDate <= window.End.Int() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LoadBuckets(_ context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadBucketsLocked(roomType, r), nil
}

func (m *Memory) loadBucketsLocked(roomType hotel.RoomType, r hotel.DateRange) []inventory.Bucket {
	var out []inventory.Bucket
	for _, d := range r.Dates() {
		if b, ok := m.buckets[bucketKey{RoomType: roomType, ForDate: d.Int()}]; ok {
			out = append(out, b)
		}
	}
	return out
}

// ListBuckets returns buckets of every room type in r, ordered by date then room type.
func (m *Memory) ListBuckets(_ context.Context, r hotel.DateRange) ([]inventory.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []inventory.Bucket
	for k, b := range m.buckets {
		if k.ForDate >= r.Start.Int() && k.ForDate <= r.End.Int() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ForDate.Equal(out[j].ForDate) {
			return out[i].ForDate.Before(out[j].ForDate)
		}
		return out[i].RoomType < out[j].RoomType
	})
	return out, nil
}

func (m *Memory) SaveBucket(_ context.Context, b inventory.Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBucketLocked(b)
}

func (m *Memory) saveBucketLocked(b inventory.Bucket) error {
	k := bucketKey{RoomType: b.RoomType, ForDate: b.ForDate.Int()}
	if _, ok := m.buckets[k]; !ok {
		return &hotel.NotFoundError{Kind: "inventory bucket", ID: inventory.BucketName("", b.RoomType, b.ForDate)}
	}
	if err := b.Validate(); err != nil {
		return err
	}
	m.buckets[k] = b
	return nil
}

func (m *Memory) LoadTransition(_ context.Context, id hotel.ReservationID, kind inventory.Transition) (*inventory.TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadTransitionLocked(id, kind), nil
}

func (m *Memory) loadTransitionLocked(id hotel.ReservationID, kind inventory.Transition) *inventory.TransitionRecord {
	rec, ok := m.transitions[transitionKey{ReservationID: id, Kind: kind}]
	if !ok {
		return nil
	}
	return &rec
}

func (m *Memory) RecordTransition(_ context.Context, rec inventory.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordTransitionLocked(rec)
}

func (m *Memory) recordTransitionLocked(rec inventory.TransitionRecord) error {
	k := transitionKey{ReservationID: rec.ReservationID, Kind: rec.Kind}
	if _, ok := m.transitions[k]; ok {
		return inventory.ErrDuplicateTransition
	}
	m.transitions[k] = rec
	return nil
}

func (m *Memory) LoadMovements(_ context.Context, id hotel.ReservationID, kind inventory.Transition) ([]inventory.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadMovementsLocked(id, kind), nil
}

func (m *Memory) loadMovementsLocked(id hotel.ReservationID, kind inventory.Transition) []inventory.Movement {
	var out []inventory.Movement
	for _, mv := range m.movements {
		if mv.ReservationID == id && mv.Kind == kind {
			out = append(out, mv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ForDate.Before(out[j].ForDate) })
	return out
}

// AppendMovements adds movements. Append-only.
func (m *Memory) AppendMovements(_ context.Context, ms []inventory.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements = append(m.movements, ms...)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store mutex is held for the whole callback, so transactions are serial.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	buckets     map[bucketKey]inventory.Bucket
	transitions map[transitionKey]inventory.TransitionRecord
	movements   int
}

func (m *Memory) snapshot() memorySnapshot {
	buckets := make(map[bucketKey]inventory.Bucket, len(m.buckets))
	for k, v := range m.buckets {
		buckets[k] = v
	}
	transitions := make(map[transitionKey]inventory.TransitionRecord, len(m.transitions))
	for k, v := range m.transitions {
		transitions[k] = v
	}
	return memorySnapshot{buckets: buckets, transitions: transitions, movements: len(m.movements)}
}

func (m *Memory) restore(s memorySnapshot) {
	m.buckets = s.buckets
	m.transitions = s.transitions
	m.movements = m.movements[:s.movements]
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Memory
}

func (tv *txView) LoadBuckets(_ context.Context, roomType hotel.RoomType, r hotel.DateRange) ([]inventory.Bucket, error) {
	return tv.parent.loadBucketsLocked(roomType, r), nil
}

func (tv *txView) SaveBucket(_ context.Context, b inventory.Bucket) error {
	return tv.parent.saveBucketLocked(b)
}

func (tv *txView) LoadTransition(_ context.Context, id hotel.ReservationID, kind inventory.Transition) (*inventory.TransitionRecord, error) {
	return tv.parent.loadTransitionLocked(id, kind), nil
}

func (tv *txView) RecordTransition(_ context.Context, rec inventory.TransitionRecord) error {
	return tv.parent.recordTransitionLocked(rec)
}

func (tv *txView) LoadMovements(_ context.Context, id hotel.ReservationID, kind inventory.Transition) ([]inventory.Movement, error) {
	return tv.parent.loadMovementsLocked(id, kind), nil
}

func (tv *txView) AppendMovements(_ context.Context, ms []inventory.Movement) error {
	tv.parent.movements = append(tv.parent.movements, ms...)
	return nil
}

var (
	_ inventory.TxStore = (*Memory)(nil)
	_ inventory.Store   = (*txView)(nil)
)
