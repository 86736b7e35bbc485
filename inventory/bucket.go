package inventory

import (
	"fmt"

	"github.com/darwishdev/abc-hotels/hotel"
)

// =============================================================================
// BUCKET - Per room type, per night counters
// =============================================================================

// Bucket holds the unit counts for one room type on one night.
//
// INVARIANT: TotalUnits == OccupiedCount + OutOfOrderCount + AvailableUnits,
// all counts non-negative. TotalUnits, OccupiedCount and OutOfOrderCount are the
// source of truth; AvailableUnits is kept in step by Occupy/Vacate and checked
// by Validate before every write.
type Bucket struct {
	Name            string
	RoomType        hotel.RoomType
	ForDate         hotel.Date
	TotalUnits      int
	OccupiedCount   int
	OutOfOrderCount int
	AvailableUnits  int
}

// RoomTypeCapacity is the seeding source for a room type.
type RoomTypeCapacity struct {
	Name            hotel.RoomType
	TotalUnits      int
	OutOfOrderUnits int
}

// BucketName builds the record name used by seeding, e.g. "INVE-Deluxe-20250901".
func BucketName(prefix string, roomType hotel.RoomType, d hotel.Date) string {
	return fmt.Sprintf("%s%s-%d", prefix, roomType, d.Int())
}

// NewBucket creates an unoccupied bucket for a seeded night.
func NewBucket(prefix string, rt RoomTypeCapacity, d hotel.Date) Bucket {
	ooo := rt.OutOfOrderUnits
	if ooo > rt.TotalUnits {
		ooo = rt.TotalUnits
	}
	if ooo < 0 {
		ooo = 0
	}
	return Bucket{
		Name:            BucketName(prefix, rt.Name, d),
		RoomType:        rt.Name,
		ForDate:         d,
		TotalUnits:      rt.TotalUnits,
		OutOfOrderCount: ooo,
		AvailableUnits:  rt.TotalUnits - ooo,
	}
}

// Validate checks the conservation invariant.
func (b Bucket) Validate() error {
	if b.TotalUnits < 0 || b.OccupiedCount < 0 || b.OutOfOrderCount < 0 || b.AvailableUnits < 0 ||
		b.TotalUnits != b.OccupiedCount+b.OutOfOrderCount+b.AvailableUnits {
		return &hotel.InvariantError{
			RoomType:   string(b.RoomType),
			ForDate:    b.ForDate,
			Total:      b.TotalUnits,
			Occupied:   b.OccupiedCount,
			OutOfOrder: b.OutOfOrderCount,
			Available:  b.AvailableUnits,
		}
	}
	return nil
}

// Occupy moves up to n units from available to occupied and returns how many moved.
// Never drives AvailableUnits below zero.
func (b *Bucket) Occupy(n int) int {
	take := min(n, b.AvailableUnits)
	if take <= 0 {
		return 0
	}
	b.OccupiedCount += take
	b.AvailableUnits -= take
	return take
}

// Vacate moves up to n units from occupied back to available and returns how many moved.
func (b *Bucket) Vacate(n int) int {
	give := min(n, b.OccupiedCount)
	if give <= 0 {
		return 0
	}
	b.OccupiedCount -= give
	b.AvailableUnits += give
	return give
}
