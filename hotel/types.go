/*
Package hotel provides the domain kernel shared by the property engine.

PURPOSE:
  Calendar dates keyed as YYYYMMDD, inclusive date ranges and their window
  partitioning, identifiers, and the error taxonomy. Every other package
  (inventory, reservation, population, audit) builds on these types.

KEY CONCEPTS:
  - Date: a calendar day; Int() is the storage key (20250901)
  - DateRange: inclusive [Start, End], split into backfill windows
  - Subscriber: identity that receives progress events for a job

SEE ALSO:
  - errors.go: Sentinel and structured errors
  - inventory/ledger.go: Apply/Release protocol
*/
package hotel

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ReservationID string
type RoomType string
type InvoiceID string
type FolioWindowID string

// Subscriber identifies the session that should receive progress events.
// The empty Subscriber means broadcast.
type Subscriber string

// DefaultPropertyID is used when a deployment manages a single property.
const DefaultPropertyID = "default"
