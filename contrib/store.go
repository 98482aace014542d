/*
store.go - Persistence interfaces for the contribution engine

PURPOSE:
  Defines the interface between domain logic and the database. Split by
  concern so services depend only on what they use; Store composes them
  for wiring.

KEY INTERFACES:
  EntityStore:       idempotent get-or-create for dimension entities
  RawFileStore:      uploaded artifacts, checksum-deduplicated
  ContributionStore: the append-only fact table
  AllocationStore:   Pod Lead allocation workflow rows

UPSERT CONTRACT:
  GetOrCreate* calls are idempotent and safe under concurrent calls for the
  same natural key; a unique index at the store level is the authoritative
  guard, the read-before-write only an optimization. Employee re-resolution
  is last-write-wins on mutable attributes (name, email, department, pod).

ATOMICITY:
  BulkCreateContributions inserts one upload's records in one transaction:
  partial application is never observable. Allocation updates compare-and-set
  on the Version column.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - contrib/store: in-memory, for tests
*/
package contrib

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTITY STORE - dimension entities + employees
// =============================================================================

// EntityStore resolves dimension entities by natural key, creating them
// lazily on first reference.
type EntityStore interface {
	GetOrCreateDepartment(ctx context.Context, name string) (*Department, error)
	GetOrCreatePod(ctx context.Context, name string, departmentID int64) (*Pod, error)
	GetOrCreateProduct(ctx context.Context, name string) (*Product, error)
	GetOrCreateFeature(ctx context.Context, name string, productID int64, description string) (*Feature, error)

	// UpsertEmployee resolves by employee code; mutable attributes are
	// last-write-wins. Role and baseline hours are preserved on update
	// unless explicitly set on the passed value.
	UpsertEmployee(ctx context.Context, e Employee) (*Employee, error)

	GetDepartment(ctx context.Context, id int64) (*Department, error)
	GetPod(ctx context.Context, id int64) (*Pod, error)
	GetProductByName(ctx context.Context, name string) (*Product, error)
	GetEmployee(ctx context.Context, id int64) (*Employee, error)
	GetEmployeeByCode(ctx context.Context, code string) (*Employee, error)

	// ListEmployeesByPod returns every employee currently assigned to the
	// pod, ordered by name. Used by pod metrics, which must show zero-hour
	// employees too.
	ListEmployeesByPod(ctx context.Context, podID int64) ([]Employee, error)
}

// =============================================================================
// RAW FILE STORE
// =============================================================================

// RawFileStore persists uploaded artifacts. CreateRawFile fails with a
// DuplicateContentError when the checksum is already recorded.
type RawFileStore interface {
	CreateRawFile(ctx context.Context, rf *RawFile) error
	GetRawFile(ctx context.Context, id int64) (*RawFile, error)

	// FindRawFileByChecksum returns nil (not an error) when absent.
	FindRawFileByChecksum(ctx context.Context, checksum string) (*RawFile, error)

	// UpdateParseSummary backfills the parse-summary blob once after parsing.
	UpdateParseSummary(ctx context.Context, id int64, summary map[string]any) error

	ListRawFiles(ctx context.Context) ([]RawFile, error)
}

// =============================================================================
// CONTRIBUTION STORE - the fact table
// =============================================================================

// ContributionStore is append-only per source file: records are created in
// bulk and only ever removed wholesale by a reparse of their source.
type ContributionStore interface {
	// BulkCreateContributions inserts all records atomically, tagged with
	// the source file. Either all succeed or none do.
	BulkCreateContributions(ctx context.Context, recs []ContributionRecord, sourceFileID int64) (int, error)

	// DeleteBySourceFile removes every record tagged with the file;
	// returns the count removed. Only used by reparse.
	DeleteBySourceFile(ctx context.Context, sourceFileID int64) (int, error)

	// ListContributions returns records matching the filter joined with
	// denormalized display names, ordered by month descending then employee.
	ListContributions(ctx context.Context, f ContributionFilter) ([]ContributionRecord, error)

	// Totals return decimal zero, never an absent value, when nothing matches.
	TotalHoursByMonth(ctx context.Context, m Month) (decimal.Decimal, error)
	TotalHoursByDepartment(ctx context.Context, departmentID int64, m Month) (decimal.Decimal, error)
	TotalHoursByPod(ctx context.Context, podID int64, m Month) (decimal.Decimal, error)
	TotalHoursByEmployee(ctx context.Context, employeeID int64, m Month) (decimal.Decimal, error)
}

// =============================================================================
// ALLOCATION STORE - workflow rows
// =============================================================================

// AllocationStore persists Pod Lead allocations keyed by the natural
// (employee, product, month) triple.
type AllocationStore interface {
	// UpsertAllocation inserts or, when the triple already exists, updates
	// the existing row. Fills ID (and Version) on the passed value.
	UpsertAllocation(ctx context.Context, a *Allocation) error

	// GetAllocationByTriple returns nil when no such allocation exists.
	GetAllocationByTriple(ctx context.Context, employeeID int64, product string, m Month) (*Allocation, error)

	// UpdateAllocation writes fields compare-and-set on Version; a version
	// miss returns a StateConflictError. Increments Version on success.
	UpdateAllocation(ctx context.Context, a *Allocation) error

	ListAllocationsByPodAndStatus(ctx context.Context, podID int64, m Month, status AllocationStatus) ([]Allocation, error)
	ListAllocationsByMonthAndStatus(ctx context.Context, m Month, status AllocationStatus) ([]Allocation, error)
	ListAllocationsByPodLead(ctx context.Context, podLeadID int64, m Month) ([]Allocation, error)
	CountAllocationsByMonthAndStatus(ctx context.Context, m Month, status AllocationStatus) (int, error)
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is the full persistence surface, for wiring.
type Store interface {
	EntityStore
	RawFileStore
	ContributionStore
	AllocationStore
}
