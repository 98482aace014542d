/*
Package contrib provides the core domain model for the contribution engine.

PURPOSE:
  This package contains the entities and value types shared by every other
  package: the organizational hierarchy (Department → Pod → Employee), the
  product catalog (Product → Feature), the immutable contribution fact table,
  and the Pod Lead allocation workflow entity.

KEY CONCEPTS IN THIS FILE (types.go):
  - Dimension entities: Department, Pod, Product, Feature - created lazily
    on first reference during ingestion, keyed by natural name
  - Employee: identified by a stable employee_code business key
  - RawFile: an uploaded spreadsheet/CSV artifact, deduplicated by checksum
  - ContributionRecord: the (employee, product, month, hours) fact
  - Allocation: a percentage-based effort split awaiting conversion to hours

DESIGN PRINCIPLES:
  1. Precision: effort hours and percentages use decimal.Decimal, never float
  2. Immutability: ContributionRecords are never updated, only superseded by
     a reparse of their source file
  3. Natural keys: dimension upserts are idempotent by name (scoped where the
     hierarchy demands it - pods by department, features by product)

SEE ALSO:
  - month.go: first-of-month calendar arithmetic
  - store.go: persistence interfaces over these types
  - permission.go: role capability checks
*/
package contrib

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES
// =============================================================================

// Role determines an employee's read/write scope over metrics and workflows.
type Role string

const (
	RoleCEO        Role = "CEO"
	RoleHOD        Role = "HOD"
	RolePodLead    Role = "POD_LEAD"
	RoleEmployee   Role = "EMPLOYEE"
	RoleAdmin      Role = "ADMIN"
	RoleAutomation Role = "AUTOMATION"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCEO, RoleHOD, RolePodLead, RoleEmployee, RoleAdmin, RoleAutomation:
		return true
	}
	return false
}

// DefaultBaselineHours is the expected monthly effort capacity used as the
// percent-to-hours conversion base when an employee has no explicit value.
var DefaultBaselineHours = decimal.NewFromInt(160)

// =============================================================================
// DIMENSION ENTITIES
// =============================================================================

// Department is a top-level organizational unit, unique by name.
type Department struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Pod is a team-sized sub-unit of a Department. Two departments may each
// have a pod of the same name as distinct entities.
type Pod struct {
	ID           int64
	Name         string
	DepartmentID int64
	CreatedAt    time.Time

	DepartmentName string // denormalized on reads
}

// Product is unique by name across the organization.
type Product struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Feature is scoped by its parent product.
type Feature struct {
	ID          int64
	ProductID   int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// The three fixed products an allocation splits effort across.
const (
	ProductAcademy   = "Academy"
	ProductIntensive = "Intensive"
	ProductNIAT      = "NIAT"
)

// AllocationProducts returns the fixed product names in processing order.
func AllocationProducts() []string {
	return []string{ProductAcademy, ProductIntensive, ProductNIAT}
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// Employee is identified by Code, a unique and stable business key.
// Department/pod references are reassigned by master-data imports;
// everything else is last-write-wins when re-resolving an existing code.
type Employee struct {
	ID            int64
	Code          string
	Name          string
	Email         string
	DepartmentID  *int64
	PodID         *int64
	Role          Role
	BaselineHours decimal.Decimal
	CreatedAt     time.Time

	DepartmentName string // denormalized on reads
	PodName        string
}

// =============================================================================
// RAW FILE
// =============================================================================

// RawFile records an accepted upload. Immutable after creation except for
// the parse-summary backfill. Checksum equality (not filename) defines a
// duplicate: two uploads with identical byte content are rejected.
type RawFile struct {
	ID           int64
	FileName     string
	StoragePath  string
	UploadedByID int64
	FileSize     int64
	Checksum     string
	ParseSummary map[string]any
	UploadedAt   time.Time
}

// =============================================================================
// CONTRIBUTION RECORD - the fact
// =============================================================================

// ContributionRecord is the append-only fact: effort hours an employee
// reported against a product (and optionally a feature) for a month.
// Invariant: EffortHours >= 0. Never updated; a reparse of the source file
// deletes and recreates its records.
type ContributionRecord struct {
	ID           int64
	EmployeeID   int64
	DepartmentID int64
	PodID        int64
	ProductID    int64
	FeatureID    *int64
	Month        Month
	EffortHours  decimal.Decimal
	Description  string
	SourceFileID int64
	CreatedAt    time.Time

	// Denormalized display names, filled on reads.
	EmployeeCode   string
	EmployeeName   string
	DepartmentName string
	PodName        string
	ProductName    string
	FeatureName    string
}

// ContributionFilter selects records by any combination of dimensions.
// Nil fields are unconstrained.
type ContributionFilter struct {
	Month        *Month
	DepartmentID *int64
	PodID        *int64
	EmployeeID   *int64
	ProductID    *int64
}

// =============================================================================
// POD LEAD ALLOCATION - workflow entity
// =============================================================================

// AllocationStatus is the workflow state of an Allocation.
// PENDING → SUBMITTED → PROCESSED; PROCESSED is terminal, no regression.
type AllocationStatus string

const (
	AllocationPending   AllocationStatus = "PENDING"
	AllocationSubmitted AllocationStatus = "SUBMITTED"
	AllocationProcessed AllocationStatus = "PROCESSED"
)

// Allocation is a percentage-based split of an employee's monthly effort
// across the three fixed products, later converted to hour records.
// Natural identity is (EmployeeID, Product, Month): creating a duplicate
// triple updates the existing row instead of inserting.
// Invariant: AcademyPercent + IntensivePercent + NIATPercent <= 100.00.
type Allocation struct {
	ID                  int64
	EmployeeID          int64
	PodLeadID           int64
	Month               Month
	Product             string
	ProductDescription  string
	AcademyPercent      decimal.Decimal
	IntensivePercent    decimal.Decimal
	NIATPercent         decimal.Decimal
	FeaturesText        string
	VerifiedDescription bool
	BaselineHours       decimal.Decimal
	Status              AllocationStatus

	// Version guards the SUBMITTED → PROCESSED transition against concurrent
	// processing: updates compare-and-set on it, a miss is ErrStateConflict.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time

	// Denormalized display fields, filled on reads.
	EmployeeCode string
	EmployeeName string
	PodLeadCode  string
	PodLeadName  string
}

// PercentTotal returns the sum of the three product percentages.
func (a *Allocation) PercentTotal() decimal.Decimal {
	return a.AcademyPercent.Add(a.IntensivePercent).Add(a.NIATPercent)
}

// ProductPercent pairs a fixed product with its allocated percentage.
type ProductPercent struct {
	Product string
	Percent decimal.Decimal
}

// ProductPercents returns (product name, percent) pairs in processing order.
func (a *Allocation) ProductPercents() []ProductPercent {
	return []ProductPercent{
		{ProductAcademy, a.AcademyPercent},
		{ProductIntensive, a.IntensivePercent},
		{ProductNIAT, a.NIATPercent},
	}
}

// HoursFor converts a product percentage into effort hours against the
// allocation's baseline, rounded half-up to 2 decimal places.
func HoursFor(percent, baseline decimal.Decimal) decimal.Decimal {
	if percent.IsZero() {
		return decimal.Zero
	}
	return percent.Div(decimal.NewFromInt(100)).Mul(baseline).Round(2)
}
