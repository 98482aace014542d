/*
Package workflow drives the Pod Lead allocation state machine.

PURPOSE:
  Allocations move PENDING → SUBMITTED → PROCESSED, keyed by the natural
  (employee, product, month) triple.

  SubmitBatch: a Pod Lead saves percentage edits for their pod. Each edit is
  evaluated independently; invalid entries become error entries, valid ones
  are written. An edit only advances PENDING → SUBMITTED when the Pod Lead
  has marked the description verified, so partial progress can be saved.

  Process: an admin/CEO converts every SUBMITTED allocation for (pod, month)
  into contribution facts ("records") or a canonical-schema CSV ("csv"),
  then marks them PROCESSED. PROCESSED is terminal.

CONCURRENCY:
  Process claims each allocation by compare-and-setting it to PROCESSED
  before any conversion output is written. Two concurrent Process calls
  split the claims between them and each converts only what it won; a call
  that wins nothing returns a StateConflictError with no records created.
*/
package workflow

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store contrib.Store
}

func NewEngine(store contrib.Store) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// BATCH SUBMISSION
// =============================================================================

// Edit is one per-employee-product allocation edit in a batch submission.
type Edit struct {
	EmployeeID          int64           `json:"employee_id"`
	Product             string          `json:"product"`
	ProductDescription  string          `json:"product_description"`
	AcademyPercent      decimal.Decimal `json:"academy_percent"`
	IntensivePercent    decimal.Decimal `json:"intensive_percent"`
	NIATPercent         decimal.Decimal `json:"niat_percent"`
	FeaturesText        string          `json:"features_text"`
	VerifiedDescription bool            `json:"is_verified_description"`
}

// EditError records why one edit was rejected. Other edits in the batch are
// unaffected.
type EditError struct {
	EmployeeID int64  `json:"employee_id"`
	Product    string `json:"product,omitempty"`
	Message    string `json:"message"`
}

type SubmitSummary struct {
	UpdatedCount int `json:"updated_count"`
	ErrorCount   int `json:"error_count"`
}

type SubmitResult struct {
	Summary     SubmitSummary        `json:"summary"`
	Allocations []contrib.Allocation `json:"allocations"`
	Errors      []EditError          `json:"errors"`
}

// SubmitBatch applies a Pod Lead's allocation edits for (pod, month).
//
// The pod-lead/pod guard is a hard PermissionDenied failure; everything
// per-edit (unknown triple, percentage overflow, cross-lead mismatch) is
// collected into the result instead.
func (e *Engine) SubmitBatch(ctx context.Context, podID int64, month contrib.Month, podLeadID int64, edits []Edit) (*SubmitResult, error) {
	lead, err := e.store.GetEmployee(ctx, podLeadID)
	if err != nil {
		return nil, err
	}
	samePod := lead.PodID != nil && *lead.PodID == podID
	if err := contrib.Authorize(lead.Role, contrib.CapSubmitAllocations, contrib.Facts{SamePod: samePod}); err != nil {
		return nil, fmt.Errorf("pod lead %s has no access to pod %d: %w", lead.Code, podID, err)
	}

	res := &SubmitResult{}
	for _, edit := range edits {
		fail := func(msg string) {
			res.Errors = append(res.Errors, EditError{EmployeeID: edit.EmployeeID, Product: edit.Product, Message: msg})
		}

		if edit.Product == "" {
			fail("product is required")
			continue
		}

		totalPercent := edit.AcademyPercent.Add(edit.IntensivePercent).Add(edit.NIATPercent)
		if totalPercent.GreaterThan(decimal.New(100, 0)) {
			fail(fmt.Sprintf("Total percentage exceeds 100%%. Got: %s%%", totalPercent))
			continue
		}

		alloc, err := e.store.GetAllocationByTriple(ctx, edit.EmployeeID, edit.Product, month)
		if err != nil {
			return nil, err
		}
		if alloc == nil {
			fail(fmt.Sprintf("Allocation not found for employee %d and product %s", edit.EmployeeID, edit.Product))
			continue
		}
		if alloc.PodLeadID != podLeadID {
			fail("Allocation does not belong to this Pod Lead")
			continue
		}
		if alloc.Status == contrib.AllocationProcessed {
			fail("Allocation already processed")
			continue
		}

		alloc.AcademyPercent = edit.AcademyPercent
		alloc.IntensivePercent = edit.IntensivePercent
		alloc.NIATPercent = edit.NIATPercent
		alloc.FeaturesText = edit.FeaturesText
		alloc.VerifiedDescription = edit.VerifiedDescription
		if edit.VerifiedDescription {
			alloc.Status = contrib.AllocationSubmitted
		} else {
			alloc.Status = contrib.AllocationPending
		}

		if err := e.store.UpdateAllocation(ctx, alloc); err != nil {
			return nil, err
		}
		res.Allocations = append(res.Allocations, *alloc)
	}

	res.Summary = SubmitSummary{UpdatedCount: len(res.Allocations), ErrorCount: len(res.Errors)}
	return res, nil
}

// =============================================================================
// PROCESSING
// =============================================================================

const (
	FormatRecords = "records"
	FormatCSV     = "csv"
)

// ProcessResult reports one Process call. CSV content rides the result so
// it survives even when persisting it afterwards fails: the allocations are
// already PROCESSED by then and a retry would select nothing.
type ProcessResult struct {
	ProcessedCount int    `json:"processed_count"`
	CreatedRecords int    `json:"created_records,omitempty"`
	CSV            string `json:"csv_content,omitempty"`
	CSVFileName    string `json:"csv_file,omitempty"`
	OutputFormat   string `json:"output_format"`
}

// Process converts every SUBMITTED allocation for (pod, month) and marks it
// PROCESSED. With format "records" the hours land as contribution facts
// tagged to a synthetic raw file; with format "csv" the result carries
// canonical-schema CSV content for the caller to persist.
func (e *Engine) Process(ctx context.Context, podID int64, month contrib.Month, actorID int64, format string) (*ProcessResult, error) {
	actor, err := e.store.GetEmployee(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := contrib.Authorize(actor.Role, contrib.CapProcessAllocations, contrib.Facts{}); err != nil {
		return nil, err
	}

	if format != FormatRecords && format != FormatCSV {
		return nil, fmt.Errorf("%w: unknown output format %q", contrib.ErrValidation, format)
	}

	allocations, err := e.store.ListAllocationsByPodAndStatus(ctx, podID, month, contrib.AllocationSubmitted)
	if err != nil {
		return nil, err
	}
	if len(allocations) == 0 {
		return &ProcessResult{ProcessedCount: 0, OutputFormat: format}, nil
	}

	// Claim first, convert after: the terminal transition compare-and-sets
	// on Version before any output is written, so a concurrent Process call
	// working from a stale read cannot insert a second copy of the facts.
	var claimed []contrib.Allocation
	for i := range allocations {
		a := allocations[i]
		a.Status = contrib.AllocationProcessed
		switch err := e.store.UpdateAllocation(ctx, &a); {
		case err == nil:
			claimed = append(claimed, a)
		case errors.Is(err, contrib.ErrStateConflict):
			// Another Process call won this allocation; it converts it.
			continue
		default:
			return nil, err
		}
	}
	if len(claimed) == 0 {
		return nil, fmt.Errorf("allocations for pod %d %s claimed by a concurrent process: %w",
			podID, month, contrib.ErrStateConflict)
	}

	res := &ProcessResult{ProcessedCount: len(claimed), OutputFormat: format}

	if format == FormatRecords {
		created, err := e.processToRecords(ctx, podID, month, claimed)
		if err != nil {
			return nil, err
		}
		res.CreatedRecords = created
	} else {
		content, err := e.processToCSV(ctx, month, claimed)
		if err != nil {
			return nil, err
		}
		res.CSV = content
		res.CSVFileName = fmt.Sprintf("pod_allocations_%s.csv", month)
	}

	return res, nil
}

// processToRecords converts allocations into contribution facts tagged to a
// synthetic raw file, inserted in one atomic bulk call.
func (e *Engine) processToRecords(ctx context.Context, podID int64, month contrib.Month, allocations []contrib.Allocation) (int, error) {
	rf := &contrib.RawFile{
		FileName:     fmt.Sprintf("pod_allocations_%s.csv", month),
		StoragePath:  fmt.Sprintf("allocations/pod_%d_%s_%s.csv", podID, month, uuid.NewString()[:8]),
		UploadedByID: allocations[0].PodLeadID,
		ParseSummary: map[string]any{
			"source": "pod_lead_allocation",
			"pod_id": podID,
			"month":  month.String(),
		},
	}
	if err := e.store.CreateRawFile(ctx, rf); err != nil {
		return 0, err
	}

	var recs []contrib.ContributionRecord
	for _, a := range allocations {
		emp, err := e.store.GetEmployee(ctx, a.EmployeeID)
		if err != nil {
			return 0, err
		}
		for _, pp := range a.ProductPercents() {
			if !pp.Percent.IsPositive() {
				continue
			}
			product, err := e.store.GetOrCreateProduct(ctx, pp.Product)
			if err != nil {
				return 0, err
			}
			rec := contrib.ContributionRecord{
				EmployeeID:  a.EmployeeID,
				ProductID:   product.ID,
				Month:       month,
				EffortHours: contrib.HoursFor(pp.Percent, a.BaselineHours),
				Description: fmt.Sprintf("Allocated %s%% via Pod Lead allocation", pp.Percent),
			}
			if emp.DepartmentID != nil {
				rec.DepartmentID = *emp.DepartmentID
			}
			if emp.PodID != nil {
				rec.PodID = *emp.PodID
			}
			recs = append(recs, rec)
		}
	}

	return e.store.BulkCreateContributions(ctx, recs, rf.ID)
}

// processToCSV flattens allocations into canonical-schema CSV rows, one per
// non-zero product percentage.
func (e *Engine) processToCSV(ctx context.Context, month contrib.Month, allocations []contrib.Allocation) (string, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)

	header := []string{
		"employee_code", "employee_name", "email", "department", "pod",
		"product", "feature_name", "contribution_month", "effort_hours",
		"description", "reported_by", "source",
	}
	if err := w.Write(header); err != nil {
		return "", err
	}

	for _, a := range allocations {
		emp, err := e.store.GetEmployee(ctx, a.EmployeeID)
		if err != nil {
			return "", err
		}
		for _, pp := range a.ProductPercents() {
			if !pp.Percent.IsPositive() {
				continue
			}
			hours := contrib.HoursFor(pp.Percent, a.BaselineHours)
			row := []string{
				emp.Code,
				emp.Name,
				emp.Email,
				emp.DepartmentName,
				emp.PodName,
				pp.Product,
				"",
				month.String(),
				hours.StringFixed(2),
				fmt.Sprintf("Allocated %s%% via Pod Lead allocation", pp.Percent),
				a.PodLeadCode,
				fmt.Sprintf("pod_lead_allocation_%s", month),
			}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
