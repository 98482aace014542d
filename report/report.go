/*
Package report renders workflow artifacts under the media root:

  - Pod Lead allocation sheets (one workbook per pod+month) that leads fill
    in and submit back
  - the final master list for a month (one sheet per department plus a
    combined Master sheet), built from PROCESSED allocations
  - CSV exports (processed allocations, parse error reports)

Generated files are reused when they already exist, so repeated generation
never forks divergent copies.
*/
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/parser"
)

// Config locates the media root all artifacts live under.
type Config struct {
	MediaRoot string
}

type Generator struct {
	store contrib.Store
	cfg   Config
}

func NewGenerator(store contrib.Store, cfg Config) *Generator {
	return &Generator{store: store, cfg: cfg}
}

// =============================================================================
// POD LEAD ALLOCATION SHEETS
// =============================================================================

var allocationSheetHeader = []string{
	"employee_code", "employee_name", "email", "department", "pod",
	"product_description", "product", "contribution_month",
	"Academy_product_contribution", "Intensive_product_contribution",
	"NIAT_product_contribution", "is_verified_description",
}

// AllocationSheetPath is where a pod's sheet for a month lives, relative to
// the media root.
func AllocationSheetPath(podID int64, month contrib.Month) string {
	return filepath.Join("pod_lead_sheets", fmt.Sprintf("pod_%d_allocation_%s.xlsx", podID, month))
}

// AllocationSheet writes the workbook a Pod Lead fills in: one row per
// employee-product line from the initial workbook, percentage columns left
// blank. Pod members with no product lines still get one empty row. An
// existing sheet is reused, not overwritten.
func (g *Generator) AllocationSheet(ctx context.Context, podID int64, month contrib.Month, products map[string][]parser.ProductEntry) (string, error) {
	rel := AllocationSheetPath(podID, month)
	abs := filepath.Join(g.cfg.MediaRoot, rel)
	if _, err := os.Stat(abs); err == nil {
		return rel, nil
	}

	pod, err := g.store.GetPod(ctx, podID)
	if err != nil {
		return "", err
	}
	members, err := g.store.ListEmployeesByPod(ctx, podID)
	if err != nil {
		return "", err
	}

	var rows [][]any
	for _, emp := range members {
		lines := products[emp.Code]
		if len(lines) == 0 {
			rows = append(rows, []any{
				emp.Code, emp.Name, emp.Email, emp.DepartmentName, emp.PodName,
				"", "", month.String(), "", "", "", false,
			})
			continue
		}
		for _, p := range lines {
			m := month.String()
			if !p.Month.IsZero() {
				m = p.Month.String()
			}
			rows = append(rows, []any{
				emp.Code, emp.Name, emp.Email, emp.DepartmentName, emp.PodName,
				p.Description, p.Product, m, "", "", "", false,
			})
		}
	}

	return rel, writeWorkbook(abs, []namedSheet{{name: sheetName(pod.Name), header: allocationSheetHeader, rows: rows}})
}

// =============================================================================
// FINAL MASTER LIST
// =============================================================================

var masterListHeader = []string{
	"employee_code", "employee_name", "email", "department", "pod",
	"product", "description", "contribution_month", "effort_hours",
}

// FinalMasterList builds the month's master workbook from PROCESSED
// allocations: a combined Master sheet plus one sheet per department. It
// refuses while any allocation for the month is still PENDING, and reuses
// an existing file.
func (g *Generator) FinalMasterList(ctx context.Context, month contrib.Month) (string, error) {
	pending, err := g.store.CountAllocationsByMonthAndStatus(ctx, month, contrib.AllocationPending)
	if err != nil {
		return "", err
	}
	if pending > 0 {
		return "", fmt.Errorf("%w: %d allocations for %s still pending", contrib.ErrStateConflict, pending, month)
	}

	processed, err := g.store.ListAllocationsByMonthAndStatus(ctx, month, contrib.AllocationProcessed)
	if err != nil {
		return "", err
	}
	if len(processed) == 0 {
		return "", fmt.Errorf("%w: no processed allocations found for month %s", contrib.ErrValidation, month)
	}

	rel := filepath.Join("final_master_lists", fmt.Sprintf("final_master_list_%s.xlsx", month))
	abs := filepath.Join(g.cfg.MediaRoot, rel)
	if _, err := os.Stat(abs); err == nil {
		return rel, nil
	}

	// Group flattened rows by department, keeping first-appearance order.
	var master [][]any
	perDept := map[string][][]any{}
	var deptOrder []string

	for _, a := range processed {
		emp, err := g.store.GetEmployee(ctx, a.EmployeeID)
		if err != nil {
			return "", err
		}
		deptName := emp.DepartmentName
		if deptName == "" {
			deptName = "Unknown"
		}
		if _, ok := perDept[deptName]; !ok {
			deptOrder = append(deptOrder, deptName)
		}

		for _, pp := range a.ProductPercents() {
			if !pp.Percent.IsPositive() {
				continue
			}
			row := []any{
				emp.Code, emp.Name, emp.Email, deptName, emp.PodName,
				pp.Product, a.ProductDescription, month.String(),
				contrib.HoursFor(pp.Percent, a.BaselineHours).StringFixed(2),
			}
			master = append(master, row)
			perDept[deptName] = append(perDept[deptName], row)
		}
	}

	sheets := []namedSheet{{name: "Master", header: masterListHeader, rows: master}}
	for _, deptName := range deptOrder {
		sheets = append(sheets, namedSheet{
			name:   sheetName(deptName),
			header: masterListHeader,
			rows:   perDept[deptName],
		})
	}

	return rel, writeWorkbook(abs, sheets)
}

// =============================================================================
// CSV ARTIFACTS
// =============================================================================

// SaveCSV persists CSV content under uploads/ and returns the relative path.
// Used for processed-allocation exports and error reports.
func (g *Generator) SaveCSV(name, content string) (string, error) {
	rel := filepath.Join("uploads", name)
	abs := filepath.Join(g.cfg.MediaRoot, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return rel, os.WriteFile(abs, []byte(content), 0o644)
}

// MediaPath resolves a relative artifact path against the media root.
func (g *Generator) MediaPath(rel string) string {
	return filepath.Join(g.cfg.MediaRoot, rel)
}

// =============================================================================
// WORKBOOK HELPERS
// =============================================================================

type namedSheet struct {
	name   string
	header []string
	rows   [][]any
}

func writeWorkbook(abs string, sheets []namedSheet) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return err
		}

		header := make([]any, len(s.header))
		for j, h := range s.header {
			header[j] = h
		}
		if err := f.SetSheetRow(s.name, "A1", &header); err != nil {
			return err
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(s.name, cell, &row); err != nil {
				return err
			}
		}
	}

	return f.SaveAs(abs)
}

// sheetName fits a department/pod name into Excel's 31-character limit.
func sheetName(name string) string {
	if len(name) <= 31 {
		return name
	}
	return name[:28] + "..."
}
