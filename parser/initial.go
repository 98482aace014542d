package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// INITIAL WORKBOOK SCHEMA - product rows grouped per employee
// =============================================================================

var initialRequiredHeaders = []string{
	"employee_code", "product", "description", "contribution_month",
}

// ProductEntry is one product line reported for an employee.
type ProductEntry struct {
	Product     string
	Description string
	Month       contrib.Month
	EffortHours decimal.Decimal
}

// EmployeeSheet groups every product line reported under one employee code.
// Identity attributes come from the first row that mentions the code.
type EmployeeSheet struct {
	EmployeeCode string
	EmployeeName string
	Email        string
	Department   string
	Pod          string
	Products     []ProductEntry
}

// InitialResult keys employee sheets by code. Order preserves first
// appearance so downstream output is deterministic.
type InitialResult struct {
	Employees map[string]*EmployeeSheet
	Order     []string
	Errors    []contrib.RowError
}

// ParseInitial consumes initial-workbook bytes (workbook or CSV, sniffed)
// and groups product rows per employee. Unlike the canonical schema, the
// month column tolerates YYYY-MM, YYYY-MM-DD, YYYY/MM/DD and YYYYMMDD.
func ParseInitial(data []byte) (*InitialResult, error) {
	res := &InitialResult{Employees: make(map[string]*EmployeeSheet)}

	if isWorkbook(data) {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contrib.ErrInvalidFileFormat, err)
		}
		defer f.Close()

		subSheets := withoutMaster(f.GetSheetList())
		if len(subSheets) == 0 {
			res.Errors = append(res.Errors, contrib.RowError{
				Sheet:   "File",
				Row:     0,
				Field:   "sheets",
				Message: "No valid sheets found (only Master sheet exists)",
			})
			return res, nil
		}

		for _, sheet := range subSheets {
			grid, err := f.GetRows(sheet)
			if err != nil {
				return nil, fmt.Errorf("%w: reading sheet %q: %v", contrib.ErrInvalidFileFormat, sheet, err)
			}
			parseInitialGrid(res, sheet, grid)
		}
		return res, nil
	}

	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var grid [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contrib.ErrInvalidFileFormat, err)
		}
		grid = append(grid, rec)
	}
	parseInitialGrid(res, "CSV", grid)
	return res, nil
}

// withoutMaster keeps only department sub-sheets. The initial workbook's
// Master sheet is never usable source data, even alone.
func withoutMaster(sheets []string) []string {
	var out []string
	for _, s := range sheets {
		if !strings.EqualFold(s, "Master") {
			out = append(out, s)
		}
	}
	return out
}

func parseInitialGrid(res *InitialResult, sheet string, grid [][]string) {
	if len(grid) == 0 {
		return
	}

	cols, missing := headerIndex(grid[0], initialRequiredHeaders)
	if len(missing) > 0 {
		res.Errors = append(res.Errors, contrib.RowError{
			Sheet:   sheet,
			Row:     0,
			Field:   "headers",
			Message: "Missing required columns: " + strings.Join(missing, ", "),
		})
		return
	}

	for i, record := range grid[1:] {
		rowNum := i + 2
		get := cell(record, cols)

		var errs []contrib.RowError
		fail := func(field, message string) {
			errs = append(errs, contrib.RowError{Sheet: sheet, Row: rowNum, Field: field, Message: message})
		}

		code := get("employee_code")
		product := get("product")
		monthStr := get("contribution_month")
		if code == "" {
			fail("employee_code", "employee_code is required")
		}
		if product == "" {
			fail("product", "product is required")
		}
		if monthStr == "" {
			fail("contribution_month", "contribution_month is required")
		}

		var month contrib.Month
		if monthStr != "" {
			m, err := normalizeMonth(monthStr)
			if err != nil {
				fail("contribution_month", "Invalid month format: "+monthStr)
			} else {
				month = m
			}
		}

		if len(errs) > 0 {
			res.Errors = append(res.Errors, errs...)
			continue
		}

		es, ok := res.Employees[code]
		if !ok {
			es = &EmployeeSheet{
				EmployeeCode: code,
				EmployeeName: get("employee_name"),
				Email:        get("email"),
				Department:   get("department"),
				Pod:          get("pod"),
			}
			res.Employees[code] = es
			res.Order = append(res.Order, code)
		}

		// Effort hours are optional here; unparseable values coerce to zero
		// rather than rejecting the row.
		hours := decimal.Zero
		if s := get("effort_hours"); s != "" {
			if h, err := decimal.NewFromString(s); err == nil {
				hours = h
			}
		}

		es.Products = append(es.Products, ProductEntry{
			Product:     product,
			Description: get("description"),
			Month:       month,
			EffortHours: hours,
		})
	}
}

// normalizeMonth accepts the month formats seen in initial workbooks and
// floors them all to a Month: YYYY-MM, YYYY/MM/DD, YYYY-MM-DD, YYYYMMDD.
func normalizeMonth(s string) (contrib.Month, error) {
	if monthRe.MatchString(s) {
		return contrib.ParseMonth(s)
	}
	var layout string
	switch {
	case strings.Contains(s, "/"):
		layout = "2006/01/02"
	case strings.Contains(s, "-"):
		layout = "2006-01-02"
	default:
		layout = "20060102"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return contrib.Month{}, fmt.Errorf("%w: invalid month %q", contrib.ErrValidation, s)
	}
	return contrib.MonthOf(t), nil
}
