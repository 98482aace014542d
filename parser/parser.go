/*
Package parser turns uploaded spreadsheet/CSV bytes into validated
contribution rows.

PURPOSE:
  Two input schemas are accepted:
    - the canonical contribution schema (Parse): one fully-qualified row per
      contribution, strict YYYY-MM months
    - the initial-workbook schema (ParseInitial): product rows grouped per
      employee, tolerant month formats

KEY CONCEPTS:
  - Container sniffing: a ZIP signature means workbook regardless of the
    file extension; everything else is treated as delimited text
  - Partial success: invalid rows are collected as RowErrors and excluded
    from the output, they never abort the parse
  - A sheet named "Master" is a pre-aggregated summary, skipped unless it is
    the only sheet in the workbook

FAILURE MODES:
  Only a corrupt container (unreadable workbook, undecodable text) returns a
  hard error, wrapping contrib.ErrInvalidFileFormat. Everything else is a
  RowError in the result.
*/
package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// CANONICAL SCHEMA
// =============================================================================

var requiredHeaders = []string{
	"employee_code", "employee_name", "email", "department", "pod",
	"product", "contribution_month", "effort_hours",
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Row is a fully-validated canonical contribution row.
type Row struct {
	EmployeeCode string
	EmployeeName string
	Email        string
	Department   string
	Pod          string
	Product      string
	FeatureName  string
	Description  string
	ReportedBy   string
	Source       string
	Month        contrib.Month
	EffortHours  decimal.Decimal

	// Provenance, for error reporting downstream.
	Sheet  string
	RowNum int
}

// Result carries the outcome of a parse: validated rows plus every
// row/sheet-level failure encountered. Both may be non-empty at once.
type Result struct {
	Rows   []Row
	Errors []contrib.RowError
}

// Parse consumes canonical-schema bytes (workbook or CSV, sniffed) and
// returns validated rows alongside collected errors.
func Parse(data []byte) (*Result, error) {
	if isWorkbook(data) {
		return parseWorkbook(data)
	}
	return parseCSV(data)
}

func parseWorkbook(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contrib.ErrInvalidFileFormat, err)
	}
	defer f.Close()

	res := &Result{}
	for _, sheet := range sheetsToProcess(f.GetSheetList()) {
		grid, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: reading sheet %q: %v", contrib.ErrInvalidFileFormat, sheet, err)
		}
		parseGrid(res, sheet, grid)
	}
	return res, nil
}

func parseCSV(data []byte) (*Result, error) {
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

	res := &Result{}
	parseGrid(res, "CSV", grid)
	return res, nil
}

// sheetsToProcess drops the pre-aggregated "Master" sheet unless it is the
// workbook's only sheet.
func sheetsToProcess(sheets []string) []string {
	var out []string
	for _, s := range sheets {
		if !strings.EqualFold(s, "Master") {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return sheets
	}
	return out
}

// =============================================================================
// GRID PARSING - shared by workbook sheets and CSV
// =============================================================================

func parseGrid(res *Result, sheet string, grid [][]string) {
	if len(grid) == 0 {
		return
	}

	cols, missing := headerIndex(grid[0], requiredHeaders)
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
		rowNum := i + 2 // 1-indexed plus header row
		row, errs := validateRow(cell(record, cols), sheet, rowNum)
		if len(errs) > 0 {
			res.Errors = append(res.Errors, errs...)
			continue
		}
		res.Rows = append(res.Rows, row)
	}
}

// headerIndex maps normalized header names to column positions and reports
// which of the required headers are absent.
func headerIndex(header []string, required []string) (map[string]int, []string) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, h := range required {
		if _, ok := cols[h]; !ok {
			missing = append(missing, h)
		}
	}
	return cols, missing
}

// cell returns a field accessor over one record: trimmed value by header
// name, empty string when the column is absent or the record is short.
func cell(record []string, cols map[string]int) func(string) string {
	return func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
}

func validateRow(get func(string) string, sheet string, rowNum int) (Row, []contrib.RowError) {
	var errs []contrib.RowError
	fail := func(field, message string) {
		errs = append(errs, contrib.RowError{Sheet: sheet, Row: rowNum, Field: field, Message: message})
	}

	for _, field := range requiredHeaders {
		if get(field) == "" {
			fail(field, field+" is required")
		}
	}

	if email := get("email"); email != "" && !emailRe.MatchString(email) {
		fail("email", "Invalid email format: "+email)
	}

	var month contrib.Month
	if s := get("contribution_month"); s != "" {
		if !monthRe.MatchString(s) {
			fail("contribution_month", "Invalid month format: "+s+". Expected YYYY-MM")
		} else if m, err := contrib.ParseMonth(s); err != nil {
			fail("contribution_month", "Invalid month format: "+s)
		} else {
			month = m
		}
	}

	var hours decimal.Decimal
	if s := get("effort_hours"); s != "" {
		h, err := decimal.NewFromString(s)
		switch {
		case err != nil:
			fail("effort_hours", "Invalid effort_hours: "+s+". Must be numeric")
		case h.IsNegative():
			fail("effort_hours", "effort_hours must be non-negative: "+s)
		default:
			hours = h
		}
	}

	if len(errs) > 0 {
		return Row{}, errs
	}
	return Row{
		EmployeeCode: get("employee_code"),
		EmployeeName: get("employee_name"),
		Email:        get("email"),
		Department:   get("department"),
		Pod:          get("pod"),
		Product:      get("product"),
		FeatureName:  get("feature_name"),
		Description:  get("description"),
		ReportedBy:   get("reported_by"),
		Source:       get("source"),
		Month:        month,
		EffortHours:  hours,
		Sheet:        sheet,
		RowNum:       rowNum,
	}, nil
}

// ErrorsCSV renders row errors as delimited text for the error report
// download. Header: sheet,row,field,message.
func ErrorsCSV(errs []contrib.RowError) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"sheet", "row", "field", "message"})
	for _, e := range errs {
		_ = w.Write([]string{e.Sheet, fmt.Sprintf("%d", e.Row), e.Field, e.Message})
	}
	w.Flush()
	return buf.String()
}
