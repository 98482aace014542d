package parser_test

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/parser"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const canonicalHeader = "employee_code,employee_name,email,department,pod,product,contribution_month,effort_hours"

// buildWorkbook writes the given sheets (name -> rows, first row headers)
// and returns the xlsx bytes.
func buildWorkbook(t *testing.T, sheets []string, rows map[string][][]string) []byte {
	t.Helper()
	f := excelize.NewFile()

	for i, name := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range rows[name] {
			cellName, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cellName, &row))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

// =============================================================================
// CANONICAL CSV TESTS
// =============================================================================

func TestParse_CSV_HappyPath(t *testing.T) {
	data := []byte(canonicalHeader + "\n" +
		"EMP001,Ada Lovelace,ada@example.com,Tech,Platform,Academy,2025-03,16.5\n" +
		"EMP002,Alan Turing,alan@example.com,Tech,Platform,Intensive,2025-03,8\n")

	res, err := parser.Parse(data)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Empty(t, res.Errors)

	row := res.Rows[0]
	assert.Equal(t, "EMP001", row.EmployeeCode)
	assert.Equal(t, "Platform", row.Pod)
	assert.Equal(t, "2025-03", row.Month.String())
	assert.True(t, row.EffortHours.Equal(decimal.RequireFromString("16.5")))
	assert.Equal(t, "CSV", row.Sheet)
	assert.Equal(t, 2, row.RowNum)
}

func TestParse_CSV_MissingHeadersIsSheetLevelError(t *testing.T) {
	// GIVEN: a CSV missing the pod and effort_hours columns
	// WHEN: parsing
	// THEN: a single row-0 error names the missing columns, no row errors

	data := []byte("employee_code,employee_name,email,department,product,contribution_month\n" +
		"EMP001,Ada,ada@example.com,Tech,Academy,2025-03\n")

	res, err := parser.Parse(data)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Row)
	assert.Equal(t, "headers", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "pod")
	assert.Contains(t, res.Errors[0].Message, "effort_hours")
}

func TestParse_CSV_RowValidation(t *testing.T) {
	data := []byte(canonicalHeader + "\n" +
		",Ada,ada@example.com,Tech,Platform,Academy,2025-03,16\n" + // missing code
		"EMP002,Alan,not-an-email,Tech,Platform,Academy,2025-03,16\n" +
		"EMP003,Grace,grace@example.com,Tech,Platform,Academy,2025-03-15,16\n" + // date not month
		"EMP004,Edsger,edsger@example.com,Tech,Platform,Academy,2025-03,-4\n" +
		"EMP005,Barbara,barbara@example.com,Tech,Platform,Academy,2025-03,lots\n" +
		"EMP006,Donald,donald@example.com,Tech,Platform,Academy,2025-03,40\n")

	res, err := parser.Parse(data)
	require.NoError(t, err)

	// Only the last row survives.
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "EMP006", res.Rows[0].EmployeeCode)

	fields := map[string]bool{}
	for _, e := range res.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["employee_code"])
	assert.True(t, fields["email"])
	assert.True(t, fields["contribution_month"])
	assert.True(t, fields["effort_hours"])

	// Row numbering is spreadsheet-style: first data row is 2.
	assert.Equal(t, 2, res.Errors[0].Row)
}

func TestParse_CSV_Latin1Fallback(t *testing.T) {
	// GIVEN: a CSV with a latin-1 encoded name (0xE9 = é)
	// WHEN: parsing
	// THEN: the row decodes instead of failing on invalid utf-8

	data := append([]byte(canonicalHeader+"\n"), []byte("EMP001,Ren")...)
	data = append(data, 0xE9)
	data = append(data, []byte(",rene@example.com,Tech,Platform,Academy,2025-03,16\n")...)

	res, err := parser.Parse(data)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "René", res.Rows[0].EmployeeName)
}

// =============================================================================
// WORKBOOK TESTS
// =============================================================================

func canonicalRows(codes ...string) [][]string {
	rows := [][]string{{"employee_code", "employee_name", "email", "department", "pod", "product", "contribution_month", "effort_hours"}}
	for _, c := range codes {
		rows = append(rows, []string{c, "Name " + c, c + "@example.com", "Tech", "Platform", "Academy", "2025-03", "8"})
	}
	return rows
}

func TestParse_Workbook_SkipsMasterSheet(t *testing.T) {
	data := buildWorkbook(t, []string{"Master", "Tech"}, map[string][][]string{
		"Master": canonicalRows("SUMMARY"),
		"Tech":   canonicalRows("EMP001", "EMP002"),
	})

	res, err := parser.Parse(data)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	for _, r := range res.Rows {
		assert.Equal(t, "Tech", r.Sheet)
	}
}

func TestParse_Workbook_MasterOnlyIsProcessed(t *testing.T) {
	data := buildWorkbook(t, []string{"Master"}, map[string][][]string{
		"Master": canonicalRows("EMP001"),
	})

	res, err := parser.Parse(data)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Master", res.Rows[0].Sheet)
}

func TestParse_CorruptWorkbookIsInvalidFormat(t *testing.T) {
	// A ZIP signature with garbage behind it: sniffs as workbook, fails open.
	res, err := parser.Parse([]byte("PK\x03\x04 this is not a workbook"))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, contrib.ErrInvalidFileFormat)
}

// =============================================================================
// ERROR REPORT
// =============================================================================

func TestErrorsCSV(t *testing.T) {
	out := parser.ErrorsCSV([]contrib.RowError{
		{Sheet: "Tech", Row: 3, Field: "email", Message: "Invalid email format: x"},
	})
	assert.Contains(t, out, "sheet,row,field,message")
	assert.Contains(t, out, "Tech,3,email,Invalid email format: x")
}
