package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgpulse/contrib-engine/parser"
)

// =============================================================================
// INITIAL WORKBOOK SCHEMA TESTS
// =============================================================================

func initialHeader() []string {
	return []string{"employee_code", "employee_name", "email", "department", "pod", "product", "description", "contribution_month", "effort_hours"}
}

func TestParseInitial_GroupsProductsPerEmployee(t *testing.T) {
	data := buildWorkbook(t, []string{"Master", "Tech"}, map[string][][]string{
		"Master": {initialHeader()},
		"Tech": {
			initialHeader(),
			{"EMP001", "Ada Lovelace", "ada@example.com", "Tech", "Platform", "Academy", "Course engine", "2025-10", "16"},
			{"EMP001", "Ada Lovelace", "ada@example.com", "Tech", "Platform", "Intensive", "Bootcamp", "2025-10", "24"},
			{"EMP002", "Alan Turing", "alan@example.com", "Tech", "Platform", "NIAT", "Assessments", "2025-10", "8"},
		},
	})

	res, err := parser.ParseInitial(data)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	require.Len(t, res.Order, 2)
	assert.Equal(t, []string{"EMP001", "EMP002"}, res.Order)

	ada := res.Employees["EMP001"]
	require.NotNil(t, ada)
	assert.Equal(t, "Ada Lovelace", ada.EmployeeName)
	assert.Equal(t, "Platform", ada.Pod)
	require.Len(t, ada.Products, 2)
	assert.Equal(t, "Academy", ada.Products[0].Product)
	assert.Equal(t, "Intensive", ada.Products[1].Product)
}

func TestParseInitial_MonthNormalization(t *testing.T) {
	// GIVEN: month values in each tolerated format
	// WHEN: parsing
	// THEN: all normalize to 2025-10

	data := buildWorkbook(t, []string{"Tech"}, map[string][][]string{
		"Tech": {
			initialHeader(),
			{"EMP001", "Ada", "", "", "", "Academy", "a", "2025-10", "1"},
			{"EMP001", "Ada", "", "", "", "Academy", "b", "2025-10-15", "1"},
			{"EMP001", "Ada", "", "", "", "Academy", "c", "2025/10/15", "1"},
			{"EMP001", "Ada", "", "", "", "Academy", "d", "20251015", "1"},
		},
	})

	res, err := parser.ParseInitial(data)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	ada := res.Employees["EMP001"]
	require.NotNil(t, ada)
	require.Len(t, ada.Products, 4)
	for _, p := range ada.Products {
		assert.Equal(t, "2025-10", p.Month.String(), "entry %s", p.Description)
	}
}

func TestParseInitial_InvalidMonthRejectsRow(t *testing.T) {
	data := buildWorkbook(t, []string{"Tech"}, map[string][][]string{
		"Tech": {
			initialHeader(),
			{"EMP001", "Ada", "", "", "", "Academy", "x", "October 2025", "1"},
			{"EMP001", "Ada", "", "", "", "Academy", "y", "2025-10", "1"},
		},
	})

	res, err := parser.ParseInitial(data)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "contribution_month", res.Errors[0].Field)
	assert.Equal(t, 2, res.Errors[0].Row)

	// The good row still lands.
	require.NotNil(t, res.Employees["EMP001"])
	assert.Len(t, res.Employees["EMP001"].Products, 1)
}

func TestParseInitial_MasterOnlyWorkbookIsAnError(t *testing.T) {
	// Unlike the canonical parser, the initial workbook's Master sheet is
	// never source data.
	data := buildWorkbook(t, []string{"Master"}, map[string][][]string{
		"Master": {initialHeader()},
	})

	res, err := parser.ParseInitial(data)
	require.NoError(t, err)
	assert.Empty(t, res.Employees)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "sheets", res.Errors[0].Field)
}

func TestParseInitial_CSVWithUnparseableHoursCoercesToZero(t *testing.T) {
	data := []byte("employee_code,product,description,contribution_month,effort_hours\n" +
		"EMP001,Academy,Course engine,2025-10,not-a-number\n")

	res, err := parser.ParseInitial(data)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)

	ada := res.Employees["EMP001"]
	require.NotNil(t, ada)
	require.Len(t, ada.Products, 1)
	assert.True(t, ada.Products[0].EffortHours.IsZero())
}
