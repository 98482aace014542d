package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/contrib/store"
	"github.com/orgpulse/contrib-engine/metrics"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

type fixture struct {
	st    *store.Memory
	calc  *metrics.Calculator
	month contrib.Month

	tech     *contrib.Department
	platform *contrib.Pod
	data     *contrib.Pod
	academy  *contrib.Product
	niat     *contrib.Product
	ada      *contrib.Employee
	alan     *contrib.Employee
	grace    *contrib.Employee
}

// newFixture seeds Tech with two pods: Platform (Ada, Alan) and Data (Grace).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	f := &fixture{st: st, calc: metrics.NewCalculator(st), month: contrib.NewMonth(2025, time.March)}

	var err error
	f.tech, err = st.GetOrCreateDepartment(ctx, "Tech")
	require.NoError(t, err)
	f.platform, err = st.GetOrCreatePod(ctx, "Platform", f.tech.ID)
	require.NoError(t, err)
	f.data, err = st.GetOrCreatePod(ctx, "Data", f.tech.ID)
	require.NoError(t, err)
	f.academy, err = st.GetOrCreateProduct(ctx, "Academy")
	require.NoError(t, err)
	f.niat, err = st.GetOrCreateProduct(ctx, "NIAT")
	require.NoError(t, err)

	f.ada = f.employee(t, "EMP001", "Ada Lovelace", f.platform.ID)
	f.alan = f.employee(t, "EMP002", "Alan Turing", f.platform.ID)
	f.grace = f.employee(t, "EMP003", "Grace Hopper", f.data.ID)
	return f
}

func (f *fixture) employee(t *testing.T, code, name string, podID int64) *contrib.Employee {
	t.Helper()
	e, err := f.st.UpsertEmployee(context.Background(), contrib.Employee{
		Code:         code,
		Name:         name,
		Email:        code + "@example.com",
		DepartmentID: &f.tech.ID,
		PodID:        &podID,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) record(employeeID, podID, productID int64, hours string, featureID *int64, desc string) contrib.ContributionRecord {
	return contrib.ContributionRecord{
		EmployeeID:   employeeID,
		DepartmentID: f.tech.ID,
		PodID:        podID,
		ProductID:    productID,
		FeatureID:    featureID,
		Month:        f.month,
		EffortHours:  d(hours),
		Description:  desc,
	}
}

func (f *fixture) seed(t *testing.T, recs ...contrib.ContributionRecord) {
	t.Helper()
	_, err := f.st.BulkCreateContributions(context.Background(), recs, 1)
	require.NoError(t, err)
}

// =============================================================================
// ORG LEVEL
// =============================================================================

func TestCalculator_Org(t *testing.T) {
	f := newFixture(t)
	f.seed(t,
		f.record(f.ada.ID, f.platform.ID, f.academy.ID, "60", nil, ""),
		f.record(f.alan.ID, f.platform.ID, f.niat.ID, "30", nil, ""),
		f.record(f.grace.ID, f.data.ID, f.academy.ID, "10", nil, ""),
	)

	m, err := f.calc.Org(context.Background(), f.month)
	require.NoError(t, err)

	assert.Equal(t, "2025-03", m.Month)
	assert.True(t, m.TotalHours.Equal(d("100")))

	require.Len(t, m.Products, 2)
	assert.Equal(t, "Academy", m.Products[0].ProductName)
	assert.True(t, m.Products[0].Percent.Equal(d("70.00")))
	assert.True(t, m.Products[1].Percent.Equal(d("30.00")))

	require.Len(t, m.TopDepartments, 1)
	assert.True(t, m.TopDepartments[0].Hours.Equal(d("100")))

	require.Len(t, m.TopPods, 2)
	assert.Equal(t, "Platform", m.TopPods[0].PodName)
	assert.True(t, m.TopPods[0].Percent.Equal(d("90.00")))
	assert.Equal(t, "Tech", m.TopPods[0].DepartmentName)

	require.Len(t, m.DepartmentBreakdown, 1)
	db := m.DepartmentBreakdown[0]
	assert.True(t, db.TotalHours.Equal(d("100")))
	require.Len(t, db.Products, 2)
}

// =============================================================================
// DEPARTMENT LEVEL
// =============================================================================

func TestCalculator_Department_ExcludesZeroHourPods(t *testing.T) {
	// GIVEN: only Platform has contributions this month
	// WHEN: computing department metrics
	// THEN: Data is absent from the pod list entirely

	f := newFixture(t)
	f.seed(t,
		f.record(f.ada.ID, f.platform.ID, f.academy.ID, "40", nil, ""),
		f.record(f.alan.ID, f.platform.ID, f.niat.ID, "40", nil, ""),
	)

	m, err := f.calc.Department(context.Background(), f.tech.ID, f.month)
	require.NoError(t, err)

	assert.Equal(t, "Tech", m.DepartmentName)
	assert.True(t, m.TotalHours.Equal(d("80")))

	require.Len(t, m.Pods, 1)
	assert.Equal(t, "Platform", m.Pods[0].PodName)

	// Pod product split normalizes to the pod's total, not the department's.
	require.Len(t, m.Pods[0].Products, 2)
	assert.True(t, m.Pods[0].Products[0].Percent.Equal(d("50.00")))
}

func TestCalculator_Department_UnknownIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.calc.Department(context.Background(), 9999, f.month)
	assert.ErrorIs(t, err, contrib.ErrEntityNotFound)
}

// =============================================================================
// POD LEVEL
// =============================================================================

func TestCalculator_Pod_ShowsAllMembersIncludingZeroHours(t *testing.T) {
	// GIVEN: Alan contributed nothing this month
	// WHEN: computing pod metrics
	// THEN: Alan still appears, with zero hours and no product list, after Ada

	f := newFixture(t)
	f.seed(t,
		f.record(f.ada.ID, f.platform.ID, f.academy.ID, "64", nil, ""),
	)

	m, err := f.calc.Pod(context.Background(), f.platform.ID, f.month)
	require.NoError(t, err)

	assert.True(t, m.TotalHours.Equal(d("64")))
	require.Len(t, m.Employees, 2)

	assert.Equal(t, "Ada Lovelace", m.Employees[0].EmployeeName)
	assert.True(t, m.Employees[0].TotalHours.Equal(d("64")))
	require.Len(t, m.Employees[0].Products, 1)
	assert.True(t, m.Employees[0].Products[0].Percent.Equal(d("100.00")))

	assert.Equal(t, "Alan Turing", m.Employees[1].EmployeeName)
	assert.True(t, m.Employees[1].TotalHours.IsZero())
	assert.Empty(t, m.Employees[1].Products)
}

func TestCalculator_Pod_EmptyMonth(t *testing.T) {
	f := newFixture(t)

	m, err := f.calc.Pod(context.Background(), f.platform.ID, f.month)
	require.NoError(t, err)

	assert.True(t, m.TotalHours.IsZero())
	assert.Empty(t, m.Products)
	assert.Len(t, m.Employees, 2)
}

// =============================================================================
// EMPLOYEE LEVEL
// =============================================================================

func TestCalculator_Employee_UnassignedFeatureBucket(t *testing.T) {
	// GIVEN: one record tagged with a feature, one without
	// WHEN: computing employee metrics
	// THEN: the untagged record lands in an "unassigned" bucket keeping its
	//       description

	f := newFixture(t)
	ctx := context.Background()

	feat, err := f.st.GetOrCreateFeature(ctx, "Course engine", f.academy.ID, "")
	require.NoError(t, err)

	f.seed(t,
		f.record(f.ada.ID, f.platform.ID, f.academy.ID, "30", &feat.ID, ""),
		f.record(f.ada.ID, f.platform.ID, f.niat.ID, "10", nil, "ad-hoc support"),
	)

	m, err := f.calc.Employee(ctx, f.ada.ID, f.month)
	require.NoError(t, err)

	assert.Equal(t, "EMP001", m.EmployeeCode)
	assert.True(t, m.TotalHours.Equal(d("40")))

	require.Len(t, m.Features, 2)
	assert.Equal(t, "Course engine", m.Features[0].FeatureName)
	require.NotNil(t, m.Features[0].FeatureID)
	assert.True(t, m.Features[0].Percent.Equal(d("75.00")))

	assert.Equal(t, "unassigned", m.Features[1].FeatureName)
	assert.Nil(t, m.Features[1].FeatureID)
	assert.Equal(t, "ad-hoc support", m.Features[1].Description)
	assert.True(t, m.Features[1].Percent.Equal(d("25.00")))

	// Percent invariant holds across the feature split too.
	sum := m.Features[0].Percent.Add(m.Features[1].Percent)
	assert.True(t, sum.Equal(d("100.00")))
}

func TestCalculator_Employee_NoContributions(t *testing.T) {
	f := newFixture(t)

	m, err := f.calc.Employee(context.Background(), f.ada.ID, f.month)
	require.NoError(t, err)
	assert.True(t, m.TotalHours.IsZero())
	assert.Empty(t, m.Products)
	assert.Empty(t, m.Features)
}
