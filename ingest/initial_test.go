package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// INITIAL WORKBOOK UPLOAD TESTS
// =============================================================================

const initialHeader = "employee_code,employee_name,email,department,pod,product,description,contribution_month,effort_hours"

func initialCSV() []byte {
	return []byte(initialHeader + "\n" +
		"LEAD01,Lena Lead,lena@example.com,Tech,Platform,Academy,Sheet review,2025-03,4\n" +
		"EMP001,Ada Lovelace,ada@example.com,Tech,Platform,Academy,Course engine,2025-03,16\n" +
		"EMP001,Ada Lovelace,ada@example.com,Tech,Platform,Intensive,Bootcamp,2025-03-15,24\n" +
		"EMP002,Grace Hopper,grace@example.com,Tech,Data,NIAT,Assessments,2025-03,8\n")
}

func TestUploadInitial_SeedsPendingAllocations(t *testing.T) {
	// GIVEN: Platform has a pod lead on file, Data does not
	// WHEN: uploading the initial workbook
	// THEN: Platform employees get PENDING allocations per product line,
	//       Data is reported skipped

	svc, st, _ := newService(t)
	ctx := context.Background()

	// The lead must exist with the POD_LEAD role before the upload; the file
	// itself never assigns roles.
	dept, err := st.GetOrCreateDepartment(ctx, "Tech")
	require.NoError(t, err)
	pod, err := st.GetOrCreatePod(ctx, "Platform", dept.ID)
	require.NoError(t, err)
	_, err = st.UpsertEmployee(ctx, contrib.Employee{
		Code: "LEAD01", Name: "Lena Lead", Email: "lena@example.com",
		DepartmentID: &dept.ID, PodID: &pod.ID, Role: contrib.RolePodLead,
	})
	require.NoError(t, err)

	month := contrib.NewMonth(2025, time.March)
	res, err := svc.UploadInitial(ctx, initialCSV(), month)
	require.NoError(t, err)

	// LEAD01 x Academy, EMP001 x Academy, EMP001 x Intensive.
	assert.Equal(t, 3, res.Summary.CreatedAllocations)
	assert.Equal(t, 3, res.Summary.TotalEmployees)
	assert.Equal(t, 2, res.Summary.TotalPodsInFile)
	assert.Equal(t, 1, res.Summary.PodsSeeded)
	assert.Equal(t, 1, res.Summary.PodsSkipped)

	require.Len(t, res.Teams, 1)
	team := res.Teams[0]
	assert.Equal(t, "Tech", team.Department)
	require.Len(t, team.Pods, 1)
	assert.Equal(t, "Platform", team.Pods[0].PodName)
	assert.Equal(t, "LEAD01", team.Pods[0].PodLeadCode)
	require.Len(t, team.SkippedPods, 1)
	assert.Equal(t, "Data", team.SkippedPods[0].PodName)
	assert.Equal(t, "No Pod Lead assigned", team.SkippedPods[0].Reason)

	// Allocations are PENDING, owned by the lead, on the default baseline.
	ada, err := st.GetEmployeeByCode(ctx, "EMP001")
	require.NoError(t, err)
	a, err := st.GetAllocationByTriple(ctx, ada.ID, contrib.ProductAcademy, month)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, contrib.AllocationPending, a.Status)
	assert.Equal(t, "Course engine", a.ProductDescription)
	assert.True(t, a.BaselineHours.Equal(d("160")))

	// The month column tolerated 2025-03-15 and floored it.
	b, err := st.GetAllocationByTriple(ctx, ada.ID, contrib.ProductIntensive, month)
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestUploadInitial_ExistingTripleUntouched(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	month := contrib.NewMonth(2025, time.March)

	dept, err := st.GetOrCreateDepartment(ctx, "Tech")
	require.NoError(t, err)
	pod, err := st.GetOrCreatePod(ctx, "Platform", dept.ID)
	require.NoError(t, err)
	lead, err := st.UpsertEmployee(ctx, contrib.Employee{
		Code: "LEAD01", Name: "Lena Lead", Email: "lena@example.com",
		DepartmentID: &dept.ID, PodID: &pod.ID, Role: contrib.RolePodLead,
	})
	require.NoError(t, err)
	ada, err := st.UpsertEmployee(ctx, contrib.Employee{
		Code: "EMP001", Name: "Ada Lovelace", Email: "ada@example.com",
		DepartmentID: &dept.ID, PodID: &pod.ID,
	})
	require.NoError(t, err)

	existing := &contrib.Allocation{
		EmployeeID: ada.ID, PodLeadID: lead.ID, Month: month,
		Product: contrib.ProductAcademy, ProductDescription: "hand-edited",
		BaselineHours: contrib.DefaultBaselineHours, Status: contrib.AllocationSubmitted,
	}
	require.NoError(t, st.UpsertAllocation(ctx, existing))

	res, err := svc.UploadInitial(ctx, initialCSV(), month)
	require.NoError(t, err)
	// EMP001 x Academy already exists, so only two new allocations.
	assert.Equal(t, 2, res.Summary.CreatedAllocations)

	a, err := st.GetAllocationByTriple(ctx, ada.ID, contrib.ProductAcademy, month)
	require.NoError(t, err)
	assert.Equal(t, contrib.AllocationSubmitted, a.Status)
	assert.Equal(t, "hand-edited", a.ProductDescription)
}

func TestUploadInitial_UnparseableEscalates(t *testing.T) {
	svc, _, _ := newService(t)

	bad := []byte("wrong,headers\nx,y\n")
	_, err := svc.UploadInitial(context.Background(), bad, contrib.NewMonth(2025, time.March))
	assert.ErrorIs(t, err, contrib.ErrValidation)
}
