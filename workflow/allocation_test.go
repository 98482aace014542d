package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/contrib/store"
	"github.com/orgpulse/contrib-engine/workflow"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	st     *store.Memory
	engine *workflow.Engine
	month  contrib.Month

	podID int64
	lead  *contrib.Employee
	ada   *contrib.Employee
	admin *contrib.Employee
}

// newFixture seeds one pod with a lead and one member, plus an admin, and a
// PENDING Academy allocation for the member.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	f := &fixture{st: st, engine: workflow.NewEngine(st), month: contrib.NewMonth(2025, time.March)}

	dept, err := st.GetOrCreateDepartment(ctx, "Tech")
	require.NoError(t, err)
	pod, err := st.GetOrCreatePod(ctx, "Platform", dept.ID)
	require.NoError(t, err)
	f.podID = pod.ID

	f.lead, err = st.UpsertEmployee(ctx, contrib.Employee{
		Code: "LEAD01", Name: "Lena Lead", Email: "lena@example.com",
		DepartmentID: &dept.ID, PodID: &pod.ID, Role: contrib.RolePodLead,
	})
	require.NoError(t, err)
	f.ada, err = st.UpsertEmployee(ctx, contrib.Employee{
		Code: "EMP001", Name: "Ada Lovelace", Email: "ada@example.com",
		DepartmentID: &dept.ID, PodID: &pod.ID,
	})
	require.NoError(t, err)
	f.admin, err = st.UpsertEmployee(ctx, contrib.Employee{
		Code: "ADM01", Name: "Amir Admin", Email: "amir@example.com",
		Role: contrib.RoleAdmin,
	})
	require.NoError(t, err)

	require.NoError(t, st.UpsertAllocation(ctx, &contrib.Allocation{
		EmployeeID:    f.ada.ID,
		PodLeadID:     f.lead.ID,
		Month:         f.month,
		Product:       contrib.ProductAcademy,
		BaselineHours: contrib.DefaultBaselineHours,
		Status:        contrib.AllocationPending,
	}))
	return f
}

func (f *fixture) adaAllocation(t *testing.T) *contrib.Allocation {
	t.Helper()
	a, err := f.st.GetAllocationByTriple(context.Background(), f.ada.ID, contrib.ProductAcademy, f.month)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

// =============================================================================
// SUBMISSION TESTS
// =============================================================================

func TestSubmitBatch_VerificationGate(t *testing.T) {
	// GIVEN: a PENDING allocation
	// WHEN: submitting with is_verified_description=false
	// THEN: percentages are stored but status stays PENDING
	// WHEN: submitting again with is_verified_description=true
	// THEN: status becomes SUBMITTED

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.SubmitBatch(ctx, f.podID, f.month, f.lead.ID, []workflow.Edit{{
		EmployeeID:     f.ada.ID,
		Product:        contrib.ProductAcademy,
		AcademyPercent: d("40"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.UpdatedCount)
	assert.Equal(t, 0, res.Summary.ErrorCount)

	a := f.adaAllocation(t)
	assert.Equal(t, contrib.AllocationPending, a.Status)
	assert.True(t, a.AcademyPercent.Equal(d("40")))

	res, err = f.engine.SubmitBatch(ctx, f.podID, f.month, f.lead.ID, []workflow.Edit{{
		EmployeeID:          f.ada.ID,
		Product:             contrib.ProductAcademy,
		AcademyPercent:      d("40"),
		IntensivePercent:    d("30"),
		NIATPercent:         d("30"),
		VerifiedDescription: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.UpdatedCount)
	assert.Equal(t, contrib.AllocationSubmitted, f.adaAllocation(t).Status)
}

func TestSubmitBatch_PercentOverflowRejectedPerEntry(t *testing.T) {
	// One invalid entry does not block the rest of the batch.
	f := newFixture(t)

	res, err := f.engine.SubmitBatch(context.Background(), f.podID, f.month, f.lead.ID, []workflow.Edit{
		{
			EmployeeID:       f.ada.ID,
			Product:          contrib.ProductAcademy,
			AcademyPercent:   d("60"),
			IntensivePercent: d("50"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Summary.UpdatedCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "exceeds 100%")

	// No state change on the rejected entry.
	a := f.adaAllocation(t)
	assert.Equal(t, contrib.AllocationPending, a.Status)
	assert.True(t, a.AcademyPercent.IsZero())
}

func TestSubmitBatch_UnknownTripleIsAnErrorEntry(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.SubmitBatch(context.Background(), f.podID, f.month, f.lead.ID, []workflow.Edit{{
		EmployeeID:     f.ada.ID,
		Product:        contrib.ProductNIAT, // no allocation seeded for NIAT
		AcademyPercent: d("10"),
	}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "not found")
}

func TestSubmitBatch_WrongPodIsPermissionDenied(t *testing.T) {
	// The pod guard is a hard failure, not an error entry.
	f := newFixture(t)

	_, err := f.engine.SubmitBatch(context.Background(), f.podID+100, f.month, f.lead.ID, nil)
	assert.ErrorIs(t, err, contrib.ErrPermissionDenied)

	// So is a submitter without the POD_LEAD role.
	_, err = f.engine.SubmitBatch(context.Background(), f.podID, f.month, f.ada.ID, nil)
	assert.ErrorIs(t, err, contrib.ErrPermissionDenied)
}

func TestSubmitBatch_CrossLeadMismatchIsAnErrorEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherLead, err := f.st.UpsertEmployee(ctx, contrib.Employee{
		Code: "LEAD02", Name: "Omar Other", Email: "omar@example.com",
		PodID: &f.podID, Role: contrib.RolePodLead,
	})
	require.NoError(t, err)

	res, err := f.engine.SubmitBatch(ctx, f.podID, f.month, otherLead.ID, []workflow.Edit{{
		EmployeeID:     f.ada.ID,
		Product:        contrib.ProductAcademy,
		AcademyPercent: d("10"),
	}})
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "does not belong to this Pod Lead")
}

// =============================================================================
// PROCESSING TESTS
// =============================================================================

func submitVerified(t *testing.T, f *fixture, academy, intensive, niat string) {
	t.Helper()
	res, err := f.engine.SubmitBatch(context.Background(), f.podID, f.month, f.lead.ID, []workflow.Edit{{
		EmployeeID:          f.ada.ID,
		Product:             contrib.ProductAcademy,
		AcademyPercent:      d(academy),
		IntensivePercent:    d(intensive),
		NIATPercent:         d(niat),
		VerifiedDescription: true,
	}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.UpdatedCount)
}

func TestProcess_RecordsFormat_HoursComputation(t *testing.T) {
	// GIVEN: a SUBMITTED allocation of 40% Academy on a 160h baseline
	// WHEN: processing with format records
	// THEN: one Academy fact with 64.00 hours, none for zero-percent products

	f := newFixture(t)
	ctx := context.Background()
	submitVerified(t, f, "40", "0", "0")

	res, err := f.engine.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.CreatedRecords)

	recs, err := f.st.ListContributions(ctx, contrib.ContributionFilter{Month: &f.month})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Academy", recs[0].ProductName)
	assert.True(t, recs[0].EffortHours.Equal(d("64.00")), "got %s", recs[0].EffortHours)
	assert.Contains(t, recs[0].Description, "Allocated 40% via Pod Lead allocation")
	assert.NotZero(t, recs[0].SourceFileID)

	assert.Equal(t, contrib.AllocationProcessed, f.adaAllocation(t).Status)
}

func TestProcess_SecondCallFindsNothing(t *testing.T) {
	// Re-processing selects SUBMITTED rows only, so a retry is a no-op.
	f := newFixture(t)
	ctx := context.Background()
	submitVerified(t, f, "40", "30", "30")

	res, err := f.engine.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 3, res.CreatedRecords)

	res, err = f.engine.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ProcessedCount)
}

func TestProcess_CSVFormat(t *testing.T) {
	f := newFixture(t)
	submitVerified(t, f, "25", "25", "50")

	res, err := f.engine.Process(context.Background(), f.podID, f.month, f.admin.ID, workflow.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, "pod_allocations_2025-03.csv", res.CSVFileName)

	assert.Contains(t, res.CSV, "employee_code,employee_name,email,department,pod")
	assert.Contains(t, res.CSV, "EMP001")
	assert.Contains(t, res.CSV, "40.00")  // 25% of 160
	assert.Contains(t, res.CSV, "80.00")  // 50% of 160
	assert.Contains(t, res.CSV, "pod_lead_allocation_2025-03")

	assert.Equal(t, contrib.AllocationProcessed, f.adaAllocation(t).Status)
}

func TestProcess_RequiresAdminOrCEO(t *testing.T) {
	f := newFixture(t)
	submitVerified(t, f, "40", "0", "0")

	_, err := f.engine.Process(context.Background(), f.podID, f.month, f.lead.ID, workflow.FormatRecords)
	assert.ErrorIs(t, err, contrib.ErrPermissionDenied)

	// Nothing was converted.
	assert.Equal(t, contrib.AllocationSubmitted, f.adaAllocation(t).Status)
}

func TestProcess_UnknownFormatIsValidationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Process(context.Background(), f.podID, f.month, f.admin.ID, "xml")
	assert.ErrorIs(t, err, contrib.ErrValidation)
}

// claimRaceStore simulates a concurrent Process call having already claimed
// some allocations: their compare-and-set updates report a state conflict.
type claimRaceStore struct {
	*store.Memory
	taken map[int64]bool
}

func (s *claimRaceStore) UpdateAllocation(ctx context.Context, a *contrib.Allocation) error {
	if s.taken[a.ID] {
		return &contrib.StateConflictError{
			AllocationID: a.ID,
			From:         contrib.AllocationProcessed,
			To:           a.Status,
		}
	}
	return s.Memory.UpdateAllocation(ctx, a)
}

func TestProcess_LostClaimCreatesNoRecords(t *testing.T) {
	// GIVEN: a Process call racing another that already claimed every
	//        SUBMITTED allocation it read
	// WHEN: every claim loses the compare-and-set
	// THEN: a state conflict comes back and no contribution records or
	//       synthetic raw files were written — the winner converts alone

	f := newFixture(t)
	ctx := context.Background()
	submitVerified(t, f, "40", "0", "0")

	racing := &claimRaceStore{Memory: f.st, taken: map[int64]bool{f.adaAllocation(t).ID: true}}
	loser := workflow.NewEngine(racing)

	_, err := loser.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	assert.ErrorIs(t, err, contrib.ErrStateConflict)

	recs, err := f.st.ListContributions(ctx, contrib.ContributionFilter{Month: &f.month})
	require.NoError(t, err)
	assert.Empty(t, recs)

	files, err := f.st.ListRawFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	// The winner is still free to convert, exactly once.
	res, err := f.engine.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedRecords)

	recs, err = f.st.ListContributions(ctx, contrib.ContributionFilter{Month: &f.month})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestProcess_SplitClaimsConvertEachAllocationOnce(t *testing.T) {
	// Two racing Process calls may split the claims; each converts only
	// what it won so every allocation yields exactly one set of facts.

	f := newFixture(t)
	ctx := context.Background()

	bob, err := f.st.UpsertEmployee(ctx, contrib.Employee{
		Code: "EMP002", Name: "Bob Builder", Email: "bob@example.com",
		DepartmentID: f.ada.DepartmentID, PodID: &f.podID,
	})
	require.NoError(t, err)
	bobAlloc := &contrib.Allocation{
		EmployeeID:          bob.ID,
		PodLeadID:           f.lead.ID,
		Month:               f.month,
		Product:             contrib.ProductAcademy,
		AcademyPercent:      d("50"),
		VerifiedDescription: true,
		BaselineHours:       contrib.DefaultBaselineHours,
		Status:              contrib.AllocationSubmitted,
	}
	require.NoError(t, f.st.UpsertAllocation(ctx, bobAlloc))
	submitVerified(t, f, "40", "0", "0")

	// Ada's allocation is already claimed by the other call.
	racing := &claimRaceStore{Memory: f.st, taken: map[int64]bool{f.adaAllocation(t).ID: true}}
	engine := workflow.NewEngine(racing)

	res, err := engine.Process(ctx, f.podID, f.month, f.admin.ID, workflow.FormatRecords)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.CreatedRecords)

	recs, err := f.st.ListContributions(ctx, contrib.ContributionFilter{Month: &f.month})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "EMP002", recs[0].EmployeeCode)
	assert.True(t, recs[0].EffortHours.Equal(d("80.00")), "got %s", recs[0].EffortHours)
}

func TestProcess_VersionRace(t *testing.T) {
	// GIVEN: an allocation whose version moved underneath a Process call
	// WHEN: the stale update lands
	// THEN: the store reports a state conflict

	f := newFixture(t)
	ctx := context.Background()
	submitVerified(t, f, "40", "0", "0")

	stale := f.adaAllocation(t)
	stale.Version-- // simulate a concurrent writer having bumped it
	err := f.st.UpdateAllocation(ctx, stale)
	assert.ErrorIs(t, err, contrib.ErrStateConflict)
}
