// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of contrib.Store
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	nextID int64

	departments map[string]*contrib.Department // by lowercase name
	pods        map[podKey]*contrib.Pod
	products    map[string]*contrib.Product // by lowercase name
	features    map[featureKey]*contrib.Feature
	employees   map[string]*contrib.Employee // by code

	rawFiles      []*contrib.RawFile
	contributions []*contrib.ContributionRecord
	allocations   []*contrib.Allocation
}

type podKey struct {
	Name         string
	DepartmentID int64
}

type featureKey struct {
	Name      string
	ProductID int64
}

func NewMemory() *Memory {
	return &Memory{
		departments: make(map[string]*contrib.Department),
		pods:        make(map[podKey]*contrib.Pod),
		products:    make(map[string]*contrib.Product),
		features:    make(map[featureKey]*contrib.Feature),
		employees:   make(map[string]*contrib.Employee),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// ENTITY STORE
// =============================================================================

func (m *Memory) GetOrCreateDepartment(_ context.Context, name string) (*contrib.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := strings.ToLower(name)
	if d, ok := m.departments[k]; ok {
		c := *d
		return &c, nil
	}
	d := &contrib.Department{ID: m.id(), Name: name, CreatedAt: time.Now().UTC()}
	m.departments[k] = d
	c := *d
	return &c, nil
}

func (m *Memory) GetOrCreatePod(_ context.Context, name string, departmentID int64) (*contrib.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := podKey{Name: strings.ToLower(name), DepartmentID: departmentID}
	if p, ok := m.pods[k]; ok {
		c := *p
		return &c, nil
	}
	p := &contrib.Pod{ID: m.id(), Name: name, DepartmentID: departmentID, CreatedAt: time.Now().UTC()}
	m.pods[k] = p
	c := *p
	return &c, nil
}

func (m *Memory) GetOrCreateProduct(_ context.Context, name string) (*contrib.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := strings.ToLower(name)
	if p, ok := m.products[k]; ok {
		c := *p
		return &c, nil
	}
	p := &contrib.Product{ID: m.id(), Name: name, CreatedAt: time.Now().UTC()}
	m.products[k] = p
	c := *p
	return &c, nil
}

func (m *Memory) GetOrCreateFeature(_ context.Context, name string, productID int64, description string) (*contrib.Feature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := featureKey{Name: strings.ToLower(name), ProductID: productID}
	if f, ok := m.features[k]; ok {
		c := *f
		return &c, nil
	}
	f := &contrib.Feature{ID: m.id(), ProductID: productID, Name: name, Description: description, CreatedAt: time.Now().UTC()}
	m.features[k] = f
	c := *f
	return &c, nil
}

func (m *Memory) UpsertEmployee(_ context.Context, e contrib.Employee) (*contrib.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.employees[e.Code]; ok {
		// Last-write-wins on mutable attributes.
		existing.Name = e.Name
		existing.Email = e.Email
		if e.DepartmentID != nil {
			existing.DepartmentID = e.DepartmentID
		}
		if e.PodID != nil {
			existing.PodID = e.PodID
		}
		if e.Role != "" {
			existing.Role = e.Role
		}
		if !e.BaselineHours.IsZero() {
			existing.BaselineHours = e.BaselineHours
		}
		c := *existing
		return &c, nil
	}

	n := e
	n.ID = m.id()
	if n.Role == "" {
		n.Role = contrib.RoleEmployee
	}
	if n.BaselineHours.IsZero() {
		n.BaselineHours = contrib.DefaultBaselineHours
	}
	n.CreatedAt = time.Now().UTC()
	m.employees[n.Code] = &n
	c := n
	return &c, nil
}

func (m *Memory) GetDepartment(_ context.Context, id int64) (*contrib.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.departments {
		if d.ID == id {
			c := *d
			return &c, nil
		}
	}
	return nil, &contrib.NotFoundError{Kind: "department", ID: id}
}

func (m *Memory) GetPod(_ context.Context, id int64) (*contrib.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.pods {
		if p.ID == id {
			c := *p
			c.DepartmentName = m.departmentNameLocked(p.DepartmentID)
			return &c, nil
		}
	}
	return nil, &contrib.NotFoundError{Kind: "pod", ID: id}
}

func (m *Memory) GetProductByName(_ context.Context, name string) (*contrib.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.products[strings.ToLower(name)]; ok {
		c := *p
		return &c, nil
	}
	return nil, &contrib.NotFoundError{Kind: "product", ID: 0}
}

func (m *Memory) GetEmployee(_ context.Context, id int64) (*contrib.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.employees {
		if e.ID == id {
			return m.employeeCopyLocked(e), nil
		}
	}
	return nil, &contrib.NotFoundError{Kind: "employee", ID: id}
}

func (m *Memory) GetEmployeeByCode(_ context.Context, code string) (*contrib.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.employees[code]; ok {
		return m.employeeCopyLocked(e), nil
	}
	return nil, &contrib.NotFoundError{Kind: "employee", ID: 0}
}

func (m *Memory) ListEmployeesByPod(_ context.Context, podID int64) ([]contrib.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contrib.Employee
	for _, e := range m.employees {
		if e.PodID != nil && *e.PodID == podID {
			out = append(out, *m.employeeCopyLocked(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) employeeCopyLocked(e *contrib.Employee) *contrib.Employee {
	c := *e
	if e.DepartmentID != nil {
		c.DepartmentName = m.departmentNameLocked(*e.DepartmentID)
	}
	if e.PodID != nil {
		c.PodName = m.podNameLocked(*e.PodID)
	}
	return &c
}

func (m *Memory) departmentNameLocked(id int64) string {
	for _, d := range m.departments {
		if d.ID == id {
			return d.Name
		}
	}
	return ""
}

func (m *Memory) podNameLocked(id int64) string {
	for _, p := range m.pods {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (m *Memory) productNameLocked(id int64) string {
	for _, p := range m.products {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func (m *Memory) featureNameLocked(id int64) string {
	for _, f := range m.features {
		if f.ID == id {
			return f.Name
		}
	}
	return ""
}

// =============================================================================
// RAW FILE STORE
// =============================================================================

func (m *Memory) CreateRawFile(_ context.Context, rf *contrib.RawFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rf.Checksum != "" {
		for _, existing := range m.rawFiles {
			if existing.Checksum == rf.Checksum {
				return &contrib.DuplicateContentError{
					Checksum:       rf.Checksum,
					ExistingFileID: existing.ID,
					ExistingName:   existing.FileName,
				}
			}
		}
	}

	rf.ID = m.id()
	rf.UploadedAt = time.Now().UTC()
	c := *rf
	m.rawFiles = append(m.rawFiles, &c)
	return nil
}

func (m *Memory) GetRawFile(_ context.Context, id int64) (*contrib.RawFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rf := range m.rawFiles {
		if rf.ID == id {
			c := *rf
			return &c, nil
		}
	}
	return nil, &contrib.NotFoundError{Kind: "raw file", ID: id}
}

func (m *Memory) FindRawFileByChecksum(_ context.Context, checksum string) (*contrib.RawFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rf := range m.rawFiles {
		if rf.Checksum == checksum {
			c := *rf
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateParseSummary(_ context.Context, id int64, summary map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rf := range m.rawFiles {
		if rf.ID == id {
			rf.ParseSummary = summary
			return nil
		}
	}
	return &contrib.NotFoundError{Kind: "raw file", ID: id}
}

func (m *Memory) ListRawFiles(_ context.Context) ([]contrib.RawFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]contrib.RawFile, 0, len(m.rawFiles))
	for _, rf := range m.rawFiles {
		out = append(out, *rf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// =============================================================================
// CONTRIBUTION STORE
// =============================================================================

func (m *Memory) BulkCreateContributions(_ context.Context, recs []contrib.ContributionRecord, sourceFileID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing: validate first, then append.
	for _, r := range recs {
		if r.EffortHours.IsNegative() {
			return 0, &contrib.BatchValidationError{Message: "negative effort hours"}
		}
	}
	for _, r := range recs {
		c := r
		c.ID = m.id()
		c.SourceFileID = sourceFileID
		c.CreatedAt = time.Now().UTC()
		m.contributions = append(m.contributions, &c)
	}
	return len(recs), nil
}

func (m *Memory) DeleteBySourceFile(_ context.Context, sourceFileID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.contributions[:0]
	removed := 0
	for _, r := range m.contributions {
		if r.SourceFileID == sourceFileID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.contributions = kept
	return removed, nil
}

func (m *Memory) ListContributions(_ context.Context, f contrib.ContributionFilter) ([]contrib.ContributionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contrib.ContributionRecord
	for _, r := range m.contributions {
		if !matches(r, f) {
			continue
		}
		c := *r
		c.DepartmentName = m.departmentNameLocked(r.DepartmentID)
		c.PodName = m.podNameLocked(r.PodID)
		c.ProductName = m.productNameLocked(r.ProductID)
		if r.FeatureID != nil {
			c.FeatureName = m.featureNameLocked(*r.FeatureID)
		}
		for _, e := range m.employees {
			if e.ID == r.EmployeeID {
				c.EmployeeCode = e.Code
				c.EmployeeName = e.Name
				break
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Month.Date(), out[j].Month.Date()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return out[i].EmployeeName < out[j].EmployeeName
	})
	return out, nil
}

func matches(r *contrib.ContributionRecord, f contrib.ContributionFilter) bool {
	if f.Month != nil && r.Month != *f.Month {
		return false
	}
	if f.DepartmentID != nil && r.DepartmentID != *f.DepartmentID {
		return false
	}
	if f.PodID != nil && r.PodID != *f.PodID {
		return false
	}
	if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
		return false
	}
	if f.ProductID != nil && r.ProductID != *f.ProductID {
		return false
	}
	return true
}

func (m *Memory) TotalHoursByMonth(ctx context.Context, mo contrib.Month) (decimal.Decimal, error) {
	return m.total(contrib.ContributionFilter{Month: &mo})
}

func (m *Memory) TotalHoursByDepartment(ctx context.Context, departmentID int64, mo contrib.Month) (decimal.Decimal, error) {
	return m.total(contrib.ContributionFilter{Month: &mo, DepartmentID: &departmentID})
}

func (m *Memory) TotalHoursByPod(ctx context.Context, podID int64, mo contrib.Month) (decimal.Decimal, error) {
	return m.total(contrib.ContributionFilter{Month: &mo, PodID: &podID})
}

func (m *Memory) TotalHoursByEmployee(ctx context.Context, employeeID int64, mo contrib.Month) (decimal.Decimal, error) {
	return m.total(contrib.ContributionFilter{Month: &mo, EmployeeID: &employeeID})
}

func (m *Memory) total(f contrib.ContributionFilter) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, r := range m.contributions {
		if matches(r, f) {
			sum = sum.Add(r.EffortHours)
		}
	}
	return sum, nil
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

func (m *Memory) UpsertAllocation(_ context.Context, a *contrib.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.allocations {
		if existing.EmployeeID == a.EmployeeID && existing.Product == a.Product && existing.Month == a.Month {
			existing.PodLeadID = a.PodLeadID
			existing.ProductDescription = a.ProductDescription
			existing.AcademyPercent = a.AcademyPercent
			existing.IntensivePercent = a.IntensivePercent
			existing.NIATPercent = a.NIATPercent
			existing.FeaturesText = a.FeaturesText
			existing.VerifiedDescription = a.VerifiedDescription
			existing.BaselineHours = a.BaselineHours
			existing.Status = a.Status
			existing.UpdatedAt = time.Now().UTC()
			a.ID = existing.ID
			a.Version = existing.Version
			return nil
		}
	}

	n := *a
	n.ID = m.id()
	n.Version = 1
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	m.allocations = append(m.allocations, &n)
	a.ID = n.ID
	a.Version = n.Version
	return nil
}

func (m *Memory) GetAllocationByTriple(_ context.Context, employeeID int64, product string, mo contrib.Month) (*contrib.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.allocations {
		if a.EmployeeID == employeeID && a.Product == product && a.Month == mo {
			return m.allocationCopyLocked(a), nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateAllocation(_ context.Context, a *contrib.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.allocations {
		if existing.ID == a.ID {
			if existing.Version != a.Version {
				return &contrib.StateConflictError{AllocationID: a.ID, From: existing.Status, To: a.Status}
			}
			existing.AcademyPercent = a.AcademyPercent
			existing.IntensivePercent = a.IntensivePercent
			existing.NIATPercent = a.NIATPercent
			existing.FeaturesText = a.FeaturesText
			existing.VerifiedDescription = a.VerifiedDescription
			existing.Status = a.Status
			existing.Version++
			existing.UpdatedAt = time.Now().UTC()
			a.Version = existing.Version
			return nil
		}
	}
	return &contrib.NotFoundError{Kind: "allocation", ID: a.ID}
}

func (m *Memory) ListAllocationsByPodAndStatus(_ context.Context, podID int64, mo contrib.Month, status contrib.AllocationStatus) ([]contrib.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contrib.Allocation
	for _, a := range m.allocations {
		if a.Month != mo || a.Status != status {
			continue
		}
		if e := m.employeeByIDLocked(a.EmployeeID); e == nil || e.PodID == nil || *e.PodID != podID {
			continue
		}
		out = append(out, *m.allocationCopyLocked(a))
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) ListAllocationsByMonthAndStatus(_ context.Context, mo contrib.Month, status contrib.AllocationStatus) ([]contrib.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contrib.Allocation
	for _, a := range m.allocations {
		if a.Month == mo && a.Status == status {
			out = append(out, *m.allocationCopyLocked(a))
		}
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) ListAllocationsByPodLead(_ context.Context, podLeadID int64, mo contrib.Month) ([]contrib.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []contrib.Allocation
	for _, a := range m.allocations {
		if a.PodLeadID == podLeadID && a.Month == mo {
			out = append(out, *m.allocationCopyLocked(a))
		}
	}
	sortAllocations(out)
	return out, nil
}

func (m *Memory) CountAllocationsByMonthAndStatus(_ context.Context, mo contrib.Month, status contrib.AllocationStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.allocations {
		if a.Month == mo && a.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *Memory) employeeByIDLocked(id int64) *contrib.Employee {
	for _, e := range m.employees {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *Memory) allocationCopyLocked(a *contrib.Allocation) *contrib.Allocation {
	c := *a
	if e := m.employeeByIDLocked(a.EmployeeID); e != nil {
		c.EmployeeCode = e.Code
		c.EmployeeName = e.Name
	}
	if l := m.employeeByIDLocked(a.PodLeadID); l != nil {
		c.PodLeadCode = l.Code
		c.PodLeadName = l.Name
	}
	return &c
}

func sortAllocations(as []contrib.Allocation) {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].EmployeeName != as[j].EmployeeName {
			return as[i].EmployeeName < as[j].EmployeeName
		}
		return as[i].Product < as[j].Product
	})
}
