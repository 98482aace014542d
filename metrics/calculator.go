package metrics

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/orgpulse/contrib-engine/contrib"
)

// =============================================================================
// BREAKDOWN TYPES
// =============================================================================

// ProductBreakdown is one product's share of a total.
type ProductBreakdown struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Hours       decimal.Decimal `json:"hours"`
	Percent     decimal.Decimal `json:"percent"`
}

// FeatureBreakdown is one feature's share of an employee total. A nil
// FeatureID is the "unassigned" bucket; distinct descriptions under it stay
// distinct buckets.
type FeatureBreakdown struct {
	FeatureID   *int64          `json:"feature_id"`
	FeatureName string          `json:"feature_name"`
	Hours       decimal.Decimal `json:"hours"`
	Percent     decimal.Decimal `json:"percent"`
	Description string          `json:"description,omitempty"`
}

// DepartmentSummary is a top-N entry: raw hours, not percent-normalized.
type DepartmentSummary struct {
	DepartmentID   int64           `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	Hours          decimal.Decimal `json:"hours"`
}

// PodSummary is a top-N entry with its share of the org total.
type PodSummary struct {
	PodID          int64           `json:"pod_id"`
	PodName        string          `json:"pod_name"`
	DepartmentID   int64           `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	Hours          decimal.Decimal `json:"hours"`
	Percent        decimal.Decimal `json:"percent"`
}

// DepartmentBreakdown nests a product split normalized to the department's
// own total, not the org total.
type DepartmentBreakdown struct {
	DepartmentID   int64              `json:"department_id"`
	DepartmentName string             `json:"department_name"`
	TotalHours     decimal.Decimal    `json:"total_hours"`
	Products       []ProductBreakdown `json:"products"`
}

// PodBreakdown nests a product split normalized to the pod's own total.
type PodBreakdown struct {
	PodID      int64              `json:"pod_id"`
	PodName    string             `json:"pod_name"`
	TotalHours decimal.Decimal    `json:"total_hours"`
	Products   []ProductBreakdown `json:"products"`
}

// EmployeeBreakdown nests a product split normalized to the employee's own
// total. Zero-hour employees carry an empty product list.
type EmployeeBreakdown struct {
	EmployeeID   int64              `json:"employee_id"`
	EmployeeCode string             `json:"employee_code"`
	EmployeeName string             `json:"employee_name"`
	TotalHours   decimal.Decimal    `json:"total_hours"`
	Products     []ProductBreakdown `json:"products"`
}

// OrgMetrics is the month-wide view.
type OrgMetrics struct {
	Month               string                `json:"month"`
	TotalHours          decimal.Decimal       `json:"total_hours"`
	Products            []ProductBreakdown    `json:"products"`
	TopDepartments      []DepartmentSummary   `json:"top_departments"`
	TopPods             []PodSummary          `json:"top_pods"`
	DepartmentBreakdown []DepartmentBreakdown `json:"department_breakdown"`
}

type DepartmentMetrics struct {
	DepartmentID        int64              `json:"department_id"`
	DepartmentName      string             `json:"department_name"`
	Month               string             `json:"month"`
	TotalHours          decimal.Decimal    `json:"total_hours"`
	Pods                []PodBreakdown     `json:"pods"`
	ProductDistribution []ProductBreakdown `json:"product_distribution"`
}

type PodMetrics struct {
	PodID      int64               `json:"pod_id"`
	PodName    string              `json:"pod_name"`
	Month      string              `json:"month"`
	TotalHours decimal.Decimal     `json:"total_hours"`
	Products   []ProductBreakdown  `json:"products"`
	Employees  []EmployeeBreakdown `json:"employees"`
}

type EmployeeMetrics struct {
	EmployeeID   int64              `json:"employee_id"`
	EmployeeCode string             `json:"employee_code"`
	EmployeeName string             `json:"employee_name"`
	Month        string             `json:"month"`
	TotalHours   decimal.Decimal    `json:"total_hours"`
	Products     []ProductBreakdown `json:"products"`
	Features     []FeatureBreakdown `json:"features"`
}

// =============================================================================
// CALCULATOR
// =============================================================================

const topN = 10

// Calculator computes the four metric levels from stored contributions.
type Calculator struct {
	store interface {
		contrib.EntityStore
		contrib.ContributionStore
	}
}

func NewCalculator(store contrib.Store) *Calculator {
	return &Calculator{store: store}
}

// grouping keys

type productKey struct {
	ID   int64
	Name string
}

type deptKey struct {
	ID   int64
	Name string
}

type podKey struct {
	ID       int64
	Name     string
	DeptID   int64
	DeptName string
}

type featureKey struct {
	ID          int64 // 0 means unassigned
	Name        string
	Description string
}

// productSplit turns a grouper into a breakdown normalized to total,
// ordered hours-descending.
func productSplit(g *Grouper[productKey], total decimal.Decimal) []ProductBreakdown {
	buckets := g.SortedByHoursDesc()
	hours := make([]decimal.Decimal, len(buckets))
	for i, b := range buckets {
		hours[i] = b.Hours
	}
	percents := Percentages(hours, total)

	out := make([]ProductBreakdown, len(buckets))
	for i, b := range buckets {
		out[i] = ProductBreakdown{
			ProductID:   b.Key.ID,
			ProductName: b.Key.Name,
			Hours:       b.Hours,
			Percent:     percents[i],
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// ORG LEVEL
// -----------------------------------------------------------------------------

func (c *Calculator) Org(ctx context.Context, month contrib.Month) (*OrgMetrics, error) {
	total, err := c.store.TotalHoursByMonth(ctx, month)
	if err != nil {
		return nil, err
	}
	recs, err := c.store.ListContributions(ctx, contrib.ContributionFilter{Month: &month})
	if err != nil {
		return nil, err
	}

	products := NewGrouper[productKey]()
	depts := NewGrouper[deptKey]()
	pods := NewGrouper[podKey]()
	for _, r := range recs {
		products.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
		depts.Add(deptKey{r.DepartmentID, r.DepartmentName}, r.EffortHours)
		pods.Add(podKey{r.PodID, r.PodName, r.DepartmentID, r.DepartmentName}, r.EffortHours)
	}

	m := &OrgMetrics{
		Month:      month.String(),
		TotalHours: total,
		Products:   productSplit(products, total),
	}

	for i, b := range depts.SortedByHoursDesc() {
		if i == topN {
			break
		}
		m.TopDepartments = append(m.TopDepartments, DepartmentSummary{
			DepartmentID:   b.Key.ID,
			DepartmentName: b.Key.Name,
			Hours:          b.Hours,
		})
	}

	for i, b := range pods.SortedByHoursDesc() {
		if i == topN {
			break
		}
		m.TopPods = append(m.TopPods, PodSummary{
			PodID:          b.Key.ID,
			PodName:        b.Key.Name,
			DepartmentID:   b.Key.DeptID,
			DepartmentName: b.Key.DeptName,
			Hours:          b.Hours,
			Percent:        percentOf(b.Hours, total),
		})
	}

	// Nested department -> product split, each normalized to the
	// department's own total.
	perDept := make(map[deptKey]*Grouper[productKey])
	for _, r := range recs {
		k := deptKey{r.DepartmentID, r.DepartmentName}
		g, ok := perDept[k]
		if !ok {
			g = NewGrouper[productKey]()
			perDept[k] = g
		}
		g.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
	}
	for _, b := range depts.Buckets() {
		g := perDept[b.Key]
		m.DepartmentBreakdown = append(m.DepartmentBreakdown, DepartmentBreakdown{
			DepartmentID:   b.Key.ID,
			DepartmentName: b.Key.Name,
			TotalHours:     g.Total(),
			Products:       productSplit(g, g.Total()),
		})
	}

	return m, nil
}

// -----------------------------------------------------------------------------
// DEPARTMENT LEVEL
// -----------------------------------------------------------------------------

func (c *Calculator) Department(ctx context.Context, departmentID int64, month contrib.Month) (*DepartmentMetrics, error) {
	dept, err := c.store.GetDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	total, err := c.store.TotalHoursByDepartment(ctx, departmentID, month)
	if err != nil {
		return nil, err
	}
	recs, err := c.store.ListContributions(ctx, contrib.ContributionFilter{
		Month:        &month,
		DepartmentID: &departmentID,
	})
	if err != nil {
		return nil, err
	}

	products := NewGrouper[productKey]()
	pods := NewGrouper[podKey]()
	perPod := make(map[int64]*Grouper[productKey])
	for _, r := range recs {
		products.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
		pods.Add(podKey{ID: r.PodID, Name: r.PodName}, r.EffortHours)
		g, ok := perPod[r.PodID]
		if !ok {
			g = NewGrouper[productKey]()
			perPod[r.PodID] = g
		}
		g.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
	}

	m := &DepartmentMetrics{
		DepartmentID:        departmentID,
		DepartmentName:      dept.Name,
		Month:               month.String(),
		TotalHours:          total,
		ProductDistribution: productSplit(products, total),
	}

	// Only pods that actually contributed hours appear; each pod's product
	// split is normalized to the pod's own total.
	for _, b := range pods.SortedByHoursDesc() {
		if !b.Hours.IsPositive() {
			continue
		}
		g := perPod[b.Key.ID]
		m.Pods = append(m.Pods, PodBreakdown{
			PodID:      b.Key.ID,
			PodName:    b.Key.Name,
			TotalHours: b.Hours,
			Products:   productSplit(g, b.Hours),
		})
	}

	return m, nil
}

// -----------------------------------------------------------------------------
// POD LEVEL
// -----------------------------------------------------------------------------

func (c *Calculator) Pod(ctx context.Context, podID int64, month contrib.Month) (*PodMetrics, error) {
	pod, err := c.store.GetPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	total, err := c.store.TotalHoursByPod(ctx, podID, month)
	if err != nil {
		return nil, err
	}
	recs, err := c.store.ListContributions(ctx, contrib.ContributionFilter{
		Month: &month,
		PodID: &podID,
	})
	if err != nil {
		return nil, err
	}

	products := NewGrouper[productKey]()
	perEmployee := make(map[int64]*Grouper[productKey])
	for _, r := range recs {
		products.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
		g, ok := perEmployee[r.EmployeeID]
		if !ok {
			g = NewGrouper[productKey]()
			perEmployee[r.EmployeeID] = g
		}
		g.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)
	}

	m := &PodMetrics{
		PodID:      podID,
		PodName:    pod.Name,
		Month:      month.String(),
		TotalHours: total,
	}
	if total.IsPositive() {
		m.Products = productSplit(products, total)
	}

	// Every current pod member appears, contributions or not; zero-hour
	// members carry an empty product list.
	members, err := c.store.ListEmployeesByPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	for _, e := range members {
		eb := EmployeeBreakdown{
			EmployeeID:   e.ID,
			EmployeeCode: e.Code,
			EmployeeName: e.Name,
			TotalHours:   decimal.Zero,
		}
		if g, ok := perEmployee[e.ID]; ok {
			eb.TotalHours = g.Total()
			if eb.TotalHours.IsPositive() {
				eb.Products = productSplit(g, eb.TotalHours)
			}
		}
		m.Employees = append(m.Employees, eb)
	}
	// Hours descending; ListEmployeesByPod's name order breaks ties.
	sort.SliceStable(m.Employees, func(i, j int) bool {
		return m.Employees[i].TotalHours.GreaterThan(m.Employees[j].TotalHours)
	})

	return m, nil
}

// -----------------------------------------------------------------------------
// EMPLOYEE LEVEL
// -----------------------------------------------------------------------------

func (c *Calculator) Employee(ctx context.Context, employeeID int64, month contrib.Month) (*EmployeeMetrics, error) {
	emp, err := c.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	total, err := c.store.TotalHoursByEmployee(ctx, employeeID, month)
	if err != nil {
		return nil, err
	}
	recs, err := c.store.ListContributions(ctx, contrib.ContributionFilter{
		Month:      &month,
		EmployeeID: &employeeID,
	})
	if err != nil {
		return nil, err
	}

	products := NewGrouper[productKey]()
	features := NewGrouper[featureKey]()
	for _, r := range recs {
		products.Add(productKey{r.ProductID, r.ProductName}, r.EffortHours)

		fk := featureKey{Name: "unassigned", Description: r.Description}
		if r.FeatureID != nil {
			fk.ID = *r.FeatureID
			fk.Name = r.FeatureName
		}
		features.Add(fk, r.EffortHours)
	}

	m := &EmployeeMetrics{
		EmployeeID:   employeeID,
		EmployeeCode: emp.Code,
		EmployeeName: emp.Name,
		Month:        month.String(),
		TotalHours:   total,
	}
	if !total.IsPositive() {
		return m, nil
	}

	m.Products = productSplit(products, total)

	buckets := features.SortedByHoursDesc()
	hours := make([]decimal.Decimal, len(buckets))
	for i, b := range buckets {
		hours[i] = b.Hours
	}
	percents := Percentages(hours, total)
	for i, b := range buckets {
		fb := FeatureBreakdown{
			FeatureName: b.Key.Name,
			Hours:       b.Hours,
			Percent:     percents[i],
			Description: b.Key.Description,
		}
		if b.Key.ID != 0 {
			id := b.Key.ID
			fb.FeatureID = &id
		}
		m.Features = append(m.Features, fb)
	}

	return m, nil
}
