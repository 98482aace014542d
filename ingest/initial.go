package ingest

import (
	"context"
	"sort"
	"strings"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/parser"
)

// =============================================================================
// INITIAL WORKBOOK UPLOAD - seeds the allocation workflow
// =============================================================================

// PodSeed is one pod found in the initial workbook, with the employees and
// product lines grouped under it.
type PodSeed struct {
	PodID       int64                  `json:"pod_id"`
	PodName     string                 `json:"pod_name"`
	PodLeadCode string                 `json:"pod_lead_code"`
	Employees   []parser.EmployeeSheet `json:"-"`
}

// SkippedPod names a pod that could not be seeded and why.
type SkippedPod struct {
	PodName       string `json:"pod_name"`
	EmployeeCount int    `json:"employee_count"`
	Reason        string `json:"reason"`
}

// TeamSeed groups a department's pods for the response.
type TeamSeed struct {
	Department  string       `json:"department"`
	Pods        []PodSeed    `json:"pods"`
	SkippedPods []SkippedPod `json:"skipped_pods"`
}

type InitialSummary struct {
	CreatedAllocations int    `json:"created_allocations"`
	TotalEmployees     int    `json:"total_employees"`
	TotalPodsInFile    int    `json:"total_pods_in_file"`
	PodsSeeded         int    `json:"pods_seeded"`
	PodsSkipped        int    `json:"pods_skipped"`
	Month              string `json:"month"`
}

type InitialResult struct {
	Summary InitialSummary     `json:"summary"`
	Teams   []TeamSeed         `json:"teams"`
	Errors  []contrib.RowError `json:"errors"`
}

// UploadInitial parses an initial workbook and seeds the allocation workflow
// for the given month: employees are upserted into the pods the file names,
// and one PENDING allocation is created per employee x product line. Pods
// without a POD_LEAD member are skipped, not failed. An existing
// (employee, product, month) allocation is left untouched.
func (s *Service) UploadInitial(ctx context.Context, data []byte, month contrib.Month) (*InitialResult, error) {
	parsed, err := parser.ParseInitial(data)
	if err != nil {
		return nil, err
	}
	if len(parsed.Employees) == 0 && len(parsed.Errors) > 0 {
		return nil, &contrib.BatchValidationError{Message: "Failed to parse initial workbook", Rows: parsed.Errors}
	}

	// Group employees pod-first; department comes from the same rows. Only
	// pods named in the file are seeded, never the whole database.
	type podGroup struct {
		department string
		employees  []*parser.EmployeeSheet
	}
	groups := map[string]*podGroup{}
	var podOrder []string
	for _, code := range parsed.Order {
		es := parsed.Employees[code]
		podName := strings.TrimSpace(es.Pod)
		deptName := strings.TrimSpace(es.Department)
		if podName == "" || deptName == "" {
			continue
		}
		g, ok := groups[podName]
		if !ok {
			g = &podGroup{department: deptName}
			groups[podName] = g
			podOrder = append(podOrder, podName)
		}
		g.employees = append(g.employees, es)
	}

	res := &InitialResult{Errors: parsed.Errors}
	teams := map[string]*TeamSeed{}

	for _, podName := range podOrder {
		g := groups[podName]

		team, ok := teams[g.department]
		if !ok {
			team = &TeamSeed{Department: g.department}
			teams[g.department] = team
		}

		dept, err := s.store.GetOrCreateDepartment(ctx, g.department)
		if err != nil {
			return nil, err
		}
		pod, err := s.store.GetOrCreatePod(ctx, podName, dept.ID)
		if err != nil {
			return nil, err
		}

		// Upsert the pod's employees before looking for its lead, so a lead
		// first mentioned in this file still counts.
		for _, es := range g.employees {
			if _, err := s.store.UpsertEmployee(ctx, contrib.Employee{
				Code:         es.EmployeeCode,
				Name:         es.EmployeeName,
				Email:        es.Email,
				DepartmentID: &dept.ID,
				PodID:        &pod.ID,
			}); err != nil {
				return nil, err
			}
		}

		lead, err := s.podLead(ctx, pod.ID)
		if err != nil {
			return nil, err
		}
		if lead == nil {
			team.SkippedPods = append(team.SkippedPods, SkippedPod{
				PodName:       podName,
				EmployeeCount: len(g.employees),
				Reason:        "No Pod Lead assigned",
			})
			continue
		}

		for _, es := range g.employees {
			emp, err := s.store.GetEmployeeByCode(ctx, es.EmployeeCode)
			if err != nil {
				return nil, err
			}
			baseline := emp.BaselineHours
			if baseline.IsZero() {
				baseline = contrib.DefaultBaselineHours
			}

			for _, p := range es.Products {
				existing, err := s.store.GetAllocationByTriple(ctx, emp.ID, p.Product, month)
				if err != nil {
					return nil, err
				}
				if existing != nil {
					continue
				}
				if err := s.store.UpsertAllocation(ctx, &contrib.Allocation{
					EmployeeID:         emp.ID,
					PodLeadID:          lead.ID,
					Month:              month,
					Product:            p.Product,
					ProductDescription: p.Description,
					BaselineHours:      baseline,
					Status:             contrib.AllocationPending,
				}); err != nil {
					return nil, err
				}
				res.Summary.CreatedAllocations++
			}
		}

		team.Pods = append(team.Pods, PodSeed{
			PodID:       pod.ID,
			PodName:     pod.Name,
			PodLeadCode: lead.Code,
			Employees:   copySheets(g.employees),
		})
	}

	var deptNames []string
	for name := range teams {
		deptNames = append(deptNames, name)
	}
	sort.Strings(deptNames)
	for _, name := range deptNames {
		team := teams[name]
		res.Summary.PodsSeeded += len(team.Pods)
		res.Summary.PodsSkipped += len(team.SkippedPods)
		res.Teams = append(res.Teams, *team)
	}

	res.Summary.TotalEmployees = len(parsed.Employees)
	res.Summary.TotalPodsInFile = len(podOrder)
	res.Summary.Month = month.String()
	return res, nil
}

// podLead returns the pod's POD_LEAD member, nil when the pod has none.
func (s *Service) podLead(ctx context.Context, podID int64) (*contrib.Employee, error) {
	members, err := s.store.ListEmployeesByPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i].Role == contrib.RolePodLead {
			return &members[i], nil
		}
	}
	return nil, nil
}

func copySheets(in []*parser.EmployeeSheet) []parser.EmployeeSheet {
	out := make([]parser.EmployeeSheet, len(in))
	for i, es := range in {
		out[i] = *es
	}
	return out
}
