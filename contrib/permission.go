/*
permission.go - Role capability checks

PURPOSE:
  A single pure decision function over (role, capability, ownership facts)
  replaces per-operation permission checks scattered through handlers.
  Every workflow entry point calls Authorize with the caller's role and the
  ownership facts relevant to the target resource; the function itself
  touches no storage.

CAPABILITY MATRIX:
  UploadFile           HOD, ADMIN, CEO, AUTOMATION
  ViewOrgMetrics       CEO, ADMIN
  ViewDepartment       CEO, ADMIN; HOD of that department
  ViewPod              CEO, ADMIN, HOD; POD_LEAD of that pod
  ViewEmployee         self; CEO, HOD, ADMIN; POD_LEAD of the same pod
  SubmitAllocations    POD_LEAD of that pod
  ProcessAllocations   ADMIN, CEO
*/
package contrib

import "fmt"

// Capability names an operation gated by role.
type Capability string

const (
	CapUploadFile         Capability = "upload_file"
	CapViewOrgMetrics     Capability = "view_org_metrics"
	CapViewDepartment     Capability = "view_department"
	CapViewPod            Capability = "view_pod"
	CapViewEmployee       Capability = "view_employee"
	CapSubmitAllocations  Capability = "submit_allocations"
	CapProcessAllocations Capability = "process_allocations"
)

// Facts carries the ownership relations between the caller and the target
// resource. Callers compute these from entity data before asking.
type Facts struct {
	SameDepartment bool // caller's department matches the target's
	SamePod        bool // caller's pod matches the target's
	Self           bool // the target employee is the caller
}

// Allowed is the pure capability decision.
func Allowed(role Role, cap Capability, f Facts) bool {
	switch cap {
	case CapUploadFile:
		return role == RoleHOD || role == RoleAdmin || role == RoleCEO || role == RoleAutomation
	case CapViewOrgMetrics:
		return role == RoleCEO || role == RoleAdmin
	case CapViewDepartment:
		if role == RoleCEO || role == RoleAdmin {
			return true
		}
		return role == RoleHOD && f.SameDepartment
	case CapViewPod:
		if role == RoleCEO || role == RoleAdmin || role == RoleHOD {
			return true
		}
		return role == RolePodLead && f.SamePod
	case CapViewEmployee:
		if f.Self {
			return true
		}
		if role == RoleCEO || role == RoleHOD || role == RoleAdmin {
			return true
		}
		return role == RolePodLead && f.SamePod
	case CapSubmitAllocations:
		return role == RolePodLead && f.SamePod
	case CapProcessAllocations:
		return role == RoleAdmin || role == RoleCEO
	}
	return false
}

// Authorize wraps Allowed into the error taxonomy.
func Authorize(role Role, cap Capability, f Facts) error {
	if Allowed(role, cap, f) {
		return nil
	}
	return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, role, cap)
}
