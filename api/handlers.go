/*
handlers.go - HTTP handlers for the contribution engine

PURPOSE:
  Exposes ingestion, the allocation workflow, metrics, and report
  generation over REST. Handlers parse/validate the request, delegate to
  the domain services, and serialize the result; no business rules live
  here.

ENDPOINTS:
  Uploads:
    POST   /api/uploads                     Upload canonical contributions file
    POST   /api/uploads/initial             Upload initial workbook, seed allocations
    GET    /api/uploads                     List uploaded files
    GET    /api/uploads/{id}                Upload detail with parse summary
    POST   /api/uploads/{id}/reparse        Re-run the parser over stored bytes
    GET    /api/uploads/{id}/errors.csv     Row error report

  Allocation workflow:
    POST   /api/pods/{podID}/allocations/submit   Pod Lead batch edit
    POST   /api/pods/{podID}/allocations/process  Convert SUBMITTED allocations
    GET    /api/pods/{podID}/allocation-sheet     Download the pod's sheet

  Metrics:
    GET    /api/metrics/org
    GET    /api/metrics/departments/{id}
    GET    /api/metrics/pods/{id}
    GET    /api/metrics/employees/{id}

  Reports:
    POST   /api/reports/final-master-list         Generate for a month
    GET    /api/reports/final-master-list         Download the workbook

  All month parameters are YYYY-MM.

AUTHENTICATION:
  None at the HTTP layer; callers pass the acting employee's id explicitly
  and the domain services enforce role capabilities. Metrics endpoints take
  an optional actor_id query parameter that enforces the view half of the
  capability matrix. Front the server with an authenticating proxy in
  production.

SEE ALSO:
  - dto.go: wire shapes and error mapping
  - server.go: router setup
*/
package api

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/ingest"
	"github.com/orgpulse/contrib-engine/metrics"
	"github.com/orgpulse/contrib-engine/parser"
	"github.com/orgpulse/contrib-engine/report"
	"github.com/orgpulse/contrib-engine/workflow"
)

// maxUploadBytes caps multipart parsing; spreadsheets are small.
const maxUploadBytes = 32 << 20

// Handler holds the domain services behind the HTTP surface.
type Handler struct {
	Store    contrib.Store
	Ingest   *ingest.Service
	Workflow *workflow.Engine
	Metrics  *metrics.Calculator
	Reports  *report.Generator
}

func NewHandler(store contrib.Store, ing *ingest.Service, wf *workflow.Engine, calc *metrics.Calculator, rep *report.Generator) *Handler {
	return &Handler{Store: store, Ingest: ing, Workflow: wf, Metrics: calc, Reports: rep}
}

// =============================================================================
// SHARED PARSING
// =============================================================================

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func monthParam(w http.ResponseWriter, value string) (contrib.Month, bool) {
	m, err := contrib.ParseMonth(value)
	if err != nil {
		writeBadRequest(w, "month must be YYYY-MM")
		return contrib.Month{}, false
	}
	return m, true
}

// formFile reads the uploaded "file" part into memory.
func formFile(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, err
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

// =============================================================================
// UPLOAD HANDLERS
// =============================================================================

// UploadContributions ingests a canonical-schema file posted as multipart
// form data with an uploader_id field.
func (h *Handler) UploadContributions(w http.ResponseWriter, r *http.Request) {
	name, data, err := formFile(r)
	if err != nil {
		writeBadRequest(w, "multipart form with a file part is required")
		return
	}
	uploaderID, err := strconv.ParseInt(r.FormValue("uploader_id"), 10, 64)
	if err != nil || uploaderID <= 0 {
		writeBadRequest(w, "uploader_id is required")
		return
	}

	res, err := h.Ingest.Upload(r.Context(), name, data, uploaderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type initialUploadResponse struct {
	*ingest.InitialResult
	SheetPaths map[int64]string `json:"sheet_paths"`
}

// UploadInitial seeds the allocation workflow from an initial workbook and
// generates the allocation sheet for every pod that got a lead.
func (h *Handler) UploadInitial(w http.ResponseWriter, r *http.Request) {
	_, data, err := formFile(r)
	if err != nil {
		writeBadRequest(w, "multipart form with a file part is required")
		return
	}
	month, ok := monthParam(w, r.FormValue("month"))
	if !ok {
		return
	}

	res, err := h.Ingest.UploadInitial(r.Context(), data, month)
	if err != nil {
		writeError(w, err)
		return
	}

	sheets := map[int64]string{}
	for _, team := range res.Teams {
		for _, pod := range team.Pods {
			products := map[string][]parser.ProductEntry{}
			for _, emp := range pod.Employees {
				products[emp.EmployeeCode] = emp.Products
			}
			rel, err := h.Reports.AllocationSheet(r.Context(), pod.PodID, month, products)
			if err != nil {
				writeError(w, err)
				return
			}
			sheets[pod.PodID] = rel
		}
	}

	writeJSON(w, http.StatusCreated, initialUploadResponse{InitialResult: res, SheetPaths: sheets})
}

func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	files, err := h.Store.ListRawFiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]RawFileDTO, len(files))
	for i := range files {
		dtos[i] = rawFileDTO(&files[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid upload id")
		return
	}
	rf, err := h.Store.GetRawFile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rawFileDTO(rf))
}

func (h *Handler) Reparse(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid upload id")
		return
	}
	var req ReparseRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	count, err := h.Ingest.Reparse(r.Context(), id, req.DeleteExisting)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reparseResponse{RecordCount: count})
}

// UploadErrorsCSV streams the row error report for a stored upload.
func (h *Handler) UploadErrorsCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid upload id")
		return
	}
	content, err := h.Ingest.ErrorsReport(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="parse_errors.csv"`)
	w.Write([]byte(content))
}

// =============================================================================
// ALLOCATION WORKFLOW HANDLERS
// =============================================================================

func (h *Handler) SubmitAllocations(w http.ResponseWriter, r *http.Request) {
	podID, ok := pathID(r, "podID")
	if !ok {
		writeBadRequest(w, "invalid pod id")
		return
	}
	var req SubmitAllocationsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	month, ok := monthParam(w, req.Month)
	if !ok {
		return
	}
	if req.PodLeadID <= 0 {
		writeBadRequest(w, "pod_lead_id is required")
		return
	}

	res, err := h.Workflow.SubmitBatch(r.Context(), podID, month, req.PodLeadID, req.Edits)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// processResponse adds the persisted CSV location. The content itself is in
// the embedded result, so a failed save leaves the caller with everything
// needed: by that point the allocations are PROCESSED and a retry of the
// Process call would select nothing.
type processResponse struct {
	*workflow.ProcessResult
	CSVPath string `json:"csv_path,omitempty"`
}

func (h *Handler) ProcessAllocations(w http.ResponseWriter, r *http.Request) {
	podID, ok := pathID(r, "podID")
	if !ok {
		writeBadRequest(w, "invalid pod id")
		return
	}
	var req ProcessAllocationsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	month, ok := monthParam(w, req.Month)
	if !ok {
		return
	}
	if req.ActorID <= 0 {
		writeBadRequest(w, "actor_id is required")
		return
	}
	format := req.OutputFormat
	if format == "" {
		format = workflow.FormatRecords
	}

	res, err := h.Workflow.Process(r.Context(), podID, month, req.ActorID, format)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := processResponse{ProcessResult: res}
	if res.CSV != "" {
		rel, err := h.Reports.SaveCSV(res.CSVFileName, res.CSV)
		if err != nil {
			log.Printf("saving processed allocations CSV %s: %v", res.CSVFileName, err)
		} else {
			resp.CSVPath = rel
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// AllocationSheet serves the pod's sheet workbook, generating an empty one
// first if the initial upload never produced it.
func (h *Handler) AllocationSheet(w http.ResponseWriter, r *http.Request) {
	podID, ok := pathID(r, "podID")
	if !ok {
		writeBadRequest(w, "invalid pod id")
		return
	}
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}

	rel, err := h.Reports.AllocationSheet(r.Context(), podID, month, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("download") == "false" {
		writeJSON(w, http.StatusOK, allocationSheetResponse{FilePath: rel})
		return
	}
	http.ServeFile(w, r, h.Reports.MediaPath(rel))
}

// =============================================================================
// METRICS HANDLERS
// =============================================================================

// viewActor resolves the optional actor_id query parameter. When present
// the metrics handlers enforce the matching view capability; when absent
// the check is left to the authenticating layer fronting the server.
func (h *Handler) viewActor(r *http.Request) (*contrib.Employee, error) {
	raw := r.URL.Query().Get("actor_id")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: actor_id must be a positive integer", contrib.ErrValidation)
	}
	return h.Store.GetEmployee(r.Context(), id)
}

func (h *Handler) OrgMetrics(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}
	if actor, err := h.viewActor(r); err != nil {
		writeError(w, err)
		return
	} else if actor != nil {
		if err := contrib.Authorize(actor.Role, contrib.CapViewOrgMetrics, contrib.Facts{}); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := h.Metrics.Org(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) DepartmentMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid department id")
		return
	}
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}
	if actor, err := h.viewActor(r); err != nil {
		writeError(w, err)
		return
	} else if actor != nil {
		facts := contrib.Facts{SameDepartment: actor.DepartmentID != nil && *actor.DepartmentID == id}
		if err := contrib.Authorize(actor.Role, contrib.CapViewDepartment, facts); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := h.Metrics.Department(r.Context(), id, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) PodMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid pod id")
		return
	}
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}
	if actor, err := h.viewActor(r); err != nil {
		writeError(w, err)
		return
	} else if actor != nil {
		facts := contrib.Facts{SamePod: actor.PodID != nil && *actor.PodID == id}
		if err := contrib.Authorize(actor.Role, contrib.CapViewPod, facts); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := h.Metrics.Pod(r.Context(), id, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) EmployeeMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "invalid employee id")
		return
	}
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}
	if actor, err := h.viewActor(r); err != nil {
		writeError(w, err)
		return
	} else if actor != nil {
		facts := contrib.Facts{Self: actor.ID == id}
		if !facts.Self {
			target, err := h.Store.GetEmployee(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			facts.SamePod = actor.PodID != nil && target.PodID != nil && *actor.PodID == *target.PodID
		}
		if err := contrib.Authorize(actor.Role, contrib.CapViewEmployee, facts); err != nil {
			writeError(w, err)
			return
		}
	}
	m, err := h.Metrics.Employee(r.Context(), id, month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) GenerateMasterList(w http.ResponseWriter, r *http.Request) {
	var req MasterListRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	month, ok := monthParam(w, req.Month)
	if !ok {
		return
	}

	rel, err := h.Reports.FinalMasterList(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, masterListResponse{FilePath: rel})
}

func (h *Handler) DownloadMasterList(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}
	rel, err := h.Reports.FinalMasterList(r.Context(), month)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, h.Reports.MediaPath(rel))
}
