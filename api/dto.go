/*
dto.go - Request/response shapes and JSON helpers

PURPOSE:
  Wire types for the HTTP surface plus the shared writeJSON/writeError
  helpers. Domain results (metrics breakdowns, workflow results) already
  carry json tags and are serialized directly; DTOs here exist only where
  the wire shape differs from the domain type.

ERROR MAPPING:
  ValidationFailure -> 400, PermissionDenied -> 403, EntityNotFound -> 404,
  DuplicateContent / StateConflict -> 409, InvalidFileFormat -> 422,
  anything else -> 500. Batch validation failures carry the full row error
  list in the body.

SEE ALSO:
  - handlers.go: handler implementations
  - contrib/errors.go: the error taxonomy being mapped
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/workflow"
)

// =============================================================================
// REQUEST SHAPES
// =============================================================================

// SubmitAllocationsRequest is the batch edit payload a Pod Lead posts.
type SubmitAllocationsRequest struct {
	Month     string          `json:"month"`
	PodLeadID int64           `json:"pod_lead_id"`
	Edits     []workflow.Edit `json:"allocations"`
}

// ProcessAllocationsRequest converts a pod's SUBMITTED allocations.
type ProcessAllocationsRequest struct {
	Month        string `json:"month"`
	ActorID      int64  `json:"actor_id"`
	OutputFormat string `json:"output_format"`
}

type ReparseRequest struct {
	DeleteExisting bool `json:"delete_existing"`
}

type MasterListRequest struct {
	Month string `json:"month"`
}

// =============================================================================
// RESPONSE SHAPES
// =============================================================================

// RawFileDTO is the listing shape for uploaded files.
type RawFileDTO struct {
	ID           int64          `json:"id"`
	FileName     string         `json:"file_name"`
	StoragePath  string         `json:"storage_path"`
	UploadedByID int64          `json:"uploaded_by_id"`
	FileSize     int64          `json:"file_size"`
	Checksum     string         `json:"checksum"`
	ParseSummary map[string]any `json:"parse_summary,omitempty"`
	UploadedAt   string         `json:"uploaded_at"`
}

func rawFileDTO(rf *contrib.RawFile) RawFileDTO {
	return RawFileDTO{
		ID:           rf.ID,
		FileName:     rf.FileName,
		StoragePath:  rf.StoragePath,
		UploadedByID: rf.UploadedByID,
		FileSize:     rf.FileSize,
		Checksum:     rf.Checksum,
		ParseSummary: rf.ParseSummary,
		UploadedAt:   rf.UploadedAt.Format(time.RFC3339),
	}
}

type reparseResponse struct {
	RecordCount int `json:"record_count"`
}

type masterListResponse struct {
	FilePath string `json:"file_path"`
}

type allocationSheetResponse struct {
	FilePath string `json:"file_path"`
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

type errorBody struct {
	Error  string             `json:"error"`
	Errors []contrib.RowError `json:"errors,omitempty"`
}

// writeError maps a domain error onto an HTTP status and JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contrib.ErrInvalidFileFormat):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, contrib.ErrDuplicateContent), errors.Is(err, contrib.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, contrib.ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, contrib.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, contrib.ErrValidation):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}

	body := errorBody{Error: err.Error()}
	var batch *contrib.BatchValidationError
	if errors.As(err, &batch) {
		body.Errors = batch.Rows
	}
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
