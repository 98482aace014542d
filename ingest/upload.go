/*
Package ingest turns accepted uploads into stored facts.

PURPOSE:
  Upload:        canonical-schema files -> contribution records
  Reparse:       re-run the parser over a stored raw file (bug-fix recovery)
  UploadInitial: initial workbook -> employees + PENDING allocations per
                 employee x product, grouped per pod for sheet generation

PIPELINE (Upload):
  1. role check (HOD/ADMIN/CEO/AUTOMATION)
  2. checksum pre-check, then the store's unique guard on insert - duplicate
     content is rejected before anything is written
  3. parse; if every row failed, escalate to a batch validation error
  4. resolve dimension entities lazily, upsert employees
  5. one atomic bulk insert, then backfill the parse summary

SEE ALSO:
  - parser: both input schemas
  - workflow: what happens to the PENDING allocations seeded here
*/
package ingest

import (
	"context"
	"fmt"

	"github.com/orgpulse/contrib-engine/contrib"
	"github.com/orgpulse/contrib-engine/parser"
)

// =============================================================================
// UPLOAD SERVICE
// =============================================================================

type Service struct {
	store contrib.Store
	files *FileStore
}

func NewService(store contrib.Store, files *FileStore) *Service {
	return &Service{store: store, files: files}
}

// UploadResult reports one accepted upload.
type UploadResult struct {
	RawFileID int64              `json:"raw_file_id"`
	Summary   map[string]any     `json:"summary"`
	Errors    []contrib.RowError `json:"errors"`
}

// Upload ingests a canonical-schema file.
func (s *Service) Upload(ctx context.Context, fileName string, data []byte, uploaderID int64) (*UploadResult, error) {
	uploader, err := s.store.GetEmployee(ctx, uploaderID)
	if err != nil {
		return nil, err
	}
	if err := contrib.Authorize(uploader.Role, contrib.CapUploadFile, contrib.Facts{}); err != nil {
		return nil, err
	}

	// Duplicate pre-check before anything is written. The store's unique
	// guard on checksum is the authoritative backstop under races.
	checksum := Checksum(data)
	if existing, err := s.store.FindRawFileByChecksum(ctx, checksum); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &contrib.DuplicateContentError{
			Checksum:       checksum,
			ExistingFileID: existing.ID,
			ExistingName:   existing.FileName,
		}
	}

	parsed, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	if len(parsed.Rows) == 0 && len(parsed.Errors) > 0 {
		return nil, &contrib.BatchValidationError{Message: "All rows failed validation", Rows: parsed.Errors}
	}

	storagePath, err := s.files.Save(fileName, data)
	if err != nil {
		return nil, fmt.Errorf("saving upload: %w", err)
	}

	rf := &contrib.RawFile{
		FileName:     fileName,
		StoragePath:  storagePath,
		UploadedByID: uploaderID,
		FileSize:     int64(len(data)),
		Checksum:     checksum,
	}
	if err := s.store.CreateRawFile(ctx, rf); err != nil {
		return nil, err
	}

	_, summary, err := s.resolveAndInsert(ctx, parsed, rf.ID)
	if err != nil {
		return nil, err
	}

	summary["error_count"] = len(parsed.Errors)
	summary["errors"] = parsed.Errors
	if err := s.store.UpdateParseSummary(ctx, rf.ID, summary); err != nil {
		return nil, err
	}

	return &UploadResult{RawFileID: rf.ID, Summary: summary, Errors: parsed.Errors}, nil
}

// resolveAndInsert resolves every row's dimension entities, upserts its
// employee, and bulk-inserts the facts atomically.
func (s *Service) resolveAndInsert(ctx context.Context, parsed *parser.Result, sourceFileID int64) (int, map[string]any, error) {
	seenEmployees := map[int64]bool{}
	seenDepartments := map[int64]bool{}
	seenPods := map[int64]bool{}
	seenProducts := map[int64]bool{}
	seenFeatures := map[int64]bool{}

	recs := make([]contrib.ContributionRecord, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		dept, err := s.store.GetOrCreateDepartment(ctx, row.Department)
		if err != nil {
			return 0, nil, err
		}
		seenDepartments[dept.ID] = true

		pod, err := s.store.GetOrCreatePod(ctx, row.Pod, dept.ID)
		if err != nil {
			return 0, nil, err
		}
		seenPods[pod.ID] = true

		product, err := s.store.GetOrCreateProduct(ctx, row.Product)
		if err != nil {
			return 0, nil, err
		}
		seenProducts[product.ID] = true

		var featureID *int64
		if row.FeatureName != "" {
			feature, err := s.store.GetOrCreateFeature(ctx, row.FeatureName, product.ID, row.Description)
			if err != nil {
				return 0, nil, err
			}
			seenFeatures[feature.ID] = true
			featureID = &feature.ID
		}

		emp, err := s.store.UpsertEmployee(ctx, contrib.Employee{
			Code:         row.EmployeeCode,
			Name:         row.EmployeeName,
			Email:        row.Email,
			DepartmentID: &dept.ID,
			PodID:        &pod.ID,
		})
		if err != nil {
			return 0, nil, err
		}
		seenEmployees[emp.ID] = true

		recs = append(recs, contrib.ContributionRecord{
			EmployeeID:   emp.ID,
			DepartmentID: dept.ID,
			PodID:        pod.ID,
			ProductID:    product.ID,
			FeatureID:    featureID,
			Month:        row.Month,
			EffortHours:  row.EffortHours,
			Description:  row.Description,
		})
	}

	created, err := s.store.BulkCreateContributions(ctx, recs, sourceFileID)
	if err != nil {
		return 0, nil, err
	}

	summary := map[string]any{
		"total_rows":          len(parsed.Rows),
		"created_records":     created,
		"created_employees":   len(seenEmployees),
		"created_departments": len(seenDepartments),
		"created_pods":        len(seenPods),
		"created_products":    len(seenProducts),
		"created_features":    len(seenFeatures),
	}
	return created, summary, nil
}

// ErrorsReport re-parses a stored raw file and renders its row errors as
// CSV (sheet,row,field,message). Byte content is immutable, so the report
// reproduces the errors surfaced at upload time.
func (s *Service) ErrorsReport(ctx context.Context, rawFileID int64) (string, error) {
	rf, err := s.store.GetRawFile(ctx, rawFileID)
	if err != nil {
		return "", err
	}
	data, err := s.files.Read(rf.StoragePath)
	if err != nil {
		return "", fmt.Errorf("reading stored upload: %w", err)
	}
	parsed, err := parser.Parse(data)
	if err != nil {
		return "", err
	}
	return parser.ErrorsCSV(parsed.Errors), nil
}

// =============================================================================
// REPARSE
// =============================================================================

// Reparse re-runs the parser over a stored raw file, optionally replacing
// the records it produced the first time. With unchanged bytes the record
// count matches the original parse.
func (s *Service) Reparse(ctx context.Context, rawFileID int64, deleteExisting bool) (int, error) {
	rf, err := s.store.GetRawFile(ctx, rawFileID)
	if err != nil {
		return 0, err
	}

	data, err := s.files.Read(rf.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("reading stored upload: %w", err)
	}

	parsed, err := parser.Parse(data)
	if err != nil {
		return 0, err
	}
	if len(parsed.Rows) == 0 && len(parsed.Errors) > 0 {
		return 0, &contrib.BatchValidationError{Message: "All rows failed validation", Rows: parsed.Errors}
	}

	if deleteExisting {
		if _, err := s.store.DeleteBySourceFile(ctx, rawFileID); err != nil {
			return 0, err
		}
	}

	created, summary, err := s.resolveAndInsert(ctx, parsed, rawFileID)
	if err != nil {
		return 0, err
	}

	summary["error_count"] = len(parsed.Errors)
	summary["errors"] = parsed.Errors
	summary["reparsed"] = true
	if err := s.store.UpdateParseSummary(ctx, rawFileID, summary); err != nil {
		return 0, err
	}
	return created, nil
}
