/*
Package sqlite provides the SQLite-backed implementation of contrib.Store.

PURPOSE:
  Production persistence for the contribution engine: dimension entities,
  uploaded raw files, the contribution fact table, and the Pod Lead
  allocation workflow rows.

KEY TABLES:
  departments, pods, products, features: dimension entities, unique by
    natural key (pods scoped by department, features by product)
  employees:            keyed by the employee code business key
  raw_files:            uploads; the unique checksum index is the
                        authoritative duplicate-content guard
  contribution_records: the fact table, indexed by month per dimension
  pod_lead_allocations: workflow rows, unique per (employee, product,
                        month), with an optimistic version column

DECIMALS:
  Effort hours, percentages and baselines are stored as TEXT and summed in
  Go with decimal.Decimal. SQLite's numeric SUM is floating point and would
  reintroduce exactly the drift the decimal types exist to prevent.

CONCURRENCY:
  WAL mode plus a sync.RWMutex. Allocation updates compare-and-set on the
  version column; get-or-create relies on the unique indexes under races.

USAGE:
  store, err := sqlite.New("./data/contrib.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - contrib/store.go: interface contracts
  - contrib/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/orgpulse/contrib-engine/contrib"
)

// Store implements contrib.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Dimension entities
	CREATE TABLE IF NOT EXISTS departments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_departments_name
		ON departments(LOWER(name));

	CREATE TABLE IF NOT EXISTS pods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		department_id INTEGER NOT NULL REFERENCES departments(id),
		created_at TEXT NOT NULL
	);
	-- Two departments may each own a pod of the same name.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pods_name_department
		ON pods(LOWER(name), department_id);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_products_name
		ON products(LOWER(name));

	CREATE TABLE IF NOT EXISTS features (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_features_name_product
		ON features(LOWER(name), product_id);

	-- Employees, keyed by the stable business code
	CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department_id INTEGER REFERENCES departments(id),
		pod_id INTEGER REFERENCES pods(id),
		role TEXT NOT NULL DEFAULT 'EMPLOYEE',
		baseline_hours TEXT NOT NULL DEFAULT '160',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_employees_pod ON employees(pod_id);

	-- Uploaded artifacts
	CREATE TABLE IF NOT EXISTS raw_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		uploaded_by_id INTEGER NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		checksum TEXT NOT NULL DEFAULT '',
		parse_summary_json TEXT,
		uploaded_at TEXT NOT NULL
	);
	-- Authoritative duplicate-content guard. Synthetic files carry an
	-- empty checksum and are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_files_checksum
		ON raw_files(checksum) WHERE checksum != '';

	-- The fact table
	CREATE TABLE IF NOT EXISTS contribution_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL REFERENCES employees(id),
		department_id INTEGER NOT NULL REFERENCES departments(id),
		pod_id INTEGER NOT NULL REFERENCES pods(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		feature_id INTEGER REFERENCES features(id),
		month TEXT NOT NULL,
		effort_hours TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_file_id INTEGER NOT NULL REFERENCES raw_files(id),
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contributions_month
		ON contribution_records(month);
	CREATE INDEX IF NOT EXISTS idx_contributions_month_department
		ON contribution_records(month, department_id);
	CREATE INDEX IF NOT EXISTS idx_contributions_month_pod
		ON contribution_records(month, pod_id);
	CREATE INDEX IF NOT EXISTS idx_contributions_month_employee
		ON contribution_records(month, employee_id);
	CREATE INDEX IF NOT EXISTS idx_contributions_source_file
		ON contribution_records(source_file_id);

	-- Allocation workflow rows
	CREATE TABLE IF NOT EXISTS pod_lead_allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL REFERENCES employees(id),
		pod_lead_id INTEGER NOT NULL REFERENCES employees(id),
		month TEXT NOT NULL,
		product TEXT NOT NULL,
		product_description TEXT NOT NULL DEFAULT '',
		academy_percent TEXT NOT NULL DEFAULT '0',
		intensive_percent TEXT NOT NULL DEFAULT '0',
		niat_percent TEXT NOT NULL DEFAULT '0',
		features_text TEXT NOT NULL DEFAULT '',
		verified_description BOOLEAN NOT NULL DEFAULT FALSE,
		baseline_hours TEXT NOT NULL DEFAULT '160',
		status TEXT NOT NULL DEFAULT 'PENDING',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, product, month)
	);
	CREATE INDEX IF NOT EXISTS idx_allocations_month_status
		ON pod_lead_allocations(month, status);
	CREATE INDEX IF NOT EXISTS idx_allocations_pod_lead
		ON pod_lead_allocations(pod_lead_id, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// ENTITY STORE
// =============================================================================

func (s *Store) GetOrCreateDepartment(ctx context.Context, name string) (*contrib.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := func() (*contrib.Department, error) {
		var d contrib.Department
		var createdAt string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, created_at FROM departments WHERE LOWER(name) = LOWER(?)`, name).
			Scan(&d.ID, &d.Name, &createdAt)
		if err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(createdAt)
		return &d, nil
	}

	if d, err := read(); err == nil {
		return d, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (name, created_at) VALUES (?, ?)`, name, now())
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("creating department: %w", err)
	}
	return read()
}

func (s *Store) GetOrCreatePod(ctx context.Context, name string, departmentID int64) (*contrib.Pod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := func() (*contrib.Pod, error) {
		var p contrib.Pod
		var createdAt string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, department_id, created_at FROM pods
			 WHERE LOWER(name) = LOWER(?) AND department_id = ?`, name, departmentID).
			Scan(&p.ID, &p.Name, &p.DepartmentID, &createdAt)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		return &p, nil
	}

	if p, err := read(); err == nil {
		return p, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pods (name, department_id, created_at) VALUES (?, ?, ?)`,
		name, departmentID, now())
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("creating pod: %w", err)
	}
	return read()
}

func (s *Store) GetOrCreateProduct(ctx context.Context, name string) (*contrib.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := func() (*contrib.Product, error) {
		var p contrib.Product
		var createdAt string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name, created_at FROM products WHERE LOWER(name) = LOWER(?)`, name).
			Scan(&p.ID, &p.Name, &createdAt)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		return &p, nil
	}

	if p, err := read(); err == nil {
		return p, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, created_at) VALUES (?, ?)`, name, now())
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("creating product: %w", err)
	}
	return read()
}

func (s *Store) GetOrCreateFeature(ctx context.Context, name string, productID int64, description string) (*contrib.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	read := func() (*contrib.Feature, error) {
		var f contrib.Feature
		var createdAt string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, product_id, name, description, created_at FROM features
			 WHERE LOWER(name) = LOWER(?) AND product_id = ?`, name, productID).
			Scan(&f.ID, &f.ProductID, &f.Name, &f.Description, &createdAt)
		if err != nil {
			return nil, err
		}
		f.CreatedAt = parseTime(createdAt)
		return &f, nil
	}

	if f, err := read(); err == nil {
		return f, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO features (product_id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		productID, name, description, now())
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("creating feature: %w", err)
	}
	return read()
}

func (s *Store) UpsertEmployee(ctx context.Context, e contrib.Employee) (*contrib.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM employees WHERE code = ?`, e.Code).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		role := e.Role
		if role == "" {
			role = contrib.RoleEmployee
		}
		baseline := e.BaselineHours
		if baseline.IsZero() {
			baseline = contrib.DefaultBaselineHours
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO employees (code, name, email, department_id, pod_id, role, baseline_hours, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Code, e.Name, e.Email, e.DepartmentID, e.PodID, role, baseline.String(), now())
		if err != nil {
			return nil, fmt.Errorf("creating employee: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		// Last-write-wins on mutable attributes; role and baseline are
		// preserved unless explicitly set.
		sets := []string{"name = ?", "email = ?"}
		args := []any{e.Name, e.Email}
		if e.DepartmentID != nil {
			sets = append(sets, "department_id = ?")
			args = append(args, *e.DepartmentID)
		}
		if e.PodID != nil {
			sets = append(sets, "pod_id = ?")
			args = append(args, *e.PodID)
		}
		if e.Role != "" {
			sets = append(sets, "role = ?")
			args = append(args, e.Role)
		}
		if !e.BaselineHours.IsZero() {
			sets = append(sets, "baseline_hours = ?")
			args = append(args, e.BaselineHours.String())
		}
		args = append(args, id)
		if _, err := s.db.ExecContext(ctx,
			`UPDATE employees SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return nil, fmt.Errorf("updating employee: %w", err)
		}
	}

	return s.getEmployee(ctx, id)
}

const employeeSelect = `
	SELECT e.id, e.code, e.name, e.email, e.department_id, e.pod_id, e.role,
	       e.baseline_hours, e.created_at,
	       COALESCE(d.name, ''), COALESCE(p.name, '')
	FROM employees e
	LEFT JOIN departments d ON d.id = e.department_id
	LEFT JOIN pods p ON p.id = e.pod_id`

func scanEmployee(row interface{ Scan(...any) error }) (*contrib.Employee, error) {
	var e contrib.Employee
	var baseline, createdAt string
	err := row.Scan(&e.ID, &e.Code, &e.Name, &e.Email, &e.DepartmentID, &e.PodID,
		&e.Role, &baseline, &createdAt, &e.DepartmentName, &e.PodName)
	if err != nil {
		return nil, err
	}
	e.BaselineHours, err = decimal.NewFromString(baseline)
	if err != nil {
		return nil, fmt.Errorf("corrupt baseline_hours %q: %w", baseline, err)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (s *Store) getEmployee(ctx context.Context, id int64) (*contrib.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, employeeSelect+` WHERE e.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "employee", ID: id}
	}
	return e, err
}

func (s *Store) GetEmployee(ctx context.Context, id int64) (*contrib.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEmployee(ctx, id)
}

func (s *Store) GetEmployeeByCode(ctx context.Context, code string) (*contrib.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanEmployee(s.db.QueryRowContext(ctx, employeeSelect+` WHERE e.code = ?`, code))
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "employee", ID: 0}
	}
	return e, err
}

func (s *Store) ListEmployeesByPod(ctx context.Context, podID int64) ([]contrib.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, employeeSelect+` WHERE e.pod_id = ? ORDER BY e.name`, podID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contrib.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) GetDepartment(ctx context.Context, id int64) (*contrib.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d contrib.Department
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM departments WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "department", ID: id}
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func (s *Store) GetPod(ctx context.Context, id int64) (*contrib.Pod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p contrib.Pod
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.name, p.department_id, p.created_at, d.name
		 FROM pods p JOIN departments d ON d.id = p.department_id
		 WHERE p.id = ?`, id).
		Scan(&p.ID, &p.Name, &p.DepartmentID, &createdAt, &p.DepartmentName)
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "pod", ID: id}
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) GetProductByName(ctx context.Context, name string) (*contrib.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p contrib.Product
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM products WHERE LOWER(name) = LOWER(?)`, name).
		Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "product", ID: 0}
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// RAW FILE STORE
// =============================================================================

func (s *Store) CreateRawFile(ctx context.Context, rf *contrib.RawFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(rf.ParseSummary)
	if err != nil {
		return err
	}

	uploadedAt := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_files (file_name, storage_path, uploaded_by_id, file_size, checksum, parse_summary_json, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rf.FileName, rf.StoragePath, rf.UploadedByID, rf.FileSize, rf.Checksum, string(summaryJSON), uploadedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, ferr := s.findByChecksum(ctx, rf.Checksum)
			if ferr == nil && existing != nil {
				return &contrib.DuplicateContentError{
					Checksum:       rf.Checksum,
					ExistingFileID: existing.ID,
					ExistingName:   existing.FileName,
				}
			}
			return &contrib.DuplicateContentError{Checksum: rf.Checksum}
		}
		return fmt.Errorf("creating raw file: %w", err)
	}

	rf.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	rf.UploadedAt = parseTime(uploadedAt)
	return nil
}

func scanRawFile(row interface{ Scan(...any) error }) (*contrib.RawFile, error) {
	var rf contrib.RawFile
	var summaryJSON sql.NullString
	var uploadedAt string
	err := row.Scan(&rf.ID, &rf.FileName, &rf.StoragePath, &rf.UploadedByID,
		&rf.FileSize, &rf.Checksum, &summaryJSON, &uploadedAt)
	if err != nil {
		return nil, err
	}
	if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
		if err := json.Unmarshal([]byte(summaryJSON.String), &rf.ParseSummary); err != nil {
			return nil, fmt.Errorf("corrupt parse summary for raw file %d: %w", rf.ID, err)
		}
	}
	rf.UploadedAt = parseTime(uploadedAt)
	return &rf, nil
}

const rawFileSelect = `
	SELECT id, file_name, storage_path, uploaded_by_id, file_size, checksum,
	       parse_summary_json, uploaded_at
	FROM raw_files`

func (s *Store) GetRawFile(ctx context.Context, id int64) (*contrib.RawFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rf, err := scanRawFile(s.db.QueryRowContext(ctx, rawFileSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, &contrib.NotFoundError{Kind: "raw file", ID: id}
	}
	return rf, err
}

func (s *Store) findByChecksum(ctx context.Context, checksum string) (*contrib.RawFile, error) {
	if checksum == "" {
		return nil, nil
	}
	rf, err := scanRawFile(s.db.QueryRowContext(ctx, rawFileSelect+` WHERE checksum = ?`, checksum))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rf, err
}

func (s *Store) FindRawFileByChecksum(ctx context.Context, checksum string) (*contrib.RawFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByChecksum(ctx, checksum)
}

func (s *Store) UpdateParseSummary(ctx context.Context, id int64, summary map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_files SET parse_summary_json = ? WHERE id = ?`, string(summaryJSON), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &contrib.NotFoundError{Kind: "raw file", ID: id}
	}
	return nil
}

func (s *Store) ListRawFiles(ctx context.Context) ([]contrib.RawFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, rawFileSelect+` ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contrib.RawFile
	for rows.Next() {
		rf, err := scanRawFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rf)
	}
	return out, rows.Err()
}

// =============================================================================
// CONTRIBUTION STORE
// =============================================================================

func (s *Store) BulkCreateContributions(ctx context.Context, recs []contrib.ContributionRecord, sourceFileID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO contribution_records
		 (employee_id, department_id, pod_id, product_id, feature_id, month, effort_hours, description, source_file_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	createdAt := now()
	for _, r := range recs {
		if r.EffortHours.IsNegative() {
			return 0, &contrib.BatchValidationError{Message: "negative effort hours"}
		}
		if _, err := stmt.ExecContext(ctx,
			r.EmployeeID, r.DepartmentID, r.PodID, r.ProductID, r.FeatureID,
			r.Month.String(), r.EffortHours.String(), r.Description, sourceFileID, createdAt); err != nil {
			return 0, fmt.Errorf("inserting contribution record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *Store) DeleteBySourceFile(ctx context.Context, sourceFileID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM contribution_records WHERE source_file_id = ?`, sourceFileID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func contributionFilterSQL(f contrib.ContributionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Month != nil {
		conds = append(conds, "r.month = ?")
		args = append(args, f.Month.String())
	}
	if f.DepartmentID != nil {
		conds = append(conds, "r.department_id = ?")
		args = append(args, *f.DepartmentID)
	}
	if f.PodID != nil {
		conds = append(conds, "r.pod_id = ?")
		args = append(args, *f.PodID)
	}
	if f.EmployeeID != nil {
		conds = append(conds, "r.employee_id = ?")
		args = append(args, *f.EmployeeID)
	}
	if f.ProductID != nil {
		conds = append(conds, "r.product_id = ?")
		args = append(args, *f.ProductID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) ListContributions(ctx context.Context, f contrib.ContributionFilter) ([]contrib.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := contributionFilterSQL(f)
	query := `
		SELECT r.id, r.employee_id, r.department_id, r.pod_id, r.product_id,
		       r.feature_id, r.month, r.effort_hours, r.description,
		       r.source_file_id, r.created_at,
		       e.code, e.name, d.name, p.name, pr.name, COALESCE(ft.name, '')
		FROM contribution_records r
		JOIN employees e ON e.id = r.employee_id
		JOIN departments d ON d.id = r.department_id
		JOIN pods p ON p.id = r.pod_id
		JOIN products pr ON pr.id = r.product_id
		LEFT JOIN features ft ON ft.id = r.feature_id` +
		where + `
		ORDER BY r.month DESC, e.name, r.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contrib.ContributionRecord
	for rows.Next() {
		var r contrib.ContributionRecord
		var month, hours, createdAt string
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.DepartmentID, &r.PodID, &r.ProductID,
			&r.FeatureID, &month, &hours, &r.Description, &r.SourceFileID, &createdAt,
			&r.EmployeeCode, &r.EmployeeName, &r.DepartmentName, &r.PodName,
			&r.ProductName, &r.FeatureName); err != nil {
			return nil, err
		}
		if r.Month, err = contrib.ParseMonth(month); err != nil {
			return nil, fmt.Errorf("corrupt month %q: %w", month, err)
		}
		if r.EffortHours, err = decimal.NewFromString(hours); err != nil {
			return nil, fmt.Errorf("corrupt effort_hours %q: %w", hours, err)
		}
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// totalHours sums effort_hours in Go; hours are stored as TEXT and SQLite's
// SUM would go through floating point.
func (s *Store) totalHours(ctx context.Context, where string, args ...any) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT effort_hours FROM contribution_records r`+where, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var hours string
		if err := rows.Scan(&hours); err != nil {
			return decimal.Zero, err
		}
		h, err := decimal.NewFromString(hours)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt effort_hours %q: %w", hours, err)
		}
		sum = sum.Add(h)
	}
	return sum, rows.Err()
}

func (s *Store) TotalHoursByMonth(ctx context.Context, m contrib.Month) (decimal.Decimal, error) {
	return s.totalHours(ctx, ` WHERE r.month = ?`, m.String())
}

func (s *Store) TotalHoursByDepartment(ctx context.Context, departmentID int64, m contrib.Month) (decimal.Decimal, error) {
	return s.totalHours(ctx, ` WHERE r.month = ? AND r.department_id = ?`, m.String(), departmentID)
}

func (s *Store) TotalHoursByPod(ctx context.Context, podID int64, m contrib.Month) (decimal.Decimal, error) {
	return s.totalHours(ctx, ` WHERE r.month = ? AND r.pod_id = ?`, m.String(), podID)
}

func (s *Store) TotalHoursByEmployee(ctx context.Context, employeeID int64, m contrib.Month) (decimal.Decimal, error) {
	return s.totalHours(ctx, ` WHERE r.month = ? AND r.employee_id = ?`, m.String(), employeeID)
}

// =============================================================================
// ALLOCATION STORE
// =============================================================================

const allocationSelect = `
	SELECT a.id, a.employee_id, a.pod_lead_id, a.month, a.product,
	       a.product_description, a.academy_percent, a.intensive_percent,
	       a.niat_percent, a.features_text, a.verified_description,
	       a.baseline_hours, a.status, a.version, a.created_at, a.updated_at,
	       e.code, e.name, l.code, l.name
	FROM pod_lead_allocations a
	JOIN employees e ON e.id = a.employee_id
	JOIN employees l ON l.id = a.pod_lead_id`

func scanAllocation(row interface{ Scan(...any) error }) (*contrib.Allocation, error) {
	var a contrib.Allocation
	var month, academy, intensive, niat, baseline, createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.EmployeeID, &a.PodLeadID, &month, &a.Product,
		&a.ProductDescription, &academy, &intensive, &niat, &a.FeaturesText,
		&a.VerifiedDescription, &baseline, &a.Status, &a.Version,
		&createdAt, &updatedAt, &a.EmployeeCode, &a.EmployeeName,
		&a.PodLeadCode, &a.PodLeadName)
	if err != nil {
		return nil, err
	}
	if a.Month, err = contrib.ParseMonth(month); err != nil {
		return nil, fmt.Errorf("corrupt month %q: %w", month, err)
	}
	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&a.AcademyPercent, academy},
		{&a.IntensivePercent, intensive},
		{&a.NIATPercent, niat},
		{&a.BaselineHours, baseline},
	} {
		if *pair.dst, err = decimal.NewFromString(pair.src); err != nil {
			return nil, fmt.Errorf("corrupt decimal %q: %w", pair.src, err)
		}
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func (s *Store) UpsertAllocation(ctx context.Context, a *contrib.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id, version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, version FROM pod_lead_allocations
		 WHERE employee_id = ? AND product = ? AND month = ?`,
		a.EmployeeID, a.Product, a.Month.String()).Scan(&id, &version)
	switch {
	case err == sql.ErrNoRows:
		ts := now()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO pod_lead_allocations
			 (employee_id, pod_lead_id, month, product, product_description,
			  academy_percent, intensive_percent, niat_percent, features_text,
			  verified_description, baseline_hours, status, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			a.EmployeeID, a.PodLeadID, a.Month.String(), a.Product, a.ProductDescription,
			a.AcademyPercent.String(), a.IntensivePercent.String(), a.NIATPercent.String(),
			a.FeaturesText, a.VerifiedDescription, a.BaselineHours.String(), a.Status, ts, ts)
		if err != nil {
			return fmt.Errorf("creating allocation: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		a.Version = 1
		return nil
	case err != nil:
		return err
	default:
		_, err := s.db.ExecContext(ctx,
			`UPDATE pod_lead_allocations SET
			 pod_lead_id = ?, product_description = ?, academy_percent = ?,
			 intensive_percent = ?, niat_percent = ?, features_text = ?,
			 verified_description = ?, baseline_hours = ?, status = ?, updated_at = ?
			 WHERE id = ?`,
			a.PodLeadID, a.ProductDescription, a.AcademyPercent.String(),
			a.IntensivePercent.String(), a.NIATPercent.String(), a.FeaturesText,
			a.VerifiedDescription, a.BaselineHours.String(), a.Status, now(), id)
		if err != nil {
			return fmt.Errorf("updating allocation: %w", err)
		}
		a.ID = id
		a.Version = version
		return nil
	}
}

func (s *Store) GetAllocationByTriple(ctx context.Context, employeeID int64, product string, m contrib.Month) (*contrib.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAllocation(s.db.QueryRowContext(ctx,
		allocationSelect+` WHERE a.employee_id = ? AND a.product = ? AND a.month = ?`,
		employeeID, product, m.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) UpdateAllocation(ctx context.Context, a *contrib.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE pod_lead_allocations SET
		 academy_percent = ?, intensive_percent = ?, niat_percent = ?,
		 features_text = ?, verified_description = ?, status = ?,
		 version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		a.AcademyPercent.String(), a.IntensivePercent.String(), a.NIATPercent.String(),
		a.FeaturesText, a.VerifiedDescription, a.Status, now(), a.ID, a.Version)
	if err != nil {
		return fmt.Errorf("updating allocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or the version moved underneath us.
		var status contrib.AllocationStatus
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM pod_lead_allocations WHERE id = ?`, a.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return &contrib.NotFoundError{Kind: "allocation", ID: a.ID}
		}
		if err != nil {
			return err
		}
		return &contrib.StateConflictError{AllocationID: a.ID, From: status, To: a.Status}
	}
	a.Version++
	return nil
}

func (s *Store) listAllocations(ctx context.Context, where string, args ...any) ([]contrib.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		allocationSelect+where+` ORDER BY e.name, a.product`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contrib.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ListAllocationsByPodAndStatus(ctx context.Context, podID int64, m contrib.Month, status contrib.AllocationStatus) ([]contrib.Allocation, error) {
	return s.listAllocations(ctx,
		` WHERE e.pod_id = ? AND a.month = ? AND a.status = ?`,
		podID, m.String(), status)
}

func (s *Store) ListAllocationsByMonthAndStatus(ctx context.Context, m contrib.Month, status contrib.AllocationStatus) ([]contrib.Allocation, error) {
	return s.listAllocations(ctx,
		` WHERE a.month = ? AND a.status = ?`, m.String(), status)
}

func (s *Store) ListAllocationsByPodLead(ctx context.Context, podLeadID int64, m contrib.Month) ([]contrib.Allocation, error) {
	return s.listAllocations(ctx,
		` WHERE a.pod_lead_id = ? AND a.month = ?`, podLeadID, m.String())
}

func (s *Store) CountAllocationsByMonthAndStatus(ctx context.Context, m contrib.Month, status contrib.AllocationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pod_lead_allocations WHERE month = ? AND status = ?`,
		m.String(), status).Scan(&n)
	return n, err
}
