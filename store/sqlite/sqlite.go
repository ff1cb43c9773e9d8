/*
Package sqlite provides the SQLite-backed system of record for payroll.

PURPOSE:
  Implements every persistence interface the engine needs (payroll.Store,
  backpay.Store, loans.Store, payroll.AuditLog) plus the transactional
  runner payroll.TxStore. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The posting ledger is append-only:
  - No UPDATE statements on ledger_transactions
  - No DELETE statements on ledger_transactions
  - Corrections via reversal postings only

KEY TABLES:
  ledger_transactions: Immutable posting log of all paid amounts
  payroll_runs/items:  Working state, replaced wholesale on recompute
  salary_versions:     Effective-dated pay history
  backpay_requests:    Retroactive corrections and their period deltas
  loans/installments:  The loan book and its frozen schedules
  ytd_snapshots:       Derived year totals, rebuildable from the ledger
  audit_log:           Who did what when

UNIQUENESS:
  UNIQUE violations translate to domain sentinels so callers never see
  raw SQLite errors:
  - ledger_transactions.idempotency_key -> ErrDuplicateIdempotencyKey
  - absences (employee_id, day)         -> ErrDuplicateAbsence
  - payroll_periods (year, month)       -> ErrPeriodExists
  - payroll_runs (period_id, sequence)  -> ErrRunExists

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole transaction, so a transaction sees a stable world. In
  production with PostgreSQL, database-level concurrency control handles
  this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
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

	"github.com/warp/payroll-engine/backpay"
	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/payroll"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  *queries
}

var (
	_ payroll.TxStore  = (*Store)(nil)
	_ backpay.TxStore  = (*Store)(nil)
	_ loans.TxStore    = (*Store)(nil)
	_ payroll.AuditLog = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, q: &queries{c: db}}
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		ssnit_number TEXT,
		tin TEXT,
		grade TEXT,
		department TEXT,
		hire_date TEXT NOT NULL,
		termination_date TEXT,
		overtime_qualified BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Employment events (the history behind the employee record)
	CREATE TABLE IF NOT EXISTS employment_events (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		type TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		grade TEXT,
		department TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_employee
		ON employment_events(employee_id, effective_date);

	-- Absences (unpaid days)
	CREATE TABLE IF NOT EXISTS absences (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one absence row per employee per calendar day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_absence_day
		ON absences(employee_id, DATE(date));

	-- Salary versions (effective-dated pay history)
	CREATE TABLE IF NOT EXISTS salary_versions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		grade TEXT,
		step INTEGER DEFAULT 0,
		monthly_basic TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_salaries_employee
		ON salary_versions(employee_id, version);

	-- Component assignments
	CREATE TABLE IF NOT EXISTS component_assignments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		amount TEXT,
		rate TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_employee
		ON component_assignments(employee_id);

	-- Payroll periods
	CREATE TABLE IF NOT EXISTS payroll_periods (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		pay_day TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		closed_at TEXT,
		UNIQUE(year, month)
	);

	-- Payroll runs
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		totals_json TEXT,
		employee_count INTEGER DEFAULT 0,
		computed_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		failure_reason TEXT,
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		computed_at TEXT,
		approved_by TEXT,
		approved_at TEXT,
		paid_at TEXT,
		UNIQUE(period_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_period
		ON payroll_runs(period_id);

	-- Payroll items (one employee's pay in one run)
	CREATE TABLE IF NOT EXISTS payroll_items (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL,
		days_active INTEGER DEFAULT 0,
		days_in_period INTEGER DEFAULT 0,
		absence_days INTEGER DEFAULT 0,
		basic_pay TEXT NOT NULL,
		gross TEXT NOT NULL,
		taxable_income TEXT NOT NULL,
		paye TEXT NOT NULL,
		ssnit_employee TEXT NOT NULL,
		ssnit_employer TEXT NOT NULL,
		other_deductions TEXT NOT NULL,
		deferred_amount TEXT NOT NULL,
		arrears TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		tax_table_version TEXT,
		ssnit_version TEXT,
		failure_reason TEXT,
		deductions_json TEXT,
		computed_at TEXT NOT NULL,
		UNIQUE(run_id, employee_id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_run
		ON payroll_items(run_id);
	CREATE INDEX IF NOT EXISTS idx_items_employee_period
		ON payroll_items(employee_id, period_id);

	-- Item detail lines (one component line on an item)
	CREATE TABLE IF NOT EXISTS payroll_item_details (
		item_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		code TEXT NOT NULL,
		kind TEXT NOT NULL,
		description TEXT,
		base TEXT,
		rate TEXT,
		amount TEXT NOT NULL,
		taxable BOOLEAN DEFAULT FALSE,
		gl_account TEXT,
		reference_id TEXT,
		PRIMARY KEY (item_id, seq)
	);

	-- Ledger postings (append-only)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		run_id TEXT,
		code TEXT NOT NULL,
		gl_account TEXT,
		effective_at TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_by_type TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_employee_period
		ON ledger_transactions(employee_id, period_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_run
		ON ledger_transactions(run_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_employee_date
		ON ledger_transactions(employee_id, effective_at);

	-- Deferred deductions (cap overflow carried forward)
	CREATE TABLE IF NOT EXISTS deferred_deductions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		code TEXT NOT NULL,
		amount TEXT NOT NULL,
		priority INTEGER DEFAULT 0,
		reason TEXT,
		origin_period_id TEXT NOT NULL,
		origin_run_id TEXT NOT NULL,
		status TEXT NOT NULL,
		settled_run_id TEXT,
		created_at TEXT NOT NULL,
		settled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_deferrals_employee_status
		ON deferred_deductions(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_deferrals_origin_run
		ON deferred_deductions(origin_run_id);

	-- YTD snapshots (derived year totals)
	CREATE TABLE IF NOT EXISTS ytd_snapshots (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		gross TEXT NOT NULL,
		taxable_income TEXT NOT NULL,
		paye TEXT NOT NULL,
		ssnit_employee TEXT NOT NULL,
		ssnit_employer TEXT NOT NULL,
		other_deduction TEXT NOT NULL,
		arrears TEXT NOT NULL,
		net TEXT NOT NULL,
		periods INTEGER DEFAULT 0,
		last_period_id TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, year)
	);

	-- Backpay requests
	CREATE TABLE IF NOT EXISTS backpay_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		reason TEXT,
		trigger_salary_version INTEGER DEFAULT 0,
		effective_from TEXT NOT NULL,
		status TEXT NOT NULL,
		totals_json TEXT,
		applied_run_id TEXT,
		created_at TEXT NOT NULL,
		computed_at TEXT,
		approved_at TEXT,
		approved_by TEXT,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_backpay_employee
		ON backpay_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_backpay_applied_run
		ON backpay_requests(applied_run_id);

	-- Backpay lines (one corrected period each)
	CREATE TABLE IF NOT EXISTS backpay_lines (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		period_id TEXT NOT NULL,
		source_item_id TEXT NOT NULL,
		source_item_version INTEGER NOT NULL,
		old_basic TEXT NOT NULL,
		new_basic TEXT NOT NULL,
		gross_delta TEXT NOT NULL,
		paye_delta TEXT NOT NULL,
		ssnit_employee_delta TEXT NOT NULL,
		ssnit_employer_delta TEXT NOT NULL,
		net_delta TEXT NOT NULL,
		tax_table_version TEXT,
		ssnit_version TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_backpay_lines_request
		ON backpay_lines(request_id);

	-- Loans
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		start_period TEXT NOT NULL,
		status TEXT NOT NULL,
		disbursed_at TEXT NOT NULL,
		disbursed_by TEXT,
		settled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_loans_employee
		ON loans(employee_id);

	-- Loan installments (frozen at disbursement)
	CREATE TABLE IF NOT EXISTS loan_installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		period_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total TEXT NOT NULL,
		status TEXT NOT NULL,
		deducted_run_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_installments_loan
		ON loan_installments(loan_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_installments_run
		ON loan_installments(deducted_run_id);

	-- Statutory table configs (raw JSON, reloaded into the registry)
	CREATE TABLE IF NOT EXISTS statutory_tables (
		kind TEXT NOT NULL,
		version TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (kind, version)
	);

	-- Pay component configs (raw JSON, reloaded into the catalog)
	CREATE TABLE IF NOT EXISTS pay_components (
		code TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Audit log (append-only, separate from the ledger)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		employee_id TEXT,
		period_id TEXT,
		run_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_employee
		ON audit_log(employee_id);
	CREATE INDEX IF NOT EXISTS idx_audit_run
		ON audit_log(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL RUNNER (payroll.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The view handed to
// fn carries the backpay and loan tables too; those services assert it
// back to their wider store interfaces.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{c: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - The full persistence surface over one connection or transaction
// =============================================================================

// conn is what *sql.DB and *sql.Tx have in common.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	c conn
}

var (
	_ backpay.Store    = (*queries)(nil)
	_ loans.Store      = (*queries)(nil)
	_ payroll.AuditLog = (*queries)(nil)
)

type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Ledger (append-only)
// -----------------------------------------------------------------------------

const ledgerColumns = `id, employee_id, period_id, run_id, code, gl_account, effective_at,
	amount, currency, tx_type, reference_id, reason, idempotency_key, metadata_json,
	created_by, created_by_type, created_at`

func (q *queries) Append(ctx context.Context, tx payroll.Transaction) error {
	metadataJSON := ""
	if len(tx.Metadata) > 0 {
		b, _ := json.Marshal(tx.Metadata)
		metadataJSON = string(b)
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := q.c.ExecContext(ctx, `
		INSERT INTO ledger_transactions (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.EmployeeID, tx.PeriodID, tx.RunID, tx.Code, tx.GLAccount,
		fmtTime(tx.EffectiveAt), tx.Amount.Value.String(), tx.Amount.Currency,
		tx.Type, tx.ReferenceID, tx.Reason, nullString(tx.IdempotencyKey),
		metadataJSON, tx.CreatedBy, tx.CreatedByType, fmtTime(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payroll.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append posting: %w", err)
	}
	return nil
}

func (q *queries) AppendBatch(ctx context.Context, txs []payroll.Transaction) error {
	// Catch duplicate keys within the batch before touching the table.
	keys := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if keys[tx.IdempotencyKey] {
			return payroll.ErrDuplicateIdempotencyKey
		}
		keys[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := q.Append(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) Load(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE employee_id = ? AND period_id = ?
		ORDER BY effective_at ASC, created_at ASC`,
		employeeID, periodID)
}

func (q *queries) LoadRun(ctx context.Context, runID payroll.RunID) ([]payroll.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE run_id = ?
		ORDER BY effective_at ASC, created_at ASC`,
		runID)
}

func (q *queries) LoadRange(ctx context.Context, employeeID payroll.EmployeeID, from, to time.Time) ([]payroll.Transaction, error) {
	return q.queryTransactions(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE employee_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, created_at ASC`,
		employeeID, fmtTime(from), fmtTime(to))
}

func (q *queries) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := q.c.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]payroll.Transaction, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()

	var out []payroll.Transaction
	for rows.Next() {
		var (
			tx                              payroll.Transaction
			effectiveAt, amount, createdAt  string
			currency                        string
			referenceID, reason, idemKey    sql.NullString
			metadataJSON, createdBy, byType sql.NullString
		)
		if err := rows.Scan(
			&tx.ID, &tx.EmployeeID, &tx.PeriodID, &tx.RunID, &tx.Code, &tx.GLAccount,
			&effectiveAt, &amount, &currency, &tx.Type, &referenceID, &reason,
			&idemKey, &metadataJSON, &createdBy, &byType, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		tx.EffectiveAt = parseTime(effectiveAt)
		tx.Amount = payroll.MustParseMoney(amount, payroll.Currency(currency))
		tx.ReferenceID = referenceID.String
		tx.Reason = reason.String
		tx.IdempotencyKey = idemKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedByType = byType.String
		tx.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Employees, events, absences
// -----------------------------------------------------------------------------

const employeeColumns = `id, name, email, ssnit_number, tin, grade, department,
	hire_date, termination_date, overtime_qualified, created_at`

func (q *queries) SaveEmployee(ctx context.Context, e *payroll.Employee) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			ssnit_number = excluded.ssnit_number,
			tin = excluded.tin,
			grade = excluded.grade,
			department = excluded.department,
			hire_date = excluded.hire_date,
			termination_date = excluded.termination_date,
			overtime_qualified = excluded.overtime_qualified`,
		e.ID, e.Name, e.Email, e.SSNITNumber, e.TIN, e.Grade, e.Department,
		fmtTime(e.HireDate), fmtTimePtr(e.TerminationDate), e.OvertimeQualified,
		fmtTime(createdAt),
	)
	return err
}

func (q *queries) UpdateEmployee(ctx context.Context, e *payroll.Employee) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE employees SET name = ?, email = ?, ssnit_number = ?, tin = ?,
			grade = ?, department = ?, hire_date = ?, termination_date = ?,
			overtime_qualified = ?
		WHERE id = ?`,
		e.Name, e.Email, e.SSNITNumber, e.TIN, e.Grade, e.Department,
		fmtTime(e.HireDate), fmtTimePtr(e.TerminationDate), e.OvertimeQualified, e.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, payroll.ErrEmployeeNotFound)
}

func (q *queries) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (q *queries) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+employeeColumns+` FROM employees ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []payroll.Employee{}
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEmployee(r rowScanner) (*payroll.Employee, error) {
	var (
		e                   payroll.Employee
		email, ssnit, tin   sql.NullString
		grade, department   sql.NullString
		hireDate, createdAt string
		terminationDate     sql.NullString
	)
	if err := r.Scan(&e.ID, &e.Name, &email, &ssnit, &tin, &grade, &department,
		&hireDate, &terminationDate, &e.OvertimeQualified, &createdAt); err != nil {
		return nil, err
	}
	e.Email = email.String
	e.SSNITNumber = ssnit.String
	e.TIN = tin.String
	e.Grade = grade.String
	e.Department = department.String
	e.HireDate = parseTime(hireDate)
	e.TerminationDate = parseTimePtr(terminationDate)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (q *queries) SaveEmploymentEvent(ctx context.Context, ev payroll.EmploymentEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO employment_events (id, employee_id, type, effective_date, grade, department, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EmployeeID, ev.Type, fmtTime(ev.EffectiveDate),
		ev.Grade, ev.Department, ev.Note, fmtTime(createdAt),
	)
	return err
}

func (q *queries) EmploymentEvents(ctx context.Context, id payroll.EmployeeID) ([]payroll.EmploymentEvent, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, employee_id, type, effective_date, grade, department, note, created_at
		FROM employment_events WHERE employee_id = ?
		ORDER BY effective_date ASC, created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.EmploymentEvent
	for rows.Next() {
		var (
			ev                      payroll.EmploymentEvent
			effectiveDate, created  string
			grade, department, note sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EmployeeID, &ev.Type, &effectiveDate,
			&grade, &department, &note, &created); err != nil {
			return nil, err
		}
		ev.EffectiveDate = parseTime(effectiveDate)
		ev.Grade = grade.String
		ev.Department = department.String
		ev.Note = note.String
		ev.CreatedAt = parseTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (q *queries) SaveAbsence(ctx context.Context, a payroll.Absence) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO absences (id, employee_id, date, kind, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, fmtTime(a.Date), a.Kind, a.Reference, fmtTime(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payroll.ErrDuplicateAbsence
		}
		return err
	}
	return nil
}

func (q *queries) AbsencesInRange(ctx context.Context, id payroll.EmployeeID, from, to time.Time) ([]payroll.Absence, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, employee_id, date, kind, reference, created_at
		FROM absences
		WHERE employee_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, id, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.Absence
	for rows.Next() {
		var (
			a             payroll.Absence
			date, created string
			reference     sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &date, &a.Kind, &reference, &created); err != nil {
			return nil, err
		}
		a.Date = parseTime(date)
		a.Reference = reference.String
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Salaries
// -----------------------------------------------------------------------------

func (q *queries) SalaryHistory(ctx context.Context, employeeID payroll.EmployeeID) (payroll.SalaryHistory, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, employee_id, version, grade, step, monthly_basic,
			effective_from, effective_to, reason, created_at
		FROM salary_versions WHERE employee_id = ?
		ORDER BY version ASC`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out payroll.SalaryHistory
	for rows.Next() {
		var (
			v                             payroll.SalaryVersion
			basic, effectiveFrom, created string
			effectiveTo                   sql.NullString
			grade, reason                 sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.EmployeeID, &v.Version, &grade, &v.Step,
			&basic, &effectiveFrom, &effectiveTo, &reason, &created); err != nil {
			return nil, err
		}
		v.Grade = grade.String
		v.MonthlyBasic = payroll.MustParseMoney(basic, payroll.GHS)
		v.EffectiveFrom = parseTime(effectiveFrom)
		v.EffectiveTo = parseTimePtr(effectiveTo)
		v.Reason = reason.String
		v.CreatedAt = parseTime(created)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (q *queries) SaveSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO salary_versions (id, employee_id, version, grade, step, monthly_basic,
			effective_from, effective_to, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.EmployeeID, v.Version, v.Grade, v.Step, v.MonthlyBasic.Value.String(),
		fmtTime(v.EffectiveFrom), fmtTimePtr(v.EffectiveTo), v.Reason, fmtTime(createdAt),
	)
	return err
}

func (q *queries) UpdateSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE salary_versions SET grade = ?, step = ?, monthly_basic = ?,
			effective_from = ?, effective_to = ?, reason = ?
		WHERE id = ?`,
		v.Grade, v.Step, v.MonthlyBasic.Value.String(),
		fmtTime(v.EffectiveFrom), fmtTimePtr(v.EffectiveTo), v.Reason, v.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, payroll.ErrSalaryOverlap)
}

// -----------------------------------------------------------------------------
// Component assignments
// -----------------------------------------------------------------------------

func (q *queries) SaveAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO component_assignments (id, employee_id, code, amount, rate,
			effective_from, effective_to, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.Code, moneyPtr(a.Amount), decimalPtr(a.Rate),
		fmtTime(a.EffectiveFrom), fmtTimePtr(a.EffectiveTo), a.Note, fmtTime(createdAt),
	)
	return err
}

func (q *queries) UpdateAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE component_assignments SET code = ?, amount = ?, rate = ?,
			effective_from = ?, effective_to = ?, note = ?
		WHERE id = ?`,
		a.Code, moneyPtr(a.Amount), decimalPtr(a.Rate),
		fmtTime(a.EffectiveFrom), fmtTimePtr(a.EffectiveTo), a.Note, a.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, payroll.ErrComponentNotFound)
}

func (q *queries) AssignmentsFor(ctx context.Context, id payroll.EmployeeID) ([]payroll.ComponentAssignment, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, employee_id, code, amount, rate, effective_from, effective_to, note, created_at
		FROM component_assignments WHERE employee_id = ?
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.ComponentAssignment
	for rows.Next() {
		var (
			a                      payroll.ComponentAssignment
			amount, rate           sql.NullString
			effectiveFrom, created string
			effectiveTo, note      sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Code, &amount, &rate,
			&effectiveFrom, &effectiveTo, &note, &created); err != nil {
			return nil, err
		}
		if amount.Valid {
			m := payroll.MustParseMoney(amount.String, payroll.GHS)
			a.Amount = &m
		}
		if rate.Valid {
			d := payroll.MustParseDecimal(rate.String)
			a.Rate = &d
		}
		a.EffectiveFrom = parseTime(effectiveFrom)
		a.EffectiveTo = parseTimePtr(effectiveTo)
		a.Note = note.String
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

func (q *queries) SavePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO payroll_periods (id, year, month, start_date, end_date, pay_day, status, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Year, int(p.Month), fmtTime(p.Start), fmtTime(p.End),
		fmtTime(p.PayDay), p.Status, fmtTime(createdAt), fmtTimePtr(p.ClosedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payroll.ErrPeriodExists
		}
		return err
	}
	return nil
}

func (q *queries) GetPeriod(ctx context.Context, id payroll.PeriodID) (*payroll.PayrollPeriod, error) {
	row := q.c.QueryRowContext(ctx, `
		SELECT id, year, month, start_date, end_date, pay_day, status, created_at, closed_at
		FROM payroll_periods WHERE id = ?`, id)
	p, err := scanPeriod(row)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrPeriodNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (q *queries) UpdatePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE payroll_periods SET status = ?, closed_at = ? WHERE id = ?`,
		p.Status, fmtTimePtr(p.ClosedAt), p.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, payroll.ErrPeriodNotFound)
}

func (q *queries) ListPeriods(ctx context.Context, year int) ([]payroll.PayrollPeriod, error) {
	query := `
		SELECT id, year, month, start_date, end_date, pay_day, status, created_at, closed_at
		FROM payroll_periods`
	var args []any
	if year != 0 {
		query += ` WHERE year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPeriod(r rowScanner) (*payroll.PayrollPeriod, error) {
	var (
		p                  payroll.PayrollPeriod
		month              int
		start, end, payDay string
		created            string
		closedAt           sql.NullString
	)
	if err := r.Scan(&p.ID, &p.Year, &month, &start, &end, &payDay,
		&p.Status, &created, &closedAt); err != nil {
		return nil, err
	}
	p.Month = time.Month(month)
	p.Start = parseTime(start)
	p.End = parseTime(end)
	p.PayDay = parseTime(payDay)
	p.CreatedAt = parseTime(created)
	p.ClosedAt = parseTimePtr(closedAt)
	return &p, nil
}

// -----------------------------------------------------------------------------
// Runs and items
// -----------------------------------------------------------------------------

const runColumns = `id, period_id, sequence, kind, status, totals_json,
	employee_count, computed_count, failed_count, failure_reason, notes,
	created_by, created_at, updated_at, computed_at, approved_by, approved_at, paid_at`

func (q *queries) SaveRun(ctx context.Context, r *payroll.PayrollRun) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	totalsJSON, _ := json.Marshal(r.Totals)

	_, err := q.c.ExecContext(ctx, `
		INSERT INTO payroll_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PeriodID, r.Sequence, r.Kind, r.Status, string(totalsJSON),
		r.EmployeeCount, r.ComputedCount, r.FailedCount, r.FailureReason, r.Notes,
		r.CreatedBy, fmtTime(createdAt), fmtTime(updatedAt),
		fmtTimePtr(r.ComputedAt), strPtr(r.ApprovedBy), fmtTimePtr(r.ApprovedAt),
		fmtTimePtr(r.PaidAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payroll.ErrRunExists
		}
		return err
	}
	return nil
}

func (q *queries) GetRun(ctx context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM payroll_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (q *queries) UpdateRun(ctx context.Context, r *payroll.PayrollRun) error {
	totalsJSON, _ := json.Marshal(r.Totals)
	res, err := q.c.ExecContext(ctx, `
		UPDATE payroll_runs SET status = ?, totals_json = ?, employee_count = ?,
			computed_count = ?, failed_count = ?, failure_reason = ?, notes = ?,
			updated_at = ?, computed_at = ?, approved_by = ?, approved_at = ?, paid_at = ?
		WHERE id = ?`,
		r.Status, string(totalsJSON), r.EmployeeCount, r.ComputedCount, r.FailedCount,
		r.FailureReason, r.Notes, fmtTime(r.UpdatedAt), fmtTimePtr(r.ComputedAt),
		strPtr(r.ApprovedBy), fmtTimePtr(r.ApprovedAt), fmtTimePtr(r.PaidAt), r.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, payroll.ErrRunNotFound)
}

func (q *queries) RunsForPeriod(ctx context.Context, periodID payroll.PeriodID) ([]payroll.PayrollRun, error) {
	rows, err := q.c.QueryContext(ctx,
		`SELECT `+runColumns+` FROM payroll_runs WHERE period_id = ? ORDER BY sequence ASC`,
		periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRun(r rowScanner) (*payroll.PayrollRun, error) {
	var (
		run                             payroll.PayrollRun
		totalsJSON                      sql.NullString
		failureReason, notes, createdBy sql.NullString
		createdAt, updatedAt            string
		computedAt, approvedAt, paidAt  sql.NullString
		approvedBy                      sql.NullString
	)
	if err := r.Scan(&run.ID, &run.PeriodID, &run.Sequence, &run.Kind, &run.Status,
		&totalsJSON, &run.EmployeeCount, &run.ComputedCount, &run.FailedCount,
		&failureReason, &notes, &createdBy, &createdAt, &updatedAt,
		&computedAt, &approvedBy, &approvedAt, &paidAt); err != nil {
		return nil, err
	}
	run.Totals = payroll.ZeroTotals()
	if totalsJSON.Valid && totalsJSON.String != "" {
		json.Unmarshal([]byte(totalsJSON.String), &run.Totals)
	}
	run.FailureReason = failureReason.String
	run.Notes = notes.String
	run.CreatedBy = createdBy.String
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	run.ComputedAt = parseTimePtr(computedAt)
	run.ApprovedAt = parseTimePtr(approvedAt)
	run.PaidAt = parseTimePtr(paidAt)
	if approvedBy.Valid {
		v := approvedBy.String
		run.ApprovedBy = &v
	}
	return &run, nil
}

// ReplaceRunItems rebuilds the run's item set wholesale; recomputation
// never patches rows in place.
func (q *queries) ReplaceRunItems(ctx context.Context, runID payroll.RunID, items []*payroll.PayrollItem) error {
	if _, err := q.c.ExecContext(ctx, `
		DELETE FROM payroll_item_details
		WHERE item_id IN (SELECT id FROM payroll_items WHERE run_id = ?)`, runID); err != nil {
		return err
	}
	if _, err := q.c.ExecContext(ctx,
		`DELETE FROM payroll_items WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for _, it := range items {
		if err := q.insertItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) insertItem(ctx context.Context, it *payroll.PayrollItem) error {
	deductionsJSON := ""
	if len(it.Deductions) > 0 {
		b, err := json.Marshal(it.Deductions)
		if err != nil {
			return err
		}
		deductionsJSON = string(b)
	}

	_, err := q.c.ExecContext(ctx, `
		INSERT INTO payroll_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.RunID, it.PeriodID, it.EmployeeID, it.Status, it.Version,
		it.DaysActive, it.DaysInPeriod, it.AbsenceDays,
		it.BasicPay.Value.String(), it.Gross.Value.String(), it.TaxableIncome.Value.String(),
		it.PAYE.Value.String(), it.SSNITEmployee.Value.String(), it.SSNITEmployer.Value.String(),
		it.OtherDeductions.Value.String(), it.DeferredAmount.Value.String(),
		it.Arrears.Value.String(), it.NetPay.Value.String(),
		it.TaxTableVersion, it.SSNITVersion, it.FailureReason, deductionsJSON,
		fmtTime(it.ComputedAt),
	)
	if err != nil {
		return err
	}
	return q.insertDetails(ctx, it.ID, it.Details)
}

func (q *queries) insertDetails(ctx context.Context, itemID payroll.ItemID, details []payroll.PayrollItemDetail) error {
	for i, d := range details {
		if _, err := q.c.ExecContext(ctx, `
			INSERT INTO payroll_item_details (item_id, seq, code, kind, description,
				base, rate, amount, taxable, gl_account, reference_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			itemID, i, d.Code, d.Kind, d.Description,
			moneyPtr(d.Base), decimalPtr(d.Rate), d.Amount.Value.String(),
			d.Taxable, d.GLAccount, d.ReferenceID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) UpdateItem(ctx context.Context, it *payroll.PayrollItem) error {
	deductionsJSON := ""
	if len(it.Deductions) > 0 {
		b, err := json.Marshal(it.Deductions)
		if err != nil {
			return err
		}
		deductionsJSON = string(b)
	}
	res, err := q.c.ExecContext(ctx, `
		UPDATE payroll_items SET status = ?, version = ?,
			days_active = ?, days_in_period = ?, absence_days = ?,
			basic_pay = ?, gross = ?, taxable_income = ?, paye = ?,
			ssnit_employee = ?, ssnit_employer = ?, other_deductions = ?,
			deferred_amount = ?, arrears = ?, net_pay = ?,
			tax_table_version = ?, ssnit_version = ?, failure_reason = ?,
			deductions_json = ?, computed_at = ?
		WHERE id = ?`,
		it.Status, it.Version, it.DaysActive, it.DaysInPeriod, it.AbsenceDays,
		it.BasicPay.Value.String(), it.Gross.Value.String(), it.TaxableIncome.Value.String(),
		it.PAYE.Value.String(), it.SSNITEmployee.Value.String(), it.SSNITEmployer.Value.String(),
		it.OtherDeductions.Value.String(), it.DeferredAmount.Value.String(),
		it.Arrears.Value.String(), it.NetPay.Value.String(),
		it.TaxTableVersion, it.SSNITVersion, it.FailureReason, deductionsJSON,
		fmtTime(it.ComputedAt), it.ID,
	)
	if err != nil {
		return err
	}
	if err := notFoundIfZero(res, payroll.ErrItemNotFound); err != nil {
		return err
	}
	if _, err := q.c.ExecContext(ctx,
		`DELETE FROM payroll_item_details WHERE item_id = ?`, it.ID); err != nil {
		return err
	}
	return q.insertDetails(ctx, it.ID, it.Details)
}

const itemColumns = `id, run_id, period_id, employee_id, status, version,
	days_active, days_in_period, absence_days,
	basic_pay, gross, taxable_income, paye, ssnit_employee, ssnit_employer,
	other_deductions, deferred_amount, arrears, net_pay,
	tax_table_version, ssnit_version, failure_reason, deductions_json, computed_at`

func (q *queries) GetItem(ctx context.Context, id payroll.ItemID) (*payroll.PayrollItem, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM payroll_items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, payroll.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	it.Details, err = q.loadDetails(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (q *queries) ItemsForRun(ctx context.Context, runID payroll.RunID) ([]payroll.PayrollItem, error) {
	return q.queryItems(ctx,
		`SELECT `+itemColumns+` FROM payroll_items WHERE run_id = ? ORDER BY employee_id ASC`,
		runID)
}

func (q *queries) ItemsForEmployee(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.PayrollItem, error) {
	return q.queryItems(ctx, `
		SELECT `+itemColumns+` FROM payroll_items
		WHERE employee_id = ? AND period_id = ?
		ORDER BY computed_at ASC, id ASC`,
		employeeID, periodID)
}

func (q *queries) queryItems(ctx context.Context, query string, args ...any) ([]payroll.PayrollItem, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Details load after the item cursor closes; SQLite dislikes nested
	// cursors on one connection inside a transaction.
	for i := range out {
		if out[i].Details, err = q.loadDetails(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanItem(r rowScanner) (*payroll.PayrollItem, error) {
	var (
		it                                                  payroll.PayrollItem
		basic, gross, taxable, paye, ssnitEE, ssnitER       string
		otherDed, deferred, arrears, net                    string
		taxVersion, ssnitVersion, failureReason, deductions sql.NullString
		computedAt                                          string
	)
	if err := r.Scan(&it.ID, &it.RunID, &it.PeriodID, &it.EmployeeID, &it.Status, &it.Version,
		&it.DaysActive, &it.DaysInPeriod, &it.AbsenceDays,
		&basic, &gross, &taxable, &paye, &ssnitEE, &ssnitER,
		&otherDed, &deferred, &arrears, &net,
		&taxVersion, &ssnitVersion, &failureReason, &deductions, &computedAt); err != nil {
		return nil, err
	}
	it.BasicPay = payroll.MustParseMoney(basic, payroll.GHS)
	it.Gross = payroll.MustParseMoney(gross, payroll.GHS)
	it.TaxableIncome = payroll.MustParseMoney(taxable, payroll.GHS)
	it.PAYE = payroll.MustParseMoney(paye, payroll.GHS)
	it.SSNITEmployee = payroll.MustParseMoney(ssnitEE, payroll.GHS)
	it.SSNITEmployer = payroll.MustParseMoney(ssnitER, payroll.GHS)
	it.OtherDeductions = payroll.MustParseMoney(otherDed, payroll.GHS)
	it.DeferredAmount = payroll.MustParseMoney(deferred, payroll.GHS)
	it.Arrears = payroll.MustParseMoney(arrears, payroll.GHS)
	it.NetPay = payroll.MustParseMoney(net, payroll.GHS)
	it.TaxTableVersion = taxVersion.String
	it.SSNITVersion = ssnitVersion.String
	it.FailureReason = failureReason.String
	if deductions.Valid && deductions.String != "" {
		if err := json.Unmarshal([]byte(deductions.String), &it.Deductions); err != nil {
			return nil, fmt.Errorf("failed to decode deductions for item %s: %w", it.ID, err)
		}
	}
	it.ComputedAt = parseTime(computedAt)
	return &it, nil
}

func (q *queries) loadDetails(ctx context.Context, itemID payroll.ItemID) ([]payroll.PayrollItemDetail, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT code, kind, description, base, rate, amount, taxable, gl_account, reference_id
		FROM payroll_item_details WHERE item_id = ?
		ORDER BY seq ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.PayrollItemDetail
	for rows.Next() {
		var (
			d                      payroll.PayrollItemDetail
			description            sql.NullString
			base, rate             sql.NullString
			amount                 string
			glAccount, referenceID sql.NullString
		)
		if err := rows.Scan(&d.Code, &d.Kind, &description, &base, &rate,
			&amount, &d.Taxable, &glAccount, &referenceID); err != nil {
			return nil, err
		}
		d.Description = description.String
		if base.Valid {
			m := payroll.MustParseMoney(base.String, payroll.GHS)
			d.Base = &m
		}
		if rate.Valid {
			v := payroll.MustParseDecimal(rate.String)
			d.Rate = &v
		}
		d.Amount = payroll.MustParseMoney(amount, payroll.GHS)
		d.GLAccount = glAccount.String
		d.ReferenceID = referenceID.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Deferrals
// -----------------------------------------------------------------------------

const deferralColumns = `id, employee_id, code, amount, priority, reason,
	origin_period_id, origin_run_id, status, settled_run_id, created_at, settled_at`

func (q *queries) SaveDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO deferred_deductions (`+deferralColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			settled_run_id = excluded.settled_run_id,
			settled_at = excluded.settled_at`,
		d.ID, d.EmployeeID, d.Code, d.Amount.Value.String(), d.Priority, d.Reason,
		d.OriginPeriodID, d.OriginRunID, d.Status, runIDPtr(d.SettledRunID),
		fmtTime(createdAt), fmtTimePtr(d.SettledAt),
	)
	return err
}

func (q *queries) UpdateDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	return q.SaveDeferral(ctx, d)
}

func (q *queries) OpenDeferrals(ctx context.Context, employeeID payroll.EmployeeID) ([]payroll.DeferredDeduction, error) {
	// Oldest debt replays first.
	return q.queryDeferrals(ctx, `
		SELECT `+deferralColumns+` FROM deferred_deductions
		WHERE employee_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC`,
		employeeID, payroll.DeferralOpen)
}

func (q *queries) DeferralsByRun(ctx context.Context, runID payroll.RunID) ([]payroll.DeferredDeduction, error) {
	return q.queryDeferrals(ctx, `
		SELECT `+deferralColumns+` FROM deferred_deductions
		WHERE origin_run_id = ? OR settled_run_id = ?
		ORDER BY id ASC`,
		runID, runID)
}

func (q *queries) queryDeferrals(ctx context.Context, query string, args ...any) ([]payroll.DeferredDeduction, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.DeferredDeduction
	for rows.Next() {
		var (
			d                     payroll.DeferredDeduction
			amount, createdAt     string
			reason                sql.NullString
			settledRun, settledAt sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.Code, &amount, &d.Priority, &reason,
			&d.OriginPeriodID, &d.OriginRunID, &d.Status, &settledRun,
			&createdAt, &settledAt); err != nil {
			return nil, err
		}
		d.Amount = payroll.MustParseMoney(amount, payroll.GHS)
		d.Reason = reason.String
		if settledRun.Valid {
			id := payroll.RunID(settledRun.String)
			d.SettledRunID = &id
		}
		d.CreatedAt = parseTime(createdAt)
		d.SettledAt = parseTimePtr(settledAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// YTD snapshots
// -----------------------------------------------------------------------------

func (q *queries) SaveYTD(ctx context.Context, snap *payroll.YTDSnapshot) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO ytd_snapshots (employee_id, year, gross, taxable_income, paye,
			ssnit_employee, ssnit_employer, other_deduction, arrears, net,
			periods, last_period_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year) DO UPDATE SET
			gross = excluded.gross,
			taxable_income = excluded.taxable_income,
			paye = excluded.paye,
			ssnit_employee = excluded.ssnit_employee,
			ssnit_employer = excluded.ssnit_employer,
			other_deduction = excluded.other_deduction,
			arrears = excluded.arrears,
			net = excluded.net,
			periods = excluded.periods,
			last_period_id = excluded.last_period_id,
			updated_at = excluded.updated_at`,
		snap.EmployeeID, snap.Year, snap.Gross.Value.String(), snap.TaxableIncome.Value.String(),
		snap.PAYE.Value.String(), snap.SSNITEmployee.Value.String(), snap.SSNITEmployer.Value.String(),
		snap.OtherDeduction.Value.String(), snap.Arrears.Value.String(), snap.Net.Value.String(),
		snap.Periods, snap.LastPeriodID, fmtTime(snap.UpdatedAt),
	)
	return err
}

// GetYTD returns (nil, nil) when no snapshot exists yet; callers start
// from zero.
func (q *queries) GetYTD(ctx context.Context, employeeID payroll.EmployeeID, year int) (*payroll.YTDSnapshot, error) {
	var (
		snap                                   payroll.YTDSnapshot
		gross, taxable, paye, ssnitEE, ssnitER string
		otherDed, arrears, net                 string
		lastPeriod                             sql.NullString
		updatedAt                              string
	)
	err := q.c.QueryRowContext(ctx, `
		SELECT employee_id, year, gross, taxable_income, paye, ssnit_employee,
			ssnit_employer, other_deduction, arrears, net, periods, last_period_id, updated_at
		FROM ytd_snapshots WHERE employee_id = ? AND year = ?`,
		employeeID, year,
	).Scan(&snap.EmployeeID, &snap.Year, &gross, &taxable, &paye, &ssnitEE, &ssnitER,
		&otherDed, &arrears, &net, &snap.Periods, &lastPeriod, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Gross = payroll.MustParseMoney(gross, payroll.GHS)
	snap.TaxableIncome = payroll.MustParseMoney(taxable, payroll.GHS)
	snap.PAYE = payroll.MustParseMoney(paye, payroll.GHS)
	snap.SSNITEmployee = payroll.MustParseMoney(ssnitEE, payroll.GHS)
	snap.SSNITEmployer = payroll.MustParseMoney(ssnitER, payroll.GHS)
	snap.OtherDeduction = payroll.MustParseMoney(otherDed, payroll.GHS)
	snap.Arrears = payroll.MustParseMoney(arrears, payroll.GHS)
	snap.Net = payroll.MustParseMoney(net, payroll.GHS)
	snap.LastPeriodID = payroll.PeriodID(lastPeriod.String)
	snap.UpdatedAt = parseTime(updatedAt)
	return &snap, nil
}

// -----------------------------------------------------------------------------
// Backpay requests and lines
// -----------------------------------------------------------------------------

const requestColumns = `id, employee_id, reason, trigger_salary_version, effective_from,
	status, totals_json, applied_run_id, created_at, computed_at, approved_at, approved_by, error`

func (q *queries) SaveRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	totalsJSON, _ := json.Marshal(r.Totals)
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO backpay_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.Reason, r.TriggerSalaryVersion, fmtTime(r.EffectiveFrom),
		r.Status, string(totalsJSON), runIDPtr(r.AppliedRunID), fmtTime(createdAt),
		fmtTimePtr(r.ComputedAt), fmtTimePtr(r.ApprovedAt), strPtr(r.ApprovedBy), r.Error,
	)
	return err
}

func (q *queries) UpdateRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	totalsJSON, _ := json.Marshal(r.Totals)
	res, err := q.c.ExecContext(ctx, `
		UPDATE backpay_requests SET status = ?, totals_json = ?, applied_run_id = ?,
			computed_at = ?, approved_at = ?, approved_by = ?, error = ?
		WHERE id = ?`,
		r.Status, string(totalsJSON), runIDPtr(r.AppliedRunID),
		fmtTimePtr(r.ComputedAt), fmtTimePtr(r.ApprovedAt), strPtr(r.ApprovedBy),
		r.Error, r.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, backpay.ErrRequestNotFound)
}

func (q *queries) GetRequest(ctx context.Context, id backpay.RequestID) (*backpay.BackpayRequest, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM backpay_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, backpay.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (q *queries) ListRequests(ctx context.Context, employeeID payroll.EmployeeID) ([]backpay.BackpayRequest, error) {
	// Oldest first so arrears apply in the order they were raised.
	query := `SELECT ` + requestColumns + ` FROM backpay_requests`
	var args []any
	if employeeID != "" {
		query += ` WHERE employee_id = ?`
		args = append(args, employeeID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return q.queryRequests(ctx, query, args...)
}

func (q *queries) RequestsByRun(ctx context.Context, runID payroll.RunID) ([]backpay.BackpayRequest, error) {
	return q.queryRequests(ctx, `
		SELECT `+requestColumns+` FROM backpay_requests
		WHERE applied_run_id = ?
		ORDER BY id ASC`, runID)
}

func (q *queries) queryRequests(ctx context.Context, query string, args ...any) ([]backpay.BackpayRequest, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backpay.BackpayRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*backpay.BackpayRequest, error) {
	var (
		r                        backpay.BackpayRequest
		reason, totalsJSON       sql.NullString
		effectiveFrom, createdAt string
		appliedRun               sql.NullString
		computedAt, approvedAt   sql.NullString
		approvedBy, errText      sql.NullString
	)
	if err := row.Scan(&r.ID, &r.EmployeeID, &reason, &r.TriggerSalaryVersion,
		&effectiveFrom, &r.Status, &totalsJSON, &appliedRun, &createdAt,
		&computedAt, &approvedAt, &approvedBy, &errText); err != nil {
		return nil, err
	}
	r.Reason = reason.String
	r.EffectiveFrom = parseTime(effectiveFrom)
	r.Totals = backpay.ZeroTotals()
	if totalsJSON.Valid && totalsJSON.String != "" {
		json.Unmarshal([]byte(totalsJSON.String), &r.Totals)
	}
	if appliedRun.Valid {
		id := payroll.RunID(appliedRun.String)
		r.AppliedRunID = &id
	}
	r.CreatedAt = parseTime(createdAt)
	r.ComputedAt = parseTimePtr(computedAt)
	r.ApprovedAt = parseTimePtr(approvedAt)
	if approvedBy.Valid {
		v := approvedBy.String
		r.ApprovedBy = &v
	}
	r.Error = errText.String
	return &r, nil
}

func (q *queries) ReplaceLines(ctx context.Context, requestID backpay.RequestID, lines []backpay.BackpayLine) error {
	if _, err := q.c.ExecContext(ctx,
		`DELETE FROM backpay_lines WHERE request_id = ?`, requestID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := q.c.ExecContext(ctx, `
			INSERT INTO backpay_lines (id, request_id, period_id, source_item_id,
				source_item_version, old_basic, new_basic, gross_delta, paye_delta,
				ssnit_employee_delta, ssnit_employer_delta, net_delta,
				tax_table_version, ssnit_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.RequestID, l.PeriodID, l.SourceItemID, l.SourceItemVersion,
			l.OldBasic.Value.String(), l.NewBasic.Value.String(),
			l.GrossDelta.Value.String(), l.PAYEDelta.Value.String(),
			l.SSNITEmployeeDelta.Value.String(), l.SSNITEmployerDelta.Value.String(),
			l.NetDelta.Value.String(), l.TaxTableVersion, l.SSNITVersion,
		); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) LinesFor(ctx context.Context, requestID backpay.RequestID) ([]backpay.BackpayLine, error) {
	rows, err := q.c.QueryContext(ctx, `
		SELECT id, request_id, period_id, source_item_id, source_item_version,
			old_basic, new_basic, gross_delta, paye_delta,
			ssnit_employee_delta, ssnit_employer_delta, net_delta,
			tax_table_version, ssnit_version
		FROM backpay_lines WHERE request_id = ?
		ORDER BY period_id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []backpay.BackpayLine
	for rows.Next() {
		var (
			l                                 backpay.BackpayLine
			oldBasic, newBasic, grossD, payeD string
			ssnitEED, ssnitERD, netD          string
			taxVersion, ssnitVersion          sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.PeriodID, &l.SourceItemID,
			&l.SourceItemVersion, &oldBasic, &newBasic, &grossD, &payeD,
			&ssnitEED, &ssnitERD, &netD, &taxVersion, &ssnitVersion); err != nil {
			return nil, err
		}
		l.OldBasic = payroll.MustParseMoney(oldBasic, payroll.GHS)
		l.NewBasic = payroll.MustParseMoney(newBasic, payroll.GHS)
		l.GrossDelta = payroll.MustParseMoney(grossD, payroll.GHS)
		l.PAYEDelta = payroll.MustParseMoney(payeD, payroll.GHS)
		l.SSNITEmployeeDelta = payroll.MustParseMoney(ssnitEED, payroll.GHS)
		l.SSNITEmployerDelta = payroll.MustParseMoney(ssnitERD, payroll.GHS)
		l.NetDelta = payroll.MustParseMoney(netD, payroll.GHS)
		l.TaxTableVersion = taxVersion.String
		l.SSNITVersion = ssnitVersion.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Loans and installments
// -----------------------------------------------------------------------------

const loanColumns = `id, employee_id, kind, principal, annual_rate, term_months,
	start_period, status, disbursed_at, disbursed_by, settled_at`

func (q *queries) SaveLoan(ctx context.Context, l *loans.Loan) error {
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.EmployeeID, l.Kind, l.Principal.Value.String(), l.AnnualRate.String(),
		l.TermMonths, l.StartPeriod, l.Status, fmtTime(l.DisbursedAt), l.DisbursedBy,
		fmtTimePtr(l.SettledAt),
	)
	return err
}

func (q *queries) UpdateLoan(ctx context.Context, l *loans.Loan) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE loans SET status = ?, settled_at = ? WHERE id = ?`,
		l.Status, fmtTimePtr(l.SettledAt), l.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, loans.ErrLoanNotFound)
}

func (q *queries) GetLoan(ctx context.Context, id loans.LoanID) (*loans.Loan, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id)
	l, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, loans.ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (q *queries) ListLoans(ctx context.Context, employeeID payroll.EmployeeID) ([]loans.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans`
	var args []any
	if employeeID != "" {
		query += ` WHERE employee_id = ?`
		args = append(args, employeeID)
	}
	query += ` ORDER BY disbursed_at ASC, id ASC`

	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loans.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanLoan(r rowScanner) (*loans.Loan, error) {
	var (
		l                      loans.Loan
		principal, rate        string
		disbursedAt            string
		disbursedBy, settledAt sql.NullString
	)
	if err := r.Scan(&l.ID, &l.EmployeeID, &l.Kind, &principal, &rate,
		&l.TermMonths, &l.StartPeriod, &l.Status, &disbursedAt,
		&disbursedBy, &settledAt); err != nil {
		return nil, err
	}
	l.Principal = payroll.MustParseMoney(principal, payroll.GHS)
	l.AnnualRate = payroll.MustParseDecimal(rate)
	l.DisbursedAt = parseTime(disbursedAt)
	l.DisbursedBy = disbursedBy.String
	l.SettledAt = parseTimePtr(settledAt)
	return &l, nil
}

const installmentColumns = `id, loan_id, sequence, period_id, principal, interest, total, status, deducted_run_id`

func (q *queries) SaveInstallments(ctx context.Context, rows []loans.Installment) error {
	for _, inst := range rows {
		if _, err := q.c.ExecContext(ctx, `
			INSERT INTO loan_installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.LoanID, inst.Sequence, inst.PeriodID,
			inst.Principal.Value.String(), inst.Interest.Value.String(),
			inst.Total.Value.String(), inst.Status, runIDPtr(inst.DeductedRunID),
		); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) UpdateInstallment(ctx context.Context, row loans.Installment) error {
	res, err := q.c.ExecContext(ctx, `
		UPDATE loan_installments SET status = ?, deducted_run_id = ? WHERE id = ?`,
		row.Status, runIDPtr(row.DeductedRunID), row.ID,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res, loans.ErrInstallmentNotFound)
}

func (q *queries) GetInstallment(ctx context.Context, id string) (*loans.Installment, error) {
	row := q.c.QueryRowContext(ctx,
		`SELECT `+installmentColumns+` FROM loan_installments WHERE id = ?`, id)
	inst, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return nil, loans.ErrInstallmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (q *queries) InstallmentsForLoan(ctx context.Context, loanID loans.LoanID) ([]loans.Installment, error) {
	return q.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM loan_installments
		WHERE loan_id = ?
		ORDER BY sequence ASC`, loanID)
}

// InstallmentsThrough is what a run presents for collection: the period's
// own rows plus anything deferred from earlier months, active loans only.
func (q *queries) InstallmentsThrough(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]loans.Installment, error) {
	return q.queryInstallments(ctx, `
		SELECT i.id, i.loan_id, i.sequence, i.period_id, i.principal, i.interest,
			i.total, i.status, i.deducted_run_id
		FROM loan_installments i
		JOIN loans l ON l.id = i.loan_id
		WHERE l.employee_id = ? AND l.status = ?
			AND i.status IN (?, ?)
			AND i.period_id <= ?
		ORDER BY i.period_id ASC, i.sequence ASC, i.id ASC`,
		employeeID, loans.LoanActive,
		loans.InstallmentScheduled, loans.InstallmentDeferred, periodID)
}

func (q *queries) InstallmentsByRun(ctx context.Context, runID payroll.RunID) ([]loans.Installment, error) {
	return q.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM loan_installments
		WHERE deducted_run_id = ?
		ORDER BY id ASC`, runID)
}

func (q *queries) queryInstallments(ctx context.Context, query string, args ...any) ([]loans.Installment, error) {
	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []loans.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func scanInstallment(r rowScanner) (*loans.Installment, error) {
	var (
		inst                       loans.Installment
		principal, interest, total string
		deductedRun                sql.NullString
	)
	if err := r.Scan(&inst.ID, &inst.LoanID, &inst.Sequence, &inst.PeriodID,
		&principal, &interest, &total, &inst.Status, &deductedRun); err != nil {
		return nil, err
	}
	inst.Principal = payroll.MustParseMoney(principal, payroll.GHS)
	inst.Interest = payroll.MustParseMoney(interest, payroll.GHS)
	inst.Total = payroll.MustParseMoney(total, payroll.GHS)
	if deductedRun.Valid {
		id := payroll.RunID(deductedRun.String)
		inst.DeductedRunID = &id
	}
	return &inst, nil
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

func (q *queries) AppendAudit(ctx context.Context, entry payroll.AuditEntry) error {
	payloadJSON := ""
	if len(entry.Payload) > 0 {
		b, _ := json.Marshal(entry.Payload)
		payloadJSON = string(b)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := q.c.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, action, employee_id, period_id, run_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, fmtTime(ts), entry.ActorID, entry.Action,
		entry.EmployeeID, entry.PeriodID, entry.RunID, payloadJSON,
	)
	return err
}

func (q *queries) QueryAudit(ctx context.Context, filter payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	query := `SELECT id, timestamp, actor_id, action, employee_id, period_id, run_id, payload_json
		FROM audit_log WHERE 1=1`
	var args []any
	if filter.EmployeeID != nil {
		query += ` AND employee_id = ?`
		args = append(args, *filter.EmployeeID)
	}
	if filter.RunID != nil {
		query += ` AND run_id = ?`
		args = append(args, *filter.RunID)
	}
	if filter.ActorID != nil {
		query += ` AND actor_id = ?`
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		query += ` AND action IN (?` + strings.Repeat(", ?", len(filter.Actions)-1) + `)`
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	if filter.From != nil {
		query += ` AND timestamp >= ?`
		args = append(args, fmtTime(*filter.From))
	}
	if filter.To != nil {
		query += ` AND timestamp <= ?`
		args = append(args, fmtTime(*filter.To))
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := q.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payroll.AuditEntry
	for rows.Next() {
		var (
			e           payroll.AuditEntry
			ts          string
			actorID     sql.NullString
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actorID, &e.Action, &e.EmployeeID,
			&e.PeriodID, &e.RunID, &payloadJSON); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.ActorID = actorID.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			json.Unmarshal([]byte(payloadJSON.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// CONFIG RECORDS - Raw JSON persisted for reload into the registries
// =============================================================================

// StatutoryTableRecord is a stored statutory table config.
type StatutoryTableRecord struct {
	Kind          string // "paye" or "ssnit"
	Version       string
	EffectiveFrom time.Time
	ConfigJSON    string
	CreatedAt     time.Time
}

// SaveStatutoryTable persists a table config for reload on startup.
func (s *Store) SaveStatutoryTable(ctx context.Context, rec StatutoryTableRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statutory_tables (kind, version, effective_from, config_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, version) DO UPDATE SET
			effective_from = excluded.effective_from,
			config_json = excluded.config_json`,
		rec.Kind, rec.Version, fmtTime(rec.EffectiveFrom), rec.ConfigJSON,
		fmtTime(time.Now().UTC()),
	)
	return err
}

// ListStatutoryTables returns stored table configs in effective-date order.
func (s *Store) ListStatutoryTables(ctx context.Context) ([]StatutoryTableRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, version, effective_from, config_json, created_at
		FROM statutory_tables ORDER BY effective_from ASC, version ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatutoryTableRecord
	for rows.Next() {
		var rec StatutoryTableRecord
		var effectiveFrom, createdAt string
		if err := rows.Scan(&rec.Kind, &rec.Version, &effectiveFrom, &rec.ConfigJSON, &createdAt); err != nil {
			return nil, err
		}
		rec.EffectiveFrom = parseTime(effectiveFrom)
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ComponentRecord is a stored pay component config.
type ComponentRecord struct {
	Code       string
	ConfigJSON string
	CreatedAt  time.Time
}

// SaveComponentDef persists a component config for reload on startup.
func (s *Store) SaveComponentDef(ctx context.Context, rec ComponentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pay_components (code, config_json, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET config_json = excluded.config_json`,
		rec.Code, rec.ConfigJSON, fmtTime(time.Now().UTC()),
	)
	return err
}

// ListComponentDefs returns all stored component configs.
func (s *Store) ListComponentDefs(ctx context.Context) ([]ComponentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, config_json, created_at FROM pay_components ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComponentRecord
	for rows.Next() {
		var rec ComponentRecord
		var createdAt string
		if err := rows.Scan(&rec.Code, &rec.ConfigJSON, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// STORE - Locked delegation
// =============================================================================

func (s *Store) Append(ctx context.Context, tx payroll.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Append(ctx, tx)
}

// AppendBatch is atomic: either every posting lands or none do.
func (s *Store) AppendBatch(ctx context.Context, txs []payroll.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOwnTx(ctx, func(q *queries) error {
		return q.AppendBatch(ctx, txs)
	})
}

// inOwnTx wraps multi-statement writes that arrive outside WithTx.
// Callers must hold the write lock.
func (s *Store) inOwnTx(ctx context.Context, fn func(*queries) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{c: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) Load(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Load(ctx, employeeID, periodID)
}

func (s *Store) LoadRun(ctx context.Context, runID payroll.RunID) ([]payroll.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.LoadRun(ctx, runID)
}

func (s *Store) LoadRange(ctx context.Context, employeeID payroll.EmployeeID, from, to time.Time) ([]payroll.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.LoadRange(ctx, employeeID, from, to)
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Exists(ctx, idempotencyKey)
}

func (s *Store) SaveEmployee(ctx context.Context, e *payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveEmployee(ctx, e)
}

func (s *Store) UpdateEmployee(ctx context.Context, e *payroll.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateEmployee(ctx, e)
}

func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListEmployees(ctx)
}

func (s *Store) SaveEmploymentEvent(ctx context.Context, ev payroll.EmploymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveEmploymentEvent(ctx, ev)
}

func (s *Store) EmploymentEvents(ctx context.Context, id payroll.EmployeeID) ([]payroll.EmploymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.EmploymentEvents(ctx, id)
}

func (s *Store) SaveAbsence(ctx context.Context, a payroll.Absence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveAbsence(ctx, a)
}

func (s *Store) AbsencesInRange(ctx context.Context, id payroll.EmployeeID, from, to time.Time) ([]payroll.Absence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.AbsencesInRange(ctx, id, from, to)
}

func (s *Store) SalaryHistory(ctx context.Context, employeeID payroll.EmployeeID) (payroll.SalaryHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.SalaryHistory(ctx, employeeID)
}

func (s *Store) SaveSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveSalaryVersion(ctx, v)
}

func (s *Store) UpdateSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateSalaryVersion(ctx, v)
}

func (s *Store) SaveAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveAssignment(ctx, a)
}

func (s *Store) UpdateAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateAssignment(ctx, a)
}

func (s *Store) AssignmentsFor(ctx context.Context, id payroll.EmployeeID) ([]payroll.ComponentAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.AssignmentsFor(ctx, id)
}

func (s *Store) SavePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SavePeriod(ctx, p)
}

func (s *Store) GetPeriod(ctx context.Context, id payroll.PeriodID) (*payroll.PayrollPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetPeriod(ctx, id)
}

func (s *Store) UpdatePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdatePeriod(ctx, p)
}

func (s *Store) ListPeriods(ctx context.Context, year int) ([]payroll.PayrollPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListPeriods(ctx, year)
}

func (s *Store) SaveRun(ctx context.Context, r *payroll.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveRun(ctx, r)
}

func (s *Store) GetRun(ctx context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRun(ctx, id)
}

func (s *Store) UpdateRun(ctx context.Context, r *payroll.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateRun(ctx, r)
}

func (s *Store) RunsForPeriod(ctx context.Context, periodID payroll.PeriodID) ([]payroll.PayrollRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.RunsForPeriod(ctx, periodID)
}

func (s *Store) ReplaceRunItems(ctx context.Context, runID payroll.RunID, items []*payroll.PayrollItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOwnTx(ctx, func(q *queries) error {
		return q.ReplaceRunItems(ctx, runID, items)
	})
}

func (s *Store) UpdateItem(ctx context.Context, it *payroll.PayrollItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOwnTx(ctx, func(q *queries) error {
		return q.UpdateItem(ctx, it)
	})
}

func (s *Store) GetItem(ctx context.Context, id payroll.ItemID) (*payroll.PayrollItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetItem(ctx, id)
}

func (s *Store) ItemsForRun(ctx context.Context, runID payroll.RunID) ([]payroll.PayrollItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ItemsForRun(ctx, runID)
}

func (s *Store) ItemsForEmployee(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.PayrollItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ItemsForEmployee(ctx, employeeID, periodID)
}

func (s *Store) SaveDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveDeferral(ctx, d)
}

func (s *Store) UpdateDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateDeferral(ctx, d)
}

func (s *Store) OpenDeferrals(ctx context.Context, employeeID payroll.EmployeeID) ([]payroll.DeferredDeduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.OpenDeferrals(ctx, employeeID)
}

func (s *Store) DeferralsByRun(ctx context.Context, runID payroll.RunID) ([]payroll.DeferredDeduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.DeferralsByRun(ctx, runID)
}

func (s *Store) SaveYTD(ctx context.Context, snap *payroll.YTDSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveYTD(ctx, snap)
}

func (s *Store) GetYTD(ctx context.Context, employeeID payroll.EmployeeID, year int) (*payroll.YTDSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetYTD(ctx, employeeID, year)
}

func (s *Store) SaveRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveRequest(ctx, r)
}

func (s *Store) UpdateRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateRequest(ctx, r)
}

func (s *Store) GetRequest(ctx context.Context, id backpay.RequestID) (*backpay.BackpayRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRequest(ctx, id)
}

func (s *Store) ListRequests(ctx context.Context, employeeID payroll.EmployeeID) ([]backpay.BackpayRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRequests(ctx, employeeID)
}

func (s *Store) RequestsByRun(ctx context.Context, runID payroll.RunID) ([]backpay.BackpayRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.RequestsByRun(ctx, runID)
}

func (s *Store) ReplaceLines(ctx context.Context, requestID backpay.RequestID, lines []backpay.BackpayLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOwnTx(ctx, func(q *queries) error {
		return q.ReplaceLines(ctx, requestID, lines)
	})
}

func (s *Store) LinesFor(ctx context.Context, requestID backpay.RequestID) ([]backpay.BackpayLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.LinesFor(ctx, requestID)
}

func (s *Store) SaveLoan(ctx context.Context, l *loans.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveLoan(ctx, l)
}

func (s *Store) UpdateLoan(ctx context.Context, l *loans.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateLoan(ctx, l)
}

func (s *Store) GetLoan(ctx context.Context, id loans.LoanID) (*loans.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetLoan(ctx, id)
}

func (s *Store) ListLoans(ctx context.Context, employeeID payroll.EmployeeID) ([]loans.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListLoans(ctx, employeeID)
}

func (s *Store) SaveInstallments(ctx context.Context, rows []loans.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOwnTx(ctx, func(q *queries) error {
		return q.SaveInstallments(ctx, rows)
	})
}

func (s *Store) UpdateInstallment(ctx context.Context, row loans.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateInstallment(ctx, row)
}

func (s *Store) GetInstallment(ctx context.Context, id string) (*loans.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetInstallment(ctx, id)
}

func (s *Store) InstallmentsForLoan(ctx context.Context, loanID loans.LoanID) ([]loans.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.InstallmentsForLoan(ctx, loanID)
}

func (s *Store) InstallmentsThrough(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]loans.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.InstallmentsThrough(ctx, employeeID, periodID)
}

func (s *Store) InstallmentsByRun(ctx context.Context, runID payroll.RunID) ([]loans.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.InstallmentsByRun(ctx, runID)
}

func (s *Store) AppendAudit(ctx context.Context, entry payroll.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendAudit(ctx, entry)
}

func (s *Store) QueryAudit(ctx context.Context, filter payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.QueryAudit(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func runIDPtr(id *payroll.RunID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func moneyPtr(m *payroll.Money) any {
	if m == nil {
		return nil
	}
	return m.Value.String()
}

func decimalPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func notFoundIfZero(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
