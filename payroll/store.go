/*
store.go - Persistence interfaces for payroll state

PURPOSE:
  Defines the interface between the payroll engine and the database.
  The engine only ever talks to these interfaces, so different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  LedgerStore:   Append-only posting persistence (append, load, exists)
  EmployeeStore: Employees, employment events, absences
  PeriodStore:   Monthly periods and their open/closed status
  RunStore:      Runs, items, and per-item detail lines
  Store:         Everything the engine needs, combined
  TxStore:       Transactional operations (atomic multi-table writes)

WORKING STATE vs PAID HISTORY:
  Runs and items are WORKING STATE: they are recomputed, replaced, and
  transitioned until a run is approved. The posting ledger is PAID
  HISTORY: append-only, never updated, never deleted. Corrections to
  paid history are reversal postings or backpay arrears.

ATOMIC BATCHES:
  AppendBatch() ensures all-or-nothing semantics. Approving a run posts
  many ledger rows per employee; either all land or none do.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level posting interface using LedgerStore
  - service.go: Drives periods, runs, and items through TxStore
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Posting persistence (append-only)
// =============================================================================

// LedgerStore handles persistence of postings.
// IMPORTANT: LedgerStore is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via reversal postings.
type LedgerStore interface {
	// Append persists a posting. Returns error if idempotency key exists.
	// This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple postings atomically.
	// Either all succeed or none do.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all postings for employee+period, ordered by EffectiveAt.
	Load(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]Transaction, error)

	// LoadRun returns all postings made by a run.
	LoadRun(ctx context.Context, runID RunID) ([]Transaction, error)

	// LoadRange returns an employee's postings with EffectiveAt in [from, to].
	LoadRange(ctx context.Context, employeeID EmployeeID, from, to time.Time) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// DOMAIN STORES - Working state the engine reads and writes
// =============================================================================

// EmployeeStore persists employees, their employment events, and absences.
type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e *Employee) error
	UpdateEmployee(ctx context.Context, e *Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)

	SaveEmploymentEvent(ctx context.Context, ev EmploymentEvent) error
	EmploymentEvents(ctx context.Context, id EmployeeID) ([]EmploymentEvent, error)

	// SaveAbsence fails with ErrDuplicateAbsence if the employee already
	// has an absence recorded on the same calendar day.
	SaveAbsence(ctx context.Context, a Absence) error
	AbsencesInRange(ctx context.Context, id EmployeeID, from, to time.Time) ([]Absence, error)
}

// ComponentStore persists component assignments. Component definitions
// live in the registry, not the store.
type ComponentStore interface {
	SaveAssignment(ctx context.Context, a ComponentAssignment) error
	UpdateAssignment(ctx context.Context, a ComponentAssignment) error
	AssignmentsFor(ctx context.Context, id EmployeeID) ([]ComponentAssignment, error)
}

// PeriodStore persists payroll periods.
type PeriodStore interface {
	// SavePeriod fails with ErrPeriodExists for a duplicate year+month.
	SavePeriod(ctx context.Context, p *PayrollPeriod) error
	GetPeriod(ctx context.Context, id PeriodID) (*PayrollPeriod, error)
	UpdatePeriod(ctx context.Context, p *PayrollPeriod) error
	// ListPeriods returns periods for a year, or all periods when year is 0.
	ListPeriods(ctx context.Context, year int) ([]PayrollPeriod, error)
}

// RunStore persists runs, items, and item detail lines. Items carry their
// Details; SaveItem-style writes persist both together.
type RunStore interface {
	// SaveRun fails with ErrRunExists for a duplicate period+sequence.
	SaveRun(ctx context.Context, r *PayrollRun) error
	GetRun(ctx context.Context, id RunID) (*PayrollRun, error)
	UpdateRun(ctx context.Context, r *PayrollRun) error
	RunsForPeriod(ctx context.Context, periodID PeriodID) ([]PayrollRun, error)

	// ReplaceRunItems atomically replaces the run's item set. Recomputation
	// rebuilds every item; carried-over Versions are the caller's job.
	ReplaceRunItems(ctx context.Context, runID RunID, items []*PayrollItem) error
	UpdateItem(ctx context.Context, it *PayrollItem) error
	GetItem(ctx context.Context, id ItemID) (*PayrollItem, error)
	ItemsForRun(ctx context.Context, runID RunID) ([]PayrollItem, error)
	// ItemsForEmployee returns the employee's items in a period across all
	// of that period's runs. Backpay filters by status.
	ItemsForEmployee(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]PayrollItem, error)
}

// DeferralStore persists deductions that exceeded the cap and were
// carried to a later period.
type DeferralStore interface {
	SaveDeferral(ctx context.Context, d *DeferredDeduction) error
	UpdateDeferral(ctx context.Context, d *DeferredDeduction) error
	OpenDeferrals(ctx context.Context, employeeID EmployeeID) ([]DeferredDeduction, error)
	// DeferralsByRun returns deferrals the run created or settled, for
	// unwinding on cancellation.
	DeferralsByRun(ctx context.Context, runID RunID) ([]DeferredDeduction, error)
}

// YTDStore persists year-to-date snapshots, keyed by employee+year.
// SaveYTD upserts. GetYTD returns (nil, nil) when the employee has no
// snapshot for the year yet.
type YTDStore interface {
	SaveYTD(ctx context.Context, s *YTDSnapshot) error
	GetYTD(ctx context.Context, employeeID EmployeeID, year int) (*YTDSnapshot, error)
}

// =============================================================================
// COMBINED STORE
// =============================================================================

// Store is everything the payroll engine needs from persistence.
type Store interface {
	LedgerStore
	EmployeeStore
	SalaryStore
	ComponentStore
	PeriodStore
	RunStore
	DeferralStore
	YTDStore
}

// TxStore wraps Store with transaction support.
// Use this when you need atomic operations (e.g., approving a run).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    string // who performed the action
	Action     AuditAction
	EmployeeID EmployeeID
	PeriodID   PeriodID
	RunID      RunID
	Payload    map[string]any // action-specific data
}

type AuditAction string

const (
	AuditPeriodOpened     AuditAction = "period_opened"
	AuditPeriodClosed     AuditAction = "period_closed"
	AuditRunCreated       AuditAction = "run_created"
	AuditRunComputed      AuditAction = "run_computed"
	AuditRunApproved      AuditAction = "run_approved"
	AuditRunCancelled     AuditAction = "run_cancelled"
	AuditRunPaid          AuditAction = "run_paid"
	AuditSalaryChanged    AuditAction = "salary_changed"
	AuditManualAdjust     AuditAction = "manual_adjustment"
	AuditBackpayRequested AuditAction = "backpay_requested"
	AuditBackpayComputed  AuditAction = "backpay_computed"
	AuditBackpayApproved  AuditAction = "backpay_approved"
	AuditBackpayApplied   AuditAction = "backpay_applied"
	AuditBackpayStale     AuditAction = "backpay_stale"
	AuditBackpayCancelled AuditAction = "backpay_cancelled"
	AuditLoanDisbursed    AuditAction = "loan_disbursed"
	AuditLoanSettled      AuditAction = "loan_settled"
	AuditLoanCancelled    AuditAction = "loan_cancelled"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EmployeeID *EmployeeID
	RunID      *RunID
	ActorID    *string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}
