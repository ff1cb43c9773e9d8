// Package store provides payroll.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/backpay"
	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements payroll.Store and payroll.AuditLog. All reads return
// copies; all writes store copies, so callers can't mutate shared state.
type Memory struct {
	mu sync.RWMutex
	s  *state
}

func NewMemory() *Memory {
	return &Memory{s: newState()}
}

// TxMemory wraps Memory with transaction support. WithTx snapshots the
// whole state and restores it if fn fails. Single-writer by construction:
// the write lock is held for the duration of fn.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against the underlying state. On error every write
// made inside fn is rolled back.
func (tm *TxMemory) WithTx(_ context.Context, fn func(payroll.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.s.clone()
	if err := fn(tm.s); err != nil {
		tm.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// STATE - Unlocked operations; Memory adds the locking
// =============================================================================

// The transactional view handed to WithTx callbacks must carry the
// backpay and loan tables; those services widen it back at runtime.
var (
	_ backpay.Store = (*state)(nil)
	_ loans.Store   = (*state)(nil)
)

type ytdKey struct {
	EmployeeID payroll.EmployeeID
	Year       int
}

type state struct {
	employees   map[payroll.EmployeeID]payroll.Employee
	events      map[payroll.EmployeeID][]payroll.EmploymentEvent
	absences    map[payroll.EmployeeID][]payroll.Absence
	absenceDays map[string]bool
	salaries    map[payroll.EmployeeID]payroll.SalaryHistory
	assignments map[payroll.EmployeeID][]payroll.ComponentAssignment
	periods     map[payroll.PeriodID]payroll.PayrollPeriod
	runs        map[payroll.RunID]payroll.PayrollRun
	items       map[payroll.ItemID]payroll.PayrollItem
	itemsByRun  map[payroll.RunID][]payroll.ItemID
	deferrals   map[string]payroll.DeferredDeduction
	ytd         map[ytdKey]payroll.YTDSnapshot

	requests     map[backpay.RequestID]backpay.BackpayRequest
	requestLines map[backpay.RequestID][]backpay.BackpayLine

	loans              map[loans.LoanID]loans.Loan
	installments       map[string]loans.Installment
	installmentsByLoan map[loans.LoanID][]string

	postings    map[payroll.EmployeeID][]payroll.Transaction
	byRun       map[payroll.RunID][]payroll.Transaction
	idempotency map[string]bool

	audit []payroll.AuditEntry
}

func newState() *state {
	return &state{
		employees:   make(map[payroll.EmployeeID]payroll.Employee),
		events:      make(map[payroll.EmployeeID][]payroll.EmploymentEvent),
		absences:    make(map[payroll.EmployeeID][]payroll.Absence),
		absenceDays: make(map[string]bool),
		salaries:    make(map[payroll.EmployeeID]payroll.SalaryHistory),
		assignments: make(map[payroll.EmployeeID][]payroll.ComponentAssignment),
		periods:     make(map[payroll.PeriodID]payroll.PayrollPeriod),
		runs:        make(map[payroll.RunID]payroll.PayrollRun),
		items:       make(map[payroll.ItemID]payroll.PayrollItem),
		itemsByRun:  make(map[payroll.RunID][]payroll.ItemID),
		deferrals:   make(map[string]payroll.DeferredDeduction),
		ytd:         make(map[ytdKey]payroll.YTDSnapshot),

		requests:     make(map[backpay.RequestID]backpay.BackpayRequest),
		requestLines: make(map[backpay.RequestID][]backpay.BackpayLine),

		loans:              make(map[loans.LoanID]loans.Loan),
		installments:       make(map[string]loans.Installment),
		installmentsByLoan: make(map[loans.LoanID][]string),

		postings:    make(map[payroll.EmployeeID][]payroll.Transaction),
		byRun:       make(map[payroll.RunID][]payroll.Transaction),
		idempotency: make(map[string]bool),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.employees {
		out.employees[k] = v
	}
	for k, v := range st.events {
		out.events[k] = append([]payroll.EmploymentEvent(nil), v...)
	}
	for k, v := range st.absences {
		out.absences[k] = append([]payroll.Absence(nil), v...)
	}
	for k, v := range st.absenceDays {
		out.absenceDays[k] = v
	}
	for k, v := range st.salaries {
		out.salaries[k] = append(payroll.SalaryHistory(nil), v...)
	}
	for k, v := range st.assignments {
		out.assignments[k] = append([]payroll.ComponentAssignment(nil), v...)
	}
	for k, v := range st.periods {
		out.periods[k] = v
	}
	for k, v := range st.runs {
		out.runs[k] = v
	}
	for k, v := range st.items {
		out.items[k] = copyItem(&v)
	}
	for k, v := range st.itemsByRun {
		out.itemsByRun[k] = append([]payroll.ItemID(nil), v...)
	}
	for k, v := range st.deferrals {
		out.deferrals[k] = v
	}
	for k, v := range st.ytd {
		out.ytd[k] = v
	}
	for k, v := range st.requests {
		out.requests[k] = v
	}
	for k, v := range st.requestLines {
		out.requestLines[k] = append([]backpay.BackpayLine(nil), v...)
	}
	for k, v := range st.loans {
		out.loans[k] = v
	}
	for k, v := range st.installments {
		out.installments[k] = v
	}
	for k, v := range st.installmentsByLoan {
		out.installmentsByLoan[k] = append([]string(nil), v...)
	}
	for k, v := range st.postings {
		out.postings[k] = append([]payroll.Transaction(nil), v...)
	}
	for k, v := range st.byRun {
		out.byRun[k] = append([]payroll.Transaction(nil), v...)
	}
	for k, v := range st.idempotency {
		out.idempotency[k] = v
	}
	out.audit = append([]payroll.AuditEntry(nil), st.audit...)
	return out
}

func copyItem(it *payroll.PayrollItem) payroll.PayrollItem {
	out := *it
	out.Details = append([]payroll.PayrollItemDetail(nil), it.Details...)
	out.Deductions = append([]payroll.DeductionAllocation(nil), it.Deductions...)
	return out
}

// -----------------------------------------------------------------------------
// Ledger (append-only, sorted by EffectiveAt)
// -----------------------------------------------------------------------------

func (st *state) Append(_ context.Context, tx payroll.Transaction) error {
	if tx.IdempotencyKey != "" && st.idempotency[tx.IdempotencyKey] {
		return payroll.ErrDuplicateIdempotencyKey
	}

	txs := st.postings[tx.EmployeeID]
	// Binary search for insertion point keeps the slice sorted.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, payroll.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	st.postings[tx.EmployeeID] = txs

	if tx.RunID != "" {
		st.byRun[tx.RunID] = append(st.byRun[tx.RunID], tx)
	}
	if tx.IdempotencyKey != "" {
		st.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (st *state) AppendBatch(ctx context.Context, txs []payroll.Transaction) error {
	// Check all idempotency keys first (atomic check)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" && st.idempotency[tx.IdempotencyKey] {
			return payroll.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		if err := st.Append(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (st *state) Load(_ context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.Transaction, error) {
	var out []payroll.Transaction
	for _, tx := range st.postings[employeeID] {
		if tx.PeriodID == periodID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (st *state) LoadRun(_ context.Context, runID payroll.RunID) ([]payroll.Transaction, error) {
	return append([]payroll.Transaction(nil), st.byRun[runID]...), nil
}

func (st *state) LoadRange(_ context.Context, employeeID payroll.EmployeeID, from, to time.Time) ([]payroll.Transaction, error) {
	var out []payroll.Transaction
	for _, tx := range st.postings[employeeID] {
		if !tx.EffectiveAt.Before(from) && !tx.EffectiveAt.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (st *state) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return st.idempotency[idempotencyKey], nil
}

// -----------------------------------------------------------------------------
// Employees, events, absences
// -----------------------------------------------------------------------------

func (st *state) SaveEmployee(_ context.Context, e *payroll.Employee) error {
	st.employees[e.ID] = *e
	return nil
}

func (st *state) UpdateEmployee(_ context.Context, e *payroll.Employee) error {
	if _, ok := st.employees[e.ID]; !ok {
		return payroll.ErrEmployeeNotFound
	}
	st.employees[e.ID] = *e
	return nil
}

func (st *state) GetEmployee(_ context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	e, ok := st.employees[id]
	if !ok {
		return nil, payroll.ErrEmployeeNotFound
	}
	out := e
	return &out, nil
}

func (st *state) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	out := make([]payroll.Employee, 0, len(st.employees))
	for _, e := range st.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) SaveEmploymentEvent(_ context.Context, ev payroll.EmploymentEvent) error {
	st.events[ev.EmployeeID] = append(st.events[ev.EmployeeID], ev)
	return nil
}

func (st *state) EmploymentEvents(_ context.Context, id payroll.EmployeeID) ([]payroll.EmploymentEvent, error) {
	return append([]payroll.EmploymentEvent(nil), st.events[id]...), nil
}

func (st *state) SaveAbsence(_ context.Context, a payroll.Absence) error {
	k := string(a.EmployeeID) + "|" + payroll.FormatDate(a.Date)
	if st.absenceDays[k] {
		return payroll.ErrDuplicateAbsence
	}
	st.absenceDays[k] = true
	st.absences[a.EmployeeID] = append(st.absences[a.EmployeeID], a)
	return nil
}

func (st *state) AbsencesInRange(_ context.Context, id payroll.EmployeeID, from, to time.Time) ([]payroll.Absence, error) {
	var out []payroll.Absence
	for _, a := range st.absences[id] {
		if !a.Date.Before(from) && !a.Date.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Salaries
// -----------------------------------------------------------------------------

func (st *state) SalaryHistory(_ context.Context, employeeID payroll.EmployeeID) (payroll.SalaryHistory, error) {
	return append(payroll.SalaryHistory(nil), st.salaries[employeeID]...), nil
}

func (st *state) SaveSalaryVersion(_ context.Context, v payroll.SalaryVersion) error {
	st.salaries[v.EmployeeID] = append(st.salaries[v.EmployeeID], v)
	return nil
}

func (st *state) UpdateSalaryVersion(_ context.Context, v payroll.SalaryVersion) error {
	history := st.salaries[v.EmployeeID]
	for i := range history {
		if history[i].ID == v.ID {
			history[i] = v
			return nil
		}
	}
	return payroll.ErrSalaryOverlap
}

// -----------------------------------------------------------------------------
// Component assignments
// -----------------------------------------------------------------------------

func (st *state) SaveAssignment(_ context.Context, a payroll.ComponentAssignment) error {
	st.assignments[a.EmployeeID] = append(st.assignments[a.EmployeeID], a)
	return nil
}

func (st *state) UpdateAssignment(_ context.Context, a payroll.ComponentAssignment) error {
	list := st.assignments[a.EmployeeID]
	for i := range list {
		if list[i].ID == a.ID {
			list[i] = a
			return nil
		}
	}
	return payroll.ErrComponentNotFound
}

func (st *state) AssignmentsFor(_ context.Context, id payroll.EmployeeID) ([]payroll.ComponentAssignment, error) {
	return append([]payroll.ComponentAssignment(nil), st.assignments[id]...), nil
}

// -----------------------------------------------------------------------------
// Periods
// -----------------------------------------------------------------------------

func (st *state) SavePeriod(_ context.Context, p *payroll.PayrollPeriod) error {
	if _, ok := st.periods[p.ID]; ok {
		return payroll.ErrPeriodExists
	}
	st.periods[p.ID] = *p
	return nil
}

func (st *state) GetPeriod(_ context.Context, id payroll.PeriodID) (*payroll.PayrollPeriod, error) {
	p, ok := st.periods[id]
	if !ok {
		return nil, payroll.ErrPeriodNotFound
	}
	out := p
	return &out, nil
}

func (st *state) UpdatePeriod(_ context.Context, p *payroll.PayrollPeriod) error {
	if _, ok := st.periods[p.ID]; !ok {
		return payroll.ErrPeriodNotFound
	}
	st.periods[p.ID] = *p
	return nil
}

func (st *state) ListPeriods(_ context.Context, year int) ([]payroll.PayrollPeriod, error) {
	var out []payroll.PayrollPeriod
	for _, p := range st.periods {
		if year == 0 || p.Year == year {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Runs and items
// -----------------------------------------------------------------------------

func (st *state) SaveRun(_ context.Context, r *payroll.PayrollRun) error {
	for _, existing := range st.runs {
		if existing.PeriodID == r.PeriodID && existing.Sequence == r.Sequence {
			return payroll.ErrRunExists
		}
	}
	st.runs[r.ID] = *r
	return nil
}

func (st *state) GetRun(_ context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	r, ok := st.runs[id]
	if !ok {
		return nil, payroll.ErrRunNotFound
	}
	out := r
	return &out, nil
}

func (st *state) UpdateRun(_ context.Context, r *payroll.PayrollRun) error {
	if _, ok := st.runs[r.ID]; !ok {
		return payroll.ErrRunNotFound
	}
	st.runs[r.ID] = *r
	return nil
}

func (st *state) RunsForPeriod(_ context.Context, periodID payroll.PeriodID) ([]payroll.PayrollRun, error) {
	var out []payroll.PayrollRun
	for _, r := range st.runs {
		if r.PeriodID == periodID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (st *state) ReplaceRunItems(_ context.Context, runID payroll.RunID, items []*payroll.PayrollItem) error {
	for _, id := range st.itemsByRun[runID] {
		delete(st.items, id)
	}
	ids := make([]payroll.ItemID, 0, len(items))
	for _, it := range items {
		st.items[it.ID] = copyItem(it)
		ids = append(ids, it.ID)
	}
	st.itemsByRun[runID] = ids
	return nil
}

func (st *state) UpdateItem(_ context.Context, it *payroll.PayrollItem) error {
	if _, ok := st.items[it.ID]; !ok {
		return payroll.ErrItemNotFound
	}
	st.items[it.ID] = copyItem(it)
	return nil
}

func (st *state) GetItem(_ context.Context, id payroll.ItemID) (*payroll.PayrollItem, error) {
	it, ok := st.items[id]
	if !ok {
		return nil, payroll.ErrItemNotFound
	}
	out := copyItem(&it)
	return &out, nil
}

func (st *state) ItemsForRun(_ context.Context, runID payroll.RunID) ([]payroll.PayrollItem, error) {
	var out []payroll.PayrollItem
	for _, id := range st.itemsByRun[runID] {
		if it, ok := st.items[id]; ok {
			out = append(out, copyItem(&it))
		}
	}
	return out, nil
}

func (st *state) ItemsForEmployee(_ context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.PayrollItem, error) {
	var out []payroll.PayrollItem
	for _, it := range st.items {
		if it.EmployeeID == employeeID && it.PeriodID == periodID {
			out = append(out, copyItem(&it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

// -----------------------------------------------------------------------------
// Deferrals
// -----------------------------------------------------------------------------

func (st *state) SaveDeferral(_ context.Context, d *payroll.DeferredDeduction) error {
	st.deferrals[d.ID] = *d
	return nil
}

func (st *state) UpdateDeferral(_ context.Context, d *payroll.DeferredDeduction) error {
	st.deferrals[d.ID] = *d
	return nil
}

func (st *state) OpenDeferrals(_ context.Context, employeeID payroll.EmployeeID) ([]payroll.DeferredDeduction, error) {
	var out []payroll.DeferredDeduction
	for _, d := range st.deferrals {
		if d.EmployeeID == employeeID && d.Status == payroll.DeferralOpen {
			out = append(out, d)
		}
	}
	// Oldest debt replays first.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) DeferralsByRun(_ context.Context, runID payroll.RunID) ([]payroll.DeferredDeduction, error) {
	var out []payroll.DeferredDeduction
	for _, d := range st.deferrals {
		if d.OriginRunID == runID || (d.SettledRunID != nil && *d.SettledRunID == runID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// YTD snapshots
// -----------------------------------------------------------------------------

func (st *state) SaveYTD(_ context.Context, s *payroll.YTDSnapshot) error {
	st.ytd[ytdKey{s.EmployeeID, s.Year}] = *s
	return nil
}

func (st *state) GetYTD(_ context.Context, employeeID payroll.EmployeeID, year int) (*payroll.YTDSnapshot, error) {
	s, ok := st.ytd[ytdKey{employeeID, year}]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

// -----------------------------------------------------------------------------
// Backpay requests and lines
// -----------------------------------------------------------------------------

func (st *state) SaveRequest(_ context.Context, r *backpay.BackpayRequest) error {
	st.requests[r.ID] = *r
	return nil
}

func (st *state) UpdateRequest(_ context.Context, r *backpay.BackpayRequest) error {
	if _, ok := st.requests[r.ID]; !ok {
		return backpay.ErrRequestNotFound
	}
	st.requests[r.ID] = *r
	return nil
}

func (st *state) GetRequest(_ context.Context, id backpay.RequestID) (*backpay.BackpayRequest, error) {
	r, ok := st.requests[id]
	if !ok {
		return nil, backpay.ErrRequestNotFound
	}
	out := r
	return &out, nil
}

func (st *state) ListRequests(_ context.Context, employeeID payroll.EmployeeID) ([]backpay.BackpayRequest, error) {
	var out []backpay.BackpayRequest
	for _, r := range st.requests {
		if employeeID == "" || r.EmployeeID == employeeID {
			out = append(out, r)
		}
	}
	// Oldest first so arrears apply in the order they were raised.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) RequestsByRun(_ context.Context, runID payroll.RunID) ([]backpay.BackpayRequest, error) {
	var out []backpay.BackpayRequest
	for _, r := range st.requests {
		if r.AppliedRunID != nil && *r.AppliedRunID == runID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *state) ReplaceLines(_ context.Context, requestID backpay.RequestID, lines []backpay.BackpayLine) error {
	st.requestLines[requestID] = append([]backpay.BackpayLine(nil), lines...)
	return nil
}

func (st *state) LinesFor(_ context.Context, requestID backpay.RequestID) ([]backpay.BackpayLine, error) {
	out := append([]backpay.BackpayLine(nil), st.requestLines[requestID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID < out[j].PeriodID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Loans and installments
// -----------------------------------------------------------------------------

func (st *state) SaveLoan(_ context.Context, l *loans.Loan) error {
	st.loans[l.ID] = *l
	return nil
}

func (st *state) UpdateLoan(_ context.Context, l *loans.Loan) error {
	if _, ok := st.loans[l.ID]; !ok {
		return loans.ErrLoanNotFound
	}
	st.loans[l.ID] = *l
	return nil
}

func (st *state) GetLoan(_ context.Context, id loans.LoanID) (*loans.Loan, error) {
	l, ok := st.loans[id]
	if !ok {
		return nil, loans.ErrLoanNotFound
	}
	out := l
	return &out, nil
}

func (st *state) ListLoans(_ context.Context, employeeID payroll.EmployeeID) ([]loans.Loan, error) {
	var out []loans.Loan
	for _, l := range st.loans {
		if employeeID == "" || l.EmployeeID == employeeID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DisbursedAt.Equal(out[j].DisbursedAt) {
			return out[i].DisbursedAt.Before(out[j].DisbursedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) SaveInstallments(_ context.Context, rows []loans.Installment) error {
	for _, r := range rows {
		st.installments[r.ID] = r
		st.installmentsByLoan[r.LoanID] = append(st.installmentsByLoan[r.LoanID], r.ID)
	}
	return nil
}

func (st *state) UpdateInstallment(_ context.Context, row loans.Installment) error {
	if _, ok := st.installments[row.ID]; !ok {
		return loans.ErrInstallmentNotFound
	}
	st.installments[row.ID] = row
	return nil
}

func (st *state) GetInstallment(_ context.Context, id string) (*loans.Installment, error) {
	r, ok := st.installments[id]
	if !ok {
		return nil, loans.ErrInstallmentNotFound
	}
	out := r
	return &out, nil
}

func (st *state) InstallmentsForLoan(_ context.Context, loanID loans.LoanID) ([]loans.Installment, error) {
	ids := st.installmentsByLoan[loanID]
	out := make([]loans.Installment, 0, len(ids))
	for _, id := range ids {
		out = append(out, st.installments[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (st *state) InstallmentsThrough(_ context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]loans.Installment, error) {
	var out []loans.Installment
	for _, l := range st.loans {
		if l.EmployeeID != employeeID || l.Status != loans.LoanActive {
			continue
		}
		for _, id := range st.installmentsByLoan[l.ID] {
			r := st.installments[id]
			if r.Undischarged() && r.PeriodID <= periodID {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID < out[j].PeriodID
		}
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (st *state) InstallmentsByRun(_ context.Context, runID payroll.RunID) ([]loans.Installment, error) {
	var out []loans.Installment
	for _, r := range st.installments {
		if r.DeductedRunID != nil && *r.DeductedRunID == runID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

func (st *state) AppendAudit(_ context.Context, entry payroll.AuditEntry) error {
	st.audit = append(st.audit, entry)
	return nil
}

func (st *state) QueryAudit(_ context.Context, filter payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	var out []payroll.AuditEntry
	for _, e := range st.audit {
		if filter.EmployeeID != nil && e.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.RunID != nil && e.RunID != *filter.RunID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		if filter.From != nil && e.Timestamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Timestamp.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func containsAction(actions []payroll.AuditAction, a payroll.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// =============================================================================
// MEMORY - Locked delegation to state
// =============================================================================

func (m *Memory) Append(ctx context.Context, tx payroll.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Append(ctx, tx)
}

func (m *Memory) AppendBatch(ctx context.Context, txs []payroll.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendBatch(ctx, txs)
}

func (m *Memory) Load(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Load(ctx, employeeID, periodID)
}

func (m *Memory) LoadRun(ctx context.Context, runID payroll.RunID) ([]payroll.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.LoadRun(ctx, runID)
}

func (m *Memory) LoadRange(ctx context.Context, employeeID payroll.EmployeeID, from, to time.Time) ([]payroll.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.LoadRange(ctx, employeeID, from, to)
}

func (m *Memory) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.Exists(ctx, idempotencyKey)
}

func (m *Memory) SaveEmployee(ctx context.Context, e *payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveEmployee(ctx, e)
}

func (m *Memory) UpdateEmployee(ctx context.Context, e *payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListEmployees(ctx)
}

func (m *Memory) SaveEmploymentEvent(ctx context.Context, ev payroll.EmploymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveEmploymentEvent(ctx, ev)
}

func (m *Memory) EmploymentEvents(ctx context.Context, id payroll.EmployeeID) ([]payroll.EmploymentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.EmploymentEvents(ctx, id)
}

func (m *Memory) SaveAbsence(ctx context.Context, a payroll.Absence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveAbsence(ctx, a)
}

func (m *Memory) AbsencesInRange(ctx context.Context, id payroll.EmployeeID, from, to time.Time) ([]payroll.Absence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.AbsencesInRange(ctx, id, from, to)
}

func (m *Memory) SalaryHistory(ctx context.Context, employeeID payroll.EmployeeID) (payroll.SalaryHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.SalaryHistory(ctx, employeeID)
}

func (m *Memory) SaveSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveSalaryVersion(ctx, v)
}

func (m *Memory) UpdateSalaryVersion(ctx context.Context, v payroll.SalaryVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateSalaryVersion(ctx, v)
}

func (m *Memory) SaveAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveAssignment(ctx, a)
}

func (m *Memory) UpdateAssignment(ctx context.Context, a payroll.ComponentAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateAssignment(ctx, a)
}

func (m *Memory) AssignmentsFor(ctx context.Context, id payroll.EmployeeID) ([]payroll.ComponentAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.AssignmentsFor(ctx, id)
}

func (m *Memory) SavePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SavePeriod(ctx, p)
}

func (m *Memory) GetPeriod(ctx context.Context, id payroll.PeriodID) (*payroll.PayrollPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetPeriod(ctx, id)
}

func (m *Memory) UpdatePeriod(ctx context.Context, p *payroll.PayrollPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdatePeriod(ctx, p)
}

func (m *Memory) ListPeriods(ctx context.Context, year int) ([]payroll.PayrollPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListPeriods(ctx, year)
}

func (m *Memory) SaveRun(ctx context.Context, r *payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveRun(ctx, r)
}

func (m *Memory) GetRun(ctx context.Context, id payroll.RunID) (*payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetRun(ctx, id)
}

func (m *Memory) UpdateRun(ctx context.Context, r *payroll.PayrollRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateRun(ctx, r)
}

func (m *Memory) RunsForPeriod(ctx context.Context, periodID payroll.PeriodID) ([]payroll.PayrollRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.RunsForPeriod(ctx, periodID)
}

func (m *Memory) ReplaceRunItems(ctx context.Context, runID payroll.RunID, items []*payroll.PayrollItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReplaceRunItems(ctx, runID, items)
}

func (m *Memory) UpdateItem(ctx context.Context, it *payroll.PayrollItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateItem(ctx, it)
}

func (m *Memory) GetItem(ctx context.Context, id payroll.ItemID) (*payroll.PayrollItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetItem(ctx, id)
}

func (m *Memory) ItemsForRun(ctx context.Context, runID payroll.RunID) ([]payroll.PayrollItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ItemsForRun(ctx, runID)
}

func (m *Memory) ItemsForEmployee(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]payroll.PayrollItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ItemsForEmployee(ctx, employeeID, periodID)
}

func (m *Memory) SaveDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveDeferral(ctx, d)
}

func (m *Memory) UpdateDeferral(ctx context.Context, d *payroll.DeferredDeduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateDeferral(ctx, d)
}

func (m *Memory) OpenDeferrals(ctx context.Context, employeeID payroll.EmployeeID) ([]payroll.DeferredDeduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.OpenDeferrals(ctx, employeeID)
}

func (m *Memory) DeferralsByRun(ctx context.Context, runID payroll.RunID) ([]payroll.DeferredDeduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.DeferralsByRun(ctx, runID)
}

func (m *Memory) SaveYTD(ctx context.Context, s *payroll.YTDSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveYTD(ctx, s)
}

func (m *Memory) GetYTD(ctx context.Context, employeeID payroll.EmployeeID, year int) (*payroll.YTDSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetYTD(ctx, employeeID, year)
}

func (m *Memory) AppendAudit(ctx context.Context, entry payroll.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter payroll.AuditFilter) ([]payroll.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.QueryAudit(ctx, filter)
}

func (m *Memory) SaveRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveRequest(ctx, r)
}

func (m *Memory) UpdateRequest(ctx context.Context, r *backpay.BackpayRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateRequest(ctx, r)
}

func (m *Memory) GetRequest(ctx context.Context, id backpay.RequestID) (*backpay.BackpayRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetRequest(ctx, id)
}

func (m *Memory) ListRequests(ctx context.Context, employeeID payroll.EmployeeID) ([]backpay.BackpayRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListRequests(ctx, employeeID)
}

func (m *Memory) RequestsByRun(ctx context.Context, runID payroll.RunID) ([]backpay.BackpayRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.RequestsByRun(ctx, runID)
}

func (m *Memory) ReplaceLines(ctx context.Context, requestID backpay.RequestID, lines []backpay.BackpayLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.ReplaceLines(ctx, requestID, lines)
}

func (m *Memory) LinesFor(ctx context.Context, requestID backpay.RequestID) ([]backpay.BackpayLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.LinesFor(ctx, requestID)
}

func (m *Memory) SaveLoan(ctx context.Context, l *loans.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveLoan(ctx, l)
}

func (m *Memory) UpdateLoan(ctx context.Context, l *loans.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateLoan(ctx, l)
}

func (m *Memory) GetLoan(ctx context.Context, id loans.LoanID) (*loans.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetLoan(ctx, id)
}

func (m *Memory) ListLoans(ctx context.Context, employeeID payroll.EmployeeID) ([]loans.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.ListLoans(ctx, employeeID)
}

func (m *Memory) SaveInstallments(ctx context.Context, rows []loans.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.SaveInstallments(ctx, rows)
}

func (m *Memory) UpdateInstallment(ctx context.Context, row loans.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.UpdateInstallment(ctx, row)
}

func (m *Memory) GetInstallment(ctx context.Context, id string) (*loans.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.GetInstallment(ctx, id)
}

func (m *Memory) InstallmentsForLoan(ctx context.Context, loanID loans.LoanID) ([]loans.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.InstallmentsForLoan(ctx, loanID)
}

func (m *Memory) InstallmentsThrough(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]loans.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.InstallmentsThrough(ctx, employeeID, periodID)
}

func (m *Memory) InstallmentsByRun(ctx context.Context, runID payroll.RunID) ([]loans.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.InstallmentsByRun(ctx, runID)
}
