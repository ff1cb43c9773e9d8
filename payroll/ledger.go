/*
ledger.go - Append-only posting log

PURPOSE:
  The Ledger is the immutable record of every amount payroll moves: earnings,
  deductions, taxes, pension contributions, employer charges, net pay, and
  arrears. Paid history is never edited - period and year totals are always
  computed by replaying postings, so there is no summary field that can drift
  out of sync with what was actually paid.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, postings cannot be modified
  3. AUDITABLE: Every cedi is traceable to a run, employee, and component
  4. IDEMPOTENT: Same idempotency key = same posting (no duplicates)

WHY APPEND-ONLY?
  - Audit trail: You can always explain how an employee's YTD got here
  - Debugging: "Why was March net 4,102?" → Look at the run's postings
  - Compliance: GRA and SSNIT audits require immutable pay records
  - Correctness: No risk of partial updates corrupting paid history

CORRECTIONS:
  If a run was posted in error, you don't edit its postings. Instead:
  1. Create Reversal postings (opposite sign, referencing the originals)
  2. Both original and reversal remain in the ledger
  3. Net effect is correction, but history is preserved
  Pay corrections for closed periods go through backpay, which posts
  ARREARS lines in a later run rather than touching the old ones.

EXAMPLE FLOW:
  1. March run approved: TxEarning +5000 (BASIC), TxTax -612.18 (PAYE),
     TxPension -275 (SSNIT-EE), TxNetPay 4112.82
  2. March run cancelled before payment: four TxReversal postings
  3. March recomputed and approved: four fresh postings

SEE ALSO:
  - store.go: Low-level persistence interface
  - service.go: Posts approved runs and cancellation reversals
  - backpay: Posts arrears through later runs instead of reversing
*/
package payroll

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// TRANSACTION - Atomic posting against an employee's pay record
// =============================================================================

type TransactionType string

const (
	TxEarning        TransactionType = "earning"         // Gross pay line (BASIC, allowances, bonus, overtime)
	TxDeduction      TransactionType = "deduction"       // Voluntary deduction withheld (loan, union dues)
	TxTax            TransactionType = "tax"             // PAYE withheld for GRA
	TxPension        TransactionType = "pension"         // Employee SSNIT withheld
	TxEmployerCharge TransactionType = "employer_charge" // Employer SSNIT (cost, not withheld)
	TxNetPay         TransactionType = "net_pay"         // Amount due to the employee's bank
	TxBackpay        TransactionType = "backpay"         // Arrears line from retroactive recomputation
	TxAdjustment     TransactionType = "adjustment"      // Manual admin correction
	TxReversal       TransactionType = "reversal"        // Undo a previous posting
)

// Reversal reasons recorded on TxReversal postings.
const (
	ReversalRunCancelled = "run_cancelled"
	ReversalCorrection   = "manual_correction"
	ReversalOverpayment  = "overpayment_recovery"
)

type Transaction struct {
	ID         TransactionID
	EmployeeID EmployeeID
	PeriodID   PeriodID
	RunID      RunID
	Code       ComponentCode
	GLAccount  string

	EffectiveAt time.Time
	Amount      Money
	Type        TransactionType

	ReferenceID    string // originating item, backpay request, or reversed posting
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy     string // Actor who created this posting
	CreatedByType string // "officer", "system", "admin"
	CreatedAt     time.Time
}

// PostingKey builds the idempotency key for a run-level posting. One run can
// post each component at most once per employee.
func PostingKey(runID RunID, employeeID EmployeeID, code ComponentCode) string {
	return fmt.Sprintf("post:%s:%s:%s", runID, employeeID, code)
}

// ReversalKey builds the idempotency key for reversing a posting.
func ReversalKey(original string) string { return "reverse:" + original }

// Reversed returns the posting that undoes tx: same coordinates, negated
// amount, typed as a reversal and referencing the original.
func Reversed(tx Transaction, reason, createdBy string) Transaction {
	return Transaction{
		EmployeeID:     tx.EmployeeID,
		PeriodID:       tx.PeriodID,
		RunID:          tx.RunID,
		Code:           tx.Code,
		GLAccount:      tx.GLAccount,
		EffectiveAt:    tx.EffectiveAt,
		Amount:         tx.Amount.Neg(),
		Type:           TxReversal,
		ReferenceID:    string(tx.ID),
		Reason:         reason,
		IdempotencyKey: ReversalKey(tx.IdempotencyKey),
		CreatedBy:      createdBy,
		CreatedByType:  "system",
	}
}

// =============================================================================
// LEDGER - Append-only posting log
// =============================================================================

// Ledger is the source of truth for paid amounts.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Immutable: Once written, postings cannot be modified.
//   - Auditable: Every amount is traceable.
//
// Corrections are made via reversal postings, not edits.
type Ledger interface {
	// Append adds a posting. Fails if the idempotency key exists.
	// This is the ONLY write operation.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple postings atomically.
	// Used when approving runs (one employee = many postings).
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all postings for an employee in a period,
	// chronologically. Read-only.
	Transactions(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]Transaction, error)

	// RunTransactions returns every posting made by a run. Read-only.
	RunTransactions(ctx context.Context, runID RunID) ([]Transaction, error)

	// TotalInRange sums one component's postings for an employee over
	// [from, to]. This is a derived value, computed from postings.
	TotalInRange(ctx context.Context, employeeID EmployeeID, code ComponentCode, from, to time.Time) (Money, error)

	// SumByType totals an employee's postings in one period grouped by
	// transaction type. Reversals carry negated amounts and land in the
	// reversal bucket.
	SumByType(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (map[TransactionType]Money, error)

	// NetPosition is what the period actually owes the employee: net-pay
	// postings net of reversals against them. Zero after a cancelled run
	// has been fully reversed.
	NetPosition(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (Money, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using LedgerStore
// =============================================================================

type DefaultLedger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	// Check all idempotency keys first
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateIdempotencyKey
			}
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]Transaction, error) {
	return l.Store.Load(ctx, employeeID, periodID)
}

func (l *DefaultLedger) RunTransactions(ctx context.Context, runID RunID) ([]Transaction, error) {
	return l.Store.LoadRun(ctx, runID)
}

func (l *DefaultLedger) TotalInRange(ctx context.Context, employeeID EmployeeID, code ComponentCode, from, to time.Time) (Money, error) {
	txs, err := l.Store.LoadRange(ctx, employeeID, from, to)
	if err != nil {
		return Money{}, err
	}

	total := ZeroMoney(GHS)
	for _, tx := range txs {
		if tx.Code == code {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (l *DefaultLedger) SumByType(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (map[TransactionType]Money, error) {
	txs, err := l.Store.Load(ctx, employeeID, periodID)
	if err != nil {
		return nil, err
	}
	out := make(map[TransactionType]Money, len(txs))
	for _, tx := range txs {
		sum, ok := out[tx.Type]
		if !ok {
			sum = ZeroMoney(GHS)
		}
		out[tx.Type] = sum.Add(tx.Amount)
	}
	return out, nil
}

func (l *DefaultLedger) NetPosition(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (Money, error) {
	txs, err := l.Store.Load(ctx, employeeID, periodID)
	if err != nil {
		return Money{}, err
	}
	// Reversal rows keep the NET component code with the amount negated,
	// so a reversed run cancels out here.
	net := ZeroMoney(GHS)
	for _, tx := range txs {
		if tx.Code == CodeNetPay {
			net = net.Add(tx.Amount)
		}
	}
	return net, nil
}
