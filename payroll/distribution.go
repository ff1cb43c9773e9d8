/*
distribution.go - Voluntary deduction sequencing under the net-pay floor

PURPOSE:
  Statutory amounts (PAYE, employee SSNIT) always come out of gross in
  full. Voluntary deductions - loan installments, union dues, welfare
  contributions - compete for what's left, and labour rules cap how much
  of an employee's pay can be garnished in one month. This file decides
  which voluntary deductions are taken, in what order, and what happens
  to the overflow.

SEQUENCING RULES:
  1. Capacity = (gross × cap rate) − statutory. The default cap rate is
     50%: total deductions may not exceed half of gross. Statutory is
     never reduced, so if statutory alone exceeds the cap, capacity is
     zero and every voluntary deduction defers.
  2. Requests are taken in priority order (lower number first).
  3. A request that does not fully fit is taken partially; the unmet
     remainder becomes a DeferredDeduction carried to the next period.
     Atomic requests (loan installments) are never split: they fit
     entirely or defer entirely.

DEFERRAL:
  Deferred amounts are replayed as deduction requests in the next run,
  at their origin priority, until settled. They accumulate no interest -
  interest-bearing balances are the loan schedule's business.

SEE ALSO:
  - service.go: Feeds requests in and persists deferrals out
  - loans: A DeductionSource contributing installment requests
*/
package payroll

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DEDUCTION REQUESTS - What wants to come out of this month's pay
// =============================================================================

// DeductionRequest is one voluntary deduction competing for net pay.
type DeductionRequest struct {
	Code        ComponentCode
	Description string
	Amount      Money
	Priority    int    // lower = taken first
	ReferenceID string // loan installment ID, deferral ID, assignment ID
	GLAccount   string

	// Atomic requests are taken in full or deferred in full; the cap
	// never splits them. Loan installments are atomic.
	Atomic bool

	// SourceManaged requests belong to a DeductionSource that tracks its
	// own arrears. Shortfalls are reported through ConfirmDeductions and
	// never written to the deferral table, so the source re-presents them
	// itself.
	SourceManaged bool
}

// DeductionSource contributes deduction requests to a run. Implementations
// (the loan book, welfare schemes) are registered on the service.
type DeductionSource interface {
	// DeductionsFor returns the source's requests for one employee-period.
	DeductionsFor(ctx context.Context, employeeID EmployeeID, p *PayrollPeriod) ([]DeductionRequest, error)

	// ConfirmDeductions tells the source which amounts were actually taken,
	// after the run is approved. Must be idempotent per run.
	ConfirmDeductions(ctx context.Context, employeeID EmployeeID, runID RunID, p *PayrollPeriod, taken []DeductionAllocation) error

	// ReleaseDeductions unwinds a confirmation after an approved run is
	// cancelled. Must be idempotent per run.
	ReleaseDeductions(ctx context.Context, employeeID EmployeeID, runID RunID) error
}

// =============================================================================
// DEDUCTION DISTRIBUTOR - Takes requests in priority order under the cap
// =============================================================================

// DefaultDeductionCapRate caps total deductions at half of gross.
var DefaultDeductionCapRate = decimal.NewFromFloat(0.5)

// DeductionAllocation is the outcome for a single request.
type DeductionAllocation struct {
	Request  DeductionRequest
	Taken    Money
	Deferred Money
}

// DeductionPlan describes how this month's requests were resolved.
type DeductionPlan struct {
	Capacity      Money // room left for voluntary deductions after statutory
	Allocations   []DeductionAllocation
	TotalTaken    Money
	TotalDeferred Money
}

// DeductionDistributor sequences voluntary deductions under the cap.
type DeductionDistributor struct {
	// CapRate is the fraction of gross that total deductions may reach.
	// Zero value means DefaultDeductionCapRate.
	CapRate decimal.Decimal
}

// Distribute takes requests in priority order until capacity runs out.
func (dd *DeductionDistributor) Distribute(gross, statutory Money, requests []DeductionRequest) *DeductionPlan {
	rate := dd.CapRate
	if rate.IsZero() {
		rate = DefaultDeductionCapRate
	}

	capacity := gross.Mul(rate).RoundPesewa().Sub(statutory)
	if capacity.IsNegative() {
		capacity = ZeroMoney(gross.Currency)
	}

	// Stable sort: equal priorities keep caller order (deferrals replay
	// ahead of the fresh request at the same priority).
	sorted := make([]DeductionRequest, len(requests))
	copy(sorted, requests)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	plan := &DeductionPlan{
		Capacity:      capacity,
		TotalTaken:    ZeroMoney(gross.Currency),
		TotalDeferred: ZeroMoney(gross.Currency),
	}

	remaining := capacity
	for _, req := range sorted {
		if req.Amount.IsZero() || req.Amount.IsNegative() {
			continue
		}

		// Take min(requested, remaining capacity)
		taken := req.Amount.Min(remaining)
		if taken.IsNegative() {
			taken = ZeroMoney(gross.Currency)
		}
		if req.Atomic && taken.LessThan(req.Amount) {
			taken = ZeroMoney(gross.Currency)
		}
		deferred := req.Amount.Sub(taken)

		plan.Allocations = append(plan.Allocations, DeductionAllocation{
			Request:  req,
			Taken:    taken,
			Deferred: deferred,
		})

		remaining = remaining.Sub(taken)
		plan.TotalTaken = plan.TotalTaken.Add(taken)
		plan.TotalDeferred = plan.TotalDeferred.Add(deferred)
	}

	return plan
}

// =============================================================================
// DEFERRED DEDUCTION - Overflow carried to a later period
// =============================================================================

type DeferralStatus string

const (
	DeferralOpen      DeferralStatus = "open"
	DeferralSettled   DeferralStatus = "settled"
	DeferralCancelled DeferralStatus = "cancelled"
)

type DeferredDeduction struct {
	ID         string
	EmployeeID EmployeeID
	Code       ComponentCode
	Amount     Money
	Priority   int
	Reason     string

	OriginPeriodID PeriodID
	OriginRunID    RunID

	Status       DeferralStatus
	SettledRunID *RunID
	CreatedAt    time.Time
	SettledAt    *time.Time
}

// AsRequest replays the deferral into a later run's request list.
func (d *DeferredDeduction) AsRequest() DeductionRequest {
	return DeductionRequest{
		Code:        d.Code,
		Description: "carried from " + string(d.OriginPeriodID),
		Amount:      d.Amount,
		Priority:    d.Priority,
		ReferenceID: d.ID,
	}
}
