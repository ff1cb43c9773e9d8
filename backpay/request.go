/*
request.go - Backpay request model and state machine

PURPOSE:
  A backpay request tracks one retroactive correction for one employee:
  which closed periods it touches, the per-period deltas, and where it
  is in its lifecycle. Requests NEVER modify historical items or ledger
  rows; they carry deltas forward into a later run as arrears.

STATE MACHINE:

  pending ----> computing ----> computed ----> approved ----> (applied)
     |              |           |      |          |   |
     |              v           |      v          |   v
     |           failed         | cancelled       | stale --> computing
     |              |           |                 |
     +--------------+-----------+-----------------+---> cancelled

  - computed -> computing: recompute after inputs changed
  - approved -> stale:     source item versions drifted at application
  - applied  -> approved:  ONLY via Release, when the applying run is
                           cancelled; the arrears were reversed and may
                           be carried by a later run
  - applied and cancelled are otherwise terminal

EXACTLY-ONCE APPLICATION:
  AppliedRunID is a reservation set by compare-and-set when a run picks
  the request up, confirmed on the run's approval, and released on the
  run's cancellation. A request is carried by at most one live run.

SEE ALSO:
  - service.go: lifecycle operations and the recompute pipeline
  - source.go:  the reserve/confirm/release protocol runs drive
*/
package backpay

import (
	"errors"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("backpay request not found")

	// ErrRequestReserved is returned when cancelling a request a live run
	// has reserved. Cancel the run first; that releases the reservation.
	ErrRequestReserved = errors.New("backpay request is reserved by a run")
)

// =============================================================================
// STATUS
// =============================================================================

type RequestID string

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"   // Created, nothing computed yet
	RequestComputing RequestStatus = "computing" // Recompute pass in progress
	RequestComputed  RequestStatus = "computed"  // Deltas ready, awaiting approval
	RequestApproved  RequestStatus = "approved"  // Cleared to be carried by a run
	RequestApplied   RequestStatus = "applied"   // Carried by an approved run
	RequestStale     RequestStatus = "stale"     // Source items moved; recompute
	RequestFailed    RequestStatus = "failed"    // Recompute pass aborted
	RequestCancelled RequestStatus = "cancelled" // Abandoned, terminal
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:   {RequestComputing, RequestCancelled},
	RequestComputing: {RequestComputed, RequestFailed},
	RequestComputed:  {RequestComputing, RequestApproved, RequestCancelled},
	RequestApproved:  {RequestApplied, RequestStale, RequestCancelled},
	RequestStale:     {RequestComputing, RequestCancelled},
	RequestFailed:    {RequestComputing, RequestCancelled},
	RequestApplied:   {RequestApproved}, // release after the applying run is cancelled
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to RequestStatus) bool {
	for _, t := range requestTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUEST
// =============================================================================

// BackpayTotals aggregates a request's lines. Net is what take-home pay
// changes by across all corrected periods; the employer delta is cost,
// not pay, and stays out of it.
type BackpayTotals struct {
	Gross         payroll.Money
	PAYE          payroll.Money
	SSNITEmployee payroll.Money
	SSNITEmployer payroll.Money
	Net           payroll.Money
}

// ZeroTotals returns all-zero totals in cedis.
func ZeroTotals() BackpayTotals {
	z := payroll.ZeroMoney(payroll.GHS)
	return BackpayTotals{Gross: z, PAYE: z, SSNITEmployee: z, SSNITEmployer: z, Net: z}
}

// Accumulate folds one line into the totals.
func (t BackpayTotals) Accumulate(l BackpayLine) BackpayTotals {
	t.Gross = t.Gross.Add(l.GrossDelta)
	t.PAYE = t.PAYE.Add(l.PAYEDelta)
	t.SSNITEmployee = t.SSNITEmployee.Add(l.SSNITEmployeeDelta)
	t.SSNITEmployer = t.SSNITEmployer.Add(l.SSNITEmployerDelta)
	t.Net = t.Net.Add(l.NetDelta)
	return t
}

type BackpayRequest struct {
	ID         RequestID
	EmployeeID payroll.EmployeeID
	Reason     string

	// TriggerSalaryVersion is the salary version whose arrival raised this
	// request; 0 for requests an operator created by hand.
	TriggerSalaryVersion int

	// EffectiveFrom bounds the correction: closed periods from this date
	// forward are candidates for recomputation.
	EffectiveFrom time.Time

	Status RequestStatus
	Totals BackpayTotals

	// AppliedRunID is the reservation: the run currently carrying (or that
	// carried) these arrears. Nil until a run picks the request up.
	AppliedRunID *payroll.RunID

	CreatedAt  time.Time
	ComputedAt *time.Time
	ApprovedAt *time.Time
	ApprovedBy *string

	// Error holds the last recompute failure or staleness explanation.
	Error string
}

// Transition moves the request to a new status or returns
// ErrInvalidTransition.
func (r *BackpayRequest) Transition(to RequestStatus) error {
	if !CanTransition(r.Status, to) {
		return &payroll.InvalidTransitionError{Kind: "backpay_request", From: string(r.Status), To: string(to)}
	}
	r.Status = to
	return nil
}

// IsTerminal reports whether the request can still move. Applied requests
// are terminal unless their run is cancelled.
func (r *BackpayRequest) IsTerminal() bool { return r.Status == RequestCancelled }

// =============================================================================
// LINE - One corrected period
// =============================================================================

// BackpayLine is the delta for one closed period: the stored item versus
// the same period recomputed under current salary history and the item's
// PINNED statutory table versions. Old and new basic are kept so a
// payslip can explain the correction.
type BackpayLine struct {
	ID        string
	RequestID RequestID
	PeriodID  payroll.PeriodID

	// Source item identity and the version the delta was diffed against.
	// Application re-checks the version; drift marks the request stale.
	SourceItemID      payroll.ItemID
	SourceItemVersion int

	OldBasic payroll.Money
	NewBasic payroll.Money

	GrossDelta         payroll.Money
	PAYEDelta          payroll.Money
	SSNITEmployeeDelta payroll.Money
	SSNITEmployerDelta payroll.Money
	NetDelta           payroll.Money

	// Table versions the delta was computed under: the corrected period's,
	// never today's.
	TaxTableVersion string
	SSNITVersion    string
}

// =============================================================================
// APPROVAL POLICY
// =============================================================================

// ApprovalPolicy decides whether a computed request needs an operator.
// The zero policy auto-approves everything; production wiring sets
// RequiresApproval and, optionally, a small-amount waiver.
type ApprovalPolicy struct {
	RequiresApproval bool

	// AutoApproveUpTo waives approval for requests whose absolute net
	// total is at or below this amount. Nil means no waiver.
	AutoApproveUpTo *payroll.Money
}

func (p ApprovalPolicy) autoApproves(net payroll.Money) bool {
	if !p.RequiresApproval {
		return true
	}
	if p.AutoApproveUpTo == nil {
		return false
	}
	return !net.Abs().GreaterThan(*p.AutoApproveUpTo)
}
