/*
store.go - Persistence interface for backpay state

PURPOSE:
  What the backpay service needs from a database: the whole payroll
  store (it reads periods, runs, items, and salary history to build
  deltas) plus the request and line tables it owns.

TRANSACTIONS:
  The service reuses payroll's transactional runner. Both shipped stores
  (sqlite, in-memory) hand the SAME underlying store to the WithTx
  callback, so the service widens the payroll.Store view back to Store
  inside the transaction. A store that cannot do that fails loudly at
  the first transactional write, not silently.

SEE ALSO:
  - payroll/store.go:  the embedded interfaces
  - store/sqlite:      the production implementation
*/
package backpay

import (
	"context"

	"github.com/warp/payroll-engine/payroll"
)

// Store is the full persistence surface for backpay.
type Store interface {
	payroll.Store

	SaveRequest(ctx context.Context, r *BackpayRequest) error
	UpdateRequest(ctx context.Context, r *BackpayRequest) error

	// GetRequest returns ErrRequestNotFound for unknown IDs.
	GetRequest(ctx context.Context, id RequestID) (*BackpayRequest, error)

	// ListRequests returns one employee's requests, oldest first. A zero
	// employee ID lists everyone's.
	ListRequests(ctx context.Context, employeeID payroll.EmployeeID) ([]BackpayRequest, error)

	// RequestsByRun returns requests whose reservation points at the run.
	RequestsByRun(ctx context.Context, runID payroll.RunID) ([]BackpayRequest, error)

	// ReplaceLines swaps a request's lines wholesale, the way recomputing
	// a run replaces its items.
	ReplaceLines(ctx context.Context, requestID RequestID, lines []BackpayLine) error

	// LinesFor returns a request's lines ordered by period.
	LinesFor(ctx context.Context, requestID RequestID) ([]BackpayLine, error)
}

// TxStore is what Service needs: the backpay store plus payroll's
// transactional runner. Overlapping embedded methods are identical.
type TxStore interface {
	Store
	payroll.TxStore
}
