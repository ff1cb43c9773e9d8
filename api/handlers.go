/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Employees:
    POST   /api/employees                        Create employee
    GET    /api/employees                        List employees
    GET    /api/employees/{id}                   Get employee
    POST   /api/employees/{id}/salaries          Add salary version (may raise backpay)
    GET    /api/employees/{id}/salaries          Salary history
    POST   /api/employees/{id}/events            Record employment event
    GET    /api/employees/{id}/events            Event history
    POST   /api/employees/{id}/absences          Record unpaid absence
    POST   /api/employees/{id}/assignments       Assign a pay component
    GET    /api/employees/{id}/assignments       List assignments
    GET    /api/employees/{id}/transactions      Ledger postings
    GET    /api/employees/{id}/ytd?year=         Year-to-date totals
    GET    /api/employees/{id}/loans             Employee's loans

  Periods and runs:
    POST   /api/periods                          Open a period
    GET    /api/periods?year=                    List periods
    GET    /api/periods/{id}                     Get period
    POST   /api/periods/{id}/close               Close period
    POST   /api/periods/{id}/runs                Create run
    GET    /api/runs/{id}                        Get run
    POST   /api/runs/{id}/compute                Compute run
    POST   /api/runs/{id}/approve                Approve run (posts to ledger)
    POST   /api/runs/{id}/pay                    Mark paid
    POST   /api/runs/{id}/cancel                 Cancel run (reversals if approved)
    GET    /api/runs/{id}/items                  Run's payslip items
    GET    /api/runs/{id}/items/{employeeID}     One employee's item

  Backpay:
    POST   /api/backpay                          Create request
    GET    /api/backpay?employee_id=             List requests
    GET    /api/backpay/{id}                     Get request with lines
    POST   /api/backpay/{id}/compute             Recompute deltas
    POST   /api/backpay/{id}/approve             Approve
    POST   /api/backpay/{id}/cancel              Cancel
    POST   /api/backpay/preview                  What-if preview, no writes

  Loans:
    POST   /api/loans                            Disburse loan
    GET    /api/loans/{id}                       Get loan with schedule
    POST   /api/loans/{id}/settle                Early settlement
    POST   /api/loans/{id}/cancel                Cancel undrawn loan

  Config:
    GET    /api/components                       Component catalog
    POST   /api/components                       Register component
    GET    /api/statutory/tables                 Registered tax/SSNIT tables
    POST   /api/statutory/tables                 Register table versions

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicates, illegal state transitions)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Wire types
  - server.go: Routing
  - metrics.go: Prometheus counters updated here
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/backpay"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is everything the API needs from persistence: the payroll core
// plus the backpay and loan tables and the audit log.
type Store interface {
	backpay.TxStore
	loans.TxStore
	payroll.AuditLog
}

// Handler holds the services behind the HTTP surface.
type Handler struct {
	Store     Store
	Payroll   *payroll.PayrollService
	Periods   *payroll.PeriodService
	Salaries  *payroll.SalaryService
	Backpay   *backpay.Service
	Loans     *loans.Service
	Statutory *statutory.Registry
	Factory   *factory.ConfigFactory

	// SaveTable and SaveComponent persist accepted config so restarts
	// can replay it. Either may be nil (in-memory deployments, tests).
	SaveTable     func(ctx context.Context, kind, version, effectiveFrom, configJSON string) error
	SaveComponent func(ctx context.Context, code, configJSON string) error
}

// NewHandler wires the standard service graph over one store: loans feed
// the deduction distributor, backpay feeds arrears, everything audits to
// the same log.
func NewHandler(store Store, registry *statutory.Registry) *Handler {
	calc := statutory.NewCalculator(registry)
	loanSvc := &loans.Service{Store: store, Audit: store}
	backpaySvc := &backpay.Service{
		Store:     store,
		Statutory: calc,
		Policy:    backpay.ApprovalPolicy{RequiresApproval: true},
		Audit:     store,
		OnApplied: func(n int) { backpayApplied.Add(float64(n)) },
	}
	return &Handler{
		Store: store,
		Payroll: &payroll.PayrollService{
			Store:       store,
			Statutory:   calc,
			Distributor: &payroll.DeductionDistributor{},
			Sources:     []payroll.DeductionSource{loanSvc},
			Backpay:     backpaySvc,
			Audit:       store,
		},
		Periods:   &payroll.PeriodService{Store: store, Audit: store},
		Salaries:  &payroll.SalaryService{Store: store},
		Backpay:   backpaySvc,
		Loans:     loanSvc,
		Statutory: registry,
		Factory:   factory.NewConfigFactory(),
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case payroll.IsNotFound(err),
		errors.Is(err, backpay.ErrRequestNotFound),
		errors.Is(err, loans.ErrLoanNotFound),
		errors.Is(err, loans.ErrInstallmentNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case payroll.IsConflict(err),
		errors.Is(err, backpay.ErrRequestReserved),
		errors.Is(err, loans.ErrLoanHasCollections):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case payroll.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEmployeeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	hireDate, err := parseDate(req.HireDate, "hire_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	emp := &payroll.Employee{
		ID:                payroll.EmployeeID(req.ID),
		Name:              req.Name,
		Email:             req.Email,
		SSNITNumber:       req.SSNITNumber,
		TIN:               req.TIN,
		Grade:             req.Grade,
		Department:        req.Department,
		HireDate:          hireDate,
		OvertimeQualified: req.OvertimeQualified,
		CreatedAt:         time.Now(),
	}
	if err := h.Store.SaveEmployee(ctx, emp); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = h.Store.SaveEmploymentEvent(ctx, payroll.EmploymentEvent{
		ID:            uuid.NewString(),
		EmployeeID:    emp.ID,
		Type:          payroll.EventHired,
		EffectiveDate: hireDate,
		Grade:         req.Grade,
		Department:    req.Department,
		CreatedAt:     time.Now(),
	})

	resp := CreateEmployeeResponse{Employee: toEmployeeDTO(emp)}

	if req.MonthlyBasic != "" {
		basic, err := parseMoney(req.MonthlyBasic, "monthly_basic")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		v, err := h.Salaries.AddVersion(ctx, emp.ID, basic, req.Grade, req.GradeStep, hireDate, "initial appointment")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dto := toSalaryVersionDTO(v)
		resp.Salary = &dto
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]EmployeeDTO, 0, len(employees))
	for i := range employees {
		out = append(out, toEmployeeDTO(&employees[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// =============================================================================
// SALARIES
// =============================================================================

// AddSalary appends a salary version. A backdated effective date reaching
// into closed periods automatically raises a backpay request; its ID is
// returned so the operator can compute and approve it.
func (h *Handler) AddSalary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	var req AddSalaryRequest
	if !decode(w, r, &req) {
		return
	}
	basic, err := parseMoney(req.MonthlyBasic, "monthly_basic")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom, "effective_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	v, err := h.Salaries.AddVersion(ctx, id, basic, req.Grade, req.Step, effectiveFrom, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := AddSalaryResponse{Salary: toSalaryVersionDTO(v)}

	bp, err := h.Backpay.CreateForSalaryChange(ctx, *v)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if bp != nil {
		resp.BackpayRequestID = string(bp.ID)
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListSalaries(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	history, err := h.Store.SalaryHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sorted := history.Sorted()
	out := make([]SalaryVersionDTO, 0, len(sorted))
	for i := range sorted {
		out = append(out, toSalaryVersionDTO(&sorted[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// EMPLOYMENT EVENTS AND ABSENCES
// =============================================================================

var eventTypes = map[payroll.EmploymentEventType]bool{
	payroll.EventHired:       true,
	payroll.EventPromoted:    true,
	payroll.EventTransferred: true,
	payroll.EventSuspended:   true,
	payroll.EventReinstated:  true,
	payroll.EventTerminated:  true,
}

func (h *Handler) AddEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	var req AddEventRequest
	if !decode(w, r, &req) {
		return
	}
	evType := payroll.EmploymentEventType(req.Type)
	if !eventTypes[evType] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", req.Type), nil)
		return
	}
	effective, err := parseDate(req.EffectiveDate, "effective_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	emp, err := h.Store.GetEmployee(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	ev := payroll.EmploymentEvent{
		ID:            uuid.NewString(),
		EmployeeID:    id,
		Type:          evType,
		EffectiveDate: effective,
		Grade:         req.Grade,
		Department:    req.Department,
		Note:          req.Note,
		CreatedAt:     time.Now(),
	}
	if err := h.Store.SaveEmploymentEvent(ctx, ev); err != nil {
		writeDomainError(w, err)
		return
	}

	// Apply the state the event carries.
	changed := false
	switch evType {
	case payroll.EventPromoted, payroll.EventTransferred:
		if req.Grade != "" {
			emp.Grade = req.Grade
			changed = true
		}
		if req.Department != "" {
			emp.Department = req.Department
			changed = true
		}
	case payroll.EventTerminated:
		emp.TerminationDate = &effective
		changed = true
	case payroll.EventReinstated:
		emp.TerminationDate = nil
		changed = true
	}
	if changed {
		if err := h.Store.UpdateEmployee(ctx, emp); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toEmploymentEventDTO(ev))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	events, err := h.Store.EmploymentEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]EmploymentEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toEmploymentEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

var absenceKinds = map[payroll.AbsenceKind]bool{
	payroll.AbsenceUnpaidLeave:      true,
	payroll.AbsenceUnpaidSuspension: true,
	payroll.AbsenceAWOL:             true,
}

func (h *Handler) AddAbsence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	var req AddAbsenceRequest
	if !decode(w, r, &req) {
		return
	}
	kind := payroll.AbsenceKind(req.Kind)
	if !absenceKinds[kind] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown absence kind %q", req.Kind), nil)
		return
	}
	date, err := parseDate(req.Date, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	a := payroll.Absence{
		ID:         uuid.NewString(),
		EmployeeID: id,
		Date:       date,
		Kind:       kind,
		Reference:  req.Reference,
		CreatedAt:  time.Now(),
	}
	if err := h.Store.SaveAbsence(ctx, a); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAbsenceDTO(a))
}

// =============================================================================
// COMPONENT ASSIGNMENTS
// =============================================================================

func (h *Handler) AddAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	var req AddAssignmentRequest
	if !decode(w, r, &req) {
		return
	}
	comp, ok := payroll.LookupComponent(payroll.ComponentCode(req.Code))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown component %q", req.Code), nil)
		return
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom, "effective_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	a := payroll.ComponentAssignment{
		ID:            uuid.NewString(),
		EmployeeID:    id,
		Code:          comp.Code,
		EffectiveFrom: effectiveFrom,
		Note:          req.Note,
		CreatedAt:     time.Now(),
	}
	if req.EffectiveTo != "" {
		to, err := parseDate(req.EffectiveTo, "effective_to")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		a.EffectiveTo = &to
	}

	switch comp.Method {
	case payroll.CalcPercentOfBasic:
		if req.Rate == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("component %s needs a rate", comp.Code), nil)
			return
		}
		rate, err := decimal.NewFromString(req.Rate)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("rate: invalid decimal %q", req.Rate), nil)
			return
		}
		a.Rate = &rate
	default:
		if req.Amount == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("component %s needs an amount", comp.Code), nil)
			return
		}
		amount, err := parseMoney(req.Amount, "amount")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		a.Amount = &amount
	}

	if err := h.Store.SaveAssignment(ctx, a); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	assignments, err := h.Store.AssignmentsFor(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]AssignmentDTO, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, toAssignmentDTO(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// LEDGER VIEWS
// =============================================================================

// GetTransactions returns ledger postings. Filter by ?period_id= or by
// ?from=&to= dates; default is the current calendar year.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	if periodID := r.URL.Query().Get("period_id"); periodID != "" {
		txs, err := h.Store.Load(ctx, id, payroll.PeriodID(periodID))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
		return
	}

	now := time.Now()
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), time.December, 31, 23, 59, 59, 0, time.UTC)
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := parseDate(s, "from")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := parseDate(s, "to")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		to = t
	}

	txs, err := h.Store.LoadRange(ctx, id, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetYTD returns year-to-date totals; a year with no approved runs yet
// yields all zeros rather than 404.
func (h *Handler) GetYTD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := payroll.EmployeeID(chi.URLParam(r, "id"))

	year := time.Now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("year: invalid value %q", s), nil)
			return
		}
		year = y
	}

	if _, err := h.Store.GetEmployee(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.Store.GetYTD(ctx, id, year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if snap == nil {
		snap = payroll.NewYTDSnapshot(id, year)
	}
	writeJSON(w, http.StatusOK, toYTDDTO(snap))
}

func (h *Handler) EmployeeLoans(w http.ResponseWriter, r *http.Request) {
	id := payroll.EmployeeID(chi.URLParam(r, "id"))
	rows, err := h.Loans.List(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]LoanDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toLoanDTO(&rows[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// PERIODS
// =============================================================================

func (h *Handler) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req OpenPeriodRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("month must be 1-12, got %d", req.Month), nil)
		return
	}
	p, err := h.Periods.OpenPeriod(r.Context(), req.Year, time.Month(req.Month), req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	year := 0
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("year: invalid value %q", s), nil)
			return
		}
		year = y
	}
	periods, err := h.Store.ListPeriods(r.Context(), year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]PeriodDTO, 0, len(periods))
	for i := range periods {
		out = append(out, toPeriodDTO(&periods[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))
	p, err := h.Store.GetPeriod(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	id := payroll.PeriodID(chi.URLParam(r, "id"))
	var req ClosePeriodRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Periods.ClosePeriod(r.Context(), id, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// =============================================================================
// RUNS
// =============================================================================

func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	periodID := payroll.PeriodID(chi.URLParam(r, "id"))
	var req CreateRunRequest
	if !decode(w, r, &req) {
		return
	}
	kind := payroll.RunRegular
	switch req.Kind {
	case "", string(payroll.RunRegular):
	case string(payroll.RunSupplementary):
		kind = payroll.RunSupplementary
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown run kind %q", req.Kind), nil)
		return
	}
	run, err := h.Payroll.CreateRun(r.Context(), periodID, kind, req.ActorID, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	run, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) ComputeRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))

	started := time.Now()
	run, err := h.Payroll.ComputeRun(r.Context(), id)
	if err != nil {
		runFailures.Inc()
		writeDomainError(w, err)
		return
	}
	computeSeconds.Observe(time.Since(started).Seconds())
	runsComputed.Inc()
	itemsComputed.Add(float64(run.ComputedCount))

	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) ApproveRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	var req ApproveRunRequest
	if !decode(w, r, &req) {
		return
	}
	run, err := h.Payroll.ApproveRun(r.Context(), id, req.ApproverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	runsApproved.Inc()
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) MarkRunPaid(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}
	run, err := h.Payroll.MarkPaid(r.Context(), id, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	run, err := h.Payroll.CancelRun(r.Context(), id, req.ActorID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) RunItems(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetRun(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	items, err := h.Store.ItemsForRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTOs(items))
}

func (h *Handler) RunItemForEmployee(w http.ResponseWriter, r *http.Request) {
	id := payroll.RunID(chi.URLParam(r, "id"))
	employeeID := payroll.EmployeeID(chi.URLParam(r, "employeeID"))

	items, err := h.Store.ItemsForRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for i := range items {
		if items[i].EmployeeID == employeeID {
			writeJSON(w, http.StatusOK, toItemDTO(&items[i]))
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("no item for employee %s in run %s", employeeID, id), nil)
}

// =============================================================================
// BACKPAY
// =============================================================================

func (h *Handler) CreateBackpay(w http.ResponseWriter, r *http.Request) {
	var req CreateBackpayRequest
	if !decode(w, r, &req) {
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom, "effective_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	bp, err := h.Backpay.Create(r.Context(), payroll.EmployeeID(req.EmployeeID), effectiveFrom, req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBackpayRequestDTO(bp))
}

func (h *Handler) ListBackpay(w http.ResponseWriter, r *http.Request) {
	employeeID := payroll.EmployeeID(r.URL.Query().Get("employee_id"))
	requests, err := h.Backpay.List(r.Context(), employeeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]BackpayRequestDTO, 0, len(requests))
	for i := range requests {
		out = append(out, toBackpayRequestDTO(&requests[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetBackpay(w http.ResponseWriter, r *http.Request) {
	id := backpay.RequestID(chi.URLParam(r, "id"))
	bp, lines, err := h.Backpay.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toBackpayRequestDTO(bp)
	dto.Lines = toBackpayLineDTOs(lines)
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ComputeBackpay(w http.ResponseWriter, r *http.Request) {
	id := backpay.RequestID(chi.URLParam(r, "id"))
	bp, err := h.Backpay.Compute(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	backpayComputed.Inc()
	writeJSON(w, http.StatusOK, toBackpayRequestDTO(bp))
}

func (h *Handler) ApproveBackpay(w http.ResponseWriter, r *http.Request) {
	id := backpay.RequestID(chi.URLParam(r, "id"))
	var req ApproveRunRequest
	if !decode(w, r, &req) {
		return
	}
	bp, err := h.Backpay.Approve(r.Context(), id, req.ApproverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackpayRequestDTO(bp))
}

func (h *Handler) CancelBackpay(w http.ResponseWriter, r *http.Request) {
	id := backpay.RequestID(chi.URLParam(r, "id"))
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	bp, err := h.Backpay.Cancel(r.Context(), id, req.ActorID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBackpayRequestDTO(bp))
}

// PreviewBackpay answers "what would a raise to X effective D cost in
// arrears" without persisting anything.
func (h *Handler) PreviewBackpay(w http.ResponseWriter, r *http.Request) {
	var req BackpayPreviewRequest
	if !decode(w, r, &req) {
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	basic, err := parseMoney(req.ProposedBasic, "proposed_basic")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	effectiveFrom, err := parseDate(req.EffectiveFrom, "effective_from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	lines, totals, err := h.Backpay.Preview(r.Context(), payroll.EmployeeID(req.EmployeeID), basic, effectiveFrom)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BackpayPreviewResponse{
		Lines:  toBackpayLineDTOs(lines),
		Totals: toBackpayTotalsDTO(totals),
	})
}

// =============================================================================
// LOANS
// =============================================================================

func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	var req DisburseLoanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	var kind loans.LoanKind
	switch req.Kind {
	case string(loans.KindStaffLoan):
		kind = loans.KindStaffLoan
	case string(loans.KindSalaryAdvance):
		kind = loans.KindSalaryAdvance
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown loan kind %q", req.Kind), nil)
		return
	}
	principal, err := parseMoney(req.Principal, "principal")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	rate := decimal.Zero
	if req.AnnualRate != "" {
		rate, err = decimal.NewFromString(req.AnnualRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("annual_rate: invalid decimal %q", req.AnnualRate), nil)
			return
		}
	}

	loan, schedule, err := h.Loans.Disburse(r.Context(), loans.Loan{
		EmployeeID:  payroll.EmployeeID(req.EmployeeID),
		Kind:        kind,
		Principal:   principal,
		AnnualRate:  rate,
		TermMonths:  req.TermMonths,
		StartPeriod: payroll.PeriodID(req.StartPeriod),
	}, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := toLoanDTO(loan)
	dto.Installments = toInstallmentDTOs(schedule)
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := loans.LoanID(chi.URLParam(r, "id"))

	loan, schedule, err := h.Loans.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toLoanDTO(loan)
	dto.Installments = toInstallmentDTOs(schedule)

	outstanding, err := h.Loans.Outstanding(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s := money(outstanding)
	dto.Outstanding = &s

	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) SettleLoan(w http.ResponseWriter, r *http.Request) {
	id := loans.LoanID(chi.URLParam(r, "id"))
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}
	settled, err := h.Loans.Settle(r.Context(), id, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettleLoanResponse{
		LoanID:        string(id),
		SettledAmount: money(settled),
	})
}

func (h *Handler) CancelLoan(w http.ResponseWriter, r *http.Request) {
	id := loans.LoanID(chi.URLParam(r, "id"))
	var req CancelRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Loans.Cancel(r.Context(), id, req.ActorID, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	loan, schedule, err := h.Loans.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto := toLoanDTO(loan)
	dto.Installments = toInstallmentDTOs(schedule)
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// CONFIG - Components and statutory tables
// =============================================================================

func (h *Handler) ListComponentDefs(w http.ResponseWriter, r *http.Request) {
	comps := payroll.ListComponents()
	out := make([]factory.ComponentJSON, 0, len(comps))
	for _, c := range comps {
		out = append(out, factory.ComponentToJSON(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateComponentDef(w http.ResponseWriter, r *http.Request) {
	var cj factory.ComponentJSON
	if !decode(w, r, &cj) {
		return
	}
	comp, err := factory.ComponentFromJSON(cj)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if _, exists := payroll.LookupComponent(comp.Code); exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("component %s already registered", comp.Code), nil)
		return
	}
	payroll.RegisterComponent(comp)

	if h.SaveComponent != nil {
		raw, _ := json.Marshal(cj)
		if err := h.SaveComponent(r.Context(), string(comp.Code), string(raw)); err != nil {
			writeError(w, http.StatusInternalServerError, "component registered but not persisted", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, factory.ComponentToJSON(comp))
}

// StatutoryTablesResponse mirrors the config file shape so a GET can be
// fed back into a POST.
type StatutoryTablesResponse struct {
	TaxTables []factory.TaxTableJSON `json:"tax_tables"`
	SSNIT     []factory.SSNITJSON    `json:"ssnit"`
}

func (h *Handler) ListStatutoryTables(w http.ResponseWriter, r *http.Request) {
	resp := StatutoryTablesResponse{
		TaxTables: []factory.TaxTableJSON{},
		SSNIT:     []factory.SSNITJSON{},
	}
	for _, v := range h.Statutory.TaxVersions() {
		if t, err := h.Statutory.TaxTableVersion(v); err == nil {
			resp.TaxTables = append(resp.TaxTables, factory.TaxTableToJSON(*t))
		}
	}
	for _, v := range h.Statutory.SSNITVersions() {
		if t, err := h.Statutory.SSNITTableVersion(v); err == nil {
			resp.SSNIT = append(resp.SSNIT, factory.SSNITToJSON(*t))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateStatutoryTables registers new PAYE and SSNIT table versions.
// Tables only ever accumulate; recomputation of old periods pins old
// versions, so registering a new year never rewrites history.
func (h *Handler) CreateStatutoryTables(w http.ResponseWriter, r *http.Request) {
	var cj factory.ConfigJSON
	if !decode(w, r, &cj) {
		return
	}
	if len(cj.Components) > 0 {
		writeError(w, http.StatusBadRequest, "components are registered via /api/components", nil)
		return
	}
	cfg, err := h.Factory.FromJSON(cj)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	cfg.Apply(h.Statutory)

	if h.SaveTable != nil {
		for _, tj := range cj.TaxTables {
			raw, _ := json.Marshal(tj)
			if err := h.SaveTable(r.Context(), "paye", tj.Version, tj.EffectiveFrom, string(raw)); err != nil {
				writeError(w, http.StatusInternalServerError, "table registered but not persisted", err)
				return
			}
		}
		for _, sj := range cj.SSNIT {
			raw, _ := json.Marshal(sj)
			if err := h.SaveTable(r.Context(), "ssnit", sj.Version, sj.EffectiveFrom, string(raw)); err != nil {
				writeError(w, http.StatusInternalServerError, "table registered but not persisted", err)
				return
			}
		}
	}

	writeJSON(w, http.StatusCreated, map[string]int{
		"tax_tables_registered": len(cfg.TaxTables),
		"ssnit_registered":      len(cfg.SSNIT),
	})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   fmtTime(time.Now()),
	})
}
