/*
dto.go - Request and response shapes for the payroll HTTP API

PURPOSE:
  JSON wire types for the REST API, kept separate from the domain
  structs so the engine's types can evolve without breaking clients.

CONVENTIONS:
  - snake_case field names
  - money as decimal strings ("4250.00"), GHS unless stated
  - timestamps as RFC3339, calendar dates as "2006-01-02"
  - *DTO for responses, *Request for request bodies

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Endpoints producing and consuming these types
  - factory/config.go: ComponentJSON / TaxTableJSON reused for config
    endpoints
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/backpay"
	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// WIRE HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func money(m payroll.Money) string { return m.Value.StringFixed(2) }

func moneyPtr(m *payroll.Money) *string {
	if m == nil {
		return nil
	}
	s := money(*m)
	return &s
}

func parseMoney(s, field string) (payroll.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return payroll.Money{}, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	return payroll.MoneyFromDecimal(d, payroll.GHS), nil
}

func fmtDate(t time.Time) string { return t.Format(dateLayout) }

func fmtDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtDate(*t)
	return &s
}

func parseDate(s, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q, want YYYY-MM-DD", field, s)
	}
	return t, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Email             string  `json:"email,omitempty"`
	SSNITNumber       string  `json:"ssnit_number,omitempty"`
	TIN               string  `json:"tin,omitempty"`
	Grade             string  `json:"grade,omitempty"`
	Department        string  `json:"department,omitempty"`
	HireDate          string  `json:"hire_date"`
	TerminationDate   *string `json:"termination_date,omitempty"`
	OvertimeQualified bool    `json:"overtime_qualified"`
	CreatedAt         string  `json:"created_at"`
}

func toEmployeeDTO(e *payroll.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:                string(e.ID),
		Name:              e.Name,
		Email:             e.Email,
		SSNITNumber:       e.SSNITNumber,
		TIN:               e.TIN,
		Grade:             e.Grade,
		Department:        e.Department,
		HireDate:          fmtDate(e.HireDate),
		TerminationDate:   fmtDatePtr(e.TerminationDate),
		OvertimeQualified: e.OvertimeQualified,
		CreatedAt:         fmtTime(e.CreatedAt),
	}
}

type CreateEmployeeRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	SSNITNumber       string `json:"ssnit_number"`
	TIN               string `json:"tin"`
	Grade             string `json:"grade"`
	Department        string `json:"department"`
	HireDate          string `json:"hire_date"`
	OvertimeQualified bool   `json:"overtime_qualified"`

	// Optional first salary version, effective from the hire date.
	MonthlyBasic string `json:"monthly_basic,omitempty"`
	GradeStep    int    `json:"grade_step,omitempty"`
}

type CreateEmployeeResponse struct {
	Employee EmployeeDTO       `json:"employee"`
	Salary   *SalaryVersionDTO `json:"salary,omitempty"`
}

// =============================================================================
// SALARIES
// =============================================================================

type SalaryVersionDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	Version       int     `json:"version"`
	Grade         string  `json:"grade,omitempty"`
	Step          int     `json:"step,omitempty"`
	MonthlyBasic  string  `json:"monthly_basic"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toSalaryVersionDTO(v *payroll.SalaryVersion) SalaryVersionDTO {
	return SalaryVersionDTO{
		ID:            v.ID,
		EmployeeID:    string(v.EmployeeID),
		Version:       v.Version,
		Grade:         v.Grade,
		Step:          v.Step,
		MonthlyBasic:  money(v.MonthlyBasic),
		EffectiveFrom: fmtDate(v.EffectiveFrom),
		EffectiveTo:   fmtDatePtr(v.EffectiveTo),
		Reason:        v.Reason,
		CreatedAt:     fmtTime(v.CreatedAt),
	}
}

type AddSalaryRequest struct {
	MonthlyBasic  string `json:"monthly_basic"`
	Grade         string `json:"grade"`
	Step          int    `json:"step"`
	EffectiveFrom string `json:"effective_from"`
	Reason        string `json:"reason"`
}

// AddSalaryResponse carries the backpay request raised automatically when
// the effective date reaches into closed periods.
type AddSalaryResponse struct {
	Salary           SalaryVersionDTO `json:"salary"`
	BackpayRequestID string           `json:"backpay_request_id,omitempty"`
}

// =============================================================================
// EMPLOYMENT EVENTS AND ABSENCES
// =============================================================================

type EmploymentEventDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	Type          string `json:"type"`
	EffectiveDate string `json:"effective_date"`
	Grade         string `json:"grade,omitempty"`
	Department    string `json:"department,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toEmploymentEventDTO(ev payroll.EmploymentEvent) EmploymentEventDTO {
	return EmploymentEventDTO{
		ID:            ev.ID,
		EmployeeID:    string(ev.EmployeeID),
		Type:          string(ev.Type),
		EffectiveDate: fmtDate(ev.EffectiveDate),
		Grade:         ev.Grade,
		Department:    ev.Department,
		Note:          ev.Note,
		CreatedAt:     fmtTime(ev.CreatedAt),
	}
}

type AddEventRequest struct {
	Type          string `json:"type"`
	EffectiveDate string `json:"effective_date"`
	Grade         string `json:"grade,omitempty"`
	Department    string `json:"department,omitempty"`
	Note          string `json:"note,omitempty"`
}

type AddAbsenceRequest struct {
	Date      string `json:"date"`
	Kind      string `json:"kind"`
	Reference string `json:"reference,omitempty"`
}

type AbsenceDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
	Kind       string `json:"kind"`
	Reference  string `json:"reference,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toAbsenceDTO(a payroll.Absence) AbsenceDTO {
	return AbsenceDTO{
		ID:         a.ID,
		EmployeeID: string(a.EmployeeID),
		Date:       fmtDate(a.Date),
		Kind:       string(a.Kind),
		Reference:  a.Reference,
		CreatedAt:  fmtTime(a.CreatedAt),
	}
}

// =============================================================================
// COMPONENT ASSIGNMENTS
// =============================================================================

type AssignmentDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	Code          string  `json:"code"`
	Amount        *string `json:"amount,omitempty"`
	Rate          *string `json:"rate,omitempty"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
	Note          string  `json:"note,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func toAssignmentDTO(a payroll.ComponentAssignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:            a.ID,
		EmployeeID:    string(a.EmployeeID),
		Code:          string(a.Code),
		Amount:        moneyPtr(a.Amount),
		EffectiveFrom: fmtDate(a.EffectiveFrom),
		EffectiveTo:   fmtDatePtr(a.EffectiveTo),
		Note:          a.Note,
		CreatedAt:     fmtTime(a.CreatedAt),
	}
	if a.Rate != nil {
		s := a.Rate.String()
		dto.Rate = &s
	}
	return dto
}

type AddAssignmentRequest struct {
	Code          string `json:"code"`
	Amount        string `json:"amount,omitempty"`
	Rate          string `json:"rate,omitempty"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	Note          string `json:"note,omitempty"`
}

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	ID        string  `json:"id"`
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	PayDay    string  `json:"pay_day"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	ClosedAt  *string `json:"closed_at,omitempty"`
}

func toPeriodDTO(p *payroll.PayrollPeriod) PeriodDTO {
	return PeriodDTO{
		ID:        string(p.ID),
		Year:      p.Year,
		Month:     int(p.Month),
		Start:     fmtDate(p.Start),
		End:       fmtDate(p.End),
		PayDay:    fmtDate(p.PayDay),
		Status:    string(p.Status),
		CreatedAt: fmtTime(p.CreatedAt),
		ClosedAt:  fmtTimePtr(p.ClosedAt),
	}
}

type OpenPeriodRequest struct {
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	ActorID string `json:"actor_id"`
}

type ClosePeriodRequest struct {
	ActorID string `json:"actor_id"`
}

// =============================================================================
// RUNS AND ITEMS
// =============================================================================

type RunTotalsDTO struct {
	Gross          string `json:"gross"`
	TaxableIncome  string `json:"taxable_income"`
	PAYE           string `json:"paye"`
	SSNITEmployee  string `json:"ssnit_employee"`
	SSNITEmployer  string `json:"ssnit_employer"`
	OtherDeduction string `json:"other_deduction"`
	Arrears        string `json:"arrears"`
	Net            string `json:"net"`
	EmployerCost   string `json:"employer_cost"`
}

func toRunTotalsDTO(t payroll.RunTotals) RunTotalsDTO {
	return RunTotalsDTO{
		Gross:          money(t.Gross),
		TaxableIncome:  money(t.TaxableIncome),
		PAYE:           money(t.PAYE),
		SSNITEmployee:  money(t.SSNITEmployee),
		SSNITEmployer:  money(t.SSNITEmployer),
		OtherDeduction: money(t.OtherDeduction),
		Arrears:        money(t.Arrears),
		Net:            money(t.Net),
		EmployerCost:   money(t.EmployerCost),
	}
}

type RunDTO struct {
	ID            string       `json:"id"`
	PeriodID      string       `json:"period_id"`
	Sequence      int          `json:"sequence"`
	Kind          string       `json:"kind"`
	Status        string       `json:"status"`
	Totals        RunTotalsDTO `json:"totals"`
	EmployeeCount int          `json:"employee_count"`
	ComputedCount int          `json:"computed_count"`
	FailedCount   int          `json:"failed_count"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
	ComputedAt    *string      `json:"computed_at,omitempty"`
	ApprovedBy    *string      `json:"approved_by,omitempty"`
	ApprovedAt    *string      `json:"approved_at,omitempty"`
	PaidAt        *string      `json:"paid_at,omitempty"`
}

func toRunDTO(r *payroll.PayrollRun) RunDTO {
	return RunDTO{
		ID:            string(r.ID),
		PeriodID:      string(r.PeriodID),
		Sequence:      r.Sequence,
		Kind:          string(r.Kind),
		Status:        string(r.Status),
		Totals:        toRunTotalsDTO(r.Totals),
		EmployeeCount: r.EmployeeCount,
		ComputedCount: r.ComputedCount,
		FailedCount:   r.FailedCount,
		FailureReason: r.FailureReason,
		Notes:         r.Notes,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     fmtTime(r.CreatedAt),
		UpdatedAt:     fmtTime(r.UpdatedAt),
		ComputedAt:    fmtTimePtr(r.ComputedAt),
		ApprovedBy:    r.ApprovedBy,
		ApprovedAt:    fmtTimePtr(r.ApprovedAt),
		PaidAt:        fmtTimePtr(r.PaidAt),
	}
}

type CreateRunRequest struct {
	Kind    string `json:"kind,omitempty"` // "regular" (default) or "supplementary"
	Notes   string `json:"notes,omitempty"`
	ActorID string `json:"actor_id"`
}

type ApproveRunRequest struct {
	ApproverID string `json:"approver_id"`
}

type ActorRequest struct {
	ActorID string `json:"actor_id"`
}

type CancelRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type ItemDetailDTO struct {
	Code        string  `json:"code"`
	Kind        string  `json:"kind"`
	Description string  `json:"description,omitempty"`
	Base        *string `json:"base,omitempty"`
	Rate        *string `json:"rate,omitempty"`
	Amount      string  `json:"amount"`
	Taxable     bool    `json:"taxable"`
	GLAccount   string  `json:"gl_account,omitempty"`
	ReferenceID string  `json:"reference_id,omitempty"`
}

func toItemDetailDTO(d payroll.PayrollItemDetail) ItemDetailDTO {
	dto := ItemDetailDTO{
		Code:        string(d.Code),
		Kind:        string(d.Kind),
		Description: d.Description,
		Base:        moneyPtr(d.Base),
		Amount:      money(d.Amount),
		Taxable:     d.Taxable,
		GLAccount:   d.GLAccount,
		ReferenceID: d.ReferenceID,
	}
	if d.Rate != nil {
		s := d.Rate.String()
		dto.Rate = &s
	}
	return dto
}

type AllocationDTO struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Requested   string `json:"requested"`
	Taken       string `json:"taken"`
	Deferred    string `json:"deferred"`
	Priority    int    `json:"priority"`
	ReferenceID string `json:"reference_id,omitempty"`
}

func toAllocationDTO(a payroll.DeductionAllocation) AllocationDTO {
	return AllocationDTO{
		Code:        string(a.Request.Code),
		Description: a.Request.Description,
		Requested:   money(a.Request.Amount),
		Taken:       money(a.Taken),
		Deferred:    money(a.Deferred),
		Priority:    a.Request.Priority,
		ReferenceID: a.Request.ReferenceID,
	}
}

type ItemDTO struct {
	ID              string          `json:"id"`
	RunID           string          `json:"run_id"`
	PeriodID        string          `json:"period_id"`
	EmployeeID      string          `json:"employee_id"`
	Status          string          `json:"status"`
	Version         int             `json:"version"`
	DaysActive      int             `json:"days_active"`
	DaysInPeriod    int             `json:"days_in_period"`
	AbsenceDays     int             `json:"absence_days"`
	BasicPay        string          `json:"basic_pay"`
	Gross           string          `json:"gross"`
	TaxableIncome   string          `json:"taxable_income"`
	PAYE            string          `json:"paye"`
	SSNITEmployee   string          `json:"ssnit_employee"`
	SSNITEmployer   string          `json:"ssnit_employer"`
	OtherDeductions string          `json:"other_deductions"`
	DeferredAmount  string          `json:"deferred_amount"`
	Arrears         string          `json:"arrears"`
	NetPay          string          `json:"net_pay"`
	TaxTableVersion string          `json:"tax_table_version,omitempty"`
	SSNITVersion    string          `json:"ssnit_version,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Details         []ItemDetailDTO `json:"details,omitempty"`
	Deductions      []AllocationDTO `json:"deductions,omitempty"`
	ComputedAt      string          `json:"computed_at"`
}

func toItemDTO(it *payroll.PayrollItem) ItemDTO {
	dto := ItemDTO{
		ID:              string(it.ID),
		RunID:           string(it.RunID),
		PeriodID:        string(it.PeriodID),
		EmployeeID:      string(it.EmployeeID),
		Status:          string(it.Status),
		Version:         it.Version,
		DaysActive:      it.DaysActive,
		DaysInPeriod:    it.DaysInPeriod,
		AbsenceDays:     it.AbsenceDays,
		BasicPay:        money(it.BasicPay),
		Gross:           money(it.Gross),
		TaxableIncome:   money(it.TaxableIncome),
		PAYE:            money(it.PAYE),
		SSNITEmployee:   money(it.SSNITEmployee),
		SSNITEmployer:   money(it.SSNITEmployer),
		OtherDeductions: money(it.OtherDeductions),
		DeferredAmount:  money(it.DeferredAmount),
		Arrears:         money(it.Arrears),
		NetPay:          money(it.NetPay),
		TaxTableVersion: it.TaxTableVersion,
		SSNITVersion:    it.SSNITVersion,
		FailureReason:   it.FailureReason,
		ComputedAt:      fmtTime(it.ComputedAt),
	}
	for _, d := range it.Details {
		dto.Details = append(dto.Details, toItemDetailDTO(d))
	}
	for _, a := range it.Deductions {
		dto.Deductions = append(dto.Deductions, toAllocationDTO(a))
	}
	return dto
}

func toItemDTOs(items []payroll.PayrollItem) []ItemDTO {
	out := make([]ItemDTO, 0, len(items))
	for i := range items {
		out = append(out, toItemDTO(&items[i]))
	}
	return out
}

// =============================================================================
// LEDGER
// =============================================================================

type TransactionDTO struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	PeriodID    string `json:"period_id"`
	RunID       string `json:"run_id,omitempty"`
	Code        string `json:"code"`
	GLAccount   string `json:"gl_account,omitempty"`
	EffectiveAt string `json:"effective_at"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionDTO(tx payroll.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		EmployeeID:  string(tx.EmployeeID),
		PeriodID:    string(tx.PeriodID),
		RunID:       string(tx.RunID),
		Code:        string(tx.Code),
		GLAccount:   tx.GLAccount,
		EffectiveAt: fmtTime(tx.EffectiveAt),
		Amount:      money(tx.Amount),
		Currency:    string(tx.Amount.Currency),
		Type:        string(tx.Type),
		ReferenceID: tx.ReferenceID,
		Reason:      tx.Reason,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   fmtTime(tx.CreatedAt),
	}
}

func toTransactionDTOs(txs []payroll.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	return out
}

type YTDDTO struct {
	EmployeeID     string `json:"employee_id"`
	Year           int    `json:"year"`
	Gross          string `json:"gross"`
	TaxableIncome  string `json:"taxable_income"`
	PAYE           string `json:"paye"`
	SSNITEmployee  string `json:"ssnit_employee"`
	SSNITEmployer  string `json:"ssnit_employer"`
	OtherDeduction string `json:"other_deduction"`
	Arrears        string `json:"arrears"`
	Net            string `json:"net"`
	Periods        int    `json:"periods"`
	LastPeriodID   string `json:"last_period_id,omitempty"`
}

func toYTDDTO(s *payroll.YTDSnapshot) YTDDTO {
	return YTDDTO{
		EmployeeID:     string(s.EmployeeID),
		Year:           s.Year,
		Gross:          money(s.Gross),
		TaxableIncome:  money(s.TaxableIncome),
		PAYE:           money(s.PAYE),
		SSNITEmployee:  money(s.SSNITEmployee),
		SSNITEmployer:  money(s.SSNITEmployer),
		OtherDeduction: money(s.OtherDeduction),
		Arrears:        money(s.Arrears),
		Net:            money(s.Net),
		Periods:        s.Periods,
		LastPeriodID:   string(s.LastPeriodID),
	}
}

// =============================================================================
// BACKPAY
// =============================================================================

type BackpayTotalsDTO struct {
	Gross         string `json:"gross"`
	PAYE          string `json:"paye"`
	SSNITEmployee string `json:"ssnit_employee"`
	SSNITEmployer string `json:"ssnit_employer"`
	Net           string `json:"net"`
}

func toBackpayTotalsDTO(t backpay.BackpayTotals) BackpayTotalsDTO {
	return BackpayTotalsDTO{
		Gross:         money(t.Gross),
		PAYE:          money(t.PAYE),
		SSNITEmployee: money(t.SSNITEmployee),
		SSNITEmployer: money(t.SSNITEmployer),
		Net:           money(t.Net),
	}
}

type BackpayLineDTO struct {
	ID                 string `json:"id,omitempty"`
	PeriodID           string `json:"period_id"`
	OldBasic           string `json:"old_basic"`
	NewBasic           string `json:"new_basic"`
	GrossDelta         string `json:"gross_delta"`
	PAYEDelta          string `json:"paye_delta"`
	SSNITEmployeeDelta string `json:"ssnit_employee_delta"`
	SSNITEmployerDelta string `json:"ssnit_employer_delta"`
	NetDelta           string `json:"net_delta"`
	TaxTableVersion    string `json:"tax_table_version,omitempty"`
	SSNITVersion       string `json:"ssnit_version,omitempty"`
}

func toBackpayLineDTO(l backpay.BackpayLine) BackpayLineDTO {
	return BackpayLineDTO{
		ID:                 l.ID,
		PeriodID:           string(l.PeriodID),
		OldBasic:           money(l.OldBasic),
		NewBasic:           money(l.NewBasic),
		GrossDelta:         money(l.GrossDelta),
		PAYEDelta:          money(l.PAYEDelta),
		SSNITEmployeeDelta: money(l.SSNITEmployeeDelta),
		SSNITEmployerDelta: money(l.SSNITEmployerDelta),
		NetDelta:           money(l.NetDelta),
		TaxTableVersion:    l.TaxTableVersion,
		SSNITVersion:       l.SSNITVersion,
	}
}

func toBackpayLineDTOs(lines []backpay.BackpayLine) []BackpayLineDTO {
	out := make([]BackpayLineDTO, 0, len(lines))
	for _, l := range lines {
		out = append(out, toBackpayLineDTO(l))
	}
	return out
}

type BackpayRequestDTO struct {
	ID                   string           `json:"id"`
	EmployeeID           string           `json:"employee_id"`
	Reason               string           `json:"reason,omitempty"`
	TriggerSalaryVersion int              `json:"trigger_salary_version,omitempty"`
	EffectiveFrom        string           `json:"effective_from"`
	Status               string           `json:"status"`
	Totals               BackpayTotalsDTO `json:"totals"`
	AppliedRunID         *string          `json:"applied_run_id,omitempty"`
	Error                string           `json:"error,omitempty"`
	CreatedAt            string           `json:"created_at"`
	ComputedAt           *string          `json:"computed_at,omitempty"`
	ApprovedAt           *string          `json:"approved_at,omitempty"`
	ApprovedBy           *string          `json:"approved_by,omitempty"`
	Lines                []BackpayLineDTO `json:"lines,omitempty"`
}

func toBackpayRequestDTO(r *backpay.BackpayRequest) BackpayRequestDTO {
	dto := BackpayRequestDTO{
		ID:                   string(r.ID),
		EmployeeID:           string(r.EmployeeID),
		Reason:               r.Reason,
		TriggerSalaryVersion: r.TriggerSalaryVersion,
		EffectiveFrom:        fmtDate(r.EffectiveFrom),
		Status:               string(r.Status),
		Totals:               toBackpayTotalsDTO(r.Totals),
		Error:                r.Error,
		CreatedAt:            fmtTime(r.CreatedAt),
		ComputedAt:           fmtTimePtr(r.ComputedAt),
		ApprovedAt:           fmtTimePtr(r.ApprovedAt),
		ApprovedBy:           r.ApprovedBy,
	}
	if r.AppliedRunID != nil {
		s := string(*r.AppliedRunID)
		dto.AppliedRunID = &s
	}
	return dto
}

type CreateBackpayRequest struct {
	EmployeeID    string `json:"employee_id"`
	EffectiveFrom string `json:"effective_from"`
	Reason        string `json:"reason"`
	ActorID       string `json:"actor_id"`
}

type BackpayPreviewRequest struct {
	EmployeeID    string `json:"employee_id"`
	ProposedBasic string `json:"proposed_basic"`
	EffectiveFrom string `json:"effective_from"`
}

type BackpayPreviewResponse struct {
	Lines  []BackpayLineDTO `json:"lines"`
	Totals BackpayTotalsDTO `json:"totals"`
}

// =============================================================================
// LOANS
// =============================================================================

type InstallmentDTO struct {
	ID            string  `json:"id"`
	LoanID        string  `json:"loan_id"`
	Sequence      int     `json:"sequence"`
	PeriodID      string  `json:"period_id"`
	Principal     string  `json:"principal"`
	Interest      string  `json:"interest"`
	Total         string  `json:"total"`
	Status        string  `json:"status"`
	DeductedRunID *string `json:"deducted_run_id,omitempty"`
}

func toInstallmentDTO(i loans.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		ID:        i.ID,
		LoanID:    string(i.LoanID),
		Sequence:  i.Sequence,
		PeriodID:  string(i.PeriodID),
		Principal: money(i.Principal),
		Interest:  money(i.Interest),
		Total:     money(i.Total),
		Status:    string(i.Status),
	}
	if i.DeductedRunID != nil {
		s := string(*i.DeductedRunID)
		dto.DeductedRunID = &s
	}
	return dto
}

func toInstallmentDTOs(rows []loans.Installment) []InstallmentDTO {
	out := make([]InstallmentDTO, 0, len(rows))
	for _, i := range rows {
		out = append(out, toInstallmentDTO(i))
	}
	return out
}

type LoanDTO struct {
	ID           string           `json:"id"`
	EmployeeID   string           `json:"employee_id"`
	Kind         string           `json:"kind"`
	Principal    string           `json:"principal"`
	AnnualRate   string           `json:"annual_rate"`
	TermMonths   int              `json:"term_months"`
	StartPeriod  string           `json:"start_period"`
	Status       string           `json:"status"`
	DisbursedAt  string           `json:"disbursed_at"`
	DisbursedBy  string           `json:"disbursed_by,omitempty"`
	SettledAt    *string          `json:"settled_at,omitempty"`
	Outstanding  *string          `json:"outstanding,omitempty"`
	Installments []InstallmentDTO `json:"installments,omitempty"`
}

func toLoanDTO(l *loans.Loan) LoanDTO {
	return LoanDTO{
		ID:          string(l.ID),
		EmployeeID:  string(l.EmployeeID),
		Kind:        string(l.Kind),
		Principal:   money(l.Principal),
		AnnualRate:  l.AnnualRate.String(),
		TermMonths:  l.TermMonths,
		StartPeriod: string(l.StartPeriod),
		Status:      string(l.Status),
		DisbursedAt: fmtTime(l.DisbursedAt),
		DisbursedBy: l.DisbursedBy,
		SettledAt:   fmtTimePtr(l.SettledAt),
	}
}

type DisburseLoanRequest struct {
	EmployeeID  string `json:"employee_id"`
	Kind        string `json:"kind"` // "staff_loan" or "salary_advance"
	Principal   string `json:"principal"`
	AnnualRate  string `json:"annual_rate,omitempty"`
	TermMonths  int    `json:"term_months"`
	StartPeriod string `json:"start_period"`
	ActorID     string `json:"actor_id"`
}

type SettleLoanResponse struct {
	LoanID        string `json:"loan_id"`
	SettledAmount string `json:"settled_amount"`
}
