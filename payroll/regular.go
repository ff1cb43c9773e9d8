/*
regular.go - Regular pay evaluation shared by runs and recomputation

PURPOSE:
  Computes one employee-period's REGULAR pay: prorated basic over salary
  segments, assigned components, and the statutory assessment. Arrears
  and the voluntary-deduction plan are layered on top by the run engine;
  they are not regular pay.

TWO CONSUMERS, ONE ARITHMETIC:
  PayrollService.computeItem evaluates live periods with the stored
  salary history and date-selected statutory tables. Backpay
  recomputation evaluates CLOSED periods with a revised (or what-if)
  history and PINNED table versions, then diffs against the stored item.
  Both run through this function, so a correction is always "same math,
  different inputs" and the delta can never include arithmetic drift.

FAILURE CONTRACT:
  Domain problems (not employed in the period, no salary in force,
  unknown component code, missing statutory table) set FailureReason and
  return a nil error. Infrastructure errors return a real error.

SEE ALSO:
  - service.go: computeItem layers arrears + deductions on the result
  - backpay:    recomputes closed periods and diffs
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var monthsPerYear = decimal.NewFromInt(12)

// RegularPayStore is the slice of the store regular-pay evaluation reads.
// Salary history is a parameter instead so recomputation can substitute
// revised or what-if chains.
type RegularPayStore interface {
	AbsencesInRange(ctx context.Context, id EmployeeID, from, to time.Time) ([]Absence, error)
	AssignmentsFor(ctx context.Context, id EmployeeID) ([]ComponentAssignment, error)
}

// RegularPay is one employee-period's pay before arrears and voluntary
// deductions.
type RegularPay struct {
	DaysInPeriod int
	DaysActive   int
	AbsenceDays  int

	Basic Money // prorated basic across salary segments
	Gross Money // basic + assigned earnings

	Assessment *StatutoryAssessment

	// Earning and statutory detail lines, in evaluation order.
	Details []PayrollItemDetail

	// Deduction components assigned this period, ready for the plan.
	DeductionRequests []DeductionRequest

	// Non-empty means a domain failure; other fields are partial.
	FailureReason string
}

// ComputeRegularPay evaluates one employee-period under the given salary
// history. Empty pins select statutory tables by the period end date;
// non-empty pins select exact versions (recomputation of closed periods).
func ComputeRegularPay(ctx context.Context, store RegularPayStore, calc StatutoryCalculator, emp *Employee, p *PayrollPeriod, history SalaryHistory, pinTax, pinSSNIT string) (*RegularPay, error) {
	z := ZeroMoney(GHS)
	out := &RegularPay{Basic: z, Gross: z}

	// 1. Employment window inside the period
	winFrom, winTo, ok := emp.EmploymentWindow(*p)
	if !ok {
		out.FailureReason = "not employed during period"
		return out, nil
	}
	daysInPeriod := p.Days()

	// 2. Absences reduce payable days
	absences, err := store.AbsencesInRange(ctx, emp.ID, winFrom, winTo)
	if err != nil {
		return nil, err
	}
	out.DaysInPeriod = daysInPeriod
	out.DaysActive = DaysBetween(winFrom, winTo)
	out.AbsenceDays = CountAbsenceDays(absences, winFrom, winTo)

	// 3. Basic pay, prorated per salary segment
	segments := clampSegments(history.SegmentsIn(*p), winFrom, winTo)
	if len(segments) == 0 {
		out.FailureReason = ErrNoSalaryInForce.Error()
		return out, nil
	}

	basicComp := MustLookupComponent(CodeBasic)
	basic := z
	for _, seg := range segments {
		segPayable := seg.Days() - CountAbsenceDays(absences, seg.From, seg.To)
		if segPayable <= 0 {
			continue
		}
		factor := ProrationFactor(segPayable, daysInPeriod)
		line := seg.Version.MonthlyBasic.Mul(factor).RoundPesewa()
		basic = basic.Add(line)

		monthly := seg.Version.MonthlyBasic
		out.Details = append(out.Details, PayrollItemDetail{
			Code:        CodeBasic,
			Kind:        KindEarning,
			Description: fmt.Sprintf("%s (grade %s step %d)", basicComp.Name, seg.Version.Grade, seg.Version.Step),
			Base:        &monthly,
			Rate:        &factor,
			Amount:      line,
			Taxable:     basicComp.Taxable,
			GLAccount:   basicComp.GLAccount,
		})
	}
	out.Basic = basic

	gross := basic
	taxable := z
	pensionable := z
	if basicComp.Taxable {
		taxable = taxable.Add(basic)
	}
	if basicComp.Pensionable {
		pensionable = pensionable.Add(basic)
	}
	bonus := z
	overtime := z
	reliefs := z

	// 4. Assigned components
	assignments, err := store.AssignmentsFor(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		if !a.ActiveIn(*p) {
			continue
		}
		comp, ok := LookupComponent(a.Code)
		if !ok {
			out.FailureReason = fmt.Sprintf("%s: %s", ErrComponentNotFound.Error(), a.Code)
			return out, nil
		}

		amt, base, rate := evaluateAssignment(comp, a, basic, winFrom, winTo, absences, daysInPeriod)
		if amt.IsZero() {
			continue
		}

		switch comp.Kind {
		case KindRelief:
			reliefs = reliefs.Add(amt)
		case KindDeduction:
			out.DeductionRequests = append(out.DeductionRequests, DeductionRequest{
				Code:        comp.Code,
				Description: comp.Name,
				Amount:      amt,
				Priority:    comp.DeductionPriority,
				ReferenceID: a.ID,
				GLAccount:   comp.GLAccount,
			})
		case KindEmployerCharge:
			// Employer charges are engine-emitted (SSNIT); assignments of
			// this kind are not evaluated.
		case KindEarning:
			gross = gross.Add(amt)
			switch comp.Special {
			case SpecialBonus:
				bonus = bonus.Add(amt)
			case SpecialOvertime:
				overtime = overtime.Add(amt)
			default:
				if comp.Taxable {
					taxable = taxable.Add(amt)
				}
			}
			if comp.Pensionable {
				pensionable = pensionable.Add(amt)
			}
			out.Details = append(out.Details, PayrollItemDetail{
				Code:        comp.Code,
				Kind:        comp.Kind,
				Description: comp.Name,
				Base:        base,
				Rate:        rate,
				Amount:      amt,
				Taxable:     comp.Taxable,
				GLAccount:   comp.GLAccount,
				ReferenceID: a.ID,
			})
		}
	}
	out.Gross = gross

	// 5. Statutory assessment under the period's (or pinned) tables
	endVersion := segments[len(segments)-1].Version
	assessment, err := calc.Assess(StatutoryInput{
		PeriodDate:          p.End,
		PinTaxVersion:       pinTax,
		PinSSNITVersion:     pinSSNIT,
		MonthlyBasic:        endVersion.MonthlyBasic,
		AnnualBasic:         endVersion.MonthlyBasic.Mul(monthsPerYear),
		TaxableEarnings:     taxable,
		PensionableEarnings: pensionable,
		BonusEarnings:       bonus,
		OvertimeEarnings:    overtime,
		OvertimeQualified:   emp.OvertimeQualified,
		Reliefs:             reliefs,
	})
	if err != nil {
		if errors.Is(err, ErrStatutoryNotFound) {
			out.FailureReason = err.Error()
			return out, nil
		}
		return nil, err
	}
	out.Assessment = assessment

	payeComp := MustLookupComponent(CodePAYE)
	ssnitEE := MustLookupComponent(CodeSSNITEmployee)
	ssnitER := MustLookupComponent(CodeSSNITEmployer)
	if !assessment.TotalTax.IsZero() {
		out.Details = append(out.Details, PayrollItemDetail{
			Code: CodePAYE, Kind: KindDeduction, Description: payeComp.Name,
			Amount: assessment.TotalTax, GLAccount: payeComp.GLAccount,
		})
	}
	if !assessment.SSNIT.Employee.IsZero() {
		out.Details = append(out.Details, PayrollItemDetail{
			Code: CodeSSNITEmployee, Kind: KindDeduction, Description: ssnitEE.Name,
			Amount: assessment.SSNIT.Employee, GLAccount: ssnitEE.GLAccount,
		})
	}
	if !assessment.SSNIT.Employer.IsZero() {
		out.Details = append(out.Details, PayrollItemDetail{
			Code: CodeSSNITEmployer, Kind: KindEmployerCharge, Description: ssnitER.Name,
			Amount: assessment.SSNIT.Employer, GLAccount: ssnitER.GLAccount,
		})
	}

	return out, nil
}

// clampSegments narrows salary segments to the employment window.
func clampSegments(segments []SalarySegment, from, to time.Time) []SalarySegment {
	var out []SalarySegment
	for _, seg := range segments {
		f, t, ok := ClampRange(seg.From, seg.To, from, to)
		if !ok {
			continue
		}
		seg.From, seg.To = f, t
		out = append(out, seg)
	}
	return out
}

// evaluateAssignment resolves one assignment to an amount for the period,
// returning the base and rate that explain it when derivation applies.
func evaluateAssignment(comp PayComponent, a ComponentAssignment, proratedBasic Money, winFrom, winTo time.Time, absences []Absence, daysInPeriod int) (Money, *Money, *decimal.Decimal) {
	aTo := winTo
	if a.EffectiveTo != nil && a.EffectiveTo.Before(aTo) {
		aTo = *a.EffectiveTo
	}
	from, to, ok := ClampRange(a.EffectiveFrom, aTo, winFrom, winTo)
	if !ok {
		return ZeroMoney(GHS), nil, nil
	}

	switch comp.Method {
	case CalcPercentOfBasic:
		if a.Rate == nil {
			return ZeroMoney(GHS), nil, nil
		}
		base := proratedBasic
		return base.Mul(*a.Rate).RoundPesewa(), &base, a.Rate
	default: // CalcFixed
		if a.Amount == nil {
			return ZeroMoney(GHS), nil, nil
		}
		amt := *a.Amount
		if comp.ProRata {
			payable := DaysBetween(from, to) - CountAbsenceDays(absences, from, to)
			factor := ProrationFactor(payable, daysInPeriod)
			base := amt
			return amt.Mul(factor).RoundPesewa(), &base, &factor
		}
		return amt.RoundPesewa(), nil, nil
	}
}
