/*
component.go - Pay components and their assignment to employees

PURPOSE:
  A PayComponent is one kind of earning or deduction: housing allowance,
  risk allowance, bonus, union dues, a loan installment. The component
  carries the rules (taxable? pensionable? prorated? how computed?); a
  ComponentAssignment binds a component to an employee with an amount or
  rate and an effective window.

COMPONENT REGISTRY:
  Components are registered by code in a process-wide registry, seeded
  with the built-in catalog and extended by configuration. The registry
  lets the store and API reconstruct full component semantics from the
  code persisted on detail lines.

SPECIAL COMPONENTS:
  Bonus and overtime earnings are carved out of regular taxable income
  and taxed under their own flat-rate rules. Arrears codes carry backpay
  deltas and are excluded from the current period's statutory assessment
  entirely - their tax was computed against the periods they correct.

SEE ALSO:
  - service.go: component evaluation during run computation
  - statutory/: the carve-out tax rules
  - distribution.go: deduction ordering by priority
*/
package payroll

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAY COMPONENT - The catalog entry
// =============================================================================

type ComponentCode string

type ComponentKind string

const (
	KindEarning        ComponentKind = "earning"
	KindDeduction      ComponentKind = "deduction"
	KindEmployerCharge ComponentKind = "employer_charge"
	// KindRelief reduces taxable income without moving money: no pay line,
	// no gross effect, only the PAYE base shrinks.
	KindRelief ComponentKind = "relief"
)

type CalcMethod string

const (
	CalcFixed          CalcMethod = "fixed"
	CalcPercentOfBasic CalcMethod = "percent_of_basic"
)

type ComponentSpecial string

const (
	SpecialNone     ComponentSpecial = ""
	SpecialBonus    ComponentSpecial = "bonus"
	SpecialOvertime ComponentSpecial = "overtime"
	SpecialArrears  ComponentSpecial = "arrears"
)

// Reserved codes the engine emits itself.
const (
	CodeBasic         ComponentCode = "BASIC"
	CodeArrears       ComponentCode = "ARREARS"
	CodeArrearsPAYE   ComponentCode = "ARREARS-PAYE"
	CodeArrearsSSNIT  ComponentCode = "ARREARS-SSNIT"
	CodeLoan          ComponentCode = "LOAN"
	CodePAYE          ComponentCode = "PAYE"
	CodeSSNITEmployee ComponentCode = "SSNIT-EE"
	CodeSSNITEmployer ComponentCode = "SSNIT-ER"
	CodeNetPay        ComponentCode = "NET"
)

type PayComponent struct {
	Code ComponentCode
	Name string
	Kind ComponentKind

	Method  CalcMethod
	Special ComponentSpecial

	// Statutory treatment.
	Taxable     bool // counts toward PAYE taxable earnings
	Pensionable bool // counts toward the SSNIT insurable base

	// ProRata components scale with days worked; one-time payments don't.
	ProRata   bool
	Recurring bool

	// GLAccount ties the component to the general ledger chart.
	GLAccount string

	// DeductionPriority orders voluntary deductions under the protected-pay
	// cap: lower numbers are taken first. Ignored for earnings.
	DeductionPriority int
}

func (c PayComponent) IsEarning() bool   { return c.Kind == KindEarning }
func (c PayComponent) IsDeduction() bool { return c.Kind == KindDeduction }

// =============================================================================
// COMPONENT REGISTRY
// =============================================================================

var (
	componentRegistry = make(map[ComponentCode]PayComponent)
	componentMu       sync.RWMutex
)

// RegisterComponent adds or replaces a component in the process registry.
// Configuration loading calls this; tests may too.
func RegisterComponent(c PayComponent) {
	componentMu.Lock()
	defer componentMu.Unlock()
	componentRegistry[c.Code] = c
}

// LookupComponent finds a registered component. ok is false when the code
// is unknown.
func LookupComponent(code ComponentCode) (PayComponent, bool) {
	componentMu.RLock()
	defer componentMu.RUnlock()
	c, ok := componentRegistry[code]
	return c, ok
}

// MustLookupComponent finds a registered component or panics.
// Use in tests or when the catalog is known to be loaded.
func MustLookupComponent(code ComponentCode) PayComponent {
	c, ok := LookupComponent(code)
	if !ok {
		panic(fmt.Sprintf("pay component not registered: %s", code))
	}
	return c
}

// ListComponents returns the registered catalog.
func ListComponents() []PayComponent {
	componentMu.RLock()
	defer componentMu.RUnlock()
	result := make([]PayComponent, 0, len(componentRegistry))
	for _, c := range componentRegistry {
		result = append(result, c)
	}
	return result
}

// Engine-emitted components are always present; configuration may extend
// but not remove them.
func init() {
	RegisterComponent(PayComponent{Code: CodeBasic, Name: "Basic Salary", Kind: KindEarning,
		Method: CalcFixed, Taxable: true, Pensionable: true, ProRata: true, Recurring: true, GLAccount: "510100"})
	RegisterComponent(PayComponent{Code: CodeArrears, Name: "Salary Arrears", Kind: KindEarning,
		Method: CalcFixed, Special: SpecialArrears, GLAccount: "510150"})
	RegisterComponent(PayComponent{Code: CodeArrearsPAYE, Name: "Arrears PAYE", Kind: KindDeduction,
		Method: CalcFixed, Special: SpecialArrears, GLAccount: "220100"})
	RegisterComponent(PayComponent{Code: CodeArrearsSSNIT, Name: "Arrears SSNIT", Kind: KindDeduction,
		Method: CalcFixed, Special: SpecialArrears, GLAccount: "220200"})
	RegisterComponent(PayComponent{Code: CodeLoan, Name: "Loan Repayment", Kind: KindDeduction,
		Method: CalcFixed, DeductionPriority: 20, GLAccount: "130300"})
	RegisterComponent(PayComponent{Code: CodePAYE, Name: "PAYE", Kind: KindDeduction,
		Method: CalcFixed, GLAccount: "220100"})
	RegisterComponent(PayComponent{Code: CodeSSNITEmployee, Name: "SSNIT Employee", Kind: KindDeduction,
		Method: CalcFixed, GLAccount: "220200"})
	RegisterComponent(PayComponent{Code: CodeSSNITEmployer, Name: "SSNIT Employer", Kind: KindEmployerCharge,
		Method: CalcFixed, GLAccount: "510200"})
}

// GLNetPayable is the clearing account net-pay postings settle against.
// NET is not a catalog component; the engine emits it directly.
const GLNetPayable = "210100"

// =============================================================================
// COMPONENT ASSIGNMENT - Binding a component to an employee
// =============================================================================

type ComponentAssignment struct {
	ID         string
	EmployeeID EmployeeID
	Code       ComponentCode

	// Exactly one of Amount (CalcFixed) or Rate (CalcPercentOfBasic) is set.
	Amount *Money
	Rate   *decimal.Decimal

	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended

	Note      string
	CreatedAt time.Time
}

// ActiveDays counts the assignment's days inside a period.
func (a ComponentAssignment) ActiveDays(p PayrollPeriod) int {
	to := p.End
	if a.EffectiveTo != nil && a.EffectiveTo.Before(to) {
		to = *a.EffectiveTo
	}
	return OverlapDays(a.EffectiveFrom, to, p.Start, p.End)
}

// ActiveIn reports whether the assignment overlaps the period at all.
func (a ComponentAssignment) ActiveIn(p PayrollPeriod) bool {
	return a.ActiveDays(p) > 0
}
