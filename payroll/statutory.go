package payroll

import "time"

// =============================================================================
// STATUTORY CALCULATOR - Interface to jurisdiction tax/pension rules
// =============================================================================

// StatutoryCalculator turns period aggregates into tax and pension amounts.
// Implementations hold the jurisdiction's tables (PAYE bands, SSNIT rates);
// the engine stays rule-agnostic.
//
// Assess must be pure: no store access, deterministic for a given input.
// Every assessment reports the exact table versions it used so items can
// record them and retroactive recomputation can pin them.
type StatutoryCalculator interface {
	Assess(in StatutoryInput) (*StatutoryAssessment, error)
}

// StatutoryInput carries one employee-period's aggregates.
type StatutoryInput struct {
	// PeriodDate selects tables by effective date (normally the period end).
	PeriodDate time.Time

	// Version pins override date selection. Backpay recomputation sets these
	// to the versions the original item recorded; empty means select by date.
	PinTaxVersion   string
	PinSSNITVersion string

	MonthlyBasic Money
	AnnualBasic  Money // annualized basic, the bonus-cap base

	// Regular aggregates. TaxableEarnings excludes the carve-outs below.
	TaxableEarnings     Money
	PensionableEarnings Money

	// Carve-outs taxed under their own rules.
	BonusEarnings     Money
	OvertimeEarnings  Money
	OvertimeQualified bool

	// Reliefs reduce taxable income before band evaluation.
	Reliefs Money
}

// Contribution is the SSNIT outcome for one employee-period.
type Contribution struct {
	InsurableBase Money // pensionable earnings after the statutory cap
	Employee      Money // withheld from the employee
	Employer      Money // charged to the employer
	Tier1         Money // remitted to SSNIT
	Tier2         Money // remitted to the occupational scheme
	Total         Money
}

// BandTax is one row of the PAYE band walk, kept for payslip breakdowns.
type BandTax struct {
	Band   string // "490.00 @ 0%", "remainder @ 35%"
	Slice  Money  // taxable amount falling in this band
	Tax    Money
}

// StatutoryAssessment is the full statutory outcome.
type StatutoryAssessment struct {
	SSNIT Contribution

	TaxableIncome Money
	PAYE          Money
	BonusTax      Money
	OvertimeTax   Money
	TotalTax      Money

	Bands []BandTax

	// Versions actually used; recorded on the item.
	TaxTableVersion string
	SSNITVersion    string
}
