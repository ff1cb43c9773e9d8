/*
calculator.go - Statutory assessment pipeline

PURPOSE:
  Implements payroll.StatutoryCalculator for Ghana. One Assess call turns
  an employee-period's aggregates into SSNIT contributions, taxable
  income, graduated PAYE, and the flat bonus/overtime taxes.

ORDER OF OPERATIONS:
  1. Resolve tables (pinned version, else by period date)
  2. SSNIT on pensionable earnings (capped at the insurable ceiling)
  3. Bonus carve-out: flat tax within cap, excess joins taxable
  4. Overtime carve-out: flat tax if qualified, else joins taxable
  5. Taxable income = earnings + carve-out spillover
                      - employee SSNIT - reliefs   (floored at zero)
  6. PAYE = graduated band walk over taxable income
  7. TotalTax = PAYE + bonus tax + overtime tax

  The employee SSNIT deduction comes BEFORE the band walk: pension
  contributions are tax-deductible, reliefs likewise.

PURITY:
  Assess touches no store and no clock. Same input, same output, always.
  That is what makes recomputation under pinned versions trustworthy.

EXAMPLE:
  calc := statutory.NewGhanaCalculator()
  out, err := calc.Assess(payroll.StatutoryInput{
      PeriodDate:          date(2024, 3, 31),
      MonthlyBasic:        ghs(5000),
      AnnualBasic:         ghs(60000),
      TaxableEarnings:     ghs(5800),
      PensionableEarnings: ghs(5000),
  })
  // out.SSNIT.Employee = 275.00 (5.5% of 5000)
  // out.TaxableIncome  = 5525.00
  // out.TaxTableVersion = "ghana-paye-2024"

SEE ALSO:
  - paye.go, ssnit.go, rules.go: The component rules
  - payroll/service.go:          Builds StatutoryInput per item
*/
package statutory

import "github.com/warp/payroll-engine/payroll"

// Calculator implements payroll.StatutoryCalculator over a table registry.
type Calculator struct {
	Tables *Registry
}

func NewCalculator(tables *Registry) *Calculator {
	return &Calculator{Tables: tables}
}

// NewGhanaCalculator returns a calculator with the shipped Ghana tables.
func NewGhanaCalculator() *Calculator {
	return NewCalculator(GhanaRegistry())
}

// Assess computes the full statutory outcome for one employee-period.
func (c *Calculator) Assess(in payroll.StatutoryInput) (*payroll.StatutoryAssessment, error) {
	taxTable, err := c.resolveTax(in)
	if err != nil {
		return nil, err
	}
	ssnitTable, err := c.resolveSSNIT(in)
	if err != nil {
		return nil, err
	}

	contrib := ssnitTable.Contribution(in.PensionableEarnings)

	bonusTax, bonusExcess := taxTable.BonusTax(in.BonusEarnings, in.AnnualBasic)
	overtimeTax, overtimeSpill := taxTable.OvertimeTax(in.OvertimeEarnings, in.MonthlyBasic, in.OvertimeQualified)

	taxable := in.TaxableEarnings.
		Add(bonusExcess).
		Add(overtimeSpill).
		Sub(contrib.Employee).
		Sub(in.Reliefs)
	if taxable.IsNegative() {
		taxable = taxable.Zero()
	}
	taxable = taxable.RoundPesewa()

	paye, bands := WalkBands(taxable, taxTable.Bands)

	return &payroll.StatutoryAssessment{
		SSNIT:           contrib,
		TaxableIncome:   taxable,
		PAYE:            paye,
		BonusTax:        bonusTax,
		OvertimeTax:     overtimeTax,
		TotalTax:        paye.Add(bonusTax).Add(overtimeTax),
		Bands:           bands,
		TaxTableVersion: taxTable.Version,
		SSNITVersion:    ssnitTable.Version,
	}, nil
}

func (c *Calculator) resolveTax(in payroll.StatutoryInput) (*TaxTable, error) {
	if in.PinTaxVersion != "" {
		return c.Tables.TaxTableVersion(in.PinTaxVersion)
	}
	return c.Tables.TaxTableOn(in.PeriodDate)
}

func (c *Calculator) resolveSSNIT(in payroll.StatutoryInput) (*SSNITTable, error) {
	if in.PinSSNITVersion != "" {
		return c.Tables.SSNITTableVersion(in.PinSSNITVersion)
	}
	return c.Tables.SSNITTableOn(in.PeriodDate)
}
