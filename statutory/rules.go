/*
rules.go - Bonus and overtime carve-outs

PURPOSE:
  Bonus and overtime are taxed under their own flat-rate rules instead of
  the graduated bands, up to caps. Amounts above the caps fall back into
  taxable income (bonus) or a higher flat rate (overtime).

BONUS:
  Flat 5% on bonus up to 15% of ANNUAL basic salary. The excess over the
  cap is NOT taxed flat; it joins taxable income and goes through the
  graduated bands with everything else.

OVERTIME:
  Only qualified staff get the concession. For them: flat 5% on overtime
  up to 50% of MONTHLY basic, flat 10% on the rest. Unqualified staff's
  overtime is ordinary taxable income.

SEE ALSO:
  - tables.go:     Rates and cap fractions per table version
  - calculator.go: Folds the excess back into taxable income
*/
package statutory

import "github.com/warp/payroll-engine/payroll"

// BonusTax taxes the within-cap slice flat and returns the excess that
// must join taxable income.
func (t TaxTable) BonusTax(bonus, annualBasic payroll.Money) (tax, excess payroll.Money) {
	if !bonus.IsPositive() {
		return bonus.Zero(), bonus.Zero()
	}

	limit := annualBasic.Mul(t.BonusCapFraction)
	within := bonus.Min(limit)
	if within.IsNegative() {
		within = within.Zero()
	}

	tax = within.Mul(t.BonusRate).RoundPesewa()
	excess = bonus.Sub(within)
	return tax, excess
}

// OvertimeTax taxes qualified staff's overtime flat (split at the cap) and
// returns any amount that must join taxable income instead. For
// unqualified staff the whole overtime amount comes back as toTaxable.
func (t TaxTable) OvertimeTax(overtime, monthlyBasic payroll.Money, qualified bool) (tax, toTaxable payroll.Money) {
	if !overtime.IsPositive() {
		return overtime.Zero(), overtime.Zero()
	}
	if !qualified {
		return overtime.Zero(), overtime
	}

	limit := monthlyBasic.Mul(t.OvertimeCapFraction)
	within := overtime.Min(limit)
	if within.IsNegative() {
		within = within.Zero()
	}
	above := overtime.Sub(within)

	tax = within.Mul(t.OvertimeRate).Add(above.Mul(t.OvertimeExcessRate)).RoundPesewa()
	return tax, overtime.Zero()
}
