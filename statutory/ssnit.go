/*
ssnit.go - SSNIT pension contribution math

PURPOSE:
  Computes employee and employer pension contributions from pensionable
  earnings under one SSNITTable version.

TWO SPLITS, ONE POOL:
  The 18.5% pool is split two ways:
    Cost:       5.5% employee (withheld) + 13% employer (charged)
    Remittance: 13.5% tier 1 (SSNIT)     + 5% tier 2 (occupational)
  Tier 2 is derived as Total - Tier 1 so the remittance halves always
  sum exactly to the pool despite per-leg rounding.

INSURABLE CEILING:
  Contributions apply to pensionable earnings up to MaxInsurable;
  earnings above the ceiling attract no contribution.

SEE ALSO:
  - tables.go:     Rate data
  - calculator.go: Feeds pensionable earnings in
*/
package statutory

import "github.com/warp/payroll-engine/payroll"

// Contribution applies the table to one month's pensionable earnings.
func (t SSNITTable) Contribution(pensionable payroll.Money) payroll.Contribution {
	insurable := pensionable.Min(t.MaxInsurable)
	if insurable.IsNegative() {
		insurable = insurable.Zero()
	}

	employee := insurable.Mul(t.EmployeeRate).RoundPesewa()
	employer := insurable.Mul(t.EmployerRate).RoundPesewa()
	total := employee.Add(employer)

	tier1 := insurable.Mul(t.Tier1Rate).RoundPesewa()
	tier2 := total.Sub(tier1)

	return payroll.Contribution{
		InsurableBase: insurable,
		Employee:      employee,
		Employer:      employer,
		Tier1:         tier1,
		Tier2:         tier2,
		Total:         total,
	}
}
