/*
paye.go - Graduated PAYE band walk

PURPOSE:
  Walks monthly taxable income down the graduated bands of a TaxTable and
  returns the total tax plus a per-band breakdown for payslips.

THE WALK:
  Each band covers a Width of chargeable income at its Rate. Income fills
  bands in order; whatever survives the sized bands falls into the final
  open-ended band.

  Taxable 5,000 under ghana-paye-2024:
    490.00    @ 0%     ->     0.00
    110.00    @ 5%     ->     5.50
    130.00    @ 10%    ->    13.00
    3,166.67  @ 17.5%  ->   554.17  (rounded row)
    1,103.33  @ 25%    ->   275.83  (remaining income, rounded row)
    total PAYE         ->   848.50

ROUNDING:
  Band rows are rounded to the pesewa for display. The PAYE total is the
  RAW sum rounded once, so a payslip's rows may drift from the total by a
  pesewa; the total is the authoritative figure.

SEE ALSO:
  - tables.go:     Band data
  - calculator.go: Feeds taxable income into the walk
*/
package statutory

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

var hundred = decimal.NewFromInt(100)

// WalkBands computes graduated tax on taxable income. Returns the rounded
// total and the band rows actually touched.
func WalkBands(taxable payroll.Money, bands []TaxBand) (payroll.Money, []payroll.BandTax) {
	remaining := taxable
	total := taxable.Zero()
	var rows []payroll.BandTax

	for _, b := range bands {
		if !remaining.IsPositive() {
			break
		}

		slice := remaining
		if b.Width != nil {
			slice = remaining.Min(*b.Width)
		}
		tax := slice.Mul(b.Rate)
		total = total.Add(tax)
		remaining = remaining.Sub(slice)

		rows = append(rows, payroll.BandTax{
			Band:  bandLabel(b),
			Slice: slice.RoundPesewa(),
			Tax:   tax.RoundPesewa(),
		})
	}

	return total.RoundPesewa(), rows
}

func bandLabel(b TaxBand) string {
	rate := b.Rate.Mul(hundred).String() + "%"
	if b.Width == nil {
		return "remainder @ " + rate
	}
	return b.Width.String() + " @ " + rate
}
