/*
tables.go - Ghana statutory tables (PAYE bands, SSNIT rates)

PURPOSE:
  Holds the versioned rule tables the calculator runs on. Tables are
  effective-dated: the registry picks the table in force on the period
  end date, or an exact version when a recomputation pins one.

VERSIONING:
  Every table carries a Version string ("ghana-paye-2024"). Payroll items
  record the versions used to compute them; backpay recomputes CLOSED
  periods under the ORIGINAL versions by pinning them in StatutoryInput.
  A rate change therefore never silently rewrites settled history.

SHIPPED TABLES:
  ghana-paye-2023 / ghana-paye-2024:   Monthly graduated PAYE bands
  ghana-ssnit-2023 / ghana-ssnit-2024: Tier 1+2 pension rates and caps

SEE ALSO:
  - registry.go: Effective-date and version selection
  - paye.go:     Band walk over TaxTable
  - ssnit.go:    Contribution math over SSNITTable
*/
package statutory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TAX TABLE - Graduated PAYE bands plus bonus/overtime carve-out rates
// =============================================================================

// TaxTable is one version of the monthly PAYE schedule.
type TaxTable struct {
	Version       string
	EffectiveFrom time.Time

	// Bands in walk order. The last band is open-ended (nil Width).
	Bands []TaxBand

	// Bonus within BonusCapFraction of ANNUAL basic is taxed flat at
	// BonusRate; the excess joins taxable income.
	BonusRate        decimal.Decimal
	BonusCapFraction decimal.Decimal

	// Overtime for qualified staff: flat OvertimeRate up to
	// OvertimeCapFraction of MONTHLY basic, OvertimeExcessRate above.
	// Unqualified staff's overtime joins taxable income instead.
	OvertimeRate        decimal.Decimal
	OvertimeExcessRate  decimal.Decimal
	OvertimeCapFraction decimal.Decimal
}

// TaxBand is one graduated slice. Width is the chargeable amount the band
// covers ("next 110.00"); nil means the band takes the remainder.
type TaxBand struct {
	Width *payroll.Money
	Rate  decimal.Decimal
}

func band(width, rate string) TaxBand {
	w := payroll.MustParseMoney(width, payroll.GHS)
	return TaxBand{Width: &w, Rate: payroll.MustParseDecimal(rate)}
}

func openBand(rate string) TaxBand {
	return TaxBand{Rate: payroll.MustParseDecimal(rate)}
}

// =============================================================================
// SSNIT TABLE - Pension contribution rates and insurable ceiling
// =============================================================================

// SSNITTable is one version of the SSNIT contribution schedule.
// EmployeeRate + EmployerRate must equal Tier1Rate + Tier2Rate; the first
// pair splits the cost, the second splits the remittance.
type SSNITTable struct {
	Version       string
	EffectiveFrom time.Time

	EmployeeRate decimal.Decimal // withheld from the employee
	EmployerRate decimal.Decimal // charged to the employer
	Tier1Rate    decimal.Decimal // remitted to SSNIT (first tier)
	Tier2Rate    decimal.Decimal // remitted to the occupational scheme
	MaxInsurable payroll.Money   // monthly insurable earnings ceiling
}

// =============================================================================
// SHIPPED GHANA TABLES
// =============================================================================

// GhanaPAYE2023 is the monthly schedule in force from January 2023.
func GhanaPAYE2023() TaxTable {
	return TaxTable{
		Version:       "ghana-paye-2023",
		EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Bands: []TaxBand{
			band("402", "0"),
			band("110", "0.05"),
			band("130", "0.10"),
			band("3000", "0.175"),
			band("16395", "0.25"),
			band("29963", "0.30"),
			openBand("0.35"),
		},
		BonusRate:           payroll.MustParseDecimal("0.05"),
		BonusCapFraction:    payroll.MustParseDecimal("0.15"),
		OvertimeRate:        payroll.MustParseDecimal("0.05"),
		OvertimeExcessRate:  payroll.MustParseDecimal("0.10"),
		OvertimeCapFraction: payroll.MustParseDecimal("0.50"),
	}
}

// GhanaPAYE2024 is the monthly schedule in force from January 2024.
func GhanaPAYE2024() TaxTable {
	return TaxTable{
		Version:       "ghana-paye-2024",
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Bands: []TaxBand{
			band("490", "0"),
			band("110", "0.05"),
			band("130", "0.10"),
			band("3166.67", "0.175"),
			band("16000", "0.25"),
			band("30520", "0.30"),
			openBand("0.35"),
		},
		BonusRate:           payroll.MustParseDecimal("0.05"),
		BonusCapFraction:    payroll.MustParseDecimal("0.15"),
		OvertimeRate:        payroll.MustParseDecimal("0.05"),
		OvertimeExcessRate:  payroll.MustParseDecimal("0.10"),
		OvertimeCapFraction: payroll.MustParseDecimal("0.50"),
	}
}

// GhanaSSNIT2023 is the contribution schedule in force from January 2023.
func GhanaSSNIT2023() SSNITTable {
	return SSNITTable{
		Version:       "ghana-ssnit-2023",
		EffectiveFrom: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EmployeeRate:  payroll.MustParseDecimal("0.055"),
		EmployerRate:  payroll.MustParseDecimal("0.13"),
		Tier1Rate:     payroll.MustParseDecimal("0.135"),
		Tier2Rate:     payroll.MustParseDecimal("0.05"),
		MaxInsurable:  payroll.MustParseMoney("35000", payroll.GHS),
	}
}

// GhanaSSNIT2024 is the contribution schedule in force from January 2024.
func GhanaSSNIT2024() SSNITTable {
	return SSNITTable{
		Version:       "ghana-ssnit-2024",
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EmployeeRate:  payroll.MustParseDecimal("0.055"),
		EmployerRate:  payroll.MustParseDecimal("0.13"),
		Tier1Rate:     payroll.MustParseDecimal("0.135"),
		Tier2Rate:     payroll.MustParseDecimal("0.05"),
		MaxInsurable:  payroll.MustParseMoney("42000", payroll.GHS),
	}
}

// GhanaRegistry returns a registry preloaded with the shipped tables.
func GhanaRegistry() *Registry {
	r := NewRegistry()
	r.RegisterTaxTable(GhanaPAYE2023())
	r.RegisterTaxTable(GhanaPAYE2024())
	r.RegisterSSNITTable(GhanaSSNIT2023())
	r.RegisterSSNITTable(GhanaSSNIT2024())
	return r
}
