package statutory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ghs(v float64) payroll.Money {
	return payroll.NewMoney(v, payroll.GHS)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// assertMoney compares numerically so decimal exponents never matter.
func assertMoney(t *testing.T, want string, got payroll.Money, msg string) {
	t.Helper()
	assert.True(t, got.Equal(payroll.MustParseMoney(want, payroll.GHS)),
		"%s: want %s, got %s", msg, want, got)
}

// =============================================================================
// PAYE BAND WALK
// =============================================================================

func TestWalkBands_FreeBandOnly(t *testing.T) {
	// GIVEN: Taxable income inside the 0% band (490 for 2024)
	// WHEN: Walking the bands
	// THEN: No tax, single band row

	table := statutory.GhanaPAYE2024()
	paye, rows := statutory.WalkBands(ghs(450), table.Bands)

	assertMoney(t, "0", paye, "PAYE in free band")
	require.Len(t, rows, 1)
	assertMoney(t, "450", rows[0].Slice, "slice")
	assertMoney(t, "0", rows[0].Tax, "row tax")
}

func TestWalkBands_MidBand(t *testing.T) {
	// GIVEN: Taxable income of 5,000 under the 2024 bands
	// WHEN: Walking the bands
	// THEN: 490@0 + 110@5% + 130@10% + 3166.67@17.5% + 1103.33@25%
	//       = 0 + 5.50 + 13.00 + 554.17 + 275.83 -> 848.50

	table := statutory.GhanaPAYE2024()
	paye, rows := statutory.WalkBands(ghs(5000), table.Bands)

	assertMoney(t, "848.50", paye, "PAYE at 5,000")
	require.Len(t, rows, 5)
	assertMoney(t, "1103.33", rows[4].Slice, "last slice takes the remainder")
}

func TestWalkBands_TopRate(t *testing.T) {
	// GIVEN: Taxable income of 60,000, past every sized band
	// WHEN: Walking the bands
	// THEN: 9,583.33 falls into the open 35% band; total 17,082.83

	table := statutory.GhanaPAYE2024()
	paye, rows := statutory.WalkBands(ghs(60000), table.Bands)

	assertMoney(t, "17082.83", paye, "top-rate PAYE")
	require.Len(t, rows, 7)
	assert.Equal(t, "remainder @ 35%", rows[6].Band)
	assertMoney(t, "9583.33", rows[6].Slice, "open band slice")
}

func TestWalkBands_ZeroIncome(t *testing.T) {
	// GIVEN: No taxable income
	// WHEN: Walking the bands
	// THEN: Zero tax, no rows

	table := statutory.GhanaPAYE2024()
	paye, rows := statutory.WalkBands(ghs(0), table.Bands)

	assertMoney(t, "0", paye, "PAYE on zero income")
	assert.Empty(t, rows)
}

// =============================================================================
// SSNIT CONTRIBUTIONS
// =============================================================================

func TestSSNIT_StandardSplit(t *testing.T) {
	// GIVEN: Pensionable earnings of 5,000, below the ceiling
	// WHEN: Computing contributions under the 2024 table
	// THEN: Employee 275 (5.5%), employer 650 (13%),
	//       tier 1 675 (13.5%), tier 2 250 (remainder), total 925

	c := statutory.GhanaSSNIT2024().Contribution(ghs(5000))

	assertMoney(t, "5000", c.InsurableBase, "insurable base")
	assertMoney(t, "275", c.Employee, "employee leg")
	assertMoney(t, "650", c.Employer, "employer leg")
	assertMoney(t, "675", c.Tier1, "tier 1 remittance")
	assertMoney(t, "250", c.Tier2, "tier 2 remittance")
	assertMoney(t, "925", c.Total, "pool")
	assertMoney(t, "925", c.Tier1.Add(c.Tier2), "remittance halves sum to the pool")
}

func TestSSNIT_CeilingApplied(t *testing.T) {
	// GIVEN: Pensionable earnings of 50,000, above the 42,000 ceiling
	// WHEN: Computing contributions under the 2024 table
	// THEN: Contributions are computed on 42,000 only

	c := statutory.GhanaSSNIT2024().Contribution(ghs(50000))

	assertMoney(t, "42000", c.InsurableBase, "capped insurable base")
	assertMoney(t, "2310", c.Employee, "employee leg on the cap")
	assertMoney(t, "5460", c.Employer, "employer leg on the cap")
	assertMoney(t, "7770", c.Total, "pool")
}

// =============================================================================
// BONUS AND OVERTIME CARVE-OUTS
// =============================================================================

func TestBonusTax_WithinCap(t *testing.T) {
	// GIVEN: Bonus of 5,000 against annual basic 60,000 (cap 9,000)
	// WHEN: Computing bonus tax
	// THEN: Flat 5% on the whole bonus, nothing spills to taxable

	table := statutory.GhanaPAYE2024()
	tax, excess := table.BonusTax(ghs(5000), ghs(60000))

	assertMoney(t, "250", tax, "flat bonus tax")
	assertMoney(t, "0", excess, "no excess")
}

func TestBonusTax_ExcessJoinsTaxable(t *testing.T) {
	// GIVEN: Bonus of 12,000 against annual basic 60,000 (cap 9,000)
	// WHEN: Computing bonus tax
	// THEN: 5% on 9,000 = 450; the 3,000 excess goes back to taxable

	table := statutory.GhanaPAYE2024()
	tax, excess := table.BonusTax(ghs(12000), ghs(60000))

	assertMoney(t, "450", tax, "flat tax on the capped slice")
	assertMoney(t, "3000", excess, "excess spills to taxable income")
}

func TestOvertimeTax_Qualified(t *testing.T) {
	// GIVEN: Qualified staff, overtime 3,000 against monthly basic 4,000
	//        (cap 2,000)
	// WHEN: Computing overtime tax
	// THEN: 5% on 2,000 + 10% on 1,000 = 200, nothing joins taxable

	table := statutory.GhanaPAYE2024()
	tax, spill := table.OvertimeTax(ghs(3000), ghs(4000), true)

	assertMoney(t, "200", tax, "split-rate overtime tax")
	assertMoney(t, "0", spill, "no spill for qualified staff")
}

func TestOvertimeTax_Unqualified(t *testing.T) {
	// GIVEN: Unqualified staff with overtime 3,000
	// WHEN: Computing overtime tax
	// THEN: No flat tax; the whole amount joins taxable income

	table := statutory.GhanaPAYE2024()
	tax, spill := table.OvertimeTax(ghs(3000), ghs(4000), false)

	assertMoney(t, "0", tax, "no concession")
	assertMoney(t, "3000", spill, "everything spills to taxable")
}

// =============================================================================
// REGISTRY SELECTION
// =============================================================================

func TestRegistry_SelectsByDate(t *testing.T) {
	// GIVEN: The shipped 2023 and 2024 tables
	// WHEN: Asking which table is in force mid-2023 and mid-2024
	// THEN: Each year gets its own version

	reg := statutory.GhanaRegistry()

	t2023, err := reg.TaxTableOn(date(2023, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, "ghana-paye-2023", t2023.Version)

	t2024, err := reg.TaxTableOn(date(2024, time.February, 29))
	require.NoError(t, err)
	assert.Equal(t, "ghana-paye-2024", t2024.Version)
}

func TestRegistry_NothingInForce(t *testing.T) {
	// GIVEN: The shipped tables start in 2023
	// WHEN: Asking for a 2022 date
	// THEN: ErrStatutoryNotFound

	reg := statutory.GhanaRegistry()

	_, err := reg.TaxTableOn(date(2022, time.June, 1))
	assert.ErrorIs(t, err, payroll.ErrStatutoryNotFound)

	_, err = reg.SSNITTableOn(date(2022, time.June, 1))
	assert.ErrorIs(t, err, payroll.ErrStatutoryNotFound)
}

func TestRegistry_MissingVersion(t *testing.T) {
	// GIVEN: A version string that was never registered
	// WHEN: Resolving it exactly
	// THEN: ErrStatutoryNotFound, never a fallback

	reg := statutory.GhanaRegistry()

	_, err := reg.TaxTableVersion("ghana-paye-1999")
	assert.ErrorIs(t, err, payroll.ErrStatutoryNotFound)
}

func TestRegistry_ReRegisterReplacesVersion(t *testing.T) {
	// GIVEN: A registered table version
	// WHEN: Registering the same version with amended data
	// THEN: The amended table wins; no duplicate entry

	reg := statutory.NewRegistry()
	reg.RegisterTaxTable(statutory.GhanaPAYE2024())

	amended := statutory.GhanaPAYE2024()
	amended.BonusRate = payroll.MustParseDecimal("0.075")
	reg.RegisterTaxTable(amended)

	got, err := reg.TaxTableVersion("ghana-paye-2024")
	require.NoError(t, err)
	assert.True(t, got.BonusRate.Equal(payroll.MustParseDecimal("0.075")))
	assert.Len(t, reg.TaxVersions(), 1)
}

// =============================================================================
// FULL ASSESSMENT
// =============================================================================

func TestAssess_FullPipeline(t *testing.T) {
	// GIVEN: March 2024. Monthly basic 5,000, taxable earnings 5,800
	//        (basic + 800 allowance), pensionable 5,000, bonus 1,000,
	//        qualified overtime 500, reliefs 100
	// WHEN: Assessing
	// THEN: SSNIT employee 275
	//       bonus tax 50 (within the 9,000 cap)
	//       overtime tax 25 (within the 2,500 cap)
	//       taxable = 5,800 - 275 - 100 = 5,425
	//       PAYE = 954.75; total tax = 1,029.75

	calc := statutory.NewGhanaCalculator()
	out, err := calc.Assess(payroll.StatutoryInput{
		PeriodDate:          date(2024, time.March, 31),
		MonthlyBasic:        ghs(5000),
		AnnualBasic:         ghs(60000),
		TaxableEarnings:     ghs(5800),
		PensionableEarnings: ghs(5000),
		BonusEarnings:       ghs(1000),
		OvertimeEarnings:    ghs(500),
		OvertimeQualified:   true,
		Reliefs:             ghs(100),
	})
	require.NoError(t, err)

	assertMoney(t, "275", out.SSNIT.Employee, "employee SSNIT")
	assertMoney(t, "650", out.SSNIT.Employer, "employer SSNIT")
	assertMoney(t, "50", out.BonusTax, "bonus tax")
	assertMoney(t, "25", out.OvertimeTax, "overtime tax")
	assertMoney(t, "5425", out.TaxableIncome, "taxable income")
	assertMoney(t, "954.75", out.PAYE, "graduated PAYE")
	assertMoney(t, "1029.75", out.TotalTax, "total tax")
	assert.Equal(t, "ghana-paye-2024", out.TaxTableVersion)
	assert.Equal(t, "ghana-ssnit-2024", out.SSNITVersion)
}

func TestAssess_BonusExcessTaxedInBands(t *testing.T) {
	// GIVEN: Bonus of 12,000 against annual basic 60,000
	// WHEN: Assessing with no other earnings
	// THEN: 9,000 taxed flat at 5%; the 3,000 excess goes through the
	//       bands alongside regular taxable earnings

	calc := statutory.NewGhanaCalculator()
	out, err := calc.Assess(payroll.StatutoryInput{
		PeriodDate:          date(2024, time.March, 31),
		MonthlyBasic:        ghs(5000),
		AnnualBasic:         ghs(60000),
		TaxableEarnings:     ghs(5000),
		PensionableEarnings: ghs(5000),
		BonusEarnings:       ghs(12000),
	})
	require.NoError(t, err)

	assertMoney(t, "450", out.BonusTax, "flat tax on the capped slice")
	// taxable = 5,000 + 3,000 excess - 275 SSNIT = 7,725
	assertMoney(t, "7725", out.TaxableIncome, "taxable includes the excess")
}

func TestAssess_PinnedVersionBeatsDate(t *testing.T) {
	// GIVEN: A 2024 period date but the 2023 versions pinned
	// WHEN: Assessing
	// THEN: The 2023 tables are used; backpay recomputation relies on this

	calc := statutory.NewGhanaCalculator()
	out, err := calc.Assess(payroll.StatutoryInput{
		PeriodDate:          date(2024, time.June, 30),
		PinTaxVersion:       "ghana-paye-2023",
		PinSSNITVersion:     "ghana-ssnit-2023",
		MonthlyBasic:        ghs(5000),
		AnnualBasic:         ghs(60000),
		TaxableEarnings:     ghs(5000),
		PensionableEarnings: ghs(5000),
	})
	require.NoError(t, err)

	assert.Equal(t, "ghana-paye-2023", out.TaxTableVersion)
	assert.Equal(t, "ghana-ssnit-2023", out.SSNITVersion)
	// 2023 bands: 402@0 + 110@5% + 130@10% + 3000@17.5% + 1083@25%
	//           = 0 + 5.50 + 13.00 + 525.00 + 270.75 -> 814.25
	// on taxable 5,000 - 275 = 4,725
	assertMoney(t, "814.25", out.PAYE, "2023-band PAYE")
}

func TestAssess_PinnedVersionMissing_Errors(t *testing.T) {
	// GIVEN: A pinned version that no longer exists in config
	// WHEN: Assessing
	// THEN: Hard ErrStatutoryNotFound; silent fallback would corrupt
	//       recomputed arrears

	calc := statutory.NewGhanaCalculator()
	_, err := calc.Assess(payroll.StatutoryInput{
		PeriodDate:      date(2024, time.June, 30),
		PinTaxVersion:   "ghana-paye-1999",
		MonthlyBasic:    ghs(5000),
		TaxableEarnings: ghs(5000),
	})
	assert.ErrorIs(t, err, payroll.ErrStatutoryNotFound)
}

func TestAssess_ReliefsFloorAtZero(t *testing.T) {
	// GIVEN: Reliefs larger than earnings
	// WHEN: Assessing
	// THEN: Taxable income floors at zero instead of going negative

	calc := statutory.NewGhanaCalculator()
	out, err := calc.Assess(payroll.StatutoryInput{
		PeriodDate:          date(2024, time.March, 31),
		MonthlyBasic:        ghs(200),
		AnnualBasic:         ghs(2400),
		TaxableEarnings:     ghs(200),
		PensionableEarnings: ghs(200),
		Reliefs:             ghs(1000),
	})
	require.NoError(t, err)

	assertMoney(t, "0", out.TaxableIncome, "floored taxable")
	assertMoney(t, "0", out.PAYE, "no PAYE")
}

func TestAssess_Deterministic(t *testing.T) {
	// GIVEN: One input
	// WHEN: Assessing twice
	// THEN: Identical outcomes; Assess is pure

	calc := statutory.NewGhanaCalculator()
	in := payroll.StatutoryInput{
		PeriodDate:          date(2024, time.March, 31),
		MonthlyBasic:        ghs(5000),
		AnnualBasic:         ghs(60000),
		TaxableEarnings:     ghs(5800),
		PensionableEarnings: ghs(5000),
		BonusEarnings:       ghs(1000),
	}

	first, err := calc.Assess(in)
	require.NoError(t, err)
	second, err := calc.Assess(in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
