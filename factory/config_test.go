package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// PARSE - Full bundle
// =============================================================================

func TestParseConfig_FullBundle(t *testing.T) {
	// GIVEN: A JSON bundle with a PAYE table, an SSNIT table, and a component
	// WHEN: Parsing it
	// THEN: Every definition converts, and the bundle registers cleanly

	jsonStr := `{
		"tax_tables": [{
			"version": "ghana-paye-2025",
			"effective_from": "2025-01-01",
			"bands": [
				{"width": "490.00", "rate": "0"},
				{"width": "110.00", "rate": "0.05"},
				{"width": "130.00", "rate": "0.10"},
				{"rate": "0.35"}
			]
		}],
		"ssnit": [{
			"version": "ghana-ssnit-2025",
			"effective_from": "2025-01-01",
			"employee_rate": "0.055",
			"employer_rate": "0.13",
			"tier1_rate": "0.135",
			"tier2_rate": "0.05",
			"max_insurable_monthly": "52000.00"
		}],
		"components": [{
			"code": "FUEL",
			"name": "Fuel Allowance",
			"kind": "earning",
			"method": "fixed",
			"taxable": true,
			"pro_rata": true,
			"recurring": true,
			"gl_account": "510170"
		}]
	}`

	cfg, err := factory.NewConfigFactory().ParseConfig(jsonStr)
	require.NoError(t, err)
	require.Len(t, cfg.TaxTables, 1)
	require.Len(t, cfg.SSNIT, 1)
	require.Len(t, cfg.Components, 1)

	tax := cfg.TaxTables[0]
	assert.Equal(t, "ghana-paye-2025", tax.Version)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), tax.EffectiveFrom)
	require.Len(t, tax.Bands, 4)
	require.NotNil(t, tax.Bands[0].Width)
	assert.True(t, tax.Bands[0].Width.Equal(payroll.MustParseMoney("490", payroll.GHS)))
	assert.Nil(t, tax.Bands[3].Width, "top band is open-ended")
	assert.Equal(t, "0.35", tax.Bands[3].Rate.String())

	// Carve-out rates fall back to the shipped defaults when omitted.
	assert.Equal(t, "0.05", tax.BonusRate.String())
	assert.Equal(t, "0.15", tax.BonusCapFraction.String())
	assert.Equal(t, "0.5", tax.OvertimeCapFraction.String())

	ssnit := cfg.SSNIT[0]
	assert.Equal(t, "0.055", ssnit.EmployeeRate.String())
	assert.True(t, ssnit.MaxInsurable.Equal(payroll.MustParseMoney("52000", payroll.GHS)))

	comp := cfg.Components[0]
	assert.Equal(t, payroll.ComponentCode("FUEL"), comp.Code)
	assert.Equal(t, payroll.KindEarning, comp.Kind)
	assert.Equal(t, payroll.CalcFixed, comp.Method)

	reg := statutory.NewRegistry()
	cfg.Apply(reg)
	got, err := reg.TaxTableVersion("ghana-paye-2025")
	require.NoError(t, err)
	assert.Equal(t, "ghana-paye-2025", got.Version)
	_, err = reg.SSNITTableVersion("ghana-ssnit-2025")
	require.NoError(t, err)
	_, ok := payroll.LookupComponent("FUEL")
	assert.True(t, ok)
}

func TestParseConfig_MalformedJSON(t *testing.T) {
	_, err := factory.NewConfigFactory().ParseConfig(`{"tax_tables": [`)
	assert.Error(t, err)
}

// =============================================================================
// TAX TABLE VALIDATION
// =============================================================================

func TestTaxTableFromJSON_Validation(t *testing.T) {
	valid := factory.TaxTableJSON{
		Version:       "t-1",
		EffectiveFrom: "2025-01-01",
		Bands: []factory.BandJSON{
			{Width: "490", Rate: "0"},
			{Rate: "0.35"},
		},
	}

	t.Run("valid", func(t *testing.T) {
		_, err := factory.TaxTableFromJSON(valid)
		assert.NoError(t, err)
	})

	t.Run("missing version", func(t *testing.T) {
		tj := valid
		tj.Version = ""
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("bad effective date", func(t *testing.T) {
		tj := valid
		tj.EffectiveFrom = "January 2025"
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("no bands", func(t *testing.T) {
		tj := valid
		tj.Bands = nil
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("inner band missing width", func(t *testing.T) {
		tj := valid
		tj.Bands = []factory.BandJSON{{Rate: "0"}, {Rate: "0.35"}}
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("last band must be open", func(t *testing.T) {
		tj := valid
		tj.Bands = []factory.BandJSON{{Width: "490", Rate: "0"}, {Width: "110", Rate: "0.05"}}
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("width must be positive", func(t *testing.T) {
		tj := valid
		tj.Bands = []factory.BandJSON{{Width: "-490", Rate: "0"}, {Rate: "0.35"}}
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("rate out of range", func(t *testing.T) {
		tj := valid
		tj.Bands = []factory.BandJSON{{Width: "490", Rate: "1.5"}, {Rate: "0.35"}}
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})

	t.Run("bad carve-out rate", func(t *testing.T) {
		tj := valid
		tj.BonusRate = "five percent"
		_, err := factory.TaxTableFromJSON(tj)
		assert.Error(t, err)
	})
}

// =============================================================================
// SSNIT VALIDATION
// =============================================================================

func TestSSNITFromJSON_Validation(t *testing.T) {
	valid := factory.SSNITJSON{
		Version:             "s-1",
		EffectiveFrom:       "2025-01-01",
		EmployeeRate:        "0.055",
		EmployerRate:        "0.13",
		Tier1Rate:           "0.135",
		Tier2Rate:           "0.05",
		MaxInsurableMonthly: "42000",
	}

	t.Run("valid", func(t *testing.T) {
		_, err := factory.SSNITFromJSON(valid)
		assert.NoError(t, err)
	})

	t.Run("tier split must cover the cost split", func(t *testing.T) {
		sj := valid
		sj.Tier2Rate = "0.06" // 0.135+0.06 != 0.055+0.13
		_, err := factory.SSNITFromJSON(sj)
		assert.Error(t, err)
	})

	t.Run("bad rate", func(t *testing.T) {
		sj := valid
		sj.EmployeeRate = "5.5%"
		_, err := factory.SSNITFromJSON(sj)
		assert.Error(t, err)
	})

	t.Run("max insurable must be positive", func(t *testing.T) {
		sj := valid
		sj.MaxInsurableMonthly = "0"
		_, err := factory.SSNITFromJSON(sj)
		assert.Error(t, err)
	})
}

// =============================================================================
// COMPONENT VALIDATION
// =============================================================================

func TestComponentFromJSON_Validation(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		_, err := factory.ComponentFromJSON(factory.ComponentJSON{Code: "X", Kind: "bonus_pool"})
		assert.Error(t, err)
	})

	t.Run("unknown special", func(t *testing.T) {
		_, err := factory.ComponentFromJSON(factory.ComponentJSON{Code: "X", Kind: "earning", Special: "thirteenth"})
		assert.Error(t, err)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := factory.ComponentFromJSON(factory.ComponentJSON{Kind: "earning"})
		assert.Error(t, err)
	})

	t.Run("unknown method falls back to fixed", func(t *testing.T) {
		c, err := factory.ComponentFromJSON(factory.ComponentJSON{Code: "X", Kind: "deduction", Method: "lookup_table"})
		require.NoError(t, err)
		assert.Equal(t, payroll.CalcFixed, c.Method)
	})
}

// =============================================================================
// ROUND-TRIP AND DEFAULTS
// =============================================================================

func TestTaxTableJSON_RoundTrip(t *testing.T) {
	// GIVEN: The shipped 2024 PAYE table
	// WHEN: Exporting to JSON and converting back
	// THEN: The same bands and rates come out

	orig := statutory.GhanaPAYE2024()
	back, err := factory.TaxTableFromJSON(factory.TaxTableToJSON(orig))
	require.NoError(t, err)

	assert.Equal(t, orig.Version, back.Version)
	assert.True(t, orig.EffectiveFrom.Equal(back.EffectiveFrom))
	require.Len(t, back.Bands, len(orig.Bands))
	for i := range orig.Bands {
		assert.True(t, orig.Bands[i].Rate.Equal(back.Bands[i].Rate), "band %d rate", i)
		if orig.Bands[i].Width == nil {
			assert.Nil(t, back.Bands[i].Width, "band %d open", i)
		} else {
			require.NotNil(t, back.Bands[i].Width)
			assert.True(t, orig.Bands[i].Width.Equal(*back.Bands[i].Width), "band %d width", i)
		}
	}
}

func TestDefault_RegistersShippedTablesAndCatalog(t *testing.T) {
	cfg := factory.Default()
	reg := statutory.NewRegistry()
	cfg.Apply(reg)

	for _, v := range []string{"ghana-paye-2023", "ghana-paye-2024"} {
		_, err := reg.TaxTableVersion(v)
		assert.NoError(t, err, v)
	}
	for _, v := range []string{"ghana-ssnit-2023", "ghana-ssnit-2024"} {
		_, err := reg.SSNITTableVersion(v)
		assert.NoError(t, err, v)
	}

	for _, code := range []payroll.ComponentCode{"HOUSING", "TRANSPORT", "BONUS", "OVERTIME", "WELFARE", "UNION"} {
		_, ok := payroll.LookupComponent(code)
		assert.True(t, ok, string(code))
	}
}
