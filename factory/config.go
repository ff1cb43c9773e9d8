/*
Package factory provides JSON to Go statutory/component conversion.

PURPOSE:
  Converts JSON table and component definitions into statutory.TaxTable,
  statutory.SSNITTable and payroll.PayComponent values. This enables rule
  configuration without code changes - a rate amendment ships as a JSON
  file, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can load new statutory tables
  - Easy integration with an admin UI
  - Version control for rule definitions
  - Database storage of table configs

JSON SCHEMA:
  {
    "tax_tables": [{
      "version": "ghana-paye-2024",
      "effective_from": "2024-01-01",
      "bands": [
        {"width": "490.00", "rate": "0"},
        {"width": "110.00", "rate": "0.05"},
        {"rate": "0.35"}
      ]
    }],
    "ssnit": [{
      "version": "ghana-ssnit-2024",
      "effective_from": "2024-01-01",
      "employee_rate": "0.055",
      "employer_rate": "0.13",
      "tier1_rate": "0.135",
      "tier2_rate": "0.05",
      "max_insurable_monthly": "42000.00"
    }],
    "components": [{
      "code": "HOUSING",
      "name": "Housing Allowance",
      "kind": "earning",
      "method": "percent_of_basic",
      "taxable": true,
      "pro_rata": true,
      "recurring": true,
      "gl_account": "510110"
    }]
  }

KEY FEATURES:
  - Validates band order: every band but the last carries a width,
    the last is open-ended
  - Validates rates are decimals in [0, 1]
  - Sets the shipped bonus/overtime carve-out rates when omitted
  - Default() returns the shipped Ghana tables plus a starter catalog

USAGE:
  factory := NewConfigFactory()
  cfg, err := factory.ParseConfig(jsonString)
  if err != nil { ... }
  cfg.Apply(registry)   // register tables and components

SEE ALSO:
  - statutory/tables.go: Table type definitions and shipped versions
  - payroll/component.go: The component catalog
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a rule configuration bundle.
type ConfigJSON struct {
	TaxTables  []TaxTableJSON  `json:"tax_tables,omitempty"`
	SSNIT      []SSNITJSON     `json:"ssnit,omitempty"`
	Components []ComponentJSON `json:"components,omitempty"`
}

// TaxTableJSON represents one PAYE table version.
type TaxTableJSON struct {
	Version       string     `json:"version"`
	EffectiveFrom string     `json:"effective_from"` // 2006-01-02
	Bands         []BandJSON `json:"bands"`

	// Carve-out rates; shipped Ghana defaults apply when omitted.
	BonusRate           string `json:"bonus_rate,omitempty"`
	BonusCapFraction    string `json:"bonus_cap_fraction,omitempty"`
	OvertimeRate        string `json:"overtime_rate,omitempty"`
	OvertimeExcessRate  string `json:"overtime_excess_rate,omitempty"`
	OvertimeCapFraction string `json:"overtime_cap_fraction,omitempty"`
}

// BandJSON is one graduated slice. An empty width marks the open-ended
// top band.
type BandJSON struct {
	Width string `json:"width,omitempty"`
	Rate  string `json:"rate"`
}

// SSNITJSON represents one SSNIT contribution table version.
type SSNITJSON struct {
	Version             string `json:"version"`
	EffectiveFrom       string `json:"effective_from"`
	EmployeeRate        string `json:"employee_rate"`
	EmployerRate        string `json:"employer_rate"`
	Tier1Rate           string `json:"tier1_rate"`
	Tier2Rate           string `json:"tier2_rate"`
	MaxInsurableMonthly string `json:"max_insurable_monthly"`
}

// ComponentJSON represents one pay component definition.
type ComponentJSON struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	Kind              string `json:"kind"`              // earning, deduction, employer_charge, relief
	Method            string `json:"method,omitempty"`  // fixed, percent_of_basic
	Special           string `json:"special,omitempty"` // bonus, overtime
	Taxable           bool   `json:"taxable,omitempty"`
	Pensionable       bool   `json:"pensionable,omitempty"`
	ProRata           bool   `json:"pro_rata,omitempty"`
	Recurring         bool   `json:"recurring,omitempty"`
	GLAccount         string `json:"gl_account,omitempty"`
	DeductionPriority int    `json:"deduction_priority,omitempty"`
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// Config is a parsed rule bundle ready to register.
type Config struct {
	TaxTables  []statutory.TaxTable
	SSNIT      []statutory.SSNITTable
	Components []payroll.PayComponent
}

// Apply registers the bundle: tables into the registry, components into
// the process catalog.
func (c *Config) Apply(reg *statutory.Registry) {
	for _, t := range c.TaxTables {
		reg.RegisterTaxTable(t)
	}
	for _, t := range c.SSNIT {
		reg.RegisterSSNITTable(t)
	}
	for _, comp := range c.Components {
		payroll.RegisterComponent(comp)
	}
}

// ConfigFactory converts JSON rule definitions to Go structs.
type ConfigFactory struct{}

// NewConfigFactory creates a new config factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseConfig parses a JSON string into a Config.
func (f *ConfigFactory) ParseConfig(jsonStr string) (*Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ConfigJSON to a Config, validating as it goes.
func (f *ConfigFactory) FromJSON(cj ConfigJSON) (*Config, error) {
	cfg := &Config{}

	for _, tj := range cj.TaxTables {
		t, err := TaxTableFromJSON(tj)
		if err != nil {
			return nil, err
		}
		cfg.TaxTables = append(cfg.TaxTables, t)
	}
	for _, sj := range cj.SSNIT {
		t, err := SSNITFromJSON(sj)
		if err != nil {
			return nil, err
		}
		cfg.SSNIT = append(cfg.SSNIT, t)
	}
	for _, compJSON := range cj.Components {
		comp, err := ComponentFromJSON(compJSON)
		if err != nil {
			return nil, err
		}
		cfg.Components = append(cfg.Components, comp)
	}
	return cfg, nil
}

// TaxTableFromJSON converts and validates one PAYE table.
func TaxTableFromJSON(tj TaxTableJSON) (statutory.TaxTable, error) {
	var t statutory.TaxTable
	if tj.Version == "" {
		return t, fmt.Errorf("tax table requires a version")
	}
	effectiveFrom, err := time.Parse("2006-01-02", tj.EffectiveFrom)
	if err != nil {
		return t, fmt.Errorf("tax table %s: invalid effective_from: %w", tj.Version, err)
	}
	if len(tj.Bands) == 0 {
		return t, fmt.Errorf("tax table %s: at least one band required", tj.Version)
	}

	bands := make([]statutory.TaxBand, 0, len(tj.Bands))
	for i, bj := range tj.Bands {
		rate, err := parseRate(bj.Rate, fmt.Sprintf("tax table %s band %d rate", tj.Version, i))
		if err != nil {
			return t, err
		}
		band := statutory.TaxBand{Rate: rate}
		last := i == len(tj.Bands)-1
		if bj.Width == "" {
			if !last {
				return t, fmt.Errorf("tax table %s: only the last band may omit width (band %d)", tj.Version, i)
			}
		} else {
			if last {
				return t, fmt.Errorf("tax table %s: the last band must be open-ended (no width)", tj.Version)
			}
			width, err := decimal.NewFromString(bj.Width)
			if err != nil || !width.IsPositive() {
				return t, fmt.Errorf("tax table %s band %d: width must be a positive decimal, got %q", tj.Version, i, bj.Width)
			}
			w := payroll.MustParseMoney(bj.Width, payroll.GHS)
			band.Width = &w
		}
		bands = append(bands, band)
	}

	t = statutory.TaxTable{
		Version:       tj.Version,
		EffectiveFrom: effectiveFrom,
		Bands:         bands,
	}
	if t.BonusRate, err = parseRateDefault(tj.BonusRate, "0.05", "bonus_rate"); err != nil {
		return t, err
	}
	if t.BonusCapFraction, err = parseRateDefault(tj.BonusCapFraction, "0.15", "bonus_cap_fraction"); err != nil {
		return t, err
	}
	if t.OvertimeRate, err = parseRateDefault(tj.OvertimeRate, "0.05", "overtime_rate"); err != nil {
		return t, err
	}
	if t.OvertimeExcessRate, err = parseRateDefault(tj.OvertimeExcessRate, "0.10", "overtime_excess_rate"); err != nil {
		return t, err
	}
	if t.OvertimeCapFraction, err = parseRateDefault(tj.OvertimeCapFraction, "0.50", "overtime_cap_fraction"); err != nil {
		return t, err
	}
	return t, nil
}

// SSNITFromJSON converts and validates one SSNIT table.
func SSNITFromJSON(sj SSNITJSON) (statutory.SSNITTable, error) {
	var t statutory.SSNITTable
	if sj.Version == "" {
		return t, fmt.Errorf("ssnit table requires a version")
	}
	effectiveFrom, err := time.Parse("2006-01-02", sj.EffectiveFrom)
	if err != nil {
		return t, fmt.Errorf("ssnit table %s: invalid effective_from: %w", sj.Version, err)
	}

	t = statutory.SSNITTable{Version: sj.Version, EffectiveFrom: effectiveFrom}
	if t.EmployeeRate, err = parseRate(sj.EmployeeRate, "employee_rate"); err != nil {
		return t, err
	}
	if t.EmployerRate, err = parseRate(sj.EmployerRate, "employer_rate"); err != nil {
		return t, err
	}
	if t.Tier1Rate, err = parseRate(sj.Tier1Rate, "tier1_rate"); err != nil {
		return t, err
	}
	if t.Tier2Rate, err = parseRate(sj.Tier2Rate, "tier2_rate"); err != nil {
		return t, err
	}

	// The cost split and the remittance split cover the same money.
	if !t.EmployeeRate.Add(t.EmployerRate).Equal(t.Tier1Rate.Add(t.Tier2Rate)) {
		return t, fmt.Errorf("ssnit table %s: employee+employer rates must equal tier1+tier2", sj.Version)
	}

	max, err := decimal.NewFromString(sj.MaxInsurableMonthly)
	if err != nil || !max.IsPositive() {
		return t, fmt.Errorf("ssnit table %s: max_insurable_monthly must be a positive decimal, got %q", sj.Version, sj.MaxInsurableMonthly)
	}
	t.MaxInsurable = payroll.MustParseMoney(sj.MaxInsurableMonthly, payroll.GHS)
	return t, nil
}

// ComponentFromJSON converts and validates one pay component.
func ComponentFromJSON(cj ComponentJSON) (payroll.PayComponent, error) {
	var c payroll.PayComponent
	if cj.Code == "" {
		return c, fmt.Errorf("component requires a code")
	}

	kind, err := parseKind(cj.Kind)
	if err != nil {
		return c, fmt.Errorf("component %s: %w", cj.Code, err)
	}
	special, err := parseSpecial(cj.Special)
	if err != nil {
		return c, fmt.Errorf("component %s: %w", cj.Code, err)
	}

	return payroll.PayComponent{
		Code:              payroll.ComponentCode(cj.Code),
		Name:              cj.Name,
		Kind:              kind,
		Method:            parseMethod(cj.Method),
		Special:           special,
		Taxable:           cj.Taxable,
		Pensionable:       cj.Pensionable,
		ProRata:           cj.ProRata,
		Recurring:         cj.Recurring,
		GLAccount:         cj.GLAccount,
		DeductionPriority: cj.DeductionPriority,
	}, nil
}

// =============================================================================
// JSON EXPORT
// =============================================================================

// TaxTableToJSON converts a table back to its JSON shape, for the API's
// table listing and for persistence.
func TaxTableToJSON(t statutory.TaxTable) TaxTableJSON {
	tj := TaxTableJSON{
		Version:             t.Version,
		EffectiveFrom:       t.EffectiveFrom.Format("2006-01-02"),
		BonusRate:           t.BonusRate.String(),
		BonusCapFraction:    t.BonusCapFraction.String(),
		OvertimeRate:        t.OvertimeRate.String(),
		OvertimeExcessRate:  t.OvertimeExcessRate.String(),
		OvertimeCapFraction: t.OvertimeCapFraction.String(),
	}
	for _, b := range t.Bands {
		bj := BandJSON{Rate: b.Rate.String()}
		if b.Width != nil {
			bj.Width = b.Width.Value.String()
		}
		tj.Bands = append(tj.Bands, bj)
	}
	return tj
}

// SSNITToJSON converts an SSNIT table back to its JSON shape.
func SSNITToJSON(t statutory.SSNITTable) SSNITJSON {
	return SSNITJSON{
		Version:             t.Version,
		EffectiveFrom:       t.EffectiveFrom.Format("2006-01-02"),
		EmployeeRate:        t.EmployeeRate.String(),
		EmployerRate:        t.EmployerRate.String(),
		Tier1Rate:           t.Tier1Rate.String(),
		Tier2Rate:           t.Tier2Rate.String(),
		MaxInsurableMonthly: t.MaxInsurable.Value.String(),
	}
}

// ComponentToJSON converts a component back to its JSON shape.
func ComponentToJSON(c payroll.PayComponent) ComponentJSON {
	return ComponentJSON{
		Code:              string(c.Code),
		Name:              c.Name,
		Kind:              string(c.Kind),
		Method:            string(c.Method),
		Special:           string(c.Special),
		Taxable:           c.Taxable,
		Pensionable:       c.Pensionable,
		ProRata:           c.ProRata,
		Recurring:         c.Recurring,
		GLAccount:         c.GLAccount,
		DeductionPriority: c.DeductionPriority,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRate(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q", field, s)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("%s: rate %s out of [0, 1]", field, s)
	}
	return d, nil
}

func parseRateDefault(s, def, field string) (decimal.Decimal, error) {
	if s == "" {
		s = def
	}
	return parseRate(s, field)
}

func parseKind(s string) (payroll.ComponentKind, error) {
	switch s {
	case "earning":
		return payroll.KindEarning, nil
	case "deduction":
		return payroll.KindDeduction, nil
	case "employer_charge":
		return payroll.KindEmployerCharge, nil
	case "relief":
		return payroll.KindRelief, nil
	default:
		return "", fmt.Errorf("unknown component kind %q", s)
	}
}

func parseMethod(s string) payroll.CalcMethod {
	switch s {
	case "percent_of_basic":
		return payroll.CalcPercentOfBasic
	default:
		return payroll.CalcFixed
	}
}

func parseSpecial(s string) (payroll.ComponentSpecial, error) {
	switch s {
	case "":
		return payroll.SpecialNone, nil
	case "bonus":
		return payroll.SpecialBonus, nil
	case "overtime":
		return payroll.SpecialOvertime, nil
	case "arrears":
		return payroll.SpecialArrears, nil
	default:
		return "", fmt.Errorf("unknown component special %q", s)
	}
}

// =============================================================================
// DEFAULT BUNDLE
// =============================================================================

// Default returns the shipped Ghana tables plus a starter component
// catalog covering the common allowances and voluntary deductions.
func Default() *Config {
	return &Config{
		TaxTables: []statutory.TaxTable{
			statutory.GhanaPAYE2023(),
			statutory.GhanaPAYE2024(),
		},
		SSNIT: []statutory.SSNITTable{
			statutory.GhanaSSNIT2023(),
			statutory.GhanaSSNIT2024(),
		},
		Components: []payroll.PayComponent{
			{Code: "HOUSING", Name: "Housing Allowance", Kind: payroll.KindEarning,
				Method: payroll.CalcPercentOfBasic, Taxable: true, ProRata: true, Recurring: true,
				GLAccount: "510110"},
			{Code: "TRANSPORT", Name: "Transport Allowance", Kind: payroll.KindEarning,
				Method: payroll.CalcFixed, Taxable: true, ProRata: true, Recurring: true,
				GLAccount: "510120"},
			{Code: "RISK", Name: "Risk Allowance", Kind: payroll.KindEarning,
				Method: payroll.CalcFixed, Taxable: true, ProRata: true, Recurring: true,
				GLAccount: "510130"},
			{Code: "BONUS", Name: "Annual Bonus", Kind: payroll.KindEarning,
				Method: payroll.CalcFixed, Special: payroll.SpecialBonus, Taxable: true,
				GLAccount: "510140"},
			{Code: "OVERTIME", Name: "Overtime Pay", Kind: payroll.KindEarning,
				Method: payroll.CalcFixed, Special: payroll.SpecialOvertime, Taxable: true,
				GLAccount: "510160"},
			{Code: "WELFARE", Name: "Staff Welfare Dues", Kind: payroll.KindDeduction,
				Method: payroll.CalcFixed, Recurring: true, GLAccount: "230100",
				DeductionPriority: 40},
			{Code: "UNION", Name: "Union Dues", Kind: payroll.KindDeduction,
				Method: payroll.CalcFixed, Recurring: true, GLAccount: "230200",
				DeductionPriority: 50},
		},
	}
}
