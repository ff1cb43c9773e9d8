package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewTxMemory()
	registry := statutory.GhanaRegistry()
	factory.Default().Apply(registry)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(st, registry)))
	t.Cleanup(srv.Close)
	return srv
}

// do sends a JSON request and decodes the response into out (when out is
// non-nil). Returns the status code.
func do(t *testing.T, srv *httptest.Server, method, path string, body, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createEmployee(t *testing.T, srv *httptest.Server, id string, basic string) {
	t.Helper()
	code := do(t, srv, http.MethodPost, "/api/employees", api.CreateEmployeeRequest{
		ID: id, Name: "Staff " + id, Grade: "L4", Department: "Finance",
		HireDate: "2023-06-01", MonthlyBasic: basic, GradeStep: 2,
	}, nil)
	require.Equal(t, http.StatusCreated, code)
}

func openPeriod(t *testing.T, srv *httptest.Server, year, month int) api.PeriodDTO {
	t.Helper()
	var p api.PeriodDTO
	code := do(t, srv, http.MethodPost, "/api/periods", api.OpenPeriodRequest{
		Year: year, Month: month, ActorID: "hr-admin",
	}, &p)
	require.Equal(t, http.StatusCreated, code)
	return p
}

func computedRun(t *testing.T, srv *httptest.Server, periodID string) api.RunDTO {
	t.Helper()
	var run api.RunDTO
	code := do(t, srv, http.MethodPost, "/api/periods/"+periodID+"/runs",
		api.CreateRunRequest{ActorID: "payroll-officer"}, &run)
	require.Equal(t, http.StatusCreated, code)

	code = do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/compute", nil, &run)
	require.Equal(t, http.StatusOK, code)
	return run
}

// payMonth runs one period end to end so backpay has history to correct.
func payMonth(t *testing.T, srv *httptest.Server, year, month int) {
	t.Helper()
	p := openPeriod(t, srv, year, month)
	run := computedRun(t, srv, p.ID)

	var out api.RunDTO
	code := do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/approve",
		api.ApproveRunRequest{ApproverID: "cfo"}, &out)
	require.Equal(t, http.StatusOK, code)
	code = do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/pay",
		api.ActorRequest{ActorID: "treasury"}, &out)
	require.Equal(t, http.StatusOK, code)
	code = do(t, srv, http.MethodPost, "/api/periods/"+p.ID+"/close",
		api.ClosePeriodRequest{ActorID: "hr-admin"}, nil)
	require.Equal(t, http.StatusOK, code)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHealth(t *testing.T) {
	srv := newServer(t)
	code := do(t, srv, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestCreateEmployee_SeedsFirstSalary(t *testing.T) {
	srv := newServer(t)

	var resp api.CreateEmployeeResponse
	code := do(t, srv, http.MethodPost, "/api/employees", api.CreateEmployeeRequest{
		ID: "E-001", Name: "Akosua Mensah", Grade: "L4",
		HireDate: "2023-06-01", MonthlyBasic: "5000.00", GradeStep: 2,
	}, &resp)
	require.Equal(t, http.StatusCreated, code)

	assert.Equal(t, "E-001", resp.Employee.ID)
	assert.Equal(t, "2023-06-01", resp.Employee.HireDate)
	require.NotNil(t, resp.Salary)
	assert.Equal(t, "5000.00", resp.Salary.MonthlyBasic)
	assert.Equal(t, "2023-06-01", resp.Salary.EffectiveFrom)

	// The hire lands in the event history too.
	var events []api.EmploymentEventDTO
	code = do(t, srv, http.MethodGet, "/api/employees/E-001/events", nil, &events)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, events, 1)
	assert.Equal(t, "hired", events[0].Type)
}

func TestCreateEmployee_Validation(t *testing.T) {
	srv := newServer(t)

	code := do(t, srv, http.MethodPost, "/api/employees",
		api.CreateEmployeeRequest{Name: "No ID", HireDate: "2023-06-01"}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "missing id")

	code = do(t, srv, http.MethodPost, "/api/employees",
		api.CreateEmployeeRequest{ID: "E-002", Name: "Bad Date", HireDate: "June 2023"}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "malformed hire date")
}

func TestGetEmployee_NotFound(t *testing.T) {
	srv := newServer(t)
	code := do(t, srv, http.MethodGet, "/api/employees/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// PERIODS AND RUNS
// =============================================================================

func TestRunLifecycleOverHTTP(t *testing.T) {
	// GIVEN: One employee on GHS 5,000/month
	// WHEN: Driving March 2024 through the API: open, create, compute,
	//       approve, pay
	// THEN: Statuses and payslip numbers come back on the wire

	srv := newServer(t)
	createEmployee(t, srv, "E-001", "5000.00")

	p := openPeriod(t, srv, 2024, 3)
	assert.Equal(t, "2024-03", p.ID)
	assert.Equal(t, "open", p.Status)

	run := computedRun(t, srv, p.ID)
	assert.Equal(t, "computed", run.Status)
	assert.Equal(t, 1, run.ComputedCount)
	assert.Equal(t, "3945.25", run.Totals.Net)

	var items []api.ItemDTO
	code := do(t, srv, http.MethodGet, "/api/runs/"+run.ID+"/items", nil, &items)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, items, 1)
	assert.Equal(t, "5000.00", items[0].BasicPay)
	assert.Equal(t, "779.75", items[0].PAYE)
	assert.Equal(t, "275.00", items[0].SSNITEmployee)
	assert.Equal(t, "3945.25", items[0].NetPay)
	assert.Equal(t, "ghana-paye-2024", items[0].TaxTableVersion)

	var item api.ItemDTO
	code = do(t, srv, http.MethodGet, "/api/runs/"+run.ID+"/items/E-001", nil, &item)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "E-001", item.EmployeeID)

	var out api.RunDTO
	code = do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/approve",
		api.ApproveRunRequest{ApproverID: "cfo"}, &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "approved", out.Status)
	require.NotNil(t, out.ApprovedBy)
	assert.Equal(t, "cfo", *out.ApprovedBy)

	code = do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/pay",
		api.ActorRequest{ActorID: "treasury"}, &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "paid", out.Status)

	// Approving again is an illegal transition.
	code = do(t, srv, http.MethodPost, "/api/runs/"+run.ID+"/approve",
		api.ApproveRunRequest{ApproverID: "cfo"}, nil)
	assert.Equal(t, http.StatusConflict, code)

	// The ledger shows the posted month.
	var txs []api.TransactionDTO
	code = do(t, srv, http.MethodGet, "/api/employees/E-001/transactions?period_id="+p.ID, nil, &txs)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, txs, 5)

	var ytd api.YTDDTO
	code = do(t, srv, http.MethodGet, "/api/employees/E-001/ytd?year=2024", nil, &ytd)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "5000.00", ytd.Gross)
	assert.Equal(t, 1, ytd.Periods)
}

func TestOpenPeriod_Validation(t *testing.T) {
	srv := newServer(t)

	code := do(t, srv, http.MethodPost, "/api/periods",
		api.OpenPeriodRequest{Year: 2024, Month: 13, ActorID: "hr-admin"}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "month out of range")

	openPeriod(t, srv, 2024, 3)
	code = do(t, srv, http.MethodPost, "/api/periods",
		api.OpenPeriodRequest{Year: 2024, Month: 3, ActorID: "hr-admin"}, nil)
	assert.Equal(t, http.StatusConflict, code, "one period per month")
}

func TestComputeRun_UnknownRun(t *testing.T) {
	srv := newServer(t)
	code := do(t, srv, http.MethodPost, "/api/runs/nope/compute", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// =============================================================================
// BACKPAY
// =============================================================================

func TestBackpayOverHTTP(t *testing.T) {
	// GIVEN: January 2024 paid and closed at GHS 2,000
	// WHEN: Adding a salary version of 2,800 backdated to 1 January
	// THEN: The API raises a backpay request; compute and approve flow
	//       through, and the lines carry the deltas

	srv := newServer(t)
	createEmployee(t, srv, "E-001", "2000.00")
	payMonth(t, srv, 2024, 1)

	var addResp api.AddSalaryResponse
	code := do(t, srv, http.MethodPost, "/api/employees/E-001/salaries", api.AddSalaryRequest{
		MonthlyBasic: "2800.00", Grade: "L5", Step: 1,
		EffectiveFrom: "2024-01-01", Reason: "promotion",
	}, &addResp)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, addResp.BackpayRequestID, "backdated raise raises a request")

	id := addResp.BackpayRequestID
	var bp api.BackpayRequestDTO
	code = do(t, srv, http.MethodPost, "/api/backpay/"+id+"/compute", nil, &bp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "computed", bp.Status, "handler policy requires an approver")
	assert.Equal(t, "800.00", bp.Totals.Gross)
	assert.Equal(t, "623.70", bp.Totals.Net)

	code = do(t, srv, http.MethodPost, "/api/backpay/"+id+"/approve",
		api.ApproveRunRequest{ApproverID: "cfo"}, &bp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "approved", bp.Status)

	code = do(t, srv, http.MethodGet, "/api/backpay/"+id, nil, &bp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, bp.Lines, 1)
	assert.Equal(t, "2024-01", bp.Lines[0].PeriodID)
	assert.Equal(t, "2000.00", bp.Lines[0].OldBasic)
	assert.Equal(t, "2800.00", bp.Lines[0].NewBasic)
	assert.Equal(t, "132.30", bp.Lines[0].PAYEDelta)
}

func TestBackpayPreview(t *testing.T) {
	srv := newServer(t)
	createEmployee(t, srv, "E-001", "2000.00")
	payMonth(t, srv, 2024, 1)

	var resp api.BackpayPreviewResponse
	code := do(t, srv, http.MethodPost, "/api/backpay/preview", api.BackpayPreviewRequest{
		EmployeeID: "E-001", ProposedBasic: "2800.00", EffectiveFrom: "2024-01-01",
	}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "623.70", resp.Totals.Net)

	// Nothing was persisted.
	var list []api.BackpayRequestDTO
	code = do(t, srv, http.MethodGet, "/api/backpay?employee_id=E-001", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, list)
}

// =============================================================================
// LOANS
// =============================================================================

func TestLoanOverHTTP(t *testing.T) {
	srv := newServer(t)
	createEmployee(t, srv, "E-001", "5000.00")

	var loan api.LoanDTO
	code := do(t, srv, http.MethodPost, "/api/loans", api.DisburseLoanRequest{
		EmployeeID: "E-001", Kind: "salary_advance", Principal: "1200.00",
		TermMonths: 3, StartPeriod: "2024-03", ActorID: "treasury",
	}, &loan)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "active", loan.Status)
	require.Len(t, loan.Installments, 3)
	assert.Equal(t, "400.00", loan.Installments[0].Total)

	code = do(t, srv, http.MethodGet, "/api/loans/"+loan.ID, nil, &loan)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, loan.Outstanding)
	assert.Equal(t, "1200.00", *loan.Outstanding)

	var list []api.LoanDTO
	code = do(t, srv, http.MethodGet, "/api/employees/E-001/loans", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list, 1)

	code = do(t, srv, http.MethodPost, "/api/loans/"+loan.ID+"/cancel",
		api.CancelRequest{ActorID: "treasury", Reason: "entered in error"}, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestDisburseLoan_Validation(t *testing.T) {
	srv := newServer(t)
	createEmployee(t, srv, "E-001", "5000.00")

	code := do(t, srv, http.MethodPost, "/api/loans", api.DisburseLoanRequest{
		EmployeeID: "E-001", Kind: "mortgage", Principal: "1200.00",
		TermMonths: 3, StartPeriod: "2024-03", ActorID: "treasury",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code, "unknown kind")

	code = do(t, srv, http.MethodPost, "/api/loans", api.DisburseLoanRequest{
		EmployeeID: "ghost", Kind: "salary_advance", Principal: "1200.00",
		TermMonths: 3, StartPeriod: "2024-03", ActorID: "treasury",
	}, nil)
	assert.Equal(t, http.StatusNotFound, code, "unknown employee")
}

// =============================================================================
// CONFIG ENDPOINTS
// =============================================================================

func TestStatutoryTables(t *testing.T) {
	srv := newServer(t)

	var resp api.StatutoryTablesResponse
	code := do(t, srv, http.MethodGet, "/api/statutory/tables", nil, &resp)
	require.Equal(t, http.StatusOK, code)

	versions := make(map[string]bool)
	for _, tj := range resp.TaxTables {
		versions[tj.Version] = true
	}
	assert.True(t, versions["ghana-paye-2023"])
	assert.True(t, versions["ghana-paye-2024"])
	assert.NotEmpty(t, resp.SSNIT)

	// Loading a new year's tables through the API.
	body := map[string]any{
		"tax_tables": []map[string]any{{
			"version":        "ghana-paye-2026",
			"effective_from": "2026-01-01",
			"bands": []map[string]string{
				{"width": "490.00", "rate": "0"},
				{"rate": "0.35"},
			},
		}},
	}
	code = do(t, srv, http.MethodPost, "/api/statutory/tables", body, nil)
	require.Equal(t, http.StatusCreated, code)

	code = do(t, srv, http.MethodGet, "/api/statutory/tables", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	found := false
	for _, tj := range resp.TaxTables {
		if tj.Version == "ghana-paye-2026" {
			found = true
		}
	}
	assert.True(t, found)

	// Components don't belong on this endpoint.
	code = do(t, srv, http.MethodPost, "/api/statutory/tables", map[string]any{
		"components": []map[string]any{{"code": "X", "kind": "earning"}},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestComponentDefs(t *testing.T) {
	srv := newServer(t)

	var list []factory.ComponentJSON
	code := do(t, srv, http.MethodGet, "/api/components", nil, &list)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, list, "shipped catalog")

	newComp := factory.ComponentJSON{
		Code: fmt.Sprintf("ENTERTAIN-%d", len(list)), Name: "Entertainment Allowance",
		Kind: "earning", Method: "fixed", Taxable: true, ProRata: true,
		Recurring: true, GLAccount: "510180",
	}
	code = do(t, srv, http.MethodPost, "/api/components", newComp, nil)
	require.Equal(t, http.StatusCreated, code)

	code = do(t, srv, http.MethodPost, "/api/components", newComp, nil)
	assert.Equal(t, http.StatusConflict, code, "duplicate code")
}
