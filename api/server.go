/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/employees/*    Employee master data, salaries, absences, views
  /api/periods/*      Period lifecycle and run creation
  /api/runs/*         Run lifecycle and payslip items
  /api/backpay/*      Retroactive recomputation requests
  /api/loans/*        Staff loans and salary advances
  /api/components     Pay component catalog
  /api/statutory/*    PAYE and SSNIT table versions
  /health             Liveness probe
  /metrics            Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public;
  deploy behind the ministry gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Post("/{id}/salaries", h.AddSalary)
			r.Get("/{id}/salaries", h.ListSalaries)
			r.Post("/{id}/events", h.AddEvent)
			r.Get("/{id}/events", h.ListEvents)
			r.Post("/{id}/absences", h.AddAbsence)
			r.Post("/{id}/assignments", h.AddAssignment)
			r.Get("/{id}/assignments", h.ListAssignments)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/ytd", h.GetYTD)
			r.Get("/{id}/loans", h.EmployeeLoans)
		})

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.OpenPeriod)
			r.Get("/{id}", h.GetPeriod)
			r.Post("/{id}/close", h.ClosePeriod)
			r.Post("/{id}/runs", h.CreateRun)
		})

		// Run routes
		r.Route("/runs", func(r chi.Router) {
			r.Get("/{id}", h.GetRun)
			r.Post("/{id}/compute", h.ComputeRun)
			r.Post("/{id}/approve", h.ApproveRun)
			r.Post("/{id}/pay", h.MarkRunPaid)
			r.Post("/{id}/cancel", h.CancelRun)
			r.Get("/{id}/items", h.RunItems)
			r.Get("/{id}/items/{employeeID}", h.RunItemForEmployee)
		})

		// Backpay routes
		r.Route("/backpay", func(r chi.Router) {
			r.Get("/", h.ListBackpay)
			r.Post("/", h.CreateBackpay)
			r.Post("/preview", h.PreviewBackpay)
			r.Get("/{id}", h.GetBackpay)
			r.Post("/{id}/compute", h.ComputeBackpay)
			r.Post("/{id}/approve", h.ApproveBackpay)
			r.Post("/{id}/cancel", h.CancelBackpay)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Post("/", h.DisburseLoan)
			r.Get("/{id}", h.GetLoan)
			r.Post("/{id}/settle", h.SettleLoan)
			r.Post("/{id}/cancel", h.CancelLoan)
		})

		// Config routes
		r.Route("/components", func(r chi.Router) {
			r.Get("/", h.ListComponentDefs)
			r.Post("/", h.CreateComponentDef)
		})
		r.Route("/statutory", func(r chi.Router) {
			r.Get("/tables", h.ListStatutoryTables)
			r.Post("/tables", h.CreateStatutoryTables)
		})
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
