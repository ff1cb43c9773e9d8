/*
registry.go - Effective-dated table selection

PURPOSE:
  Holds the registered table versions and answers two questions:
    "which table was in force on this date?"   (normal computation)
    "give me exactly this version"             (pinned recomputation)

SELECTION:
  By date: the table with the latest EffectiveFrom that is on or before
  the requested date. Nothing in force yet -> ErrStatutoryNotFound.
  By version: exact match or ErrStatutoryNotFound. A pinned version that
  has been deleted from config is a hard error, never a silent fallback,
  because recomputation under the wrong table corrupts arrears.

SEE ALSO:
  - tables.go:     Shipped Ghana tables
  - calculator.go: Resolves tables per assessment
*/
package statutory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// Registry stores tax and SSNIT tables and selects them by date or version.
type Registry struct {
	mu    sync.RWMutex
	tax   []TaxTable
	ssnit []SSNITTable
}

func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterTaxTable adds a PAYE table version. Re-registering a version
// replaces it.
func (r *Registry) RegisterTaxTable(t TaxTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tax {
		if r.tax[i].Version == t.Version {
			r.tax[i] = t
			r.sortLocked()
			return
		}
	}
	r.tax = append(r.tax, t)
	r.sortLocked()
}

// RegisterSSNITTable adds an SSNIT table version. Re-registering a
// version replaces it.
func (r *Registry) RegisterSSNITTable(t SSNITTable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ssnit {
		if r.ssnit[i].Version == t.Version {
			r.ssnit[i] = t
			r.sortLocked()
			return
		}
	}
	r.ssnit = append(r.ssnit, t)
	r.sortLocked()
}

func (r *Registry) sortLocked() {
	sort.Slice(r.tax, func(i, j int) bool {
		return r.tax[i].EffectiveFrom.Before(r.tax[j].EffectiveFrom)
	})
	sort.Slice(r.ssnit, func(i, j int) bool {
		return r.ssnit[i].EffectiveFrom.Before(r.ssnit[j].EffectiveFrom)
	})
}

// TaxTableOn returns the PAYE table in force on the given date.
func (r *Registry) TaxTableOn(date time.Time) (*TaxTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.tax) - 1; i >= 0; i-- {
		if !r.tax[i].EffectiveFrom.After(date) {
			t := r.tax[i]
			return &t, nil
		}
	}
	return nil, fmt.Errorf("no PAYE table in force on %s: %w",
		payroll.FormatDate(date), payroll.ErrStatutoryNotFound)
}

// TaxTableVersion returns the exact PAYE table version.
func (r *Registry) TaxTableVersion(version string) (*TaxTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.tax {
		if r.tax[i].Version == version {
			t := r.tax[i]
			return &t, nil
		}
	}
	return nil, fmt.Errorf("PAYE table version %q: %w", version, payroll.ErrStatutoryNotFound)
}

// SSNITTableOn returns the SSNIT table in force on the given date.
func (r *Registry) SSNITTableOn(date time.Time) (*SSNITTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.ssnit) - 1; i >= 0; i-- {
		if !r.ssnit[i].EffectiveFrom.After(date) {
			t := r.ssnit[i]
			return &t, nil
		}
	}
	return nil, fmt.Errorf("no SSNIT table in force on %s: %w",
		payroll.FormatDate(date), payroll.ErrStatutoryNotFound)
}

// SSNITTableVersion returns the exact SSNIT table version.
func (r *Registry) SSNITTableVersion(version string) (*SSNITTable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.ssnit {
		if r.ssnit[i].Version == version {
			t := r.ssnit[i]
			return &t, nil
		}
	}
	return nil, fmt.Errorf("SSNIT table version %q: %w", version, payroll.ErrStatutoryNotFound)
}

// TaxVersions lists registered PAYE versions in effective-date order.
func (r *Registry) TaxVersions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tax))
	for _, t := range r.tax {
		out = append(out, t.Version)
	}
	return out
}

// SSNITVersions lists registered SSNIT versions in effective-date order.
func (r *Registry) SSNITVersions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ssnit))
	for _, t := range r.ssnit {
		out = append(out, t.Version)
	}
	return out
}
