/*
salary.go - Effective-dated salary versions

PURPOSE:
  An employee's pay history is a chain of SalaryVersions, each effective
  from a date until superseded. The chain drives two things:
    1. Proration: a period is split into segments, one per version in
       force, and each segment pays its version's basic scaled by days.
    2. Backpay: a version added with a backdated effective date changes
       what closed periods SHOULD have paid; the backpay engine recomputes
       them against this chain.

VERSIONING RULES:
  - Versions per employee are dense: 1, 2, 3, ...
  - At most one open version (EffectiveTo nil)
  - Adding a version closes its predecessor at effective-1 day
  - Overlaps are rejected, never silently resolved

SEE ALSO:
  - service.go: SegmentsIn feeding the computation pipeline
  - backpay/: retroactive recomputation against this history
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SALARY VERSION - One link in the pay history chain
// =============================================================================

type SalaryVersion struct {
	ID         string
	EmployeeID EmployeeID
	Version    int

	Grade string
	Step  int

	MonthlyBasic Money

	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = current

	Reason    string
	CreatedAt time.Time
}

// InForceOn reports whether this version governs the given date.
func (v SalaryVersion) InForceOn(date time.Time) bool {
	d := DateOnly(date)
	if d.Before(DateOnly(v.EffectiveFrom)) {
		return false
	}
	if v.EffectiveTo != nil && d.After(DateOnly(*v.EffectiveTo)) {
		return false
	}
	return true
}

// =============================================================================
// SALARY HISTORY - The full chain for one employee
// =============================================================================

type SalaryHistory []SalaryVersion

// Sorted returns the history ordered by effective date ascending.
func (h SalaryHistory) Sorted() SalaryHistory {
	out := make(SalaryHistory, len(h))
	copy(out, h)
	sort.Slice(out, func(i, j int) bool {
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return out
}

// VersionAt returns the version in force on a date, or nil.
func (h SalaryHistory) VersionAt(date time.Time) *SalaryVersion {
	for i := range h {
		if h[i].InForceOn(date) {
			v := h[i]
			return &v
		}
	}
	return nil
}

// Current returns the open version, or nil.
func (h SalaryHistory) Current() *SalaryVersion {
	for i := range h {
		if h[i].EffectiveTo == nil {
			v := h[i]
			return &v
		}
	}
	return nil
}

// NextVersionNumber returns the version number a new entry should take.
func (h SalaryHistory) NextVersionNumber() int {
	max := 0
	for _, v := range h {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1
}

// =============================================================================
// SEGMENTS - Period slices, one per version in force
// =============================================================================

// SalarySegment is a contiguous day range within one period governed by a
// single salary version.
type SalarySegment struct {
	From    time.Time
	To      time.Time
	Version SalaryVersion
}

// Days returns the segment's inclusive day count.
func (s SalarySegment) Days() int { return DaysBetween(s.From, s.To) }

// SegmentsIn splits a period into salary segments. Days before the first
// version's effective date are uncovered and produce no segment (a new
// hire's first period starts at their first version). Segments are
// returned in chronological order and never overlap.
func (h SalaryHistory) SegmentsIn(p PayrollPeriod) []SalarySegment {
	var segments []SalarySegment
	for _, v := range h.Sorted() {
		to := p.End
		if v.EffectiveTo != nil && v.EffectiveTo.Before(to) {
			to = *v.EffectiveTo
		}
		from, clampedTo, ok := ClampRange(v.EffectiveFrom, to, p.Start, p.End)
		if !ok {
			continue
		}
		segments = append(segments, SalarySegment{From: from, To: clampedTo, Version: v})
	}
	return segments
}

// =============================================================================
// SALARY SERVICE - Maintains the chain invariants
// =============================================================================

// SalaryStore is the slice of persistence the salary service needs.
type SalaryStore interface {
	SalaryHistory(ctx context.Context, employeeID EmployeeID) (SalaryHistory, error)
	SaveSalaryVersion(ctx context.Context, v SalaryVersion) error
	UpdateSalaryVersion(ctx context.Context, v SalaryVersion) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
}

type SalaryService struct {
	Store SalaryStore
}

// AddVersion appends a new salary version: validates against hire date and
// existing chain, closes the open predecessor at effective-1 day, and
// persists both changes. Returns the stored version.
//
// The caller decides what a backdated effective date means; the backpay
// service watches for versions effective inside closed periods.
func (s *SalaryService) AddVersion(ctx context.Context, employeeID EmployeeID, basic Money, grade string, step int, effectiveFrom time.Time, reason string) (*SalaryVersion, error) {
	emp, err := s.Store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, ErrEmployeeNotFound
	}
	eff := DateOnly(effectiveFrom)
	if eff.Before(DateOnly(emp.HireDate)) {
		return nil, fmt.Errorf("salary effective %s precedes hire date: %w", FormatDate(eff), ErrSalaryBeforeHire)
	}

	history, err := s.Store.SalaryHistory(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	// A new version may only start strictly after every closed version's
	// window and after the open version's effective date.
	for _, v := range history {
		if v.EffectiveTo != nil && !eff.After(DateOnly(*v.EffectiveTo)) {
			return nil, &SalaryOverlapError{EmployeeID: employeeID, Existing: v.Version}
		}
		if v.EffectiveTo == nil && !eff.After(DateOnly(v.EffectiveFrom)) {
			return nil, &SalaryOverlapError{EmployeeID: employeeID, Existing: v.Version}
		}
	}

	if open := history.Current(); open != nil {
		closeAt := eff.AddDate(0, 0, -1)
		open.EffectiveTo = &closeAt
		if err := s.Store.UpdateSalaryVersion(ctx, *open); err != nil {
			return nil, err
		}
	}

	version := SalaryVersion{
		ID:            uuid.NewString(),
		EmployeeID:    employeeID,
		Version:       history.NextVersionNumber(),
		Grade:         grade,
		Step:          step,
		MonthlyBasic:  basic.RoundPesewa(),
		EffectiveFrom: eff,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.SaveSalaryVersion(ctx, version); err != nil {
		return nil, err
	}
	return &version, nil
}
