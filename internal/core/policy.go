package core

import (
	"time"
)

type PolicyScope string

const (
	ScopeGlobal     PolicyScope = "global"
	ScopeDepartment PolicyScope = "department"
	ScopeRole       PolicyScope = "role"
)

// PolicyRule is one entry of the policy snapshot. Zero values mean "not
// set": a zero numeric bound imposes no limit and a zero time window is
// always open. ColorAllowed=false is a hard deny for color jobs.
type PolicyRule struct {
	ID                    int64
	Scope                 PolicyScope
	ScopeValue            string
	MaxPages              int
	MaxCopies             int
	ForceDuplexAbovePages int
	ColorAllowed          bool
	ColorPageLimit        int
	CostMultiplier        float64
	WindowStartHour       int
	WindowEndHour         int
}

func (r *PolicyRule) matches(user *User) bool {
	switch r.Scope {
	case ScopeGlobal:
		return true
	case ScopeDepartment:
		return r.ScopeValue != "" && r.ScopeValue == user.Department
	case ScopeRole:
		return r.ScopeValue != "" && r.ScopeValue == user.Role
	}
	return false
}

// windowOpen reports whether now falls inside the rule's active hours.
// The window is [start, end) and may wrap past midnight. Equal non-zero
// hours form a zero-width window that never opens; rule creation rejects
// that pair.
func (r *PolicyRule) windowOpen(now time.Time) bool {
	if r.WindowStartHour == 0 && r.WindowEndHour == 0 {
		return true
	}
	h := now.Hour()
	if r.WindowStartHour <= r.WindowEndHour {
		return h >= r.WindowStartHour && h < r.WindowEndHour
	}
	return h >= r.WindowStartHour || h < r.WindowEndHour
}

// EvaluatePolicy checks the proposed settings against every matching rule
// of the snapshot and returns the (possibly corrected) settings plus the
// combined cost multiplier.
//
// Combination is deny-overrides: numeric bounds take the minimum across
// matching rules, multipliers multiply, and any rule that disallows an
// action wins regardless of scope order. Matching rules are considered in
// global, department, role order so a narrow scope can only further
// restrict what a wider one decided.
//
// Duplex above a forced threshold is a silent correction; requesting
// color where it is disallowed is a rejection, since color changes the
// price and the user has to opt in to the cheaper variant themselves.
func EvaluatePolicy(user *User, rules []PolicyRule, settings PrintSettings, pageCount int, now time.Time) (PrintSettings, float64, error) {
	allowed := settings
	multiplier := 1.0

	maxPages := 0
	maxCopies := 0
	forceDuplexAbove := 0
	colorDenied := false
	colorPageLimit := 0

	for i := range rules {
		r := &rules[i]
		if !r.matches(user) {
			continue
		}

		if !r.windowOpen(now) {
			return settings, 0, &PolicyRejectedError{Reason: ReasonOutsideAllowedHours}
		}

		if r.MaxPages > 0 && (maxPages == 0 || r.MaxPages < maxPages) {
			maxPages = r.MaxPages
		}
		if r.MaxCopies > 0 && (maxCopies == 0 || r.MaxCopies < maxCopies) {
			maxCopies = r.MaxCopies
		}
		if r.ForceDuplexAbovePages > 0 && (forceDuplexAbove == 0 || r.ForceDuplexAbovePages < forceDuplexAbove) {
			forceDuplexAbove = r.ForceDuplexAbovePages
		}
		if !r.ColorAllowed {
			colorDenied = true
		}
		if r.ColorPageLimit > 0 && (colorPageLimit == 0 || r.ColorPageLimit < colorPageLimit) {
			colorPageLimit = r.ColorPageLimit
		}
		if r.CostMultiplier > 0 {
			multiplier *= r.CostMultiplier
		}
	}

	if maxPages > 0 && pageCount > maxPages {
		return settings, 0, &PolicyRejectedError{Reason: ReasonMaxPagesExceeded}
	}
	if maxCopies > 0 && settings.Copies > maxCopies {
		return settings, 0, &PolicyRejectedError{Reason: ReasonMaxCopiesExceeded}
	}

	if settings.ColorMode == ColorModeColor {
		if colorDenied {
			return settings, 0, &PolicyRejectedError{Reason: ReasonColorNotAllowed}
		}
		if colorPageLimit > 0 && pageCount > colorPageLimit {
			return settings, 0, &PolicyRejectedError{Reason: ReasonColorNotAllowed}
		}
	}

	if forceDuplexAbove > 0 && pageCount > forceDuplexAbove {
		allowed.Duplex = true
	}

	return allowed, multiplier, nil
}
