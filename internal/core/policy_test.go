package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	policyUser = &User{ID: 1, Username: "carol", Role: "user", Department: "engineering"}
	policyNow  = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC) // a Monday afternoon
)

func allowColor(r PolicyRule) PolicyRule {
	r.ColorAllowed = true
	return r
}

func TestEvaluatePolicyNoRules(t *testing.T) {
	settings := PrintSettings{Copies: 2, ColorMode: ColorModeColor, PaperSize: PaperSizeA4, Priority: PriorityNormal}

	allowed, multiplier, err := EvaluatePolicy(policyUser, nil, settings, 10, policyNow)
	require.NoError(t, err)
	assert.Equal(t, settings, allowed)
	assert.Equal(t, 1.0, multiplier)
}

func TestEvaluatePolicyMaxPages(t *testing.T) {
	rules := []PolicyRule{
		allowColor(PolicyRule{Scope: ScopeGlobal, MaxPages: 50}),
		allowColor(PolicyRule{Scope: ScopeDepartment, ScopeValue: "engineering", MaxPages: 5}),
	}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}, 10, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonMaxPagesExceeded, rejected.Reason)

	// Under the tightest matching bound the job passes.
	_, _, err = EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}, 5, policyNow)
	assert.NoError(t, err)
}

func TestEvaluatePolicyRuleForOtherScopeIgnored(t *testing.T) {
	rules := []PolicyRule{
		allowColor(PolicyRule{Scope: ScopeDepartment, ScopeValue: "finance", MaxPages: 1}),
		allowColor(PolicyRule{Scope: ScopeRole, ScopeValue: "admin", MaxPages: 1}),
	}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}, 100, policyNow)
	assert.NoError(t, err)
}

func TestEvaluatePolicyMaxCopies(t *testing.T) {
	rules := []PolicyRule{allowColor(PolicyRule{Scope: ScopeGlobal, MaxCopies: 3})}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 4, ColorMode: ColorModeGrayscale}, 1, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonMaxCopiesExceeded, rejected.Reason)
}

func TestEvaluatePolicyForceDuplexIsSilentCorrection(t *testing.T) {
	rules := []PolicyRule{allowColor(PolicyRule{Scope: ScopeGlobal, ForceDuplexAbovePages: 20})}
	settings := PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale, Duplex: false}

	allowed, _, err := EvaluatePolicy(policyUser, rules, settings, 25, policyNow)
	require.NoError(t, err)
	assert.True(t, allowed.Duplex)

	// At or below the threshold the request is honored.
	allowed, _, err = EvaluatePolicy(policyUser, rules, settings, 20, policyNow)
	require.NoError(t, err)
	assert.False(t, allowed.Duplex)
}

func TestEvaluatePolicyColorDenied(t *testing.T) {
	rules := []PolicyRule{{Scope: ScopeGlobal, ColorAllowed: false}}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeColor}, 1, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonColorNotAllowed, rejected.Reason)

	// Grayscale is unaffected by a color deny.
	_, _, err = EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}, 1, policyNow)
	assert.NoError(t, err)
}

func TestEvaluatePolicyColorDenyOverridesNarrowerAllow(t *testing.T) {
	rules := []PolicyRule{
		{Scope: ScopeGlobal, ColorAllowed: false},
		allowColor(PolicyRule{Scope: ScopeRole, ScopeValue: "user"}),
	}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeColor}, 1, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonColorNotAllowed, rejected.Reason)
}

func TestEvaluatePolicyColorPageLimit(t *testing.T) {
	rules := []PolicyRule{allowColor(PolicyRule{Scope: ScopeGlobal, ColorPageLimit: 10})}

	_, _, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeColor}, 11, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonColorNotAllowed, rejected.Reason)

	_, _, err = EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeColor}, 10, policyNow)
	assert.NoError(t, err)
}

func TestEvaluatePolicyTimeWindow(t *testing.T) {
	rules := []PolicyRule{allowColor(PolicyRule{Scope: ScopeGlobal, WindowStartHour: 9, WindowEndHour: 17})}
	settings := PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}

	_, _, err := EvaluatePolicy(policyUser, rules, settings, 1, policyNow)
	assert.NoError(t, err)

	evening := time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)
	_, _, err = EvaluatePolicy(policyUser, rules, settings, 1, evening)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonOutsideAllowedHours, rejected.Reason)
}

func TestEvaluatePolicyTimeWindowWrapsMidnight(t *testing.T) {
	rules := []PolicyRule{allowColor(PolicyRule{Scope: ScopeGlobal, WindowStartHour: 22, WindowEndHour: 6})}
	settings := PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}

	lateNight := time.Date(2024, 6, 3, 23, 0, 0, 0, time.UTC)
	_, _, err := EvaluatePolicy(policyUser, rules, settings, 1, lateNight)
	assert.NoError(t, err)

	_, _, err = EvaluatePolicy(policyUser, rules, settings, 1, policyNow)
	var rejected *PolicyRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonOutsideAllowedHours, rejected.Reason)
}

func TestEvaluatePolicyMultiplierProduct(t *testing.T) {
	rules := []PolicyRule{
		allowColor(PolicyRule{Scope: ScopeGlobal, CostMultiplier: 2.0}),
		allowColor(PolicyRule{Scope: ScopeDepartment, ScopeValue: "engineering", CostMultiplier: 1.5}),
		allowColor(PolicyRule{Scope: ScopeDepartment, ScopeValue: "finance", CostMultiplier: 10.0}),
	}

	_, multiplier, err := EvaluatePolicy(policyUser, rules, PrintSettings{Copies: 1, ColorMode: ColorModeGrayscale}, 1, policyNow)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, multiplier, 1e-9)
}
