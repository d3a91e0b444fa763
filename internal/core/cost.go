package core

import "math"

// Rates holds the per-page unit costs in the currency's minor unit.
// They are configuration, not engine logic; the defaults live in the
// config package.
type Rates struct {
	GrayscaleCents int64
	ColorCents     int64
}

func (r Rates) unitCents(mode ColorMode) int64 {
	if mode == ColorModeColor {
		return r.ColorCents
	}
	return r.GrayscaleCents
}

// ComputeCost prices a job in integer cents.
//
//	cost = ceil(pages / (duplex ? 2 : 1)) * copies * unitCents(colorMode) * multiplier
//
// Duplex halves the physical sheet count per copy, rounding up: a 3-page
// duplex job consumes 2 sheets. The multiplied total is rounded to the
// minor unit half-up. The result is never negative.
func ComputeCost(pageCount, copies int, mode ColorMode, duplex bool, multiplier float64, rates Rates) int64 {
	sheets := pageCount
	if duplex {
		sheets = (pageCount + 1) / 2
	}

	base := int64(sheets) * int64(copies) * rates.unitCents(mode)
	cents := roundHalfUp(float64(base) * multiplier)
	if cents < 0 {
		return 0
	}
	return cents
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
