package game

import (
	"math"
	"time"
)

// GROWTH_RATE is k in multiplier = e^(k*ms). It is part of the published
// round rules together with FORMULA_VERSION.
const GROWTH_RATE = 0.00006

// Clock converts between time since round start and the displayed multiplier.
type Clock struct {
	GrowthRate float64
}

var DefaultClock = Clock{GrowthRate: GROWTH_RATE}

// MultiplierAt returns floor(100 * e^(k*ms)) / 100. It is 1.00 at zero and
// for negative elapsed times.
func (c Clock) MultiplierAt(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return MIN_MULTIPLIER
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	m := math.Floor(100*math.Exp(c.GrowthRate*ms)) / 100
	if m < MIN_MULTIPLIER {
		return MIN_MULTIPLIER
	}
	return m
}

// ElapsedFor is the inverse of MultiplierAt: ln(target)/k, rounded up so that
// MultiplierAt(ElapsedFor(x)) never falls short of x.
func (c Clock) ElapsedFor(target float64) time.Duration {
	if target <= MIN_MULTIPLIER {
		return 0
	}
	ms := math.Log(target) / c.GrowthRate
	return time.Duration(math.Ceil(ms * float64(time.Millisecond)))
}
