// Package readiness decides when a partially downloaded file is safe to
// start playing.
//
// The scalar policy trusts the swarm engine to download the selected file
// prefix-first: "10% complete" is only equivalent to "the first 10% of bytes
// are present" under that ordering. Engines that cannot promise it should
// report a piece map and run the tracker with RequirePrefix.
package readiness

import (
	"math"

	"swarmstream/internal/domain"
)

const DefaultThreshold = 0.10

type Config struct {
	// Threshold is the completed fraction of the file, in (0,1], at which
	// playback may start.
	Threshold float64
	// RequirePrefix makes the tracker count only the gap-free leading pieces
	// when the engine supplies a piece map.
	RequirePrefix bool
}

type Result struct {
	Ready bool
	// Percent is the scalar completion in [0,100].
	Percent float64
	// PrefixPercent is the contiguous prefix coverage in [0,100], or -1 when
	// no piece map was available.
	PrefixPercent float64
}

type Tracker struct {
	threshold     float64
	requirePrefix bool
}

func New(cfg Config) *Tracker {
	threshold := cfg.Threshold
	if threshold <= 0 || threshold > 1 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	return &Tracker{threshold: threshold, requirePrefix: cfg.RequirePrefix}
}

func (t *Tracker) Threshold() float64 {
	return t.threshold
}

// Evaluate recomputes readiness from one progress event.
func (t *Tracker) Evaluate(ev domain.ProgressEvent) Result {
	fraction := clampFraction(ev.Fraction)
	res := Result{Percent: fraction * 100, PrefixPercent: -1}

	if ev.Pieces != nil && ev.Pieces.NumPieces > 0 {
		prefix := float64(ev.Pieces.PrefixPieces()) / float64(ev.Pieces.NumPieces)
		res.PrefixPercent = prefix * 100
		if t.requirePrefix {
			res.Ready = prefix >= t.threshold
			return res
		}
	}

	res.Ready = fraction >= t.threshold
	return res
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
