package readiness

import (
	"math"
	"testing"

	"swarmstream/internal/domain"
)

func TestNewDefaultsThreshold(t *testing.T) {
	for _, in := range []float64{0, -0.5, 1.5, math.NaN()} {
		if got := New(Config{Threshold: in}).Threshold(); got != DefaultThreshold {
			t.Errorf("New(%v).Threshold() = %v, want %v", in, got, DefaultThreshold)
		}
	}
	if got := New(Config{Threshold: 0.25}).Threshold(); got != 0.25 {
		t.Fatalf("Threshold() = %v, want 0.25", got)
	}
}

func TestEvaluateScalarThreshold(t *testing.T) {
	tr := New(Config{Threshold: 0.10})
	tests := []struct {
		name     string
		fraction float64
		ready    bool
		percent  float64
	}{
		{"Zero", 0, false, 0},
		{"BelowThreshold", 0.05, false, 5},
		{"AtThreshold", 0.10, true, 10},
		{"Above", 0.15, true, 15},
		{"ClampedHigh", 1.7, true, 100},
		{"ClampedNegative", -0.3, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := tr.Evaluate(domain.ProgressEvent{Fraction: tc.fraction})
			if res.Ready != tc.ready {
				t.Fatalf("Ready = %v, want %v", res.Ready, tc.ready)
			}
			if math.Abs(res.Percent-tc.percent) > 1e-9 {
				t.Fatalf("Percent = %v, want %v", res.Percent, tc.percent)
			}
			if res.PrefixPercent != -1 {
				t.Fatalf("PrefixPercent = %v, want -1 without piece map", res.PrefixPercent)
			}
		})
	}
}

func TestEvaluateRequirePrefix(t *testing.T) {
	tr := New(Config{Threshold: 0.10, RequirePrefix: true})

	// 20 pieces, first piece complete, then a gap, then pieces 2..5 complete:
	// 25% overall but only 5% contiguous prefix.
	gapped := &domain.PieceMap{NumPieces: 20, Bitfield: []byte{0xBC, 0x00, 0x00}}
	res := tr.Evaluate(domain.ProgressEvent{Fraction: 0.25, Pieces: gapped})
	if res.Ready {
		t.Fatalf("Ready = true with a gapped prefix")
	}
	if math.Abs(res.PrefixPercent-5) > 1e-9 {
		t.Fatalf("PrefixPercent = %v, want 5", res.PrefixPercent)
	}

	// First two pieces complete: 10% contiguous prefix.
	contiguous := &domain.PieceMap{NumPieces: 20, Bitfield: []byte{0xC0, 0x00, 0x00}}
	res = tr.Evaluate(domain.ProgressEvent{Fraction: 0.10, Pieces: contiguous})
	if !res.Ready {
		t.Fatalf("Ready = false with a 10%% contiguous prefix")
	}
}

func TestEvaluateRequirePrefixFallsBackWithoutMap(t *testing.T) {
	tr := New(Config{Threshold: 0.10, RequirePrefix: true})
	if !tr.Evaluate(domain.ProgressEvent{Fraction: 0.2}).Ready {
		t.Fatalf("scalar fallback should report ready at 20%%")
	}
}

func TestEvaluateScalarIgnoresPieceGaps(t *testing.T) {
	tr := New(Config{Threshold: 0.10})
	gapped := &domain.PieceMap{NumPieces: 20, Bitfield: []byte{0x3C, 0x00, 0x00}}
	res := tr.Evaluate(domain.ProgressEvent{Fraction: 0.2, Pieces: gapped})
	if !res.Ready {
		t.Fatalf("scalar policy should trust the fraction")
	}
	if res.PrefixPercent != 0 {
		t.Fatalf("PrefixPercent = %v, want 0", res.PrefixPercent)
	}
}
