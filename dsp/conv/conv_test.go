package conv

import (
	"errors"
	"math"
	"testing"
)

func TestDirect(t *testing.T) {
	tests := []struct {
		name     string
		a        []float64
		b        []float64
		expected []float64
	}{
		{
			name:     "simple 3x3",
			a:        []float64{1, 2, 3},
			b:        []float64{1, 1, 1},
			expected: []float64{1, 3, 6, 5, 3},
		},
		{
			name:     "impulse",
			a:        []float64{1, 2, 3, 4, 5},
			b:        []float64{1},
			expected: []float64{1, 2, 3, 4, 5},
		},
		{
			name:     "delayed impulse",
			a:        []float64{1, 2, 3, 4, 5},
			b:        []float64{0, 0, 1},
			expected: []float64{0, 0, 1, 2, 3, 4, 5},
		},
		{
			name:     "symmetric",
			a:        []float64{1, 2, 1},
			b:        []float64{1, 2, 1},
			expected: []float64{1, 4, 6, 4, 1},
		},
		{
			name:     "long kernel",
			a:        []float64{1, -1},
			b:        []float64{1, 2, 3, 4, 5},
			expected: []float64{1, 1, 1, 1, 1, -5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Direct(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(result) != len(tt.expected) {
				t.Fatalf("length mismatch: got %d, expected %d", len(result), len(tt.expected))
			}

			for i := range result {
				if math.Abs(result[i]-tt.expected[i]) > 1e-10 {
					t.Errorf("result[%d] = %v, expected %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestDirectErrors(t *testing.T) {
	_, err := Direct([]float64{}, []float64{1, 2})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}

	_, err = Direct([]float64{1, 2}, []float64{})
	if !errors.Is(err, ErrEmptyKernel) {
		t.Errorf("expected ErrEmptyKernel, got %v", err)
	}

	err = DirectTo(make([]float64, 3), []float64{1, 2}, []float64{1, 2})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestConvolveMode(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{1, 1, 1}

	tests := []struct {
		mode     Mode
		expected []float64
	}{
		{ModeFull, []float64{1, 3, 6, 9, 12, 9, 5}},
		{ModeSame, []float64{3, 6, 9, 12, 9}},
		{ModeValid, []float64{6, 9, 12}},
	}

	for _, tt := range tests {
		got, err := ConvolveMode(a, b, tt.mode)
		if err != nil {
			t.Fatalf("mode %d: unexpected error: %v", tt.mode, err)
		}
		if len(got) != len(tt.expected) {
			t.Fatalf("mode %d: length %d, expected %d", tt.mode, len(got), len(tt.expected))
		}
		for i := range got {
			if math.Abs(got[i]-tt.expected[i]) > 1e-10 {
				t.Errorf("mode %d: result[%d] = %v, expected %v", tt.mode, i, got[i], tt.expected[i])
			}
		}
	}
}
