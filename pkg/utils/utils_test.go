package utils

import (
	"testing"
)

func TestCoalesceString(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty slice", []string{}, ""},
		{"all empty", []string{"", "", ""}, ""},
		{"first non-empty", []string{"a", "", "c"}, "a"},
		{"second non-empty", []string{"", "b", "c"}, "b"},
		{"single", []string{"x"}, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoalesceString(tt.in...)
			if got != tt.want {
				t.Errorf("CoalesceString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultInt(t *testing.T) {
	tests := []struct {
		v, defaultVal, want int
	}{
		{0, 10, 10},
		{1, 10, 1},
		{-1, 10, -1},
		{100, 5, 100},
	}
	for _, tt := range tests {
		got := DefaultInt(tt.v, tt.defaultVal)
		if got != tt.want {
			t.Errorf("DefaultInt(%d, %d) = %d, want %d", tt.v, tt.defaultVal, got, tt.want)
		}
	}
}

func TestDefaultInt64(t *testing.T) {
	tests := []struct {
		v, defaultVal, want int64
	}{
		{0, 500, 500},
		{-3, 500, 500},
		{12, 500, 12},
	}
	for _, tt := range tests {
		got := DefaultInt64(tt.v, tt.defaultVal)
		if got != tt.want {
			t.Errorf("DefaultInt64(%d, %d) = %d, want %d", tt.v, tt.defaultVal, got, tt.want)
		}
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{0, 1, 16, 1},
		{20, 1, 16, 16},
		{4, 1, 16, 4},
	}
	for _, tt := range tests {
		got := ClampInt(tt.v, tt.lo, tt.hi)
		if got != tt.want {
			t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}
