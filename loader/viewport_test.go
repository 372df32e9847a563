package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectExpand(t *testing.T) {
	t.Parallel()

	r := Rect{Left: 100, Top: 200, Width: 300, Height: 400}
	got := r.Expand(50)
	assert.Equal(t, Rect{Left: 50, Top: 150, Width: 400, Height: 500}, got)
}

func TestRectCovers(t *testing.T) {
	t.Parallel()

	viewport := Rect{Left: 0, Top: 0, Width: 1000, Height: 800}

	tests := []struct {
		name      string
		el        Rect
		threshold float64
		want      bool
	}{
		{
			name:      "fully inside",
			el:        Rect{Left: 100, Top: 100, Width: 200, Height: 200},
			threshold: 0.1,
			want:      true,
		},
		{
			name:      "fully outside",
			el:        Rect{Left: 2000, Top: 2000, Width: 200, Height: 200},
			threshold: 0.1,
			want:      false,
		},
		{
			name:      "exactly threshold visible",
			el:        Rect{Left: 900, Top: 0, Width: 1000, Height: 100},
			threshold: 0.1,
			want:      true,
		},
		{
			name:      "just under threshold",
			el:        Rect{Left: 901, Top: 0, Width: 1000, Height: 100},
			threshold: 0.1,
			want:      false,
		},
		{
			name:      "touching edge with zero threshold needs real overlap",
			el:        Rect{Left: 1000, Top: 0, Width: 100, Height: 100},
			threshold: 0,
			want:      false,
		},
		{
			name:      "any overlap passes zero threshold",
			el:        Rect{Left: 999, Top: 0, Width: 100, Height: 100},
			threshold: 0,
			want:      true,
		},
		{
			name:      "zero area element inside",
			el:        Rect{Left: 500, Top: 400},
			threshold: 0.1,
			want:      true,
		},
		{
			name:      "zero area element outside",
			el:        Rect{Left: 1500, Top: 400},
			threshold: 0.1,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, viewport.Covers(tt.el, tt.threshold))
		})
	}
}
