package loader

// Rect is an axis-aligned rectangle in layout coordinates.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Expand grows the rectangle by margin on every side.
func (r Rect) Expand(margin float64) Rect {
	return Rect{
		Left:   r.Left - margin,
		Top:    r.Top - margin,
		Width:  r.Width + 2*margin,
		Height: r.Height + 2*margin,
	}
}

// Covers reports whether at least threshold of the element rectangle
// intersects r. Zero-area elements count as covered when their origin lies
// inside r.
func (r Rect) Covers(el Rect, threshold float64) bool {
	area := el.Width * el.Height
	if area <= 0 {
		return r.contains(el.Left, el.Top)
	}
	overlap := r.intersectionArea(el)
	if threshold <= 0 {
		return overlap > 0
	}
	return overlap/area >= threshold
}

func (r Rect) contains(x, y float64) bool {
	return x >= r.Left && x <= r.Left+r.Width &&
		y >= r.Top && y <= r.Top+r.Height
}

func (r Rect) intersectionArea(o Rect) float64 {
	w := min(r.Left+r.Width, o.Left+o.Width) - max(r.Left, o.Left)
	h := min(r.Top+r.Height, o.Top+o.Height) - max(r.Top, o.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
