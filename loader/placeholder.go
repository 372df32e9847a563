package loader

import "fmt"

// Placeholder returns a generated SVG graphic substituted for images whose
// fallback chain has been exhausted. Non-positive dimensions fall back to a
// square.
func Placeholder(width, height int) []byte {
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = width
	}
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<rect width="100%%" height="100%%" fill="#e2e5e9"/>`+
			`<line x1="0" y1="0" x2="%d" y2="%d" stroke="#c2c7cd" stroke-width="2"/>`+
			`<line x1="%d" y1="0" x2="0" y2="%d" stroke="#c2c7cd" stroke-width="2"/>`+
			`</svg>`,
		width, height, width, height, width, height, width, height)
	return []byte(svg)
}
