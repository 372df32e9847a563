package imgopt

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/meigma/imgopt/internal/refutil"
)

// Source-set width multipliers, ascending. SrcSet always emits exactly one
// entry per multiplier.
var srcSetMultipliers = [4]float64{0.5, 1, 1.5, 2}

const (
	// maxPixelRatio caps device-pixel-ratio upscaling.
	maxPixelRatio = 2.0

	// placeholderScale and placeholderQuality define the blurred preview
	// request emitted by Placeholder.
	placeholderScale   = 0.1
	placeholderQuality = 20

	// mobileViewportShare caps image width relative to the viewport on
	// mobile devices.
	mobileViewportShare = 0.9
)

// Builder turns source references plus selected parameters into proxy
// request descriptors.
//
// A Builder is immutable after construction and safe for concurrent use.
type Builder struct {
	proxyBase string
}

// NewBuilder creates a Builder targeting the given optimization proxy base
// URL (e.g. "https://img.example.com").
func NewBuilder(proxyBase string) (*Builder, error) {
	if proxyBase == "" {
		return nil, errors.New("imgopt: proxy base is empty")
	}
	u, err := url.Parse(proxyBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("imgopt: invalid proxy base %q", proxyBase)
	}
	return &Builder{proxyBase: u.String()}, nil
}

// BuildRequest derives the ImageRequestSpec for one render.
//
// Width and height must be positive. Quality is clamped to
// [MinQuality, MaxQuality]. The device pixel ratio is capped at 2 and
// skipped entirely under save-data. On mobile profiles the width is
// additionally capped to 90% of the viewport width with the aspect ratio
// preserved.
func (b *Builder) BuildRequest(sourceRef string, width, height int, format Format, quality int, profile DeviceProfile) (ImageRequestSpec, error) {
	ref, err := refutil.Normalize(sourceRef)
	if err != nil {
		return ImageRequestSpec{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	if width <= 0 || height <= 0 {
		return ImageRequestSpec{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	width, height = constrainDims(width, height, profile)

	spec := ImageRequestSpec{
		SourceRef:  ref,
		Width:      width,
		Height:     height,
		Format:     format,
		Quality:    ClampQuality(quality),
		PixelRatio: effectivePixelRatio(profile),
	}
	spec.URL = b.buildURL(spec.SourceRef, spec.Width, spec.Height, spec.Format, spec.Quality, spec.PixelRatio)
	return spec, nil
}

// SrcSet returns the responsive source set for a render: exactly four
// entries at 0.5x, 1x, 1.5x, and 2x of the base width, ascending.
//
// Each candidate keeps the base aspect ratio. Widths are rounded to the
// nearest pixel, never drop below 1, and are always strictly ascending even
// when rounding tiny base widths would collapse neighboring candidates.
func (b *Builder) SrcSet(sourceRef string, width, height int, format Format, quality int, profile DeviceProfile) ([]SrcSetEntry, error) {
	spec, err := b.BuildRequest(sourceRef, width, height, format, quality, profile)
	if err != nil {
		return nil, err
	}

	aspect := float64(spec.Height) / float64(spec.Width)
	entries := make([]SrcSetEntry, 0, len(srcSetMultipliers))
	prev := 0
	for _, m := range srcSetMultipliers {
		w := roundDim(float64(spec.Width) * m)
		// Rounding tiny base widths can collapse neighboring candidates
		// onto the same pixel; widths must stay strictly ascending.
		if w <= prev {
			w = prev + 1
		}
		prev = w
		h := roundDim(float64(w) * aspect)
		entries = append(entries, SrcSetEntry{
			URL:   b.buildURL(spec.SourceRef, w, h, spec.Format, spec.Quality, spec.PixelRatio),
			Width: w,
		})
	}
	return entries, nil
}

// Placeholder returns the URL of a tiny low-quality preview at 10% of the
// requested dimensions, used while the real image loads.
func (b *Builder) Placeholder(sourceRef string, width, height int) (string, error) {
	ref, err := refutil.Normalize(sourceRef)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	w := roundDim(float64(width) * placeholderScale)
	h := roundDim(float64(height) * placeholderScale)
	return b.buildURL(ref, w, h, FormatJPEG, placeholderQuality, 1), nil
}

func (b *Builder) buildURL(ref string, width, height int, format Format, quality int, dpr float64) string {
	q := url.Values{}
	q.Set("url", ref)
	q.Set("w", strconv.Itoa(width))
	q.Set("h", strconv.Itoa(height))
	q.Set("q", strconv.Itoa(quality))
	q.Set("f", format.String())
	q.Set("dpr", strconv.FormatFloat(dpr, 'g', -1, 64))
	return b.proxyBase + "/optimize?" + q.Encode()
}

func effectivePixelRatio(profile DeviceProfile) float64 {
	if profile.SaveData {
		return 1
	}
	dpr := profile.PixelRatio
	if dpr <= 0 {
		return 1
	}
	if dpr > maxPixelRatio {
		return maxPixelRatio
	}
	return dpr
}

func constrainDims(width, height int, profile DeviceProfile) (int, int) {
	if !profile.Mobile || profile.ViewportWidth <= 0 {
		return width, height
	}
	maxWidth := roundDim(float64(profile.ViewportWidth) * mobileViewportShare)
	if width <= maxWidth {
		return width, height
	}
	scale := float64(maxWidth) / float64(width)
	return maxWidth, roundDim(float64(height) * scale)
}

func roundDim(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
