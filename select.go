package imgopt

import "math"

// Format experiment variants.
const (
	VariantAVIFFirst      = "avif-first"
	VariantWebPFirst      = "webp-first"
	VariantSmartDetection = "smart-detection"
)

// Quality experiment variants.
const (
	VariantAggressive     = "aggressive"
	VariantQualityFocused = "quality-focused"
	VariantBalanced       = "balanced"
)

// SelectFormat picks the output format for a render.
//
// Save-data clients always get jpg, the cheapest and most compatible
// choice, regardless of variant or probed support. Otherwise the variant
// steers the preference order; the default "smart-detection" policy avoids
// avif on slow-2g connections where its decode cost outweighs the byte
// savings.
func SelectFormat(support FormatSupport, profile DeviceProfile, variant string) Format {
	if profile.SaveData {
		return FormatJPEG
	}

	switch variant {
	case VariantAVIFFirst:
		if support.AVIF {
			return FormatAVIF
		}
		if support.WebP {
			return FormatWebP
		}
		return FormatJPEG

	case VariantWebPFirst:
		if support.WebP {
			return FormatWebP
		}
		return FormatJPEG

	default: // smart-detection
		if support.AVIF && profile.Network != NetworkSlow2G {
			return FormatAVIF
		}
		if support.WebP {
			return FormatWebP
		}
		return FormatJPEG
	}
}

// SelectQuality computes the compression quality for a render.
//
// The requested quality (DefaultQuality when <= 0) is scaled by a variant
// multiplier and a network multiplier, rounded, then clamped to
// [MinQuality, MaxQuality]. Save-data overrides the network multiplier with
// a harsher 0.6.
func SelectQuality(requested int, variant string, profile DeviceProfile) int {
	q := float64(requested)
	if requested <= 0 {
		q = DefaultQuality
	}

	switch variant {
	case VariantAggressive:
		q *= 0.8
	case VariantQualityFocused:
		q *= 1.1
	}

	switch {
	case profile.SaveData:
		q *= 0.6
	case profile.Network == NetworkSlow2G:
		q *= 0.7
	case profile.Network == Network2G:
		q *= 0.8
	case profile.Network == Network3G:
		q *= 0.9
	}

	return ClampQuality(int(math.Round(q)))
}

// ClampQuality clamps q to [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}
