// Package imgopt implements the client-independent core of an image
// optimization pipeline: device capability detection, format and quality
// selection, CDN request building, lazy-load scheduling, and budgeted
// response caching.
package imgopt

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrProbeInconclusive is returned when format support probing could not
	// produce a definitive answer. Callers should fall back to jpg-only.
	ErrProbeInconclusive = errors.New("imgopt: format probe inconclusive")

	// ErrFetchFailed is returned when an image fetch fails after exhausting
	// its fallback chain.
	ErrFetchFailed = errors.New("imgopt: fetch failed")

	// ErrTimeout is returned when a fetch exceeds its network-class budget.
	// It is handled identically to ErrFetchFailed.
	ErrTimeout = errors.New("imgopt: fetch timed out")

	// ErrStorage is returned by cache backends on read/write failure.
	// Callers treat it as a cache miss.
	ErrStorage = errors.New("imgopt: cache storage failure")

	// ErrInvalidRef is returned when a source image reference is malformed.
	ErrInvalidRef = errors.New("imgopt: invalid source reference")

	// ErrInvalidDimensions is returned when a requested width or height is
	// not a positive integer.
	ErrInvalidDimensions = errors.New("imgopt: invalid dimensions")
)

// Quality bounds enforced by SelectQuality and the request builder.
const (
	MinQuality = 30
	MaxQuality = 95

	// DefaultQuality is used when no quality is requested.
	DefaultQuality = 80
)

// Format identifies an output image format.
type Format uint8

const (
	FormatJPEG Format = iota
	FormatWebP
	FormatAVIF
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	case FormatAVIF:
		return "avif"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	default:
		return "image/jpeg"
	}
}

// ParseFormat parses a format name as used in request URLs ("jpg", "jpeg",
// "webp", "avif").
func ParseFormat(s string) (Format, error) {
	switch s {
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return FormatJPEG, fmt.Errorf("imgopt: unknown format %q", s)
	}
}

// NetworkClass is the effective connection type reported by the client.
type NetworkClass uint8

const (
	NetworkUnknown NetworkClass = iota
	NetworkSlow2G
	Network2G
	Network3G
	Network4G
)

func (n NetworkClass) String() string {
	switch n {
	case NetworkSlow2G:
		return "slow-2g"
	case Network2G:
		return "2g"
	case Network3G:
		return "3g"
	case Network4G:
		return "4g"
	default:
		return "unknown"
	}
}

// ParseNetworkClass parses an ECT value. Unrecognized values map to
// NetworkUnknown rather than failing.
func ParseNetworkClass(s string) NetworkClass {
	switch s {
	case "slow-2g":
		return NetworkSlow2G
	case "2g":
		return Network2G
	case "3g":
		return Network3G
	case "4g":
		return Network4G
	default:
		return NetworkUnknown
	}
}

// FetchTimeout returns the fetch budget for the network class. Slower
// connections get more headroom before an in-flight fetch is aborted.
func (n NetworkClass) FetchTimeout() time.Duration {
	switch n {
	case NetworkSlow2G:
		return 8 * time.Second
	case Network2G:
		return 6 * time.Second
	case Network3G:
		return 4 * time.Second
	case Network4G:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}

// DeviceProfile is an immutable snapshot of client device and network
// signals. Recompute it when the client reports a resize or connection
// change; never mutate a profile in place.
type DeviceProfile struct {
	// ViewportWidth and ViewportHeight are the layout viewport dimensions
	// in CSS pixels. Zero means unknown.
	ViewportWidth  int
	ViewportHeight int

	// PixelRatio is the device pixel ratio. Zero means unknown and is
	// treated as 1.
	PixelRatio float64

	// Network is the effective connection class.
	Network NetworkClass

	// SaveData is set when the client requested reduced data usage.
	SaveData bool

	// DeviceMemoryGB is the client memory hint in gigabytes. Zero means
	// unknown.
	DeviceMemoryGB float64

	// Cores is the logical processor count hint. Zero means unknown.
	Cores int

	// Mobile is set when the client identifies as a mobile device.
	Mobile bool
}

// FormatSupport records which output formats the client can decode.
// JPEG support is assumed unconditionally.
type FormatSupport struct {
	AVIF bool
	WebP bool
}

// Supports reports whether the client can decode the given format.
func (s FormatSupport) Supports(f Format) bool {
	switch f {
	case FormatAVIF:
		return s.AVIF
	case FormatWebP:
		return s.WebP
	default:
		return true
	}
}

// ImageRequestSpec describes a single transformed-image request against the
// optimization proxy. It is derived per render and not stored.
type ImageRequestSpec struct {
	// SourceRef is the normalized source image reference.
	SourceRef string

	// Width and Height are the target dimensions in CSS pixels.
	// Always positive.
	Width  int
	Height int

	// Format is the selected output format.
	Format Format

	// Quality is the selected compression quality, always in
	// [MinQuality, MaxQuality].
	Quality int

	// PixelRatio is the device-pixel-ratio multiplier applied upstream,
	// capped at 2 and forced to 1 under save-data.
	PixelRatio float64

	// URL is the fully built proxy request URL.
	URL string
}

// SrcSetEntry is one candidate in a responsive source set.
type SrcSetEntry struct {
	URL   string
	Width int
}
