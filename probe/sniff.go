package probe

import (
	"bytes"

	"github.com/meigma/imgopt"
)

// Sniff identifies an image payload by its container magic bytes.
// It recognizes JPEG, WebP, and AVIF; anything else returns ok=false.
func Sniff(data []byte) (imgopt.Format, bool) {
	switch {
	case isJPEG(data):
		return imgopt.FormatJPEG, true
	case isWebP(data):
		return imgopt.FormatWebP, true
	case isAVIF(data):
		return imgopt.FormatAVIF, true
	default:
		return imgopt.FormatJPEG, false
	}
}

func isJPEG(data []byte) bool {
	return len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP"))
}

// isAVIF checks for an ISO BMFF ftyp box with an AV1 image brand.
func isAVIF(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	brand := data[8:12]
	return bytes.Equal(brand, []byte("avif")) || bytes.Equal(brand, []byte("avis"))
}
