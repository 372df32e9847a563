package imgopt

import (
	"net/http"
	"strconv"
	"strings"
)

// Client hint headers consulted by DetectProfile.
const (
	headerSaveData      = "Save-Data"
	headerECT           = "ECT"
	headerDPR           = "DPR"
	headerViewportWidth = "Viewport-Width"
	headerDeviceMemory  = "Device-Memory"
	headerUAMobile      = "Sec-CH-UA-Mobile"
)

// DetectProfile builds a DeviceProfile from client hint headers.
//
// Every signal is optional: missing or malformed hints fall back to
// permissive defaults (4g network, pixel ratio 1, not mobile, save-data
// off). DetectProfile is synchronous and never fails.
func DetectProfile(h http.Header) DeviceProfile {
	p := DeviceProfile{
		PixelRatio: 1,
		Network:    Network4G,
	}
	if h == nil {
		return p
	}

	if strings.EqualFold(strings.TrimSpace(h.Get(headerSaveData)), "on") {
		p.SaveData = true
	}

	if ect := strings.TrimSpace(h.Get(headerECT)); ect != "" {
		if n := ParseNetworkClass(ect); n != NetworkUnknown {
			p.Network = n
		}
	}

	if dpr, err := strconv.ParseFloat(strings.TrimSpace(h.Get(headerDPR)), 64); err == nil && dpr > 0 {
		p.PixelRatio = dpr
	}

	if vw, err := strconv.Atoi(strings.TrimSpace(h.Get(headerViewportWidth))); err == nil && vw > 0 {
		p.ViewportWidth = vw
	}

	if mem, err := strconv.ParseFloat(strings.TrimSpace(h.Get(headerDeviceMemory)), 64); err == nil && mem > 0 {
		p.DeviceMemoryGB = mem
	}

	// Structured header boolean: "?1" means mobile.
	if strings.TrimSpace(h.Get(headerUAMobile)) == "?1" {
		p.Mobile = true
	}

	return p
}
