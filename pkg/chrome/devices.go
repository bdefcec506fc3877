package chrome

import (
	"sort"
	"strings"

	"github.com/chromedp/chromedp/device"
)

const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iosUserAgent     = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1"
)

// DeviceInfo is the JSON view of a device preset.
type DeviceInfo struct {
	Name      string  `json:"name"`
	Width     int64   `json:"width"`
	Height    int64   `json:"height"`
	UserAgent string  `json:"userAgent"`
	Scale     float64 `json:"scale"`
	Mobile    bool    `json:"mobile"`
	Touch     bool    `json:"touch"`
}

// Scale stays at 1.0 for phones; larger factors make recorded text unreadable.
var presets = map[string]device.Info{
	"iPhone 12 Pro": {
		Name: "iPhone 12 Pro", UserAgent: iosUserAgent,
		Width: 390, Height: 844, Scale: 1.0, Mobile: true, Touch: true,
	},
	"iPhone 12 Pro Max": {
		Name: "iPhone 12 Pro Max", UserAgent: iosUserAgent,
		Width: 428, Height: 926, Scale: 1.0, Mobile: true, Touch: true,
	},
	"iPhone X": {
		Name:      "iPhone X",
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 11_0 like Mac OS X) AppleWebKit/604.1.38 (KHTML, like Gecko) Version/11.0 Mobile/15A372 Safari/604.1",
		Width:     375, Height: 812, Scale: 1.0, Mobile: true, Touch: true,
	},
	"Galaxy S20": {
		Name:      "Galaxy S20",
		UserAgent: "Mozilla/5.0 (Linux; Android 10; SM-G981B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.162 Mobile Safari/537.36",
		Width:     360, Height: 800, Scale: 1.0, Mobile: true, Touch: true,
	},
	"iPad Pro": {
		Name:      "iPad Pro",
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
		Width:     1024, Height: 1366, Scale: 1.0, Mobile: true, Touch: true,
	},
	"Desktop 1280x800": {
		Name: "Desktop 1280x800", UserAgent: desktopUserAgent,
		Width: 1280, Height: 800, Scale: 1.0,
	},
	"Desktop 1920x1080": {
		Name: "Desktop 1920x1080", UserAgent: desktopUserAgent,
		Width: 1920, Height: 1080, Scale: 1.0,
	},
}

// LookupDevice finds a preset by name, ignoring case.
func LookupDevice(name string) (device.Info, bool) {
	if dev, ok := presets[name]; ok {
		return dev, true
	}
	for key, dev := range presets {
		if strings.EqualFold(key, name) {
			return dev, true
		}
	}
	return device.Info{}, false
}

// Devices lists every preset ordered by name.
func Devices() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(presets))
	for _, dev := range presets {
		out = append(out, DeviceInfo{
			Name:      dev.Name,
			Width:     dev.Width,
			Height:    dev.Height,
			UserAgent: dev.UserAgent,
			Scale:     dev.Scale,
			Mobile:    dev.Mobile,
			Touch:     dev.Touch,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
