// Package chrome locates Chromium-family browser executables and holds the
// device presets used for emulation.
package chrome

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var binaryPaths = map[string]map[string][]string{
	"linux": {
		"chrome": {
			"/usr/bin/google-chrome-stable",
			"/usr/bin/google-chrome",
			"/opt/google/chrome/google-chrome",
		},
		"chromium": {
			"/usr/bin/chromium-browser",
			"/usr/bin/chromium",
			"/snap/bin/chromium",
		},
		"edge": {
			"/usr/bin/microsoft-edge-stable",
			"/usr/bin/microsoft-edge",
			"/opt/microsoft/msedge/msedge",
		},
	},
	"darwin": {
		"chrome":   {"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
		"chromium": {"/Applications/Chromium.app/Contents/MacOS/Chromium"},
		"edge":     {"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
	},
	"windows": {
		"chrome": {
			"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
			"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
		},
		"edge": {
			"C:\\Program Files (x86)\\Microsoft\\Edge\\Application\\msedge.exe",
			"C:\\Program Files\\Microsoft\\Edge\\Application\\msedge.exe",
		},
	},
}

var lookupNames = map[string][]string{
	"chrome":   {"google-chrome", "google-chrome-stable"},
	"chromium": {"chromium-browser", "chromium"},
	"edge":     {"microsoft-edge", "microsoft-edge-stable", "msedge"},
}

// FindBrowser returns the executable for the given Chromium-family kind, or
// "" when none is installed. chrome and chromium fall back to each other.
func FindBrowser(kind string) string {
	kind = strings.ToLower(kind)
	candidates := []string{kind}
	switch kind {
	case "chrome", "":
		candidates = []string{"chrome", "chromium"}
	case "chromium":
		candidates = []string{"chromium", "chrome"}
	}

	for _, k := range candidates {
		for _, path := range binaryPaths[runtime.GOOS][k] {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		for _, name := range lookupNames[k] {
			if path, err := exec.LookPath(name); err == nil {
				return path
			}
		}
	}

	if kind == "chrome" || kind == "chromium" || kind == "" {
		return flatpakWrapper()
	}
	return ""
}

func flatpakWrapper() string {
	if _, err := exec.LookPath("flatpak"); err != nil {
		return ""
	}
	output, err := exec.Command("flatpak", "list", "--app", "--columns=application").Output()
	if err != nil {
		return ""
	}
	apps := string(output)
	if !strings.Contains(apps, "com.google.Chrome") && !strings.Contains(apps, "org.chromium.Chromium") {
		return ""
	}

	wrapperPath := "./scripts/chrome-flatpak-wrapper.sh"
	if _, err := os.Stat(wrapperPath); err == nil {
		return wrapperPath
	}
	return ""
}
