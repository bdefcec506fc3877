// Package injectiontest simulates the in-page side of the recorder script
// on top of drivertest.Fake.
package injectiontest

import (
	"regexp"
	"strings"
	"sync"

	"webtestflow/recorder/pkg/driver/drivertest"
)

var profileRe = regexp.MustCompile(`/\*wtf:recorder v\S+ profile=([a-z-]+)\*/`)

// Page tracks what the recorder script would have left in the document.
type Page struct {
	mu       sync.Mutex
	active   bool
	marker   bool
	paused   bool
	blocked  map[string]bool
	noMarker map[string]bool
	injected []string
	metadata map[string]interface{}
}

func NewPage() *Page {
	return &Page{
		blocked:  map[string]bool{},
		noMarker: map[string]bool{},
		metadata: map[string]interface{}{
			"browser":   "chrome",
			"os":        "Linux x86_64",
			"userAgent": "Mozilla/5.0 HeadlessChrome/120.0.0.0",
			"version":   "120.0.0.0",
		},
	}
}

// Block makes the given profiles install nothing, as a strict CSP would.
func (p *Page) Block(profiles ...string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range profiles {
		p.blocked[name] = true
	}
	return p
}

// WithoutMarker makes the given profiles set the flag but never the marker.
func (p *Page) WithoutMarker(profiles ...string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range profiles {
		p.noMarker[name] = true
	}
	return p
}

// Reload drops all script state, as a full navigation does.
func (p *Page) Reload() {
	p.mu.Lock()
	p.active, p.marker, p.paused = false, false, false
	p.mu.Unlock()
}

// NewDocument simulates a full navigation in f: state is dropped and the
// script f has registered for new documents, if any, runs first.
func (p *Page) NewDocument(f *drivertest.Fake) {
	p.Reload()
	if src := f.NativeScript(); src != "" {
		p.mu.Lock()
		p.install(src)
		p.mu.Unlock()
	}
}

// RemoveMarker deletes the indicator but leaves the script running.
func (p *Page) RemoveMarker() {
	p.mu.Lock()
	p.marker = false
	p.mu.Unlock()
}

func (p *Page) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Page) Marker() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marker
}

func (p *Page) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Injected lists the profiles whose script reached the page, in order.
func (p *Page) Injected() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.injected...)
}

func (p *Page) install(src string) {
	m := profileRe.FindStringSubmatch(src)
	if m == nil {
		return
	}
	profile := m[1]
	p.injected = append(p.injected, profile)
	if p.blocked[profile] {
		return
	}
	p.active = true
	p.marker = !p.noMarker[profile]
	p.paused = strings.Contains(src, `"paused":true`)
}

// Script answers the recorder and helper scripts.
func (p *Page) Script(src string, args []interface{}) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case strings.Contains(src, "/*wtf:recorder"):
		p.install(src)
		return nil, nil
	case strings.Contains(src, "/*wtf:probe*/"):
		return map[string]interface{}{"flagActive": p.active, "markerPresent": p.marker}, nil
	case strings.Contains(src, "/*wtf:ensure-marker*/"):
		if !p.active {
			return false, nil
		}
		p.marker = true
		return true, nil
	case strings.Contains(src, "/*wtf:set-paused*/"):
		if !p.active {
			return false, nil
		}
		p.paused = len(args) > 0 && args[0] == true
		return true, nil
	case strings.Contains(src, "/*wtf:teardown*/"):
		p.active, p.marker = false, false
		return true, nil
	case strings.Contains(src, "/*wtf:metadata*/"):
		return p.metadata, nil
	}
	return nil, nil
}

// Native answers native injection.
func (p *Page) Native(src string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.install(src)
	return nil
}

// Attach wires the page into a fake driver.
func (p *Page) Attach(f *drivertest.Fake) *drivertest.Fake {
	f.SetScript(p.Script)
	f.SetNative(p.Native)
	return f
}
