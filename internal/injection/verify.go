package injection

import (
	"context"
	"errors"
	"fmt"

	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/pkg/driver"
)

// Verification is what the probe found in the page.
type Verification struct {
	FlagActive    bool `json:"flagActive"`
	MarkerPresent bool `json:"markerPresent"`
}

// OK requires both signals: a flag without its marker is a half-installed
// script.
func (v Verification) OK() bool {
	return v.FlagActive && v.MarkerPresent
}

func parseVerification(v interface{}) Verification {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Verification{}
	}
	flag, _ := m["flagActive"].(bool)
	marker, _ := m["markerPresent"].(bool)
	return Verification{FlagActive: flag, MarkerPresent: marker}
}

func (o *Orchestrator) helper(ctx context.Context, d driver.Driver, name string, args ...interface{}) (interface{}, error) {
	src, err := o.assets.Render(name, nil)
	if err != nil {
		return nil, err
	}
	return d.ExecuteScript(ctx, src, args...)
}

// Probe reads the activation flag and marker from the page.
func (o *Orchestrator) Probe(ctx context.Context, d driver.Driver) (Verification, error) {
	v, err := o.helper(ctx, d, "probe")
	if err != nil {
		return Verification{}, err
	}
	return parseVerification(v), nil
}

func (o *Orchestrator) IsActive(ctx context.Context, d driver.Driver) (bool, error) {
	v, err := o.Probe(ctx, d)
	if err != nil {
		return false, err
	}
	return v.FlagActive, nil
}

// EnsureMarker re-creates the recording indicator if the page removed it.
func (o *Orchestrator) EnsureMarker(ctx context.Context, d driver.Driver) error {
	v, err := o.helper(ctx, d, "ensure-marker")
	if err != nil {
		return err
	}
	if !driver.Truthy(v) {
		return fmt.Errorf("recorder api missing from page")
	}
	return nil
}

// SetPaused flips capture in the current document to params.Paused. A
// native registration is replaced so later documents start in the same
// state.
func (o *Orchestrator) SetPaused(ctx context.Context, d driver.Driver, params Params) error {
	if _, err := o.helper(ctx, d, "set-paused", params.Paused); err != nil {
		return err
	}
	native, ok := d.(driver.NativeInjector)
	if !ok || !native.NativeInstalled() {
		return nil
	}
	src, err := o.assets.RecorderScript(ProfileNative, params)
	if err != nil {
		return err
	}
	return native.InjectNative(ctx, src)
}

// Teardown removes listeners, the marker and the page globals, and drops
// any native registration.
func (o *Orchestrator) Teardown(ctx context.Context, d driver.Driver) error {
	var errs []error
	if native, ok := d.(driver.NativeInjector); ok {
		errs = append(errs, native.RemoveNative(ctx))
	}
	_, err := o.helper(ctx, d, "teardown")
	return errors.Join(append(errs, err)...)
}

// BrowserMetadata asks the page for user agent, platform and version.
func (o *Orchestrator) BrowserMetadata(ctx context.Context, d driver.Driver) (models.BrowserMetadata, error) {
	v, err := o.helper(ctx, d, "metadata")
	if err != nil {
		return models.BrowserMetadata{}, err
	}
	m, _ := v.(map[string]interface{})
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	return models.BrowserMetadata{
		Browser:   str("browser"),
		OS:        str("os"),
		UserAgent: str("userAgent"),
		Version:   str("version"),
	}, nil
}
