package injection

import (
	"context"

	"webtestflow/recorder/pkg/driver"
)

// Strategy is one way of getting the recorder script into the page.
type Strategy interface {
	Name() string
	Supported(d driver.Driver) bool
	Inject(ctx context.Context, d driver.Driver, params Params) error
}

// nativeStrategy registers the script with the browser so it also runs
// before page scripts on every later document.
type nativeStrategy struct {
	assets *Assets
}

func (nativeStrategy) Name() string { return ProfileNative.Name }

func (nativeStrategy) Supported(d driver.Driver) bool {
	_, ok := d.(driver.NativeInjector)
	return ok
}

func (s nativeStrategy) Inject(ctx context.Context, d driver.Driver, params Params) error {
	src, err := s.assets.RecorderScript(ProfileNative, params)
	if err != nil {
		return err
	}
	return d.(driver.NativeInjector).InjectNative(ctx, src)
}

// scriptStrategy evaluates a profile of the capture script in the current
// document.
type scriptStrategy struct {
	assets  *Assets
	profile Profile
}

func (s scriptStrategy) Name() string { return s.profile.Name }

func (scriptStrategy) Supported(driver.Driver) bool { return true }

func (s scriptStrategy) Inject(ctx context.Context, d driver.Driver, params Params) error {
	src, err := s.assets.RecorderScript(s.profile, params)
	if err != nil {
		return err
	}
	_, err = d.InjectScript(ctx, src)
	return err
}

// DefaultStrategies returns the strategies in the order they are tried.
func DefaultStrategies(a *Assets) []Strategy {
	return []Strategy{
		nativeStrategy{assets: a},
		scriptStrategy{assets: a, profile: ProfileCSPTolerant},
		scriptStrategy{assets: a, profile: ProfileMinimal},
		scriptStrategy{assets: a, profile: ProfileFull},
	}
}
