package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webtestflow/recorder/pkg/driver"
	"webtestflow/recorder/pkg/driver/drivertest"
)

func tagged(tag string, seen *[]string) driver.Factory {
	return driver.FactoryFunc(func(sessionID string, opts driver.Options) (driver.Driver, error) {
		*seen = append(*seen, tag+":"+opts.Kind)
		return drivertest.New(), nil
	})
}

func TestKindFactoryRouting(t *testing.T) {
	var seen []string
	f := driver.NewKindFactory(tagged("in", &seen), tagged("out", &seen), []string{"firefox", "WebKit", "safari"})

	for _, kind := range []string{"chrome", "Chromium", "edge", "", "firefox", "webkit", "SAFARI"} {
		_, err := f.New("s1", driver.Options{Kind: kind})
		require.NoError(t, err, kind)
	}
	assert.Equal(t, []string{
		"in:chrome", "in:chromium", "in:edge", "in:chrome",
		"out:firefox", "out:webkit", "out:safari",
	}, seen)
}

func TestKindFactoryUnsupported(t *testing.T) {
	var seen []string
	f := driver.NewKindFactory(tagged("in", &seen), nil, []string{"firefox"})

	_, err := f.New("s1", driver.Options{Kind: "netscape"})
	assert.ErrorIs(t, err, driver.ErrUnsupportedBrowser)
	assert.ErrorIs(t, err, driver.ErrDriverStart)

	_, err = f.New("s1", driver.Options{Kind: "firefox"})
	assert.ErrorIs(t, err, driver.ErrSidecarUnavailable)
	assert.Empty(t, seen)
}

func TestKindFactorySidecarOverridesInProcess(t *testing.T) {
	var seen []string
	f := driver.NewKindFactory(tagged("in", &seen), tagged("out", &seen), []string{"chrome"})
	_, err := f.New("s1", driver.Options{Kind: "chrome"})
	require.NoError(t, err)
	assert.Equal(t, []string{"out:chrome"}, seen)
}
