package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/injection/injectiontest"
	"webtestflow/recorder/pkg/driver"
	"webtestflow/recorder/pkg/driver/drivertest"
)

type testSession struct {
	id     string
	d      driver.Driver
	mu     sync.Mutex
	domain string
	last   []injection.Result
}

func (s *testSession) ID() string            { return s.id }
func (s *testSession) Driver() driver.Driver { return s.d }

func (s *testSession) InjectionParams() injection.Params {
	return injection.Params{SessionID: s.id, EventURL: "http://localhost/hooks/" + s.id + "/event"}
}

func (s *testSession) SwapDomain(domain string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.domain
	s.domain = domain
	return prev
}

func (s *testSession) RecordInjection(res injection.Result, err error) {
	s.mu.Lock()
	s.last = append(s.last, res)
	s.mu.Unlock()
}

func (s *testSession) injections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}

type closer struct {
	mu     sync.Mutex
	sup    *Supervisor
	causes []error
}

func (c *closer) HandleBrowserClosed(id string, cause error) {
	c.mu.Lock()
	c.causes = append(c.causes, cause)
	c.mu.Unlock()
	c.sup.Cancel(id)
}

func (c *closer) calls() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.causes...)
}

func newSupervisor(t *testing.T, cfg Config) (*Supervisor, *closer) {
	c := &closer{}
	orch := injection.NewOrchestrator(injection.NewAssets(nil, ""), injection.Config{MaxAttempts: 1}, nil, nil)
	s := New(context.Background(), cfg, orch, c, zaptest.NewLogger(t), nil)
	c.sup = s
	return s, c
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"https://Example.com/path?q=1":  "example.com",
		"http://localhost:8080/app":     "localhost:8080",
		"about:blank":                   "",
		"data:text/html,<p>hi</p>":      "",
		"":                              "",
		"https://sub.example.com:443/x": "sub.example.com:443",
		"::not a url":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractDomain(in), in)
	}
}

func TestCheckDomainReinjectsOncePerChange(t *testing.T) {
	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	sess := &testSession{id: "s1", d: fake, domain: "example.com"}
	s, c := newSupervisor(t, Config{})
	l := &loops{}
	ctx := context.Background()

	fake.SetURL("https://example.com/cart")
	assert.False(t, s.checkDomain(ctx, sess, l, false))
	assert.Empty(t, page.Injected())

	fake.SetURL("https://shop.other.com/")
	assert.False(t, s.checkDomain(ctx, sess, l, false))
	assert.Equal(t, []string{"native"}, page.Injected())
	assert.Equal(t, 1, sess.injections())

	fake.SetURL("https://shop.other.com/checkout")
	assert.False(t, s.checkDomain(ctx, sess, l, false))
	assert.False(t, s.checkDomain(ctx, sess, l, false))
	assert.Len(t, page.Injected(), 1)

	fake.SetURL("about:blank")
	assert.False(t, s.checkDomain(ctx, sess, l, false))
	assert.Len(t, page.Injected(), 1)
	assert.Equal(t, "shop.other.com", sess.SwapDomain("shop.other.com"))
	assert.Empty(t, c.calls())
}

func TestFullCheckReinjectsInactiveScript(t *testing.T) {
	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	fake.SetURL("https://example.com/")
	sess := &testSession{id: "s1", d: fake, domain: "example.com"}
	s, _ := newSupervisor(t, Config{})
	l := &loops{}

	assert.False(t, s.checkDomain(context.Background(), sess, l, false))
	assert.Empty(t, page.Injected())

	assert.False(t, s.checkDomain(context.Background(), sess, l, true))
	assert.Len(t, page.Injected(), 1)
	assert.True(t, page.Active())
}

func TestCheckDomainClosedBrowser(t *testing.T) {
	fake := drivertest.New()
	fake.Close()
	sess := &testSession{id: "s1", d: fake}
	s, c := newSupervisor(t, Config{})

	assert.True(t, s.checkDomain(context.Background(), sess, &loops{}, false))
	require.Len(t, c.calls(), 1)
	assert.True(t, driver.IsClosedError(c.calls()[0]))
}

func TestCheckHealth(t *testing.T) {
	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	sess := &testSession{id: "s1", d: fake}
	s, c := newSupervisor(t, Config{})
	l := &loops{}
	ctx := context.Background()

	// inactive: reinject
	assert.False(t, s.checkHealth(ctx, sess, l))
	assert.True(t, page.Active())

	// active without marker: repair
	page.RemoveMarker()
	assert.False(t, s.checkHealth(ctx, sess, l))
	assert.True(t, page.Marker())
	assert.Len(t, page.Injected(), 1)

	// window gone
	fake.SetProbeError(errors.New("no such window: target window already closed"))
	assert.True(t, s.checkHealth(ctx, sess, l))
	require.Len(t, c.calls(), 1)
	assert.ErrorIs(t, c.calls()[0], driver.ErrBrowserUnresponsive)
}

func TestHealthLoopClosesMissingWindow(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := injectiontest.NewPage().Attach(drivertest.New())
	fake.SetProbeError(errors.New("no such window"))
	sess := &testSession{id: "s1", d: fake}
	s, c := newSupervisor(t, Config{HealthInterval: 10 * time.Millisecond, DomainInterval: time.Hour})

	s.Spawn(sess)
	require.Eventually(t, func() bool { return len(c.calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.Running("s1") }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.calls()[0], driver.ErrBrowserUnresponsive)
	s.Shutdown()
}

func TestDomainLoopReinjectsOnNavigation(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	fake.SetURL("https://a.example/")
	sess := &testSession{id: "s1", d: fake, domain: "a.example"}
	s, _ := newSupervisor(t, Config{HealthInterval: time.Hour, DomainInterval: 5 * time.Millisecond, DomainFullCheckEvery: 1000})

	s.Spawn(sess)
	s.Spawn(sess)
	fake.SetURL("https://b.example/")
	require.Eventually(t, func() bool { return len(page.Injected()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, page.Injected(), 1)

	s.Stop("s1")
	assert.False(t, s.Running("s1"))
	s.Shutdown()
}

func TestNudgeReinjectsOnlyWhenInactive(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := injectiontest.NewPage()
	fake := page.Attach(drivertest.New())
	sess := &testSession{id: "s1", d: fake}
	s, _ := newSupervisor(t, Config{HealthInterval: time.Hour, DomainInterval: time.Hour})
	assert.False(t, s.Nudge("s1"))

	s.Spawn(sess)
	require.True(t, s.Nudge("s1"))
	require.Eventually(t, func() bool { return sess.injections() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, page.Active())

	require.True(t, s.Nudge("s1"))
	require.Eventually(t, func() bool { return len(fake.Scripts("markerPresent")) >= 3 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sess.injections(), "an active recorder is left alone")

	s.Shutdown()
	assert.False(t, s.Nudge("s1"))
}

func TestLoopsHonorRunCaps(t *testing.T) {
	defer goleak.VerifyNone(t)

	fake := injectiontest.NewPage().Attach(drivertest.New())
	sess := &testSession{id: "s1", d: fake}
	s, _ := newSupervisor(t, Config{
		HealthInterval: time.Millisecond, HealthMaxRuns: 3,
		DomainInterval: time.Millisecond, DomainMaxRuns: 3,
	})

	s.Spawn(sess)
	require.Eventually(t, func() bool { return !s.Running("s1") }, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, fake.Count("current_url"), 3)
	s.Shutdown()
}

func TestShutdownStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := newSupervisor(t, Config{HealthInterval: time.Hour, DomainInterval: time.Hour})
	for _, id := range []string{"a", "b", "c"} {
		s.Spawn(&testSession{id: id, d: drivertest.New()})
	}
	assert.True(t, s.Running("b"))
	s.Shutdown()
	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, s.Running(id))
	}
	s.Stop("missing")
	s.Cancel("missing")
}
