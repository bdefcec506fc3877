package recorder

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"webtestflow/recorder/internal/models"
)

func click(t *testing.T, id string) models.RecordedEvent {
	t.Helper()
	payload := fmt.Sprintf(`{"id":%q,"type":"CLICK","timestamp":1,"targetElement":{"tagName":"button"}}`, id)
	ev, err := models.DecodeEvent([]byte(payload), func() string { return "unused" })
	require.NoError(t, err)
	return ev
}

func TestSessionTransitions(t *testing.T) {
	s := newSession("s1", models.SessionConfig{}, time.Now())
	assert.Equal(t, models.StatusIdle, s.Status())

	assert.ErrorIs(t, s.transition(models.StatusRecording), models.ErrInvalidStatusTransition)
	require.NoError(t, s.transition(models.StatusInitializing))
	require.NoError(t, s.transition(models.StatusRecording))
	assert.ErrorIs(t, s.transition(models.StatusCompleted), models.ErrInvalidStatusTransition)
	assert.Nil(t, s.Snapshot().EndTime)

	assert.True(t, s.forceComplete())
	assert.False(t, s.forceComplete())
	assert.Equal(t, models.StatusCompleted, s.Status())
	assert.NotNil(t, s.Snapshot().EndTime)
}

func TestAppendEvent(t *testing.T) {
	s := newSession("s1", models.SessionConfig{}, time.Now())

	id, appended, err := s.AppendEvent(click(t, "e1"))
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, "e1", id)

	id, appended, err = s.AppendEvent(click(t, "e1"))
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Equal(t, "e1", id)

	_, _, err = s.AppendEvent(click(t, "e2"))
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].Base().ID)
	assert.Equal(t, "e2", events[1].Base().ID)

	events[0] = click(t, "changed")
	assert.Equal(t, "e1", s.Events()[0].Base().ID)

	s.forceComplete()
	_, _, err = s.AppendEvent(click(t, "e3"))
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.Equal(t, 2, s.EventCount())
}

func TestStoredEventsAreIsolated(t *testing.T) {
	s := newSession("s1", models.SessionConfig{}, time.Now())
	payload := `{"id":"e1","type":"CLICK","timestamp":1,"modifiers":["shift"],
		"targetElement":{"tagName":"button","id":"save","classes":["primary"],"attributes":{"role":"button"}}}`
	ev, err := models.DecodeEvent([]byte(payload), nil)
	require.NoError(t, err)

	_, _, err = s.AppendEvent(ev)
	require.NoError(t, err)
	ev.Base().TargetElement.Classes[0] = "caller"

	got := s.Events()[0].(models.ClickEvent)
	got.TargetElement.ID = "mutated"
	got.TargetElement.Classes[0] = "mutated"
	got.TargetElement.Attributes["role"] = "mutated"
	got.Modifiers[0] = "mutated"

	again := s.Events()[0].(models.ClickEvent)
	assert.Equal(t, "save", again.TargetElement.ID)
	assert.Equal(t, []string{"primary"}, again.TargetElement.Classes)
	assert.Equal(t, "button", again.TargetElement.Attributes["role"])
	assert.Equal(t, []string{"shift"}, again.Modifiers)
}

func TestAppendOrderIndependentOfOtherSessions(t *testing.T) {
	a := newSession("a", models.SessionConfig{}, time.Now())
	b := newSession("b", models.SessionConfig{}, time.Now())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _, _ = b.AppendEvent(click(t, fmt.Sprintf("b%d", i)))
		}
	}()
	for i := 0; i < 50; i++ {
		_, _, err := a.AppendEvent(click(t, fmt.Sprintf("a%d", i)))
		require.NoError(t, err)
	}
	wg.Wait()

	events := a.Events()
	require.Len(t, events, 50)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("a%d", i), ev.Base().ID)
	}
}

func TestBrowserMetadataSetOnce(t *testing.T) {
	s := newSession("s1", models.SessionConfig{}, time.Now())
	assert.False(t, s.SetBrowserMetadata(models.BrowserMetadata{}))
	assert.True(t, s.SetBrowserMetadata(models.BrowserMetadata{Browser: "firefox"}))
	assert.False(t, s.SetBrowserMetadata(models.BrowserMetadata{Browser: "chrome"}))

	m, ok := s.BrowserMetadata()
	require.True(t, ok)
	assert.Equal(t, "firefox", m.Browser)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	older := newSession("b", models.SessionConfig{}, time.Now().Add(-time.Minute))
	newer := newSession("a", models.SessionConfig{}, time.Now())

	require.NoError(t, r.Add(newer, 2))
	require.NoError(t, r.Add(older, 2))
	assert.ErrorIs(t, r.Add(newer, 0), models.ErrSessionExists)
	assert.ErrorIs(t, r.Add(newSession("c", models.SessionConfig{}, time.Now()), 2), models.ErrSessionLimit)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID())

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	var wg sync.WaitGroup
	wins := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Remove("a"); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	assert.Len(t, wins, 1)
	assert.Equal(t, 1, r.Len())
}

func TestArchivePurge(t *testing.T) {
	a := NewArchive(time.Hour)
	now := time.Now()
	a.now = func() time.Time { return now }
	a.Put(newSession("old", models.SessionConfig{}, now))

	now = now.Add(30 * time.Minute)
	a.Put(newSession("new", models.SessionConfig{}, now))

	now = now.Add(45 * time.Minute)
	assert.Equal(t, 1, a.Purge())
	_, ok := a.Get("old")
	assert.False(t, ok)
	_, ok = a.Get("new")
	assert.True(t, ok)

	assert.Zero(t, NewArchive(0).Purge())
}

func TestHubFiltersAndDrops(t *testing.T) {
	h := NewHub(1, zaptest.NewLogger(t))
	all := h.Subscribe("")
	one := h.Subscribe("s1")
	defer all.Close()

	h.Publish(Notification{Type: NotifyEvent, SessionID: "s2"})
	h.Publish(Notification{Type: NotifyEvent, SessionID: "s1"})

	n := <-all.C
	assert.Equal(t, "s2", n.SessionID)
	assert.False(t, n.Timestamp.IsZero())
	select {
	case <-all.C:
		t.Fatal("full buffer should have dropped the second notification")
	default:
	}

	n = <-one.C
	assert.Equal(t, "s1", n.SessionID)

	one.Close()
	one.Close()
	_, open := <-one.C
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())
}
