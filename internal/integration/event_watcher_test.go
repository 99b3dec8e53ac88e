package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

// fakeEventSource hands out queued batches and then holds the poll open
// until the context is done, like Syncthing does.
type fakeEventSource struct {
	mu      sync.Mutex
	batches [][]api.Event
	sinces  []int
	masks   []string
	polled  chan int
}

func newFakeEventSource(batches ...[]api.Event) *fakeEventSource {
	return &fakeEventSource{batches: batches, polled: make(chan int, 100)}
}

func (s *fakeEventSource) Events(ctx context.Context, since int, mask string, timeout time.Duration) ([]api.Event, error) {
	s.mu.Lock()
	s.sinces = append(s.sinces, since)
	s.masks = append(s.masks, mask)
	var batch []api.Event
	if len(s.batches) > 0 {
		batch = s.batches[0]
		s.batches = s.batches[1:]
	}
	s.mu.Unlock()
	s.polled <- since

	if batch != nil {
		return batch, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeEventSource) push(batch []api.Event) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
}

type fakeListener struct {
	calls chan string
}

var _ syncthing.EventListener = (*fakeListener)(nil)

func newFakeListener() *fakeListener {
	return &fakeListener{calls: make(chan string, 100)}
}

func (l *fakeListener) StartupComplete(ctx context.Context) error {
	l.calls <- "StartupComplete"
	return nil
}

func (l *fakeListener) DeviceConnected(id, addr string) {
	l.calls <- "DeviceConnected " + id + " " + addr
}

func (l *fakeListener) DeviceDisconnected(id, reason string) {
	l.calls <- "DeviceDisconnected " + id + " " + reason
}

func (l *fakeListener) ItemStarted(folder, item string) {
	l.calls <- "ItemStarted " + folder + " " + item
}

func (l *fakeListener) ItemFinished(folder, item string) {
	l.calls <- "ItemFinished " + folder + " " + item
}

func (l *fakeListener) LocalIndexUpdated(ctx context.Context, folder string) error {
	l.calls <- "LocalIndexUpdated " + folder
	return nil
}

func (l *fakeListener) SyncStateChanged(folder string, prev, next syncthing.SyncState) {
	l.calls <- fmt.Sprintf("SyncStateChanged %s %s %s", folder, prev, next)
}

func (l *fakeListener) ConfigSaved(ctx context.Context) error {
	l.calls <- "ConfigSaved"
	return nil
}

func (l *fakeListener) next(t *testing.T) string {
	t.Helper()
	select {
	case c := <-l.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for listener call")
		return ""
	}
}

func event(id int, typ string, data interface{}) api.Event {
	raw, _ := json.Marshal(data)
	return api.Event{ID: id, Type: typ, Time: time.Now(), Data: raw}
}

func waitPoll(t *testing.T, src *fakeEventSource) int {
	t.Helper()
	select {
	case since := <-src.polled:
		return since
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for poll")
		return 0
	}
}

func TestEventWatcher_ForwardsTypedEvents(t *testing.T) {
	src := newFakeEventSource([]api.Event{
		event(1, "StartupComplete", map[string]string{"myID": "X"}),
		event(2, "ItemStarted", map[string]string{"folder": "docs", "item": "a.txt"}),
		event(3, "StateChanged", map[string]string{"folder": "docs", "from": "idle", "to": "syncing"}),
		event(4, "StateChanged", map[string]string{"folder": "docs", "from": "scanning", "to": "idle"}),
		event(5, "DeviceConnected", map[string]string{"id": "DEV", "addr": "10.0.0.1:22000"}),
		event(6, "FolderSummary", map[string]string{"folder": "docs"}),
		event(7, "ItemFinished", map[string]string{"folder": "docs", "item": "a.txt"}),
		event(8, "DeviceDisconnected", map[string]string{"id": "DEV", "error": "EOF"}),
		event(9, "ConfigSaved", map[string]string{}),
		event(10, "LocalIndexUpdated", map[string]interface{}{"folder": "docs", "items": 3}),
	})
	l := newFakeListener()
	w := NewEventWatcher(src, logger.Discard(), EventWatcherOptions{PollTimeout: time.Second})
	w.SetListener(l)
	w.SetRunning(true)
	go w.Serve()
	defer w.Stop()

	want := []string{
		"StartupComplete",
		"ItemStarted docs a.txt",
		"SyncStateChanged docs idle syncing",
		"DeviceConnected DEV 10.0.0.1:22000",
		"ItemFinished docs a.txt",
		"DeviceDisconnected DEV EOF",
		"ConfigSaved",
		"LocalIndexUpdated docs",
	}
	for _, call := range want {
		if got := l.next(t); got != call {
			t.Fatalf("got call %q, want %q", got, call)
		}
	}

	if since := waitPoll(t, src); since != 0 {
		t.Errorf("first poll since = %d, want 0", since)
	}
	if since := waitPoll(t, src); since != 10 {
		t.Errorf("second poll since = %d, want 10", since)
	}

	src.mu.Lock()
	mask := src.masks[0]
	src.mu.Unlock()
	for _, name := range []string{"StartupComplete", "ItemStarted", "LocalIndexUpdated", "StateChanged", "ConfigSaved"} {
		if !strings.Contains(mask, name) {
			t.Errorf("mask %q does not subscribe to %s", mask, name)
		}
	}
}

func TestEventWatcher_PollsOnlyWhileRunningAndRestartsFromZero(t *testing.T) {
	src := newFakeEventSource([]api.Event{
		event(4, "ItemStarted", map[string]string{"folder": "docs", "item": "a"}),
	})
	l := newFakeListener()
	w := NewEventWatcher(src, logger.Discard(), EventWatcherOptions{PollTimeout: time.Second})
	w.SetListener(l)
	go w.Serve()
	defer w.Stop()

	select {
	case <-src.polled:
		t.Fatal("polled while switched off")
	case <-time.After(50 * time.Millisecond):
	}

	w.SetRunning(true)
	if since := waitPoll(t, src); since != 0 {
		t.Fatalf("since = %d, want 0", since)
	}
	l.next(t)
	if since := waitPoll(t, src); since != 4 {
		t.Fatalf("since = %d, want 4", since)
	}

	w.SetRunning(false)
	src.push([]api.Event{event(1, "ItemFinished", map[string]string{"folder": "docs", "item": "a"})})
	w.SetRunning(true)
	if since := waitPoll(t, src); since != 0 {
		t.Errorf("since after restart = %d, want 0", since)
	}
	if got := l.next(t); got != "ItemFinished docs a" {
		t.Errorf("got %q after restart", got)
	}
}

func TestEventWatcher_ResetsCursorWhenIDsRollBack(t *testing.T) {
	src := newFakeEventSource(
		[]api.Event{
			event(7, "ItemStarted", map[string]string{"folder": "docs", "item": "a"}),
			event(8, "ItemFinished", map[string]string{"folder": "docs", "item": "a"}),
		},
		[]api.Event{
			event(8, "ItemFinished", map[string]string{"folder": "docs", "item": "a"}),
			event(2, "ItemStarted", map[string]string{"folder": "docs", "item": "b"}),
		},
	)
	l := newFakeListener()
	w := NewEventWatcher(src, logger.Discard(), EventWatcherOptions{PollTimeout: time.Second})
	w.SetListener(l)
	w.SetRunning(true)
	go w.Serve()
	defer w.Stop()

	for _, want := range []string{"ItemStarted docs a", "ItemFinished docs a", "ItemStarted docs b"} {
		if got := l.next(t); got != want {
			t.Fatalf("got call %q, want %q", got, want)
		}
	}

	waitPoll(t, src)
	waitPoll(t, src)
	if since := waitPoll(t, src); since != 2 {
		t.Errorf("poll after rollback since = %d, want 2", since)
	}
}
