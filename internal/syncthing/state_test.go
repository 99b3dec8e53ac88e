package syncthing

import (
	"errors"
	"math/rand"
	"testing"

	"synctray-agent/internal/logger"
)

var allStates = []State{StateStopped, StateStarting, StateRunning, StateStopping}

func TestAllowedTransition_Table(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateStopped, StateStarting}:  true,
		{StateStarting, StateRunning}:  true,
		{StateStarting, StateStopped}:  true,
		{StateRunning, StateStopping}:  true,
		{StateRunning, StateStopped}:   true,
		{StateStopping, StateStopped}:  true,
		{StateStopped, StateRunning}:   false,
		{StateStopped, StateStopping}:  false,
		{StateStarting, StateStopping}: false,
		{StateRunning, StateStarting}:  false,
		{StateStopping, StateRunning}:  false,
		{StateStopping, StateStarting}: false,
	}
	for pair, want := range allowed {
		if got := allowedTransition(pair[0], pair[1]); got != want {
			t.Errorf("allowedTransition(%s, %s) = %v, want %v", pair[0], pair[1], got, want)
		}
	}
}

func newStateOnlyManager(t *testing.T, bus *Bus, watchers ...Watcher) *Manager {
	t.Helper()
	return NewManager(ManagerOptions{
		Client:   newFakeClient(),
		Runner:   &fakeRunner{},
		Settings: staticSettings{},
		Watchers: watchers,
		Bus:      bus,
		Log:      logger.Discard(),
	})
}

func TestSetState_StoppedToRunningRejected(t *testing.T) {
	bus := startBus(t)
	rec := newRecorder(t, bus)
	m := newStateOnlyManager(t, bus)

	err := m.setState(StateRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", m.State())
	}
	if n := len(rec.all(t)); n != 0 {
		t.Errorf("got %d notifications for a rejected transition", n)
	}
}

func TestSetState_IdempotentRequestNotifiesOnce(t *testing.T) {
	bus := startBus(t)
	rec := newRecorder(t, bus)
	m := newStateOnlyManager(t, bus)

	for i := 0; i < 2; i++ {
		if err := m.setState(StateStarting); err != nil {
			t.Fatalf("setState(starting) #%d: %v", i, err)
		}
	}

	changes := ofKind[StateChanged](rec.all(t))
	if len(changes) != 1 {
		t.Fatalf("got %d StateChanged, want 1", len(changes))
	}
	if changes[0].Old != StateStopped || changes[0].New != StateStarting {
		t.Errorf("unexpected change %+v", changes[0])
	}
}

func TestSetState_RandomSequencesNeverSkipStarting(t *testing.T) {
	bus := startBus(t)
	rec := newRecorder(t, bus)
	m := newStateOnlyManager(t, bus)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		_ = m.setState(allStates[rng.Intn(len(allStates))])
	}

	prev := StateStopped
	for _, c := range ofKind[StateChanged](rec.all(t)) {
		if c.Old != prev {
			t.Fatalf("notification out of order: old=%s, expected %s", c.Old, prev)
		}
		if c.Old == StateStopped && c.New == StateRunning {
			t.Fatal("observed stopped -> running")
		}
		if !allowedTransition(c.Old, c.New) {
			t.Fatalf("observed disallowed transition %s -> %s", c.Old, c.New)
		}
		prev = c.New
	}
	if prev != m.State() {
		t.Errorf("last notification says %s, state is %s", prev, m.State())
	}
}

func TestSetState_WatchersFollowStartingAndRunning(t *testing.T) {
	bus := startBus(t)
	w := &fakeWatcher{}
	m := newStateOnlyManager(t, bus, w)

	steps := []struct {
		next    State
		running bool
	}{
		{StateStarting, true},
		{StateRunning, true},
		{StateStopping, false},
		{StateStopped, false},
		{StateStarting, true},
		{StateStopped, false},
	}
	for _, s := range steps {
		if err := m.setState(s.next); err != nil {
			t.Fatalf("setState(%s): %v", s.next, err)
		}
		if w.Running() != s.running {
			t.Errorf("after %s watcher running = %v, want %v", s.next, w.Running(), s.running)
		}
	}
}
