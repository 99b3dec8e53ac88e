package integration

import (
	"context"
	"sync"
)

// runSwitch is the on/off switch shared by the watchers. Each time it is
// turned on a new generation starts, so a poll issued for a previous process
// can be recognised and discarded.
type runSwitch struct {
	mu      sync.Mutex
	running bool
	gen     uint64
	changed chan struct{}
	cancels map[uint64]context.CancelFunc
	nextID  uint64
}

func newRunSwitch() *runSwitch {
	return &runSwitch{
		changed: make(chan struct{}),
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// set flips the switch. Turning it off cancels polls in flight.
func (s *runSwitch) set(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == running {
		return
	}
	s.running = running
	if running {
		s.gen++
	} else {
		for id, cancel := range s.cancels {
			cancel()
			delete(s.cancels, id)
		}
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

// current reports whether the switch is on and in which generation.
func (s *runSwitch) current() (bool, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.gen
}

// wait blocks until the switch is on or stop is closed.
func (s *runSwitch) wait(stop <-chan struct{}) (uint64, bool) {
	for {
		s.mu.Lock()
		if s.running {
			gen := s.gen
			s.mu.Unlock()
			return gen, true
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-stop:
			return 0, false
		}
	}
}

// pollContext derives a context that is cancelled when the switch is turned
// off. The returned release func must be called when the poll is done.
func (s *runSwitch) pollContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		cancel()
		return ctx, func() {}
	}
	s.nextID++
	id := s.nextID
	s.cancels[id] = cancel
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}
}

// stopper is the per-Serve stop channel used by the suture services here.
type stopper struct {
	mu   sync.Mutex
	stop chan struct{}
}

func (s *stopper) begin() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = make(chan struct{})
	return s.stop
}

func (s *stopper) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// contextUntil returns a context cancelled once stop is closed.
func contextUntil(stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
