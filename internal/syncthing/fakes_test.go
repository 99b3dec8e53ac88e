package syncthing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
)

type fakeClient struct {
	mu      sync.Mutex
	config  api.Config
	system  api.SystemInfo
	version api.Version
	conns   api.Connections
	models  map[string]api.FolderModel
	ignores map[string]api.Ignores
	errs    map[string]error
	calls   map[string]int

	address, apiKey string
	scans           []string

	// versionGate, when set, holds Version until it is closed.
	versionGate chan struct{}
}

var _ APIClient = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		system:  api.SystemInfo{Tilde: "/home/alice"},
		version: api.Version{Version: "v1.27.12", OS: "linux", Arch: "amd64"},
		models:  make(map[string]api.FolderModel),
		ignores: make(map[string]api.Ignores),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (c *fakeClient) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++
	return c.errs[name]
}

func (c *fakeClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *fakeClient) setErr(name string, err error) {
	c.mu.Lock()
	c.errs[name] = err
	c.mu.Unlock()
}

func (c *fakeClient) setModel(folderID string, m api.FolderModel) {
	c.mu.Lock()
	c.models[folderID] = m
	c.mu.Unlock()
}

func (c *fakeClient) setIgnores(folderID string, ig api.Ignores) {
	c.mu.Lock()
	c.ignores[folderID] = ig
	c.mu.Unlock()
}

func (c *fakeClient) SetConnection(address, apiKey string) {
	c.mu.Lock()
	c.address, c.apiKey = address, apiKey
	c.mu.Unlock()
}

func (c *fakeClient) Config(ctx context.Context) (*api.Config, error) {
	if err := c.record("Config"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.config
	return &cfg, nil
}

func (c *fakeClient) SystemInfo(ctx context.Context) (*api.SystemInfo, error) {
	if err := c.record("SystemInfo"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sys := c.system
	return &sys, nil
}

func (c *fakeClient) Version(ctx context.Context) (*api.Version, error) {
	if err := c.record("Version"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	gate := c.versionGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.version
	return &v, nil
}

func (c *fakeClient) Connections(ctx context.Context) (*api.Connections, error) {
	if err := c.record("Connections"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.conns
	return &conns, nil
}

func (c *fakeClient) FolderModel(ctx context.Context, folderID string) (*api.FolderModel, error) {
	if err := c.record("FolderModel"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.models[folderID]
	return &m, nil
}

func (c *fakeClient) Ignores(ctx context.Context, folderID string) (*api.Ignores, error) {
	if err := c.record("Ignores"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ig := c.ignores[folderID]
	return &ig, nil
}

func (c *fakeClient) Scan(ctx context.Context, folderID, subPath string) error {
	if err := c.record("Scan"); err != nil {
		return err
	}
	c.mu.Lock()
	c.scans = append(c.scans, folderID+":"+subPath)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Restart(ctx context.Context) error  { return c.record("Restart") }
func (c *fakeClient) Shutdown(ctx context.Context) error { return c.record("Shutdown") }

// fakeRunner reports ProcessStarting from Start like the real runner does.
type fakeRunner struct {
	mu       sync.Mutex
	listener ProcessListener
	startErr error
	starts   []LaunchOptions
	kills    int
	killAlls int
}

var _ ProcessRunner = (*fakeRunner)(nil)

func (r *fakeRunner) SetListener(l ProcessListener) {
	r.mu.Lock()
	r.listener = l
	r.mu.Unlock()
}

func (r *fakeRunner) Start(opts LaunchOptions) error {
	r.mu.Lock()
	err := r.startErr
	if err == nil {
		r.starts = append(r.starts, opts)
	}
	l := r.listener
	r.mu.Unlock()
	if err != nil {
		return err
	}
	l.ProcessStarting()
	return nil
}

func (r *fakeRunner) Kill() error {
	r.mu.Lock()
	r.kills++
	r.mu.Unlock()
	return nil
}

func (r *fakeRunner) KillAll() error {
	r.mu.Lock()
	r.killAlls++
	r.mu.Unlock()
	return nil
}

type fakeWatcher struct {
	mu      sync.Mutex
	running bool
	changes int
}

func (w *fakeWatcher) SetRunning(running bool) {
	w.mu.Lock()
	if w.running != running {
		w.changes++
	}
	w.running = running
	w.mu.Unlock()
}

func (w *fakeWatcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

type staticSettings LaunchOptions

func (s staticSettings) LaunchOptions() LaunchOptions { return LaunchOptions(s) }

// recorder collects notifications delivered by a running Bus.
type recorder struct {
	mu    sync.Mutex
	seen  []Notification
	bus   *Bus
	unsub func()
}

func newRecorder(t *testing.T, bus *Bus) *recorder {
	t.Helper()
	r := &recorder{bus: bus}
	r.unsub = bus.Subscribe(func(n Notification) {
		r.mu.Lock()
		r.seen = append(r.seen, n)
		r.mu.Unlock()
	})
	return r
}

// all waits for the bus to drain and returns everything seen so far.
func (r *recorder) all(t *testing.T) []Notification {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.bus.Flush(ctx); err != nil {
		t.Fatalf("flush bus: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.seen...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.seen = nil
	r.mu.Unlock()
}

func ofKind[T Notification](ns []Notification) []T {
	var out []T
	for _, n := range ns {
		if v, ok := n.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(logger.Discard())
	go bus.Serve()
	t.Cleanup(bus.Stop)
	return bus
}

var errBoom = errors.New("boom")
