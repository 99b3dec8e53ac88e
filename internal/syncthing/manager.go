package syncthing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syncthing/syncthing/lib/protocol"
	"golang.org/x/sync/errgroup"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
)

// errStaleStartup means the process left StateStarting while its startup
// data was being fetched.
var errStaleStartup = errors.New("startup superseded")

// ManagerOptions are the collaborators of a Manager.
type ManagerOptions struct {
	Client   APIClient
	Runner   ProcessRunner
	Settings Settings
	// Watchers are switched on while the process is starting or running.
	Watchers []Watcher
	Bus      *Bus
	Log      logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager supervises one Syncthing process and owns the model built from
// it. It implements ProcessListener, EventListener and ConnectionsListener.
type Manager struct {
	client   APIClient
	runner   ProcessRunner
	settings Settings
	watchers []Watcher
	bus      *Bus
	folders  *FolderManager
	log      logger.Logger
	now      func() time.Time

	// startMu serialises Start calls.
	startMu sync.Mutex

	stateMu sync.Mutex
	state   State
	// startGen counts process starts; hydration commits only for the start
	// it was begun under.
	startGen uint64

	devices          recordMap[*device]
	version          synchronized[Version]
	startedTime      synchronized[time.Time]
	lastConnectivity synchronized[time.Time]
	connStats        synchronized[ConnectionStats]
}

var (
	_ ProcessListener     = (*Manager)(nil)
	_ EventListener       = (*Manager)(nil)
	_ ConnectionsListener = (*Manager)(nil)
)

func NewManager(opts ManagerOptions) *Manager {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	if opts.Bus == nil {
		opts.Bus = NewBus(opts.Log)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		client:   opts.Client,
		runner:   opts.Runner,
		settings: opts.Settings,
		watchers: opts.Watchers,
		bus:      opts.Bus,
		folders:  NewFolderManager(opts.Client, opts.Bus, opts.Log),
		log:      opts.Log,
		now:      opts.Now,
		state:    StateStopped,
	}
	m.runner.SetListener(m)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// IsDataLoaded reports whether the folder and device model reflects the
// running process.
func (m *Manager) IsDataLoaded() bool {
	return m.State() == StateRunning
}

func (m *Manager) Folders() *FolderManager { return m.folders }

func (m *Manager) Version() Version { return m.version.Get() }

// StartedTime is when the process last reached StateRunning.
func (m *Manager) StartedTime() time.Time { return m.startedTime.Get() }

// LastConnectivityEventTime is when a device last connected or disconnected.
func (m *Manager) LastConnectivityEventTime() time.Time { return m.lastConnectivity.Get() }

func (m *Manager) TotalConnectionStats() ConnectionStats { return m.connStats.Get() }

// Subscribe registers h for all notifications and returns its cancel func.
func (m *Manager) Subscribe(h Handler) func() {
	return m.bus.Subscribe(h)
}

// setState applies a transition to next if the transition table allows it.
// A request for the current state is a no-op.
func (m *Manager) setState(next State) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.setStateLocked(next)
}

// setStateLocked must be called with stateMu held. Watchers are switched and
// the notification is queued under the lock so both observe transitions in
// the order they were applied; handlers still run on the bus goroutine.
func (m *Manager) setStateLocked(next State) error {
	prev := m.state
	if prev == next {
		return nil
	}
	if !allowedTransition(prev, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	m.state = next
	if next == StateStarting {
		m.startGen++
	}

	active := watchersActive(next)
	for _, w := range m.watchers {
		w.SetRunning(active)
	}
	m.log.Infof("Syncthing state changed: %s -> %s", prev, next)
	m.bus.Publish(StateChanged{Old: prev, New: next})
	return nil
}

// Start launches the process. It is only valid while stopped. A launch
// failure is returned and leaves the state untouched.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if s := m.State(); s != StateStopped {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := m.LaunchOptions()
	if err := m.runner.Start(opts); err != nil {
		return fmt.Errorf("start syncthing: %w", err)
	}
	return nil
}

// Stop asks the running process to shut down. The state moves to
// StateStopping here and to StateStopped only once the process has exited.
func (m *Manager) Stop(ctx context.Context) error {
	m.stateMu.Lock()
	if m.state != StateRunning {
		s := m.state
		m.stateMu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, s)
	}
	err := m.setStateLocked(StateStopping)
	m.stateMu.Unlock()
	if err != nil {
		return err
	}

	if err := m.client.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown syncthing: %w", err)
	}
	return nil
}

// Restart asks the running process to restart itself. The runner relaunches
// it once it exits.
func (m *Manager) Restart(ctx context.Context) error {
	if s := m.State(); s != StateRunning {
		return fmt.Errorf("%w: restart while %s", ErrInvalidState, s)
	}
	if err := m.client.Restart(ctx); err != nil {
		return fmt.Errorf("restart syncthing: %w", err)
	}
	return nil
}

// Kill terminates the process without a graceful shutdown and forces
// StateStopped.
func (m *Manager) Kill() error {
	err := m.runner.Kill()
	if serr := m.setState(StateStopped); serr != nil {
		m.log.Errorf("Forcing stopped state after kill: %v", serr)
	}
	if err != nil {
		return fmt.Errorf("kill syncthing: %w", err)
	}
	return nil
}

// KillAllSyncthingProcesses kills every Syncthing process on the machine,
// including ones this manager did not start.
func (m *Manager) KillAllSyncthingProcesses() error {
	return m.runner.KillAll()
}

// Scan asks Syncthing to rescan subPath of folderID.
func (m *Manager) Scan(ctx context.Context, folderID, subPath string) error {
	if _, ok := m.folders.TryFetchByID(folderID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFolder, folderID)
	}
	if err := m.client.Scan(ctx, folderID, subPath); err != nil {
		return fmt.Errorf("scan %s: %w", folderID, err)
	}
	return nil
}

// ReloadIgnores refetches the ignore patterns of folderID.
func (m *Manager) ReloadIgnores(ctx context.Context, folderID string) error {
	return m.folders.ReloadIgnores(ctx, folderID)
}

// TryFetchDeviceByID returns a snapshot of the device with the given id.
func (m *Manager) TryFetchDeviceByID(id string) (Device, bool) {
	d, ok := m.devices.Get(id)
	if !ok {
		return Device{}, false
	}
	return d.snapshot(), true
}

// FetchAllDevices returns snapshots of all configured devices.
func (m *Manager) FetchAllDevices() []Device {
	records := m.devices.Values()
	out := make([]Device, len(records))
	for i, d := range records {
		out[i] = d.snapshot()
	}
	return out
}

// LaunchOptions reads the settings and points the API client at the
// configured address.
func (m *Manager) LaunchOptions() LaunchOptions {
	opts := m.settings.LaunchOptions()
	m.client.SetConnection(opts.Address, opts.APIKey)
	return opts
}

func (m *Manager) ProcessStarting() {
	if err := m.setState(StateStarting); err != nil {
		m.log.Warningf("Process starting: %v", err)
	}
}

func (m *Manager) ProcessExited(status ExitStatus) {
	if err := m.setState(StateStopped); err != nil {
		m.log.Errorf("Process exited: %v", err)
	}
	if status.Abnormal() {
		m.log.Warningf("Syncthing exited with code %d", status.Code)
		m.bus.Publish(ProcessExitedWithError{Code: status.Code})
	}
}

func (m *Manager) ProcessOutput(line string) {
	m.bus.Publish(MessageLogged{Line: line})
}

// StartupComplete loads config, system info, version and connections and
// only then moves to StateRunning. It is ignored unless the manager is
// starting. On failure the manager stays in StateStarting and
// HydrationFailed is raised.
func (m *Manager) StartupComplete(ctx context.Context) error {
	m.stateMu.Lock()
	s, gen := m.state, m.startGen
	m.stateMu.Unlock()
	if s != StateStarting {
		m.log.Debugf("StartupComplete while %s, ignoring", s)
		return nil
	}

	err := m.hydrate(ctx, gen)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStaleStartup):
		m.log.Debugf("Discarding startup data: state changed while loading")
		return nil
	default:
		m.log.Errorf("Loading Syncthing state failed: %v", err)
		m.bus.Publish(HydrationFailed{Err: err})
		return err
	}
}

func (m *Manager) hydrate(ctx context.Context, gen uint64) error {
	var (
		cfg   *api.Config
		sys   *api.SystemInfo
		ver   *api.Version
		conns *api.Connections
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cfg, err = m.client.Config(gctx)
		return err
	})
	g.Go(func() (err error) {
		sys, err = m.client.SystemInfo(gctx)
		return err
	})
	g.Go(func() (err error) {
		ver, err = m.client.Version(gctx)
		return err
	})
	g.Go(func() (err error) {
		conns, err = m.client.Connections(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch startup data: %w", err)
	}

	devOrder, devItems := buildDevices(cfg, conns)
	set, err := m.folders.build(ctx, cfg, sys)
	if err != nil {
		return err
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != StateStarting || m.startGen != gen {
		return errStaleStartup
	}

	m.devices.Replace(devOrder, devItems)
	m.version.Set(Version{Version: ver.Version, LongVersion: ver.LongVersion, OS: ver.OS, Arch: ver.Arch})
	m.startedTime.Set(m.now())
	m.folders.publish(set)
	m.folders.announce()
	if err := m.setStateLocked(StateRunning); err != nil {
		return err
	}
	m.bus.Publish(DataLoaded{})
	m.log.Infof("Syncthing %s running with %d folders and %d devices", ver.Version, len(set.order), len(devOrder))
	return nil
}

func buildDevices(cfg *api.Config, conns *api.Connections) ([]string, map[string]*device) {
	order := make([]string, 0, len(cfg.Devices))
	items := make(map[string]*device, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		if _, dup := items[dc.DeviceID]; dup {
			continue
		}
		d := newDevice(dc.DeviceID, dc.Name)
		if c, ok := conns.Connections[dc.DeviceID]; ok && c.Connected {
			d.connected = true
			d.address = c.Address
		}
		order = append(order, dc.DeviceID)
		items[dc.DeviceID] = d
	}
	return order, items
}

func (m *Manager) DeviceConnected(deviceID, address string) {
	d, ok := m.devices.Get(deviceID)
	if !ok {
		m.log.Debugf("Device %s connected but is not configured, ignoring", shortDeviceID(deviceID))
		return
	}
	now := m.now()
	d.setConnected(address, now)
	m.lastConnectivity.Set(now)
	m.bus.Publish(DeviceConnected{Device: d.snapshot()})
}

func (m *Manager) DeviceDisconnected(deviceID, reason string) {
	d, ok := m.devices.Get(deviceID)
	if !ok {
		m.log.Debugf("Device %s disconnected but is not configured, ignoring", shortDeviceID(deviceID))
		return
	}
	now := m.now()
	d.setDisconnected(now)
	m.lastConnectivity.Set(now)
	m.bus.Publish(DeviceDisconnected{Device: d.snapshot(), Reason: reason})
}

func (m *Manager) ItemStarted(folderID, item string) {
	m.folders.ItemStarted(folderID, item)
}

func (m *Manager) ItemFinished(folderID, item string) {
	m.folders.ItemFinished(folderID, item)
}

func (m *Manager) LocalIndexUpdated(ctx context.Context, folderID string) error {
	return m.folders.LocalIndexUpdated(ctx, folderID)
}

func (m *Manager) SyncStateChanged(folderID string, prev, next SyncState) {
	m.folders.SyncStateChanged(folderID, prev, next)
}

// ConfigSaved rebuilds the folder set after Syncthing's configuration was
// changed. Devices are only refreshed on the next start.
func (m *Manager) ConfigSaved(ctx context.Context) error {
	if s := m.State(); s != StateRunning {
		m.log.Debugf("ConfigSaved while %s, ignoring", s)
		return nil
	}

	var (
		cfg *api.Config
		sys *api.SystemInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cfg, err = m.client.Config(gctx)
		return err
	})
	g.Go(func() (err error) {
		sys, err = m.client.SystemInfo(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reload folders: %w", err)
	}
	return m.folders.Reload(ctx, cfg, sys)
}

func (m *Manager) ConnectionStatsChanged(stats ConnectionStats) {
	m.connStats.Set(stats)
	m.bus.Publish(ConnectionStatsChanged{Stats: stats})
}

// shortDeviceID renders a device id in its short form for log lines.
func shortDeviceID(id string) string {
	did, err := protocol.DeviceIDFromString(id)
	if err != nil {
		return id
	}
	return did.Short().String()
}
