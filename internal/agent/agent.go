// Package agent wires the supervisor, its collaborators and the control
// surface together and runs them under one suture supervisor.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thejerf/suture"

	"synctray-agent/internal/api"
	"synctray-agent/internal/config"
	"synctray-agent/internal/feed"
	"synctray-agent/internal/handlers"
	"synctray-agent/internal/integration"
	"synctray-agent/internal/logger"
	"synctray-agent/internal/middleware"
	"synctray-agent/internal/process"
	"synctray-agent/internal/syncthing"
)

const apiRetries = 2

// Agent is the running application: one Syncthing process, its model, and
// the HTTP control surface over it.
type Agent struct {
	log logger.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	bus     *syncthing.Bus
	client  *api.Client
	runner  *process.Runner
	manager *syncthing.Manager
	events  *integration.EventWatcher
	conns   *integration.ConnectionsWatcher
	hub     *feed.Hub
	control *httpService
	watcher *config.ConfigWatcher

	supervisor *suture.Supervisor

	mu      sync.Mutex
	running bool
}

var _ syncthing.Settings = (*Agent)(nil)

// New builds the agent from cfg. Nothing runs until Start.
func New(cfg *config.Config, log logger.Logger) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("no configuration")
	}
	logger.SetLevel(cfg.Level())

	a := &Agent{
		log: log,
		cfg: cfg,
	}

	a.bus = syncthing.NewBus(logger.New("bus"))
	a.client = api.NewClient(cfg.Syncthing.Address, cfg.Syncthing.APIKey, apiRetries)
	a.runner = process.NewRunner(logger.New("process"))
	a.events = integration.NewEventWatcher(a.client, logger.New("events"), integration.EventWatcherOptions{
		PollTimeout: cfg.EventPollTimeout(),
	})
	a.conns = integration.NewConnectionsWatcher(a.client, logger.New("connections"), cfg.PollInterval())

	a.manager = syncthing.NewManager(syncthing.ManagerOptions{
		Client:   a.client,
		Runner:   a.runner,
		Settings: a,
		Watchers: []syncthing.Watcher{a.events, a.conns},
		Bus:      a.bus,
		Log:      logger.New("syncthing"),
	})
	a.events.SetListener(a.manager)
	a.conns.SetListener(a.manager)

	a.supervisor = suture.New("synctray-agent", suture.Spec{
		Log: func(line string) {
			log.Infof("Supervisor: %s", line)
		},
	})
	a.supervisor.Add(a.bus)
	a.supervisor.Add(a.events)
	a.supervisor.Add(a.conns)

	a.bus.Subscribe(a.logNotification)

	if cfg.Control.Enabled {
		a.hub = feed.NewHub(logger.New("feed"))
		a.supervisor.Add(a.hub)
		a.bus.Subscribe(a.hub.Notify)

		router := handlers.NewRouter(
			a.manager,
			a.manager.Folders(),
			a.hub.ServeWS,
			middleware.NewRateLimiter(cfg.Control.RateLimit, cfg.Control.RateBurst),
			middleware.NewTokenAuth(cfg.Control.JWTSecret),
		)
		a.control = newHTTPService(cfg.Control.Listen, router, logger.New("control"))
		a.supervisor.Add(a.control)
	}

	return a, nil
}

// Manager exposes the supervisor for embedding applications.
func (a *Agent) Manager() *syncthing.Manager {
	return a.manager
}

// LaunchOptions reads the current configuration. A reload takes effect at the
// next process start.
func (a *Agent) LaunchOptions() syncthing.LaunchOptions {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.LaunchOptions()
}

// Start runs the background services and launches Syncthing.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("agent already running")
	}

	a.log.Infof("Starting synctray-agent on %s", hostDescription())
	a.supervisor.ServeBackground()
	a.running = true

	a.cfgMu.RLock()
	path := a.cfg.Path
	a.cfgMu.RUnlock()
	if path != "" {
		a.watcher = config.NewConfigWatcher(path, logger.New("config"), func() {
			if err := a.ReloadFromDisk(); err != nil {
				a.log.Errorf("Failed to reload config: %v", err)
			}
		})
		if err := a.watcher.Start(); err != nil {
			a.log.Warningf("Config file changes will not be picked up: %v", err)
			a.watcher = nil
		}
	}

	if err := a.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start Syncthing: %w", err)
	}
	return nil
}

// Stop asks Syncthing to shut down and waits until it has, killing it when
// ctx expires first. The background services are stopped afterwards.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}

	a.log.Infof("Stopping synctray-agent...")
	err := a.stopSyncthing(ctx)

	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	a.supervisor.Stop()
	a.running = false

	a.log.Infof("synctray-agent stopped")
	return err
}

func (a *Agent) stopSyncthing(ctx context.Context) error {
	stopped := make(chan struct{})
	var once sync.Once
	unsubscribe := a.bus.Subscribe(func(n syncthing.Notification) {
		if sc, ok := n.(syncthing.StateChanged); ok && sc.New == syncthing.StateStopped {
			once.Do(func() { close(stopped) })
		}
	})
	defer unsubscribe()

	switch a.manager.State() {
	case syncthing.StateStopped:
		return nil
	case syncthing.StateRunning:
		if err := a.manager.Stop(ctx); err != nil {
			a.log.Warningf("Graceful stop failed, killing Syncthing: %v", err)
			return a.manager.Kill()
		}
	case syncthing.StateStarting:
		return a.manager.Kill()
	}

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		if a.manager.State() == syncthing.StateStopped {
			return nil
		}
		a.log.Warningf("Syncthing did not stop in time, killing it")
		return a.manager.Kill()
	}
}

// ReloadFromDisk reads the config file again and applies it.
func (a *Agent) ReloadFromDisk() error {
	a.cfgMu.RLock()
	path := a.cfg.Path
	a.cfgMu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file to reload")
	}

	next, err := config.Load(path)
	if err != nil {
		return err
	}
	a.Reload(next)
	return nil
}

// Reload swaps in a new configuration. The log level applies at once;
// Syncthing launch settings apply at the next process start. Control
// surface settings need an agent restart.
func (a *Agent) Reload(next *config.Config) {
	a.cfgMu.Lock()
	if next.APIKeyGenerated {
		next.Syncthing.APIKey = a.cfg.Syncthing.APIKey
		next.APIKeyGenerated = a.cfg.APIKeyGenerated
	}
	if next.Control != a.cfg.Control {
		a.log.Warningf("Control settings changed; restart the agent to apply them")
	}
	a.cfg = next
	a.cfgMu.Unlock()

	logger.SetLevel(next.Level())
	a.log.Infof("Configuration reloaded (log level %s)", next.Level())
}

// KillAll kills every Syncthing process on the machine.
func (a *Agent) KillAll() error {
	return a.manager.KillAllSyncthingProcesses()
}

func (a *Agent) logNotification(n syncthing.Notification) {
	switch n := n.(type) {
	case syncthing.StateChanged:
		a.log.Infof("Syncthing %s -> %s", n.Old, n.New)
	case syncthing.DataLoaded:
		v := a.manager.Version()
		a.log.Infof("Syncthing %s ready with %d folders", v.Version, len(a.manager.Folders().FetchAll()))
	case syncthing.ProcessExitedWithError:
		a.log.Errorf("Syncthing exited with code %d", n.Code)
	case syncthing.HydrationFailed:
		a.log.Errorf("Failed to load Syncthing state: %v", n.Err)
	case syncthing.DeviceConnected:
		a.log.Infof("Device %s connected", n.Device.Name)
	case syncthing.DeviceDisconnected:
		a.log.Infof("Device %s disconnected", n.Device.Name)
	}
}
