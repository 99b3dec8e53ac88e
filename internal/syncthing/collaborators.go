package syncthing

import (
	"context"
	"time"

	"synctray-agent/internal/api"
)

// APIClient is the part of the Syncthing REST API the model is built from.
type APIClient interface {
	SetConnection(address, apiKey string)
	Config(ctx context.Context) (*api.Config, error)
	SystemInfo(ctx context.Context) (*api.SystemInfo, error)
	Version(ctx context.Context) (*api.Version, error)
	Connections(ctx context.Context) (*api.Connections, error)
	FolderModel(ctx context.Context, folderID string) (*api.FolderModel, error)
	Ignores(ctx context.Context, folderID string) (*api.Ignores, error)
	Scan(ctx context.Context, folderID, subPath string) error
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// LaunchOptions is everything needed to start the Syncthing process and
// reach its API. It is read once per process start.
type LaunchOptions struct {
	ExecutablePath string
	APIKey         string
	Address        string
	Traces         string
	CustomHome     string
	LowPriority    bool
	DenyUpgrade    bool
}

// Settings provides launch options at each process start.
type Settings interface {
	LaunchOptions() LaunchOptions
}

// ExitCodeRestart is the exit code Syncthing uses to ask its monitor for a
// restart.
const ExitCodeRestart = 3

// ExitStatus describes how the process ended.
type ExitStatus struct {
	Code int
	// Killed is set when the exit was caused by Kill.
	Killed bool
}

// Abnormal reports whether the exit should be surfaced as a process error.
func (s ExitStatus) Abnormal() bool {
	return !s.Killed && s.Code != 0 && s.Code != ExitCodeRestart
}

// ProcessListener receives process lifecycle callbacks from a ProcessRunner.
type ProcessListener interface {
	// LaunchOptions is consulted before the runner relaunches the process
	// on its own.
	LaunchOptions() LaunchOptions
	ProcessStarting()
	ProcessExited(status ExitStatus)
	ProcessOutput(line string)
}

// ProcessRunner spawns and kills the Syncthing executable.
type ProcessRunner interface {
	SetListener(l ProcessListener)
	Start(opts LaunchOptions) error
	Kill() error
	KillAll() error
}

// Watcher is a background poller that is switched on while the process is
// starting or running.
type Watcher interface {
	SetRunning(running bool)
}

// EventListener receives typed notifications from the event stream.
type EventListener interface {
	StartupComplete(ctx context.Context) error
	DeviceConnected(deviceID, address string)
	DeviceDisconnected(deviceID, reason string)
	ItemStarted(folderID, item string)
	ItemFinished(folderID, item string)
	LocalIndexUpdated(ctx context.Context, folderID string) error
	SyncStateChanged(folderID string, prev, next SyncState)
	ConfigSaved(ctx context.Context) error
}

// ConnectionStats aggregates transfer counters over all connections.
type ConnectionStats struct {
	At                time.Time `json:"at"`
	InBytesTotal      int64     `json:"inBytesTotal"`
	OutBytesTotal     int64     `json:"outBytesTotal"`
	InBytesPerSecond  float64   `json:"inBytesPerSecond"`
	OutBytesPerSecond float64   `json:"outBytesPerSecond"`
}

// ConnectionsListener receives aggregate statistics from the connections
// watcher.
type ConnectionsListener interface {
	ConnectionStatsChanged(stats ConnectionStats)
}

// Version is the running Syncthing version.
type Version struct {
	Version     string `json:"version"`
	LongVersion string `json:"longVersion"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
}
