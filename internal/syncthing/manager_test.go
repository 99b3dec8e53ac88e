package syncthing

import (
	"context"
	"errors"
	"testing"
	"time"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
)

type managerFixture struct {
	m       *Manager
	client  *fakeClient
	runner  *fakeRunner
	watcher *fakeWatcher
	rec     *recorder
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	bus := startBus(t)
	client := newFakeClient()
	client.config = api.Config{
		Folders: []api.FolderConfig{{ID: "docs", Path: "docs"}, {ID: "photos", Path: "~/photos"}},
		Devices: []api.DeviceConfig{{DeviceID: "DEV-A", Name: "laptop"}, {DeviceID: "DEV-B", Name: "phone"}},
	}
	client.conns = api.Connections{Connections: map[string]api.Connection{
		"DEV-A": {Connected: true, Address: "192.168.1.5:22000"},
		"DEV-B": {Connected: false},
	}}
	client.setModel("docs", api.FolderModel{GlobalFiles: 10})

	f := &managerFixture{
		client:  client,
		runner:  &fakeRunner{},
		watcher: &fakeWatcher{},
	}
	f.m = NewManager(ManagerOptions{
		Client:   client,
		Runner:   f.runner,
		Settings: staticSettings{ExecutablePath: "/usr/bin/syncthing", Address: "127.0.0.1:8384", APIKey: "key"},
		Watchers: []Watcher{f.watcher},
		Bus:      bus,
		Log:      logger.Discard(),
		Now:      func() time.Time { return fixedNow },
	})
	f.rec = newRecorder(t, bus)
	return f
}

func (f *managerFixture) startRunning(t *testing.T) {
	t.Helper()
	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.m.StartupComplete(context.Background()); err != nil {
		t.Fatalf("StartupComplete: %v", err)
	}
	if s := f.m.State(); s != StateRunning {
		t.Fatalf("state = %s, want running", s)
	}
}

func TestManager_StartMovesToStartingAndPushesSettings(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s := f.m.State(); s != StateStarting {
		t.Fatalf("state = %s, want starting", s)
	}
	if len(f.runner.starts) != 1 || f.runner.starts[0].ExecutablePath != "/usr/bin/syncthing" {
		t.Errorf("runner starts = %+v", f.runner.starts)
	}
	if f.client.address != "127.0.0.1:8384" || f.client.apiKey != "key" {
		t.Errorf("client connection = %q/%q", f.client.address, f.client.apiKey)
	}
	if !f.watcher.Running() {
		t.Error("watcher should run while starting")
	}

	if err := f.m.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start: expected ErrInvalidState, got %v", err)
	}
}

func TestManager_LaunchFailureLeavesStateUntouched(t *testing.T) {
	f := newManagerFixture(t)
	f.runner.startErr = errBoom

	if err := f.m.Start(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if s := f.m.State(); s != StateStopped {
		t.Errorf("state = %s, want stopped", s)
	}
	if n := len(f.rec.all(t)); n != 0 {
		t.Errorf("failed launch raised %d notifications", n)
	}
}

func TestManager_HydrationPublishesBeforeRunning(t *testing.T) {
	f := newManagerFixture(t)
	var sawRunningWithoutData bool
	f.m.Subscribe(func(n Notification) {
		if c, ok := n.(StateChanged); ok && c.New == StateRunning {
			if len(f.m.FetchAllDevices()) == 0 || len(f.m.Folders().FetchAll()) == 0 {
				sawRunningWithoutData = true
			}
		}
	})

	f.startRunning(t)
	ns := f.rec.all(t)

	if sawRunningWithoutData {
		t.Error("observed running state before data was published")
	}
	if !f.m.IsDataLoaded() {
		t.Error("IsDataLoaded should be true while running")
	}
	if len(ofKind[DataLoaded](ns)) != 1 {
		t.Error("expected one DataLoaded")
	}
	if len(ofKind[FoldersReloaded](ns)) != 1 || len(ofKind[FolderChanged](ns)) != 2 {
		t.Error("expected folder notifications after hydration")
	}
	if v := f.m.Version(); v.Version != "v1.27.12" {
		t.Errorf("Version = %+v", v)
	}
	if !f.m.StartedTime().Equal(fixedNow) {
		t.Errorf("StartedTime = %v", f.m.StartedTime())
	}

	a, ok := f.m.TryFetchDeviceByID("DEV-A")
	if !ok || !a.Connected || a.Address != "192.168.1.5:22000" || a.Name != "laptop" {
		t.Errorf("DEV-A = %+v, %v", a, ok)
	}
	b, ok := f.m.TryFetchDeviceByID("DEV-B")
	if !ok || b.Connected {
		t.Errorf("DEV-B = %+v, %v", b, ok)
	}
}

func TestManager_HydrationFailureStaysStarting(t *testing.T) {
	f := newManagerFixture(t)
	f.client.setErr("Version", errBoom)

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := f.m.StartupComplete(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if s := f.m.State(); s != StateStarting {
		t.Errorf("state = %s, want starting", s)
	}
	if f.m.IsDataLoaded() {
		t.Error("IsDataLoaded after failed hydration")
	}
	if len(f.m.FetchAllDevices()) != 0 || len(f.m.Folders().FetchAll()) != 0 {
		t.Error("partial hydration was published")
	}

	ns := f.rec.all(t)
	failed := ofKind[HydrationFailed](ns)
	if len(failed) != 1 || !errors.Is(failed[0].Err, errBoom) {
		t.Errorf("HydrationFailed = %+v", failed)
	}
	if len(ofKind[DataLoaded](ns)) != 0 {
		t.Error("DataLoaded raised after failure")
	}
}

func TestManager_StartupCompleteAfterKillIsIgnored(t *testing.T) {
	f := newManagerFixture(t)
	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.m.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	if err := f.m.StartupComplete(context.Background()); err != nil {
		t.Fatalf("StartupComplete: %v", err)
	}
	if s := f.m.State(); s != StateStopped {
		t.Errorf("state = %s, want stopped", s)
	}
	if f.client.callCount("Config") != 0 {
		t.Error("stale startup signal triggered hydration")
	}
	if f.runner.kills != 1 {
		t.Errorf("runner kills = %d", f.runner.kills)
	}
}

func TestManager_HydrationOfPreviousProcessIsDiscarded(t *testing.T) {
	f := newManagerFixture(t)
	gate := make(chan struct{})
	f.client.mu.Lock()
	f.client.versionGate = gate
	f.client.mu.Unlock()

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.m.StartupComplete(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for f.client.callCount("Version") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hydration never fetched the version")
		}
		time.Sleep(time.Millisecond)
	}

	// The first process asks for a restart and the runner relaunches it
	// while the first hydration is still loading.
	f.m.ProcessExited(ExitStatus{Code: ExitCodeRestart})
	f.m.ProcessStarting()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("StartupComplete: %v", err)
	}
	if s := f.m.State(); s != StateStarting {
		t.Fatalf("state = %s, want starting until the new process completes startup", s)
	}
	if f.m.IsDataLoaded() {
		t.Error("data of the previous process was committed")
	}

	if err := f.m.StartupComplete(context.Background()); err != nil {
		t.Fatalf("second StartupComplete: %v", err)
	}
	if s := f.m.State(); s != StateRunning {
		t.Errorf("state = %s, want running", s)
	}
	if n := len(ofKind[DataLoaded](f.rec.all(t))); n != 1 {
		t.Errorf("DataLoaded raised %d times, want 1", n)
	}
}

func TestManager_StopWaitsForProcessExit(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)

	if err := f.m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.client.callCount("Shutdown") != 1 {
		t.Error("Shutdown not requested")
	}
	if s := f.m.State(); s != StateStopping {
		t.Fatalf("state = %s, want stopping", s)
	}
	if f.watcher.Running() {
		t.Error("watcher still running while stopping")
	}

	f.m.ProcessExited(ExitStatus{Code: 0})
	if s := f.m.State(); s != StateStopped {
		t.Errorf("state = %s, want stopped", s)
	}
	if n := len(ofKind[ProcessExitedWithError](f.rec.all(t))); n != 0 {
		t.Errorf("clean exit raised %d errors", n)
	}

	if err := f.m.Stop(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop while stopped: expected ErrInvalidState, got %v", err)
	}
}

func TestManager_StopReportsShutdownFailure(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)
	f.client.setErr("Shutdown", errBoom)

	if err := f.m.Stop(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if s := f.m.State(); s != StateStopping {
		t.Errorf("state = %s, want stopping", s)
	}
}

func TestManager_AbnormalExitRaisesError(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)
	f.rec.reset()

	f.m.ProcessExited(ExitStatus{Code: 1})

	if s := f.m.State(); s != StateStopped {
		t.Errorf("state = %s, want stopped", s)
	}
	errs := ofKind[ProcessExitedWithError](f.rec.all(t))
	if len(errs) != 1 || errs[0].Code != 1 {
		t.Errorf("ProcessExitedWithError = %+v", errs)
	}
}

func TestManager_RestartExitDoesNotRaiseError(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)

	if err := f.m.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if f.client.callCount("Restart") != 1 {
		t.Error("restart not requested")
	}

	f.m.ProcessExited(ExitStatus{Code: ExitCodeRestart})
	f.m.ProcessStarting()
	if s := f.m.State(); s != StateStarting {
		t.Errorf("state = %s, want starting", s)
	}
	if n := len(ofKind[ProcessExitedWithError](f.rec.all(t))); n != 0 {
		t.Errorf("restart exit raised %d errors", n)
	}
}

func TestManager_DeviceConnectivity(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)
	f.rec.reset()

	f.m.DeviceDisconnected("DEV-A", "timeout")
	f.m.DeviceConnected("DEV-B", "10.0.0.2:22000")

	ns := f.rec.all(t)
	dis := ofKind[DeviceDisconnected](ns)
	if len(dis) != 1 || dis[0].Device.ID != "DEV-A" || dis[0].Device.Connected || dis[0].Reason != "timeout" {
		t.Errorf("DeviceDisconnected = %+v", dis)
	}
	con := ofKind[DeviceConnected](ns)
	if len(con) != 1 || con[0].Device.Address != "10.0.0.2:22000" || !con[0].Device.Connected {
		t.Errorf("DeviceConnected = %+v", con)
	}
	if !f.m.LastConnectivityEventTime().Equal(fixedNow) {
		t.Errorf("LastConnectivityEventTime = %v", f.m.LastConnectivityEventTime())
	}
}

func TestManager_UnknownDeviceIsIgnored(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)
	f.rec.reset()

	f.m.DeviceConnected("DEV-UNKNOWN", "10.0.0.9:22000")
	f.m.DeviceDisconnected("DEV-UNKNOWN", "gone")

	ns := f.rec.all(t)
	if len(ofKind[DeviceConnected](ns)) != 0 || len(ofKind[DeviceDisconnected](ns)) != 0 {
		t.Error("unknown device raised a notification")
	}
	if _, ok := f.m.TryFetchDeviceByID("DEV-UNKNOWN"); ok {
		t.Error("record synthesized for unknown device")
	}
	if len(f.m.FetchAllDevices()) != 2 {
		t.Error("device set changed")
	}
	if !f.m.LastConnectivityEventTime().IsZero() {
		t.Error("unknown device stamped connectivity time")
	}
}

func TestManager_ScanAndReloadIgnores(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)

	if err := f.m.Scan(context.Background(), "docs", "sub/dir"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(f.client.scans) != 1 || f.client.scans[0] != "docs:sub/dir" {
		t.Errorf("scans = %q", f.client.scans)
	}
	if err := f.m.Scan(context.Background(), "nope", ""); !errors.Is(err, ErrUnknownFolder) {
		t.Errorf("expected ErrUnknownFolder, got %v", err)
	}

	f.client.setErr("Scan", errBoom)
	if err := f.m.Scan(context.Background(), "docs", ""); !errors.Is(err, errBoom) {
		t.Errorf("expected errBoom, got %v", err)
	}

	f.client.setErr("Ignores", errBoom)
	if err := f.m.ReloadIgnores(context.Background(), "docs"); !errors.Is(err, errBoom) {
		t.Errorf("expected errBoom, got %v", err)
	}
	if s := f.m.State(); s != StateRunning {
		t.Errorf("best-effort failure changed state to %s", s)
	}
}

func TestManager_ConfigSavedReloadsFolders(t *testing.T) {
	f := newManagerFixture(t)
	f.startRunning(t)
	f.rec.reset()

	f.client.mu.Lock()
	f.client.config.Folders = append(f.client.config.Folders, api.FolderConfig{ID: "music", Path: "~/music"})
	f.client.mu.Unlock()

	if err := f.m.ConfigSaved(context.Background()); err != nil {
		t.Fatalf("ConfigSaved: %v", err)
	}
	if _, ok := f.m.Folders().TryFetchByID("music"); !ok {
		t.Error("new folder not loaded")
	}
	ns := f.rec.all(t)
	if len(ofKind[FoldersReloaded](ns)) != 1 || len(ofKind[FolderChanged](ns)) != 3 {
		t.Errorf("unexpected reload notifications: %d reloaded, %d changed",
			len(ofKind[FoldersReloaded](ns)), len(ofKind[FolderChanged](ns)))
	}
}

func TestManager_ConnectionStatsAndOutput(t *testing.T) {
	f := newManagerFixture(t)

	stats := ConnectionStats{InBytesTotal: 100, OutBytesTotal: 50, InBytesPerSecond: 10}
	f.m.ConnectionStatsChanged(stats)
	f.m.ProcessOutput("[ABCDE] INFO: ready")

	if got := f.m.TotalConnectionStats(); got != stats {
		t.Errorf("TotalConnectionStats = %+v", got)
	}
	ns := f.rec.all(t)
	if c := ofKind[ConnectionStatsChanged](ns); len(c) != 1 || c[0].Stats != stats {
		t.Errorf("ConnectionStatsChanged = %+v", c)
	}
	if l := ofKind[MessageLogged](ns); len(l) != 1 || l[0].Line != "[ABCDE] INFO: ready" {
		t.Errorf("MessageLogged = %+v", l)
	}
}

func TestManager_KillAll(t *testing.T) {
	f := newManagerFixture(t)
	if err := f.m.KillAllSyncthingProcesses(); err != nil {
		t.Fatalf("KillAllSyncthingProcesses: %v", err)
	}
	if f.runner.killAlls != 1 {
		t.Errorf("killAlls = %d", f.runner.killAlls)
	}
}

func TestShortDeviceID_FallsBackToInput(t *testing.T) {
	if got := shortDeviceID("not-a-device-id"); got != "not-a-device-id" {
		t.Errorf("shortDeviceID = %q", got)
	}
}
