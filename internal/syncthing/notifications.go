package syncthing

import "encoding/json"

// Notification is anything announced on the Bus. Kind names the
// notification in the websocket feed.
type Notification interface {
	Kind() string
}

// StateChanged is raised after every applied lifecycle transition.
type StateChanged struct {
	Old State `json:"old"`
	New State `json:"new"`
}

// DataLoaded is raised once per start, after hydration has been published.
type DataLoaded struct{}

// FolderChanged carries a fresh snapshot of one folder.
type FolderChanged struct {
	Folder Folder `json:"folder"`
}

// FoldersReloaded carries the full folder set after a load or reload.
type FoldersReloaded struct {
	Folders []Folder `json:"folders"`
}

type SyncStateChanged struct {
	Folder Folder    `json:"folder"`
	Old    SyncState `json:"old"`
	New    SyncState `json:"new"`
}

type DeviceConnected struct {
	Device Device `json:"device"`
}

type DeviceDisconnected struct {
	Device Device `json:"device"`
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatsChanged carries the latest aggregate transfer counters.
type ConnectionStatsChanged struct {
	Stats ConnectionStats `json:"stats"`
}

// ProcessExitedWithError is raised when the process exits abnormally.
type ProcessExitedWithError struct {
	Code int `json:"code"`
}

// HydrationFailed is raised when the post-startup fetches fail. The manager
// stays in StateStarting.
type HydrationFailed struct {
	Err error `json:"-"`
}

// MessageLogged carries one line of process output.
type MessageLogged struct {
	Line string `json:"line"`
}

func (StateChanged) Kind() string           { return "stateChanged" }
func (DataLoaded) Kind() string             { return "dataLoaded" }
func (FolderChanged) Kind() string          { return "folderChanged" }
func (FoldersReloaded) Kind() string        { return "foldersReloaded" }
func (SyncStateChanged) Kind() string       { return "syncStateChanged" }
func (DeviceConnected) Kind() string        { return "deviceConnected" }
func (DeviceDisconnected) Kind() string     { return "deviceDisconnected" }
func (ConnectionStatsChanged) Kind() string { return "connectionStatsChanged" }
func (ProcessExitedWithError) Kind() string { return "processExitedWithError" }
func (HydrationFailed) Kind() string        { return "hydrationFailed" }
func (MessageLogged) Kind() string          { return "messageLogged" }

func (n HydrationFailed) MarshalJSON() ([]byte, error) {
	msg := ""
	if n.Err != nil {
		msg = n.Err.Error()
	}
	return json.Marshal(struct {
		Error string `json:"error"`
	}{msg})
}
