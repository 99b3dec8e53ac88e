package api

import (
	"encoding/json"
	"time"
)

// Config is the part of /rest/system/config the agent consumes.
type Config struct {
	Folders []FolderConfig `json:"folders"`
	Devices []DeviceConfig `json:"devices"`
}

type FolderConfig struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Path   string `json:"path"`
	Type   string `json:"type"`
	Paused bool   `json:"paused"`
}

type DeviceConfig struct {
	DeviceID string `json:"deviceID"`
	Name     string `json:"name"`
	Paused   bool   `json:"paused"`
}

// SystemInfo is /rest/system/status. Tilde is the directory "~" expands to.
type SystemInfo struct {
	MyID   string `json:"myID"`
	Tilde  string `json:"tilde"`
	Uptime int64  `json:"uptime"`
}

type Version struct {
	Version     string `json:"version"`
	LongVersion string `json:"longVersion"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
}

// Connections is /rest/system/connections, keyed by device id.
type Connections struct {
	Total       ConnectionTotal       `json:"total"`
	Connections map[string]Connection `json:"connections"`
}

type ConnectionTotal struct {
	At            time.Time `json:"at"`
	InBytesTotal  int64     `json:"inBytesTotal"`
	OutBytesTotal int64     `json:"outBytesTotal"`
}

type Connection struct {
	At            time.Time `json:"at"`
	Address       string    `json:"address"`
	Connected     bool      `json:"connected"`
	Paused        bool      `json:"paused"`
	ClientVersion string    `json:"clientVersion"`
	Type          string    `json:"type"`
	InBytesTotal  int64     `json:"inBytesTotal"`
	OutBytesTotal int64     `json:"outBytesTotal"`
}

// FolderModel is /rest/db/status for one folder.
type FolderModel struct {
	GlobalBytes    int64     `json:"globalBytes"`
	GlobalDeleted  int64     `json:"globalDeleted"`
	GlobalFiles    int64     `json:"globalFiles"`
	LocalBytes     int64     `json:"localBytes"`
	LocalDeleted   int64     `json:"localDeleted"`
	LocalFiles     int64     `json:"localFiles"`
	NeedBytes      int64     `json:"needBytes"`
	NeedFiles      int64     `json:"needFiles"`
	InSyncBytes    int64     `json:"inSyncBytes"`
	InSyncFiles    int64     `json:"inSyncFiles"`
	IgnorePatterns bool      `json:"ignorePatterns"`
	Invalid        string    `json:"invalid"`
	State          string    `json:"state"`
	StateChanged   time.Time `json:"stateChanged"`
	Version        int64     `json:"version"`
}

// Ignores is /rest/db/ignores. Ignore holds the raw .stignore lines and
// Patterns the regular expressions derived from them. Current Syncthing
// releases return the expanded glob lines under "expanded" and no
// "patterns" field at all, so against them Patterns is empty and no
// ignore matchers are built.
type Ignores struct {
	Ignore   []string `json:"ignore"`
	Patterns []string `json:"patterns"`
}

// Event is one entry of the /rest/events stream. Data is decoded by the
// consumer according to Type.
type Event struct {
	ID   int             `json:"id"`
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}
