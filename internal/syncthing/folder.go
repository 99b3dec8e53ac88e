package syncthing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// SyncState is the coarse per-folder activity shown to consumers.
type SyncState int

const (
	SyncStateIdle SyncState = iota
	SyncStateSyncing
)

func (s SyncState) String() string {
	switch s {
	case SyncStateIdle:
		return "idle"
	case SyncStateSyncing:
		return "syncing"
	default:
		return fmt.Sprintf("syncstate(%d)", int(s))
	}
}

// MarshalText renders the sync state by name in JSON payloads.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSyncState maps a Syncthing folder state label ("idle", "scanning",
// "syncing", "error", ...) to a SyncState. Only "syncing" counts as syncing.
func ParseSyncState(label string) SyncState {
	if label == "syncing" {
		return SyncStateSyncing
	}
	return SyncStateIdle
}

// FolderState is a consistent triple of folder counters.
type FolderState struct {
	Bytes   int64 `json:"bytes"`
	Deleted int64 `json:"deleted"`
	Files   int64 `json:"files"`
}

// excludeMarker prefixes regex patterns that un-ignore matching paths.
const excludeMarker = "(?exclude)"

// FolderIgnores is the ignore configuration of one folder. It is replaced as
// a unit, never modified.
type FolderIgnores struct {
	IgnorePatterns []string         `json:"ignorePatterns"`
	IncludeRegex   []*regexp.Regexp `json:"-"`
	ExcludeRegex   []*regexp.Regexp `json:"-"`
}

// NewFolderIgnores compiles regexPatterns into include and exclude matchers.
// Patterns carrying the exclude marker land in the exclude set with the marker
// stripped; everything else is an include.
func NewFolderIgnores(ignorePatterns, regexPatterns []string) (FolderIgnores, error) {
	fi := FolderIgnores{IgnorePatterns: append([]string(nil), ignorePatterns...)}
	for _, p := range regexPatterns {
		exclude := strings.HasPrefix(p, excludeMarker)
		if exclude {
			p = p[len(excludeMarker):]
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return FolderIgnores{}, fmt.Errorf("compile ignore pattern %q: %w", p, err)
		}
		if exclude {
			fi.ExcludeRegex = append(fi.ExcludeRegex, re)
		} else {
			fi.IncludeRegex = append(fi.IncludeRegex, re)
		}
	}
	return fi, nil
}

// clone copies the slices so the copy shares no backing arrays with fi.
func (fi FolderIgnores) clone() FolderIgnores {
	return FolderIgnores{
		IgnorePatterns: append([]string(nil), fi.IgnorePatterns...),
		IncludeRegex:   append([]*regexp.Regexp(nil), fi.IncludeRegex...),
		ExcludeRegex:   append([]*regexp.Regexp(nil), fi.ExcludeRegex...),
	}
}

// Match reports whether path is ignored: some include matcher matches and no
// exclude matcher does.
func (fi FolderIgnores) Match(path string) bool {
	for _, re := range fi.ExcludeRegex {
		if re.MatchString(path) {
			return false
		}
	}
	for _, re := range fi.IncludeRegex {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Folder is a point-in-time copy of a folder's state.
type Folder struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	ExpandedPath string        `json:"expandedPath"`
	SyncState    SyncState     `json:"syncState"`
	Ignores      FolderIgnores `json:"ignores"`
	GlobalState  FolderState   `json:"globalState"`
	LocalState   FolderState   `json:"localState"`
	SyncingPaths []string      `json:"syncingPaths"`
}

// IsSyncingPath reports whether path was being transferred when the snapshot
// was taken.
func (f Folder) IsSyncingPath(path string) bool {
	i := sort.SearchStrings(f.SyncingPaths, path)
	return i < len(f.SyncingPaths) && f.SyncingPaths[i] == path
}

// folder is the registry-owned mutable record behind a Folder snapshot.
// Identity fields are fixed at construction.
type folder struct {
	id           string
	path         string
	expandedPath string

	mu           sync.Mutex
	syncState    SyncState
	ignores      FolderIgnores
	globalState  FolderState
	localState   FolderState
	syncingPaths map[string]struct{}
}

func newFolder(id, path, expandedPath string, syncState SyncState, ignores FolderIgnores, global, local FolderState) *folder {
	return &folder{
		id:           id,
		path:         path,
		expandedPath: expandedPath,
		syncState:    syncState,
		ignores:      ignores,
		globalState:  global,
		localState:   local,
		syncingPaths: make(map[string]struct{}),
	}
}

func (f *folder) snapshot() Folder {
	f.mu.Lock()
	defer f.mu.Unlock()

	paths := make([]string, 0, len(f.syncingPaths))
	for p := range f.syncingPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return Folder{
		ID:           f.id,
		Path:         f.path,
		ExpandedPath: f.expandedPath,
		SyncState:    f.syncState,
		Ignores:      f.ignores.clone(),
		GlobalState:  f.globalState,
		LocalState:   f.localState,
		SyncingPaths: paths,
	}
}

func (f *folder) addSyncingPath(path string) {
	f.mu.Lock()
	f.syncingPaths[path] = struct{}{}
	f.mu.Unlock()
}

func (f *folder) removeSyncingPath(path string) {
	f.mu.Lock()
	delete(f.syncingPaths, path)
	f.mu.Unlock()
}

func (f *folder) setSyncState(next SyncState) {
	f.mu.Lock()
	f.syncState = next
	f.mu.Unlock()
}

func (f *folder) setStates(global, local FolderState) {
	f.mu.Lock()
	f.globalState = global
	f.localState = local
	f.mu.Unlock()
}

func (f *folder) setIgnores(ignores FolderIgnores) {
	f.mu.Lock()
	f.ignores = ignores
	f.mu.Unlock()
}
