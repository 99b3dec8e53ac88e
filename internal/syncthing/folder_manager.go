package syncthing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
)

// ErrUnknownFolder is returned by folder operations given an id that is not
// in the current folder set.
var ErrUnknownFolder = errors.New("unknown folder")

// FolderManager owns the folder set and reconciles event stream
// notifications and API responses into it.
type FolderManager struct {
	client APIClient
	bus    *Bus
	log    logger.Logger

	folders recordMap[*folder]
}

func NewFolderManager(client APIClient, bus *Bus, log logger.Logger) *FolderManager {
	return &FolderManager{client: client, bus: bus, log: log}
}

// folderSet is a fully built folder set waiting to be published.
type folderSet struct {
	order []string
	items map[string]*folder
}

// TryFetchByID returns a snapshot of the folder with the given id.
func (fm *FolderManager) TryFetchByID(id string) (Folder, bool) {
	f, ok := fm.folders.Get(id)
	if !ok {
		return Folder{}, false
	}
	return f.snapshot(), true
}

// FetchAll returns snapshots of all folders in configuration order.
func (fm *FolderManager) FetchAll() []Folder {
	records := fm.folders.Values()
	out := make([]Folder, len(records))
	for i, f := range records {
		out[i] = f.snapshot()
	}
	return out
}

// Load builds the folder set described by cfg and publishes it. Nothing is
// published if any folder fails to load.
func (fm *FolderManager) Load(ctx context.Context, cfg *api.Config, sys *api.SystemInfo) error {
	set, err := fm.build(ctx, cfg, sys)
	if err != nil {
		return err
	}
	fm.publish(set)
	return nil
}

// Reload is Load followed by a FoldersReloaded notification and one
// FolderChanged per folder.
func (fm *FolderManager) Reload(ctx context.Context, cfg *api.Config, sys *api.SystemInfo) error {
	if err := fm.Load(ctx, cfg, sys); err != nil {
		return err
	}
	fm.announce()
	return nil
}

func (fm *FolderManager) build(ctx context.Context, cfg *api.Config, sys *api.SystemInfo) (folderSet, error) {
	var configured []api.FolderConfig
	seen := make(map[string]bool, len(cfg.Folders))
	for _, fc := range cfg.Folders {
		if seen[fc.ID] {
			fm.log.Warningf("Folder %s is configured twice, using the first entry", fc.ID)
			continue
		}
		seen[fc.ID] = true
		configured = append(configured, fc)
	}

	built := make([]*folder, len(configured))
	g, gctx := errgroup.WithContext(ctx)
	for i, fc := range configured {
		i, fc := i, fc
		g.Go(func() error {
			f, err := fm.loadFolder(gctx, fc, sys.Tilde)
			if err != nil {
				return fmt.Errorf("load folder %s: %w", fc.ID, err)
			}
			built[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return folderSet{}, err
	}

	set := folderSet{
		order: make([]string, len(built)),
		items: make(map[string]*folder, len(built)),
	}
	for i, f := range built {
		set.order[i] = f.id
		set.items[f.id] = f
	}
	return set, nil
}

func (fm *FolderManager) loadFolder(ctx context.Context, fc api.FolderConfig, tilde string) (*folder, error) {
	var (
		ignores *api.Ignores
		model   *api.FolderModel
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ignores, err = fm.client.Ignores(gctx, fc.ID)
		return err
	})
	g.Go(func() error {
		var err error
		model, err = fm.client.FolderModel(gctx, fc.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fi, err := NewFolderIgnores(ignores.Ignore, ignores.Patterns)
	if err != nil {
		return nil, err
	}
	global, local := folderStates(model)
	return newFolder(fc.ID, fc.Path, expandTilde(fc.Path, tilde), ParseSyncState(model.State), fi, global, local), nil
}

func (fm *FolderManager) publish(set folderSet) {
	fm.folders.Replace(set.order, set.items)
}

func (fm *FolderManager) announce() {
	folders := fm.FetchAll()
	fm.bus.Publish(FoldersReloaded{Folders: folders})
	for _, f := range folders {
		fm.bus.Publish(FolderChanged{Folder: f})
	}
}

// ItemStarted records item as being transferred in folderID.
func (fm *FolderManager) ItemStarted(folderID, item string) {
	f, ok := fm.folders.Get(folderID)
	if !ok {
		fm.log.Debugf("ItemStarted for unknown folder %s, ignoring", folderID)
		return
	}
	f.addSyncingPath(item)
}

// ItemFinished clears item from the transferring set of folderID.
func (fm *FolderManager) ItemFinished(folderID, item string) {
	f, ok := fm.folders.Get(folderID)
	if !ok {
		fm.log.Debugf("ItemFinished for unknown folder %s, ignoring", folderID)
		return
	}
	f.removeSyncingPath(item)
}

// LocalIndexUpdated refreshes the counters of folderID and raises
// FolderChanged.
func (fm *FolderManager) LocalIndexUpdated(ctx context.Context, folderID string) error {
	f, ok := fm.folders.Get(folderID)
	if !ok {
		fm.log.Debugf("LocalIndexUpdated for unknown folder %s, ignoring", folderID)
		return nil
	}

	model, err := fm.client.FolderModel(ctx, folderID)
	if err != nil {
		return fmt.Errorf("refresh folder %s: %w", folderID, err)
	}
	global, local := folderStates(model)
	f.setStates(global, local)

	fm.bus.Publish(FolderChanged{Folder: f.snapshot()})
	return nil
}

// SyncStateChanged stores next as the sync state of folderID and raises
// SyncStateChanged.
func (fm *FolderManager) SyncStateChanged(folderID string, prev, next SyncState) {
	f, ok := fm.folders.Get(folderID)
	if !ok {
		fm.log.Debugf("SyncStateChanged for unknown folder %s, ignoring", folderID)
		return
	}
	f.setSyncState(next)
	fm.bus.Publish(SyncStateChanged{Folder: f.snapshot(), Old: prev, New: next})
}

// ReloadIgnores refetches the ignore patterns of folderID. No notification
// is raised.
func (fm *FolderManager) ReloadIgnores(ctx context.Context, folderID string) error {
	f, ok := fm.folders.Get(folderID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFolder, folderID)
	}

	ignores, err := fm.client.Ignores(ctx, folderID)
	if err != nil {
		return fmt.Errorf("reload ignores of %s: %w", folderID, err)
	}
	fi, err := NewFolderIgnores(ignores.Ignore, ignores.Patterns)
	if err != nil {
		return fmt.Errorf("reload ignores of %s: %w", folderID, err)
	}
	f.setIgnores(fi)
	return nil
}

func folderStates(m *api.FolderModel) (global, local FolderState) {
	global = FolderState{Bytes: m.GlobalBytes, Deleted: m.GlobalDeleted, Files: m.GlobalFiles}
	local = FolderState{Bytes: m.LocalBytes, Deleted: m.LocalDeleted, Files: m.LocalFiles}
	return global, local
}

// expandTilde resolves a leading "~" against the home directory reported by
// Syncthing.
func expandTilde(path, tilde string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	rest := strings.TrimLeft(path[1:], `/\`)
	return filepath.Join(tilde, rest)
}
