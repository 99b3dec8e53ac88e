package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"synctray-agent/internal/logger"
)

const defaultDebounce = time.Second

// ConfigWatcher watches configuration file for changes. Bursts of writes
// are collapsed into a single onChange call.
type ConfigWatcher struct {
	configPath string
	onChange   func()
	debounce   time.Duration
	log        logger.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// NewConfigWatcher creates a new configuration file watcher
func NewConfigWatcher(configPath string, log logger.Logger, onChange func()) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: filepath.Clean(configPath),
		onChange:   onChange,
		debounce:   defaultDebounce,
		log:        log,
	}
}

// Start starts watching the configuration file. The parent directory is
// watched so editors that replace the file by renaming are handled.
func (w *ConfigWatcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.configPath)); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.configPath), err)
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warningf("Config watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *ConfigWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.log.Infof("Config file %s changed", w.configPath)
		w.onChange()
	})
}

// Stop stops watching the configuration file
func (w *ConfigWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher = nil
}
