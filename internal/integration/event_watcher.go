// Package integration turns Syncthing's REST event stream and connection
// statistics into typed callbacks on the supervisor.
package integration

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/syncthing/syncthing/lib/events"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

// EventSource is the long-poll endpoint the watcher reads from.
type EventSource interface {
	Events(ctx context.Context, since int, mask string, timeout time.Duration) ([]api.Event, error)
}

// watchedEvents are the event types forwarded to the listener.
var watchedEvents = []events.EventType{
	events.StartupComplete,
	events.DeviceConnected,
	events.DeviceDisconnected,
	events.ItemStarted,
	events.ItemFinished,
	events.LocalIndexUpdated,
	events.StateChanged,
	events.ConfigSaved,
}

func eventMask(types []events.EventType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ",")
}

// EventWatcherOptions tune the long poll.
type EventWatcherOptions struct {
	// PollTimeout is how long Syncthing holds a request open when it has no
	// events to report.
	PollTimeout time.Duration
	// RetryDelay is the pause after a failed poll.
	RetryDelay time.Duration
}

// EventWatcher long-polls /rest/events while switched on and forwards
// events to an EventListener. It is a suture service.
type EventWatcher struct {
	source   EventSource
	listener syncthing.EventListener
	log      logger.Logger
	opts     EventWatcherOptions
	mask     string

	sw      *runSwitch
	stopper stopper
}

var _ syncthing.Watcher = (*EventWatcher)(nil)

func NewEventWatcher(source EventSource, log logger.Logger, opts EventWatcherOptions) *EventWatcher {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &EventWatcher{
		source: source,
		log:    log,
		opts:   opts,
		mask:   eventMask(watchedEvents),
		sw:     newRunSwitch(),
	}
}

// SetListener must be called before Serve.
func (w *EventWatcher) SetListener(l syncthing.EventListener) {
	w.listener = l
}

// SetRunning switches polling on or off. Each time polling is switched on
// the stream is read from the start, since a new process numbers its events
// from one again.
func (w *EventWatcher) SetRunning(running bool) {
	w.sw.set(running)
}

func (w *EventWatcher) Serve() {
	stop := w.stopper.begin()
	ctx, cancel := contextUntil(stop)
	defer cancel()

	var (
		since   int
		lastGen uint64
	)
	for {
		gen, ok := w.sw.wait(stop)
		if !ok {
			return
		}
		if gen != lastGen {
			since = 0
			lastGen = gen
		}

		evs, err := w.poll(ctx, since)
		if ctx.Err() != nil {
			return
		}
		if running, cur := w.sw.current(); !running || cur != gen {
			continue
		}
		if err != nil {
			w.log.Debugf("Polling events failed: %v", err)
			select {
			case <-time.After(w.opts.RetryDelay):
			case <-stop:
				return
			}
			continue
		}

		for _, ev := range evs {
			// Ids below the cursor mean Syncthing restarted its event
			// counter.
			if ev.ID < since {
				since = 0
			}
			if ev.ID <= since {
				continue
			}
			since = ev.ID
			w.handleEvent(ctx, ev)
		}
	}
}

func (w *EventWatcher) Stop() {
	w.stopper.end()
}

func (w *EventWatcher) poll(ctx context.Context, since int) ([]api.Event, error) {
	ctx, release := w.sw.pollContext(ctx)
	defer release()
	ctx, cancel := context.WithTimeout(ctx, w.opts.PollTimeout+30*time.Second)
	defer cancel()
	return w.source.Events(ctx, since, w.mask, w.opts.PollTimeout)
}

func (w *EventWatcher) handleEvent(ctx context.Context, ev api.Event) {
	var data map[string]interface{}
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			// Non-object payloads carry nothing read here.
			data = nil
		}
	}

	switch events.UnmarshalEventType(ev.Type) {
	case events.StartupComplete:
		if err := w.listener.StartupComplete(ctx); err != nil {
			w.log.Warningf("Handling startup complete: %v", err)
		}
	case events.DeviceConnected:
		w.listener.DeviceConnected(getStringFromData(data, "id"), getStringFromData(data, "addr"))
	case events.DeviceDisconnected:
		w.listener.DeviceDisconnected(getStringFromData(data, "id"), getStringFromData(data, "error"))
	case events.ItemStarted:
		w.listener.ItemStarted(getStringFromData(data, "folder"), getStringFromData(data, "item"))
	case events.ItemFinished:
		w.listener.ItemFinished(getStringFromData(data, "folder"), getStringFromData(data, "item"))
	case events.LocalIndexUpdated:
		folder := getStringFromData(data, "folder")
		if err := w.listener.LocalIndexUpdated(ctx, folder); err != nil {
			w.log.Warningf("Refreshing folder %s: %v", folder, err)
		}
	case events.StateChanged:
		prev := syncthing.ParseSyncState(getStringFromData(data, "from"))
		next := syncthing.ParseSyncState(getStringFromData(data, "to"))
		if prev != next {
			w.listener.SyncStateChanged(getStringFromData(data, "folder"), prev, next)
		}
	case events.ConfigSaved:
		if err := w.listener.ConfigSaved(ctx); err != nil {
			w.log.Warningf("Reloading folders after config change: %v", err)
		}
	default:
		w.log.Debugf("Ignoring event %d of type %s", ev.ID, ev.Type)
	}
}

func getStringFromData(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
