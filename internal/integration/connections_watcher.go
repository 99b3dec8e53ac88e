package integration

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"synctray-agent/internal/api"
	"synctray-agent/internal/logger"
	"synctray-agent/internal/syncthing"
)

// ConnectionsSource returns the current connection snapshot.
type ConnectionsSource interface {
	Connections(ctx context.Context) (*api.Connections, error)
}

// ConnectionsWatcher polls connection totals while switched on and reports
// aggregate byte counters and transfer rates. It is a suture service.
type ConnectionsWatcher struct {
	source   ConnectionsSource
	listener syncthing.ConnectionsListener
	log      logger.Logger
	interval time.Duration
	now      func() time.Time

	sw      *runSwitch
	stopper stopper

	// Only touched by the Serve goroutine.
	prev     *sample
	prevGen  uint64
	reported syncthing.ConnectionStats
}

type sample struct {
	at      time.Time
	in, out int64
}

var _ syncthing.Watcher = (*ConnectionsWatcher)(nil)

func NewConnectionsWatcher(source ConnectionsSource, log logger.Logger, interval time.Duration) *ConnectionsWatcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ConnectionsWatcher{
		source:   source,
		log:      log,
		interval: interval,
		now:      time.Now,
		sw:       newRunSwitch(),
	}
}

// SetListener must be called before Serve.
func (w *ConnectionsWatcher) SetListener(l syncthing.ConnectionsListener) {
	w.listener = l
}

func (w *ConnectionsWatcher) SetRunning(running bool) {
	w.sw.set(running)
}

func (w *ConnectionsWatcher) Serve() {
	stop := w.stopper.begin()
	ctx, cancel := contextUntil(stop)
	defer cancel()

	for {
		gen, ok := w.sw.wait(stop)
		if !ok {
			return
		}
		if gen != w.prevGen {
			w.prev = nil
			w.prevGen = gen
		}

		if err := w.pollOnce(ctx, gen); err != nil && ctx.Err() == nil {
			w.log.Debugf("Polling connections failed: %v", err)
		}

		select {
		case <-time.After(w.interval):
		case <-stop:
			return
		}
	}
}

func (w *ConnectionsWatcher) Stop() {
	w.stopper.end()
}

func (w *ConnectionsWatcher) pollOnce(ctx context.Context, gen uint64) error {
	ctx, release := w.sw.pollContext(ctx)
	defer release()

	conns, err := w.source.Connections(ctx)
	if err != nil {
		return err
	}
	if running, cur := w.sw.current(); !running || cur != gen {
		return nil
	}

	stats := w.update(conns.Total)
	if sameTransfer(stats, w.reported) {
		return nil
	}
	w.reported = stats
	w.log.Debugf("Transfer totals: in %s (%s/s), out %s (%s/s)",
		humanize.Bytes(uint64(stats.InBytesTotal)), humanize.Bytes(uint64(stats.InBytesPerSecond)),
		humanize.Bytes(uint64(stats.OutBytesTotal)), humanize.Bytes(uint64(stats.OutBytesPerSecond)))
	w.listener.ConnectionStatsChanged(stats)
	return nil
}

// update folds a new total into the running sample and derives rates from
// the previous one.
func (w *ConnectionsWatcher) update(total api.ConnectionTotal) syncthing.ConnectionStats {
	at := total.At
	if at.IsZero() {
		at = w.now()
	}
	cur := &sample{at: at, in: total.InBytesTotal, out: total.OutBytesTotal}
	stats := syncthing.ConnectionStats{
		At:            at,
		InBytesTotal:  cur.in,
		OutBytesTotal: cur.out,
	}

	if p := w.prev; p != nil {
		elapsed := cur.at.Sub(p.at).Seconds()
		if elapsed > 0 && cur.in >= p.in && cur.out >= p.out {
			stats.InBytesPerSecond = float64(cur.in-p.in) / elapsed
			stats.OutBytesPerSecond = float64(cur.out-p.out) / elapsed
		}
	}
	w.prev = cur
	return stats
}

func sameTransfer(a, b syncthing.ConnectionStats) bool {
	a.At, b.At = time.Time{}, time.Time{}
	return a == b
}
