// Package daemon keeps a Store in sync with its snapshot file while other
// processes write to it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/planindex/internal/events"
	"github.com/msageha/planindex/internal/lock"
	"github.com/msageha/planindex/internal/model"
	"github.com/msageha/planindex/internal/store"
)

const shutdownTimeout = 5 * time.Second

// ErrAlreadyStarted is returned by Run on a Daemon that has already run.
var ErrAlreadyStarted = errors.New("daemon already started")

var loggedEvents = []events.EventType{
	events.EventElementAdded,
	events.EventElementReplaced,
	events.EventElementRemoved,
	events.EventSnapshotReloaded,
}

// Daemon watches the snapshot directory and reloads the store, debounced,
// whenever the snapshot file changes.
type Daemon struct {
	store    *store.Store
	bus      *events.Bus
	snapshot string
	debounce time.Duration
	logLevel model.LogLevel
	logger   *log.Logger

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher
	ready    chan struct{}
	unsubs   []func()

	started  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a daemon for st. bus should be the one st publishes to; its
// events are logged while the daemon runs. It may be nil.
func New(cfg model.Config, st *store.Store, bus *events.Bus, w io.Writer) (*Daemon, error) {
	snapshot, err := filepath.Abs(st.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot path: %w", err)
	}
	debounce := time.Duration(cfg.Watcher.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = model.DefaultDebounceMs * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		store:    st,
		bus:      bus,
		snapshot: snapshot,
		debounce: debounce,
		logLevel: model.ParseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		fileLock: lock.NewFileLock(snapshot + ".daemon.lock"),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Ready is closed once the initial load has finished and the watcher is
// installed.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run blocks until ctx is done, SIGINT/SIGTERM arrives or Shutdown is called.
// Only one daemon may watch a given snapshot, and a Daemon runs at most once.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "daemon starting pid=%d snapshot=%s", os.Getpid(), d.snapshot)
	d.subscribe()

	// a corrupted snapshot is left for the next writer to repair
	err := d.store.Load(d.ctx)
	switch {
	case errors.Is(err, store.ErrSnapshotCorrupt):
		d.log(model.LogLevelWarn, "initial load skipped error=%v", err)
	case err != nil:
		d.cleanup()
		return fmt.Errorf("initial load: %w", err)
	default:
		d.log(model.LogLevelInfo, "initial load size=%d", d.store.Size())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	dir := filepath.Dir(d.snapshot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	d.wg.Add(1)
	go d.fsnotifyLoop()
	close(d.ready)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-runCtx.Done():
		d.log(model.LogLevelInfo, "stop requested: %v", context.Cause(runCtx))
	case <-d.ctx.Done():
	}
	d.Shutdown()
	return nil
}

func (d *Daemon) subscribe() {
	if d.bus == nil {
		return
	}
	for _, et := range loggedEvents {
		d.unsubs = append(d.unsubs, d.bus.Subscribe(et, d.logEvent))
	}
}

func (d *Daemon) logEvent(e events.Event) {
	switch e.Type {
	case events.EventSnapshotReloaded:
		d.log(model.LogLevelDebug, "event type=%s size=%d", e.Type, e.Size)
	case events.EventElementReplaced:
		d.log(model.LogLevelInfo, "event type=%s task=%s element=%s previous=%s size=%d",
			e.Type, e.TaskUID, e.Element.UID, e.Previous.UID, e.Size)
	default:
		d.log(model.LogLevelInfo, "event type=%s task=%s element=%s size=%d", e.Type, e.TaskUID, e.Element.UID, e.Size)
	}
}

func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !d.isSnapshotChange(event) {
				continue
			}
			d.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			d.reload()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) isSnapshotChange(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != d.snapshot {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove)
}

func (d *Daemon) reload() {
	if err := d.store.Reload(d.ctx); err != nil {
		d.log(model.LogLevelError, "reload failed error=%v", err)
		return
	}
	d.log(model.LogLevelInfo, "reloaded size=%d", d.store.Size())
}

// Shutdown stops the watcher and releases the daemon lock. It is safe to
// call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown started")
		d.cancel()
		if d.watcher != nil {
			d.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			d.log(model.LogLevelWarn, "shutdown timeout after %s", shutdownTimeout)
		}

		d.cleanup()
		d.log(model.LogLevelInfo, "daemon stopped")
	})
}

func (d *Daemon) cleanup() {
	for _, unsub := range d.unsubs {
		unsub()
	}
	d.unsubs = nil
	if d.watcher != nil {
		d.watcher.Close()
	}
	if err := d.fileLock.Unlock(); err != nil {
		d.log(model.LogLevelWarn, "unlock error=%v", err)
	}
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
