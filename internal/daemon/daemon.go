// Package daemon provides the long-running auto-sync process.
//
// The daemon:
// 1. Runs periodic sync passes while auto-sync is enabled
// 2. Probes connectivity and feeds transitions into the engine
// 3. Flushes the pending queue immediately when connectivity returns
// 4. Watches the config file and applies changes without a restart
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/events"
	syncengine "github.com/carelog/carelog/internal/sync"
)

// Options holds tunables for the daemon.
type Options struct {
	// ProbeInterval is how often connectivity is probed.
	ProbeInterval time.Duration

	// SyncInterval, when non-zero, fixes the scheduler period instead of
	// deriving it from the sync_interval_minutes setting.
	SyncInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		ProbeInterval: 30 * time.Second,
		Logger:        log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the auto-sync scheduler, connectivity probing and
// live config reloads around a sync engine.
type Daemon struct {
	engine *syncengine.Engine
	cfg    *config.Manager
	bus    *events.Bus
	prober Prober
	opts   *Options

	watcher *fsnotify.Watcher
	reload  chan struct{}
	metered atomic.Bool

	onlineSub *events.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon around an engine.
//
// prober may be nil, which disables connectivity probing; the engine then
// keeps whatever online state callers set explicitly.
// Use Start() to begin scheduling.
func New(engine *syncengine.Engine, cfg *config.Manager, bus *events.Bus, prober Prober, opts *Options) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config manager cannot be nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:  engine,
		cfg:     cfg,
		bus:     bus,
		prober:  prober,
		opts:    opts,
		watcher: watcher,
		reload:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Watch the config file directory for changes
// 2. Probe connectivity on a fixed interval
// 3. Run sync passes on the configured interval while auto-sync is on
// 4. Run an immediate pass when connectivity returns
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.opts.Logger.Println("Starting daemon")

	// Watch the config directory, not the file: editors and viper replace
	// the file on write, which would orphan a file-level watch.
	cfgDir := filepath.Dir(d.cfg.Path())
	if err := d.watcher.Add(cfgDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	d.opts.Logger.Printf("Watching config: %s", d.cfg.Path())

	// The pending queue drains as soon as connectivity returns.
	d.onlineSub = d.bus.On(events.Online, func(any) {
		d.opts.Logger.Println("Connectivity restored, flushing pending queue")
		if err := d.engine.SyncPass(d.ctx); err != nil {
			d.opts.Logger.Printf("Flush pass failed: %v", err)
		}
	})

	d.wg.Add(3)
	go d.watchConfigEvents()
	go d.probeLoop()
	go d.scheduleLoop()

	select {
	case <-ctx.Done():
		d.opts.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.opts.Logger.Println("Stopping daemon")

	d.cancel()
	d.bus.Off(d.onlineSub)

	if err := d.watcher.Close(); err != nil {
		d.opts.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.opts.Logger.Println("Daemon stopped")
	return nil
}

// syncInterval returns the active scheduler period.
func (d *Daemon) syncInterval() time.Duration {
	if d.opts.SyncInterval > 0 {
		return d.opts.SyncInterval
	}
	return time.Duration(d.cfg.Get().SyncIntervalMinutes) * time.Minute
}

// scheduleLoop runs periodic sync passes, restarting the ticker whenever a
// config reload changes the interval.
func (d *Daemon) scheduleLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.syncInterval())
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-d.reload:
			ticker.Reset(d.syncInterval())
			d.opts.Logger.Printf("Scheduler interval now %s", d.syncInterval())

		case <-ticker.C:
			d.runScheduledPass()
		}
	}
}

// runScheduledPass runs one pass if the configuration allows it.
func (d *Daemon) runScheduledPass() {
	cfg := d.cfg.Get()
	if !cfg.AutoSync {
		return
	}
	if cfg.SyncOnWifiOnly && d.metered.Load() {
		d.opts.Logger.Println("Skipping pass: metered connection and wifi-only is set")
		return
	}

	if err := d.engine.SyncPass(d.ctx); err != nil {
		d.opts.Logger.Printf("Scheduled pass failed: %v", err)
	}
}

// probeLoop periodically checks connectivity and feeds the result to the
// engine. The engine emits online/offline transitions itself.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	if d.prober == nil {
		return
	}

	ticker := time.NewTicker(d.opts.ProbeInterval)
	defer ticker.Stop()

	d.probeOnce()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.probeOnce()
		}
	}
}

func (d *Daemon) probeOnce() {
	state := d.prober.Probe(d.ctx)
	d.metered.Store(state.Metered)
	d.engine.SetOnline(state.Online)
}

// watchConfigEvents reloads the configuration when its file changes on disk.
func (d *Daemon) watchConfigEvents() {
	defer d.wg.Done()

	cfgFile := filepath.Clean(d.cfg.Path())

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cfgFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if _, err := d.cfg.Load(); err != nil {
				d.opts.Logger.Printf("Ignoring invalid config change: %v", err)
				continue
			}
			d.opts.Logger.Println("Config reloaded")

			// Coalesce bursts; the scheduler picks up the latest interval.
			select {
			case d.reload <- struct{}{}:
			default:
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.opts.Logger.Printf("Watcher error: %v", err)
		}
	}
}
