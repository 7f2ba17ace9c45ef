package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/events"
	"github.com/carelog/carelog/internal/record"
	"github.com/carelog/carelog/internal/store"
)

// Engine orchestrates synchronization between the local store and the
// configured cloud provider.
//
// One engine instance exists per process and is constructed explicitly at
// startup; consumers receive it by reference. All local mutations go through
// the engine so that every write bumps the version counter, recomputes the
// checksum, appends a sync log entry and notifies subscribers.
//
// Execution model: callers invoke operations from a single logical thread
// of control (timer callbacks, connectivity callbacks, explicit calls).
// A sync pass never overlaps with itself; a trigger arriving while a pass is
// in flight is dropped, not queued, to prevent duplicate push/pull races
// against the same remote snapshot.
type Engine struct {
	store    *store.Store
	bus      *events.Bus
	cfg      *config.Manager
	provider cloud.Provider // nil when no provider is configured
	deviceID string
	logger   *log.Logger

	online  atomic.Bool
	syncing atomic.Bool

	// now is the engine's clock; replaced in tests.
	now func() time.Time
}

// New creates a sync engine.
//
// provider may be nil, which disables all push/pull operations (local writes
// still queue in the sync log). If logger is nil, a default logger writing
// to stderr is used.
func New(st *store.Store, bus *events.Bus, cfg *config.Manager, provider cloud.Provider, deviceID string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	e := &Engine{
		store:    st,
		bus:      bus,
		cfg:      cfg,
		provider: provider,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
	}
	e.online.Store(true)
	return e
}

// DeviceID returns the local device identity the engine writes with.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Online reports the current connectivity flag.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// SetOnline updates the connectivity flag from the environment's
// connectivity signal, emitting online/offline events on transitions.
func (e *Engine) SetOnline(online bool) {
	prev := e.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		e.logger.Printf("connectivity restored")
		e.bus.Emit(events.Online, nil)
	} else {
		e.logger.Printf("connectivity lost")
		e.bus.Emit(events.Offline, nil)
	}
}

// Save writes a record locally: validates the payload, assigns the next
// version and checksum, persists, queues a sync log entry and emits
// dataChanged. Returns the stored record.
func (e *Engine) Save(ctx context.Context, category, itemID string, payload map[string]any) (*record.Record, error) {
	if err := record.ValidatePayload(category, payload); err != nil {
		return nil, err
	}

	id := record.ComposeID(category, itemID)
	current, err := e.store.CurrentVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	sum, err := record.Checksum(payload)
	if err != nil {
		return nil, err
	}

	rec := record.Record{
		ID:        id,
		Category:  category,
		Payload:   payload,
		Timestamp: e.now().UTC(),
		DeviceID:  e.deviceID,
		Version:   record.NextVersion(current),
		Checksum:  sum,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	action := store.ActionUpdate
	if current == 0 {
		action = store.ActionCreate
	}
	if _, err := e.store.AppendLog(ctx, action, id, category, e.deviceID); err != nil {
		return nil, err
	}

	e.bus.Emit(events.DataChanged, events.DataChangedEvent{Category: category, ID: id})
	return &rec, nil
}

// Get returns a record by category and item id, or nil if absent.
func (e *Engine) Get(ctx context.Context, category, itemID string) (*record.Record, error) {
	return e.store.Get(ctx, record.ComposeID(category, itemID))
}

// AllByCategory returns all records in a category.
func (e *Engine) AllByCategory(ctx context.Context, category string) ([]record.Record, error) {
	return e.store.AllByCategory(ctx, category)
}

// Delete removes a record locally, queues a delete log entry and emits
// dataDeleted. Deleting a missing record is a no-op.
func (e *Engine) Delete(ctx context.Context, category, itemID string) error {
	id := record.ComposeID(category, itemID)

	existing, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := e.store.AppendLog(ctx, store.ActionDelete, id, category, e.deviceID); err != nil {
		return err
	}

	e.bus.Emit(events.DataDeleted, events.DataChangedEvent{Category: category, ID: id})
	return nil
}

// ClearAll wipes every record from the store and emits dataCleared.
// The sync log and device registry are untouched.
func (e *Engine) ClearAll(ctx context.Context) error {
	if err := e.store.DeleteAll(ctx); err != nil {
		return err
	}
	e.bus.Emit(events.DataCleared, nil)
	return nil
}

// SyncToCloud pushes local changes to the cloud provider.
//
// With no explicit records, every pending sync log entry is covered; an
// explicit subset retires only the entries for those ids, though the
// uploaded snapshot always carries the full enabled-category record set.
// Offline or unconfigured states are quiet no-ops: the change
// stays pending and is retried on a later cycle, which is expected, not an
// error. Transport failures are converted into syncError events and
// swallowed so they can never kill a periodic scheduler; entries stay
// pending for the retry.
func (e *Engine) SyncToCloud(ctx context.Context, records ...record.Record) error {
	if !e.beginPass("push") {
		return nil
	}
	defer e.endPass()

	return e.push(ctx, records)
}

// PullFromCloud fetches the remote snapshot and reconciles every remote
// record against its local counterpart via the configured strategy.
// Offline or unconfigured states are quiet no-ops.
func (e *Engine) PullFromCloud(ctx context.Context) error {
	if !e.beginPass("pull") {
		return nil
	}
	defer e.endPass()

	return e.pull(ctx)
}

// SyncPass runs a full push+pull pass under a single non-overlap guard.
// This is what the auto-sync scheduler fires.
func (e *Engine) SyncPass(ctx context.Context) error {
	if !e.beginPass("sync pass") {
		return nil
	}
	defer e.endPass()

	if err := e.push(ctx, nil); err != nil {
		return err
	}
	return e.pull(ctx)
}

// beginPass claims the single in-flight sync slot. A trigger that loses the
// race is dropped rather than queued.
func (e *Engine) beginPass(op string) bool {
	if e.provider == nil {
		return false
	}
	if !e.online.Load() {
		e.logger.Printf("offline, skipping %s", op)
		return false
	}
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Printf("%s dropped: a sync pass is already in flight", op)
		return false
	}
	return true
}

func (e *Engine) endPass() {
	e.syncing.Store(false)
}

// push uploads the snapshot and marks the covered log entries synced.
func (e *Engine) push(ctx context.Context, explicit []record.Record) error {
	cfg := e.cfg.Get()

	pending, err := e.store.PendingEntries(ctx)
	if err != nil {
		return err
	}

	// Entries covered by this push: pending mutations in enabled
	// categories, narrowed to the explicit ids when a subset was given.
	// Entries outside the subset stay pending; marking them synced would
	// retire changes that never reached the remote. Deletes carry no
	// record; pushing the snapshot without the record conveys the
	// deletion.
	pushed := map[string]bool{}
	for _, rec := range explicit {
		pushed[rec.ID] = true
	}

	var entryIDs []int64
	for _, entry := range pending {
		if !cfg.CategoryEnabled(entry.Category) {
			continue
		}
		if explicit != nil && !pushed[entry.DataID] {
			continue
		}
		entryIDs = append(entryIDs, entry.ID)
	}

	if explicit == nil && len(entryIDs) == 0 {
		return nil // nothing to push, nothing to report
	}

	// Always upload the full snapshot of enabled categories so the remote
	// copy stays complete; explicit records override their stored copies.
	all, err := e.store.All(ctx)
	if err != nil {
		return err
	}
	records := make([]record.Record, 0, len(all)+len(explicit))
	for _, rec := range all {
		if !cfg.CategoryEnabled(rec.Category) || pushed[rec.ID] {
			continue
		}
		records = append(records, rec)
	}
	records = append(records, explicit...)

	if err := e.provider.Push(ctx, e.deviceID, e.now().UTC(), records); err != nil {
		e.logger.Printf("push failed, entries stay pending: %v", err)
		e.bus.Emit(events.SyncError, events.SyncErrorEvent{Err: err})
		return nil
	}

	if err := e.store.MarkSynced(ctx, entryIDs); err != nil {
		return err
	}

	e.logger.Printf("pushed %d records, %d log entries synced", len(records), len(entryIDs))
	e.bus.Emit(events.SyncComplete, events.SyncCompleteEvent{ItemsSynced: len(entryIDs)})
	return nil
}

// pull downloads the remote snapshot and applies conflict resolution
// decisions to the store.
func (e *Engine) pull(ctx context.Context) error {
	cfg := e.cfg.Get()
	strategy := Strategy(cfg.ConflictResolution)

	snap, err := e.provider.Pull(ctx)
	if err != nil {
		e.logger.Printf("pull failed: %v", err)
		e.bus.Emit(events.PullError, events.PullErrorEvent{Err: err})
		return nil
	}

	applied := 0
	for _, remote := range snap.Records {
		if !cfg.CategoryEnabled(remote.Category) {
			continue
		}
		if remote.DeviceID == e.deviceID {
			// Our own echo; the checksum no-op rule would skip it anyway,
			// but there is nothing to reconcile.
			continue
		}

		local, err := e.store.Get(ctx, remote.ID)
		if err != nil {
			return err
		}

		resolution, err := Resolve(local, remote, strategy, e.deviceID, e.now().UTC())
		if err != nil {
			// Fatal to this record only; the pass continues.
			e.logger.Printf("failed to resolve %s: %v", remote.ID, err)
			continue
		}

		switch resolution.Action {
		case ActionApply:
			if err := e.store.Put(ctx, *resolution.Record); err != nil {
				e.logger.Printf("failed to apply %s: %v", remote.ID, err)
				continue
			}
			applied++
			e.bus.Emit(events.DataChanged, events.DataChangedEvent{
				Category: resolution.Record.Category,
				ID:       resolution.Record.ID,
			})

		case ActionConflict:
			// The message carries both checksums, so the same unresolved
			// divergence maps to the same entry across passes while a
			// changed copy on either side logs a fresh conflict.
			msg := fmt.Sprintf("manual resolution required: local v%d (%s) vs remote v%d (%s) from %s",
				local.Version, local.Checksum, remote.Version, remote.Checksum, remote.DeviceID)
			logged, err := e.store.HasConflictEntry(ctx, remote.ID, msg)
			if err != nil {
				return err
			}
			if logged {
				continue
			}
			if _, err := e.store.AppendConflictLog(ctx, remote.ID, remote.Category, e.deviceID, msg); err != nil {
				return err
			}
			e.logger.Printf("conflict on %s deferred to manual resolution", remote.ID)
			e.bus.Emit(events.Conflict, events.ConflictEvent{Local: local, Remote: remote})
		}
	}

	if snap.DeviceID != "" && snap.DeviceID != e.deviceID {
		// Track the pushing device in the registry.
		_ = e.store.UpsertDevice(ctx, store.Device{
			ID:          snap.DeviceID,
			Name:        snap.DeviceID,
			Platform:    "unknown",
			LastSeen:    snap.Timestamp,
			SyncEnabled: true,
		})
	}

	e.logger.Printf("pulled %d records, %d applied", len(snap.Records), applied)
	e.bus.Emit(events.PullComplete, events.PullCompleteEvent{ItemsPulled: applied})
	return nil
}
