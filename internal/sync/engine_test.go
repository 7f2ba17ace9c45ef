package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/events"
	"github.com/carelog/carelog/internal/record"
	"github.com/carelog/carelog/internal/store"
)

// fakeProvider is an in-memory cloud backend counting adapter invocations.
// Engine operations are synchronous, so no locking is needed here.
type fakeProvider struct {
	pushes int
	pulls  int

	lastPush []record.Record
	snap     cloud.Snapshot

	pushErr error
	pullErr error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Push(ctx context.Context, deviceID string, ts time.Time, records []record.Record) error {
	f.pushes++
	if f.pushErr != nil {
		return f.pushErr
	}
	f.lastPush = records
	return nil
}

func (f *fakeProvider) Pull(ctx context.Context) (*cloud.Snapshot, error) {
	f.pulls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	snap := f.snap
	return &snap, nil
}

type engineFixture struct {
	engine   *Engine
	store    *store.Store
	bus      *events.Bus
	provider *fakeProvider
	cfg      *config.Manager
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mgr := config.New(filepath.Join(dir, "config.yaml"))
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	bus := events.New(quiet)
	provider := &fakeProvider{}

	return &engineFixture{
		engine:   New(st, bus, mgr, provider, "device-local", quiet),
		store:    st,
		bus:      bus,
		provider: provider,
		cfg:      mgr,
	}
}

// countEvents registers a counter for an event type.
func countEvents(bus *events.Bus, event events.Type) *int {
	n := new(int)
	bus.On(event, func(any) { *n++ })
	return n
}

func remoteRecord(t *testing.T, id string, payload map[string]any, version int64, ts time.Time) record.Record {
	t.Helper()

	category, _, err := record.SplitID(id)
	if err != nil {
		t.Fatalf("bad id %q: %v", id, err)
	}
	sum, err := record.Checksum(payload)
	if err != nil {
		t.Fatalf("checksum failed: %v", err)
	}
	return record.Record{
		ID: id, Category: category, Payload: payload,
		Timestamp: ts, DeviceID: "device-remote", Version: version, Checksum: sum,
	}
}

func TestSaveAssignsVersionsAndQueuesEntries(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	changed := countEvents(f.bus, events.DataChanged)

	first, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("first version = %d, want 1", first.Version)
	}
	if first.DeviceID != "device-local" {
		t.Errorf("deviceID = %s, want device-local", first.DeviceID)
	}

	second, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 75.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}

	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending entries = %d, want 2", len(pending))
	}
	if pending[0].Action != store.ActionCreate || pending[1].Action != store.ActionUpdate {
		t.Errorf("actions = %s, %s; want create then update", pending[0].Action, pending[1].Action)
	}
	if *changed != 2 {
		t.Errorf("dataChanged fired %d times, want 2", *changed)
	}
}

func TestSaveRejectsInvalidPayload(t *testing.T) {
	f := setupEngine(t)

	// The medications schema requires a name field.
	if _, err := f.engine.Save(context.Background(), "medications", "1", map[string]any{"dose": "5mg"}); err == nil {
		t.Error("save accepted payload missing required field")
	}

	pending, err := f.store.PendingEntries(context.Background())
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("rejected save queued %d entries", len(pending))
	}
}

func TestOfflineQueueingThenFlush(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	synced := countEvents(f.bus, events.SyncComplete)

	f.engine.SetOnline(false)

	for i, item := range []string{"a", "b", "c"} {
		if _, err := f.engine.Save(ctx, "health", item, map[string]any{"n": float64(i)}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	// Offline: writes queue locally, the adapter is never touched.
	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("offline sync errored: %v", err)
	}
	if f.provider.pushes != 0 {
		t.Fatalf("adapter invoked %d times while offline", f.provider.pushes)
	}
	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending entries = %d, want 3", len(pending))
	}

	// Back online: one pass drains the whole queue.
	f.engine.SetOnline(true)
	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if f.provider.pushes != 1 {
		t.Errorf("pushes = %d, want exactly 1", f.provider.pushes)
	}
	if len(f.provider.lastPush) != 3 {
		t.Errorf("pushed %d records, want 3", len(f.provider.lastPush))
	}

	pending, err = f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending entries after flush = %d, want 0", len(pending))
	}
	if *synced != 1 {
		t.Errorf("syncComplete fired %d times, want 1", *synced)
	}
}

func TestSyncToCloudIsIdempotent(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if _, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}

	// Nothing pending on the second call, so the adapter sees one push.
	if f.provider.pushes != 1 {
		t.Errorf("pushes = %d, want 1", f.provider.pushes)
	}

	entries, err := f.store.LogEntries(ctx)
	if err != nil {
		t.Fatalf("log entries failed: %v", err)
	}
	for _, e := range entries {
		if e.Status != store.StatusSynced {
			t.Errorf("entry %d status = %s, want synced", e.ID, e.Status)
		}
	}
}

func TestExplicitSyncRetiresOnlyItsEntries(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	recA, err := f.engine.Save(ctx, "health", "a", map[string]any{"n": 1.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := f.engine.Save(ctx, "health", "b", map[string]any{"n": 2.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := f.engine.SyncToCloud(ctx, *recA); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	// The snapshot stays complete even for a targeted sync: dropping b
	// would delete it remotely, since deletions travel as absence.
	if len(f.provider.lastPush) != 2 {
		t.Errorf("pushed %d records, want full snapshot of 2", len(f.provider.lastPush))
	}

	// Only a's log entry is retired; b never reached a push it was part of.
	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending entries = %d, want 1", len(pending))
	}
	if pending[0].DataID != "health:b" {
		t.Errorf("pending entry dataID = %s, want health:b", pending[0].DataID)
	}

	entries, err := f.store.LogEntries(ctx)
	if err != nil {
		t.Fatalf("log entries failed: %v", err)
	}
	for _, e := range entries {
		if e.DataID == "health:a" && e.Status != store.StatusSynced {
			t.Errorf("entry for health:a status = %s, want synced", e.Status)
		}
	}
}

func TestPushFailureKeepsEntriesPending(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	syncErrs := countEvents(f.bus, events.SyncError)
	f.provider.pushErr = errors.New("relay unreachable")

	if _, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// Transport failures surface as events, never as errors that could
	// kill a scheduler.
	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("sync returned error: %v", err)
	}
	if *syncErrs != 1 {
		t.Errorf("syncError fired %d times, want 1", *syncErrs)
	}

	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending entries = %d, want 1 awaiting retry", len(pending))
	}

	// The retry succeeds once transport recovers.
	f.provider.pushErr = nil
	if err := f.engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	pending, err = f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending entries after retry = %d, want 0", len(pending))
	}
}

func TestPullAppliesRemoteRecords(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	pulled := countEvents(f.bus, events.PullComplete)

	f.provider.snap = cloud.Snapshot{
		DeviceID:  "device-remote",
		Timestamp: time.Now().UTC(),
		Records: []record.Record{
			remoteRecord(t, "health:hr", map[string]any{"heartRate": 80.0}, 2, time.Now().UTC()),
		},
	}

	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	got, err := f.engine.Get(ctx, "health", "hr")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("remote record not applied")
	}
	if got.DeviceID != "device-remote" || got.Version != 2 {
		t.Errorf("applied record = %+v, want remote copy as-is", got)
	}
	if *pulled != 1 {
		t.Errorf("pullComplete fired %d times, want 1", *pulled)
	}

	// The pushing device lands in the registry.
	devices, err := f.store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list devices failed: %v", err)
	}
	found := false
	for _, d := range devices {
		if d.ID == "device-remote" {
			found = true
		}
	}
	if !found {
		t.Error("pulling did not register the remote device")
	}
}

func TestPullLatestRemoteNewerWins(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	local, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	f.provider.snap = cloud.Snapshot{
		DeviceID: "device-remote",
		Records: []record.Record{
			remoteRecord(t, "health:hr", map[string]any{"heartRate": 80.0}, 1, local.Timestamp.Add(10*time.Second)),
		},
	}

	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	got, err := f.engine.Get(ctx, "health", "hr")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Payload["heartRate"] != 80.0 {
		t.Errorf("heartRate = %v, want newer remote value 80", got.Payload["heartRate"])
	}
}

func TestPullManualStrategyDefersConflict(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	conflicts := countEvents(f.bus, events.Conflict)

	if err := f.cfg.Update(func(c *config.Config) { c.ConflictResolution = "manual" }); err != nil {
		t.Fatalf("config update failed: %v", err)
	}

	local, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	f.provider.snap = cloud.Snapshot{
		DeviceID: "device-remote",
		Records: []record.Record{
			remoteRecord(t, "health:hr", map[string]any{"heartRate": 80.0}, 3, local.Timestamp.Add(time.Minute)),
		},
	}

	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	// Neither copy was persisted: the local record is untouched.
	got, err := f.engine.Get(ctx, "health", "hr")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Payload["heartRate"] != 72.0 || got.Version != local.Version {
		t.Errorf("local record modified under manual strategy: %+v", got)
	}

	if *conflicts != 1 {
		t.Errorf("conflict fired %d times, want 1", *conflicts)
	}

	entries, err := f.store.LogEntries(ctx)
	if err != nil {
		t.Fatalf("log entries failed: %v", err)
	}
	var conflictEntries int
	for _, e := range entries {
		if e.Status == store.StatusConflict {
			conflictEntries++
			if e.DataID != "health:hr" {
				t.Errorf("conflict entry dataID = %s, want health:hr", e.DataID)
			}
		}
	}
	if conflictEntries != 1 {
		t.Errorf("conflict log entries = %d, want 1", conflictEntries)
	}
}

func TestRepeatedManualPullLogsConflictOnce(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	conflicts := countEvents(f.bus, events.Conflict)

	if err := f.cfg.Update(func(c *config.Config) { c.ConflictResolution = "manual" }); err != nil {
		t.Fatalf("config update failed: %v", err)
	}

	local, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	f.provider.snap = cloud.Snapshot{
		DeviceID: "device-remote",
		Records: []record.Record{
			remoteRecord(t, "health:hr", map[string]any{"heartRate": 80.0}, 3, local.Timestamp.Add(time.Minute)),
		},
	}

	// The same unresolved divergence arrives on every scheduled pull.
	// It stays one open conflict, not one per pass.
	for i := 0; i < 3; i++ {
		if err := f.engine.PullFromCloud(ctx); err != nil {
			t.Fatalf("pull %d failed: %v", i, err)
		}
	}

	if *conflicts != 1 {
		t.Errorf("conflict fired %d times, want 1", *conflicts)
	}

	countConflicts := func() int {
		entries, err := f.store.LogEntries(ctx)
		if err != nil {
			t.Fatalf("log entries failed: %v", err)
		}
		n := 0
		for _, e := range entries {
			if e.Status == store.StatusConflict {
				n++
			}
		}
		return n
	}
	if got := countConflicts(); got != 1 {
		t.Errorf("conflict log entries = %d, want 1", got)
	}

	// A changed remote copy is a new divergence and gets its own entry.
	f.provider.snap.Records = []record.Record{
		remoteRecord(t, "health:hr", map[string]any{"heartRate": 90.0}, 4, local.Timestamp.Add(2*time.Minute)),
	}
	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if *conflicts != 2 {
		t.Errorf("conflict fired %d times after new divergence, want 2", *conflicts)
	}
	if got := countConflicts(); got != 2 {
		t.Errorf("conflict log entries = %d after new divergence, want 2", got)
	}
}

func TestPullSkipsOwnEchoes(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	echo := remoteRecord(t, "health:hr", map[string]any{"heartRate": 99.0}, 7, time.Now().UTC())
	echo.DeviceID = "device-local"
	f.provider.snap = cloud.Snapshot{DeviceID: "device-remote", Records: []record.Record{echo}}

	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	got, err := f.engine.Get(ctx, "health", "hr")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("own echo was applied: %+v", got)
	}
}

func TestPullSkipsDisabledCategories(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if err := f.cfg.Update(func(c *config.Config) { c.SyncCategories = []string{"medications"} }); err != nil {
		t.Fatalf("config update failed: %v", err)
	}

	f.provider.snap = cloud.Snapshot{
		DeviceID: "device-remote",
		Records: []record.Record{
			remoteRecord(t, "health:hr", map[string]any{"heartRate": 80.0}, 1, time.Now().UTC()),
			remoteRecord(t, "medications:aspirin", map[string]any{"name": "aspirin"}, 1, time.Now().UTC()),
		},
	}

	if err := f.engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull failed: %v", err)
	}

	if got, _ := f.engine.Get(ctx, "health", "hr"); got != nil {
		t.Error("record from disabled category was applied")
	}
	if got, _ := f.engine.Get(ctx, "medications", "aspirin"); got == nil {
		t.Error("record from enabled category was not applied")
	}
}

func TestPullFailureIsSwallowed(t *testing.T) {
	f := setupEngine(t)
	pullErrs := countEvents(f.bus, events.PullError)
	f.provider.pullErr = errors.New("endpoint down")

	if err := f.engine.PullFromCloud(context.Background()); err != nil {
		t.Fatalf("pull returned error: %v", err)
	}
	if *pullErrs != 1 {
		t.Errorf("pullError fired %d times, want 1", *pullErrs)
	}
}

func TestNilProviderDisablesSync(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	quiet := log.New(io.Discard, "", 0)
	engine := New(f.store, f.bus, f.cfg, nil, "device-local", quiet)

	if _, err := engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := engine.SyncToCloud(ctx); err != nil {
		t.Fatalf("sync errored: %v", err)
	}
	if err := engine.PullFromCloud(ctx); err != nil {
		t.Fatalf("pull errored: %v", err)
	}

	// Local writes still queue for a future provider.
	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending entries = %d, want 1", len(pending))
	}
}

func TestDeleteQueuesEntryAndMissingIsNoOp(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	deleted := countEvents(f.bus, events.DataDeleted)

	if _, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := f.engine.Delete(ctx, "health", "hr"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got, _ := f.engine.Get(ctx, "health", "hr"); got != nil {
		t.Error("record survived delete")
	}
	if *deleted != 1 {
		t.Errorf("dataDeleted fired %d times, want 1", *deleted)
	}

	// Deleting again is a quiet no-op: no entry, no event.
	if err := f.engine.Delete(ctx, "health", "hr"); err != nil {
		t.Fatalf("second delete errored: %v", err)
	}
	if *deleted != 1 {
		t.Errorf("dataDeleted fired %d times after no-op delete, want still 1", *deleted)
	}

	pending, err := f.store.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending entries = %d, want create+delete", len(pending))
	}
	if pending[1].Action != store.ActionDelete {
		t.Errorf("last action = %s, want delete", pending[1].Action)
	}
}

func TestSetOnlineEmitsTransitionsOnce(t *testing.T) {
	f := setupEngine(t)
	online := countEvents(f.bus, events.Online)
	offline := countEvents(f.bus, events.Offline)

	f.engine.SetOnline(false)
	f.engine.SetOnline(false) // no transition
	f.engine.SetOnline(true)
	f.engine.SetOnline(true) // no transition

	if *offline != 1 || *online != 1 {
		t.Errorf("transitions = %d offline, %d online; want 1 and 1", *offline, *online)
	}
}

func TestClearAllWipesRecordsOnly(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	cleared := countEvents(f.bus, events.DataCleared)

	if _, err := f.engine.Save(ctx, "health", "hr", map[string]any{"heartRate": 72.0}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := f.engine.ClearAll(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	count, err := f.store.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("records after clear = %d, want 0", count)
	}
	if *cleared != 1 {
		t.Errorf("dataCleared fired %d times, want 1", *cleared)
	}

	// The audit trail survives the wipe.
	entries, err := f.store.LogEntries(ctx)
	if err != nil {
		t.Fatalf("log entries failed: %v", err)
	}
	if len(entries) == 0 {
		t.Error("sync log wiped by clearAll")
	}
}
