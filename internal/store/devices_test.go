package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureLocalDeviceIsStable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "devices.db")
	ctx := context.Background()

	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	first, err := st.EnsureLocalDevice(ctx, "laptop", "linux")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("no device id generated")
	}
	if !first.SyncEnabled {
		t.Error("new local device should have sync enabled")
	}

	// Same process, same identity.
	again, err := st.EnsureLocalDevice(ctx, "laptop", "linux")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("device id changed within installation: %s != %s", again.ID, first.ID)
	}

	// Survives reopen: the id is persisted, not regenerated.
	if err := st.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	st, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	reopened, err := st.EnsureLocalDevice(ctx, "laptop-renamed", "linux")
	if err != nil {
		t.Fatalf("ensure after reopen failed: %v", err)
	}
	if reopened.ID != first.ID {
		t.Errorf("device id changed across reopen: %s != %s", reopened.ID, first.ID)
	}
	if reopened.Name != "laptop-renamed" {
		t.Errorf("metadata not refreshed: name = %s", reopened.Name)
	}
}

func TestUpsertAndListDevices(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	local, err := st.EnsureLocalDevice(ctx, "laptop", "linux")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	remote := Device{
		ID:          "remote-phone",
		Name:        "phone",
		Platform:    "android",
		LastSeen:    time.Now().UTC().Add(-time.Hour),
		SyncEnabled: true,
		PushToken:   "tok-123",
	}
	if err := st.UpsertDevice(ctx, remote); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// Re-upserting refreshes metadata.
	remote.Name = "pixel"
	if err := st.UpsertDevice(ctx, remote); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	devices, err := st.ListDevices(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}

	byID := map[string]Device{}
	for _, d := range devices {
		byID[d.ID] = d
	}
	if _, ok := byID[local.ID]; !ok {
		t.Error("local device missing from listing")
	}
	if got := byID["remote-phone"]; got.Name != "pixel" || got.PushToken != "tok-123" {
		t.Errorf("remote device not refreshed: %+v", got)
	}
}

func TestUpsertDeviceCannotOverwriteLocal(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	local, err := st.EnsureLocalDevice(ctx, "laptop", "linux")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	// A snapshot from another device may carry our own id; the local row
	// must win.
	impostor := Device{ID: local.ID, Name: "impostor", Platform: "unknown", LastSeen: time.Now()}
	if err := st.UpsertDevice(ctx, impostor); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := st.EnsureLocalDevice(ctx, "", "")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if got.Name != "laptop" {
		t.Errorf("local device overwritten: name = %s", got.Name)
	}
}
