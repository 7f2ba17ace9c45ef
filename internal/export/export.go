// Package export reads and writes versioned backup documents containing the
// full record set, the device registry and the sync configuration.
//
// Import is a restore path, not a sync path: records are written to the
// store directly without conflict resolution.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/events"
	"github.com/carelog/carelog/internal/record"
	"github.com/carelog/carelog/internal/store"
)

// FormatVersion identifies the document layout. Importers reject documents
// from a newer major version.
const FormatVersion = "5.0.0"

// Document is the backup file layout.
type Document struct {
	Version    string          `json:"version"`
	ExportDate time.Time       `json:"exportDate"`
	DeviceID   string          `json:"deviceId"`
	Data       []record.Record `json:"data"`
	Devices    []store.Device  `json:"devices,omitempty"`
	Config     *config.Config  `json:"config,omitempty"`
}

// Exporter writes backup documents from the store.
type Exporter struct {
	store    *store.Store
	cfg      *config.Manager
	deviceID string
}

// NewExporter creates an exporter. cfg may be nil, which omits the config
// section from the document.
func NewExporter(st *store.Store, cfg *config.Manager, deviceID string) *Exporter {
	return &Exporter{store: st, cfg: cfg, deviceID: deviceID}
}

// Export writes the full backup document to w as indented JSON.
func (e *Exporter) Export(ctx context.Context, w io.Writer) error {
	data, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	devices, err := e.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to read devices: %w", err)
	}

	doc := Document{
		Version:    FormatVersion,
		ExportDate: time.Now().UTC(),
		DeviceID:   e.deviceID,
		Data:       data,
		Devices:    devices,
	}
	if e.cfg != nil {
		cfg := e.cfg.Get()
		doc.Config = &cfg
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write export document: %w", err)
	}
	return nil
}

// Importer restores backup documents into the store.
type Importer struct {
	store *store.Store
	cfg   *config.Manager
	bus   *events.Bus
}

// NewImporter creates an importer. cfg may be nil, which skips any config
// section carried by the document.
func NewImporter(st *store.Store, cfg *config.Manager, bus *events.Bus) *Importer {
	return &Importer{store: st, cfg: cfg, bus: bus}
}

// Import reads a backup document from r and writes its records to the
// store, bypassing conflict resolution.
//
// Each record succeeds or fails on its own; one malformed record does not
// abort the rest. The reported count includes only records actually
// written. A document that cannot be parsed at all imports nothing and
// emits importError.
func (i *Importer) Import(ctx context.Context, r io.Reader) (int, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		err = fmt.Errorf("failed to parse import document: %w", err)
		i.bus.Emit(events.ImportError, events.ImportErrorEvent{Err: err})
		return 0, err
	}
	if err := checkVersion(doc.Version); err != nil {
		i.bus.Emit(events.ImportError, events.ImportErrorEvent{Err: err})
		return 0, err
	}

	imported := 0
	var firstErr error
	for _, rec := range doc.Data {
		if err := i.store.Put(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to import %s: %w", rec.ID, err)
			}
			continue
		}
		imported++
		i.bus.Emit(events.DataChanged, events.DataChangedEvent{
			Category: rec.Category,
			ID:       rec.ID,
		})
	}

	for _, dev := range doc.Devices {
		// Registry entries are best-effort; the local identity row wins.
		_ = i.store.UpsertDevice(ctx, dev)
	}

	if doc.Config != nil && i.cfg != nil {
		if err := i.cfg.Apply(*doc.Config); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to apply imported config: %w", err)
		}
	}

	if firstErr != nil {
		i.bus.Emit(events.ImportError, events.ImportErrorEvent{Err: firstErr})
	}
	i.bus.Emit(events.ImportComplete, events.ImportCompleteEvent{ItemsImported: imported})
	return imported, firstErr
}

// checkVersion accepts documents whose major version matches ours.
func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("import document has no version")
	}
	if major(v) != major(FormatVersion) {
		return fmt.Errorf("unsupported document version %s (want %s.x)", v, major(FormatVersion))
	}
	return nil
}

func major(v string) string {
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return v[:i]
		}
	}
	return v
}
