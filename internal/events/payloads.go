package events

import "github.com/carelog/carelog/internal/record"

// DataChangedEvent accompanies DataChanged and DataDeleted.
type DataChangedEvent struct {
	Category string
	ID       string
}

// SyncCompleteEvent accompanies SyncComplete.
type SyncCompleteEvent struct {
	ItemsSynced int
}

// SyncErrorEvent accompanies SyncError.
type SyncErrorEvent struct {
	Err error
}

// PullCompleteEvent accompanies PullComplete.
type PullCompleteEvent struct {
	ItemsPulled int
}

// PullErrorEvent accompanies PullError.
type PullErrorEvent struct {
	Err error
}

// ConflictEvent accompanies Conflict. Local is nil when the conflict was
// raised without a local counterpart (should not happen in practice; absent
// local records are applied unconditionally).
type ConflictEvent struct {
	Local  *record.Record
	Remote record.Record
}

// ImportCompleteEvent accompanies ImportComplete.
type ImportCompleteEvent struct {
	ItemsImported int
}

// ImportErrorEvent accompanies ImportError.
type ImportErrorEvent struct {
	Err error
}
