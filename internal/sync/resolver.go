// Package sync implements the cross-device synchronization engine: conflict
// resolution between local and remote record copies, and the push/pull
// orchestration against a cloud provider.
package sync

import (
	"fmt"
	"time"

	"github.com/carelog/carelog/internal/record"
)

// Strategy is the policy governing how divergent local/remote copies of a
// record are reconciled.
type Strategy string

const (
	// StrategyLatest keeps whichever copy has the greater timestamp.
	// Ties favor the local copy, preferring stability over remote clock skew.
	StrategyLatest Strategy = "latest"

	// StrategyMerge recursively merges the remote payload over the local one.
	StrategyMerge Strategy = "merge"

	// StrategyManual persists neither copy and defers resolution to the
	// caller via a conflict log entry and event.
	StrategyManual Strategy = "manual"
)

// IsValid returns true if the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyLatest, StrategyMerge, StrategyManual:
		return true
	default:
		return false
	}
}

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// Action is the decision a resolution reaches.
type Action int

const (
	// ActionNone keeps the local copy unchanged. No events fire.
	ActionNone Action = iota
	// ActionApply persists Resolution.Record to the store.
	ActionApply
	// ActionConflict persists neither copy: the divergence is logged and
	// surfaced as a conflict event for the caller to resolve explicitly.
	ActionConflict
)

// Resolution is the outcome of resolving one remote record against its
// local counterpart.
type Resolution struct {
	Action Action

	// Record is the record to persist when Action is ActionApply.
	Record *record.Record
}

// Resolve decides the reconciled value for a record per the configured
// strategy.
//
// The decision is deterministic: identical (local, remote, strategy) inputs
// always yield the identical output. Wall-clock time enters only through the
// caller-supplied now, which stamps merged records.
//
// Rules, in order:
//   - absent local: accept remote unconditionally (no conflict possible)
//   - equal checksums: no-op; content is identical regardless of
//     version/timestamp, so neither versions bump nor events fire
//   - otherwise the strategy decides
//
// Under StrategyLatest a winning remote record is applied as-is, its own
// version trusted unchanged.
func Resolve(local *record.Record, remote record.Record, strategy Strategy, localDeviceID string, now time.Time) (Resolution, error) {
	if !strategy.IsValid() {
		return Resolution{}, fmt.Errorf("unknown conflict resolution strategy %q", strategy)
	}

	if local == nil {
		return Resolution{Action: ActionApply, Record: &remote}, nil
	}

	if local.Checksum == remote.Checksum {
		return Resolution{Action: ActionNone}, nil
	}

	switch strategy {
	case StrategyLatest:
		if remote.Timestamp.After(local.Timestamp) {
			return Resolution{Action: ActionApply, Record: &remote}, nil
		}
		return Resolution{Action: ActionNone}, nil

	case StrategyMerge:
		merged, err := mergeRecords(local, remote, localDeviceID, now)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Action: ActionApply, Record: merged}, nil

	default: // StrategyManual
		return Resolution{Action: ActionConflict}, nil
	}
}

// mergeRecords builds the merged record: remote payload over local payload,
// version above both inputs, owned by the local device as a fresh write.
func mergeRecords(local *record.Record, remote record.Record, localDeviceID string, now time.Time) (*record.Record, error) {
	payload := mergePayloads(local.Payload, remote.Payload)

	sum, err := record.Checksum(payload)
	if err != nil {
		return nil, err
	}

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}

	return &record.Record{
		ID:        local.ID,
		Category:  local.Category,
		Payload:   payload,
		Timestamp: now,
		DeviceID:  localDeviceID,
		Version:   version + 1,
		Checksum:  sum,
	}, nil
}

// mergePayloads merges remote over local: every key present in remote
// overrides local's value, nested objects merge recursively with the same
// rule, and keys present only in local are preserved. Inputs are not
// mutated.
func mergePayloads(local, remote map[string]any) map[string]any {
	out := make(map[string]any, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, rv := range remote {
		if lv, ok := out[k]; ok {
			lm, lok := lv.(map[string]any)
			rm, rok := rv.(map[string]any)
			if lok && rok {
				out[k] = mergePayloads(lm, rm)
				continue
			}
		}
		out[k] = rv
	}
	return out
}
