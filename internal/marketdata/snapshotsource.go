package marketdata

import (
	"backtestsim/internal/barmodel"
	"backtestsim/internal/simerrors"
)

// SnapshotSource is the contract the simulation engine drives: a lazy,
// single-consumer, ascending-date sequence of snapshots. Both the streaming
// CSV Source and the SQLite-backed Cursor (--engine in_memory) implement it
// identically so engine behavior does not depend on which is selected.
type SnapshotSource interface {
	Next() (barmodel.Snapshot, bool, error)
	Close() error
	Warnings() []simerrors.Warning
	DroppedCount() int
}

var (
	_ SnapshotSource = (*Source)(nil)
	_ SnapshotSource = (*Cursor)(nil)
)
