package fatvol

import "time"

// Journal records the intent of on-disk changes before they are made.
// Each mutating entry operation opens exactly one top level scope.
//
// Generated mock using mockgen:
//  mockgen -source=journal.go -destination=journal_mock.go -package fatvol
type Journal interface {
	EnterTopLevelOp(logSize int) error
	EnterEntryUpdate(start, end Position) error
	EnterEntryCreate(start, end Position) error
	EnterClusterChainAlloc(start Cluster, isNew bool) error
	EnterClusterChainDelete(first Cluster, count uint32, deleteFirst bool) error

	// WriteJob returns the cache job holding the journal writes which are not yet persisted.
	WriteJob() JobHandle
}

// Clock returns the current time used for entry timestamps.
type Clock func() time.Time

// JournalRecordSize is the log space one Enter call may consume.
const JournalRecordSize = 24

// Worst case log sizes of the top level operations.
const (
	LogSizeFileCreate  = JournalRecordSize * 2
	LogSizeDirCreate   = JournalRecordSize * 3
	LogSizeEntryDelete = JournalRecordSize * 2
	LogSizeEntryRename = JournalRecordSize * 7
	LogSizeEntryUpdate = JournalRecordSize
	LogSizeFileResize  = JournalRecordSize * 2
)
