package fatvol

// JobHandle identifies a group of pending cache writes.
// Jobs form a dependency graph: a job is never flushed before the jobs it depends on.
type JobHandle uint64

// VoidJob is the empty job handle. Writes registered without a job have no ordering constraints.
const VoidJob JobHandle = 0

// LbType tags a logical block so that a cache can apply type specific policies.
type LbType uint8

const (
	LbTypeDirEntry LbType = iota + 1
	LbTypeFAT
	LbTypeData
	LbTypeJournalDirEntry
	LbTypeJournalData
	LbTypeReservedArea
)

func (t LbType) String() string {
	switch t {
	case LbTypeDirEntry:
		return "dirent"
	case LbTypeFAT:
		return "fat"
	case LbTypeData:
		return "data"
	case LbTypeJournalDirEntry:
		return "journal-dirent"
	case LbTypeJournalData:
		return "journal-data"
	case LbTypeReservedArea:
		return "reserved"
	}
	return "unknown"
}

// Cache provides access to the logical blocks of a volume.
//
// The callbacks get the buffer of the block and must not retain it or call back into the cache.
// Modify and Write register the change in the given job and return the job the block ended up in.
// Passing a handle which was already executed starts a new job.
type Cache interface {
	// LbSizeLog2 returns the log2 of the logical block size.
	LbSizeLog2() uint8
	// LbCount returns the number of logical blocks of the device.
	LbCount() uint32

	// Read acquires a block for reading.
	Read(lb uint32, typ LbType, fn func(buf []byte) error) error
	// Modify acquires a block for read-modify-write.
	Modify(lb uint32, typ LbType, job JobHandle, fn func(buf []byte) error) (JobHandle, error)
	// Write acquires a block for writing without reading it. The buffer is zeroed.
	Write(lb uint32, typ LbType, job JobHandle, fn func(buf []byte) error) (JobHandle, error)

	// Append returns a new empty job which is flushed after job.
	Append(job JobHandle) (JobHandle, error)
	// Join makes job depend on dep and returns job. A void job is created first.
	Join(dep, job JobHandle) (JobHandle, error)
	// Exec flushes job and everything it depends on.
	Exec(job JobHandle) error

	// Trim discards the given block range.
	Trim(lb, count uint32) error
	// Sync flushes all pending writes.
	Sync() error
}
