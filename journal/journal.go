// Package journal provides a file backed fatvol.Journal.
//
// The log is a ring of fixed size records. Each top level operation reserves
// the space it may need at most. If the rest of the ring is too small for it,
// the operation starts again at the beginning of the file. Every record is
// synced before the volume changes it announces are made, so the journal
// never holds pending cache writes.
package journal

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aligator/fatvol"
	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

var (
	ErrLogFull = errors.New("journal full")
	ErrNoScope = errors.New("no top level operation entered")
)

var _ fatvol.Journal = (*Log)(nil)

// Log is a journal stored in a file.
type Log struct {
	mu sync.Mutex

	file     afero.File
	capacity int64
	log      logrus.FieldLogger

	// offset is where the next record is written.
	offset int64
	// scopeLeft is the space left of the current top level operation.
	scopeLeft int64
	inScope   bool
	seq       uint32
}

// Option configures a Log.
type Option func(l *Log)

// WithLogger sets the logger of the journal.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Log) {
		l.log = log
	}
}

// Open uses file as log with space for capacity bytes.
// An existing log is continued after its newest record.
func Open(file afero.File, capacity int64, opts ...Option) (*Log, error) {
	capacity -= capacity % fatvol.JournalRecordSize
	if capacity <= 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("capacity %d", capacity), ErrLogFull)
	}

	l := &Log{
		file:     file,
		capacity: capacity,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	records, offsets, err := l.read()
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		l.seq = records[n-1].Seq
		l.offset = offsets[n-1] + fatvol.JournalRecordSize
	}

	l.log.WithFields(logrus.Fields{"capacity": capacity, "seq": l.seq}).Debug("journal opened")
	return l, nil
}

// Records returns all records of the log ordered from the oldest to the newest.
func (l *Log) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, _, err := l.read()
	return records, err
}

func (l *Log) read() ([]Record, []int64, error) {
	type stored struct {
		r   Record
		off int64
	}
	var all []stored

	buf := make([]byte, fatvol.JournalRecordSize)
	for off := int64(0); off < l.capacity; off += fatvol.JournalRecordSize {
		n, err := l.file.ReadAt(buf, off)
		if err == io.EOF && n < len(buf) {
			break
		}
		if err != nil && err != io.EOF {
			return nil, nil, checkpoint.From(err)
		}

		r, err := unmarshalRecord(buf)
		if err != nil {
			return nil, nil, err
		}
		if r.Type == 0 {
			continue
		}
		all = append(all, stored{r, off})
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].r.Seq < all[j].r.Seq
	})

	records := make([]Record, len(all))
	offsets := make([]int64, len(all))
	for i, s := range all {
		records[i] = s.r
		offsets[i] = s.off
	}
	return records, offsets, nil
}

func (l *Log) EnterTopLevelOp(logSize int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	need := int64(logSize) + fatvol.JournalRecordSize
	if need > l.capacity {
		return checkpoint.Wrap(fmt.Errorf("operation needs %d bytes, log has %d", need, l.capacity), ErrLogFull)
	}
	if l.offset+need > l.capacity {
		l.log.WithField("seq", l.seq).Trace("journal wrapped")
		l.offset = 0
	}

	l.scopeLeft = need
	l.inScope = true
	return l.append(Record{Type: RecordTopLevelOp, A: uint64(logSize)})
}

func (l *Log) EnterEntryUpdate(start, end fatvol.Position) error {
	return l.enter(Record{Type: RecordEntryUpdate, A: uint64(start), B: uint64(end)})
}

func (l *Log) EnterEntryCreate(start, end fatvol.Position) error {
	return l.enter(Record{Type: RecordEntryCreate, A: uint64(start), B: uint64(end)})
}

func (l *Log) EnterClusterChainAlloc(start fatvol.Cluster, isNew bool) error {
	return l.enter(Record{Type: RecordChainAlloc, Flags: flag(isNew), A: uint64(start)})
}

func (l *Log) EnterClusterChainDelete(first fatvol.Cluster, count uint32, deleteFirst bool) error {
	return l.enter(Record{Type: RecordChainDelete, Flags: flag(deleteFirst), A: uint64(first), B: uint64(count)})
}

// WriteJob returns fatvol.VoidJob as records are written through to the file.
func (l *Log) WriteJob() fatvol.JobHandle {
	return fatvol.VoidJob
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return checkpoint.From(multierr.Combine(l.file.Sync(), l.file.Close()))
}

func flag(set bool) uint16 {
	if set {
		return FlagSet
	}
	return 0
}

func (l *Log) enter(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.inScope {
		return checkpoint.Wrap(fmt.Errorf("%v", r.Type), ErrNoScope)
	}
	if l.scopeLeft < fatvol.JournalRecordSize {
		return checkpoint.Wrap(fmt.Errorf("reserved space of the operation used up"), ErrLogFull)
	}
	return l.append(r)
}

// append writes r at the current offset and syncs the file.
func (l *Log) append(r Record) error {
	l.seq++
	r.Seq = l.seq

	buf, err := r.marshal()
	if err != nil {
		return err
	}
	if _, err := l.file.WriteAt(buf, l.offset); err != nil {
		return checkpoint.From(err)
	}
	if err := l.file.Sync(); err != nil {
		return checkpoint.From(err)
	}

	l.offset += fatvol.JournalRecordSize
	l.scopeLeft -= fatvol.JournalRecordSize
	l.log.WithField("record", r).Trace("journal record written")
	return nil
}
