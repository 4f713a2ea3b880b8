package fatvol

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"sync"
	"syscall"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while processing a file.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write file completely")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// File is an open file or directory of a Volume. It implements afero.File.
// Changes of the size are written to the directory entry on Sync and Close.
type File struct {
	v    *Volume
	mu   sync.Locker
	pos  Position
	name string
	// base is the name of the entry, name the one the file was opened with.
	base string

	info     EntryInfo
	writable bool
	append   bool
	dirty    bool
	job      JobHandle

	offset    int64
	dirCursor Position
}

// OpenFile opens the file or directory at pos for reading and writing.
func (v *Volume) OpenFile(pos Position) (*File, error) {
	info, name, err := v.Query(pos)
	if err != nil {
		return nil, err
	}

	return &File{
		v:         v,
		mu:        &sync.Mutex{},
		pos:       pos,
		name:      name,
		base:      name,
		info:      info,
		writable:  true,
		dirCursor: PositionVoid,
	}, nil
}

// Pos returns the position of the entry of the file.
func (f *File) Pos() Position {
	return f.pos
}

func (f *File) Close() error {
	if f.v == nil {
		return checkpoint.From(afero.ErrFileClosed)
	}

	err := f.Sync()

	f.v = nil
	f.mu = nil
	f.pos = PositionVoid
	f.name = ""
	f.base = ""
	f.info = EntryInfo{}
	f.writable = false
	f.append = false
	f.dirty = false
	f.job = VoidJob
	f.offset = 0
	f.dirCursor = PositionVoid

	return err
}

func (f *File) Read(p []byte) (n int, err error) {
	if p == nil {
		return 0, nil
	}

	// Reading a file if the size has been already reached, makes no sense.
	if int64(f.info.Size) <= f.offset {
		return 0, io.EOF
	}

	n, err = f.ReadAt(p, f.offset)

	// Seek even if an error occurred, errors from reading are used even if seek also errors.
	_, seekErr := f.Seek(int64(n), io.SeekCurrent)

	if err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, err
	}

	if seekErr != nil {
		return n, checkpoint.Wrap(seekErr, ErrReadFile)
	}

	return n, nil
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if f.v == nil {
		return 0, checkpoint.From(afero.ErrFileClosed)
	}
	if f.info.Attrib.IsDir {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrIsDir)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(fmt.Errorf("negative offset %d", off), ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Reading over the end makes no sense.
	size := int64(f.info.Size)
	if size <= off {
		return 0, io.EOF
	}

	want := len(p)
	if int64(want) > size-off {
		want = int(size - off)
	}

	err = f.transfer(uint32(off), p[:want], func(sec, secOff uint32, chunk []byte) error {
		return f.v.cache.Read(sec, LbTypeData, func(buf []byte) error {
			copy(chunk, buf[secOff:])
			return nil
		})
	})
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrReadFile)
	}

	if want < len(p) {
		return want, io.EOF
	}
	return want, nil
}

// Seek jumps to a specific offset in the file. This affects all Read and Write operations except ReadAt and WriteAt.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is negative.
// Seeking behind the end is allowed, a following write extends the file.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = int64(f.info.Size) + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	if f.append {
		f.offset = int64(f.info.Size)
	}

	n, err = f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.checkWritable(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, checkpoint.Wrap(fmt.Errorf("negative offset %d", off), ErrInvalidArgument)
	}
	if off+int64(len(p)) > math.MaxUint32 {
		return 0, checkpoint.Wrap(fmt.Errorf("file would exceed 4 GiB"), ErrWouldOverflow)
	}
	if len(p) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	end := uint32(off) + uint32(len(p))
	if end > f.info.Size {
		if err := f.v.enterTopLevelOp(LogSizeFileResize); err != nil {
			return 0, err
		}
		if err := f.grow(end); err != nil {
			return 0, checkpoint.Wrap(err, ErrWriteFile)
		}
	}

	if err := f.writeData(uint32(off), p); err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}
	f.dirty = true

	return len(p), nil
}

func (f *File) Name() string {
	return f.name
}

// Readdir reads the contents of a directory.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if f.v == nil {
		return nil, checkpoint.From(afero.ErrFileClosed)
	}
	if !f.info.Attrib.IsDir {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var result []os.FileInfo
	for count <= 0 || len(result) < count {
		e, next, err := f.v.ReadDir(f.pos, f.dirCursor)
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, checkpoint.Wrap(err, ErrReadDir)
		}

		f.dirCursor = next
		result = append(result, e.FileInfo())
	}

	if count > 0 && len(result) == 0 {
		return nil, io.EOF
	}
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if f.v == nil {
		return nil, checkpoint.From(afero.ErrFileClosed)
	}

	name := f.base
	if f.pos.IsRoot() {
		name = path.Base(f.name)
	}
	return entryFileInfo{name: name, info: f.info}, nil
}

// Sync writes the size and the first cluster of the file to its directory entry
// and flushes the written data.
func (f *File) Sync() error {
	if f.v == nil {
		return checkpoint.From(afero.ErrFileClosed)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return nil
	}
	if err := f.v.enterTopLevelOp(LogSizeEntryUpdate); err != nil {
		return err
	}

	job, err := f.writeEntry()
	if err != nil {
		return err
	}
	return f.v.execJob(job)
}

// Truncate changes the size of the file. Clusters behind the new size are freed,
// a growing file is filled with zeros.
func (f *File) Truncate(size int64) error {
	if err := f.checkWritable(); err != nil {
		return err
	}
	if size < 0 || size > math.MaxUint32 {
		return checkpoint.Wrap(fmt.Errorf("size %d", size), ErrInvalidArgument)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var job JobHandle
	var err error
	switch newSize := uint32(size); {
	case newSize > f.info.Size:
		if err = f.v.enterTopLevelOp(LogSizeFileResize); err != nil {
			return err
		}
		if err = f.grow(newSize); err != nil {
			return err
		}
		job, err = f.writeEntry()
	case newSize < f.info.Size:
		job, err = f.shrink(newSize)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	return f.v.execJob(job)
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

func (f *File) checkWritable() error {
	switch {
	case f.v == nil:
		return checkpoint.From(afero.ErrFileClosed)
	case f.info.Attrib.IsDir:
		return checkpoint.Wrap(syscall.EISDIR, ErrIsDir)
	case !f.writable || !f.info.Attrib.Write:
		return checkpoint.Wrap(os.ErrPermission, ErrReadOnly)
	}
	return nil
}

// sectorAt returns the sector holding the byte at off.
func (f *File) sectorAt(off uint32) (uint32, error) {
	first := f.info.FirstCluster
	if !f.v.isValidCluster(first) {
		return 0, checkpoint.Wrap(fmt.Errorf("file has no valid first cluster %d", first), ErrVolumeCorrupted)
	}

	index := off / f.v.clusterSize()
	c := first
	if index > 0 {
		tail, steps, err := f.v.followChain(first, index)
		if err != nil {
			return 0, err
		}
		if steps < index {
			return 0, checkpoint.Wrap(fmt.Errorf("chain of %d has only %d clusters", first, steps+1), ErrVolumeCorrupted)
		}
		c = tail.Last
	}

	return f.v.clusterToSector(c) + (off%f.v.clusterSize())>>f.v.secSizeLog2, nil
}

// transfer calls fn for each sector touched by p placed at off.
// chunk is the part of p belonging to the sector, secOff its offset in the sector.
func (f *File) transfer(off uint32, p []byte, fn func(sec, secOff uint32, chunk []byte) error) error {
	n := len(p)
	if n == 0 {
		return nil
	}

	sec, err := f.sectorAt(off)
	if err != nil {
		return err
	}

	secOff := off & (f.v.secSize() - 1)
	done := 0
	for {
		chunkLen := int(f.v.secSize() - secOff)
		if chunkLen > n-done {
			chunkLen = n - done
		}

		if err := fn(sec, secOff, p[done:done+chunkLen]); err != nil {
			return err
		}
		done += chunkLen
		if done == n {
			return nil
		}

		secOff = 0
		if sec, err = f.v.nextSector(sec); err != nil {
			return err
		}
		if sec == sectorVoid {
			return checkpoint.Wrap(fmt.Errorf("chain ends before offset %d", off+uint32(done)), ErrVolumeCorrupted)
		}
	}
}

// writeData writes p at off. The clusters must already be allocated.
func (f *File) writeData(off uint32, p []byte) error {
	return f.transfer(off, p, func(sec, secOff uint32, chunk []byte) error {
		fill := func(buf []byte) error {
			copy(buf[secOff:], chunk)
			return nil
		}

		var job JobHandle
		var err error
		if secOff == 0 && len(chunk) == int(f.v.secSize()) {
			job, err = f.v.cache.Write(sec, LbTypeData, f.v.job(f.job), fill)
		} else {
			job, err = f.v.cache.Modify(sec, LbTypeData, f.v.job(f.job), fill)
		}
		if err != nil {
			return checkpoint.From(err)
		}
		if f.v.orderedWrites {
			f.job = job
		}
		return nil
	})
}

// chainLength returns the number of clusters of the file and its last cluster.
func (f *File) chainLength() (uint32, Cluster, error) {
	if !f.v.isValidCluster(f.info.FirstCluster) {
		return 0, 0, nil
	}

	tail, length, err := f.v.findChainEnd(f.info.FirstCluster)
	if err != nil {
		return 0, 0, err
	}
	return length, tail.Last, nil
}

// grow extends the file to size. New clusters are cleared and the rest of the
// last cluster behind the old size is zeroed. The caller opens the journal scope.
func (f *File) grow(size uint32) error {
	clusterSize := f.v.clusterSize()
	needed := (uint64(size) + uint64(clusterSize) - 1) / uint64(clusterSize)

	have, last, err := f.chainLength()
	if err != nil {
		return err
	}

	if needed > uint64(have) {
		first, _, err := f.v.allocateChain(last, uint32(needed)-have, true, LbTypeData, &f.job)
		if err != nil {
			return err
		}
		if last == 0 {
			f.info.FirstCluster = first
		}
	}

	stale := uint64(have) * uint64(clusterSize)
	if stale > uint64(size) {
		stale = uint64(size)
	}
	if old := uint64(f.info.Size); old < stale {
		if err := f.writeData(uint32(old), make([]byte, stale-old)); err != nil {
			return err
		}
	}

	f.info.Size = size
	f.dirty = true
	return nil
}

// shrink cuts the file to size and frees the clusters not needed anymore.
// The entry is written before the clusters are freed.
func (f *File) shrink(size uint32) (JobHandle, error) {
	if err := f.v.enterTopLevelOp(LogSizeFileResize); err != nil {
		return VoidJob, err
	}

	clusterSize := f.v.clusterSize()
	keep := (uint64(size) + uint64(clusterSize) - 1) / uint64(clusterSize)
	first := f.info.FirstCluster

	f.info.Size = size
	f.dirty = true
	if keep == 0 {
		f.info.FirstCluster = 0
	}

	job, err := f.writeEntry()
	if err != nil {
		return job, err
	}

	if !f.v.isValidCluster(first) {
		return job, nil
	}
	if keep == 0 {
		return job, f.v.freeChainAfter(first, true, job)
	}

	tail, steps, err := f.v.followChain(first, uint32(keep)-1)
	if err != nil {
		return job, err
	}
	if steps < uint32(keep)-1 || !f.v.isValidCluster(tail.Next) {
		return job, nil
	}
	return job, f.v.freeChainAfter(tail.Last, false, job)
}

// writeEntry stores size, first cluster and the write time in the directory entry.
// The entry is written after the data and the FAT.
func (f *File) writeEntry() (JobHandle, error) {
	if f.pos.IsRoot() {
		return VoidJob, checkpoint.Wrap(fmt.Errorf("write entry"), ErrEntryRootDir)
	}

	e, err := f.v.parseEntry(f.pos)
	if err != nil {
		return VoidJob, err
	}

	job := VoidJob
	if f.v.orderedWrites {
		if job, err = f.v.cache.Append(f.job); err != nil {
			return VoidJob, checkpoint.From(err)
		}
		if job, err = f.v.cache.Join(f.v.fatJob, job); err != nil {
			return VoidJob, checkpoint.From(err)
		}
	}

	now := f.v.clock()
	date, tod := stamp(now)
	err = f.v.updateEntry(e.end, &job, func(h *EntryHeader) {
		h.FileSize = f.info.Size
		h.SetFirstCluster(f.info.FirstCluster)
		h.WriteDate, h.WriteTime = date, tod
		h.LastAccessDate = date
		h.Attribute |= AttrArchive
	})
	if err != nil {
		return job, err
	}

	f.info.Modified = ParseDateTime(date, tod)
	f.info.Accessed = ParseDateTime(date, 0)
	f.info.BlockCount = uint32((uint64(f.info.Size) + uint64(f.info.BlockSize) - 1) >> f.v.secSizeLog2)
	f.dirty = false
	return job, nil
}
