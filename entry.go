package fatvol

import (
	"fmt"
	"time"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
)

// BlockVoid is returned by FirstLogicalBlock and NextLogicalBlock if there is no block.
const BlockVoid = sectorVoid

// Attrib contains the attributes of an entry.
type Attrib struct {
	Read      bool
	Write     bool
	Hidden    bool
	IsDir     bool
	IsRootDir bool
}

// EntryInfo describes an entry of a volume.
// Timestamps which are not recorded are the zero time.
type EntryInfo struct {
	Attrib       Attrib
	Size         uint32
	BlockCount   uint32
	BlockSize    uint32
	FirstCluster Cluster

	Created  time.Time
	Modified time.Time
	Accessed time.Time
}

// TimeField selects the timestamps changed by SetTime.
type TimeField uint8

const (
	TimeCreate TimeField = iota + 1
	TimeModify
	TimeAccess
	TimeAll
)

func (v *Volume) enterTopLevelOp(logSize int) error {
	if v.journal == nil {
		return nil
	}
	return checkpoint.From(v.journal.EnterTopLevelOp(logSize))
}

// newJob starts the job of an entry operation. Without ordered writes it is the void job.
func (v *Volume) newJob() (JobHandle, error) {
	if !v.orderedWrites {
		return VoidJob, nil
	}
	job, err := v.cache.Append(VoidJob)
	if err != nil {
		return VoidJob, checkpoint.From(err)
	}
	return job, nil
}

// execJob flushes the job of an entry operation.
func (v *Volume) execJob(job JobHandle) error {
	if !v.orderedWrites || job == VoidJob {
		return nil
	}
	return checkpoint.From(v.cache.Exec(job))
}

// Lookup searches the directory at parent for name.
// If the entry does not exist, PositionVoid is returned without an error.
// ".." resolves to the entry of the parent directory, or to PositionRoot.
func (v *Volume) Lookup(parent Position, name string) (Position, error) {
	if parent.IsRoot() && name == ".." {
		return PositionRoot, nil
	}

	dirSec, err := v.dirTable(parent)
	if err != nil {
		return PositionVoid, err
	}

	e, ok, err := v.findEntry(dirSec, name)
	if err != nil {
		return PositionVoid, err
	}
	if !ok {
		return PositionVoid, nil
	}

	switch name {
	case "..":
		return v.resolveDotDot(e)
	case ".":
		return parent, nil
	}
	return e.start, nil
}

// Create adds a new file or directory named name to the directory at parent.
// It returns the position of the new entry.
func (v *Volume) Create(parent Position, name string, isDir bool) (Position, error) {
	logSize := LogSizeFileCreate
	if isDir {
		logSize = LogSizeDirCreate
	}
	if err := v.enterTopLevelOp(logSize); err != nil {
		return PositionVoid, err
	}

	dirSec, err := v.dirTable(parent)
	if err != nil {
		return PositionVoid, err
	}

	var job JobHandle
	start, _, err := v.createEntry(dirSec, name, isDir, &job)
	if err != nil {
		return PositionVoid, err
	}

	if err := v.execJob(job); err != nil {
		return PositionVoid, err
	}
	return start, nil
}

// Delete removes the entry at pos and frees its clusters.
// It does not check if a directory is empty.
func (v *Volume) Delete(pos Position) error {
	if pos.IsRoot() {
		return checkpoint.Wrap(fmt.Errorf("delete"), ErrEntryRootDir)
	}
	if err := v.enterTopLevelOp(LogSizeEntryDelete); err != nil {
		return err
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return err
	}

	job, err := v.newJob()
	if err != nil {
		return err
	}
	if err := v.eraseEntry(e, &job); err != nil {
		return err
	}

	if err := v.freeChainAfter(e.FirstCluster(), true, job); err != nil {
		return err
	}
	return v.execJob(job)
}

// freeChainAfter deletes the chain starting at first once the writes of job are done.
// If deleteFirst is not set, first is kept as the new end of the chain.
func (v *Volume) freeChainAfter(first Cluster, deleteFirst bool, job JobHandle) error {
	if !v.isValidCluster(first) {
		return nil
	}

	// The FAT writes freeing the chain start a new job behind job.
	if v.orderedWrites {
		var err error
		if v.fatJob, err = v.cache.Append(job); err != nil {
			return checkpoint.From(err)
		}
	}

	freed, err := v.deleteChainForward(first, deleteFirst)
	if err != nil {
		return err
	}

	v.log.WithFields(logrus.Fields{"first": first, "freed": freed}).Trace("freed cluster chain")
	return nil
}

// Rename moves the entry at oldPos into the directory at newParent with the name newName.
// If exists is set, newPos is the entry currently named newName, which is replaced.
// Its clusters are freed as the very last step.
func (v *Volume) Rename(oldPos, newPos, newParent Position, newName string, exists bool) error {
	if oldPos.IsRoot() || (exists && newPos.IsRoot()) {
		return checkpoint.Wrap(fmt.Errorf("rename"), ErrEntryRootDir)
	}
	if exists && oldPos == newPos {
		return nil
	}
	if err := v.enterTopLevelOp(LogSizeEntryRename); err != nil {
		return err
	}

	dirSec, err := v.dirTable(newParent)
	if err != nil {
		return err
	}

	src, err := v.parseEntry(oldPos)
	if err != nil {
		return err
	}

	job, err := v.newJob()
	if err != nil {
		return err
	}
	var target dirEntry
	if exists {
		if target, err = v.parseEntry(newPos); err != nil {
			return err
		}
		if err := v.eraseEntry(target, &job); err != nil {
			return err
		}
	}

	_, end, err := v.createEntry(dirSec, newName, false, &job)
	if err != nil {
		return err
	}

	if err := v.eraseEntry(src, &job); err != nil {
		return err
	}

	err = v.updateEntry(end, &job, func(h *EntryHeader) {
		copyFields(h, &src.EntryHeader, fieldAll)
	})
	if err != nil {
		return err
	}

	if src.IsDir() {
		if err := v.moveDotDot(src.FirstCluster(), v.dirTableCluster(dirSec), &job); err != nil {
			return err
		}
	}

	if exists {
		if err := v.freeChainAfter(target.FirstCluster(), true, job); err != nil {
			return err
		}
	}
	return v.execJob(job)
}

// moveDotDot points the ".." entry of the directory at first to parent.
func (v *Volume) moveDotDot(first, parent Cluster, job *JobHandle) error {
	if !v.isValidCluster(first) {
		return nil
	}

	dirSec, err := v.dirTableSector(first)
	if err != nil {
		return err
	}

	dotDot, ok, err := v.findEntry(dirSec, "..")
	if err != nil || !ok || dotDot.FirstCluster() == parent {
		return err
	}

	return v.updateEntry(dotDot.end, job, func(h *EntryHeader) {
		h.SetFirstCluster(parent)
	})
}

// SetAttrib changes the hidden and read-only flag of the entry at pos.
// Entries are always readable, so a.Read has to be set.
func (v *Volume) SetAttrib(pos Position, a Attrib) error {
	if !a.Read {
		return checkpoint.Wrap(fmt.Errorf("entries cannot be write only"), ErrInvalidArgument)
	}
	if pos.IsRoot() {
		return checkpoint.Wrap(fmt.Errorf("set attributes"), ErrEntryRootDir)
	}
	if err := v.enterTopLevelOp(LogSizeEntryUpdate); err != nil {
		return err
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return err
	}

	job, err := v.newJob()
	if err != nil {
		return err
	}
	err = v.updateEntry(e.end, &job, func(h *EntryHeader) {
		h.Attribute &^= AttrHidden | AttrReadOnly
		if a.Hidden {
			h.Attribute |= AttrHidden
		}
		if !a.Write {
			h.Attribute |= AttrReadOnly
		}
	})
	if err != nil {
		return err
	}
	return v.execJob(job)
}

// SetTime sets the selected timestamps of the entry at pos to t.
// The access timestamp only stores the date.
func (v *Volume) SetTime(pos Position, t time.Time, which TimeField) error {
	if which < TimeCreate || which > TimeAll {
		return checkpoint.Wrap(fmt.Errorf("time field %d", which), ErrInvalidArgument)
	}
	if pos.IsRoot() {
		return checkpoint.Wrap(fmt.Errorf("set time"), ErrEntryRootDir)
	}
	if err := v.enterTopLevelOp(LogSizeEntryUpdate); err != nil {
		return err
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return err
	}

	date, tod := stamp(t)
	job, err := v.newJob()
	if err != nil {
		return err
	}
	err = v.updateEntry(e.end, &job, func(h *EntryHeader) {
		if which == TimeCreate || which == TimeAll {
			h.CreateDate, h.CreateTime = date, tod
			h.CreateTimeTenth = 0
			if date != 0 {
				h.CreateTimeTenth = formatTenth(t)
			}
		}
		if which == TimeModify || which == TimeAll {
			h.WriteDate, h.WriteTime = date, tod
		}
		if which == TimeAccess || which == TimeAll {
			h.LastAccessDate = date
		}
	})
	if err != nil {
		return err
	}
	return v.execJob(job)
}

// Query returns the information and the name of the entry at pos.
// The root directory has no name and no timestamps.
func (v *Volume) Query(pos Position) (EntryInfo, string, error) {
	blockSize := v.secSize()
	if pos.IsRoot() {
		return EntryInfo{
			Attrib:    Attrib{IsDir: true, IsRootDir: true},
			BlockSize: blockSize,
		}, "", nil
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return EntryInfo{}, "", err
	}

	return v.entryInfo(&e), e.name, nil
}

func (v *Volume) entryInfo(e *dirEntry) EntryInfo {
	info := EntryInfo{
		Attrib: Attrib{
			Read:   true,
			Write:  e.Attribute&AttrReadOnly == 0,
			Hidden: e.Attribute&AttrHidden != 0,
			IsDir:  e.IsDir(),
		},
		Size:         e.FileSize,
		BlockSize:    v.secSize(),
		FirstCluster: e.FirstCluster(),
		Created:      ParseDateTime(e.CreateDate, e.CreateTime),
		Modified:     ParseDateTime(e.WriteDate, e.WriteTime),
		Accessed:     ParseDateTime(e.LastAccessDate, 0),
	}
	info.BlockCount = uint32((uint64(info.Size) + uint64(info.BlockSize) - 1) >> v.secSizeLog2)
	if !info.Created.IsZero() {
		info.Created = info.Created.Add(time.Duration(e.CreateTimeTenth%100) * 10 * time.Millisecond)
		if e.CreateTimeTenth >= 100 {
			info.Created = info.Created.Add(time.Second)
		}
	}
	return info
}

// FirstLogicalBlock returns the first sector of the data of the entry at pos.
// It returns BlockVoid if the entry has no clusters.
func (v *Volume) FirstLogicalBlock(pos Position) (uint32, error) {
	if pos.IsRoot() {
		return v.rootDirStart, nil
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return BlockVoid, err
	}

	first := e.FirstCluster()
	if e.IsDir() && v.isRootCluster(first) {
		return v.rootDirStart, nil
	}
	if first == 0 {
		return BlockVoid, nil
	}
	if !v.isValidCluster(first) {
		return BlockVoid, checkpoint.Wrap(fmt.Errorf("entry at %v has first cluster %d", pos, first), ErrVolumeCorrupted)
	}
	return v.clusterToSector(first), nil
}

// NextLogicalBlock returns the sector following lb in its file or directory.
// It returns BlockVoid at the end of the chain.
func (v *Volume) NextLogicalBlock(lb uint32) (uint32, error) {
	return v.nextSector(lb)
}
