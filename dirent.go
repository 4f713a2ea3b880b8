package fatvol

import (
	"fmt"
	"strings"
	"time"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
)

var (
	nameDot    = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	nameDotDot = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
)

// dirEntry is an entry parsed from a directory table.
type dirEntry struct {
	EntryHeader

	name string
	// start is the first slot of the entry, which is its first long name slot if it has one.
	start Position
	// end is the short name slot.
	end Position
}

func (e *dirEntry) isDot() bool {
	return e.Name == nameDot || e.Name == nameDotDot
}

// entryField selects the fields of a short name slot changed by updateEntry.
type entryField uint8

const (
	fieldAttr entryField = 1 << iota
	fieldFirstCluster
	fieldSize
	fieldCreateTime
	fieldWriteTime
	fieldAccessDate

	fieldAll = fieldAttr | fieldFirstCluster | fieldSize | fieldCreateTime | fieldWriteTime | fieldAccessDate
)

// walkEntries calls fn for each entry of the directory table starting at start.
// Erased slots, volume labels and invalid long name slots are skipped.
// The walk ends at the first free slot.
func (v *Volume) walkEntries(start Position, fn func(e *dirEntry) (browseOutcome, error)) error {
	var name longNameBuilder
	lfnStart := PositionVoid

	return v.browseClassified(start, acquireRead, nil, func(pos Position, slot []byte, info slotInfo) (browseOutcome, error) {
		switch info.Kind {
		case SlotFree:
			return browseStop, nil
		case SlotLFN:
			if info.Last {
				lfnStart = pos
				name.reset()
			}
			return browseContinue, name.add(slot)
		case SlotSFN:
		default:
			return browseContinue, nil
		}

		hdr, err := readEntryHeader(slot)
		if err != nil {
			return browseStop, err
		}

		e := dirEntry{EntryHeader: hdr, start: pos, end: pos}
		if info.HasLFN && info.ChkSumMatch {
			e.start = lfnStart
			if e.name, err = name.String(); err != nil {
				return browseStop, err
			}
		} else {
			e.name = ParseShortName(slot)
		}
		return fn(&e)
	})
}

// parseEntry reads the entry whose first slot is at pos. The root position results
// in a pseudo entry of the root directory.
func (v *Volume) parseEntry(pos Position) (dirEntry, error) {
	if pos.IsRoot() {
		return dirEntry{EntryHeader: EntryHeader{Attribute: AttrDirectory}, start: PositionRoot, end: PositionRoot}, nil
	}
	if pos.IsVoid() {
		return dirEntry{}, checkpoint.Wrap(fmt.Errorf("void position"), ErrInvalidArgument)
	}

	var found *dirEntry
	err := v.walkEntries(pos, func(e *dirEntry) (browseOutcome, error) {
		found = e
		return browseStop, nil
	})
	if err != nil {
		return dirEntry{}, err
	}

	if found == nil || found.start != pos {
		return dirEntry{}, checkpoint.Wrap(fmt.Errorf("no entry at %v", pos), ErrNotFound)
	}
	return *found, nil
}

// dirTable returns the first sector of the table of the directory at pos.
func (v *Volume) dirTable(pos Position) (uint32, error) {
	if pos.IsRoot() {
		return v.rootDirStart, nil
	}

	e, err := v.parseEntry(pos)
	if err != nil {
		return 0, err
	}
	if e.Attribute&AttrVolumeID != 0 || !e.IsDir() {
		return 0, checkpoint.Wrap(fmt.Errorf("entry at %v", pos), ErrEntryParentNotDir)
	}
	return v.dirTableSector(e.FirstCluster())
}

// findEntry searches the directory table starting at dirSec for an entry with the given name.
// Long names are compared case insensitive, short names after conversion to the 8.3 form.
func (v *Volume) findEntry(dirSec uint32, name string) (dirEntry, bool, error) {
	var sfn *[11]byte
	switch name {
	case ".":
		sfn = &nameDot
	case "..":
		sfn = &nameDotDot
	default:
		if flags := CheckShortName(name); flags.fitsShortName() {
			built := BuildShortName(name)
			sfn = &built
		}
		if err := CheckLongName(name); err != nil {
			return dirEntry{}, false, err
		}
	}

	var found *dirEntry
	err := v.walkEntries(NewPosition(dirSec, 0), func(e *dirEntry) (browseOutcome, error) {
		if (sfn != nil && e.Name == *sfn) || (e.start != e.end && strings.EqualFold(e.name, name)) {
			found = e
			return browseStop, nil
		}
		return browseContinue, nil
	})
	if err != nil || found == nil {
		return dirEntry{}, false, err
	}
	return *found, true, nil
}

// findByFirstCluster searches the directory table starting at dirSec for the entry owning the chain starting at c.
func (v *Volume) findByFirstCluster(dirSec uint32, c Cluster) (dirEntry, bool, error) {
	var found *dirEntry
	err := v.walkEntries(NewPosition(dirSec, 0), func(e *dirEntry) (browseOutcome, error) {
		if !e.isDot() && e.FirstCluster() == c {
			found = e
			return browseStop, nil
		}
		return browseContinue, nil
	})
	if err != nil || found == nil {
		return dirEntry{}, false, err
	}
	return *found, true, nil
}

// isRootCluster reports if a first cluster stored in a ".." entry means the root directory.
// Besides 0 a FAT32 volume may store the root cluster itself.
func (v *Volume) isRootCluster(c Cluster) bool {
	return c == 0 || (v.fatType == FAT32 && c == v.rootCluster)
}

// resolveDotDot returns the position of the entry the ".." entry dotDot points to.
// FAT only stores the first cluster of the parent, so the entry is searched in the grandparent.
func (v *Volume) resolveDotDot(dotDot dirEntry) (Position, error) {
	target := dotDot.FirstCluster()
	if v.isRootCluster(target) {
		return PositionRoot, nil
	}

	targetSec, err := v.dirTableSector(target)
	if err != nil {
		return PositionVoid, err
	}

	grand, ok, err := v.findEntry(targetSec, "..")
	if err != nil {
		return PositionVoid, err
	}
	if !ok {
		return PositionVoid, checkpoint.Wrap(fmt.Errorf("directory at cluster %d has no \"..\" entry", target), ErrVolumeCorrupted)
	}

	grandSec := v.rootDirStart
	if !v.isRootCluster(grand.FirstCluster()) {
		if grandSec, err = v.dirTableSector(grand.FirstCluster()); err != nil {
			return PositionVoid, err
		}
	}

	e, ok, err := v.findByFirstCluster(grandSec, target)
	if err != nil {
		return PositionVoid, err
	}
	if !ok {
		return PositionVoid, checkpoint.Wrap(fmt.Errorf("no entry points to cluster %d", target), ErrVolumeCorrupted)
	}
	return e.start, nil
}

// modifySlot changes the single slot at pos within *job.
func (v *Volume) modifySlot(pos Position, job *JobHandle, fn func(slot []byte) error) error {
	return v.browse(pos, acquireModify, job, func(_ Position, slot []byte) (browseOutcome, error) {
		return browseStop, fn(slot)
	})
}

// afterJournal makes *job depend on the pending journal writes.
func (v *Volume) afterJournal(job *JobHandle) error {
	if v.journal == nil || !v.orderedWrites {
		return nil
	}

	h, err := v.cache.Join(v.journal.WriteJob(), *job)
	if err != nil {
		return checkpoint.From(err)
	}
	*job = h
	return nil
}

// eraseEntry marks all slots of e as erased.
func (v *Volume) eraseEntry(e dirEntry, job *JobHandle) error {
	if v.journal != nil {
		if err := v.journal.EnterEntryUpdate(e.start, e.end); err != nil {
			return checkpoint.From(err)
		}
		if err := v.afterJournal(job); err != nil {
			return err
		}
	}

	return v.browse(e.start, acquireModify, job, func(pos Position, slot []byte) (browseOutcome, error) {
		for i := range slot {
			slot[i] = 0
		}
		slot[0] = slotErased

		if pos == e.end {
			return browseStop, nil
		}
		return browseContinue, nil
	})
}

// updateEntry changes the short name slot at end. fn gets the current header and changes it.
func (v *Volume) updateEntry(end Position, job *JobHandle, fn func(h *EntryHeader)) error {
	if v.journal != nil {
		if err := v.journal.EnterEntryUpdate(end, end); err != nil {
			return checkpoint.From(err)
		}
		if err := v.afterJournal(job); err != nil {
			return err
		}
	}

	return v.modifySlot(end, job, func(slot []byte) error {
		h, err := readEntryHeader(slot)
		if err != nil {
			return err
		}
		fn(&h)
		return writeEntryHeader(slot, &h)
	})
}

// copyFields sets the fields of dst selected by fields from src.
func copyFields(dst *EntryHeader, src *EntryHeader, fields entryField) {
	if fields&fieldAttr != 0 {
		dst.Attribute = src.Attribute
	}
	if fields&fieldFirstCluster != 0 {
		dst.FirstClusterHI = src.FirstClusterHI
		dst.FirstClusterLO = src.FirstClusterLO
	}
	if fields&fieldSize != 0 {
		dst.FileSize = src.FileSize
	}
	if fields&fieldCreateTime != 0 {
		dst.CreateTimeTenth = src.CreateTimeTenth
		dst.CreateTime = src.CreateTime
		dst.CreateDate = src.CreateDate
	}
	if fields&fieldWriteTime != 0 {
		dst.WriteTime = src.WriteTime
		dst.WriteDate = src.WriteDate
	}
	if fields&fieldAccessDate != 0 {
		dst.LastAccessDate = src.LastAccessDate
	}
}

// stamp packs t into a date and a time. A date out of range zeroes both.
func stamp(t time.Time) (date, tod uint16) {
	date = FormatDate(t)
	if date == 0 {
		return 0, 0
	}
	return date, FormatTime(t)
}

// newEntryHeader returns the short name slot of a new entry with all timestamps set to now.
func newEntryHeader(sfn [11]byte, nt byte, isDir bool, first Cluster, now time.Time) EntryHeader {
	date, tod := stamp(now)
	h := EntryHeader{
		Name:           sfn,
		NTReserved:     nt,
		CreateTime:     tod,
		CreateDate:     date,
		LastAccessDate: date,
		WriteTime:      tod,
		WriteDate:      date,
	}
	if date != 0 {
		h.CreateTimeTenth = formatTenth(now)
	}
	if isDir {
		h.Attribute = AttrDirectory
	}
	h.SetFirstCluster(first)
	return h
}

// advance returns the position n slots after pos.
func (v *Volume) advance(pos Position, n int) (Position, error) {
	sec := pos.Sector()
	off := pos.Offset() + uint32(n)*dirEntrySize
	for off >= v.secSize() {
		next, err := v.nextSector(sec)
		if err != nil {
			return PositionVoid, err
		}
		if next == sectorVoid {
			return PositionVoid, checkpoint.Wrap(fmt.Errorf("%d slots after %v", n, pos), ErrVolumeCorrupted)
		}
		sec = next
		off -= v.secSize()
	}
	return NewPosition(sec, off), nil
}

// findOrGrowEmptySlots searches the directory table starting at dirSec for n consecutive unused slots.
// If the table ends before enough slots are found, it is extended by cleared clusters within *job.
// The fixed root directory of FAT12 and FAT16 cannot be extended.
func (v *Volume) findOrGrowEmptySlots(dirSec uint32, n int, job *JobHandle) (start, end Position, err error) {
	if n <= 0 {
		return PositionVoid, PositionVoid, checkpoint.Wrap(fmt.Errorf("%d slots requested", n), ErrInvalidArgument)
	}

	found := 0
	start, last := PositionVoid, PositionVoid
	err = v.browseClassified(NewPosition(dirSec, 0), acquireRead, nil, func(pos Position, slot []byte, info slotInfo) (browseOutcome, error) {
		last = pos
		switch info.Kind {
		case SlotFree, SlotErased, SlotInvalidLFN:
			if found == 0 {
				start = pos
			}
			found++
			if found == n {
				return browseStop, nil
			}
		default:
			found = 0
		}
		return browseContinue, nil
	})
	if err != nil {
		return PositionVoid, PositionVoid, err
	}

	if found == n {
		return start, last, nil
	}

	// The table ended, so the search must have stopped at the last slot of a sector.
	if last.IsVoid() || last.Offset() != v.secSize()-dirEntrySize {
		return PositionVoid, PositionVoid, checkpoint.Wrap(fmt.Errorf("directory table at %d ends at %v", dirSec, last), ErrVolumeCorrupted)
	}
	if v.isFixedRoot(dirSec) {
		return PositionVoid, PositionVoid, checkpoint.Wrap(fmt.Errorf("root directory has no room for %d slots", n), ErrDirFull)
	}

	missing := uint32(n - found)
	sectors := (missing*dirEntrySize + v.secSize() - 1) >> v.secSizeLog2
	clusters := (sectors + 1<<v.secPerClusLog2 - 1) >> v.secPerClusLog2

	lbType := LbTypeDirEntry
	if v.journal != nil {
		lbType = LbTypeJournalDirEntry
	}
	first, _, err := v.allocateChain(v.sectorToCluster(last.Sector()), clusters, true, lbType, job)
	if err != nil {
		return PositionVoid, PositionVoid, err
	}

	if found == 0 {
		start = NewPosition(v.clusterToSector(first), 0)
	}
	end, err = v.advance(start, n-1)
	if err != nil {
		return PositionVoid, PositionVoid, err
	}

	v.log.WithFields(logrus.Fields{"directory": dirSec, "clusters": clusters, "first": first}).Debug("extended directory table")
	return start, end, nil
}

// createEntry adds an entry named name to the directory table starting at dirSec.
// For a directory the first cluster is allocated and gets the "." and ".." entries.
// All writes end up in *job, ordered after the journal and the FAT writes.
func (v *Volume) createEntry(dirSec uint32, name string, isDir bool, job *JobHandle) (start, end Position, err error) {
	if name == "." || name == ".." {
		return PositionVoid, PositionVoid, checkpoint.Wrap(fmt.Errorf("cannot create %q", name), ErrNameInvalid)
	}

	flags := CheckShortName(name)
	count := 1
	var nt byte
	if flags.needsLongName() {
		if err := CheckLongName(name); err != nil {
			return PositionVoid, PositionVoid, err
		}
		lfnCount, err := lfnSlotCount(name)
		if err != nil {
			return PositionVoid, PositionVoid, err
		}
		count += lfnCount
	} else {
		nt = flags.ntCase()
	}

	_, exists, err := v.findEntry(dirSec, name)
	if err != nil {
		return PositionVoid, PositionVoid, err
	}
	if exists {
		return PositionVoid, PositionVoid, checkpoint.Wrap(fmt.Errorf("entry %q", name), ErrAlreadyExists)
	}

	start, end, err = v.findOrGrowEmptySlots(dirSec, count, job)
	if err != nil {
		return PositionVoid, PositionVoid, err
	}

	now := v.clock()

	var first Cluster
	if isDir {
		if first, _, err = v.allocateChain(0, 1, true, LbTypeDirEntry, job); err != nil {
			return PositionVoid, PositionVoid, err
		}
		defer func() {
			if err == nil {
				return
			}
			if rbErr := v.deleteChainReverse(first, true); rbErr != nil {
				v.log.WithError(rbErr).WithField("cluster", first).Error("could not free directory cluster")
			}
		}()

		if err = v.writeDotEntries(first, v.dirTableCluster(dirSec), now, job); err != nil {
			return PositionVoid, PositionVoid, err
		}
	}

	if v.journal != nil {
		if err = v.journal.EnterEntryCreate(start, end); err != nil {
			return PositionVoid, PositionVoid, checkpoint.From(err)
		}
	}

	var sfn [11]byte
	if count > 1 {
		if sfn, err = v.allocShortName(dirSec, name); err != nil {
			return PositionVoid, PositionVoid, err
		}
	} else {
		sfn = BuildShortName(name)
	}

	// The entry is written after the FAT and the journal.
	stub := VoidJob
	if v.orderedWrites {
		if stub, err = v.cache.Append(*job); err != nil {
			return PositionVoid, PositionVoid, checkpoint.From(err)
		}
		if stub, err = v.cache.Join(v.fatJob, stub); err != nil {
			return PositionVoid, PositionVoid, checkpoint.From(err)
		}
		if v.journal != nil {
			if stub, err = v.cache.Join(v.journal.WriteJob(), stub); err != nil {
				return PositionVoid, PositionVoid, checkpoint.From(err)
			}
		}
		*job = stub
	}

	hdr := newEntryHeader(sfn, nt, isDir, first, now)
	err = v.modifySlot(end, job, func(slot []byte) error {
		return writeEntryHeader(slot, &hdr)
	})
	if err != nil {
		return PositionVoid, PositionVoid, err
	}

	if count > 1 {
		if err = v.writeLongName(start, name, sfn, job); err != nil {
			return PositionVoid, PositionVoid, err
		}
	}

	v.log.WithFields(logrus.Fields{"name": name, "dir": isDir, "start": start, "end": end}).Trace("created entry")
	return start, end, nil
}

// writeLongName writes the long name slots of name starting at start.
func (v *Volume) writeLongName(start Position, name string, sfn [11]byte, job *JobHandle) error {
	slots, err := buildLFNSlots(name, sfn)
	if err != nil {
		return err
	}

	i := 0
	return v.browse(start, acquireModify, job, func(_ Position, slot []byte) (browseOutcome, error) {
		copy(slot, slots[i][:])
		i++
		if i == len(slots) {
			return browseStop, nil
		}
		return browseContinue, nil
	})
}

// writeDotEntries writes the "." and ".." entries into the first sector of the new directory at first.
func (v *Volume) writeDotEntries(first, parent Cluster, now time.Time, job *JobHandle) error {
	dot := newEntryHeader(nameDot, 0, true, first, now)
	dotDot := newEntryHeader(nameDotDot, 0, true, parent, now)

	h, err := v.cache.Write(v.clusterToSector(first), LbTypeDirEntry, v.job(*job), func(buf []byte) error {
		if err := writeEntryHeader(buf[0:dirEntrySize], &dot); err != nil {
			return err
		}
		return writeEntryHeader(buf[dirEntrySize:2*dirEntrySize], &dotDot)
	})
	if err != nil {
		return checkpoint.From(err)
	}
	if v.orderedWrites {
		*job = h
	}
	return nil
}
