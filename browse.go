package fatvol

import (
	"fmt"

	"github.com/aligator/fatvol/checkpoint"
)

type browseOutcome uint8

const (
	browseContinue browseOutcome = iota
	browseStop
)

type acquireMode uint8

const (
	acquireRead acquireMode = iota
	acquireModify
)

// SlotKind is the classification of one directory entry slot.
type SlotKind uint8

const (
	SlotFree SlotKind = iota
	SlotErased
	SlotSFN
	SlotLFN
	SlotInvalidLFN
	SlotVolumeLabel
)

func (k SlotKind) String() string {
	switch k {
	case SlotFree:
		return "free"
	case SlotErased:
		return "erased"
	case SlotSFN:
		return "sfn"
	case SlotLFN:
		return "lfn"
	case SlotInvalidLFN:
		return "invalid-lfn"
	case SlotVolumeLabel:
		return "volume-label"
	}
	return "unknown"
}

// slotInfo is the classification result of one slot.
// Seq and Last are set for SlotLFN, HasLFN and ChkSumMatch for SlotSFN.
type slotInfo struct {
	Kind SlotKind

	Seq  uint8
	Last bool

	HasLFN      bool
	ChkSumMatch bool
}

// lfnRun tracks a sequence of long name slots.
type lfnRun struct {
	started   bool
	complete  bool
	remaining uint8
	checksum  uint8
}

// classify returns the kind of slot given the long name run preceding it,
// and the run state for the next slot.
func classify(run lfnRun, slot []byte) (slotInfo, lfnRun) {
	switch slot[0] {
	case slotFree:
		return slotInfo{Kind: SlotFree}, lfnRun{}
	case slotErased:
		return slotInfo{Kind: SlotErased}, lfnRun{}
	}

	attr := slot[11]
	if attr&AttrLongNameMask == AttrLongName {
		seq := slot[0] & lfnSeqMask
		last := slot[0]&lfnLast != 0
		if seq == 0 || seq > lfnSeqMax {
			return slotInfo{Kind: SlotInvalidLFN}, lfnRun{}
		}

		if last {
			run = lfnRun{started: true, remaining: seq, checksum: slot[13]}
		} else if !run.started || run.complete || seq != run.remaining {
			return slotInfo{Kind: SlotInvalidLFN}, lfnRun{}
		}

		run.remaining--
		run.complete = run.remaining == 0
		return slotInfo{Kind: SlotLFN, Seq: seq, Last: last}, run
	}

	if attr&(AttrVolumeID|AttrDirectory) == AttrVolumeID {
		return slotInfo{Kind: SlotVolumeLabel}, lfnRun{}
	}

	info := slotInfo{Kind: SlotSFN, HasLFN: run.complete}
	if info.HasLFN {
		info.ChkSumMatch = lfnChecksum(slot[:11]) == run.checksum
	}
	return info, lfnRun{}
}

type slotFunc func(pos Position, slot []byte) (browseOutcome, error)

type classifiedFunc func(pos Position, slot []byte, info slotInfo) (browseOutcome, error)

// dirTableSector returns the first sector of the directory table of a directory
// with the given first cluster. 0 is the root directory.
func (v *Volume) dirTableSector(first Cluster) (uint32, error) {
	if first == 0 {
		return v.rootDirStart, nil
	}
	if !v.isValidCluster(first) {
		return 0, checkpoint.Wrap(fmt.Errorf("invalid directory cluster %d", first), ErrVolumeCorrupted)
	}
	return v.clusterToSector(first), nil
}

// dirTableCluster returns the first cluster of the directory table starting at sec.
// The root directory results in 0.
func (v *Volume) dirTableCluster(sec uint32) Cluster {
	if sec == v.rootDirStart {
		return 0
	}
	return v.sectorToCluster(sec)
}

// browse calls fn for each slot of a directory table, starting at start.
// It ends if fn returns browseStop or an error, or at the end of the table.
// With acquireModify fn may change the slot, each visited sector is then written within *job.
func (v *Volume) browse(start Position, mode acquireMode, job *JobHandle, fn slotFunc) error {
	sec := start.Sector()
	off := start.Offset()
	if off%dirEntrySize != 0 || off >= v.secSize() {
		return checkpoint.Wrap(fmt.Errorf("invalid position %v", start), ErrInvalidArgument)
	}

	for i := uint32(0); i <= v.totalSectors; i++ {
		stop := false
		visit := func(buf []byte) error {
			for ; off < v.secSize(); off += dirEntrySize {
				outcome, err := fn(NewPosition(sec, off), buf[off:off+dirEntrySize])
				if err != nil {
					return err
				}
				if outcome == browseStop {
					stop = true
					return nil
				}
			}
			return nil
		}

		var err error
		if mode == acquireModify {
			var h JobHandle
			h, err = v.cache.Modify(sec, LbTypeDirEntry, v.job(*job), visit)
			if err == nil && v.orderedWrites {
				*job = h
			}
		} else {
			err = v.cache.Read(sec, LbTypeDirEntry, visit)
		}
		if err != nil {
			return checkpoint.From(err)
		}
		if stop {
			return nil
		}

		off = 0
		sec, err = v.nextSector(sec)
		if err != nil {
			return err
		}
		if sec == sectorVoid {
			return nil
		}
	}

	return checkpoint.Wrap(fmt.Errorf("directory at %v does not end", start), ErrVolumeCorrupted)
}

// browseClassified is browse with each slot classified before fn is called.
func (v *Volume) browseClassified(start Position, mode acquireMode, job *JobHandle, fn classifiedFunc) error {
	var run lfnRun
	return v.browse(start, mode, job, func(pos Position, slot []byte) (browseOutcome, error) {
		var info slotInfo
		info, run = classify(run, slot)
		return fn(pos, slot, info)
	})
}
