package fatvol

import (
	"encoding/binary"
	"fmt"

	"github.com/aligator/fatvol/checkpoint"
)

// FATType is the width of the entries of the file allocation table.
type FATType uint8

const (
	FAT12 FATType = iota + 1
	FAT16
	FAT32
)

// Maximum cluster counts of FAT12 and FAT16 volumes.
const (
	maxClustersFAT12 = 4084
	maxClustersFAT16 = 65524
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	}
	return fmt.Sprintf("FATType(%d)", uint8(t))
}

// Cluster is the number of a cluster on a volume. Data clusters start at 2.
type Cluster uint32

const clusterFree Cluster = 0

// eoc returns the end of chain value written by this package.
func (t FATType) eoc() Cluster {
	switch t {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	}
	return 0x0FFFFFFF
}

// isEOC reports if the entry value marks the end of a chain.
func (t FATType) isEOC(val Cluster) bool {
	switch t {
	case FAT12:
		return val >= 0xFF8
	case FAT16:
		return val >= 0xFFF8
	}
	return val >= 0x0FFFFFF8
}

func (t FATType) isBad(val Cluster) bool {
	switch t {
	case FAT12:
		return val == 0xFF7
	case FAT16:
		return val == 0xFFF7
	}
	return val == 0x0FFFFFF7
}

// entryOffset returns the byte offset of the entry of c inside a FAT.
func (t FATType) entryOffset(c Cluster) uint32 {
	switch t {
	case FAT12:
		return uint32(c) + uint32(c)/2
	case FAT16:
		return uint32(c) * 2
	}
	return uint32(c) * 4
}

// maxClusters returns how many entries a FAT of the given size can hold.
func (t FATType) maxClusters(fatSectors, sectorSize uint32) uint32 {
	switch t {
	case FAT12:
		return fatSectors * sectorSize * 2 / 3
	case FAT16:
		return fatSectors * sectorSize / 2
	}
	return fatSectors * sectorSize / 4
}

func (v *Volume) isValidCluster(c Cluster) bool {
	return c >= 2 && uint32(c) < v.clusterCount+2
}

// readFAT returns the value of the entry of c in the first FAT.
func (v *Volume) readFAT(c Cluster) (Cluster, error) {
	if uint32(c) >= v.clusterCount+2 {
		return 0, checkpoint.Wrap(fmt.Errorf("cluster %d out of range", c), ErrInvalidArgument)
	}

	off := v.fatType.entryOffset(c)
	sec := v.fat1Start + off>>v.secSizeLog2
	secOff := off & (v.secSize() - 1)

	if v.fatType != FAT12 {
		var val Cluster
		err := v.cache.Read(sec, LbTypeFAT, func(buf []byte) error {
			if v.fatType == FAT16 {
				val = Cluster(binary.LittleEndian.Uint16(buf[secOff:]))
			} else {
				val = Cluster(binary.LittleEndian.Uint32(buf[secOff:]) & 0x0FFFFFFF)
			}
			return nil
		})
		return val, checkpoint.From(err)
	}

	// A FAT12 entry may straddle two sectors.
	var lo, hi byte
	err := v.cache.Read(sec, LbTypeFAT, func(buf []byte) error {
		lo = buf[secOff]
		if secOff < v.secSize()-1 {
			hi = buf[secOff+1]
		}
		return nil
	})
	if err != nil {
		return 0, checkpoint.From(err)
	}

	if secOff == v.secSize()-1 {
		err = v.cache.Read(sec+1, LbTypeFAT, func(buf []byte) error {
			hi = buf[0]
			return nil
		})
		if err != nil {
			return 0, checkpoint.From(err)
		}
	}

	val := uint16(lo) | uint16(hi)<<8
	if c&1 == 1 {
		return Cluster(val >> 4), nil
	}
	return Cluster(val & 0xFFF), nil
}

// writeFAT sets the entry of c in every FAT copy.
func (v *Volume) writeFAT(c Cluster, val Cluster) error {
	if uint32(c) >= v.clusterCount+2 {
		return checkpoint.Wrap(fmt.Errorf("cluster %d out of range", c), ErrInvalidArgument)
	}

	off := v.fatType.entryOffset(c)
	secOff := off & (v.secSize() - 1)

	for i := uint32(0); i < uint32(v.numFATs); i++ {
		sec := v.fat1Start + i*v.fatSize + off>>v.secSizeLog2

		var err error
		switch v.fatType {
		case FAT16:
			err = v.modifyFAT(sec, func(buf []byte) error {
				binary.LittleEndian.PutUint16(buf[secOff:], uint16(val))
				return nil
			})
		case FAT32:
			err = v.modifyFAT(sec, func(buf []byte) error {
				// The upper 4 bits are reserved and must be preserved.
				old := binary.LittleEndian.Uint32(buf[secOff:])
				binary.LittleEndian.PutUint32(buf[secOff:], old&0xF0000000|uint32(val)&0x0FFFFFFF)
				return nil
			})
		default:
			err = v.writeFAT12(sec, secOff, c, val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) writeFAT12(sec, secOff uint32, c Cluster, val Cluster) error {
	setLo := func(b byte) byte {
		if c&1 == 1 {
			return b&0x0F | byte(val<<4)
		}
		return byte(val)
	}
	setHi := func(b byte) byte {
		if c&1 == 1 {
			return byte(val >> 4)
		}
		return b&0xF0 | byte(val>>8)&0x0F
	}

	if secOff < v.secSize()-1 {
		return v.modifyFAT(sec, func(buf []byte) error {
			buf[secOff] = setLo(buf[secOff])
			buf[secOff+1] = setHi(buf[secOff+1])
			return nil
		})
	}

	err := v.modifyFAT(sec, func(buf []byte) error {
		buf[secOff] = setLo(buf[secOff])
		return nil
	})
	if err != nil {
		return err
	}
	return v.modifyFAT(sec+1, func(buf []byte) error {
		buf[0] = setHi(buf[0])
		return nil
	})
}

// modifyFAT changes a FAT sector within the FAT write job.
func (v *Volume) modifyFAT(sec uint32, fn func(buf []byte) error) error {
	job, err := v.cache.Modify(sec, LbTypeFAT, v.job(v.fatJob), fn)
	if err != nil {
		return checkpoint.From(err)
	}
	if v.orderedWrites {
		v.fatJob = job
	}
	return nil
}

// job returns the given handle if ordered writes are enabled and the void job otherwise.
func (v *Volume) job(h JobHandle) JobHandle {
	if !v.orderedWrites {
		return VoidJob
	}
	return h
}
