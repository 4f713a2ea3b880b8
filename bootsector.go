package fatvol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/aligator/fatvol/checkpoint"
)

// CheckBootSector reports if the first block of the device looks like a FAT boot sector.
// The OEM name has to be "MSWIN4.1" and the file system type either "FAT" (FAT12/16) or "FAT32".
func CheckBootSector(cache Cache) (bool, error) {
	if cache.LbCount() == 0 {
		return false, nil
	}

	var isFAT bool
	err := cache.Read(0, LbTypeReservedArea, func(buf []byte) error {
		if !bytes.Equal(buf[bsOffOEMName:bsOffOEMName+8], []byte(bsOEMName)) {
			return nil
		}
		isFAT = bytes.Equal(buf[bsOffFileSysType16:bsOffFileSysType16+3], []byte("FAT")) ||
			bytes.Equal(buf[bsOffFileSysType32:bsOffFileSysType32+5], []byte("FAT32"))
		return nil
	})
	if err != nil {
		return false, checkpoint.From(err)
	}
	return isFAT, nil
}

func (v *Volume) readBootSector() error {
	var bpb BPB
	var signature uint16
	err := v.cache.Read(0, LbTypeReservedArea, func(buf []byte) error {
		signature = binary.LittleEndian.Uint16(buf[bsOffSignature:])
		return decode(buf, &bpb)
	})
	if err != nil {
		return checkpoint.From(err)
	}

	invalid := func(format string, args ...interface{}) error {
		return checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidFormat)
	}

	if signature != bsSignature {
		return invalid("invalid boot sector signature %#x", signature)
	}

	// The sector size must match the logical block size of the device.
	if uint32(bpb.BytesPerSector) != 1<<v.cache.LbSizeLog2() {
		return invalid("sector size %d does not match the block size %d", bpb.BytesPerSector, 1<<v.cache.LbSizeLog2())
	}
	v.secSizeLog2 = v.cache.LbSizeLog2()

	// Sectors per cluster has to be a power of two and the whole cluster must not exceed 64K.
	spc := uint32(bpb.SectorsPerCluster)
	if spc == 0 || spc > 128 || spc&(spc-1) != 0 {
		return invalid("invalid sectors per cluster %d", spc)
	}
	clusterSize := spc * uint32(bpb.BytesPerSector)
	if clusterSize < 512 || clusterSize > 65536 {
		return invalid("invalid cluster size %d", clusterSize)
	}
	v.secPerClusLog2 = uint8(bits.TrailingZeros32(spc))

	if bpb.ReservedSectorCount == 0 {
		return invalid("invalid reserved sector count")
	}

	if bpb.NumFATs != 1 && bpb.NumFATs != 2 {
		return invalid("invalid number of FATs %d", bpb.NumFATs)
	}
	v.numFATs = bpb.NumFATs

	var fat32 FAT32SpecificData
	if err := decode(bpb.FATSpecificData[:], &fat32); err != nil {
		return err
	}

	v.fatSize = uint32(bpb.FATSize16)
	if v.fatSize == 0 {
		v.fatSize = fat32.FatSize
	}
	if v.fatSize == 0 {
		return invalid("invalid FAT size")
	}

	v.totalSectors = uint32(bpb.TotalSectors16)
	if v.totalSectors == 0 {
		v.totalSectors = bpb.TotalSectors32
	}
	if v.totalSectors > v.cache.LbCount() {
		return invalid("volume has %d sectors but the device only %d", v.totalSectors, v.cache.LbCount())
	}

	v.fat1Start = uint32(bpb.ReservedSectorCount)
	v.rootDirSize = (uint32(bpb.RootEntryCount)*dirEntrySize + v.secSize() - 1) >> v.secSizeLog2
	v.rootDirStart = v.fat1Start + uint32(v.numFATs)*v.fatSize
	v.dataAreaStart = v.rootDirStart + v.rootDirSize
	if v.dataAreaStart >= v.totalSectors {
		return invalid("no data area")
	}
	v.dataAreaSize = v.totalSectors - v.dataAreaStart
	v.nextCluster = 2

	clusters := v.dataAreaSize >> v.secPerClusLog2
	switch {
	case clusters <= maxClustersFAT12:
		v.fatType = FAT12
	case clusters <= maxClustersFAT16:
		v.fatType = FAT16
	default:
		v.fatType = FAT32
	}

	v.clusterCount = clusters
	if limit := v.fatType.maxClusters(v.fatSize, v.secSize()); limit < v.clusterCount {
		v.clusterCount = limit
	}

	if v.fatType != FAT32 {
		if v.rootDirSize == 0 {
			return invalid("no root directory entries")
		}
		return nil
	}

	v.rootCluster = fat32.RootCluster
	if !v.isValidCluster(v.rootCluster) {
		return invalid("invalid root cluster %d", v.rootCluster)
	}
	// On FAT32 the root directory is a normal cluster chain.
	v.rootDirStart = v.clusterToSector(v.rootCluster)
	v.rootDirSize = 0

	if fat32.FSInfo != 0 && uint32(fat32.FSInfo) < v.fat1Start {
		v.fsInfoSector = uint32(fat32.FSInfo)
		v.readFSInfo()
	}

	return nil
}

// readFSInfo takes the next free cluster hint from the FSInfo sector.
// Invalid FSInfo content is ignored.
func (v *Volume) readFSInfo() {
	var info FSInfo
	err := v.cache.Read(v.fsInfoSector, LbTypeReservedArea, func(buf []byte) error {
		return decode(buf, &info)
	})
	if err != nil || info.LeadSig != fsInfoLeadSig || info.StrucSig != fsInfoStrucSig {
		v.log.WithError(err).Debug("ignoring FSInfo sector")
		return
	}

	if v.isValidCluster(Cluster(info.NextFree)) {
		v.nextCluster = Cluster(info.NextFree)
	}
}

func (v *Volume) writeFSInfo() error {
	if v.fsInfoSector == 0 {
		return nil
	}

	free := uint32(fsInfoUnknown)
	if v.queryValid {
		free = v.freeClusters
	}

	_, err := v.cache.Modify(v.fsInfoSector, LbTypeReservedArea, VoidJob, func(buf []byte) error {
		var info FSInfo
		if err := decode(buf, &info); err != nil {
			return err
		}
		if info.LeadSig != fsInfoLeadSig || info.StrucSig != fsInfoStrucSig {
			return nil
		}
		info.FreeCount = free
		info.NextFree = uint32(v.nextCluster)
		return encode(buf, &info)
	})
	return checkpoint.From(err)
}
