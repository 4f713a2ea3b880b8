package fatvol

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
)

// FormatOptions configures Format. Zero values select the defaults.
type FormatOptions struct {
	// Type is the FAT type. 0 selects it by the size of the device.
	Type FATType
	// SectorsPerCluster defaults to the recommended cluster size for the volume size.
	SectorsPerCluster uint8
	// NumFATs is 1 or 2, the default is 2.
	NumFATs uint8
	// RootEntries is the size of the fixed root directory of FAT12 and FAT16. The default is 512.
	RootEntries uint16
	// ReservedSectors defaults to 1 for FAT12 and FAT16 and 32 for FAT32.
	ReservedSectors uint16
	// Label is written into the boot sector and the root directory if not empty.
	Label string
	// VolumeID defaults to a value derived from the current time.
	VolumeID uint32

	Logger logrus.FieldLogger
}

// Volumes up to these sizes get FAT12 or FAT16 if no type is requested.
const (
	autoMaxSizeFAT12 = 4 << 20
	autoMaxSizeFAT16 = 512 << 20

	maxFormatClusterSize = 32768
)

// clusterSizeEntry maps a volume size in 512 byte sectors to the recommended sectors per cluster.
// A cluster size of 0 means that the type cannot be used for volumes of that size.
type clusterSizeEntry struct {
	sectors512 uint32
	spc512     uint32
}

var clusterSizeTables = map[FATType][]clusterSizeEntry{
	FAT12: {
		{36, 0},
		{37, 1},
		{4040, 2},
		{8057, 4},
		{16040, 8},
		{32050, 16},
		{64060, 32},
		{128080, 64},
		{256120, 0},
	},
	FAT16: {
		{8400, 0},
		{32680, 2},
		{262000, 4},
		{524000, 8},
		{1048000, 16},
		{2096000, 32},
		{4194304, 64},
		{0xFFFFFFFF, 0},
	},
	FAT32: {
		{66600, 0},
		{532480, 1},
		{16777216, 8},
		{33554432, 16},
		{67108864, 32},
		{0xFFFFFFFF, 64},
	},
}

// layout is the geometry of a volume to be formatted.
type layout struct {
	fatType     FATType
	secSize     uint32
	total       uint32
	spc         uint32
	reserved    uint32
	numFATs     uint32
	rootEntries uint32
	rootSecs    uint32
	fatSize     uint32
	clusters    uint32
}

func (l *layout) rootDirStart() uint32 {
	return l.reserved + l.numFATs*l.fatSize
}

func (l *layout) dataAreaStart() uint32 {
	return l.rootDirStart() + l.rootSecs
}

func recommendedSPC(t FATType, total, secSize uint32) uint32 {
	sectors512 := uint64(total) * uint64(secSize) / 512
	for _, e := range clusterSizeTables[t] {
		if sectors512 <= uint64(e.sectors512) {
			if e.spc512 == 0 {
				return 0
			}
			spc := e.spc512 * 512 / secSize
			if spc == 0 {
				spc = 1
			}
			return spc
		}
	}
	return 0
}

func computeLayout(total, secSize uint32, opts FormatOptions) (layout, error) {
	invalid := func(format string, args ...interface{}) (layout, error) {
		return layout{}, checkpoint.Wrap(fmt.Errorf(format, args...), ErrInvalidArgument)
	}

	l := layout{
		fatType:  opts.Type,
		secSize:  secSize,
		total:    total,
		spc:      uint32(opts.SectorsPerCluster),
		reserved: uint32(opts.ReservedSectors),
		numFATs:  uint32(opts.NumFATs),
	}

	if l.fatType == 0 {
		size := uint64(total) * uint64(secSize)
		switch {
		case size <= autoMaxSizeFAT12:
			l.fatType = FAT12
		case size <= autoMaxSizeFAT16:
			l.fatType = FAT16
		default:
			l.fatType = FAT32
		}
	}
	if l.fatType > FAT32 {
		return invalid("unknown FAT type %d", l.fatType)
	}

	if l.spc == 0 {
		l.spc = recommendedSPC(l.fatType, total, secSize)
		if l.spc == 0 {
			return invalid("%d sectors are not supported by %v", total, l.fatType)
		}
	}
	if l.spc > 128 || l.spc&(l.spc-1) != 0 || l.spc*secSize > maxFormatClusterSize {
		return invalid("invalid sectors per cluster %d", l.spc)
	}

	switch l.numFATs {
	case 0:
		l.numFATs = 2
	case 1, 2:
	default:
		return invalid("invalid number of FATs %d", l.numFATs)
	}

	if l.fatType == FAT32 {
		if l.reserved == 0 {
			l.reserved = 32
		}
		if l.reserved <= defaultBackupBoot {
			return invalid("%d reserved sectors leave no room for the backup boot sector", l.reserved)
		}
	} else {
		if l.reserved == 0 {
			l.reserved = 1
		}
		l.rootEntries = uint32(opts.RootEntries)
		if l.rootEntries == 0 {
			l.rootEntries = 512
		}
		// Fill up the last root directory sector.
		perSector := secSize / dirEntrySize
		l.rootEntries = (l.rootEntries + perSector - 1) / perSector * perSector
		if l.rootEntries > 0xFFFF {
			return invalid("%d root entries", l.rootEntries)
		}
		l.rootSecs = l.rootEntries / perSector
	}

	// Each FAT sector less leaves more room for clusters, so the size shrinks until it fits.
	l.fatSize = 1
	for {
		overhead := l.reserved + l.numFATs*l.fatSize + l.rootSecs
		if overhead >= total {
			return invalid("%d sectors are too few for the volume", total)
		}
		l.clusters = (total - overhead) / l.spc
		needed := (l.fatType.entryOffset(Cluster(l.clusters+2)) + secSize - 1) / secSize
		if needed <= l.fatSize {
			break
		}
		l.fatSize = needed
	}

	var fits bool
	switch l.fatType {
	case FAT12:
		fits = l.clusters <= maxClustersFAT12
	case FAT16:
		fits = l.clusters > maxClustersFAT12 && l.clusters <= maxClustersFAT16
	case FAT32:
		fits = l.clusters > maxClustersFAT16
	}
	if !fits || l.clusters == 0 {
		return layout{}, checkpoint.Wrap(fmt.Errorf("%d clusters do not fit %v", l.clusters, l.fatType), ErrInvalidFormat)
	}

	return l, nil
}

func (l *layout) bootSector(buf []byte, opts FormatOptions) error {
	bpb := BPB{
		BSJumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
		BytesPerSector:      uint16(l.secSize),
		SectorsPerCluster:   byte(l.spc),
		ReservedSectorCount: uint16(l.reserved),
		NumFATs:             byte(l.numFATs),
		RootEntryCount:      uint16(l.rootEntries),
		Media:               bsMediaFixed,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
	}
	copy(bpb.BSOEMName[:], bsOEMName)

	if l.total < 0x10000 && l.fatType != FAT32 {
		bpb.TotalSectors16 = uint16(l.total)
	} else {
		bpb.TotalSectors32 = l.total
	}

	var label [11]byte
	copy(label[:], "NO NAME    ")
	if opts.Label != "" {
		copy(label[:], fmt.Sprintf("%-11s", strings.ToUpper(opts.Label)))
	}

	var fsType [8]byte
	copy(fsType[:], fmt.Sprintf("%-8s", l.fatType.String()))

	if l.fatType == FAT32 {
		bpb.BSJumpBoot[1] = 0x58
		specific := FAT32SpecificData{
			FatSize:          l.fatSize,
			RootCluster:      defaultRootCluster,
			FSInfo:           defaultFSInfoSector,
			BkBootSector:     defaultBackupBoot,
			BSDriveNumber:    0x80,
			BSBootSignature:  bsBootSig,
			BSVolumeID:       opts.VolumeID,
			BSVolumeLabel:    label,
			BSFileSystemType: fsType,
		}
		if err := encode(bpb.FATSpecificData[:], &specific); err != nil {
			return err
		}
	} else {
		bpb.FATSize16 = uint16(l.fatSize)
		specific := FAT16SpecificData{
			BSDriveNumber:    0x80,
			BSBootSignature:  bsBootSig,
			BSVolumeID:       opts.VolumeID,
			BSVolumeLabel:    label,
			BSFileSystemType: fsType,
		}
		if err := encode(bpb.FATSpecificData[:], &specific); err != nil {
			return err
		}
	}

	if err := encode(buf, &bpb); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(buf[bsOffSignature:], bsSignature)
	return nil
}

// Format creates an empty FAT volume on the whole device behind the cache.
// Everything stored on the device before is lost.
func Format(c Cache, opts FormatOptions) error {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.VolumeID == 0 {
		opts.VolumeID = uint32(time.Now().UnixNano())
	}
	if err := checkLabel(opts.Label); err != nil {
		return err
	}

	l, err := computeLayout(c.LbCount(), 1<<c.LbSizeLog2(), opts)
	if err != nil {
		return err
	}

	write := func(lb uint32, fn func(buf []byte) error) error {
		_, err := c.Write(lb, LbTypeReservedArea, VoidJob, fn)
		return checkpoint.From(err)
	}
	zero := func(buf []byte) error { return nil }

	if err := c.Trim(0, l.total); err != nil {
		return checkpoint.From(err)
	}

	// Reserved area, FATs and the fixed root directory.
	for lb := uint32(0); lb < l.dataAreaStart(); lb++ {
		if err := write(lb, zero); err != nil {
			return err
		}
	}

	boot := func(buf []byte) error {
		return l.bootSector(buf, opts)
	}
	if err := write(0, boot); err != nil {
		return err
	}

	if l.fatType == FAT32 {
		if err := write(defaultBackupBoot, boot); err != nil {
			return err
		}

		err := write(defaultFSInfoSector, func(buf []byte) error {
			return encode(buf, &FSInfo{
				LeadSig:   fsInfoLeadSig,
				StrucSig:  fsInfoStrucSig,
				FreeCount: l.clusters - 1,
				NextFree:  defaultRootCluster + 1,
				TrailSig:  fsInfoTrailSig,
			})
		})
		if err != nil {
			return err
		}

		rootStart := l.dataAreaStart() + (defaultRootCluster-2)*l.spc
		for i := uint32(0); i < l.spc; i++ {
			if err := write(rootStart+i, zero); err != nil {
				return err
			}
		}
	}

	// The first two entries hold the media byte and an end of chain marker.
	// On FAT32 the root directory cluster is terminated as well.
	for i := uint32(0); i < l.numFATs; i++ {
		err := write(l.reserved+i*l.fatSize, func(buf []byte) error {
			switch l.fatType {
			case FAT12:
				copy(buf, []byte{bsMediaFixed, 0xFF, 0xFF})
			case FAT16:
				binary.LittleEndian.PutUint16(buf[0:], 0xFF00|bsMediaFixed)
				binary.LittleEndian.PutUint16(buf[2:], 0xFFFF)
			case FAT32:
				binary.LittleEndian.PutUint32(buf[0:], 0x0FFFFF00|bsMediaFixed)
				binary.LittleEndian.PutUint32(buf[4:], 0x0FFFFFFF)
				binary.LittleEndian.PutUint32(buf[8:], 0x0FFFFFFF)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := c.Sync(); err != nil {
		return checkpoint.From(err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"type":           l.fatType,
		"sectors":        l.total,
		"clusterSectors": l.spc,
		"clusters":       l.clusters,
		"fatSectors":     l.fatSize,
		"rootEntries":    l.rootEntries,
	}).Debug("formatted volume")

	if opts.Label == "" {
		return nil
	}

	v, err := Open(c, WithLogger(opts.Logger))
	if err != nil {
		return err
	}
	if err := v.SetLabel(opts.Label); err != nil {
		return err
	}
	return v.Sync()
}
