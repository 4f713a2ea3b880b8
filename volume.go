package fatvol

import (
	"io"
	"time"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Volume is an open FAT12, FAT16 or FAT32 filesystem.
//
// A Volume does no locking. The caller has to make sure that only one
// operation runs at a time.
type Volume struct {
	cache         Cache
	journal       Journal
	log           logrus.FieldLogger
	clock         Clock
	orderedWrites bool

	fatType        FATType
	secSizeLog2    uint8
	secPerClusLog2 uint8
	numFATs        uint8
	fat1Start      uint32
	fatSize        uint32
	rootDirStart   uint32
	rootDirSize    uint32
	rootCluster    Cluster
	dataAreaStart  uint32
	dataAreaSize   uint32
	clusterCount   uint32
	totalSectors   uint32
	fsInfoSector   uint32

	// nextCluster is the hint where the search for a free cluster starts.
	nextCluster Cluster

	// The free and bad counts are only valid after Info was called.
	queryValid   bool
	freeClusters uint32
	badClusters  uint32

	stats Stats

	fatJob JobHandle
}

// Stats counts the allocator activity since the volume was opened.
type Stats struct {
	ClustersAllocated uint64
	ClustersFreed     uint64
}

// VolumeInfo describes the usage of a volume.
type VolumeInfo struct {
	Type          FATType
	SectorSize    uint32
	ClusterSize   uint32
	TotalSectors  uint32
	TotalClusters uint32
	FreeClusters  uint32
	UsedClusters  uint32
	BadClusters   uint32
}

// Option configures a Volume on Open.
type Option func(v *Volume)

// WithJournal enables journaling using the given journal.
func WithJournal(j Journal) Option {
	return func(v *Volume) {
		v.journal = j
	}
}

// WithOrderedWrites enables or disables the ordering of dependent cache writes.
// It is enabled by default.
func WithOrderedWrites(enabled bool) Option {
	return func(v *Volume) {
		v.orderedWrites = enabled
	}
}

// WithLogger sets the logger of the volume. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(v *Volume) {
		v.log = log
	}
}

// WithClock sets the source of entry timestamps. The default is time.Now.
func WithClock(clock Clock) Option {
	return func(v *Volume) {
		v.clock = clock
	}
}

// Open reads the boot sector of the device behind the cache and opens the volume.
func Open(cache Cache, opts ...Option) (*Volume, error) {
	v := &Volume{
		cache:         cache,
		log:           logrus.StandardLogger(),
		clock:         time.Now,
		orderedWrites: true,
	}

	for _, opt := range opts {
		opt(v)
	}

	if err := v.readBootSector(); err != nil {
		return nil, err
	}

	if v.orderedWrites {
		job, err := cache.Append(VoidJob)
		if err != nil {
			return nil, checkpoint.From(err)
		}
		v.fatJob = job
	}

	v.log.WithFields(logrus.Fields{
		"type":            v.fatType,
		"sectorSize":      v.secSize(),
		"clusterSectors":  1 << v.secPerClusLog2,
		"sectors":         v.totalSectors,
		"clusters":        v.clusterCount,
		"fats":            v.numFATs,
		"journaled":       v.journal != nil,
		"orderedWrites":   v.orderedWrites,
		"rootDirectoryLb": v.rootDirStart,
	}).Debug("volume opened")

	return v, nil
}

func (v *Volume) Type() FATType {
	return v.fatType
}

// Journaled reports if the volume records its changes in a journal.
func (v *Volume) Journaled() bool {
	return v.journal != nil
}

func (v *Volume) Stats() Stats {
	return v.stats
}

func (v *Volume) secSize() uint32 {
	return 1 << v.secSizeLog2
}

func (v *Volume) clusterSize() uint32 {
	return 1 << (v.secSizeLog2 + v.secPerClusLog2)
}

func (v *Volume) clusterToSector(c Cluster) uint32 {
	return v.dataAreaStart + (uint32(c)-2)<<v.secPerClusLog2
}

func (v *Volume) sectorToCluster(sec uint32) Cluster {
	return Cluster((sec-v.dataAreaStart)>>v.secPerClusLog2) + 2
}

// isFixedRoot reports if sec lies in the fixed root directory of a FAT12/16 volume.
func (v *Volume) isFixedRoot(sec uint32) bool {
	return v.fatType != FAT32 && sec >= v.rootDirStart && sec < v.dataAreaStart
}

// Info counts the free, used and bad clusters of the volume.
// The free count is kept up to date by later allocations.
func (v *Volume) Info() (VolumeInfo, error) {
	if !v.queryValid {
		var free, bad uint32
		for c := Cluster(2); uint32(c) < v.clusterCount+2; c++ {
			val, err := v.readFAT(c)
			if err != nil {
				return VolumeInfo{}, err
			}
			switch {
			case val == clusterFree:
				free++
			case v.fatType.isBad(val):
				bad++
			}
		}
		v.freeClusters = free
		v.badClusters = bad
		v.queryValid = true
	}

	return VolumeInfo{
		Type:          v.fatType,
		SectorSize:    v.secSize(),
		ClusterSize:   v.clusterSize(),
		TotalSectors:  v.totalSectors,
		TotalClusters: v.clusterCount,
		FreeClusters:  v.freeClusters,
		UsedClusters:  v.clusterCount - v.freeClusters - v.badClusters,
		BadClusters:   v.badClusters,
	}, nil
}

// Sync writes all pending changes to the device.
func (v *Volume) Sync() error {
	if err := v.writeFSInfo(); err != nil {
		return err
	}

	if err := v.cache.Sync(); err != nil {
		return checkpoint.From(err)
	}
	return nil
}

// Close syncs the volume and closes the journal if it can be closed.
// The volume must not be used afterwards.
func (v *Volume) Close() error {
	err := v.Sync()

	if closer, ok := v.journal.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}

	v.cache = nil
	v.journal = nil
	return err
}
