package fatvol

import (
	"fmt"
	"math"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/sirupsen/logrus"
)

// chainTail describes where a chain walk stopped.
type chainTail struct {
	// Next is the value found in the FAT entry of Last.
	Next Cluster
	// Last is the last valid cluster visited.
	Last Cluster
	// Prev is the cluster visited before Last, or 0 if Last is the start.
	Prev Cluster
}

// findFreeCluster searches the FAT for a free cluster starting at the next free hint.
// It wraps around at the end of the FAT once and returns 0 if no free cluster exists.
func (v *Volume) findFreeCluster() (Cluster, error) {
	c := v.nextCluster
	if !v.isValidCluster(c) {
		c = 2
	}

	for i := uint32(0); i < v.clusterCount; i++ {
		if !v.straddlesSector(c) {
			val, err := v.readFAT(c)
			if err != nil {
				return 0, err
			}
			if val == clusterFree {
				v.nextCluster = c + 1
				return c, nil
			}
		}

		c++
		if uint32(c) >= v.clusterCount+2 {
			c = 2
		}
	}

	return 0, nil
}

// straddlesSector reports if the FAT12 entry of c spans two sectors on a journaled volume.
// Such entries cannot be written atomically and are never allocated.
func (v *Volume) straddlesSector(c Cluster) bool {
	if v.fatType != FAT12 || v.journal == nil {
		return false
	}
	off := v.fatType.entryOffset(c)
	return off&(v.secSize()-1) == v.secSize()-1
}

// allocateChain allocates n clusters. If start is 0 a new chain is created,
// otherwise the clusters are appended to the chain ending at start.
// It returns the first newly allocated cluster and the new last cluster of the chain.
//
// If clear is set, the new clusters are zeroed within *dataJob. dataJob may be nil.
func (v *Volume) allocateChain(start Cluster, n uint32, clear bool, lbType LbType, dataJob *JobHandle) (first, last Cluster, err error) {
	if n == 0 {
		return 0, 0, checkpoint.Wrap(fmt.Errorf("no clusters requested"), ErrInvalidArgument)
	}

	var clearJob JobHandle
	if dataJob == nil {
		dataJob = &clearJob
	}

	isNew := start == 0
	cur := start
	if isNew {
		cur, err = v.findFreeCluster()
		if err != nil {
			return 0, 0, err
		}
		if cur == 0 {
			return 0, 0, checkpoint.Wrap(fmt.Errorf("no free cluster"), ErrVolumeFull)
		}
		first = cur
	} else {
		if !v.isValidCluster(start) {
			return 0, 0, checkpoint.Wrap(fmt.Errorf("invalid start cluster %d", start), ErrInvalidArgument)
		}
		val, err := v.readFAT(start)
		if err != nil {
			return 0, 0, err
		}
		if !v.fatType.isEOC(val) {
			return 0, 0, checkpoint.Wrap(fmt.Errorf("cluster %d is not the end of its chain", start), ErrVolumeCorrupted)
		}
	}

	if v.journal != nil {
		if err := v.journal.EnterClusterChainAlloc(start, isNew); err != nil {
			return 0, 0, checkpoint.From(err)
		}
		if err := v.orderAfterJournal(); err != nil {
			return 0, 0, err
		}
	}

	// Undo everything written so far if anything fails from here on.
	freeBefore, statsBefore := v.freeClusters, v.stats
	defer func() {
		if err == nil {
			return
		}
		rollbackFrom := start
		if isNew {
			rollbackFrom = first
		}
		if rbErr := v.deleteChainReverse(rollbackFrom, isNew); rbErr != nil {
			v.log.WithError(rbErr).WithField("cluster", rollbackFrom).Error("could not roll back cluster allocation")
			return
		}
		// The rolled back clusters were never counted as used.
		v.freeClusters, v.stats = freeBefore, statsBefore
	}()

	remaining := n
	if isNew {
		if clear {
			if err = v.clearCluster(cur, lbType, dataJob); err != nil {
				return 0, 0, err
			}
		}
		remaining--
	}

	for ; remaining > 0; remaining-- {
		var next Cluster
		next, err = v.findFreeCluster()
		if err != nil {
			return 0, 0, err
		}
		// cur stays free in the FAT until it is linked or terminated.
		if next == 0 || next == cur {
			err = checkpoint.Wrap(fmt.Errorf("no free cluster"), ErrVolumeFull)
			return 0, 0, err
		}

		if first == 0 {
			first = next
		}

		if clear {
			if err = v.clearCluster(next, lbType, dataJob); err != nil {
				return 0, 0, err
			}
		}

		if err = v.writeFAT(cur, next); err != nil {
			return 0, 0, err
		}
		cur = next
	}

	if err = v.writeFAT(cur, v.fatType.eoc()); err != nil {
		return 0, 0, err
	}

	v.stats.ClustersAllocated += uint64(n)
	if v.queryValid {
		v.freeClusters -= n
	}

	v.log.WithFields(logrus.Fields{"start": start, "first": first, "last": cur, "count": n}).Trace("allocated clusters")
	return first, cur, nil
}

// orderAfterJournal makes all following FAT writes depend on the pending journal writes.
func (v *Volume) orderAfterJournal() error {
	if !v.orderedWrites {
		return nil
	}

	stub, err := v.cache.Append(v.fatJob)
	if err != nil {
		return checkpoint.From(err)
	}
	v.fatJob, err = v.cache.Join(v.journal.WriteJob(), stub)
	return checkpoint.From(err)
}

// clearCluster zeroes all sectors of c. The FAT job is ordered after the clearing
// so that a cluster is never linked before it is cleared.
func (v *Volume) clearCluster(c Cluster, lbType LbType, job *JobHandle) error {
	sec := v.clusterToSector(c)
	clusterJob := v.job(*job)
	if v.orderedWrites && clusterJob == VoidJob {
		var err error
		if clusterJob, err = v.cache.Append(VoidJob); err != nil {
			return checkpoint.From(err)
		}
	}

	for i := uint32(0); i < 1<<v.secPerClusLog2; i++ {
		var err error
		clusterJob, err = v.cache.Write(sec+i, lbType, clusterJob, func(buf []byte) error {
			return nil
		})
		if err != nil {
			return checkpoint.From(err)
		}
	}

	if !v.orderedWrites {
		return nil
	}
	*job = clusterJob

	var err error
	v.fatJob, err = v.cache.Join(clusterJob, v.fatJob)
	return checkpoint.From(err)
}

// freeCluster marks c as free and discards its sectors.
func (v *Volume) freeCluster(c Cluster) error {
	if err := v.writeFAT(c, clusterFree); err != nil {
		return err
	}

	if err := v.cache.Trim(v.clusterToSector(c), 1<<v.secPerClusLog2); err != nil {
		return checkpoint.From(err)
	}

	v.stats.ClustersFreed++
	if v.queryValid {
		v.freeClusters++
	}
	return nil
}

// deleteChainForward frees the chain starting at first. If deleteFirst is not set,
// first is kept and becomes the end of the chain.
// The walk stops silently at the end of the chain or at an invalid cluster value.
// It returns the number of freed clusters.
func (v *Volume) deleteChainForward(first Cluster, deleteFirst bool) (uint32, error) {
	if !v.isValidCluster(first) {
		return 0, checkpoint.Wrap(fmt.Errorf("invalid cluster %d", first), ErrInvalidArgument)
	}

	if v.journal != nil {
		_, length, err := v.findChainEnd(first)
		if err != nil {
			return 0, err
		}
		if err := v.journal.EnterClusterChainDelete(first, length, deleteFirst); err != nil {
			return 0, checkpoint.From(err)
		}
		if err := v.orderAfterJournal(); err != nil {
			return 0, err
		}
	}

	var freed uint32
	cur := first
	for i := uint32(0); i <= v.clusterCount && v.isValidCluster(cur); i++ {
		next, err := v.readFAT(cur)
		if err != nil {
			return freed, err
		}

		if cur == first && !deleteFirst {
			err = v.writeFAT(cur, v.fatType.eoc())
		} else {
			err = v.freeCluster(cur)
			freed++
		}
		if err != nil {
			return freed, err
		}

		cur = next
	}

	return freed, nil
}

// deleteChainReverse frees the chain starting at first from its end towards first.
// It does not use the journal, so it can undo a partial allocation.
func (v *Volume) deleteChainReverse(first Cluster, deleteFirst bool) error {
	for i := uint32(0); i <= v.clusterCount; i++ {
		tail, _, err := v.findChainEnd(first)
		if err != nil {
			return err
		}

		cur := tail.Last
		if tail.Next == clusterFree {
			// The walk ran into a free cluster, so Last was never linked properly.
			cur = tail.Prev
		}
		if cur == 0 {
			return nil
		}

		if cur == first && !deleteFirst {
			return v.writeFAT(cur, v.fatType.eoc())
		}
		if err := v.freeCluster(cur); err != nil {
			return err
		}
		if cur == first {
			return nil
		}
	}

	return checkpoint.Wrap(fmt.Errorf("chain of %d does not end", first), ErrVolumeCorrupted)
}

// followChain walks up to maxSteps links of the chain starting at start.
// It returns where it stopped and the number of links followed.
func (v *Volume) followChain(start Cluster, maxSteps uint32) (chainTail, uint32, error) {
	if !v.isValidCluster(start) {
		return chainTail{}, 0, checkpoint.Wrap(fmt.Errorf("invalid cluster %d", start), ErrInvalidArgument)
	}

	next, err := v.readFAT(start)
	if err != nil {
		return chainTail{}, 0, err
	}

	tail := chainTail{Next: next, Last: start}
	var steps uint32
	for steps < maxSteps && v.isValidCluster(tail.Next) {
		// A chain can never be longer than the volume.
		if steps >= v.clusterCount {
			return tail, steps, checkpoint.Wrap(fmt.Errorf("loop in chain of %d", start), ErrVolumeCorrupted)
		}

		tail.Prev = tail.Last
		tail.Last = tail.Next
		tail.Next, err = v.readFAT(tail.Last)
		if err != nil {
			return tail, steps, err
		}
		steps++
	}

	return tail, steps, nil
}

// findChainEnd follows the chain to its end. The returned length counts all clusters of the chain.
func (v *Volume) findChainEnd(start Cluster) (chainTail, uint32, error) {
	tail, steps, err := v.followChain(start, math.MaxUint32)
	return tail, steps + 1, err
}

// reverseFindCluster searches the predecessors of start until stop or the first cluster of the chain is reached.
// As the FAT has no backward links, the whole table is scanned backwards for each step.
func (v *Volume) reverseFindCluster(start, stop Cluster) (Cluster, error) {
	if !v.isValidCluster(start) || !v.isValidCluster(stop) {
		return 0, checkpoint.Wrap(fmt.Errorf("invalid clusters %d, %d", start, stop), ErrInvalidArgument)
	}

	target := start
	cur := start - 1
	for target != stop {
		if cur < 2 {
			cur = Cluster(v.clusterCount + 1)
		}
		if cur == target {
			// Wrapped around without a predecessor, so target starts the chain.
			break
		}

		val, err := v.readFAT(cur)
		if err != nil {
			return 0, err
		}
		if val == target {
			target = cur
		}
		cur--
	}

	return target, nil
}

// nextSector returns the sector following sec in its directory table or file.
// It returns sectorVoid at the end of the chain.
func (v *Volume) nextSector(sec uint32) (uint32, error) {
	if v.isFixedRoot(sec) {
		if sec+1 < v.dataAreaStart {
			return sec + 1, nil
		}
		return sectorVoid, nil
	}

	if sec < v.dataAreaStart || sec >= v.totalSectors {
		return 0, checkpoint.Wrap(fmt.Errorf("sector %d outside of the data area", sec), ErrInvalidArgument)
	}

	// Still inside of the cluster.
	if (sec-v.dataAreaStart+1)&(1<<v.secPerClusLog2-1) != 0 {
		return sec + 1, nil
	}

	next, err := v.readFAT(v.sectorToCluster(sec))
	if err != nil {
		return 0, err
	}
	if v.fatType.isEOC(next) {
		return sectorVoid, nil
	}
	if !v.isValidCluster(next) {
		return 0, checkpoint.Wrap(fmt.Errorf("invalid link %d after sector %d", next, sec), ErrVolumeCorrupted)
	}
	return v.clusterToSector(next), nil
}
