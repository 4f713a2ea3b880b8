package fatvol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected fault")

// faultCache fails the n-th modification of a FAT sector.
type faultCache struct {
	Cache

	failAt   int
	fatCalls int
}

func (c *faultCache) Modify(lb uint32, typ LbType, job JobHandle, fn func(buf []byte) error) (JobHandle, error) {
	if typ == LbTypeFAT {
		c.fatCalls++
		if c.fatCalls == c.failAt {
			return job, errInjected
		}
	}
	return c.Cache.Modify(lb, typ, job, fn)
}

// chainOf returns the clusters of the chain starting at first.
func chainOf(t *testing.T, v *Volume, first Cluster) []Cluster {
	t.Helper()

	chain := []Cluster{first}
	for {
		next, err := v.readFAT(chain[len(chain)-1])
		require.NoError(t, err)
		if v.fatType.isEOC(next) {
			return chain
		}
		require.True(t, v.isValidCluster(next), "invalid link %d in chain of %d", next, first)
		require.LessOrEqual(t, len(chain), int(v.clusterCount), "loop in chain of %d", first)
		chain = append(chain, next)
	}
}

func TestVolume_allocateChain(t *testing.T) {
	for name, v := range testVolumes(t) {
		t.Run(name, func(t *testing.T) {
			free := freeClusters(t, v)

			first, last, err := v.allocateChain(0, 5, true, LbTypeData, nil)
			require.NoError(t, err)

			chain := chainOf(t, v, first)
			require.Len(t, chain, 5)
			require.Equal(t, last, chain[4])

			tail, length, err := v.findChainEnd(first)
			require.NoError(t, err)
			require.Equal(t, uint32(5), length)
			require.Equal(t, last, tail.Last)
			require.Equal(t, chain[3], tail.Prev)
			require.True(t, v.fatType.isEOC(tail.Next))

			// Extending returns the first new cluster and the new end.
			added, newLast, err := v.allocateChain(last, 3, false, LbTypeData, nil)
			require.NoError(t, err)

			chain = chainOf(t, v, first)
			require.Len(t, chain, 8)
			require.Equal(t, added, chain[5])
			require.Equal(t, newLast, chain[7])

			require.Equal(t, free-8, freeClusters(t, v))
			require.Equal(t, uint64(8), v.Stats().ClustersAllocated)

			// The maintained free count matches a fresh scan.
			v.queryValid = false
			require.Equal(t, free-8, freeClusters(t, v))
		})
	}
}

func TestVolume_allocateChain_invalid(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)

	first, _, err := v.allocateChain(0, 2, false, LbTypeData, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		start   Cluster
		n       uint32
		wantErr error
	}{
		{name: "no clusters", start: 0, n: 0, wantErr: ErrInvalidArgument},
		{name: "invalid start", start: 1, n: 1, wantErr: ErrInvalidArgument},
		{name: "start is not the end", start: first, n: 1, wantErr: ErrVolumeCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := v.allocateChain(tt.start, tt.n, false, LbTypeData, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("allocateChain() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVolume_allocateChain_volumeFull(t *testing.T) {
	img := newTestImage(t, sizeFAT12, FormatOptions{})
	v := img.open(t)

	free := freeClusters(t, v)
	_, _, err := v.allocateChain(0, free+1, false, LbTypeData, nil)
	if !errors.Is(err, ErrVolumeFull) {
		t.Fatalf("allocateChain() error = %v, want ErrVolumeFull", err)
	}

	require.Equal(t, free, freeClusters(t, v))
	v.queryValid = false
	require.Equal(t, free, freeClusters(t, v))

	// Exactly the free clusters can still be allocated.
	first, _, err := v.allocateChain(0, free, false, LbTypeData, nil)
	require.NoError(t, err)
	require.Len(t, chainOf(t, v, first), int(free))
	require.Zero(t, freeClusters(t, v))

	for _, entry := range img.hook.AllEntries() {
		require.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}
}

func TestVolume_allocateChain_rollback(t *testing.T) {
	// Allocating 3 clusters on a volume with 2 FATs modifies FAT sectors 6 times.
	for failAt := 1; failAt <= 6; failAt++ {
		for _, extend := range []bool{false, true} {
			t.Run(fmt.Sprintf("fail at %d extend %v", failAt, extend), func(t *testing.T) {
				img := newTestImage(t, sizeFAT16, FormatOptions{})
				cache := &faultCache{Cache: img.cache}
				v, err := Open(cache, WithLogger(img.log), WithClock(testClock))
				require.NoError(t, err)

				var start Cluster
				if extend {
					start, _, err = v.allocateChain(0, 1, false, LbTypeData, nil)
					require.NoError(t, err)
				}

				free := freeClusters(t, v)
				stats := v.Stats()

				cache.fatCalls = 0
				cache.failAt = failAt
				_, _, err = v.allocateChain(start, 3, true, LbTypeData, nil)
				if !errors.Is(err, errInjected) {
					t.Fatalf("allocateChain() error = %v, want the injected error", err)
				}
				cache.failAt = 0

				require.Equal(t, free, freeClusters(t, v))
				require.Equal(t, stats, v.Stats())

				v.queryValid = false
				require.Equal(t, free, freeClusters(t, v), "clusters leaked")

				if extend {
					require.Equal(t, []Cluster{start}, chainOf(t, v, start))
				}

				for _, entry := range img.hook.AllEntries() {
					require.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
				}
			})
		}
	}
}

func TestVolume_deleteChainForward(t *testing.T) {
	tests := []struct {
		name        string
		deleteFirst bool
		wantFreed   uint32
	}{
		{name: "whole chain", deleteFirst: true, wantFreed: 4},
		{name: "keep first", deleteFirst: false, wantFreed: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVolume(t, sizeFAT32)
			free := freeClusters(t, v)

			first, _, err := v.allocateChain(0, 4, false, LbTypeData, nil)
			require.NoError(t, err)
			chain := chainOf(t, v, first)

			freed, err := v.deleteChainForward(first, tt.deleteFirst)
			require.NoError(t, err)
			require.Equal(t, tt.wantFreed, freed)

			for i, c := range chain {
				val, err := v.readFAT(c)
				require.NoError(t, err)
				switch {
				case i == 0 && !tt.deleteFirst:
					require.True(t, v.fatType.isEOC(val), "first cluster is not the end of its chain")
				default:
					require.Equal(t, clusterFree, val, "cluster %d", c)
				}
			}

			require.Equal(t, free-4+tt.wantFreed, freeClusters(t, v))
			require.Equal(t, uint64(tt.wantFreed), v.Stats().ClustersFreed)
		})
	}
}

func TestVolume_deleteChainForward_stopsAtInvalidValue(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)

	first, _, err := v.allocateChain(0, 2, false, LbTypeData, nil)
	require.NoError(t, err)
	chain := chainOf(t, v, first)

	// Break the link of the second cluster.
	require.NoError(t, v.writeFAT(chain[1], 1))

	freed, err := v.deleteChainForward(first, true)
	require.NoError(t, err)
	require.Equal(t, uint32(2), freed)

	_, err = v.deleteChainForward(1, true)
	require.True(t, errors.Is(err, ErrInvalidArgument), "deleteChainForward(1) error = %v", err)
}

func TestVolume_followChain(t *testing.T) {
	v := newTestVolume(t, sizeFAT12)

	first, _, err := v.allocateChain(0, 4, false, LbTypeData, nil)
	require.NoError(t, err)
	chain := chainOf(t, v, first)

	tests := []struct {
		name      string
		maxSteps  uint32
		wantTail  chainTail
		wantSteps uint32
	}{
		{name: "no step", maxSteps: 0, wantTail: chainTail{Next: chain[1], Last: chain[0]}, wantSteps: 0},
		{name: "two steps", maxSteps: 2, wantTail: chainTail{Next: chain[3], Last: chain[2], Prev: chain[1]}, wantSteps: 2},
		{name: "behind the end", maxSteps: 10, wantTail: chainTail{Next: v.fatType.eoc(), Last: chain[3], Prev: chain[2]}, wantSteps: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tail, steps, err := v.followChain(first, tt.maxSteps)
			require.NoError(t, err)
			require.Equal(t, tt.wantSteps, steps)
			require.Equal(t, tt.wantTail, tail)
		})
	}

	t.Run("loop", func(t *testing.T) {
		require.NoError(t, v.writeFAT(chain[3], chain[0]))
		_, _, err := v.findChainEnd(first)
		require.True(t, errors.Is(err, ErrVolumeCorrupted), "findChainEnd() error = %v", err)
	})
}

func TestVolume_reverseFindCluster(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)

	first, _, err := v.allocateChain(0, 4, false, LbTypeData, nil)
	require.NoError(t, err)
	chain := chainOf(t, v, first)

	got, err := v.reverseFindCluster(chain[3], chain[1])
	require.NoError(t, err)
	require.Equal(t, chain[1], got)

	got, err = v.reverseFindCluster(chain[2], Cluster(v.clusterCount+1))
	require.NoError(t, err)
	require.Equal(t, first, got, "the first cluster of the chain is found if stop is not part of it")
}

func TestVolume_fatEntries(t *testing.T) {
	for name, v := range testVolumes(t) {
		t.Run(name, func(t *testing.T) {
			marker := v.fatType.eoc() &^ 0x5

			// Neighbouring entries share bytes on FAT12.
			for _, c := range []Cluster{2, 3, 4, 5, Cluster(v.clusterCount), Cluster(v.clusterCount + 1)} {
				require.NoError(t, v.writeFAT(c, marker))
			}
			require.NoError(t, v.writeFAT(4, 0x123))

			for c, want := range map[Cluster]Cluster{3: marker, 4: 0x123, 5: marker} {
				got, err := v.readFAT(c)
				require.NoError(t, err)
				require.Equal(t, want, got, "cluster %d", c)
			}

			_, err := v.readFAT(Cluster(v.clusterCount + 2))
			require.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestVolume_straddlesSector(t *testing.T) {
	img := newTestImage(t, sizeFAT12, FormatOptions{})
	v := img.open(t, WithJournal(newNopJournal(t)))

	var straddling []Cluster
	for c := Cluster(2); uint32(c) < v.clusterCount+2; c++ {
		if v.straddlesSector(c) {
			straddling = append(straddling, c)
		}
	}
	// Entry 341 starts at byte 511 of the first FAT sector.
	require.Contains(t, straddling, Cluster(341))

	v.nextCluster = 340
	for _, want := range []Cluster{340, 342} {
		got, err := v.findFreeCluster()
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.NoError(t, v.writeFAT(got, v.fatType.eoc()))
	}

	plain := img.open(t)
	require.False(t, plain.straddlesSector(341))
}
