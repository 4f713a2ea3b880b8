package fatvol

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

// newMockJournal returns a journal mock. WriteJob may be called any time.
func newMockJournal(t *testing.T) *MockJournal {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	j := NewMockJournal(ctrl)
	j.EXPECT().WriteJob().Return(VoidJob).AnyTimes()
	return j
}

func TestVolume_journal(t *testing.T) {
	t.Run("create file", func(t *testing.T) {
		j := newMockJournal(t)
		v := newTestVolume(t, sizeFAT16, WithJournal(j))
		want := NewPosition(v.rootDirStart, 0)

		gomock.InOrder(
			j.EXPECT().EnterTopLevelOp(LogSizeFileCreate).Return(nil),
			j.EXPECT().EnterEntryCreate(want, want).Return(nil),
		)

		pos, err := v.Create(PositionRoot, "a.txt", false)
		require.NoError(t, err)
		require.Equal(t, want, pos)
	})

	t.Run("create directory with long name", func(t *testing.T) {
		j := newMockJournal(t)
		v := newTestVolume(t, sizeFAT16, WithJournal(j))

		// Two long name slots and the short name slot.
		start, end := NewPosition(v.rootDirStart, 0), NewPosition(v.rootDirStart, 2*dirEntrySize)
		gomock.InOrder(
			j.EXPECT().EnterTopLevelOp(LogSizeDirCreate).Return(nil),
			j.EXPECT().EnterClusterChainAlloc(Cluster(0), true).Return(nil),
			j.EXPECT().EnterEntryCreate(start, end).Return(nil),
		)

		_, err := v.Create(PositionRoot, "Holiday Pictures", true)
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		v := newTestVolume(t, sizeFAT16)
		pos := writeTestFile(t, v, PositionRoot, "data.bin", pattern(int(v.clusterSize())+1))
		info, _, err := v.Query(pos)
		require.NoError(t, err)

		j := newMockJournal(t)
		v.journal = j
		gomock.InOrder(
			j.EXPECT().EnterTopLevelOp(LogSizeEntryDelete).Return(nil),
			j.EXPECT().EnterEntryUpdate(pos, pos).Return(nil),
			j.EXPECT().EnterClusterChainDelete(info.FirstCluster, uint32(2), true).Return(nil),
		)

		require.NoError(t, v.Delete(pos))
	})

	t.Run("resize", func(t *testing.T) {
		v := newTestVolume(t, sizeFAT16)
		pos := writeTestFile(t, v, PositionRoot, "data.bin", []byte("x"))
		f, err := v.OpenFile(pos)
		require.NoError(t, err)

		j := newMockJournal(t)
		v.journal = j
		gomock.InOrder(
			j.EXPECT().EnterTopLevelOp(LogSizeFileResize).Return(nil),
			j.EXPECT().EnterClusterChainAlloc(f.info.FirstCluster, false).Return(nil),
			j.EXPECT().EnterTopLevelOp(LogSizeEntryUpdate).Return(nil),
			j.EXPECT().EnterEntryUpdate(pos, pos).Return(nil),
		)

		_, err = f.WriteAt(pattern(int(v.clusterSize())), 1)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})
}

func TestVolume_journal_failure(t *testing.T) {
	t.Run("top level operation", func(t *testing.T) {
		j := newMockJournal(t)
		v := newTestVolume(t, sizeFAT12, WithJournal(j))
		j.EXPECT().EnterTopLevelOp(LogSizeFileCreate).Return(errInjected)

		_, err := v.Create(PositionRoot, "a.txt", false)
		require.True(t, errors.Is(err, errInjected), "Create() error = %v", err)
		require.Empty(t, listDir(t, v, PositionRoot))
	})

	t.Run("entry creation frees the directory cluster", func(t *testing.T) {
		j := newMockJournal(t)
		v := newTestVolume(t, sizeFAT32, WithJournal(j))
		free := freeClusters(t, v)

		j.EXPECT().EnterTopLevelOp(LogSizeDirCreate).Return(nil)
		j.EXPECT().EnterClusterChainAlloc(Cluster(0), true).Return(nil)
		j.EXPECT().EnterEntryCreate(gomock.Any(), gomock.Any()).Return(errInjected)

		_, err := v.Create(PositionRoot, "dir", true)
		require.True(t, errors.Is(err, errInjected), "Create() error = %v", err)
		require.Empty(t, listDir(t, v, PositionRoot))
		require.Equal(t, free, freeClusters(t, v))
	})
}
