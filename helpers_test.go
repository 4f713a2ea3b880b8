package fatvol

import (
	"io"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// Image sizes which result in the different FAT types. FAT32 has to be requested explicitly.
const (
	sizeFAT12 = 1 << 20
	sizeFAT16 = 16 << 20
	sizeFAT32 = 40 << 20
)

// testClock returns a fixed time with an even second, which FAT stores exactly.
var testClock = func() time.Time {
	return time.Date(2021, time.March, 14, 15, 9, 26, 0, time.UTC)
}

// testImage is a formatted in memory image.
type testImage struct {
	dev   afero.File
	cache *BlockCache
	log   *logrus.Logger
	hook  *test.Hook
}

func newTestImage(t *testing.T, size int64, opts FormatOptions, cacheOpts ...BlockCacheOption) *testImage {
	t.Helper()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)

	dev, err := afero.NewMemMapFs().Create("fat.img")
	require.NoError(t, err)
	require.NoError(t, dev.Truncate(size))

	cache, err := NewBlockCache(dev, 512, append([]BlockCacheOption{WithCacheLogger(log)}, cacheOpts...)...)
	require.NoError(t, err)

	opts.Logger = log
	require.NoError(t, Format(cache, opts))
	hook.Reset()

	return &testImage{dev: dev, cache: cache, log: log, hook: hook}
}

func (img *testImage) open(t *testing.T, opts ...Option) *Volume {
	t.Helper()

	v, err := Open(img.cache, append([]Option{WithLogger(img.log), WithClock(testClock)}, opts...)...)
	require.NoError(t, err)
	return v
}

// reopen syncs v and opens the image again with a new cache, so that everything is read from the device.
func (img *testImage) reopen(t *testing.T, v *Volume, opts ...Option) *Volume {
	t.Helper()

	require.NoError(t, v.Sync())

	cache, err := NewBlockCache(img.dev, 512, WithCacheLogger(img.log))
	require.NoError(t, err)
	img.cache = cache
	return img.open(t, opts...)
}

// testSizes maps each FAT type to the image size producing it.
var testSizes = map[string]int64{
	"FAT12": sizeFAT12,
	"FAT16": sizeFAT16,
	"FAT32": sizeFAT32,
}

func formatFor(size int64) FormatOptions {
	var format FormatOptions
	if size == sizeFAT32 {
		format.Type = FAT32
	}
	return format
}

func newTestVolume(t *testing.T, size int64, opts ...Option) *Volume {
	t.Helper()

	return newTestImage(t, size, formatFor(size)).open(t, opts...)
}

// testVolumes returns a fresh volume of each FAT type.
func testVolumes(t *testing.T, opts ...Option) map[string]*Volume {
	t.Helper()

	return map[string]*Volume{
		"FAT12": newTestVolume(t, sizeFAT12, opts...),
		"FAT16": newTestVolume(t, sizeFAT16, opts...),
		"FAT32": newTestVolume(t, sizeFAT32, opts...),
	}
}

// listDir returns the names of all entries of the directory at dir.
func listDir(t *testing.T, v *Volume, dir Position) []string {
	t.Helper()

	var names []string
	cursor := PositionVoid
	for {
		e, next, err := v.ReadDir(dir, cursor)
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, e.Name)
		cursor = next
	}
}

func freeClusters(t *testing.T, v *Volume) uint32 {
	t.Helper()

	info, err := v.Info()
	require.NoError(t, err)
	return info.FreeClusters
}

// newNopJournal returns a journal accepting every record.
func newNopJournal(t *testing.T) *MockJournal {
	t.Helper()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	j := NewMockJournal(ctrl)
	j.EXPECT().EnterTopLevelOp(gomock.Any()).Return(nil).AnyTimes()
	j.EXPECT().EnterEntryUpdate(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	j.EXPECT().EnterEntryCreate(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	j.EXPECT().EnterClusterChainAlloc(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	j.EXPECT().EnterClusterChainDelete(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	j.EXPECT().WriteJob().Return(VoidJob).AnyTimes()
	return j
}
