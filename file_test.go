package fatvol

import (
	"bytes"
	"errors"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// pattern returns n bytes which differ between neighbouring sectors.
func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i/512)
	}
	return p
}

func TestFile_WriteRead(t *testing.T) {
	for name, size := range testSizes {
		t.Run(name, func(t *testing.T) {
			img := newTestImage(t, size, formatFor(size))
			v := img.open(t)

			data := pattern(3*int(v.clusterSize()) + 100)
			pos := writeTestFile(t, v, PositionRoot, "data.bin", data)

			v = img.reopen(t, v)

			info, _, err := v.Query(pos)
			require.NoError(t, err)
			require.Equal(t, uint32(len(data)), info.Size)
			require.Len(t, chainOf(t, v, info.FirstCluster), 4)

			f, err := v.OpenFile(pos)
			require.NoError(t, err)
			got, err := io.ReadAll(f)
			require.NoError(t, err)
			require.Equal(t, data, got)

			n, err := f.Read(make([]byte, 1))
			require.Equal(t, 0, n)
			require.Equal(t, io.EOF, err)
		})
	}
}

func TestFile_ReadAt(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)
	data := pattern(5000)
	pos := writeTestFile(t, v, PositionRoot, "data.bin", data)

	f, err := v.OpenFile(pos)
	require.NoError(t, err)

	tests := []struct {
		name    string
		off     int64
		len     int
		wantN   int
		wantErr error
	}{
		{name: "start", off: 0, len: 10, wantN: 10},
		{name: "across sectors", off: 500, len: 30, wantN: 30},
		{name: "across clusters", off: 2040, len: 20, wantN: 20},
		{name: "up to the end", off: 4990, len: 10, wantN: 10},
		{name: "over the end", off: 4990, len: 20, wantN: 10, wantErr: io.EOF},
		{name: "behind the end", off: 5000, len: 1, wantN: 0, wantErr: io.EOF},
		{name: "negative offset", off: -1, len: 1, wantN: 0, wantErr: ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := make([]byte, tt.len)
			n, err := f.ReadAt(p, tt.off)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("File.ReadAt() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.wantN {
				t.Fatalf("File.ReadAt() n = %v, want %v", n, tt.wantN)
			}
			if n > 0 && !bytes.Equal(p[:n], data[tt.off:tt.off+int64(n)]) {
				t.Errorf("File.ReadAt() read wrong data at %d", tt.off)
			}
		})
	}
}

func TestFile_WriteAt(t *testing.T) {
	v := newTestVolume(t, sizeFAT12)

	pos, err := v.Create(PositionRoot, "sparse.bin", false)
	require.NoError(t, err)
	f, err := v.OpenFile(pos)
	require.NoError(t, err)

	// Writing behind the end fills the gap with zeros, even in clusters which held data before.
	scratch := writeTestFile(t, v, PositionRoot, "scratch", bytes.Repeat([]byte{0xAA}, 4*int(v.clusterSize())))
	require.NoError(t, v.Delete(scratch))
	v.nextCluster = 2

	off := 2*int64(v.clusterSize()) + 10
	n, err := f.WriteAt([]byte("end"), off)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, f.Sync())

	got := make([]byte, off+3)
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)

	want := make([]byte, off+3)
	copy(want[off:], "end")
	require.Equal(t, want, got)

	info, _, err := v.Query(pos)
	require.NoError(t, err)
	require.Equal(t, uint32(off+3), info.Size)

	// Overwriting inside of the file keeps the size.
	_, err = f.WriteAt([]byte("mid"), 5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, _, err = v.Query(pos)
	require.NoError(t, err)
	require.Equal(t, uint32(off+3), info.Size)
	require.Len(t, chainOf(t, v, info.FirstCluster), 3)
}

func TestFile_Write_append(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)
	pos := writeTestFile(t, v, PositionRoot, "log.txt", []byte("first\n"))

	f, err := v.OpenFile(pos)
	require.NoError(t, err)
	f.append = true

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = v.OpenFile(pos)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(got))
}

func TestFile_Truncate(t *testing.T) {
	for name, size := range testSizes {
		t.Run(name, func(t *testing.T) {
			img := newTestImage(t, size, formatFor(size))
			v := img.open(t)
			clusterSize := int(v.clusterSize())

			free := freeClusters(t, v)
			data := pattern(4 * clusterSize)
			pos := writeTestFile(t, v, PositionRoot, "data.bin", data)
			require.Equal(t, free-4, freeClusters(t, v))

			f, err := v.OpenFile(pos)
			require.NoError(t, err)

			require.NoError(t, f.Truncate(int64(clusterSize+1)))
			require.Equal(t, free-2, freeClusters(t, v))

			// Growing again zeroes the bytes behind the old size.
			require.NoError(t, f.Truncate(int64(clusterSize+100)))
			require.Equal(t, free-2, freeClusters(t, v))

			got := make([]byte, clusterSize+100)
			_, err = f.ReadAt(got, 0)
			require.NoError(t, err)
			want := append(append([]byte(nil), data[:clusterSize+1]...), make([]byte, 99)...)
			require.Equal(t, want, got)

			require.NoError(t, f.Truncate(0))
			require.Equal(t, free, freeClusters(t, v))
			require.NoError(t, f.Close())

			v = img.reopen(t, v)
			info, _, err := v.Query(pos)
			require.NoError(t, err)
			require.Zero(t, info.Size)
			require.Zero(t, info.FirstCluster)

			v.queryValid = false
			require.Equal(t, free, freeClusters(t, v))
		})
	}
}

func TestFile_Seek(t *testing.T) {
	v := newTestVolume(t, sizeFAT12)
	pos := writeTestFile(t, v, PositionRoot, "hello.txt", []byte("Hello World"))

	f, err := v.OpenFile(pos)
	require.NoError(t, err)

	tests := []struct {
		name    string
		offset  int64
		whence  int
		want    int64
		wantErr error
	}{
		{name: "start", offset: 6, whence: io.SeekStart, want: 6},
		{name: "current", offset: -2, whence: io.SeekCurrent, want: 4},
		{name: "end", offset: -5, whence: io.SeekEnd, want: 6},
		{name: "behind the end", offset: 10, whence: io.SeekEnd, want: 21},
		{name: "negative", offset: -1, whence: io.SeekStart, wantErr: afero.ErrOutOfRange},
		{name: "invalid whence", offset: 0, whence: 42, wantErr: syscall.EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Seek(tt.offset, tt.whence)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("File.Seek() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("File.Seek() = %v, want %v", got, tt.want)
			}
		})
	}

	_, err = f.Seek(6, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "World", string(rest))
}

func TestFile_errors(t *testing.T) {
	v := newTestVolume(t, sizeFAT16)

	readOnly := writeTestFile(t, v, PositionRoot, "ro.txt", []byte("data"))
	require.NoError(t, v.SetAttrib(readOnly, Attrib{Read: true}))
	dir, err := v.Create(PositionRoot, "dir", true)
	require.NoError(t, err)

	t.Run("read-only", func(t *testing.T) {
		f, err := v.OpenFile(readOnly)
		require.NoError(t, err)

		_, err = f.Write([]byte("x"))
		require.True(t, errors.Is(err, ErrReadOnly), "File.Write() error = %v", err)
		require.True(t, errors.Is(err, os.ErrPermission), "File.Write() error = %v", err)
		err = f.Truncate(0)
		require.True(t, errors.Is(err, ErrReadOnly), "File.Truncate() error = %v", err)

		got, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, "data", string(got))
	})

	t.Run("directory", func(t *testing.T) {
		f, err := v.OpenFile(dir)
		require.NoError(t, err)

		_, err = f.ReadAt(make([]byte, 1), 0)
		require.True(t, errors.Is(err, ErrIsDir), "File.ReadAt() error = %v", err)
		_, err = f.WriteAt([]byte("x"), 0)
		require.True(t, errors.Is(err, ErrIsDir), "File.WriteAt() error = %v", err)
	})

	t.Run("not a directory", func(t *testing.T) {
		f, err := v.OpenFile(readOnly)
		require.NoError(t, err)

		_, err = f.Readdir(0)
		require.True(t, errors.Is(err, syscall.ENOTDIR), "File.Readdir() error = %v", err)
	})

	t.Run("closed", func(t *testing.T) {
		f, err := v.OpenFile(readOnly)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.Equal(t, File{pos: PositionVoid, dirCursor: PositionVoid}, *f)

		_, err = f.ReadAt(make([]byte, 1), 0)
		require.True(t, errors.Is(err, afero.ErrFileClosed), "File.ReadAt() error = %v", err)
		_, err = f.Stat()
		require.True(t, errors.Is(err, afero.ErrFileClosed), "File.Stat() error = %v", err)
		require.True(t, errors.Is(f.Close(), afero.ErrFileClosed))
	})
}

func TestFile_Readdir(t *testing.T) {
	v := newTestVolume(t, sizeFAT32)

	dir, err := v.Create(PositionRoot, "dir", true)
	require.NoError(t, err)
	for _, name := range []string{"a.txt", "Second File.txt", "c"} {
		writeTestFile(t, v, dir, name, []byte(name))
	}

	f, err := v.OpenFile(dir)
	require.NoError(t, err)

	first, err := f.Readdirnames(2)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "Second File.txt"}, first)

	rest, err := f.Readdir(2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "c", rest[0].Name())
	require.Equal(t, int64(1), rest[0].Size())
	require.False(t, rest[0].IsDir())

	_, err = f.Readdir(1)
	require.Equal(t, io.EOF, err)

	// A count of 0 returns everything behind the cursor without io.EOF.
	all, err := f.Readdir(0)
	require.NoError(t, err)
	require.Empty(t, all)

	stat, err := f.Stat()
	require.NoError(t, err)
	require.True(t, stat.IsDir())
	require.Equal(t, "dir", stat.Name())
	require.Equal(t, os.ModeDir|0777, stat.Mode())
}
