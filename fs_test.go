package fatvol

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var _ afero.Fs = (*Fs)(nil)

func newTestFs(t *testing.T, size int64) *Fs {
	t.Helper()
	return NewFs(newTestVolume(t, size))
}

func readDirNames(t *testing.T, fs afero.Fs, name string) []string {
	t.Helper()

	infos, err := afero.ReadDir(fs, name)
	require.NoError(t, err)

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names
}

func TestFs_files(t *testing.T) {
	for name, size := range testSizes {
		t.Run(name, func(t *testing.T) {
			fs := newTestFs(t, size)

			require.NoError(t, fs.MkdirAll("docs/notes/2021", 0755))
			require.NoError(t, afero.WriteFile(fs, "docs/notes/2021/March Meeting.txt", []byte("agenda"), 0644))
			require.NoError(t, afero.WriteFile(fs, "/docs/README.md", []byte("# Docs"), 0644))

			got, err := afero.ReadFile(fs, "docs/notes/2021/March Meeting.txt")
			require.NoError(t, err)
			require.Equal(t, "agenda", string(got))

			// Names are matched case insensitive.
			got, err = afero.ReadFile(fs, "DOCS/readme.md")
			require.NoError(t, err)
			require.Equal(t, "# Docs", string(got))

			require.Equal(t, []string{"README.md", "notes"}, readDirNames(t, fs, "docs"))
			require.Equal(t, []string{"docs"}, readDirNames(t, fs, "/"))

			info, err := fs.Stat("docs/README.md")
			require.NoError(t, err)
			require.Equal(t, "README.md", info.Name())
			require.Equal(t, int64(6), info.Size())
			require.Equal(t, os.FileMode(0666), info.Mode())
			require.Equal(t, testClock(), info.ModTime())

			info, err = fs.Stat("/")
			require.NoError(t, err)
			require.True(t, info.IsDir())

			// MkdirAll accepts existing directories.
			require.NoError(t, fs.MkdirAll("docs/notes", 0755))
		})
	}
}

func TestFs_OpenFile(t *testing.T) {
	fs := newTestFs(t, sizeFAT16)
	require.NoError(t, afero.WriteFile(fs, "data.txt", []byte("some data"), 0644))

	t.Run("truncate", func(t *testing.T) {
		f, err := fs.OpenFile("data.txt", os.O_RDWR|os.O_TRUNC, 0)
		require.NoError(t, err)
		_, err = f.WriteString("new")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		got, err := afero.ReadFile(fs, "data.txt")
		require.NoError(t, err)
		require.Equal(t, "new", string(got))
	})

	t.Run("append", func(t *testing.T) {
		f, err := fs.OpenFile("data.txt", os.O_WRONLY|os.O_APPEND, 0)
		require.NoError(t, err)
		_, err = f.WriteString(" line")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		got, err := afero.ReadFile(fs, "data.txt")
		require.NoError(t, err)
		require.Equal(t, "new line", string(got))
	})

	t.Run("read only handle", func(t *testing.T) {
		f, err := fs.Open("data.txt")
		require.NoError(t, err)
		defer f.Close()

		_, err = f.WriteString("x")
		require.True(t, errors.Is(err, os.ErrPermission), "File.WriteString() error = %v", err)
	})

	t.Run("exclusive", func(t *testing.T) {
		_, err := fs.OpenFile("data.txt", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		require.True(t, errors.Is(err, os.ErrExist), "Fs.OpenFile() error = %v", err)
	})

	t.Run("created read-only", func(t *testing.T) {
		f, err := fs.OpenFile("locked.txt", os.O_RDWR|os.O_CREATE, 0444)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		info, err := fs.Stat("locked.txt")
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0444), info.Mode())

		_, err = fs.OpenFile("locked.txt", os.O_RDWR, 0)
		require.True(t, errors.Is(err, os.ErrPermission), "Fs.OpenFile() error = %v", err)
	})
}

func TestFs_errors(t *testing.T) {
	fs := newTestFs(t, sizeFAT12)
	require.NoError(t, fs.Mkdir("dir", 0755))
	require.NoError(t, afero.WriteFile(fs, "dir/file.txt", []byte("x"), 0644))

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "open missing file",
			fn:      func() error { _, err := fs.Open("missing.txt"); return err },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "open in missing directory",
			fn:      func() error { _, err := fs.Open("missing/file.txt"); return err },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "create in a file",
			fn:      func() error { _, err := fs.Create("dir/file.txt/new"); return err },
			wantErr: ErrEntryParentNotDir,
		},
		{
			name:    "mkdir existing",
			fn:      func() error { return fs.Mkdir("dir", 0755) },
			wantErr: os.ErrExist,
		},
		{
			name:    "mkdir all through a file",
			fn:      func() error { return fs.MkdirAll("dir/file.txt/sub", 0755) },
			wantErr: ErrNotDir,
		},
		{
			name:    "invalid name",
			fn:      func() error { return fs.Mkdir("what?", 0755) },
			wantErr: os.ErrInvalid,
		},
		{
			name:    "remove missing",
			fn:      func() error { return fs.Remove("missing.txt") },
			wantErr: os.ErrNotExist,
		},
		{
			name:    "remove non empty directory",
			fn:      func() error { return fs.Remove("dir") },
			wantErr: ErrDirNotEmpty,
		},
		{
			name:    "chown",
			fn:      func() error { return fs.Chown("dir", 0, 0) },
			wantErr: errors.ErrUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}

			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				t.Errorf("error = %T, want *os.PathError", err)
			}
		})
	}
}

func TestFs_Remove(t *testing.T) {
	fs := newTestFs(t, sizeFAT32)
	free := freeClusters(t, fs.Volume())

	require.NoError(t, fs.MkdirAll("a/b/c", 0755))
	for _, name := range []string{"a/1.txt", "a/b/2.txt", "a/b/c/3.txt"} {
		require.NoError(t, afero.WriteFile(fs, name, []byte(name), 0644))
	}
	require.NoError(t, afero.WriteFile(fs, "keep.txt", []byte("keep"), 0644))

	require.NoError(t, fs.Remove("a/b/c/3.txt"))
	require.NoError(t, fs.Remove("a/b/c"))
	exists, err := afero.DirExists(fs, "a/b/c")
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, fs.RemoveAll("a"))
	require.Equal(t, []string{"keep.txt"}, readDirNames(t, fs, "/"))
	require.NoError(t, fs.RemoveAll("does/not/exist"))

	require.NoError(t, fs.RemoveAll("/"))
	require.Empty(t, readDirNames(t, fs, "/"))
	require.Equal(t, free, freeClusters(t, fs.Volume()))
}

func TestFs_Rename(t *testing.T) {
	setup := func(t *testing.T) *Fs {
		fs := newTestFs(t, sizeFAT16)
		require.NoError(t, fs.MkdirAll("src/sub", 0755))
		require.NoError(t, fs.Mkdir("empty", 0755))
		require.NoError(t, afero.WriteFile(fs, "src/a.txt", []byte("a"), 0644))
		require.NoError(t, afero.WriteFile(fs, "src/sub/b.txt", []byte("b"), 0644))
		require.NoError(t, afero.WriteFile(fs, "c.txt", []byte("c"), 0644))
		return fs
	}

	t.Run("move file", func(t *testing.T) {
		fs := setup(t)
		require.NoError(t, fs.Rename("src/a.txt", "empty/A Long Name.txt"))

		got, err := afero.ReadFile(fs, "empty/A Long Name.txt")
		require.NoError(t, err)
		require.Equal(t, "a", string(got))
		require.Equal(t, []string{"sub"}, readDirNames(t, fs, "src"))
	})

	t.Run("replace file", func(t *testing.T) {
		fs := setup(t)
		require.NoError(t, fs.Rename("c.txt", "src/a.txt"))

		got, err := afero.ReadFile(fs, "src/a.txt")
		require.NoError(t, err)
		require.Equal(t, "c", string(got))
		require.Equal(t, []string{"empty", "src"}, readDirNames(t, fs, "/"))
	})

	t.Run("move directory", func(t *testing.T) {
		fs := setup(t)
		require.NoError(t, fs.Rename("src/sub", "moved"))

		got, err := afero.ReadFile(fs, "moved/b.txt")
		require.NoError(t, err)
		require.Equal(t, "b", string(got))
	})

	t.Run("replace empty directory", func(t *testing.T) {
		fs := setup(t)
		require.NoError(t, fs.Rename("src", "empty"))
		require.Equal(t, []string{"a.txt", "sub"}, readDirNames(t, fs, "empty"))
	})

	t.Run("into itself keeps the tree", func(t *testing.T) {
		fs := setup(t)
		free := freeClusters(t, fs.Volume())

		err := fs.Rename("/src", "/SRC/inner")
		require.True(t, errors.Is(err, os.ErrInvalid), "Fs.Rename() error = %v", err)

		require.Equal(t, []string{"c.txt", "empty", "src"}, readDirNames(t, fs, "/"))
		require.Equal(t, []string{"a.txt", "sub"}, readDirNames(t, fs, "src"))
		require.Equal(t, free, freeClusters(t, fs.Volume()))
	})

	errorTests := []struct {
		name     string
		old, new string
		wantErr  error
	}{
		{name: "missing source", old: "missing", new: "x", wantErr: os.ErrNotExist},
		{name: "into itself", old: "src", new: "src/sub/src", wantErr: os.ErrInvalid},
		{name: "into itself with other case", old: "src", new: "SRC/Sub/src", wantErr: os.ErrInvalid},
		{name: "into its own table", old: "src/sub", new: "/Src/SUB/inner", wantErr: os.ErrInvalid},
		{name: "file over directory", old: "c.txt", new: "empty", wantErr: ErrIsDir},
		{name: "directory over file", old: "empty", new: "c.txt", wantErr: ErrNotDir},
		{name: "over non empty directory", old: "empty", new: "src", wantErr: ErrDirNotEmpty},
		{name: "root", old: "/", new: "x", wantErr: ErrEntryRootDir},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			fs := setup(t)

			err := fs.Rename(tt.old, tt.new)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fs.Rename() error = %v, want %v", err, tt.wantErr)
			}

			var linkErr *os.LinkError
			if !errors.As(err, &linkErr) {
				t.Errorf("Fs.Rename() error = %T, want *os.LinkError", err)
			}
		})
	}
}

func TestFs_Chmod(t *testing.T) {
	fs := newTestFs(t, sizeFAT16)
	require.NoError(t, afero.WriteFile(fs, "file.txt", []byte("x"), 0644))

	require.NoError(t, fs.Chmod("file.txt", 0444))
	info, err := fs.Stat("file.txt")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0444), info.Mode())

	err = afero.WriteFile(fs, "file.txt", []byte("y"), 0644)
	require.True(t, errors.Is(err, os.ErrPermission), "WriteFile() error = %v", err)

	require.NoError(t, fs.Chmod("file.txt", 0600))
	info, err = fs.Stat("file.txt")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0666), info.Mode())

	// The root directory has no attributes.
	require.NoError(t, fs.Chmod("/", 0444))
}

func TestFs_Chtimes(t *testing.T) {
	fs := newTestFs(t, sizeFAT16)
	require.NoError(t, afero.WriteFile(fs, "file.txt", []byte("x"), 0644))

	atime := time.Date(2019, time.December, 24, 18, 0, 0, 0, time.UTC)
	mtime := time.Date(2020, time.May, 17, 8, 30, 42, 0, time.UTC)
	require.NoError(t, fs.Chtimes("file.txt", atime, mtime))

	info, err := fs.Stat("file.txt")
	require.NoError(t, err)
	require.Equal(t, mtime, info.ModTime())

	entry := info.Sys().(EntryInfo)
	require.Equal(t, time.Date(2019, time.December, 24, 0, 0, 0, 0, time.UTC), entry.Accessed)
	require.Equal(t, testClock(), entry.Created)
}
