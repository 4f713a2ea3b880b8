package fatvol

import (
	"io/fs"
	"os"
)

// GoFs serves a mounted volume through io/fs. Every file is opened read only
// and names are matched case-insensitively against both short and long names.
type GoFs struct {
	afs *Fs
}

// NewGoFS returns the volume as fs.FS. It shares no state with other Fs instances of the same volume.
func NewGoFS(v *Volume) *GoFs {
	return &GoFs{afs: NewFs(v)}
}

// Open resolves name from the root directory and opens the entry for reading.
// Names rejected by fs.ValidPath fail with fs.ErrInvalid before the volume is touched.
func (g *GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	g.afs.mu.Lock()
	defer g.afs.mu.Unlock()

	f, err := g.afs.openFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return dirFile{f}, nil
}

// Stat reads the directory entry of name without opening it.
func (g *GoFs) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return g.afs.Stat(name)
}

// dirFile adds ReadDir to File so directories can be walked with fs.WalkDir.
type dirFile struct {
	*File
}

func (d dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	infos, err := d.File.Readdir(n)
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, err
}
