package fatvol

import (
	"os"
	"time"
)

// FileInfo returns the information of the entry as os.FileInfo.
func (e DirEntry) FileInfo() os.FileInfo {
	return entryFileInfo{name: e.Name, info: e.Info}
}

type entryFileInfo struct {
	name string
	info EntryInfo
}

func (e entryFileInfo) Name() string {
	return e.name
}

func (e entryFileInfo) Size() int64 {
	return int64(e.info.Size)
}

// Mode derives the permissions from the read-only attribute.
// FAT has no execute bit, so directories are always searchable.
func (e entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0666)
	if !e.info.Attrib.Write && !e.info.Attrib.IsRootDir {
		mode = 0444
	}
	if e.IsDir() {
		mode |= os.ModeDir | 0111
	}
	return mode
}

func (e entryFileInfo) ModTime() time.Time {
	return e.info.Modified
}

func (e entryFileInfo) IsDir() bool {
	return e.info.Attrib.IsDir
}

// Sys returns the EntryInfo.
func (e entryFileInfo) Sys() interface{} {
	return e.info
}
