package fatvol

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// Fs provides path based access to a Volume and implements afero.Fs.
// Paths are separated by "/" and are always relative to the root directory.
//
// All operations of the Fs and of the files opened by it are serialized.
type Fs struct {
	mu sync.Mutex
	v  *Volume
}

// NewFs returns an afero.Fs for the volume.
func NewFs(v *Volume) *Fs {
	return &Fs{v: v}
}

// Volume returns the volume behind the Fs.
func (fs *Fs) Volume() *Volume {
	return fs.v
}

// osErr adds the os error matching an error of the volume.
func osErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		err = checkpoint.Wrap(err, os.ErrNotExist)
	case errors.Is(err, ErrAlreadyExists):
		err = checkpoint.Wrap(err, os.ErrExist)
	case errors.Is(err, ErrReadOnly):
		err = checkpoint.Wrap(err, os.ErrPermission)
	case errors.Is(err, ErrNameInvalid), errors.Is(err, ErrInvalidArgument):
		err = checkpoint.Wrap(err, os.ErrInvalid)
	}
	return err
}

func pathErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: osErr(err)}
}

func splitPath(name string) []string {
	name = strings.Trim(path.Clean("/"+name), "/")
	if name == "" {
		return nil
	}
	return strings.Split(name, "/")
}

// resolve walks the path and returns the position of its parent directory and of the entry itself.
// pos is PositionVoid if only the last element does not exist.
func (fs *Fs) resolve(name string) (parent, pos Position, base string, err error) {
	parts := splitPath(name)
	if len(parts) == 0 {
		return PositionRoot, PositionRoot, "", nil
	}

	parent = PositionRoot
	for _, part := range parts[:len(parts)-1] {
		next, err := fs.v.Lookup(parent, part)
		if err != nil {
			return PositionVoid, PositionVoid, "", err
		}
		if next.IsVoid() {
			return PositionVoid, PositionVoid, "", checkpoint.Wrap(fmt.Errorf("directory %q", part), ErrNotFound)
		}
		parent = next
	}

	base = parts[len(parts)-1]
	pos, err = fs.v.Lookup(parent, base)
	if err != nil {
		return PositionVoid, PositionVoid, "", err
	}
	return parent, pos, base, nil
}

// existing resolves a path which has to exist.
func (fs *Fs) existing(name string) (Position, error) {
	_, pos, _, err := fs.resolve(name)
	if err != nil {
		return PositionVoid, err
	}
	if pos.IsVoid() {
		return PositionVoid, checkpoint.From(ErrNotFound)
	}
	return pos, nil
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return pathErr("mkdir", name, fs.mkdir(name, perm))
}

func (fs *Fs) mkdir(name string, perm os.FileMode) error {
	parent, pos, base, err := fs.resolve(name)
	if err != nil {
		return err
	}
	if !pos.IsVoid() {
		return checkpoint.From(ErrAlreadyExists)
	}

	pos, err = fs.v.Create(parent, base, true)
	if err != nil {
		return err
	}
	return fs.applyPerm(pos, perm)
}

// applyPerm sets the read-only flag if perm has no write bit.
func (fs *Fs) applyPerm(pos Position, perm os.FileMode) error {
	if perm&0222 != 0 {
		return nil
	}
	return fs.v.SetAttrib(pos, Attrib{Read: true})
}

func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	current := PositionRoot
	for _, part := range splitPath(name) {
		next, err := fs.v.Lookup(current, part)
		if err != nil {
			return pathErr("mkdir", name, err)
		}

		if next.IsVoid() {
			if next, err = fs.v.Create(current, part, true); err != nil {
				return pathErr("mkdir", name, err)
			}
			if err := fs.applyPerm(next, perm); err != nil {
				return pathErr("mkdir", name, err)
			}
		} else {
			info, _, err := fs.v.Query(next)
			if err != nil {
				return pathErr("mkdir", name, err)
			}
			if !info.Attrib.IsDir {
				return pathErr("mkdir", name, checkpoint.Wrap(fmt.Errorf("%q", part), ErrNotDir))
			}
		}
		current = next
	}
	return nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens the named file. Only the flags os.O_CREATE, os.O_EXCL, os.O_TRUNC and os.O_APPEND
// and the access mode are evaluated. perm is only used for new files: without any write bit,
// the file is created read-only.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := fs.openFile(name, flag, perm)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	return f, nil
}

func (fs *Fs) openFile(name string, flag int, perm os.FileMode) (*File, error) {
	parent, pos, base, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}

	created := false
	switch {
	case pos.IsVoid() && flag&os.O_CREATE == 0:
		return nil, checkpoint.From(ErrNotFound)
	case pos.IsVoid():
		if pos, err = fs.v.Create(parent, base, false); err != nil {
			return nil, err
		}
		created = true
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, checkpoint.From(ErrAlreadyExists)
	}

	f, err := fs.v.OpenFile(pos)
	if err != nil {
		return nil, err
	}
	f.name = name
	f.writable = flag&(os.O_WRONLY|os.O_RDWR) != 0
	f.append = flag&os.O_APPEND != 0

	if f.writable {
		if err := f.checkWritable(); err != nil {
			return nil, err
		}
	}

	if flag&os.O_TRUNC != 0 && f.writable && f.info.Size > 0 {
		if err := f.Truncate(0); err != nil {
			return nil, err
		}
	}

	// The read-only flag is set last so that the new file can still be truncated.
	if created {
		if err := fs.applyPerm(pos, perm); err != nil {
			return nil, err
		}
		if f.info, _, err = fs.v.Query(pos); err != nil {
			return nil, err
		}
	}

	f.mu = &fs.mu
	return f, nil
}

func (fs *Fs) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	pos, err := fs.existing(name)
	if err != nil {
		return pathErr("remove", name, err)
	}
	return pathErr("remove", name, fs.remove(pos))
}

func (fs *Fs) remove(pos Position) error {
	info, _, err := fs.v.Query(pos)
	if err != nil {
		return err
	}

	if info.Attrib.IsDir {
		empty, err := fs.v.IsDirEmpty(pos)
		if err != nil {
			return err
		}
		if !empty {
			return checkpoint.From(ErrDirNotEmpty)
		}
	}

	return fs.v.Delete(pos)
}

// RemoveAll removes the path and everything it contains.
// A path which does not exist is no error.
func (fs *Fs) RemoveAll(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, pos, _, err := fs.resolve(name)
	if errors.Is(err, ErrNotFound) || (err == nil && pos.IsVoid()) {
		return nil
	}
	if err != nil {
		return pathErr("removeall", name, err)
	}

	if pos.IsRoot() {
		return pathErr("removeall", name, fs.removeContent(pos))
	}
	return pathErr("removeall", name, fs.removeTree(pos))
}

func (fs *Fs) removeTree(pos Position) error {
	info, _, err := fs.v.Query(pos)
	if err != nil {
		return err
	}

	if info.Attrib.IsDir {
		if err := fs.removeContent(pos); err != nil {
			return err
		}
	}
	return fs.v.Delete(pos)
}

// removeContent deletes all entries of the directory. It continues after failures
// and returns all errors combined.
func (fs *Fs) removeContent(dir Position) error {
	var children []Position
	cursor := PositionVoid
	for {
		e, next, err := fs.v.ReadDir(dir, cursor)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		children = append(children, e.Pos)
		cursor = next
	}

	var result error
	for _, child := range children {
		result = multierr.Append(result, fs.removeTree(child))
	}
	return result
}

// Rename moves oldname to newname. An existing file at newname is replaced,
// an existing directory only if it is empty and oldname is a directory, too.
func (fs *Fs) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.rename(oldname, newname); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: osErr(err)}
	}
	return nil
}

func (fs *Fs) rename(oldname, newname string) error {
	oldPos, err := fs.existing(oldname)
	if err != nil {
		return err
	}
	if oldPos.IsRoot() {
		return checkpoint.From(ErrEntryRootDir)
	}

	newParent, newPos, base, err := fs.resolve(newname)
	if err != nil {
		return err
	}
	if newPos.IsRoot() {
		return checkpoint.From(ErrEntryRootDir)
	}

	oldInfo, _, err := fs.v.Query(oldPos)
	if err != nil {
		return err
	}

	if oldInfo.Attrib.IsDir {
		// A directory cannot be moved into itself.
		inside, err := fs.isInside(newParent, oldPos)
		if err != nil {
			return err
		}
		if inside {
			return checkpoint.Wrap(fmt.Errorf("%q is inside of %q", newname, oldname), ErrInvalidArgument)
		}
	}

	exists := !newPos.IsVoid()
	if exists {
		newInfo, _, err := fs.v.Query(newPos)
		if err != nil {
			return err
		}

		switch {
		case newInfo.Attrib.IsDir && !oldInfo.Attrib.IsDir:
			return checkpoint.From(ErrIsDir)
		case !newInfo.Attrib.IsDir && oldInfo.Attrib.IsDir:
			return checkpoint.From(ErrNotDir)
		case newInfo.Attrib.IsDir && oldPos != newPos:
			empty, err := fs.v.IsDirEmpty(newPos)
			if err != nil {
				return err
			}
			if !empty {
				return checkpoint.From(ErrDirNotEmpty)
			}
		}
	}

	return fs.v.Rename(oldPos, newPos, newParent, base, exists)
}

// isInside reports whether the directory at pos is dir or one of its subdirectories.
func (fs *Fs) isInside(pos, dir Position) (bool, error) {
	visited := make(map[Position]bool)
	for !pos.IsRoot() {
		if pos == dir {
			return true, nil
		}
		if visited[pos] {
			return false, checkpoint.Wrap(fmt.Errorf("directory loop at %v", pos), ErrVolumeCorrupted)
		}
		visited[pos] = true

		var err error
		if pos, err = fs.v.Lookup(pos, ".."); err != nil {
			return false, err
		}
		if pos.IsVoid() {
			return false, checkpoint.Wrap(fmt.Errorf("directory without \"..\" entry"), ErrVolumeCorrupted)
		}
	}
	return false, nil
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	pos, err := fs.existing(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}

	info, entryName, err := fs.v.Query(pos)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	if pos.IsRoot() {
		entryName = path.Base(name)
	}
	return entryFileInfo{name: entryName, info: info}, nil
}

func (fs *Fs) Name() string {
	return "fatvol"
}

// Chmod sets the read-only flag of the entry if mode has no write bit.
// Other bits are ignored.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	pos, err := fs.existing(name)
	if err != nil {
		return pathErr("chmod", name, err)
	}
	if pos.IsRoot() {
		return nil
	}

	info, _, err := fs.v.Query(pos)
	if err != nil {
		return pathErr("chmod", name, err)
	}

	a := info.Attrib
	a.Write = mode&0222 != 0
	return pathErr("chmod", name, fs.v.SetAttrib(pos, a))
}

// Chown is not supported as FAT has no owners.
func (fs *Fs) Chown(name string, uid, gid int) error {
	return pathErr("chown", name, checkpoint.Wrap(errors.ErrUnsupported, ErrInvalidArgument))
}

// Chtimes sets the access and the modification time. FAT only stores the date of the last access.
func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	pos, err := fs.existing(name)
	if err != nil {
		return pathErr("chtimes", name, err)
	}
	if pos.IsRoot() {
		return nil
	}

	if err := fs.v.SetTime(pos, atime, TimeAccess); err != nil {
		return pathErr("chtimes", name, err)
	}
	return pathErr("chtimes", name, fs.v.SetTime(pos, mtime, TimeModify))
}
