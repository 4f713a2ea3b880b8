package fatvol

import "io"

// DirEntry is one entry of a directory returned by ReadDir.
type DirEntry struct {
	Pos  Position
	Name string
	Info EntryInfo
}

// ReadDir returns the entry following cursor in the directory at dir.
// PositionVoid as cursor starts at the beginning. The returned position
// is the cursor for the next call. At the end io.EOF is returned.
//
// "." and ".." are skipped.
func (v *Volume) ReadDir(dir Position, cursor Position) (DirEntry, Position, error) {
	dirSec, err := v.dirTable(dir)
	if err != nil {
		return DirEntry{}, cursor, err
	}

	start := NewPosition(dirSec, 0)
	if !cursor.IsVoid() {
		start = cursor
	}

	var found *dirEntry
	err = v.walkEntries(start, func(e *dirEntry) (browseOutcome, error) {
		if e.end == cursor || e.isDot() {
			return browseContinue, nil
		}
		found = e
		return browseStop, nil
	})
	if err != nil {
		return DirEntry{}, cursor, err
	}
	if found == nil {
		return DirEntry{}, cursor, io.EOF
	}

	return DirEntry{
		Pos:  found.start,
		Name: found.name,
		Info: v.entryInfo(found),
	}, found.end, nil
}

// IsDirEmpty reports if the directory at dir has no entries besides "." and "..".
func (v *Volume) IsDirEmpty(dir Position) (bool, error) {
	_, _, err := v.ReadDir(dir, PositionVoid)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
