package fatvol

import "errors"

// These errors may occur while working with a volume.
// All errors returned by this package can be checked against them using errors.Is.
var (
	ErrNameInvalid       = errors.New("invalid name")
	ErrNotFound          = errors.New("entry not found")
	ErrAlreadyExists     = errors.New("entry already exists")
	ErrDirFull           = errors.New("directory full")
	ErrVolumeFull        = errors.New("volume full")
	ErrVolumeCorrupted   = errors.New("volume corrupted")
	ErrEntryParentNotDir = errors.New("parent entry is not a directory")
	ErrEntryRootDir      = errors.New("operation not allowed on the root directory")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrWouldOverflow     = errors.New("buffer too small")
	ErrIO                = errors.New("device i/o failed")
	ErrAlloc             = errors.New("allocation failed")
	ErrInvalidFormat     = errors.New("no valid FAT volume")
	ErrReadOnly          = errors.New("entry is read-only")
	ErrNotDir            = errors.New("entry is not a directory")
	ErrIsDir             = errors.New("entry is a directory")
	ErrDirNotEmpty       = errors.New("directory not empty")
)
