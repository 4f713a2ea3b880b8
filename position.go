package fatvol

import "fmt"

// Position identifies one 32 byte directory entry slot on a volume.
// It packs the sector number into the high 32 bits and the byte offset
// inside that sector into the low 32 bits.
type Position uint64

const (
	// PositionRoot is the pseudo position of the root directory.
	PositionRoot Position = 0
	// PositionVoid means "no entry".
	PositionVoid Position = ^Position(0)
)

// sectorVoid marks the end of a sector chain.
const sectorVoid = ^uint32(0)

func NewPosition(sector, offset uint32) Position {
	return Position(uint64(sector)<<32 | uint64(offset))
}

func (p Position) Sector() uint32 {
	return uint32(p >> 32)
}

func (p Position) Offset() uint32 {
	return uint32(p)
}

func (p Position) IsVoid() bool {
	return p == PositionVoid
}

func (p Position) IsRoot() bool {
	return p == PositionRoot
}

func (p Position) String() string {
	switch p {
	case PositionVoid:
		return "void"
	case PositionRoot:
		return "root"
	}
	return fmt.Sprintf("%d:%d", p.Sector(), p.Offset())
}
