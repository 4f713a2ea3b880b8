// File model contains the structs which match the direct structures of the FAT filesystem.

package fatvol

import (
	"bytes"
	"encoding/binary"

	"github.com/aligator/fatvol/checkpoint"
)

const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20

	AttrLongName     = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
	AttrLongNameMask = AttrLongName | AttrDirectory | AttrArchive
)

// NT reserved byte flags storing the case of a short name.
const (
	ntLowerName = 0x08
	ntLowerExt  = 0x04
)

const (
	dirEntrySize = 32

	slotFree   = 0x00
	slotErased = 0xE5
	// slotKanji is stored in byte 0 for names starting with 0xE5.
	slotKanji  = 0x05

	lfnLast    = 0x40
	lfnSeqMask = 0x1F
	lfnSeqMax  = 20
	lfnChars   = 13
)

// Boot sector offsets.
const (
	bsOffOEMName        = 3
	bsOffFileSysType16  = 0x36
	bsOffFileSysType32  = 0x52
	bsOffSignature      = 510
	bsSignature         = 0xAA55
	bsOEMName           = "MSWIN4.1"
	bsBootSig           = 0x29
	bsMediaFixed        = 0xF8
	fsInfoLeadSig       = 0x41615252
	fsInfoStrucSig      = 0x61417272
	fsInfoTrailSig      = 0xAA550000
	fsInfoUnknown       = 0xFFFFFFFF
	defaultRootCluster  = 2
	defaultFSInfoSector = 1
	defaultBackupBoot   = 6
)

type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

type FAT32SpecificData struct {
	FatSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      Cluster
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

type FSInfo struct {
	LeadSig   uint32
	Reserved1 [480]byte
	StrucSig  uint32
	FreeCount uint32
	NextFree  uint32
	Reserved2 [12]byte
	TrailSig  uint32
}

type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

func (h *EntryHeader) FirstCluster() Cluster {
	return Cluster(h.FirstClusterHI)<<16 | Cluster(h.FirstClusterLO)
}

func (h *EntryHeader) SetFirstCluster(c Cluster) {
	h.FirstClusterHI = uint16(c >> 16)
	h.FirstClusterLO = uint16(c)
}

func (h *EntryHeader) IsDir() bool {
	return h.Attribute&AttrDirectory == AttrDirectory
}

type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// decode reads the little endian structure v from buf.
func decode(buf []byte, v interface{}) error {
	return checkpoint.From(binary.Read(bytes.NewReader(buf), binary.LittleEndian, v))
}

// encode writes the little endian structure v into buf.
func encode(buf []byte, v interface{}) error {
	out := bytes.NewBuffer(make([]byte, 0, binary.Size(v)))
	if err := binary.Write(out, binary.LittleEndian, v); err != nil {
		return checkpoint.From(err)
	}
	copy(buf, out.Bytes())
	return nil
}

func readEntryHeader(slot []byte) (EntryHeader, error) {
	var h EntryHeader
	err := decode(slot[:dirEntrySize], &h)
	return h, err
}

func writeEntryHeader(slot []byte, h *EntryHeader) error {
	return encode(slot[:dirEntrySize], h)
}
