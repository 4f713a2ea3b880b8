package fatvol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aligator/fatvol/checkpoint"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	// maxLongNameLen is the maximum number of UTF-16 code units of a long name.
	maxLongNameLen = 255
	// maxNumericTail is the highest ~N tried for a generated short name.
	maxNumericTail = 999999
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// longNameInvalidChars are not allowed in long names in addition to control characters.
const longNameInvalidChars = `"*/:<>?\|`

// CheckLongName checks if name can be stored as long file name.
func CheckLongName(name string) error {
	invalid := func(reason string) error {
		return checkpoint.Wrap(fmt.Errorf("long name %q %s", name, reason), ErrNameInvalid)
	}

	if name == "" {
		return invalid("is empty")
	}
	if !utf8.ValidString(name) {
		return invalid("is no valid UTF-8")
	}

	units := 0
	onlyDots := true
	for _, r := range name {
		if r < 0x20 || r == 0x7F || strings.ContainsRune(longNameInvalidChars, r) {
			return invalid("contains an invalid character")
		}
		if r != '.' && r != ' ' {
			onlyDots = false
		}

		units++
		if r >= 0x10000 {
			// Surrogate pair.
			units++
		}
	}

	switch {
	case units > maxLongNameLen:
		return invalid("is too long")
	case onlyDots:
		return invalid("consists only of periods and spaces")
	case strings.HasSuffix(name, ".") || strings.HasSuffix(name, " "):
		return invalid("ends with a period or space")
	}
	return nil
}

// lfnChecksum computes the checksum of the 11 byte short name stored in each of its long name slots.
func lfnChecksum(sfn []byte) uint8 {
	var sum uint8
	for _, b := range sfn[:11] {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// encodeLongName converts name into UTF-16 code units.
func encodeLongName(name string) ([]uint16, error) {
	raw, err := utf16le.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrNameInvalid)
	}

	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return units, nil
}

// decodeLongName converts UTF-16 code units into a string.
func decodeLongName(units []uint16) (string, error) {
	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}

	out, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", checkpoint.Wrap(err, ErrVolumeCorrupted)
	}
	return string(out), nil
}

// lfnSlotCount returns the number of long name slots needed for name.
func lfnSlotCount(name string) (int, error) {
	units, err := encodeLongName(name)
	if err != nil {
		return 0, err
	}
	return (len(units)-1)/lfnChars + 1, nil
}

// buildLFNSlots returns the long name slots of name in the order they are stored on disk,
// which is the slot with the last characters first.
func buildLFNSlots(name string, sfn [11]byte) ([][dirEntrySize]byte, error) {
	units, err := encodeLongName(name)
	if err != nil {
		return nil, err
	}

	count := (len(units)-1)/lfnChars + 1
	if count > lfnSeqMax {
		return nil, checkpoint.Wrap(fmt.Errorf("long name %q needs %d slots", name, count), ErrNameInvalid)
	}

	// The name is terminated by 0x0000 if there is room and padded with 0xFFFF.
	padded := make([]uint16, count*lfnChars)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0
	}

	checksum := lfnChecksum(sfn[:])
	slots := make([][dirEntrySize]byte, count)
	for i := range slots {
		seq := count - i
		chars := padded[(seq-1)*lfnChars : seq*lfnChars]

		lfn := LongFilenameEntry{
			Sequence:  byte(seq),
			Attribute: AttrLongName,
			Checksum:  checksum,
		}
		if i == 0 {
			lfn.Sequence |= lfnLast
		}
		copy(lfn.First[:], chars[0:5])
		copy(lfn.Second[:], chars[5:11])
		copy(lfn.Third[:], chars[11:13])

		if err := encode(slots[i][:], &lfn); err != nil {
			return nil, err
		}
	}

	return slots, nil
}

// longNameBuilder collects the characters of a run of long name slots.
type longNameBuilder struct {
	units [lfnSeqMax * lfnChars]uint16
	count int
}

func (b *longNameBuilder) reset() {
	b.count = 0
}

// add stores the characters of an LFN slot which was classified as valid.
func (b *longNameBuilder) add(slot []byte) error {
	var lfn LongFilenameEntry
	if err := decode(slot, &lfn); err != nil {
		return err
	}

	seq := int(lfn.Sequence & lfnSeqMask)
	if lfn.Sequence&lfnLast != 0 {
		b.count = seq
	}

	chars := b.units[(seq-1)*lfnChars : seq*lfnChars]
	copy(chars[0:5], lfn.First[:])
	copy(chars[5:11], lfn.Second[:])
	copy(chars[11:13], lfn.Third[:])
	return nil
}

func (b *longNameBuilder) String() (string, error) {
	units := b.units[:b.count*lfnChars]
	for i, u := range units {
		if u == 0 {
			units = units[:i]
			break
		}
	}
	return decodeLongName(units)
}

// oemChar converts r into a character of a generated short name.
// Characters without a representation become '_'.
func oemChar(r rune) byte {
	if r < utf8.RuneSelf {
		if shortNameChars.Contains(byte(r)) {
			return byte(r)
		}
		return '_'
	}

	if b, ok := charmap.CodePage437.EncodeRune(r); ok && b >= 0x80 {
		return b
	}
	return '_'
}

// basisName derives the upper case short name from a long name which a numeric tail is added to.
func basisName(long string) [11]byte {
	var sfn [11]byte
	for i := range sfn {
		sfn[i] = ' '
	}

	upper := strings.TrimLeft(strings.ToUpper(long), ".")
	base, ext := upper, ""
	if i := strings.LastIndexByte(upper, '.'); i >= 0 {
		base, ext = upper[:i], upper[i+1:]
	}

	fill := func(dst []byte, s string) {
		n := 0
		for _, r := range s {
			if n >= len(dst) {
				return
			}
			if r == ' ' || r == '.' {
				continue
			}
			dst[n] = oemChar(r)
			n++
		}
	}
	fill(sfn[0:8], base)
	fill(sfn[8:11], ext)

	if sfn[0] == ' ' {
		sfn[0] = '_'
	}
	if sfn[0] == slotErased {
		sfn[0] = slotKanji
	}
	return sfn
}

// numericTail adds "~n" to the name part of basis, shortening it if needed.
func numericTail(basis [11]byte, n int) [11]byte {
	tail := "~" + strconv.Itoa(n)

	baseLen := 0
	for baseLen < 8 && basis[baseLen] != ' ' {
		baseLen++
	}
	if baseLen > 8-len(tail) {
		baseLen = 8 - len(tail)
	}

	sfn := basis
	copy(sfn[baseLen:8], tail)
	return sfn
}

// allocShortName generates a short name for a long name which does not exist yet
// in the directory table starting at dirSec.
func (v *Volume) allocShortName(dirSec uint32, long string) ([11]byte, error) {
	existing := make(map[[11]byte]struct{})
	err := v.browseClassified(NewPosition(dirSec, 0), acquireRead, nil, func(pos Position, slot []byte, info slotInfo) (browseOutcome, error) {
		switch info.Kind {
		case SlotFree:
			return browseStop, nil
		case SlotSFN:
			var name [11]byte
			copy(name[:], slot[:11])
			existing[name] = struct{}{}
		}
		return browseContinue, nil
	})
	if err != nil {
		return [11]byte{}, err
	}

	basis := basisName(long)
	for n := 1; n <= maxNumericTail; n++ {
		sfn := numericTail(basis, n)
		if _, ok := existing[sfn]; !ok {
			return sfn, nil
		}
	}

	return [11]byte{}, checkpoint.Wrap(fmt.Errorf("no short name left for %q", long), ErrAlreadyExists)
}
