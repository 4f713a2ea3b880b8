package fatvol

import (
	"strings"

	"github.com/elliotwutingfeng/asciiset"
	"golang.org/x/text/encoding/charmap"
)

// shortNameChars holds the characters allowed in a short name besides lower case letters.
var shortNameChars, _ = asciiset.MakeASCIISet("!#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZ^_`{}~")

// NameFlags describes how a name fits into the 8.3 short name format.
type NameFlags uint8

const (
	// NameTooLong is set if the name part has more than 8 characters.
	NameTooLong NameFlags = 1 << iota
	// ExtTooLong is set if the extension has more than 3 characters.
	ExtTooLong
	// InvalidChar is set for characters which are not allowed in a short name.
	InvalidChar
	// ExtraPeriod is set if the name contains more than one period.
	ExtraPeriod
	// MixedCase is set if the name or the extension mixes upper and lower case letters.
	MixedCase
	// NameLower is set if the name part is lower case.
	NameLower
	// ExtLower is set if the extension is lower case.
	ExtLower
)

// fitsShortName reports if the name can be converted into a short name at all.
func (f NameFlags) fitsShortName() bool {
	return f&(NameTooLong|ExtTooLong|InvalidChar|ExtraPeriod) == 0
}

// needsLongName reports if the name can only be stored with a long name.
func (f NameFlags) needsLongName() bool {
	return !f.fitsShortName() || f&MixedCase != 0
}

// ntCase returns the NT reserved byte storing the case of the name.
func (f NameFlags) ntCase() byte {
	var nt byte
	if f&NameLower != 0 {
		nt |= ntLowerName
	}
	if f&ExtLower != 0 {
		nt |= ntLowerExt
	}
	return nt
}

func isLowerASCII(ch byte) bool {
	return ch >= 'a' && ch <= 'z'
}

func isUpperASCII(ch byte) bool {
	return ch >= 'A' && ch <= 'Z'
}

// CheckShortName checks name against the 8.3 rules.
// It stops at the first violation, so only one of the length or character flags is set.
func CheckShortName(name string) NameFlags {
	if name == "" {
		return InvalidChar
	}
	switch name[0] {
	case '.', ' ', 0, '/', '\\':
		return InvalidChar
	}

	var flags NameFlags
	var hasPeriod, hasUpper, nameLower, extLower bool
	n := 0
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch == '.' {
			if hasPeriod {
				return flags | ExtraPeriod
			}
			hasPeriod = true
			hasUpper = false
			n = 0
			continue
		}

		n++
		if !hasPeriod && n > 8 {
			return flags | NameTooLong
		}
		if hasPeriod && n > 3 {
			return flags | ExtTooLong
		}

		lower := isLowerASCII(ch)
		if !lower && !shortNameChars.Contains(ch) {
			return flags | InvalidChar
		}

		switch {
		case lower && hasUpper:
			flags |= MixedCase
		case lower && hasPeriod:
			extLower = true
		case lower:
			nameLower = true
		case isUpperASCII(ch):
			hasUpper = true
			if (hasPeriod && extLower) || (!hasPeriod && nameLower) {
				flags |= MixedCase
			}
		}
	}

	if hasPeriod && n == 0 {
		return flags | InvalidChar
	}

	if nameLower {
		flags |= NameLower
	}
	if extLower {
		flags |= ExtLower
	}
	return flags
}

// BuildShortName packs a name which passed CheckShortName into the upper case,
// space padded 11 byte form.
func BuildShortName(name string) [11]byte {
	var sfn [11]byte
	for i := range sfn {
		sfn[i] = ' '
	}

	i := 0
	for j := 0; j < len(name); j++ {
		ch := name[j]
		if ch == '.' {
			i = 8
			continue
		}
		if i >= len(sfn) {
			break
		}
		if isLowerASCII(ch) {
			ch -= 'a' - 'A'
		}
		sfn[i] = ch
		i++
	}

	if sfn[0] == slotErased {
		sfn[0] = slotKanji
	}
	return sfn
}

// ParseShortName converts the name bytes of a directory entry into a string.
// The case bits of the NT reserved byte are applied.
func ParseShortName(entry []byte) string {
	name := entry[0:8]
	ext := entry[8:11]
	nt := entry[12]

	var b strings.Builder
	appendPart := func(part []byte, lower bool) {
		end := len(part)
		for end > 0 && part[end-1] == ' ' {
			end--
		}
		for _, ch := range part[:end] {
			if lower && isUpperASCII(ch) {
				ch += 'a' - 'A'
			}
			b.WriteRune(charmap.CodePage437.DecodeByte(ch))
		}
	}

	if name[0] == slotKanji {
		name = append([]byte{slotErased}, name[1:]...)
	}

	appendPart(name, nt&ntLowerName != 0)
	if ext[0] != ' ' {
		b.WriteByte('.')
		appendPart(ext, nt&ntLowerExt != 0)
	}
	return b.String()
}
