package fatvol

import (
	"fmt"
	"strings"

	"github.com/aligator/fatvol/checkpoint"
	"github.com/elliotwutingfeng/asciiset"
)

const maxLabelLen = 11

var labelChars, _ = asciiset.MakeASCIISet(" !#$%&'()-0123456789@ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz^_`{}~")

func checkLabel(label string) error {
	if len(label) > maxLabelLen {
		return checkpoint.Wrap(fmt.Errorf("label %q is longer than %d characters", label, maxLabelLen), ErrWouldOverflow)
	}
	for i := 0; i < len(label); i++ {
		if !labelChars.Contains(label[i]) {
			return checkpoint.Wrap(fmt.Errorf("label %q", label), ErrNameInvalid)
		}
	}
	return nil
}

// findLabel returns the position of the volume label slot of the root directory, or PositionVoid.
func (v *Volume) findLabel() (Position, []byte, error) {
	pos := PositionVoid
	var raw []byte
	err := v.browseClassified(NewPosition(v.rootDirStart, 0), acquireRead, nil, func(p Position, slot []byte, info slotInfo) (browseOutcome, error) {
		switch info.Kind {
		case SlotFree:
			return browseStop, nil
		case SlotVolumeLabel:
			pos = p
			raw = append([]byte(nil), slot[:maxLabelLen]...)
			return browseStop, nil
		}
		return browseContinue, nil
	})
	return pos, raw, err
}

// Label returns the volume label stored in the root directory.
// It is empty if the volume has none.
func (v *Volume) Label() (string, error) {
	pos, raw, err := v.findLabel()
	if err != nil || pos.IsVoid() {
		return "", err
	}
	return strings.TrimRight(string(raw), " \x00"), nil
}

// SetLabel stores label as volume label. It is converted to upper case
// and may have up to 11 characters.
func (v *Volume) SetLabel(label string) error {
	if err := checkLabel(label); err != nil {
		return err
	}
	if err := v.enterTopLevelOp(LogSizeEntryUpdate); err != nil {
		return err
	}

	pos, _, err := v.findLabel()
	if err != nil {
		return err
	}

	job, err := v.newJob()
	if err != nil {
		return err
	}
	if pos.IsVoid() {
		if pos, _, err = v.findOrGrowEmptySlots(v.rootDirStart, 1, &job); err != nil {
			return err
		}
	}

	name := strings.ToUpper(label)
	err = v.modifySlot(pos, &job, func(slot []byte) error {
		for i := range slot {
			slot[i] = 0
		}
		for i := 0; i < maxLabelLen; i++ {
			slot[i] = ' '
		}
		copy(slot, name)
		slot[11] = AttrVolumeID
		return nil
	})
	if err != nil {
		return err
	}

	return v.execJob(job)
}
