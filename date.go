package fatvol

import (
	"time"
)

// ParseDate reads a FAT date stamp:
//
//	Bits 0-4: day of month (1-31)
//	Bits 5-8: month of year (1-12)
//	Bits 9-15: years since 1980 (0-127)
//
// The result has a time of 00:00:00 UTC.
// A day or month out of range results in time.Time{}, so time.Time.IsZero() reports a missing date.
func ParseDate(input uint16) time.Time {
	dayOfMonth := int(input & 0x1F)
	monthOfYear := int(input & 0x1E0 >> 5)
	yearSince1980 := int(input & 0xFE00 >> 9)

	if dayOfMonth == 0 || monthOfYear == 0 || monthOfYear > 12 {
		return time.Time{}
	}

	return time.Date(1980+yearSince1980, time.Month(monthOfYear), dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// timeFields splits a FAT time stamp. ok is false if any field is out of range.
func timeFields(input uint16) (hours, minutes, seconds int, ok bool) {
	seconds = int(input&0x1F) * 2
	minutes = int(input & 0x7E0 >> 5)
	hours = int(input & 0xF800 >> 11)

	return hours, minutes, seconds, seconds < 60 && minutes < 60 && hours < 24
}

// ParseTime reads a FAT time stamp with a granularity of 2 seconds:
//
//	Bits 0-4: 2 second count (0-29)
//	Bits 5-10: minutes (0-59)
//	Bits 11-15: hours (0-23)
//
// The result is on January 1, year 1, so midnight is time.Time{}.
// Fields out of range result in time.Time{} as well.
func ParseTime(input uint16) time.Time {
	hours, minutes, seconds, ok := timeFields(input)
	if !ok {
		return time.Time{}
	}
	return time.Date(1, 1, 1, hours, minutes, seconds, 0, time.UTC)
}

// ParseDateTime combines a FAT date and time stamp into one time.Time in UTC.
// An invalid date or time results in time.Time{}.
func ParseDateTime(date, tod uint16) time.Time {
	day := ParseDate(date)
	if day.IsZero() {
		return time.Time{}
	}

	if _, _, _, ok := timeFields(tod); !ok {
		return time.Time{}
	}
	return day.Add(ParseTime(tod).Sub(time.Time{}))
}

// FormatDate packs the date of t into a FAT date stamp.
// Years outside of 1980-2107 cannot be stored and result in 0.
func FormatDate(t time.Time) uint16 {
	if t.Year() < 1980 || t.Year() > 2107 {
		return 0
	}

	return uint16(t.Day()) | uint16(t.Month())<<5 | uint16(t.Year()-1980)<<9
}

// FormatTime packs the time of day of t into a FAT time stamp with a granularity of 2 seconds.
func FormatTime(t time.Time) uint16 {
	// The time of day of a time.Time is always in range.
	return uint16(t.Second()>>1) | uint16(t.Minute())<<5 | uint16(t.Hour())<<11
}

// formatTenth returns the creation time refinement in units of 10ms (0-199).
func formatTenth(t time.Time) byte {
	return byte((t.Second()%2)*100 + t.Nanosecond()/10000000)
}
