package rtc

import "fmt"

// EncodeBCD packs a value in the range 0-99 as two BCD digits.
func EncodeBCD(v uint8) (byte, error) {
	if v > 99 {
		return 0, fmt.Errorf("%w: %d does not fit two BCD digits", ErrInvalidValue, v)
	}
	return v/10<<4 | v%10, nil
}

// DecodeBCD unpacks two BCD digits. Callers mask flag bits first.
func DecodeBCD(b byte) uint8 {
	return b>>4*10 + b&0x0F
}

const (
	monthMask = 0x1F
	firstYear = 2000
	lastYear  = 2199
)

// PackMonth encodes month as BCD and stores the century flag in bit 7 of
// the month register. Century 0 covers 2000-2099 and 1 covers 2100-2199.
func PackMonth(month uint8, century uint8) (byte, error) {
	b, err := EncodeBCD(month)
	if err != nil {
		return 0, err
	}
	if century > 1 {
		return 0, fmt.Errorf("%w: century %d", ErrYearOutOfRange, century)
	}
	return b | century<<7, nil
}

// UnpackMonth splits the month register into the month and the century flag.
func UnpackMonth(b byte) (month uint8, century uint8) {
	return DecodeBCD(b & monthMask), b >> 7
}

// SplitYear returns the century flag and the two-digit year.
func SplitYear(year uint16) (century uint8, yy uint8, err error) {
	if year < firstYear || year > lastYear {
		return 0, 0, fmt.Errorf("%w: %d (allowed %d-%d)", ErrYearOutOfRange, year, firstYear, lastYear)
	}
	offset := year - firstYear
	return uint8(offset / 100), uint8(offset % 100), nil
}

// JoinYear is the inverse of SplitYear.
func JoinYear(century uint8, yy uint8) uint16 {
	return firstYear + uint16(century)*100 + uint16(yy)
}
