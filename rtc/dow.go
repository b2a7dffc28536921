package rtc

import "time"

// DayOfWeek is the value kept in the day register, Sunday being 0.
type DayOfWeek uint8

const (
	Sunday DayOfWeek = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	UnknownDay
)

var dayNames = [...]string{
	Sunday:    "SUNDAY",
	Monday:    "MONDAY",
	Tuesday:   "TUESDAY",
	Wednesday: "WEDNESDAY",
	Thursday:  "THURSDAY",
	Friday:    "FRIDAY",
	Saturday:  "SATURDAY",
}

// LookupDay maps a raw register value to a day, UnknownDay for anything past Saturday.
func LookupDay(v uint8) DayOfWeek {
	if v > uint8(Saturday) {
		return UnknownDay
	}
	return DayOfWeek(v)
}

func FromWeekday(w time.Weekday) DayOfWeek {
	return LookupDay(uint8(w))
}

func (d DayOfWeek) Valid() bool {
	return d <= Saturday
}

func (d DayOfWeek) String() string {
	if !d.Valid() {
		return "UNKNOWN"
	}
	return dayNames[d]
}
