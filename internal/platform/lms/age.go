package lms

import "time"

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// AgeInDays returns the whole days elapsed between dateOfBirth and
// measurementDate, rounded toward negative infinity. The result is negative
// when the measurement precedes the birth date; callers reject that.
func AgeInDays(dateOfBirth, measurementDate time.Time) int {
	return int(floorDiv(measurementDate.UnixMilli()-dateOfBirth.UnixMilli(), millisPerDay))
}

// AgeInMonths returns the number of complete calendar months between
// dateOfBirth and date. It is negative when date precedes dateOfBirth.
func AgeInMonths(dateOfBirth, date time.Time) int {
	if date.Before(dateOfBirth) {
		return -AgeInMonths(date, dateOfBirth)
	}
	months := (date.Year()-dateOfBirth.Year())*12 + int(date.Month()) - int(dateOfBirth.Month())
	// Anniversary day not reached yet, or reached but earlier in the day.
	anniversary := dateOfBirth.AddDate(0, months, 0)
	if anniversary.After(date) {
		months--
	}
	return months
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
