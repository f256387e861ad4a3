// Package lms converts raw anthropometric measurements into Z-scores against
// WHO-style growth reference tables using the LMS (Box-Cox power, median,
// coefficient of variation) method.
package lms

// ChartType identifies one of the four for-age growth charts.
type ChartType string

const (
	WeightForAge            ChartType = "wfa"
	LengthHeightForAge      ChartType = "lhfa"
	HeadCircumferenceForAge ChartType = "hcfa"
	BMIForAge               ChartType = "bfa"
)

// ChartTypes lists the charts in the order they are reported.
var ChartTypes = []ChartType{WeightForAge, LengthHeightForAge, HeadCircumferenceForAge, BMIForAge}

// Valid reports whether c is one of the known chart types.
func (c ChartType) Valid() bool {
	switch c {
	case WeightForAge, LengthHeightForAge, HeadCircumferenceForAge, BMIForAge:
		return true
	}
	return false
}

// Display returns a human readable chart name.
func (c ChartType) Display() string {
	switch c {
	case WeightForAge:
		return "Weight-for-age"
	case LengthHeightForAge:
		return "Length/height-for-age"
	case HeadCircumferenceForAge:
		return "Head circumference-for-age"
	case BMIForAge:
		return "BMI-for-age"
	}
	return string(c)
}

// Gender selects the reference table. It is not otherwise interpreted.
type Gender string

const (
	Boys  Gender = "boys"
	Girls Gender = "girls"
)

// Valid reports whether g is one of the two reference sexes.
func (g Gender) Valid() bool {
	return g == Boys || g == Girls
}

// Point is one row of a reference table.
type Point struct {
	Day int     `json:"day"`
	L   float64 `json:"L"`
	M   float64 `json:"M"`
	S   float64 `json:"S"`
}

// Table is a reference curve ordered by strictly increasing Day.
type Table []Point
