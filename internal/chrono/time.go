package chrono

import (
	"time"
)

var campus *time.Location

func init() {
	var err error
	campus, err = time.LoadLocation("America/Mexico_City")
	if err != nil {
		campus = time.FixedZone("CST", -6*60*60)
	}
}

// Campus returns the [*time.Location] of the university campus (America/Mexico_City).
func Campus() *time.Location {
	return campus
}

// TimeAPI is the interface that anything depending on the system clock should use.
//
// note: fault injection point
type TimeAPI interface {
	// Now returns the current time in the campus timezone.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

// NewStandardTime is the constructor of StandardTime.
func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (StandardTime) Now() time.Time {
	return time.Now().In(campus)
}

// FixedTime is a TimeAPI that always returns the same instant.
type FixedTime time.Time

func (f FixedTime) Now() time.Time {
	return time.Time(f).In(campus)
}
