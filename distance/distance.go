// Package distance converts raw ADC samples from the ultrasonic range
// sensors into voltages and distances.
//
// The sensors report a 10-bit reading of a 0-5V analog output. Distance in
// centimetres follows the sensor's power-law curve 15 * V^-1.1. The curve is
// undefined at V <= 0; those samples yield a distance of 0 and are marked
// invalid rather than failing.
package distance

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed sample")

const (
	// ReferenceVoltage is the ADC full-scale voltage.
	ReferenceVoltage = 5.0
	// FullScale is the largest raw value of the 10-bit ADC.
	FullScale = 1023.0

	coefficient = 15.0
	exponent    = -1.1
)

// Reading is the result of converting one sample line.
type Reading struct {
	Raw      int
	Voltage  float64
	Distance float64
	// Valid is false when the line was not an integer or the voltage was
	// outside the domain of the distance curve. Distance is 0 in that case.
	Valid bool
}

// Voltage returns the voltage corresponding to a raw ADC value.
func Voltage(raw int) float64 {
	return float64(raw) * (ReferenceVoltage / FullScale)
}

// FromVoltage returns the distance in centimetres for v, and false if v is
// outside the domain of the curve.
func FromVoltage(v float64) (float64, bool) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	d := coefficient * math.Pow(v, exponent)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, false
	}
	return d, true
}

// Convert returns the distance for a raw ADC value.
func Convert(raw int) (float64, bool) {
	return FromVoltage(Voltage(raw))
}

// Parse converts a sample line such as "512" or " 512\r".
func Parse(line string) Reading {
	r, _ := ParseSample(line)
	return r
}

// ParseSample is Parse, but reports lines that are not an integer with
// ErrMalformed. A degenerate voltage is not an error.
func ParseSample(line string) (Reading, error) {
	raw, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	r := Reading{Raw: raw, Voltage: Voltage(raw)}
	r.Distance, r.Valid = FromVoltage(r.Voltage)
	return r, nil
}
