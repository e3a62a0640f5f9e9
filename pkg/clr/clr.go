// Package clr computes cyclical learning rates.
//
// The rate oscillates linearly between a base and a maximum over a cycle of
// 2*StepSize steps. Mode selects how the amplitude evolves across cycles:
//
//	tri   constant amplitude
//	tri2  amplitude halves every cycle
//	exp   amplitude scaled by Gamma^step
package clr

import (
	"errors"
	"fmt"
	"math"
)

// Mode names a schedule shape.
type Mode string

const (
	ModeTriangular  Mode = "tri"
	ModeTriangular2 Mode = "tri2"
	ModeExp         Mode = "exp"
)

// DefaultGamma is the per-step decay used by ModeExp.
const DefaultGamma = 0.99994

// ErrUnknownMode is returned for mode names outside tri, tri2 and exp.
var ErrUnknownMode = errors.New("unknown clr mode")

// ParseMode validates a mode name. The empty string selects ModeTriangular.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeTriangular:
		return ModeTriangular, nil
	case ModeTriangular2, ModeExp:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Schedule holds fixed schedule parameters.
type Schedule struct {
	Base     float64
	Max      float64
	StepSize float64
	Mode     Mode
	Gamma    float64 // ModeExp only; zero selects DefaultGamma
}

// Validate checks the schedule.
func (s Schedule) Validate() error {
	if s.StepSize <= 0 {
		return fmt.Errorf("clr step size must be > 0, got %v", s.StepSize)
	}
	if s.Max < s.Base {
		return fmt.Errorf("clr max rate %v below base rate %v", s.Max, s.Base)
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	return nil
}

// Rate returns the learning rate at step.
func (s Schedule) Rate(step int) float64 {
	st := float64(step)
	cycle := math.Floor(1 + st/(2*s.StepSize))
	x := math.Abs(st/s.StepSize - 2*cycle + 1)
	amp := (s.Max - s.Base) * math.Max(0, 1-x)

	switch s.Mode {
	case ModeTriangular2:
		amp /= math.Pow(2, cycle-1)
	case ModeExp:
		g := s.Gamma
		if g == 0 {
			g = DefaultGamma
		}
		amp *= math.Pow(g, st)
	}
	return s.Base + amp
}

// Stepper tracks the global step and yields successive rates.
type Stepper struct {
	Schedule
	step int
}

// NewStepper returns a Stepper starting at step.
func NewStepper(s Schedule, step int) *Stepper {
	return &Stepper{Schedule: s, step: step}
}

// Next returns the rate for the current step and advances it.
func (st *Stepper) Next() float64 {
	r := st.Rate(st.step)
	st.step++
	return r
}

// Step returns the next step to be evaluated.
func (st *Stepper) Step() int { return st.step }
