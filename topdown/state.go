package topdown

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// state is the evaluation state shared by graph nodes and user metrics.
type state struct {
	val      float64
	thresh   bool
	errcount int
}

// Value returns the most recently computed ratio.
func (s *state) Value() float64 { return s.val }

// Threshold reports whether the last value was above zero.
func (s *state) Threshold() bool { return s.thresh }

// ErrCount returns the number of zero divisions seen so far.
func (s *state) ErrCount() int { return s.errcount }

// record applies the outcome of a formula. Errors other than a zero
// division leave the state untouched and are returned.
func (s *state) record(name string, v float64, err error) error {
	switch {
	case err == nil:
		s.val, s.thresh = v, v > 0
	case errors.Is(err, ErrZeroDivision):
		log.WithFields(log.Fields{"metric": name}).Debugf("%s zero division", name)
		s.errcount++
		s.val, s.thresh = 0, false
	default:
		return err
	}
	return nil
}
