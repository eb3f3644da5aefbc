// Package progress holds the (earned, possible) score fraction a problem
// reports to the platform gradebook.
package progress

import (
	"fmt"
	"strconv"
)

// Progress is an immutable (earned, possible) pair with possible > 0.
type Progress struct {
	earned   float64
	possible float64
}

// New validates and builds a Progress. possible must be strictly positive
// and earned must lie in [0, possible].
func New(earned, possible float64) (Progress, error) {
	if possible <= 0 {
		return Progress{}, fmt.Errorf("progress: possible must be > 0, got %v", possible)
	}
	if earned < 0 || earned > possible {
		return Progress{}, fmt.Errorf("progress: earned %v out of range [0, %v]", earned, possible)
	}
	return Progress{earned: earned, possible: possible}, nil
}

// Frac returns the raw (earned, possible) pair.
func (p Progress) Frac() (earned, possible float64) { return p.earned, p.possible }

// Done reports whether the full score has been earned.
func (p Progress) Done() bool { return p.earned >= p.possible }

// String formats as "earned/possible", trimming trailing zeros so that
// integral scores print as integers ("1/1", not "1.0/1.0").
func (p Progress) String() string {
	return trim(p.earned) + "/" + trim(p.possible)
}

// Equal is structural equality on the pair.
func (p Progress) Equal(o Progress) bool {
	return p.earned == o.earned && p.possible == o.possible
}

func trim(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
