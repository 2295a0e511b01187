package expr

import (
	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// IterVar is a variable bound to the half-open iteration domain
// [Min, Min+Extent).
type IterVar struct {
	Var    *Var
	Min    int
	Extent int
}

// NewIterVar returns a fresh iteration variable over [0, extent).
func NewIterVar(name string, extent int) IterVar {
	if extent <= 0 {
		exceptions.Panicf("expr.NewIterVar(%q, %d): extent must be positive", name, extent)
	}
	return IterVar{Var: NewVar(name), Extent: extent}
}

// Ok reports whether the IterVar was initialized (the zero value is used to
// mean "absent").
func (iv IterVar) Ok() bool { return iv.Var != nil }

// GCD returns the greatest common divisor, with GCD(0, x) == x.
func GCD[T constraints.Integer](a, b T) T {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
