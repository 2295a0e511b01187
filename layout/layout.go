/*
 *	Copyright 2025 The tilegen authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package layout implements the layout algebra of the tile code generator.
//
// A Layout is an immutable affine-ish mapping from a bounded multi-dimensional
// iteration domain to an output index tuple; a Fragment additionally maps each
// iteration point (plus a replication dimension) to the id of the parallel
// lane that owns it. Fragments compose through Repeat, Replicate and
// DeReplicate into the register-tile and swizzled shared-memory layouts the
// MakeGemm* factories produce.
//
// All values are immutable: every operation returns a new instance, and
// instances can be shared freely. Contract violations (non-bijective maps
// submitted for inversion, shape parameters off the hardware granularity,
// arity mismatches) panic with a descriptive diagnostic -- they are
// compile-time failures of the kernel being generated, never recovered.
package layout

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegen/arith"
	"github.com/gomlx/tilegen/expr"
	"k8s.io/klog/v2"
)

// Layout maps a bounded iteration domain to an output index tuple.
// The zero value is not usable; see NewLayout.
type Layout struct {
	vars  []expr.IterVar
	index []expr.Expr
}

// NewLayout builds a layout from iteration variables and output index
// expressions. The index expressions are eagerly simplified under the
// iteration domains; the output arity is fixed forever.
func NewLayout(vars []expr.IterVar, index []expr.Expr) *Layout {
	if len(vars) == 0 || len(index) == 0 {
		exceptions.Panicf("layout.NewLayout: needs at least one iteration variable and one output (got %d, %d)",
			len(vars), len(index))
	}
	l := &Layout{vars: slices.Clone(vars)}
	an := l.analyzer()
	l.index = make([]expr.Expr, len(index))
	for i, e := range index {
		l.index[i] = an.Simplify(e)
	}
	return l
}

// analyzer returns a fresh binding context scoped to this layout. Contexts
// are never shared between layouts.
func (l *Layout) analyzer() *expr.Analyzer {
	an := expr.NewAnalyzer()
	for _, iv := range l.vars {
		an.BindIterVar(iv)
	}
	return an
}

// InputDim returns the number of iteration variables.
func (l *Layout) InputDim() int { return len(l.vars) }

// OutputDim returns the number of output index expressions.
func (l *Layout) OutputDim() int { return len(l.index) }

// InputVars returns the iteration variables, in order.
func (l *Layout) InputVars() []expr.IterVar { return slices.Clone(l.vars) }

// InputShape returns the extent of each iteration variable.
func (l *Layout) InputShape() []int {
	shape := make([]int, len(l.vars))
	for i, iv := range l.vars {
		shape[i] = iv.Extent
	}
	return shape
}

// OutputShape returns the extent of each output dimension: the inferred
// maximum of index+1. Every output must have inferred minimum exactly 0, so
// the output domain is always [0, extent); anything else panics.
func (l *Layout) OutputShape() []int {
	an := l.analyzer()
	shape := make([]int, len(l.index))
	for i, e := range l.index {
		min, max, ok := an.Bounds(e)
		if !ok {
			exceptions.Panicf("layout output %d (%s): cannot infer bounds", i, e)
		}
		if min != 0 {
			exceptions.Panicf("layout output %d (%s): inferred minimum is %d, want 0", i, e, min)
		}
		shape[i] = max + 1
	}
	return shape
}

// Forward substitutes values for the iteration variables in every output
// index. With no values it returns the symbolic outputs themselves; otherwise
// exactly InputDim values are required.
func (l *Layout) Forward(values ...expr.Expr) []expr.Expr {
	if len(values) == 0 {
		return slices.Clone(l.index)
	}
	if len(values) != len(l.vars) {
		exceptions.Panicf("Layout.Forward: got %d values for %d iteration variables", len(values), len(l.vars))
	}
	vmap := make(map[*expr.Var]expr.Expr, len(l.vars))
	for i, iv := range l.vars {
		vmap[iv.Var] = values[i]
	}
	out := make([]expr.Expr, len(l.index))
	for i, e := range l.index {
		out[i] = expr.Substitute(e, vmap)
	}
	return out
}

// FlattenedIndex collapses the outputs into one scalar offset, row-major over
// OutputShape (last dimension fastest, unit stride). Identity for
// single-output layouts.
func (l *Layout) FlattenedIndex() expr.Expr {
	an := l.analyzer()
	shape := l.OutputShape()
	result, stride := expr.Zero, 1
	for i := len(l.index) - 1; i >= 0; i-- {
		result = expr.Add(result, expr.Mul(expr.ConstInt(stride), l.index[i]))
		stride *= shape[i]
	}
	return an.Simplify(result)
}

// Inverse returns the layout mapping output indices back to the iteration
// variables. The forward map must be a bijective affine map; otherwise the
// obstruction list is reported in the panic. Iteration variables the map does
// not determine (size-1 dimensions) invert to constant 0.
func (l *Layout) Inverse() *Layout {
	sums, errs := arith.DetectIterMap(l.index, l.vars)
	if len(errs) > 0 {
		exceptions.Panicf("layout %s is not an invertible affine map:\n%s", l, joinErrors(errs))
	}
	shape := l.OutputShape()
	outIters := make([]expr.IterVar, len(l.index))
	outVars := make([]*expr.Var, len(l.index))
	for i := range l.index {
		outIters[i] = expr.NewIterVar(fmt.Sprintf("v%d", i), shape[i])
		outVars[i] = outIters[i].Var
	}
	inverse := arith.InverseAffineIterMap(sums, outVars)
	backward := make([]expr.Expr, len(l.vars))
	for i, iv := range l.vars {
		if e, determined := inverse[iv.Var]; determined {
			backward[i] = e
		} else {
			backward[i] = expr.Zero
		}
	}
	inv := NewLayout(outIters, backward)
	if klog.V(2).Enabled() {
		klog.Infof("layout inverse: %s => %s", l, inv)
	}
	return inv
}

// VectorSize returns the widest power-of-two vectorized access the last
// output dimension supports relative to the last iteration variable: splits
// of the last variable below the vector granularity must be contiguous
// (lower factor equal to scale) and every other split's scale must be a
// multiple of the width. Returns 1 when no vectorization is possible (e.g.
// the fast coordinate goes through a swizzle).
func (l *Layout) VectorSize() int {
	shape := l.OutputShape()
	lastDim := shape[len(shape)-1]
	lastVar := l.vars[len(l.vars)-1].Var
	sum, err := arith.NormalizeToIterSum(l.index[len(l.index)-1], l.vars, l.analyzer())
	if err != nil {
		return 1
	}
	vectorSize := 2
	for lastDim%vectorSize == 0 {
		vectorizable := true
		for _, split := range sum.Splits {
			if split.Source.Var == lastVar && split.LowerFactor < vectorSize {
				if split.LowerFactor != split.Scale {
					vectorizable = false
					break
				}
			} else if split.Scale%vectorSize != 0 {
				vectorizable = false
				break
			}
		}
		if !vectorizable {
			break
		}
		vectorSize *= 2
	}
	return vectorSize / 2
}

// Equal reports semantic equality: same input arity and shape, and
// structurally equal outputs when both layouts are evaluated at the same
// fresh variables. Insensitive to variable naming.
func (l *Layout) Equal(other *Layout) bool {
	if other == nil {
		return false
	}
	if l.InputDim() != other.InputDim() || l.OutputDim() != other.OutputDim() {
		return false
	}
	if !slices.Equal(l.InputShape(), other.InputShape()) {
		return false
	}
	fresh, an := freshVars(l.InputShape())
	a := l.Forward(fresh...)
	b := other.Forward(fresh...)
	for i := range a {
		if !expr.Equal(an.Simplify(a[i]), an.Simplify(b[i])) {
			return false
		}
	}
	return true
}

func (l *Layout) String() string {
	names := make([]string, len(l.vars))
	for i, iv := range l.vars {
		names[i] = iv.Var.Name()
	}
	outs := make([]string, len(l.index))
	for i, e := range l.index {
		outs[i] = e.String()
	}
	return fmt.Sprintf("Layout(%v: (%s) -> (%s))",
		l.InputShape(), strings.Join(names, ", "), strings.Join(outs, ", "))
}

// freshVars creates one fresh bound variable per dimension, for semantic
// comparisons.
func freshVars(shape []int) ([]expr.Expr, *expr.Analyzer) {
	an := expr.NewAnalyzer()
	fresh := make([]expr.Expr, len(shape))
	for i, extent := range shape {
		iv := expr.NewIterVar(fmt.Sprintf("x%d", i), extent)
		an.BindIterVar(iv)
		fresh[i] = iv.Var
	}
	return fresh, an
}

func joinErrors(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = "  " + err.Error()
	}
	return strings.Join(parts, "\n")
}
