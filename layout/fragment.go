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

package layout

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegen/arith"
	"github.com/gomlx/tilegen/expr"
)

// Fragment is a Layout that additionally assigns every iteration point to a
// parallel lane: a scalar thread-id expression over the iteration variables
// plus one replication variable. The replicate_extent values of the
// replication variable map the same data element to distinct lanes --
// replication models redundant ownership, not extra data.
type Fragment struct {
	Layout
	thread    expr.Expr
	replicate expr.IterVar
}

// NewFragment builds a fragment.
//
// index may be nil: it is then inferred as the flattening of the parts of the
// iteration space the thread expression does not consume (the default local
// register index of a pure thread assignment).
//
// replicate may be the zero IterVar: it then defaults to a size-1 dummy. A
// supplied replication variable must have domain minimum 0.
func NewFragment(vars []expr.IterVar, index []expr.Expr, thread expr.Expr, replicate expr.IterVar) *Fragment {
	if !replicate.Ok() {
		replicate = expr.NewIterVar("rep", 1)
	}
	if replicate.Min != 0 {
		exceptions.Panicf("layout.NewFragment: replication variable %s has domain minimum %d, want 0",
			replicate.Var, replicate.Min)
	}
	an := expr.NewAnalyzer()
	for _, iv := range vars {
		an.BindIterVar(iv)
	}
	an.BindIterVar(replicate)
	thread = an.Simplify(thread)
	if index == nil {
		index = []expr.Expr{inferFragmentIndex(vars, replicate, thread, an)}
	}
	return &Fragment{
		Layout:    *NewLayout(vars, index),
		thread:    thread,
		replicate: replicate,
	}
}

// inferFragmentIndex flattens the iterator splits the thread expression does
// not use, the replication variable excluded: what is left over is private to
// the lane and becomes its register index.
func inferFragmentIndex(vars []expr.IterVar, replicate expr.IterVar, thread expr.Expr, an *expr.Analyzer) expr.Expr {
	iters := append(slices.Clone(vars), replicate)
	splits, err := arith.DivideUnusedIterators([]expr.Expr{thread}, iters, an)
	if err != nil {
		exceptions.Panicf("layout.NewFragment: cannot infer the fragment index from thread expression %s: %+v",
			thread, err)
	}
	withoutRep := splits[:0:0]
	for _, split := range splits {
		if split.Source.Var != replicate.Var {
			withoutRep = append(withoutRep, split)
		}
	}
	return arith.MakeFlattenedExpression(withoutRep)
}

// fullAnalyzer binds the iteration variables and the replication variable.
func (f *Fragment) fullAnalyzer() *expr.Analyzer {
	an := f.analyzer()
	an.BindIterVar(f.replicate)
	return an
}

// Thread returns the thread-id expression.
func (f *Fragment) Thread() expr.Expr { return f.thread }

// ReplicateVar returns the replication variable.
func (f *Fragment) ReplicateVar() expr.IterVar { return f.replicate }

// ReplicateExtent returns the extent of the replication dimension.
func (f *Fragment) ReplicateExtent() int { return f.replicate.Extent }

// ThreadExtent returns the number of lanes: the inferred extent of the
// thread-id expression, whose minimum must be 0.
func (f *Fragment) ThreadExtent() int {
	min, max, ok := f.fullAnalyzer().Bounds(f.thread)
	if !ok {
		exceptions.Panicf("fragment thread expression %s: cannot infer bounds", f.thread)
	}
	if min != 0 {
		exceptions.Panicf("fragment thread expression %s: inferred minimum is %d, want 0", f.thread, min)
	}
	return max + 1
}

// ForwardThread substitutes iteration values and/or a replication value into
// the thread-id expression. Either may be nil to stay symbolic.
func (f *Fragment) ForwardThread(values []expr.Expr, repValue expr.Expr) expr.Expr {
	vmap := make(map[*expr.Var]expr.Expr, len(f.vars)+1)
	if values != nil {
		if len(values) != len(f.vars) {
			exceptions.Panicf("Fragment.ForwardThread: got %d values for %d iteration variables",
				len(values), len(f.vars))
		}
		for i, iv := range f.vars {
			vmap[iv.Var] = values[i]
		}
	}
	if repValue != nil {
		vmap[f.replicate.Var] = repValue
	}
	return expr.Substitute(f.thread, vmap)
}

// Inverse treats the thread id as one extra output coordinate and the
// replication variable as one extra input, and inverts the combined map:
// the result recovers the original coordinates from (data index..., thread).
func (f *Fragment) Inverse() *Layout {
	vars := append(slices.Clone(f.vars), f.replicate)
	index := append(slices.Clone(f.index), f.thread)
	return NewLayout(vars, index).Inverse()
}

// Repeat tiles the fragment: each iteration domain is enlarged by the
// matching count, the original coordinate is recovered by floor-mod, and a
// mixed-radix repeat index is built from the floor-div quotients -- composed
// last-to-first when lowerDimFirst, first-to-last otherwise.
//
// With repeatOnThread the repeat index scales the thread id: every repeated
// tile lands on a disjoint range of higher lanes, and the thread extent
// multiplies by the product of counts. Otherwise the repeat index scales the
// flattened data index (the fragment must have a single output): all repeats
// share lanes and differ only in register offset.
func (f *Fragment) Repeat(repeats []int, repeatOnThread, lowerDimFirst bool) *Fragment {
	if len(repeats) != f.InputDim() {
		exceptions.Panicf("Fragment.Repeat: got %d counts for %d iteration variables", len(repeats), f.InputDim())
	}
	oldShape := f.InputShape()
	newVars := make([]expr.IterVar, f.InputDim())
	vmap := make(map[*expr.Var]expr.Expr, f.InputDim())
	for i, iv := range f.vars {
		if repeats[i] <= 0 {
			exceptions.Panicf("Fragment.Repeat: count %d for dimension %d must be positive", repeats[i], i)
		}
		newVars[i] = expr.NewIterVar(iv.Var.Name(), iv.Extent*repeats[i])
		vmap[iv.Var] = expr.FloorMod(newVars[i].Var, expr.ConstInt(oldShape[i]))
	}

	repeatsIndex, stride := expr.Zero, 1
	addQuotient := func(i int) {
		repeatsIndex = expr.Add(repeatsIndex,
			expr.Mul(expr.ConstInt(stride), expr.FloorDiv(newVars[i].Var, expr.ConstInt(oldShape[i]))))
		stride *= repeats[i]
	}
	if lowerDimFirst {
		for i := f.InputDim() - 1; i >= 0; i-- {
			addQuotient(i)
		}
	} else {
		for i := range newVars {
			addQuotient(i)
		}
	}

	if repeatOnThread {
		threadSize := f.ThreadExtent()
		newIndex := make([]expr.Expr, len(f.index))
		for i, e := range f.index {
			newIndex[i] = expr.Substitute(e, vmap)
		}
		newThread := expr.Add(expr.Substitute(f.thread, vmap),
			expr.Mul(expr.ConstInt(threadSize), repeatsIndex))
		return NewFragment(newVars, newIndex, newThread, f.replicate)
	}

	if f.OutputDim() != 1 {
		exceptions.Panicf("Fragment.Repeat on the data index requires a single output, got %d", f.OutputDim())
	}
	fragLen := f.OutputShape()[0]
	newIndex := []expr.Expr{expr.Add(expr.Substitute(f.index[0], vmap),
		expr.Mul(expr.ConstInt(fragLen), repeatsIndex))}
	newThread := expr.Substitute(f.thread, vmap)
	return NewFragment(newVars, newIndex, newThread, f.replicate)
}

// Replicate stacks count disjoint thread-id copies of the whole assignment:
// the replication extent multiplies by count and each copy's lanes are offset
// by a multiple of the current thread extent.
func (f *Fragment) Replicate(count int) *Fragment {
	if count < 1 {
		exceptions.Panicf("Fragment.Replicate: count %d must be >= 1", count)
	}
	oldExtent := f.ReplicateExtent()
	newRep := expr.NewIterVar("rep", oldExtent*count)
	vmap := map[*expr.Var]expr.Expr{
		f.replicate.Var: expr.FloorMod(newRep.Var, expr.ConstInt(oldExtent)),
	}
	newThread := expr.Add(expr.Substitute(f.thread, vmap),
		expr.Mul(expr.ConstInt(f.ThreadExtent()), expr.FloorDiv(newRep.Var, expr.ConstInt(oldExtent))))
	return NewFragment(f.InputVars(), f.Forward(), newThread, newRep)
}

// DeReplicate trades data replication for thread replication when the
// element-to-lane assignment stays consistent: gcd(replicate extent, output
// extent) worth of replication is folded into the data index. A gcd of 1
// returns the fragment unchanged. Requires a single output dimension.
func (f *Fragment) DeReplicate() *Fragment {
	if f.OutputDim() != 1 {
		exceptions.Panicf("Fragment.DeReplicate requires a single output, got %d", f.OutputDim())
	}
	factor := expr.GCD(f.ReplicateExtent(), f.OutputShape()[0])
	if factor == 1 {
		return f
	}
	newRep := expr.NewIterVar("rep", f.ReplicateExtent()/factor)
	vmap := map[*expr.Var]expr.Expr{
		f.replicate.Var: expr.Add(
			expr.Mul(expr.ConstInt(factor), newRep.Var),
			expr.FloorMod(f.index[0], expr.ConstInt(factor))),
	}
	newThread := expr.Substitute(f.thread, vmap)
	newIndex := []expr.Expr{expr.FloorDiv(f.index[0], expr.ConstInt(factor))}
	return NewFragment(f.InputVars(), newIndex, newThread, newRep)
}

// CondenseReplicateVar compresses the replication variable to the smallest
// domain whose digits actually occur in the thread expression, removing
// redundant replication.
func (f *Fragment) CondenseReplicateVar() *Fragment {
	iters := append(f.InputVars(), f.replicate)
	newThread, newRep, err := arith.CompressIterator(f.thread, iters, f.replicate, f.fullAnalyzer())
	if err != nil {
		exceptions.Panicf("Fragment.CondenseReplicateVar: thread expression %s: %+v", f.thread, err)
	}
	return NewFragment(f.InputVars(), f.Forward(), newThread, newRep)
}

// Equal reports full semantic equality: Layout equality plus matching
// replication extent and a structurally equal thread assignment at matching
// fresh variables.
func (f *Fragment) Equal(other *Fragment) bool {
	if other == nil {
		return false
	}
	if f.ReplicateExtent() != other.ReplicateExtent() {
		return false
	}
	if f.ThreadExtent() != other.ThreadExtent() {
		return false
	}
	if !f.Layout.Equal(&other.Layout) {
		return false
	}
	return threadEqualAt(f, other)
}

// ThreadEqual reports whether two fragments are interchangeable for
// thread-assignment purposes only: same input arity, same replication extent
// and structurally equal thread expressions at matching fresh variables. The
// data index is ignored.
func ThreadEqual(a, b *Fragment) bool {
	if a.InputDim() != b.InputDim() {
		return false
	}
	if a.ReplicateExtent() != b.ReplicateExtent() {
		return false
	}
	return threadEqualAt(a, b)
}

func threadEqualAt(a, b *Fragment) bool {
	fresh, an := freshVars(a.InputShape())
	rep := expr.NewIterVar("r", a.ReplicateExtent())
	an.BindIterVar(rep)
	ta := a.ForwardThread(fresh, rep.Var)
	tb := b.ForwardThread(fresh, rep.Var)
	return expr.Equal(an.Simplify(ta), an.Simplify(tb))
}

func (f *Fragment) String() string {
	return fmt.Sprintf("Fragment(%v -> %v, threads=%d, replicate=%d, thread=%s)",
		f.InputShape(), f.OutputShape(), f.ThreadExtent(), f.ReplicateExtent(), f.thread)
}
