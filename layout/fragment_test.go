package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/tilegen/expr"
)

// accumulator8x8 rebuilds the 8x8 atom from scratch with an explicit index.
func accumulator8x8() *Fragment {
	i := expr.NewIterVar("i", 8)
	j := expr.NewIterVar("j", 8)
	thread := expr.Add(expr.FloorDiv(j.Var, c(2)), expr.Mul(c(4), i.Var))
	index := expr.FloorMod(j.Var, c(2))
	return NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, expr.IterVar{})
}

// evalFragment returns (data index, thread id) at one iteration point, with
// replication 0.
func evalFragment(t *testing.T, f *Fragment, point ...int) (int, int) {
	values := make([]expr.Expr, len(point))
	for i, v := range point {
		values[i] = c(v)
	}
	outputs := f.Forward(values...)
	require.Len(t, outputs, 1)
	index := evalExpr(t, outputs[0])
	thread := evalExpr(t, f.ForwardThread(values, expr.Zero))
	return index, thread
}

func TestFragmentBasicProperties(t *testing.T) {
	f := accumulator8x8()
	assert.Equal(t, []int{8, 8}, f.InputShape())
	assert.Equal(t, []int{2}, f.OutputShape())
	assert.Equal(t, 32, f.ThreadExtent())
	assert.Equal(t, 1, f.ReplicateExtent())

	// Lane of element (1, 5) is 5//2 + 4 = 6, holding it at register 1.
	index, thread := evalFragment(t, f, 1, 5)
	assert.Equal(t, 1, index)
	assert.Equal(t, 6, thread)
}

func TestFragmentInferredIndex(t *testing.T) {
	// The default index is what the thread assignment leaves unconsumed:
	// for the 8x8 atom that is exactly j %% 2.
	i := expr.NewIterVar("i", 8)
	j := expr.NewIterVar("j", 8)
	thread := expr.Add(expr.FloorDiv(j.Var, c(2)), expr.Mul(c(4), i.Var))
	inferred := NewFragment([]expr.IterVar{i, j}, nil, thread, expr.IterVar{})
	assert.True(t, inferred.Equal(accumulator8x8()))
}

func TestFragmentThreadExtentRequiresZeroMin(t *testing.T) {
	i := expr.NewIterVar("i", 8)
	f := NewFragment([]expr.IterVar{i}, []expr.Expr{c(0)}, expr.Add(i.Var, c(1)), expr.IterVar{})
	require.Panics(t, func() { f.ThreadExtent() })
}

func TestRepeatOnDataIndex(t *testing.T) {
	// Tiling 2x along the first dimension without adding lanes doubles the
	// registers per lane.
	f := accumulator8x8().Repeat([]int{2, 1}, false, true)
	assert.Equal(t, []int{16, 8}, f.InputShape())
	assert.Equal(t, []int{4}, f.OutputShape())
	assert.Equal(t, 32, f.ThreadExtent())

	for _, tc := range []struct {
		i, j          int
		index, thread int
	}{
		{i: 1, j: 5, index: 1, thread: 6},
		{i: 9, j: 5, index: 3, thread: 6},  // upper tile: +2 registers
		{i: 9, j: 4, index: 2, thread: 6},  // same lane as (1, 4)
		{i: 15, j: 7, index: 3, thread: 31},
	} {
		index, thread := evalFragment(t, f, tc.i, tc.j)
		assert.Equalf(t, tc.index, index, "index at (%d, %d)", tc.i, tc.j)
		assert.Equalf(t, tc.thread, thread, "thread at (%d, %d)", tc.i, tc.j)
	}
}

func TestRepeatOnThread(t *testing.T) {
	// Tiling 2x2 across lanes quadruples the thread extent and keeps the
	// registers per lane.
	f := accumulator8x8().Repeat([]int{2, 2}, true, false)
	assert.Equal(t, []int{16, 16}, f.InputShape())
	assert.Equal(t, []int{2}, f.OutputShape())
	assert.Equal(t, 128, f.ThreadExtent())

	// First-to-last composition: the i-tile is the slow repeat digit.
	_, thread := evalFragment(t, f, 8, 0)
	assert.Equal(t, 32+32*0, thread)
	_, thread = evalFragment(t, f, 0, 8)
	assert.Equal(t, 64, thread)
	_, thread = evalFragment(t, f, 8, 8)
	assert.Equal(t, 96, thread)
}

func TestRepeatLowerDimFirst(t *testing.T) {
	f := accumulator8x8().Repeat([]int{2, 2}, true, true)
	assert.Equal(t, 128, f.ThreadExtent())

	// Last-to-first composition: the j-tile is the fast repeat digit.
	_, thread := evalFragment(t, f, 8, 0)
	assert.Equal(t, 64, thread)
	_, thread = evalFragment(t, f, 0, 8)
	assert.Equal(t, 32, thread)
}

func TestRepeatChecksArity(t *testing.T) {
	f := accumulator8x8()
	require.Panics(t, func() { f.Repeat([]int{2}, true, false) })
	require.Panics(t, func() { f.Repeat([]int{2, 0}, true, false) })

	// Data-index repeat requires a single output dimension.
	i := expr.NewIterVar("i", 4)
	j := expr.NewIterVar("j", 4)
	two := NewFragment([]expr.IterVar{i, j}, []expr.Expr{i.Var, j.Var}, expr.Zero, expr.IterVar{})
	require.Panics(t, func() { two.Repeat([]int{2, 2}, false, false) })
}

func TestReplicate(t *testing.T) {
	f := accumulator8x8().Replicate(2)
	assert.Equal(t, 2, f.ReplicateExtent())
	assert.Equal(t, 64, f.ThreadExtent())
	assert.Equal(t, []int{2}, f.OutputShape())

	// The second copy owns the same elements 32 lanes higher.
	values := []expr.Expr{c(1), c(5)}
	assert.Equal(t, 6, evalExpr(t, f.ForwardThread(values, c(0))))
	assert.Equal(t, 38, evalExpr(t, f.ForwardThread(values, c(1))))

	require.Panics(t, func() { f.Replicate(0) })
}

func TestDeReplicate(t *testing.T) {
	f := accumulator8x8().Repeat([]int{2, 1}, false, true).Replicate(2)
	assert.Equal(t, 2, f.ReplicateExtent())
	assert.Equal(t, []int{4}, f.OutputShape())

	d := f.DeReplicate()
	assert.Equal(t, 1, d.ReplicateExtent())
	assert.Equal(t, []int{2}, d.OutputShape())
	assert.Equal(t, 64, d.ThreadExtent())

	// gcd 1: unchanged.
	base := accumulator8x8()
	assert.Same(t, base, base.DeReplicate())
}

func TestCondenseReplicateVar(t *testing.T) {
	i := expr.NewIterVar("i", 8)
	rep := expr.NewIterVar("rep", 4)
	// Only one of rep's two digits reaches the thread id.
	thread := expr.Add(i.Var, expr.Mul(c(8), expr.FloorMod(rep.Var, c(2))))
	f := NewFragment([]expr.IterVar{i}, nil, thread, rep)
	assert.Equal(t, 4, f.ReplicateExtent())
	assert.Equal(t, 16, f.ThreadExtent())

	condensed := f.CondenseReplicateVar()
	assert.Equal(t, 2, condensed.ReplicateExtent())
	assert.Equal(t, 16, condensed.ThreadExtent())
}

func TestFragmentInverse(t *testing.T) {
	f := accumulator8x8()
	inverse := f.Inverse()
	assert.Equal(t, []int{2, 32}, inverse.InputShape())
	for iv := 0; iv < 8; iv++ {
		for jv := 0; jv < 8; jv++ {
			index := jv % 2
			thread := jv/2 + 4*iv
			assert.Equal(t, []int{iv, jv, 0}, evalOutputs(t, inverse, index, thread))
		}
	}
}

func TestThreadEqual(t *testing.T) {
	a := accumulator8x8()
	b := accumulator8x8()
	assert.True(t, ThreadEqual(a, b))
	assert.True(t, a.Equal(b))

	// Same lanes, different registers: thread-equal but not equal.
	i := expr.NewIterVar("i", 8)
	j := expr.NewIterVar("j", 8)
	thread := expr.Add(expr.FloorDiv(j.Var, c(2)), expr.Mul(c(4), i.Var))
	flipped := NewFragment([]expr.IterVar{i, j},
		[]expr.Expr{expr.Sub(expr.One, expr.FloorMod(j.Var, c(2)))}, thread, expr.IterVar{})
	assert.True(t, ThreadEqual(a, flipped))
	assert.False(t, a.Equal(flipped))

	assert.False(t, ThreadEqual(a, a.Replicate(2)))
}
