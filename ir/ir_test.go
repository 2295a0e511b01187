package ir

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/tilegen/expr"
)

func testBuffers() (src, dst *Buffer) {
	src = &Buffer{Name: "A", DType: dtypes.Float32, Shape: []int{256}, Scope: MemGlobal}
	dst = &Buffer{Name: "B", DType: dtypes.Float32, Shape: []int{256}, Scope: MemShared}
	return
}

func TestBufferSizeAndMemory(t *testing.T) {
	buffer := &Buffer{Name: "smem", DType: dtypes.Float16, Shape: []int{64, 64}, Scope: MemShared}
	assert.Equal(t, 4096, buffer.Size())
	assert.Equal(t, uintptr(8192), buffer.Memory())
	assert.Equal(t, "shared", buffer.Scope.String())
}

func TestSubstituteStmt(t *testing.T) {
	src, dst := testBuffers()
	i := expr.NewVar("i")
	t0 := expr.NewVar("t")
	body := &BufferStore{
		Buffer:  dst,
		Value:   &BufferLoad{Buffer: src, Indices: []expr.Expr{i}},
		Indices: []expr.Expr{i},
	}
	loop := &For{LoopVar: i, Min: expr.Zero, Extent: expr.ConstInt(256), Kind: ForParallel, Body: body}

	replacement := expr.Add(expr.Mul(expr.ConstInt(64), t0), expr.ConstInt(1))
	rewritten := SubstituteStmt(loop, map[*expr.Var]expr.Expr{i: replacement})

	// The original tree is untouched.
	assert.Same(t, i, body.Indices[0].(*expr.Var))

	store := rewritten.(*For).Body.(*BufferStore)
	load := store.Value.(*BufferLoad)
	assert.True(t, expr.Equal(replacement, store.Indices[0]))
	assert.True(t, expr.Equal(replacement, load.Indices[0]))
}

func TestSimplifyIndices(t *testing.T) {
	src, dst := testBuffers()
	i := expr.NewIterVar("i", 64)
	an := expr.NewAnalyzer()
	an.BindIterVar(i)

	// (4i) // 4 must become i in both store and load indices.
	messy := expr.FloorDiv(expr.Mul(expr.ConstInt(4), i.Var), expr.ConstInt(4))
	stmt := &BufferStore{
		Buffer:  dst,
		Value:   &BufferLoad{Buffer: src, Indices: []expr.Expr{messy}},
		Indices: []expr.Expr{messy},
	}
	simplified := SimplifyIndices(stmt, an).(*BufferStore)
	assert.True(t, expr.Equal(i.Var, simplified.Indices[0]))
	assert.True(t, expr.Equal(i.Var, simplified.Value.(*BufferLoad).Indices[0]))

	// Statements without indices pass through unchanged.
	eval := &Evaluate{Value: expr.ConstInt(1)}
	assert.Same(t, eval, SimplifyIndices(eval, an).(*Evaluate))
}

func TestUnrollSerialLoops(t *testing.T) {
	src, dst := testBuffers()
	i := expr.NewVar("i")
	j := expr.NewVar("j")
	inner := &For{
		LoopVar: j, Min: expr.Zero, Extent: expr.ConstInt(4), Kind: ForSerial,
		Body: &BufferStore{Buffer: dst, Value: &BufferLoad{Buffer: src, Indices: []expr.Expr{j}}, Indices: []expr.Expr{j}},
	}
	outer := &For{LoopVar: i, Min: expr.Zero, Extent: expr.ConstInt(2), Kind: ForParallel, Body: inner}

	unrolled := UnrollSerialLoops(outer).(*For)
	assert.Equal(t, ForParallel, unrolled.Kind)
	innerUnrolled := unrolled.Body.(*For)
	assert.Equal(t, ForUnrolled, innerUnrolled.Kind)
	assert.Equal(t, false, innerUnrolled.Annotations[UnrollExplicitAnnotation])

	// Originals are not mutated.
	assert.Equal(t, ForSerial, inner.Kind)
	assert.Nil(t, inner.Annotations)
}

func TestBufferLoadAsOpaque(t *testing.T) {
	src, dst := testBuffers()
	i := expr.NewVar("i")
	loadA := &BufferLoad{Buffer: src, Indices: []expr.Expr{i}}
	loadA2 := &BufferLoad{Buffer: src, Indices: []expr.Expr{i}}
	loadB := &BufferLoad{Buffer: dst, Indices: []expr.Expr{i}}

	assert.True(t, loadA.EqualAtom(loadA2))
	assert.False(t, loadA.EqualAtom(loadB))
	assert.True(t, expr.Equal(loadA, loadA2))
	assert.False(t, expr.Equal(loadA, loadB))

	// Loads embed in expression trees and substitution reaches their indices.
	sum := expr.Add(loadA, expr.ConstInt(1))
	rewritten := expr.Substitute(sum, map[*expr.Var]expr.Expr{i: expr.ConstInt(3)})
	var seen *BufferLoad
	expr.Transform(rewritten, func(e expr.Expr) expr.Expr {
		if load, ok := e.(*BufferLoad); ok {
			seen = load
		}
		return e
	})
	require.NotNil(t, seen)
	value, ok := expr.AsConst(seen.Indices[0])
	require.True(t, ok)
	assert.Equal(t, 3, value)
}

func TestStmtStrings(t *testing.T) {
	src, dst := testBuffers()
	i := expr.NewVar("i")
	store := &BufferStore{
		Buffer:  dst,
		Value:   &BufferLoad{Buffer: src, Indices: []expr.Expr{i}},
		Indices: []expr.Expr{i},
	}
	assert.Equal(t, "B[i] = A[i]", store.String())

	loop := &For{LoopVar: i, Min: expr.Zero, Extent: expr.ConstInt(8), Kind: ForParallel, Body: store}
	assert.Contains(t, loop.String(), "parallel i in [0, 0+8)")
}
