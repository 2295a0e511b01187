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
	"github.com/gomlx/tilegen/expr"
)

// Shared-memory layouts for GEMM operands. The fast dimension goes through a
// bit-interleaving XOR permutation of the row bits so that the lanes of a
// warp hit distinct memory banks, or, where the shape does not allow a
// swizzle, through plain padding.

// xor2x2 permutes a 2-element chunk by one row bit: (i + j) %% 2.
func xor2x2(i, j expr.Expr) expr.Expr {
	return expr.FloorMod(expr.Add(i, j), expr.ConstInt(2))
}

func xor4x4(i, j expr.Expr) expr.Expr {
	two := expr.ConstInt(2)
	i0, j0 := expr.FloorMod(i, two), expr.FloorMod(j, two)
	i1, j1 := expr.FloorDiv(i, two), expr.FloorDiv(j, two)
	return expr.Add(expr.Mul(two, xor2x2(i1, j1)), xor2x2(i0, j0))
}

func xor8x8(i, j expr.Expr) expr.Expr {
	two := expr.ConstInt(2)
	i0, j0 := expr.FloorMod(i, two), expr.FloorMod(j, two)
	i1, j1 := expr.FloorDiv(i, two), expr.FloorDiv(j, two)
	return expr.Add(expr.Mul(two, xor4x4(i1, j1)), xor2x2(i0, j0))
}

// makeGemmABLayoutHalfBank swizzles 2 bits: 4 vectors per row tile.
func makeGemmABLayoutHalfBank(stride, continuous, elementSize int) *Layout {
	vectorSize := 128 / elementSize
	checkMultiple(stride, 8, "stride", "the row tile")
	checkMultiple(continuous, vectorSize*4, "continuous", "the half-bank width")
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	ts := expr.FloorDiv(i.Var, c(8))
	s := expr.FloorMod(i.Var, c(8))
	tc := expr.FloorDiv(expr.FloorDiv(j.Var, c(vectorSize)), c(4))
	col := expr.FloorMod(expr.FloorDiv(j.Var, c(vectorSize)), c(4))
	vec := expr.FloorMod(j.Var, c(vectorSize))
	colSwizzle := xor4x4(col, expr.FloorDiv(s, c(2)))
	index := expr.Add(vec,
		expr.Mul(expr.Add(colSwizzle, expr.Mul(s, c(4))), c(vectorSize)))
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{tc, ts, index})
}

// makeGemmABLayoutFullBank swizzles 3 bits: 8 vectors per row tile.
func makeGemmABLayoutFullBank(stride, continuous, elementSize int) *Layout {
	vectorSize := 128 / elementSize
	checkMultiple(stride, 8, "stride", "the row tile")
	checkMultiple(continuous, vectorSize*8, "continuous", "the full-bank width")
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	ts := expr.FloorDiv(i.Var, c(8))
	s := expr.FloorMod(i.Var, c(8))
	tc := expr.FloorDiv(expr.FloorDiv(j.Var, c(vectorSize)), c(8))
	col := expr.FloorMod(expr.FloorDiv(j.Var, c(vectorSize)), c(8))
	vec := expr.FloorMod(j.Var, c(vectorSize))
	colSwizzle := xor8x8(col, s)
	index := expr.Add(vec,
		expr.Mul(expr.Add(colSwizzle, expr.Mul(s, c(8))), c(vectorSize)))
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{tc, ts, index})
}

// makeGemmABLayoutF64KInner is the Swizzle<2,0,4> pattern for f64 NxK tiles.
func makeGemmABLayoutF64KInner(stride, continuous int) *Layout {
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	tc := expr.FloorDiv(j.Var, c(16))
	ts := expr.FloorDiv(i.Var, c(4))
	col := expr.FloorMod(j.Var, c(16))
	s := expr.FloorMod(i.Var, c(4))
	swizzled := expr.Add(
		expr.Mul(expr.FloorDiv(col, c(4)), c(4)),
		xor4x4(expr.FloorMod(col, c(4)), s))
	index := expr.Add(swizzled, expr.Mul(s, c(16)))
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{tc, ts, index})
}

// makeGemmABLayoutF64KOuter is the Swizzle<2,2,2> pattern for f64 KxN tiles.
func makeGemmABLayoutF64KOuter(stride, continuous int) *Layout {
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	tc := expr.FloorDiv(j.Var, c(16))
	ts := expr.FloorDiv(i.Var, c(4))
	col := expr.FloorMod(j.Var, c(16))
	s := expr.FloorMod(i.Var, c(4))
	swizzled := expr.Add(
		expr.FloorMod(col, c(4)),
		expr.Mul(xor4x4(expr.FloorDiv(col, c(4)), s), c(4)))
	index := expr.Add(swizzled, expr.Mul(s, c(16)))
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{tc, ts, index})
}

// makeGemmABLayoutPadded avoids bank conflicts by padding instead of
// swizzling: 128 bits of padding per row whenever the row is a multiple of
// 256 bits.
func makeGemmABLayoutPadded(stride, continuous, elementSize int) *Layout {
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	padded := continuous
	if (elementSize*continuous)%256 == 0 {
		padded += 128 / elementSize
	}
	index := expr.Add(expr.Mul(i.Var, expr.ConstInt(padded)), j.Var)
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{index})
}

func makeGemmVoltaABLayoutCrosswise(stride, continuous int) *Layout {
	checkMultiple(stride, 32, "stride", "the crosswise tile")
	checkMultiple(continuous, 32, "continuous", "the crosswise tile")
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	vecContiguous := expr.FloorDiv(j.Var, c(4))
	vecStridedWithinTile := expr.FloorMod(vecContiguous, c(8))

	bit2 := expr.FloorMod(sum(
		expr.FloorDiv(expr.FloorMod(i.Var, c(32)), c(16)),
		expr.FloorDiv(expr.FloorMod(i.Var, c(16)), c(8)),
		expr.FloorDiv(vecStridedWithinTile, c(4))), c(2))
	bit1 := xor2x2(
		expr.FloorDiv(expr.FloorMod(i.Var, c(8)), c(4)),
		expr.FloorDiv(expr.FloorMod(vecStridedWithinTile, c(4)), c(2)))
	permutedVecContiguous := sum(
		expr.Mul(expr.FloorDiv(i.Var, c(16)), c(16)),
		expr.Mul(expr.FloorMod(i.Var, c(4)), c(4)),
		expr.Mul(bit2, c(2)),
		bit1)

	offset := sum(
		expr.FloorMod(j.Var, c(4)),
		expr.Mul(permutedVecContiguous, c(4)),
		expr.Mul(vecContiguous, c(stride*4)))
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{offset})
}

func makeGemmVoltaALayoutCongruous(stride, continuous int) *Layout {
	checkMultiple(stride, 4, "stride", "the congruous tile")
	checkMultiple(continuous, 64, "continuous", "the congruous tile")
	return makeGemmVoltaCongruous(stride, continuous, true)
}

func makeGemmVoltaBLayoutCongruous(stride, continuous int) *Layout {
	checkMultiple(stride, 4, "stride", "the congruous tile")
	checkMultiple(continuous, 64, "continuous", "the congruous tile")
	return makeGemmVoltaCongruous(stride, continuous, false)
}

// makeGemmVoltaCongruous is the shared shape of the Volta congruous A/B
// permutations; they differ only in which half of the tile-contiguous
// residual selects the strided permutation.
func makeGemmVoltaCongruous(stride, continuous int, isA bool) *Layout {
	i := expr.NewIterVar("i", stride)
	j := expr.NewIterVar("j", continuous)
	c := expr.ConstInt
	vecContiguous := expr.FloorDiv(j.Var, c(8))
	vecStrided := expr.Expr(i.Var)
	tileContiguous := expr.FloorDiv(vecContiguous, c(8))
	tileStrided := expr.FloorDiv(vecStrided, c(4))
	contiguousResidual := expr.FloorMod(vecContiguous, c(8))
	stridedResidual := expr.FloorMod(vecStrided, c(4))

	var permutedStrided, permutedContiguous expr.Expr
	if isA {
		permutedStrided = expr.FloorDiv(contiguousResidual, c(2))
		permutedContiguous = expr.Add(
			expr.Mul(expr.FloorMod(contiguousResidual, c(2)), c(4)),
			xor4x4(stridedResidual, permutedStrided))
	} else {
		permutedStrided = expr.FloorMod(contiguousResidual, c(4))
		permutedContiguous = expr.Add(
			expr.Mul(expr.FloorDiv(contiguousResidual, c(4)), c(4)),
			xor4x4(stridedResidual, permutedStrided))
	}

	elementStrided := expr.Add(permutedStrided, expr.Mul(tileStrided, c(4)))
	elementContiguous := expr.Add(
		expr.FloorMod(j.Var, c(8)),
		expr.Mul(expr.Add(permutedContiguous, expr.Mul(tileContiguous, c(8))), c(8)))
	offset := expr.Add(expr.Mul(elementStrided, c(continuous)), elementContiguous)
	return NewLayout([]expr.IterVar{i, j}, []expr.Expr{offset})
}

// MakeGemmVoltaABLayout picks the Volta shared-memory layout for an operand
// tile: crosswise for kFactor 2, congruous when the fast dimension allows it,
// padded otherwise.
func MakeGemmVoltaABLayout(stride, continuous int, isA bool, kFactor int) *Layout {
	if kFactor == 2 {
		return makeGemmVoltaABLayoutCrosswise(stride, continuous)
	}
	if continuous%64 == 0 {
		if isA {
			return makeGemmVoltaALayoutCongruous(stride, continuous)
		}
		return makeGemmVoltaBLayoutCongruous(stride, continuous)
	}
	return makeGemmABLayoutPadded(stride, continuous, 16)
}

// MakeGemmABLayout picks the shared-memory layout for an operand tile of the
// given element width (bits) and K-factor: the full- or half-bank XOR
// swizzle when the fast dimension is wide enough, the f64 patterns for
// 64-bit elements, padding otherwise.
func MakeGemmABLayout(stride, continuous, elementSize, kFactor int) *Layout {
	if elementSize == 64 {
		if kFactor == 1 && continuous%16 == 0 { // f64 KxN
			return makeGemmABLayoutF64KOuter(stride, continuous)
		}
		if kFactor == 2 && continuous%16 == 0 { // f64 NxK
			return makeGemmABLayoutF64KInner(stride, continuous)
		}
		return makeGemmABLayoutPadded(stride, continuous, elementSize)
	}
	vectorSize := 128 / elementSize
	if kFactor == 1 && elementSize == 8 { // int8 KxN
		return makeGemmABLayoutPadded(stride, continuous, elementSize)
	}
	if continuous%(vectorSize*8) == 0 {
		return makeGemmABLayoutFullBank(stride, continuous, elementSize)
	}
	if continuous%(vectorSize*4) == 0 {
		return makeGemmABLayoutHalfBank(stride, continuous, elementSize)
	}
	return makeGemmABLayoutPadded(stride, continuous, elementSize)
}
