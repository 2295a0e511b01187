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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/tilegen/expr"
)

// This file holds the closed-form constructors of the register-tile fragments
// used for tensor-core GEMM: small atomic patterns (8x8, 32x32 and transposed
// variants) composed into block-level fragments with Repeat/Replicate.
// Shape parameters are hard-checked against the hardware tile granularity
// each constructor models.

// MakeGemmFragment8x8 is the atomic 8x8 accumulator fragment: lane
// j//2 + 4*i owns element (i, j), keeping j%%2 in its registers.
func MakeGemmFragment8x8() *Fragment {
	i := expr.NewIterVar("i", 8)
	j := expr.NewIterVar("j", 8)
	thread := expr.Add(expr.FloorDiv(j.Var, expr.ConstInt(2)), expr.Mul(expr.ConstInt(4), i.Var))
	index := expr.FloorMod(j.Var, expr.ConstInt(2))
	return NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, expr.IterVar{})
}

// MakeGemmFragment8x8Transposed is the 8x8 atom with the roles of the two
// axes exchanged.
func MakeGemmFragment8x8Transposed() *Fragment {
	i := expr.NewIterVar("i", 8)
	j := expr.NewIterVar("j", 8)
	thread := expr.Add(expr.FloorDiv(i.Var, expr.ConstInt(2)), expr.Mul(expr.ConstInt(4), j.Var))
	index := expr.FloorMod(i.Var, expr.ConstInt(2))
	return NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, expr.IterVar{})
}

// MakeGemmFragmentC builds the accumulator fragment of a blockM x blockN tile
// split into warpM x warpN warp tiles of 8x8 atoms. elementSize is in bits;
// 64-bit elements use the f64 variant.
func MakeGemmFragmentC(blockM, blockN, warpM, warpN, elementSize int) *Fragment {
	if elementSize == 64 {
		return makeGemmFragmentCF64(blockM, blockN, warpM, warpN)
	}
	checkMultiple(blockM, warpM, "blockM", "warpM")
	checkMultiple(blockN, warpN, "blockN", "warpN")
	checkMultiple(warpM, 16, "warpM", "the tile granularity")
	checkMultiple(warpN, 16, "warpN", "the tile granularity")
	base := MakeGemmFragment8x8().Repeat([]int{2, 1}, false, true)
	warp := base.Repeat([]int{blockM / warpM, blockN / warpN}, true, false)
	return warp.Repeat([]int{warpM / 16, warpN / 8}, false, false)
}

func makeGemmFragmentCF64(blockM, blockN, warpM, warpN int) *Fragment {
	checkMultiple(blockM, warpM, "blockM", "warpM")
	checkMultiple(blockN, warpN, "blockN", "warpN")
	checkMultiple(warpM, 16, "warpM", "the tile granularity")
	checkMultiple(warpN, 16, "warpN", "the tile granularity")
	base := MakeGemmFragment8x8()
	warp := base.Repeat([]int{blockM / warpM, blockN / warpN}, true, false)
	return warp.Repeat([]int{warpM / 8, warpN / 8}, false, false)
}

// MakeGemmFragmentA builds the (non-transposed) A-operand fragment over a
// blockM x blockK tile: warps repeat over M, replicate over N and repeat the
// 16x16 MMA atoms over M and K.
func MakeGemmFragmentA(blockM, blockN, blockK, warpM, warpN int) *Fragment {
	checkMultiple(blockM, warpM, "blockM", "warpM")
	checkMultiple(blockN, warpN, "blockN", "warpN")
	checkMultiple(warpM, 16, "warpM", "the tile granularity")
	checkMultiple(blockK, 16, "blockK", "the tile granularity")
	base := MakeGemmFragment8x8().Repeat([]int{2, 2}, false, false)
	warp := base.Repeat([]int{blockM / warpM, 1}, true, true).Replicate(blockN / warpN)
	return warp.Repeat([]int{warpM / 16, blockK / 16}, false, false)
}

// MakeGemmFragmentB builds the (transposed) B-operand fragment over a
// blockK x blockN tile.
func MakeGemmFragmentB(blockM, blockN, blockK, warpM, warpN int) *Fragment {
	checkMultiple(warpN, 8, "warpN", "the tile granularity")
	checkMultiple(blockK, 16, "blockK", "the tile granularity")
	base := MakeGemmFragment8x8Transposed().Repeat([]int{2, 1}, false, false)
	warp := base.Replicate(blockM / warpM).Repeat([]int{1, blockN / warpN}, true, true)
	return warp.Repeat([]int{blockK / 16, warpN / 8}, false, true)
}

// MakeGemmFragment32x32 is the 32x32 accumulator atom of the first-generation
// tensor cores; elementSize (bits) must be 16 or 32.
func MakeGemmFragment32x32(elementSize int) *Fragment {
	i := expr.NewIterVar("i", 32)
	j := expr.NewIterVar("j", 32)
	if elementSize != 16 && elementSize != 32 {
		exceptions.Panicf("MakeGemmFragment32x32: element size %d bits not supported (want 16 or 32)", elementSize)
	}
	c := expr.ConstInt
	iv, jv := expr.Expr(i.Var), expr.Expr(j.Var)
	if elementSize == 16 {
		thread := sum(
			expr.FloorMod(iv, c(4)),
			expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(16)), c(8)), c(4)),
			expr.Mul(expr.FloorDiv(expr.FloorMod(jv, c(16)), c(8)), c(8)),
			expr.Mul(expr.FloorDiv(iv, c(16)), c(16)))
		index := sum(
			expr.FloorMod(jv, c(4)),
			expr.Mul(expr.FloorDiv(jv, c(16)), c(4)),
			expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(8)), c(4)), c(8)),
			expr.Mul(expr.FloorDiv(expr.FloorMod(jv, c(8)), c(4)), c(16)))
		return NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, expr.IterVar{})
	}
	thread := sum(
		expr.FloorMod(iv, c(2)),
		expr.Mul(c(2), expr.FloorDiv(expr.FloorMod(jv, c(4)), c(2))),
		expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(16)), c(8)), c(4)),
		expr.Mul(expr.FloorDiv(expr.FloorMod(jv, c(16)), c(8)), c(8)),
		expr.Mul(expr.FloorDiv(iv, c(16)), c(16)))
	index := sum(
		expr.FloorMod(jv, c(2)),
		expr.Mul(c(2), expr.FloorDiv(expr.FloorMod(iv, c(4)), c(2))),
		expr.Mul(expr.FloorDiv(jv, c(16)), c(4)),
		expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(8)), c(4)), c(8)),
		expr.Mul(expr.FloorDiv(expr.FloorMod(jv, c(8)), c(4)), c(16)))
	return NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, expr.IterVar{})
}

// MakeGemmVoltaFragmentC builds the accumulator fragment from 32x32 atoms.
func MakeGemmVoltaFragmentC(blockM, blockN, warpM, warpN, elementSize int) *Fragment {
	checkMultiple(blockM, warpM, "blockM", "warpM")
	checkMultiple(blockN, warpN, "blockN", "warpN")
	checkMultiple(warpM, 32, "warpM", "the tile granularity")
	checkMultiple(warpN, 32, "warpN", "the tile granularity")
	base := MakeGemmFragment32x32(elementSize)
	warp := base.Repeat([]int{warpM / 32, warpN / 32}, false, false)
	return warp.Repeat([]int{blockM / warpM, blockN / warpN}, true, true)
}

// MakeGemmVoltaFragmentA builds the (non-transposed) A-operand fragment over
// a blockM x blockK tile; the 32x4 base pattern is natively replicated over
// two lanes.
func MakeGemmVoltaFragmentA(blockM, blockN, blockK, warpM, warpN int) *Fragment {
	checkMultiple(blockM, warpM, "blockM", "warpM")
	checkMultiple(blockN, warpN, "blockN", "warpN")
	checkMultiple(warpM, 32, "warpM", "the tile granularity")
	checkMultiple(blockK, 4, "blockK", "the tile granularity")
	i := expr.NewIterVar("i", 32)
	j := expr.NewIterVar("j", 4)
	rep := expr.NewIterVar("rep", 2)
	c := expr.ConstInt
	iv := expr.Expr(i.Var)
	thread := sum(
		expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(16)), c(8)), c(4)),
		expr.Mul(c(16), expr.FloorDiv(iv, c(16))),
		expr.FloorMod(iv, c(4)),
		expr.Mul(c(8), rep.Var))
	index := expr.Add(j.Var, expr.Mul(expr.FloorDiv(expr.FloorMod(iv, c(8)), c(4)), c(4)))
	base := NewFragment([]expr.IterVar{i, j}, []expr.Expr{index}, thread, rep)
	warp := base.Repeat([]int{warpM / 32, blockK / 4}, false, false)
	return warp.Replicate(blockN / warpN).Repeat([]int{blockM / warpM, 1}, true, true)
}

func sum(terms ...expr.Expr) expr.Expr {
	acc := expr.Zero
	for _, t := range terms {
		acc = expr.Add(acc, t)
	}
	return acc
}

func checkMultiple(value, granularity int, name, of string) {
	if granularity == 0 || value%granularity != 0 {
		exceptions.Panicf("gemm layout factory: %s=%d must be a positive multiple of %s (%d)",
			name, value, of, granularity)
	}
}
