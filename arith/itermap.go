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

// Package arith implements the affine iteration-map calculus behind layout
// inversion: decomposing index expressions into iterator splits, deciding
// whether a set of index expressions forms a bijective affine map over bound
// iteration variables, and computing the symbolic inverse of such a map.
//
// The unit of the calculus is the split ((v // LowerFactor) %% Extent) * Scale:
// a contiguous run of bits (in the mixed-radix sense) of one iteration
// variable, placed at a stride inside an index. An index expression that
// decomposes into splits is an IterSum; a map whose outputs pack disjoint
// splits compactly and consume every input variable exactly once is bijective
// and invertible in closed form.
package arith

import (
	"sort"

	"github.com/gomlx/tilegen/expr"
	"github.com/pkg/errors"
)

// IterSplit is the value ((Source // LowerFactor) %% Extent) * Scale.
type IterSplit struct {
	Source      expr.IterVar
	LowerFactor int
	Extent      int
	Scale       int
}

// Value returns the unscaled symbolic value of the split.
func (s IterSplit) Value() expr.Expr {
	return expr.FloorMod(
		expr.FloorDiv(s.Source.Var, expr.ConstInt(s.LowerFactor)),
		expr.ConstInt(s.Extent))
}

// IterSum is a sum of scaled splits plus a constant base.
type IterSum struct {
	Splits []IterSplit
	Base   int
}

// NormalizeToIterSum decomposes e, simplified under the iteration domains of
// iters, into an IterSum. It fails when e is not an affine function of
// iterator splits -- e.g. when two variables mix under one floor-mod, as in
// XOR swizzles, or when a split boundary does not divide the domain.
func NormalizeToIterSum(e expr.Expr, iters []expr.IterVar, an *expr.Analyzer) (IterSum, error) {
	byVar := make(map[*expr.Var]expr.IterVar, len(iters))
	for _, iv := range iters {
		byVar[iv.Var] = iv
	}
	terms, base := an.LinearTerms(an.Simplify(e))
	sum := IterSum{Base: base}
	for _, t := range terms {
		split, err := splitFromAtom(t.Atom, byVar, an)
		if err != nil {
			return IterSum{}, err
		}
		if t.Coef < 0 {
			return IterSum{}, errors.Errorf("negative scale %d on iterator term %s", t.Coef, t.Atom)
		}
		if split.Extent == 1 {
			// A unit split is constant zero.
			continue
		}
		split.Scale = t.Coef
		sum.Splits = append(sum.Splits, split)
	}
	return sum, nil
}

func splitFromAtom(atom expr.Expr, byVar map[*expr.Var]expr.IterVar, an *expr.Analyzer) (IterSplit, error) {
	if v, ok := expr.AsVar(atom); ok {
		iv, bound := byVar[v]
		if !bound {
			return IterSplit{}, errors.Errorf("%s is not one of the iteration variables", v)
		}
		return IterSplit{Source: iv, LowerFactor: 1, Extent: iv.Extent}, nil
	}
	if inner, c, ok := expr.AsFloorDiv(atom); ok && c > 0 {
		s, err := splitFromSingleTerm(inner, byVar, an)
		if err != nil {
			return IterSplit{}, err
		}
		if c >= s.Extent {
			return IterSplit{Source: s.Source, LowerFactor: s.LowerFactor * c, Extent: 1}, nil
		}
		if s.Extent%c != 0 {
			return IterSplit{}, errors.Errorf("split %s: divisor %d does not divide extent %d", atom, c, s.Extent)
		}
		return IterSplit{Source: s.Source, LowerFactor: s.LowerFactor * c, Extent: s.Extent / c}, nil
	}
	if inner, c, ok := expr.AsFloorMod(atom); ok && c > 0 {
		s, err := splitFromSingleTerm(inner, byVar, an)
		if err != nil {
			return IterSplit{}, err
		}
		if c >= s.Extent {
			return s, nil
		}
		if s.Extent%c != 0 {
			return IterSplit{}, errors.Errorf("split %s: modulus %d does not divide extent %d", atom, c, s.Extent)
		}
		return IterSplit{Source: s.Source, LowerFactor: s.LowerFactor, Extent: c}, nil
	}
	return IterSplit{}, errors.Errorf("%s is not an affine iterator expression", atom)
}

// splitFromSingleTerm requires inner to be exactly one unscaled split.
func splitFromSingleTerm(inner expr.Expr, byVar map[*expr.Var]expr.IterVar, an *expr.Analyzer) (IterSplit, error) {
	terms, base := an.LinearTerms(inner)
	if base != 0 || len(terms) != 1 || terms[0].Coef != 1 {
		return IterSplit{}, errors.Errorf("%s mixes several iterators under a floor operation", inner)
	}
	return splitFromAtom(terms[0].Atom, byVar, an)
}

// DetectIterMap decides whether indices form a bijective affine map from the
// bound iteration variables. On success it returns one normalized IterSum per
// index; otherwise the (non-empty) obstruction list tells what failed.
//
// Bijectivity holds when every index is a compact mixed-radix packing of
// splits (scales chain 1, e0, e0*e1, ... with a zero base) and the splits of
// all indices together partition the domain of every iteration variable with
// extent > 1 exactly once.
func DetectIterMap(indices []expr.Expr, iters []expr.IterVar) ([]IterSum, []error) {
	an := expr.NewAnalyzer()
	for _, iv := range iters {
		an.BindIterVar(iv)
	}
	var errs []error
	sums := make([]IterSum, len(indices))
	for i, index := range indices {
		sum, err := NormalizeToIterSum(index, iters, an)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "output %d", i))
			continue
		}
		if sum.Base != 0 {
			errs = append(errs, errors.Errorf("output %d has non-zero base %d", i, sum.Base))
			continue
		}
		sorted := make([]IterSplit, len(sum.Splits))
		copy(sorted, sum.Splits)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].Scale < sorted[b].Scale })
		stride := 1
		compact := true
		for _, split := range sorted {
			if split.Scale != stride {
				errs = append(errs, errors.Errorf(
					"output %d is not a compact packing: expected scale %d, got %d", i, stride, split.Scale))
				compact = false
				break
			}
			stride *= split.Extent
		}
		if compact {
			sums[i] = sum
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	used := make(map[*expr.Var][]IterSplit)
	for _, sum := range sums {
		for _, split := range sum.Splits {
			used[split.Source.Var] = append(used[split.Source.Var], split)
		}
	}
	for _, iv := range iters {
		if iv.Extent == 1 {
			continue
		}
		splits := used[iv.Var]
		sort.Slice(splits, func(a, b int) bool { return splits[a].LowerFactor < splits[b].LowerFactor })
		factor := 1
		for _, split := range splits {
			if split.LowerFactor != factor {
				errs = append(errs, errors.Errorf(
					"iterator %s is not consumed contiguously: factor %d used where %d was expected",
					iv.Var, split.LowerFactor, factor))
				break
			}
			factor = split.LowerFactor * split.Extent
		}
		if factor != iv.Extent {
			errs = append(errs, errors.Errorf(
				"iterator %s (extent %d) is only determined up to factor %d by the outputs",
				iv.Var, iv.Extent, factor))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return sums, nil
}

// InverseAffineIterMap expresses the original iteration variables in terms of
// the output variables of a detected map: one outVar per IterSum, bounded by
// the output extent. Variables that do not appear in any split are absent
// from the result.
func InverseAffineIterMap(sums []IterSum, outVars []*expr.Var) map[*expr.Var]expr.Expr {
	result := make(map[*expr.Var]expr.Expr)
	for j, sum := range sums {
		for _, split := range sum.Splits {
			piece := expr.Mul(
				expr.ConstInt(split.LowerFactor),
				expr.FloorMod(
					expr.FloorDiv(outVars[j], expr.ConstInt(split.Scale)),
					expr.ConstInt(split.Extent)))
			if acc, seen := result[split.Source.Var]; seen {
				result[split.Source.Var] = expr.Add(acc, piece)
			} else {
				result[split.Source.Var] = piece
			}
		}
	}
	return result
}
