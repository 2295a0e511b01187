package arith

import (
	"sort"

	"github.com/gomlx/tilegen/expr"
	"github.com/pkg/errors"
)

// DivideUnusedIterators returns the parts of the iteration space of iters not
// consumed by exprs, as splits ordered by iterator (in the order of iters)
// and ascending lower factor.
//
// If exprs is {x // 2} and x ranges over [0, 4), the unused part is {x %% 2}.
func DivideUnusedIterators(exprs []expr.Expr, iters []expr.IterVar, an *expr.Analyzer) ([]IterSplit, error) {
	used := make(map[*expr.Var][]IterSplit)
	for _, e := range exprs {
		sum, err := NormalizeToIterSum(e, iters, an)
		if err != nil {
			return nil, err
		}
		for _, split := range sum.Splits {
			used[split.Source.Var] = append(used[split.Source.Var], split)
		}
	}
	var unused []IterSplit
	for _, iv := range iters {
		splits := used[iv.Var]
		sort.Slice(splits, func(a, b int) bool { return splits[a].LowerFactor < splits[b].LowerFactor })
		factor := 1
		for _, split := range splits {
			if split.LowerFactor < factor {
				return nil, errors.Errorf("iterator %s is used twice at factor %d", iv.Var, split.LowerFactor)
			}
			if split.LowerFactor > factor {
				if split.LowerFactor%factor != 0 {
					return nil, errors.Errorf(
						"iterator %s: used factor %d is not a multiple of %d", iv.Var, split.LowerFactor, factor)
				}
				unused = append(unused, IterSplit{Source: iv, LowerFactor: factor, Extent: split.LowerFactor / factor})
			}
			factor = split.LowerFactor * split.Extent
		}
		if iv.Extent%factor != 0 {
			return nil, errors.Errorf("iterator %s: extent %d is not a multiple of used factor %d", iv.Var, iv.Extent, factor)
		}
		if factor < iv.Extent {
			unused = append(unused, IterSplit{Source: iv, LowerFactor: factor, Extent: iv.Extent / factor})
		}
	}
	return unused, nil
}

// MakeFlattenedExpression packs the values of the splits into one scalar
// index, row-major: the last split varies fastest.
func MakeFlattenedExpression(splits []IterSplit) expr.Expr {
	result := expr.Zero
	stride := 1
	for i := len(splits) - 1; i >= 0; i-- {
		result = expr.Add(result, expr.Mul(expr.ConstInt(stride), splits[i].Value()))
		stride *= splits[i].Extent
	}
	return result
}

// CompressIterator rebuilds e with the contribution of iv repacked onto a
// fresh variable of minimal extent: the splits of iv that actually occur in e
// become contiguous digits of the new variable. Returns the rebuilt
// expression and the replacement IterVar (extent 1 when iv is unused).
func CompressIterator(e expr.Expr, iters []expr.IterVar, iv expr.IterVar, an *expr.Analyzer) (expr.Expr, expr.IterVar, error) {
	sum, err := NormalizeToIterSum(e, iters, an)
	if err != nil {
		return nil, expr.IterVar{}, err
	}
	var ivSplits, others []IterSplit
	for _, split := range sum.Splits {
		if split.Source.Var == iv.Var {
			ivSplits = append(ivSplits, split)
		} else {
			others = append(others, split)
		}
	}
	sort.Slice(ivSplits, func(a, b int) bool { return ivSplits[a].LowerFactor < ivSplits[b].LowerFactor })

	newExtent := 1
	for _, split := range ivSplits {
		newExtent *= split.Extent
	}
	newIv := expr.NewIterVar(iv.Var.Name(), newExtent)

	rebuilt := expr.ConstInt(sum.Base)
	for _, split := range others {
		rebuilt = expr.Add(rebuilt, expr.Mul(expr.ConstInt(split.Scale), split.Value()))
	}
	factor := 1
	for _, split := range ivSplits {
		compressed := IterSplit{Source: newIv, LowerFactor: factor, Extent: split.Extent}
		rebuilt = expr.Add(rebuilt, expr.Mul(expr.ConstInt(split.Scale), compressed.Value()))
		factor *= split.Extent
	}
	return rebuilt, newIv, nil
}
