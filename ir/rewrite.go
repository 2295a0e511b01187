package ir

import (
	"github.com/gomlx/tilegen/expr"
)

// MapExprs rewrites every expression of the statement tree with f, deriving
// new nodes where anything changed.
func MapExprs(s Stmt, f func(expr.Expr) expr.Expr) Stmt {
	switch n := s.(type) {
	case *For:
		min, extent := f(n.Min), f(n.Extent)
		body := MapExprs(n.Body, f)
		if min == n.Min && extent == n.Extent && body == n.Body {
			return n
		}
		derived := *n
		derived.Min, derived.Extent, derived.Body = min, extent, body
		return &derived
	case *BufferStore:
		value := f(n.Value)
		indices, changed := mapSlice(n.Indices, f)
		if value == n.Value && !changed {
			return n
		}
		return n.With(value, indices)
	case *Block:
		stmts := make([]Stmt, len(n.Stmts))
		changed := false
		for i, sub := range n.Stmts {
			stmts[i] = MapExprs(sub, f)
			changed = changed || stmts[i] != sub
		}
		if !changed {
			return n
		}
		return &Block{Stmts: stmts}
	case *Evaluate:
		value := f(n.Value)
		if value == n.Value {
			return n
		}
		return &Evaluate{Value: value}
	}
	return s
}

// SubstituteStmt replaces variables by expressions throughout the statement
// tree, including inside buffer loads nested in values.
func SubstituteStmt(s Stmt, vmap map[*expr.Var]expr.Expr) Stmt {
	if len(vmap) == 0 {
		return s
	}
	return MapExprs(s, func(e expr.Expr) expr.Expr { return expr.Substitute(e, vmap) })
}

// SimplifyIndices re-simplifies the index expressions of every buffer store
// and load under the analyzer's bindings, leaving other expressions alone.
func SimplifyIndices(s Stmt, an *expr.Analyzer) Stmt {
	switch n := s.(type) {
	case *For:
		body := SimplifyIndices(n.Body, an)
		if body == n.Body {
			return n
		}
		return n.WithBody(body)
	case *BufferStore:
		value := simplifyLoadIndices(n.Value, an)
		indices, changed := mapSlice(n.Indices, an.Simplify)
		if value == n.Value && !changed {
			return n
		}
		return n.With(value, indices)
	case *Block:
		stmts := make([]Stmt, len(n.Stmts))
		changed := false
		for i, sub := range n.Stmts {
			stmts[i] = SimplifyIndices(sub, an)
			changed = changed || stmts[i] != sub
		}
		if !changed {
			return n
		}
		return &Block{Stmts: stmts}
	case *Evaluate:
		value := simplifyLoadIndices(n.Value, an)
		if value == n.Value {
			return n
		}
		return &Evaluate{Value: value}
	}
	return s
}

func simplifyLoadIndices(e expr.Expr, an *expr.Analyzer) expr.Expr {
	return expr.Transform(e, func(sub expr.Expr) expr.Expr {
		load, ok := sub.(*BufferLoad)
		if !ok {
			return sub
		}
		indices, changed := mapSlice(load.Indices, an.Simplify)
		if !changed {
			return sub
		}
		return &BufferLoad{Buffer: load.Buffer, Indices: indices}
	})
}

// UnrollSerialLoops marks every serial loop for explicit unrolling.
// Thread-partitioned loops have small constant trip counts, so codegen always
// unrolls them.
func UnrollSerialLoops(s Stmt) Stmt {
	switch n := s.(type) {
	case *For:
		derived := n
		if n.Kind == ForSerial {
			derived = n.WithKind(ForUnrolled, map[string]any{UnrollExplicitAnnotation: false})
		}
		body := UnrollSerialLoops(derived.Body)
		if body != derived.Body {
			derived = derived.WithBody(body)
		}
		return derived
	case *Block:
		stmts := make([]Stmt, len(n.Stmts))
		changed := false
		for i, sub := range n.Stmts {
			stmts[i] = UnrollSerialLoops(sub)
			changed = changed || stmts[i] != sub
		}
		if !changed {
			return n
		}
		return &Block{Stmts: stmts}
	}
	return s
}

func mapSlice(exprs []expr.Expr, f func(expr.Expr) expr.Expr) (out []expr.Expr, changed bool) {
	out = make([]expr.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = f(e)
		changed = changed || out[i] != e
	}
	if !changed {
		return exprs, false
	}
	return out, true
}
