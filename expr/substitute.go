package expr

// Transform rebuilds the expression bottom-up, applying f to every node after
// its children were rebuilt. f must return a node (possibly its argument
// unchanged). Opaque atoms have their operands rebuilt and are then passed to
// f as a whole.
func Transform(e Expr, f func(Expr) Expr) Expr {
	switch n := e.(type) {
	case *binOp:
		x := Transform(n.x, f)
		y := Transform(n.y, f)
		if x != n.x || y != n.y {
			e = &binOp{n.op, x, y}
		}
	case *selectOp:
		cond := Transform(n.cond, f)
		onTrue := Transform(n.onTrue, f)
		onFalse := Transform(n.onFalse, f)
		if cond != n.cond || onTrue != n.onTrue || onFalse != n.onFalse {
			e = &selectOp{cond, onTrue, onFalse}
		}
	case Opaque:
		operands := n.Operands()
		changed := false
		rebuilt := make([]Expr, len(operands))
		for i, op := range operands {
			rebuilt[i] = Transform(op, f)
			changed = changed || rebuilt[i] != op
		}
		if changed {
			e = n.WithOperands(rebuilt)
		}
	}
	return f(e)
}

// Substitute replaces every occurrence of the keys of vmap by the mapped
// expressions. The substitution is simultaneous: replacements are not
// re-visited, so a variable may map to an expression mentioning itself.
func Substitute(e Expr, vmap map[*Var]Expr) Expr {
	if len(vmap) == 0 {
		return e
	}
	return substitute(e, vmap)
}

func substitute(e Expr, vmap map[*Var]Expr) Expr {
	switch n := e.(type) {
	case *Var:
		if repl, found := vmap[n]; found {
			return repl
		}
	case *binOp:
		x := substitute(n.x, vmap)
		y := substitute(n.y, vmap)
		if x != n.x || y != n.y {
			return &binOp{n.op, x, y}
		}
	case *selectOp:
		cond := substitute(n.cond, vmap)
		onTrue := substitute(n.onTrue, vmap)
		onFalse := substitute(n.onFalse, vmap)
		if cond != n.cond || onTrue != n.onTrue || onFalse != n.onFalse {
			return &selectOp{cond, onTrue, onFalse}
		}
	case Opaque:
		operands := n.Operands()
		changed := false
		rebuilt := make([]Expr, len(operands))
		for i, op := range operands {
			rebuilt[i] = substitute(op, vmap)
			changed = changed || rebuilt[i] != op
		}
		if changed {
			return n.WithOperands(rebuilt)
		}
	}
	return e
}

// Substitute1 replaces a single variable.
func Substitute1(e Expr, v *Var, replacement Expr) Expr {
	return Substitute(e, map[*Var]Expr{v: replacement})
}
