package expr

// Equal reports structural equality of two expressions, insensitive to
// variable renaming: free variables are matched positionally, so
// (i+2*j == x+2*y) holds while (i+j == i+i) does not.
func Equal(a, b Expr) bool {
	m := &varMatcher{aToB: map[*Var]*Var{}, bToA: map[*Var]*Var{}}
	return m.equal(a, b)
}

type varMatcher struct {
	aToB, bToA map[*Var]*Var
}

func (m *varMatcher) equal(a, b Expr) bool {
	switch na := a.(type) {
	case constant:
		nb, ok := b.(constant)
		return ok && na.value == nb.value
	case *Var:
		nb, ok := b.(*Var)
		if !ok {
			return false
		}
		mapped, seenA := m.aToB[na]
		back, seenB := m.bToA[nb]
		if seenA || seenB {
			return mapped == nb && back == na
		}
		m.aToB[na] = nb
		m.bToA[nb] = na
		return true
	case *binOp:
		nb, ok := b.(*binOp)
		return ok && na.op == nb.op && m.equal(na.x, nb.x) && m.equal(na.y, nb.y)
	case *selectOp:
		nb, ok := b.(*selectOp)
		return ok && m.equal(na.cond, nb.cond) &&
			m.equal(na.onTrue, nb.onTrue) && m.equal(na.onFalse, nb.onFalse)
	case Opaque:
		nb, ok := b.(Opaque)
		if !ok || !na.EqualAtom(nb) {
			return false
		}
		opsA, opsB := na.Operands(), nb.Operands()
		if len(opsA) != len(opsB) {
			return false
		}
		for i := range opsA {
			if !m.equal(opsA[i], opsB[i]) {
				return false
			}
		}
		return true
	}
	return false
}
