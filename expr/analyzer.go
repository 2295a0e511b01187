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

package expr

import (
	"fmt"
	"sort"

	"github.com/gomlx/exceptions"
)

// Analyzer carries the variable bindings of one top-level operation and
// simplifies or bounds expressions under them.
//
// Create one Analyzer per public layout/partition operation and discard it
// afterwards: sharing bindings across unrelated layouts would corrupt later
// simplifications.
type Analyzer struct {
	domains map[*Var]domain
}

type domain struct{ min, extent int }

// NewAnalyzer returns an empty binding context.
func NewAnalyzer() *Analyzer {
	return &Analyzer{domains: make(map[*Var]domain)}
}

// Bind associates v with the domain [min, min+extent).
func (a *Analyzer) Bind(v *Var, min, extent int) {
	if extent <= 0 {
		exceptions.Panicf("Analyzer.Bind(%s, %d, %d): extent must be positive", v, min, extent)
	}
	a.domains[v] = domain{min: min, extent: extent}
}

// BindIterVar binds the variable of iv to its iteration domain.
func (a *Analyzer) BindIterVar(iv IterVar) {
	a.Bind(iv.Var, iv.Min, iv.Extent)
}

// Bounds computes a (tight for the affine forms used by layouts) inclusive
// interval [min, max] for e. ok is false when e mentions an unbound variable
// or an opaque atom.
func (a *Analyzer) Bounds(e Expr) (min, max int, ok bool) {
	switch n := e.(type) {
	case constant:
		return n.value, n.value, true
	case *Var:
		d, bound := a.domains[n]
		if !bound {
			return 0, 0, false
		}
		return d.min, d.min + d.extent - 1, true
	case *binOp:
		switch n.op {
		case opLt, opGe, opEq, opAnd:
			return 0, 1, true
		}
		xMin, xMax, xOk := a.Bounds(n.x)
		if n.op == opFloorMod {
			// For a positive constant divisor the result is in [0, c) no
			// matter the sign of the dividend.
			if c, isConst := AsConst(n.y); isConst && c > 0 {
				if xOk && xMin >= 0 && xMax < c {
					return xMin, xMax, true
				}
				return 0, c - 1, true
			}
			return 0, 0, false
		}
		if !xOk {
			return 0, 0, false
		}
		switch n.op {
		case opAdd:
			yMin, yMax, yOk := a.Bounds(n.y)
			if !yOk {
				return 0, 0, false
			}
			return xMin + yMin, xMax + yMax, true
		case opMul:
			yMin, yMax, yOk := a.Bounds(n.y)
			if !yOk {
				return 0, 0, false
			}
			lo, hi := xMin*yMin, xMin*yMin
			for _, p := range [3]int{xMin * yMax, xMax * yMin, xMax * yMax} {
				lo = minInt(lo, p)
				hi = maxInt(hi, p)
			}
			return lo, hi, true
		case opFloorDiv:
			c, isConst := AsConst(n.y)
			if !isConst || c <= 0 {
				return 0, 0, false
			}
			return floorDivInt(xMin, c), floorDivInt(xMax, c), true
		}
		return 0, 0, false
	case *selectOp:
		tMin, tMax, tOk := a.Bounds(n.onTrue)
		fMin, fMax, fOk := a.Bounds(n.onFalse)
		if !tOk || !fOk {
			return 0, 0, false
		}
		return minInt(tMin, fMin), maxInt(tMax, fMax), true
	}
	return 0, 0, false
}

// Simplify returns the canonical form of e under the current bindings: a
// sorted sum of coefficient*atom terms with floor-div/mod reduced as far as
// the bindings allow.
func (a *Analyzer) Simplify(e Expr) Expr {
	return a.rebuild(a.canon(e))
}

// Term is one addend of a linear decomposition: Coef * Atom.
type Term struct {
	Coef int
	Atom Expr
}

// LinearTerms decomposes e into a sum of terms plus a constant base.
// Atoms are variables, floor-divs/mods or other non-linear nodes.
func (a *Analyzer) LinearTerms(e Expr) ([]Term, int) {
	lf := a.canon(e)
	terms := make([]Term, 0, len(lf.terms))
	for _, t := range lf.terms {
		terms = append(terms, Term{Coef: t.coef, Atom: t.atom})
	}
	return terms, lf.base
}

// linearForm is the working representation of a canonicalized sum.
type term struct {
	coef int
	atom Expr
	key  string
}

type linearForm struct {
	terms []term
	base  int
}

func (a *Analyzer) canon(e Expr) linearForm {
	switch n := e.(type) {
	case constant:
		return linearForm{base: n.value}
	case *Var:
		return termLF(1, n)
	case *binOp:
		switch n.op {
		case opAdd:
			return mergeLF(a.canon(n.x), a.canon(n.y))
		case opMul:
			lx, ly := a.canon(n.x), a.canon(n.y)
			if len(lx.terms) == 0 {
				return scaleLF(ly, lx.base)
			}
			if len(ly.terms) == 0 {
				return scaleLF(lx, ly.base)
			}
			return termLF(1, Mul(a.rebuild(lx), a.rebuild(ly)))
		case opFloorDiv:
			if c, isConst := AsConst(n.y); isConst && c > 0 {
				return a.canonFloorDiv(a.canon(n.x), c)
			}
			return termLF(1, FloorDiv(a.Simplify(n.x), a.Simplify(n.y)))
		case opFloorMod:
			if c, isConst := AsConst(n.y); isConst && c > 0 {
				return a.canonFloorMod(a.canon(n.x), c)
			}
			return termLF(1, FloorMod(a.Simplify(n.x), a.Simplify(n.y)))
		case opLt:
			return a.canonOrConst(Lt(a.Simplify(n.x), a.Simplify(n.y)))
		case opGe:
			return a.canonOrConst(Ge(a.Simplify(n.x), a.Simplify(n.y)))
		case opEq:
			return a.canonOrConst(Eq(a.Simplify(n.x), a.Simplify(n.y)))
		case opAnd:
			return a.canonOrConst(And(a.Simplify(n.x), a.Simplify(n.y)))
		}
	case *selectOp:
		return a.canonOrConst(Select(a.Simplify(n.cond), a.Simplify(n.onTrue), a.Simplify(n.onFalse)))
	case Opaque:
		operands := n.Operands()
		rebuilt := make([]Expr, len(operands))
		changed := false
		for i, op := range operands {
			rebuilt[i] = a.Simplify(op)
			changed = changed || rebuilt[i] != op
		}
		if changed {
			return termLF(1, n.WithOperands(rebuilt))
		}
		return termLF(1, n)
	}
	return termLF(1, e)
}

// canonOrConst wraps an already simplified node, folding it into the base
// when the constructors reduced it to a constant.
func (a *Analyzer) canonOrConst(e Expr) linearForm {
	if c, isConst := AsConst(e); isConst {
		return linearForm{base: c}
	}
	return termLF(1, e)
}

// canonFloorDiv simplifies lx//c for constant c>0, peeling off addends whose
// coefficient is a multiple of c: (c*q + r)//c == q + r//c for any integers.
func (a *Analyzer) canonFloorDiv(lx linearForm, c int) linearForm {
	if c == 1 {
		return lx
	}
	out := linearForm{base: floorDivInt(lx.base, c)}
	rem := linearForm{base: floorModInt(lx.base, c)}
	for _, t := range lx.terms {
		if t.coef%c == 0 {
			out.terms = append(out.terms, term{coef: t.coef / c, atom: t.atom, key: t.key})
		} else {
			rem.terms = append(rem.terms, t)
		}
	}
	if len(rem.terms) == 0 {
		// rem.base is already in [0, c).
		return out
	}
	if lo, hi, ok := a.boundsLF(rem); ok && lo >= 0 && hi < c {
		return out
	}
	g := c
	for _, t := range rem.terms {
		g = GCD(g, t.coef)
	}
	g = GCD(g, rem.base)
	if g > 1 {
		return mergeLF(out, a.canonFloorDiv(scaleDownLF(rem, g), c/g))
	}
	if high, _, k, ok := a.splitDigit(rem, c); ok {
		// k*x + low with low in [0, k) and k | c: the low digits cannot
		// carry, so (k*x + low) // c == x // (c/k).
		return mergeLF(out, a.canonFloorDiv(high, c/k))
	}
	if rem.base == 0 && len(rem.terms) == 1 && rem.terms[0].coef == 1 {
		if inner, c2, ok := AsFloorDiv(rem.terms[0].atom); ok && c2 > 0 {
			return mergeLF(out, termLF(1, &binOp{opFloorDiv, inner, ConstInt(c2 * c)}))
		}
	}
	return mergeLF(out, termLF(1, &binOp{opFloorDiv, a.rebuild(rem), ConstInt(c)}))
}

// canonFloorMod simplifies lx%%c for constant c>0: addends with coefficients
// that are multiples of c vanish, and a common factor g distributes as
// (g*x) %% (g*m) == g*(x %% m).
func (a *Analyzer) canonFloorMod(lx linearForm, c int) linearForm {
	if c == 1 {
		return linearForm{}
	}
	rem := linearForm{base: floorModInt(lx.base, c)}
	for _, t := range lx.terms {
		if t.coef%c != 0 {
			rem.terms = append(rem.terms, t)
		}
	}
	if len(rem.terms) == 0 {
		return rem
	}
	if lo, hi, ok := a.boundsLF(rem); ok && lo >= 0 && hi < c {
		return rem
	}
	g := c
	for _, t := range rem.terms {
		g = GCD(g, t.coef)
	}
	g = GCD(g, rem.base)
	if g > 1 {
		return scaleLF(a.canonFloorMod(scaleDownLF(rem, g), c/g), g)
	}
	if high, low, k, ok := a.splitDigit(rem, c); ok {
		// (k*x + low) %% (k*m) == k*(x %% m) + low when low is in [0, k).
		return mergeLF(scaleLF(a.canonFloorMod(high, c/k), k), low)
	}
	if rem.base == 0 && len(rem.terms) == 1 && rem.terms[0].coef == 1 {
		if inner, c2, ok := AsFloorMod(rem.terms[0].atom); ok && c2 > 0 && c2%c == 0 {
			return a.canonFloorMod(a.canon(inner), c)
		}
	}
	return termLF(1, &binOp{opFloorMod, a.rebuild(rem), ConstInt(c)})
}

// splitDigit matches lf as k*high + low with a constant k in (1, c) dividing
// c and low provably in [0, k): the digit decomposition of a row-major
// flattened index like 16*i + j. Larger k candidates are tried first.
func (a *Analyzer) splitDigit(lf linearForm, c int) (high, low linearForm, k int, ok bool) {
	var candidates []int
	for _, t := range lf.terms {
		if t.coef > 1 && t.coef < c && c%t.coef == 0 {
			candidates = append(candidates, t.coef)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))
	for i, cand := range candidates {
		if i > 0 && cand == candidates[i-1] {
			continue
		}
		var hi, lo linearForm
		lo.base = lf.base
		for _, t := range lf.terms {
			if t.coef%cand == 0 {
				hi.terms = append(hi.terms, term{coef: t.coef / cand, atom: t.atom, key: t.key})
			} else {
				lo.terms = append(lo.terms, t)
			}
		}
		if l, h, bOk := a.boundsLF(lo); bOk && l >= 0 && h < cand {
			return hi, lo, cand, true
		}
	}
	return linearForm{}, linearForm{}, 0, false
}

func (a *Analyzer) boundsLF(lf linearForm) (lo, hi int, ok bool) {
	lo, hi = lf.base, lf.base
	for _, t := range lf.terms {
		aMin, aMax, aOk := a.Bounds(t.atom)
		if !aOk {
			return 0, 0, false
		}
		if t.coef >= 0 {
			lo += t.coef * aMin
			hi += t.coef * aMax
		} else {
			lo += t.coef * aMax
			hi += t.coef * aMin
		}
	}
	return lo, hi, true
}

func (a *Analyzer) rebuild(lf linearForm) Expr {
	if len(lf.terms) == 0 {
		return ConstInt(lf.base)
	}
	sorted := make([]term, len(lf.terms))
	copy(sorted, lf.terms)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })
	var acc Expr
	for _, t := range sorted {
		te := t.atom
		if t.coef != 1 {
			te = &binOp{opMul, ConstInt(t.coef), t.atom}
		}
		if acc == nil {
			acc = te
		} else {
			acc = &binOp{opAdd, acc, te}
		}
	}
	if lf.base != 0 {
		acc = &binOp{opAdd, acc, ConstInt(lf.base)}
	}
	return acc
}

func termLF(coef int, atom Expr) linearForm {
	if coef == 0 {
		return linearForm{}
	}
	if c, isConst := AsConst(atom); isConst {
		return linearForm{base: coef * c}
	}
	return linearForm{terms: []term{{coef: coef, atom: atom, key: exprKey(atom)}}}
}

func mergeLF(x, y linearForm) linearForm {
	out := linearForm{base: x.base + y.base}
	byKey := make(map[string]int, len(x.terms)+len(y.terms)) // key -> index in out.terms
	add := func(t term) {
		if idx, seen := byKey[t.key]; seen {
			out.terms[idx].coef += t.coef
			return
		}
		byKey[t.key] = len(out.terms)
		out.terms = append(out.terms, t)
	}
	for _, t := range x.terms {
		add(t)
	}
	for _, t := range y.terms {
		add(t)
	}
	filtered := out.terms[:0]
	for _, t := range out.terms {
		if t.coef != 0 {
			filtered = append(filtered, t)
		}
	}
	out.terms = filtered
	return out
}

func scaleLF(lf linearForm, c int) linearForm {
	if c == 0 {
		return linearForm{}
	}
	out := linearForm{base: lf.base * c, terms: make([]term, len(lf.terms))}
	for i, t := range lf.terms {
		out.terms[i] = term{coef: t.coef * c, atom: t.atom, key: t.key}
	}
	return out
}

// scaleDownLF divides all coefficients by g; g must divide them exactly.
func scaleDownLF(lf linearForm, g int) linearForm {
	out := linearForm{base: lf.base / g, terms: make([]term, len(lf.terms))}
	for i, t := range lf.terms {
		out.terms[i] = term{coef: t.coef / g, atom: t.atom, key: t.key}
	}
	return out
}

// exprKey is a deterministic ordering key: variables are keyed by their
// unique id, so equal-looking atoms over different variables stay distinct.
func exprKey(e Expr) string {
	switch n := e.(type) {
	case constant:
		return fmt.Sprintf("c%d", n.value)
	case *Var:
		return fmt.Sprintf("u%06d", n.id)
	case *binOp:
		return fmt.Sprintf("(%s%d%s)", exprKey(n.x), n.op, exprKey(n.y))
	case *selectOp:
		return fmt.Sprintf("sel(%s,%s,%s)", exprKey(n.cond), exprKey(n.onTrue), exprKey(n.onFalse))
	}
	return fmt.Sprintf("o%p", e)
}

func minInt(x, y int) int {
	if x < y {
		return x
	}
	return y
}

func maxInt(x, y int) int {
	if x > y {
		return x
	}
	return y
}
