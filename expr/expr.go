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

// Package expr implements the symbolic integer expressions used by the layout
// algebra: immutable trees of constants, variables, additions, multiplications
// and floor divisions/modulos, plus predicates and a ternary select.
//
// Expressions are values: once built they are never mutated, so they can be
// freely shared across layouts and goroutines. All rewriting (substitution,
// simplification) derives new trees.
//
// Simplification and bound inference are not free functions: they live on
// Analyzer, which carries the iteration-domain bindings of one top-level
// operation. Each public layout operation creates its own Analyzer, so
// bindings never leak between unrelated layouts.
//
// Variables carry a process-unique id; the display name is cosmetic and two
// distinct variables may share a name without shadowing each other.
package expr

import (
	"fmt"
	"sync/atomic"
)

// Expr is an immutable symbolic integer expression.
type Expr interface {
	fmt.Stringer
	IsExpr()
}

// Opaque is an expression atom defined outside this package, e.g. a buffer
// load embedded in a stored value. The simplifier treats an Opaque as an
// atomic term with unknown bounds, but still rewrites its operands.
type Opaque interface {
	Expr

	// Operands returns the sub-expressions of the atom, in a fixed order.
	Operands() []Expr

	// WithOperands returns a copy of the atom with its operands replaced.
	// len(operands) must match len(Operands()).
	WithOperands(operands []Expr) Expr

	// EqualAtom reports whether the atom itself (ignoring operands) matches
	// other, e.g. two loads of the same buffer.
	EqualAtom(other Opaque) bool
}

// Var is a symbolic variable. Identity is the pointer (backed by a
// process-unique id), never the name.
type Var struct {
	name string
	id   uint64
}

var nextVarID atomic.Uint64

// NewVar returns a fresh variable. The name is only used for printing.
func NewVar(name string) *Var {
	return &Var{name: name, id: nextVarID.Add(1)}
}

// Name returns the display name of the variable.
func (v *Var) Name() string { return v.name }

func (v *Var) String() string { return v.name }
func (v *Var) IsExpr()        {}

type constant struct{ value int }

func (c constant) String() string { return fmt.Sprintf("%d", c.value) }
func (c constant) IsExpr()        {}

// ConstInt returns a constant expression.
func ConstInt(value int) Expr { return constant{value} }

// Zero and One are shared convenience constants.
var (
	Zero = ConstInt(0)
	One  = ConstInt(1)
)

type binOp struct {
	op   opCode
	x, y Expr
}

type opCode int

const (
	opAdd opCode = iota
	opMul
	opFloorDiv
	opFloorMod
	opLt
	opGe
	opEq
	opAnd
)

var opSymbols = [...]string{"+", "*", "//", "%%", "<", ">=", "==", "&&"}

func (b *binOp) String() string {
	return fmt.Sprintf("(%s %s %s)", b.x, opSymbols[b.op], b.y)
}
func (b *binOp) IsExpr() {}

type selectOp struct {
	cond, onTrue, onFalse Expr
}

func (s *selectOp) String() string {
	return fmt.Sprintf("select(%s, %s, %s)", s.cond, s.onTrue, s.onFalse)
}
func (s *selectOp) IsExpr() {}

// Add returns x+y, folding constants.
func Add(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cy, ok := AsConst(y); ok {
			return ConstInt(cx + cy)
		}
		if cx == 0 {
			return y
		}
	}
	if cy, ok := AsConst(y); ok && cy == 0 {
		return x
	}
	return &binOp{opAdd, x, y}
}

// Sub returns x-y.
func Sub(x, y Expr) Expr { return Add(x, Mul(ConstInt(-1), y)) }

// Mul returns x*y, folding constants.
func Mul(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cy, ok := AsConst(y); ok {
			return ConstInt(cx * cy)
		}
		switch cx {
		case 0:
			return Zero
		case 1:
			return y
		}
	}
	if cy, ok := AsConst(y); ok {
		switch cy {
		case 0:
			return Zero
		case 1:
			return x
		}
	}
	return &binOp{opMul, x, y}
}

// FloorDiv returns x//y rounded towards negative infinity.
func FloorDiv(x, y Expr) Expr {
	if cy, ok := AsConst(y); ok {
		if cy == 1 {
			return x
		}
		if cx, ok := AsConst(x); ok && cy != 0 {
			return ConstInt(floorDivInt(cx, cy))
		}
	}
	return &binOp{opFloorDiv, x, y}
}

// FloorMod returns x%%y with the sign of y (non-negative for positive y).
func FloorMod(x, y Expr) Expr {
	if cy, ok := AsConst(y); ok {
		if cy == 1 {
			return Zero
		}
		if cx, ok := AsConst(x); ok && cy != 0 {
			return ConstInt(floorModInt(cx, cy))
		}
	}
	return &binOp{opFloorMod, x, y}
}

// Lt returns the predicate x < y (1 when true, 0 when false).
func Lt(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cy, ok := AsConst(y); ok {
			return boolConst(cx < cy)
		}
	}
	return &binOp{opLt, x, y}
}

// Ge returns the predicate x >= y.
func Ge(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cy, ok := AsConst(y); ok {
			return boolConst(cx >= cy)
		}
	}
	return &binOp{opGe, x, y}
}

// Eq returns the predicate x == y.
func Eq(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cy, ok := AsConst(y); ok {
			return boolConst(cx == cy)
		}
	}
	return &binOp{opEq, x, y}
}

// And returns the conjunction of two predicates.
func And(x, y Expr) Expr {
	if cx, ok := AsConst(x); ok {
		if cx == 0 {
			return Zero
		}
		return y
	}
	if cy, ok := AsConst(y); ok {
		if cy == 0 {
			return Zero
		}
		return x
	}
	return &binOp{opAnd, x, y}
}

// Select returns the ternary cond ? onTrue : onFalse.
func Select(cond, onTrue, onFalse Expr) Expr {
	if c, ok := AsConst(cond); ok {
		if c != 0 {
			return onTrue
		}
		return onFalse
	}
	return &selectOp{cond, onTrue, onFalse}
}

func boolConst(b bool) Expr {
	if b {
		return One
	}
	return Zero
}

// AsConst extracts a compile-time integer constant.
func AsConst(e Expr) (int, bool) {
	if c, ok := e.(constant); ok {
		return c.value, true
	}
	return 0, false
}

// AsVar extracts a variable.
func AsVar(e Expr) (*Var, bool) {
	v, ok := e.(*Var)
	return v, ok
}

// AsFloorDiv matches x//c with a constant divisor.
func AsFloorDiv(e Expr) (x Expr, c int, ok bool) {
	if b, isBin := e.(*binOp); isBin && b.op == opFloorDiv {
		if d, isConst := AsConst(b.y); isConst {
			return b.x, d, true
		}
	}
	return nil, 0, false
}

// AsFloorMod matches x%%c with a constant divisor.
func AsFloorMod(e Expr) (x Expr, c int, ok bool) {
	if b, isBin := e.(*binOp); isBin && b.op == opFloorMod {
		if d, isConst := AsConst(b.y); isConst {
			return b.x, d, true
		}
	}
	return nil, 0, false
}

func floorDivInt(x, y int) int {
	q := x / y
	if (x%y != 0) && ((x < 0) != (y < 0)) {
		q--
	}
	return q
}

func floorModInt(x, y int) int {
	r := x % y
	if r != 0 && ((r < 0) != (y < 0)) {
		r += y
	}
	return r
}
