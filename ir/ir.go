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

// Package ir defines the loop-nest and buffer AST the partitioning pass
// rewrites: For statements with a kind (serial, parallel, unrolled,
// vectorized), buffer stores, and buffer loads embedded in expressions.
//
// Nodes are immutable: every rewrite derives a new node from an existing one
// with some fields overridden, and sub-trees are shared freely.
package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tilegen/expr"
)

// MemScope is the memory space a buffer lives in on the target machine.
type MemScope int

const (
	// MemGlobal is device global memory.
	MemGlobal MemScope = iota
	// MemShared is the block-shared scratchpad swizzled layouts target.
	MemShared
	// MemFragment is per-thread register storage holding a tile fragment.
	MemFragment
	// MemLocal is per-thread scratch memory.
	MemLocal
)

var memScopeNames = [...]string{"global", "shared", "fragment", "local"}

func (s MemScope) String() string { return memScopeNames[s] }

// Buffer describes a multi-dimensional array on the target machine.
type Buffer struct {
	Name  string
	DType dtypes.DType
	Shape []int
	Scope MemScope
}

// Size returns the number of elements.
func (b *Buffer) Size() int {
	size := 1
	for _, dim := range b.Shape {
		size *= dim
	}
	return size
}

// Memory returns the byte footprint of the buffer.
func (b *Buffer) Memory() uintptr {
	return b.DType.Memory() * uintptr(b.Size())
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%s: %s%v@%s", b.Name, b.DType, b.Shape, b.Scope)
}

// Stmt is a statement of the loop nest.
type Stmt interface {
	fmt.Stringer
	isStmt()
}

// ForKind tells how a loop's iterations are executed.
type ForKind int

const (
	// ForSerial iterations run in order on one lane.
	ForSerial ForKind = iota
	// ForParallel iterations are data-parallel across lanes; partitioning
	// rewrites these.
	ForParallel
	// ForUnrolled iterations are serial and explicitly unrolled by codegen.
	ForUnrolled
	// ForVectorized iterations map to one vector memory operation.
	ForVectorized
)

var forKindNames = [...]string{"for", "parallel", "unroll", "vectorize"}

func (k ForKind) String() string { return forKindNames[k] }

// UnrollExplicitAnnotation marks a loop for explicit (pragma) unrolling.
const UnrollExplicitAnnotation = "pragma_unroll_explicit"

// For is a loop statement over [Min, Min+Extent).
type For struct {
	LoopVar     *expr.Var
	Min, Extent expr.Expr
	Kind        ForKind
	Body        Stmt
	Annotations map[string]any
}

func (f *For) isStmt() {}

func (f *For) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s in [%s, %s+%s) {\n", f.Kind, f.LoopVar, f.Min, f.Min, f.Extent))
	sb.WriteString(indent(f.Body.String()))
	sb.WriteString("\n}")
	return sb.String()
}

// WithBody derives a copy of the loop with a new body.
func (f *For) WithBody(body Stmt) *For {
	derived := *f
	derived.Body = body
	return &derived
}

// WithKind derives a copy of the loop with a new kind and extra annotations.
func (f *For) WithKind(kind ForKind, annotations map[string]any) *For {
	derived := *f
	derived.Kind = kind
	if len(annotations) > 0 {
		merged := make(map[string]any, len(f.Annotations)+len(annotations))
		for k, v := range f.Annotations {
			merged[k] = v
		}
		for k, v := range annotations {
			merged[k] = v
		}
		derived.Annotations = merged
	}
	return &derived
}

// BufferStore writes Value to Buffer at Indices.
type BufferStore struct {
	Buffer  *Buffer
	Value   expr.Expr
	Indices []expr.Expr
}

func (s *BufferStore) isStmt() {}

func (s *BufferStore) String() string {
	return fmt.Sprintf("%s%s = %s", s.Buffer.Name, indicesString(s.Indices), s.Value)
}

// With derives a copy of the store with new value and indices.
func (s *BufferStore) With(value expr.Expr, indices []expr.Expr) *BufferStore {
	return &BufferStore{Buffer: s.Buffer, Value: value, Indices: indices}
}

// Block is a statement sequence.
type Block struct {
	Stmts []Stmt
}

func (b *Block) isStmt() {}

func (b *Block) String() string {
	parts := make([]string, len(b.Stmts))
	for i, s := range b.Stmts {
		parts[i] = s.String()
	}
	return strings.Join(parts, "\n")
}

// Evaluate evaluates an expression for its effect (e.g. an intrinsic call).
type Evaluate struct {
	Value expr.Expr
}

func (e *Evaluate) isStmt() {}

func (e *Evaluate) String() string { return e.Value.String() }

// BufferLoad reads Buffer at Indices. It is an expression atom
// (expr.Opaque), so loads can appear anywhere inside stored values and
// predicates.
type BufferLoad struct {
	Buffer  *Buffer
	Indices []expr.Expr
}

func (l *BufferLoad) IsExpr() {}

func (l *BufferLoad) String() string {
	return l.Buffer.Name + indicesString(l.Indices)
}

// Operands implements expr.Opaque.
func (l *BufferLoad) Operands() []expr.Expr { return l.Indices }

// WithOperands implements expr.Opaque.
func (l *BufferLoad) WithOperands(operands []expr.Expr) expr.Expr {
	return &BufferLoad{Buffer: l.Buffer, Indices: operands}
}

// EqualAtom implements expr.Opaque: two loads match when they read the same
// buffer.
func (l *BufferLoad) EqualAtom(other expr.Opaque) bool {
	o, ok := other.(*BufferLoad)
	return ok && o.Buffer == l.Buffer
}

var _ expr.Opaque = (*BufferLoad)(nil)

func indicesString(indices []expr.Expr) string {
	parts := make([]string, len(indices))
	for i, e := range indices {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
