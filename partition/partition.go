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

// Package partition distributes parallel loop nests over a fixed number of
// threads.
//
// Partition derives a Fragment that maps the loop iteration space onto
// (per-thread index, thread id); PartitionLoop then rewrites the loop nest
// through the fragment's inverse, so each thread runs only its share as a
// small serial (unrolled) nest.
package partition

import (
	"strconv"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/tilegen/expr"
	"github.com/gomlx/tilegen/ir"
	"github.com/gomlx/tilegen/layout"
)

// parallelChain returns the outermost run of directly nested parallel loops
// starting at loop, and the body of the innermost one.
func parallelChain(loop *ir.For) ([]*ir.For, ir.Stmt) {
	var chain []*ir.For
	var body ir.Stmt = loop
	for {
		f, ok := body.(*ir.For)
		if !ok || f.Kind != ir.ForParallel {
			break
		}
		chain = append(chain, f)
		body = f.Body
	}
	return chain, body
}

// Partition flattens the parallel loops at the head of the nest (row-major)
// and splits the flattened space over numThreads: thread id is the remainder,
// the per-thread index the quotient. The loop bounds must be constant with
// minimum 0, and the flattened size must divide evenly by numThreads.
func Partition(loop *ir.For, numThreads int) *layout.Fragment {
	if numThreads <= 0 {
		exceptions.Panicf("partition.Partition: numThreads %d must be positive", numThreads)
	}
	chain, _ := parallelChain(loop)
	if len(chain) == 0 {
		exceptions.Panicf("partition.Partition: outermost loop is not parallel")
	}
	vars := make([]expr.IterVar, 0, len(chain))
	flattened := expr.Zero
	loopSize := 1
	for _, f := range chain {
		min, ok := expr.AsConst(f.Min)
		if !ok || min != 0 {
			exceptions.Panicf("partition.Partition: loop %s must start at 0, got %s", f.LoopVar, f.Min)
		}
		extent, ok := expr.AsConst(f.Extent)
		if !ok {
			exceptions.Panicf("partition.Partition: loop %s must have a constant extent, got %s",
				f.LoopVar, f.Extent)
		}
		vars = append(vars, expr.IterVar{Var: f.LoopVar, Extent: extent})
		flattened = expr.Add(expr.Mul(flattened, expr.ConstInt(extent)), f.LoopVar)
		loopSize *= extent
	}
	if loopSize%numThreads != 0 {
		exceptions.Panicf("partition.Partition: loop size %d is not divisible by %d threads",
			loopSize, numThreads)
	}
	index := expr.FloorDiv(flattened, expr.ConstInt(numThreads))
	thread := expr.FloorMod(flattened, expr.ConstInt(numThreads))
	return layout.NewFragment(vars, []expr.Expr{index}, thread, expr.IterVar{})
}

// PartitionLoop rewrites the parallel loop nest through fragment's inverse:
// the loop variables are substituted by their recovery expressions in terms
// of (per-thread index..., thread), and the per-thread index dimensions are
// rewrapped as serial loops marked for unrolling. Buffer indices are
// re-simplified under an, which also receives the bindings of the new loop
// variables and of thread.
func PartitionLoop(loop *ir.For, thread *expr.Var, an *expr.Analyzer, fragment *layout.Fragment) ir.Stmt {
	chain, body := parallelChain(loop)
	if len(chain) != fragment.InputDim() {
		exceptions.Panicf("partition.PartitionLoop: %d parallel loops but the fragment has %d iteration variables",
			len(chain), fragment.InputDim())
	}
	inverse := fragment.Inverse()
	shape := inverse.InputShape()
	numIndexDims := len(shape) - 1 // last input is the thread id

	loopVars := make([]*expr.Var, numIndexDims)
	args := make([]expr.Expr, 0, len(shape))
	for k := range loopVars {
		loopVars[k] = expr.NewVar("i" + strconv.Itoa(k))
		args = append(args, loopVars[k])
	}
	args = append(args, thread)

	// recovered[i] is the i-th original loop variable; a trailing entry
	// recovers the replication index, unused here.
	recovered := inverse.Forward(args...)
	vmap := make(map[*expr.Var]expr.Expr, len(chain))
	for i, f := range chain {
		vmap[f.LoopVar] = recovered[i]
	}
	if klog.V(2).Enabled() {
		for i, f := range chain {
			klog.Infof("partition: %s -> %s", f.LoopVar, recovered[i])
		}
	}
	stmt := ir.SubstituteStmt(body, vmap)

	if an == nil {
		an = expr.NewAnalyzer()
	}
	an.Bind(thread, 0, fragment.ThreadExtent())
	for k := numIndexDims - 1; k >= 0; k-- {
		an.Bind(loopVars[k], 0, shape[k])
		stmt = &ir.For{
			LoopVar: loopVars[k],
			Min:     expr.Zero,
			Extent:  expr.ConstInt(shape[k]),
			Kind:    ir.ForSerial,
			Body:    stmt,
		}
	}
	stmt = ir.SimplifyIndices(stmt, an)
	return ir.UnrollSerialLoops(stmt)
}

// PartitionLoopWithThreads partitions the nest over numThreads and rewrites
// it in one step, returning the rewritten nest and the derived fragment.
func PartitionLoopWithThreads(loop *ir.For, thread *expr.Var, an *expr.Analyzer, numThreads int) (ir.Stmt, *layout.Fragment) {
	fragment := Partition(loop, numThreads)
	return PartitionLoop(loop, thread, an, fragment), fragment
}
