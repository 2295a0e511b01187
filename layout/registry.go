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
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
)

// FragmentParams parameterizes the register-tile fragment builders: a
// blockM x blockN x blockK tile split into warpM x warpN warp tiles, with
// elements of ElementSize bits. Transposed selects the transposed atom where
// a builder distinguishes the two.
type FragmentParams struct {
	BlockM, BlockN, BlockK int
	WarpM, WarpN           int
	ElementSize            int
	Transposed             bool
}

// SharedParams parameterizes the shared-memory tile builders: a
// Stride x Continuous tile of ElementSize-bit elements, with KFactor telling
// whether K is the outer (1) or inner (2) dimension and IsA distinguishing
// the operands where the permutation differs.
type SharedParams struct {
	Stride, Continuous int
	ElementSize        int
	KFactor            int
	IsA                bool
}

// FragmentConstructor builds a register-tile fragment from its parameters.
type FragmentConstructor func(p FragmentParams) *Fragment

// SharedConstructor builds a shared-memory tile layout from its parameters.
type SharedConstructor func(p SharedParams) *Layout

var (
	registeredFragments = make(map[string]FragmentConstructor)
	registeredShared    = make(map[string]SharedConstructor)
)

// RegisterFragment registers a fragment builder under name, replacing any
// previous registration. To be safe, call it during package initialization.
func RegisterFragment(name string, constructor FragmentConstructor) {
	registeredFragments[name] = constructor
}

// RegisterShared registers a shared-memory layout builder under name.
func RegisterShared(name string, constructor SharedConstructor) {
	registeredShared[name] = constructor
}

// FragmentNames returns the registered fragment builder names, sorted.
func FragmentNames() []string {
	return slices.Sorted(maps.Keys(registeredFragments))
}

// SharedNames returns the registered shared-memory builder names, sorted.
func SharedNames() []string {
	return slices.Sorted(maps.Keys(registeredShared))
}

// BuildFragment builds the named fragment. It panics if name is not
// registered or the parameters violate the builder's granularity checks.
func BuildFragment(name string, p FragmentParams) *Fragment {
	constructor, found := registeredFragments[name]
	if !found {
		exceptions.Panicf("layout.BuildFragment: %q is not registered, available: %v",
			name, FragmentNames())
	}
	return constructor(p)
}

// BuildShared builds the named shared-memory tile layout. It panics if name
// is not registered or the parameters violate the builder's granularity
// checks.
func BuildShared(name string, p SharedParams) *Layout {
	constructor, found := registeredShared[name]
	if !found {
		exceptions.Panicf("layout.BuildShared: %q is not registered, available: %v",
			name, SharedNames())
	}
	return constructor(p)
}

func init() {
	RegisterFragment("gemm.fragment.base", func(p FragmentParams) *Fragment {
		if p.Transposed {
			return MakeGemmFragment8x8Transposed()
		}
		return MakeGemmFragment8x8()
	})
	RegisterFragment("gemm.fragment.32x32", func(p FragmentParams) *Fragment {
		return MakeGemmFragment32x32(p.ElementSize)
	})
	RegisterFragment("gemm.fragment.a", func(p FragmentParams) *Fragment {
		return MakeGemmFragmentA(p.BlockM, p.BlockN, p.BlockK, p.WarpM, p.WarpN)
	})
	RegisterFragment("gemm.fragment.b", func(p FragmentParams) *Fragment {
		return MakeGemmFragmentB(p.BlockM, p.BlockN, p.BlockK, p.WarpM, p.WarpN)
	})
	RegisterFragment("gemm.fragment.c", func(p FragmentParams) *Fragment {
		return MakeGemmFragmentC(p.BlockM, p.BlockN, p.WarpM, p.WarpN, p.ElementSize)
	})
	RegisterFragment("gemm.volta.fragment.a", func(p FragmentParams) *Fragment {
		return MakeGemmVoltaFragmentA(p.BlockM, p.BlockN, p.BlockK, p.WarpM, p.WarpN)
	})
	RegisterFragment("gemm.volta.fragment.c", func(p FragmentParams) *Fragment {
		return MakeGemmVoltaFragmentC(p.BlockM, p.BlockN, p.WarpM, p.WarpN, p.ElementSize)
	})

	RegisterShared("gemm.shared.ab", func(p SharedParams) *Layout {
		return MakeGemmABLayout(p.Stride, p.Continuous, p.ElementSize, p.KFactor)
	})
	RegisterShared("gemm.volta.shared.ab", func(p SharedParams) *Layout {
		return MakeGemmVoltaABLayout(p.Stride, p.Continuous, p.IsA, p.KFactor)
	})
}
