package layout

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFragment(t *testing.T) {
	p := FragmentParams{
		BlockM: 64, BlockN: 64, BlockK: 32,
		WarpM: 32, WarpN: 32,
		ElementSize: 16,
	}
	built := BuildFragment("gemm.fragment.c", p)
	assert.True(t, built.Equal(MakeGemmFragmentC(64, 64, 32, 32, 16)))

	base := BuildFragment("gemm.fragment.base", FragmentParams{})
	assert.True(t, base.Equal(MakeGemmFragment8x8()))
	transposed := BuildFragment("gemm.fragment.base", FragmentParams{Transposed: true})
	assert.True(t, transposed.Equal(MakeGemmFragment8x8Transposed()))
	assert.False(t, transposed.Equal(base))
}

func TestBuildShared(t *testing.T) {
	built := BuildShared("gemm.shared.ab", SharedParams{
		Stride: 8, Continuous: 64, ElementSize: 16, KFactor: 0,
	})
	assert.True(t, built.Equal(MakeGemmABLayout(8, 64, 16, 0)))

	volta := BuildShared("gemm.volta.shared.ab", SharedParams{
		Stride: 32, Continuous: 32, IsA: true, KFactor: 2,
	})
	assert.True(t, volta.Equal(MakeGemmVoltaABLayout(32, 32, true, 2)))
}

func TestBuildUnknownNamePanics(t *testing.T) {
	require.Panics(t, func() { BuildFragment("gemm.fragment.nope", FragmentParams{}) })
	require.Panics(t, func() { BuildShared("gemm.shared.nope", SharedParams{}) })
}

func TestRegisteredNames(t *testing.T) {
	fragments := FragmentNames()
	assert.True(t, slices.IsSorted(fragments))
	assert.Contains(t, fragments, "gemm.fragment.a")
	assert.Contains(t, fragments, "gemm.fragment.b")
	assert.Contains(t, fragments, "gemm.fragment.c")
	assert.Contains(t, fragments, "gemm.volta.fragment.a")

	shared := SharedNames()
	assert.True(t, slices.IsSorted(shared))
	assert.Contains(t, shared, "gemm.shared.ab")
	assert.Contains(t, shared, "gemm.volta.shared.ab")
}

func TestRegisterOverride(t *testing.T) {
	RegisterFragment("test.fragment.tmp", func(p FragmentParams) *Fragment {
		return MakeGemmFragment8x8()
	})
	defer delete(registeredFragments, "test.fragment.tmp")
	assert.Contains(t, FragmentNames(), "test.fragment.tmp")
	assert.True(t, BuildFragment("test.fragment.tmp", FragmentParams{}).Equal(MakeGemmFragment8x8()))
}
