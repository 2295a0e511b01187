package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	j := NewIterVar("j", 4)
	an.BindIterVar(i)
	an.BindIterVar(j)

	min, max, ok := an.Bounds(Add(Mul(ConstInt(4), i.Var), j.Var))
	require.True(t, ok)
	assert.Equal(t, 0, min)
	assert.Equal(t, 31, max)

	min, max, ok = an.Bounds(FloorDiv(i.Var, ConstInt(2)))
	require.True(t, ok)
	assert.Equal(t, 0, min)
	assert.Equal(t, 3, max)

	// Unbound dividends still bound a positive constant modulus.
	free := NewVar("free")
	min, max, ok = an.Bounds(FloorMod(free, ConstInt(8)))
	require.True(t, ok)
	assert.Equal(t, 0, min)
	assert.Equal(t, 7, max)

	_, _, ok = an.Bounds(free)
	assert.False(t, ok)
	_, _, ok = an.Bounds(Add(i.Var, free))
	assert.False(t, ok)

	min, max, ok = an.Bounds(Select(Lt(i.Var, ConstInt(4)), j.Var, ConstInt(10)))
	require.True(t, ok)
	assert.Equal(t, 0, min)
	assert.Equal(t, 10, max)

	min, max, ok = an.Bounds(Mul(ConstInt(-2), i.Var))
	require.True(t, ok)
	assert.Equal(t, -14, min)
	assert.Equal(t, 0, max)
}

func TestBindRejectsEmptyDomain(t *testing.T) {
	an := NewAnalyzer()
	require.Panics(t, func() { an.Bind(NewVar("v"), 0, 0) })
}

func TestSimplifyDivModPeeling(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	j := NewIterVar("j", 4)
	an.BindIterVar(i)
	an.BindIterVar(j)
	flat := Add(Mul(ConstInt(4), i.Var), j.Var)

	// (4i + j) // 4 == i and (4i + j) %% 4 == j for j in [0, 4).
	assert.True(t, Equal(i.Var, an.Simplify(FloorDiv(flat, ConstInt(4)))))
	assert.True(t, Equal(j.Var, an.Simplify(FloorMod(flat, ConstInt(4)))))

	// Multiples of the modulus vanish.
	assert.Equal(t, Zero, an.Simplify(FloorMod(Mul(ConstInt(8), i.Var), ConstInt(4))))

	// Values already inside [0, c) pass through.
	assert.True(t, Equal(j.Var, an.Simplify(FloorMod(j.Var, ConstInt(4)))))
	assert.Equal(t, Zero, an.Simplify(FloorDiv(j.Var, ConstInt(4))))
}

func TestSimplifyNestedDivMod(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 32)
	an.BindIterVar(i)

	// (i // 2) // 2 == i // 4.
	got := an.Simplify(FloorDiv(FloorDiv(i.Var, ConstInt(2)), ConstInt(2)))
	assert.True(t, Equal(FloorDiv(i.Var, ConstInt(4)), got), "got %s", got)

	// (i %% 8) %% 4 == i %% 4 since 4 divides 8.
	got = an.Simplify(FloorMod(FloorMod(i.Var, ConstInt(8)), ConstInt(4)))
	assert.True(t, Equal(FloorMod(i.Var, ConstInt(4)), got), "got %s", got)
}

func TestSimplifyGCDDistribution(t *testing.T) {
	an := NewAnalyzer()
	x := NewIterVar("x", 9)
	an.BindIterVar(x)

	// (2x) %% 6 == 2 * (x %% 3).
	got := an.Simplify(FloorMod(Mul(ConstInt(2), x.Var), ConstInt(6)))
	want := Mul(ConstInt(2), FloorMod(x.Var, ConstInt(3)))
	assert.True(t, Equal(want, got), "got %s", got)

	// (2x) // 6 == x // 3.
	got = an.Simplify(FloorDiv(Mul(ConstInt(2), x.Var), ConstInt(6)))
	assert.True(t, Equal(FloorDiv(x.Var, ConstInt(3)), got), "got %s", got)
}

func TestSimplifyFlattenedDigits(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	j := NewIterVar("j", 4)
	an.BindIterVar(i)
	an.BindIterVar(j)
	flat := Add(Mul(ConstInt(4), i.Var), j.Var)

	// 4i + j is a two-digit number in base 4: dividing by 8 touches only the
	// upper digit, the modulus splits it.
	got := an.Simplify(FloorDiv(flat, ConstInt(8)))
	assert.True(t, Equal(FloorDiv(i.Var, ConstInt(2)), got), "got %s", got)

	got = an.Simplify(FloorMod(flat, ConstInt(8)))
	want := Add(Mul(ConstInt(4), FloorMod(i.Var, ConstInt(2))), j.Var)
	assert.True(t, Equal(an.Simplify(want), got), "got %s", got)
}

func TestSimplifyThreeLevelFlattening(t *testing.T) {
	an := NewAnalyzer()
	a := NewIterVar("a", 4)
	b := NewIterVar("b", 4)
	c := NewIterVar("c", 4)
	an.BindIterVar(a)
	an.BindIterVar(b)
	an.BindIterVar(c)
	flat := Add(Add(Mul(ConstInt(16), a.Var), Mul(ConstInt(4), b.Var)), c.Var)

	got := an.Simplify(FloorDiv(flat, ConstInt(8)))
	want := Add(Mul(ConstInt(2), a.Var), FloorDiv(b.Var, ConstInt(2)))
	assert.True(t, Equal(an.Simplify(want), got), "got %s", got)

	got = an.Simplify(FloorMod(flat, ConstInt(8)))
	want = Add(Mul(ConstInt(4), FloorMod(b.Var, ConstInt(2))), c.Var)
	assert.True(t, Equal(an.Simplify(want), got), "got %s", got)
}

func TestSimplifyFoldsConstants(t *testing.T) {
	an := NewAnalyzer()
	e := FloorDiv(Add(ConstInt(7), Mul(ConstInt(3), ConstInt(5))), ConstInt(4))
	assert.Equal(t, ConstInt(5), an.Simplify(e))
}

func TestSimplifyDeterministicOrder(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	j := NewIterVar("j", 8)
	an.BindIterVar(i)
	an.BindIterVar(j)
	left := an.Simplify(Add(i.Var, j.Var))
	right := an.Simplify(Add(j.Var, i.Var))
	assert.Equal(t, left.String(), right.String())
}

func TestSimplifyCancellation(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	an.BindIterVar(i)
	assert.Equal(t, Zero, an.Simplify(Sub(Mul(ConstInt(3), i.Var), Mul(ConstInt(3), i.Var))))
	assert.True(t, Equal(i.Var, an.Simplify(Sub(Mul(ConstInt(4), i.Var), Mul(ConstInt(3), i.Var)))))
}

func TestLinearTerms(t *testing.T) {
	an := NewAnalyzer()
	i := NewIterVar("i", 8)
	j := NewIterVar("j", 8)
	an.BindIterVar(i)
	an.BindIterVar(j)

	e := Add(Add(Mul(ConstInt(3), i.Var), Mul(ConstInt(2), j.Var)), ConstInt(5))
	terms, base := an.LinearTerms(e)
	assert.Equal(t, 5, base)
	require.Len(t, terms, 2)
	assert.ElementsMatch(t, []Term{{Coef: 3, Atom: i.Var}, {Coef: 2, Atom: j.Var}}, terms)
}

// Exhaustive check of the floor rules against integer arithmetic on a
// flattened two-level domain.
func TestSimplifyAgainstArithmetic(t *testing.T) {
	for _, divisor := range []int{2, 3, 4, 6, 8, 16, 32} {
		an := NewAnalyzer()
		i := NewIterVar("i", 8)
		j := NewIterVar("j", 4)
		an.BindIterVar(i)
		an.BindIterVar(j)
		flat := Add(Mul(ConstInt(4), i.Var), j.Var)
		div := an.Simplify(FloorDiv(flat, ConstInt(divisor)))
		mod := an.Simplify(FloorMod(flat, ConstInt(divisor)))
		for iv := 0; iv < 8; iv++ {
			for jv := 0; jv < 4; jv++ {
				env := map[*Var]int{i.Var: iv, j.Var: jv}
				flatValue := 4*iv + jv
				assert.Equalf(t, floorDivInt(flatValue, divisor), evalConst(t, div, env),
					"(4*%d+%d) // %d", iv, jv, divisor)
				assert.Equalf(t, floorModInt(flatValue, divisor), evalConst(t, mod, env),
					"(4*%d+%d) %%%% %d", iv, jv, divisor)
			}
		}
	}
}
