package phenotype

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoevo/internal/genotype"
	"ecoevo/internal/linalg"
)

func testModels(t *testing.T) map[string]FitnessModel {
	t.Helper()
	hoc, err := NewHoC(2, []float64{0.1, 0.02})
	require.NoError(t, err)
	add, err := NewAdditive(2, []float64{0.05, 0.01, -0.005})
	require.NoError(t, err)
	rmf, err := NewRoughMountFuji(2, []float64{0.05, 0.01, 0.005, 0.02, 0.01})
	require.NoError(t, err)
	nullRMF, err := NewRoughMountFuji(2, []float64{0.1, 0, 0, 0.01, 0})
	require.NoError(t, err)
	nullHoC := HoC{Cb: linalg.Null(3)}
	return map[string]FitnessModel{
		"hoc": hoc, "additive": add, "rmf": rmf, "rmf-null-additive": nullRMF, "hoc-null": nullHoC,
	}
}

func TestLandscapeBinaryRoundTrip(t *testing.T) {
	for name, model := range testModels(t) {
		t.Run(name, func(t *testing.T) {
			m, err := Build(model, 4, rand.NewPCG(7, 8))
			require.NoError(t, err)
			require.True(t, m.Complete())

			b, err := Encode(m)
			require.NoError(t, err)
			back, err := Decode(b)
			require.NoError(t, err)
			assert.True(t, m.Equal(back))
			assert.Equal(t, model.Name(), back.Model().Name())
		})
	}
}

func TestModelBinaryLayout(t *testing.T) {
	for name, model := range testModels(t) {
		t.Run(name, func(t *testing.T) {
			b, err := model.MarshalBinary()
			require.NoError(t, err)
			want, err := EncodedModelLen(model.Tag(), model.Dim())
			require.NoError(t, err)
			require.Len(t, b, want)
			assert.Equal(t, model.Tag(), b[len(b)-1])

			back, err := DecodeModel(model.Dim(), b)
			require.NoError(t, err)
			assert.True(t, EqualModels(model, back))
		})
	}
}

func TestDecodeRejectsCorruptInput(t *testing.T) {
	model, err := NewAdditive(2, []float64{0, 0.1, 0})
	require.NoError(t, err)
	b, err := model.MarshalBinary()
	require.NoError(t, err)

	bad := append([]byte(nil), b...)
	bad[len(bad)-1] = 9
	_, err = DecodeModel(2, bad)
	require.ErrorIs(t, err, ErrUnknownTag)

	_, err = DecodeModel(2, b[1:])
	require.ErrorIs(t, err, ErrLength)

	_, err = DecodeModel(2, nil)
	require.ErrorIs(t, err, ErrLength)

	m, err := Build(model, 3, rand.NewPCG(1, 1))
	require.NoError(t, err)
	enc, err := Encode(m)
	require.NoError(t, err)

	_, err = Decode(enc[:len(enc)-3])
	require.ErrorIs(t, err, ErrLength)

	_, err = Decode(append(enc, 0))
	require.ErrorIs(t, err, ErrLength)

	// the vector tag inside the model section must be "present"
	corrupt := append([]byte(nil), enc...)
	corrupt[len(corrupt)-2] = 0
	_, err = Decode(corrupt)
	require.ErrorIs(t, err, linalg.ErrUnknownTag)

	// oversized S and count must fail before anything is allocated
	huge := append([]byte("ECOL"), make([]byte, 12+64)...)
	binary.LittleEndian.PutUint32(huge[4:], 30)
	binary.LittleEndian.PutUint32(huge[8:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(huge[12:], 1<<28)
	_, err = Decode(huge)
	require.ErrorIs(t, err, ErrLength)

	binary.LittleEndian.PutUint32(huge[8:], 2)
	_, err = Decode(huge)
	require.ErrorIs(t, err, ErrLength)
}

func TestAdditiveMapHasNoEpistasis(t *testing.T) {
	model, err := NewAdditive(3, []float64{0.2, 0.5, 0.1})
	require.NoError(t, err)
	m, err := Build(model, 3, rand.NewPCG(2, 3))
	require.NoError(t, err)

	p := func(seq ...uint8) linalg.Vector {
		v, err := m.Phenotype(genotype.MustFromSequence(seq...))
		require.NoError(t, err)
		return v
	}
	wild, a, b, ab := p(0, 0, 0), p(1, 0, 0), p(0, 1, 0), p(1, 1, 0)
	for k := range wild {
		assert.Equal(t, 0.0, wild[k])
		assert.InDelta(t, a[k]+b[k], ab[k], 1e-12)
	}
}

func TestNullModelsAreDeterministic(t *testing.T) {
	model := RoughMountFuji{Mu: linalg.Vector{0.5, 0.25}, Ca: linalg.Null(2), Cb: linalg.Null(2)}
	m1, err := Build(model, 3, rand.NewPCG(1, 2))
	require.NoError(t, err)
	m2, err := Build(model, 3, rand.NewPCG(99, 100))
	require.NoError(t, err)
	assert.True(t, m1.Equal(m2))

	v, err := m1.Phenotype(genotype.MustFromSequence(1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, linalg.Vector{1, 0.5}, v)

	mult, err := m1.Multiplicative(genotype.MustFromSequence(1, 1, 0))
	require.NoError(t, err)
	assert.InDelta(t, math.E, mult[0], 1e-12)
}

func TestBuildIsReproducible(t *testing.T) {
	model := testModels(t)["rmf"]
	m1, err := Build(model, 5, rand.NewPCG(42, 0))
	require.NoError(t, err)
	m2, err := Build(model, 5, rand.NewPCG(42, 0))
	require.NoError(t, err)
	assert.True(t, m1.Equal(m2))
}

func TestMissingGenotype(t *testing.T) {
	model := HoC{Cb: linalg.Null(1)}
	m, err := NewMap(2, 1, model, []Entry{{Genotype: genotype.MustFromSequence(0, 1), Phenotype: linalg.Vector{1}}})
	require.NoError(t, err)
	assert.False(t, m.Complete())

	_, err = m.Phenotype(genotype.MustFromSequence(1, 1))
	require.ErrorIs(t, err, ErrGenotypeMissing)
	_, err = m.Multiplicative(genotype.MustFromSequence(1, 1, 1))
	require.ErrorIs(t, err, ErrGenotypeMissing)
}

func TestModelNamesAndParams(t *testing.T) {
	hoc, err := NewHoC(2, []float64{0.1, 0})
	require.NoError(t, err)
	assert.Equal(t, "HoC_S2_cd0.10000_co0.00000", hoc.Name())

	rmf, err := ParseModel("RoughMountFuji", 2, []float64{0.123456789, -1, 0, 0.01, 0.005})
	require.NoError(t, err)
	assert.True(t, rmf.(RoughMountFuji).Ca.IsNull())
	assert.Equal(t, "RMF_S2_mu0.12345_cad0.00000_cao0.00000_cbd0.01000_cbo0.00500", rmf.Name())

	_, err = ParseModel("additive", 2, []float64{1})
	require.ErrorIs(t, err, ErrParams)
	_, err = ParseModel("spiky", 2, nil)
	require.ErrorIs(t, err, ErrParams)

	_, err = Build(HoC{Cb: linalg.Uniform(2, 1, 2)}, 3, rand.NewPCG(1, 1))
	require.Error(t, err)
}

func TestFileRoundTrip(t *testing.T) {
	m, err := Build(testModels(t)["hoc"], 3, rand.NewPCG(5, 5))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "landscape.bin")
	require.NoError(t, WriteFile(path, m))
	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.True(t, m.Equal(back))
}
