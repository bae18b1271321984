package submodel

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
)

var freqs = []float64{0.1, 0.2, 0.3, 0.4}

func models(t *testing.T) []Model {
	f81, err := NewF81(freqs)
	require.NoError(t, err)
	hky, err := NewHKY85(freqs, 3)
	require.NoError(t, err)
	gtr, err := NewGTR(freqs)
	require.NoError(t, err)
	require.NoError(t, gtr.SetRates([5]float64{0.5, 1.5, 0.7, 2, 0.9}))
	m0, err := NewM0(alphabet.Codon, nil, 2.5, 0.3)
	require.NoError(t, err)
	return []Model{NewJC69(), f81, NewK80(2), hky, gtr, m0}
}

func pMatrix(m Model, br float64) []float64 {
	P := make([]float64, m.K()*m.K())
	m.P(br, P)
	return P
}

func TestRowsSumToOne(t *testing.T) {
	for _, m := range models(t) {
		k := m.K()
		for _, br := range []float64{0, 1e-6, 0.1, 1, 10} {
			P := pMatrix(m, br)
			for i := 0; i < k; i++ {
				s := 0.0
				for j := 0; j < k; j++ {
					require.GreaterOrEqual(t, P[i*k+j], 0.0)
					s += P[i*k+j]
				}
				assert.InDelta(t, 1, s, 1e-9, "%s, t=%v", m.Name(), br)
			}
		}
	}
}

func TestZeroBranch(t *testing.T) {
	for _, m := range models(t) {
		k := m.K()
		P := pMatrix(m, 0)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.Equal(t, want, P[i*k+j])
			}
		}
	}
}

func TestStationaryReversible(t *testing.T) {
	for _, m := range models(t) {
		k := m.K()
		pi := m.Freqs()
		P := pMatrix(m, 0.7)
		for j := 0; j < k; j++ {
			s := 0.0
			for i := 0; i < k; i++ {
				s += pi[i] * P[i*k+j]
				assert.InDelta(t, pi[i]*P[i*k+j], pi[j]*P[j*k+i], 1e-10, m.Name())
			}
			assert.InDelta(t, pi[j], s, 1e-9, m.Name())
		}
	}
}

func TestChapmanKolmogorov(t *testing.T) {
	for _, m := range models(t) {
		k := m.K()
		P1 := mat.NewDense(k, k, pMatrix(m, 0.2))
		P2 := mat.NewDense(k, k, pMatrix(m, 0.5))
		P12 := mat.NewDense(k, k, pMatrix(m, 0.7))
		var prod mat.Dense
		prod.Mul(P1, P2)
		assert.True(t, mat.EqualApprox(&prod, P12, 1e-9), m.Name())
	}
}

func TestExpectedSubstitutions(t *testing.T) {
	// with normalized Q, for small t the probability of a change is ~t
	for _, m := range models(t) {
		k := m.K()
		P := pMatrix(m, 1e-5)
		change := 0.0
		for i := 0; i < k; i++ {
			change += m.Freqs()[i] * (1 - P[i*k+i])
		}
		assert.InEpsilon(t, 1e-5, change, 1e-3, m.Name())
	}
}

func TestJC69(t *testing.T) {
	m := NewJC69()
	for _, br := range []float64{0.01, 0.3, 2} {
		P := pMatrix(m, br)
		e := math.Exp(-4 * br / 3)
		assert.InDelta(t, 0.25+0.75*e, P[0], 1e-12)
		assert.InDelta(t, 0.25-0.25*e, P[1], 1e-12)
	}
	assert.Empty(t, m.Parameters())
}

func TestK80(t *testing.T) {
	kappa := 3.0
	m := NewK80(kappa)
	br := 0.4
	P := pMatrix(m, br)
	e1 := math.Exp(-4 * br / (kappa + 2))
	e2 := math.Exp(-2 * br * (kappa + 1) / (kappa + 2))
	// T=0 C=1 A=2 G=3
	assert.InDelta(t, 0.25+0.25*e1+0.5*e2, P[0*4+0], 1e-12)
	assert.InDelta(t, 0.25+0.25*e1-0.5*e2, P[0*4+1], 1e-12)
	assert.InDelta(t, 0.25-0.25*e1, P[0*4+2], 1e-12)
	assert.InDelta(t, 0.25+0.25*e1-0.5*e2, P[2*4+3], 1e-12)
}

func TestHKYReducesToF81(t *testing.T) {
	hky, err := NewHKY85(freqs, 1)
	require.NoError(t, err)
	f81, err := NewF81(freqs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, pMatrix(f81, 0.3), pMatrix(hky, 0.3), 1e-12)
}

func TestParameters(t *testing.T) {
	hky, err := NewHKY85(freqs, 2)
	require.NoError(t, err)
	pars := hky.Parameters()
	require.Len(t, pars, 1)
	assert.Equal(t, "kappa", pars[0].Name)

	before := pMatrix(hky, 0.5)
	*pars[0].Value = 5
	require.NoError(t, hky.Update())
	assert.Equal(t, 5.0, hky.Kappa())
	assert.NotEqual(t, before, pMatrix(hky, 0.5))

	*pars[0].Value = -1
	assert.Error(t, hky.Update())

	gtr, err := NewGTR(freqs)
	require.NoError(t, err)
	assert.Len(t, gtr.Parameters(), 5)
}

func TestCopy(t *testing.T) {
	m, err := NewM0(alphabet.Codon, nil, 2, 0.5)
	require.NoError(t, err)
	before := pMatrix(m, 0.5)

	c := m.Copy().(*M0)
	require.NoError(t, c.SetParameters(2, 2))
	assert.Equal(t, before, pMatrix(m, 0.5))
	assert.NotEqual(t, before, pMatrix(c, 0.5))

	kappa, omega := m.GetParameters()
	assert.Equal(t, 2.0, kappa)
	assert.Equal(t, 0.5, omega)
}

func TestM0Synonymous(t *testing.T) {
	m, err := NewM0(alphabet.Codon, nil, 1, 0)
	require.NoError(t, err)
	k := m.K()
	P := pMatrix(m, 0.1)
	codons := alphabet.Codon.Motifs()
	for i, c1 := range codons {
		for j, c2 := range codons {
			if bio.GeneticCode[c1] != bio.GeneticCode[c2] {
				require.InDelta(t, 0, P[i*k+j], 1e-10, "%s->%s", c1, c2)
			}
		}
	}
}

func TestCheckFreqs(t *testing.T) {
	assert.NoError(t, CheckFreqs(freqs, 4))
	// rounding within the tolerance is accepted
	assert.NoError(t, CheckFreqs([]float64{0.25, 0.25, 0.25, 0.25 + 1e-8}, 4))
	for _, f := range [][]float64{
		{0.25, 0.25, 0.25, 0.25 + 1e-4},
		{0.5, 0.5},
		{0.5, 0.5, 0.5, -0.5},
		{0.1, 0.1, 0.1, 0.1},
		{math.NaN(), 0.5, 0.25, 0.25},
	} {
		err := CheckFreqs(f, 4)
		assert.True(t, errors.Is(err, ErrInvalidDistribution), "%v", f)
	}
	_, err := NewF81([]float64{0.5, 0.5, 0.5, 0.5})
	assert.True(t, errors.Is(err, ErrInvalidDistribution))
}

func TestZeroFrequency(t *testing.T) {
	m, err := NewF81([]float64{0, 0.5, 0.25, 0.25})
	require.NoError(t, err)
	P := pMatrix(m, 0.5)
	for i := 0; i < 4; i++ {
		s := 0.0
		for j := 0; j < 4; j++ {
			s += P[i*4+j]
		}
		assert.InDelta(t, 1, s, 1e-8)
	}
}

func TestNew(t *testing.T) {
	m, err := New("HKY85", alphabet.DNA, freqs)
	require.NoError(t, err)
	assert.Equal(t, "HKY85", m.Name())

	m, err = New("m0", alphabet.Codon, nil)
	require.NoError(t, err)
	assert.Equal(t, 61, m.K())

	_, err = New("gtr", alphabet.Codon, nil)
	assert.Error(t, err)
	_, err = New("m0", alphabet.DNA, nil)
	assert.Error(t, err)
	_, err = New("LG", alphabet.Protein, nil)
	assert.Error(t, err)
	assert.Contains(t, Names(), "jc69")
}

func TestFrequencies(t *testing.T) {
	seqs, err := alphabet.Encode(bio.Sequences{
		{Name: "a", Sequence: "ATGAAACCC"},
		{Name: "b", Sequence: "ATGAAGCC-"},
	}, alphabet.Codon)
	require.NoError(t, err)

	f, err := Frequencies("F3X4", seqs)
	require.NoError(t, err)
	require.NoError(t, CheckFreqs(f, 61))
	atg := 0
	for i, c := range alphabet.Codon.Motifs() {
		if c == "ATG" {
			atg = i
		}
	}
	assert.Greater(t, f[atg], 0.0)

	f, err = Frequencies("empirical", seqs)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/5, f[atg], 1e-12)

	_, err = Frequencies("F1X4", seqs)
	assert.Error(t, err)

	dna, err := alphabet.Encode(bio.Sequences{{Name: "a", Sequence: "ACGT"}}, alphabet.DNA)
	require.NoError(t, err)
	_, err = F3X4(dna)
	assert.Error(t, err)
}

func TestReadFrequencies(t *testing.T) {
	f, err := ReadFrequencies(strings.NewReader("0.1 0.2\n0.3 0.4\n"), alphabet.DNA)
	require.NoError(t, err)
	assert.Equal(t, freqs, f)

	_, err = ReadFrequencies(strings.NewReader("0.1 0.2 0.3"), alphabet.DNA)
	assert.True(t, errors.Is(err, ErrInvalidDistribution))

	_, err = ReadFrequencies(strings.NewReader("0.1 x"), alphabet.DNA)
	assert.Error(t, err)

	all := strings.Repeat("0.015625 ", 64)
	f, err = ReadFrequencies(strings.NewReader(all), alphabet.Codon)
	assert.True(t, errors.Is(err, ErrInvalidDistribution), "stop codons are removed, the rest doesn't sum to one")

	sense := strings.Repeat("0.01639344262295082 ", 61)
	f, err = ReadFrequencies(strings.NewReader(sense), alphabet.Codon)
	require.NoError(t, err)
	assert.Len(t, f, 61)
}
