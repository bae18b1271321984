package alphabet

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/lhtree/bio"
)

func TestBuiltinSizes(t *testing.T) {
	assert.Equal(t, 4, DNA.K())
	assert.Equal(t, 4, RNA.K())
	assert.Equal(t, 20, Protein.K())
	assert.Equal(t, 61, Codon.K())
}

func TestRegistry(t *testing.T) {
	a, err := Get("DNA")
	require.NoError(t, err)
	assert.Same(t, DNA, a)

	_, err = Get("klingon")
	assert.Error(t, err)
	assert.Equal(t, []string{"codon", "dna", "protein", "rna"}, Names())
}

func TestRows(t *testing.T) {
	row := make([]float64, 4)

	c, err := DNA.Encode("A")
	require.NoError(t, err)
	DNA.Row(c, row)
	assert.Equal(t, []float64{0, 0, 1, 0}, row)
	assert.False(t, DNA.IsAmbiguous(c))

	c, err = DNA.Encode("R")
	require.NoError(t, err)
	DNA.Row(c, row)
	assert.Equal(t, []float64{0, 0, 1, 1}, row)
	assert.True(t, DNA.IsAmbiguous(c))

	c, err = DNA.Encode("-")
	require.NoError(t, err)
	assert.Equal(t, DNA.Missing(), c)
	DNA.Row(c, row)
	assert.Equal(t, []float64{1, 1, 1, 1}, row)
}

func TestUnknownSymbol(t *testing.T) {
	_, err := DNA.Encode("J")
	assert.True(t, errors.Is(err, ErrUnknownSymbol))

	// codon alphabet is lenient: stop codons and partial gaps are
	// missing data
	c, err := Codon.Encode("TAA")
	require.NoError(t, err)
	assert.Equal(t, Codon.Missing(), c)
	c, err = Codon.Encode("A-G")
	require.NoError(t, err)
	assert.Equal(t, Codon.Missing(), c)
}

func TestEncode(t *testing.T) {
	seqs, err := Encode(bio.Sequences{
		{Name: "a", Sequence: "ACGTNR"},
		{Name: "b", Sequence: "ACGAAA"},
	}, DNA)
	require.NoError(t, err)
	assert.Equal(t, 6, seqs.Length())
	assert.Equal(t, 2, seqs.NAmbiguous())
	assert.Equal(t, 3, seqs.NFixed())
	assert.Equal(t, "ACGTNR", seqs[0].String())
	assert.Equal(t, []string{"a", "b"}, seqs.Names())

	_, err = Encode(bio.Sequences{{Name: "a", Sequence: "ACGT"}}, Codon)
	assert.Error(t, err)
}

func TestFrequencies(t *testing.T) {
	seqs, err := Encode(bio.Sequences{
		{Name: "a", Sequence: "TTR-"},
		{Name: "b", Sequence: "CC??"},
	}, DNA)
	require.NoError(t, err)
	f := seqs.Frequencies()
	// T C A G; R is A/G
	assert.InDeltaSlice(t, []float64{0.4, 0.4, 0.1, 0.1}, f, 1e-12)

	seqs, err = Encode(bio.Sequences{{Name: "a", Sequence: "--"}}, DNA)
	require.NoError(t, err)
	assert.Equal(t, Uniform(4), seqs.Frequencies())
}

func TestMissingSymbols(t *testing.T) {
	for _, a := range []*Alphabet{DNA, RNA, Protein, Codon} {
		sym := strings.Repeat("-", a.MotifLength)
		c, err := a.Encode(sym)
		require.NoError(t, err)
		assert.Equal(t, a.Missing(), c, a.Name)
		c, err = a.Encode(strings.Repeat("?", a.MotifLength))
		require.NoError(t, err)
		assert.Equal(t, a.Missing(), c, a.Name)
	}
	assert.Equal(t, 4+10+1, DNA.NCodes())

	seqs, err := Encode(bio.Sequences{{Name: "a", Sequence: "TT-?N"}}, DNA)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, seqs.Frequencies())
	assert.Equal(t, seqs[0].Codes[2], seqs[0].Codes[3])
	assert.Equal(t, "TTNNN", seqs[0].String())

	_, err = New("x", 1, []string{"A", "B"}, nil, []string{"-", "-"}, false)
	assert.Error(t, err)
}
