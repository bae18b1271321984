package likmodel

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
	"bitbucket.org/Davydov/lhtree/dist"
	"bitbucket.org/Davydov/lhtree/lik"
	"bitbucket.org/Davydov/lhtree/optimize"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/submodel"
	"bitbucket.org/Davydov/lhtree/tree"
)

const newick = "((a:0.1,b:0.2):0.3,(c:0.15,d:0.25):0.05);"

var seqs = bio.Sequences{
	{Name: "a", Sequence: "ACGTACGTAAGGCTTANACG"},
	{Name: "b", Sequence: "ACGTACGAAAGGCTTAAACG"},
	{Name: "c", Sequence: "ACCTACGTTAGGCT-AAACG"},
	{Name: "d", Sequence: "ACCTATGTTAGGCTRAAACC"},
}

func data(t *testing.T, nwk string) (*tree.Tree, *pattern.Table) {
	tr, err := tree.ParseNewick(strings.NewReader(nwk))
	require.NoError(t, err)
	enc, err := alphabet.Encode(seqs, alphabet.DNA)
	require.NoError(t, err)
	tab, err := pattern.Compress(tr, enc, pattern.PerSubtree)
	require.NoError(t, err)
	return tr, tab
}

func hky(t *testing.T) submodel.Model {
	m, err := submodel.NewHKY85([]float64{0.2, 0.3, 0.3, 0.2}, 2.5)
	require.NoError(t, err)
	return m
}

func newModel(t *testing.T, nwk string, ncat int) *Model {
	tr, tab := data(t, nwk)
	m, err := New(tr, tab, alphabet.DNA, hky(t), ncat, 0.5)
	require.NoError(t, err)
	return m
}

// direct evaluates the tree with lik.Walker, scaling the branches by
// rate.
func direct(t *testing.T, nwk string, sm submodel.Model, rate float64) (float64, []float64) {
	tr, tab := data(t, nwk)
	w, err := lik.NewWalker(tr, tab, alphabet.DNA)
	require.NoError(t, err)
	pm := make(lik.BranchMatrices, tr.NNodes())
	for _, node := range tr.Nodes() {
		if !node.IsRoot() {
			pm[node.ID] = make([]float64, 16)
			sm.P(node.BranchLength*rate, pm[node.ID])
		}
	}
	buf := w.NewBuffers()
	l, err := w.Evaluate(pm, sm.Freqs(), buf)
	require.NoError(t, err)
	return l, append([]float64(nil), buf.PatternLnL...)
}

func TestSingleCategory(t *testing.T) {
	m := newModel(t, newick, 1)
	want, _ := direct(t, newick, hky(t), 1)
	l := m.Likelihood()
	assert.InDelta(t, want, l, 1e-10)
	assert.Less(t, l, 0.0)
	assert.Equal(t, 1, m.NCat())
	assert.True(t, math.IsInf(m.Alpha(), 1))
}

func TestGammaMixture(t *testing.T) {
	m := newModel(t, newick, 4)
	rates, err := dist.NewRates(0.5, 4, false)
	require.NoError(t, err)

	catLnL := make([][]float64, 4)
	for c, r := range rates.Rates() {
		_, catLnL[c] = direct(t, newick, hky(t), r)
	}
	want := 0.0
	for p, count := range m.Table().Counts {
		s := 0.0
		for c := range catLnL {
			s += math.Exp(catLnL[c][p]) / 4
		}
		want += math.Log(s) * float64(count)
	}
	assert.InDelta(t, want, m.Likelihood(), 1e-9)

	single := newModel(t, newick, 1)
	assert.NotEqual(t, single.Likelihood(), m.Likelihood())
}

func TestSiteLikelihoods(t *testing.T) {
	m := newModel(t, newick, 4)
	l := m.Likelihood()
	sites := m.SiteLogLikelihoods()
	require.Len(t, sites, len(seqs[0].Sequence))
	s := 0.0
	for _, v := range sites {
		s += v
	}
	assert.InDelta(t, l, s, 1e-9)
	// sites 1 and 5 are the same column
	assert.Equal(t, sites[0], sites[4])
	assert.Len(t, m.PatternLogLikelihoods(), m.Table().NPatterns)
}

func TestParameters(t *testing.T) {
	m := newModel(t, newick, 4)
	par := m.GetFloatParameters()
	names := par.Names(nil)
	assert.Equal(t, []string{"kappa", "alpha"}, names)

	m.SetOptimizeBranchLengths()
	par = m.GetFloatParameters()
	names = par.Names(nil)
	// six branches plus two model parameters
	require.Len(t, names, 8)
	for _, name := range names[2:] {
		assert.True(t, strings.HasPrefix(name, "br"), name)
	}

	m.FixAlpha()
	assert.Len(t, m.GetFloatParameters(), 7)

	m.SetMaxBranchLength(5)
	for _, par := range m.GetFloatParameters()[1:] {
		assert.Equal(t, 5.0, par.GetMax())
	}
}

func TestBranchChange(t *testing.T) {
	m := newModel(t, newick, 1)
	m.SetOptimizeBranchLengths()
	m.Likelihood()

	pars := m.GetFloatParameters()
	for _, par := range pars[1:] {
		par.Set(par.Get() * 2)
	}
	doubled := strings.NewReplacer("0.1,", "0.2,", "0.2)", "0.4)", "0.3,", "0.6,",
		"0.15,", "0.3,", "0.25)", "0.5)", "0.05)", "0.1)").Replace(newick)
	want, _ := direct(t, doubled, hky(t), 1)
	assert.InDelta(t, want, m.Likelihood(), 1e-10)
}

func TestModelParameterChange(t *testing.T) {
	m := newModel(t, newick, 1)
	before := m.Likelihood()
	m.GetFloatParameters()[0].Set(5)

	sm, err := submodel.NewHKY85([]float64{0.2, 0.3, 0.3, 0.2}, 5)
	require.NoError(t, err)
	want, _ := direct(t, newick, sm, 1)
	l := m.Likelihood()
	assert.InDelta(t, want, l, 1e-10)
	assert.NotEqual(t, before, l)

	// invalid value
	m.GetFloatParameters()[0].Set(-1)
	assert.True(t, math.IsInf(m.Likelihood(), -1))
}

func TestCopy(t *testing.T) {
	m := newModel(t, newick, 4)
	m.SetOptimizeBranchLengths()
	l := m.Likelihood()

	c := m.Copy().(*Model)
	assert.InDelta(t, l, c.Likelihood(), 1e-12)
	mPar, cPar := m.GetFloatParameters(), c.GetFloatParameters()
	assert.Equal(t, mPar.Values(nil), cPar.Values(nil))

	c.GetFloatParameters()[0].Set(4)
	c.GetFloatParameters()[1].Set(2)
	c.GetFloatParameters()[2].Set(1)
	assert.NotEqual(t, l, c.Likelihood())
	assert.Equal(t, l, m.Likelihood())
	assert.Equal(t, 2.5, m.GetFloatParameters()[0].Get())
}

func TestParallel(t *testing.T) {
	m := newModel(t, newick, 4)
	l := m.Likelihood()
	m.SetWorkers(4)
	m.SetScaling(true)
	m.GetFloatParameters()[1].Set(0.7)
	m.GetFloatParameters()[1].Set(0.5)
	assert.InDelta(t, l, m.Likelihood(), 1e-10)
}

func TestErrors(t *testing.T) {
	tr, tab := data(t, newick)
	m0, err := submodel.NewM0(alphabet.Codon, nil, 2, 0.5)
	require.NoError(t, err)
	_, err = New(tr, tab, alphabet.DNA, m0, 1, 0)
	assert.ErrorIs(t, err, lik.ErrShapeMismatch)

	_, err = New(tr, tab, alphabet.DNA, hky(t), 4, 0)
	assert.Error(t, err)
	_, err = New(tr, tab, alphabet.DNA, hky(t), 0, 1)
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	m := newModel(t, newick, 4)
	m.Likelihood()
	s := m.Summary()
	assert.Equal(t, "HKY85", s.Model)
	assert.Equal(t, "dna", s.Alphabet)
	assert.Equal(t, 20, s.NSites)
	assert.Equal(t, 4, s.NCat)
	assert.Equal(t, 0.5, s.Alpha)
	assert.Equal(t, 2.5, s.Parameters["kappa"])
	assert.True(t, strings.HasSuffix(s.Tree, ";"))
}

func TestOptimize(t *testing.T) {
	m := newModel(t, newick, 1)
	m.SetOptimizeBranchLengths()
	start := m.Likelihood()

	o := optimize.NewDS()
	o.SetTrajectoryOutput(&bytes.Buffer{})
	o.SetOptimizable(m)
	o.Run(200)

	assert.Greater(t, o.GetMaxL(), start)
	assert.InDelta(t, o.GetMaxL(), m.Likelihood(), 1e-9)
	par := m.GetFloatParameters()
	assert.True(t, par.InRange())
}
