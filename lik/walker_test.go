package lik

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/tree"
)

var binary *alphabet.Alphabet

func init() {
	var err error
	binary, err = alphabet.New("binary", 1, []string{"0", "1"}, nil, []string{"?"}, false)
	if err != nil {
		panic(err)
	}
}

func identityP(k int) []float64 {
	P := make([]float64, k*k)
	for i := 0; i < k; i++ {
		P[i*k+i] = 1
	}
	return P
}

// jcP is Jukes-Cantor transition matrix for k states.
func jcP(k int, t float64) []float64 {
	fk := float64(k)
	e := math.Exp(-fk / (fk - 1) * t)
	P := make([]float64, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				P[i*k+j] = 1/fk + (fk-1)/fk*e
			} else {
				P[i*k+j] = 1/fk - e/fk
			}
		}
	}
	return P
}

// branches creates transition matrices for all non-root nodes.
func branches(t *tree.Tree, f func(*tree.Node) []float64) BranchMatrices {
	pm := make(BranchMatrices, t.NNodes())
	for node := range t.Walker(nil) {
		if !node.IsRoot() {
			pm[node.ID] = f(node)
		}
	}
	return pm
}

func jcBranches(t *tree.Tree, k int, scale float64) BranchMatrices {
	return branches(t, func(node *tree.Node) []float64 {
		return jcP(k, node.BranchLength*scale)
	})
}

func newWalker(t *testing.T, newick string, seqs bio.Sequences, a *alphabet.Alphabet, mode pattern.Mode) (*tree.Tree, *Walker) {
	tr, err := tree.ParseNewick(bytes.NewBufferString(newick))
	require.NoError(t, err)
	ali, err := alphabet.Encode(seqs, a)
	require.NoError(t, err)
	tab, err := pattern.Compress(tr, ali, mode)
	require.NoError(t, err)
	w, err := NewWalker(tr, tab, a)
	require.NoError(t, err)
	return tr, w
}

func randomSeq(rng *rand.Rand, n int, symbols string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(symbols[rng.Intn(len(symbols))])
	}
	return b.String()
}

// randomTree generates a random binary tree with named leaves and
// branch lengths.
func randomTree(rng *rand.Rand, names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("%s:%.3f", names[0], 0.01+rng.Float64()*0.3)
	}
	split := 1 + rng.Intn(len(names)-1)
	return fmt.Sprintf("(%s,%s):%.3f",
		randomTree(rng, names[:split]), randomTree(rng, names[split:]),
		0.01+rng.Float64()*0.3)
}

func randomData(rng *rand.Rand, nLeaves, nSites int) (string, bio.Sequences) {
	names := make([]string, nLeaves)
	seqs := make(bio.Sequences, nLeaves)
	for i := range names {
		names[i] = fmt.Sprintf("s%d", i)
		seqs[i] = bio.Sequence{Name: names[i], Sequence: randomSeq(rng, nSites, "TCAGTCAGTCAGRN-")}
	}
	newick := randomTree(rng, names)
	// drop the root branch length
	newick = newick[:strings.LastIndex(newick, ":")] + ";"
	return newick, seqs
}

func TestTwoLeavesIncompatible(t *testing.T) {
	seqs := bio.Sequences{
		{Name: "a", Sequence: "0000000000"},
		{Name: "b", Sequence: "1111111111"},
	}
	tr, w := newWalker(t, "(a,b);", seqs, binary, pattern.PerSubtree)
	assert.Equal(t, 1, w.Table().NPatterns)
	assert.Equal(t, []int{10}, w.Table().Counts)

	buf := w.NewBuffers()
	pm := branches(tr, func(*tree.Node) []float64 { return identityP(2) })
	l, err := w.Evaluate(pm, []float64{0.5, 0.5}, buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, buf.Totals)
	assert.True(t, math.IsInf(l, -1))
}

func TestTwoLeavesIdentical(t *testing.T) {
	seqs := bio.Sequences{
		{Name: "a", Sequence: "0000000000"},
		{Name: "b", Sequence: "0000000000"},
	}
	tr, w := newWalker(t, "(a,b);", seqs, binary, pattern.PerSubtree)
	buf := w.NewBuffers()
	pm := branches(tr, func(*tree.Node) []float64 { return identityP(2) })
	l, err := w.Evaluate(pm, []float64{0.5, 0.5}, buf)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log(0.5), l, 1e-12)
	assert.InDeltaSlice(t, []float64{math.Log(0.5)}, buf.PatternLnL, 1e-12)
}

func TestSingleLeafTree(t *testing.T) {
	seqs := bio.Sequences{{Name: "a", Sequence: "ACGTTA-RA"}}
	tr, w := newWalker(t, "a;", seqs, alphabet.DNA, pattern.PerSubtree)
	mprobs := []float64{0.1, 0.2, 0.3, 0.4}
	l, err := w.Evaluate(make(BranchMatrices, tr.NNodes()), mprobs, w.NewBuffers())
	require.NoError(t, err)

	// T=0 C=1 A=2 G=3
	want := 0.0
	row := make([]float64, 4)
	for _, s := range seqs[0].Sequence {
		code, err := alphabet.DNA.Encode(string(s))
		require.NoError(t, err)
		alphabet.DNA.Row(code, row)
		want += math.Log(TotalLikelihood(row, mprobs))
	}
	assert.InDelta(t, want, l, 1e-12)
}

// bruteForce computes likelihood of ((a,b),c) by summing over the
// internal node states.
func bruteForce(t *testing.T, tr *tree.Tree, seqs bio.Sequences, pm BranchMatrices, mprobs []float64) float64 {
	const k = 4
	leaf := map[string]*tree.Node{}
	for node := range tr.Terminals() {
		leaf[node.Name] = node
	}
	ab := leaf["a"].Parent
	seq := map[string]string{}
	for _, s := range seqs {
		seq[s.Name] = s.Sequence
	}

	// sum_x P[from, x] * leafRow[x]
	up := func(name string, site, from int) float64 {
		code, err := alphabet.DNA.Encode(seq[name][site : site+1])
		require.NoError(t, err)
		row := make([]float64, k)
		alphabet.DNA.Row(code, row)
		P := pm[leaf[name].ID]
		s := 0.0
		for x := 0; x < k; x++ {
			s += P[from*k+x] * row[x]
		}
		return s
	}

	res := 0.0
	for site := 0; site < len(seqs[0].Sequence); site++ {
		lik := 0.0
		for r := 0; r < k; r++ {
			for s := 0; s < k; s++ {
				lik += mprobs[r] * pm[ab.ID][r*k+s] *
					up("a", site, s) * up("b", site, s) * up("c", site, r)
			}
		}
		res += math.Log(lik)
	}
	return res
}

func TestBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	seqs := bio.Sequences{
		{Name: "a", Sequence: randomSeq(rng, 60, "TCAGTCAGRY-")},
		{Name: "b", Sequence: randomSeq(rng, 60, "TCAGTCAGN")},
		{Name: "c", Sequence: randomSeq(rng, 60, "TCAGTCAGK?")},
	}
	newick := "((a:0.1,b:0.2):0.3,c:0.4);"
	mprobs := []float64{0.1, 0.2, 0.3, 0.4}

	var results []float64
	for _, mode := range []pattern.Mode{pattern.PerSubtree, pattern.Global} {
		tr, w := newWalker(t, newick, seqs, alphabet.DNA, mode)
		pm := jcBranches(tr, 4, 1)
		l, err := w.Evaluate(pm, mprobs, w.NewBuffers())
		require.NoError(t, err)
		assert.InDelta(t, bruteForce(t, tr, seqs, pm, mprobs), l, 1e-9, mode.String())
		results = append(results, l)
	}
	assert.InDelta(t, results[0], results[1], 1e-10)
}

func TestTwoTaxaJC(t *testing.T) {
	seqs := bio.Sequences{
		{Name: "a", Sequence: "TTCAG"},
		{Name: "b", Sequence: "TCCAA"},
	}
	tr, w := newWalker(t, "(a:0.1,b:0.25);", seqs, alphabet.DNA, pattern.PerSubtree)
	l, err := w.Evaluate(jcBranches(tr, 4, 1), []float64{0.25, 0.25, 0.25, 0.25}, w.NewBuffers())
	require.NoError(t, err)

	// JC is reversible: L = 1/4 * P(t1+t2)[x, y]
	P := jcP(4, 0.35)
	same, diff := P[0], P[1]
	want := 3*math.Log(0.25*same) + 2*math.Log(0.25*diff)
	assert.InDelta(t, want, l, 1e-12)
}

func TestSiteLikelihoods(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	newick, seqs := randomData(rng, 7, 80)
	tr, w := newWalker(t, newick, seqs, alphabet.DNA, pattern.PerSubtree)
	buf := w.NewBuffers()
	l, err := w.Evaluate(jcBranches(tr, 4, 1), alphabet.Uniform(4), buf)
	require.NoError(t, err)

	s := 0.0
	for _, site := range w.Table().SiteIndex {
		s += buf.PatternLnL[site]
	}
	assert.InDelta(t, l, s, 1e-9)
}

func TestBufferReuse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	newick, seqs := randomData(rng, 12, 100)
	tr, w := newWalker(t, newick, seqs, alphabet.DNA, pattern.PerSubtree)
	mprobs := []float64{0.2, 0.3, 0.1, 0.4}

	buf := w.NewBuffers()
	_, err := w.Evaluate(jcBranches(tr, 4, 3), mprobs, buf)
	require.NoError(t, err)
	reused, err := w.Evaluate(jcBranches(tr, 4, 0.5), mprobs, buf)
	require.NoError(t, err)

	fresh := w.NewBuffers()
	l, err := w.Evaluate(jcBranches(tr, 4, 0.5), mprobs, fresh)
	require.NoError(t, err)
	assert.Equal(t, l, reused)
	assert.Equal(t, fresh.Totals, buf.Totals)
}

func TestScaling(t *testing.T) {
	const nLeaves, nSites = 600, 20
	rng := rand.New(rand.NewSource(11))
	newick := "s0"
	seqs := bio.Sequences{{Name: "s0", Sequence: randomSeq(rng, nSites, "TCAG")}}
	for i := 1; i < nLeaves; i++ {
		name := fmt.Sprintf("s%d", i)
		newick = "(" + newick + "," + name + ")"
		seqs = append(seqs, bio.Sequence{Name: name, Sequence: randomSeq(rng, nSites, "TCAG")})
	}
	newick += ";"

	tr, w := newWalker(t, newick, seqs, alphabet.DNA, pattern.PerSubtree)
	flat := make([]float64, 16)
	for i := range flat {
		flat[i] = 0.25
	}
	pm := branches(tr, func(*tree.Node) []float64 { return flat })
	mprobs := alphabet.Uniform(4)

	l, err := w.Evaluate(pm, mprobs, w.NewBuffers())
	require.NoError(t, err)
	assert.True(t, math.IsInf(l, -1), "expected underflow, got %v", l)

	w.SetScaling(true)
	l, err = w.Evaluate(pm, mprobs, w.NewBuffers())
	require.NoError(t, err)
	assert.InEpsilon(t, nSites*nLeaves*math.Log(0.25), l, 1e-9)
}

func TestScalingDoesNotChangeResult(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	newick, seqs := randomData(rng, 20, 150)
	tr, w := newWalker(t, newick, seqs, alphabet.DNA, pattern.PerSubtree)
	pm := jcBranches(tr, 4, 1)
	mprobs := alphabet.Uniform(4)

	l1, err := w.Evaluate(pm, mprobs, w.NewBuffers())
	require.NoError(t, err)
	w.SetScaling(true)
	buf := w.NewBuffers()
	l2, err := w.Evaluate(pm, mprobs, buf)
	require.NoError(t, err)
	assert.InDelta(t, l1, l2, 1e-9)
	assert.InDelta(t, l1, LogSumAcrossSites(expSlice(buf.PatternLnL), w.Table().Counts), 1e-9)
}

func expSlice(x []float64) []float64 {
	res := make([]float64, len(x))
	for i, v := range x {
		res[i] = math.Exp(v)
	}
	return res
}

func TestParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	newick, seqs := randomData(rng, 40, 200)
	for _, mode := range []pattern.Mode{pattern.PerSubtree, pattern.Global} {
		tr, w := newWalker(t, newick, seqs, alphabet.DNA, mode)
		pm := jcBranches(tr, 4, 1)
		mprobs := []float64{0.3, 0.2, 0.3, 0.2}
		seq, err := w.Evaluate(pm, mprobs, w.NewBuffers())
		require.NoError(t, err)

		for _, workers := range []int{2, 4, 16} {
			w.SetWorkers(workers)
			buf := w.NewBuffers()
			for i := 0; i < 3; i++ {
				par, err := w.Evaluate(pm, mprobs, buf)
				require.NoError(t, err)
				assert.InDelta(t, seq, par, 1e-9, "%s, %d workers", mode, workers)
			}
		}
		w.SetWorkers(1)
	}
}

func TestConcurrentEvaluations(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	newick, seqs := randomData(rng, 15, 120)
	tr, w := newWalker(t, newick, seqs, alphabet.DNA, pattern.PerSubtree)
	mprobs := alphabet.Uniform(4)

	const n = 8
	want := make([]float64, n)
	pms := make([]BranchMatrices, n)
	for i := range pms {
		pms[i] = jcBranches(tr, 4, 0.2*float64(i+1))
		var err error
		want[i], err = w.Evaluate(pms[i], mprobs, w.NewBuffers())
		require.NoError(t, err)
	}

	w.SetWorkers(2)
	got := make([]float64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := w.NewBuffers()
			for j := 0; j < 5; j++ {
				got[i], errs[i] = w.Evaluate(pms[i], mprobs, buf)
			}
		}(i)
	}
	wg.Wait()
	for i := range got {
		require.NoError(t, errs[i])
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}

func TestEvaluateShape(t *testing.T) {
	seqs := bio.Sequences{
		{Name: "a", Sequence: "TTCAG"},
		{Name: "b", Sequence: "TCCAA"},
	}
	tr, w := newWalker(t, "(a:0.1,b:0.25);", seqs, alphabet.DNA, pattern.PerSubtree)
	pm := jcBranches(tr, 4, 1)
	mprobs := alphabet.Uniform(4)
	buf := w.NewBuffers()

	_, err := w.Evaluate(pm[:2], mprobs, buf)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = w.Evaluate(pm, mprobs[:3], buf)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	bad := jcBranches(tr, 4, 1)
	bad[1] = bad[1][:9]
	_, err = w.Evaluate(bad, mprobs, buf)
	assert.True(t, errors.Is(err, ErrShapeMismatch))

	_, err = w.Evaluate(pm, mprobs, nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func BenchmarkEvaluate(b *testing.B) {
	rng := rand.New(rand.NewSource(23))
	newick, seqs := randomData(rng, 50, 1000)
	tr, err := tree.ParseNewick(bytes.NewBufferString(newick))
	require.NoError(b, err)
	ali, err := alphabet.Encode(seqs, alphabet.DNA)
	require.NoError(b, err)
	tab, err := pattern.Compress(tr, ali, pattern.PerSubtree)
	require.NoError(b, err)
	w, err := NewWalker(tr, tab, alphabet.DNA)
	require.NoError(b, err)
	pm := jcBranches(tr, 4, 1)
	buf := w.NewBuffers()
	mprobs := alphabet.Uniform(4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Evaluate(pm, mprobs, buf)
	}
}
