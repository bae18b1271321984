// Package likmodel binds a tree, a compressed alignment and a
// substitution model into an optimizable likelihood function.
package likmodel

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/dist"
	"bitbucket.org/Davydov/lhtree/lik"
	"bitbucket.org/Davydov/lhtree/optimize"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/submodel"
	"bitbucket.org/Davydov/lhtree/tree"
)

var log = logging.MustGetLogger("likmodel")

const (
	// Default value for the maximum branch length.
	defaultMaxBrLen = 100
	// Boundaries of the gamma shape parameter.
	minAlpha = 1e-2
	maxAlpha = 100
)

// Model computes the likelihood of an alignment on a tree. Branch
// transition matrices are cached; after a parameter change only the
// affected matrices are recomputed.
type Model struct {
	tree     *tree.Tree
	table    *pattern.Table
	alphabet *alphabet.Alphabet
	sm       submodel.Model
	walker   *lik.Walker

	// rates is nil without rate variation.
	rates    *dist.Rates
	catRates []float64

	pm   []lik.BranchMatrices
	bufs []*lik.Buffers
	// catLnL is the log-likelihood of every pattern for every
	// rate category.
	catLnL     [][]float64
	patternLnL []float64
	tmp        []float64

	parameters optimize.FloatParameters
	optBranch  bool
	optAlpha   bool
	maxBrLen   float64

	// expBr is true if the branch matrix is up to date.
	expBr []bool
	// qdone is true if the substitution model and the rates are
	// up to date.
	qdone bool
}

// New creates a model. ncat is the number of discrete gamma rate
// categories; one disables rate variation.
func New(t *tree.Tree, tab *pattern.Table, a *alphabet.Alphabet, sm submodel.Model, ncat int, alpha float64) (*Model, error) {
	if sm.K() != a.K() {
		return nil, fmt.Errorf("%w: model has %d states, alphabet %s has %d",
			lik.ErrShapeMismatch, sm.K(), a.Name, a.K())
	}
	w, err := lik.NewWalker(t, tab, a)
	if err != nil {
		return nil, err
	}
	m := &Model{
		tree:     t,
		table:    tab,
		alphabet: a,
		sm:       sm,
		walker:   w,
		maxBrLen: defaultMaxBrLen,
	}
	if ncat > 1 {
		if alpha <= 0 {
			return nil, errors.New("gamma shape parameter should be positive")
		}
		m.rates, err = dist.NewRates(alpha, ncat, false)
		if err != nil {
			return nil, err
		}
		m.optAlpha = true
	} else if ncat < 1 {
		return nil, errors.New("number of rate categories should be positive")
	}
	m.allocate()
	m.setupParameters()
	return m, nil
}

// allocate creates per category matrices and buffers.
func (m *Model) allocate() {
	ncat := m.NCat()
	k := m.sm.K()
	m.pm = make([]lik.BranchMatrices, ncat)
	m.bufs = make([]*lik.Buffers, ncat)
	m.catLnL = make([][]float64, ncat)
	for c := range m.pm {
		m.pm[c] = make(lik.BranchMatrices, m.tree.NNodes())
		for _, node := range m.tree.Nodes() {
			if !node.IsRoot() {
				m.pm[c][node.ID] = make([]float64, k*k)
			}
		}
		m.bufs[c] = m.walker.NewBuffers()
		m.catLnL[c] = make([]float64, m.table.NPatterns)
	}
	m.patternLnL = make([]float64, m.table.NPatterns)
	m.tmp = make([]float64, ncat)
	m.catRates = []float64{1}
	m.expBr = make([]bool, m.tree.NNodes())
	m.qdone = false
}

// Copy creates an independent copy of the model. The walker and the
// pattern table are shared.
func (m *Model) Copy() optimize.Optimizable {
	newM := &Model{
		tree:      m.tree.Copy(),
		table:     m.table,
		alphabet:  m.alphabet,
		sm:        m.sm.Copy(),
		walker:    m.walker,
		optBranch: m.optBranch,
		optAlpha:  m.optAlpha,
		maxBrLen:  m.maxBrLen,
	}
	if m.rates != nil {
		newM.rates = m.rates.Copy()
	}
	newM.allocate()
	newM.setupParameters()
	return newM
}

// NCat returns the number of rate categories.
func (m *Model) NCat() int {
	if m.rates == nil {
		return 1
	}
	return m.rates.K
}

// Tree returns the tree with the current branch lengths.
func (m *Model) Tree() *tree.Tree {
	return m.tree
}

// Table returns the pattern table.
func (m *Model) Table() *pattern.Table {
	return m.table
}

// SubstitutionModel returns the substitution model.
func (m *Model) SubstitutionModel() submodel.Model {
	return m.sm
}

// Alpha returns the gamma shape parameter or +Inf without rate
// variation.
func (m *Model) Alpha() float64 {
	if m.rates == nil {
		return math.Inf(+1)
	}
	return m.rates.Alpha
}

// SetWorkers sets the number of goroutines evaluating the tree. It
// affects all the copies of the model.
func (m *Model) SetWorkers(n int) {
	m.walker.SetWorkers(n)
}

// SetScaling enables partial likelihood rescaling. It affects all
// the copies of the model.
func (m *Model) SetScaling(scaling bool) {
	m.walker.SetScaling(scaling)
}

// SetOptimizeBranchLengths enables branch length optimization.
func (m *Model) SetOptimizeBranchLengths() {
	m.optBranch = true
	m.setupParameters()
}

// SetMaxBranchLength changes the maximum branch length for the
// optimization.
func (m *Model) SetMaxBranchLength(maxBrLen float64) {
	m.maxBrLen = maxBrLen
	m.setupParameters()
}

// FixAlpha excludes the gamma shape parameter from the optimization.
func (m *Model) FixAlpha() {
	m.optAlpha = false
	m.setupParameters()
}

// GetFloatParameters returns the optimizable parameters.
func (m *Model) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// setupParameters creates the parameters: substitution model first,
// then the gamma shape, then the branch lengths.
func (m *Model) setupParameters() {
	m.parameters = nil
	for _, p := range m.sm.Parameters() {
		par := optimize.NewBasicFloatParameter(p.Value, p.Name)
		par.SetMin(p.Min)
		par.SetMax(p.Max)
		par.SetOnChange(func() {
			m.qdone = false
		})
		m.parameters.Append(par)
	}
	if m.rates != nil && m.optAlpha {
		par := optimize.NewBasicFloatParameter(&m.rates.Alpha, "alpha")
		par.SetMin(minAlpha)
		par.SetMax(maxAlpha)
		par.SetOnChange(func() {
			m.qdone = false
		})
		m.parameters.Append(par)
	}
	m.addBranchParameters()
}

func (m *Model) addBranchParameters() {
	if m.maxBrLen == 0 {
		m.maxBrLen = defaultMaxBrLen
	}
	if !m.optBranch {
		return
	}
	for _, node := range m.tree.Nodes() {
		// Root branch is not optimized
		if node.IsRoot() {
			continue
		}
		nodeID := node.ID
		par := optimize.NewBasicFloatParameter(&node.BranchLength, "br"+strconv.Itoa(nodeID))
		par.SetOnChange(func() {
			m.expBr[nodeID] = false
		})
		par.SetMin(0)
		par.SetMax(m.maxBrLen)
		m.parameters.Append(par)
	}
}

// update recomputes the substitution model and the branch matrices
// which are out of date.
func (m *Model) update() error {
	if !m.qdone {
		if err := m.sm.Update(); err != nil {
			return err
		}
		if m.rates != nil {
			m.catRates = m.rates.Rates()
		}
		for i := range m.expBr {
			m.expBr[i] = false
		}
		m.qdone = true
	}
	for _, node := range m.tree.Nodes() {
		if node.IsRoot() || m.expBr[node.ID] {
			continue
		}
		for c, rate := range m.catRates {
			m.sm.P(node.BranchLength*rate, m.pm[c][node.ID])
		}
		m.expBr[node.ID] = true
	}
	return nil
}

// Likelihood computes the log-likelihood.
func (m *Model) Likelihood() (lnL float64) {
	if err := m.update(); err != nil {
		log.Debugf("Model update failed: %v", err)
		return math.Inf(-1)
	}
	freqs := m.sm.Freqs()
	for c := range m.pm {
		l, err := m.walker.Evaluate(m.pm[c], freqs, m.bufs[c])
		if err != nil {
			log.Errorf("Likelihood evaluation failed: %v", err)
			return math.Inf(-1)
		}
		copy(m.catLnL[c], m.bufs[c].PatternLnL)
		lnL = l
	}
	if len(m.pm) > 1 {
		lnL = m.mix()
	} else {
		copy(m.patternLnL, m.catLnL[0])
	}
	if math.IsNaN(lnL) {
		return math.Inf(-1)
	}
	return lnL
}

// mix averages the categories for every pattern.
func (m *Model) mix() (lnL float64) {
	logProp := math.Log(m.rates.Proportion())
	for p, count := range m.table.Counts {
		for c := range m.catLnL {
			m.tmp[c] = m.catLnL[c][p] + logProp
		}
		l := floats.LogSumExp(m.tmp)
		m.patternLnL[p] = l
		if count > 0 {
			lnL += l * float64(count)
		}
	}
	return
}

// PatternLogLikelihoods returns the log-likelihood of every pattern
// computed by the last Likelihood call.
func (m *Model) PatternLogLikelihoods() []float64 {
	return append([]float64(nil), m.patternLnL...)
}

// SiteLogLikelihoods returns the log-likelihood of every alignment
// site computed by the last Likelihood call.
func (m *Model) SiteLogLikelihoods() []float64 {
	res := make([]float64, len(m.table.SiteIndex))
	for i, p := range m.table.SiteIndex {
		res[i] = m.patternLnL[p]
	}
	return res
}

// Summary describes the model and the current parameter values.
type Summary struct {
	Model      string             `json:"model"`
	Alphabet   string             `json:"alphabet"`
	NSites     int                `json:"nSites"`
	NPatterns  int                `json:"nPatterns"`
	NCat       int                `json:"nCat"`
	Alpha      float64            `json:"alpha,omitempty"`
	Freqs      []float64          `json:"freqs"`
	Parameters map[string]float64 `json:"parameters"`
	Tree       string             `json:"tree"`
}

// Summary returns the model summary.
func (m *Model) Summary() Summary {
	s := Summary{
		Model:      m.sm.Name(),
		Alphabet:   m.alphabet.Name,
		NSites:     m.table.NSites(),
		NPatterns:  m.table.NPatterns,
		NCat:       m.NCat(),
		Freqs:      m.sm.Freqs(),
		Parameters: m.parameters.ValuesMap(),
		Tree:       m.tree.String(),
	}
	if m.rates != nil {
		s.Alpha = m.rates.Alpha
	}
	return s
}
