package submodel

import (
	"bitbucket.org/Davydov/lhtree/alphabet"
)

// Nucleotide pairs in TCAG order: TC, TA, TG, CA, CG, AG.
var nucPairs = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// isTransition is true for the TC and AG pairs.
var isTransition = [6]bool{true, false, false, false, false, true}

const (
	maxKappa = 100
	maxRate  = 100
)

// Nucleotide is a reversible nucleotide model. Depending on the
// constructor it has no free parameters (JC69, F81), a
// transition/transversion ratio kappa (K80, HKY85) or five relative
// rates (GTR).
type Nucleotide struct {
	*reversible
	name     string
	hasKappa bool
	gtr      bool
	kappa    float64
	// rates are GTR relative rates a..e for the TC, TA, TG, CA, CG
	// pairs. AG rate is one.
	rates [5]float64
}

func newNucleotide(name string, freqs []float64, hasKappa, gtr bool, kappa float64) (*Nucleotide, error) {
	r, err := newReversible(freqs)
	if err != nil {
		return nil, err
	}
	if r.K() != 4 {
		return nil, ErrInvalidDistribution
	}
	m := &Nucleotide{
		reversible: r,
		name:       name,
		hasKappa:   hasKappa,
		gtr:        gtr,
		kappa:      kappa,
		rates:      [5]float64{1, 1, 1, 1, 1},
	}
	if err := m.Update(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewJC69 creates the Jukes-Cantor model.
func NewJC69() *Nucleotide {
	m, err := newNucleotide("JC69", alphabet.Uniform(4), false, false, 1)
	if err != nil {
		panic(err)
	}
	return m
}

// NewF81 creates the Felsenstein 1981 model.
func NewF81(freqs []float64) (*Nucleotide, error) {
	return newNucleotide("F81", freqs, false, false, 1)
}

// NewK80 creates the Kimura two-parameter model.
func NewK80(kappa float64) *Nucleotide {
	m, err := newNucleotide("K80", alphabet.Uniform(4), true, false, kappa)
	if err != nil {
		panic(err)
	}
	return m
}

// NewHKY85 creates the Hasegawa-Kishino-Yano model.
func NewHKY85(freqs []float64, kappa float64) (*Nucleotide, error) {
	return newNucleotide("HKY85", freqs, true, false, kappa)
}

// NewGTR creates the general time-reversible model with all the
// rates equal to one.
func NewGTR(freqs []float64) (*Nucleotide, error) {
	return newNucleotide("GTR", freqs, false, true, 1)
}

// Name returns the model name.
func (m *Nucleotide) Name() string {
	return m.name
}

// Copy creates an independent copy of the model.
func (m *Nucleotide) Copy() Model {
	newM := *m
	newM.reversible = m.reversible.copy()
	return &newM
}

// Kappa returns the transition/transversion ratio.
func (m *Nucleotide) Kappa() float64 {
	return m.kappa
}

// SetKappa sets kappa and updates the matrix.
func (m *Nucleotide) SetKappa(kappa float64) error {
	m.kappa = kappa
	return m.Update()
}

// SetRates sets the GTR relative rates a..e.
func (m *Nucleotide) SetRates(rates [5]float64) error {
	m.rates = rates
	return m.Update()
}

// Parameters returns the free parameters.
func (m *Nucleotide) Parameters() (pars []Parameter) {
	switch {
	case m.hasKappa:
		pars = append(pars, Parameter{Name: "kappa", Value: &m.kappa, Min: 0, Max: maxKappa})
	case m.gtr:
		for i, name := range []string{"a", "b", "c", "d", "e"} {
			pars = append(pars, Parameter{Name: name, Value: &m.rates[i], Min: 0, Max: maxRate})
		}
	}
	return
}

// Update recomputes the matrix.
func (m *Nucleotide) Update() error {
	if err := checkRange(m.Parameters()); err != nil {
		return err
	}
	for p, pair := range nucPairs {
		r := 1.0
		switch {
		case m.gtr && p < len(m.rates):
			r = m.rates[p]
		case m.hasKappa && isTransition[p]:
			r = m.kappa
		}
		m.r.SetSym(pair[0], pair[1], r)
	}
	return m.update()
}
