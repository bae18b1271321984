package submodel

import (
	"fmt"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
)

const (
	maxCodonKappa = 20
	maxOmega      = 999
)

// M0 is the Goldman-Yang codon model with a single omega.
type M0 struct {
	*reversible
	codons       []string
	kappa, omega float64
}

// NewM0 creates the M0 model for a codon alphabet.
func NewM0(a *alphabet.Alphabet, freqs []float64, kappa, omega float64) (*M0, error) {
	if a.MotifLength != 3 {
		return nil, fmt.Errorf("M0 requires a codon alphabet, got %s", a.Name)
	}
	if freqs == nil {
		freqs = alphabet.Uniform(a.K())
	}
	if err := CheckFreqs(freqs, a.K()); err != nil {
		return nil, err
	}
	r, err := newReversible(freqs)
	if err != nil {
		return nil, err
	}
	m := &M0{
		reversible: r,
		codons:     a.Motifs(),
		kappa:      kappa,
		omega:      omega,
	}
	if err := m.Update(); err != nil {
		return nil, err
	}
	return m, nil
}

// Name returns the model name.
func (m *M0) Name() string {
	return "M0"
}

// Copy creates an independent copy of the model.
func (m *M0) Copy() Model {
	newM := *m
	newM.reversible = m.reversible.copy()
	return &newM
}

// Parameters returns omega and kappa.
func (m *M0) Parameters() []Parameter {
	return []Parameter{
		{Name: "omega", Value: &m.omega, Min: 0, Max: maxOmega},
		{Name: "kappa", Value: &m.kappa, Min: 0, Max: maxCodonKappa},
	}
}

// GetParameters returns kappa and omega.
func (m *M0) GetParameters() (kappa, omega float64) {
	return m.kappa, m.omega
}

// SetParameters sets kappa and omega and updates the matrix.
func (m *M0) SetParameters(kappa, omega float64) error {
	m.kappa = kappa
	m.omega = omega
	return m.Update()
}

// Update recomputes the matrix.
func (m *M0) Update() error {
	if err := checkRange(m.Parameters()); err != nil {
		return err
	}
	for i1, c1 := range m.codons {
		for i2 := i1 + 1; i2 < len(m.codons); i2++ {
			c2 := m.codons[i2]
			dist, transitions := codonDistance(c1, c2)
			if dist > 1 {
				m.r.SetSym(i1, i2, 0)
				continue
			}
			r := 1.0
			if transitions == 1 {
				r *= m.kappa
			}
			if bio.GeneticCode[c1] != bio.GeneticCode[c2] {
				r *= m.omega
			}
			m.r.SetSym(i1, i2, r)
		}
	}
	return m.update()
}

// codonDistance computes distance and number of transitions.
func codonDistance(c1, c2 string) (dist, transitions int) {
	for i := 0; i < len(c1); i++ {
		s1 := c1[i]
		s2 := c2[i]
		if s1 != s2 {
			dist++
			if ((s1 == 'A' || s1 == 'G') && (s2 == 'A' || s2 == 'G')) ||
				((s1 == 'T' || s1 == 'C') && (s2 == 'T' || s2 == 'C')) {
				transitions++
			}
		}
	}
	return
}
