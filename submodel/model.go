// Package submodel implements reversible substitution models which
// produce branch transition probability matrices.
package submodel

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/lhtree/alphabet"
)

var log = logging.MustGetLogger("submodel")

// ErrInvalidDistribution is returned for frequencies which are not a
// probability distribution.
var ErrInvalidDistribution = errors.New("invalid distribution")

// freqTolerance is the allowed deviation of the frequencies sum
// from one.
const freqTolerance = 1e-6

// Parameter is a free model parameter.
type Parameter struct {
	Name  string
	Value *float64
	Min   float64
	Max   float64
}

// Model is a substitution model.
type Model interface {
	// Name returns the model name.
	Name() string
	// K returns number of states.
	K() int
	// Freqs returns the equilibrium frequencies. These are used
	// as root motif probabilities.
	Freqs() []float64
	// Parameters returns the free parameters. After changing any
	// of them Update should be called.
	Parameters() []Parameter
	// Update recomputes the rate matrix decomposition.
	Update() error
	// P writes K x K transition probability matrix for the branch
	// length t to dst.
	P(t float64, dst []float64)
	// Copy creates an independent copy of the model.
	Copy() Model
}

// CheckFreqs returns ErrInvalidDistribution unless freqs is a
// probability distribution over k states.
func CheckFreqs(freqs []float64, k int) error {
	switch {
	case len(freqs) != k:
		return fmt.Errorf("%w: %d frequencies for %d states", ErrInvalidDistribution, len(freqs), k)
	case floats.HasNaN(freqs):
		return fmt.Errorf("%w: NaN frequency", ErrInvalidDistribution)
	case floats.Min(freqs) < 0:
		return fmt.Errorf("%w: negative frequency", ErrInvalidDistribution)
	case !scalar.EqualWithinAbs(floats.Sum(freqs), 1, freqTolerance):
		return fmt.Errorf("%w: frequencies sum to %v", ErrInvalidDistribution, floats.Sum(freqs))
	}
	return nil
}

// reversible is a common part of reversible models. The
// implementations fill exchangeabilities and call update.
type reversible struct {
	freqs []float64
	r     *mat.SymDense
	e     *EMatrix
}

func newReversible(freqs []float64) (*reversible, error) {
	k := len(freqs)
	if err := CheckFreqs(freqs, k); err != nil {
		return nil, err
	}
	return &reversible{
		freqs: append([]float64(nil), freqs...),
		r:     mat.NewSymDense(k, nil),
		e:     NewEMatrix(k),
	}, nil
}

func (m *reversible) copy() *reversible {
	return &reversible{
		freqs: m.freqs,
		r:     mat.NewSymDense(len(m.freqs), nil),
		e:     m.e.Copy(),
	}
}

// K returns number of states.
func (m *reversible) K() int {
	return len(m.freqs)
}

// Freqs returns the equilibrium frequencies.
func (m *reversible) Freqs() []float64 {
	return m.freqs
}

// update decomposes the exchangeability matrix.
func (m *reversible) update() error {
	return m.e.Set(m.r, m.freqs)
}

// P computes the transition matrix.
func (m *reversible) P(t float64, dst []float64) {
	m.e.Exp(t, dst)
}

// checkRange verifies that all the parameters are within bounds.
func checkRange(pars []Parameter) error {
	for _, par := range pars {
		v := *par.Value
		if math.IsNaN(v) || v < par.Min || v > par.Max {
			return fmt.Errorf("parameter %s=%v is out of range [%v, %v]", par.Name, v, par.Min, par.Max)
		}
	}
	return nil
}

// constructors maps model names to constructors.
var constructors = map[string]func(a *alphabet.Alphabet, freqs []float64) (Model, error){
	"jc69": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		if err := needNucleotides(a); err != nil {
			return nil, err
		}
		return NewJC69(), nil
	},
	"f81": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		if err := needNucleotides(a); err != nil {
			return nil, err
		}
		return NewF81(freqs)
	},
	"k80": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		if err := needNucleotides(a); err != nil {
			return nil, err
		}
		return NewK80(2), nil
	},
	"hky85": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		if err := needNucleotides(a); err != nil {
			return nil, err
		}
		return NewHKY85(freqs, 2)
	},
	"gtr": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		if err := needNucleotides(a); err != nil {
			return nil, err
		}
		return NewGTR(freqs)
	},
	"m0": func(a *alphabet.Alphabet, freqs []float64) (Model, error) {
		return NewM0(a, freqs, 2, 0.5)
	},
}

func needNucleotides(a *alphabet.Alphabet) error {
	if a.K() != 4 || a.MotifLength != 1 {
		return fmt.Errorf("nucleotide model requires a nucleotide alphabet, got %s", a.Name)
	}
	return nil
}

// New creates a model by name. Frequencies are ignored by the models
// with equal frequencies.
func New(name string, a *alphabet.Alphabet, freqs []float64) (Model, error) {
	c, ok := constructors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	m, err := c(a, freqs)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s model", m.Name())
	return m, nil
}

// Names returns names of all the models.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
