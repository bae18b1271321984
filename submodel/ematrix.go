package submodel

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// smallScale is a small value such that if the rate matrix scale
	// is less than it, the transition matrix is replaced by an
	// identity matrix.
	smallScale = 1e-30
	// minFreq replaces zero frequencies in the symmetrization.
	minFreq = 1e-10
)

// EMatrix stores an eigendecomposition of a reversible rate matrix to
// quickly compute P = e^Qt. Q is normalized to one expected
// substitution per unit of time.
//
// Exp uses a temporary matrix, so a single EMatrix must not be used
// by several goroutines. Copy is cheap and shares the decomposition.
type EMatrix struct {
	// Scale is the expected number of substitutions per unit of time
	// before normalization.
	Scale float64
	k     int
	vals  []float64
	left  *mat.Dense
	right *mat.Dense
	tmp   *mat.Dense
}

// NewEMatrix creates a new EMatrix for k states. Until Set is called
// it produces identity matrices.
func NewEMatrix(k int) *EMatrix {
	return &EMatrix{
		k:   k,
		tmp: mat.NewDense(k, k, nil),
	}
}

// Copy creates a copy of EMatrix while saving eigendecomposition.
func (m *EMatrix) Copy() *EMatrix {
	return &EMatrix{
		Scale: m.Scale,
		k:     m.k,
		vals:  m.vals,
		left:  m.left,
		right: m.right,
		tmp:   mat.NewDense(m.k, m.k, nil),
	}
}

// Set decomposes the rate matrix Q[i, j] = R[i, j] * freqs[j], where R
// is a symmetric matrix of exchangeabilities (its diagonal is
// ignored). Q is symmetrized with the square roots of the frequencies
// and decomposed by gonum's EigenSym.
func (m *EMatrix) Set(R mat.Symmetric, freqs []float64) error {
	k := m.k
	if R.SymmetricDim() != k || len(freqs) != k {
		return errors.New("rate matrix dimensions don't match")
	}
	pi := make([]float64, k)
	sq := make([]float64, k)
	for i, f := range freqs {
		pi[i] = math.Max(f, minFreq)
		sq[i] = math.Sqrt(pi[i])
	}

	S := mat.NewSymDense(k, nil)
	scale := 0.0
	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			rowSum += R.At(i, j) * pi[j]
			if j > i {
				S.SetSym(i, j, R.At(i, j)*sq[i]*sq[j])
			}
		}
		S.SetSym(i, i, -rowSum)
		scale += pi[i] * rowSum
	}

	m.Scale = scale
	if scale < smallScale {
		m.vals = nil
		return nil
	}
	S.ScaleSym(1/scale, S)

	var es mat.EigenSym
	if ok := es.Factorize(S, true); !ok {
		return errors.New("eigendecomposition failed")
	}
	vals := es.Values(nil)
	for i, v := range vals {
		// remove round-off, all the eigenvalues are non-positive
		if v > 0 {
			vals[i] = 0
		}
	}
	var u mat.Dense
	es.VectorsTo(&u)

	// e^Qt = diag(1/sq) U e^Dt U' diag(sq)
	left := mat.NewDense(k, k, nil)
	right := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			left.Set(i, j, u.At(i, j)/sq[i])
			right.Set(j, i, u.At(i, j)*sq[i])
		}
	}
	m.vals = vals
	m.left = left
	m.right = right
	return nil
}

// Exp computes P = e^Qt and writes it row by row to dst, which must
// have K*K elements. Slightly negative values are replaced by zeros.
func (m *EMatrix) Exp(t float64, dst []float64) {
	k := m.k
	if m.vals == nil || t <= 0 {
		identity(k, dst)
		return
	}
	// This allows infinitely long branches
	if math.IsInf(t, 1) {
		t = math.MaxFloat64
	}
	for j := 0; j < k; j++ {
		e := math.Exp(m.vals[j] * t)
		for i := 0; i < k; i++ {
			m.tmp.Set(i, j, m.left.At(i, j)*e)
		}
	}
	P := mat.NewDense(k, k, dst)
	P.Mul(m.tmp, m.right)
	for i, v := range dst {
		if v < 0 {
			dst[i] = 0
		}
	}
}

// Eigenvalues returns eigenvalues of the normalized rate matrix or
// nil if the matrix is zero.
func (m *EMatrix) Eigenvalues() []float64 {
	return m.vals
}

// identity writes a k x k identity matrix to dst.
func identity(k int, dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for i := 0; i < k; i++ {
		dst[i*k+i] = 1
	}
}
