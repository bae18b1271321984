// Package lik implements the pruning algorithm: partial likelihood
// propagation over a tree on compressed alignment patterns.
//
// Kernels work on contiguous row-major matrices and write into
// caller supplied buffers, so a likelihood evaluation in an
// optimization loop doesn't allocate.
package lik

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned if matrix, map or buffer dimensions
// are inconsistent. It indicates a bug in the caller.
var ErrShapeMismatch = errors.New("shape mismatch")

// shapeError wraps ErrShapeMismatch with a description.
func shapeError(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, a...))
}

// Matrix is a partial likelihood matrix: Rows patterns times K
// motifs stored row by row.
type Matrix struct {
	Rows int
	K    int
	Data []float64
}

// NewMatrix creates a zero matrix.
func NewMatrix(rows, k int) *Matrix {
	return &Matrix{
		Rows: rows,
		K:    k,
		Data: make([]float64, rows*k),
	}
}

// NewMatrixFrom creates a matrix from a slice of rows.
func NewMatrixFrom(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		return &Matrix{}
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for p, row := range rows {
		if len(row) != m.K {
			panic("rows have different length")
		}
		copy(m.Row(p), row)
	}
	return m
}

// Row returns row p. The slice shares memory with the matrix.
func (m *Matrix) Row(p int) []float64 {
	return m.Data[p*m.K : (p+1)*m.K]
}

// At returns element (p, k).
func (m *Matrix) At(p, k int) float64 {
	return m.Data[p*m.K+k]
}

// Set sets element (p, k).
func (m *Matrix) Set(p, k int, v float64) {
	m.Data[p*m.K+k] = v
}

// Fill sets all the elements to v.
func (m *Matrix) Fill(v float64) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Rows2D returns a copy of the matrix as a slice of rows.
func (m *Matrix) Rows2D() [][]float64 {
	res := make([][]float64, m.Rows)
	for p := range res {
		res[p] = append([]float64(nil), m.Row(p)...)
	}
	return res
}

// checkShape verifies that the data has the declared size.
func (m *Matrix) checkShape() error {
	if m.Rows < 0 || m.K <= 0 || len(m.Data) != m.Rows*m.K {
		return shapeError("matrix %dx%d with %d elements", m.Rows, m.K, len(m.Data))
	}
	return nil
}
