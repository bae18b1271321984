package lik

import (
	"math"

	"bitbucket.org/Davydov/lhtree/alphabet"
)

// SumInputLikelihoods combines children partial likelihoods into the
// parent matrix:
//
//	result[p, m] = prod_c children[c][maps[c][p], m]
//
// The first child is copied, the rest are multiplied in place, so the
// stale content of result is never read. maps[c] has length
// result.Rows and its values must be valid rows of children[c].
func SumInputLikelihoods(maps [][]int, children []*Matrix, result *Matrix) error {
	if len(children) == 0 || len(children) != len(maps) {
		return shapeError("%d children, %d index maps", len(children), len(maps))
	}
	K := result.K
	for c, child := range children {
		if len(maps[c]) != result.Rows {
			return shapeError("child %d: index map length %d, result rows %d", c, len(maps[c]), result.Rows)
		}
		if child.K != K {
			return shapeError("child %d has %d motifs, result has %d", c, child.K, K)
		}
	}
	res := result.Data
	for c, child := range children {
		plhs := child.Data
		if c == 0 {
			for p, cp := range maps[c] {
				copy(res[p*K:(p+1)*K], plhs[cp*K:(cp+1)*K])
			}
			continue
		}
		for p, cp := range maps[c] {
			dst := res[p*K : (p+1)*K]
			src := plhs[cp*K : (cp+1)*K]
			for m := range dst {
				dst[m] *= src[m]
			}
		}
	}
	return nil
}

// ApplyBranch transforms partial likelihoods at the lower end of a
// branch to the upper end:
//
//	out[p, m] = sum_n in[p, n] * P[m, n]
//
// P is a K x K row-major transition probability matrix.
func ApplyBranch(in *Matrix, P []float64, out *Matrix) error {
	K := in.K
	if out.K != K || out.Rows != in.Rows {
		return shapeError("branch input %dx%d, output %dx%d", in.Rows, K, out.Rows, out.K)
	}
	if len(P) != K*K {
		return shapeError("transition matrix has %d elements, expected %d", len(P), K*K)
	}
	src := in.Data
	dst := out.Data
	for p := 0; p < in.Rows; p++ {
		row := src[p*K : (p+1)*K]
		orow := dst[p*K : (p+1)*K]
		for m := 0; m < K; m++ {
			q := P[m*K : (m+1)*K]
			s := 0.0
			for n, v := range row {
				s += q[n] * v
			}
			orow[m] = s
		}
	}
	return nil
}

// TotalLikelihood returns the likelihood of a single pattern given the
// root partial likelihoods and the root motif probabilities.
func TotalLikelihood(row, mprobs []float64) (res float64) {
	for i, p := range mprobs {
		res += row[i] * p
	}
	return
}

// RootTotals computes the likelihood of every pattern:
//
//	totals[p] = sum_m root[p, m] * mprobs[m]
//
// mprobs is expected to sum to one, this is not checked.
func RootTotals(root *Matrix, mprobs []float64, totals []float64) error {
	if len(mprobs) != root.K {
		return shapeError("%d motif probabilities for %d motifs", len(mprobs), root.K)
	}
	if len(totals) != root.Rows {
		return shapeError("totals length %d, root rows %d", len(totals), root.Rows)
	}
	for p := range totals {
		totals[p] = TotalLikelihood(root.Row(p), mprobs)
	}
	return nil
}

// LogSumAcrossSites returns sum_p log(totals[p]) * counts[p]. A zero
// total with a positive count gives -Inf; patterns with zero count
// are skipped. Different lengths of totals and counts is a
// programming error and panics.
func LogSumAcrossSites(totals []float64, counts []int) (res float64) {
	if len(totals) != len(counts) {
		panic(shapeError("%d totals, %d counts", len(totals), len(counts)))
	}
	for p, c := range counts {
		if c == 0 {
			continue
		}
		res += math.Log(totals[p]) * float64(c)
	}
	return
}

// LeafLikelihoods fills partial likelihoods of a leaf: row p is the
// alphabet row of codes[p].
func LeafLikelihoods(a *alphabet.Alphabet, codes []int, dst *Matrix) error {
	if dst.Rows != len(codes) || dst.K != a.K() {
		return shapeError("leaf matrix %dx%d for %d codes and %d motifs", dst.Rows, dst.K, len(codes), a.K())
	}
	for p, code := range codes {
		a.Row(code, dst.Row(p))
	}
	return nil
}
