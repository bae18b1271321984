// Package dist implements discretized distributions of rates across
// sites.
package dist

// Discretization follows PAML. Quantiles and the incomplete gamma
// function come from gonum.

import (
	"errors"

	"github.com/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// QuantileGamma returns quantile for gamma distribution with shape
// alpha and rate beta.
func QuantileGamma(prob, alpha, beta float64) float64 {
	return distuv.Gamma{Alpha: alpha, Beta: beta}.Quantile(prob)
}

// IncompleteGamma returns the incomplete gamma ratio I(x,alpha) where x
// is the upper limit of the integration and alpha is the shape
// parameter.
func IncompleteGamma(x, alpha float64) float64 {
	return mathext.GammaInc(alpha, x)
}

// DiscreteGamma returns discrete gamma distribution G(alpha, beta)
// with K equal proportion categories. Category rates are either the
// means of the categories or the medians rescaled to keep the mean
// alpha/beta. tmp and res are optional buffers of length K.
func DiscreteGamma(alpha, beta float64, K int, UseMedian bool, tmp, res []float64) []float64 {
	t := 0.0
	mean := alpha / beta

	if res == nil {
		res = make([]float64, K)
	}
	if tmp == nil {
		tmp = make([]float64, K)
	}
	if K == 1 {
		res[0] = mean
		return res
	}

	if UseMedian {
		for i := 0; i < K; i++ {
			res[i] = QuantileGamma((float64(i)*2.+1)/(2.*float64(K)), alpha, beta)
		}
		for i := 0; i < K; i++ {
			t += res[i]
		}
		for i := 0; i < K; i++ {
			res[i] *= mean * float64(K) / t
		}
	} else {
		// cutting points
		for i := 0; i < K-1; i++ {
			tmp[i] = QuantileGamma((float64(i)+1.0)/float64(K), alpha, beta)
		}
		for i := 0; i < K-1; i++ {
			tmp[i] = IncompleteGamma(tmp[i]*beta, alpha+1)
		}
		res[0] = tmp[0] * mean * float64(K)
		for i := 1; i < K-1; i++ {
			res[i] = (tmp[i] - tmp[i-1]) * mean * float64(K)
		}
		res[K-1] = (1 - tmp[K-2]) * mean * float64(K)
	}

	return res
}

// Rates is a discretized rate distribution with equal proportions.
type Rates struct {
	// Alpha is the gamma shape parameter, the rate is equal to
	// alpha, so the mean rate is one.
	Alpha     float64
	K         int
	UseMedian bool
	tmp       []float64
	rates     []float64
}

// NewRates creates a gamma rate distribution with K categories and
// mean one.
func NewRates(alpha float64, K int, useMedian bool) (*Rates, error) {
	if K < 1 {
		return nil, errors.New("number of rate categories should be positive")
	}
	r := &Rates{
		Alpha:     alpha,
		K:         K,
		UseMedian: useMedian,
		tmp:       make([]float64, K),
		rates:     make([]float64, K),
	}
	return r, nil
}

// Rates returns rates of all the categories. The result is reused by
// the next call.
func (r *Rates) Rates() []float64 {
	return DiscreteGamma(r.Alpha, r.Alpha, r.K, r.UseMedian, r.tmp, r.rates)
}

// Proportion returns the weight of every category.
func (r *Rates) Proportion() float64 {
	return 1 / float64(r.K)
}

// Copy creates a copy with independent buffers.
func (r *Rates) Copy() *Rates {
	newR, _ := NewRates(r.Alpha, r.K, r.UseMedian)
	return newR
}
