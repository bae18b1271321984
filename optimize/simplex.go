package optimize

import (
	"math"
)

const (
	// TINY is the relative tolerance of the simplex convergence.
	TINY = 1e-10
	// SMALL is the likelihood difference between two converged runs
	// which stops the optimization.
	SMALL = 1e-6
)

// DS is the downhill simplex (Nelder-Mead) optimizer.
type DS struct {
	BaseOptimizer
	delta  float64
	ftol   float64
	repeat bool
	oldL   float64
	points []Optimizable
	psum   []float64
	pars   []FloatParameters
	ls     []float64
	newOpt Optimizable
	newPar FloatParameters
}

// NewDS creates a new downhill simplex optimizer.
func NewDS() *DS {
	return &DS{
		BaseOptimizer: BaseOptimizer{
			name:      "simplex",
			repPeriod: 10,
		},
		delta: 1,
		ftol:  TINY,
	}
}

// SetDelta sets the initial simplex size.
func (ds *DS) SetDelta(delta float64) {
	ds.delta = delta
}

func (ds *DS) pointLikelihood(i int) float64 {
	if !ds.pars[i].InRange() {
		return math.Inf(-1)
	}
	l := ds.likelihood(ds.points[i], ds.pars[i])
	if math.IsNaN(l) {
		return math.Inf(-1)
	}
	return l
}

func (ds *DS) createSimplex(opt Optimizable, delta float64) {
	parameters := opt.GetFloatParameters()
	ds.points = make([]Optimizable, len(parameters)+1)
	ds.pars = make([]FloatParameters, len(ds.points))
	ds.ls = make([]float64, len(ds.points))
	ds.points[0] = opt
	ds.pars[0] = parameters
	for i := 1; i < len(ds.points); i++ {
		point := opt.Copy()
		ds.points[i] = point
		ds.pars[i] = point.GetFloatParameters()
	}
	for i := 0; i < len(parameters); i++ {
		parameter := ds.pars[i+1][i]
		v := parameter.Get() + delta
		if !parameter.ValueInRange(v) {
			v = parameter.Get() - delta
		}
		parameter.Set(v)
	}
	for i := range ds.points {
		ds.ls[i] = ds.pointLikelihood(i)
	}
}

// amotry extrapolates by factor fac through the face of the simplex
// across from the low point, tries it, and replaces the low point if
// the new point is better.
func (ds *DS) amotry(ilo int, fac float64) float64 {
	if ds.newOpt == nil {
		ds.newOpt = ds.points[0].Copy()
		ds.newPar = ds.newOpt.GetFloatParameters()
	}
	ds.calcPsum()
	ndim := len(ds.newPar)
	fac1 := (1 - fac) / float64(ndim)
	fac2 := fac1 - fac
	for j := 0; j < ndim; j++ {
		ds.newPar[j].Set(ds.psum[j]*fac1 - ds.pars[ilo][j].Get()*fac2)
	}
	l := math.Inf(-1)
	if ds.newPar.InRange() {
		l = ds.likelihood(ds.newOpt, ds.newPar)
		if math.IsNaN(l) {
			l = math.Inf(-1)
		}
	}
	if l > ds.ls[ilo] {
		ds.points[ilo], ds.newOpt = ds.newOpt, ds.points[ilo]
		ds.pars[ilo], ds.newPar = ds.newPar, ds.pars[ilo]
		ds.ls[ilo] = l
	}
	return l
}

func (ds *DS) calcPsum() {
	if ds.psum == nil {
		ds.psum = make([]float64, len(ds.pars[0]))
	}
	for i := range ds.psum {
		ds.psum[i] = 0
		for _, parameters := range ds.pars {
			ds.psum[i] += parameters[i].Get()
		}
	}
}

// SetOptimizable sets the model and creates the initial simplex.
func (ds *DS) SetOptimizable(opt Optimizable) {
	ds.BaseOptimizer.SetOptimizable(opt)
	ds.createSimplex(opt, ds.delta)
}

// Run starts the optimization.
func (ds *DS) Run(iterations int) {
	// Lowest (worst), next-lowest and highest points
	var ilo, inlo, ihi int
	var llo, lnlo, lhi float64
	ds.PrintHeader(ds.pars[0])
	if len(ds.pars[0]) == 0 {
		ds.l = ds.ls[0]
		ds.PrintFinal(ds.parameters)
		return
	}
Iter:
	for ds.i = 1; ds.i <= iterations; ds.i++ {
		if ds.ls[0] < ds.ls[1] {
			ilo, inlo, ihi = 0, 1, 1
		} else {
			ilo, inlo, ihi = 1, 0, 0
		}
		llo = ds.ls[ilo]
		lnlo = ds.ls[inlo]
		lhi = ds.ls[ihi]
		for i := 2; i < len(ds.points); i++ {
			if ds.ls[i] >= lhi {
				lhi = ds.ls[i]
				ihi = i
			}
			if ds.ls[i] < llo {
				lnlo = llo
				inlo = ilo
				llo = ds.ls[i]
				ilo = i
			} else if ds.ls[i] < lnlo {
				lnlo = ds.ls[i]
				inlo = i
			}
		}
		ds.l = lhi
		if ds.i%ds.repPeriod == 0 {
			log.Debugf("%d: L=%f (%f)", ds.i, lhi, lhi-llo)
			ds.PrintLine(ds.pars[ihi], lhi)
		}
		rtol := 2 * math.Abs(lhi-llo) / (math.Abs(llo) + math.Abs(lhi) + TINY)
		if rtol < ds.ftol {
			if ds.repeat && math.Abs(ds.oldL-lhi) < SMALL {
				break Iter
			}
			ds.repeat = true
			ds.oldL = lhi
			log.Infof("converged. retrying")
			ds.createSimplex(ds.points[ihi], ds.delta)
			ds.newOpt = nil
			continue
		}
		l := ds.amotry(ilo, -1)
		switch {
		case l >= lhi:
			ds.amotry(ilo, 2)
		case l <= lnlo:
			lsave := llo
			l := ds.amotry(ilo, 0.5)
			if l <= lsave {
				for i := range ds.points {
					if i == ihi {
						continue
					}
					for j := range ds.pars[i] {
						ds.pars[i][j].Set(0.5 * (ds.pars[i][j].Get() + ds.pars[ihi][j].Get()))
					}
					ds.ls[i] = ds.pointLikelihood(i)
				}
			}
		}
		if ds.signalled() {
			break Iter
		}
	}
	if ds.i > iterations {
		log.Warningf("Iterations exceeded (%d)", iterations)
	}

	ds.finish()
	if !ds.Quiet {
		log.Info("Finished downhill simplex")
		ds.PrintResults()
	}
	ds.PrintFinal(ds.parameters)
}
