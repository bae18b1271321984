package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is the bounded limited-memory BFGS optimizer. The gradient
// is computed numerically.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
}

// NewLBFGSB creates a new L-BFGS-B optimizer.
func NewLBFGSB() *LBFGSB {
	return &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			name:      "lbfgsb",
			repPeriod: 10,
		},
		dH: 1e-6,
	}
}

// Logger is called by the optimizer after every iteration.
func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.parameters.SetValues(info.X)
	l.l = -info.F
	if l.i%l.repPeriod == 0 {
		l.PrintLine(l.parameters, l.l)
	}
	l.checkSignal()
}

// checkSignal terminates the program on a watched signal, after
// saving the final checkpoint.
func (l *LBFGSB) checkSignal() {
	if l.signalled() {
		l.finish()
		l.PrintFinal(l.parameters)
		log.Fatal("Optimization interrupted")
	}
}

// EvaluateFunction returns negative log-likelihood.
func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	l.parameters.SetValues(x)
	L := l.likelihood(l.Optimizable, l.parameters)
	if math.IsNaN(L) {
		return math.Inf(+1)
	}
	return -L
}

// EvaluateGradient returns the central difference gradient of
// negative log-likelihood.
func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	for i := range x {
		no1 := l.Optimizable.Copy()
		par1 := no1.GetFloatParameters()
		par1.SetValues(x)
		par1[i].Set(x[i] - l.dH)
		l1 := -no1.Likelihood()

		no2 := no1.Copy()
		par2 := no2.GetFloatParameters()
		par2[i].Set(x[i] + l.dH)
		l2 := -no2.Likelihood()
		l.calls += 2

		grad[i] = (l2 - l1) / 2 / l.dH
	}
	l.checkSignal()
	return
}

// Run starts the optimization. The iteration limit is not supported
// by the underlying library.
func (l *LBFGSB) Run(iterations int) {
	l.PrintHeader(l.parameters)
	bounds := make([][2]float64, len(l.parameters))

	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + 1e-5
		bounds[i][1] = par.GetMax() - 1e-5
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))

	log.Infof("Exit status: %v", exitStatus)

	l.finish()
	if !l.Quiet {
		log.Info("Finished L-BFGS-B")
		l.PrintResults()
	}
	l.PrintFinal(l.parameters)
}
