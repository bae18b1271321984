package optimize

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// errSignal stops the optimization after a watched signal.
var errSignal = errors.New("exiting by signal")

// BFGS is the unbounded BFGS optimizer with a numerical gradient.
// Values outside of the parameter boundaries have zero likelihood.
type BFGS struct {
	BaseOptimizer
	dH float64
}

// NewBFGS creates a new BFGS optimizer.
func NewBFGS() *BFGS {
	return &BFGS{
		BaseOptimizer: BaseOptimizer{
			name:      "bfgs",
			repPeriod: 10,
		},
		dH: 1e-6,
	}
}

// Init implements optimize.Recorder.
func (b *BFGS) Init() error {
	return nil
}

// Record implements optimize.Recorder.
func (b *BFGS) Record(l *optimize.Location, op optimize.Operation, s *optimize.Stats) error {
	if op&optimize.MajorIteration != 0 {
		b.i = s.MajorIterations
		b.parameters.SetValues(l.X)
		b.l = -l.F
		if b.i%b.repPeriod == 0 {
			b.PrintLine(b.parameters, b.l)
		}
	}
	if b.signalled() {
		return errSignal
	}
	return nil
}

func (b *BFGS) fun(x []float64) float64 {
	if !b.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	b.parameters.SetValues(x)
	l := b.likelihood(b.Optimizable, b.parameters)
	if math.IsNaN(l) {
		return math.Inf(+1)
	}
	return -l
}

func (b *BFGS) grad(grad, x []float64) {
	if !b.parameters.ValuesInRange(x) {
		for i, par := range b.parameters {
			switch {
			case x[i] < par.GetMin():
				grad[i] = math.Inf(-1)
			case x[i] > par.GetMax():
				grad[i] = math.Inf(+1)
			default:
				grad[i] = 0
			}
		}
		return
	}
	no1 := b.Optimizable.Copy()
	par1 := no1.GetFloatParameters()
	par1.SetValues(x)
	l1 := -no1.Likelihood()
	b.calls++
	for i := range x {
		no2 := no1.Copy()
		par2 := no2.GetFloatParameters()
		v := x[i] + b.dH
		if !par2[i].ValueInRange(v) {
			// backward difference at the upper boundary
			v = x[i] - b.dH
		}
		par2[i].Set(v)
		l2 := -no2.Likelihood()
		b.calls++
		grad[i] = (l2 - l1) / (v - x[i])
	}
}

// Run starts the optimization.
func (b *BFGS) Run(iterations int) {
	b.PrintHeader(b.parameters)
	settings := &optimize.Settings{
		MajorIterations:   iterations,
		GradientThreshold: 1e-3,
		Recorder:          b,
	}
	problem := optimize.Problem{
		Func: b.fun,
		Grad: b.grad,
	}

	res, err := optimize.Minimize(problem, b.parameters.Values(nil), settings, &optimize.BFGS{})
	switch {
	case errors.Is(err, errSignal):
		log.Warning("Optimization interrupted")
	case err != nil:
		log.Errorf("Optimization error: %v", err)
	case res != nil:
		log.Infof("Exit status: %v", res.Status)
	}

	b.finish()
	if !b.Quiet {
		log.Info("Finished BFGS")
		b.PrintResults()
	}
	b.PrintFinal(b.parameters)
}
