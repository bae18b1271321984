// Package optimize implements likelihood maximization over model
// parameters.
package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/lhtree/checkpoint"
)

var log = logging.MustGetLogger("optimize")

// Optimizable is a model which likelihood can be maximized.
type Optimizable interface {
	// GetFloatParameters returns parameters bound to the model.
	GetFloatParameters() FloatParameters
	// Copy creates an independent copy of the model with the same
	// parameter values.
	Copy() Optimizable
	// Likelihood returns the log-likelihood.
	Likelihood() float64
}

// Optimizer maximizes likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetTrajectoryOutput(io.Writer)
	SetCheckpointIO(*checkpoint.CheckpointIO)
	SetRunID(string)
	Run(iterations int)
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() []float64
	PrintResults()
	Summary() Summary
}

// Summary is the optimization summary.
type Summary struct {
	// Optimizer is the optimizer name.
	Optimizer string `json:"optimizer"`
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// Calls is the number of likelihood computations.
	Calls int `json:"likelihoodCalls"`
	// MaxLnL is the maximum log-likelihood.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the parameter values at the maximum.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Time is the optimization time in seconds.
	Time float64 `json:"time"`
}

// BaseOptimizer is a common part of the optimizers: it keeps track
// of the maximum, prints trajectory and saves checkpoints.
type BaseOptimizer struct {
	Optimizable
	name       string
	parameters FloatParameters
	i          int
	calls      int
	l          float64
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	out        io.Writer
	chp        *checkpoint.CheckpointIO
	runID      string
	start      time.Time
	// Quiet disables trajectory output.
	Quiet bool
}

// SetOptimizable sets the model.
func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
	o.maxL = math.Inf(-1)
}

// WatchSignals makes the optimizer stop after receiving any of sigs.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

// SetReportPeriod sets how often the trajectory is printed.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	if period < 1 {
		period = 1
	}
	o.repPeriod = period
}

// SetTrajectoryOutput sets the trajectory writer (stdout by default).
func (o *BaseOptimizer) SetTrajectoryOutput(w io.Writer) {
	o.out = w
}

// SetCheckpointIO enables periodic checkpoints.
func (o *BaseOptimizer) SetCheckpointIO(chp *checkpoint.CheckpointIO) {
	o.chp = chp
}

// SetRunID sets the run identifier stored in the checkpoints.
func (o *BaseOptimizer) SetRunID(id string) {
	o.runID = id
}

// signalled returns true if a watched signal was received.
func (o *BaseOptimizer) signalled() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
		return false
	}
}

// likelihood computes likelihood and keeps track of the maximum.
func (o *BaseOptimizer) likelihood(opt Optimizable, par FloatParameters) float64 {
	l := opt.Likelihood()
	o.calls++
	o.updateMax(par, l)
	return l
}

// updateMax remembers the maximum likelihood parameters.
func (o *BaseOptimizer) updateMax(par FloatParameters, l float64) {
	if l > o.maxL || o.maxLPar == nil {
		o.maxL = l
		o.maxLPar = par.Values(o.maxLPar)
	}
}

func (o *BaseOptimizer) writer() io.Writer {
	if o.out == nil {
		return os.Stdout
	}
	return o.out
}

// PrintHeader prints the trajectory header.
func (o *BaseOptimizer) PrintHeader(par FloatParameters) {
	o.start = time.Now()
	if !o.Quiet {
		fmt.Fprintf(o.writer(), "iteration\tlikelihood\t%s\n", par.NamesString())
	}
}

// PrintLine prints a trajectory line and saves a checkpoint if the
// last one is old.
func (o *BaseOptimizer) PrintLine(par FloatParameters, l float64) {
	if !o.Quiet {
		fmt.Fprintf(o.writer(), "%d\t%f\t%s\n", o.i, l, par.ValuesString())
	}
	if o.chp != nil && o.chp.Old() {
		o.saveCheckpoint(false)
	}
}

// PrintFinal saves the final checkpoint and logs the parameters.
func (o *BaseOptimizer) PrintFinal(par FloatParameters) {
	if o.chp != nil {
		o.saveCheckpoint(true)
	}
	for _, p := range par {
		log.Infof("%s=%v", p.Name(), p.Get())
	}
}

// saveCheckpoint saves the maximum likelihood parameters.
func (o *BaseOptimizer) saveCheckpoint(final bool) {
	if o.maxLPar == nil {
		return
	}
	o.chp.Save(&checkpoint.CheckpointData{
		RunID:      o.runID,
		Parameters: o.maxLParametersMap(),
		Likelihood: o.maxL,
		Iter:       o.i,
		Final:      final,
	})
}

func (o *BaseOptimizer) maxLParametersMap() map[string]float64 {
	m := make(map[string]float64, len(o.maxLPar))
	for i, name := range o.parameters.Names(nil) {
		if i < len(o.maxLPar) {
			m[name] = o.maxLPar[i]
		}
	}
	return m
}

// GetL returns the last likelihood.
func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

// GetMaxL returns the maximum likelihood found.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns the parameter values at the maximum.
func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// PrintResults logs the maximum likelihood and the parameters.
func (o *BaseOptimizer) PrintResults() {
	log.Noticef("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood function calls: %v", o.calls)
	log.Infof("Parameter  names: %v", o.parameters.NamesString())
	log.Infof("Parameter values: %v", o.maxLPar)
}

// Summary returns the optimization summary.
func (o *BaseOptimizer) Summary() Summary {
	return Summary{
		Optimizer:      o.name,
		Iterations:     o.i,
		Calls:          o.calls,
		MaxLnL:         o.maxL,
		MaxLParameters: o.maxLParametersMap(),
		Time:           time.Since(o.start).Seconds(),
	}
}

// finish sets the model parameters to the maximum likelihood values.
func (o *BaseOptimizer) finish() {
	if o.maxLPar != nil {
		o.parameters.SetValues(o.maxLPar)
		o.l = o.maxL
	}
}
