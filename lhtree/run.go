package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
	"bitbucket.org/Davydov/lhtree/checkpoint"
	"bitbucket.org/Davydov/lhtree/likmodel"
	"bitbucket.org/Davydov/lhtree/optimize"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/submodel"
	"bitbucket.org/Davydov/lhtree/tree"
)

// lastLine returns the last line of a file content.
func lastLine(fn string) (line string, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return line, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line = scanner.Text()
	}
	err = scanner.Err()
	return line, err
}

// readAlignment reads a fasta file and encodes it.
func readAlignment(fn string, a *alphabet.Alphabet) (alphabet.Sequences, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ali, err := bio.ParseFasta(f)
	if err != nil {
		return nil, err
	}
	seqs, err := alphabet.Encode(ali, a)
	if err != nil {
		return nil, err
	}
	if seqs.Length() == 0 {
		return nil, fmt.Errorf("zero length alignment")
	}
	log.Infof("Read alignment of %d sequences, %d %s positions, %d fixed positions, %d ambiguous positions",
		len(seqs), seqs.Length(), a.Name, seqs.NFixed(), seqs.NAmbiguous())
	return seqs, nil
}

// readTree reads a newick file.
func readTree(fn string) (*tree.Tree, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tree.ParseNewick(f)
}

// getFrequencies returns the equilibrium frequencies either from a
// file or computed from the alignment.
func getFrequencies(seqs alphabet.Sequences, a *alphabet.Alphabet, method, fn string) ([]float64, error) {
	if fn != "" {
		f, err := os.Open(fn)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return submodel.ReadFrequencies(f, a)
	}
	log.Infof("%s frequency", method)
	return submodel.Frequencies(method, seqs)
}

// getOptimizerFromString returns an optimizer from a string.
func getOptimizerFromString(method string) (optimize.Optimizer, error) {
	switch method {
	case "lbfgsb":
		return optimize.NewLBFGSB(), nil
	case "bfgs":
		return optimize.NewBFGS(), nil
	case "simplex":
		return optimize.NewDS(), nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("unknown optimization method: %s", method)
}

// setStart reads the starting point either from the last line of a
// trajectory file or from a JSON file.
func setStart(par optimize.FloatParameters, fn string) error {
	l, err := lastLine(fn)
	if err == nil {
		err = par.ReadLine(l)
	}
	if err != nil {
		log.Debug("Reading start file as JSON")
		// fn is neither trajectory nor correct JSON
		if err2 := par.ReadFromJSON(fn); err2 != nil {
			return fmt.Errorf("error reading start position (trajectory: %v, JSON: %v)", err, err2)
		}
	}
	if !par.InRange() {
		return fmt.Errorf("initial parameters are not in the range")
	}
	return nil
}

// checkpointKey identifies the run settings in the checkpoint
// database.
func checkpointKey() []byte {
	return checkpoint.Key(*alphabetName, strings.ToLower(*model), *alignmentFileName, *treeFileName,
		fmt.Sprint(*ncat), fmt.Sprint(*noOptBrLen), fmt.Sprint(*fixAlpha))
}

// bootstrapLnL computes the likelihood of bootstrap replicates of the
// alignment with the current parameter values.
func bootstrapLnL(m *likmodel.Model, a *alphabet.Alphabet, n int, rng *rand.Rand) ([]float64, error) {
	res := make([]float64, n)
	for i := range res {
		tab := m.Table().Resample(m.Tree(), rng)
		bm, err := likmodel.New(m.Tree(), tab, a, m.SubstitutionModel().Copy(), m.NCat(), m.Alpha())
		if err != nil {
			return nil, err
		}
		bm.SetScaling(*scaling)
		res[i] = bm.Likelihood()
		log.Debugf("bootstrap %d: lnL=%v", i, res[i])
	}
	return res, nil
}

func run(runID string) (summary *RunSummary, err error) {
	startTime := time.Now()
	summary = &RunSummary{}
	rng := rand.New(rand.NewSource(*seed))

	a, err := alphabet.Get(*alphabetName)
	if err != nil {
		return nil, err
	}

	seqs, err := readAlignment(*alignmentFileName, a)
	if err != nil {
		return nil, err
	}

	t, err := readTree(*treeFileName)
	if err != nil {
		return nil, err
	}
	log.Debugf("intree=%s", t)
	log.Debugf("brtree=%s", t.BrString())
	summary.StartingTree = t.String()

	mode, err := pattern.ParseMode(*compression)
	if err != nil {
		return nil, err
	}
	tab, err := pattern.Compress(t, seqs, mode)
	if err != nil {
		return nil, err
	}

	freqs, err := getFrequencies(seqs, a, *freq, *freqFileName)
	if err != nil {
		return nil, err
	}
	log.Debug(freqs)

	sm, err := submodel.New(*model, a, freqs)
	if err != nil {
		return nil, err
	}

	m, err := likmodel.New(t, tab, a, sm, *ncat, *alpha)
	if err != nil {
		return nil, err
	}
	if *ncat > 1 {
		log.Infof("%d gamma rate categories", *ncat)
		if *fixAlpha {
			m.FixAlpha()
		}
	}
	m.SetWorkers(*workers)
	m.SetScaling(*scaling)

	if !*noOptBrLen && *method != "none" {
		log.Info("Will optimize branch lengths")
		log.Infof("Maximum branch length: %f", *maxBrLen)
		m.SetMaxBranchLength(*maxBrLen)
		m.SetOptimizeBranchLengths()
	} else {
		log.Info("Will not optimize branch lengths")
	}

	par := m.GetFloatParameters()
	if *startF != "" {
		if err := setStart(par, *startF); err != nil {
			return nil, err
		}
	} else if *randomize {
		log.Info("Using uniform (in the boundaries) random starting point")
		par.Randomize(rng)
	}

	optName := *method
	var chp *checkpoint.CheckpointIO
	if *checkpointDB != "" {
		db, err := checkpoint.Open(*checkpointDB)
		if err != nil {
			return nil, fmt.Errorf("error opening checkpoint database: %v", err)
		}
		defer db.Close()
		chp = checkpoint.NewCheckpointIO(db, checkpointKey(), *chpSeconds)
		data, err := chp.GetParameters()
		if err != nil {
			log.Error("Error reading checkpoint:", err)
		} else if data != nil {
			if err := par.SetValuesMap(data.Parameters); err != nil {
				log.Error("Checkpoint doesn't match the model:", err)
			} else {
				summary.Resumed = true
				if data.Final {
					optName = "none"
				}
			}
		}
	}

	log.Infof("Model has %d parameters.", len(par))

	f := os.Stdout
	if *outF != "" {
		f, err = os.Create(*outF)
		if err != nil {
			return nil, fmt.Errorf("error creating trajectory file: %v", err)
		}
		defer f.Close()
	}

	opt, err := getOptimizerFromString(optName)
	if err != nil {
		return nil, err
	}
	log.Infof("Using %s optimization.", optName)

	opt.SetTrajectoryOutput(f)
	opt.SetRunID(runID)
	opt.SetOptimizable(m)
	opt.SetReportPeriod(*report)
	opt.WatchSignals(os.Interrupt, syscall.SIGUSR2)
	if chp != nil {
		opt.SetCheckpointIO(chp)
	}

	opt.Run(*iterations)
	summary.Optimizer = opt.Summary()
	opt.PrintResults()

	summary.LnL = m.Likelihood()
	log.Noticef("lnL=%v", summary.LnL)
	summary.Model = m.Summary()

	if !*noOptBrLen && *method != "none" {
		log.Infof("outtree=%s", t)
		summary.FinalTree = t.String()
	}

	if *outTreeF != "" {
		if err := writeTree(*outTreeF, t); err != nil {
			log.Error("Error writing tree:", err)
		}
	}

	if *siteF != "" {
		if err := writeSiteLnL(*siteF, m.SiteLogLikelihoods()); err != nil {
			log.Error("Error writing site likelihoods:", err)
		}
	}

	if *bootstrap > 0 {
		summary.Bootstrap, err = bootstrapLnL(m, a, *bootstrap, rng)
		if err != nil {
			return nil, err
		}
	}

	signal.Reset()

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()

	return
}

// writeTree writes the tree in the newick format.
func writeTree(fn string, t *tree.Tree) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(t.String() + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeSiteLnL writes a site log-likelihood per line.
func writeSiteLnL(fn string, lnL []float64) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for i, l := range lnL {
		fmt.Fprintf(w, "%d\t%v\n", i+1, l)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
