/*

Lhtree computes the likelihood of a sequence alignment on a
phylogenetic tree and optionally maximizes it over the substitution
model parameters and the branch lengths.

The basic usage of lhtree looks like this:

	lhtree alignment.fst tree.nwk

, this will compute the HKY85 likelihood of a nucleotide alignment and
optimize the parameters with L-BFGS-B.

A codon model with gamma rate variation:

	lhtree --alphabet codon --model m0 --ncat 4 alignment.fst tree.nwk

To see all the options run:

	lhtree --help

*/
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("lhtree")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules which log level is set from the command line.
var modules = []string{"lhtree", "lik", "likmodel", "optimize", "pattern", "submodel", "checkpoint"}

// command-line options
var (
	// application
	app = kingpin.New("lhtree", "phylogenetic tree likelihood").Version(version)

	// input tree and alignment
	alignmentFileName = app.Arg("alignment", "sequence alignment (fasta)").Required().ExistingFile()
	treeFileName      = app.Arg("tree", "phylogenetic tree (newick)").Required().ExistingFile()

	// model parameters
	alphabetName = app.Flag("alphabet", "sequence alphabet (dna, rna, protein, codon)").Default("dna").String()
	model        = app.Flag("model", "substitution model (jc69, f81, k80, hky85, gtr, m0)").Default("hky85").String()
	freq         = app.Flag("freq", "equilibrium frequencies (equal, empirical, F3X4)").Default("empirical").String()
	freqFileName = app.Flag("freqfn", "equilibrium frequencies file (overrides -freq)").ExistingFile()
	ncat         = app.Flag("ncat", "number of discrete gamma rate categories (no variation by default)").Default("1").Int()
	alpha        = app.Flag("alpha", "initial gamma shape parameter").Default("0.5").Float64()
	fixAlpha     = app.Flag("fixalpha", "don't optimize the gamma shape parameter").Bool()
	maxBrLen     = app.Flag("maxbrlen", "maximum branch length").Default("100").Float64()
	noOptBrLen   = app.Flag("nobrlen", "don't optimize branch lengths").Bool()

	// likelihood computation
	compression = app.Flag("compression", "pattern compression mode (subtree or global)").Default("subtree").Enum("subtree", "global")
	scaling     = app.Flag("scaling", "rescale partial likelihoods (for large trees)").Bool()
	bootstrap   = app.Flag("bootstrap", "number of bootstrap replicates of the final likelihood").Default("0").Int()

	// optimizer parameters
	randomize  = app.Flag("randomize", "use uniformly distributed random starting point").Bool()
	iterations = app.Flag("iter", "number of iterations").Default("10000").Int()
	report     = app.Flag("report", "report every N iterations").Default("10").Int()
	method     = app.Flag("method", "optimization method to use "+
		"(lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"bfgs: Broyden–Fletcher–Goldfarb–Shanno, "+
		"simplex: downhill simplex, "+
		"none: just compute likelihood, no optimization"+
		")").Default("lbfgsb").Enum("lbfgsb", "bfgs", "simplex", "none")

	// checkpoints
	checkpointDB = app.Flag("checkpoint", "checkpoint database file").String()
	chpSeconds   = app.Flag("chpseconds", "save checkpoint every N seconds").Default("60").Float64()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	workers    = app.Flag("workers", "number of goroutines evaluating the tree (nt by default)").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	outF     = app.Flag("out", "write optimization trajectory to a file").String()
	outTreeF = app.Flag("tree", "write tree to a file").String()
	siteF    = app.Flag("sitelnl", "write site log-likelihoods to a file").String()
	startF   = app.Flag("start", "read start position from the trajectory or JSON file").ExistingFile()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range modules {
		logging.SetLevel(level, module)
	}

	runID := uuid.New().String()

	// print revision
	log.Info(version)
	log.Info("Run ID:", runID)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	runtime.GOMAXPROCS(*nThreads)

	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	summary, err := run(runID)
	if err != nil {
		log.Fatal(err)
	}
	summary.RunID = runID
	summary.NThreads = effectiveNThreads
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = *seed

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
