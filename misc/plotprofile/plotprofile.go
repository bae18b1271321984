// Plotprofile plots the log-likelihood as a function of a single
// branch length, or the rates of the discrete gamma distribution.
package main

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/bio"
	"bitbucket.org/Davydov/lhtree/dist"
	"bitbucket.org/Davydov/lhtree/likmodel"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/submodel"
	"bitbucket.org/Davydov/lhtree/tree"
)

var log = logging.MustGetLogger("plotprofile")

var (
	app = kingpin.New("plotprofile", "plot likelihood profiles")
	out = app.Flag("out", "output image").Default("profile.png").String()

	branchCmd    = app.Command("branch", "log-likelihood as a function of a branch length")
	alignmentFn  = branchCmd.Arg("alignment", "sequence alignment (fasta)").Required().ExistingFile()
	treeFn       = branchCmd.Arg("tree", "phylogenetic tree (newick)").Required().ExistingFile()
	nodeID       = branchCmd.Flag("node", "node ID of the branch (see --brtree)").Default("1").Int()
	alphabetName = branchCmd.Flag("alphabet", "sequence alphabet").Default("dna").String()
	model        = branchCmd.Flag("model", "substitution model").Default("hky85").String()
	ncat         = branchCmd.Flag("ncat", "number of gamma rate categories").Default("1").Int()
	alpha        = branchCmd.Flag("alpha", "gamma shape parameter").Default("0.5").Float64()
	maxBr        = branchCmd.Flag("max", "maximum branch length").Default("1").Float64()
	nPoints      = branchCmd.Flag("points", "number of points").Default("50").Int()
	brTree       = branchCmd.Flag("brtree", "print tree with node IDs and exit").Bool()

	gammaCmd   = app.Command("gamma", "discrete gamma rates")
	gammaAlpha = gammaCmd.Flag("alpha", "shape parameter").Default("1").Float64()
	gammaBeta  = gammaCmd.Flag("beta", "rate parameter").Default("1").Float64()
	k          = gammaCmd.Flag("k", "number of categories").Default("4").Int()
	useMedian  = gammaCmd.Flag("median", "use median instead of mean").Bool()
)

// profile computes log-likelihood for every branch length in xs. The
// branch length is restored afterwards.
func profile(m *likmodel.Model, id int, xs []float64) (plotter.XYs, error) {
	nodes := m.Tree().Nodes()
	if id < 0 || id >= len(nodes) || nodes[id].IsRoot() {
		return nil, fmt.Errorf("no branch above node %d", id)
	}
	m.SetOptimizeBranchLengths()
	var par interface {
		Get() float64
		Set(float64)
	}
	name := fmt.Sprintf("br%d", id)
	for _, p := range m.GetFloatParameters() {
		if p.Name() == name {
			par = p
		}
	}
	if par == nil {
		return nil, fmt.Errorf("no parameter %s", name)
	}
	old := par.Get()
	defer par.Set(old)

	pts := make(plotter.XYs, len(xs))
	for i, x := range xs {
		par.Set(x)
		pts[i].X = x
		pts[i].Y = m.Likelihood()
	}
	return pts, nil
}

// linspace returns n points from lo to hi.
func linspace(lo, hi float64, n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = lo
		if n > 1 {
			xs[i] += (hi - lo) * float64(i) / float64(n-1)
		}
	}
	return xs
}

func loadModel() (*likmodel.Model, error) {
	a, err := alphabet.Get(*alphabetName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(*alignmentFn)
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

	tf, err := os.Open(*treeFn)
	if err != nil {
		return nil, err
	}
	defer tf.Close()
	t, err := tree.ParseNewick(tf)
	if err != nil {
		return nil, err
	}
	if *brTree {
		fmt.Println(t.BrString())
		os.Exit(0)
	}

	tab, err := pattern.Compress(t, seqs, pattern.PerSubtree)
	if err != nil {
		return nil, err
	}
	sm, err := submodel.New(*model, a, seqs.Frequencies())
	if err != nil {
		return nil, err
	}
	return likmodel.New(t, tab, a, sm, *ncat, *alpha)
}

func gammaPoints() plotter.XYs {
	r := dist.DiscreteGamma(*gammaAlpha, *gammaBeta, *k, *useMedian, nil, nil)
	fmt.Println(r)
	pts := make(plotter.XYs, *k)
	x := 0.0
	for i, v := range r {
		pts[i].X = v
		pts[i].Y = x
		x += 1. / float64(*k)
	}
	return pts
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	logging.SetBackend(logging.NewLogBackend(os.Stderr, "", 0))
	logging.SetLevel(logging.WARNING, "")

	p := plot.New()
	var pts plotter.XYs
	var title string

	switch cmd {
	case branchCmd.FullCommand():
		m, err := loadModel()
		if err != nil {
			log.Fatal(err)
		}
		pts, err = profile(m, *nodeID, linspace(0, *maxBr, *nPoints))
		if err != nil {
			log.Fatal(err)
		}
		title = fmt.Sprintf("br%d", *nodeID)
		p.X.Label.Text = "branch length"
		p.Y.Label.Text = "lnL"
	case gammaCmd.FullCommand():
		pts = gammaPoints()
		title = fmt.Sprintf("alpha=%v", *gammaAlpha)
		p.X.Label.Text = "rate"
		p.Y.Label.Text = "cumulative proportion"
	}

	if err := plotutil.AddLinePoints(p, title, pts); err != nil {
		log.Fatal(err)
	}

	if err := p.Save(4*vg.Inch, 4*vg.Inch, *out); err != nil {
		log.Fatal(err)
	}
}
