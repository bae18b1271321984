package lik

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/pattern"
	"bitbucket.org/Davydov/lhtree/tree"
)

var log = logging.MustGetLogger("lik")

// scaleThreshold is the row maximum below which partial likelihoods
// are rescaled (if scaling is enabled).
const scaleThreshold = 1e-50

// BranchMatrices stores a K x K row-major transition probability
// matrix for every node (indexed by node ID). The root entry is not
// used.
type BranchMatrices [][]float64

// Walker computes the tree likelihood. Tree, table and leaf
// likelihoods are fixed at creation; a Walker can be used by several
// goroutines as long as every goroutine has its own Buffers.
type Walker struct {
	tree   *tree.Tree
	table  *pattern.Table
	k      int
	order  []*tree.Node
	leaves []*Matrix

	workers int
	scaling bool
}

// NewWalker creates a new Walker. Leaf partial likelihoods are
// computed from the alphabet rows once.
func NewWalker(t *tree.Tree, tab *pattern.Table, a *alphabet.Alphabet) (*Walker, error) {
	if err := tab.Check(t); err != nil {
		return nil, shapeError("pattern table doesn't match the tree: %v", err)
	}
	w := &Walker{
		tree:    t,
		table:   tab,
		k:       a.K(),
		order:   t.PostOrder(),
		leaves:  make([]*Matrix, t.NNodes()),
		workers: 1,
	}
	for _, node := range w.order {
		if !node.IsTerminal() {
			continue
		}
		nt := tab.Nodes[node.ID]
		w.leaves[node.ID] = NewMatrix(nt.Rows, w.k)
		if err := LeafLikelihoods(a, nt.Codes, w.leaves[node.ID]); err != nil {
			return nil, err
		}
	}
	log.Debugf("walker: %d nodes, %d patterns, K=%d", len(w.order), tab.NPatterns, w.k)
	return w, nil
}

// SetWorkers sets number of goroutines used by Evaluate. Zero or
// negative means runtime.GOMAXPROCS(0).
func (w *Walker) SetWorkers(n int) {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	w.workers = n
}

// SetScaling enables rescaling of partial likelihoods to prevent
// underflow on large trees. The log-likelihood is not affected.
func (w *Walker) SetScaling(scaling bool) {
	w.scaling = scaling
}

// K returns number of motifs.
func (w *Walker) K() int {
	return w.k
}

// Table returns the pattern table.
func (w *Walker) Table() *pattern.Table {
	return w.table
}

// Tree returns the tree.
func (w *Walker) Tree() *tree.Tree {
	return w.tree
}

// Buffers are the matrices written by one evaluation. They can be
// reused for the next evaluation; every element is written before it
// is read.
type Buffers struct {
	// raw is combined children likelihoods of internal nodes.
	raw []*Matrix
	// out is likelihoods at the top of the branch above a node.
	out []*Matrix
	// inputs are children outputs for every internal node.
	inputs [][]*Matrix
	// logScale is accumulated log scale factors per row.
	logScale [][]float64
	pending  []int32

	// Totals is likelihood of every pattern. If scaling is used,
	// it's the scaled likelihood.
	Totals []float64
	// PatternLnL is the log-likelihood of every pattern.
	PatternLnL []float64
}

// NewBuffers allocates buffers for the walker.
func (w *Walker) NewBuffers() *Buffers {
	n := len(w.order)
	buf := &Buffers{
		raw:        make([]*Matrix, n),
		out:        make([]*Matrix, n),
		inputs:     make([][]*Matrix, n),
		logScale:   make([][]float64, n),
		pending:    make([]int32, n),
		Totals:     make([]float64, w.table.NPatterns),
		PatternLnL: make([]float64, w.table.NPatterns),
	}
	for _, node := range w.order {
		rows := w.table.Nodes[node.ID].Rows
		if !node.IsRoot() {
			buf.out[node.ID] = NewMatrix(rows, w.k)
		}
		if node.IsTerminal() {
			continue
		}
		buf.raw[node.ID] = NewMatrix(rows, w.k)
		buf.logScale[node.ID] = make([]float64, rows)
	}
	for _, node := range w.order {
		for _, child := range node.ChildNodes() {
			buf.inputs[node.ID] = append(buf.inputs[node.ID], buf.out[child.ID])
		}
	}
	return buf
}

// Root returns root partial likelihoods of the last evaluation.
func (w *Walker) Root(buf *Buffers) *Matrix {
	if w.tree.IsTerminal() {
		return w.leaves[w.tree.ID]
	}
	return buf.raw[w.tree.ID]
}

// checkInputs verifies dimensions of the evaluation inputs.
func (w *Walker) checkInputs(pm BranchMatrices, mprobs []float64, buf *Buffers) error {
	if len(pm) != len(w.order) {
		return shapeError("%d branch matrices for %d nodes", len(pm), len(w.order))
	}
	for _, node := range w.order {
		if !node.IsRoot() && len(pm[node.ID]) != w.k*w.k {
			return shapeError("node %d: branch matrix has %d elements, expected %d",
				node.ID, len(pm[node.ID]), w.k*w.k)
		}
	}
	if len(mprobs) != w.k {
		return shapeError("%d motif probabilities for %d motifs", len(mprobs), w.k)
	}
	if buf == nil || len(buf.out) != len(w.order) || len(buf.Totals) != w.table.NPatterns {
		return shapeError("buffers were not created by this walker")
	}
	return nil
}

// Evaluate computes the log-likelihood of the alignment given branch
// transition matrices and root motif probabilities. Per pattern
// results are left in buf. Data incompatible with the model gives
// -Inf, which is not an error.
func (w *Walker) Evaluate(pm BranchMatrices, mprobs []float64, buf *Buffers) (float64, error) {
	if err := w.checkInputs(pm, mprobs, buf); err != nil {
		return math.NaN(), err
	}

	var err error
	if w.workers > 1 && len(w.order) > 2 {
		err = w.walkParallel(pm, buf)
	} else {
		for _, node := range w.order {
			if err = w.processNode(node, pm, buf); err != nil {
				break
			}
		}
	}
	if err != nil {
		return math.NaN(), err
	}

	if err := RootTotals(w.Root(buf), mprobs, buf.Totals); err != nil {
		return math.NaN(), err
	}
	var rootScale []float64
	if w.scaling && !w.tree.IsTerminal() {
		rootScale = buf.logScale[w.tree.ID]
	}
	lnL := 0.0
	for p, total := range buf.Totals {
		l := math.Log(total)
		if rootScale != nil {
			l += rootScale[p]
		}
		buf.PatternLnL[p] = l
	}
	if rootScale == nil {
		lnL = LogSumAcrossSites(buf.Totals, w.table.Counts)
	} else {
		for p, c := range w.table.Counts {
			if c > 0 {
				lnL += buf.PatternLnL[p] * float64(c)
			}
		}
	}
	return lnL, nil
}

// processNode computes likelihoods of a single node; all its
// children should be processed already.
func (w *Walker) processNode(node *tree.Node, pm BranchMatrices, buf *Buffers) error {
	var src *Matrix
	if node.IsTerminal() {
		src = w.leaves[node.ID]
	} else {
		src = buf.raw[node.ID]
		maps := w.table.Nodes[node.ID].Maps
		if err := SumInputLikelihoods(maps, buf.inputs[node.ID], src); err != nil {
			return err
		}
		if w.scaling {
			w.rescale(node, buf)
		}
	}
	if node.IsRoot() {
		return nil
	}
	return ApplyBranch(src, pm[node.ID], buf.out[node.ID])
}

// rescale divides small rows of the node matrix by their maximum and
// accumulates log scale factors from the children.
func (w *Walker) rescale(node *tree.Node, buf *Buffers) {
	m := buf.raw[node.ID]
	ls := buf.logScale[node.ID]
	for p := range ls {
		ls[p] = 0
	}
	maps := w.table.Nodes[node.ID].Maps
	for c, child := range node.ChildNodes() {
		cls := buf.logScale[child.ID]
		if cls == nil {
			// leaf
			continue
		}
		for p, cp := range maps[c] {
			ls[p] += cls[cp]
		}
	}
	for p := range ls {
		row := m.Row(p)
		mx := 0.0
		for _, v := range row {
			if v > mx {
				mx = v
			}
		}
		if mx == 0 || mx >= scaleThreshold {
			continue
		}
		for i := range row {
			row[i] /= mx
		}
		ls[p] += math.Log(mx)
	}
}

// walkParallel processes nodes by a pool of workers. A node is
// scheduled as soon as all its children are processed.
func (w *Walker) walkParallel(pm BranchMatrices, buf *Buffers) error {
	tasks := make(chan *tree.Node, len(w.order))
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for _, node := range w.order {
		buf.pending[node.ID] = int32(len(node.ChildNodes()))
	}
	wg.Add(len(w.order))

	for i := 0; i < w.workers; i++ {
		go func() {
			for node := range tasks {
				if err := w.processNode(node, pm, buf); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
				if parent := node.Parent; parent != nil {
					if atomic.AddInt32(&buf.pending[parent.ID], -1) == 0 {
						tasks <- parent
					}
				}
				wg.Done()
			}
		}()
	}

	for _, node := range w.order {
		if node.IsTerminal() {
			tasks <- node
		}
	}
	wg.Wait()
	close(tasks)
	return firstErr
}
