// Package pattern compresses alignment columns into unique patterns
// and builds index maps between tree nodes.
//
// Every tree node has a number of rows. A row of a leaf is a single
// alignment code; a row of an internal node is a unique combination
// of its children rows. For every child an index map gives the child
// row for each row of the parent. Rows of the root are the alignment
// patterns, each with a count.
package pattern

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/lhtree/alphabet"
	"bitbucket.org/Davydov/lhtree/tree"
)

var log = logging.MustGetLogger("pattern")

// Mode is a compression mode.
type Mode int

const (
	// PerSubtree compresses every subtree independently. Nodes
	// close to the leaves have fewer rows than the root.
	PerSubtree Mode = iota
	// Global uses the root patterns for every node, index maps
	// are identity.
	Global
)

// ParseMode converts a string to Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "subtree":
		return PerSubtree, nil
	case "global":
		return Global, nil
	}
	return PerSubtree, fmt.Errorf("unknown compression mode: %s", s)
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case PerSubtree:
		return "subtree"
	case Global:
		return "global"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// NodeTable stores rows of a single node.
type NodeTable struct {
	// Rows is number of rows.
	Rows int
	// Codes are alphabet codes of a leaf for every row.
	Codes []int
	// Maps has an index map for every child (in the order of
	// tree.Node.ChildNodes), len(Maps[c]) == Rows.
	Maps [][]int
}

// Table is a compressed alignment. Tables are read-only after
// creation and can be shared between goroutines.
type Table struct {
	Mode Mode
	// NPatterns is number of patterns (root rows).
	NPatterns int
	// Counts is a number of sites for every pattern.
	Counts []int
	// SiteIndex maps alignment site to its pattern.
	SiteIndex []int
	// Nodes is indexed by tree.Node.ID.
	Nodes []NodeTable
}

// Compress builds the pattern table for a tree and an alignment.
// Every leaf of the tree should have a sequence with the same name.
func Compress(t *tree.Tree, seqs alphabet.Sequences, mode Mode) (*Table, error) {
	nSites := seqs.Length()
	if nSites == 0 {
		return nil, errors.New("zero length alignment")
	}
	if t.NLeaves() != len(seqs) {
		return nil, fmt.Errorf("tree has %d leaves, alignment has %d sequences", t.NLeaves(), len(seqs))
	}
	byName := make(map[string]*alphabet.Sequence, len(seqs))
	for i := range seqs {
		byName[seqs[i].Name] = &seqs[i]
	}
	leafSeqs := make([][]int, t.NNodes())
	for node := range t.Terminals() {
		seq, ok := byName[node.Name]
		if !ok {
			return nil, fmt.Errorf("no sequence found for the leaf <%s>", node.Name)
		}
		leafSeqs[node.ID] = seq.Codes
	}

	tab := &Table{
		Mode:  mode,
		Nodes: make([]NodeTable, t.NNodes()),
	}
	switch mode {
	case PerSubtree:
		tab.compressSubtrees(t, leafSeqs, nSites)
	case Global:
		tab.compressGlobal(t, leafSeqs, nSites)
	default:
		return nil, fmt.Errorf("unknown compression mode %v", mode)
	}

	log.Infof("%d sites compressed to %d patterns (%s)", nSites, tab.NPatterns, mode)
	return tab, nil
}

// uniqueRows assigns a row to every unique key.
type uniqueRows struct {
	rows map[string]int
	key  []byte
}

func newUniqueRows() *uniqueRows {
	return &uniqueRows{rows: make(map[string]int)}
}

// row returns row for a combination of values and true if the row is
// new.
func (u *uniqueRows) row(values ...int) (int, bool) {
	u.key = u.key[:0]
	for _, v := range values {
		u.key = binary.AppendUvarint(u.key, uint64(v))
	}
	if r, ok := u.rows[string(u.key)]; ok {
		return r, false
	}
	r := len(u.rows)
	u.rows[string(u.key)] = r
	return r, true
}

func (tab *Table) compressSubtrees(t *tree.Tree, leafSeqs [][]int, nSites int) {
	siteRows := make([][]int, t.NNodes())
	for _, node := range t.PostOrder() {
		nt := &tab.Nodes[node.ID]
		rows := make([]int, nSites)
		u := newUniqueRows()
		if node.IsTerminal() {
			for site, code := range leafSeqs[node.ID] {
				r, isNew := u.row(code)
				if isNew {
					nt.Codes = append(nt.Codes, code)
				}
				rows[site] = r
			}
		} else {
			children := node.ChildNodes()
			nt.Maps = make([][]int, len(children))
			values := make([]int, len(children))
			for site := 0; site < nSites; site++ {
				for c, child := range children {
					values[c] = siteRows[child.ID][site]
				}
				r, isNew := u.row(values...)
				if isNew {
					for c := range children {
						nt.Maps[c] = append(nt.Maps[c], values[c])
					}
				}
				rows[site] = r
			}
			for _, child := range children {
				// not needed anymore
				siteRows[child.ID] = nil
			}
		}
		nt.Rows = len(u.rows)
		siteRows[node.ID] = rows
	}
	tab.setRoot(siteRows[t.ID], tab.Nodes[t.ID].Rows)
}

func (tab *Table) compressGlobal(t *tree.Tree, leafSeqs [][]int, nSites int) {
	leaves := make([]*tree.Node, 0, t.NLeaves())
	for node := range t.Terminals() {
		leaves = append(leaves, node)
	}
	u := newUniqueRows()
	siteIndex := make([]int, nSites)
	// first site of every pattern
	var first []int
	column := make([]int, len(leaves))
	for site := 0; site < nSites; site++ {
		for i, leaf := range leaves {
			column[i] = leafSeqs[leaf.ID][site]
		}
		r, isNew := u.row(column...)
		if isNew {
			first = append(first, site)
		}
		siteIndex[site] = r
	}
	nPatterns := len(first)
	identity := make([]int, nPatterns)
	for i := range identity {
		identity[i] = i
	}
	for _, node := range t.PostOrder() {
		nt := &tab.Nodes[node.ID]
		nt.Rows = nPatterns
		if node.IsTerminal() {
			nt.Codes = make([]int, nPatterns)
			for p, site := range first {
				nt.Codes[p] = leafSeqs[node.ID][site]
			}
			continue
		}
		nt.Maps = make([][]int, len(node.ChildNodes()))
		for c := range nt.Maps {
			nt.Maps[c] = identity
		}
	}
	tab.setRoot(siteIndex, nPatterns)
}

func (tab *Table) setRoot(siteIndex []int, nPatterns int) {
	tab.NPatterns = nPatterns
	tab.SiteIndex = siteIndex
	tab.Counts = make([]int, nPatterns)
	for _, p := range siteIndex {
		tab.Counts[p]++
	}
}

// NSites returns the alignment length.
func (tab *Table) NSites() int {
	return len(tab.SiteIndex)
}

// Check validates the table against the tree: counts are positive and
// sum to the alignment length, every node has a map for every child,
// maps have the parent length and point to valid child rows.
func (tab *Table) Check(t *tree.Tree) error {
	if len(tab.Nodes) != t.NNodes() {
		return fmt.Errorf("table has %d nodes, tree has %d", len(tab.Nodes), t.NNodes())
	}
	if len(tab.Counts) != tab.NPatterns || tab.Nodes[t.ID].Rows != tab.NPatterns {
		return errors.New("number of patterns doesn't match the root")
	}
	sum := 0
	for p, c := range tab.Counts {
		if c < 1 {
			return fmt.Errorf("pattern %d has count %d", p, c)
		}
		sum += c
	}
	if sum != len(tab.SiteIndex) {
		return fmt.Errorf("sum of counts %d != alignment length %d", sum, len(tab.SiteIndex))
	}
	for _, node := range t.PostOrder() {
		nt := tab.Nodes[node.ID]
		if node.IsTerminal() {
			if len(nt.Codes) != nt.Rows {
				return fmt.Errorf("leaf %s: %d codes for %d rows", node.Name, len(nt.Codes), nt.Rows)
			}
			continue
		}
		children := node.ChildNodes()
		if len(nt.Maps) != len(children) {
			return fmt.Errorf("node %d: %d maps for %d children", node.ID, len(nt.Maps), len(children))
		}
		for c, child := range children {
			if len(nt.Maps[c]) != nt.Rows {
				return fmt.Errorf("node %d, child %d: map length %d != %d", node.ID, child.ID, len(nt.Maps[c]), nt.Rows)
			}
			crows := tab.Nodes[child.ID].Rows
			for _, r := range nt.Maps[c] {
				if r < 0 || r >= crows {
					return fmt.Errorf("node %d, child %d: index %d out of range", node.ID, child.ID, r)
				}
			}
		}
	}
	return nil
}

// Resample returns a bootstrap replicate of the table. Sites are
// drawn with replacement; patterns which were not drawn are removed
// from the root. Other nodes are shared with the original table.
func (tab *Table) Resample(t *tree.Tree, rng *rand.Rand) *Table {
	nSites := len(tab.SiteIndex)
	counts := make([]int, tab.NPatterns)
	sampled := make([]int, nSites)
	for i := range sampled {
		sampled[i] = tab.SiteIndex[rng.Intn(nSites)]
		counts[sampled[i]]++
	}

	newRow := make([]int, tab.NPatterns)
	var kept []int
	for p, c := range counts {
		if c > 0 {
			newRow[p] = len(kept)
			kept = append(kept, p)
		}
	}

	res := &Table{
		Mode:      tab.Mode,
		NPatterns: len(kept),
		Counts:    make([]int, len(kept)),
		SiteIndex: make([]int, nSites),
		Nodes:     append([]NodeTable(nil), tab.Nodes...),
	}
	for i, p := range kept {
		res.Counts[i] = counts[p]
	}
	for i, p := range sampled {
		res.SiteIndex[i] = newRow[p]
	}

	old := tab.Nodes[t.ID]
	root := NodeTable{Rows: len(kept)}
	if old.Codes != nil {
		root.Codes = make([]int, len(kept))
		for i, p := range kept {
			root.Codes[i] = old.Codes[p]
		}
	}
	if old.Maps != nil {
		root.Maps = make([][]int, len(old.Maps))
		for c, m := range old.Maps {
			root.Maps[c] = make([]int, len(kept))
			for i, p := range kept {
				root.Maps[c][i] = m[p]
			}
		}
	}
	res.Nodes[t.ID] = root
	return res
}
