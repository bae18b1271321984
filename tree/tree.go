// Package tree implements rooted phylogenetic trees and a Newick
// parser.
package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// parseMode is the state of the newick parser.
type parseMode int

const (
	readName parseMode = iota
	readLength
	readClass
)

// Tree is a rooted tree. The embedded node is the root.
type Tree struct {
	*Node
	nNodes    int
	nodes     []*Node
	postOrder []*Node
}

// ClearCache removes cached node lists. It should be called after
// topology changes.
func (tree *Tree) ClearCache() {
	tree.nNodes = 0
	tree.nodes = nil
	tree.postOrder = nil
}

// NNodes returns number of nodes in the tree.
func (tree *Tree) NNodes() int {
	if tree.nNodes == 0 {
		tree.nNodes = tree.NSubNodes()
	}
	return tree.nNodes
}

// Nodes returns all the nodes indexed by node ID.
func (tree *Tree) Nodes() []*Node {
	if tree.nodes == nil {
		tree.nodes = make([]*Node, tree.NNodes())
		for node := range tree.Walker(nil) {
			tree.nodes[node.ID] = node
		}
	}
	return tree.nodes
}

// Terminals returns a channel with all the leaves.
func (tree *Tree) Terminals() <-chan *Node {
	return tree.Walker(func(n *Node) bool {
		return n.IsTerminal()
	})
}

// NonTerminals returns a channel with all the internal nodes.
func (tree *Tree) NonTerminals() <-chan *Node {
	return tree.Walker(func(node *Node) bool {
		return !node.IsTerminal()
	})
}

// NLeaves returns number of leaves.
func (tree *Tree) NLeaves() (i int) {
	for range tree.Terminals() {
		i++
	}
	return
}

// Walker returns a channel with nodes (pre-order) which pass the
// filter. If filter is nil, all the nodes are returned.
func (tree *Tree) Walker(filter func(*Node) bool) <-chan *Node {
	ch := make(chan *Node, tree.NNodes())
	tree.Walk(ch, filter)
	close(ch)
	return ch
}

// Copy creates independent copy of the tree.
func (tree *Tree) Copy() (newTree *Tree) {
	nNodes := tree.NNodes()
	newTree = &Tree{
		nNodes: nNodes,
		nodes:  make([]*Node, nNodes),
	}

	// Create node list.
	for i, node := range tree.Nodes() {
		if i != node.ID {
			panic("node id mismatch")
		}
		newTree.nodes[i] = node.Copy()
	}

	// Rewire node/parent connections.
	for i, node := range tree.Nodes() {
		newNode := newTree.nodes[i]
		for _, child := range node.childNodes {
			newNode.AddChild(newTree.nodes[child.ID])
		}
	}

	newTree.Node = newTree.nodes[tree.Node.ID]

	return
}

// PostOrder returns all the nodes (including leaves and root) so that
// every node follows all of its children. The root is the last one.
func (tree *Tree) PostOrder() []*Node {
	if tree.postOrder == nil {
		tree.postOrder = make([]*Node, 0, tree.NNodes())
		var visit func(*Node)
		visit = func(node *Node) {
			for _, child := range node.childNodes {
				visit(child)
			}
			tree.postOrder = append(tree.postOrder, node)
		}
		visit(tree.Node)
	}
	return tree.postOrder
}

// NodeOrder returns internal nodes in the post-order.
func (tree *Tree) NodeOrder() (order []*Node) {
	for _, node := range tree.PostOrder() {
		if !node.IsTerminal() {
			order = append(order, node)
		}
	}
	return
}

// Node is a tree node. BranchLength is the length of the branch
// leading to the node.
type Node struct {
	Name         string
	BranchLength float64
	Parent       *Node
	childNodes   []*Node
	ID           int
	LeafID       int
	Class        int
}

// NewNode creates a new node.
func NewNode(parent *Node, nodeID int) (node *Node) {
	node = &Node{Parent: parent, ID: nodeID}
	return
}

// Copy creates copy of node with empty parent and children.
func (node *Node) Copy() *Node {
	return &Node{
		Name:         node.Name,
		BranchLength: node.BranchLength,
		childNodes:   make([]*Node, 0, len(node.childNodes)),
		ID:           node.ID,
		LeafID:       node.LeafID,
		Class:        node.Class,
	}
}

// AddChild adds a child node.
func (node *Node) AddChild(subNode *Node) {
	subNode.Parent = node
	node.childNodes = append(node.childNodes, subNode)
}

// BrString returns a newick string with branch ids.
func (node *Node) BrString() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s#br%d", node.Name, node.ID)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.BrString()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf(")#br%d", node.ID)
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// String returns a newick string.
func (node *Node) String() (s string) {
	if node.IsTerminal() {
		return fmt.Sprintf("%s:%0.6f", node.Name, node.BranchLength)
	}
	s += "("
	for i, child := range node.childNodes {
		s += child.String()
		if i != len(node.childNodes)-1 {
			s += ","
		}
	}
	s += fmt.Sprintf("):%0.6f", node.BranchLength)
	if node.IsRoot() {
		s += ";"
	}
	return s
}

// LongString returns a node description.
func (node *Node) LongString() (s string) {
	s = "<"
	if node.Parent == nil {
		s += "root, "
	}
	if node.Name != "" {
		s += "name=" + node.Name + ", "
	}
	s += fmt.Sprintf("ID=%v, BranchLength=%v", node.ID, node.BranchLength)
	if node.IsTerminal() {
		s += fmt.Sprintf(", LeafID=%v", node.LeafID)
	}
	if node.Class != 0 {
		s += fmt.Sprintf(", Class=%v", node.Class)
	}
	s += ">"
	return
}

// FullString returns a multiline description of the subtree.
func (node *Node) FullString() string {
	return strings.TrimSpace(node.prefixString(""))
}

func (node *Node) prefixString(prefix string) (s string) {
	s = prefix + node.LongString() + "\n"
	for _, node := range node.childNodes {
		s += node.prefixString(prefix + "    ")
	}
	return
}

// ChildNodes returns node children.
func (node *Node) ChildNodes() []*Node {
	return node.childNodes
}

// Walk sends the subtree nodes to a channel in the pre-order.
func (node *Node) Walk(ch chan *Node, filter func(*Node) bool) {
	if filter == nil || filter(node) {
		ch <- node
	}
	for _, node := range node.childNodes {
		node.Walk(ch, filter)
	}
}

// NSubNodes returns number of nodes in the subtree.
func (node *Node) NSubNodes() (size int) {
	for _, node := range node.childNodes {
		size += node.NSubNodes()
	}
	return size + 1
}

// IsRoot returns true for the root node.
func (node *Node) IsRoot() bool {
	return node.Parent == nil
}

// IsTerminal returns true for the leaves.
func (node *Node) IsTerminal() bool {
	return len(node.childNodes) == 0
}

// IsSpecial returns true for the newick special characters.
func IsSpecial(c rune) bool {
	switch c {
	case '(', ')', ':', '#', ';', ',':
		return true
	}
	return false
}

// NewickSplit is a split function for a bufio.Scanner splitting
// newick into tokens.
func NewickSplit(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	// Skip leading spaces; and return 1-char tokens.
	for width := 0; start < len(data); start += width {
		var r rune
		r, width = utf8.DecodeRune(data[start:])
		if IsSpecial(r) {
			return start + width, data[start : start+width], nil
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Scan until space or special character.
	for width, i := 0, start; i < len(data); i += width {
		var r rune
		r, width = utf8.DecodeRune(data[i:])
		if unicode.IsSpace(r) || IsSpecial(r) {
			return i, data[start:i], nil
		}
	}
	// If we're at EOF, we have a final, non-empty, non-terminated word. Return it.
	if atEOF && len(data) > start {
		return len(data), data[start:], nil
	}
	// Request more data.
	return 0, nil, nil
}

// ParseNewick parses a newick tree. Node IDs are assigned in the
// pre-order, root has ID=0; leaves get LeafID in the order of
// appearance.
func ParseNewick(rd io.Reader) (tree *Tree, err error) {
	scanner := bufio.NewScanner(rd)

	scanner.Split(NewickSplit)

	nodeID := 0

	node := NewNode(nil, nodeID)
	tree = &Tree{Node: node}
	nodeID++

	mode := readName

	for scanner.Scan() {
		text := scanner.Text()
		switch text {
		case "(":
			subNode := NewNode(nil, nodeID)
			nodeID++
			node.AddChild(subNode)
			node = subNode

		case ",":
			if node.Parent == nil {
				return nil, errors.New("top level comma mismatch")
			}
			subNode := NewNode(nil, nodeID)
			nodeID++

			node.Parent.AddChild(subNode)
			node = subNode

		case ")":
			if node.Parent == nil {
				return nil, errors.New("brackets mismatch")
			}
			node = node.Parent
		case "#":
			mode = readClass
		case ":":
			mode = readLength
		case ";":
			if node != tree.Node {
				return nil, errors.New("brackets mismatch")
			}
			return tree.fixLeaves()
		default:
			switch mode {
			case readLength:
				l, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, err
				}
				if l < 0 {
					return nil, fmt.Errorf("negative branch length %v", l)
				}
				node.BranchLength = l
				mode = readName
			case readClass:
				cl, err := strconv.ParseInt(text, 0, 0)
				if err != nil {
					return nil, err
				}
				node.Class = int(cl)
				mode = readName
			default:
				node.Name = text
			}
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}

	return nil, errors.New("unexpected end of tree, missing ';'")
}

// fixLeaves checks leaf names and assigns leaf ids and node ids.
func (tree *Tree) fixLeaves() (*Tree, error) {
	leafID := 0
	names := make(map[string]bool)
	for node := range tree.Walker(nil) {
		if !node.IsTerminal() {
			continue
		}
		if node.Name == "" {
			return nil, errors.New("unnamed leaf")
		}
		if names[node.Name] {
			return nil, fmt.Errorf("duplicate leaf name %s", node.Name)
		}
		names[node.Name] = true
		node.LeafID = leafID
		leafID++
	}
	tree.renumber()
	return tree, nil
}

// renumber assigns node ids in the pre-order starting from zero.
func (tree *Tree) renumber() {
	tree.ClearCache()
	id := 0
	var visit func(*Node)
	visit = func(node *Node) {
		node.ID = id
		id++
		for _, child := range node.childNodes {
			visit(child)
		}
	}
	visit(tree.Node)
}
