package dbl

import (
	"github.com/pkg/errors"
)

//Stats are the sufficient statistics of a set of rows.
type Stats struct {
	Grad, Hess float64
	Count      int
}

//Add returns the sum of two statistics.
func (s Stats) Add(other Stats) Stats {
	return Stats{s.Grad + other.Grad, s.Hess + other.Hess, s.Count + other.Count}
}

//Sub returns the difference of two statistics.
func (s Stats) Sub(other Stats) Stats {
	return Stats{s.Grad - other.Grad, s.Hess - other.Hess, s.Count - other.Count}
}

//NodeRecord is a node of a tree under construction. Tree is stored in an array, Left and Right
//are equal to -1 while the node is a leaf otherwise they contain array indices of children.
type NodeRecord struct {
	ID           int
	Parent       int // -1 for the root
	Depth        int
	FeatureIndex int // NoSplitFeature for leaves
	BinThreshold int
	Left, Right  int
	Finished     bool
	Gain         float64
	Stats        Stats
}

//IsLeaf returns whether the node has no children.
func (node NodeRecord) IsLeaf() bool {
	return node.Left == -1
}

func newNodeRecord(id, parent, depth int) NodeRecord {
	return NodeRecord{ID: id, Parent: parent, Depth: depth, FeatureIndex: NoSplitFeature, BinThreshold: -1, Left: -1, Right: -1}
}

//TreeStructure is the tree of the current boosting round. Every partition holds an identical copy.
type TreeStructure struct {
	Nodes []NodeRecord
}

//NewTreeStructure creates a tree with an unfinished root.
func NewTreeStructure() *TreeStructure {
	return &TreeStructure{Nodes: []NodeRecord{newNodeRecord(0, -1, 0)}}
}

//Clone returns a deep copy.
func (tree *TreeStructure) Clone() *TreeStructure {
	nodes := make([]NodeRecord, len(tree.Nodes))
	copy(nodes, tree.Nodes)
	return &TreeStructure{Nodes: nodes}
}

//Node returns the node with the given id.
func (tree *TreeStructure) Node(id int) (NodeRecord, error) {
	if id < 0 || id >= len(tree.Nodes) {
		return NodeRecord{}, errors.Wrapf(ErrInconsistentTree, "node %d of %d", id, len(tree.Nodes))
	}
	return tree.Nodes[id], nil
}

//Frontier returns ids of unfinished nodes in ascending order.
func (tree *TreeStructure) Frontier() []int {
	var frontier []int
	for _, node := range tree.Nodes {
		if !node.Finished {
			frontier = append(frontier, node.ID)
		}
	}
	return frontier
}

//HasUnfinished reports whether the tree still grows.
func (tree *TreeStructure) HasUnfinished() bool {
	for _, node := range tree.Nodes {
		if !node.Finished {
			return true
		}
	}
	return false
}

//Leaves returns ids of leaf nodes in ascending order.
func (tree *TreeStructure) Leaves() []int {
	var leaves []int
	for _, node := range tree.Nodes {
		if node.IsLeaf() {
			leaves = append(leaves, node.ID)
		}
	}
	return leaves
}

//Sibling returns the other child of the parent of id, -1 for the root.
func (tree *TreeStructure) Sibling(id int) int {
	parent := tree.Nodes[id].Parent
	if parent < 0 {
		return -1
	}
	if tree.Nodes[parent].Left == id {
		return tree.Nodes[parent].Right
	}
	return tree.Nodes[parent].Left
}

//Equal compares two structures node by node.
func (tree *TreeStructure) Equal(other *TreeStructure) bool {
	if len(tree.Nodes) != len(other.Nodes) {
		return false
	}
	for ind := range tree.Nodes {
		if tree.Nodes[ind] != other.Nodes[ind] {
			return false
		}
	}
	return true
}

//NodeRange is the slice [Start, Start+Count) of a tree order that belongs to one node.
type NodeRange struct {
	Start, Count int
}

//TreeOrder is a permutation of the local rows of a partition grouped by node.
//The range of a split node covers the ranges of its children.
type TreeOrder struct {
	Perm   []int
	Ranges []NodeRange // indexed by node id
}

//NewTreeOrder puts all n rows into the root.
func NewTreeOrder(n int) *TreeOrder {
	perm := make([]int, n)
	for ind := range perm {
		perm[ind] = ind
	}
	return &TreeOrder{Perm: perm, Ranges: []NodeRange{{0, n}}}
}

//Clone returns a deep copy.
func (order *TreeOrder) Clone() *TreeOrder {
	perm := make([]int, len(order.Perm))
	copy(perm, order.Perm)
	ranges := make([]NodeRange, len(order.Ranges))
	copy(ranges, order.Ranges)
	return &TreeOrder{Perm: perm, Ranges: ranges}
}

//Rows returns the rows of node id. The slice aliases Perm.
func (order *TreeOrder) Rows(id int) []int {
	r := order.Ranges[id]
	return order.Perm[r.Start : r.Start+r.Count]
}

//Count returns the number of local rows in node id.
func (order *TreeOrder) Count(id int) int {
	return order.Ranges[id].Count
}

//CheckPartition verifies that the leaves of tree split all local rows into disjoint groups.
func (order *TreeOrder) CheckPartition(tree *TreeStructure) error {
	if len(order.Ranges) != len(tree.Nodes) {
		return errors.Wrapf(ErrInconsistentTree, "%d ranges for %d nodes", len(order.Ranges), len(tree.Nodes))
	}
	seen := make([]bool, len(order.Perm))
	total := 0
	for _, id := range tree.Leaves() {
		r := order.Ranges[id]
		if r.Start < 0 || r.Count < 0 || r.Start+r.Count > len(order.Perm) {
			return errors.Wrapf(ErrInconsistentTree, "node %d range [%d, %d)", id, r.Start, r.Start+r.Count)
		}
		for _, row := range order.Rows(id) {
			if row < 0 || row >= len(seen) || seen[row] {
				return errors.Wrapf(ErrInconsistentTree, "row %d is repeated or out of range in node %d", row, id)
			}
			seen[row] = true
		}
		total += r.Count
	}
	if total != len(order.Perm) {
		return errors.Wrapf(ErrInconsistentTree, "leaves hold %d of %d rows", total, len(order.Perm))
	}
	return nil
}
