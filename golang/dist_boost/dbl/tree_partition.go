package dbl

import (
	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

//PartitionInput is the input of the tree partitioner of one partition.
type PartitionInput struct {
	Binned *BinnedData
	Meta   *BinMetadata
	Tree   *TreeStructure
	Order  *TreeOrder
	Splits *table.DataCollection // BestSplit per unfinished node, identical on every partition
	Params Params
}

//PartitionTree applies the best splits: rows of every split node are regrouped into the ranges of
//its two new children and the children are appended to the tree. The input tree and order are left intact.
func PartitionTree(in PartitionInput) (*TreeStructure, *TreeOrder, error) {
	if in.Tree == nil || in.Order == nil || in.Splits == nil {
		return nil, nil, errors.Wrap(ErrNullInput, "tree structure, tree order or best splits")
	}
	if in.Binned == nil || in.Meta == nil {
		return nil, nil, errors.Wrap(ErrNullInput, "binned data or bin metadata")
	}
	if len(in.Order.Ranges) != len(in.Tree.Nodes) {
		return nil, nil, errors.Wrapf(ErrInconsistentTree, "%d ranges for %d nodes", len(in.Order.Ranges), len(in.Tree.Nodes))
	}

	tree := in.Tree.Clone()
	order := in.Order.Clone()

	splits := make(map[int]BestSplit, in.Splits.Size())
	for ind := 0; ind < in.Splits.Size(); ind++ {
		split, err := table.ItemAs[BestSplit](in.Splits, ind)
		if err != nil {
			return nil, nil, err
		}
		node, err := tree.Node(split.NodeID)
		if err != nil {
			return nil, nil, err
		}
		if node.Finished {
			return nil, nil, errors.Wrapf(ErrInconsistentTree, "split record for finished node %d", split.NodeID)
		}
		if split.Valid() {
			if split.FeatureIndex < 0 || split.FeatureIndex >= in.Meta.NFeatures {
				return nil, nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "node %d splits feature %d of %d",
					split.NodeID, split.FeatureIndex, in.Meta.NFeatures)
			}
			if split.BinIndex < 0 || split.BinIndex >= in.Meta.BinSizes[split.FeatureIndex] {
				return nil, nil, errors.Wrapf(ErrInconsistentTree, "node %d splits feature %d at bin %d of %d",
					split.NodeID, split.FeatureIndex, split.BinIndex, in.Meta.BinSizes[split.FeatureIndex])
			}
		}
		splits[split.NodeID] = split
	}

	frontier := tree.Frontier()
	for _, node := range frontier {
		if _, ok := splits[node]; !ok {
			return nil, nil, errors.Wrapf(ErrInconsistentTree, "no split record for node %d", node)
		}
	}

	leftCounts := make([]int, len(frontier))
	err := in.Params.executor().ParallelFor(len(frontier), func(ind int) error {
		split := splits[frontier[ind]]
		if !split.Valid() {
			return nil
		}
		leftCounts[ind] = partitionRows(order.Rows(split.NodeID), in.Binned.Column(split.FeatureIndex), int32(split.BinIndex))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for ind, node := range frontier {
		split := splits[node]
		current := &tree.Nodes[node]
		current.Stats = split.Node
		current.Finished = true
		if !split.Valid() {
			continue
		}

		r := order.Ranges[node]
		leftID, rightID := len(tree.Nodes), len(tree.Nodes)+1
		current.FeatureIndex = split.FeatureIndex
		current.BinThreshold = split.BinIndex
		current.Gain = split.Gain
		current.Left, current.Right = leftID, rightID

		depth := current.Depth + 1
		left := newNodeRecord(leftID, node, depth)
		left.Stats = split.Left
		left.Finished = isTerminal(depth, split.Left, in.Params)
		right := newNodeRecord(rightID, node, depth)
		right.Stats = split.Right
		right.Finished = isTerminal(depth, split.Right, in.Params)

		tree.Nodes = append(tree.Nodes, left, right)
		order.Ranges = append(order.Ranges,
			NodeRange{Start: r.Start, Count: leftCounts[ind]},
			NodeRange{Start: r.Start + leftCounts[ind], Count: r.Count - leftCounts[ind]})
	}
	return tree, order, nil
}

//isTerminal tells whether a fresh child can never be split. Counts are global.
func isTerminal(depth int, stats Stats, p Params) bool {
	return depth >= p.MaxTreeDepth || stats.Count < 2*p.MinObservationsInLeafNode
}

//partitionRows moves rows with bin <= threshold to the front and returns their number.
func partitionRows(rows []int, column []int32, threshold int32) int {
	lo, hi := 0, len(rows)-1
	for lo <= hi {
		if column[rows[lo]] <= threshold {
			lo++
			continue
		}
		rows[lo], rows[hi] = rows[hi], rows[lo]
		hi--
	}
	return lo
}
