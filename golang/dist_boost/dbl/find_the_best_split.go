package dbl

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

//NoSplitFeature marks a best split record of a node that can not be split.
const NoSplitFeature = -1

//BestSplit stores information about the best split of one node: a feature, a bin threshold,
//the gain and statistics of the node and of both sides.
type BestSplit struct {
	NodeID       int
	FeatureIndex int
	BinIndex     int
	Gain         float64
	Node         Stats
	Left, Right  Stats
}

func noSplit(node int, stats Stats) BestSplit {
	return BestSplit{NodeID: node, FeatureIndex: NoSplitFeature, BinIndex: -1, Gain: math.Inf(-1), Node: stats}
}

//Valid reports whether the record describes a real split.
func (split BestSplit) Valid() bool {
	return split.FeatureIndex != NoSplitFeature
}

//gainTolerance is the relative difference below which two gains are a tie.
const gainTolerance = 1e-12

//sameGain reports whether two gains differ only by rounding.
func sameGain(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	return math.Abs(a-b) <= gainTolerance*math.Max(math.Abs(a), math.Abs(b))
}

//better orders candidates: greater gain, then lower feature, then lower bin.
//Gains equal up to rounding count as equal.
func (split BestSplit) better(other BestSplit) bool {
	if !sameGain(split.Gain, other.Gain) {
		return split.Gain > other.Gain
	}
	if split.FeatureIndex != other.FeatureIndex {
		return split.FeatureIndex < other.FeatureIndex
	}
	return split.BinIndex < other.BinIndex
}

//SplitInput is the input of the split finder of one partition.
type SplitInput struct {
	Partition    int
	NPartitions  int
	Meta         *BinMetadata
	Tree         *TreeStructure
	Partials     []*HistogramSet // partial histograms of every partition
	ParentTotals *HistogramSet   // totals of this partition from the previous iteration, may be nil
	Params       Params
}

//SplitResult carries the best splits of the features processed by one partition.
type SplitResult struct {
	Partition int
	Splits    *table.DataCollection // BestSplit per frontier node in ascending node order
	Totals    *HistogramSet
}

//MergeHistograms sums partial histograms of one node.
func MergeHistograms(node, totalBins int, partials []*Histogram) (*Histogram, error) {
	total, err := NewHistogram(node, totalBins)
	if err != nil {
		return nil, err
	}
	for _, partial := range partials {
		if partial == nil {
			continue
		}
		if partial.Bins() != totalBins {
			return nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "partial histogram of node %d has %d bins, expected %d",
				node, partial.Bins(), totalBins)
		}
		if err := total.AddInPlace(partial); err != nil {
			return nil, err
		}
	}
	return total, nil
}

//FindSplits merges the partial histograms for the features assigned to the partition and
//finds the best split of every unfinished node over these features.
//Totals hold the bins of the assigned features only, the rest is zero.
func FindSplits(in SplitInput) (*SplitResult, error) {
	if in.Tree == nil || in.Meta == nil {
		return nil, errors.Wrap(ErrNullInput, "tree structure or bin metadata")
	}
	if in.NPartitions < 1 || len(in.Partials) != in.NPartitions {
		return nil, errors.Wrapf(ErrIncorrectParameter, "%d partial histogram sets for %d partitions", len(in.Partials), in.NPartitions)
	}
	if in.Params.Scorer == nil {
		return nil, errors.Wrap(ErrIncorrectParameter, "nil split scorer")
	}
	result := &SplitResult{Partition: in.Partition, Splits: table.NewDataCollection(), Totals: NewHistogramSet()}
	features := processedFeatures(in.Partition, in.Meta.NFeatures, in.NPartitions)
	frontier := in.Tree.Frontier()
	if len(features) == 0 || len(frontier) == 0 {
		return result, nil
	}

	merge := func(node int) (*Histogram, error) {
		partials := make([]*Histogram, 0, len(in.Partials))
		for p, set := range in.Partials {
			h, ok := set.Get(node)
			if !ok {
				return nil, errors.Wrapf(ErrInconsistentTree, "partition %d has no histogram of node %d", p, node)
			}
			partials = append(partials, h)
		}
		return mergeFeatures(node, in.Meta, features, partials)
	}

	inFrontier := make(map[int]bool, len(frontier))
	for _, node := range frontier {
		inFrontier[node] = true
	}
	for _, node := range frontier {
		record := in.Tree.Nodes[node]
		if _, ok := result.Totals.Get(node); ok {
			continue
		}
		sibling := in.Tree.Sibling(node)
		parentTotal, parentKnown := in.ParentTotals.Get(record.Parent)
		if !parentKnown || sibling < 0 || !inFrontier[sibling] {
			total, err := merge(node)
			if err != nil {
				return nil, err
			}
			result.Totals.Put(total)
			continue
		}
		// both children are growing: merge one, derive the other
		total, err := merge(node)
		if err != nil {
			return nil, err
		}
		derived, err := subtractFeatures(sibling, in.Meta, features, parentTotal, total)
		if err != nil {
			return nil, err
		}
		result.Totals.Put(total)
		result.Totals.Put(derived)
	}

	splits := make([]BestSplit, len(frontier))
	err := in.Params.executor().ParallelFor(len(frontier), func(ind int) error {
		total, _ := result.Totals.Get(frontier[ind])
		splits[ind] = scanNode(total, in.Meta, features, in.Params)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, split := range splits {
		result.Splits.PushBack(split)
	}
	return result, nil
}

//scanNode walks the bins of every feature keeping cumulative left statistics.
func scanNode(total *Histogram, meta *BinMetadata, features []int, p Params) BestSplit {
	nodeStats := total.Totals(meta, features[0])
	best := noSplit(total.Node, nodeStats)
	scorer := p.Scorer
	for _, f := range features {
		var left Stats
		for b := 0; b < meta.BinSizes[f]-1; b++ {
			left = left.Add(total.Cell(meta.BinOffsets[f] + b))
			right := nodeStats.Sub(left)
			if left.Count < p.MinObservationsInLeafNode || right.Count < p.MinObservationsInLeafNode {
				continue
			}
			if left.Hess < p.MinChildWeight || right.Hess < p.MinChildWeight {
				continue
			}
			gain := scorer.Gain(left, right, nodeStats, p)
			if gain <= 0 || math.IsNaN(gain) {
				continue
			}
			candidate := BestSplit{NodeID: total.Node, FeatureIndex: f, BinIndex: b, Gain: gain, Node: nodeStats, Left: left, Right: right}
			if candidate.better(best) {
				best = candidate
			}
		}
	}
	return best
}

//MergeBestSplits picks the best record of every unfinished node over the results of all partitions.
//The returned collection is broadcast to every partition.
func MergeBestSplits(results []*SplitResult, tree *TreeStructure) (*table.DataCollection, error) {
	if tree == nil {
		return nil, errors.Wrap(ErrNullInput, "tree structure")
	}
	ordered := make([]*SplitResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			ordered = append(ordered, res)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Partition < ordered[j].Partition })

	best := make(map[int]BestSplit)
	for _, res := range ordered {
		for ind := 0; ind < res.Splits.Size(); ind++ {
			split, err := table.ItemAs[BestSplit](res.Splits, ind)
			if err != nil {
				return nil, err
			}
			current, ok := best[split.NodeID]
			if !ok || split.better(current) {
				best[split.NodeID] = split
			}
		}
	}

	merged := table.NewDataCollection()
	for _, node := range tree.Frontier() {
		split, ok := best[node]
		if !ok {
			return nil, errors.Wrapf(ErrInconsistentTree, "no split record of node %d", node)
		}
		merged.PushBack(split)
	}
	return merged, nil
}
