package dbl

import (
	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
	"gonum.org/v1/gonum/floats"
)

//FinalizedTree is a complete tree with a response per leaf.
type FinalizedTree struct {
	Nodes      []NodeRecord
	LeafValues []float64 // by node id, zero for split nodes
}

//UpdateOptCoeffs computes the gradient and the hessian of the loss for every row at the current response.
func UpdateOptCoeffs(response, target, optCoeffs *table.Table, loss SplitLoss) error {
	if response.IsEmpty() || target.IsEmpty() || optCoeffs.IsEmpty() {
		return errors.Wrap(ErrNullInput, "response, dependent variable or optimization coefficients")
	}
	h := response.NumberOfRows()
	if target.NumberOfRows() != h || optCoeffs.NumberOfRows() != h {
		return errors.Wrapf(ErrIncorrectNumberOfRows, "response %d, dependent variable %d, coefficients %d rows",
			h, target.NumberOfRows(), optCoeffs.NumberOfRows())
	}
	if optCoeffs.NumberOfColumns() != 2 {
		return errors.Wrapf(ErrIncorrectNumberOfFeatures, "coefficients have %d columns", optCoeffs.NumberOfColumns())
	}

	prediction, err := response.Column(0)
	if err != nil {
		return err
	}
	y, err := target.Column(0)
	if err != nil {
		return err
	}
	block, err := optCoeffs.BlockOfRows(0, h, table.WriteOnly)
	if err != nil {
		return err
	}
	for p := 0; p < h; p++ {
		row := block.Row(p)
		row[0] = loss.lossDer1(y[p], prediction[p])
		row[1] = loss.lossDer2(y[p], prediction[p])
	}
	return optCoeffs.ReleaseBlockOfRows(block)
}

//FinalizeTreeInput is the input of the per round finalization of one partition.
type FinalizeTreeInput struct {
	Tree     *TreeStructure
	Order    *TreeOrder
	Response *table.Table
	Target   *table.Table
	Params   Params
}

//FinalizeTree assigns responses to the leaves of a complete tree, adds them to the partition
//response and returns the summed loss of the partition rows at the new response.
func FinalizeTree(in FinalizeTreeInput) (*FinalizedTree, float64, error) {
	if in.Tree == nil || in.Order == nil {
		return nil, 0, errors.Wrap(ErrNullInput, "tree structure or tree order")
	}
	if in.Response.IsEmpty() || in.Target.IsEmpty() {
		return nil, 0, errors.Wrap(ErrNullInput, "response or dependent variable")
	}
	if in.Tree.HasUnfinished() {
		return nil, 0, errors.Wrap(ErrInconsistentTree, "tree still has unfinished nodes")
	}
	if err := in.Order.CheckPartition(in.Tree); err != nil {
		return nil, 0, err
	}

	finalized := &FinalizedTree{Nodes: in.Tree.Clone().Nodes, LeafValues: make([]float64, len(in.Tree.Nodes))}
	h := in.Response.NumberOfRows()
	block, err := in.Response.BlockOfColumnValues(0, 0, h, table.ReadWrite)
	if err != nil {
		return nil, 0, err
	}
	for _, leaf := range in.Tree.Leaves() {
		value := in.Params.Scorer.LeafWeight(in.Tree.Nodes[leaf].Stats, in.Params) * in.Params.LearningRate
		finalized.LeafValues[leaf] = value
		for _, row := range in.Order.Rows(leaf) {
			block.Data[row] += value
		}
	}

	y, err := in.Target.Column(0)
	if err != nil {
		return nil, 0, err
	}
	losses := make([]float64, h)
	for p := range losses {
		losses[p] = in.Params.Loss.Loss(y[p], block.Data[p])
	}
	if err := in.Response.ReleaseBlockOfColumnValues(block); err != nil {
		return nil, 0, err
	}
	return finalized, floats.Sum(losses), nil
}

//FinalizeInput is the input of the model finalizer.
type FinalizeInput struct {
	InitialResponse float64
	Meta            *BinMetadata
	Trees           []*table.DataCollection // FinalizedTree collections of every partition
	Loss            SplitLoss
	LearningCurve   []float64
}

//FinalizeModel builds the ensemble from the finalized trees. All partitions must hold the same trees.
func FinalizeModel(in FinalizeInput) (*Model, error) {
	if in.Meta == nil || in.Loss == nil {
		return nil, errors.Wrap(ErrNullInput, "bin metadata or loss")
	}
	if len(in.Trees) == 0 || in.Trees[0] == nil {
		return nil, errors.Wrap(ErrNullInput, "no finalized trees")
	}
	reference := in.Trees[0]
	for p, trees := range in.Trees {
		if trees.Size() != reference.Size() {
			return nil, errors.Wrapf(ErrInconsistentTree, "partition %d holds %d trees, partition 0 holds %d", p, trees.Size(), reference.Size())
		}
	}

	model := &Model{
		LossName:        in.Loss.Name(),
		InitialResponse: in.InitialResponse,
		BinBorders:      make([][]float64, in.Meta.NFeatures),
		LearningCurve:   append([]float64(nil), in.LearningCurve...),
	}
	for f, borders := range in.Meta.Borders {
		model.BinBorders[f] = append([]float64(nil), borders...)
	}

	for ind := 0; ind < reference.Size(); ind++ {
		tree, err := table.ItemAs[*FinalizedTree](reference, ind)
		if err != nil {
			return nil, err
		}
		for p := 1; p < len(in.Trees); p++ {
			other, err := table.ItemAs[*FinalizedTree](in.Trees[p], ind)
			if err != nil {
				return nil, err
			}
			if !(&TreeStructure{Nodes: tree.Nodes}).Equal(&TreeStructure{Nodes: other.Nodes}) {
				return nil, errors.Wrapf(ErrInconsistentTree, "tree %d differs on partition %d", ind, p)
			}
		}
		modelTree, err := newModelTree(tree, in.Meta)
		if err != nil {
			return nil, errors.Wrapf(err, "tree %d", ind)
		}
		model.Trees = append(model.Trees, modelTree)
	}
	return model, nil
}

func newModelTree(tree *FinalizedTree, meta *BinMetadata) (ModelTree, error) {
	nodes := make([]ModelNode, len(tree.Nodes))
	for ind, record := range tree.Nodes {
		node := ModelNode{
			ID:              record.ID,
			FeatureIndex:    record.FeatureIndex,
			BinThreshold:    record.BinThreshold,
			Left:            record.Left,
			Right:           record.Right,
			Gain:            record.Gain,
			NumberOfObjects: record.Stats.Count,
			Depth:           record.Depth,
		}
		if record.IsLeaf() {
			node.FeatureIndex = NoSplitFeature
			node.LeafValue = tree.LeafValues[ind]
		} else {
			if record.FeatureIndex < 0 || record.FeatureIndex >= meta.NFeatures ||
				record.BinThreshold < 0 || record.BinThreshold >= meta.BinSizes[record.FeatureIndex] {
				return ModelTree{}, errors.Wrapf(ErrInconsistentTree, "node %d splits feature %d at bin %d",
					ind, record.FeatureIndex, record.BinThreshold)
			}
			node.Threshold = meta.BinValue(record.FeatureIndex, record.BinThreshold)
		}
		nodes[ind] = node
	}
	return ModelTree{Nodes: nodes}, nil
}
