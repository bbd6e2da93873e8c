package dbl

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

//ModelNode is a node of a trained tree. Left and Right are -1 for leaves.
//A row goes to the left child when its feature value is not greater than Threshold.
type ModelNode struct {
	ID              int
	FeatureIndex    int
	BinThreshold    int
	Threshold       float64
	Left, Right     int
	LeafValue       float64
	Gain            float64
	NumberOfObjects int
	Depth           int
}

//IsLeaf returns whether this node is a leaf.
func (node ModelNode) IsLeaf() bool {
	return node.Left == -1
}

//ModelTree is one tree of the ensemble stored in an array, the root is at 0.
type ModelTree struct {
	Nodes []ModelNode
}

//Leaf walks the tree for one row and returns the index of the reached leaf.
func (tree ModelTree) Leaf(row []float64) (int, error) {
	ind := 0
	for {
		if ind < 0 || ind >= len(tree.Nodes) {
			return 0, errors.Wrapf(ErrInconsistentTree, "node %d of %d", ind, len(tree.Nodes))
		}
		node := tree.Nodes[ind]
		if node.IsLeaf() {
			return ind, nil
		}
		if node.FeatureIndex < 0 || node.FeatureIndex >= len(row) {
			return 0, errors.Wrapf(ErrIncorrectNumberOfFeatures, "node %d splits feature %d of a row of %d", ind, node.FeatureIndex, len(row))
		}
		if row[node.FeatureIndex] <= node.Threshold {
			ind = node.Left
		} else {
			ind = node.Right
		}
	}
}

//PredictRow returns the contribution of the tree for one row.
func (tree ModelTree) PredictRow(row []float64) (float64, error) {
	leaf, err := tree.Leaf(row)
	if err != nil {
		return 0, err
	}
	return tree.Nodes[leaf].LeafValue, nil
}

//check verifies that children follow their parents and splits refer to known features and bins.
func (tree ModelTree) check(borders [][]float64) error {
	if len(tree.Nodes) == 0 {
		return errors.Wrap(ErrInconsistentTree, "empty tree")
	}
	for ind, node := range tree.Nodes {
		if node.IsLeaf() {
			if node.Right != -1 {
				return errors.Wrapf(ErrInconsistentTree, "leaf %d has right child %d", ind, node.Right)
			}
			continue
		}
		for _, child := range []int{node.Left, node.Right} {
			if child <= ind || child >= len(tree.Nodes) {
				return errors.Wrapf(ErrInconsistentTree, "node %d has child %d of %d nodes", ind, child, len(tree.Nodes))
			}
		}
		if node.Left == node.Right {
			return errors.Wrapf(ErrInconsistentTree, "node %d has equal children", ind)
		}
		if node.FeatureIndex < 0 || node.FeatureIndex >= len(borders) {
			return errors.Wrapf(ErrIncorrectNumberOfFeatures, "node %d splits feature %d of %d", ind, node.FeatureIndex, len(borders))
		}
		if node.BinThreshold < 0 || node.BinThreshold >= len(borders[node.FeatureIndex]) {
			return errors.Wrapf(ErrInconsistentTree, "node %d splits feature %d at bin %d of %d",
				ind, node.FeatureIndex, node.BinThreshold, len(borders[node.FeatureIndex]))
		}
	}
	return nil
}

//Model is a trained ensemble. It does not depend on the partitions it was trained on.
type Model struct {
	LossName        string
	InitialResponse float64
	BinBorders      [][]float64
	Trees           []ModelTree
	LearningCurve   []float64 // mean training loss after each tree
}

//NumberOfFeatures is the width of rows the model expects.
func (model *Model) NumberOfFeatures() int {
	return len(model.BinBorders)
}

func (model *Model) loss() SplitLoss {
	loss, err := LossByName(model.LossName)
	if err != nil {
		return MseLoss{}
	}
	return loss
}

func (model *Model) treesLimit(treesNumber *int) int {
	if treesNumber == nil || *treesNumber > len(model.Trees) || *treesNumber < 0 {
		return len(model.Trees)
	}
	return *treesNumber
}

//RawPredict sums the initial response and the first n trees for one row.
func (model *Model) RawPredict(row []float64, treesNumber *int) (float64, error) {
	if len(row) != model.NumberOfFeatures() {
		return 0, errors.Wrapf(ErrIncorrectNumberOfFeatures, "model expects %d features, got %d", model.NumberOfFeatures(), len(row))
	}
	s := model.InitialResponse
	n := model.treesLimit(treesNumber)
	for ind := 0; ind < n; ind++ {
		v, err := model.Trees[ind].PredictRow(row)
		if err != nil {
			return 0, errors.Wrapf(err, "tree %d", ind)
		}
		s += v
	}
	return s, nil
}

//Predict returns the prediction for one row in the target space.
func (model *Model) Predict(row []float64) (float64, error) {
	raw, err := model.RawPredict(row, nil)
	if err != nil {
		return 0, err
	}
	return model.loss().Response(raw), nil
}

//PredictValue infers values of the target for every row of features. treesNumber limits the number of trees used.
func (model *Model) PredictValue(features *mat.Dense, treesNumber *int) (*mat.Dense, error) {
	if features == nil || features.IsEmpty() {
		return nil, errors.Wrap(ErrNullInput, "features")
	}
	h, w := features.Dims()
	if w != model.NumberOfFeatures() {
		return nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "model expects %d features, got %d", model.NumberOfFeatures(), w)
	}
	loss := model.loss()
	prediction := mat.NewDense(h, 1, nil)
	for p := 0; p < h; p++ {
		raw, err := model.RawPredict(features.RawRowView(p), treesNumber)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", p)
		}
		prediction.Set(p, 0, loss.Response(raw))
	}
	return prediction, nil
}

//Bin maps a value of feature f to the bin it had during training.
func (model *Model) Bin(f int, v float64) int {
	return int((&BinMetadata{Borders: model.BinBorders}).Bin(f, v))
}

//FeatureImportance sums split gains per feature over all trees.
func (model *Model) FeatureImportance() []float64 {
	importance := make([]float64, model.NumberOfFeatures())
	for _, tree := range model.Trees {
		for _, node := range tree.Nodes {
			if !node.IsLeaf() {
				importance[node.FeatureIndex] += node.Gain
			}
		}
	}
	return importance
}

//TopFeatures returns feature indices ordered by decreasing importance.
func (model *Model) TopFeatures() []int {
	importance := model.FeatureImportance()
	order := make([]int, len(importance))
	for ind := range order {
		order[ind] = ind
	}
	sort.SliceStable(order, func(i, j int) bool { return importance[order[i]] > importance[order[j]] })
	return order
}

//Save writes the model as indented JSON.
func (model *Model) Save(filename string) (err error) {
	dest, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "can't open file %s to write", filename)
	}
	defer func() {
		if closeErr := dest.Close(); err == nil {
			err = closeErr
		}
	}()

	modelByteRepr, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	_, err = dest.Write(modelByteRepr)
	return err
}

//LoadModel reads a model written by Save.
func LoadModel(filename string) (*Model, error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() { _ = source.Close() }()

	var model Model
	if err := json.NewDecoder(source).Decode(&model); err != nil {
		return nil, errors.Wrapf(err, "decode model %s", filename)
	}
	if _, err := LossByName(model.LossName); err != nil {
		return nil, err
	}
	for ind, tree := range model.Trees {
		if err := tree.check(model.BinBorders); err != nil {
			return nil, errors.Wrapf(err, "model %s, tree %d", filename, ind)
		}
	}
	return &model, nil
}

//LearningCurvesDump is the file layout of DumpLearningCurves.
type LearningCurvesDump struct {
	Titles []string
	Values [][]float64
}

//DumpLearningCurves writes the training loss after every tree.
func (model *Model) DumpLearningCurves(filenameLearningCurves string) (err error) {
	destination, err := os.Create(filenameLearningCurves)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := destination.Close(); err == nil {
			err = closeErr
		}
	}()

	learningCurvesDump := LearningCurvesDump{Titles: []string{"train " + model.LossName}, Values: make([][]float64, 0)}
	for _, value := range model.LearningCurve {
		learningCurvesDump.Values = append(learningCurvesDump.Values, []float64{value})
	}

	bytesResult, err := json.MarshalIndent(learningCurvesDump, "", "  ")
	if err != nil {
		return err
	}
	_, err = destination.Write(bytesResult)
	return err
}
