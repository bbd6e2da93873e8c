package dbl

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

//fourByThree is 4 partitions of 3 rows with 2 features. The target jumps from 0 to 10 after x0 = 6.
func fourByThree(t *testing.T) []PartitionData {
	t.Helper()
	partitions := make([]PartitionData, 4)
	for p := range partitions {
		var x, y [][]float64
		for i := 0; i < 3; i++ {
			x0 := float64(3*p + i + 1)
			target := 0.0
			if x0 > 6 {
				target = 10
			}
			x = append(x, []float64{x0, float64(i)})
			y = append(y, []float64{target})
		}
		features, err := table.FromRows(x)
		require.NoError(t, err)
		target, err := table.FromRows(y)
		require.NoError(t, err)
		partitions[p] = PartitionData{Features: features, Target: target}
	}
	return partitions
}

//walk follows a tree with thresholds looked up from the bin borders.
func walk(model *Model, tree ModelTree, row []float64) float64 {
	ind := 0
	for tree.Nodes[ind].Left != -1 {
		node := tree.Nodes[ind]
		if row[node.FeatureIndex] <= model.BinBorders[node.FeatureIndex][node.BinThreshold] {
			ind = node.Left
		} else {
			ind = node.Right
		}
	}
	return tree.Nodes[ind].LeafValue
}

func TestTrainEndToEnd(t *testing.T) {
	params := quietParams()
	params.MaxIterations = 1
	params.MaxBins = 4
	params.MinBinSize = 1
	params.MinObservationsInLeafNode = 1

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), fourByThree(t))
	require.NoError(t, err)

	require.Len(t, model.Trees, 1)
	assert.Equal(t, 5.0, model.InitialResponse)
	assert.Equal(t, [][]float64{{3, 6, 9, 12}, {0, 1, 2}}, model.BinBorders)
	tree := model.Trees[0]
	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, 0, tree.Nodes[0].FeatureIndex)
	assert.Equal(t, 1, tree.Nodes[0].BinThreshold)
	assert.Equal(t, 6.0, tree.Nodes[0].Threshold)
	assert.Equal(t, 6, tree.Nodes[1].NumberOfObjects)

	step := 30.0 / 7.0 * params.LearningRate
	for _, row := range [][]float64{{5.5, 1}, {6, 0}, {100, 2}, {-3, 7}} {
		manual := model.InitialResponse + walk(model, tree, row)
		assert.InDelta(t, manual, predictOne(t, model, row), 1e-12)
	}
	assert.InDelta(t, 5-step, predictOne(t, model, []float64{5.5, 1}), 1e-9)
	assert.InDelta(t, 5+step, predictOne(t, model, []float64{100, 2}), 1e-9)

	require.Len(t, model.LearningCurve, 1)
	assert.InDelta(t, 0.5*(5-step)*(5-step), model.LearningCurve[0], 1e-9)
}

func TestTrainKeepsRowPartitionAndTerminates(t *testing.T) {
	features, target := randomDataset(t, 23, 400, 3)
	params := quietParams()
	params.MaxIterations = 3
	params.MaxTreeDepth = 4
	params.MaxBins = 32
	params.MinObservationsInLeafNode = 3

	observed := 0
	params.Observer = ObserverFunc(func(snapshot IterationSnapshot) {
		observed++
		assert.LessOrEqual(t, snapshot.Iteration, params.MaxTreeDepth)
		for p, tree := range snapshot.Trees {
			assert.True(t, tree.Equal(snapshot.Trees[0]), "partition %d", p)
			assert.NoError(t, snapshot.Orders[p].CheckPartition(tree), "round %d iteration %d partition %d",
				snapshot.Round, snapshot.Iteration, p)
			for _, node := range tree.Nodes {
				assert.LessOrEqual(t, node.Depth, params.MaxTreeDepth)
			}
		}
	})

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), splitDataset(t, features, target, 4))
	require.NoError(t, err)
	assert.Len(t, model.Trees, 3)
	assert.GreaterOrEqual(t, observed, 3)
	assert.LessOrEqual(t, observed, 3*params.MaxTreeDepth)

	for _, tree := range model.Trees {
		leaves := 0
		for _, node := range tree.Nodes {
			if node.IsLeaf() {
				leaves++
				assert.GreaterOrEqual(t, node.NumberOfObjects, params.MinObservationsInLeafNode)
			}
		}
		assert.Equal(t, len(tree.Nodes)/2+1, leaves)
	}
}

func TestTrainReducesSquaredLoss(t *testing.T) {
	features, target := randomDataset(t, 29, 300, 2)
	params := quietParams()
	params.MaxIterations = 8
	params.MaxTreeDepth = 3

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), splitDataset(t, features, target, 3))
	require.NoError(t, err)

	require.Len(t, model.LearningCurve, 8)
	for ind := 1; ind < len(model.LearningCurve); ind++ {
		assert.LessOrEqual(t, model.LearningCurve[ind], model.LearningCurve[ind-1]+1e-12)
	}
	assert.Less(t, model.LearningCurve[7], 0.5*model.LearningCurve[0])

	prediction, err := model.PredictValue(features.Dense(), nil)
	require.NoError(t, err)
	y, err := target.Column(0)
	require.NoError(t, err)
	predicted := make([]float64, len(y))
	for p := range predicted {
		predicted[p] = prediction.At(p, 0)
	}
	assert.InDelta(t, math.Sqrt(2*model.LearningCurve[7]), Rmse(y, predicted), 1e-9)
}

func TestTrainHandlesConstantFeatures(t *testing.T) {
	rows := 128
	x := make([][]float64, rows)
	y := make([][]float64, rows)
	mean := 0.0
	for i := range x {
		tVal := float64(i) / float64(rows-1)
		x[i] = []float64{0, 0, 0}
		y[i] = []float64{0.3 + 0.5*tVal + 0.2*math.Sin(50*tVal)}
		mean += y[i][0] / float64(rows)
	}
	features, err := table.FromRows(x)
	require.NoError(t, err)
	target, err := table.FromRows(y)
	require.NoError(t, err)

	params := quietParams()
	params.MaxIterations = 1
	params.LearningRate = 1
	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), splitDataset(t, features, target, 2))
	require.NoError(t, err)

	require.Len(t, model.Trees, 1)
	require.Len(t, model.Trees[0].Nodes, 1)
	assert.Equal(t, NoSplitFeature, model.Trees[0].Nodes[0].FeatureIndex)
	assert.InDelta(t, mean, predictOne(t, model, []float64{0, 0, 0}), 1e-9)
}

func TestTrainLogisticLoss(t *testing.T) {
	features, _ := randomDataset(t, 31, 200, 2)
	labels := make([]float64, 200)
	for p := range labels {
		if features.At(p, 0) > 0.5 {
			labels[p] = 1
		}
	}
	params := quietParams()
	params.Loss = LogLoss{}
	params.MaxIterations = 10

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), splitDataset(t, features, columnTable(t, labels), 2))
	require.NoError(t, err)

	assert.Equal(t, "logistic", model.LossName)
	assert.Greater(t, predictOne(t, model, []float64{0.9, 0.5}), 0.8)
	assert.Less(t, predictOne(t, model, []float64{0.1, 0.5}), 0.2)
}

func TestTrainPoissonLossWithVarianceScorer(t *testing.T) {
	features, _ := randomDataset(t, 37, 200, 2)
	counts := make([]float64, 200)
	for p := range counts {
		counts[p] = math.Floor(4 * features.At(p, 0))
	}
	params := quietParams()
	params.Loss = PoissonLoss{}
	params.Scorer = VarianceReductionScorer{}
	params.MaxIterations = 5

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	model, err := trainer.Train(context.Background(), splitDataset(t, features, columnTable(t, counts), 4))
	require.NoError(t, err)
	assert.Len(t, model.Trees, 5)
	assert.Greater(t, predictOne(t, model, []float64{0.95, 0.5}), predictOne(t, model, []float64{0.05, 0.5}))
	assert.Greater(t, predictOne(t, model, []float64{0.05, 0.5}), 0.0)
}

func TestTrainFailures(t *testing.T) {
	params := quietParams()
	params.MaxIterations = 1
	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	_, err = trainer.Train(context.Background(), nil)
	require.ErrorIs(t, err, ErrNullInput)

	partitions := fourByThree(t)
	partitions[2].Features = columnTable(t, []float64{1, 2, 3})
	_, err = trainer.Train(context.Background(), partitions)
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)
	assert.Contains(t, err.Error(), "master binning merge")

	partitions = fourByThree(t)
	partitions[1].Target = columnTable(t, []float64{1, 2})
	_, err = trainer.Train(context.Background(), partitions)
	require.ErrorIs(t, err, ErrIncorrectNumberOfRows)
	assert.Contains(t, err.Error(), "partition 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trainer.Train(ctx, fourByThree(t))
	require.ErrorIs(t, err, context.Canceled)

	params.MaxBins = 1
	_, err = NewTrainer(params)
	require.ErrorIs(t, err, ErrIncorrectParameter)
}

func TestSplitIntoPartitions(t *testing.T) {
	features, target := randomDataset(t, 41, 10, 2)
	partitions, err := SplitIntoPartitions(features, target, 3)
	require.NoError(t, err)
	require.Len(t, partitions, 3)
	rows := 0
	for _, part := range partitions {
		rows += part.Features.NumberOfRows()
		assert.Equal(t, part.Features.NumberOfRows(), part.Target.NumberOfRows())
	}
	assert.Equal(t, 10, rows)
	assert.Equal(t, features.At(9, 1), partitions[2].Features.At(partitions[2].Features.NumberOfRows()-1, 1))

	_, err = SplitIntoPartitions(features, target, 11)
	require.ErrorIs(t, err, ErrIncorrectParameter)
}
