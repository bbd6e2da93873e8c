package dbl

import (
	"io"
	"log"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/backend"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

func quietParams() Params {
	params := DefaultParams()
	params.Logger = log.New(io.Discard, "", 0)
	params.Executor = backend.NewExecutor(backend.Generic, 2)
	return params
}

func columnTable(t *testing.T, cols ...[]float64) *table.Table {
	t.Helper()
	tbl, err := table.FromColumns(cols...)
	require.NoError(t, err)
	return tbl
}

//randomDataset draws rows x w features in [0, 1) and a target driven by the first two features.
func randomDataset(t *testing.T, seed int64, rows, w int) (*table.Table, *table.Table) {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	x := make([][]float64, rows)
	y := make([][]float64, rows)
	for p := range x {
		x[p] = make([]float64, w)
		for q := range x[p] {
			x[p][q] = rnd.Float64()
		}
		y[p] = []float64{3*x[p][0] - 2*x[p][1%w] + 0.1*rnd.NormFloat64()}
	}
	features, err := table.FromRows(x)
	require.NoError(t, err)
	target, err := table.FromRows(y)
	require.NoError(t, err)
	return features, target
}

func splitDataset(t *testing.T, features, target *table.Table, n int) []PartitionData {
	t.Helper()
	partitions, err := SplitIntoPartitions(features, target, n)
	require.NoError(t, err)
	return partitions
}

//binPartitions runs the three binning steps over the partitions.
func binPartitions(t *testing.T, partitions []PartitionData, maxBins, minBinSize int) (*BinMetadata, float64, []*LocalBinning) {
	t.Helper()
	stats := make([]*LocalBinningStats, len(partitions))
	for p, data := range partitions {
		var err error
		stats[p], err = LocalBinningPass1(p, data.Features, data.Target, maxBins)
		require.NoError(t, err)
	}
	meta, initial, err := MergeBinning(stats, maxBins, minBinSize, MseLoss{})
	require.NoError(t, err)

	locals := make([]*LocalBinning, len(partitions))
	for p, data := range partitions {
		locals[p], err = LocalBinningPass2(data.Features, meta)
		require.NoError(t, err)
	}
	return meta, initial, locals
}

//optCoeffsAt computes gradients and hessians of the squared loss at a constant prediction.
func optCoeffsAt(t *testing.T, target *table.Table, prediction float64) *table.Table {
	t.Helper()
	h := target.NumberOfRows()
	response, err := table.New(h, 1)
	require.NoError(t, err)
	for p := 0; p < h; p++ {
		response.Set(p, 0, prediction)
	}
	coeffs, err := table.New(h, 2)
	require.NoError(t, err)
	require.NoError(t, UpdateOptCoeffs(response, target, coeffs, MseLoss{}))
	return coeffs
}

//predictOne predicts a single row and fails the test on error.
func predictOne(t *testing.T, model *Model, row []float64) float64 {
	t.Helper()
	v, err := model.Predict(row)
	require.NoError(t, err)
	return v
}
