package dbl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

func TestBinningDoesNotDependOnPartitionOrder(t *testing.T) {
	features, target := randomDataset(t, 7, 500, 3)
	partitions := splitDataset(t, features, target, 4)

	stats := make([]*LocalBinningStats, len(partitions))
	for p, data := range partitions {
		var err error
		stats[p], err = LocalBinningPass1(p, data.Features, data.Target, 16)
		require.NoError(t, err)
	}
	reversed := []*LocalBinningStats{stats[3], stats[1], stats[2], stats[0]}

	meta, initial, err := MergeBinning(stats, 16, 5, MseLoss{})
	require.NoError(t, err)
	metaReversed, initialReversed, err := MergeBinning(reversed, 16, 5, MseLoss{})
	require.NoError(t, err)
	assert.Equal(t, meta, metaReversed)
	assert.Equal(t, initial, initialReversed)

	again, _, _ := binPartitions(t, splitDataset(t, features, target, 4), 16, 5)
	assert.Equal(t, meta.Borders, again.Borders)
}

func TestBinningRespectsMaxBinsAndMinBinSize(t *testing.T) {
	first, second, y := make([]float64, 1000), make([]float64, 1000), make([]float64, 1000)
	for p := range first {
		first[p] = float64(p*37%100) / 100
		second[p] = float64(p*13%50) / 50
		y[p] = float64(p % 7)
	}
	partitions := splitDataset(t, columnTable(t, first, second), columnTable(t, y), 3)
	meta, _, locals := binPartitions(t, partitions, 16, 5)

	populations := make([]int, meta.TotalBins())
	for _, local := range locals {
		for bin, count := range local.Populations {
			populations[bin] += count
		}
	}
	assert.Equal(t, []int{15, 13}, meta.BinSizes)
	for f := 0; f < meta.NFeatures; f++ {
		assert.LessOrEqual(t, meta.BinSizes[f], 16)
		assert.Equal(t, meta.BinOffsets[f]+meta.BinSizes[f], meta.BinOffsets[f+1])
		total := 0
		for b := 0; b < meta.BinSizes[f]; b++ {
			count := populations[meta.BinOffsets[f]+b]
			assert.GreaterOrEqual(t, count, 5, "feature %d bin %d", f, b)
			total += count
		}
		assert.Equal(t, 1000, total)
	}
}

func TestBinRoundTrip(t *testing.T) {
	features, target := randomDataset(t, 3, 300, 2)
	meta, _, _ := binPartitions(t, splitDataset(t, features, target, 2), 8, 1)

	for f := 0; f < meta.NFeatures; f++ {
		for b := 0; b < meta.BinSizes[f]; b++ {
			assert.Equal(t, int32(b), meta.Bin(f, meta.BinValue(f, b)))
		}
		last := int32(meta.BinSizes[f] - 1)
		assert.Equal(t, last, meta.Bin(f, 1e9))
		assert.Equal(t, int32(0), meta.Bin(f, -1e9))
	}
}

func TestLocalBinningPass2Layouts(t *testing.T) {
	x := columnTable(t, []float64{0, 1, 2, 3}, []float64{3, 2, 1, 0})
	y := columnTable(t, []float64{1, 2, 3, 4})
	meta, initial, locals := binPartitions(t, []PartitionData{{x, y}}, 4, 1)

	assert.Equal(t, 2.5, initial)
	assert.Equal(t, []float64{0, 1, 2, 3}, meta.Borders[0])
	binned := locals[0].Binned
	assert.Equal(t, []int32{0, 1, 2, 3}, binned.Column(0))
	assert.Equal(t, []int32{3, 2, 1, 0}, binned.Column(1))
	assert.Equal(t, []int32{1, 2}, binned.Row(1))
	assert.Equal(t, []int{0, 1, 2, 3}, locals[0].Order.Rows(0))
}

func TestLocalBinningPass1ManyDistinctValues(t *testing.T) {
	column := make([]float64, 1000)
	for p := range column {
		column[p] = float64(p)
	}
	x := columnTable(t, column)
	y := columnTable(t, column)

	stats, err := LocalBinningPass1(0, x, y, 4)
	require.NoError(t, err)
	sketch := stats.Features[0]
	assert.Len(t, sketch.Values, 4*candidatesPerBin)
	weight := 0.0
	for _, w := range sketch.Weights {
		weight += w
	}
	assert.Equal(t, 1000.0, weight)
	assert.Equal(t, 999.0, sketch.Max)
	assert.Equal(t, 999.0, sketch.Values[len(sketch.Values)-1])
}

func TestBinningErrors(t *testing.T) {
	x := columnTable(t, []float64{0, 1, 2})
	y := columnTable(t, []float64{1, 2})
	_, err := LocalBinningPass1(0, x, y, 4)
	require.ErrorIs(t, err, ErrIncorrectNumberOfRows)

	_, err = LocalBinningPass1(0, nil, y, 4)
	require.ErrorIs(t, err, ErrNullInput)

	wide := columnTable(t, []float64{0, 1}, []float64{0, 1})
	narrow := columnTable(t, []float64{0, 1})
	target := columnTable(t, []float64{0, 1})
	s0, err := LocalBinningPass1(0, wide, target, 4)
	require.NoError(t, err)
	s1, err := LocalBinningPass1(1, narrow, target, 4)
	require.NoError(t, err)
	_, _, err = MergeBinning([]*LocalBinningStats{s0, s1}, 4, 1, MseLoss{})
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)

	meta, _, err := MergeBinning([]*LocalBinningStats{s0}, 4, 1, MseLoss{})
	require.NoError(t, err)
	_, err = LocalBinningPass2(narrow, meta)
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)

	_, _, err = MergeBinning(nil, 4, 1, MseLoss{})
	require.ErrorIs(t, err, ErrNullInput)

	nan, err := table.FromColumns([]float64{0, 1, 2})
	require.NoError(t, err)
	nan.Set(1, 0, math.Inf(1))
	_, err = LocalBinningPass1(0, columnTable(t, []float64{0, 1, 2}), nan, 4)
	require.ErrorIs(t, err, ErrNonFiniteValue)
}
