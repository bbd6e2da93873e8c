package dbl

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

// A partition proposes at most MaxBins*candidatesPerBin border candidates per feature.
const candidatesPerBin = 8

//FeatureSketch is the local summary of one feature column: its range and
//weighted border candidates. Values are sorted and distinct, Weights are row counts.
type FeatureSketch struct {
	Min, Max float64
	Count    int
	Values   []float64
	Weights  []float64
}

//LocalBinningStats is the result of local pass 1 of one partition.
type LocalBinningStats struct {
	Partition int
	NRows     int
	NFeatures int
	Features  []FeatureSketch
	TargetSum float64
}

//BinMetadata is the global binning shared by all partitions.
type BinMetadata struct {
	NFeatures  int
	TotalRows  int
	Borders    [][]float64 // upper inclusive border per bin
	BinSizes   []int       // number of bins per feature
	BinOffsets []int       // first global bin per feature, len NFeatures+1
}

//TotalBins is the number of bins over all features.
func (meta *BinMetadata) TotalBins() int {
	return meta.BinOffsets[meta.NFeatures]
}

//Bin maps a raw value of feature f to its bin. Values above the last border go to the last bin.
func (meta *BinMetadata) Bin(f int, v float64) int32 {
	borders := meta.Borders[f]
	ind := sort.SearchFloat64s(borders, v)
	if ind >= len(borders) {
		ind = len(borders) - 1
	}
	return int32(ind)
}

//BinValue is the real value of the upper border of bin b of feature f.
func (meta *BinMetadata) BinValue(f, b int) float64 {
	return meta.Borders[f][b]
}

//BinnedData holds bin indices of a partition twice: row by row and column by column.
type BinnedData struct {
	Rows, Cols int
	RowMajor   []int32
	ColMajor   []int32
}

//Row returns the bins of row r.
func (bd *BinnedData) Row(r int) []int32 {
	return bd.RowMajor[r*bd.Cols : (r+1)*bd.Cols]
}

//Column returns the bins of feature f for all rows.
func (bd *BinnedData) Column(f int) []int32 {
	return bd.ColMajor[f*bd.Rows : (f+1)*bd.Rows]
}

//LocalBinning is the result of local pass 2 of one partition.
type LocalBinning struct {
	Binned      *BinnedData
	Populations []int // rows of this partition per global bin
	Order       *TreeOrder
}

func validateInput(features, target *table.Table) error {
	if features.IsEmpty() {
		return errors.Wrap(ErrNullInput, "features")
	}
	if target.IsEmpty() {
		return errors.Wrap(ErrNullInput, "dependent variable")
	}
	if target.NumberOfColumns() != 1 {
		return errors.Wrapf(ErrIncorrectNumberOfFeatures, "dependent variable has %d columns", target.NumberOfColumns())
	}
	if target.NumberOfRows() != features.NumberOfRows() {
		return errors.Wrapf(ErrIncorrectNumberOfRows, "dependent variable has %d rows, features have %d",
			target.NumberOfRows(), features.NumberOfRows())
	}
	return nil
}

//LocalBinningPass1 summarizes the columns of one partition.
func LocalBinningPass1(partition int, features, target *table.Table, maxBins int) (*LocalBinningStats, error) {
	if err := validateInput(features, target); err != nil {
		return nil, err
	}
	h, w := features.NumberOfRows(), features.NumberOfColumns()
	stats := &LocalBinningStats{Partition: partition, NRows: h, NFeatures: w, Features: make([]FeatureSketch, w)}

	y, err := target.Column(0)
	if err != nil {
		return nil, err
	}
	for p, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(ErrNonFiniteValue, "dependent variable row %d", p)
		}
		stats.TargetSum += v
	}

	for q := 0; q < w; q++ {
		column, err := features.Column(q)
		if err != nil {
			return nil, err
		}
		sketch, err := sketchColumn(column, maxBins*candidatesPerBin)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", q)
		}
		stats.Features[q] = sketch
	}
	return stats, nil
}

func sketchColumn(column []float64, limit int) (FeatureSketch, error) {
	sorted := make([]float64, len(column))
	copy(sorted, column)
	sort.Float64s(sorted)
	for p, v := range sorted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureSketch{}, errors.Wrapf(ErrNonFiniteValue, "sorted position %d", p)
		}
	}

	n := len(sorted)
	sketch := FeatureSketch{Min: sorted[0], Max: sorted[n-1], Count: n}
	push := func(v, weight float64) {
		last := len(sketch.Values) - 1
		if last >= 0 && sketch.Values[last] == v {
			sketch.Weights[last] += weight
			return
		}
		sketch.Values = append(sketch.Values, v)
		sketch.Weights = append(sketch.Weights, weight)
	}

	for p := 0; p < n; p++ {
		push(sorted[p], 1)
	}
	if len(sketch.Values) <= limit {
		return sketch, nil
	}

	// too many distinct values: keep evenly spaced order statistics,
	// each weighted by the rows it stands for
	sketch.Values, sketch.Weights = sketch.Values[:0:0], sketch.Weights[:0:0]
	prev := -1
	for k := 0; k < limit; k++ {
		end := (k+1)*n/limit - 1
		if end <= prev {
			continue
		}
		push(sorted[end], float64(end-prev))
		prev = end
	}
	return sketch, nil
}

//MergeBinning combines the local summaries of all partitions into global bin borders
//and the initial response. The result does not depend on the order of stats.
func MergeBinning(stats []*LocalBinningStats, maxBins, minBinSize int, loss SplitLoss) (*BinMetadata, float64, error) {
	if len(stats) == 0 {
		return nil, 0, errors.Wrap(ErrNullInput, "no partition statistics")
	}
	ordered := make([]*LocalBinningStats, len(stats))
	copy(ordered, stats)
	for ind, s := range ordered {
		if s == nil {
			return nil, 0, errors.Wrapf(ErrNullInput, "statistics #%d", ind)
		}
		if s.NFeatures != ordered[0].NFeatures || len(s.Features) != s.NFeatures {
			return nil, 0, errors.Wrapf(ErrIncorrectNumberOfFeatures, "partition %d has %d features, partition %d has %d",
				s.Partition, s.NFeatures, ordered[0].Partition, ordered[0].NFeatures)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Partition < ordered[j].Partition })

	w := ordered[0].NFeatures
	meta := &BinMetadata{
		NFeatures:  w,
		Borders:    make([][]float64, w),
		BinSizes:   make([]int, w),
		BinOffsets: make([]int, w+1),
	}
	targetSum := 0.0
	for _, s := range ordered {
		meta.TotalRows += s.NRows
		targetSum += s.TargetSum
	}

	for q := 0; q < w; q++ {
		values, weights := mergeSketches(ordered, q)
		meta.Borders[q] = cutBins(values, weights, float64(meta.TotalRows), maxBins, minBinSize)
		meta.BinSizes[q] = len(meta.Borders[q])
		meta.BinOffsets[q+1] = meta.BinOffsets[q] + meta.BinSizes[q]
	}

	initial := loss.initialResponse(targetSum / float64(meta.TotalRows))
	return meta, initial, nil
}

func mergeSketches(stats []*LocalBinningStats, q int) (values, weights []float64) {
	merged := make(map[float64]float64)
	for _, s := range stats {
		sketch := s.Features[q]
		for ind, v := range sketch.Values {
			merged[v] += sketch.Weights[ind]
		}
	}
	values = make([]float64, 0, len(merged))
	for v := range merged {
		values = append(values, v)
	}
	sort.Float64s(values)
	weights = make([]float64, len(values))
	for ind, v := range values {
		weights[ind] = merged[v]
	}
	return values, weights
}

//cutBins walks the merged candidates and closes a bin once it holds the target weight.
func cutBins(values, weights []float64, total float64, maxBins, minBinSize int) []float64 {
	target := math.Max(total/float64(maxBins), float64(minBinSize))
	borders := make([]float64, 0, maxBins)
	acc := 0.0
	last := len(values) - 1
	for ind, v := range values {
		acc += weights[ind]
		if acc >= target && ind < last {
			borders = append(borders, v)
			acc = 0
		}
	}
	borders = append(borders, values[last])

	// a light trailing bin joins its left neighbour
	if len(borders) > 1 && acc < float64(minBinSize) {
		borders = append(borders[:len(borders)-2], borders[len(borders)-1])
	}
	for len(borders) > maxBins {
		borders = append(borders[:len(borders)-2], borders[len(borders)-1])
	}
	return borders
}

//LocalBinningPass2 converts the raw columns of one partition into bin indices.
func LocalBinningPass2(features *table.Table, meta *BinMetadata) (*LocalBinning, error) {
	if features.IsEmpty() {
		return nil, errors.Wrap(ErrNullInput, "features")
	}
	if meta == nil {
		return nil, errors.Wrap(ErrNullInput, "bin metadata")
	}
	h, w := features.NumberOfRows(), features.NumberOfColumns()
	if w != meta.NFeatures {
		return nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "partition has %d features, binning has %d", w, meta.NFeatures)
	}

	binned := &BinnedData{Rows: h, Cols: w, RowMajor: make([]int32, h*w), ColMajor: make([]int32, h*w)}
	populations := make([]int, meta.TotalBins())
	for q := 0; q < w; q++ {
		column, err := features.Column(q)
		if err != nil {
			return nil, err
		}
		transposed := binned.Column(q)
		for p, v := range column {
			bin := meta.Bin(q, v)
			transposed[p] = bin
			binned.RowMajor[p*w+q] = bin
			populations[meta.BinOffsets[q]+int(bin)]++
		}
	}
	return &LocalBinning{Binned: binned, Populations: populations, Order: NewTreeOrder(h)}, nil
}
