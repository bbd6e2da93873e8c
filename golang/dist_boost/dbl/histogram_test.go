package dbl

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/backend"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

type histogramFixture struct {
	meta      *BinMetadata
	local     *LocalBinning
	optCoeffs *table.Table
}

func newHistogramFixture(t *testing.T) histogramFixture {
	t.Helper()
	column := make([]float64, 40)
	noise := make([]float64, 40)
	y := make([]float64, 40)
	rnd := rand.New(rand.NewSource(5))
	for p := range column {
		column[p] = float64(p)
		noise[p] = rnd.Float64()
		y[p] = float64(p%3) + rnd.Float64()
	}
	x := columnTable(t, column, noise)
	target := columnTable(t, y)
	meta, initial, locals := binPartitions(t, []PartitionData{{x, target}}, 8, 1)
	return histogramFixture{meta: meta, local: locals[0], optCoeffs: optCoeffsAt(t, target, initial)}
}

func (fx histogramFixture) input(tree *TreeStructure, order *TreeOrder, parents *HistogramSet, executor *backend.Executor) HistogramInput {
	return HistogramInput{
		Binned:           fx.local.Binned,
		Meta:             fx.meta,
		Tree:             tree,
		Order:            order,
		OptCoeffs:        fx.optCoeffs,
		ParentHistograms: parents,
		Executor:         executor,
	}
}

//splitRoot splits the root on feature 0 at bin and returns the grown tree and order.
func (fx histogramFixture) splitRoot(t *testing.T, bin int) (*TreeStructure, *TreeOrder) {
	t.Helper()
	params := quietParams()
	params.MinObservationsInLeafNode = 1
	split := BestSplit{NodeID: 0, FeatureIndex: 0, BinIndex: bin, Gain: 1,
		Node: Stats{Count: 40}, Left: Stats{Count: 20}, Right: Stats{Count: 20}}
	tree, order, err := PartitionTree(PartitionInput{
		Binned: fx.local.Binned,
		Meta:   fx.meta,
		Tree:   NewTreeStructure(),
		Order:  fx.local.Order,
		Splits: table.NewDataCollection(split),
		Params: params,
	})
	require.NoError(t, err)
	return tree, order
}

func TestHistogramSubtraction(t *testing.T) {
	fx := newHistogramFixture(t)
	executor := backend.NewExecutor(backend.Generic, 1)
	root, err := BuildHistograms(fx.input(NewTreeStructure(), fx.local.Order, nil, executor))
	require.NoError(t, err)
	require.Equal(t, []int{0}, root.Nodes())

	tree, order := fx.splitRoot(t, 2)
	require.Equal(t, []int{1, 2}, tree.Frontier())
	require.Less(t, order.Count(1), order.Count(2))

	derived, err := BuildHistograms(fx.input(tree, order, root, executor))
	require.NoError(t, err)
	direct, err := BuildHistograms(fx.input(tree, order, nil, executor))
	require.NoError(t, err)

	for _, node := range []int{1, 2} {
		a, ok := derived.Get(node)
		require.True(t, ok)
		b, ok := direct.Get(node)
		require.True(t, ok)
		assert.True(t, a.Equal(b, 1e-9), "node %d", node)
	}

	left, _ := direct.Get(1)
	right, _ := direct.Get(2)
	parent, _ := root.Get(0)
	for f := 0; f < fx.meta.NFeatures; f++ {
		sum := left.Totals(fx.meta, f).Add(right.Totals(fx.meta, f))
		assert.Equal(t, parent.Totals(fx.meta, f).Count, sum.Count)
		assert.InDelta(t, parent.Totals(fx.meta, f).Grad, sum.Grad, 1e-9)
		assert.Equal(t, order.Count(1), left.Totals(fx.meta, f).Count)
	}
}

func TestHistogramSubtractionWithFinishedSibling(t *testing.T) {
	fx := newHistogramFixture(t)
	executor := backend.NewExecutor(backend.Generic, 1)
	root, err := BuildHistograms(fx.input(NewTreeStructure(), fx.local.Order, nil, executor))
	require.NoError(t, err)

	tree, order := fx.splitRoot(t, 2)
	tree.Nodes[1].Finished = true

	derived, err := BuildHistograms(fx.input(tree, order, root, executor))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, derived.Nodes())
	direct, err := BuildHistograms(fx.input(tree, order, nil, executor))
	require.NoError(t, err)

	a, _ := derived.Get(2)
	b, _ := direct.Get(2)
	assert.True(t, a.Equal(b, 1e-9))
}

func TestBuildHistogramsKernelsAgree(t *testing.T) {
	fx := newHistogramFixture(t)
	tree, order := fx.splitRoot(t, 4)

	var sets []*HistogramSet
	for _, executor := range []*backend.Executor{
		backend.NewExecutor(backend.Generic, 1),
		backend.NewExecutor(backend.SSE42, 3),
		backend.NewExecutor(backend.AVX2, 2),
		backend.NewExecutor(backend.AVX512, 4),
	} {
		set, err := BuildHistograms(fx.input(tree, order, nil, executor))
		require.NoError(t, err, executor.Name())
		sets = append(sets, set)
	}
	for _, set := range sets[1:] {
		for _, node := range []int{1, 2} {
			a, _ := sets[0].Get(node)
			b, _ := set.Get(node)
			assert.True(t, a.Equal(b, 0))
		}
	}
}

func TestBuildHistogramsEdgeCases(t *testing.T) {
	fx := newHistogramFixture(t)
	executor := backend.NewExecutor(backend.Generic, 1)

	_, err := BuildHistograms(fx.input(nil, fx.local.Order, nil, executor))
	require.ErrorIs(t, err, ErrNullInput)
	_, err = BuildHistograms(fx.input(NewTreeStructure(), nil, nil, executor))
	require.ErrorIs(t, err, ErrNullInput)

	finished := NewTreeStructure()
	finished.Nodes[0].Finished = true
	set, err := BuildHistograms(fx.input(finished, fx.local.Order, nil, executor))
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestMergeHistogramsIsOrderIndependent(t *testing.T) {
	rnd := rand.New(rand.NewSource(17))
	partials := make([]*Histogram, 4)
	for p := range partials {
		h, err := NewHistogram(3, 25)
		require.NoError(t, err)
		cells := h.cells()
		for ind := range cells {
			if ind%cellsPerBin == countCell {
				cells[ind] = float64(rnd.Intn(10))
			} else {
				cells[ind] = rnd.NormFloat64() * 1e3
			}
		}
		partials[p] = h
	}

	reference, err := MergeHistograms(3, 25, partials)
	require.NoError(t, err)
	for _, perm := range [][]int{{3, 2, 1, 0}, {1, 3, 0, 2}, {2, 0, 3, 1}} {
		shuffled := make([]*Histogram, len(perm))
		for ind, p := range perm {
			shuffled[ind] = partials[p]
		}
		merged, err := MergeHistograms(3, 25, shuffled)
		require.NoError(t, err)
		assert.True(t, reference.Equal(merged, 1e-6))
	}

	_, err = MergeHistograms(3, 24, partials)
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)
}

func TestSubtractFeaturesTouchesOnlyGivenFeatures(t *testing.T) {
	meta := &BinMetadata{NFeatures: 3, BinSizes: []int{2, 3, 1}, BinOffsets: []int{0, 2, 5, 6}}
	parent, err := NewHistogram(0, meta.TotalBins())
	require.NoError(t, err)
	sibling, err := NewHistogram(1, meta.TotalBins())
	require.NoError(t, err)
	for ind := range parent.cells() {
		parent.cells()[ind] = float64(2 * (ind + 1))
		sibling.cells()[ind] = float64(ind + 1)
	}

	derived, err := subtractFeatures(2, meta, []int{0, 2}, parent, sibling)
	require.NoError(t, err)
	assert.Equal(t, 2, derived.Node)
	assert.Equal(t, sibling.feature(meta, 0), derived.feature(meta, 0))
	assert.Equal(t, sibling.feature(meta, 2), derived.feature(meta, 2))
	assert.Equal(t, make([]float64, 3*cellsPerBin), derived.feature(meta, 1))

	short, err := NewHistogram(1, 5)
	require.NoError(t, err)
	_, err = subtractFeatures(2, meta, []int{0}, parent, short)
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)

	_, err = mergeFeatures(0, meta, []int{1}, []*Histogram{parent, short})
	require.ErrorIs(t, err, ErrIncorrectNumberOfFeatures)
	merged, err := mergeFeatures(0, meta, []int{1}, []*Histogram{parent, nil, sibling})
	require.NoError(t, err)
	for ind, v := range merged.feature(meta, 1) {
		assert.Equal(t, 3*float64(2*cellsPerBin+ind+1), v)
	}
	assert.Equal(t, make([]float64, 2*cellsPerBin), merged.feature(meta, 0))
}

func TestHistogramAllocationLimit(t *testing.T) {
	_, err := NewHistogram(0, MaxHistogramCells)
	require.ErrorIs(t, err, ErrMemoryAllocation)

	_, err = NewHistogram(0, 0)
	require.ErrorIs(t, err, ErrIncorrectParameter)
}

func TestHistogramSetReplacesByNode(t *testing.T) {
	set := NewHistogramSet()
	a, err := NewHistogram(4, 2)
	require.NoError(t, err)
	b, err := NewHistogram(1, 2)
	require.NoError(t, err)
	c, err := NewHistogram(4, 2)
	require.NoError(t, err)

	set.Put(a)
	set.Put(b)
	set.Put(c)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []int{1, 4}, set.Nodes())
	got, ok := set.Get(4)
	require.True(t, ok)
	assert.Same(t, c, got)

	var empty *HistogramSet
	_, ok = empty.Get(0)
	assert.False(t, ok)
}
