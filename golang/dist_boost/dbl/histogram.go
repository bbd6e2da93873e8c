package dbl

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/backend"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// cell layout of a histogram bin
const (
	gradCell = iota
	hessCell
	countCell
	cellsPerBin
)

//Histogram holds (sum of gradients, sum of hessians, count) per global bin for the rows of one node.
type Histogram struct {
	Node int
	grid *tensor.Dense // totalBins x cellsPerBin
}

//NewHistogram allocates a zero histogram over totalBins bins.
func NewHistogram(node, totalBins int) (*Histogram, error) {
	if totalBins <= 0 {
		return nil, errors.Wrapf(ErrIncorrectParameter, "histogram of %d bins", totalBins)
	}
	if totalBins > MaxHistogramCells/cellsPerBin {
		return nil, errors.Wrapf(ErrMemoryAllocation, "histogram of %d bins exceeds %d cells", totalBins, MaxHistogramCells)
	}
	backing := make([]float64, totalBins*cellsPerBin)
	grid := tensor.New(tensor.WithShape(totalBins, cellsPerBin), tensor.WithBacking(backing))
	return &Histogram{Node: node, grid: grid}, nil
}

func (h *Histogram) cells() []float64 {
	return h.grid.Data().([]float64)
}

//Bins returns the number of global bins.
func (h *Histogram) Bins() int {
	return h.grid.Shape()[0]
}

//Cell returns the statistics of one global bin.
func (h *Histogram) Cell(bin int) Stats {
	c := h.cells()[bin*cellsPerBin : (bin+1)*cellsPerBin]
	return Stats{Grad: c[gradCell], Hess: c[hessCell], Count: int(c[countCell] + 0.5)}
}

//feature returns the cells of feature f. The slice aliases the histogram.
func (h *Histogram) feature(meta *BinMetadata, f int) []float64 {
	return h.cells()[cellsPerBin*meta.BinOffsets[f] : cellsPerBin*meta.BinOffsets[f+1]]
}

//Totals sums the bins of feature f. Every feature of a node gives the node statistics.
func (h *Histogram) Totals(meta *BinMetadata, f int) Stats {
	var s Stats
	for b := 0; b < meta.BinSizes[f]; b++ {
		s = s.Add(h.Cell(meta.BinOffsets[f] + b))
	}
	return s
}

//Clone returns a deep copy.
func (h *Histogram) Clone() *Histogram {
	return &Histogram{Node: h.Node, grid: h.grid.Clone().(*tensor.Dense)}
}

//AddInPlace adds other to h element by element.
func (h *Histogram) AddInPlace(other *Histogram) error {
	if _, err := h.grid.Add(other.grid, tensor.UseUnsafe()); err != nil {
		return errors.Wrapf(err, "add histogram of node %d to node %d", other.Node, h.Node)
	}
	return nil
}

//Subtract derives the histogram of node from its parent and the sibling's histogram.
func Subtract(node int, parent, sibling *Histogram) (*Histogram, error) {
	diff, err := parent.grid.Sub(sibling.grid)
	if err != nil {
		return nil, errors.Wrapf(err, "subtract node %d from node %d", sibling.Node, parent.Node)
	}
	return &Histogram{Node: node, grid: diff}, nil
}

//mergeFeatures sums the partial histograms of one node over the bins of the given features only.
//Bins of the other features stay zero.
func mergeFeatures(node int, meta *BinMetadata, features []int, partials []*Histogram) (*Histogram, error) {
	totalBins := meta.TotalBins()
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
		for _, f := range features {
			floats.Add(total.feature(meta, f), partial.feature(meta, f))
		}
	}
	return total, nil
}

//subtractFeatures is Subtract restricted to the bins of the given features.
func subtractFeatures(node int, meta *BinMetadata, features []int, parent, sibling *Histogram) (*Histogram, error) {
	totalBins := meta.TotalBins()
	if parent.Bins() != totalBins || sibling.Bins() != totalBins {
		return nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "subtract node %d from node %d: %d and %d bins, expected %d",
			sibling.Node, parent.Node, sibling.Bins(), parent.Bins(), totalBins)
	}
	diff, err := NewHistogram(node, totalBins)
	if err != nil {
		return nil, err
	}
	for _, f := range features {
		dst := diff.feature(meta, f)
		copy(dst, parent.feature(meta, f))
		floats.Sub(dst, sibling.feature(meta, f))
	}
	return diff, nil
}

//Equal compares two histograms with the absolute tolerance eps on sums, counts must match.
func (h *Histogram) Equal(other *Histogram, eps float64) bool {
	a, b := h.cells(), other.cells()
	if len(a) != len(b) {
		return false
	}
	for ind := range a {
		d := a[ind] - b[ind]
		if ind%cellsPerBin == countCell {
			if d > 0.5 || d < -0.5 {
				return false
			}
			continue
		}
		if d > eps || d < -eps {
			return false
		}
	}
	return true
}

//HistogramSet is a collection of histograms keyed by node id.
type HistogramSet struct {
	items *table.DataCollection
	index map[int]int
}

//NewHistogramSet creates an empty set.
func NewHistogramSet() *HistogramSet {
	return &HistogramSet{items: table.NewDataCollection(), index: make(map[int]int)}
}

//Put stores h, replacing a histogram of the same node.
func (set *HistogramSet) Put(h *Histogram) {
	if ind, ok := set.index[h.Node]; ok {
		_ = set.items.Set(ind, h)
		return
	}
	set.index[h.Node] = set.items.Size()
	set.items.PushBack(h)
}

//Get returns the histogram of node. A nil set holds nothing.
func (set *HistogramSet) Get(node int) (*Histogram, bool) {
	if set == nil {
		return nil, false
	}
	ind, ok := set.index[node]
	if !ok {
		return nil, false
	}
	h, err := table.ItemAs[*Histogram](set.items, ind)
	if err != nil {
		return nil, false
	}
	return h, true
}

//Nodes returns the node ids in ascending order.
func (set *HistogramSet) Nodes() []int {
	if set == nil {
		return nil
	}
	nodes := make([]int, 0, len(set.index))
	for node := range set.index {
		nodes = append(nodes, node)
	}
	sort.Ints(nodes)
	return nodes
}

func (set *HistogramSet) Len() int {
	if set == nil {
		return 0
	}
	return set.items.Size()
}

//HistogramInput is everything a partition needs to build its partial histograms.
type HistogramInput struct {
	Binned           *BinnedData
	Meta             *BinMetadata
	Tree             *TreeStructure
	Order            *TreeOrder
	OptCoeffs        *table.Table  // rows x 2: gradient, hessian
	ParentHistograms *HistogramSet // partial histograms of the previous iteration, may be nil
	Executor         *backend.Executor
}

//BuildHistograms accumulates the partial histograms of every unfinished node over the rows of
//one partition. When the parent histogram is known only the smaller child is accumulated, the
//other one is the difference.
func BuildHistograms(in HistogramInput) (*HistogramSet, error) {
	if in.Tree == nil || in.Order == nil {
		return nil, errors.Wrap(ErrNullInput, "tree structure or tree order")
	}
	if in.Binned == nil || in.Meta == nil || in.OptCoeffs.IsEmpty() {
		return nil, errors.Wrap(ErrNullInput, "binned data, bin metadata or optimization coefficients")
	}
	if in.Binned.Cols != in.Meta.NFeatures {
		return nil, errors.Wrapf(ErrIncorrectNumberOfFeatures, "binned data has %d features, binning has %d",
			in.Binned.Cols, in.Meta.NFeatures)
	}
	if in.OptCoeffs.NumberOfRows() != in.Binned.Rows || in.OptCoeffs.NumberOfColumns() != 2 {
		return nil, errors.Wrapf(ErrIncorrectNumberOfRows, "optimization coefficients %dx%d for %d rows",
			in.OptCoeffs.NumberOfRows(), in.OptCoeffs.NumberOfColumns(), in.Binned.Rows)
	}
	if len(in.Order.Ranges) != len(in.Tree.Nodes) {
		return nil, errors.Wrapf(ErrInconsistentTree, "%d ranges for %d nodes", len(in.Order.Ranges), len(in.Tree.Nodes))
	}

	result := NewHistogramSet()
	frontier := in.Tree.Frontier()
	if len(frontier) == 0 {
		return result, nil
	}

	direct, derived := planHistograms(in.Tree, in.Order, frontier, in.ParentHistograms)

	grad, err := in.OptCoeffs.Column(0)
	if err != nil {
		return nil, err
	}
	hess, err := in.OptCoeffs.Column(1)
	if err != nil {
		return nil, err
	}

	executor := in.Executor
	if executor == nil {
		executor = backend.Default()
	}
	computed := make([]*Histogram, len(direct))
	for ind, node := range direct {
		if computed[ind], err = NewHistogram(node, in.Meta.TotalBins()); err != nil {
			return nil, err
		}
	}

	kernels := executor.Kernels()
	switch kernels.Layout {
	case backend.ColumnWise:
		w := in.Meta.NFeatures
		err = executor.ParallelFor(len(direct)*w, func(task int) error {
			hist, f := computed[task/w], task%w
			kernels.Column(in.Binned.Column(f), in.Order.Rows(hist.Node), grad, hess, hist.feature(in.Meta, f))
			return nil
		})
	default:
		err = executor.ParallelFor(len(direct), func(ind int) error {
			hist := computed[ind]
			kernels.Rows(in.Binned.RowMajor, in.Binned.Cols, in.Meta.BinOffsets, in.Order.Rows(hist.Node), grad, hess, hist.cells())
			return nil
		})
	}
	if err != nil {
		return nil, err
	}

	byNode := make(map[int]*Histogram, len(computed))
	for _, hist := range computed {
		byNode[hist.Node] = hist
	}
	for _, node := range frontier {
		if hist, ok := byNode[node]; ok {
			result.Put(hist)
			continue
		}
		pair := derived[node]
		parent, _ := in.ParentHistograms.Get(pair.parent)
		hist, err := Subtract(node, parent, byNode[pair.sibling])
		if err != nil {
			return nil, err
		}
		result.Put(hist)
	}
	return result, nil
}

type derivation struct {
	parent, sibling int
}

//planHistograms splits the frontier into histograms to accumulate and histograms to derive.
//Finished siblings may end up accumulated too: they are not returned but feed a subtraction.
func planHistograms(tree *TreeStructure, order *TreeOrder, frontier []int, parents *HistogramSet) ([]int, map[int]derivation) {
	var direct []int
	planned := make(map[int]bool)
	derived := make(map[int]derivation)
	addDirect := func(node int) {
		if !planned[node] {
			planned[node] = true
			direct = append(direct, node)
		}
	}

	for _, node := range frontier {
		parent := tree.Nodes[node].Parent
		if _, ok := parents.Get(parent); parent < 0 || !ok {
			addDirect(node)
			continue
		}
		sibling := tree.Sibling(node)
		smaller := node
		if order.Count(sibling) < order.Count(node) || (order.Count(sibling) == order.Count(node) && sibling < node) {
			smaller = sibling
		}
		if smaller == node {
			addDirect(node)
			continue
		}
		addDirect(sibling)
		derived[node] = derivation{parent: parent, sibling: sibling}
	}
	sort.Ints(direct)
	return direct, derived
}
