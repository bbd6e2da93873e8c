package dbl

import (
	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
)

//PartitionData is one horizontal shard of the training rows.
type PartitionData struct {
	Features *table.Table // rows x features
	Target   *table.Table // rows x 1
}

//partitionState is what one worker keeps between steps. Only histograms and
//split records leave it.
type partitionState struct {
	id       int
	features *table.Table
	target   *table.Table

	binned    *BinnedData
	response  *table.Table
	optCoeffs *table.Table

	tree       *TreeStructure
	order      *TreeOrder
	histograms *HistogramSet // partial histograms of the last iteration
	totals     *HistogramSet // total histograms of the assigned features of the last iteration

	finalized *table.DataCollection // *FinalizedTree per round
}

func newPartitionState(id int, data PartitionData) (*partitionState, error) {
	if data.Features.IsEmpty() || data.Target.IsEmpty() {
		return nil, errors.Wrapf(ErrNullInput, "partition %d", id)
	}
	return &partitionState{id: id, features: data.Features, target: data.Target, finalized: table.NewDataCollection()}, nil
}

func (part *partitionState) rows() int {
	return part.features.NumberOfRows()
}

func (part *partitionState) pass1(maxBins int) (*LocalBinningStats, error) {
	return LocalBinningPass1(part.id, part.features, part.target, maxBins)
}

func (part *partitionState) pass2(meta *BinMetadata, initialResponse float64) error {
	local, err := LocalBinningPass2(part.features, meta)
	if err != nil {
		return err
	}
	part.binned = local.Binned
	part.order = local.Order
	part.tree = NewTreeStructure()

	if part.response, err = table.New(part.rows(), 1); err != nil {
		return err
	}
	block, err := part.response.BlockOfColumnValues(0, 0, part.rows(), table.WriteOnly)
	if err != nil {
		return err
	}
	for p := range block.Data {
		block.Data[p] = initialResponse
	}
	if err := part.response.ReleaseBlockOfColumnValues(block); err != nil {
		return err
	}
	part.optCoeffs, err = table.New(part.rows(), 2)
	return err
}

//startRound resets the tree and computes the optimization coefficients at the current response.
func (part *partitionState) startRound(p Params) error {
	part.tree = NewTreeStructure()
	part.order = NewTreeOrder(part.rows())
	part.histograms = nil
	part.totals = nil
	return UpdateOptCoeffs(part.response, part.target, part.optCoeffs, p.Loss)
}

func (part *partitionState) buildHistograms(meta *BinMetadata, p Params) (*HistogramSet, error) {
	return BuildHistograms(HistogramInput{
		Binned:           part.binned,
		Meta:             meta,
		Tree:             part.tree,
		Order:            part.order,
		OptCoeffs:        part.optCoeffs,
		ParentHistograms: part.histograms,
		Executor:         p.executor(),
	})
}

func (part *partitionState) findSplits(meta *BinMetadata, partials []*HistogramSet, p Params) (*SplitResult, error) {
	result, err := FindSplits(SplitInput{
		Partition:    part.id,
		NPartitions:  len(partials),
		Meta:         meta,
		Tree:         part.tree,
		Partials:     partials,
		ParentTotals: part.totals,
		Params:       p,
	})
	if err != nil {
		return nil, err
	}
	part.totals = result.Totals
	return result, nil
}

func (part *partitionState) applySplits(meta *BinMetadata, splits *table.DataCollection, partial *HistogramSet, p Params) error {
	tree, order, err := PartitionTree(PartitionInput{
		Binned: part.binned,
		Meta:   meta,
		Tree:   part.tree,
		Order:  part.order,
		Splits: splits,
		Params: p,
	})
	if err != nil {
		return err
	}
	part.tree, part.order, part.histograms = tree, order, partial
	return nil
}

//finalizeTree closes the round: leaf responses go to the response and the tree to the collection.
func (part *partitionState) finalizeTree(p Params) (float64, error) {
	finalized, loss, err := FinalizeTree(FinalizeTreeInput{
		Tree:     part.tree,
		Order:    part.order,
		Response: part.response,
		Target:   part.target,
		Params:   p,
	})
	if err != nil {
		return 0, err
	}
	part.finalized.PushBack(finalized)
	return loss, nil
}

//SplitIntoPartitions cuts one data set into n horizontal shards of almost equal size.
func SplitIntoPartitions(features, target *table.Table, n int) ([]PartitionData, error) {
	if err := validateInput(features, target); err != nil {
		return nil, err
	}
	h := features.NumberOfRows()
	if n < 1 || n > h {
		return nil, errors.Wrapf(ErrIncorrectParameter, "%d partitions for %d rows", n, h)
	}
	partitions := make([]PartitionData, 0, n)
	for p := 0; p < n; p++ {
		start, end := p*h/n, (p+1)*h/n
		x, err := features.RowSlice(start, end-start)
		if err != nil {
			return nil, err
		}
		y, err := target.RowSlice(start, end-start)
		if err != nil {
			return nil, err
		}
		partitions = append(partitions, PartitionData{Features: x, Target: y})
	}
	return partitions, nil
}
