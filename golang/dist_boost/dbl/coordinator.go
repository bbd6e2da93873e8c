package dbl

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/table"
	"golang.org/x/sync/errgroup"
)

//IterationSnapshot is a copy of the trees and orders of all partitions after one inner iteration.
type IterationSnapshot struct {
	Round     int
	Iteration int
	Trees     []*TreeStructure
	Orders    []*TreeOrder
}

//Observer watches the training. It is called from the coordinator goroutine.
type Observer interface {
	OnIteration(snapshot IterationSnapshot)
}

//ObserverFunc adapts a function to Observer.
type ObserverFunc func(snapshot IterationSnapshot)

func (f ObserverFunc) OnIteration(snapshot IterationSnapshot) { f(snapshot) }

type trainingState int

const (
	stateInit trainingState = iota
	stateRoundStart
	stateNeedToContinue
	stateRoundEnd
	stateFinalize
	stateDone
)

func (s trainingState) String() string {
	return [...]string{"init", "round start", "need to continue", "round end", "finalize", "done"}[s]
}

//Trainer drives the distributed training over a set of partitions.
type Trainer struct {
	params Params
	jobID  string
	logger *log.Logger
}

//NewTrainer validates the parameters.
func NewTrainer(params Params) (*Trainer, error) {
	if err := params.Check(); err != nil {
		return nil, err
	}
	params.Executor = params.executor()
	return &Trainer{params: params, jobID: uuid.NewString(), logger: params.logger()}, nil
}

//JobID identifies the training in log lines.
func (t *Trainer) JobID() string {
	return t.jobID
}

//trainingJob is the coordinator side of one Train call.
type trainingJob struct {
	*Trainer
	parts           []*partitionState
	meta            *BinMetadata
	initialResponse float64
	round           int
	iteration       int
	learningCurve   []float64
	model           *Model
}

//Train runs the state machine until every tree is built. The first failure of any step on any
//partition aborts the training and nothing of the partial state is returned.
func (t *Trainer) Train(ctx context.Context, partitions []PartitionData) (*Model, error) {
	if len(partitions) == 0 {
		return nil, errors.Wrap(ErrNullInput, "no partitions")
	}
	job := &trainingJob{Trainer: t}
	for id, data := range partitions {
		part, err := newPartitionState(id, data)
		if err != nil {
			return nil, err
		}
		job.parts = append(job.parts, part)
	}

	t.logger.Printf("job %s: %d partitions, %s, backend %s\n", t.jobID, len(partitions), t.params, t.params.executor().Name())
	state := stateInit
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "job %s cancelled in state %s", t.jobID, state)
		}
		next, err := job.step(ctx, state)
		if err != nil {
			return nil, errors.Wrapf(err, "job %s, round %d, state %s", t.jobID, job.round, state)
		}
		state = next
	}
	return job.model, nil
}

func (job *trainingJob) step(ctx context.Context, state trainingState) (trainingState, error) {
	switch state {
	case stateInit:
		return stateRoundStart, job.init(ctx)
	case stateRoundStart:
		return stateNeedToContinue, job.roundStart(ctx)
	case stateNeedToContinue:
		unfinished, err := job.needToContinue()
		if err != nil || !unfinished {
			return stateRoundEnd, err
		}
		return stateNeedToContinue, job.growTree(ctx)
	case stateRoundEnd:
		job.round++
		if job.round < job.params.MaxIterations {
			return stateRoundStart, nil
		}
		return stateFinalize, nil
	case stateFinalize:
		return stateDone, job.finalize(ctx)
	}
	return stateDone, errors.Errorf("unknown state %d", state)
}

//dispatch runs fn on every partition concurrently and waits for all of them.
func (job *trainingJob) dispatch(ctx context.Context, stepName string, fn func(part *partitionState) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, part := range job.parts {
		part := part
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(part); err != nil {
				return errors.Wrapf(err, "%s on partition %d", stepName, part.id)
			}
			return nil
		})
	}
	return g.Wait()
}

func (job *trainingJob) init(ctx context.Context) error {
	stats := make([]*LocalBinningStats, len(job.parts))
	err := job.dispatch(ctx, "local binning pass 1", func(part *partitionState) (err error) {
		stats[part.id], err = part.pass1(job.params.MaxBins)
		return err
	})
	if err != nil {
		return err
	}

	job.meta, job.initialResponse, err = MergeBinning(stats, job.params.MaxBins, job.params.MinBinSize, job.params.Loss)
	if err != nil {
		return errors.Wrap(err, "master binning merge")
	}
	job.logger.Printf("job %s: %d rows, %d features, %d bins, initial response %g\n",
		job.jobID, job.meta.TotalRows, job.meta.NFeatures, job.meta.TotalBins(), job.initialResponse)

	return job.dispatch(ctx, "local binning pass 2", func(part *partitionState) error {
		return part.pass2(job.meta, job.initialResponse)
	})
}

func (job *trainingJob) roundStart(ctx context.Context) error {
	if job.round > 0 {
		if err := job.finalizeTree(ctx); err != nil {
			return err
		}
	}
	job.logger.Printf("Tree number %d\n", job.round+1)
	job.iteration = 0
	return job.dispatch(ctx, "update optimization coefficients", func(part *partitionState) error {
		return part.startRound(job.params)
	})
}

//needToContinue is the reduce-OR over the partition trees. The trees must be identical.
func (job *trainingJob) needToContinue() (bool, error) {
	reference := job.parts[0].tree
	unfinished := false
	for _, part := range job.parts {
		if !part.tree.Equal(reference) {
			return false, errors.Wrapf(ErrInconsistentTree, "tree of partition %d diverged", part.id)
		}
		unfinished = unfinished || part.tree.HasUnfinished()
	}
	if unfinished && job.iteration > job.params.MaxTreeDepth {
		return false, errors.Wrapf(ErrInconsistentTree, "tree still grows after %d iterations", job.iteration)
	}
	return unfinished, nil
}

//growTree is one inner iteration: histograms, split search, partitioning.
func (job *trainingJob) growTree(ctx context.Context) error {
	partials := make([]*HistogramSet, len(job.parts))
	err := job.dispatch(ctx, "build histograms", func(part *partitionState) (err error) {
		partials[part.id], err = part.buildHistograms(job.meta, job.params)
		return err
	})
	if err != nil {
		return err
	}

	results := make([]*SplitResult, len(job.parts))
	err = job.dispatch(ctx, "find splits", func(part *partitionState) (err error) {
		results[part.id], err = part.findSplits(job.meta, partials, job.params)
		return err
	})
	if err != nil {
		return err
	}

	splits, err := MergeBestSplits(results, job.parts[0].tree)
	if err != nil {
		return errors.Wrap(err, "merge best splits")
	}

	err = job.dispatch(ctx, "partition tree", func(part *partitionState) error {
		return part.applySplits(job.meta, splits, partials[part.id], job.params)
	})
	if err != nil {
		return err
	}

	job.iteration++
	if job.params.Observer != nil {
		snapshot := IterationSnapshot{Round: job.round, Iteration: job.iteration}
		for _, part := range job.parts {
			snapshot.Trees = append(snapshot.Trees, part.tree.Clone())
			snapshot.Orders = append(snapshot.Orders, part.order.Clone())
		}
		job.params.Observer.OnIteration(snapshot)
	}
	return nil
}

func (job *trainingJob) finalizeTree(ctx context.Context) error {
	losses := make([]float64, len(job.parts))
	err := job.dispatch(ctx, "finalize tree", func(part *partitionState) (err error) {
		losses[part.id], err = part.finalizeTree(job.params)
		return err
	})
	if err != nil {
		return err
	}
	total := 0.0
	for _, loss := range losses {
		total += loss
	}
	job.learningCurve = append(job.learningCurve, total/float64(job.meta.TotalRows))
	return nil
}

func (job *trainingJob) finalize(ctx context.Context) error {
	if err := job.finalizeTree(ctx); err != nil {
		return err
	}
	trees := make([]*table.DataCollection, len(job.parts))
	for _, part := range job.parts {
		trees[part.id] = part.finalized
	}
	model, err := FinalizeModel(FinalizeInput{
		InitialResponse: job.initialResponse,
		Meta:            job.meta,
		Trees:           trees,
		Loss:            job.params.Loss,
		LearningCurve:   job.learningCurve,
	})
	if err != nil {
		return errors.Wrap(err, "finalize model")
	}
	job.logger.Printf("job %s: %d trees, train loss %g\n", job.jobID, len(model.Trees), model.LearningCurve[len(model.LearningCurve)-1])
	job.model = model
	return nil
}
