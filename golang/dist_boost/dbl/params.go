package dbl

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
	"github.com/tarstars/distributed_boosting/golang/dist_boost/backend"
)

//Params collect arguments required to train a distributed booster.
type Params struct {
	MaxIterations             int // number of trees
	MaxTreeDepth              int
	MaxBins                   int
	MinBinSize                int
	LearningRate              float64
	Lambda                    float64 // L2 penalty on leaf weights
	Alpha                     float64 // L1 penalty on leaf weights
	MinSplitLoss              float64 // gamma
	MinObservationsInLeafNode int
	MinChildWeight            float64
	Loss                      SplitLoss
	Scorer                    SplitScorer
	ThreadsNum                int
	Executor                  *backend.Executor // resolved from ThreadsNum when nil
	Logger                    *log.Logger
	Observer                  Observer
}

//DefaultParams returns the parameters used when nothing else is given.
func DefaultParams() Params {
	return Params{
		MaxIterations:             50,
		MaxTreeDepth:              6,
		MaxBins:                   256,
		MinBinSize:                5,
		LearningRate:              0.3,
		Lambda:                    1,
		Alpha:                     0,
		MinSplitLoss:              0,
		MinObservationsInLeafNode: 5,
		MinChildWeight:            0,
		Loss:                      MseLoss{},
		Scorer:                    XGBoostScorer{},
	}
}

func (p Params) String() string {
	lossName := "<nil>"
	if p.Loss != nil {
		lossName = p.Loss.Name()
	}
	return fmt.Sprintf("%s %d trees/%d depth/%d bins/%d min bin/%.3f lr/%.3f lambda/%.3f alpha/%.3f gamma/%d min leaf",
		lossName, p.MaxIterations, p.MaxTreeDepth, p.MaxBins, p.MinBinSize, p.LearningRate, p.Lambda, p.Alpha,
		p.MinSplitLoss, p.MinObservationsInLeafNode)
}

//Check validates the parameters.
func (p Params) Check() error {
	n := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrIncorrectParameter, format, args...)
	}
	if p.MaxIterations < 1 {
		return n("MaxIterations %d", p.MaxIterations)
	}
	if p.MaxTreeDepth < 1 {
		return n("MaxTreeDepth %d", p.MaxTreeDepth)
	}
	if p.MaxBins < 2 {
		return n("MaxBins %d", p.MaxBins)
	}
	if p.MinBinSize < 1 {
		return n("MinBinSize %d", p.MinBinSize)
	}
	if p.LearningRate <= 0 {
		return n("LearningRate %v", p.LearningRate)
	}
	if p.Lambda < 0 || p.Alpha < 0 || p.MinSplitLoss < 0 || p.MinChildWeight < 0 {
		return n("Lambda %v Alpha %v MinSplitLoss %v MinChildWeight %v", p.Lambda, p.Alpha, p.MinSplitLoss, p.MinChildWeight)
	}
	if p.MinObservationsInLeafNode < 1 {
		return n("MinObservationsInLeafNode %d", p.MinObservationsInLeafNode)
	}
	if p.Loss == nil {
		return n("nil loss")
	}
	if p.Scorer == nil {
		return n("nil split scorer")
	}
	return nil
}

func (p Params) executor() *backend.Executor {
	if p.Executor != nil {
		return p.Executor
	}
	if p.ThreadsNum > 0 {
		return backend.NewExecutor(backend.Default().Capability(), p.ThreadsNum)
	}
	return backend.Default()
}

func (p Params) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}
