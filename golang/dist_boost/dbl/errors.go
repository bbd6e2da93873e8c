package dbl

import "github.com/pkg/errors"

// Failures of the training steps. Callers match them with errors.Is; every
// step wraps them with the partition, node or feature that tripped.
var (
	ErrNullInput                 = errors.New("null input numeric table")
	ErrIncorrectNumberOfFeatures = errors.New("incorrect number of features")
	ErrIncorrectNumberOfRows     = errors.New("incorrect number of rows")
	ErrIncorrectParameter        = errors.New("incorrect parameter")
	ErrNonFiniteValue            = errors.New("feature or dependent variable value is not finite")
	ErrInconsistentTree          = errors.New("inconsistent tree structure")
	ErrMemoryAllocation          = errors.New("memory allocation failed")
)

// MaxHistogramCells bounds the size of a single histogram grid.
const MaxHistogramCells = 1 << 28
