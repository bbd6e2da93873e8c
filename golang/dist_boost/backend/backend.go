// Package backend runs the inner loops of the boosting steps. The histogram
// kernel and its data layout are looked up once from the CPU capabilities.
package backend

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

//Capability is the widest instruction set family the process may rely on.
type Capability int

const (
	Generic Capability = iota
	SSE42
	AVX2
	AVX512
)

func (c Capability) String() string {
	switch c {
	case SSE42:
		return "sse42"
	case AVX2:
		return "avx2"
	case AVX512:
		return "avx512"
	default:
		return "generic"
	}
}

//Detect inspects the CPU.
func Detect() Capability {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		return AVX512
	case cpuid.CPU.Supports(cpuid.AVX2):
		return AVX2
	case cpuid.CPU.Supports(cpuid.SSE42):
		return SSE42
	default:
		return Generic
	}
}

//Layout tells which copy of the binned data a kernel consumes.
type Layout int

const (
	RowWise Layout = iota
	ColumnWise
)

//Kernels is one row of the dispatch table.
type Kernels struct {
	Name   string
	Layout Layout
	Rows   RowKernel
	Column ColumnKernel
}

var kernelTable = map[Capability]Kernels{
	Generic: {Name: "rows-scalar", Layout: RowWise, Rows: accumulateRows, Column: accumulateColumn},
	SSE42:   {Name: "rows-scalar", Layout: RowWise, Rows: accumulateRows, Column: accumulateColumn},
	AVX2:    {Name: "column-unrolled", Layout: ColumnWise, Rows: accumulateRows, Column: accumulateColumnUnrolled},
	AVX512:  {Name: "column-unrolled", Layout: ColumnWise, Rows: accumulateRows, Column: accumulateColumnUnrolled},
}

//Executor is the execution backend handed to every step.
type Executor struct {
	capability Capability
	threads    int
	kernels    Kernels
}

//NewExecutor builds an executor for an explicit capability. threads < 1 means GOMAXPROCS.
func NewExecutor(capability Capability, threads int) *Executor {
	if threads < 1 {
		threads = runtime.GOMAXPROCS(0)
	}
	kernels, ok := kernelTable[capability]
	if !ok {
		capability = Generic
		kernels = kernelTable[Generic]
	}
	return &Executor{capability: capability, threads: threads, kernels: kernels}
}

var (
	defaultOnce     sync.Once
	defaultExecutor *Executor
)

//Default returns the executor selected for this process.
func Default() *Executor {
	defaultOnce.Do(func() {
		defaultExecutor = NewExecutor(Detect(), 0)
	})
	return defaultExecutor
}

func (e *Executor) Name() string {
	return e.capability.String() + "/" + e.kernels.Name
}

func (e *Executor) Capability() Capability { return e.capability }
func (e *Executor) Threads() int           { return e.threads }
func (e *Executor) Kernels() Kernels       { return e.kernels }

//ParallelFor runs fn(0..n-1) on the worker pool and returns the first error.
func (e *Executor) ParallelFor(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if e.threads == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	threads := e.threads
	if threads > n {
		threads = n
	}
	pool := NewPool(threads)
	for i := 0; i < n; i++ {
		pool.AddTask(indexTask{ind: i, fn: fn})
	}
	pool.Close()
	return pool.WaitAll()
}

type indexTask struct {
	ind int
	fn  func(int) error
}

func (t indexTask) Run() error { return t.fn(t.ind) }
