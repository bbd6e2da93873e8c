// Package table holds the numeric containers the boosting core reads and writes:
// a dense numeric Table with block access and an ordered DataCollection.
package table

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmpty         = errors.New("empty numeric table")
	ErrOutOfRange    = errors.New("block is out of the table range")
	ErrWrongMode     = errors.New("operation is not allowed in this block mode")
	ErrBlockReleased = errors.New("block is already released")
	ErrRagged        = errors.New("rows have different lengths")
)

//ReadWriteMode tells how a block of a table is going to be used.
type ReadWriteMode int

const (
	ReadOnly ReadWriteMode = iota
	WriteOnly
	ReadWrite
)

func (m ReadWriteMode) readable() bool { return m == ReadOnly || m == ReadWrite }
func (m ReadWriteMode) writable() bool { return m == WriteOnly || m == ReadWrite }

//Table is a dense homogeneous numeric table stored row by row.
type Table struct {
	data *mat.Dense
}

//New allocates a zero filled table.
func New(rows, cols int) (*Table, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Wrapf(ErrEmpty, "requested %dx%d", rows, cols)
	}
	return &Table{data: mat.NewDense(rows, cols, nil)}, nil
}

//FromDense wraps an existing matrix without copying it.
func FromDense(m *mat.Dense) (*Table, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmpty
	}
	return &Table{data: m}, nil
}

//FromRows copies a row-major slice of slices into a new table.
func FromRows[T constraints.Float](rows [][]T) (*Table, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmpty
	}
	w := len(rows[0])
	raw := make([]float64, 0, len(rows)*w)
	for p, row := range rows {
		if len(row) != w {
			return nil, errors.Wrapf(ErrRagged, "row %d has %d values, expected %d", p, len(row), w)
		}
		for _, v := range row {
			raw = append(raw, float64(v))
		}
	}
	return &Table{data: mat.NewDense(len(rows), w, raw)}, nil
}

//FromColumns copies columns of equal length into a new table.
func FromColumns[T constraints.Float](cols ...[]T) (*Table, error) {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, ErrEmpty
	}
	h := len(cols[0])
	m := mat.NewDense(h, len(cols), nil)
	for q, col := range cols {
		if len(col) != h {
			return nil, errors.Wrapf(ErrRagged, "column %d has %d values, expected %d", q, len(col), h)
		}
		for p, v := range col {
			m.Set(p, q, float64(v))
		}
	}
	return &Table{data: m}, nil
}

//NumberOfRows returns the height of the table.
func (t *Table) NumberOfRows() int {
	if t == nil || t.data == nil {
		return 0
	}
	r, _ := t.data.Dims()
	return r
}

//NumberOfColumns returns the width of the table.
func (t *Table) NumberOfColumns() int {
	if t == nil || t.data == nil {
		return 0
	}
	_, c := t.data.Dims()
	return c
}

//IsEmpty reports whether t is nil or has no cells.
func (t *Table) IsEmpty() bool {
	return t.NumberOfRows() == 0 || t.NumberOfColumns() == 0
}

//At returns a single cell.
func (t *Table) At(row, col int) float64 {
	return t.data.At(row, col)
}

//Set writes a single cell.
func (t *Table) Set(row, col int, v float64) {
	t.data.Set(row, col, v)
}

//Dense exposes the backing matrix. Mutating it mutates the table.
func (t *Table) Dense() *mat.Dense {
	return t.data
}

//Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	return &Table{data: mat.DenseCopyOf(t.data)}
}

//RowSlice returns rows [start, start+count) as a new table sharing no memory with t.
func (t *Table) RowSlice(start, count int) (*Table, error) {
	if start < 0 || count <= 0 || start+count > t.NumberOfRows() {
		return nil, errors.Wrapf(ErrOutOfRange, "rows [%d, %d) of %d", start, start+count, t.NumberOfRows())
	}
	return &Table{data: mat.DenseCopyOf(t.data.Slice(start, start+count, 0, t.NumberOfColumns()))}, nil
}
