package table

import (
	"github.com/pkg/errors"
)

//RowBlock is a detached copy of consecutive rows. Changes reach the table only
//when the block was requested with a writable mode and is released.
type RowBlock struct {
	Start, Count, Cols int
	Mode               ReadWriteMode
	Data               []float64 // row-major, Count x Cols
	released           bool
}

//Row returns the ind-th row of the block.
func (b *RowBlock) Row(ind int) []float64 {
	return b.Data[ind*b.Cols : (ind+1)*b.Cols]
}

//ColumnBlock is a detached copy of a part of one column.
type ColumnBlock struct {
	Col, Start, Count int
	Mode              ReadWriteMode
	Data              []float64
	released          bool
}

func (t *Table) checkRows(start, count int) error {
	if t.IsEmpty() {
		return ErrEmpty
	}
	if start < 0 || count <= 0 || start+count > t.NumberOfRows() {
		return errors.Wrapf(ErrOutOfRange, "rows [%d, %d) of %d", start, start+count, t.NumberOfRows())
	}
	return nil
}

//BlockOfRows returns rows [start, start+count). Write-only blocks come back zeroed.
func (t *Table) BlockOfRows(start, count int, mode ReadWriteMode) (*RowBlock, error) {
	if err := t.checkRows(start, count); err != nil {
		return nil, err
	}
	w := t.NumberOfColumns()
	block := &RowBlock{Start: start, Count: count, Cols: w, Mode: mode, Data: make([]float64, count*w)}
	if mode.readable() {
		for p := 0; p < count; p++ {
			copy(block.Data[p*w:(p+1)*w], t.data.RawRowView(start+p))
		}
	}
	return block, nil
}

//ReleaseBlockOfRows writes a writable block back. A block can be released once.
func (t *Table) ReleaseBlockOfRows(block *RowBlock) error {
	if block == nil {
		return errors.Wrap(ErrEmpty, "nil row block")
	}
	if block.released {
		return ErrBlockReleased
	}
	block.released = true
	if !block.Mode.writable() {
		return nil
	}
	if err := t.checkRows(block.Start, block.Count); err != nil {
		return err
	}
	if block.Cols != t.NumberOfColumns() {
		return errors.Wrapf(ErrOutOfRange, "block has %d columns, table has %d", block.Cols, t.NumberOfColumns())
	}
	for p := 0; p < block.Count; p++ {
		t.data.SetRow(block.Start+p, block.Row(p))
	}
	return nil
}

//BlockOfColumnValues returns values of column col for rows [start, start+count).
func (t *Table) BlockOfColumnValues(col, start, count int, mode ReadWriteMode) (*ColumnBlock, error) {
	if err := t.checkRows(start, count); err != nil {
		return nil, err
	}
	if col < 0 || col >= t.NumberOfColumns() {
		return nil, errors.Wrapf(ErrOutOfRange, "column %d of %d", col, t.NumberOfColumns())
	}
	block := &ColumnBlock{Col: col, Start: start, Count: count, Mode: mode, Data: make([]float64, count)}
	if mode.readable() {
		for p := 0; p < count; p++ {
			block.Data[p] = t.data.At(start+p, col)
		}
	}
	return block, nil
}

//ReleaseBlockOfColumnValues writes a writable column block back.
func (t *Table) ReleaseBlockOfColumnValues(block *ColumnBlock) error {
	if block == nil {
		return errors.Wrap(ErrEmpty, "nil column block")
	}
	if block.released {
		return ErrBlockReleased
	}
	block.released = true
	if !block.Mode.writable() {
		return nil
	}
	if err := t.checkRows(block.Start, block.Count); err != nil {
		return err
	}
	if block.Col < 0 || block.Col >= t.NumberOfColumns() {
		return errors.Wrapf(ErrOutOfRange, "column %d of %d", block.Col, t.NumberOfColumns())
	}
	for p, v := range block.Data {
		t.data.Set(block.Start+p, block.Col, v)
	}
	return nil
}

//Column reads a whole column through a read-only block.
func (t *Table) Column(col int) ([]float64, error) {
	block, err := t.BlockOfColumnValues(col, 0, t.NumberOfRows(), ReadOnly)
	if err != nil {
		return nil, err
	}
	defer func() { _ = t.ReleaseBlockOfColumnValues(block) }()
	return block.Data, nil
}
