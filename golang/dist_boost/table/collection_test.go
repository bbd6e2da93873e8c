package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataCollection(t *testing.T) {
	c := NewDataCollection("a", 2)
	c.PushBack(3.5)
	require.Equal(t, 3, c.Size())

	s, err := ItemAs[string](c, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", s)

	_, err = ItemAs[string](c, 1)
	require.ErrorIs(t, err, ErrWrongItemType)

	require.NoError(t, c.Set(1, "b"))
	s, err = ItemAs[string](c, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", s)

	_, err = c.Get(3)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.ErrorIs(t, c.Set(-1, nil), ErrOutOfRange)

	var empty *DataCollection
	assert.Equal(t, 0, empty.Size())
}
