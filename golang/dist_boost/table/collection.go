package table

import (
	"github.com/pkg/errors"
)

var ErrWrongItemType = errors.New("collection item has an unexpected type")

//DataCollection is an ordered heterogeneous sequence. Steps of the training
//protocol build a fresh collection and hand it over; the receiver owns it.
type DataCollection struct {
	items []interface{}
}

//NewDataCollection creates a collection holding items in the given order.
func NewDataCollection(items ...interface{}) *DataCollection {
	c := &DataCollection{items: make([]interface{}, 0, len(items))}
	c.items = append(c.items, items...)
	return c
}

//PushBack appends an item.
func (c *DataCollection) PushBack(item interface{}) {
	c.items = append(c.items, item)
}

//Size returns the number of items. A nil collection is empty.
func (c *DataCollection) Size() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

//Get returns the ind-th item.
func (c *DataCollection) Get(ind int) (interface{}, error) {
	if ind < 0 || ind >= c.Size() {
		return nil, errors.Wrapf(ErrOutOfRange, "item %d of %d", ind, c.Size())
	}
	return c.items[ind], nil
}

//Set replaces the ind-th item.
func (c *DataCollection) Set(ind int, item interface{}) error {
	if ind < 0 || ind >= c.Size() {
		return errors.Wrapf(ErrOutOfRange, "item %d of %d", ind, c.Size())
	}
	c.items[ind] = item
	return nil
}

//ItemAs returns the ind-th item converted to T.
func ItemAs[T any](c *DataCollection, ind int) (T, error) {
	var zero T
	item, err := c.Get(ind)
	if err != nil {
		return zero, err
	}
	typed, ok := item.(T)
	if !ok {
		return zero, errors.Wrapf(ErrWrongItemType, "item %d is %T", ind, item)
	}
	return typed, nil
}
