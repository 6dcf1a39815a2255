package cdp

import "sync/atomic"

// IDAllocator hands out command IDs 1, 2, 3, ... and never repeats one.
// The zero value is ready to use.
type IDAllocator struct {
	n atomic.Int64
}

// Next returns the next ID.
func (a *IDAllocator) Next() int64 {
	return a.n.Add(1)
}
