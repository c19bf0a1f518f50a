// Package pool recycles the scratch values used while binding and decoding
// rows, to keep full-table scans from churning the GC.
package pool

import (
	"sync"
)

// RowPool pools column-name keyed row maps
var RowPool = sync.Pool{
	New: func() any {
		return make(map[string]any, 16)
	},
}

// ArgsPool pools bind-argument slices
var ArgsPool = sync.Pool{
	New: func() any {
		s := make([]any, 0, 16)
		return &s
	},
}

// GetRow gets an empty row map from the pool
func GetRow() map[string]any {
	m := RowPool.Get().(map[string]any)
	clear(m)
	return m
}

// PutRow returns a row map to the pool
func PutRow(m map[string]any) {
	if m == nil {
		return
	}
	RowPool.Put(m)
}

// GetArgs gets an empty argument slice from the pool
func GetArgs() *[]any {
	s := ArgsPool.Get().(*[]any)
	*s = (*s)[:0]
	return s
}

// PutArgs returns an argument slice to the pool
func PutArgs(s *[]any) {
	if s == nil {
		return
	}
	clear(*s)
	ArgsPool.Put(s)
}
