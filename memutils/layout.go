package memutils

import (
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

// Layout is the size and alignment of a region of memory
type Layout struct {
	Size  int
	Align uint
}

// LayoutOf returns the size and alignment of T
func LayoutOf[T any]() Layout {
	var z T
	return Layout{Size: int(unsafe.Sizeof(z)), Align: uint(unsafe.Alignof(z))}
}

// LayoutOfType returns the size and alignment of values of the type t
func LayoutOfType(t reflect.Type) Layout {
	return Layout{Size: int(t.Size()), Align: uint(t.Align())}
}

// Extend returns the layout of l immediately followed by next, along with the offset at which
// next begins. No trailing padding is added: the returned size ends at the last byte of next.
func (l Layout) Extend(next Layout) (Layout, int) {
	offset := l.Size + Padding(l.Size, next.Align)
	return Layout{
		Size:  offset + next.Size,
		Align: max(l.Align, next.Align),
	}, offset
}

// Validate returns an error if the layout has a negative size or an alignment that is not a
// nonzero power of two
func (l Layout) Validate() error {
	if l.Size < 0 {
		return cerrors.Newf("layout size %d is negative", l.Size)
	}
	if l.Align == 0 {
		return ZeroAlignmentError
	}
	return CheckPow2(l.Align, "layout alignment")
}
