// Package dynstruct builds composite values made of a fixed-size header followed by a tail whose
// size is only known at run time, stored in a single allocation. The tail is handed over as a
// dynarg.DynArg, and its metadata travels with the returned handle.
package dynstruct

import (
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dynstruct/dynarg"
	"github.com/vkngwrapper/dynstruct/heap"
	"github.com/vkngwrapper/dynstruct/memutils"
)

// sentinel is the address of every zero-size composite. Nothing is ever written through it.
var sentinel uint64

// rawBox owns one composite allocation and knows how to tear it down
type rawBox struct {
	ptr        unsafe.Pointer
	request    heap.Request
	headerType reflect.Type
	tailType   reflect.Type
	tailOffset int
	allocator  heap.Allocator
}

func (b *rawBox) tailPtr() unsafe.Pointer {
	return unsafe.Add(b.ptr, b.tailOffset)
}

// free runs the tail's drop glue, then the header's, then returns the memory with the request it
// was allocated with
func (b *rawBox) free() {
	dropInPlace(b.tailType, b.tailPtr())
	dropInPlace(b.headerType, b.ptr)

	if b.request.Size == 0 {
		return
	}

	if err := b.allocator.Free(b.ptr, b.request); err != nil {
		panic(cerrors.Wrapf(err, "dynstruct: failed to free composite of %d bytes", b.request.Size))
	}
}

// DynStruct is the owning handle of a header H followed by a tail that reads as T and is
// described by the metadata M. It must be released with Free.
type DynStruct[H any, T any, M any] struct {
	raw  *rawBox
	meta M
	view func(unsafe.Pointer) T
}

// New builds a composite of header followed by the value captured by tail, allocated from
// heap.Default. tail is consumed.
func New[H any, T any, M any](header H, tail *dynarg.DynArg[T, M]) *DynStruct[H, T, M] {
	return NewIn(heap.Default, header, tail)
}

// NewIn builds a composite of header followed by the value captured by tail, allocated from
// allocator. tail is consumed.
//
// The composite is laid out as the header at offset 0, padding to the tail's alignment, then the
// tail. When that layout is empty the allocator is not called. If the allocator fails, NewIn panics
// with an *AllocationError.
func NewIn[H any, T any, M any](allocator heap.Allocator, header H, tail *dynarg.DynArg[T, M]) *DynStruct[H, T, M] {
	headerType := reflect.TypeFor[H]()
	tailType := tail.Type()
	layout, tailOffset := memutils.LayoutOf[H]().Extend(tail.Layout())

	composite := reflect.StructOf([]reflect.StructField{
		{Name: "Header", Type: headerType},
		{Name: "Tail", Type: tailType},
	})
	if composite.Field(1).Offset != uintptr(tailOffset) {
		panic(cerrors.AssertionFailedf("dynstruct: tail of %s placed at offset %d, but the runtime places it at %d", composite, tailOffset, composite.Field(1).Offset))
	}

	raw := &rawBox{
		request: heap.Request{
			Layout: layout,
			Type:   composite,
		},
		headerType: headerType,
		tailType:   tailType,
		tailOffset: tailOffset,
		allocator:  allocator,
	}

	if layout.Size == 0 {
		raw.ptr = unsafe.Pointer(&sentinel)
	} else {
		ptr, err := allocator.Allocate(raw.request)
		if err != nil {
			panic(cerrors.WithStack(&AllocationError{Request: raw.request, Err: err}))
		}
		raw.ptr = ptr

		*(*H)(ptr) = header
	}

	s := &DynStruct[H, T, M]{
		raw:  raw,
		meta: tail.Metadata(),
		view: tail.View,
	}
	tail.WriteInto(raw.tailPtr())

	return s
}

func (s *DynStruct[H, T, M]) live() *rawBox {
	if s.raw == nil {
		panicReleased()
	}
	return s.raw
}

// Header returns the header stored in the composite
func (s *DynStruct[H, T, M]) Header() *H {
	return (*H)(s.live().ptr)
}

// Tail reads the tail stored in the composite. Sequence tails alias the composite's memory.
func (s *DynStruct[H, T, M]) Tail() T {
	return s.view(s.live().tailPtr())
}

// TailPtr returns the address of the tail
func (s *DynStruct[H, T, M]) TailPtr() unsafe.Pointer {
	return s.live().tailPtr()
}

// TailRef returns a pointer to the tail of a composite with a sized tail
func TailRef[H any, T any](s *DynStruct[H, T, dynarg.Thin]) *T {
	return (*T)(s.TailPtr())
}

// Metadata returns the tail's metadata, which is also the composite's
func (s *DynStruct[H, T, M]) Metadata() M {
	s.live()
	return s.meta
}

func (s *DynStruct[H, T, M]) Layout() memutils.Layout {
	return s.live().request.Layout
}

func (s *DynStruct[H, T, M]) Size() int {
	return s.live().request.Size
}

func (s *DynStruct[H, T, M]) Align() uint {
	return s.live().request.Align
}

// Ptr returns the address of the composite. Zero-size composites share a placeholder address
// that must not be written through.
func (s *DynStruct[H, T, M]) Ptr() unsafe.Pointer {
	return s.live().ptr
}

// Free drops the tail, then the header, and returns the memory to the allocator the composite
// came from. The handle cannot be used afterward.
func (s *DynStruct[H, T, M]) Free() {
	raw := s.live()
	s.raw = nil
	raw.free()
}
