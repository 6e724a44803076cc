// Package dynarg captures a value so that it can be moved, exactly once, into memory that the
// caller did not declare with the value's type. It is the input side of dynstruct.New: the
// captured value becomes the tail of a composite allocation.
//
// A DynArg carries the address of the captured bytes together with their metadata: Thin for
// values whose type describes them completely, Len for sequences and VTable for values only known
// through an interface. Widening conversions (Unsize, Dyn) keep the address and change the
// metadata.
//
// After Capture the caller must not use, and in particular must not Drop, the captured value
// through any other path. The DynArg takes over the value and hands it to exactly one destination.
package dynarg

import (
	"reflect"
	"unsafe"

	"github.com/vkngwrapper/dynstruct/memutils"
)

// DynArg is a one-shot transfer wrapper over a captured value whose bytes can be viewed as T and
// whose shape is described by the metadata M.
type DynArg[T any, M any] struct {
	ptr  unsafe.Pointer
	meta M
	typ  reflect.Type

	view     func(unsafe.Pointer) T
	copyFunc func(dst, src unsafe.Pointer)

	consumed bool
}

// Capture takes over the value at p. The caller must not use *p again.
func Capture[T any](p *T) *DynArg[T, Thin] {
	return &DynArg[T, Thin]{
		ptr: unsafe.Pointer(p),
		typ: reflect.TypeFor[T](),
		view: func(p unsafe.Pointer) T {
			return *(*T)(p)
		},
		copyFunc: func(dst, src unsafe.Pointer) {
			*(*T)(dst) = *(*T)(src)
		},
	}
}

// Of captures its own copy of value
func Of[T any](value T) *DynArg[T, Thin] {
	return Capture(&value)
}

// Slice captures the elements of s as a sequence tail of len(s) elements. The caller must not use
// the backing array of s again.
func Slice[E any](s []E) *DynArg[[]E, Len] {
	n := len(s)
	return &DynArg[[]E, Len]{
		ptr:      unsafe.Pointer(unsafe.SliceData(s)),
		meta:     Len(n),
		typ:      reflect.ArrayOf(n, reflect.TypeFor[E]()),
		view:     sliceView[E](Len(n)),
		copyFunc: sliceCopy[E](n),
	}
}

func sliceView[E any](n Len) func(unsafe.Pointer) []E {
	return func(p unsafe.Pointer) []E {
		return SliceAt[E](p, n)
	}
}

func sliceCopy[E any](n int) func(dst, src unsafe.Pointer) {
	return func(dst, src unsafe.Pointer) {
		copy(unsafe.Slice((*E)(dst), n), unsafe.Slice((*E)(src), n))
	}
}

func (a *DynArg[T, M]) checkLive() {
	if a.consumed {
		panicConsumed()
	}
}

// Ptr returns the address of the captured bytes
func (a *DynArg[T, M]) Ptr() unsafe.Pointer {
	a.checkLive()
	return a.ptr
}

// Size returns the size in bytes of the captured value
func (a *DynArg[T, M]) Size() int {
	a.checkLive()
	return int(a.typ.Size())
}

// Align returns the alignment of the captured value
func (a *DynArg[T, M]) Align() uint {
	a.checkLive()
	return uint(a.typ.Align())
}

func (a *DynArg[T, M]) Layout() memutils.Layout {
	a.checkLive()
	return memutils.LayoutOfType(a.typ)
}

// Metadata returns the shape of the captured value
func (a *DynArg[T, M]) Metadata() M {
	a.checkLive()
	return a.meta
}

// Type returns the concrete type of the captured bytes. Sequence tails report an array type of
// the captured length.
func (a *DynArg[T, M]) Type() reflect.Type {
	a.checkLive()
	return a.typ
}

// View forms a T over bytes at p that are laid out like the captured value. It may be used after
// the DynArg has been consumed, and is how a destination reads back the value it received.
func (a *DynArg[T, M]) View(p unsafe.Pointer) T {
	return a.view(p)
}

// WriteInto moves the captured value into dst, which must have room for Size bytes at Align
// alignment. The copy is typed, so the garbage collector sees the references it carries. Nothing
// is written for zero-size values. The DynArg is consumed.
func (a *DynArg[T, M]) WriteInto(dst unsafe.Pointer) {
	a.checkLive()
	if a.typ.Size() != 0 {
		a.copyFunc(dst, a.ptr)
	}
	a.consume()
}

// Consumed reports whether the DynArg has been written or converted
func (a *DynArg[T, M]) Consumed() bool {
	return a.consumed
}

func (a *DynArg[T, M]) consume() {
	a.consumed = true
	a.ptr = nil
}
