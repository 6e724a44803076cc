package dynstruct

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dynstruct/dynarg"
	"github.com/vkngwrapper/dynstruct/memutils"
)

// Pointee is satisfied by types that declare the metadata M of their tail by embedding one of
// Sized, Tail or Dyn
type Pointee[M any] interface {
	pointeeMetadata() M
}

// Sized marks a type with no dynamic tail. Embed it as the first field.
type Sized struct{}

func (Sized) pointeeMetadata() dynarg.Thin {
	return dynarg.Thin{}
}

// Tail marks the sequence of E that follows a type's fields. Embed it as the last field.
type Tail[E any] [0]E

func (Tail[E]) pointeeMetadata() dynarg.Len {
	return 0
}

// Slice returns the n elements stored at the tail
func (t *Tail[E]) Slice(n dynarg.Len) []E {
	return dynarg.SliceAt[E](unsafe.Pointer(t), n)
}

// Dyn marks a tail known only through the interface I. Embed it as the last field.
type Dyn[I any] struct{}

func (Dyn[I]) pointeeMetadata() dynarg.VTable[I] {
	return dynarg.VTable[I]{}
}

// Value returns the tail described by meta. The tail begins at the marker's offset rounded up to
// the concrete type's alignment.
func (d *Dyn[I]) Value(meta dynarg.VTable[I]) I {
	p := unsafe.Pointer(d)
	return meta.Deref(unsafe.Add(p, memutils.Padding(int(uintptr(p)), meta.Align())))
}

// Owned is the owning handle of a composite viewed as U, with tail metadata M. It must be released
// with Free.
type Owned[U any, M any] struct {
	raw  *rawBox
	meta M
}

func (o *Owned[U, M]) live() *rawBox {
	if o.raw == nil {
		panicReleased()
	}
	return o.raw
}

// Get returns the composite as a *U
func (o *Owned[U, M]) Get() *U {
	return (*U)(o.live().ptr)
}

// Metadata returns the tail's metadata
func (o *Owned[U, M]) Metadata() M {
	o.live()
	return o.meta
}

func (o *Owned[U, M]) Ptr() unsafe.Pointer {
	return o.live().ptr
}

func (o *Owned[U, M]) Size() int {
	return o.live().request.Size
}

func (o *Owned[U, M]) Layout() memutils.Layout {
	return o.live().request.Layout
}

// Free runs the drop glue of the header and tail the composite was built from, then returns the
// memory to its allocator. The handle cannot be used afterward.
func (o *Owned[U, M]) Free() {
	raw := o.live()
	o.raw = nil
	raw.free()
}

// Transmute moves ownership of s to a handle that views the composite as U. The compiler verifies
// that U declares the same tail metadata as s. The caller must guarantee that U's fields sit at
// the same offsets as the header's and that U's tail marker sits where the tail begins.
func Transmute[U Pointee[M], H any, T any, M any](s *DynStruct[H, T, M]) *Owned[U, M] {
	raw := s.live()
	meta := s.meta
	s.raw = nil

	return &Owned[U, M]{raw: raw, meta: meta}
}

// MoreUnsafeTransmute moves ownership of s to a handle that views the composite as U and
// reinterprets the tail metadata's bits as N.
//
// This is the most dangerous operation in this module. Nothing about U or N is verified beyond N
// having the same size as M: a layout or metadata mismatch silently corrupts data or reads invalid
// memory the first time the tail is accessed. Prefer Transmute wherever U can declare its metadata.
func MoreUnsafeTransmute[U any, N any, H any, T any, M any](s *DynStruct[H, T, M]) *Owned[U, N] {
	var n N
	if unsafe.Sizeof(n) != unsafe.Sizeof(s.meta) {
		panic(cerrors.AssertionFailedf("dynstruct: cannot reinterpret %d bytes of metadata as %d bytes", unsafe.Sizeof(s.meta), unsafe.Sizeof(n)))
	}

	raw := s.live()
	meta := *(*N)(unsafe.Pointer(&s.meta))
	s.raw = nil

	return &Owned[U, N]{raw: raw, meta: meta}
}
