// Package heap routes the allocation and release of composite values. Every allocation is
// described by a Request, and the same Request must be passed back to Free.
package heap

import (
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/dynstruct/memutils"
)

var (
	// ErrZeroSize is returned when an allocator is asked for zero bytes
	ErrZeroSize = cerrors.New("heap: zero-size allocation requested")
	// ErrOutOfMemory is returned when an allocator cannot provide the requested memory
	ErrOutOfMemory = cerrors.New("heap: out of memory")
	// ErrUnknownPointer is returned when freeing memory that the allocator did not hand out
	ErrUnknownPointer = cerrors.New("heap: pointer was not allocated by this allocator")
)

// Request describes a single allocation. Type is the Go type that will live in the allocation; its
// size and alignment must cover Layout.
type Request struct {
	memutils.Layout
	Type reflect.Type
}

// RequestFor builds a Request whose layout is exactly that of t
func RequestFor(t reflect.Type) Request {
	return Request{
		Layout: memutils.LayoutOfType(t),
		Type:   t,
	}
}

// Validate returns an error if the request cannot be satisfied by any allocator
func (r Request) Validate() error {
	if err := r.Layout.Validate(); err != nil {
		return err
	}
	if r.Type == nil {
		return nil
	}
	if int(r.Type.Size()) < r.Size {
		return cerrors.Newf("heap: type %s has size %d, smaller than the requested %d bytes", r.Type, r.Type.Size(), r.Size)
	}
	if uint(r.Type.Align()) < r.Align {
		return cerrors.Newf("heap: type %s has alignment %d, smaller than the requested alignment %d", r.Type, r.Type.Align(), r.Align)
	}
	return nil
}

//go:generate mockgen -destination mocks/allocator.go -package mocks github.com/vkngwrapper/dynstruct/heap Allocator

// Allocator provides memory for composite values
type Allocator interface {
	// Allocate returns the address of a new, zeroed region of req.Size bytes aligned to req.Align
	Allocate(req Request) (unsafe.Pointer, error)
	// Free releases a region returned by Allocate. req must be the Request it was allocated with.
	Free(ptr unsafe.Pointer, req Request) error
}

// Default is the allocator used by dynstruct.New
var Default Allocator = GoHeap{}

// GoHeap allocates from the garbage-collected Go heap. Requests must carry a Type, which lets the
// collector trace any references stored in the allocation. Free does not return memory to the
// runtime: it clears the region so that the references it held can be collected, and the region
// itself is reclaimed once it is unreachable.
type GoHeap struct{}

var _ Allocator = GoHeap{}

func (GoHeap) Allocate(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, ErrZeroSize
	}
	if req.Type == nil {
		return nil, cerrors.New("heap: the go heap requires a request type")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return reflect.New(req.Type).UnsafePointer(), nil
}

func (GoHeap) Free(ptr unsafe.Pointer, req Request) error {
	if ptr == nil {
		return ErrUnknownPointer
	}
	if req.Type == nil {
		return cerrors.New("heap: the go heap requires a request type")
	}

	reflect.NewAt(req.Type, ptr).Elem().SetZero()
	return nil
}

// hasPointers reports whether values of t contain anything the garbage collector must trace
func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
