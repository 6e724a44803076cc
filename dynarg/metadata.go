package dynarg

import (
	"reflect"
	"unsafe"

	"github.com/vkngwrapper/dynstruct/memutils"
)

// Thin is the metadata of a sized value: its type alone describes its bytes
type Thin struct{}

// Len is the metadata of a sequence tail: the number of elements that follow the address
type Len int

// SliceAt forms a []E of n elements over the bytes at p. p must hold n consecutive values of E.
func SliceAt[E any](p unsafe.Pointer, n Len) []E {
	return unsafe.Slice((*E)(p), int(n))
}

// VTable is the metadata of a tail that is only known through the interface I. It records the
// concrete type of the stored bytes, which is what a consumer needs to recover their size,
// alignment and methods.
type VTable[I any] struct {
	typ reflect.Type
}

// Type returns the concrete type of the stored value
func (v VTable[I]) Type() reflect.Type {
	return v.typ
}

func (v VTable[I]) Size() int {
	return int(v.typ.Size())
}

func (v VTable[I]) Align() uint {
	return uint(v.typ.Align())
}

func (v VTable[I]) Layout() memutils.Layout {
	return memutils.LayoutOfType(v.typ)
}

// Deref forms an I over the concrete value stored at p. When the concrete type's pointer implements
// I, the result refers to the stored bytes directly, so methods with pointer receivers observe and
// mutate the stored value. Otherwise the result holds a copy.
func (v VTable[I]) Deref(p unsafe.Pointer) I {
	ptr := reflect.NewAt(v.typ, p)

	var out any
	if v.typ.Kind() != reflect.Interface && ptr.Type().Implements(reflect.TypeFor[I]()) {
		out = ptr.Interface()
	} else {
		out = ptr.Elem().Interface()
	}

	value, _ := out.(I)
	return value
}
