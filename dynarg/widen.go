package dynarg

import (
	"reflect"

	cerrors "github.com/cockroachdb/errors"
)

// Unsize converts a DynArg over an array [N]E into a DynArg over the sequence []E of N elements.
// The address is preserved and the source DynArg is consumed. It panics if A is not an array of E.
func Unsize[E any, A any](a *DynArg[A, Thin]) *DynArg[[]E, Len] {
	a.checkLive()

	elem := reflect.TypeFor[E]()
	if a.typ.Kind() != reflect.Array || a.typ.Elem() != elem {
		panic(cerrors.AssertionFailedf("dynarg: cannot unsize %s into []%s", a.typ, elem))
	}

	n := Len(a.typ.Len())
	out := &DynArg[[]E, Len]{
		ptr:      a.ptr,
		meta:     n,
		typ:      a.typ,
		view:     sliceView[E](n),
		copyFunc: a.copyFunc,
	}
	a.consume()
	return out
}

// Dyn converts a DynArg over a concrete T into a DynArg over the interface I that T (or *T)
// implements. The address is preserved and the source DynArg is consumed. It panics if I is not
// an interface or is not implemented.
func Dyn[I any, T any](a *DynArg[T, Thin]) *DynArg[I, VTable[I]] {
	a.checkLive()

	iface := reflect.TypeFor[I]()
	if iface.Kind() != reflect.Interface {
		panic(cerrors.AssertionFailedf("dynarg: %s is not an interface", iface))
	}
	if !a.typ.Implements(iface) && !reflect.PointerTo(a.typ).Implements(iface) {
		panic(cerrors.AssertionFailedf("dynarg: %s does not implement %s", a.typ, iface))
	}

	meta := VTable[I]{typ: a.typ}
	out := &DynArg[I, VTable[I]]{
		ptr:      a.ptr,
		meta:     meta,
		typ:      a.typ,
		view:     meta.Deref,
		copyFunc: a.copyFunc,
	}
	a.consume()
	return out
}
