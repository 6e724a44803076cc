package dynstruct

import (
	"reflect"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
)

// Dropper is implemented by values that own something which must be released when the composite
// holding them is freed. Drop is called exactly once, on the copy stored in the composite.
//
// Arrays drop their elements in order and structs drop their fields in declaration order, after
// the array or struct's own Drop. A struct that gets Drop from an embedded field has it called once.
// A struct that defines its own Drop shadows the Drop of its embedded fields: theirs is not called,
// though fields nested inside them are still dropped.
// Pointers, interfaces, slices, maps and channels are references and are never followed.
type Dropper interface {
	Drop()
}

var dropperType = reflect.TypeFor[Dropper]()

var dropGlue = struct {
	sync.RWMutex
	needsDrop *swiss.Map[reflect.Type, bool]
}{
	needsDrop: swiss.NewMap[reflect.Type, bool](64),
}

func isDropper(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer:
		return false
	}

	return reflect.PointerTo(t).Implements(dropperType)
}

func needsDrop(t reflect.Type) bool {
	dropGlue.RLock()
	needs, ok := dropGlue.needsDrop.Get(t)
	dropGlue.RUnlock()
	if ok {
		return needs
	}

	needs = isDropper(t)
	if !needs {
		switch t.Kind() {
		case reflect.Array:
			needs = t.Len() > 0 && needsDrop(t.Elem())
		case reflect.Struct:
			for i := 0; i < t.NumField() && !needs; i++ {
				needs = needsDrop(t.Field(i).Type)
			}
		}
	}

	dropGlue.Lock()
	dropGlue.needsDrop.Put(t, needs)
	dropGlue.Unlock()

	return needs
}

// dropInPlace runs the drop glue of the value of type t stored at p
func dropInPlace(t reflect.Type, p unsafe.Pointer) {
	if !needsDrop(t) {
		return
	}

	dropped := isDropper(t)
	if dropped {
		reflect.NewAt(t, p).Interface().(Dropper).Drop()
	}
	dropContents(t, p, dropped)
}

func dropContents(t reflect.Type, p unsafe.Pointer, selfDropped bool) {
	switch t.Kind() {
	case reflect.Array:
		elem := t.Elem()
		for i := 0; i < t.Len(); i++ {
			dropInPlace(elem, unsafe.Add(p, uintptr(i)*elem.Size()))
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			fieldPtr := unsafe.Add(p, field.Offset)

			if selfDropped && field.Anonymous && isDropper(field.Type) {
				// The Drop just called was promoted from this field, or shadows it
				dropContents(field.Type, fieldPtr, true)
				continue
			}
			dropInPlace(field.Type, fieldPtr)
		}
	}
}
