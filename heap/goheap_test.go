package heap_test

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dynstruct/heap"
	"github.com/vkngwrapper/dynstruct/memutils"
)

type record struct {
	Name   string
	Values []int
	Count  int
}

func TestGoHeapRoundTrip(t *testing.T) {
	req := heap.RequestFor(reflect.TypeOf(record{}))
	ptr, err := heap.Default.Allocate(req)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.Zero(t, uintptr(ptr)%uintptr(req.Align))

	rec := (*record)(ptr)
	require.Equal(t, record{}, *rec)
	rec.Name = "header"
	rec.Values = []int{1, 2, 3}
	rec.Count = 3

	require.NoError(t, heap.Default.Free(ptr, req))
	require.Equal(t, record{}, *rec)
}

func TestGoHeapRejects(t *testing.T) {
	_, err := heap.Default.Allocate(heap.Request{Layout: memutils.Layout{Size: 0, Align: 1}, Type: reflect.TypeOf(struct{}{})})
	require.ErrorIs(t, err, heap.ErrZeroSize)

	_, err = heap.Default.Allocate(heap.Request{Layout: memutils.Layout{Size: 8, Align: 8}})
	require.Error(t, err)

	_, err = heap.Default.Allocate(heap.Request{Layout: memutils.Layout{Size: 16, Align: 8}, Type: reflect.TypeOf(uint64(0))})
	require.Error(t, err)

	_, err = heap.Default.Allocate(heap.Request{Layout: memutils.Layout{Size: 8, Align: 3}, Type: reflect.TypeOf(uint64(0))})
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	require.ErrorIs(t, heap.Default.Free(nil, heap.RequestFor(reflect.TypeOf(uint64(0)))), heap.ErrUnknownPointer)
}

func TestRequestFor(t *testing.T) {
	req := heap.RequestFor(reflect.TypeOf([3]uint32{}))
	require.Equal(t, memutils.Layout{Size: 12, Align: 4}, req.Layout)
	require.Equal(t, reflect.TypeOf([3]uint32{}), req.Type)
	require.NoError(t, req.Validate())
	require.Equal(t, unsafe.Sizeof([3]uint32{}), uintptr(req.Size))
}
