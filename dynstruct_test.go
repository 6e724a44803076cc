package dynstruct_test

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dynstruct"
	"github.com/vkngwrapper/dynstruct/dynarg"
	"github.com/vkngwrapper/dynstruct/heap"
	"github.com/vkngwrapper/dynstruct/heap/mocks"
	"github.com/vkngwrapper/dynstruct/memutils"
	"go.uber.org/mock/gomock"
)

type pair struct {
	Flag bool
	N    uint16
}

type record struct {
	Flag bool
	N    uint16
	dynstruct.Tail[uint64]
}

func TestNewSizedTail(t *testing.T) {
	s := dynstruct.New(pair{Flag: true, N: 32}, dynarg.Of([4]uint64{1, 2, 3, 4}))

	require.Equal(t, pair{Flag: true, N: 32}, *s.Header())
	require.Equal(t, [4]uint64{1, 2, 3, 4}, s.Tail())
	require.Equal(t, [4]uint64{1, 2, 3, 4}, *dynstruct.TailRef(s))
	require.Equal(t, dynarg.Thin{}, s.Metadata())
	require.Equal(t, memutils.Layout{Size: 40, Align: 8}, s.Layout())
	require.Equal(t, unsafe.Add(s.Ptr(), 8), s.TailPtr())

	dynstruct.TailRef(s)[2] = 30
	require.Equal(t, [4]uint64{1, 2, 30, 4}, s.Tail())

	s.Free()
	require.PanicsWithError(t, dynstruct.ErrReleased.Error(), func() {
		s.Header()
	})
	require.PanicsWithError(t, dynstruct.ErrReleased.Error(), func() {
		s.Free()
	})
}

func TestNewUnsizedTailAndTransmute(t *testing.T) {
	s := dynstruct.New(pair{Flag: true, N: 32}, dynarg.Unsize[uint64](dynarg.Of([4]uint64{1, 2, 3, 4})))

	require.Equal(t, pair{Flag: true, N: 32}, *s.Header())
	require.Equal(t, dynarg.Len(4), s.Metadata())
	require.Equal(t, []uint64{1, 2, 3, 4}, s.Tail())
	require.Equal(t, 40, s.Size())
	require.Equal(t, uint(8), s.Align())

	owned := dynstruct.Transmute[record](s)
	require.PanicsWithError(t, dynstruct.ErrReleased.Error(), func() {
		s.Tail()
	})

	rec := owned.Get()
	require.True(t, rec.Flag)
	require.Equal(t, uint16(32), rec.N)
	require.Equal(t, dynarg.Len(4), owned.Metadata())
	require.Equal(t, []uint64{1, 2, 3, 4}, rec.Slice(owned.Metadata()))
	require.Equal(t, 40, owned.Size())
	require.Equal(t, memutils.Layout{Size: 40, Align: 8}, owned.Layout())

	owned.Free()
	require.PanicsWithError(t, dynstruct.ErrReleased.Error(), func() {
		owned.Get()
	})
}

func TestNewSliceTail(t *testing.T) {
	s := dynstruct.New(uint8(3), dynarg.Slice([]string{"a", "b", "c"}))
	require.Equal(t, uint8(3), *s.Header())
	require.Equal(t, []string{"a", "b", "c"}, s.Tail())

	s.Tail()[1] = "B"
	require.Equal(t, []string{"a", "B", "c"}, s.Tail())
	s.Free()
}

type greeter interface {
	Greet() string
}

type named struct {
	Name    string
	dropped *int
}

func (n *named) Greet() string {
	return "hello " + n.Name
}

func (n *named) Drop() {
	*n.dropped++
}

type greeting struct {
	ID uint32
	dynstruct.Dyn[greeter]
}

func TestNewInterfaceTail(t *testing.T) {
	dropped := 0
	s := dynstruct.New(uint32(9), dynarg.Dyn[greeter](dynarg.Of(named{Name: "tail", dropped: &dropped})))

	require.Equal(t, "hello tail", s.Tail().Greet())
	require.Equal(t, unsafe.Sizeof(named{}), uintptr(s.Metadata().Size()))
	require.Equal(t, unsafe.Add(s.Ptr(), 8), s.TailPtr())

	owned := dynstruct.Transmute[greeting](s)
	require.Equal(t, uint32(9), owned.Get().ID)
	require.Equal(t, "hello tail", owned.Get().Value(owned.Metadata()).Greet())
	require.Equal(t, 0, dropped)

	owned.Free()
	require.Equal(t, 1, dropped)
}

func TestMoreUnsafeTransmute(t *testing.T) {
	s := dynstruct.New(pair{Flag: true, N: 32}, dynarg.Slice([]uint64{1, 2, 3, 4}))
	owned := dynstruct.MoreUnsafeTransmute[record, dynarg.Len](s)
	require.Equal(t, []uint64{1, 2, 3, 4}, owned.Get().Slice(owned.Metadata()))
	owned.Free()

	counted := dynstruct.New(uint64(7), dynarg.Slice([]uint32{5, 6}))
	reinterpreted := dynstruct.MoreUnsafeTransmute[struct {
		dynstruct.Sized
		A uint64
	}, int](counted)
	require.Equal(t, 2, reinterpreted.Metadata())
	require.Equal(t, uint64(7), reinterpreted.Get().A)
	reinterpreted.Free()

	mismatched := dynstruct.New(pair{}, dynarg.Slice([]uint64{1}))
	require.Panics(t, func() {
		dynstruct.MoreUnsafeTransmute[greeting, dynarg.VTable[greeter]](mismatched)
	})
	mismatched.Free()
}

func requireSizeLaw[H any, T any, M any](t *testing.T, header H, tail *dynarg.DynArg[T, M]) {
	t.Helper()

	headerSize := int(unsafe.Sizeof(header))
	tailSize := tail.Size()
	tailAlign := tail.Align()
	padding := (int(tailAlign) - headerSize%int(tailAlign)) % int(tailAlign)

	s := dynstruct.New(header, tail)
	defer s.Free()

	require.Equal(t, headerSize+padding+tailSize, s.Size())
	require.Equal(t, max(uint(unsafe.Alignof(header)), tailAlign), s.Align())
	require.Equal(t, unsafe.Add(s.Ptr(), headerSize+padding), s.TailPtr())
}

func TestSizeLaw(t *testing.T) {
	t.Run("byte header, word tail", func(t *testing.T) {
		requireSizeLaw(t, uint8(1), dynarg.Of([3]uint32{1, 2, 3}))
	})
	t.Run("odd header, quadword sequence", func(t *testing.T) {
		requireSizeLaw(t, [3]byte{1, 2, 3}, dynarg.Slice([]uint64{1}))
	})
	t.Run("quadword header, byte tail", func(t *testing.T) {
		requireSizeLaw(t, uint64(1), dynarg.Of([2]uint8{1, 2}))
	})
	t.Run("empty header", func(t *testing.T) {
		requireSizeLaw(t, struct{}{}, dynarg.Of([2]uint16{1, 2}))
	})
	t.Run("empty sequence", func(t *testing.T) {
		requireSizeLaw(t, uint32(1), dynarg.Slice[uint64](nil))
	})
	t.Run("empty composite", func(t *testing.T) {
		requireSizeLaw(t, struct{}{}, dynarg.Of(struct{}{}))
	})
}

func TestZeroSizeSkipsAllocator(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)

	s := dynstruct.NewIn(allocator, struct{}{}, dynarg.Slice[uint64](nil))
	require.Equal(t, 0, s.Size())
	require.Equal(t, dynarg.Len(0), s.Metadata())
	require.Empty(t, s.Tail())
	ptr := s.Ptr()
	require.NotNil(t, ptr)
	s.Free()
	require.PanicsWithError(t, dynstruct.ErrReleased.Error(), func() { s.Ptr() })

	other := dynstruct.NewIn(allocator, [0]int{}, dynarg.Of([0]string{}))
	require.Equal(t, ptr, other.Ptr())
	other.Free()
}

func TestAllocatorReceivesMatchingRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)

	var allocated unsafe.Pointer
	var request heap.Request
	allocator.EXPECT().Allocate(gomock.Any()).DoAndReturn(func(req heap.Request) (unsafe.Pointer, error) {
		request = req
		ptr, err := heap.Default.Allocate(req)
		allocated = ptr
		return ptr, err
	})

	s := dynstruct.NewIn(allocator, uint32(7), dynarg.Slice([]uint16{1, 2, 3}))
	require.Equal(t, memutils.Layout{Size: 10, Align: 4}, request.Layout)
	require.Equal(t, allocated, s.Ptr())
	require.Equal(t, []uint16{1, 2, 3}, s.Tail())

	allocator.EXPECT().Free(allocated, request).Return(nil)
	s.Free()
}

func TestAllocationFailurePanics(t *testing.T) {
	ctrl := gomock.NewController(t)
	allocator := mocks.NewMockAllocator(ctrl)
	allocator.EXPECT().Allocate(gomock.Any()).Return(unsafe.Pointer(nil), heap.ErrOutOfMemory)

	tail := dynarg.Of([2]uint32{1, 2})

	var recovered any
	func() {
		defer func() {
			recovered = recover()
		}()
		dynstruct.NewIn(allocator, uint64(1), tail)
	}()

	err, ok := recovered.(error)
	require.True(t, ok)
	require.ErrorIs(t, err, heap.ErrOutOfMemory)

	var allocErr *dynstruct.AllocationError
	require.ErrorAs(t, err, &allocErr)
	require.Equal(t, memutils.Layout{Size: 16, Align: 8}, allocErr.Request.Layout)
	require.False(t, tail.Consumed())
}

func TestArenaComposite(t *testing.T) {
	arena, err := heap.NewArena(nil, heap.ArenaOptions{BlockSize: 1024})
	require.NoError(t, err)

	s := dynstruct.NewIn(arena, pair{Flag: true, N: 32}, dynarg.Slice([]uint64{1, 2, 3, 4}))
	require.Zero(t, uintptr(s.Ptr())%8)
	require.Equal(t, 1, arena.Statistics().AllocationCount)
	require.Equal(t, 40, arena.Statistics().AllocationBytes)

	owned := dynstruct.Transmute[record](s)
	require.Equal(t, []uint64{1, 2, 3, 4}, owned.Get().Slice(owned.Metadata()))
	owned.Free()

	require.Equal(t, 0, arena.Statistics().AllocationCount)
	require.NoError(t, arena.Validate())

	require.Panics(t, func() {
		dynstruct.NewIn(arena, "pointers", dynarg.Of(uint64(1)))
	})
	require.NoError(t, arena.Destroy())
}

type counted struct {
	live *atomic.Int32
}

func newCounted(live *atomic.Int32) counted {
	live.Add(1)
	return counted{live: live}
}

func (p counted) Drop() {
	p.live.Add(-1)
}

type countedHeader struct {
	First  counted
	Count  int
	Second counted
}

func TestDropRunsExactlyOnce(t *testing.T) {
	var live atomic.Int32

	tail := [3]counted{newCounted(&live), newCounted(&live), newCounted(&live)}
	arg := dynarg.Capture(&tail)
	header := countedHeader{First: newCounted(&live), Count: 3, Second: newCounted(&live)}
	require.Equal(t, int32(5), live.Load())

	s := dynstruct.New(header, dynarg.Unsize[counted](arg))
	require.Equal(t, int32(5), live.Load())

	s.Free()
	require.Equal(t, int32(0), live.Load())
}

type logged struct {
	log  *[]string
	name string
}

func (l *logged) Drop() {
	*l.log = append(*l.log, l.name)
}

type promoted struct {
	logged
	Extra logged
}

func TestDropOrder(t *testing.T) {
	var log []string

	s := dynstruct.New(
		logged{log: &log, name: "header"},
		dynarg.Slice([]logged{{log: &log, name: "tail0"}, {log: &log, name: "tail1"}}),
	)
	s.Free()
	require.Equal(t, []string{"tail0", "tail1", "header"}, log)

	log = nil
	p := dynstruct.New(uint8(0), dynarg.Of(promoted{
		logged: logged{log: &log, name: "promoted"},
		Extra:  logged{log: &log, name: "extra"},
	}))
	p.Free()
	require.Equal(t, []string{"promoted", "extra"}, log)

	log = nil
	sh := dynstruct.New(uint8(0), dynarg.Of(shadowing{
		logged: logged{log: &log, name: "inner"},
		log:    &log,
	}))
	sh.Free()
	require.Equal(t, []string{"outer"}, log)
}

type shadowing struct {
	logged
	log *[]string
}

func (s *shadowing) Drop() {
	*s.log = append(*s.log, "outer")
}

func TestWideningPreservesBytes(t *testing.T) {
	value := [4]uint64{1, 2, 3, 4}
	expected := value

	arg := dynarg.Capture(&value)
	addr := arg.Ptr()
	unsized := dynarg.Unsize[uint64](arg)
	require.Equal(t, addr, unsized.Ptr())

	widened := dynstruct.New(pair{}, unsized)
	direct := dynstruct.New(pair{}, dynarg.Of(expected))
	defer widened.Free()
	defer direct.Free()

	require.Equal(t, direct.Size(), widened.Size())
	require.Equal(t,
		unsafe.Slice((*byte)(direct.TailPtr()), 32),
		unsafe.Slice((*byte)(widened.TailPtr()), 32),
	)
}

func TestConsumedTailIsRejected(t *testing.T) {
	tail := dynarg.Of([1]uint64{1})
	s := dynstruct.New(uint8(0), tail)
	defer s.Free()

	require.PanicsWithError(t, dynarg.ErrConsumed.Error(), func() {
		dynstruct.New(uint8(0), tail)
	})
}
