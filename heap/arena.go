package heap

import (
	"context"
	"fmt"
	"strconv"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/dynstruct/internal/utils"
	"github.com/vkngwrapper/dynstruct/memutils"
	"github.com/vkngwrapper/dynstruct/memutils/metadata"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// ErrPointerfulType is returned when an Arena is asked to hold a type that contains pointers.
// Arena memory is not scanned by the garbage collector, so references stored there would not keep
// their targets alive.
var ErrPointerfulType = cerrors.New("heap: arena memory cannot hold types that contain pointers")

type arenaAllocation struct {
	block   *arenaBlock
	handle  metadata.BlockAllocationHandle
	request Request
}

// Arena is an Allocator that carves allocations out of large blocks of Go memory, tracking the
// free space of each block with a TLSF block metadata. It only serves pointer-free layouts.
//
// Blocks are reserved on demand and released when they become empty, as long as another empty
// block remains to serve the next allocation. An Arena is safe for concurrent use unless it was
// created with ArenaCreateExternallySynchronized.
type Arena struct {
	logger      *slog.Logger
	mutex       *utils.OptionalRWMutex
	createFlags CreateFlags

	blockSize     int
	maxBlockCount int
	maxAlignment  uint
	strategy      metadata.AllocationStrategy

	nextBlockID int
	blocks      []*arenaBlock
	live        *swiss.Map[uintptr, arenaAllocation]
}

var _ Allocator = &Arena{}

// Allocate carves req.Size zeroed bytes at req.Align alignment out of one of the arena's blocks,
// reserving a new block if none has room
func (a *Arena) Allocate(req Request) (unsafe.Pointer, error) {
	if req.Size == 0 {
		return nil, ErrZeroSize
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Align > a.maxAlignment {
		return nil, cerrors.Newf("heap: requested alignment %d exceeds the arena's maximum alignment %d", req.Align, a.maxAlignment)
	}
	if req.Type != nil && hasPointers(req.Type) {
		return nil, cerrors.Wrapf(ErrPointerfulType, "type %s", req.Type)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, block := range a.blocks {
		if !block.metadata.MayHaveFreeBlock(req.Size) {
			continue
		}

		ptr, err := a.allocFromBlock(block, req)
		if err != nil {
			return nil, err
		} else if ptr != nil {
			return ptr, nil
		}
	}

	block, err := a.createBlock(req)
	if err != nil {
		return nil, err
	}

	ptr, err := a.allocFromBlock(block, req)
	if err != nil {
		return nil, err
	} else if ptr == nil {
		panic(fmt.Sprintf("created arena block %d of size %d to hold an allocation of size %d, but the allocation did not fit", block.id, block.metadata.Size(), req.Size))
	}

	return ptr, nil
}

func (a *Arena) createBlock(req Request) (*arenaBlock, error) {
	if a.maxBlockCount > 0 && len(a.blocks) >= a.maxBlockCount {
		return nil, cerrors.Wrapf(ErrOutOfMemory, "arena already holds its maximum of %d blocks", a.maxBlockCount)
	}

	// Blocks begin at maxAlignment, so an oversized request needs no room for an alignment gap
	size := max(a.blockSize, memutils.AlignUp(req.Size+memutils.DebugMargin, a.maxAlignment))

	block := &arenaBlock{}
	block.Init(a.logger, a.nextBlockID, size, a.maxAlignment)
	a.nextBlockID++
	a.blocks = append(a.blocks, block)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block", slog.Int("block.id", block.id), slog.Int("size", size))
	return block, nil
}

func (a *Arena) allocFromBlock(block *arenaBlock, req Request) (unsafe.Pointer, error) {
	success, allocRequest, err := block.metadata.CreateAllocationRequest(req.Size, req.Align, a.strategy)
	if err != nil {
		return nil, err
	} else if !success {
		return nil, nil
	}

	err = block.metadata.Alloc(allocRequest, req)
	if err != nil {
		return nil, err
	}

	offset, err := block.metadata.AllocationOffset(allocRequest.BlockAllocationHandle)
	if err != nil {
		return nil, err
	}

	if memutils.DebugMargin > 0 {
		err = block.WriteMagicBlockAfterAllocation(offset, req.Size)
		if err != nil {
			return nil, err
		}
	}
	memutils.DebugValidate(block)

	ptr := block.at(offset)
	a.live.Put(uintptr(ptr), arenaAllocation{
		block:   block,
		handle:  allocRequest.BlockAllocationHandle,
		request: req,
	})

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from block", slog.Int("block.id", block.id), slog.Int("offset", offset))
	return ptr, nil
}

// Free releases an allocation. req must have the same size and alignment that the allocation was
// made with. The released bytes are cleared.
func (a *Arena) Free(ptr unsafe.Pointer, req Request) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	alloc, ok := a.live.Get(uintptr(ptr))
	if !ok {
		return ErrUnknownPointer
	}

	if alloc.request.Layout != req.Layout {
		return cerrors.Newf("heap: freed with layout %+v, but allocated with layout %+v", req.Layout, alloc.request.Layout)
	}

	block := alloc.block
	offset, err := block.metadata.AllocationOffset(alloc.handle)
	if err != nil {
		return err
	}

	if memutils.DebugMargin > 0 {
		err = block.ValidateMagicValueAfterAllocation(offset, alloc.request.Size)
		if err != nil {
			return err
		}
	}

	clear(unsafe.Slice((*byte)(ptr), alloc.request.Size))

	hasEmptyBlockBeforeFree := a.hasEmptyBlock()
	err = block.metadata.Free(alloc.handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when freeing allocation with handle %+v in metadata: %+v", alloc.handle, err))
	}
	a.live.Delete(uintptr(ptr))
	memutils.DebugValidate(block)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed from block", slog.Int("block.id", block.id), slog.Int("offset", offset))

	// Keep a single empty block around to serve the next allocation
	if block.metadata.IsEmpty() && hasEmptyBlockBeforeFree {
		index := slices.Index(a.blocks, block)
		a.blocks = slices.Delete(a.blocks, index, index+1)

		err = block.Destroy()
		if err != nil {
			panic(fmt.Sprintf("unexpected failure when destroying an arena block in response to freeing an allocation: %+v", err))
		}
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block", slog.Int("block.id", block.id))
	}

	return nil
}

func (a *Arena) hasEmptyBlock() bool {
	return slices.ContainsFunc(a.blocks, func(block *arenaBlock) bool {
		return block.metadata.IsEmpty()
	})
}

// BlockCount returns the number of blocks the arena currently holds
func (a *Arena) BlockCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return len(a.blocks)
}

// Statistics returns a summary of the arena's blocks and live allocations
func (a *Arena) Statistics() memutils.Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.Statistics
	for _, block := range a.blocks {
		block.metadata.AddStatistics(&stats)
	}
	return stats
}

// DetailedStatistics returns the arena's statistics along with the extremes of its allocation and
// free range sizes
func (a *Arena) DetailedStatistics() memutils.DetailedStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.detailedStatistics()
}

func (a *Arena) detailedStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()
	for _, block := range a.blocks {
		block.metadata.AddDetailedStatistics(&stats)
	}
	return stats
}

// PrintDetailedMap writes a json object describing every block and every region within it
func (a *Arena) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.printDetailedMap(writer)
}

func (a *Arena) printDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	for _, block := range a.blocks {
		blockObj := objState.Name(strconv.Itoa(block.id)).Object()
		block.metadata.BlockJsonData(&blockObj)
		a.printDetailedMapRegions(block.metadata, &blockObj)
		blockObj.End()
	}
}

func (a *Arena) printDetailedMapRegions(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	// Regions are visited from the end of the block
	type region struct {
		offset  int
		size    int
		request Request
		free    bool
	}
	var regions []region
	_ = md.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		request, _ := userData.(Request)
		regions = append(regions, region{offset: offset, size: size, request: request, free: free})
		return nil
	})

	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		obj := arrayState.Object()
		obj.Name("Offset").Int(r.offset)
		obj.Name("Size").Int(r.size)
		if r.free {
			obj.Name("Type").String("Free")
		} else {
			obj.Name("Type").String("Allocation")
			obj.Name("Align").Int(int(r.request.Align))
			if r.request.Type != nil {
				obj.Name("GoType").String(r.request.Type.String())
			}
		}
		obj.End()
	}
}

// BuildStatsString returns a json document of the arena's statistics. If detailedMap is true, the
// document also includes the output of PrintDetailedMap under "Blocks".
func (a *Arena) BuildStatsString(detailedMap bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	writer := jwriter.NewWriter()
	objState := writer.Object()

	stats := a.detailedStatistics()
	totalObj := objState.Name("Total").Object()
	totalObj.Name("BlockCount").Int(stats.BlockCount)
	totalObj.Name("BlockBytes").Int(stats.BlockBytes)
	totalObj.Name("AllocationCount").Int(stats.AllocationCount)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	if stats.AllocationCount > 0 {
		totalObj.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		totalObj.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		totalObj.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		totalObj.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	totalObj.End()

	objState.Name("Strategy").String(a.strategy.String())
	objState.Name("Flags").String(a.createFlags.String())

	if detailedMap {
		a.printDetailedMap(objState.Name("Blocks"))
	}

	objState.End()
	return string(writer.Bytes())
}

// Validate performs internal consistency checks on every block. These checks may be expensive.
func (a *Arena) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	allocationCount := 0
	for _, block := range a.blocks {
		if err := block.Validate(); err != nil {
			return cerrors.Wrapf(err, "arena block %d", block.id)
		}
		allocationCount += block.metadata.AllocationCount()
	}

	if allocationCount != a.live.Count() {
		return cerrors.Newf("heap: arena blocks hold %d allocations, but %d are tracked", allocationCount, a.live.Count())
	}
	return nil
}

// CheckCorruption verifies the debug margins written after every live allocation. It returns an
// error when the arena was not built with the debug_mem_utils tag.
func (a *Arena) CheckCorruption() error {
	if memutils.DebugMargin == 0 {
		return cerrors.New("heap: corruption detection requires the debug_mem_utils build tag")
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, block := range a.blocks {
		if err := block.CheckCorruption(); err != nil {
			return cerrors.Wrapf(err, "arena block %d", block.id)
		}
	}
	return nil
}

// Destroy releases every block held by the arena. Allocations that were never freed are logged at
// error level and reported in the returned error, and their memory is released regardless.
func (a *Arena) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var err error
	for _, block := range a.blocks {
		err = cerrors.CombineErrors(err, block.Destroy())
	}

	a.blocks = nil
	a.live = swiss.NewMap[uintptr, arenaAllocation](42)
	return err
}
