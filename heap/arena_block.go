package heap

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/dynstruct/memutils"
	"github.com/vkngwrapper/dynstruct/memutils/metadata"
	"golang.org/x/exp/slog"
)

type arenaBlock struct {
	id     int
	memory []byte
	logger *slog.Logger

	metadata metadata.BlockMetadata
}

func (b *arenaBlock) Init(logger *slog.Logger, id int, size int, alignment uint) {
	if b.memory != nil {
		panic("attempting to initialize an arena block that is already in use")
	}

	b.id = id
	b.logger = logger
	b.memory = alignedBytes(size, alignment)
	b.metadata = metadata.NewTLSFBlockMetadata()
	b.metadata.Init(size)
}

// alignedBytes over-allocates and slices off the front so the result begins at a multiple of
// alignment
func alignedBytes(size int, alignment uint) []byte {
	raw := make([]byte, size+int(alignment))
	rawPtr := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := memutils.AlignUp(int(rawPtr), alignment) - int(rawPtr)

	return raw[offset : offset+size : offset+size]
}

func (b *arenaBlock) base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(b.memory))
}

func (b *arenaBlock) at(offset int) unsafe.Pointer {
	return unsafe.Add(b.base(), offset)
}

func (b *arenaBlock) Destroy() error {
	if !b.metadata.IsEmpty() {
		// Log all remaining allocations
		err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			b.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			b.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Errorf("some allocations in arena block %d were not freed before the destruction of the block", b.id)
	}

	if b.memory == nil {
		panic("attempting to destroy an arena block, but it did not have backing memory")
	}

	b.memory = nil
	b.metadata = nil
	return nil
}

func (b *arenaBlock) logUnreleasedMemory(offset, size int, userData any) {
	typeName := "raw bytes"
	if request, ok := userData.(Request); ok && request.Type != nil {
		typeName = request.Type.String()
	}

	b.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("block.id", b.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("type", typeName),
	)
}

func (b *arenaBlock) Validate() error {
	if b.memory == nil {
		return errors.New("no valid memory for this arena block")
	}
	if b.metadata.Size() < 1 {
		return errors.New("this arena block's metadata has an invalid size")
	}
	if len(b.memory) != b.metadata.Size() {
		return errors.Errorf("arena block %d holds %d bytes, but its metadata tracks %d", b.id, len(b.memory), b.metadata.Size())
	}

	err := b.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		_, isRequest := userData.(Request)
		if free && isRequest {
			return errors.Errorf("a region at offset %d is marked as free but contains an allocation request", offset)
		} else if !free && !isRequest {
			return errors.Errorf("a region at offset %d is marked as allocated but has no allocation request", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return b.metadata.Validate()
}

func (b *arenaBlock) CheckCorruption() error {
	return b.metadata.CheckCorruption(b.base())
}

func (b *arenaBlock) WriteMagicBlockAfterAllocation(allocOffset int, allocSize int) error {
	if memutils.DebugMargin == 0 {
		return errors.New("attempting to write a debug margin block outside debug mode")
	} else if memutils.DebugMargin%4 != 0 {
		panic(fmt.Sprintf("invalid debug margin: debug margin %d must be a multiple of 4", memutils.DebugMargin))
	}

	memutils.WriteMagicValue(b.base(), allocOffset+allocSize)
	return nil
}

func (b *arenaBlock) ValidateMagicValueAfterAllocation(allocOffset int, allocSize int) error {
	if memutils.DebugMargin == 0 {
		panic("attempting to validate a debug margin block outside debug mode")
	} else if memutils.DebugMargin%4 != 0 {
		panic(fmt.Sprintf("invalid debug margin: debug margin %d must be a multiple of 4", memutils.DebugMargin))
	}

	if !memutils.ValidateMagicValue(b.base(), allocOffset+allocSize) {
		return errors.Errorf("memory corruption detected after freed allocation at offset %d in arena block %d", allocOffset, b.id)
	}
	return nil
}
