package metadata

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/dynstruct/memutils"
)

// BlockMetadata tracks the suballocations carved out of a single contiguous block of memory. It only
// deals in offsets and sizes: the consumer owns the memory itself and applies the offsets to it.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. size is the size in bytes of the block
	// of memory that will be managed.
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks may be expensive.
	// When the implementation is functioning correctly, it should not be possible for this method
	// to return an error.
	Validate() error
	// AllocationCount returns the number of live suballocations in the block
	AllocationCount() int
	// SumFreeSize returns the number of free bytes in the block
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic indicating whether an allocation of size bytes could
	// possibly succeed. It may return false positives but never false negatives.
	MayHaveFreeBlock(size int) bool
	// IsEmpty returns true if this block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions calls handleBlock once for each allocation and free region in the block.
	// This is slow and intended for diagnostics.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error
	// AllocationOffset returns the offset in bytes of a live region within the block
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)

	// AddDetailedStatistics sums this block's statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// BlockJsonData populates a json object with summary information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption verifies the debug margin after every live suballocation of the block whose
	// memory begins at blockData. Margins are only written when built with the debug_mem_utils tag,
	// and it is the consumer's responsibility to write them with memutils.WriteMagicValue.
	CheckCorruption(blockData unsafe.Pointer) error

	// CreateAllocationRequest finds a place for an allocation of allocSize bytes aligned to
	// allocAlignment without committing it. The returned bool is false if there is no room.
	// strategy chooses between best fit, first fit and lowest offset.
	CreateAllocationRequest(allocSize int, allocAlignment uint, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits a request returned by CreateAllocationRequest. It returns an error if the
	// request no longer describes a valid free region.
	Alloc(request AllocationRequest, userData any) error
	// Free releases a live suballocation, merging it with adjacent free regions
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase provides the state shared by BlockMetadata implementations
type BlockMetadataBase struct {
	size int
}

// Init sizes the block in bytes
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

// blockJsonData writes the summary fields every implementation shares
func (m *BlockMetadataBase) blockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
