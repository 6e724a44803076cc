package metadata

import "math"

// BlockAllocationHandle is a numeric handle identifying a region within a BlockMetadata
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
