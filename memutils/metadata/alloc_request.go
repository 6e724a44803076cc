package metadata

// AllocationRequestType indicates which BlockMetadata implementation produced an AllocationRequest
type AllocationRequestType uint32

const (
	// AllocationRequestTLSF indicates that the allocation request was sourced from TLSFBlockMetadata
	AllocationRequestTLSF AllocationRequestType = iota
)

var allocationRequestMapping = map[AllocationRequestType]string{
	AllocationRequestTLSF: "TLSF",
}

func (t AllocationRequestType) String() string {
	return allocationRequestMapping[t]
}

// AllocationRequest is returned from BlockMetadata.CreateAllocationRequest and describes where the
// metadata intends to place a new allocation. Pass it to BlockMetadata.Alloc to commit it.
type AllocationRequest struct {
	// BlockAllocationHandle identifies the free region the allocation will be carved from. Once the
	// request is committed, it identifies the allocation itself.
	BlockAllocationHandle BlockAllocationHandle
	// Size is the size in bytes of the allocation, not including any debug margin
	Size int
	// Type identifies the BlockMetadata implementation that produced this request
	Type AllocationRequestType
	// AlgorithmData is used by the BlockMetadata implementation for internal purposes
	AlgorithmData uint64
}
