//go:build !debug_mem_utils

package metadata_test

import (
	"math"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/dynstruct/memutils"
	"github.com/vkngwrapper/dynstruct/memutils/metadata"
)

func TestTLSFBasicAlloc(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 1000,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, detailedStats(tlsf))

	alloc1 := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, detailedStats(tlsf))
	require.False(t, tlsf.IsEmpty())
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(alloc1))

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 1000,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, detailedStats(tlsf))
	require.True(t, tlsf.IsEmpty())
	require.NoError(t, tlsf.Validate())
}

func TestTLSFSameSize(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(10000)

	handles := make([]metadata.BlockAllocationHandle, 0, 4)
	for i := 0; i < 4; i++ {
		handles = append(handles, allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory))
	}

	for i, handle := range handles {
		offset, err := tlsf.AllocationOffset(handle)
		require.NoError(t, err)
		require.Equal(t, i*100, offset)
	}

	require.Equal(t, 9600, tlsf.SumFreeSize())
	require.Equal(t, 4, tlsf.AllocationCount())
	require.Equal(t, 1, detailedStats(tlsf).UnusedRangeCount)

	require.NoError(t, tlsf.Free(handles[1]))
	require.Equal(t, 3, tlsf.AllocationCount())
	require.Equal(t, 2, detailedStats(tlsf).UnusedRangeCount)
	require.Equal(t, 9700, tlsf.SumFreeSize())

	stats := detailedStats(tlsf)
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 100, stats.UnusedRangeSizeMin)
	require.Equal(t, 9600, stats.UnusedRangeSizeMax)
	require.NoError(t, tlsf.Validate())

	// The freed gap is an exact fit and should be reused
	refill := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	offset, err := tlsf.AllocationOffset(refill)
	require.NoError(t, err)
	require.Equal(t, 100, offset)
	require.Equal(t, 1, detailedStats(tlsf).UnusedRangeCount)
	require.NoError(t, tlsf.Validate())
}

func TestTLSFAlignmentGap(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	small := allocate(t, tlsf, 10, 1, 0)
	aligned := allocate(t, tlsf, 8, 64, 0)

	offset, err := tlsf.AllocationOffset(aligned)
	require.NoError(t, err)
	require.Equal(t, 64, offset)

	stats := detailedStats(tlsf)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 18, stats.AllocationBytes)
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 54, stats.UnusedRangeSizeMin)
	require.Equal(t, 928, stats.UnusedRangeSizeMax)
	require.NoError(t, tlsf.Validate())

	// Freeing the first allocation merges it into the alignment gap
	require.NoError(t, tlsf.Free(small))
	stats = detailedStats(tlsf)
	require.Equal(t, 2, stats.UnusedRangeCount)
	require.Equal(t, 64, stats.UnusedRangeSizeMin)
	require.Equal(t, 928, stats.UnusedRangeSizeMax)
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(aligned))
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 1000, tlsf.SumFreeSize())
	require.NoError(t, tlsf.Validate())
}

func TestTLSFMinOffsetPrefersLowestRegion(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	first := allocate(t, tlsf, 100, 1, 0)
	allocate(t, tlsf, 100, 1, 0)
	third := allocate(t, tlsf, 100, 1, 0)

	require.NoError(t, tlsf.Free(first))
	require.NoError(t, tlsf.Free(third))
	require.Equal(t, 2, detailedStats(tlsf).UnusedRangeCount)

	handle := allocate(t, tlsf, 50, 1, metadata.AllocationStrategyMinOffset)
	offset, err := tlsf.AllocationOffset(handle)
	require.NoError(t, err)
	require.Equal(t, 0, offset)
	require.NoError(t, tlsf.Validate())
}

func TestTLSFNoRoom(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(100)

	success, _, err := tlsf.CreateAllocationRequest(200, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	allocate(t, tlsf, 100, 1, 0)
	require.False(t, tlsf.MayHaveFreeBlock(1))

	success, _, err = tlsf.CreateAllocationRequest(1, 1, metadata.AllocationStrategyMinTime)
	require.NoError(t, err)
	require.False(t, success)
}

func TestTLSFVisitAllRegions(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)

	allocate(t, tlsf, 100, 1, 0)
	allocate(t, tlsf, 200, 1, 0)

	type region struct {
		offset int
		size   int
		free   bool
	}
	var regions []region
	err := tlsf.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		regions = append(regions, region{offset: offset, size: size, free: free})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []region{
		{offset: 300, size: 700, free: true},
		{offset: 100, size: 200, free: false},
		{offset: 0, size: 100, free: false},
	}, regions)
}

func TestTLSFBlockJsonData(t *testing.T) {
	tlsf := metadata.NewTLSFBlockMetadata()
	tlsf.Init(1000)
	allocate(t, tlsf, 100, 1, 0)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	tlsf.BlockJsonData(&obj)
	obj.End()

	require.JSONEq(t, `{"TotalBytes":1000,"UnusedBytes":900,"Allocations":1,"UnusedRanges":1}`, string(writer.Bytes()))
}
