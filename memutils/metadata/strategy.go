package metadata

import "strings"

// AllocationStrategy exposes several options for choosing the location of a new allocation. If none
// is chosen, a balanced strategy is used.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory chooses the smallest free range that fits, minimizing
	// fragmentation at the expense of allocation time
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime chooses the first suitable free range that is fastest to find
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset chooses the lowest offset available, producing tightly packed data
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	if s == 0 {
		return "Balanced"
	}

	var names []string
	for bit := AllocationStrategyMinMemory; bit <= AllocationStrategyMinOffset; bit <<= 1 {
		if s&bit != 0 {
			names = append(names, allocationStrategyMapping[bit])
		}
	}
	return strings.Join(names, "|")
}
