package heap

import (
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/dynstruct/internal/utils"
	"github.com/vkngwrapper/dynstruct/memutils"
	"github.com/vkngwrapper/dynstruct/memutils/metadata"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific arena behaviors to activate or deactivate
type CreateFlags int32

const (
	// ArenaCreateExternallySynchronized ensures that the arena will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism, but performance may improve because internal mutexes are not used.
	ArenaCreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	ArenaCreateExternallySynchronized: "ArenaCreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	var names []string
	for flag := ArenaCreateExternallySynchronized; flag <= ArenaCreateExternallySynchronized; flag <<= 1 {
		if f&flag != 0 {
			names = append(names, createFlagsMapping[flag])
		}
	}
	return strings.Join(names, "|")
}

const (
	// defaultBlockSize is the block size used when none is provided via ArenaOptions. It is equal
	// to 64Kb.
	defaultBlockSize int = 64 * 1024
	// defaultMaxAlignment is the largest alignment an arena serves when none is provided via
	// ArenaOptions. It covers a cache line.
	defaultMaxAlignment uint = 64
)

// ArenaOptions contains optional settings when creating an arena
type ArenaOptions struct {
	// Flags indicates specific arena behaviors to activate or deactivate
	Flags CreateFlags
	// BlockSize is the size of each block of memory the arena reserves. Allocations larger than
	// a block receive a block of their own.
	BlockSize int
	// MaxBlockCount caps the number of blocks the arena may hold at once. Allocations that would
	// require more blocks fail with ErrOutOfMemory. 0 means no limit.
	MaxBlockCount int
	// MaxAlignment is the largest alignment the arena will serve. Every block is aligned to it.
	MaxAlignment uint
	// Strategy selects how free space within a block is chosen
	Strategy metadata.AllocationStrategy
}

// NewArena creates a new Arena
//
// logger - Receives block lifecycle messages at debug level and unreleased allocations at error
// level. If nil, messages are discarded.
//
// options - Optional parameters: it is valid to leave all the fields blank
func NewArena(logger *slog.Logger, options ArenaOptions) (*Arena, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	arena := &Arena{
		logger:        logger,
		mutex:         utils.NewOptionalRWMutex(options.Flags&ArenaCreateExternallySynchronized == 0),
		createFlags:   options.Flags,
		blockSize:     options.BlockSize,
		maxBlockCount: options.MaxBlockCount,
		maxAlignment:  options.MaxAlignment,
		strategy:      options.Strategy,
		live:          swiss.NewMap[uintptr, arenaAllocation](42),
	}

	if arena.blockSize == 0 {
		arena.blockSize = defaultBlockSize
	} else if arena.blockSize < 0 {
		return nil, cerrors.Newf("heap: ArenaOptions.BlockSize must not be negative, but was %d", arena.blockSize)
	}

	if arena.maxBlockCount < 0 {
		return nil, cerrors.Newf("heap: ArenaOptions.MaxBlockCount must not be negative, but was %d", arena.maxBlockCount)
	}

	if arena.maxAlignment == 0 {
		arena.maxAlignment = defaultMaxAlignment
	} else if err := memutils.CheckPow2(arena.maxAlignment, "ArenaOptions.MaxAlignment"); err != nil {
		return nil, err
	}

	if options.Strategy&^(metadata.AllocationStrategyMinMemory|metadata.AllocationStrategyMinTime|metadata.AllocationStrategyMinOffset) != 0 {
		return nil, cerrors.Newf("heap: unknown allocation strategy %d", uint32(options.Strategy))
	}

	return arena, nil
}

type arenaConfig struct {
	ExternallySynchronized bool   `toml:"externally_synchronized"`
	BlockSize              int    `toml:"block_size"`
	MaxBlockCount          int    `toml:"max_block_count"`
	MaxAlignment           uint   `toml:"max_alignment"`
	Strategy               string `toml:"strategy"`
}

var strategyNames = map[string]metadata.AllocationStrategy{
	"":           0,
	"balanced":   0,
	"min_memory": metadata.AllocationStrategyMinMemory,
	"min_time":   metadata.AllocationStrategyMinTime,
	"min_offset": metadata.AllocationStrategyMinOffset,
}

// DecodeArenaOptions reads ArenaOptions from a TOML document such as:
//
//	externally_synchronized = false
//	block_size = 65536
//	max_block_count = 16
//	max_alignment = 64
//	strategy = "min_memory"
//
// Keys that are absent keep their zero value, so NewArena applies its defaults. Unknown keys are
// an error.
func DecodeArenaOptions(document string) (ArenaOptions, error) {
	var raw arenaConfig
	meta, err := toml.Decode(document, &raw)
	if err != nil {
		return ArenaOptions{}, cerrors.Wrap(err, "heap: decode arena options")
	}

	return arenaOptionsFromConfig(raw, meta)
}

// DecodeArenaOptionsFile reads ArenaOptions from the TOML file at path. See DecodeArenaOptions.
func DecodeArenaOptionsFile(path string) (ArenaOptions, error) {
	var raw arenaConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ArenaOptions{}, cerrors.Wrapf(err, "heap: load arena options from %s", path)
	}

	return arenaOptionsFromConfig(raw, meta)
}

func arenaOptionsFromConfig(raw arenaConfig, meta toml.MetaData) (ArenaOptions, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return ArenaOptions{}, cerrors.Newf("heap: unknown arena option keys: %s", strings.Join(keys, ", "))
	}

	options := ArenaOptions{
		BlockSize:     raw.BlockSize,
		MaxBlockCount: raw.MaxBlockCount,
		MaxAlignment:  raw.MaxAlignment,
	}

	if raw.ExternallySynchronized {
		options.Flags |= ArenaCreateExternallySynchronized
	}

	if meta.IsDefined("strategy") {
		strategy, ok := strategyNames[strings.ToLower(strings.TrimSpace(raw.Strategy))]
		if !ok {
			return ArenaOptions{}, cerrors.Newf("heap: unknown arena strategy %q", raw.Strategy)
		}
		options.Strategy = strategy
	}

	return options, nil
}
