package arena

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quartzmem/arena/memutil"
	"github.com/quartzmem/arena/sysmem"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific arena behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateIndividualFree makes Free decrement the owning block's live
	// count, so a block that empties out is reusable before the next Rewind.
	// Without this flag Free is a successful no-op and space is only
	// reclaimed by Rewind.
	CreateIndividualFree CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateIndividualFree: "CreateIndividualFree",
}

func (f CreateFlags) String() string {
	var names []string
	for flag, name := range createFlagsMapping {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

const (
	// DefaultInitialBlockSize is the capacity of the first block when none is
	// provided via CreateOptions. It is equal to 128KiB.
	DefaultInitialBlockSize int = 128 * 1024
)

// CreateOptions contains optional settings when creating an arena
type CreateOptions struct {
	// Flags indicates specific arena behaviors to activate or deactivate
	Flags CreateFlags

	// InitialBlockSize is the capacity in bytes of the first block. It is
	// rounded up to a whole number of cache lines. When 0,
	// DefaultInitialBlockSize is used.
	InitialBlockSize int
}

// New creates a new Arena with its first block already materialized.
//
// logger - destination for grow and dispose diagnostics. It is valid to pass
// nil, in which case slog.Default() is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Arena, error) {
	if logger == nil {
		logger = slog.Default()
	}

	initialSize := options.InitialBlockSize
	if initialSize == 0 {
		initialSize = DefaultInitialBlockSize
	}
	if initialSize < 0 {
		return nil, errors.Errorf("arena: CreateOptions.InitialBlockSize must not be negative, got %d", options.InitialBlockSize)
	}
	initialSize = memutil.AlignUp(initialSize, CacheLineSize)

	a := &Arena{
		logger:           logger,
		initialBlockSize: initialSize,
		individualFree:   options.Flags&CreateIndividualFree != 0,
	}

	firstBlock, err := newBlock(initialSize, sysmem.MaxAlignment)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: failed to allocate the initial %d-byte block", initialSize)
	}
	a.blocks[0] = firstBlock
	a.handle = registerArena(a)

	return a, nil
}
