package arena

import (
	"sync"

	"github.com/dolthub/swiss"
)

// Handle is a small opaque value that addresses a live arena. Container
// collaborators store a Handle instead of a reference to the Arena itself and
// resolve it with FromHandle when they need to allocate. A disposed arena's
// handle stops resolving.
type Handle uint64

var handleRegistry = struct {
	mutex  sync.RWMutex
	next   Handle
	arenas *swiss.Map[Handle, *Arena]
}{
	arenas: swiss.NewMap[Handle, *Arena](16),
}

func registerArena(a *Arena) Handle {
	handleRegistry.mutex.Lock()
	defer handleRegistry.mutex.Unlock()

	handleRegistry.next++
	handleRegistry.arenas.Put(handleRegistry.next, a)
	return handleRegistry.next
}

func unregisterArena(h Handle) {
	handleRegistry.mutex.Lock()
	defer handleRegistry.mutex.Unlock()

	handleRegistry.arenas.Delete(h)
}

// FromHandle resolves a Handle to the arena it addresses. It returns false if
// the handle does not map to a live arena.
func FromHandle(h Handle) (*Arena, bool) {
	handleRegistry.mutex.RLock()
	defer handleRegistry.mutex.RUnlock()

	return handleRegistry.arenas.Get(h)
}

// Handle returns this arena's opaque handle.
func (a *Arena) Handle() Handle {
	return a.handle
}
