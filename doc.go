// Package arena provides a thread-safe rewindable bump allocator. Allocations
// are carved from a fixed table of contiguous blocks by advancing a per-block
// cursor with compare-and-swap, so many workers can allocate concurrently
// without per-allocation locks. Space is reclaimed in bulk: Rewind invalidates
// every allocation made since the previous rewind and reuses the same blocks
// for the next cycle.
//
// The allocator grows by appending blocks, doubling their capacity up to
// MaxBlockSize and growing additively after that. Appending is the only path
// that takes a lock, and it is expected to be rare relative to allocation
// volume.
package arena
