package arena

// MaxBlockSize is the capacity at which appended blocks stop doubling. Blocks
// grow geometrically from the initial block size up to this value and by
// MaxBlockSize increments thereafter. A single request larger than the
// proposal still gets a block sized to the request.
const MaxBlockSize int = 64 * 1024 * 1024

// nextBlockSize proposes the capacity of the next appended block, given the
// capacity of the current last block and the aligned size of the request that
// forced the growth. Callers must hold growMu.
func (a *Arena) nextBlockSize(prevCapacity, request int) int {
	proposal := prevCapacity * 2
	if a.reachedMaxBlockSize || proposal > MaxBlockSize {
		a.reachedMaxBlockSize = true
		proposal = prevCapacity + MaxBlockSize
	}
	if request > proposal {
		proposal = request
	}
	return proposal
}
