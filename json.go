package arena

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// PrintDetailedMap writes a JSON object describing the arena and every block
// it holds: capacity, current cursor, and live allocation count. This exists
// for diagnostics and should not be called concurrently with Allocate or
// Free, since per-block snapshots are taken one at a time.
func (a *Arena) PrintDetailedMap(writer *jwriter.Writer) {
	objState := writer.Object()
	defer objState.End()

	objState.Name("Generation").Int(int(a.generation.Load()))
	objState.Name("InitialBlockSize").Int(a.initialBlockSize)
	objState.Name("HighWaterBlock").Int(int(a.used.Load()))
	objState.Name("TotalBytes").Int(a.TotalBytes())

	blockArray := objState.Name("Blocks").Array()
	defer blockArray.End()

	last := int(a.last.Load())
	for i := 0; i <= last; i++ {
		cursor, liveCount := a.blocks[i].stateSnapshot()

		blockObj := blockArray.Object()
		blockObj.Name("TotalBytes").Int(a.blocks[i].capacity)
		blockObj.Name("Cursor").Int(cursor)
		blockObj.Name("LiveAllocations").Int(liveCount)
		blockObj.End()
	}
}

// BuildStatsString returns the PrintDetailedMap JSON as a string.
func (a *Arena) BuildStatsString() string {
	writer := jwriter.NewWriter()
	a.PrintDetailedMap(&writer)
	return string(writer.Bytes())
}
