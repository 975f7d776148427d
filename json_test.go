package arena

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildStatsString(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 4096})

	a.Allocate(1024, 8)
	a.Allocate(8192, 8)
	a.Rewind()
	a.Allocate(64, 8)

	statsString := a.BuildStatsString()
	require.NotEmpty(t, statsString)

	var stats struct {
		Generation       int
		InitialBlockSize int
		HighWaterBlock   int
		TotalBytes       int
		Blocks           []struct {
			TotalBytes      int
			Cursor          int
			LiveAllocations int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(statsString), &stats))

	require.Equal(t, 1, stats.Generation)
	require.Equal(t, 4096, stats.InitialBlockSize)
	require.Equal(t, a.TotalBytes(), stats.TotalBytes)
	require.Len(t, stats.Blocks, a.BlockCount())
	require.Equal(t, 4096, stats.Blocks[0].TotalBytes)
	require.Equal(t, 1, stats.Blocks[0].LiveAllocations)
}
