package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimate_DeclaredOverrideWins(t *testing.T) {
	e := NewEstimator(nil)
	require.Equal(t, int64(5000), e.Estimate(5000, "m.bin", 6000, 4))
}

func TestEstimate_HeuristicIsPerModelTotalNotMultipliedByShards(t *testing.T) {
	// original_source/core/lifecycle.py's _estimate_vram_requirements
	// computes per_shard_mb = max(file_size_mb*1.5 // shards, 1000) and
	// returns that as the model's total vram_required_mb directly — it is
	// never multiplied back by shards.
	e := NewEstimator(nil)

	// fileSizeMB=6000, shards=1: heuristic = 6000*1.5 = 9000, floor 1000,
	// shards=1 so per-shard == total either way.
	require.Equal(t, int64(9000), e.Estimate(0, "m.bin", 6000, 1))

	// fileSizeMB * 1.5 = 6000MB total, shards=4 => per-shard floor of
	// max(6000/4, 1000) = 1500, and the TOTAL estimate must stay 1500,
	// not 1500*4=6000.
	require.Equal(t, int64(1500), e.Estimate(0, "m.bin", 4000, 4))

	// Below the 1000MB-per-shard floor: total is clamped to the floor,
	// not the floor multiplied by shards.
	require.Equal(t, int64(1000), e.Estimate(0, "m.bin", 800, 4))
}
