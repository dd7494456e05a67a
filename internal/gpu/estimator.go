package gpu

import (
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/docker/model-ops-coordinator/internal/logging"
)

// vramFileSizeMultiplier and minShardVRAMMB are the "simplified" heuristic
// spec.md §9 flags: 1.5x file size, at least 1GB per shard, confirmed
// verbatim in original_source/core/lifecycle.py's
// `estimated_vram_mb = file_size_mb * 1.5` /
// `max(estimated_vram_mb / shards, 1000)`.
const (
	vramFileSizeMultiplier = 1.5
	minShardVRAMMB         = 1000
)

// GGUFInspector reads model metadata to refine a VRAM estimate for GGUF
// sources, grounded on the teacher's go.mod dependency on
// github.com/gpustack/gguf-parser-go (used elsewhere in the teacher to
// introspect model files before serving them).
type GGUFInspector interface {
	// EstimatedSizeMB returns a size-derived estimate, or ok=false if the
	// source is not a readable GGUF file.
	EstimatedSizeMB(path string) (mb int64, ok bool)
}

// realGGUFInspector parses the GGUF header via gguf-parser-go.
type realGGUFInspector struct {
	log logging.Logger
}

func NewGGUFInspector(log logging.Logger) GGUFInspector {
	return &realGGUFInspector{log: log}
}

func (r *realGGUFInspector) EstimatedSizeMB(path string) (int64, bool) {
	if !strings.HasSuffix(strings.ToLower(path), ".gguf") {
		return 0, false
	}
	f, err := parser.ParseGGUFFile(path)
	if err != nil {
		r.log.WithError(err).WithField("source", path).Debug("gguf parse failed, falling back to file-size heuristic")
		return 0, false
	}
	// Sum weights + KV cache + computation across the estimated run's
	// devices, the same fields the teacher sums in
	// llamacpp.GetRequiredMemoryForModel to size a real inference run,
	// rather than the raw on-disk tensor size.
	estimate := f.EstimateLLaMACppRun()
	var totalBytes uint64
	for _, d := range estimate.Devices {
		totalBytes += uint64(d.Weight.Sum() + d.KVCache.Sum() + d.Computation.Sum())
	}
	if totalBytes == 0 {
		return 0, false
	}
	sizeMB := int64(float64(totalBytes) / (1024 * 1024))
	return sizeMB, true
}

// Estimator computes the VRAM estimate for a load, honoring an
// operator-declared value first (the redesign spec.md §9 requires beyond
// the Python original, which applies the heuristic unconditionally).
type Estimator struct {
	inspector GGUFInspector
}

func NewEstimator(inspector GGUFInspector) *Estimator {
	return &Estimator{inspector: inspector}
}

// Estimate returns the VRAM estimate in MB for a model load.
//   - declaredMB > 0: always wins (operator override).
//   - else, for a .gguf source: a header-derived estimate.
//   - else: the 1.5x-file-size / per-shard-minimum heuristic.
func (e *Estimator) Estimate(declaredMB int64, source string, fileSizeMB int64, shards int) int64 {
	if declaredMB > 0 {
		return declaredMB
	}
	if shards < 1 {
		shards = 1
	}
	if e.inspector != nil {
		if mb, ok := e.inspector.EstimatedSizeMB(source); ok {
			return perShardFloor(mb, shards)
		}
	}
	heuristic := int64(float64(fileSizeMB) * vramFileSizeMultiplier)
	return perShardFloor(heuristic, shards)
}

// perShardFloor divides totalMB across shards and floors the result at
// minShardVRAMMB, returning that as the model's total VRAM estimate — the
// original never multiplies the per-shard floor back out by shards.
func perShardFloor(totalMB int64, shards int) int64 {
	perShard := totalMB / int64(shards)
	if perShard < minShardVRAMMB {
		perShard = minShardVRAMMB
	}
	return perShard
}
