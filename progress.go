package dashdl

import "kepler.sh/dashdl/internal/addressing"

// ProgressObserver mirrors the per-segment and per-chunk callbacks the
// Segment Fetcher emits, surfaced at the package boundary so callers
// never import internal/fetch directly.
type ProgressObserver interface {
	OnChunk(trackID string, bytesRead, totalEstimate int64)
	OnSegmentDone(trackID string, ref addressing.SegmentRef)
}

// observerAdapter lets the internal fetch package depend only on its own
// Observer interface while accepting the public ProgressObserver values
// Downloader.AddProgressObserver collects.
type observerAdapter struct{ o ProgressObserver }

func (a observerAdapter) OnChunk(trackID string, bytesRead, totalEstimate int64) {
	a.o.OnChunk(trackID, bytesRead, totalEstimate)
}

func (a observerAdapter) OnSegmentDone(trackID string, ref addressing.SegmentRef) {
	a.o.OnSegmentDone(trackID, ref)
}
