package filepool

// EventSink receives lifecycle notifications for FileData transitions that
// a FilePool's preload path, the loader pool's stream jobs, GetPromise and
// the collector produce, so an external subscriber (the admin dashboard, a
// metrics exporter) can observe a pool without polling Stats. All methods
// must be safe to call from a control goroutine, the loader pool's worker
// goroutines, the render thread, and the collector goroutine concurrently,
// and must not block — a sink backed by a channel should drop rather than
// stall the caller.
type EventSink interface {
	// Preloaded fires once a FilePool finishes decoding a file's prefix.
	Preloaded(id FileId, availableFrames uint64)
	// StreamDone fires once background streaming reaches end of file.
	StreamDone(id FileId, availableFrames uint64)
	// Evicted fires when the collector drops a Done entry back to Preloaded.
	Evicted(id FileId)
	// Failed fires when a control-plane or streaming operation gives up with
	// one of errors.go's sentinel errors (ErrQueueFull, ErrStuckInvalid,
	// ...). Called from the loader pool's stream jobs and GetPromise's
	// real-time path alike, so implementations must never block.
	Failed(id FileId, err error)
}
