package filepool

import "errors"

// Sentinel errors for the pool's error taxonomy. The real-time path never
// returns these directly — GetPromise stays bool-only — but it still
// reports ErrQueueFull through its EventSink's Failed callback. The
// Err-suffixed siblings of GetFileInformation/PreloadFile and
// AddSecondaryOwner return these wrapped, so callers can errors.Is against
// them, and the stream worker's give-up reports ErrStuckInvalid through
// Failed; LoadFile and LoadFromRam report failure as a bool only.
var (
	// ErrNotFound means the sample file does not exist under the pool root.
	ErrNotFound = errors.New("filepool: sample not found")
	// ErrUnsupportedChannels means the decoder produced a channel count the
	// pool does not support (only mono and stereo sources are accepted).
	ErrUnsupportedChannels = errors.New("filepool: unsupported channel count")
	// ErrDecodeOpen means the decoder could not open or parse the file.
	ErrDecodeOpen = errors.New("filepool: failed to open sample for decoding")
	// ErrQueueFull means the bounded streaming job queue rejected a push.
	ErrQueueFull = errors.New("filepool: streaming queue is full")
	// ErrTimeout means a bounded wait (e.g. addSecondaryOwner's 10s wait for
	// a FileData to finish initializing) expired.
	ErrTimeout = errors.New("filepool: timed out waiting for sample data")
	// ErrStuckInvalid means a streaming job waited its full budget for a
	// FileData to leave the Invalid status and gave up.
	ErrStuckInvalid = errors.New("filepool: sample data stuck in invalid state")
)
