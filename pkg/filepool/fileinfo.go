package filepool

// LoopInfo describes a sustain loop embedded in a sample file.
type LoopInfo struct {
	Start uint32
	End   uint32
}

// WavetableInfo describes wavetable framing metadata when the sample is
// meant to be played as a wavetable rather than a single continuous sample.
type WavetableInfo struct {
	FrameSize  uint32
	NumFrames  uint32
	Is64Banded bool
}

// FileInformation is immutable, decoded-once metadata about a sample file.
// It is copied freely; nothing in it is ever mutated after construction. The
// live, possibly-growing preload size lives separately on FileData (see
// DESIGN.md's "maxOffset mutability" resolution).
type FileInformation struct {
	End         uint32
	SampleRate  float64
	NumChannels int
	RootKey     *uint8
	Loop        *LoopInfo
	Wavetable   *WavetableInfo
	MaxOffset   uint32
}

// TotalFrames is the number of playable frames (End is the last valid
// frame index, matching the sfz convention of frames-1).
func (fi FileInformation) TotalFrames() uint32 {
	return fi.End + 1
}
