package filepool

// FileId identifies a sample file as seen by a synthesizer: a filename
// relative to the pool's root directory, plus whether the sample should be
// read back-to-front. Two FileIds with the same fields refer to the same
// underlying cached data, so FileId is a plain comparable value usable
// directly as a map key.
type FileId struct {
	Filename string
	Reverse  bool
}

// String returns a human-readable form for logging.
func (id FileId) String() string {
	if id.Reverse {
		return id.Filename + " (reverse)"
	}
	return id.Filename
}
