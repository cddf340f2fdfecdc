package filepool

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Reader is the decoder collaborator's per-file handle: everything the pool
// needs to preload a prefix and stream the remainder of one sample file.
// Grounded on original_source/src/sfizz/FilePool.cpp's use of its AudioReader
// abstraction inside readBaseFile/readFromFile/streamFromFile.
type Reader interface {
	Frames() int64
	Channels() int
	SampleRate() float64
	Seekable() bool
	Seek(frame int64) error
	// ReadBlock reads up to numFrames frames starting at the reader's
	// current position, returning one slice per channel (each of length n)
	// and n. Returns io.EOF once (possibly with n > 0 on the same call) when
	// the stream is exhausted.
	ReadBlock(numFrames int) (channels [][]float32, n int, err error)
	RootKey() (key uint8, ok bool)
	Loop() (LoopInfo, bool)
	Wavetable() (WavetableInfo, bool)
	Close() error
}

// Opener opens a sample file or an in-memory buffer and returns a Reader.
type Opener interface {
	Open(path string, reverse bool) (Reader, error)
	OpenMemory(data []byte, reverse bool) (Reader, error)
}

// extensionOpener dispatches to a concrete decoder by file extension. It is
// the pool's default Opener; SPEC_FULL.md §4.6 ships two backends.
type extensionOpener struct {
	byExt map[string]Opener
}

func newExtensionOpener() *extensionOpener {
	return &extensionOpener{
		byExt: map[string]Opener{
			".wav":  &wavOpener{},
			".opus": &opusOpener{},
		},
	}
}

func (e *extensionOpener) Open(path string, reverse bool) (Reader, error) {
	opener, err := e.lookup(path)
	if err != nil {
		return nil, err
	}
	r, err := opener.Open(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeOpen, path, err)
	}
	if !reverse {
		return r, nil
	}
	return newReverseReader(r)
}

func (e *extensionOpener) OpenMemory(data []byte, reverse bool) (Reader, error) {
	// In-memory buffers are assumed WAV, matching loadFromRam's typical use
	// (an instrument shipping a small embedded click/impulse sample).
	opener := e.byExt[".wav"]
	r, err := opener.OpenMemory(data, false)
	if err != nil {
		return nil, fmt.Errorf("%w: memory buffer: %v", ErrDecodeOpen, err)
	}
	if !reverse {
		return r, nil
	}
	return newReverseReader(r)
}

func (e *extensionOpener) lookup(path string) (Opener, error) {
	ext := strings.ToLower(filepath.Ext(path))
	opener, ok := e.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrDecodeOpen, ext)
	}
	return opener, nil
}

// reverseReader serves any seekable forward Reader back-to-front: frame 0
// of the reversed stream is the underlying reader's last frame.
type reverseReader struct {
	inner  Reader
	frames int64
	cursor int64
}

func newReverseReader(inner Reader) (Reader, error) {
	if !inner.Seekable() {
		inner.Close()
		return nil, fmt.Errorf("%w: reverse playback requires a seekable decoder", ErrDecodeOpen)
	}
	return &reverseReader{inner: inner, frames: inner.Frames()}, nil
}

func (r *reverseReader) Frames() int64      { return r.frames }
func (r *reverseReader) Channels() int      { return r.inner.Channels() }
func (r *reverseReader) SampleRate() float64 { return r.inner.SampleRate() }
func (r *reverseReader) Seekable() bool     { return true }

func (r *reverseReader) Seek(frame int64) error {
	if frame < 0 || frame > r.frames {
		return fmt.Errorf("filepool: seek out of range")
	}
	r.cursor = frame
	return nil
}

func (r *reverseReader) Close() error { return r.inner.Close() }

func (r *reverseReader) RootKey() (uint8, bool)          { return r.inner.RootKey() }
func (r *reverseReader) Loop() (LoopInfo, bool)          { return r.inner.Loop() }
func (r *reverseReader) Wavetable() (WavetableInfo, bool) { return r.inner.Wavetable() }

func (r *reverseReader) ReadBlock(numFrames int) (channels [][]float32, n int, err error) {
	if r.cursor >= r.frames {
		return nil, 0, io.EOF
	}
	want := int64(numFrames)
	if remaining := r.frames - r.cursor; want > remaining {
		want = remaining
	}
	underlyingStart := r.frames - r.cursor - want
	if err := r.inner.Seek(underlyingStart); err != nil {
		return nil, 0, err
	}
	channels, n, err = r.inner.ReadBlock(int(want))
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	for _, ch := range channels {
		reverseInPlace(ch[:n])
	}
	r.cursor += int64(n)
	var outErr error
	if r.cursor >= r.frames {
		outErr = io.EOF
	}
	return channels, n, outErr
}

func reverseInPlace(s []float32) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
