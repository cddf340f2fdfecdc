package filepool

import (
	"fmt"
	"io"
	"sync"
)

// fakeReader is an in-memory Reader used by every test in this package so
// none of them touch the filesystem or a real codec.
type fakeReader struct {
	channels   int
	sampleRate float64
	frames     [][]float32
	total      int64
	cursor     int64
	seekable   bool
	closed     bool
}

func newFakeSample(channels int, totalFrames int) *fakeReader {
	chs := make([][]float32, channels)
	for c := range chs {
		chs[c] = make([]float32, totalFrames)
		for i := range chs[c] {
			chs[c][i] = float32(i%100) / 100
		}
	}
	return &fakeReader{
		channels:   channels,
		sampleRate: 44100,
		frames:     chs,
		total:      int64(totalFrames),
		seekable:   true,
	}
}

func (r *fakeReader) Frames() int64       { return r.total }
func (r *fakeReader) Channels() int       { return r.channels }
func (r *fakeReader) SampleRate() float64 { return r.sampleRate }
func (r *fakeReader) Seekable() bool      { return r.seekable }

func (r *fakeReader) Seek(frame int64) error {
	if frame < 0 || frame > r.total {
		return fmt.Errorf("seek out of range")
	}
	r.cursor = frame
	return nil
}

func (r *fakeReader) RootKey() (uint8, bool)           { return 0, false }
func (r *fakeReader) Loop() (LoopInfo, bool)           { return LoopInfo{}, false }
func (r *fakeReader) Wavetable() (WavetableInfo, bool) { return WavetableInfo{}, false }
func (r *fakeReader) Close() error                     { r.closed = true; return nil }

func (r *fakeReader) ReadBlock(numFrames int) (channels [][]float32, n int, err error) {
	if r.cursor >= r.total {
		return nil, 0, io.EOF
	}
	want := int64(numFrames)
	if remaining := r.total - r.cursor; want > remaining {
		want = remaining
	}
	out := make([][]float32, r.channels)
	for c := range out {
		out[c] = r.frames[c][r.cursor : r.cursor+want]
	}
	r.cursor += want
	if r.cursor >= r.total {
		err = io.EOF
	}
	return out, int(want), err
}

// fakeOpener serves a fixed catalog of samples by filename, so tests can
// set up "loop.wav" once and have every FilePool in the test share it.
type fakeOpener struct {
	mu      sync.Mutex
	catalog map[string]func() *fakeReader
	opens   int
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{catalog: make(map[string]func() *fakeReader)}
}

func (o *fakeOpener) add(name string, channels, totalFrames int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.catalog[samplePath(name)] = func() *fakeReader { return newFakeSample(channels, totalFrames) }
}

func (o *fakeOpener) Open(path string, reverse bool) (Reader, error) {
	o.mu.Lock()
	factory, ok := o.catalog[path]
	o.opens++
	o.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	r := factory()
	if !reverse {
		return r, nil
	}
	return newReverseReader(r)
}

func (o *fakeOpener) OpenMemory(data []byte, reverse bool) (Reader, error) {
	r := newFakeSample(1, len(data))
	if !reverse {
		return r, nil
	}
	return newReverseReader(r)
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestPool(registry *GlobalRegistry, opener *fakeOpener) *FilePool {
	return NewFilePool(PoolOptions{
		RootDirectory: "/samples",
		Registry:      registry,
		Opener:        opener,
		PreloadSize:   0,
	})
}

func samplePath(name string) string {
	return "/samples/" + name
}
