package filepool

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/KKQ-KKQ/sfizz/pkg/audio"
)

// wavOpener decodes PCM WAV files via go-audio/wav + go-audio/riff, the
// same pair mologix-co-deepspeech-go's example wires up for frame-based
// streaming reads.
type wavOpener struct{}

func (o *wavOpener) Open(path string, _ bool) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newWavReader(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (o *wavOpener) OpenMemory(data []byte, _ bool) (Reader, error) {
	return newWavReader(bytes.NewReader(data), nil)
}

// wavReader decodes the whole file up front: go-audio/wav does not expose
// incremental frame-range decoding, so the "streaming" the pool's
// StreamJob performs is streaming out of this already-decoded buffer in
// fileChunkSize pieces, not streaming off disk. The chunk budgeting and
// re-queue behavior that matters for fairness across files is exercised
// all the same.
type wavReader struct {
	closer      io.Closer
	channels    int
	sampleRate  float64
	frames      [][]float32
	totalFrames int64
	cursor      int64
}

func newWavReader(r io.Reader, closer io.Closer) (*wavReader, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("decode wav: missing format")
	}

	numChans := buf.Format.NumChannels
	totalFrames := len(buf.Data) / numChans
	channels := make([][]float32, numChans)
	for c := range channels {
		channels[c] = make([]float32, totalFrames)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}

	if bitDepth == 16 {
		// The common case: route through pkg/audio's int16<->float32
		// conversion and its sync.Pool-backed scratch buffers, the same
		// helpers the teacher's TTS path used in the opposite direction.
		ints := audio.AcquireInt16(len(buf.Data))
		defer audio.ReleaseInt16(ints)
		for i, sample := range buf.Data {
			ints[i] = int16(sample)
		}
		flat := audio.AcquireFloat32(len(buf.Data))
		defer audio.ReleaseFloat32(flat)
		audio.Int16SliceToFloat32Into(flat, ints)
		for i, v := range flat {
			channels[i%numChans][i/numChans] = v
		}
	} else {
		// pkg/audio's conversion is int16-specific; 8/24/32-bit sources
		// fall back to a direct scale since reinterpreting them as int16
		// would lose or misplace bits.
		maxVal := float32(int64(1) << uint(bitDepth-1))
		for i, sample := range buf.Data {
			channels[i%numChans][i/numChans] = float32(sample) / maxVal
		}
	}

	return &wavReader{
		closer:      closer,
		channels:    numChans,
		sampleRate:  float64(buf.Format.SampleRate),
		frames:      channels,
		totalFrames: int64(totalFrames),
	}, nil
}

func (w *wavReader) Frames() int64       { return w.totalFrames }
func (w *wavReader) Channels() int       { return w.channels }
func (w *wavReader) SampleRate() float64 { return w.sampleRate }
func (w *wavReader) Seekable() bool      { return true }

func (w *wavReader) Seek(frame int64) error {
	if frame < 0 || frame > w.totalFrames {
		return fmt.Errorf("filepool: wav seek out of range")
	}
	w.cursor = frame
	return nil
}

func (w *wavReader) RootKey() (uint8, bool)           { return 0, false }
func (w *wavReader) Loop() (LoopInfo, bool)           { return LoopInfo{}, false }
func (w *wavReader) Wavetable() (WavetableInfo, bool) { return WavetableInfo{}, false }

func (w *wavReader) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

func (w *wavReader) ReadBlock(numFrames int) (channels [][]float32, n int, err error) {
	if w.cursor >= w.totalFrames {
		return nil, 0, io.EOF
	}
	want := int64(numFrames)
	if remaining := w.totalFrames - w.cursor; want > remaining {
		want = remaining
	}
	out := make([][]float32, w.channels)
	for c := range out {
		out[c] = w.frames[c][w.cursor : w.cursor+want]
	}
	w.cursor += want
	if w.cursor >= w.totalFrames {
		err = io.EOF
	}
	return out, int(want), err
}
