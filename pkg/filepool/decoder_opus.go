package filepool

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hraban/opus"

	"github.com/KKQ-KKQ/sfizz/pkg/audio"
)

// opusOpener decodes a minimal length-prefixed Opus sample container: a
// small header (sample rate, channel count, max samples per packet)
// followed by a sequence of uint32-length-prefixed raw Opus packets. This
// is a deliberately simple reference container — not Ogg Opus — documented
// as such; it exercises the same hraban/opus decode path the vtuber
// teacher's TTS pipeline uses for encoding, here used in reverse for
// decoding cached instrument samples.
//
// Opus packets are not generally seekable frame-for-frame, so this backend
// decodes the whole container up front (same tradeoff as wavReader) and
// reverse playback is unsupported unless every packet has already been
// decoded — which newReverseReader gets for free since the decoded reader
// reports Seekable() == true.
type opusOpener struct{}

const opusHeaderSize = 4 + 2 + 2

func (o *opusOpener) Open(path string, _ bool) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return newOpusReader(data)
}

func (o *opusOpener) OpenMemory(data []byte, _ bool) (Reader, error) {
	return newOpusReader(data)
}

type opusReader struct {
	channels    int
	sampleRate  float64
	frames      [][]float32
	totalFrames int64
	cursor      int64
}

func newOpusReader(data []byte) (*opusReader, error) {
	if len(data) < opusHeaderSize {
		return nil, fmt.Errorf("opus container too short")
	}
	sampleRate := int(binary.BigEndian.Uint32(data[0:4]))
	channels := int(binary.BigEndian.Uint16(data[4:6]))
	maxFrameSize := int(binary.BigEndian.Uint16(data[6:8]))
	if channels != 1 && channels != 2 {
		return nil, ErrUnsupportedChannels
	}
	if maxFrameSize <= 0 {
		maxFrameSize = 5760 // 120ms at 48kHz, opus's largest legal frame
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("new opus decoder: %w", err)
	}

	pcmScratch := audio.AcquireFloat32(maxFrameSize * channels)
	defer audio.ReleaseFloat32(pcmScratch)
	channelBufs := make([][]float32, channels)

	offset := opusHeaderSize
	for offset+4 <= len(data) {
		packetLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if packetLen < 0 || offset+packetLen > len(data) {
			return nil, fmt.Errorf("opus container: truncated packet")
		}
		packet := data[offset : offset+packetLen]
		offset += packetLen

		n, err := dec.DecodeFloat32(packet, pcmScratch)
		if err != nil {
			return nil, fmt.Errorf("decode opus packet: %w", err)
		}
		for c := 0; c < channels; c++ {
			for i := 0; i < n; i++ {
				channelBufs[c] = append(channelBufs[c], pcmScratch[i*channels+c])
			}
		}
	}

	total := int64(0)
	if channels > 0 {
		total = int64(len(channelBufs[0]))
	}

	return &opusReader{
		channels:    channels,
		sampleRate:  float64(sampleRate),
		frames:      channelBufs,
		totalFrames: total,
	}, nil
}

func (r *opusReader) Frames() int64       { return r.totalFrames }
func (r *opusReader) Channels() int       { return r.channels }
func (r *opusReader) SampleRate() float64 { return r.sampleRate }
func (r *opusReader) Seekable() bool      { return true }

func (r *opusReader) Seek(frame int64) error {
	if frame < 0 || frame > r.totalFrames {
		return fmt.Errorf("filepool: opus seek out of range")
	}
	r.cursor = frame
	return nil
}

func (r *opusReader) RootKey() (uint8, bool)           { return 0, false }
func (r *opusReader) Loop() (LoopInfo, bool)           { return LoopInfo{}, false }
func (r *opusReader) Wavetable() (WavetableInfo, bool) { return WavetableInfo{}, false }
func (r *opusReader) Close() error                     { return nil }

func (r *opusReader) ReadBlock(numFrames int) (channels [][]float32, n int, err error) {
	if r.cursor >= r.totalFrames {
		return nil, 0, io.EOF
	}
	want := int64(numFrames)
	if remaining := r.totalFrames - r.cursor; want > remaining {
		want = remaining
	}
	out := make([][]float32, r.channels)
	for c := range out {
		out[c] = r.frames[c][r.cursor : r.cursor+want]
	}
	r.cursor += want
	if r.cursor >= r.totalFrames {
		err = io.EOF
	}
	return out, int(want), err
}
