package codec

import (
	"testing"
	"time"

	"github.com/KKQ-KKQ/sfizz/internal/events"
)

func TestPackDecodeRoundTrip(t *testing.T) {
	ev := events.Event{
		Kind:            events.KindStreamDone,
		PoolID:          "voice-3",
		Filename:        "kick.wav",
		Reverse:         true,
		AvailableFrames: 48000,
		At:              time.UnixMilli(1700000000000),
	}

	frame := Pack(ev)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got.Kind != ev.Kind || got.PoolID != ev.PoolID || got.Filename != ev.Filename ||
		got.Reverse != ev.Reverse || got.AvailableFrames != ev.AvailableFrames || !got.At.Equal(ev.At) {
		t.Fatalf("Decode round-trip = %+v, want %+v", got, ev)
	}
}

func TestPackDecodeRoundTripFailed(t *testing.T) {
	ev := events.Event{
		Kind:     events.KindFailed,
		PoolID:   "voice-1",
		Filename: "snare.wav",
		Err:      "filepool: streaming queue is full",
		At:       time.UnixMilli(1700000001000),
	}

	got, err := Decode(Pack(ev))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got.Kind != events.KindFailed || got.Err != ev.Err {
		t.Fatalf("Decode round-trip = %+v, want Kind=%v Err=%q", got, events.KindFailed, ev.Err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatal("Decode(short frame) error=nil, want non-nil")
	}
}

func TestDecodeTruncated(t *testing.T) {
	frame := Pack(events.Event{PoolID: "p", Filename: "f.wav"})
	if _, err := Decode(frame[:len(frame)-1]); err == nil {
		t.Fatal("Decode(truncated frame) error=nil, want non-nil")
	}
}
