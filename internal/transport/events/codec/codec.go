// Package codec packs and unpacks events.Event as a compact binary frame,
// adapted from the xiaozhi transport's versioned binary framing down to a
// single version and a simpler fixed header — there is no legacy wire
// format to stay compatible with here.
package codec

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/KKQ-KKQ/sfizz/internal/events"
)

// Version1 is the only frame layout this codec produces or accepts.
const Version1 = 1

const headerSize = 1 + 1 + 2 + 2 + 2 + 8 + 8 // kind, reverse, poolIDLen, filenameLen, errLen, availableFrames, atUnixMilli

// Pack encodes ev as a Version1 frame.
func Pack(ev events.Event) []byte {
	poolID := []byte(ev.PoolID)
	filename := []byte(ev.Filename)
	errStr := []byte(ev.Err)

	frame := make([]byte, headerSize+len(poolID)+len(filename)+len(errStr))
	frame[0] = byte(ev.Kind)
	if ev.Reverse {
		frame[1] = 1
	}
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(poolID)))
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(filename)))
	binary.BigEndian.PutUint16(frame[6:8], uint16(len(errStr)))
	binary.BigEndian.PutUint64(frame[8:16], ev.AvailableFrames)
	binary.BigEndian.PutUint64(frame[16:24], uint64(ev.At.UnixMilli()))
	offset := headerSize
	offset += copy(frame[offset:], poolID)
	offset += copy(frame[offset:], filename)
	copy(frame[offset:], errStr)
	return frame
}

// Decode parses a Version1 frame back into an events.Event. Used by
// dashboard clients consuming the WebSocket event stream Pack serializes
// (see internal/ws/handler.go); round-tripped in codec_test.go.
func Decode(frame []byte) (events.Event, error) {
	if len(frame) < headerSize {
		return events.Event{}, errors.New("events binary frame too short")
	}
	poolIDLen := int(binary.BigEndian.Uint16(frame[2:4]))
	filenameLen := int(binary.BigEndian.Uint16(frame[4:6]))
	errLen := int(binary.BigEndian.Uint16(frame[6:8]))
	if len(frame) < headerSize+poolIDLen+filenameLen+errLen {
		return events.Event{}, errors.New("events binary frame truncated")
	}
	availableFrames := binary.BigEndian.Uint64(frame[8:16])
	atMillis := binary.BigEndian.Uint64(frame[16:24])

	offset := headerSize
	poolID := string(frame[offset : offset+poolIDLen])
	offset += poolIDLen
	filename := string(frame[offset : offset+filenameLen])
	offset += filenameLen
	errStr := string(frame[offset : offset+errLen])

	return events.Event{
		Kind:            events.Kind(frame[0]),
		PoolID:          poolID,
		Filename:        filename,
		Reverse:         frame[1] == 1,
		AvailableFrames: availableFrames,
		Err:             errStr,
		At:              time.UnixMilli(int64(atMillis)),
	}, nil
}
