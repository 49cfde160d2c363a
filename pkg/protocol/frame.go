package protocol

import (
    "bytes"
    "errors"
)

// Fixed frame layout (163 bytes) shared by the relay and its peers.
// Text fields are NUL-terminated and zero-padded.
//
//  0   ..16   From  sender display name (16 chars + NUL)
//  17  ..33   To    recipient name (16 chars + NUL), carried but unused by the relay
//  34  ..162  Body  message text (128 chars + NUL)
const (
    NameSize  = 17
    BodySize  = 129
    FrameSize = 2*NameSize + BodySize

    MaxNameLen = NameSize - 1
    MaxBodyLen = BodySize - 1

    offFrom = 0
    offTo   = offFrom + NameSize
    offBody = offTo + NameSize
)

var (
    ErrFieldTooLong = errors.New("frame field too long")
    ErrShortFrame   = errors.New("short frame")
)

// HeartbeatByte is the content of the canonical one-byte liveness datagram.
const HeartbeatByte byte = 0

// Heartbeat returns a fresh canonical liveness datagram. Any length other
// than FrameSize is treated the same way.
func Heartbeat() []byte { return []byte{HeartbeatByte} }

// Kind is the classification of an inbound datagram.
type Kind int

const (
    KindLiveness Kind = iota
    KindPayload
)

func (k Kind) String() string {
    switch k {
    case KindPayload:
        return "payload"
    default:
        return "liveness"
    }
}

// Classify decides by byte count alone. A truncated payload is
// indistinguishable from a liveness signal.
func Classify(n int) Kind {
    if n == FrameSize {
        return KindPayload
    }
    return KindLiveness
}

// Frame is the decoded form of a payload datagram.
type Frame struct {
    From string
    To   string
    Body string
}

// MarshalBinary encodes the frame into a FrameSize buffer.
func (f *Frame) MarshalBinary() ([]byte, error) {
    if len(f.From) > MaxNameLen || len(f.To) > MaxNameLen || len(f.Body) > MaxBodyLen {
        return nil, ErrFieldTooLong
    }
    buf := make([]byte, FrameSize)
    copy(buf[offFrom:offTo], f.From)
    copy(buf[offTo:offBody], f.To)
    copy(buf[offBody:], f.Body)
    return buf, nil
}

// UnmarshalBinary decodes a FrameSize buffer. Each field is read up to its
// first NUL; a field with no terminator is read to the end of its slot.
func (f *Frame) UnmarshalBinary(buf []byte) error {
    if len(buf) < FrameSize {
        return ErrShortFrame
    }
    f.From = cstring(buf[offFrom:offTo])
    f.To = cstring(buf[offTo:offBody])
    f.Body = cstring(buf[offBody:FrameSize])
    return nil
}

func cstring(b []byte) string {
    if i := bytes.IndexByte(b, 0); i >= 0 {
        return string(b[:i])
    }
    return string(b)
}
