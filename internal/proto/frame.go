// Package proto implements the wire format shared with clients: raw UTF-8
// text lines for narrative output, and typed frames of the form
//
//	\x00[TYPE]<json>\n
//
// drawn from a closed TYPE set. Both directions use the same envelope.
package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies a structured frame. The set is closed; adding a type
// is a coordinated change with every client.
type FrameType string

const (
	TypeStats      FrameType = "STATS"
	TypeMap        FrameType = "MAP"
	TypeCombat     FrameType = "COMBAT"
	TypeEquipment  FrameType = "EQUIPMENT"
	TypeQuest      FrameType = "QUEST"
	TypeComm       FrameType = "COMM"
	TypeSound      FrameType = "SOUND"
	TypeGiphy      FrameType = "GIPHY"
	TypeIDE        FrameType = "IDE"
	TypeGUI        FrameType = "GUI"
	TypeSession    FrameType = "SESSION"
	TypeCommand    FrameType = "COMMAND"
	TypeTime       FrameType = "TIME"
	TypeGameTime   FrameType = "GAMETIME"
	TypeCompletion FrameType = "COMPLETION"
	TypeAuth       FrameType = "AUTH"
	TypeVisibility FrameType = "VISIBILITY"
)

var registered = map[FrameType]bool{
	TypeStats: true, TypeMap: true, TypeCombat: true, TypeEquipment: true,
	TypeQuest: true, TypeComm: true, TypeSound: true, TypeGiphy: true,
	TypeIDE: true, TypeGUI: true, TypeSession: true, TypeCommand: true,
	TypeTime: true,
	TypeGameTime: true, TypeCompletion: true, TypeAuth: true,
	TypeVisibility: true,
}

// Registered reports whether t is in the closed TYPE set.
func Registered(t FrameType) bool { return registered[t] }

var (
	// ErrUnknownType is a protocol_error: the frame is dropped, the
	// connection stays open.
	ErrUnknownType = errors.New("proto: unknown frame type")
	// ErrMalformed covers truncated envelopes and invalid JSON payloads.
	ErrMalformed = errors.New("proto: malformed frame")
)

// InboundKind classifies a decoded client message.
type InboundKind int

const (
	KindText InboundKind = iota // plain command line
	KindFrame
)

// Inbound is one decoded client message.
type Inbound struct {
	Kind InboundKind
	Type FrameType       // valid when Kind == KindFrame
	Body json.RawMessage // frame payload, or nil for text
	Text string          // valid when Kind == KindText
}

// EncodeText UTF-8 encodes a narrative line. No framing.
func EncodeText(s string) []byte {
	return []byte(s)
}

// EncodeFrame builds the framed envelope for a registered type. The payload
// must be JSON-serializable. The returned slice is sent as one atomic write.
func EncodeFrame(t FrameType, payload any) ([]byte, error) {
	if !registered[t] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("proto: marshal %s payload: %w", t, err)
	}
	buf := make([]byte, 0, len(t)+len(body)+4)
	buf = append(buf, 0x00, '[')
	buf = append(buf, t...)
	buf = append(buf, ']')
	buf = append(buf, body...)
	buf = append(buf, '\n')
	return buf, nil
}

// DecodeInbound classifies one websocket message from the client. Messages
// not starting with NUL are plain text (a command line). Framed messages
// must carry a registered type and valid JSON.
func DecodeInbound(data []byte) (Inbound, error) {
	if len(data) == 0 || data[0] != 0x00 {
		return Inbound{Kind: KindText, Text: string(bytes.TrimRight(data, "\r\n"))}, nil
	}
	rest := data[1:]
	if len(rest) < 2 || rest[0] != '[' {
		return Inbound{}, fmt.Errorf("%w: missing type bracket", ErrMalformed)
	}
	end := bytes.IndexByte(rest, ']')
	if end < 0 {
		return Inbound{}, fmt.Errorf("%w: unterminated type", ErrMalformed)
	}
	t := FrameType(rest[1:end])
	if !registered[t] {
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	body := bytes.TrimRight(rest[end+1:], "\n")
	if len(body) > 0 && !json.Valid(body) {
		return Inbound{}, fmt.Errorf("%w: invalid json in %s frame", ErrMalformed, t)
	}
	return Inbound{Kind: KindFrame, Type: t, Body: json.RawMessage(body)}, nil
}
