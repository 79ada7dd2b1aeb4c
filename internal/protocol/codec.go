package protocol

import (
	"encoding/json"
	"fmt"
)

// NewMessage builds a message addressed to identity from text and raw frames.
func NewMessage(identity []byte, header string, payload ...[]byte) Message {
	frames := make([][]byte, 0, len(payload)+1)
	frames = append(frames, []byte(header))
	frames = append(frames, payload...)
	return Message{Identity: identity, Frames: frames}
}

// NewFileMessage builds a "file <path> <bytes>" message.
func NewFileMessage(identity []byte, path string, data []byte) Message {
	return NewMessage(identity, File, []byte(path), data)
}

// NewJSONMessage builds a message whose single payload frame is v encoded as JSON.
func NewJSONMessage(identity []byte, header string, v any) (Message, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", header, err)
	}
	return NewMessage(identity, header, raw), nil
}

// DecodeObject parses payload frame i as a JSON object.
func (m Message) DecodeObject(i int) (map[string]any, error) {
	raw, ok := m.Arg(i)
	if !ok {
		return nil, fmt.Errorf("%s: missing payload frame %d", m.Header(), i)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%s: payload is not a JSON object: %w", m.Header(), err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%s: payload is null", m.Header())
	}
	return obj, nil
}

// StringArg returns payload frame i as text.
func (m Message) StringArg(i int) (string, error) {
	raw, ok := m.Arg(i)
	if !ok {
		return "", fmt.Errorf("%s: missing payload frame %d", m.Header(), i)
	}
	return string(raw), nil
}
