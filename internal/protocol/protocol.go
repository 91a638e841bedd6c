// Package protocol implements the in-band control channel multiplexed into
// the raw terminal byte stream of an IDE WebSocket.
//
// A frame whose first byte is [Sentinel] (ASCII EOT) carries a UTF-8 JSON
// envelope {"do": <tag>, "data": <payload>}; every other frame is raw
// terminal input. The server answers with the same envelope for notices
// ("msg") and save confirmations ("saveconf"). Process output is never
// framed.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel prefixes every control frame in both directions.
const Sentinel byte = 0x04

var (
	ErrNotControl     = errors.New("not a control frame")
	ErrMalformed      = errors.New("malformed control message")
	ErrUnknownCommand = errors.New("unknown control command")
)

// Inbound command tags.
const (
	TagSize = "size"
	TagSave = "save"
	TagRun  = "run"
	TagStop = "stop"
)

// Outbound notice tags.
const (
	TagMsg      = "msg"
	TagSaveConf = "saveconf"
)

type envelope struct {
	Do   string          `json:"do"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is one decoded client request: Size, Save, Run or Stop.
type Command interface {
	Tag() string
}

// Size resizes the active process's terminal.
type Size struct {
	W uint16 `json:"w"`
	H uint16 `json:"h"`
}

// Save writes Data to Path inside the sandbox.
type Save struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

// Run starts the program for a language tag.
type Run struct {
	Lang string
}

// Stop kills the running program, if any.
type Stop struct{}

func (Size) Tag() string { return TagSize }
func (Save) Tag() string { return TagSave }
func (Run) Tag() string  { return TagRun }
func (Stop) Tag() string { return TagStop }

// IsControl reports whether frame starts with the sentinel.
func IsControl(frame []byte) bool {
	return len(frame) > 0 && frame[0] == Sentinel
}

// Decode parses a control frame into a Command.
func Decode(frame []byte) (Command, error) {
	if !IsControl(frame) {
		return nil, ErrNotControl
	}
	var env envelope
	if err := json.Unmarshal(frame[1:], &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch env.Do {
	case TagSize:
		var s Size
		if err := unmarshalData(env.Data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case TagSave:
		var s Save
		if err := unmarshalData(env.Data, &s); err != nil {
			return nil, err
		}
		if s.Path == "" {
			return nil, fmt.Errorf("%w: save without path", ErrMalformed)
		}
		return s, nil
	case TagRun:
		var lang string
		if err := unmarshalData(env.Data, &lang); err != nil {
			return nil, err
		}
		return Run{Lang: lang}, nil
	case TagStop:
		return Stop{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing \"do\"", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Do)
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// Encode builds an outbound control frame. data is omitted when nil.
func Encode(tag string, data any) ([]byte, error) {
	env := envelope{Do: tag}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte{Sentinel}, body...), nil
}

// SaveConf is the frame confirming a successful save.
func SaveConf() []byte {
	frame, _ := Encode(TagSaveConf, nil)
	return frame
}

// Message is a "msg" notice carrying text formatted for level.
func Message(level Level, text string) []byte {
	frame, _ := Encode(TagMsg, FormatMessage(level, text))
	return frame
}
