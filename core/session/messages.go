package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownMessage   = errors.New("unknown client message")
	ErrMalformedMessage = errors.New("malformed client message")
)

// Client message tags.
const (
	typeLockFile   = "lock_file"
	typeUnlockFile = "unlock_file"
	typePong       = "pong"
)

// ClientMessage is the closed set of frames a client may send.
type ClientMessage interface {
	clientMessage()
}

// LockFile asks for an advisory lock on Path.
type LockFile struct {
	Path     string `json:"path"`
	LockType string `json:"lock_type"`
}

// UnlockFile releases a lock the client holds.
type UnlockFile struct {
	Path string `json:"path"`
}

// Pong answers a server Ping.
type Pong struct{}

func (LockFile) clientMessage()   {}
func (UnlockFile) clientMessage() {}
func (Pong) clientMessage()       {}

// clientFrame is the flat wire form: {"type":"lock_file","path":"...","lock_type":"editor"}.
type clientFrame struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	LockType string `json:"lock_type,omitempty"`
}

// DecodeClientMessage parses one text frame from a client.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch frame.Type {
	case typeLockFile:
		if frame.Path == "" {
			return nil, fmt.Errorf("%w: lock_file without path", ErrMalformedMessage)
		}
		return LockFile{Path: frame.Path, LockType: frame.LockType}, nil
	case typeUnlockFile:
		if frame.Path == "" {
			return nil, fmt.Errorf("%w: unlock_file without path", ErrMalformedMessage)
		}
		return UnlockFile{Path: frame.Path}, nil
	case typePong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, frame.Type)
	}
}

// EncodeClientMessage renders msg in the client wire form.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	switch m := msg.(type) {
	case LockFile:
		return json.Marshal(clientFrame{Type: typeLockFile, Path: m.Path, LockType: m.LockType})
	case UnlockFile:
		return json.Marshal(clientFrame{Type: typeUnlockFile, Path: m.Path})
	case Pong:
		return json.Marshal(clientFrame{Type: typePong})
	default:
		return nil, ErrUnknownMessage
	}
}
