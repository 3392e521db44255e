// Package events defines the change events sent to connected clients, their
// JSON wire form, and the hub that fans them out to every session.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMalformedEvent   = errors.New("malformed event")
)

// =============================================================================
// EventType
// =============================================================================

// EventType is the wire tag of a ChangeEvent variant.
type EventType string

const (
	TypeFileCreated  EventType = "FileCreated"
	TypeFileModified EventType = "FileModified"
	TypeFileDeleted  EventType = "FileDeleted"
	TypeFileRenamed  EventType = "FileRenamed"
	TypeFileLocked   EventType = "FileLocked"
	TypeFileUnlocked EventType = "FileUnlocked"
	TypeGitConflict  EventType = "GitConflict"
	TypeConnected    EventType = "Connected"
	TypeError        EventType = "Error"
	TypePing         EventType = "Ping"
)

func (t EventType) String() string { return string(t) }

// =============================================================================
// ChangeEvent
// =============================================================================

// ChangeEvent is the closed set of notifications sent from the server to
// connected clients. Only the types in this file implement it.
type ChangeEvent interface {
	Type() EventType
	changeEvent()
}

// FileCreated reports a new document written by something other than this process.
type FileCreated struct {
	Path string `json:"path"`
}

// FileModified reports an external edit to an existing document.
type FileModified struct {
	Path string `json:"path"`
}

// FileDeleted reports an external removal.
type FileDeleted struct {
	Path string `json:"path"`
}

// FileRenamed reports a move performed through the store.
type FileRenamed struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FileLocked reports that a client acquired an advisory lock.
type FileLocked struct {
	Path     string `json:"path"`
	ClientID string `json:"client_id"`
	LockType string `json:"lock_type"`
}

// FileUnlocked reports a released lock, either explicit or on disconnect.
type FileUnlocked struct {
	Path string `json:"path"`
}

// GitConflict lists paths left conflicted in the repository.
type GitConflict struct {
	Files []string `json:"files"`
}

// Connected is sent once to a new client and carries its assigned id.
type Connected struct {
	ClientID string `json:"client_id"`
}

// Error carries a human readable failure to a single client.
type Error struct {
	Message string `json:"message"`
}

// Ping is a heartbeat; clients answer with a pong message.
type Ping struct{}

func (FileCreated) Type() EventType  { return TypeFileCreated }
func (FileModified) Type() EventType { return TypeFileModified }
func (FileDeleted) Type() EventType  { return TypeFileDeleted }
func (FileRenamed) Type() EventType  { return TypeFileRenamed }
func (FileLocked) Type() EventType   { return TypeFileLocked }
func (FileUnlocked) Type() EventType { return TypeFileUnlocked }
func (GitConflict) Type() EventType  { return TypeGitConflict }
func (Connected) Type() EventType    { return TypeConnected }
func (Error) Type() EventType        { return TypeError }
func (Ping) Type() EventType         { return TypePing }

func (FileCreated) changeEvent()  {}
func (FileModified) changeEvent() {}
func (FileDeleted) changeEvent()  {}
func (FileRenamed) changeEvent()  {}
func (FileLocked) changeEvent()   {}
func (FileUnlocked) changeEvent() {}
func (GitConflict) changeEvent()  {}
func (Connected) changeEvent()    {}
func (Error) changeEvent()        {}
func (Ping) changeEvent()         {}

// =============================================================================
// Wire Codec
// =============================================================================

// envelope is the JSON frame: {"type": "...", "payload": {...}}.
type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode renders ev as a tagged JSON object. Ping carries no payload.
func Encode(ev ChangeEvent) ([]byte, error) {
	if ev == nil {
		return nil, ErrMalformedEvent
	}

	env := envelope{Type: ev.Type()}
	if ev.Type() != TypePing {
		if gc, ok := ev.(GitConflict); ok && gc.Files == nil {
			ev = GitConflict{Files: []string{}}
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
		}
		env.Payload = payload
	}
	return json.Marshal(env)
}

// Decode parses a frame produced by Encode.
func Decode(data []byte) (ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeFileCreated:
		return decodePayload[FileCreated](env)
	case TypeFileModified:
		return decodePayload[FileModified](env)
	case TypeFileDeleted:
		return decodePayload[FileDeleted](env)
	case TypeFileRenamed:
		return decodePayload[FileRenamed](env)
	case TypeFileLocked:
		return decodePayload[FileLocked](env)
	case TypeFileUnlocked:
		return decodePayload[FileUnlocked](env)
	case TypeGitConflict:
		return decodePayload[GitConflict](env)
	case TypeConnected:
		return decodePayload[Connected](env)
	case TypeError:
		return decodePayload[Error](env)
	case TypePing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

func decodePayload[T ChangeEvent](env envelope) (ChangeEvent, error) {
	var ev T
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedEvent, env.Type)
	}
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}
