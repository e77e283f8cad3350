// Package message defines the clipkeep control protocol spoken between the
// daemon and CLI tools over the local IPC socket.
//
// All messages are newline-delimited JSON. Each message is exactly one
// line: <json>\n
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.klb.dev/clipkeep/internal/events"
)

// Type identifies the kind of message.
type Type string

const (
	TypeStatus         Type = "STATUS"
	TypeStatusResponse Type = "STATUS_RESPONSE"
	TypeSubscribe      Type = "SUBSCRIBE"
	TypeEvent          Type = "EVENT"
	TypePause          Type = "PAUSE"
	TypeResume         Type = "RESUME"
	TypeEnforce        Type = "ENFORCE"
	TypeReload         Type = "RELOAD"
	TypeOK             Type = "OK"
	TypeError          Type = "ERROR"
)

// Status describes a running daemon.
type Status struct {
	Version    string    `json:"version"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Backend    string    `json:"backend"`
	Database   string    `json:"database"`
	DataDir    string    `json:"data_dir"`
	State      string    `json:"state"`
	Paused     bool      `json:"paused"`
	Profiles   bool      `json:"profiles"`
	Queued     int       `json:"queued"`
	Capacity   int       `json:"capacity"`
	Dropped    uint64    `json:"dropped"`
	Captures   uint64    `json:"captures"`
	Processed  uint64    `json:"processed"`
	Stored     uint64    `json:"stored"`
	Duplicates uint64    `json:"duplicates"`
	Excluded   uint64    `json:"excluded"`
	Bounced    uint64    `json:"bounced"`
	Failed     uint64    `json:"failed"`
	Exclusions int       `json:"exclusions"`

	LastCapture *events.Event `json:"last_capture,omitempty"`
}

// Message is the top-level wire envelope.
type Message struct {
	Type Type `json:"type"`

	// SUBSCRIBE: empty Topics means every topic.
	Topics []string `json:"topics,omitempty"`

	// EVENT
	Event *events.Event `json:"event,omitempty"`

	// STATUS_RESPONSE
	Status *Status `json:"status,omitempty"`

	// OK: optional count, e.g. clips moved by ENFORCE.
	Count int `json:"count,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	if m.Type == "" {
		return nil, errors.New("message decode: missing type")
	}
	return &m, nil
}

// Errorf builds an ERROR message.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}

// Err converts an ERROR message into a Go error, or returns nil.
func (m *Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	return fmt.Errorf("daemon: %s", m.Error)
}
