package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the playback/session snapshot shared with every remote client.
type Status struct {
	IsPlaying        bool    `json:"is_playing"`
	CurrentSpeed     float64 `json:"current_speed"`
	CurrentSegment   *int    `json:"current_segment"`
	TotalSegments    int     `json:"total_segments"`
	ProjectName      string  `json:"project_name"`
	Timestamp        int64   `json:"timestamp"`
	ConnectedClients int     `json:"connected_clients"`
	IsLive           bool    `json:"is_live"`
}

const (
	SpeedMin     = 0.5
	SpeedMax     = 2.0
	SpeedDefault = 1.0

	DefaultProjectName = "Untitled Project"
)

// DefaultStatus returns the status the server starts with.
func DefaultStatus() Status {
	segment := 0
	return Status{
		IsPlaying:      false,
		CurrentSpeed:   SpeedDefault,
		CurrentSegment: &segment,
		TotalSegments:  1,
		ProjectName:    DefaultProjectName,
	}
}

// Clone returns a deep copy so callers never share CurrentSegment.
func (s Status) Clone() Status {
	if s.CurrentSegment != nil {
		segment := *s.CurrentSegment
		s.CurrentSegment = &segment
	}
	return s
}

type CommandType string

const (
	CommandPlay          CommandType = "play"
	CommandPause         CommandType = "pause"
	CommandStop          CommandType = "stop"
	CommandNextSegment   CommandType = "next_segment"
	CommandPrevSegment   CommandType = "prev_segment"
	CommandSetSpeed      CommandType = "set_speed"
	CommandToggleMirror  CommandType = "toggle_mirror"
	CommandResetPosition CommandType = "reset_position"
	CommandGoLive        CommandType = "go_live"
	CommandExitLive      CommandType = "exit_live"
	CommandSeek          CommandType = "seek"
)

// Command is an instruction from a remote peer. Value holds a decoded JSON
// scalar (float64, json.Number, string, bool) or nil.
type Command struct {
	Type      CommandType `json:"type"`
	Value     any         `json:"value,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type MessageType string

const (
	MessageTypeBrowserRegister MessageType = "browser-register"
	MessageTypeStatusSync      MessageType = "status-sync"
)

// Envelope is the first-pass decoding of an inbound WebSocket text frame.
// Status is kept raw and only parsed for status-sync; types other than
// browser-register and status-sync are decoded again as a Command.
type Envelope struct {
	Type   MessageType     `json:"type"`
	Status json.RawMessage `json:"status,omitempty"`
}

var (
	ErrMissingField = errors.New("missing field")
	ErrInvalidField = errors.New("invalid field")
)

// wireStatus mirrors Status with pointers so absent keys can be told apart
// from zero values.
type wireStatus struct {
	IsPlaying        *bool    `json:"is_playing"`
	CurrentSpeed     *float64 `json:"current_speed"`
	CurrentSegment   *int     `json:"current_segment"`
	TotalSegments    *int     `json:"total_segments"`
	ProjectName      *string  `json:"project_name"`
	Timestamp        *int64   `json:"timestamp"`
	ConnectedClients *int     `json:"connected_clients"`
	IsLive           *bool    `json:"is_live"`
}

// ParseStatus strictly decodes a Status sent by a peer. Every key except
// current_segment is required, and counts must not be negative.
func ParseStatus(data []byte) (Status, error) {
	var w wireStatus
	if err := json.Unmarshal(data, &w); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}

	required := []struct {
		key     string
		present bool
	}{
		{"is_playing", w.IsPlaying != nil},
		{"current_speed", w.CurrentSpeed != nil},
		{"total_segments", w.TotalSegments != nil},
		{"project_name", w.ProjectName != nil},
		{"timestamp", w.Timestamp != nil},
		{"connected_clients", w.ConnectedClients != nil},
		{"is_live", w.IsLive != nil},
	}
	for _, f := range required {
		if !f.present {
			return Status{}, fmt.Errorf("%w: %s", ErrMissingField, f.key)
		}
	}

	if *w.TotalSegments < 0 {
		return Status{}, fmt.Errorf("%w: total_segments %d", ErrInvalidField, *w.TotalSegments)
	}
	if w.CurrentSegment != nil && *w.CurrentSegment < 0 {
		return Status{}, fmt.Errorf("%w: current_segment %d", ErrInvalidField, *w.CurrentSegment)
	}
	if *w.ConnectedClients < 0 {
		return Status{}, fmt.Errorf("%w: connected_clients %d", ErrInvalidField, *w.ConnectedClients)
	}

	return Status{
		IsPlaying:        *w.IsPlaying,
		CurrentSpeed:     *w.CurrentSpeed,
		CurrentSegment:   w.CurrentSegment,
		TotalSegments:    *w.TotalSegments,
		ProjectName:      *w.ProjectName,
		Timestamp:        *w.Timestamp,
		ConnectedClients: *w.ConnectedClients,
		IsLive:           *w.IsLive,
	}, nil
}

// CommandAck is the HTTP response to POST /command.
type CommandAck struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Command   CommandType `json:"command,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Event names delivered to the host application.
const (
	EventPlay          = "remote-play"
	EventPause         = "remote-pause"
	EventStop          = "remote-stop"
	EventNextSegment   = "remote-next-segment"
	EventPrevSegment   = "remote-prev-segment"
	EventSetSpeed      = "remote-set-speed"
	EventToggleMirror  = "remote-toggle-mirror"
	EventResetPosition = "remote-reset-position"
	EventGoLive        = "remote-go-live"
	EventExitLive      = "remote-exit-live"
	EventSeek          = "remote-seek"

	EventServerError = "remote-server-error"
)
