package models

import "time"

// SignalKind is the kind of ephemeral presence signal.
type SignalKind string

const (
	SignalTyping    SignalKind = "typing"
	SignalRecording SignalKind = "recording"
)

// Broadcast event names on a scope channel.
const (
	EventTyping        = "typing"
	EventTypingStop    = "typing_stop"
	EventRecording     = "recording"
	EventRecordingStop = "recording_stop"
)

// PresenceSignal says that an author is typing or recording. Never persisted.
type PresenceSignal struct {
	AuthorID    string     `json:"user_id"`
	DisplayName string     `json:"name"`
	AvatarURL   string     `json:"avatar,omitempty"`
	Kind        SignalKind `json:"kind"`
	EmittedAt   time.Time  `json:"ts"`
}
