package models

import (
	"errors"
	"fmt"
	"time"
)

// MessageKind distinguishes what a message carries.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindVoice  MessageKind = "voice"
	KindSystem MessageKind = "system"
)

// MessageStatus is the lifecycle state of a message as seen by the local client.
type MessageStatus string

const (
	StatusConfirmed     MessageStatus = "confirmed"
	StatusPendingSend   MessageStatus = "pending-send"
	StatusPendingUpload MessageStatus = "pending-upload"
)

var (
	ErrMissingContent = errors.New("message content is required")
	ErrMissingMedia   = errors.New("voice message requires a media reference")
	ErrMixedPayload   = errors.New("message must carry either content or media, not both")
)

// Message is a single communication unit within a conversation scope.
// It mirrors a row of the messages / support_messages tables.
type Message struct {
	// ID is the durable, server-assigned identifier. Empty until persisted.
	ID string `json:"id,omitempty"`

	// GroupID is set for group and community messages
	GroupID string `json:"group_id,omitempty"`

	// ThreadID is set for support thread messages
	ThreadID string `json:"thread_id,omitempty"`

	// AuthorID is the sender's user id
	AuthorID string `json:"author_id"`

	// Kind selects which payload field is populated
	Kind MessageKind `json:"kind"`

	// Content is the text body (text and system messages)
	Content *string `json:"content"`

	// MediaURL references the audio object (voice messages only)
	MediaURL *string `json:"media_url"`

	// DurationSeconds is the length of the voice clip
	DurationSeconds *float64 `json:"duration_seconds"`

	// ChallengeID tags group messages with the challenge active when sent
	ChallengeID *string `json:"challenge_id,omitempty"`

	// CreatedAt is the client-side creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// NewTextMessage builds an unsaved text message.
func NewTextMessage(scope Scope, authorID, body string, at time.Time) Message {
	m := Message{
		AuthorID:  authorID,
		Kind:      KindText,
		Content:   &body,
		CreatedAt: at,
	}
	m.SetScope(scope)
	return m
}

// NewVoiceMessage builds an unsaved voice message pointing at mediaURL.
func NewVoiceMessage(scope Scope, authorID, mediaURL string, duration float64, at time.Time) Message {
	m := Message{
		AuthorID:        authorID,
		Kind:            KindVoice,
		MediaURL:        &mediaURL,
		DurationSeconds: &duration,
		CreatedAt:       at,
	}
	m.SetScope(scope)
	return m
}

// SetScope fills the scope columns and the challenge tag from scope.
func (m *Message) SetScope(scope Scope) {
	switch scope.Kind {
	case ScopeSupport:
		m.ThreadID = scope.ID
	default:
		m.GroupID = scope.ID
	}
	if scope.Challenge != nil {
		id := scope.Challenge.ID
		m.ChallengeID = &id
	}
}

// ScopeID returns the id of the scope the message belongs to.
func (m Message) ScopeID() string {
	if m.ThreadID != "" {
		return m.ThreadID
	}
	return m.GroupID
}

// Text returns the content or an empty string.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Media returns the media reference or an empty string.
func (m Message) Media() string {
	if m.MediaURL == nil {
		return ""
	}
	return *m.MediaURL
}

// Duration returns the voice clip length.
func (m Message) Duration() time.Duration {
	if m.DurationSeconds == nil {
		return 0
	}
	return time.Duration(*m.DurationSeconds * float64(time.Second))
}

// Validate checks that exactly one of content and media is populated for the kind.
func (m Message) Validate() error {
	hasContent := m.Content != nil && *m.Content != ""
	hasMedia := m.MediaURL != nil && *m.MediaURL != ""

	if hasContent && hasMedia {
		return ErrMixedPayload
	}
	switch m.Kind {
	case KindText, KindSystem:
		if !hasContent {
			return ErrMissingContent
		}
	case KindVoice:
		if !hasMedia {
			return ErrMissingMedia
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}
