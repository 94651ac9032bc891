package models

import "time"

// ScopeKind is the kind of addressable conversation unit.
type ScopeKind string

const (
	ScopeGroup     ScopeKind = "group"
	ScopeSupport   ScopeKind = "support"
	ScopeCommunity ScopeKind = "community"
)

// ParseScopeKind validates a scope kind string.
func ParseScopeKind(s string) (ScopeKind, bool) {
	switch k := ScopeKind(s); k {
	case ScopeGroup, ScopeSupport, ScopeCommunity:
		return k, true
	}
	return "", false
}

// Scope is a conversation a message stream belongs to: a group,
// a one-to-one support thread or the global community channel.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`

	// Name is the display name (group name, "Support", "Community")
	Name string `json:"name"`

	// MemberCount is the denormalized member count of the group
	MemberCount int `json:"member_count"`

	// RotationCron is the schedule on which the group's challenge rotates
	RotationCron string `json:"rotation_cron,omitempty"`

	// Challenge is the active challenge for groups, nil otherwise
	Challenge *Challenge `json:"challenge,omitempty"`
}

// Table returns the collection holding the scope's messages.
func (s Scope) Table() string {
	if s.Kind == ScopeSupport {
		return "support_messages"
	}
	return "messages"
}

// FilterColumn returns the column messages are filtered by.
func (s Scope) FilterColumn() string {
	if s.Kind == ScopeSupport {
		return "thread_id"
	}
	return "group_id"
}

// Topic is the realtime channel name for the scope.
func (s Scope) Topic() string {
	return "scope:" + string(s.Kind) + ":" + s.ID
}

// Group represents a row of the groups table.
type Group struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MemberCount  int       `json:"member_count"`
	RotationCron string    `json:"rotation_cron,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Member links a user to a group.
type Member struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// SupportThread is a one-to-one conversation between a user and support.
type SupportThread struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Challenge is a rotating prompt that group messages are tagged with.
type Challenge struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"group_id"`
	Prompt   string    `json:"prompt"`
	StartsAt time.Time `json:"starts_at"`
}
