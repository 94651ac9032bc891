package realtime

import (
	"encoding/json"
	"fmt"
)

// Phoenix protocol event names used by Supabase Realtime.
const (
	phxJoin      = "phx_join"
	phxLeave     = "phx_leave"
	phxReply     = "phx_reply"
	phxError     = "phx_error"
	phxClose     = "phx_close"
	heartbeat    = "heartbeat"
	accessToken  = "access_token"
	pgChanges    = "postgres_changes"
	broadcastEvt = "broadcast"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
)

// envelope is one frame on the socket.
type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type      string          `json:"type"`
		Schema    string          `json:"schema"`
		Table     string          `json:"table"`
		Record    json.RawMessage `json:"record"`
		OldRecord json.RawMessage `json:"old_record"`
	} `json:"data"`
}

type broadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// EventType classifies what arrived on a channel.
type EventType string

const (
	EventInsert    EventType = "insert"
	EventUpdate    EventType = "update"
	EventDelete    EventType = "delete"
	EventBroadcast EventType = "broadcast"
)

// Event is a decoded notification for a joined channel.
type Event struct {
	Type EventType

	// Table and Record are set for row changes
	Table  string
	Record json.RawMessage

	// Name and Payload are set for broadcasts
	Name    string
	Payload json.RawMessage
}

// Change subscribes a channel to row changes of one table.
type Change struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Ack  bool `json:"ack"`
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []Change `json:"postgres_changes"`
		Private         bool     `json:"private"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

// decodeEvent turns a channel frame into an Event. ok is false for frames
// that carry nothing for the consumer (system messages, presence, replies).
func decodeEvent(env envelope) (Event, bool, error) {
	switch env.Event {
	case pgChanges:
		var p changePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode postgres_changes: %w", err)
		}
		ev := Event{Table: p.Data.Table, Record: p.Data.Record}
		switch p.Data.Type {
		case "INSERT":
			ev.Type = EventInsert
		case "UPDATE":
			ev.Type = EventUpdate
		case "DELETE":
			ev.Type = EventDelete
			ev.Record = p.Data.OldRecord
		default:
			return Event{}, false, fmt.Errorf("unknown change type %q", p.Data.Type)
		}
		return ev, true, nil

	case broadcastEvt:
		var p broadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode broadcast: %w", err)
		}
		return Event{Type: EventBroadcast, Name: p.Event, Payload: p.Payload}, true, nil
	}
	return Event{}, false, nil
}
