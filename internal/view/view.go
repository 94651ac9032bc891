// Package view turns store snapshots into what the chat screen shows.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/dustin/go-humanize"
)

const (
	RowSeparator = "separator"
	RowMessage   = "message"
)

// Row is one line of the rendered timeline.
type Row struct {
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`

	Key      string               `json:"key,omitempty"`
	AuthorID string               `json:"author_id,omitempty"`
	Author   string               `json:"author,omitempty"`
	Mine     bool                 `json:"mine,omitempty"`
	Text     string               `json:"text,omitempty"`
	MediaURL string               `json:"media_url,omitempty"`
	Duration string               `json:"duration,omitempty"`
	Status   models.MessageStatus `json:"status,omitempty"`
	Clock    string               `json:"clock,omitempty"`
	Ago      string               `json:"ago,omitempty"`
}

// Timeline is the chat screen: rows newest first for a bottom-anchored
// list, plus at most one presence line. Draft carries the input text, which
// a failed send puts back.
type Timeline struct {
	Rows     []Row  `json:"rows"`
	Presence string `json:"presence,omitempty"`
	Draft    string `json:"draft,omitempty"`
}

// NameFunc resolves a user id to a display name.
type NameFunc func(userID string) string

// Build renders entries (ascending) into an inverted timeline.
func Build(entries []services.Entry, presence *models.PresenceSignal, selfID string, names NameFunc, now time.Time, loc *time.Location) Timeline {
	if loc == nil {
		loc = time.Local
	}
	items := services.WithDateSeparators(entries, now, loc)

	rows := make([]Row, len(items))
	for i, item := range items {
		// newest first
		rows[len(items)-1-i] = buildRow(item, selfID, names, now, loc)
	}

	t := Timeline{Rows: rows}
	if presence != nil {
		t.Presence = PresenceLine(*presence)
	}
	return t
}

func buildRow(item services.Item, selfID string, names NameFunc, now time.Time, loc *time.Location) Row {
	if item.IsSeparator() {
		return Row{Kind: RowSeparator, Label: item.Separator}
	}
	e := item.Entry
	m := e.Message
	row := Row{
		Kind:     RowMessage,
		Key:      e.Ref.Key(),
		AuthorID: m.AuthorID,
		Mine:     m.AuthorID == selfID,
		Status:   e.Status,
		Clock:    m.CreatedAt.In(loc).Format("15:04"),
		Ago:      humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
	}
	switch {
	case row.Mine:
		row.Author = "You"
	case names != nil:
		row.Author = names(m.AuthorID)
	default:
		row.Author = (*models.Profile)(nil).Name()
	}

	switch m.Kind {
	case models.KindVoice:
		row.MediaURL = m.Media()
		row.Duration = FormatDuration(m.Duration())
	default:
		row.Text = m.Text()
	}
	return row
}

// PresenceLine is the indicator for the one visible signal.
func PresenceLine(sig models.PresenceSignal) string {
	name := sig.DisplayName
	if name == "" {
		name = "Someone"
	}
	if sig.Kind == models.SignalRecording {
		return name + " is recording..."
	}
	return name + " is typing..."
}

// FormatDuration renders a clip length as m:ss.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Text renders the timeline for a terminal, oldest at the top.
func (t Timeline) Text() string {
	var b strings.Builder
	for i := len(t.Rows) - 1; i >= 0; i-- {
		r := t.Rows[i]
		if r.Kind == RowSeparator {
			fmt.Fprintf(&b, "-- %s --\n", r.Label)
			continue
		}
		body := r.Text
		if r.Duration != "" {
			body = "[voice " + r.Duration + "]"
		}
		marker := ""
		switch r.Status {
		case models.StatusPendingSend:
			marker = " (sending)"
		case models.StatusPendingUpload:
			marker = " (uploading)"
		}
		fmt.Fprintf(&b, "%s  %s: %s%s\n", r.Clock, r.Author, body, marker)
	}
	if t.Presence != "" {
		b.WriteString(t.Presence + "\n")
	}
	if t.Draft != "" {
		fmt.Fprintf(&b, "draft: %s\n", t.Draft)
	}
	return b.String()
}
