package services

import (
	"github.com/adi-253/talkie-chat/internal/models"
)

type event interface{}

type loadedEvent struct {
	messages []models.Message
	reply    chan struct{}
}

type appendEvent struct {
	entry Entry
	reply chan struct{}
}

type confirmedEvent struct {
	ref   Pending
	msg   models.Message
	reply chan struct{}
}

type failedEvent struct {
	ref     Pending
	restore string
	reply   chan struct{}
}

type remoteInsertEvent struct{ msg models.Message }

type remoteUpdateEvent struct{ msg models.Message }

type remoteDeleteEvent struct{ id string }

type snapshotEvent struct{ reply chan []Entry }

// run applies events one at a time until Close.
// Mirrors the hub loop: one goroutine owns the entries.
func (s *MessageStore) run() {
	defer close(s.done)
	defer close(s.changes)

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			if s.apply(ev) {
				s.notify()
			}
		}
	}
}

// apply mutates the entries and reports whether they changed.
func (s *MessageStore) apply(ev event) bool {
	switch e := ev.(type) {
	case loadedEvent:
		s.merge(e.messages)
		close(e.reply)
		return true

	case appendEvent:
		s.entries = append(s.entries, e.entry)
		close(e.reply)
		return true

	case confirmedEvent:
		s.confirm(e.ref, e.msg)
		close(e.reply)
		return true

	case failedEvent:
		defer close(e.reply)
		i := s.indexOf(e.ref)
		if i < 0 {
			return false
		}
		s.removeAt(i)
		if e.restore != "" {
			s.draft.Restore(e.restore)
		}
		return true

	case remoteInsertEvent:
		if e.msg.ID == "" {
			s.logger.Warn("remote insert without id ignored")
			return false
		}
		if s.indexOf(Confirmed{ID: e.msg.ID}) >= 0 {
			s.metrics.RemoteInsert(true)
			return false
		}
		s.metrics.RemoteInsert(false)
		s.entries = append(s.entries, Entry{
			Ref:     Confirmed{ID: e.msg.ID},
			Status:  models.StatusConfirmed,
			Message: e.msg,
		})
		return true

	case remoteUpdateEvent:
		i := s.indexOf(Confirmed{ID: e.msg.ID})
		if i < 0 {
			return false
		}
		s.entries[i].Message = e.msg
		return true

	case remoteDeleteEvent:
		i := s.indexOf(Confirmed{ID: e.id})
		if i < 0 {
			return false
		}
		s.removeAt(i)
		return true

	case snapshotEvent:
		out := make([]Entry, len(s.entries))
		copy(out, s.entries)
		e.reply <- out
		return false
	}
	return false
}

// confirm swaps a pending entry for its persisted row, keeping its position.
// If the row already arrived through the realtime feed, that copy is dropped.
func (s *MessageStore) confirm(ref Pending, msg models.Message) {
	i := s.indexOf(ref)
	if dup := s.indexOf(Confirmed{ID: msg.ID}); dup >= 0 {
		if i < 0 {
			return
		}
		s.removeAt(dup)
		if dup < i {
			i--
		}
	}

	confirmed := Entry{Ref: Confirmed{ID: msg.ID}, Status: models.StatusConfirmed, Message: msg}
	if i < 0 {
		s.entries = append(s.entries, confirmed)
		return
	}
	confirmed.LocalPath = s.entries[i].LocalPath
	s.entries[i] = confirmed
}

// merge puts the fetched history first and keeps local entries that it does not cover.
func (s *MessageStore) merge(history []models.Message) {
	merged := make([]Entry, 0, len(history)+len(s.entries))
	seen := make(map[string]bool, len(history))
	for _, m := range history {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, Entry{Ref: Confirmed{ID: m.ID}, Status: models.StatusConfirmed, Message: m})
	}
	for _, e := range s.entries {
		if c, ok := e.Ref.(Confirmed); ok && seen[c.ID] {
			continue
		}
		merged = append(merged, e)
	}
	s.entries = merged
}

func (s *MessageStore) indexOf(ref Ref) int {
	for i := range s.entries {
		if s.entries[i].Ref == ref {
			return i
		}
	}
	return -1
}

func (s *MessageStore) removeAt(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
}
