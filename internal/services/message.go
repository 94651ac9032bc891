package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/google/uuid"
)

var (
	ErrEmptyMessage = errors.New("message body is empty")
	ErrStoreClosed  = errors.New("message store is closed")
	ErrNoUploader   = errors.New("voice messages need a media uploader")
)

// Ref identifies an entry in the store. It is either Pending or Confirmed.
type Ref interface {
	Key() string
	isRef()
}

// Pending is the identity of a locally originated entry not yet acknowledged.
type Pending struct{ TempID string }

// Confirmed is the identity of a persisted entry.
type Confirmed struct{ ID string }

func (p Pending) Key() string   { return "local-" + p.TempID }
func (c Confirmed) Key() string { return c.ID }
func (Pending) isRef()          {}
func (Confirmed) isRef()        {}

// Entry is one message as displayed by the chat screen.
type Entry struct {
	Ref     Ref
	Status  models.MessageStatus
	Message models.Message

	// LocalPath is the recorded file, kept so playback works before and after upload
	LocalPath string
}

// Remote is the part of the Remote Data Service the store reads and writes through.
type Remote interface {
	FetchMessages(ctx context.Context, scope models.Scope) ([]models.Message, error)
	InsertMessage(ctx context.Context, scope models.Scope, msg models.Message) (*models.Message, error)
}

// MediaUploader stores a local file in object storage and returns its public URL.
type MediaUploader interface {
	UploadFile(ctx context.Context, bucket, objectPath, localPath string) (string, error)
}

// UsageRecorder accumulates the author's speaking time.
type UsageRecorder interface {
	AddSpeakingSeconds(ctx context.Context, userID string, seconds float64) error
}

// StoreOptions configures a MessageStore.
type StoreOptions struct {
	Scope    models.Scope
	AuthorID string
	Remote   Remote

	// Uploader and Bucket are required for voice messages
	Uploader MediaUploader
	Bucket   string

	// Usage is optional
	Usage UsageRecorder

	// Draft receives the text of a failed send; a fresh Draft is used when nil
	Draft *Draft

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// MessageStore keeps the display-ordered messages of one conversation scope.
// Every mutation is an event on a single channel applied by one goroutine,
// so history loads, optimistic sends and remote pushes never interleave.
type MessageStore struct {
	authorID string
	remote   Remote
	uploader MediaUploader
	bucket   string
	usage    UsageRecorder
	draft    *Draft
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	scopeMu sync.RWMutex
	scope   models.Scope

	events  chan event
	changes chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// closeMu orders inflight.Add against Close
	closeMu  sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	// owned by the run goroutine
	entries []Entry
}

// NewMessageStore creates a store and starts its event loop. Call Close when the
// chat screen goes away.
func NewMessageStore(opts StoreOptions) *MessageStore {
	if opts.Draft == nil {
		opts.Draft = &Draft{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &MessageStore{
		authorID: opts.AuthorID,
		remote:   opts.Remote,
		uploader: opts.Uploader,
		bucket:   opts.Bucket,
		usage:    opts.Usage,
		draft:    opts.Draft,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("scope", opts.Scope.Topic()),
		now:      opts.Now,
		scope:    opts.Scope,
		events:   make(chan event, 64),
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.run()
	return s
}

// Scope returns the conversation scope, including the active challenge.
func (s *MessageStore) Scope() models.Scope {
	s.scopeMu.RLock()
	defer s.scopeMu.RUnlock()
	return s.scope
}

// SetChallenge changes the challenge that future messages are tagged with.
func (s *MessageStore) SetChallenge(ch *models.Challenge) {
	s.scopeMu.Lock()
	s.scope.Challenge = ch
	s.scopeMu.Unlock()
}

// Draft is the input the store restores failed text into.
func (s *MessageStore) Draft() *Draft { return s.draft }

// Changes signals after every applied mutation. Signals coalesce; read Snapshot for the state.
// The channel is closed when the store closes.
func (s *MessageStore) Changes() <-chan struct{} { return s.changes }

// LoadHistory fetches the full history of the scope. On failure the store is
// left as it was and the error is returned for the caller to offer a retry.
func (s *MessageStore) LoadHistory(ctx context.Context) error {
	messages, err := s.remote.FetchMessages(ctx, s.Scope())
	if err != nil {
		s.logger.Warn("history load failed", "error", err)
		return fmt.Errorf("load history: %w", err)
	}
	reply := make(chan struct{})
	if !s.post(loadedEvent{messages: messages, reply: reply}) || !s.await(reply) {
		return ErrStoreClosed
	}
	s.logger.Debug("history loaded", "count", len(messages))
	return nil
}

// SendText appends a pending entry right away and persists it in the background.
// When persistence fails the entry is removed and body is restored to the draft.
func (s *MessageStore) SendText(body string) (Ref, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	ref := Pending{TempID: uuid.NewString()}
	msg := models.NewTextMessage(s.Scope(), s.authorID, body, s.now())

	s.draft.Clear()
	entry := Entry{Ref: ref, Status: models.StatusPendingSend, Message: msg}
	if err := s.begin(entry, func() { s.persistText(ref, msg) }); err != nil {
		s.draft.Restore(body)
		return nil, err
	}
	return ref, nil
}

// SendVoice appends a pending entry that plays from localPath, then uploads
// the file and persists the message. Failure removes the entry.
func (s *MessageStore) SendVoice(localPath string, duration time.Duration) (Ref, error) {
	if s.uploader == nil {
		return nil, ErrNoUploader
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", localPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("voice file: %w", err)
	}

	ref := Pending{TempID: uuid.NewString()}
	msg := models.NewVoiceMessage(s.Scope(), s.authorID, "file://"+abs, duration.Seconds(), s.now())
	entry := Entry{Ref: ref, Status: models.StatusPendingUpload, Message: msg, LocalPath: abs}

	if err := s.begin(entry, func() { s.persistVoice(ref, msg, abs) }); err != nil {
		return nil, err
	}
	return ref, nil
}

// OnRemoteInsert applies a row inserted by someone else (or echoed from another
// device). Ids already present are ignored. New rows are appended in arrival
// order, not sorted by creation time.
func (s *MessageStore) OnRemoteInsert(msg models.Message) {
	s.post(remoteInsertEvent{msg: msg})
}

// OnRemoteUpdate replaces a confirmed entry's content in place.
func (s *MessageStore) OnRemoteUpdate(msg models.Message) {
	s.post(remoteUpdateEvent{msg: msg})
}

// OnRemoteDelete drops a confirmed entry.
func (s *MessageStore) OnRemoteDelete(id string) {
	s.post(remoteDeleteEvent{id: id})
}

// Snapshot returns a copy of the entries in ascending creation order.
func (s *MessageStore) Snapshot() []Entry {
	reply := make(chan []Entry, 1)
	if !s.post(snapshotEvent{reply: reply}) {
		return nil
	}
	select {
	case entries := <-reply:
		return entries
	case <-s.done:
		return nil
	}
}

// Wait blocks until every send started so far has been confirmed or rolled
// back, including the draft restore of a failed text.
func (s *MessageStore) Wait() {
	s.inflight.Wait()
}

// Close aborts in-flight sends and stops the loop. Completions that arrive
// afterwards are dropped.
func (s *MessageStore) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	s.inflight.Wait()
	<-s.done
}

// begin appends entry synchronously, then runs persist in the background.
func (s *MessageStore) begin(entry Entry, persist func()) error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return ErrStoreClosed
	}
	s.inflight.Add(1)
	s.closeMu.Unlock()

	reply := make(chan struct{})
	if !s.post(appendEvent{entry: entry, reply: reply}) || !s.await(reply) {
		s.inflight.Done()
		return ErrStoreClosed
	}

	go func() {
		defer s.inflight.Done()
		persist()
	}()
	return nil
}

func (s *MessageStore) persistText(ref Pending, msg models.Message) {
	stored, err := s.remote.InsertMessage(s.ctx, s.Scope(), msg)
	if err != nil {
		s.logger.Warn("send failed, rolling back", "ref", ref.Key(), "error", err)
		s.metrics.SendFailed(string(models.KindText))
		s.settle(failedEvent{ref: ref, restore: msg.Text(), reply: make(chan struct{})})
		return
	}
	s.metrics.SendConfirmed(string(models.KindText))
	s.settle(confirmedEvent{ref: ref, msg: *stored, reply: make(chan struct{})})
}

func (s *MessageStore) persistVoice(ref Pending, msg models.Message, localPath string) {
	scope := s.Scope()
	objectPath := fmt.Sprintf("%s/%s/%s%s", scope.Kind, scope.ID, uuid.NewString(), filepath.Ext(localPath))

	publicURL, err := s.uploader.UploadFile(s.ctx, s.bucket, objectPath, localPath)
	if err != nil {
		s.logger.Warn("voice upload failed, rolling back", "ref", ref.Key(), "error", err)
		s.metrics.SendFailed(string(models.KindVoice))
		s.settle(failedEvent{ref: ref, reply: make(chan struct{})})
		return
	}

	msg.MediaURL = &publicURL
	stored, err := s.remote.InsertMessage(s.ctx, scope, msg)
	if err != nil {
		s.logger.Warn("voice send failed, rolling back", "ref", ref.Key(), "error", err)
		s.metrics.SendFailed(string(models.KindVoice))
		s.settle(failedEvent{ref: ref, reply: make(chan struct{})})
		return
	}
	s.metrics.SendConfirmed(string(models.KindVoice))
	s.settle(confirmedEvent{ref: ref, msg: *stored, reply: make(chan struct{})})

	if s.usage != nil && msg.DurationSeconds != nil {
		if err := s.usage.AddSpeakingSeconds(s.ctx, s.authorID, *msg.DurationSeconds); err != nil {
			s.logger.Warn("speaking time not recorded", "error", err)
		}
	}
}

// post hands an event to the loop. It reports false once the loop has exited.
func (s *MessageStore) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// settle posts a send completion and blocks until the loop has applied it.
func (s *MessageStore) settle(ev event) {
	var reply chan struct{}
	switch e := ev.(type) {
	case confirmedEvent:
		reply = e.reply
	case failedEvent:
		reply = e.reply
	}
	if s.post(ev) {
		s.await(reply)
	}
}

// await reports whether the loop acknowledged an event before exiting.
func (s *MessageStore) await(reply <-chan struct{}) bool {
	select {
	case <-reply:
		return true
	case <-s.done:
		return false
	}
}

func (s *MessageStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
