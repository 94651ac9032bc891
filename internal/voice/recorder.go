package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/google/uuid"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNotRecording     = errors.New("no active recording")
	ErrNotPaused        = errors.New("recording is not paused")
)

// State is the recorder's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Device opens capture sessions. Open returns ErrPermissionDenied when the
// microphone cannot be used.
type Device interface {
	Open(ctx context.Context, path string) (Capture, error)
}

// Capture is one session writing audio to a file.
type Capture interface {
	Pause() error
	Resume() error

	// Level is the current input amplitude in [0, 1]
	Level() float64

	// Stop finalizes the file
	Stop() error
}

// Clip is a finished recording.
type Clip struct {
	Path     string
	Duration time.Duration
}

// Options configures a Recorder.
type Options struct {
	// Dir receives the recorded files (default os.TempDir())
	Dir string

	// AmplitudeInterval is the waveform sample cadence (default 50ms)
	AmplitudeInterval time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Recorder owns the one recording session of its device. Starting while a
// session is active force-stops that session first.
type Recorder struct {
	device   Device
	dir      string
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	amplitudes chan float64

	mu        sync.Mutex
	state     State
	capture   Capture
	path      string
	resumedAt time.Time
	elapsed   time.Duration
	paused    *atomic.Bool
	stopTick  chan struct{}
	tickDone  chan struct{}
}

// NewRecorder creates a recorder bound to device.
func NewRecorder(device Device, opts Options) *Recorder {
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.AmplitudeInterval <= 0 {
		opts.AmplitudeInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		device:     device,
		dir:        opts.Dir,
		interval:   opts.AmplitudeInterval,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
		amplitudes: make(chan float64, 32),
	}
}

// Amplitudes delivers live waveform samples. Samples are dropped when the reader lags.
func (r *Recorder) Amplitudes() <-chan float64 { return r.amplitudes }

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed is the recorded time so far, pauses excluded.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

// Start begins a new session. A session that is still active is force-stopped
// and its clip deleted, as if cancelled; only the new session can produce a Clip.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active() {
		r.logger.Warn("recording already active, stopping it", "path", r.path)
		r.metrics.Recording("forced_stop")
		if err := r.finish(); err != nil {
			r.logger.Warn("forced stop failed", "error", err)
		}
		os.Remove(r.path)
	}

	path := filepath.Join(r.dir, "voice-"+uuid.NewString()+".wav")
	capture, err := r.device.Open(ctx, path)
	if err != nil {
		r.state = StateIdle
		r.capture = nil
		if errors.Is(err, ErrPermissionDenied) {
			r.metrics.Recording("denied")
			return ErrPermissionDenied
		}
		return fmt.Errorf("open recording device: %w", err)
	}

	r.capture = capture
	r.path = path
	r.state = StateRecording
	r.elapsed = 0
	r.resumedAt = r.now()
	r.paused = &atomic.Bool{}
	r.stopTick = make(chan struct{})
	r.tickDone = make(chan struct{})
	go r.sample(capture, r.paused, r.stopTick, r.tickDone)

	r.metrics.Recording("started")
	r.logger.Debug("recording started", "path", path)
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return ErrNotRecording
	}
	if err := r.capture.Pause(); err != nil {
		return fmt.Errorf("pause recording: %w", err)
	}
	r.elapsed += r.now().Sub(r.resumedAt)
	r.paused.Store(true)
	r.state = StatePaused
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return ErrNotPaused
	}
	if err := r.capture.Resume(); err != nil {
		return fmt.Errorf("resume recording: %w", err)
	}
	r.resumedAt = r.now()
	r.paused.Store(false)
	r.state = StateRecording
	return nil
}

// Stop ends the session and returns the finished clip.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active() {
		return Clip{}, ErrNotRecording
	}
	duration := r.elapsedLocked()
	path := r.path
	if err := r.finish(); err != nil {
		r.state = StateIdle
		return Clip{}, err
	}
	r.state = StateStopped
	r.metrics.Recording("stopped")
	return Clip{Path: path, Duration: duration}, nil
}

// Cancel ends the session and deletes its file.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active() {
		return ErrNotRecording
	}
	err := r.finish()
	if rmErr := os.Remove(r.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		r.logger.Warn("failed to remove cancelled recording", "path", r.path, "error", rmErr)
	}
	r.state = StateCancelled
	r.metrics.Recording("cancelled")
	return err
}

func (r *Recorder) active() bool {
	return r.state == StateRecording || r.state == StatePaused
}

func (r *Recorder) elapsedLocked() time.Duration {
	switch r.state {
	case StateRecording:
		return r.elapsed + r.now().Sub(r.resumedAt)
	case StatePaused:
		return r.elapsed
	}
	return 0
}

// finish stops sampling and the capture. Called with r.mu held.
func (r *Recorder) finish() error {
	close(r.stopTick)
	<-r.tickDone
	c := r.capture
	r.capture = nil
	if err := c.Stop(); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

func (r *Recorder) sample(c Capture, paused *atomic.Bool, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if paused.Load() {
				continue
			}
			select {
			case r.amplitudes <- c.Level():
			default:
			}
		}
	}
}
