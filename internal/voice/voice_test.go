package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice tracks how many captures are open at once.
type fakeDevice struct {
	mu      sync.Mutex
	open    int
	maxOpen int
	opened  []*fakeCapture
	deny    bool
}

func (d *fakeDevice) Open(ctx context.Context, path string) (Capture, error) {
	if d.deny {
		return nil, ErrPermissionDenied
	}
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	c := &fakeCapture{device: d, path: path}
	d.opened = append(d.opened, c)
	return c, nil
}

type fakeCapture struct {
	device  *fakeDevice
	path    string
	stopped bool
	paused  bool
}

func (c *fakeCapture) Pause() error   { c.paused = true; return nil }
func (c *fakeCapture) Resume() error  { c.paused = false; return nil }
func (c *fakeCapture) Level() float64 { return 0.5 }

func (c *fakeCapture) Stop() error {
	c.device.mu.Lock()
	defer c.device.mu.Unlock()
	c.stopped = true
	c.device.open--
	return nil
}

func newTestRecorder(t *testing.T, d Device, m *metrics.Metrics) *Recorder {
	t.Helper()
	return NewRecorder(d, Options{Dir: t.TempDir(), AmplitudeInterval: 5 * time.Millisecond, Metrics: m, Logger: logging.Discard()})
}

func TestRecorder_DoubleStartKeepsOneSession(t *testing.T) {
	d := &fakeDevice{}
	m := metrics.New()
	r := newTestRecorder(t, d, m)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))

	assert.Equal(t, StateRecording, r.State())
	assert.Equal(t, 1, d.maxOpen)
	assert.Equal(t, 1, d.open)
	require.Len(t, d.opened, 2)
	assert.True(t, d.opened[0].stopped)
	assert.NoFileExists(t, d.opened[0].path)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Recordings.WithLabelValues("forced_stop")))

	clip, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 0, d.open)
	assert.Equal(t, d.opened[1].path, clip.Path)
	assert.FileExists(t, clip.Path)
	assert.Zero(t, testutil.ToFloat64(m.Recordings.WithLabelValues("cancelled")))
}

func TestRecorder_StopReturnsClip(t *testing.T) {
	d := &fakeDevice{}
	r := newTestRecorder(t, d, nil)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	require.NoError(t, r.Start(context.Background()))
	now = now.Add(2 * time.Second)
	require.NoError(t, r.Pause())
	assert.Equal(t, StatePaused, r.State())
	now = now.Add(10 * time.Second)
	require.NoError(t, r.Resume())
	now = now.Add(time.Second)

	clip, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, clip.Duration)
	assert.FileExists(t, clip.Path)
	assert.Equal(t, StateStopped, r.State())
}

func TestRecorder_CancelDiscardsFile(t *testing.T) {
	d := &fakeDevice{}
	r := newTestRecorder(t, d, nil)

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Cancel())

	assert.Equal(t, StateCancelled, r.State())
	assert.NoFileExists(t, d.opened[0].path)
	assert.ErrorIs(t, r.Cancel(), ErrNotRecording)
}

func TestRecorder_PermissionDenied(t *testing.T) {
	r := newTestRecorder(t, &fakeDevice{deny: true}, nil)

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, r.State())

	_, err = r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_StateErrors(t *testing.T) {
	r := newTestRecorder(t, &fakeDevice{}, nil)

	assert.ErrorIs(t, r.Pause(), ErrNotRecording)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Resume(), ErrNotPaused)
	require.NoError(t, r.Cancel())
}

func TestRecorder_StreamsAmplitudes(t *testing.T) {
	r := newTestRecorder(t, &fakeDevice{}, nil)
	require.NoError(t, r.Start(context.Background()))
	defer r.Cancel()

	select {
	case level := <-r.Amplitudes():
		assert.Equal(t, 0.5, level)
	case <-time.After(time.Second):
		t.Fatal("no amplitude sample")
	}
}

func TestPCMDevice_WritesWAV(t *testing.T) {
	pr, pw := io.Pipe()
	d := &PCMDevice{
		Source:     func(ctx context.Context) (io.ReadCloser, error) { return pr, nil },
		SampleRate: 8000,
		Channels:   1,
	}
	path := filepath.Join(t.TempDir(), "clip.wav")

	c, err := d.Open(context.Background(), path)
	require.NoError(t, err)

	samples := make([]byte, 200)
	for i := 0; i < 100; i++ {
		binary.LittleEndian.PutUint16(samples[2*i:], uint16(int16(16384)))
	}
	_, err = pw.Write(samples)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Level() > 0.49 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+200)
	assert.Equal(t, []byte("RIFF"), data[0:4])
	assert.Equal(t, []byte("WAVE"), data[8:12])
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(200), binary.LittleEndian.Uint32(data[40:44]))
}

func TestPCMDevice_PermissionDenied(t *testing.T) {
	d := &PCMDevice{Source: func(ctx context.Context) (io.ReadCloser, error) {
		return nil, &os.PathError{Op: "open", Path: "/dev/snd", Err: os.ErrPermission}
	}}
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "x.wav"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestPCMDevice_OtherErrors(t *testing.T) {
	d := &PCMDevice{Source: func(ctx context.Context) (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}}
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "x.wav"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, rms(nil))
	assert.Equal(t, 0.0, rms(make([]byte, 8)))

	var buf bytes.Buffer
	for i := 0; i < 4; i++ {
		binary.Write(&buf, binary.LittleEndian, int16(-32768))
	}
	assert.InDelta(t, 1.0, rms(buf.Bytes()), 1e-9)
}
