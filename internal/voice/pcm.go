package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

const wavHeaderSize = 44

// SourceFunc opens a raw PCM input stream.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

// PCMDevice records signed 16-bit little-endian PCM into WAV files.
type PCMDevice struct {
	Source     SourceFunc
	SampleRate int
	Channels   int
}

// CommandSource runs an external capture program and reads PCM from its stdout,
// e.g. CommandSource("arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw").
func CommandSource(name string, args ...string) SourceFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		out, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil, ErrPermissionDenied
			}
			return nil, err
		}
		return &commandReader{ReadCloser: out, cmd: cmd}, nil
	}
}

type commandReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *commandReader) Close() error {
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	c.ReadCloser.Close()
	c.cmd.Wait()
	return nil
}

// Open starts copying the source into a new WAV file at path.
func (d *PCMDevice) Open(ctx context.Context, path string) (Capture, error) {
	src, err := d.Source(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	// Placeholder, rewritten with the sizes on Stop
	if _, err := f.Write(make([]byte, wavHeaderSize)); err != nil {
		src.Close()
		f.Close()
		return nil, err
	}

	rate, channels := d.SampleRate, d.Channels
	if rate <= 0 {
		rate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	c := &pcmCapture{src: src, file: f, rate: rate, channels: channels, done: make(chan struct{})}
	go c.copy()
	return c, nil
}

type pcmCapture struct {
	src      io.ReadCloser
	file     *os.File
	rate     int
	channels int

	paused  atomic.Bool
	level   atomic.Uint64
	written atomic.Int64

	done     chan struct{}
	copyErr  error
	stopOnce sync.Once
	stopErr  error
}

func (c *pcmCapture) Pause() error  { c.paused.Store(true); return nil }
func (c *pcmCapture) Resume() error { c.paused.Store(false); return nil }

func (c *pcmCapture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

func (c *pcmCapture) Stop() error {
	c.stopOnce.Do(func() {
		c.src.Close()
		<-c.done
		c.stopErr = c.finalize()
	})
	return c.stopErr
}

// copy reads until the source closes. Paused input is read and discarded.
func (c *pcmCapture) copy() {
	defer close(c.done)
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := c.src.Read(buf)
		if n > 0 && !c.paused.Load() {
			chunk := append(carry, buf[:n]...)
			// keep whole samples only
			whole := len(chunk) &^ 1
			if _, werr := c.file.Write(chunk[:whole]); werr != nil {
				c.copyErr = werr
				return
			}
			c.written.Add(int64(whole))
			c.level.Store(math.Float64bits(rms(chunk[:whole])))
			carry = append(carry[:0], chunk[whole:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				c.copyErr = err
			}
			return
		}
	}
}

func (c *pcmCapture) finalize() error {
	defer c.file.Close()
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := writeWAVHeader(c.file, c.rate, c.channels, uint32(c.written.Load())); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	return c.copyErr
}

func writeWAVHeader(w io.Writer, sampleRate, channels int, dataSize uint32) error {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	h := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	return binary.Write(w, binary.LittleEndian, h)
}

// rms of 16-bit little-endian samples, scaled to [0, 1].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
