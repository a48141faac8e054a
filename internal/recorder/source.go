package recorder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vocalize-voice-lab/internal/logging"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")
)

// Source delivers mono s16le PCM at the negotiated sample rate. Close
// releases the device and unblocks a pending Read.
type Source interface {
	io.ReadCloser
}

// Opener acquires a capture Source. Implementations return errors wrapping
// ErrPermissionDenied or ErrDeviceUnavailable.
type Opener func(ctx context.Context, opts Options) (Source, error)

// DefaultSampleRate picks the capture rate for goarch. 32-bit arm boards
// record at 8 kHz.
func DefaultSampleRate(goarch string) int {
	switch goarch {
	case "arm", "386", "mips", "mipsle":
		return 8000
	}
	return 16000
}

// CaptureArgs builds the ffmpeg arguments for capturing from the default
// input on goos.
func CaptureArgs(goos string, opts Options) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch goos {
	case "darwin":
		dev := opts.Device
		if dev == "" {
			dev = ":0"
		}
		args = append(args, "-f", "avfoundation", "-i", dev)
	case "linux":
		dev := opts.Device
		if dev == "" {
			dev = "default"
		}
		args = append(args, "-f", "pulse", "-i", dev)
	default:
		return nil, fmt.Errorf("%w: mic capture is not implemented for %s; supported platforms: darwin, linux", ErrDeviceUnavailable, goos)
	}
	if f := captureFilters(opts); f != "" {
		args = append(args, "-af", f)
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate(runtime.GOARCH)
	}
	return append(args, "-ac", "1", "-ar", strconv.Itoa(rate), "-f", "s16le", "-"), nil
}

// captureFilters maps processing switches to ffmpeg audio filters. Echo
// cancellation is left to the OS audio server.
func captureFilters(opts Options) string {
	var filters []string
	if opts.NoiseSuppression {
		filters = append(filters, "afftdn=nf=-25")
	}
	if opts.AutoGainControl {
		filters = append(filters, "dynaudnorm=f=150:g=15")
	}
	return strings.Join(filters, ",")
}

// ClassifyCaptureError maps ffmpeg's diagnostic output to the recorder
// error taxonomy.
func ClassifyCaptureError(stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	for _, marker := range []string{"permission denied", "not authorized", "operation not permitted", "access denied"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	if msg == "" {
		return ErrDeviceUnavailable
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

// lockedBuffer collects stderr written by the exec copier goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout *bufio.Reader
	closer io.Closer
	once   sync.Once
}

// FFmpegOpener captures from the platform default input with ffmpeg. It
// waits up to startTimeout for the first bytes so that device and
// permission failures surface from Start rather than as an empty recording.
func FFmpegOpener(startTimeout time.Duration) Opener {
	return func(ctx context.Context, opts Options) (Source, error) {
		if _, err := exec.LookPath("ffmpeg"); err != nil {
			return nil, fmt.Errorf("%w: ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)", ErrDeviceUnavailable)
		}
		args, err := CaptureArgs(runtime.GOOS, opts)
		if err != nil {
			return nil, err
		}
		cmd := exec.Command("ffmpeg", args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
		}
		stderr := &lockedBuffer{}
		cmd.Stderr = stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("%w: start ffmpeg mic capture: %v", ErrDeviceUnavailable, err)
		}
		src := &ffmpegSource{cmd: cmd, stdout: bufio.NewReaderSize(stdout, 32<<10), closer: stdout}

		peeked := make(chan error, 1)
		go func() {
			_, err := src.stdout.Peek(2)
			peeked <- err
		}()
		timer := time.NewTimer(startTimeout)
		defer timer.Stop()
		select {
		case err := <-peeked:
			if err == nil {
				logging.Debugw("recorder: ffmpeg capture started", "args", strings.Join(args, " "))
				return src, nil
			}
			_ = cmd.Wait()
			return nil, ClassifyCaptureError(stderr.String())
		case <-timer.C:
			src.Close()
			return nil, fmt.Errorf("%w: no audio within %s", ErrDeviceUnavailable, startTimeout)
		case <-ctx.Done():
			src.Close()
			return nil, ctx.Err()
		}
	}
}

func (s *ffmpegSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSource) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.closer.Close()
		_ = s.cmd.Wait()
	})
	return nil
}
