package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
)

// ErrAlreadyRecording is returned by Start while a session is active.
var ErrAlreadyRecording = errors.New("recording already in progress")

// State of the recorder.
type State int

const (
	StateIdle State = iota
	// StateStarting covers the time the source takes to open.
	StateStarting
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StopReason records which trigger ended a session.
type StopReason string

const (
	StopManual      StopReason = "manual"
	StopSilence     StopReason = "silence"
	StopMaxDuration StopReason = "max_duration"
	StopSourceEnded StopReason = "source_ended"
)

// Options configures one recording session.
type Options struct {
	Device           string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	MaxDuration      time.Duration
	SilenceThreshold float64
	SilenceDuration  time.Duration
	FFTSize          int
	Smoothing        float64
	ContentTypes     []string
	TickInterval     time.Duration
}

// OptionsFromConfig converts the recorder config section, filling the
// platform-dependent sample rate and codec preference.
func OptionsFromConfig(cfg config.RecorderConfig) Options {
	opts := Options{
		Device:           cfg.Device,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
		AutoGainControl:  cfg.AutoGainControl,
		SampleRate:       cfg.SampleRate,
		MaxDuration:      cfg.GetMaxDuration(),
		SilenceThreshold: cfg.SilenceThreshold,
		SilenceDuration:  cfg.GetSilenceDuration(),
		FFTSize:          cfg.FFTSize,
		Smoothing:        cfg.Smoothing,
		ContentTypes:     cfg.PreferredContentTypes,
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate(runtime.GOARCH)
	}
	if len(opts.ContentTypes) == 0 {
		opts.ContentTypes = audio.PreferredContentTypes(runtime.GOOS)
	}
	return opts
}

// Recording is a finalized capture.
type Recording struct {
	ID          string
	Data        []byte
	ContentType string
	// PreviewPath is a temp file holding Data, usable for local playback.
	PreviewPath string
	SampleRate  int
	Duration    time.Duration
	StartedAt   time.Time
	Reason      StopReason
	// LastLoud is the offset of the last sample above the silence
	// threshold, zero when none was.
	LastLoud time.Duration
}

// MinBytes scales a threshold given at audio.ReferenceByteRate to the
// recording's content type, so the same amount of audio is required
// whichever codec was negotiated.
func (r *Recording) MinBytes(minBytes int) int {
	if r == nil || minBytes <= 0 {
		return minBytes
	}
	rate := audio.ByteRate(r.ContentType, r.SampleRate)
	return int(int64(minBytes) * int64(rate) / audio.ReferenceByteRate)
}

// Discardable reports whether the capture is too small to be speech.
// minBytes is expressed at audio.ReferenceByteRate.
func (r *Recording) Discardable(minBytes int) bool {
	return r == nil || len(r.Data) < r.MinBytes(minBytes)
}

// Encoder produces the container format for captured PCM.
type Encoder interface {
	Negotiate(ctx context.Context, preferred []string) string
	Encode(ctx context.Context, pcm []byte, sampleRate int, contentType string) ([]byte, error)
}

type session struct {
	id        string
	opts      Options
	src       Source
	analyser  *audio.Analyser
	tracker   *SilenceTracker
	start     time.Time
	maxTimer  *time.Timer
	cancel    context.CancelFunc
	readDone  chan struct{}
	pcmMu     sync.Mutex
	pcm       []byte
	sourceErr error
}

// Recorder owns the microphone. At most one session is active; Stop is
// safe to call from the silence loop, the max-duration timer and the user
// at once.
type Recorder struct {
	open       Opener
	encoder    Encoder
	previewDir string
	onComplete func(*Recording)
	now        func() time.Time

	mu      sync.Mutex
	state   State
	session *session
}

// New returns an idle recorder. onComplete receives every finalized
// Recording, whichever trigger stopped it, and nil when finalizing failed.
func New(open Opener, enc Encoder, previewDir string, onComplete func(*Recording)) *Recorder {
	if previewDir == "" {
		previewDir = filepath.Join(os.TempDir(), "vocalize-previews")
	}
	return &Recorder{
		open:       open,
		encoder:    enc,
		previewDir: previewDir,
		onComplete: onComplete,
		now:        time.Now,
	}
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) setState(st State) {
	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
}

// Start opens the source and begins energy sampling. The source is opened
// without holding the lock, so State stays responsive while a device is slow
// to start.
func (r *Recorder) Start(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.state == StateRecording || r.state == StateStarting {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.state = StateStarting
	r.mu.Unlock()

	if opts.FFTSize == 0 {
		opts.FFTSize = 2048
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 16 * time.Millisecond
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate(runtime.GOARCH)
	}
	analyser, err := audio.NewAnalyser(opts.FFTSize, opts.Smoothing)
	if err != nil {
		r.setState(StateIdle)
		return err
	}

	src, err := r.open(ctx, opts)
	if err != nil {
		r.setState(StateIdle)
		logging.Warnw("recorder: failed to open source", "err", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	loopCtx, cancel := context.WithCancel(context.Background())
	now := r.now()
	s := &session{
		id:       uuid.NewString(),
		opts:     opts,
		src:      src,
		analyser: analyser,
		tracker:  NewSilenceTracker(opts.SilenceThreshold, opts.SilenceDuration, now),
		start:    now,
		cancel:   cancel,
		readDone: make(chan struct{}),
	}
	r.session = s
	r.state = StateRecording

	go r.readLoop(s)
	go r.sampleLoop(loopCtx, s)
	if opts.MaxDuration > 0 {
		s.maxTimer = time.AfterFunc(opts.MaxDuration, func() {
			r.stop(s, StopMaxDuration)
		})
	}
	logging.Infow("recorder: recording started", "recording_id", s.id, "sample_rate", opts.SampleRate, "max_duration_ms", opts.MaxDuration.Milliseconds())
	return nil
}

func (r *Recorder) readLoop(s *session) {
	buf := make([]byte, 4096)
	var readErr error
	for {
		n, err := s.src.Read(buf)
		if n > 0 {
			s.pcmMu.Lock()
			s.pcm = append(s.pcm, buf[:n]...)
			s.pcmMu.Unlock()
		}
		if err != nil {
			readErr = err
			break
		}
	}
	s.pcmMu.Lock()
	s.sourceErr = readErr
	s.pcmMu.Unlock()
	close(s.readDone)
	// The source ended on its own (device loss or EOF); stop is a no-op
	// when this was caused by Stop closing the source.
	go r.stop(s, StopSourceEnded)
}

// sampleLoop ticks roughly once per display frame and only keeps going
// while the session is still recording.
func (r *Recorder) sampleLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	need := s.opts.FFTSize * audio.BytesPerSample
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.isActive(s) {
			return
		}
		s.pcmMu.Lock()
		end := len(s.pcm) &^ 1
		from := end - need
		if from < 0 {
			from = 0
		}
		samples := audio.Samples(s.pcm[from:end])
		s.pcmMu.Unlock()

		mag := audio.MeanMagnitude(s.analyser.ByteFrequencyData(samples))
		if s.tracker.Observe(r.now(), mag) {
			logging.Debugw("recorder: silence detected", "recording_id", s.id, "magnitude", mag)
			go r.stop(s, StopSilence)
			return
		}
	}
}

func (r *Recorder) isActive(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == StateRecording && r.session == s
}

// Stop ends the active session and returns the finalized recording. It
// returns (nil, nil) when nothing is recording.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	return r.stop(s, StopManual)
}

func (r *Recorder) stop(s *session, reason StopReason) (*Recording, error) {
	r.mu.Lock()
	if r.state != StateRecording || r.session != s {
		r.mu.Unlock()
		return nil, nil
	}
	r.state = StateStopped
	r.session = nil
	r.mu.Unlock()

	rec, err := r.finalize(s, reason)
	if err != nil {
		logging.Errorw("recorder: failed to finalize recording", "recording_id", s.id, "err", err)
		if r.onComplete != nil {
			r.onComplete(nil)
		}
		return nil, err
	}
	if r.onComplete != nil {
		r.onComplete(rec)
	}
	return rec, nil
}

// finalize releases the source, the timer and the sampling loop on every
// path, then encodes the captured PCM.
func (r *Recorder) finalize(s *session, reason StopReason) (*Recording, error) {
	s.cancel()
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	_ = s.src.Close()
	<-s.readDone

	s.pcmMu.Lock()
	pcm := s.pcm[:len(s.pcm)&^1]
	srcErr := s.sourceErr
	s.pcmMu.Unlock()
	if srcErr != nil && !errors.Is(srcErr, io.EOF) && !errors.Is(srcErr, os.ErrClosed) && reason == StopSourceEnded {
		logging.Warnw("recorder: source lost mid-recording", "recording_id", s.id, "err", srcErr)
	}

	rec := &Recording{
		ID:        s.id,
		StartedAt:  s.start,
		SampleRate: s.opts.SampleRate,
		Duration:   audio.PCMDuration(len(pcm), s.opts.SampleRate),
		Reason:     reason,
	}
	if last := s.tracker.LastLoud(); last.After(s.start) {
		rec.LastLoud = last.Sub(s.start)
	}
	if len(pcm) == 0 {
		logging.Infow("recorder: recording stopped with no audio", "recording_id", s.id, "reason", string(reason))
		return rec, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ct := audio.WAV
	if r.encoder != nil {
		ct = r.encoder.Negotiate(ctx, s.opts.ContentTypes)
	}
	data, err := r.encode(ctx, pcm, s.opts.SampleRate, ct)
	if err != nil && ct != audio.WAV {
		logging.Warnw("recorder: encode failed, falling back to wav", "content_type", ct, "err", err)
		ct = audio.WAV
		data, err = r.encode(ctx, pcm, s.opts.SampleRate, ct)
	}
	if err != nil {
		return nil, err
	}
	rec.Data = data
	rec.ContentType = ct

	if err := os.MkdirAll(r.previewDir, 0o755); err == nil {
		path := filepath.Join(r.previewDir, "recording-"+s.id+audio.Extension(ct))
		if werr := os.WriteFile(path, data, 0o644); werr == nil {
			rec.PreviewPath = path
		} else {
			logging.Warnw("recorder: failed to write preview", "path", path, "err", werr)
		}
	}
	logging.Infow("recorder: recording stopped", logging.RecordingFields(ct, len(data), int(rec.Duration.Milliseconds()))...)
	logging.Debugw("recorder: stop reason", "recording_id", s.id, "reason", string(reason), "last_loud_ms", rec.LastLoud.Milliseconds())
	return rec, nil
}

func (r *Recorder) encode(ctx context.Context, pcm []byte, rate int, ct string) ([]byte, error) {
	if ct == audio.WAV || r.encoder == nil {
		return audio.BuildWAV(pcm, rate, 1, 16), nil
	}
	return r.encoder.Encode(ctx, pcm, rate, ct)
}
