package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/recorder"
	"github.com/vocalize-voice-lab/internal/speech"
)

// User-facing messages.
const (
	MsgMicrophone  = "Could not access microphone. Please check permissions."
	MsgTranscribe  = "Failed to transcribe audio. Please try again."
	MsgAnswer      = "Error processing answer. Please try again."
	MsgNoResponse  = "No valid response received."
	MsgNoSpeech    = "No speech detected. Please try again."
	defaultRate    = 0.8
	defaultPitch   = 1.0
	defaultMinSize = 8000
)

// ErrBusy is returned when a pipeline run is requested outside Idle.
var ErrBusy = errors.New("pipeline is busy")

// Relay is the transcription and answer service.
type Relay interface {
	Transcribe(ctx context.Context, data []byte, contentType, cid string) (string, error)
	Answer(ctx context.Context, prompt, cid string) (string, error)
}

// Speaker synthesizes one utterance at a time.
type Speaker interface {
	Speak(ctx context.Context, text string, voice speech.Voice, rate, pitch float64) error
	Cancel()
}

// Archive persists recordings and their outcome.
type Archive interface {
	Save(cid string, rec *recorder.Recording) (string, error)
	MergeUpdatesForCID(cid string, updates map[string]interface{}) error
}

// Options tunes the orchestrator.
type Options struct {
	MinAudioBytes int
	Rate          float64
	Pitch         float64
}

// Status is a snapshot for display.
type Status struct {
	State   State
	Message string
}

// Orchestrator sequences transcribe, answer and speak for one recording at
// a time and owns the result history.
type Orchestrator struct {
	relay   Relay
	speaker Speaker
	archive Archive
	voice   func() speech.Voice
	opts    Options
	history *ResultHistory

	mu       sync.Mutex
	state    State
	message  string
	utter    uint64
	onChange func(Status)
}

// New returns an idle orchestrator.
func New(relay Relay, speaker Speaker, opts Options) *Orchestrator {
	if opts.Rate <= 0 {
		opts.Rate = defaultRate
	}
	if opts.Pitch <= 0 {
		opts.Pitch = defaultPitch
	}
	if opts.MinAudioBytes < 0 {
		opts.MinAudioBytes = defaultMinSize
	}
	return &Orchestrator{
		relay:   relay,
		speaker: speaker,
		opts:    opts,
		history: &ResultHistory{},
		voice:   func() speech.Voice { return speech.Voice{} },
	}
}

// SetArchive enables recording persistence.
func (o *Orchestrator) SetArchive(a Archive) { o.archive = a }

// SetVoice sets the function consulted for the voice of every utterance.
func (o *Orchestrator) SetVoice(fn func() speech.Voice) { o.voice = fn }

// OnChange registers a callback invoked after every state or message change.
func (o *Orchestrator) OnChange(fn func(Status)) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// History returns the result history.
func (o *Orchestrator) History() *ResultHistory { return o.history }

// Status returns the current state and message.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{State: o.state, Message: o.message}
}

// apply runs the transition and, when msg is non-nil, replaces the message.
func (o *Orchestrator) apply(e Event, msg *string) error {
	o.mu.Lock()
	next, err := Transition(o.state, e)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	prev := o.state
	o.state = next
	if msg != nil {
		o.message = *msg
	}
	st := Status{State: o.state, Message: o.message}
	fn := o.onChange
	o.mu.Unlock()

	logging.Debugw("pipeline: transition", "from", prev.String(), "event", e.String(), "to", next.String())
	if fn != nil {
		fn(st)
	}
	return nil
}

func (o *Orchestrator) fail(cid, msg string, cause error, kind ErrorKind) {
	logging.Warnw("pipeline: run failed", "message", msg, "err", cause, "kind", kind.String(), "correlation_id", cid)
	if err := o.apply(EvFailed, &msg); err != nil {
		logging.Debugw("pipeline: fail ignored", "err", err)
	}
	o.annotate(cid, map[string]interface{}{"error": cause.Error()})
}

// BeginRecording moves Idle to Recording. An unacknowledged error is
// acknowledged first and any speech is stopped.
func (o *Orchestrator) BeginRecording() error {
	if o.Status().State == Error {
		o.Acknowledge()
	}
	o.StopSpeaking()
	if o.Status().State == Speaking {
		_ = o.apply(EvSpeechEnded, nil)
	}
	empty := ""
	if err := o.apply(EvStartRecording, &empty); err != nil {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return nil
}

// RecordingFailed reports a microphone failure and returns to Idle.
func (o *Orchestrator) RecordingFailed(err error) {
	msg := MsgMicrophone
	logging.Warnw("pipeline: microphone unavailable", "err", err)
	if terr := o.apply(EvRecordingDropped, &msg); terr != nil {
		logging.Debugw("pipeline: recording failure ignored", "err", terr)
	}
}

// Run takes a finished recording through transcribe, answer and speak.
// It returns once speech has ended or the run failed.
func (o *Orchestrator) Run(ctx context.Context, rec *recorder.Recording) error {
	if rec.Discardable(o.opts.MinAudioBytes) {
		size, ct := 0, ""
		if rec != nil {
			size, ct = len(rec.Data), rec.ContentType
		}
		logging.Infow("pipeline: recording below minimum size, discarding", "bytes", size, "content_type", ct, "min_bytes", rec.MinBytes(o.opts.MinAudioBytes))
		msg := MsgNoSpeech
		return o.apply(EvRecordingDropped, &msg)
	}
	if err := o.apply(EvRecordingReady, nil); err != nil {
		return err
	}

	cid := uuid.NewString()
	ctx = logging.WithFields(ctx, "correlation_id", cid)
	audioRef := rec.PreviewPath
	if o.archive != nil {
		if p, err := o.archive.Save(cid, rec); err != nil {
			logging.WarnwCtx(ctx, "pipeline: failed to archive recording", "err", err)
		} else if p != "" {
			audioRef = p
		}
	}

	text, err := o.Transcribe(ctx, rec.Data, rec.ContentType, cid)
	if err != nil {
		return err
	}
	idx, err := o.Answer(ctx, text, cid, audioRef)
	if err != nil {
		return err
	}
	return o.Speak(ctx, idx)
}

// Transcribe sends audio to the relay. On failure the pipeline moves to
// Error with MsgTranscribe.
func (o *Orchestrator) Transcribe(ctx context.Context, data []byte, contentType, cid string) (string, error) {
	logging.InfowCtx(ctx, "pipeline: transcribing", logging.RecordingFields(contentType, len(data), 0)...)
	r := Await(ctx, func(ctx context.Context) (string, error) {
		return o.relay.Transcribe(ctx, data, contentType, cid)
	})
	if r.Err != nil {
		o.fail(cid, MsgTranscribe, r.Err, r.Kind())
		return "", r.Err
	}
	text := strings.TrimSpace(r.Value)
	if err := o.apply(EvTranscribed, nil); err != nil {
		return "", err
	}
	o.annotate(cid, map[string]interface{}{"transcript": text})
	return text, nil
}

// Answer asks the relay for an answer, appends a ResultEntry and moves to
// Speaking. It returns the new entry's index.
func (o *Orchestrator) Answer(ctx context.Context, text, cid, audioRef string) (int, error) {
	r := Await(ctx, func(ctx context.Context) (string, error) {
		return o.relay.Answer(ctx, text, cid)
	})
	if r.Err != nil {
		o.fail(cid, MsgAnswer, r.Err, r.Kind())
		return -1, r.Err
	}
	answer := strings.TrimSpace(r.Value)
	if answer == "" {
		answer = MsgNoResponse
	}
	idx := o.history.Append(ResultEntry{
		Transcription: text,
		Answer:        answer,
		AudioRef:      audioRef,
		CorrelationID: cid,
		CreatedAt:     time.Now(),
	})
	o.annotate(cid, map[string]interface{}{"answer": answer})
	logging.InfowCtx(ctx, "pipeline: answer received", "index", idx, "answer_len", len(answer))
	if err := o.apply(EvAnswered, nil); err != nil {
		return idx, err
	}
	return idx, nil
}

// Speak reads entry index aloud as the pipeline's final stage, cancelling
// whatever is speaking. The pipeline returns to Idle afterwards, also on
// synthesis errors.
func (o *Orchestrator) Speak(ctx context.Context, index int) error {
	e, ok := o.history.Get(index)
	if !ok {
		return fmt.Errorf("no result at index %d", index)
	}
	o.StopSpeaking()
	token := o.nextUtterance()
	err := o.speaker.Speak(ctx, e.Answer, o.voice(), o.opts.Rate, o.opts.Pitch)
	o.finishUtterance(token, index)

	switch {
	case err == nil, errors.Is(err, speech.ErrInterrupted):
	case errors.Is(err, context.Canceled):
	default:
		logging.Warnw("pipeline: speech synthesis failed", "err", err, "index", index)
	}
	if o.Status().State == Speaking {
		_ = o.apply(EvSpeechEnded, nil)
	}
	if err != nil && !errors.Is(err, speech.ErrInterrupted) {
		return err
	}
	return nil
}

// Replay toggles playback of entry index. Playing an entry preempts any
// other speech, and speaking stops it again.
func (o *Orchestrator) Replay(ctx context.Context, index int) error {
	e, ok := o.history.Get(index)
	if !ok {
		return fmt.Errorf("no result at index %d", index)
	}
	if e.IsPlaying {
		o.StopSpeaking()
		return nil
	}
	o.StopSpeaking()

	o.mu.Lock()
	o.utter++
	token := o.utter
	err := o.history.SetPlaying(index)
	o.mu.Unlock()
	if err != nil {
		return err
	}

	err = o.speaker.Speak(ctx, e.Answer, o.voice(), o.opts.Rate, o.opts.Pitch)
	o.finishUtterance(token, index)
	if err != nil && !errors.Is(err, speech.ErrInterrupted) && !errors.Is(err, context.Canceled) {
		logging.Warnw("pipeline: replay failed", "err", err, "index", index)
		return err
	}
	return nil
}

func (o *Orchestrator) nextUtterance() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.utter++
	return o.utter
}

// finishUtterance clears the entry's flag unless a newer utterance owns it.
func (o *Orchestrator) finishUtterance(token uint64, index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.utter == token {
		o.history.ClearPlaying(index)
	}
}

// StopSpeaking cancels the current utterance and clears every playing flag.
func (o *Orchestrator) StopSpeaking() {
	o.speaker.Cancel()
	o.mu.Lock()
	o.utter++
	o.history.ClearAll()
	o.mu.Unlock()
}

// Acknowledge dismisses the current message and leaves Error.
func (o *Orchestrator) Acknowledge() {
	empty := ""
	if err := o.apply(EvAcknowledge, &empty); err == nil {
		return
	}
	o.mu.Lock()
	o.message = ""
	st := Status{State: o.state}
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (o *Orchestrator) annotate(cid string, updates map[string]interface{}) {
	if o.archive == nil || cid == "" {
		return
	}
	if err := o.archive.MergeUpdatesForCID(cid, updates); err != nil {
		logging.Debugw("pipeline: archive update skipped", "err", err, "correlation_id", cid)
	}
}
