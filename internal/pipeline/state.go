package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by Transition for events the current
// state does not accept.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// State of one pipeline run.
type State int

const (
	Idle State = iota
	Recording
	Transcribing
	Answering
	Speaking
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case Answering:
		return "answering"
	case Speaking:
		return "speaking"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives the state machine.
type Event int

const (
	EvStartRecording Event = iota
	// EvRecordingReady hands a usable capture to transcription.
	EvRecordingReady
	// EvRecordingDropped ends a capture that was discarded or failed to open.
	EvRecordingDropped
	EvTranscribed
	EvAnswered
	EvSpeechEnded
	EvFailed
	EvAcknowledge
)

func (e Event) String() string {
	switch e {
	case EvStartRecording:
		return "start_recording"
	case EvRecordingReady:
		return "recording_ready"
	case EvRecordingDropped:
		return "recording_dropped"
	case EvTranscribed:
		return "transcribed"
	case EvAnswered:
		return "answered"
	case EvSpeechEnded:
		return "speech_ended"
	case EvFailed:
		return "failed"
	case EvAcknowledge:
		return "acknowledge"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition is the pipeline's pure transition function. On error the
// returned state equals s.
func Transition(s State, e Event) (State, error) {
	switch {
	case s == Idle && e == EvStartRecording:
		return Recording, nil
	case s == Recording && e == EvRecordingReady:
		return Transcribing, nil
	case s == Recording && e == EvRecordingDropped:
		return Idle, nil
	case s == Transcribing && e == EvTranscribed:
		return Answering, nil
	case s == Answering && e == EvAnswered:
		return Speaking, nil
	case s == Speaking && e == EvSpeechEnded:
		return Idle, nil
	case e == EvFailed && (s == Transcribing || s == Answering || s == Speaking):
		return Error, nil
	case s == Error && e == EvAcknowledge:
		return Idle, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
