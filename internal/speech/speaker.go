package speech

import (
	"context"
	"errors"
	"sync"

	"github.com/vocalize-voice-lab/internal/logging"
)

// ErrInterrupted is returned by Speak when a newer utterance or Cancel
// preempted it.
var ErrInterrupted = errors.New("utterance interrupted")

// Speaker keeps at most one utterance alive: Speak cancels the current one
// and waits for it to exit before starting.
type Speaker struct {
	engine Engine

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpeaker wraps engine.
func NewSpeaker(engine Engine) *Speaker {
	return &Speaker{engine: engine}
}

// Speak blocks until text was spoken, the utterance was preempted
// (ErrInterrupted), ctx ended, or the engine failed (ErrSynthesis).
func (s *Speaker) Speak(ctx context.Context, text string, voice Voice, rate, pitch float64) error {
	uctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	defer func() {
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		cancel()
		close(done)
	}()

	logging.Debugw("speech: speaking", "voice", voice.Name, "chars", len(text))
	err := s.engine.Speak(uctx, text, voice, rate, pitch)
	if err != nil && uctx.Err() != nil && ctx.Err() == nil {
		return ErrInterrupted
	}
	return err
}

// Cancel stops the current utterance, if any, and waits for it to exit.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Speaking reports whether an utterance is in flight.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}
