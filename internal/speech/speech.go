package speech

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/config"
)

// ErrSynthesis wraps failures of the local speech engine.
var ErrSynthesis = errors.New("speech synthesis failed")

// Voice is one synthesizer voice.
type Voice struct {
	Name string
	Lang string
}

func (v Voice) String() string {
	if v.Lang == "" {
		return v.Name
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.Lang)
}

// Engine speaks text with a local synthesizer.
type Engine interface {
	Name() string
	Voices(ctx context.Context) ([]Voice, error)
	// Speak blocks until the utterance finished. Cancelling ctx stops it.
	Speak(ctx context.Context, text string, voice Voice, rate, pitch float64) error
}

// wordsPerMinute is the engines' normal speaking rate, used for rate 1.0.
const wordsPerMinute = 175

// ExecEngine drives espeak-ng/espeak or macOS say.
type ExecEngine struct {
	Kind   string // "espeak" or "say"
	Binary string
	Run    audio.Runner
}

// NewEngine resolves cfg.Engine ("auto", "espeak", "say") to an installed
// synthesizer.
func NewEngine(cfg config.SpeechConfig) (*ExecEngine, error) {
	kind := cfg.Engine
	if kind == "" || kind == "auto" {
		kind = "espeak"
		if runtime.GOOS == "darwin" {
			kind = "say"
		}
	}
	var candidates []string
	switch kind {
	case "say":
		candidates = []string{"say"}
	case "espeak":
		candidates = []string{"espeak-ng", "espeak"}
	default:
		return nil, fmt.Errorf("unknown speech engine %q", cfg.Engine)
	}
	for _, bin := range candidates {
		if _, err := exec.LookPath(bin); err == nil {
			return &ExecEngine{Kind: kind, Binary: bin, Run: audio.ExecRunner}, nil
		}
	}
	return nil, fmt.Errorf("%w: none of %s found in PATH", ErrSynthesis, strings.Join(candidates, ", "))
}

func (e *ExecEngine) Name() string { return e.Binary }

// Voices lists installed voices.
func (e *ExecEngine) Voices(ctx context.Context) ([]Voice, error) {
	var args []string
	if e.Kind == "say" {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := e.Run(ctx, e.Binary, args, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: list voices: %v", ErrSynthesis, err)
	}
	if e.Kind == "say" {
		return ParseSayVoices(string(out)), nil
	}
	return ParseEspeakVoices(string(out)), nil
}

// SpeakArgs returns the command line for one utterance.
func (e *ExecEngine) SpeakArgs(text string, voice Voice, rate, pitch float64) []string {
	if rate <= 0 {
		rate = 1
	}
	wpm := strconv.Itoa(int(wordsPerMinute * rate))
	if e.Kind == "say" {
		args := []string{"-r", wpm}
		if voice.Name != "" {
			args = append(args, "-v", voice.Name)
		}
		return append(args, "--", text)
	}
	if pitch <= 0 {
		pitch = 1
	}
	p := int(50 * pitch)
	if p > 99 {
		p = 99
	}
	args := []string{"-s", wpm, "-p", strconv.Itoa(p)}
	if voice.Name != "" {
		args = append(args, "-v", voice.Name)
	}
	return append(args, "--", text)
}

func (e *ExecEngine) Speak(ctx context.Context, text string, voice Voice, rate, pitch float64) error {
	_, err := e.Run(ctx, e.Binary, e.SpeakArgs(text, voice, rate, pitch), nil)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrSynthesis, err)
}

// ParseEspeakVoices reads `espeak-ng --voices` output.
func ParseEspeakVoices(out string) []Voice {
	var voices []Voice
	for i, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if i == 0 && len(f) > 0 && f[0] == "Pty" {
			continue
		}
		if len(f) < 4 {
			continue
		}
		voices = append(voices, Voice{Name: f[3], Lang: f[1]})
	}
	return voices
}

// ParseSayVoices reads `say -v ?` output: "<name> <locale> # <sample>".
func ParseSayVoices(out string) []Voice {
	var voices []Voice
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) < 2 {
			continue
		}
		lang := strings.ReplaceAll(f[len(f)-1], "_", "-")
		voices = append(voices, Voice{Name: strings.Join(f[:len(f)-1], " "), Lang: lang})
	}
	return voices
}
