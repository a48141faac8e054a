package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocalize-voice-lab/internal/config"
)

const espeakOut = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-gb           --/M      English_(Great_Britain) gmw/en
 5  en-us           --/M      English_(America)  gmw/en-US
 5  fr-fr           --/M      French_(France)    roa/fr
`

const sayOut = `Alex                en_US    # Most people recognize me by my voice.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Amelie              fr_CA    # Bonjour, je m'appelle Amelie.
`

func TestParseEspeakVoices(t *testing.T) {
	v := ParseEspeakVoices(espeakOut)
	if len(v) != 4 {
		t.Fatalf("voices=%v", v)
	}
	if v[1].Name != "English_(Great_Britain)" || v[1].Lang != "en-gb" {
		t.Fatalf("voice=%+v", v[1])
	}
}

func TestParseSayVoices(t *testing.T) {
	v := ParseSayVoices(sayOut)
	if len(v) != 3 {
		t.Fatalf("voices=%v", v)
	}
	if v[1].Name != "Bad News" || v[1].Lang != "en-US" {
		t.Fatalf("voice=%+v", v[1])
	}
}

func TestFilterAndSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Amelie", Lang: "fr-CA"},
		{Name: "Alex", Lang: "en-US"},
		{Name: "Google US English", Lang: "en-US"},
		{Name: "Microsoft Zira", Lang: "en-US"},
	}
	f := config.VoiceFilter{LangPrefix: "en", NameContains: []string{"Google", "Microsoft", "Natural"}}

	got := FilterVoices(voices, f)
	if len(got) != 2 || got[0].Name != "Google US English" {
		t.Fatalf("filtered=%v", got)
	}

	v, ok := SelectVoice(voices, f, "")
	if !ok || v.Name != "Google US English" {
		t.Fatalf("default=%v", v)
	}
	v, _ = SelectVoice(voices, f, "amelie")
	if v.Name != "Amelie" {
		t.Fatalf("selected=%v", v)
	}
	v, _ = SelectVoice(voices, f, "missing")
	if v.Name != "Google US English" {
		t.Fatalf("unknown selection should fall back, got %v", v)
	}

	noMarkers := []Voice{{Name: "Thomas", Lang: "fr-FR"}, {Name: "Alex", Lang: "en-US"}}
	v, _ = SelectVoice(noMarkers, f, "")
	if v.Name != "Alex" {
		t.Fatalf("language fallback=%v", v)
	}
	noEnglish := []Voice{{Name: "Thomas", Lang: "fr-FR"}}
	v, _ = SelectVoice(noEnglish, f, "")
	if v.Name != "Thomas" {
		t.Fatalf("first voice fallback=%v", v)
	}
	if _, ok := SelectVoice(nil, f, ""); ok {
		t.Fatalf("no voices should report !ok")
	}
}

func TestSpeakArgs(t *testing.T) {
	e := &ExecEngine{Kind: "espeak", Binary: "espeak-ng"}
	got := strings.Join(e.SpeakArgs("hi there", Voice{Name: "en-us"}, 0.8, 1.0), " ")
	if got != "-s 140 -p 50 -v en-us -- hi there" {
		t.Fatalf("espeak args=%q", got)
	}
	s := &ExecEngine{Kind: "say", Binary: "say"}
	got = strings.Join(s.SpeakArgs("hi", Voice{Name: "Bad News"}, 0.8, 1.0), " ")
	if got != "-r 140 -v Bad News -- hi" {
		t.Fatalf("say args=%q", got)
	}
}

func TestExecEngineWrapsFailures(t *testing.T) {
	e := &ExecEngine{Kind: "espeak", Binary: "espeak-ng", Run: func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}}
	if err := e.Speak(context.Background(), "x", Voice{}, 1, 1); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("err=%v", err)
	}
	if _, err := e.Voices(context.Background()); !errors.Is(err, ErrSynthesis) {
		t.Fatalf("voices err=%v", err)
	}
}

// blockingEngine speaks until cancelled or released.
type blockingEngine struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	release chan struct{}
}

func (b *blockingEngine) Name() string                                { return "fake" }
func (b *blockingEngine) Voices(ctx context.Context) ([]Voice, error) { return nil, nil }
func (b *blockingEngine) Speak(ctx context.Context, text string, v Voice, rate, pitch float64) error {
	b.mu.Lock()
	b.active++
	if b.active > b.maxSeen {
		b.maxSeen = b.active
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.release:
		return nil
	}
}

func TestSpeakerPreemptsPreviousUtterance(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{})}
	sp := NewSpeaker(eng)

	first := make(chan error, 1)
	go func() { first <- sp.Speak(context.Background(), "one", Voice{}, 1, 1) }()
	waitFor(t, sp.Speaking)

	second := make(chan error, 1)
	go func() { second <- sp.Speak(context.Background(), "two", Voice{}, 1, 1) }()

	select {
	case err := <-first:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("first err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first utterance not preempted")
	}
	close(eng.release)
	if err := <-second; err != nil {
		t.Fatalf("second err=%v", err)
	}
	if eng.maxSeen != 1 {
		t.Fatalf("overlapping utterances: %d", eng.maxSeen)
	}
	if sp.Speaking() {
		t.Fatalf("speaker should be idle")
	}
}

func TestSpeakerCancel(t *testing.T) {
	eng := &blockingEngine{release: make(chan struct{})}
	sp := NewSpeaker(eng)
	done := make(chan error, 1)
	go func() { done <- sp.Speak(context.Background(), "one", Voice{}, 1, 1) }()
	waitFor(t, sp.Speaking)
	sp.Cancel()
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err=%v", err)
	}
	sp.Cancel()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
