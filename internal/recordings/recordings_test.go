package recordings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vocalize-voice-lab/internal/recorder"
)

func testRecording(at time.Time) *recorder.Recording {
	return &recorder.Recording{
		Data:        []byte("RIFF....WAVEfake"),
		ContentType: "audio/wav",
		Duration:    1500 * time.Millisecond,
		StartedAt:   at,
		Reason:      recorder.StopSilence,
	}
}

func TestSaveAndMergeSidecar(t *testing.T) {
	s := NewStore(t.TempDir())
	path, err := s.Save("abc123", testRecording(time.Now()))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(path, "-cidabc123.wav") {
		t.Fatalf("audio path=%s", path)
	}
	if b, err := os.ReadFile(path); err != nil || string(b) != "RIFF....WAVEfake" {
		t.Fatalf("audio not written: %v", err)
	}

	if err := s.MergeUpdatesForCID("abc123", map[string]interface{}{KeyTranscript: "hello", KeyAnswer: "hi there"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	entries, err := s.List()
	if err != nil || len(entries) != 1 {
		t.Fatalf("list: %v %v", entries, err)
	}
	e := entries[0]
	if e.CorrelationID != "abc123" || e.Transcript != "hello" || e.Answer != "hi there" || e.AudioPath != path {
		t.Fatalf("entry=%+v", e)
	}

	if err := s.MergeUpdatesForCID("missing", map[string]interface{}{"x": 1}); err == nil {
		t.Fatalf("expected error for unknown cid")
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	s := NewStore("  ")
	if s != nil {
		t.Fatalf("empty dir should disable the store")
	}
	if p, err := s.Save("x", testRecording(time.Now())); p != "" || err != nil {
		t.Fatalf("nil save: %q %v", p, err)
	}
	if s.FindByCID("x") != "" {
		t.Fatalf("nil find")
	}
}

func TestSaveFileAtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "a.json")
	if err := SaveFileAtomic(path, []byte("{}"), 0o600); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 || entries[0].Name() != "a.json" {
		t.Fatalf("unexpected entries %v", entries)
	}
}

func TestCleanerRetentionAndMaxFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	now := time.Now()
	var jsons []string
	for i, cid := range []string{"old", "mid", "new1", "new2"} {
		if _, err := s.Save(cid, testRecording(now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("save %s: %v", cid, err)
		}
		p := s.FindByCID(cid)
		jsons = append(jsons, p)
	}
	// Age the first sidecar past retention and order the rest.
	os.Chtimes(jsons[0], now.Add(-48*time.Hour), now.Add(-48*time.Hour))
	for i := 1; i < len(jsons); i++ {
		ts := now.Add(time.Duration(i-10) * time.Minute)
		os.Chtimes(jsons[i], ts, ts)
	}

	c := &Cleaner{Dir: dir, Retention: 24 * time.Hour, MaxFiles: 2}
	removed, err := c.Sweep(now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed=%d", removed)
	}
	for _, cid := range []string{"old", "mid"} {
		if s.FindByCID(cid) != "" {
			t.Fatalf("%s should be gone", cid)
		}
	}
	entries, _ := s.List()
	if len(entries) != 2 {
		t.Fatalf("left=%d", len(entries))
	}
	files, _ := os.ReadDir(dir)
	if len(files) != 4 {
		t.Fatalf("audio files not removed with sidecars: %d files", len(files))
	}
}

func TestCleanerRunStops(t *testing.T) {
	c := &Cleaner{Dir: t.TempDir(), Interval: 5 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cleaner did not stop")
	}
}
