package recordings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/recorder"
)

// Sidecar keys.
const (
	KeyCorrelationID = "correlation_id"
	KeyAudioPath     = "audio_path"
	KeyContentType   = "content_type"
	KeyBytes         = "bytes"
	KeyDurationMs    = "duration_ms"
	KeyStopReason    = "stop_reason"
	KeyCreatedAt     = "created_at"
	KeyTranscript    = "transcript"
	KeyAnswer        = "answer"
	KeyError         = "error"
)

// Store keeps recordings in Dir, each audio file paired with a JSON sidecar
// keyed by correlation id. A nil Store is a no-op.
type Store struct {
	Dir string
	mu  sync.Mutex
}

// NewStore returns nil when dir is empty, disabling persistence.
func NewStore(dir string) *Store {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Store{Dir: dir}
}

// Save writes rec and its sidecar and returns the audio path.
func (s *Store) Save(cid string, rec *recorder.Recording) (string, error) {
	if s == nil {
		return "", nil
	}
	if rec == nil || len(rec.Data) == 0 {
		return "", fmt.Errorf("recording for cid=%s is empty", cid)
	}
	created := rec.StartedAt
	if created.IsZero() {
		created = time.Now()
	}
	base := fmt.Sprintf("%s-cid%s", created.UTC().Format("20060102T150405.000Z"), cid)
	audioPath := filepath.Join(s.Dir, base+audio.Extension(rec.ContentType))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SaveFileAtomic(audioPath, rec.Data, 0o644); err != nil {
		logging.Warnw("recordings: failed to save audio", "path", audioPath, "err", err, "correlation_id", cid)
		return "", err
	}
	sc := map[string]interface{}{
		KeyCorrelationID: cid,
		KeyAudioPath:     audioPath,
		KeyContentType:   rec.ContentType,
		KeyBytes:         len(rec.Data),
		KeyDurationMs:    rec.Duration.Milliseconds(),
		KeyStopReason:    string(rec.Reason),
		KeyCreatedAt:     created.UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", err
	}
	if err := SaveFileAtomic(filepath.Join(s.Dir, base+".json"), b, 0o644); err != nil {
		logging.Warnw("recordings: failed to save sidecar", "err", err, "correlation_id", cid)
		return "", err
	}
	logging.Infow("recordings: saved", "path", audioPath, "correlation_id", cid, "bytes", len(rec.Data))
	return audioPath, nil
}

// FindByCID returns the sidecar path for cid or "" when none exists.
func (s *Store) FindByCID(cid string) string {
	if s == nil || cid == "" {
		return ""
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("recordings: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if strings.HasSuffix(name, ".json") && strings.Contains(name, "cid"+cid) {
			return filepath.Join(s.Dir, name)
		}
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.Dir, name)
		sc, err := readSidecar(path)
		if err != nil {
			logging.Debugw("recordings: failed to read sidecar while searching by cid", "path", path, "err", err, "correlation_id", cid)
			continue
		}
		if v, ok := sc[KeyCorrelationID].(string); ok && v == cid {
			return path
		}
	}
	return ""
}

// MergeUpdatesForCID merges updates into the sidecar for cid and writes it
// back atomically.
func (s *Store) MergeUpdatesForCID(cid string, updates map[string]interface{}) error {
	if s == nil {
		return fmt.Errorf("recordings store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.FindByCID(cid)
	if path == "" {
		return fmt.Errorf("sidecar not found for cid=%s (searched dir=%s)", cid, s.Dir)
	}
	sc, err := readSidecar(path)
	if err != nil {
		logging.Warnw("recordings: failed to read sidecar", "path", path, "err", err, "correlation_id", cid)
		return err
	}
	for k, v := range updates {
		sc[k] = v
	}
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal updated sidecar JSON for %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, nb, 0o644); err != nil {
		logging.Warnw("recordings: failed to write sidecar", "path", path, "err", err, "correlation_id", cid)
		return err
	}
	logging.Debugw("recordings: sidecar updated", "path", path, "correlation_id", cid)
	return nil
}

// Entry is one saved recording as described by its sidecar.
type Entry struct {
	CorrelationID string
	AudioPath     string
	Transcript    string
	Answer        string
	CreatedAt     time.Time
}

// List returns saved recordings oldest first.
func (s *Store) List() ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, fi := range files {
		if !strings.HasSuffix(fi.Name(), ".json") {
			continue
		}
		sc, err := readSidecar(filepath.Join(s.Dir, fi.Name()))
		if err != nil {
			continue
		}
		e := Entry{}
		e.CorrelationID, _ = sc[KeyCorrelationID].(string)
		e.AudioPath, _ = sc[KeyAudioPath].(string)
		e.Transcript, _ = sc[KeyTranscript].(string)
		e.Answer, _ = sc[KeyAnswer].(string)
		if v, ok := sc[KeyCreatedAt].(string); ok {
			e.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func readSidecar(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	return sc, nil
}
