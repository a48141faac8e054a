package recordings

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vocalize-voice-lab/internal/logging"
)

// Cleaner removes recordings older than Retention and keeps at most
// MaxFiles pairs. Zero values disable the respective rule.
type Cleaner struct {
	Dir       string
	Retention time.Duration
	Interval  time.Duration
	MaxFiles  int
}

// Run sweeps every Interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	interval := c.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Sweep(time.Now()); err != nil {
				logging.Debugw("recordings: cleanup readDir failed", "err", err)
			}
		}
	}
}

type pairInfo struct {
	jsonPath  string
	audioPath string
	mod       time.Time
}

// Sweep applies the retention rules once and returns the number of
// removed recordings.
func (c *Cleaner) Sweep(now time.Time) (int, error) {
	files, err := os.ReadDir(c.Dir)
	if err != nil {
		return 0, err
	}
	var pairs []pairInfo
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(c.Dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		audioPath := ""
		if sc, err := readSidecar(jsonPath); err == nil {
			audioPath, _ = sc[KeyAudioPath].(string)
		}
		pairs = append(pairs, pairInfo{jsonPath: jsonPath, audioPath: audioPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	remove := func(p pairInfo) {
		_ = os.Remove(p.jsonPath)
		if p.audioPath != "" {
			_ = os.Remove(p.audioPath)
		}
		removed++
	}
	kept := pairs[:0]
	if c.Retention > 0 {
		cutoff := now.Add(-c.Retention)
		for _, p := range pairs {
			if p.mod.Before(cutoff) {
				remove(p)
				continue
			}
			kept = append(kept, p)
		}
	} else {
		kept = pairs
	}
	if c.MaxFiles > 0 && len(kept) > c.MaxFiles {
		for _, p := range kept[:len(kept)-c.MaxFiles] {
			remove(p)
		}
	}
	if removed > 0 {
		logging.Infow("recordings: cleanup removed recordings", "dir", c.Dir, "removed", removed)
	}
	return removed, nil
}
