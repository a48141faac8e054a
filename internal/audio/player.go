package audio

import (
	"context"
	"errors"
	"os/exec"
)

// ErrPlayerUnavailable is returned when ffplay is not installed.
var ErrPlayerUnavailable = errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")

// Player previews saved recordings through ffplay.
type Player struct {
	Path string
	Run  Runner
}

// NewPlayer returns a player using ffplay from PATH.
func NewPlayer() *Player {
	return &Player{Path: "ffplay", Run: ExecRunner}
}

// PlayArgs returns the ffplay arguments for a file.
func PlayArgs(file string) []string {
	return []string{"-nodisp", "-autoexit", "-loglevel", "error", file}
}

// Play blocks until file finished playing or ctx is cancelled.
func (p *Player) Play(ctx context.Context, file string) error {
	path, run := p.Path, p.Run
	if path == "" {
		path = "ffplay"
	}
	if run == nil {
		run = ExecRunner
	}
	_, err := run(ctx, path, PlayArgs(file), nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, exec.ErrNotFound):
		return ErrPlayerUnavailable
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}
