package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/mcp"
	"github.com/vocalize-voice-lab/internal/pipeline"
	"github.com/vocalize-voice-lab/internal/recorder"
	"github.com/vocalize-voice-lab/internal/speech"
)

const helpText = `Press Enter to start or stop recording. Commands:
  /replay N   play answer N again (again to stop)
  /stop       stop speaking
  /history    list answers
  /voices     list voices
  /voice NAME select a voice
  /play N     play the recorded question N
  /ask TEXT   ask a typed question
  /dismiss    dismiss the current message
  /quit       exit`

type app struct {
	cfg     *config.Config
	out     io.Writer
	rec     *recorder.Recorder
	recOpts recorder.Options
	orch    *pipeline.Orchestrator
	engine  speech.Engine
	player  *audio.Player
	mcp     *mcp.ClientWrapper

	mu        sync.Mutex
	voices    []speech.Voice
	voice     speech.Voice
	mcpReady  bool
	outMu     sync.Mutex
	lastState pipeline.State
}

type command struct {
	name string
	arg  string
}

// parseCommand splits a REPL line. An empty line is the record toggle.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{name: "toggle"}
	}
	if !strings.HasPrefix(line, "/") {
		return command{name: "unknown", arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// parseIndex converts a 1-based entry number to an index.
func parseIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("no answer %q (have %d)", arg, n)
	}
	return i - 1, nil
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one REPL line and reports whether the client should exit.
func (a *app) handle(ctx context.Context, line string) bool {
	cmd := parseCommand(line)
	switch cmd.name {
	case "toggle":
		a.toggleRecording(ctx)
	case "replay":
		idx, err := parseIndex(cmd.arg, a.orch.History().Len())
		if err != nil {
			a.printf("%v\n", err)
			return false
		}
		go func() {
			if err := a.orch.Replay(ctx, idx); err != nil {
				a.printf("replay failed: %v\n", err)
			}
		}()
	case "stop":
		a.stopSpeaking()
	case "history":
		a.printf("%s", formatHistory(a.orch.History().Snapshot()))
	case "voices":
		a.printVoices()
	case "voice":
		a.selectVoice(cmd.arg)
	case "play":
		a.playQuestion(ctx, cmd.arg)
	case "ask":
		go a.ask(ctx, cmd.arg)
	case "dismiss":
		a.orch.Acknowledge()
	case "quit", "exit":
		return true
	case "help":
		a.printf("%s\n", helpText)
	default:
		a.printf("unknown command %q, /help lists commands\n", line)
	}
	return false
}

func (a *app) toggleRecording(ctx context.Context) {
	if a.rec.State() == recorder.StateRecording {
		if _, err := a.rec.Stop(); err != nil {
			a.printf("recording failed: %v\n", err)
		}
		return
	}
	if err := a.orch.BeginRecording(); err != nil {
		a.printf("busy: %s\n", a.orch.Status().State)
		return
	}
	if err := a.rec.Start(ctx, a.recOpts); err != nil {
		a.orch.RecordingFailed(err)
	}
}

func (a *app) stopSpeaking() {
	idx := a.orch.History().PlayingIndex()
	a.orch.StopSpeaking()
	if idx < 0 {
		a.printf("nothing is playing\n")
		return
	}
	a.printf("stopped answer %d\n", idx+1)
}

func (a *app) runPipeline(ctx context.Context, r *recorder.Recording) {
	if err := a.orch.Run(ctx, r); err != nil {
		logging.Debugw("voiceclient: pipeline run ended with error", "err", err)
	}
}

func (a *app) printStatus(st pipeline.Status) {
	a.mu.Lock()
	changed := st.State != a.lastState
	a.lastState = st.State
	a.mu.Unlock()
	if st.Message != "" {
		a.printf("! %s (/dismiss)\n", st.Message)
	}
	if !changed {
		return
	}
	switch st.State {
	case pipeline.Recording:
		a.printf("[recording] press Enter to stop\n")
	case pipeline.Transcribing:
		a.printf("[transcribing]\n")
	case pipeline.Answering:
		a.printf("[thinking]\n")
	case pipeline.Speaking:
		if e, ok := a.orch.History().Get(a.orch.History().Len() - 1); ok {
			a.printf("Q: %s\nA: %s\n", e.Transcription, e.Answer)
		}
	}
}

func formatHistory(entries []pipeline.ResultEntry) string {
	if len(entries) == 0 {
		return "no answers yet\n"
	}
	var b strings.Builder
	for i, e := range entries {
		mark := " "
		if e.IsPlaying {
			mark = ">"
		}
		fmt.Fprintf(&b, "%s %d. Q: %s\n     A: %s\n", mark, i+1, e.Transcription, e.Answer)
	}
	return b.String()
}

func (a *app) loadVoices(ctx context.Context) {
	voices, err := a.engine.Voices(ctx)
	if err != nil {
		logging.Warnw("voiceclient: failed to list voices", "engine", a.engine.Name(), "err", err)
		return
	}
	v, ok := speech.SelectVoice(voices, a.cfg.Speech.VoiceFilter, a.cfg.Speech.Voice)
	a.mu.Lock()
	a.voices = voices
	if ok {
		a.voice = v
	}
	a.mu.Unlock()
	logging.Infow("voiceclient: voices loaded", "count", len(voices), "selected", v.Name)
}

func (a *app) currentVoice() speech.Voice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.voice
}

func (a *app) printVoices() {
	a.mu.Lock()
	filtered := speech.FilterVoices(a.voices, a.cfg.Speech.VoiceFilter)
	current := a.voice
	a.mu.Unlock()
	if len(filtered) == 0 {
		a.printf("no voices available\n")
		return
	}
	for _, v := range filtered {
		mark := " "
		if v.Name == current.Name {
			mark = "*"
		}
		a.printf("%s %s\n", mark, v)
	}
}

func (a *app) selectVoice(name string) {
	if name == "" {
		a.printf("usage: /voice NAME\n")
		return
	}
	a.mu.Lock()
	voices := a.voices
	a.mu.Unlock()
	for _, v := range voices {
		if strings.EqualFold(v.Name, name) {
			a.mu.Lock()
			a.voice = v
			a.mu.Unlock()
			a.printf("voice: %s\n", v)
			return
		}
	}
	a.printf("voice %q not installed\n", name)
}

func (a *app) playQuestion(ctx context.Context, arg string) {
	idx, err := parseIndex(arg, a.orch.History().Len())
	if err != nil {
		a.printf("%v\n", err)
		return
	}
	e, _ := a.orch.History().Get(idx)
	if e.AudioRef == "" {
		a.printf("no audio kept for answer %d\n", idx+1)
		return
	}
	go func() {
		if err := a.player.Play(ctx, e.AudioRef); err != nil {
			a.printf("playback failed: %v\n", err)
		}
	}()
}

// ask sends a typed question through the relay's MCP ask tool and replays
// the answer like any other entry.
func (a *app) ask(ctx context.Context, text string) {
	if text == "" {
		a.printf("usage: /ask TEXT\n")
		return
	}
	if err := a.connectMCP(ctx); err != nil {
		a.printf("relay MCP unavailable: %v\n", err)
		return
	}
	answer, err := a.mcp.CallText(ctx, mcp.AskTool, map[string]any{"prompt": text})
	if err != nil {
		a.printf("%s\n", pipeline.MsgAnswer)
		logging.Warnw("voiceclient: ask tool failed", "err", err)
		return
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = pipeline.MsgNoResponse
	}
	idx := a.orch.History().Append(pipeline.ResultEntry{Transcription: text, Answer: answer, CreatedAt: time.Now()})
	a.printf("Q: %s\nA: %s\n", text, answer)
	if err := a.orch.Replay(ctx, idx); err != nil {
		logging.Debugw("voiceclient: speaking typed answer failed", "err", err)
	}
}

func (a *app) connectMCP(ctx context.Context) error {
	a.mu.Lock()
	ready := a.mcpReady
	a.mu.Unlock()
	if ready {
		return nil
	}
	u, err := mcp.WebSocketURL(a.cfg.Client.RelayURL, a.cfg.Client.MCPPath)
	if err != nil {
		return err
	}
	if err := a.mcp.ConnectWebSocket(ctx, u); err != nil {
		return err
	}
	a.mu.Lock()
	a.mcpReady = true
	a.mu.Unlock()
	return nil
}

func (a *app) shutdown() {
	if a.rec != nil {
		_, _ = a.rec.Stop()
	}
	if a.orch != nil {
		a.orch.StopSpeaking()
	}
	if a.mcp != nil {
		_ = a.mcp.Close()
	}
}
