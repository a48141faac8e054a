package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/vocalize-voice-lab/internal/logging"
)

// Content types a recording may be encoded as.
const (
	WebMOpus = "audio/webm;codecs=opus"
	OggOpus  = "audio/ogg;codecs=opus"
	MP4      = "audio/mp4"
	WAV      = "audio/wav"
)

// Encoder bitrates in bits per second.
const (
	OpusBitrate = 32000
	AACBitrate  = 64000
)

// ReferenceByteRate is the byte rate size thresholds are calibrated for:
// 128 kb/s, what browser recorders produce for webm/opus by default.
const ReferenceByteRate = 16000

// ByteRate returns the approximate bytes per second a capture encoded as
// contentType occupies. Unknown types are treated as raw 16-bit PCM.
func ByteRate(contentType string, sampleRate int) int {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base = contentType
	}
	switch base {
	case "audio/webm", "audio/ogg":
		return OpusBitrate / 8
	case "audio/mp4":
		return AACBitrate / 8
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return sampleRate * BytesPerSample
}

// ErrUnsupportedContentType is returned by Encode for types the encoder
// cannot produce.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// PreferredContentTypes returns the negotiation order for goos. Darwin
// prefers mp4; everything else prefers webm/opus. WAV is always last.
func PreferredContentTypes(goos string) []string {
	if goos == "darwin" {
		return []string{MP4, WebMOpus, OggOpus, WAV}
	}
	return []string{WebMOpus, OggOpus, MP4, WAV}
}

// Negotiate returns the first candidate accepted by supported, or WAV.
func Negotiate(candidates []string, supported func(string) bool) string {
	for _, ct := range candidates {
		if ct == WAV || supported(ct) {
			return ct
		}
	}
	return WAV
}

// Extension returns a filename extension for an audio content type.
func Extension(contentType string) string {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base = contentType
	}
	switch base {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}

// Runner executes name with args, feeding stdin, and returns stdout.
type Runner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// ExecRunner runs the command with os/exec. Stderr is folded into the error.
func ExecRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Encoder turns captured s16le mono PCM into a container format. WAV is
// built in-process; the compressed formats go through ffmpeg.
type Encoder struct {
	FFmpegPath string
	Run        Runner

	once      sync.Once
	encoders  string
	detectErr error
}

// NewEncoder returns an encoder using the ffmpeg binary at path ("ffmpeg"
// when empty).
func NewEncoder(path string) *Encoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Encoder{FFmpegPath: path, Run: ExecRunner}
}

func (e *Encoder) detect(ctx context.Context) {
	e.once.Do(func() {
		out, err := e.Run(ctx, e.FFmpegPath, []string{"-hide_banner", "-encoders"}, nil)
		if err != nil {
			e.detectErr = err
			logging.Warnw("audio: ffmpeg encoder check failed, recordings fall back to wav", "err", err)
			return
		}
		e.encoders = string(out)
	})
}

// Supports reports whether contentType can be produced.
func (e *Encoder) Supports(ctx context.Context, contentType string) bool {
	if contentType == WAV {
		return true
	}
	e.detect(ctx)
	if e.detectErr != nil {
		return false
	}
	switch contentType {
	case WebMOpus, OggOpus:
		return strings.Contains(e.encoders, "libopus")
	case MP4:
		return strings.Contains(e.encoders, " aac ")
	}
	return false
}

// Negotiate picks the first of preferred this encoder supports.
func (e *Encoder) Negotiate(ctx context.Context, preferred []string) string {
	return Negotiate(preferred, func(ct string) bool { return e.Supports(ctx, ct) })
}

// EncodeArgs returns the ffmpeg arguments that read raw PCM on stdin and
// write contentType on stdout.
func EncodeArgs(sampleRate int, contentType string) ([]string, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(sampleRate), "-ac", "1", "-i", "pipe:0",
	}
	switch contentType {
	case WebMOpus:
		args = append(args, "-c:a", "libopus", "-b:a", strconv.Itoa(OpusBitrate), "-f", "webm")
	case OggOpus:
		args = append(args, "-c:a", "libopus", "-b:a", strconv.Itoa(OpusBitrate), "-f", "ogg")
	case MP4:
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(AACBitrate), "-movflags", "frag_keyframe+empty_moov", "-f", "mp4")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	return append(args, "pipe:1"), nil
}

// Encode converts pcm to contentType.
func (e *Encoder) Encode(ctx context.Context, pcm []byte, sampleRate int, contentType string) ([]byte, error) {
	if contentType == WAV {
		return BuildWAV(pcm, sampleRate, 1, 16), nil
	}
	args, err := EncodeArgs(sampleRate, contentType)
	if err != nil {
		return nil, err
	}
	out, err := e.Run(ctx, e.FFmpegPath, args, pcm)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", contentType, err)
	}
	return out, nil
}
