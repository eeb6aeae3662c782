// Package ffprobe wraps the ffprobe command line tool for audio stream
// inspection. Probe results feed the audio repair pass, which re-downloads
// media files that came down without an audio track.
package ffprobe

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// AudioPresence is the tri-state outcome of an audio stream probe. A probe
// that fails or produces unreadable output reports Unknown rather than
// Absent: only a clean probe with no audio streams justifies re-downloading.
type AudioPresence int

const (
	AudioUnknown AudioPresence = iota
	AudioPresent
	AudioAbsent
)

func (p AudioPresence) String() string {
	switch p {
	case AudioPresent:
		return "present"
	case AudioAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Client defines ffprobe behaviour.
type Client interface {
	AudioPresence(ctx context.Context, path string) (AudioPresence, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the ffprobe command-line tool.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// AudioPresence probes the file for audio streams. A cancelled or timed-out
// context is the only error path; a failing probe is evidence-neutral and
// comes back as AudioUnknown with a nil error.
func (c *CLI) AudioPresence(ctx context.Context, path string) (AudioPresence, error) {
	if path == "" {
		return AudioUnknown, errors.New("media path required")
	}

	args := []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return AudioUnknown, ctxErr
	}
	if err != nil {
		return AudioUnknown, nil
	}

	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			return AudioPresent, nil
		}
	}
	return AudioAbsent, nil
}

var _ Client = (*CLI)(nil)
