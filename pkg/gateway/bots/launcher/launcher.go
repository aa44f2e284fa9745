package launcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

const (
	PlaceholderRoomURL = "{room_url}"
	PlaceholderToken   = "{token}"
)

// Command is an argv template. Placeholders are substituted inside single
// argv elements; nothing is ever handed to a shell.
type Command struct {
	Path string
	Args []string
}

// ParseCommand splits a whitespace-separated template into an argv.
func ParseCommand(template string) (Command, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return Command{}, errors.New("empty worker command")
	}
	joined := strings.Join(fields, " ")
	if !strings.Contains(joined, PlaceholderRoomURL) {
		return Command{}, fmt.Errorf("worker command must reference %s", PlaceholderRoomURL)
	}
	if !strings.Contains(joined, PlaceholderToken) {
		return Command{}, fmt.Errorf("worker command must reference %s", PlaceholderToken)
	}
	return Command{Path: fields[0], Args: fields[1:]}, nil
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Expand returns the argv (excluding the executable) for one worker.
func (c Command) Expand(roomURL, token string) []string {
	r := strings.NewReplacer(PlaceholderRoomURL, roomURL, PlaceholderToken, token)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

type Config struct {
	Variant string
	Command Command
	Dir     string
	// Env is appended to the orchestrator's own environment.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

type Launcher struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Launcher, error) {
	if strings.TrimSpace(cfg.Variant) == "" {
		return nil, errors.New("launcher: variant is required")
	}
	if strings.TrimSpace(cfg.Command.Path) == "" {
		return nil, errors.New("launcher: command path is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{cfg: cfg, logger: logger}, nil
}

func (l *Launcher) Variant() string {
	return l.cfg.Variant
}

// Launch starts one worker bound to roomURL. The returned handle owns the
// process; the caller is expected to insert it into the registry.
func (l *Launcher) Launch(roomURL, token string) (*registry.Handle, error) {
	cmd := exec.Command(l.cfg.Command.Path, l.cfg.Command.Expand(roomURL, token)...)
	cmd.Dir = l.cfg.Dir
	if len(l.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), l.cfg.Env...)
	}
	cmd.Stdout = l.cfg.Stdout
	cmd.Stderr = l.cfg.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.cfg.Command.Path, err)
	}

	h, err := registry.Track(cmd, roomURL, l.cfg.Variant, groupSignaler(cmd))
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	l.logger.Info("worker spawned",
		"worker_id", h.ID,
		"room_url", roomURL,
		"variant", l.cfg.Variant,
	)
	return h, nil
}
