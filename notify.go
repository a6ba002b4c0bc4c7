package backdrop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Notifier tells the host environment which file to show as the desktop
// backdrop.
type Notifier interface {
	SetBackdrop(ctx context.Context, path string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, path string) error

// SetBackdrop calls f.
func (f NotifierFunc) SetBackdrop(ctx context.Context, path string) error { return f(ctx, path) }

// PathPlaceholder is replaced by the absolute backdrop path in every
// CommandNotifier argument.
const PathPlaceholder = "{path}"

// CommandNotifier runs an external command, e.g.
//
//	gsettings set org.gnome.desktop.background picture-uri file://{path}
type CommandNotifier struct {
	Args []string
}

// ParseCommandNotifier splits a command line on whitespace. Arguments with
// embedded spaces are not supported.
func ParseCommandNotifier(cmdline string) (*CommandNotifier, error) {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return nil, errors.New("empty notify command")
	}
	return &CommandNotifier{Args: args}, nil
}

// SetBackdrop runs the command with PathPlaceholder substituted.
func (n *CommandNotifier) SetBackdrop(ctx context.Context, path string) error {
	if len(n.Args) == 0 {
		return errors.New("empty notify command")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, abs)
	}
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput() //nolint:gosec // G204: command is operator-configured
	if err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
