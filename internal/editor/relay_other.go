//go:build !windows

package editor

import (
	"context"
	"os/exec"
)

const defaultEditor = "vi"

// editorCommand runs editor the way git does: the command line is
// interpreted by sh and the files are passed as positional parameters.
func editorCommand(ctx context.Context, editor string, args []string, _ func(string) string) *exec.Cmd {
	return exec.CommandContext(ctx, "sh", append([]string{"-c", editor + ` "$@"`, "sh"}, args...)...)
}
