//go:build windows

package editor

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
)

const defaultEditor = `%SystemRoot%\system32\NOTEPAD.EXE`

// editorCommand hands the command line to cmd.exe verbatim; Go's own argument
// quoting would hide COPY and environment references from it.
func editorCommand(ctx context.Context, editor string, args []string, getenv func(string) string) *exec.Cmd {
	comspec := getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	line := make([]string, 0, len(args)+1)
	line = append(line, editor)
	for _, a := range args {
		line = append(line, escapeArg(a))
	}
	cmd := exec.CommandContext(ctx, comspec)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine: escapeArg(comspec) + ` /D /S /C "` + strings.Join(line, " ") + `"`,
	}
	return cmd
}
