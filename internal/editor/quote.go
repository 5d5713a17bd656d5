package editor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// ErrUnquotable marks a path that cannot be passed through cmd.exe intact.
var ErrUnquotable = errors.New("editor: path cannot be quoted for cmd.exe")

// posixCopyCommand is the editor command line for tools that run their
// editor as `sh -c '<editor> "$@"'`.
func posixCopyCommand(staging string) string {
	return shellescape.QuoteCommand([]string{"cp", staging})
}

// msysCopyCommand builds the editor command line for Git for Windows. The
// copy runs in a nested sh so that the drive letter can be translated with
// cygpath; every path segment is quoted for that inner shell, and the inner
// script is quoted again for the outer one.
func msysCopyCommand(staging string) (string, error) {
	drive, segs, err := splitWindowsPath(staging)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(segs))
	for i, s := range segs {
		quoted[i] = shellescape.Quote(s)
	}
	script := fmt.Sprintf(`cp "$(cygpath %s)"/%s "$@"`, shellescape.Quote(drive), strings.Join(quoted, "/"))
	return shellescape.QuoteCommand([]string{"sh", "-c", script, "sh"}), nil
}

// cmdCopyCommand is the editor command line run by cmd.exe. cmd.exe expands
// % inside quotes and has no escape for ", so paths holding either are refused.
// COPY reads "/" as a switch, so separators are normalized first.
func cmdCopyCommand(staging string) (string, error) {
	staging = strings.ReplaceAll(staging, "/", `\`)
	if strings.ContainsAny(staging, `%"`) {
		return "", fmt.Errorf("%w: %q", ErrUnquotable, staging)
	}
	return "COPY /Y " + escapeArg(staging), nil
}

var wordRE = regexp.MustCompile(`^\w+$`)

// escapeArg quotes s so that CommandLineToArgvW parses it back as a single
// argument.
func escapeArg(s string) string {
	if wordRE.MatchString(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			slashes++
		case '"':
			b.WriteString(strings.Repeat(`\`, slashes+1))
			slashes = 0
		default:
			slashes = 0
		}
		b.WriteByte(c)
	}
	// Backslashes before the closing quote are doubled.
	b.WriteString(strings.Repeat(`\`, slashes))
	b.WriteByte('"')
	return b.String()
}

// splitWindowsPath splits an absolute drive path into "X:" and its segments.
// It works on any host so that Windows command lines can be built and tested
// everywhere.
func splitWindowsPath(p string) (string, []string, error) {
	p = strings.ReplaceAll(p, "/", `\`)
	if len(p) < 2 || p[1] != ':' || !isLetter(p[0]) {
		return "", nil, fmt.Errorf("editor: %q is not an absolute drive path", p)
	}
	var segs []string
	for _, s := range strings.Split(p[2:], `\`) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return "", nil, fmt.Errorf("editor: %q names a drive root", p)
	}
	return p[:2], segs, nil
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
