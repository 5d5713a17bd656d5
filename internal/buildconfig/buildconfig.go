// Package buildconfig decodes build configuration strings of the form
// "<commit>-<mnemonic>-<mnemonic>..." into GN build arguments.
package buildconfig

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidID is returned when the leading field is not a hex commit id.
	ErrInvalidID = errors.New("build config: invalid commit id")
	// ErrUnknownMnemonic is returned for a mnemonic outside the fixed set.
	ErrUnknownMnemonic = errors.New("build config: unknown mnemonic")
	// ErrConflict is returned when two mnemonics set the same argument.
	ErrConflict = errors.New("build config: conflicting mnemonics")
)

var idRE = regexp.MustCompile(`^[0-9a-f]+$`)

// Arg is a single GN build argument.
type Arg struct {
	Name  string
	Value string
}

// mnemonics maps each recognized mnemonic to the argument it sets
var mnemonics = map[string]Arg{
	"angle":       {Name: "enable_angle", Value: "true"},
	"noangle":     {Name: "enable_angle", Value: "false"},
	"x86":         {Name: "target_cpu", Value: `"x86"`},
	"x64":         {Name: "target_cpu", Value: `"x64"`},
	"component":   {Name: "is_component_build", Value: "true"},
	"nocomponent": {Name: "is_component_build", Value: "false"},
	"debug":       {Name: "is_debug", Value: "true"},
	"release":     {Name: "is_debug", Value: "false"},
}

// Config is a decoded build configuration.
type Config struct {
	// ID is the merge commit the configuration was generated for, full or
	// abbreviated.
	ID string
	// Args are in mnemonic order.
	Args []Arg
}

// Parse decodes s.
func Parse(s string) (*Config, error) {
	fields := strings.Split(s, "-")
	if !idRE.MatchString(fields[0]) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, fields[0])
	}

	cfg := &Config{ID: fields[0]}
	seen := make(map[string]string)
	for _, m := range fields[1:] {
		arg, ok := mnemonics[m]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMnemonic, m)
		}
		if prev, dup := seen[arg.Name]; dup {
			return nil, fmt.Errorf("%w: %s and %s both set %s", ErrConflict, prev, m, arg.Name)
		}
		seen[arg.Name] = m
		cfg.Args = append(cfg.Args, arg)
	}
	return cfg, nil
}

// Head is the revision of the pull request head: the second parent of the
// merge commit.
func (c *Config) Head() string {
	return c.ID + "^2"
}

// Render formats the arguments as GN assignments separated by eol.
func (c *Config) Render(eol string) string {
	lines := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		lines = append(lines, a.Name+" = "+a.Value)
	}
	return strings.Join(lines, eol)
}
