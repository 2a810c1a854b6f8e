package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Path placeholders recognized in path-valued controls besides environment variables.
const (
	PropertyChainDir  = "chain.dir"
	PropertyChainFile = "chain.file"
	PropertyChainName = "chain.name"
	PropertyUserHome  = "user.home"
	PropertyTmpDir    = "tmp.dir"
	PropertyWorkDir   = "work.dir"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Environment describes the chain that owns a settings executor. Both fields
// may be empty when the settings are used outside a chain.
type Environment struct {
	ChainFile string
	ChainName string
}

// ChainDir returns the directory of the owning chain file.
func (e Environment) ChainDir() string {
	if e.ChainFile == "" {
		return ""
	}
	return filepath.Dir(e.ChainFile)
}

func (e Environment) property(name string) (string, bool) {
	switch name {
	case PropertyChainDir:
		return e.ChainDir(), e.ChainFile != ""
	case PropertyChainFile:
		return e.ChainFile, e.ChainFile != ""
	case PropertyChainName:
		return e.ChainName, e.ChainName != ""
	case PropertyUserHome:
		home, err := os.UserHomeDir()
		return home, err == nil
	case PropertyTmpDir:
		return os.TempDir(), true
	case PropertyWorkDir:
		wd, err := os.Getwd()
		return wd, err == nil
	}
	return os.LookupEnv(name)
}

// ExpandPath replaces ${name} placeholders.
func (e Environment) ExpandPath(value string) (string, error) {
	var firstErr error
	expanded := placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-1])
		v, ok := e.property(name)
		if !ok && firstErr == nil {
			firstErr = fmt.Errorf("%w: ${%s} in %q", ErrUnknownPathProperty, name, value)
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return expanded, nil
}

// AbsolutePath expands placeholders and resolves a relative result against the
// chain directory, or the working directory when no chain is known. Blank
// values stay blank.
func (e Environment) AbsolutePath(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return value, nil
	}
	expanded, err := e.ExpandPath(value)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	base := e.ChainDir()
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve %q: %w", value, err)
		}
		base = wd
	}
	abs, err := filepath.Abs(filepath.Join(base, expanded))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", value, err)
	}
	return abs, nil
}

// SplitPath returns the parent folder and file name of a path value.
func SplitPath(value string) (parent, name string) {
	if strings.TrimSpace(value) == "" {
		return "", ""
	}
	return filepath.Dir(value), filepath.Base(value)
}
