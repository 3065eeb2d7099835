// Package dotenv fills the process environment from a local .env file so
// the agent can run without exporting CAFE_* variables by hand.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads KEY=VALUE lines from path into the environment. A missing
// file is not an error. Variables already set in the environment win over
// the file.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		key, val, ok := parseLine(line)
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s from %q: %w", key, path, err)
		}
	}
	return nil
}

// parseLine extracts one assignment. Blank lines, comments, and lines
// without a key are skipped.
func parseLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	first, last := val[0], val[len(val)-1]
	if first == last && (first == '"' || first == '\'') {
		return val[1 : len(val)-1]
	}
	return val
}
