// Package envfile loads KEY=VALUE files into the process environment for the
// command line tools.
package envfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PathEnv names the variable that overrides the default .env location.
const PathEnv = "MEMBERID_ENV_FILE"

// DefaultPath returns the .env path used when no flag is given.
func DefaultPath() string {
	if path := os.Getenv(PathEnv); path != "" {
		return path
	}
	return ".env"
}

// Load sets every variable in path that is not already present in the
// environment. A missing file is not an error.
func Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			slog.Warn("skipping malformed env line", slog.String("file", filepath.Base(path)), slog.Int("line", lineNum))
			continue
		}
		if _, present := os.LookupEnv(key); present {
			continue
		}
		if err := os.Setenv(key, strings.Trim(strings.TrimSpace(value), `"'`)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// Lookup returns the first non-empty value among keys.
func Lookup(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
