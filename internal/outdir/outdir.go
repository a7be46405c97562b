// Package outdir resolves where recordings are written.
package outdir

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppDirName is the folder created under the user's documents directory
const AppDirName = "AudioLogger"

// TimestampLayout names a session directory after the moment it was saved
const TimestampLayout = "2006-01-02_15-04-05"

// Base returns the recordings root. A non-empty override is used as is
func Base(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	docs, err := documentsDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve documents folder: %w", err)
	}
	return filepath.Join(docs, AppDirName), nil
}

// SessionDir creates and returns a timestamped directory under base.
// When a directory or archive for the same second already exists a numeric
// suffix is added
func SessionDir(base string, now time.Time) (string, error) {
	name := now.Format(TimestampLayout)
	dir := filepath.Join(base, name)
	for i := 2; taken(dir); i++ {
		if i > 100 {
			return "", fmt.Errorf("too many sessions saved at %s", name)
		}
		dir = filepath.Join(base, fmt.Sprintf("%s_%d", name, i))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

func taken(dir string) bool {
	for _, p := range []string{dir, dir + ".zip"} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
