//go:build !windows

package outdir

import (
	"os"
	"path/filepath"
)

func documentsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Documents"), nil
}
