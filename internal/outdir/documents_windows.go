//go:build windows

package outdir

import "golang.org/x/sys/windows"

func documentsDir() (string, error) {
	return windows.KnownFolderPath(windows.FOLDERID_Documents, 0)
}
