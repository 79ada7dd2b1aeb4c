//go:build !darwin && !linux

package storage

import (
	"fmt"
	"runtime"
)

func detectFilesystemType(path string) (string, error) {
	return "", fmt.Errorf("%w on %s (registry %q)", errDetectUnsupported, runtime.GOOS, path)
}
