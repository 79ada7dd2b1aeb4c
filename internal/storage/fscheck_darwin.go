//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

// detectFilesystemType returns the mount's f_fstypename, e.g. "apfs" or "nfs".
func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	return fstypeName(stat.Fstypename[:]), nil
}

func fstypeName(raw []int8) string {
	name := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return string(name)
}
