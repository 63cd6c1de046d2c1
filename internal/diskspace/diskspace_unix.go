//go:build !windows

package diskspace

import "golang.org/x/sys/unix"

// freeMB returns the free space in MB on the filesystem containing path.
func freeMB(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return (uint64(stat.Bavail) * uint64(stat.Bsize)) / (1024 * 1024), nil
}
