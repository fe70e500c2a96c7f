//go:build !windows

package validation

import "golang.org/x/sys/unix"

// statDisk reports the filesystem holding path. Free counts blocks
// available to unprivileged users, not the root reserve.
func statDisk(path string) (diskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return diskUsage{}, err
	}
	bsize := int64(st.Bsize)
	return diskUsage{
		total: int64(st.Blocks) * bsize,
		free:  int64(st.Bavail) * bsize,
	}, nil
}
