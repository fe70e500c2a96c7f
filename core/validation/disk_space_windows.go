//go:build windows

package validation

import "golang.org/x/sys/windows"

// statDisk reports the volume holding path, with free space as seen by the
// calling user (quotas applied).
func statDisk(path string) (diskUsage, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return diskUsage{}, err
	}
	var callerFree, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &callerFree, &total, &totalFree); err != nil {
		return diskUsage{}, err
	}
	return diskUsage{total: int64(total), free: int64(callerFree)}, nil
}
