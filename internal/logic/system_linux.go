//go:build linux

package logic

import "golang.org/x/sys/unix"

// freeSpace reports the bytes available to the process on the filesystem
// holding path.
func freeSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// powerOffHost syncs filesystems and powers the board off. Does not return
// on success.
func powerOffHost() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF)
}
