//go:build !windows
// +build !windows

package process

import "syscall"

// lowerPriority renices the process to 10.
func lowerPriority(pid int) error {
	return syscall.Setpriority(syscall.PRIO_PROCESS, pid, 10)
}
