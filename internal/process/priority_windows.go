//go:build windows
// +build windows

package process

import "golang.org/x/sys/windows"

// lowerPriority moves the process to the below-normal priority class.
func lowerPriority(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.SetPriorityClass(h, windows.BELOW_NORMAL_PRIORITY_CLASS)
}
