package agent

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// hostDescription names the OS distribution for the startup log line, for
// example "ubuntu 22.04 (linux/amd64)".
func hostDescription() string {
	arch := runtime.GOOS + "/" + runtime.GOARCH
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return arch
	}
	if info.PlatformVersion == "" {
		return fmt.Sprintf("%s (%s)", info.Platform, arch)
	}
	return fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, arch)
}
