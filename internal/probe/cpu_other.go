//go:build !unix

package probe

import "time"

func cpuTimes() (user, system time.Duration, err error) {
	return 0, 0, ErrCPUUnsupported
}
