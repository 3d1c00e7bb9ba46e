//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// setSystemClock steps CLOCK_REALTIME. It needs CAP_SYS_TIME.
func setSystemClock(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}
