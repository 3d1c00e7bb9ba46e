//go:build !linux

package clock

import (
	"errors"
	"time"
)

func setSystemClock(time.Time) error {
	return errors.New("setting the system clock is only supported on linux")
}
