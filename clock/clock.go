// Package clock keeps the logger's wall clock close to a remote time server.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// ErrUnreachable is the transient failure kind of Refresh.
var ErrUnreachable = errors.New("remote time source unreachable")

// EmbeddedEpoch is where clocks of small boards start counting, 946684800
// seconds after the Unix epoch.
var EmbeddedEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Source is a clock that can be resynchronised from a remote authority.
type Source interface {
	// Now returns whole seconds since Epoch.
	Now() int64
	Epoch() time.Time
	// Refresh sets the clock from the remote authority.
	Refresh(ctx context.Context) error
}

// UnixSeconds returns the source's time on the Unix epoch.
func UnixSeconds(s Source) int64 {
	return s.Now() + s.Epoch().Unix()
}

// NTPSource corrects the system time by the offset measured against an NTP
// server. The offset is kept in memory unless SetSystemClock is enabled, in
// which case the system clock itself is stepped.
type NTPSource struct {
	Server         string
	Timeout        time.Duration
	SetSystemClock bool

	epoch  time.Time
	mu     sync.Mutex
	offset time.Duration

	// replaced in tests
	query   func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
	now     func() time.Time
	settime func(time.Time) error
}

// NewNTPSource counts seconds from epoch; a zero epoch means Unix time.
func NewNTPSource(server string, epoch time.Time) *NTPSource {
	if epoch.IsZero() {
		epoch = time.Unix(0, 0).UTC()
	}
	return &NTPSource{
		Server:  server,
		Timeout: 5 * time.Second,
		epoch:   epoch,
		query:   ntp.QueryWithOptions,
		now:     time.Now,
		settime: setSystemClock,
	}
}

func (s *NTPSource) Epoch() time.Time {
	return s.epoch
}

// Time is the corrected wall clock.
func (s *NTPSource) Time() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Add(s.offset)
}

func (s *NTPSource) Now() int64 {
	return s.Time().Unix() - s.epoch.Unix()
}

// Offset is the correction currently applied on top of the system clock.
func (s *NTPSource) Offset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *NTPSource) Refresh(ctx context.Context) error {
	timeout := s.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.query(s.Server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, s.Server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, s.Server, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetSystemClock {
		if err := s.settime(s.now().Add(resp.ClockOffset)); err != nil {
			return fmt.Errorf("set system clock: %w", err)
		}
		s.offset = 0
		return nil
	}
	s.offset = resp.ClockOffset
	return nil
}
