package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evkuzin/weatherlogger/weather_station"
	"github.com/sirupsen/logrus"
)

// DefaultThreshold keeps roughly a day of five-minute samples per file.
const DefaultThreshold = 6000

// LogStore appends readings to two files. The active file is derived from
// the on-disk sizes on every append; no role is persisted.
type LogStore struct {
	mu        sync.Mutex
	paths     [2]string
	threshold int64
	logger    *logrus.Logger
	onRotate  func(path string)
}

// NewLogStore keeps files[0] and files[1] inside dir.
func NewLogStore(dir string, files [2]string, threshold int64, logger *logrus.Logger) *LogStore {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &LogStore{
		paths:     [2]string{filepath.Join(dir, files[0]), filepath.Join(dir, files[1])},
		threshold: threshold,
		logger:    logger,
	}
}

// OnRotate registers fn to be called with the path of every truncated file.
func (s *LogStore) OnRotate(fn func(path string)) {
	s.onRotate = fn
}

// Files returns both log paths, file 1 first.
func (s *LogStore) Files() [2]string {
	return s.paths
}

// Threshold is the size above which a file stops being active.
func (s *LogStore) Threshold() int64 {
	return s.threshold
}

// Append writes r to the active file and, when that pushes it over the
// threshold, empties the other file so it becomes the next target.
func (s *LogStore) Append(r weather_station.Reading) error {
	line := r.CSV()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recover(); err != nil {
		return err
	}
	active, err := s.active()
	if err != nil {
		return err
	}
	if err := appendLine(s.paths[active], line); err != nil {
		return err
	}
	size, err := fileSize(s.paths[active])
	if err != nil {
		return err
	}
	if size > s.threshold {
		return s.truncate(1 - active)
	}
	return nil
}

// active is 1 (file 2) when file 1 exists and is over the threshold.
func (s *LogStore) active() (int, error) {
	size, err := fileSize(s.paths[0])
	if err != nil {
		return 0, err
	}
	if size > s.threshold {
		return 1, nil
	}
	return 0, nil
}

// recover finishes a rotation interrupted between an append and the
// truncation that should have followed it. In that state both files are over
// the threshold and the older one holds the stale data.
func (s *LogStore) recover() error {
	var infos [2]fs.FileInfo
	for i, p := range s.paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if info.Size() <= s.threshold {
			return nil
		}
		infos[i] = info
	}
	stale := 0
	switch t0, t1 := infos[0].ModTime(), infos[1].ModTime(); {
	case t1.Before(t0):
		stale = 1
	case t1.Equal(t0):
		// coarse mtimes: fall back to the newest reading in each file
		var last [2]int64
		for i, p := range s.paths {
			ts, err := lastTimestamp(p)
			if err != nil {
				return err
			}
			last[i] = ts
		}
		if last[1] < last[0] {
			stale = 1
		}
	}
	s.logger.WithField("file", s.paths[stale]).Warn("both log files over threshold, finishing interrupted rotation")
	return s.truncate(stale)
}

func (s *LogStore) truncate(i int) error {
	f, err := os.OpenFile(s.paths[i], os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("truncate %s: %w", s.paths[i], err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("truncate %s: %w", s.paths[i], err)
	}
	s.logger.WithField("file", s.paths[i]).Debug("rotated log file")
	if s.onRotate != nil {
		s.onRotate(s.paths[i])
	}
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// fileSize reports 0 for a file that does not exist yet.
func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// Snapshot returns the content of file i (0 or 1) as it stood between two
// appends. A file that does not exist yet yields an fs.ErrNotExist error.
func (s *LogStore) Snapshot(i int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.ReadFile(s.paths[i])
}

// Readings parses both files, the inactive (older) one first. Lines that do
// not parse are skipped.
func (s *LogStore) Readings() ([]weather_station.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.active()
	if err != nil {
		return nil, err
	}
	var out []weather_station.Reading
	for _, i := range [2]int{1 - active, active} {
		rs, err := readFile(s.paths[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func readFile(path string) ([]weather_station.Reading, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []weather_station.Reading
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r, err := ParseReading(sc.Text())
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

func lastTimestamp(path string) (int64, error) {
	rs, err := readFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	var last int64
	for _, r := range rs {
		if r.Timestamp > last {
			last = r.Timestamp
		}
	}
	return last, nil
}

// ParseReading decodes one "<epoch>,<temperature>,<humidity>" line.
func ParseReading(line string) (weather_station.Reading, error) {
	var r weather_station.Reading
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 {
		return r, fmt.Errorf("want 3 fields, got %d", len(fields))
	}
	var err error
	if r.Timestamp, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
		return r, err
	}
	if r.Temperature, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return r, err
	}
	if r.Humidity, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return r, err
	}
	return r, nil
}
