// Package samplelog persists decoded samples as CSV files, one file per logging session.
package samplelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelog/internal/device"
	"github.com/srg/blelog/internal/session"
)

// TimestampLayout is the file name timestamp: dd-mm-yyyy_hh-mm-ss.
const TimestampLayout = "02-01-2006_15-04-05"

// ErrExists is returned when a file would be overwritten.
var ErrExists = errors.New("file already exists")

// maxNameCollisions bounds the numeric suffixes tried when a log name is taken.
const maxNameCollisions = 100

// CSVSink is an append-only CSV file. Every row is flushed as it is written.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *csv.Writer
	rows   int
	closed bool
	logger *logrus.Logger
}

var _ session.SampleSink = (*CSVSink)(nil)

// Create creates a new CSV file at path. An existing file is never truncated.
func Create(path string, logger *logrus.Logger) (*CSVSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrExists)
		}
		return nil, fmt.Errorf("failed to create sample log: %w", err)
	}
	return &CSVSink{path: path, f: f, w: csv.NewWriter(f), logger: logger}, nil
}

// Path returns the file location.
func (s *CSVSink) Path() string {
	return s.path
}

// WriteHeader writes the column names.
func (s *CSVSink) WriteHeader(headers []string) error {
	return s.write(headers)
}

// WriteRow appends one sample row.
func (s *CSVSink) WriteRow(values []string) error {
	if err := s.write(values); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows++
	s.mu.Unlock()
	return nil
}

func (s *CSVSink) write(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("write to closed sample log %s", s.path)
	}
	if err := s.w.Write(record); err != nil {
		return fmt.Errorf("failed to write sample log: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush sample log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. It is idempotent.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	flushErr := s.w.Error()
	closeErr := s.f.Close()

	s.logger.WithFields(logrus.Fields{
		"path": s.path,
		"rows": s.rows,
	}).Info("Sample log closed")
	return errors.Join(flushErr, closeErr)
}

// FileName builds "<deviceName>_<dd-mm-yyyy_hh-mm-ss>.csv".
func FileName(deviceName string, t time.Time) string {
	return fmt.Sprintf("%s_%s.csv", sanitize(deviceName), t.Format(TimestampLayout))
}

// numbered inserts "_<n>" before the extension, for n > 1.
func numbered(name string, n int) string {
	if n <= 1 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return device.UnnamedDevice
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, name)
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return device.UnnamedDevice
	}
	return cleaned
}

// NewFactory returns a sink factory creating one file per logging session in dir.
// When the timestamped name is taken, "_2", "_3" and so on are appended.
// A nil clock uses time.Now.
func NewFactory(dir string, clock func() time.Time, logger *logrus.Logger) session.SinkFactory {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return func(p device.Peripheral) (session.SampleSink, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := FileName(p.Name, clock())
		for n := 1; n <= maxNameCollisions; n++ {
			path := filepath.Join(dir, numbered(name, n))
			sink, err := Create(path, logger)
			if errors.Is(err, ErrExists) {
				logger.WithField("path", path).Debug("Sample log name taken, trying next suffix")
				continue
			}
			if err != nil {
				return nil, err
			}
			logger.WithFields(logrus.Fields{
				"peripheral": p.ID,
				"path":       path,
			}).Info("Sample log created")
			return sink, nil
		}
		return nil, fmt.Errorf("%s: %w", filepath.Join(dir, name), ErrExists)
	}
}

// Export copies a log file into dstDir under the same name and returns the new path.
// It refuses to overwrite an existing file.
func Export(src, dstDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if same, _ := samePath(src, dst); same {
		return "", fmt.Errorf("%s: %w", dst, ErrExists)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w", dst, ErrExists)
		}
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return dst, nil
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
