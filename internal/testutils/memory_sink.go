package testutils

import (
	"errors"
	"sync"

	"github.com/srg/blelog/internal/device"
)

// MemorySink records sample log output in memory.
type MemorySink struct {
	mu         sync.Mutex
	Peripheral device.Peripheral
	header     []string
	rows       [][]string
	closed     bool
}

func (s *MemorySink) WriteHeader(headers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.header = append([]string(nil), headers...)
	return nil
}

func (s *MemorySink) WriteRow(values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink closed")
	}
	s.rows = append(s.rows, append([]string(nil), values...))
	return nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemorySink) Header() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.header...)
}

func (s *MemorySink) Rows() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MemorySinks hands out a new MemorySink per logging session and remembers them all.
type MemorySinks struct {
	mu    sync.Mutex
	sinks []*MemorySink
}

// Open has the signature of a session sink factory.
func (f *MemorySinks) Open(p device.Peripheral) (*MemorySink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &MemorySink{Peripheral: p}
	f.sinks = append(f.sinks, s)
	return s, nil
}

// All returns every sink opened so far.
func (f *MemorySinks) All() []*MemorySink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MemorySink(nil), f.sinks...)
}

// Last returns the most recently opened sink, or nil.
func (f *MemorySinks) Last() *MemorySink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sinks) == 0 {
		return nil
	}
	return f.sinks[len(f.sinks)-1]
}
