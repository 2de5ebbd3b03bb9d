package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// OutputSink receives job output lines.
type OutputSink interface {
	// Write writes a line of output.
	Write(line string) error
	// Close closes the sink.
	Close() error
}

// StdioSink is an OutputSink that writes to stdout.
type StdioSink struct{}

// NewStdioSink creates a new sink that writes to stdout.
func NewStdioSink() *StdioSink {
	return &StdioSink{}
}

// Write writes a line to stdout.
func (s *StdioSink) Write(line string) error {
	fmt.Println(line)
	return nil
}

// Close closes the sink (no-op for StdioSink).
func (s *StdioSink) Close() error {
	return nil
}

// PrefixSink decorates another sink with a per-job prefix so parallel
// job output stays attributable.
type PrefixSink struct {
	prefix string
	next   OutputSink
}

// NewPrefixSink wraps next, prefixing every line with "[job] ".
func NewPrefixSink(job string, next OutputSink) *PrefixSink {
	return &PrefixSink{prefix: "[" + job + "] ", next: next}
}

func (s *PrefixSink) Write(line string) error {
	return s.next.Write(s.prefix + line)
}

// Close is a no-op; the wrapped sink is shared and closed by its owner.
func (s *PrefixSink) Close() error { return nil }

// FileSink writes job output to a log file, one per job.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates the log file (and parent directories).
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.file, line+"\n")
	return err
}

func (s *FileSink) Close() error {
	return s.file.Close()
}

// MultiSink fans lines out to several sinks.
type MultiSink struct {
	sinks []OutputSink
}

// NewMultiSink combines sinks; nil entries are dropped.
func NewMultiSink(sinks ...OutputSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Write(line string) error {
	for _, s := range m.sinks {
		if err := s.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// discardSink swallows output; used when no sink is provided.
type discardSink struct{}

func (discardSink) Write(string) error { return nil }
func (discardSink) Close() error       { return nil }
