package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crawlkit/market-crawler/internal/checkpoint"
)

// Sink appends rows to one page's output file.
type Sink interface {
	Append(rows ...Row) error
	Close() error
}

// CSVSink writes one CSV file per (category, page). Append flushes through
// to the OS so a product marked done afterwards never outruns its rows.
// Safe for concurrent use by the tasks of one product chunk.
type CSVSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	closed bool
}

// NewPageSink creates <dir>/<category>_<pageno>.csv with a header row.
func NewPageSink(dir, category string, pageno int, columns []string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d.csv", checkpoint.SanitizeName(category), pageno)
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open page output %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat page output %s: %w", path, err)
	}

	sink := &CSVSink{file: file, writer: csv.NewWriter(file)}

	// A resumed run may reopen a partially written page file; only a fresh
	// file gets the header.
	if info.Size() == 0 {
		if err := sink.Append(Row(columns)); err != nil {
			file.Close()
			return nil, err
		}
	}

	return sink, nil
}

func (s *CSVSink) Append(rows ...Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("append to closed sink")
	}

	for _, row := range rows {
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return s.file.Sync()
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush on close: %w", err)
	}
	return s.file.Close()
}
