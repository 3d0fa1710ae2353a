package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"promptloop/internal/util/jsonutil"
)

// FileSink appends entries as JSON lines.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Record(_ context.Context, e Entry) error {
	b, err := jsonutil.MarshalNoEscape(Stamp(e))
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
