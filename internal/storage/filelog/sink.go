package filelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
)

// Sink is a file-backed audit log writing one compact JSON object per line.
// The file is append-only and chronologically ordered; operators tail it
// directly during incident review, so the line format is part of the
// contract and must stay stable.
type Sink struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// NewSink opens (or creates) the audit file in append mode
func NewSink(path string) (*Sink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &Sink{
		path: path,
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Append writes one entry as a single JSON line
func (s *Sink) Append(ctx context.Context, entry *rollout.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit line: %w", err)
	}
	return nil
}

// Query scans the file and returns matching entries, newest first
func (s *Sink) Query(ctx context.Context, filter storage.AuditFilter) ([]rollout.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var matched []rollout.AuditEntry
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		var entry rollout.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("malformed audit line %d: %w", line, err)
		}

		if filter.Feature != "" && entry.Feature != filter.Feature {
			continue
		}
		if filter.Action != "" && string(entry.Action) != filter.Action {
			continue
		}
		if filter.Actor != "" && string(entry.Actor) != filter.Actor {
			continue
		}
		if filter.StartTime != nil && entry.CreatedAt.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && entry.CreatedAt.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan audit file: %w", err)
	}

	// The file is chronological; flip to newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]rollout.AuditEntry, end-start)
	copy(result, matched[start:end])
	return result, nil
}

// Close closes the underlying file
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.Close()
}

var _ storage.AuditLog = (*Sink)(nil)
