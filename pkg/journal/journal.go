package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Option mutates journal configuration.
type Option func(*Journal)

// WithClock overrides the time source used for error timestamps.
func WithClock(clock func() time.Time) Option {
	return func(journal *Journal) {
		if clock != nil {
			journal.clock = clock
		}
	}
}

// WithFileMode overrides the permission bits for newly created files.
func WithFileMode(mode os.FileMode) Option {
	return func(journal *Journal) {
		if mode != 0 {
			journal.fileMode = mode
		}
	}
}

// Journal appends records below one directory. Writes are serialized so two
// blocks never interleave within a file.
type Journal struct {
	dir      string
	clock    func() time.Time
	fileMode os.FileMode

	mu sync.Mutex
}

// New creates a journal rooted at dir. The directory is created on first write.
func New(dir string, options ...Option) (*Journal, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("new journal: empty directory")
	}

	journal := &Journal{
		dir:      dir,
		clock:    time.Now,
		fileMode: 0o644,
	}
	for _, option := range options {
		option(journal)
	}

	return journal, nil
}

// Dir returns the directory journal files are written to.
func (j *Journal) Dir() string {
	return j.dir
}

// Append writes one message record to its chat/action file.
func (j *Journal) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append %s record: %w", record.Action, err)
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("append %s record: %w", record.Action, err)
	}

	path := filepath.Join(j.dir, FileName(record.ChatID, record.Action))
	if err := j.appendFile(path, Format(record)); err != nil {
		return fmt.Errorf("append %s record: %w", record.Action, err)
	}

	return nil
}

// AppendError writes one error block to errors.log.
func (j *Journal) AppendError(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append error record: %w", err)
	}

	path := filepath.Join(j.dir, errorsFileName)
	if err := j.appendFile(path, FormatError(message, j.clock())); err != nil {
		return fmt.Errorf("append error record: %w", err)
	}

	return nil
}

func (j *Journal) appendFile(path string, block string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal directory %s: %w", j.dir, err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, j.fileMode)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := file.WriteString(block); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}
