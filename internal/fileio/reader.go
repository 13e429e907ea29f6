// Package fileio reads data files that may still be held open by the
// process writing them.
package fileio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnreadable is returned when a file could not be read within the
// attempt and deadline budget. The caller records it as a processing
// issue; it is never fatal.
var ErrUnreadable = errors.New("file unreadable within retry budget")

// Reader reads files with bounded retry and backoff.
type Reader struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Timeout      time.Duration

	// readFile is swappable for tests.
	readFile func(string) ([]byte, error)
	logger   zerolog.Logger
}

// New creates a Reader with the standard budget: 5 attempts, 200ms initial
// delay doubling per attempt, 30s overall deadline.
func New(logger zerolog.Logger) *Reader {
	return &Reader{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		Timeout:      30 * time.Second,
		readFile:     os.ReadFile,
		logger:       logger,
	}
}

// NewWithReadFile creates a Reader with a custom read function (for tests).
func NewWithReadFile(logger zerolog.Logger, readFile func(string) ([]byte, error)) *Reader {
	r := New(logger)
	r.readFile = readFile
	return r
}

// ReadWithRetry reads the whole file, retrying I/O failures (typically
// another process still holding the file) with exponential backoff. The
// overall wait is bounded by the Reader's Timeout via a derived deadline;
// exhausted attempts or an elapsed deadline return ErrUnreadable wrapping
// the last cause. Cancellation of ctx propagates as ctx.Err().
func (r *Reader) ReadWithRetry(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	delay := r.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		content, err := r.readFile(path)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if attempt == r.MaxAttempts {
			break
		}
		r.logger.Debug().Err(err).Str("path", path).Int("attempt", attempt).
			Dur("backoff", delay).Msg("read failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: deadline elapsed: %w", ErrUnreadable, lastErr)
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %w", ErrUnreadable, lastErr)
}
