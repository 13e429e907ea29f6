package fileio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestReadWithRetry_SucceedsFirstAttempt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c"), 0o644))

	r := New(testLogger())
	content, err := r.ReadWithRetry(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, []byte("a,b,c"), content)
}

func TestReadWithRetry_RecoversAfterTransientFailures(t *testing.T) {
	attempts := 0
	r := NewWithReadFile(testLogger(), func(string) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("sharing violation")
		}
		return []byte("payload"), nil
	})
	r.InitialDelay = time.Millisecond

	content, err := r.ReadWithRetry(context.Background(), "/in/locked.csv")

	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)
	assert.Equal(t, 3, attempts)
}

func TestReadWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	r := NewWithReadFile(testLogger(), func(string) ([]byte, error) {
		attempts++
		return nil, errors.New("still locked")
	})
	r.InitialDelay = time.Millisecond

	content, err := r.ReadWithRetry(context.Background(), "/in/locked.csv")

	assert.Nil(t, content)
	require.ErrorIs(t, err, ErrUnreadable)
	assert.Equal(t, r.MaxAttempts, attempts)
}

func TestReadWithRetry_DeadlineBoundsBackoff(t *testing.T) {
	r := NewWithReadFile(testLogger(), func(string) ([]byte, error) {
		return nil, errors.New("locked")
	})
	r.InitialDelay = time.Second
	r.Timeout = 20 * time.Millisecond

	start := time.Now()
	content, err := r.ReadWithRetry(context.Background(), "/in/locked.csv")

	assert.Nil(t, content)
	require.ErrorIs(t, err, ErrUnreadable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReadWithRetry_CancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewWithReadFile(testLogger(), func(string) ([]byte, error) {
		cancel()
		return nil, errors.New("locked")
	})
	r.InitialDelay = time.Minute

	_, err := r.ReadWithRetry(ctx, "/in/locked.csv")

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnreadable)
}
