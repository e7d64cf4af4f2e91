package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConnRefused(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", syscall.ECONNREFUSED, true},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"missing socket", &net.OpError{Op: "dial", Net: "unix", Err: os.NewSyscallError("connect", syscall.ENOENT)}, true},
		{"other", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsConnRefused(tt.err))
		})
	}
}

func TestRetryWithResult(t *testing.T) {
	t.Parallel()

	t.Run("retries refused until success", func(t *testing.T) {
		t.Parallel()
		calls := 0
		got, err := RetryWithResult(context.Background(), func() (int, error) {
			calls++
			if calls < 3 {
				return 0, syscall.ECONNREFUSED
			}
			return 42, nil
		}, IPCRetryOptions(context.Background())...)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		boom := errors.New("boom")
		_, err := RetryWithResult(context.Background(), func() (int, error) {
			calls++
			return 0, boom
		}, IPCRetryOptions(context.Background())...)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("dial of missing socket is retryable", func(t *testing.T) {
		t.Parallel()
		_, err := net.Dial("unix", filepath.Join(t.TempDir(), "none.sock"))
		require.Error(t, err)
		assert.True(t, IsConnRefused(err))
	})
}

func TestRetry_Defaults(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
