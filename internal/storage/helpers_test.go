package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestEngine creates an engine with a small pool and a fixed clock
func newTestEngine(t *testing.T, maxBlocks, blockSize int) *Engine {
	t.Helper()
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e, err := New(Config{
		BlockSize: blockSize,
		MaxBlocks: maxBlocks,
		MaxInodes: 100,
		Now:       func() time.Time { return clock },
	})
	require.NoError(t, err)
	return e
}

// writeTestFile creates name if needed and writes content with CoW
func writeTestFile(t *testing.T, e *Engine, name, content string) FileInfo {
	t.Helper()
	if _, err := e.Stat(name); err != nil {
		_, err := e.CreateFile(name)
		require.NoError(t, err)
	}
	info, err := e.WriteFile(name, []byte(content), StrategyCoW)
	require.NoError(t, err)
	return info
}

// readTestFile reads name and returns it as a string
func readTestFile(t *testing.T, e *Engine, name string) string {
	t.Helper()
	data, err := e.ReadFile(name)
	require.NoError(t, err)
	return string(data)
}

// requireConsistent fails the test if the pool accounting is off
func requireConsistent(t *testing.T, e *Engine) {
	t.Helper()
	require.Empty(t, e.Verify(), "pool accounting should be exact")
}

// refCountOf returns the refcount of the single block of a one-block file
func refCountOf(t *testing.T, e *Engine, name string) uint32 {
	t.Helper()
	e.mu.Lock()
	n := e.files.lookup(name)
	e.mu.Unlock()
	require.NotNil(t, n)
	require.Len(t, n.BlockIDs, 1)
	view, ok := e.pool.Block(n.BlockIDs[0])
	require.True(t, ok)
	return view.RefCount
}

func blockIDsOf(t *testing.T, e *Engine, name string) []uint32 {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.files.lookup(name)
	require.NotNil(t, n)
	return append([]uint32(nil), n.BlockIDs...)
}
