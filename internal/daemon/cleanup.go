package daemon

import (
	"fmt"
	"os"
	"strings"

	"cowfs/internal/util"
)

// CleanupResult contains the result of a cleanup operation
type CleanupResult struct {
	CleanedPidFile bool    // Whether PID file was cleaned
	CleanedSocket  bool    // Whether socket file was cleaned
	Errors         []error // Any errors encountered
}

// CleanupStale removes the PID file and socket left behind by a daemon
// that exited without running its deferred cleanup.
func CleanupStale() *CleanupResult {
	result := &CleanupResult{}

	cleaned, err := cleanupStalePidFile()
	result.CleanedPidFile = cleaned
	if err != nil {
		result.Errors = append(result.Errors, err)
	}

	cleaned, err = cleanupStaleSocket()
	result.CleanedSocket = cleaned
	if err != nil {
		result.Errors = append(result.Errors, err)
	}

	return result
}

// cleanupStalePidFile removes PID file if the process is not running
func cleanupStalePidFile() (bool, error) {
	pid, err := GetPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		// Unreadable PID file is as stale as a dead one
		return removeStale(PidPath())
	}

	if pid == os.Getpid() || util.IsProcessRunning(pid) {
		return false, nil
	}
	return removeStale(PidPath())
}

// cleanupStaleSocket removes socket file if daemon isn't running
func cleanupStaleSocket() (bool, error) {
	if _, err := os.Stat(SocketPath()); os.IsNotExist(err) {
		return false, nil
	}
	if IsDaemonRunning() {
		return false, nil
	}
	return removeStale(SocketPath())
}

func removeStale(path string) (bool, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return true, nil
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string

	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}

	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}

	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, fmt.Sprintf("  - %s", e.Error()))
		}
	}

	if len(parts) == 0 {
		return "No cleanup needed"
	}

	return strings.Join(parts, "\n")
}
