package commands

import (
	"context"
	"fmt"

	"cowfs/internal/daemon"
	"cowfs/internal/util"
)

// ErrDaemonNotRunning is returned when a command requires the daemon but it's not running
var ErrDaemonNotRunning = fmt.Errorf("daemon not running. Start it with: cowfs daemon start")

// StartDaemonIfNeeded starts the daemon in the background if not running.
// If notify is true, prints a message to inform the user.
// Returns nil if daemon is already running or successfully started.
func StartDaemonIfNeeded(notify bool) error {
	cfg := util.DefaultDaemonStartConfig()
	cfg.Notify = notify

	return util.StartDaemonIfNeeded(
		context.Background(),
		cfg,
		daemon.IsDaemonRunning,
		[]string{"daemon", "start", "--foreground"},
	)
}

// requireDaemon returns a connected client or an error if daemon is not running.
// A daemon that is still binding its socket gets a few retries.
func requireDaemon(ctx context.Context) (*daemon.Client, error) {
	client, err := daemon.ConnectWithRetry(ctx)
	if err != nil {
		if util.IsConnRefused(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return client, nil
}
