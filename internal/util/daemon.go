// Copyright 2024 CowFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrDaemonStartTimeout is returned when a started daemon never answers
var ErrDaemonStartTimeout = errors.New("daemon did not start in time")

// DaemonStartConfig configures daemon start behavior.
type DaemonStartConfig struct {
	Notify     bool       // Print progress to Out
	Out        io.Writer  // Progress destination (default: stderr)
	PollConfig PollConfig // Polling config for waiting
}

// DefaultDaemonStartConfig returns sensible defaults.
func DefaultDaemonStartConfig() DaemonStartConfig {
	return DaemonStartConfig{
		Notify:     true,
		Out:        os.Stderr,
		PollConfig: FastPollConfig(),
	}
}

// StartDaemonIfNeeded starts the daemon in the background if isRunning
// reports false, then polls isRunning until it answers. startCmd holds the
// arguments for the current executable, e.g. []string{"daemon", "start", "-f"}.
func StartDaemonIfNeeded(ctx context.Context, cfg DaemonStartConfig, isRunning func() bool, startCmd []string) error {
	if isRunning() {
		return nil
	}

	out := cfg.Out
	if out == nil || !cfg.Notify {
		out = io.Discard
	}
	fmt.Fprint(out, "Starting daemon...")

	exe, err := GetExecutablePath()
	if err != nil {
		fmt.Fprintln(out, " failed")
		return err
	}

	if _, err := StartBackgroundProcess(exe, startCmd, nil); err != nil {
		fmt.Fprintln(out, " failed")
		return err
	}

	if err := PollUntil(ctx, cfg.PollConfig, isRunning); err != nil {
		fmt.Fprintln(out, " timeout")
		return ErrDaemonStartTimeout
	}

	fmt.Fprintln(out, " done")
	return nil
}
