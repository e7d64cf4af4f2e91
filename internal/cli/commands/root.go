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

package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"cowfs/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

var rootCmd = &cobra.Command{
	Use:   "cowfs",
	Short: "Copy-on-write block storage with snapshots and versions",
	Long: `cowfs keeps files in a fixed pool of content-addressed blocks.

Identical blocks are stored once. Whole-filesystem snapshots and per-file
versions share blocks with the live files until those are rewritten.
The pool lives in a background daemon; every command talks to it over a
local socket and starts it when needed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !needsDaemon(cmd) {
			return nil
		}

		if err := daemon.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		// Auto-start daemon if not running
		if !daemon.IsDaemonRunning() {
			if err := StartDaemonIfNeeded(true); err != nil {
				// Don't fail here: requireDaemon reports the real error
				fmt.Fprintf(os.Stderr, "Warning: could not auto-start daemon: %v\n", err)
			}
		}

		return nil
	},
}

// needsDaemon reports whether cmd talks to a running daemon.
// Help, completion and the daemon group manage themselves.
func needsDaemon(cmd *cobra.Command) bool {
	if cmd.Parent() == nil {
		return false
	}
	switch cmd.Name() {
	case "help", "completion", "daemon":
		return false
	}
	return cmd.Parent().Name() != "daemon"
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("cowfs version {{.Version}}\n")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, rootCmd, fang.WithVersion(getVersionString()))
}
