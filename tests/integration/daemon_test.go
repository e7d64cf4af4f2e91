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

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestDaemonStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "status")

	result := env.RunCLI("daemon", "status")
	if result.ExitCode != 0 {
		t.Errorf("daemon status should succeed, got exit code %d: %s", result.ExitCode, result.Combined)
	}
	if !result.Contains("not running") {
		t.Errorf("daemon status should show 'not running', got: %s", result.Combined)
	}
	if !result.Contains("compression none") {
		t.Errorf("daemon status should print pool settings, got: %s", result.Combined)
	}
}

func TestDaemonStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "startstop")

	t.Run("daemon start", func(t *testing.T) {
		result := env.RunCLI("daemon", "start", "--skip-cleanup")
		if result.ExitCode != 0 {
			t.Fatalf("daemon start failed: %s", result.Combined)
		}
		if !waitForDaemonRunningWithConfigDir(env.configDir, 3*time.Second) {
			t.Fatal("daemon did not start in time")
		}
	})

	t.Run("second start is refused without restart", func(t *testing.T) {
		result := env.RunCLI("daemon", "start")
		if result.ExitCode != 0 {
			t.Errorf("daemon start should succeed when already running: %s", result.Combined)
		}
		if !result.Contains("already running") {
			t.Errorf("expected 'already running', got: %s", result.Combined)
		}
	})

	t.Run("daemon stop", func(t *testing.T) {
		result := env.RunCLI("daemon", "stop")
		if result.ExitCode != 0 {
			t.Errorf("daemon stop failed: %s", result.Combined)
		}
		if !waitForDaemonStoppedWithConfigDir(env.configDir, 10*time.Second) {
			t.Fatal("daemon did not stop in time")
		}
	})

	t.Run("runtime files are removed", func(t *testing.T) {
		g := NewWithT(t)
		g.Eventually(func() bool {
			_, pidErr := os.Stat(filepath.Join(env.configDir, "daemon.pid"))
			_, sockErr := os.Stat(filepath.Join(env.configDir, "daemon.sock"))
			return os.IsNotExist(pidErr) && os.IsNotExist(sockErr)
		}).WithTimeout(3 * time.Second).WithPolling(50 * time.Millisecond).Should(BeTrue())
	})

	t.Run("stop when not running", func(t *testing.T) {
		result := env.RunCLI("daemon", "stop")
		if result.ExitCode != 0 {
			t.Errorf("daemon stop should succeed when not running: %s", result.Combined)
		}
		if !result.Contains("not running") {
			t.Errorf("expected 'not running', got: %s", result.Combined)
		}
	})
}

func TestDaemonRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "restart")
	env.StartDaemon()

	oldPID := getDaemonPIDInConfigDir(env.configDir)
	if oldPID == 0 {
		t.Fatal("pid file missing after start")
	}

	env.MustRun("file", "create", "a.txt")
	env.MustRun("file", "write", "a.txt", "kept in memory only")

	result := env.MustRun("daemon", "start", "--restart", "--skip-cleanup")
	if !result.Contains("restarting") {
		t.Errorf("expected restart notice, got: %s", result.Combined)
	}
	waitForDaemonReadyWithConfigDir(env.g, env.configDir, 5*time.Second)

	if pid := getDaemonPIDInConfigDir(env.configDir); pid == oldPID {
		t.Errorf("daemon PID should change on restart, still %d", pid)
	}

	// the pool lives in memory, so a restart starts empty
	result = env.MustRun("file", "ls")
	if !result.Contains("No files") {
		t.Errorf("expected an empty pool after restart, got: %s", result.Combined)
	}
}

func TestDaemonAutoStart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "autostart")

	result := env.MustRun("file", "create", "auto.txt")
	if !result.Contains("Created auto.txt") {
		t.Errorf("expected create output, got: %s", result.Combined)
	}
	if !waitForDaemonRunningWithConfigDir(env.configDir, 5*time.Second) {
		t.Fatal("daemon should have been auto-started")
	}
}

func TestDaemonConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "config")

	t.Run("show defaults", func(t *testing.T) {
		result := env.MustRun("daemon", "config")
		if !result.Contains("Current daemon configuration") {
			t.Errorf("expected configuration listing, got: %s", result.Combined)
		}
	})

	t.Run("pool settings are saved", func(t *testing.T) {
		result := env.MustRun("daemon", "config", "--max-blocks", "8", "--block-size", "16", "--compression", "snappy")
		if !result.Contains("Pool set to 8 blocks x 16 bytes") {
			t.Errorf("unexpected output: %s", result.Combined)
		}
		data, err := os.ReadFile(filepath.Join(env.configDir, "settings.yaml"))
		if err != nil {
			t.Fatalf("settings.yaml not written: %v", err)
		}
		if !strings.Contains(string(data), "compression: snappy") {
			t.Errorf("settings.yaml missing compression: %s", data)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		result := env.RunCLI("daemon", "config", "--block-size", "0")
		if result.ExitCode == 0 {
			t.Errorf("expected failure for zero block size, got: %s", result.Combined)
		}
		result = env.RunCLI("daemon", "config", "--logging", "loud")
		if result.ExitCode == 0 {
			t.Errorf("expected failure for unknown log level, got: %s", result.Combined)
		}
	})

	t.Run("daemon uses saved settings", func(t *testing.T) {
		env.StartDaemon()
		result := env.MustRun("status")
		if !result.Contains("0 / 8 used") {
			t.Errorf("expected 8 block pool, got: %s", result.Combined)
		}
		if !result.Contains("compression snappy") {
			t.Errorf("expected snappy compression, got: %s", result.Combined)
		}
	})

	t.Run("logging change reaches running daemon", func(t *testing.T) {
		result := env.MustRun("daemon", "config", "--logging", "debug")
		if !result.Contains("Daemon notified") {
			t.Errorf("expected daemon notification, got: %s", result.Combined)
		}
	})
}
