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
)

func TestFileWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "files")
	env.StartDaemon()

	env.MustRun("file", "create", "notes.txt")

	t.Run("duplicate create fails", func(t *testing.T) {
		result := env.RunCLI("file", "create", "notes.txt")
		if result.ExitCode == 0 {
			t.Errorf("creating an existing file should fail: %s", result.Combined)
		}
		if !result.Contains("already exists") {
			t.Errorf("expected 'already exists', got: %s", result.Combined)
		}
	})

	t.Run("write and read inline", func(t *testing.T) {
		env.MustRun("file", "write", "notes.txt", "hello cowfs")
		result := env.MustRun("file", "read", "notes.txt")
		if result.Stdout != "hello cowfs" {
			t.Errorf("read = %q, want %q", result.Stdout, "hello cowfs")
		}
	})

	t.Run("write from stdin", func(t *testing.T) {
		result := env.RunCLIWithInput("piped content", "file", "write", "notes.txt", "-")
		if result.ExitCode != 0 {
			t.Fatalf("write from stdin failed: %s", result.Combined)
		}
		result = env.MustRun("file", "read", "notes.txt")
		if result.Stdout != "piped content" {
			t.Errorf("read = %q, want %q", result.Stdout, "piped content")
		}
	})

	t.Run("write from local file", func(t *testing.T) {
		local := filepath.Join(env.TestDir, "local.bin")
		content := strings.Repeat("x", 10000)
		if err := os.WriteFile(local, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		result := env.MustRun("file", "write", "notes.txt", "-f", local, "--strategy", "row")
		if !result.Contains("3 block(s)") {
			t.Errorf("10000 bytes should span 3 blocks, got: %s", result.Combined)
		}
		result = env.MustRun("file", "read", "notes.txt")
		if result.Stdout != content {
			t.Errorf("read returned %d bytes, want %d", len(result.Stdout), len(content))
		}
	})

	t.Run("stat and list", func(t *testing.T) {
		result := env.MustRun("file", "stat", "notes.txt")
		if !result.Contains("10000 bytes") {
			t.Errorf("stat should report size, got: %s", result.Combined)
		}
		result = env.MustRun("file", "ls")
		if !result.Contains("notes.txt") {
			t.Errorf("ls should list notes.txt, got: %s", result.Combined)
		}
	})

	t.Run("unknown strategy is rejected", func(t *testing.T) {
		result := env.RunCLI("file", "write", "notes.txt", "data", "--strategy", "sideways")
		if result.ExitCode == 0 {
			t.Errorf("unknown strategy should fail: %s", result.Combined)
		}
	})

	t.Run("remove", func(t *testing.T) {
		env.MustRun("file", "rm", "notes.txt")
		result := env.RunCLI("file", "read", "notes.txt")
		if result.ExitCode == 0 || !result.Contains("not found") {
			t.Errorf("reading a removed file should fail with not found, got: %s", result.Combined)
		}
		result = env.MustRun("block", "ls", "--used")
		if strings.Contains(result.Stdout, "DATA") {
			t.Errorf("no blocks should remain in use, got: %s", result.Stdout)
		}
	})

	t.Run("verify is clean", func(t *testing.T) {
		result := env.MustRun("verify")
		if !result.Contains("consistent") {
			t.Errorf("verify should report consistency, got: %s", result.Combined)
		}
	})
}

func TestDedupAcrossFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "dedup")
	env.StartDaemon()

	for _, name := range []string{"a", "b"} {
		env.MustRun("file", "create", name)
		env.MustRun("file", "write", name, "identical payload")
	}

	result := env.MustRun("block", "ls", "--used")
	if !result.Contains("dedup") {
		t.Errorf("identical content should share a block, got: %s", result.Stdout)
	}
	result = env.MustRun("status")
	if !result.Contains("1 / 10000 used") {
		t.Errorf("expected a single used block, got: %s", result.Combined)
	}
}

func TestOutOfBlocks(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "full")
	env.MustRun("daemon", "config", "--max-blocks", "2", "--block-size", "4")
	env.StartDaemon()

	env.MustRun("file", "create", "f")
	env.MustRun("file", "write", "f", "abcd")

	result := env.RunCLI("file", "write", "f", "0123456789")
	if result.ExitCode == 0 {
		t.Fatalf("write beyond pool capacity should fail: %s", result.Combined)
	}
	if !result.Contains("out of blocks") {
		t.Errorf("expected 'out of blocks', got: %s", result.Combined)
	}

	// the failed write leaves the old content in place
	result = env.MustRun("file", "read", "f")
	if result.Stdout != "abcd" {
		t.Errorf("read = %q, want %q", result.Stdout, "abcd")
	}
	env.MustRun("verify")
}

func TestResetPrompt(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "reset")
	env.StartDaemon()

	env.MustRun("file", "create", "keep")

	result := env.RunCLIWithInput("n\n", "reset")
	if !result.Contains("Reset cancelled") {
		t.Errorf("expected cancellation, got: %s", result.Combined)
	}
	if !env.MustRun("file", "ls").Contains("keep") {
		t.Error("cancelled reset should keep files")
	}

	env.MustRun("reset", "-y")
	if !env.MustRun("file", "ls").Contains("No files") {
		t.Error("reset should discard files")
	}
}

func TestFilePolicyAndAttrs(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	t.Parallel()
	env := NewTestEnv(t, "policy")
	env.StartDaemon()

	env.MustRun("file", "create", "audit.log")
	env.MustRun("file", "write", "audit.log", "entry 1\n")
	env.MustRun("file", "policy", "audit.log", "append-only")

	t.Run("append is accepted", func(t *testing.T) {
		env.MustRun("file", "write", "audit.log", "entry 1\nentry 2\n")
		result := env.MustRun("file", "read", "audit.log")
		if result.Stdout != "entry 1\nentry 2\n" {
			t.Errorf("read = %q", result.Stdout)
		}
	})

	t.Run("overwrite is refused", func(t *testing.T) {
		result := env.RunCLI("file", "write", "audit.log", "rewritten")
		if result.ExitCode == 0 {
			t.Errorf("overwriting an append-only file should fail: %s", result.Combined)
		}
		if !result.Contains("immutable") {
			t.Errorf("expected 'immutable', got: %s", result.Combined)
		}
	})

	t.Run("delete is refused", func(t *testing.T) {
		result := env.RunCLI("file", "rm", "audit.log")
		if result.ExitCode == 0 {
			t.Errorf("deleting a file under a policy should fail: %s", result.Combined)
		}
	})

	t.Run("attributes", func(t *testing.T) {
		env.MustRun("file", "attr", "set", "audit.log", "owner", "ops")
		result := env.MustRun("file", "attr", "get", "audit.log", "owner")
		if strings.TrimSpace(result.Stdout) != "ops" {
			t.Errorf("attr get = %q, want %q", result.Stdout, "ops")
		}
		result = env.MustRun("file", "stat", "audit.log")
		if !result.Contains("Policy:   append-only") || !result.Contains("owner=ops") {
			t.Errorf("stat should show policy and attributes, got: %s", result.Combined)
		}
		result = env.RunCLI("file", "attr", "get", "audit.log", "missing")
		if result.ExitCode == 0 {
			t.Errorf("missing attribute should fail: %s", result.Combined)
		}
	})

	t.Run("lifting the policy allows delete", func(t *testing.T) {
		env.MustRun("file", "policy", "audit.log", "none")
		env.MustRun("file", "rm", "audit.log")
	})
}
