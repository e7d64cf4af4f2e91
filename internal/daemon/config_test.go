package daemon

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowfs/internal/common"
	"cowfs/internal/storage"
)

func TestDaemonName(t *testing.T) {
	// daemonName() always returns "daemon" - test isolation is via COWFS_CONFIG_DIR
	assert.Equal(t, "daemon", daemonName())
}

func TestConfigDir(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", "")

		dir := ConfigDir()
		assert.NotEmpty(t, dir)
		assert.True(t, strings.HasSuffix(dir, ".cowfs"), "should end with .cowfs")
	})

	t.Run("override with COWFS_CONFIG_DIR", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", "/tmp/test-cowfs-config")
		assert.Equal(t, "/tmp/test-cowfs-config", ConfigDir())
	})
}

func TestPathFunctions(t *testing.T) {
	t.Setenv("COWFS_CONFIG_DIR", t.TempDir())
	t.Setenv("COWFS_DAEMON_LOG", "")

	tests := []struct {
		name   string
		fn     func() string
		suffix string
	}{
		{"SocketPath", SocketPath, "daemon.sock"},
		{"PidPath", PidPath, "daemon.pid"},
		{"LogPath", LogPath, "daemon.log"},
		{"LockPath", LockPath, "daemon.lock"},
		{"GlobalSettingsPath", GlobalSettingsPath, "settings.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.fn()
			assert.True(t, strings.HasSuffix(path, tt.suffix),
				"%s() = %q should end with %q", tt.name, path, tt.suffix)
			assert.True(t, strings.HasPrefix(path, ConfigDir()),
				"%s() = %q should be in config dir %q", tt.name, path, ConfigDir())
		})
	}
}

func TestLogPathOverride(t *testing.T) {
	t.Setenv("COWFS_DAEMON_LOG", "/tmp/cowfs-test.log")
	assert.Equal(t, "/tmp/cowfs-test.log", LogPath())
}

func TestEnsureConfigDir(t *testing.T) {
	t.Setenv("COWFS_CONFIG_DIR", t.TempDir()+"/nested")

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(ConfigDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitConfigDir(t *testing.T) {
	t.Setenv("COWFS_CONFIG_DIR", t.TempDir())

	require.NoError(t, InitConfigDir())

	_, err := os.Stat(GlobalSettingsPath())
	assert.NoError(t, err, "global settings file should be created")

	t.Run("existing settings are kept", func(t *testing.T) {
		require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("log_level: info\n"), 0600))
		require.NoError(t, InitConfigDir())

		data, err := os.ReadFile(GlobalSettingsPath())
		require.NoError(t, err)
		assert.Equal(t, "log_level: info\n", string(data))
	})
}

func TestGlobalSettings(t *testing.T) {
	t.Run("defaults from embedded artifact", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())

		settings, err := LoadGlobalSettings()
		require.NoError(t, err)

		assert.Empty(t, settings.LogLevel)
		assert.Equal(t, storage.DefaultBlockSize, settings.Pool.BlockSize)
		assert.Equal(t, storage.DefaultMaxBlocks, settings.Pool.MaxBlocks)
		assert.Equal(t, storage.DefaultMaxInodes, settings.Pool.MaxInodes)
		assert.Equal(t, "none", settings.Pool.Compression)
	})

	t.Run("save and load", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())

		settings := &GlobalSettings{
			LogLevel: "debug",
			Pool: PoolSettings{
				BlockSize:   512,
				MaxBlocks:   64,
				MaxInodes:   8,
				Compression: "snappy",
			},
		}
		require.NoError(t, SaveGlobalSettings(settings))

		loaded, err := LoadGlobalSettings()
		require.NoError(t, err)
		assert.Equal(t, settings, loaded)

		data, err := os.ReadFile(GlobalSettingsPath())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "# CowFS daemon settings"))
	})

	t.Run("missing pool keys fall back to defaults", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())
		require.NoError(t, EnsureConfigDir())
		require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("pool:\n  max_blocks: 32\n"), 0600))

		loaded, err := LoadGlobalSettings()
		require.NoError(t, err)
		assert.Equal(t, 32, loaded.Pool.MaxBlocks)
		assert.Equal(t, storage.DefaultBlockSize, loaded.Pool.BlockSize)
		assert.Equal(t, "none", loaded.Pool.Compression)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())
		require.NoError(t, EnsureConfigDir())
		require.NoError(t, os.WriteFile(GlobalSettingsPath(), []byte("pool: [\n"), 0600))

		_, err := LoadGlobalSettings()
		assert.Error(t, err)
	})
}

func TestEffectiveSettings(t *testing.T) {
	t.Run("environment overrides the file", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())
		t.Setenv("COWFS_MAX_BLOCKS", "128")
		t.Setenv("COWFS_BLOCK_SIZE", "256")
		t.Setenv("COWFS_COMPRESSION", "snappy")
		t.Setenv("COWFS_LOG_LEVEL", "trace")

		settings, err := EffectiveSettings()
		require.NoError(t, err)
		assert.Equal(t, 128, settings.Pool.MaxBlocks)
		assert.Equal(t, 256, settings.Pool.BlockSize)
		assert.Equal(t, "snappy", settings.Pool.Compression)
		assert.Equal(t, "trace", settings.LogLevel)
		assert.Equal(t, storage.DefaultMaxInodes, settings.Pool.MaxInodes)

		// The file itself is untouched
		onDisk, err := LoadGlobalSettings()
		require.NoError(t, err)
		assert.Equal(t, storage.DefaultMaxBlocks, onDisk.Pool.MaxBlocks)
	})

	t.Run("unparsable override is an error", func(t *testing.T) {
		t.Setenv("COWFS_CONFIG_DIR", t.TempDir())
		t.Setenv("COWFS_MAX_BLOCKS", "lots")

		_, err := EffectiveSettings()
		assert.Error(t, err)
	})
}

func TestEngineConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pool    PoolSettings
		wantErr bool
	}{
		{"defaults", PoolSettings{BlockSize: 4096, MaxBlocks: 10000, MaxInodes: 1000, Compression: "none"}, false},
		{"snappy upper case", PoolSettings{BlockSize: 8, MaxBlocks: 4, Compression: "SNAPPY"}, false},
		{"zero blocks", PoolSettings{BlockSize: 8, MaxBlocks: 0}, true},
		{"negative block size", PoolSettings{BlockSize: -1, MaxBlocks: 4}, true},
		{"unknown codec", PoolSettings{BlockSize: 8, MaxBlocks: 4, Compression: "zstd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := &GlobalSettings{Pool: tt.pool}
			cfg, err := settings.EngineConfig()
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pool.BlockSize, cfg.BlockSize)
			assert.Equal(t, tt.pool.MaxBlocks, cfg.MaxBlocks)
		})
	}
}
