package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowfs/internal/common"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyNone, false},
		{"none", PolicyNone, false},
		{"read-only", PolicyReadOnly, false},
		{"RO", PolicyReadOnly, false},
		{"append-only", PolicyAppendOnly, false},
		{"WORM", PolicyWORM, false},
		{"sealed", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadOnlyPolicy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 8, 4)
	writeTestFile(t, e, "f", "one")
	_, err := e.CreateVersion("f", "")
	require.NoError(t, err)
	writeTestFile(t, e, "f", "two")

	info, err := e.SetPolicy("f", PolicyReadOnly)
	require.NoError(t, err)
	assert.Equal(t, "read-only", info.Policy)
	require.NotNil(t, info.PolicySince)

	_, err = e.WriteFile("f", []byte("three"), StrategyCoW)
	require.ErrorIs(t, err, common.ErrImmutable)
	_, err = e.RollbackVersion("f", 1)
	require.ErrorIs(t, err, common.ErrImmutable)
	require.ErrorIs(t, e.DeleteFile("f"), common.ErrImmutable)
	assert.Equal(t, "two", readTestFile(t, e, "f"))
	requireConsistent(t, e)

	info, err = e.SetPolicy("f", PolicyNone)
	require.NoError(t, err)
	assert.Empty(t, info.Policy)
	assert.Nil(t, info.PolicySince)
	_, err = e.RollbackVersion("f", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", readTestFile(t, e, "f"))
	require.NoError(t, e.DeleteFile("f"))
	requireConsistent(t, e)
}

func TestAppendOnlyPolicy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 8, 4)
	writeTestFile(t, e, "log", "abc")
	_, err := e.SetPolicy("log", PolicyAppendOnly)
	require.NoError(t, err)

	_, err = e.WriteFile("log", []byte("abcdef"), StrategyCoW)
	require.NoError(t, err)
	_, err = e.WriteFile("log", []byte("abcdef"), StrategyRoW)
	require.NoError(t, err, "rewriting the same content keeps the prefix")

	_, err = e.WriteFile("log", []byte("abc"), StrategyCoW)
	require.ErrorIs(t, err, common.ErrImmutable)
	_, err = e.WriteFile("log", []byte("xbcdefg"), StrategyCoW)
	require.ErrorIs(t, err, common.ErrImmutable)

	assert.Equal(t, "abcdef", readTestFile(t, e, "log"))
	requireConsistent(t, e)
}

func TestWORMPolicy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 8, 4)
	_, err := e.CreateFile("w")
	require.NoError(t, err)
	_, err = e.SetPolicy("w", PolicyWORM)
	require.NoError(t, err)

	_, err = e.WriteFile("w", []byte("sealed"), StrategyCoW)
	require.NoError(t, err, "an empty worm file takes one write")
	_, err = e.WriteFile("w", []byte("again"), StrategyCoW)
	require.ErrorIs(t, err, common.ErrImmutable)

	_, err = e.SetPolicy("w", PolicyNone)
	require.ErrorIs(t, err, common.ErrImmutable)
	_, err = e.SetPolicy("w", PolicyWORM)
	require.NoError(t, err)

	assert.Equal(t, "sealed", readTestFile(t, e, "w"))
	requireConsistent(t, e)
}

func TestSnapshotRollbackRestoresPolicy(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 8, 4)
	writeTestFile(t, e, "f", "one")
	_, err := e.SetAttr("f", "owner", "ops")
	require.NoError(t, err)
	_, err = e.CreateSnapshot("s", "")
	require.NoError(t, err)

	_, err = e.SetPolicy("f", PolicyReadOnly)
	require.NoError(t, err)
	_, err = e.SetAttr("f", "owner", "dev")
	require.NoError(t, err)

	_, err = e.RollbackSnapshot("s")
	require.NoError(t, err)
	info, err := e.Stat("f")
	require.NoError(t, err)
	assert.Empty(t, info.Policy)
	assert.Equal(t, map[string]string{"owner": "ops"}, info.Attrs)
	writeTestFile(t, e, "f", "two")
	requireConsistent(t, e)
}

func TestSetPolicyUnknownFile(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 4, 4)
	_, err := e.SetPolicy("nope", PolicyReadOnly)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	t.Run("set and get", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t, 4, 4)
		_, err := e.CreateFile("f")
		require.NoError(t, err)

		info, err := e.SetAttr("f", "owner", "ops")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"owner": "ops"}, info.Attrs)

		value, err := e.GetAttr("f", "owner")
		require.NoError(t, err)
		assert.Equal(t, "ops", value)

		_, err = e.GetAttr("f", "missing")
		require.ErrorIs(t, err, common.ErrNotFound)
		_, err = e.GetAttr("nope", "owner")
		require.ErrorIs(t, err, common.ErrNotFound)
		_, err = e.SetAttr("nope", "owner", "ops")
		require.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("limits", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t, 4, 4)
		_, err := e.CreateFile("f")
		require.NoError(t, err)

		_, err = e.SetAttr("f", "", "v")
		require.ErrorIs(t, err, common.ErrInvalidArgument)
		_, err = e.SetAttr("f", strings.Repeat("k", MaxAttrKeyLen+1), "v")
		require.ErrorIs(t, err, common.ErrInvalidArgument)
		_, err = e.SetAttr("f", "k", strings.Repeat("v", MaxAttrValueLen+1))
		require.ErrorIs(t, err, common.ErrInvalidArgument)

		for i := range MaxAttrs {
			_, err = e.SetAttr("f", string(rune('a'+i)), "v")
			require.NoError(t, err)
		}
		_, err = e.SetAttr("f", "overflow", "v")
		require.ErrorIs(t, err, common.ErrInvalidArgument)
		_, err = e.SetAttr("f", "a", "updated")
		require.NoError(t, err, "updating an existing key is allowed at the limit")
	})

	t.Run("returned map is a copy", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(t, 4, 4)
		_, err := e.CreateFile("f")
		require.NoError(t, err)
		info, err := e.SetAttr("f", "owner", "ops")
		require.NoError(t, err)

		info.Attrs["owner"] = "dev"
		value, err := e.GetAttr("f", "owner")
		require.NoError(t, err)
		assert.Equal(t, "ops", value)
	})
}
