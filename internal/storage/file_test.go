package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "reportbot/pkg/logx"
)

func openTestFile(t *testing.T, audit bool) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	st, err := Open(Config{Driver: "file", Path: path, Audit: audit}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestFileStoreMissingIsNotFound(t *testing.T) {
	st, _ := openTestFile(t, false)
	_, err := st.ReadAll(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	sets := [][]string{
		{},
		{"111"},
		{"-1001234567890", "@news_channel", "42"},
	}
	for _, set := range sets {
		st, path := openTestFile(t, false)
		ctx := context.Background()

		require.NoError(t, st.WriteAll(ctx, set))
		got, err := st.ReadAll(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, set, got)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, byte('['), raw[0], "file must hold a JSON array")
	}
}

func TestFileStoreWritesStringArray(t *testing.T) {
	st, path := openTestFile(t, false)
	require.NoError(t, st.WriteAll(context.Background(), []string{"111"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["111"]`, string(raw))
}

func TestFileStoreAcceptsLegacyNumbers(t *testing.T) {
	st, path := openTestFile(t, false)
	require.NoError(t, os.WriteFile(path, []byte(`[111, "-100222", 111]`), 0o644))

	got, err := st.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "-100222"}, got)
}

func TestFileStoreCorrupt(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"truncated": `["111", "22`,
		"object":    `{"ids": ["111"]}`,
		"null":      `null`,
		"empty":     ``,
		"float":     `[1.5]`,
		"nested":    `[["111"]]`,
		"blank id":  `[""]`,
		"trailing":  `["1"] ["2"]`,
		"extra ]":   `[]]`,
		"extra }":   `["1"]}`,
		"garbage":   `["1"] x`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			st, path := openTestFile(t, false)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := st.ReadAll(context.Background())
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestFileStoreIgnoresLeftoverTempFile(t *testing.T) {
	st, path := openTestFile(t, false)
	ctx := context.Background()
	require.NoError(t, st.WriteAll(ctx, []string{"111", "222"}))

	// A crash between temp write and rename leaves a partial sibling file.
	partial := filepath.Join(filepath.Dir(path), ".chat_ids.json.123.tmp")
	require.NoError(t, os.WriteFile(partial, []byte(`["111", "22`), 0o644))

	got, err := st.ReadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"111", "222"}, got)
}

func TestFileStoreFailedWriteKeepsPreviousState(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	st, path := openTestFile(t, false)
	ctx := context.Background()
	require.NoError(t, st.WriteAll(ctx, []string{"111"}))

	dir := filepath.Dir(path)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	require.Error(t, st.WriteAll(ctx, []string{"111", "222"}))

	got, err := st.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"111"}, got)
}

func TestFileStoreNoTempFilesAfterWrite(t *testing.T) {
	st, path := openTestFile(t, false)
	require.NoError(t, st.WriteAll(context.Background(), []string{"1", "2", "3"}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "chat_ids.json", entries[0].Name())
}

func TestFileStoreAudit(t *testing.T) {
	st, path := openTestFile(t, true)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "subscriber.add", Subscriber: "111", Reason: "command"}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "subscriber.remove", Subscriber: "111", Reason: "forbidden"}))

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), "chat_ids.audit.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action":"subscriber.add"`)
	assert.Contains(t, string(raw), `"reason":"forbidden"`)
}

func TestFileStoreClosedRejectsWrites(t *testing.T) {
	st, _ := openTestFile(t, false)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.WriteAll(context.Background(), []string{"1"}), ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
