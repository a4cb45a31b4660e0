package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "reportbot/pkg/logx"
)

func openTestSQLite(t *testing.T) *sqliteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reportbot.db"), Audit: true}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.(*sqliteStore)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	got, err := st.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, st.WriteAll(ctx, []string{"111", "222", "333"}))
	got, err = st.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, got)

	require.NoError(t, st.WriteAll(ctx, []string{"333", "444"}))
	got, err = st.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"333", "444"}, got)

	require.NoError(t, st.WriteAll(ctx, nil))
	got, err = st.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStoreAudit(t *testing.T) {
	st := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "subscriber.add", Subscriber: "111"}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "subscriber.remove", Subscriber: "111", Reason: "forbidden", RunID: "run1"}))

	n, err := st.auditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
