package report

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportbot/internal/checker"
	logx "reportbot/pkg/logx"
)

func fixedBuilder(t *testing.T, attach bool) *Builder {
	t.Helper()
	loc := time.FixedZone("UZT", 5*3600)
	b := NewBuilder(Config{Title: "Daily <status>", Location: loc, Attachment: attach, TempDir: t.TempDir()}, logx.Nop())
	b.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 5, 0, time.UTC) }
	return b
}

func TestBuildTextScenario(t *testing.T) {
	b := fixedBuilder(t, false)
	snap := checker.NewSnapshot(time.Now(),
		[]checker.Result{{Name: "siteA", URL: "https://a.example", State: checker.StateUnreachable, Error: "timeout after 10s"}},
		make([]checker.Record, 42), nil)

	rep, err := b.Build(context.Background(), snap)
	require.NoError(t, err)
	defer rep.Cleanup()

	assert.Contains(t, rep.Text, "siteA")
	assert.Contains(t, rep.Text, "42")
	assert.Contains(t, rep.Text, "Latency: n/a")
	assert.Contains(t, rep.Text, "Daily &lt;status&gt;")
	assert.Contains(t, rep.Text, "14:30:05 14.03.2026", "header uses the configured zone")
	assert.Equal(t, ParseModeHTML, rep.ParseMode)
	assert.Nil(t, rep.Attachment)
}

func TestBuildTextLines(t *testing.T) {
	b := fixedBuilder(t, false)
	snap := checker.NewSnapshot(time.Now(), []checker.Result{
		{Name: "api", URL: "https://api.example", State: checker.StateHealthy, StatusCode: 200, Latency: 125 * time.Millisecond},
		{Name: "web", URL: "https://web.example", State: checker.StateDegraded, StatusCode: 502, Latency: 40 * time.Millisecond, Error: "HTTP 502"},
	}, nil, assert.AnError)

	rep, err := b.Build(context.Background(), snap)
	require.NoError(t, err)

	assert.Contains(t, rep.Text, "✅ <b>api</b>")
	assert.Contains(t, rep.Text, "Status: Healthy (200)")
	assert.Contains(t, rep.Text, "Latency: 125 ms")
	assert.Contains(t, rep.Text, "⚠️ <b>web</b>")
	assert.Contains(t, rep.Text, "<code>HTTP 502</code>")
	assert.Contains(t, rep.Text, "Records: n/a")
	assert.Nil(t, rep.Attachment)
}

func TestBuildFormatsLargeCounts(t *testing.T) {
	b := fixedBuilder(t, false)
	rep, err := b.Build(context.Background(), checker.NewSnapshot(time.Now(), nil, make([]checker.Record, 1234), nil))
	require.NoError(t, err)
	assert.Contains(t, rep.Text, "<b>1,234</b>")
}

func TestBuildAttachmentAndCleanup(t *testing.T) {
	b := fixedBuilder(t, true)
	records := []checker.Record{
		{ID: "1", FullName: "Ali Valiyev", Phone: "+998901234567", TGUser: "@ali"},
		{ID: "2"},
	}
	rep, err := b.Build(context.Background(), checker.NewSnapshot(time.Now(), nil, records, nil))
	require.NoError(t, err)
	require.NotNil(t, rep.Attachment)

	assert.Equal(t, "users_14032026_143005.txt", rep.Attachment.Name)
	raw, err := os.ReadFile(rep.Attachment.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Ali Valiyev")
	assert.Contains(t, string(raw), "Users: 2")
	assert.EqualValues(t, len(raw), rep.Attachment.Size)

	require.NoError(t, rep.Cleanup())
	_, err = os.Stat(rep.Attachment.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, rep.Cleanup())
}

func TestBuildAttachesHeaderForEmptyListing(t *testing.T) {
	b := fixedBuilder(t, true)
	rep, err := b.Build(context.Background(), checker.NewSnapshot(time.Now(), nil, nil, nil))
	require.NoError(t, err)
	defer rep.Cleanup()

	require.NotNil(t, rep.Attachment)
	raw, err := os.ReadFile(rep.Attachment.Path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Users: 0")
	assert.Contains(t, string(raw), "№", "header row is rendered")
	assert.Equal(t, "👥 0", rep.Caption)
}

func TestBuildNoAttachmentWithoutListing(t *testing.T) {
	b := fixedBuilder(t, true)
	rep, err := b.Build(context.Background(), checker.NewSnapshot(time.Now(), nil, nil, assert.AnError))
	require.NoError(t, err)
	assert.Nil(t, rep.Attachment)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fixedBuilder(t, true).Build(ctx, checker.Snapshot{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNilReportCleanup(t *testing.T) {
	var r *Report
	assert.NoError(t, r.Cleanup())
}
