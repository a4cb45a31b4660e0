package delivery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportbot/internal/registry"
	"reportbot/internal/report"
	"reportbot/internal/storage"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	textErr  map[string]error
	docErr   map[string]error
	panicOn  string
	texts    []string
	docs     []string
	docBody  []string
	attempts []string
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, to.ChatID)
	if to.ChatID == f.panicOn {
		panic("adapter bug")
	}
	if err := f.textErr[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.texts = append(f.texts, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendDocument(_ context.Context, to kit.ChatTarget, doc kit.Document, _ *kit.SendOptions) (kit.MessageRef, error) {
	b, _ := io.ReadAll(doc.Reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.docErr[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.docs = append(f.docs, to.ChatID)
	f.docBody = append(f.docBody, string(b))
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

var forbidden = &kit.SendError{Op: "sendMessage", Code: 403, Description: "Forbidden: bot was blocked by the user"}

func fileRegistry(t *testing.T, ids ...string) (*registry.Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.WriteAll(context.Background(), ids))

	reg := registry.New(st, logx.Nop())
	require.NoError(t, reg.Load(context.Background()))
	return reg, path
}

func textReport() *report.Report {
	return &report.Report{Text: "status", ParseMode: report.ParseModeHTML}
}

func TestBroadcastFailureIsolation(t *testing.T) {
	reg, _ := fileRegistry(t, "A", "B", "C")
	sender := &fakeSender{textErr: map[string]error{"B": forbidden}}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())

	sum := e.Broadcast(context.Background(), textReport(), reg.Snapshot())

	assert.Equal(t, []string{"A", "B", "C"}, sender.attempts)
	assert.Equal(t, []string{"A", "C"}, reg.Snapshot())
	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, 1, sum.Permanent)
	assert.Equal(t, []string{"B"}, sum.Pruned)
}

func TestBroadcastPrunesOnDisk(t *testing.T) {
	reg, path := fileRegistry(t, "111", "222")
	sender := &fakeSender{textErr: map[string]error{"222": forbidden}}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())

	e.Broadcast(context.Background(), textReport(), reg.Snapshot())

	assert.Equal(t, []string{"111"}, reg.Snapshot())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["111"]`, string(raw))
}

func TestBroadcastTransientKeepsSubscriber(t *testing.T) {
	reg, _ := fileRegistry(t, "A", "B")
	sender := &fakeSender{textErr: map[string]error{
		"A": &kit.SendError{Op: "sendMessage", Code: 429, RetryAfter: 3 * time.Second},
		"B": context.DeadlineExceeded,
	}}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())

	sum := e.Broadcast(context.Background(), textReport(), reg.Snapshot())

	assert.Equal(t, 2, sum.Transient)
	assert.Empty(t, sum.Pruned)
	assert.Equal(t, []string{"A", "B"}, reg.Snapshot())
}

func TestBroadcastContainsPanics(t *testing.T) {
	reg, _ := fileRegistry(t, "A", "B", "C")
	sender := &fakeSender{panicOn: "A"}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())

	sum := e.Broadcast(context.Background(), textReport(), reg.Snapshot())

	assert.Equal(t, 1, sum.Transient)
	assert.Equal(t, 2, sum.Delivered)
	assert.Equal(t, []string{"A", "B", "C"}, reg.Snapshot())
}

func TestBroadcastSendsAttachmentToEachTarget(t *testing.T) {
	reg, _ := fileRegistry(t, "A", "B")
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte("table"), 0o644))

	rep := textReport()
	rep.Attachment = &report.Attachment{Name: "users_01012026_000000.txt", Path: path, MIME: "text/plain"}

	sender := &fakeSender{docErr: map[string]error{"B": forbidden}}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())
	sum := e.Broadcast(context.Background(), rep, reg.Snapshot())

	assert.Equal(t, []string{"A"}, sender.docs)
	assert.Equal(t, []string{"table"}, sender.docBody)
	assert.Equal(t, []string{"B"}, sum.Pruned, "a refused attachment is a refusal too")

	require.NoError(t, rep.Cleanup())
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeliverOneSurfacesErrors(t *testing.T) {
	reg, _ := fileRegistry(t, "111")
	boom := errors.New("network down")
	sender := &fakeSender{textErr: map[string]error{"111": boom, "999": forbidden}}
	e := New(Config{RatePerSec: 1000}, sender, reg, logx.Nop())

	err := e.DeliverOne(context.Background(), textReport(), "111")
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, TransientFailure, derr.Outcome)
	assert.ErrorIs(t, err, boom)
	assert.True(t, reg.Contains("111"))

	err = e.DeliverOne(context.Background(), textReport(), "999")
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, PermanentFailure, derr.Outcome)
	assert.False(t, derr.Pruned, "999 was never registered")

	require.NoError(t, e.DeliverOne(context.Background(), textReport(), "555"))
}

func TestDeliverOneMissingAttachment(t *testing.T) {
	e := New(Config{}, &fakeSender{}, nil, logx.Nop())
	rep := textReport()
	rep.Attachment = &report.Attachment{Name: "x.txt", Path: filepath.Join(t.TempDir(), "gone.txt")}

	err := e.DeliverOne(context.Background(), rep, "111")
	require.Error(t, err)
	assert.Equal(t, TransientFailure, Classify(err))
}

func TestHistoryIsBounded(t *testing.T) {
	e := New(Config{RatePerSec: 1000, HistoryMax: 3}, &fakeSender{}, nil, logx.Nop())
	for i := 0; i < 5; i++ {
		e.Broadcast(context.Background(), textReport(), []string{"A"})
	}
	hist := e.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "bc-5", hist[0].ID)
	assert.Equal(t, "bc-3", hist[2].ID)
}

func TestPruneHistoryTTL(t *testing.T) {
	now := time.Now()
	hist := []Summary{
		{ID: "old", FinishedAt: now.Add(-48 * time.Hour)},
		{ID: "new", FinishedAt: now.Add(-time.Minute)},
	}
	got := pruneHistory(hist, now, 10, 24*time.Hour)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Delivered, Classify(nil))
	assert.Equal(t, PermanentFailure, Classify(forbidden))
	assert.Equal(t, PermanentFailure, Classify(kit.Forbidden("1", errors.New("kicked"))))
	assert.Equal(t, TransientFailure, Classify(&kit.SendError{Code: 400}))
	assert.Equal(t, "permanent", PermanentFailure.String())
}
