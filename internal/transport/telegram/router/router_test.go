package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	targets []kit.ChatTarget
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.targets = append(f.targets, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendDocument(context.Context, kit.ChatTarget, kit.Document, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeSender) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func msg(chatID, from int64, text string, group bool) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: from, Text: text, IsGroup: group}}
}

func newTestRouter(t *testing.T, cmds ...Command) (*Router, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	r := New(logx.Nop(), s, []int64{7}, WithWorkers(2))
	r.SetCommands(cmds)
	return r, s
}

func TestPrepareResolvesAliasAndArgs(t *testing.T) {
	r, _ := newTestRouter(t, Command{Name: "register", Aliases: []string{"join"}, Handle: func(context.Context, *Request) error { return nil }})

	req, cmd, ok := r.prepare(context.Background(), msg(-100123, 5, `/JOIN@report_bot -100555 "a b"`, true))
	require.True(t, ok)
	assert.Equal(t, "register", cmd.Name)
	assert.Equal(t, []string{"-100555", "a b"}, req.Args)
	assert.Equal(t, "-100123", req.Chat.ChatID)
	assert.NotEmpty(t, req.ReqID)
}

func TestPrepareOwnerOnly(t *testing.T) {
	r, s := newTestRouter(t, Command{Name: "leave", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }})

	_, _, ok := r.prepare(context.Background(), msg(1, 5, "/leave", false))
	assert.False(t, ok)
	assert.Equal(t, []string{msgUnauthorized}, s.sent())

	_, _, ok = r.prepare(context.Background(), msg(1, 7, "/leave", false))
	assert.True(t, ok)
}

func TestUnknownCommandRepliesInPrivateOnly(t *testing.T) {
	r, s := newTestRouter(t)

	_, _, ok := r.prepare(context.Background(), msg(-1, 5, "/nope", true))
	assert.False(t, ok)
	assert.Empty(t, s.sent())

	_, _, ok = r.prepare(context.Background(), msg(5, 5, "/nope", false))
	assert.False(t, ok)
	assert.Equal(t, []string{msgUnknown}, s.sent())

	_, _, ok = r.prepare(context.Background(), msg(5, 5, "hello", false))
	assert.False(t, ok)
	assert.Len(t, s.sent(), 1, "plain text is ignored")
}

func TestDispatchLoopRunsHandlers(t *testing.T) {
	got := make(chan string, 4)
	r, s := newTestRouter(t,
		Command{Name: "report", Handle: func(ctx context.Context, req *Request) error {
			got <- req.Command
			_, err := req.Reply(ctx, "ok")
			return err
		}},
		Command{Name: "boom", Handle: func(context.Context, *Request) error { panic("bad handler") }},
	)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- msg(1, 1, "/boom", false)
	updates <- msg(1, 1, "/report", false)

	select {
	case name := <-got:
		assert.Equal(t, "report", name)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	require.Eventually(t, func() bool { return len(s.sent()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}

func TestChainOrderAndTimeout(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, mw("a"), mw("b"), MWTimeout(10*time.Millisecond))

	err := h(context.Background(), &Request{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestPanicRecoverReturnsError(t *testing.T) {
	h := MWPanicRecover(logx.Nop())(func(context.Context, *Request) error { panic("x") })
	assert.EqualError(t, h(context.Background(), &Request{}), "panic: x")
}

func TestHelpListsCommands(t *testing.T) {
	r, _ := newTestRouter(t,
		Command{Name: "report", Aliases: []string{"malumot"}, Description: "current status", Usage: "/report", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "leave", Access: AccessOwnerOnly, Description: "remove a chat", Handle: func(context.Context, *Request) error { return nil }},
	)

	all := r.helpText(nil)
	assert.Contains(t, all, "/report - current status")
	assert.Contains(t, all, "/leave - remove a chat 🔒")
	assert.Contains(t, all, "/help")

	one := r.helpText([]string{"malumot"})
	assert.Contains(t, one, "<b>/report</b>")
	assert.Contains(t, one, "Aliases: /malumot")

	assert.Contains(t, r.helpText([]string{"<x>"}), "&lt;x&gt;")
}

func TestMenuCommands(t *testing.T) {
	r, _ := newTestRouter(t,
		Command{Name: "report", Description: "status", Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "leave", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }},
	)
	got := r.MenuCommands()
	assert.Equal(t, []kit.BotCommand{
		{Command: "help", Description: "show available commands"},
		{Command: "report", Description: "status"},
	}, got)
}

func TestSanitizeMenuCommand(t *testing.T) {
	cases := map[string]string{
		"/Report": "report",
		"run-now": "run_now",
		"ok_1":    "ok_1",
		"__":      "",
		"привет":  "",
		"a.b c":   "a_b_c",
	}
	for in, want := range cases {
		got, ok := sanitizeMenuCommand(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want != "", ok, in)
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	assert.Equal(t, []string{"/a", "b c", "d\"e", ""}, tokenizeCommandLine(`/a 'b c' d\"e ""`))
	assert.Empty(t, tokenizeCommandLine("   "))
}
