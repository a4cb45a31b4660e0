// Package router turns incoming chat messages into command calls.
//
// Commands are flat ("/report", "/register 123") with root-level aliases.
// Each call runs on a bounded worker pool behind panic recovery, request
// logging and an optional timeout.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "reportbot/internal/runtime/supervisor"
	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	ChatID   int64
	FromID   int64
	FromName string
	IsGroup  bool
	Command  string
	Args     []string
	ReqID    string
	Logger   logx.Logger

	sender kit.Sender
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) (kit.MessageRef, error) {
	return r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

// ReplyDocument sends a file to the chat the request came from.
func (r *Request) ReplyDocument(ctx context.Context, doc kit.Document) (kit.MessageRef, error) {
	return r.sender.SendDocument(ctx, r.Chat, doc, &kit.SendOptions{ParseMode: "HTML"})
}

// Delete removes a message sent earlier in this chat.
func (r *Request) Delete(ctx context.Context, ref kit.MessageRef) error {
	return r.sender.DeleteMessage(ctx, ref)
}

const (
	defaultQueueSize = 256

	msgUnknown      = "Unknown command. Try /help"
	msgUnauthorized = "⛔ This command is for bot owners only."
	msgBusy         = "Busy, try again in a moment."
)

type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu     sync.RWMutex
	cmds   []Command
	index  map[string]*Command // name and aliases
	owners []int64

	workers int
	jobs    chan func()

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

type Option func(*Router)

// WithWorkers sets the pool size. Default is NumCPU, at least 2.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

func New(log logx.Logger, sender kit.Sender, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:     log.With(logx.String("comp", "telegram.router")),
		sender:  sender,
		index:   map[string]*Command{},
		owners:  append([]int64(nil), owners...),
		workers: max(runtime.NumCPU(), 2),
		jobs:    make(chan func(), defaultQueueSize),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOwners replaces the owner list used for AccessOwnerOnly checks.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetCommands installs cmds plus a built-in /help. Later entries win on
// name or alias clashes.
func (r *Router) SetCommands(cmds []Command) {
	all := make([]Command, 0, len(cmds)+1)
	for _, c := range cmds {
		c.Name = normalizeName(c.Name)
		if c.Name == "" || c.Handle == nil || c.Name == "help" {
			continue
		}
		all = append(all, c)
	}
	all = append(all, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Reply(ctx, r.helpText(req.Args))
			return err
		},
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	index := make(map[string]*Command, len(all)*2)
	for i := range all {
		c := &all[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				index[a] = c
			}
		}
	}

	r.mu.Lock()
	r.cmds = all
	r.index = index
	r.mu.Unlock()
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Supervisor returns the worker pool's supervisor while dispatching.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.runMu.Lock()
	r.sup, r.running = sup, true
	r.runMu.Unlock()

	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.runMu.Lock()
		r.running = false
		r.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, cmd, ok := r.prepare(ctx, up)
	if !ok {
		return
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)
	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = req.Reply(ctx, msgBusy)
	}
}

// prepare resolves the command and access for a message. Replies for
// unknown commands go to private chats only; groups are shared with other
// bots.
func (r *Router) prepare(ctx context.Context, up kit.Update) (*Request, Command, bool) {
	msg := up.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return nil, Command{}, false
	}
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: strconv.FormatInt(msg.ChatID, 10), ThreadID: msg.ThreadID},
		ChatID:   msg.ChatID,
		FromID:   msg.FromID,
		FromName: msg.FromUsername,
		IsGroup:  msg.IsGroup,
		Args:     args,
		sender:   r.sender,
	}

	cmd, found := r.lookup(name)
	if !found {
		if !msg.IsGroup {
			_, _ = req.Reply(ctx, msgUnknown)
		}
		return nil, Command{}, false
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_, _ = req.Reply(ctx, msgUnauthorized)
		return nil, Command{}, false
	}

	req.Command = cmd.Name
	req.ReqID = newReqID()
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", cmd.Name),
	)
	return req, cmd, true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}
