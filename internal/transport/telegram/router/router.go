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

	rtsup "castbot/internal/runtime/supervisor"
	kit "castbot/internal/transport"
	logx "castbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string

	// Timeout bounds the handler; 0 means no limit.
	Timeout  time.Duration
	// Detached handlers run on their own supervised goroutine instead of a
	// pool worker, so a long run never starves other commands.
	Detached bool
	Handle   HandlerFunc
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string

	// Args are the quoted-aware tokens after the command word. RawArgs is the
	// same remainder untouched.
	Args    []string
	RawArgs string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply posts text into the chat (and thread) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r == nil || r.Adapter == nil {
		return nil
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Option func(*Router)

// WithWorkers sets the handler pool size (default NumCPU, at least 2).
func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

// WithMaxDetached caps concurrently running detached handlers (default 64).
func WithMaxDetached(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.detached = make(chan struct{}, n)
		}
	}
}

// WithQueue sets the pending job capacity (default 256).
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.jobs = make(chan func(), n)
		}
	}
}

// Router maps "/name" messages to handlers and runs them on a bounded pool.
type Router struct {
	mu    sync.RWMutex
	table map[string]*Command // name and aliases
	cmds  []Command           // registration order, help included

	log      logx.Logger
	adapter  kit.Adapter
	workers  int
	jobs     chan func()
	// detached holds one token per running detached handler.
	detached chan struct{}

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(log logx.Logger, adapter kit.Adapter, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		table:    map[string]*Command{},
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		jobs:     make(chan func(), 256),
		detached: make(chan struct{}, 64),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = max(runtime.NumCPU(), 2)
	}
	return r
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// SetCommands replaces the command table. /help is always injected.
func (r *Router) SetCommands(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show available commands",
		Usage:       "/help",
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			return err
		},
	}
	cmds = append(append([]Command(nil), cmds...), helper)

	table := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; dup {
			r.log.Warn("duplicate command ignored", logx.String("cmd", name))
			continue
		}
		cc := c
		cc.Name = name
		table[name] = &cc
		list = append(list, cc)
		for _, a := range c.Aliases {
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := table[sa]; !exists {
					table[sa] = &cc
				}
			}
		}
	}

	r.mu.Lock()
	r.table = table
	r.cmds = list
	r.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.table[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// SyncMenu pushes the command list to the platform menu when supported.
func (r *Router) SyncMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, menuCommands(r.Commands()))
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job != nil {
						r.runJob(idx, job)
					}
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		// Give in-flight handlers a moment to finish.
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
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
			if up.Kind == kit.UpdateMessage {
				r.routeMessage(ctx, sup, up.Message)
			}
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) routeMessage(ctx context.Context, sup *rtsup.Supervisor, msg *kit.Message) {
	if msg == nil {
		return
	}
	name, rest, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := r.lookup(name)
	if !ok {
		// Groups carry commands meant for other bots; stay quiet there.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		}
		return
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    tokenize(rest),
		RawArgs: rest,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	final := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(cmd.Timeout),
	)
	if cmd.Detached {
		ok = r.goDetached(sup, cmd.Name, func(c context.Context) { _ = final(c, req) })
	} else {
		ok = r.tryEnqueue(func() { _ = final(ctx, req) })
	}
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

// goDetached starts fn under sup unless the detached cap is reached.
func (r *Router) goDetached(sup *rtsup.Supervisor, name string, fn func(context.Context)) bool {
	select {
	case r.detached <- struct{}{}:
	default:
		return false
	}
	sup.Go0("command.detached."+name, func(c context.Context) {
		defer func() { <-r.detached }()
		fn(c)
	})
	return true
}

// tryEnqueue never blocks and survives a closed queue.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
