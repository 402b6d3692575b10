// Package commands is the chat command layer: it parses "/manga add <url>"
// style messages and runs the matching handler on a bounded worker pool.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "mangawatch/internal/runtime/supervisor"
	"mangawatch/internal/transport"
	logx "mangawatch/pkg/logx"
	"mangawatch/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Command is one routable command. Route is a space-separated path such as "manga add".
type Command struct {
	Route       string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is the context handed to a handler.
type Request struct {
	Msg   transport.Message
	Chat  transport.ChatTarget
	Route string
	Args  []string
	ReqID string
	Log   logx.Logger

	sender transport.Sender
}

// Reply sends text back to the originating chat/topic.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Router maps command routes to handlers.
type Router struct {
	sender  transport.Sender
	log     logx.Logger
	workers int

	mu     sync.RWMutex
	routes map[string]Command // keyed by route
	order  []string

	jobs chan func()
}

func NewRouter(sender transport.Sender, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		sender:  sender,
		log:     log.With(logx.String("comp", "commands")),
		workers: 2,
		routes:  map[string]Command{},
		jobs:    make(chan func(), 64),
	}
}

func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		key := strings.Join(strings.Fields(strings.ToLower(c.Route)), " ")
		if _, ok := r.routes[key]; !ok {
			r.order = append(r.order, key)
		}
		c.Route = key
		r.routes[key] = c
	}
}

// Commands returns registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.routes[k])
	}
	return out
}

// MenuCommands lists the root words for the platform's command menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	seen := map[string]bool{}
	var out []transport.BotCommand
	for _, c := range r.Commands() {
		root, _, nested := strings.Cut(c.Route, " ")
		if seen[root] {
			continue
		}
		seen[root] = true
		desc := c.Description
		if nested {
			desc = root + " commands"
		}
		out = append(out, transport.BotCommand{Command: root, Description: desc})
	}
	return out
}

// resolve finds the longest registered route prefix of words.
func (r *Router) resolve(words []string) (Command, []string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := min(len(words), 3); n > 0; n-- {
		key := strings.ToLower(strings.Join(words[:n], " "))
		if c, ok := r.routes[key]; ok {
			return c, words[n:], true
		}
	}
	return Command{}, nil, false
}

// subcommands lists usages of routes nested under root.
func (r *Router) subcommands(root string) []string {
	root = strings.ToLower(root)
	var out []string
	for _, c := range r.Commands() {
		if rest, ok := strings.CutPrefix(c.Route, root+" "); ok && rest != "" {
			usage := c.Usage
			if usage == "" {
				usage = "/" + c.Route
			}
			out = append(out, usage+"  "+c.Description)
		}
	}
	return out
}

// parseCommandLine splits "/manga@bot add https://x" into ["manga","add","https://x"].
func parseCommandLine(text string) []string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text[1:])
	if len(parts) == 0 {
		return nil
	}
	if i := strings.IndexByte(parts[0], '@'); i >= 0 {
		parts[0] = parts[0][:i]
	}
	if parts[0] == "" {
		return nil
	}
	return parts
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log))
	for i := range r.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))
	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
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

func (r *Router) route(ctx context.Context, up transport.Update) {
	if up.Message == nil {
		return
	}
	msg := *up.Message
	words := parseCommandLine(msg.Text)
	if len(words) == 0 {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, args, ok := r.resolve(words)
	if !ok {
		if sub := r.subcommands(words[0]); len(sub) > 0 {
			_, _ = r.sender.SendText(ctx, chat, "Usage:\n"+strings.Join(sub, "\n"), nil)
			return
		}
		// unknown root words in groups are often other bots' commands
		if !msg.IsGroup {
			_, _ = r.sender.SendText(ctx, chat, "Unknown command. Try /help", nil)
		}
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Msg:    msg,
		Chat:   chat,
		Route:  cmd.Route,
		Args:   args,
		ReqID:  rid,
		sender: r.sender,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))
	job := func() {
		if err := final(ctx, req); err != nil {
			_ = req.Reply(ctx, "Something went wrong: "+escape(err.Error()))
		}
	}
	select {
	case r.jobs <- job:
	default:
		_, _ = r.sender.SendText(ctx, chat, "Busy, try again shortly.", nil)
	}
}

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.Log.Error("panic recovered", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("internal error")
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			if err != nil {
				req.Log.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			} else if d >= 750*time.Millisecond {
				req.Log.Info("request ok", logx.Duration("dur", d))
			} else {
				req.Log.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

// HelpText renders the command list.
func (r *Router) HelpText() string {
	cmds := r.Commands()
	slices.SortStableFunc(cmds, func(a, b Command) int { return strings.Compare(a.Route, b.Route) })
	var b strings.Builder
	b.WriteString(tgui.B("Commands").String() + "\n")
	for _, c := range cmds {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Route
		}
		fmt.Fprintf(&b, "%s %s\n", tgui.Code(usage), tgui.Esc(c.Description))
	}
	return strings.TrimRight(b.String(), "\n")
}
