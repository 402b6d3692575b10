package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"mangawatch/internal/storage"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
	"mangawatch/pkg/tgui"
)

const platformTelegram = "telegram"

// Registrar adds works to the watchlist.
type Registrar interface {
	RegisterWork(ctx context.Context, rawURL string) (watch.TrackedWork, error)
}

// Store is the subset of storage the commands read and write.
type Store interface {
	ListWorks(ctx context.Context) ([]storage.Work, error)
	ListDestinationsByGroup(ctx context.Context, platform, groupID string) ([]storage.Destination, error)
	UpsertDestination(ctx context.Context, d storage.Destination) (storage.Destination, error)
}

// Trigger queues an immediate poll cycle.
type Trigger interface {
	TriggerNow() bool
	Last() (watch.CycleReport, bool)
}

type Deps struct {
	Works     Registrar
	Store     Store
	Trigger   Trigger
	Supported func() []string // domains shown when a URL is rejected
	Now       func() time.Time
}

// Install registers the built-in command set on r.
func Install(r *Router, d Deps) {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := &handlers{d: d, r: r}
	r.Register(
		Command{Route: "manga add", Usage: "/manga add <url>", Description: "track a work", Timeout: 45 * time.Second, Handle: h.mangaAdd},
		Command{Route: "manga list", Description: "list tracked works", Handle: h.mangaList},
		Command{Route: "manga check", Description: "run a check now", Handle: h.mangaCheck},
		Command{Route: "channel register", Description: "send updates to this chat/topic", Handle: h.channelRegister},
		Command{Route: "channel list", Description: "show this group's destination", Handle: h.channelList},
		Command{Route: "help", Description: "show commands", Handle: h.help},
	)
}

type handlers struct {
	d Deps
	r *Router
}

func (h *handlers) help(ctx context.Context, req *Request) error {
	return req.Reply(ctx, h.r.HelpText())
}

func (h *handlers) mangaAdd(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "Usage: <code>/manga add &lt;url&gt;</code>")
	}
	w, err := h.d.Works.RegisterWork(ctx, req.Args[0])
	switch {
	case err == nil:
		req.Log.Info("work registered", logx.String("url", w.URL))
		return req.Reply(ctx, tgui.JoinH("\n", tgui.Esc("Now tracking"), tgui.Link(w.URL, w.URL)).String())
	case errors.Is(err, watch.ErrAlreadyExists):
		return req.Reply(ctx, "That work is already tracked.")
	case errors.Is(err, watch.ErrInvalidURL):
		msg := "That URL is not supported. Use an https link to a work page"
		if h.d.Supported != nil {
			if doms := h.d.Supported(); len(doms) > 0 {
				msg += " on " + strings.Join(doms, ", ")
			}
		}
		return req.Reply(ctx, escape(msg)+".")
	default:
		return err
	}
}

func (h *handlers) mangaList(ctx context.Context, req *Request) error {
	works, err := h.d.Store.ListWorks(ctx)
	if err != nil {
		return err
	}
	if len(works) == 0 {
		return req.Reply(ctx, "No works tracked yet. Add one with <code>/manga add &lt;url&gt;</code>.")
	}
	now := h.d.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Tracked works (%d)</b>\n", len(works))
	for _, w := range works {
		latest := "none yet"
		if w.LatestInstallment > 0 {
			latest = "chapter " + strconv.Itoa(w.LatestInstallment)
		}
		fmt.Fprintf(&b, "• %s: %s, %s\n",
			tgui.Link(tgui.TruncRunes(w.Title, 60), w.URL), latest, humanize.RelTime(w.UpdatedAt, now, "ago", "from now"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *handlers) mangaCheck(ctx context.Context, req *Request) error {
	if h.d.Trigger == nil {
		return req.Reply(ctx, "Scheduler is not running.")
	}
	if !h.d.Trigger.TriggerNow() {
		return req.Reply(ctx, "A check is already queued.")
	}
	msg := "Check queued."
	if last, ok := h.d.Trigger.Last(); ok {
		msg += fmt.Sprintf(" Last run: %d checked, %d updated, %d failed.", last.Checked, last.Updated, last.Failed)
	}
	return req.Reply(ctx, msg)
}

func (h *handlers) channelRegister(ctx context.Context, req *Request) error {
	if !req.Msg.IsGroup {
		return req.Reply(ctx, "Run this inside a group or one of its topics.")
	}
	groupID := strconv.FormatInt(req.Msg.ChatID, 10)
	name := req.Msg.ChatTitle
	if req.Msg.ThreadID != 0 {
		name = fmt.Sprintf("%s / topic %d", req.Msg.ChatTitle, req.Msg.ThreadID)
	}
	d, err := h.d.Store.UpsertDestination(ctx, storage.Destination{
		Platform:    platformTelegram,
		GroupID:     groupID,
		GroupName:   req.Msg.ChatTitle,
		ChannelID:   groupID,
		ThreadID:    req.Msg.ThreadID,
		ChannelName: name,
	})
	if err != nil {
		return err
	}
	req.Log.Info("destination registered", logx.String("group_id", groupID), logx.Int("thread_id", d.ThreadID))
	return req.Reply(ctx, "Updates for this group will be posted to "+tgui.B(d.ChannelName).String()+".")
}

func (h *handlers) channelList(ctx context.Context, req *Request) error {
	groupID := strconv.FormatInt(req.Msg.ChatID, 10)
	ds, err := h.d.Store.ListDestinationsByGroup(ctx, platformTelegram, groupID)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		return req.Reply(ctx, "No destination registered. Use <code>/channel register</code> in the target chat or topic.")
	}
	var b strings.Builder
	b.WriteString("<b>Destination</b>\n")
	for _, d := range ds {
		fmt.Fprintf(&b, "• %s (since %s)\n", escape(d.ChannelName), d.CreatedAt.UTC().Format("2006-01-02"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func escape(s string) string { return tgui.Esc(s).String() }
