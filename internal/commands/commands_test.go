package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mangawatch/internal/storage"
	"mangawatch/internal/transport"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
)

type sentText struct {
	to   transport.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) last(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatalf("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeRegistrar struct {
	err  error
	urls []string
}

func (f *fakeRegistrar) RegisterWork(ctx context.Context, rawURL string) (watch.TrackedWork, error) {
	if f.err != nil {
		return watch.TrackedWork{}, f.err
	}
	f.urls = append(f.urls, rawURL)
	return watch.TrackedWork{URL: rawURL, Title: watch.Untitled}, nil
}

type fakeStore struct {
	works []storage.Work
	dests map[string]storage.Destination
}

func (f *fakeStore) ListWorks(ctx context.Context) ([]storage.Work, error) { return f.works, nil }

func (f *fakeStore) ListDestinationsByGroup(ctx context.Context, platform, groupID string) ([]storage.Destination, error) {
	if d, ok := f.dests[platform+"/"+groupID]; ok {
		return []storage.Destination{d}, nil
	}
	return nil, nil
}

func (f *fakeStore) UpsertDestination(ctx context.Context, d storage.Destination) (storage.Destination, error) {
	if f.dests == nil {
		f.dests = map[string]storage.Destination{}
	}
	f.dests[d.Platform+"/"+d.GroupID] = d
	return d, nil
}

type fakeTrigger struct{ queued bool }

func (f *fakeTrigger) TriggerNow() bool {
	if f.queued {
		return false
	}
	f.queued = true
	return true
}

func (f *fakeTrigger) Last() (watch.CycleReport, bool) { return watch.CycleReport{}, false }

func newTestRouter(d Deps) (*Router, *fakeSender) {
	s := &fakeSender{}
	r := NewRouter(s, logx.Nop())
	Install(r, d)
	return r, s
}

// dispatch routes a message and runs the queued job inline.
func dispatch(r *Router, m transport.Message) {
	r.route(context.Background(), transport.Update{Message: &m})
	select {
	case job := <-r.jobs:
		job()
	default:
	}
}

func TestParseCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"/manga add https://x", "manga|add|https://x"},
		{"/manga@watch_bot list", "manga|list"},
		{"  /help  ", "help"},
		{"hello", ""},
		{"/", ""},
		{"/@bot", ""},
	}
	for _, tt := range tests {
		got := strings.Join(parseCommandLine(tt.in), "|")
		if got != tt.want {
			t.Fatalf("parseCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMangaAdd(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistrar{}
	r, s := newTestRouter(Deps{Works: reg, Store: &fakeStore{}})

	dispatch(r, transport.Message{ChatID: 5, Text: "/manga add https://sing-manga.com/manga/a/"})
	if len(reg.urls) != 1 || reg.urls[0] != "https://sing-manga.com/manga/a/" {
		t.Fatalf("registered = %v", reg.urls)
	}
	if got := s.last(t).text; !strings.Contains(got, "Now tracking") {
		t.Fatalf("reply = %q", got)
	}

	dispatch(r, transport.Message{ChatID: 5, Text: "/manga add"})
	if got := s.last(t).text; !strings.Contains(got, "Usage") {
		t.Fatalf("reply = %q", got)
	}
}

func TestMangaAddErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{watch.ErrAlreadyExists, "already tracked"},
		{watch.ErrInvalidURL, "sing-manga.com"},
		{errors.New("disk full"), "Something went wrong"},
	}
	for _, tt := range tests {
		r, s := newTestRouter(Deps{
			Works:     &fakeRegistrar{err: tt.err},
			Store:     &fakeStore{},
			Supported: func() []string { return []string{"sing-manga.com"} },
		})
		dispatch(r, transport.Message{ChatID: 1, Text: "/manga add https://x.test/"})
		if got := s.last(t).text; !strings.Contains(got, tt.want) {
			t.Fatalf("err %v: reply = %q, want substring %q", tt.err, got, tt.want)
		}
	}
}

func TestMangaList(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{works: []storage.Work{
		{URL: "https://a.test/w", Title: "A <b>", LatestInstallment: 12, UpdatedAt: now.Add(-2 * time.Hour)},
		{URL: "https://b.test/w", Title: "B"},
	}}
	r, s := newTestRouter(Deps{Works: &fakeRegistrar{}, Store: st, Now: func() time.Time { return now }})
	dispatch(r, transport.Message{ChatID: 1, Text: "/manga list"})
	got := s.last(t).text
	for _, want := range []string{"Tracked works (2)", "A &lt;b&gt;", "chapter 12", "2 hours ago", "none yet"} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply missing %q:\n%s", want, got)
		}
	}
}

func TestMangaCheck(t *testing.T) {
	t.Parallel()
	tr := &fakeTrigger{}
	r, s := newTestRouter(Deps{Works: &fakeRegistrar{}, Store: &fakeStore{}, Trigger: tr})
	dispatch(r, transport.Message{ChatID: 1, Text: "/manga check"})
	if got := s.last(t).text; !strings.HasPrefix(got, "Check queued") {
		t.Fatalf("reply = %q", got)
	}
	dispatch(r, transport.Message{ChatID: 1, Text: "/manga check"})
	if got := s.last(t).text; !strings.Contains(got, "already queued") {
		t.Fatalf("reply = %q", got)
	}
}

func TestChannelRegisterReplacesGroupDestination(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r, s := newTestRouter(Deps{Works: &fakeRegistrar{}, Store: st})

	dispatch(r, transport.Message{ChatID: -100, ChatTitle: "Readers", Text: "/channel register", IsGroup: true})
	dispatch(r, transport.Message{ChatID: -100, ThreadID: 7, ChatTitle: "Readers", Text: "/channel register", IsGroup: true})

	if len(st.dests) != 1 {
		t.Fatalf("destinations = %d, want 1", len(st.dests))
	}
	d := st.dests["telegram/-100"]
	if d.ChannelID != "-100" || d.ThreadID != 7 || d.GroupName != "Readers" {
		t.Fatalf("destination = %+v", d)
	}

	dispatch(r, transport.Message{ChatID: -100, Text: "/channel list", IsGroup: true})
	if got := s.last(t).text; !strings.Contains(got, "topic 7") {
		t.Fatalf("reply = %q", got)
	}
}

func TestChannelRegisterRequiresGroup(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	r, s := newTestRouter(Deps{Works: &fakeRegistrar{}, Store: st})
	dispatch(r, transport.Message{ChatID: 9, Text: "/channel register"})
	if len(st.dests) != 0 {
		t.Fatalf("private chat registered a destination")
	}
	if got := s.last(t).text; !strings.Contains(got, "group") {
		t.Fatalf("reply = %q", got)
	}
}

func TestContainerAndUnknown(t *testing.T) {
	t.Parallel()
	r, s := newTestRouter(Deps{Works: &fakeRegistrar{}, Store: &fakeStore{}})

	dispatch(r, transport.Message{ChatID: 1, Text: "/manga"})
	if got := s.last(t).text; !strings.Contains(got, "/manga add <url>") {
		t.Fatalf("reply = %q", got)
	}

	dispatch(r, transport.Message{ChatID: 1, Text: "/nope"})
	if got := s.last(t).text; !strings.Contains(got, "Unknown command") {
		t.Fatalf("reply = %q", got)
	}

	n := len(s.sent)
	dispatch(r, transport.Message{ChatID: 1, Text: "/nope", IsGroup: true})
	if len(s.sent) != n {
		t.Fatalf("unknown command in a group should be ignored")
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	r, _ := newTestRouter(Deps{})
	got := r.MenuCommands()
	var names []string
	for _, c := range got {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "manga,channel,help" {
		t.Fatalf("menu = %v", names)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := &fakeSender{}
	r := NewRouter(s, logx.Nop())
	r.Register(Command{Route: "boom", Handle: func(ctx context.Context, req *Request) error { panic("x") }})
	dispatch(r, transport.Message{ChatID: 1, Text: "/boom"})
	if got := s.last(t).text; !strings.Contains(got, "internal error") {
		t.Fatalf("reply = %q", got)
	}
}
