package source

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "mangawatch/pkg/logx"
)

const themesiaPage = `<html><body>
<h1 class="entry-title">  Solo   Leveling </h1>
<div class="thumb"><img src="/covers/solo.jpg"></div>
<div class="lastend">
  <div class="inepcx"><a href="https://sing-manga.com/solo-chapter-1/"><span>First</span><span class="epcurlast">Chapter 1</span></a></div>
  <div class="inepcx"><a href="/solo-chapter-11/"><span>Last</span><span class="epcurlast">Chapter 11</span></a></div>
</div>
</body></html>`

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://Sing-Manga.com/manga/x/", want: "https://sing-manga.com/manga/x/"},
		{in: "https://sing-manga.com:443/manga/x/#top", want: "https://sing-manga.com/manga/x/"},
		{in: "https://สดใสเมะ.com/manga/x/", want: "https://xn--l3c0azab5a2gta.com/manga/x/"},
		{in: "https://XN--L3C0AZAB5A2GTA.com/manga/x/", want: "https://xn--l3c0azab5a2gta.com/manga/x/"},
		{in: "https://sing-manga.com", want: "https://sing-manga.com/"},
		{in: "http://sing-manga.com/manga/x/", wantErr: true},
		{in: "sing-manga.com/manga/x", wantErr: true},
		{in: "https:///nohost", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeURL(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeURL(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLookupNativeAndASCIIDomainSelectSameFamily(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(BuiltinFamilies(logx.Nop())...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	a, err := reg.Lookup("https://สดใสเมะ.com/manga/x/")
	if err != nil {
		t.Fatalf("lookup native: %v", err)
	}
	b, err := reg.Lookup("https://xn--l3c0azab5a2gta.com/manga/x/")
	if err != nil {
		t.Fatalf("lookup ascii: %v", err)
	}
	if a.Name != "sodsaime" || a != b {
		t.Fatalf("families differ: %s vs %s", a.Name, b.Name)
	}

	if f, err := reg.Lookup("https://www.sing-manga.com/manga/x/"); err != nil || f.Name != "sing-manga" {
		t.Fatalf("www lookup: %v %v", f, err)
	}
	if f, err := reg.Lookup("https://m.sing-manga.com/manga/x/"); err != nil || f.Name != "sing-manga" {
		t.Fatalf("subdomain lookup: %v %v", f, err)
	}

	_, err = reg.Lookup("https://example.com/manga/x/")
	var xe *ExtractionError
	if !errors.As(err, &xe) || !errors.Is(err, ErrUnsupportedSource) {
		t.Fatalf("unknown domain err=%v", err)
	}
}

func TestRegisterRejectsDuplicateDomain(t *testing.T) {
	t.Parallel()

	reg, _ := NewRegistry(BuiltinFamilies(logx.Nop())...)
	err := reg.Register(Family{Name: "dup", Domains: []string{"SING-MANGA.com"}, Extractor: FeedExtractor{}})
	if err == nil || !strings.Contains(err.Error(), "claimed by both") {
		t.Fatalf("err=%v", err)
	}
}

func TestThemesiaExtract(t *testing.T) {
	t.Parallel()

	x := ThemesiaExtractor{Family: "sing-manga"}
	rec, err := x.Extract(context.Background(), "https://sing-manga.com/manga/solo/", []byte(themesiaPage))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := Record{
		Title:          "Solo Leveling",
		Installment:    11,
		InstallmentURL: "https://sing-manga.com/solo-chapter-11/",
		ImageURL:       "https://sing-manga.com/covers/solo.jpg",
	}
	if rec != want {
		t.Fatalf("got %+v\nwant %+v", rec, want)
	}
}

func TestThemesiaExtractTracesAnchors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		level string
		want  int
	}{
		{"trace", 2},
		{"debug", 0},
	} {
		var buf bytes.Buffer
		x := ThemesiaExtractor{Family: "sing-manga", Log: logx.NewWriter(&buf, tc.level)}
		if _, err := x.Extract(context.Background(), "https://sing-manga.com/manga/solo/", []byte(themesiaPage)); err != nil {
			t.Fatalf("extract: %v", err)
		}
		if got := strings.Count(buf.String(), "installment anchor"); got != tc.want {
			t.Fatalf("level %s: %d anchor lines, want %d:\n%s", tc.level, got, tc.want, buf.String())
		}
		if tc.want > 0 && !strings.Contains(buf.String(), `"href":"/solo-chapter-11/"`) {
			t.Fatalf("missing href in trace:\n%s", buf.String())
		}
	}
}

func TestThemesiaExtractNewestFirstDefence(t *testing.T) {
	t.Parallel()

	page := strings.NewReplacer(
		"Chapter 1<", "Chapter 12<",
		"solo-chapter-1/", "solo-chapter-12/",
	).Replace(themesiaPage)
	rec, err := ThemesiaExtractor{}.Extract(context.Background(), "https://sing-manga.com/manga/solo/", []byte(page))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Installment != 12 || rec.InstallmentURL != "https://sing-manga.com/solo-chapter-12/" {
		t.Fatalf("got %+v", rec)
	}
}

func TestThemesiaExtractErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page string
		want error
	}{
		{
			name: "no title",
			page: strings.Replace(themesiaPage, `class="entry-title"`, `class="other"`, 1),
			want: ErrMissingTitle,
		},
		{
			name: "no installment anchor",
			page: strings.ReplaceAll(themesiaPage, `class="inepcx"`, `class="x"`),
			want: ErrMissingLatestInstallment,
		},
		{
			name: "no number span",
			page: strings.ReplaceAll(themesiaPage, `class="epcurlast"`, `class="x"`),
			want: ErrUnparsableInstallmentNumber,
		},
		{
			name: "label without digits",
			page: strings.Replace(themesiaPage, "Chapter 11", "Chapter ??", 1),
			want: ErrUnparsableInstallmentNumber,
		},
		{
			name: "no href",
			page: strings.Replace(themesiaPage, `href="/solo-chapter-11/"`, ``, 1),
			want: ErrMissingInstallmentURL,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ThemesiaExtractor{Family: "sing-manga"}.Extract(context.Background(), "https://sing-manga.com/manga/solo/", []byte(tc.page))
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
			var xe *ExtractionError
			if !errors.As(err, &xe) || xe.Source != "sing-manga" {
				t.Fatalf("expected *ExtractionError with source, got %T %v", err, err)
			}
		})
	}
}

func TestThemesiaCoverIsOptional(t *testing.T) {
	t.Parallel()

	page := strings.Replace(themesiaPage, `<div class="thumb"><img src="/covers/solo.jpg"></div>`, "", 1)
	rec, err := ThemesiaExtractor{}.Extract(context.Background(), "https://sing-manga.com/manga/solo/", []byte(page))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.ImageURL != "" {
		t.Fatalf("image=%q, want empty", rec.ImageURL)
	}
}

func TestParseInstallmentNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"Chapter 120", 120, true},
		{"ตอนที่ 45", 45, true},
		{" 7 ", 7, true},
		{"Chapter", 0, false},
		{"", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseInstallmentNumber(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseInstallmentNumber(%q)=(%d,%v), want (%d,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLabelAfterFoldsInPlace(t *testing.T) {
	t.Parallel()

	cases := []struct {
		label, prefix, want string
	}{
		{"Kaiju No. 8 Chapter 110", "chapter", " 110"},
		{"ȺChapter", "chapter", ""},
		{"Series 2 ȺȺȺȺChapter 7", "Chapter", " 7"},
		{strings.Repeat("\u212A", 12) + "5 Chapter 7", "chapter", " 7"},
		{"Vol 3 \u212Aapitel 12", "kapitel", " 12"},
		{"ตอนที่ 9 ตอนที่ 10", "ตอนที่", " 10"},
		{"no prefix 4", "chapter", "no prefix 4"},
		{"bad \xff\xfe Chapter 3", "chapter", " 3"},
		{"Chapter 5", "", "Chapter 5"},
	}
	for _, tc := range cases {
		if got := labelAfter(tc.label, tc.prefix); got != tc.want {
			t.Fatalf("labelAfter(%q, %q)=%q, want %q", tc.label, tc.prefix, got, tc.want)
		}
	}
}

func TestFeedExtractUnicodeLabel(t *testing.T) {
	t.Parallel()

	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Series 2</title>
<item><title>Series 2 ȺȺȺȺChapter 7</title><link>https://feeds.example.org/s2/7</link></item>
</channel></rss>`
	rec, err := FeedExtractor{Family: "feeds", LabelPrefix: "Chapter"}.Extract(context.Background(), "https://feeds.example.org/s2.xml", []byte(feed))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Installment != 7 {
		t.Fatalf("installment=%d, want 7", rec.Installment)
	}
}

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Kaiju No. 8</title>
<link>https://feeds.example.org/kaiju</link>
<image><url>https://feeds.example.org/kaiju.jpg</url><title>x</title><link>https://feeds.example.org</link></image>
<item><title>Kaiju No. 8 Chapter 110</title><link>https://feeds.example.org/kaiju/110</link></item>
<item><title>Kaiju No. 8 Chapter 109</title><link>https://feeds.example.org/kaiju/109</link></item>
</channel></rss>`

func TestFeedExtract(t *testing.T) {
	t.Parallel()

	rec, err := FeedExtractor{Family: "feeds", LabelPrefix: "chapter"}.Extract(context.Background(), "https://feeds.example.org/kaiju.xml", []byte(rssFeed))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := Record{
		Title:          "Kaiju No. 8",
		Installment:    110,
		InstallmentURL: "https://feeds.example.org/kaiju/110",
		ImageURL:       "https://feeds.example.org/kaiju.jpg",
	}
	if rec != want {
		t.Fatalf("got %+v\nwant %+v", rec, want)
	}

	empty := strings.NewReplacer(
		`<item><title>Kaiju No. 8 Chapter 110</title><link>https://feeds.example.org/kaiju/110</link></item>`, "",
		`<item><title>Kaiju No. 8 Chapter 109</title><link>https://feeds.example.org/kaiju/109</link></item>`, "",
	).Replace(rssFeed)
	if _, err := (FeedExtractor{}).Extract(context.Background(), "https://feeds.example.org/kaiju.xml", []byte(empty)); !errors.Is(err, ErrMissingLatestInstallment) {
		t.Fatalf("empty feed err=%v", err)
	}
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, "", WithHTTPClient(srv.Client()))
	body, err := f.Fetch(context.Background(), srv.URL, http.Header{"Accept-Language": {"th-TH,th;q=0.9,en;q=0.8"}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body=%q", body)
	}
	if got.Get("User-Agent") != DefaultUserAgent {
		t.Fatalf("user-agent=%q", got.Get("User-Agent"))
	}
	if got.Get("Accept-Language") != "th-TH,th;q=0.9,en;q=0.8" {
		t.Fatalf("accept-language=%q", got.Get("Accept-Language"))
	}
	if got.Get("Cache-Control") != "no-cache" || !strings.Contains(got.Get("Accept"), "text/html") {
		t.Fatalf("headers=%v", got)
	}
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewFetcher(time.Second, "", WithHTTPClient(srv.Client())).Fetch(context.Background(), srv.URL, nil)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusForbidden {
		t.Fatalf("err=%v", err)
	}
}

func TestServiceExtract(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(themesiaPage))
	}))
	defer srv.Close()

	reg, err := NewRegistry(Family{Name: "local", Domains: []string{"127.0.0.1"}, Extractor: ThemesiaExtractor{Family: "local"}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	svc := NewService(reg, NewFetcher(time.Second, "", WithHTTPClient(srv.Client())), logx.Nop())
	rec, err := svc.Extract(context.Background(), srv.URL+"/manga/solo/")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rec.Installment != 11 || !strings.HasPrefix(rec.InstallmentURL, srv.URL) {
		t.Fatalf("rec=%+v", rec)
	}
	if svc.Supports("https://example.com/x") {
		t.Fatalf("example.com should be unsupported")
	}
}
