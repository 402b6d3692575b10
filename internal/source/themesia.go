package source

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	logx "mangawatch/pkg/logx"
)

// Selectors of the MangaThemesia WordPress layout.
const (
	selTitle       = "h1.entry-title"
	selCover       = "div.thumb img"
	selInstallment = "div.lastend div.inepcx a"
	selNumber      = "span.epcurlast"
)

// ThemesiaExtractor reads MangaThemesia pages. Those sites list the
// "first" and "last" installment anchors oldest-first, so the last anchor is
// the newest; if the first anchor carries a higher number it wins instead.
type ThemesiaExtractor struct {
	Family string
	Log    logx.Logger
}

func (x ThemesiaExtractor) Extract(ctx context.Context, pageURL string, body []byte) (Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingTitle, "unreadable document: "+err.Error())
	}

	title := cleanText(doc.Find(selTitle).First().Text())
	if title == "" {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingTitle, selTitle)
	}

	anchors := doc.Find(selInstallment)
	if anchors.Length() == 0 {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingLatestInstallment, selInstallment)
	}

	if x.Log.Enabled(logx.LevelTrace) {
		anchors.Each(func(i int, a *goquery.Selection) {
			x.Log.Trace("installment anchor",
				logx.String("url", pageURL), logx.Int("index", i),
				logx.String("number", cleanText(a.Find(selNumber).First().Text())),
				logx.String("href", strings.TrimSpace(a.AttrOr("href", ""))))
		})
	}

	pick := anchors.Last()
	n, ok := anchorNumber(pick)
	if !ok {
		return Record{}, extractErr(x.Family, pageURL, ErrUnparsableInstallmentNumber, strings.TrimSpace(pick.Text()))
	}
	if anchors.Length() > 1 {
		if fn, ok := anchorNumber(anchors.First()); ok && fn > n {
			if !x.Log.IsZero() {
				x.Log.Debug("installments listed newest-first; using first anchor",
					logx.String("url", pageURL), logx.Int("first", fn), logx.Int("last", n))
			}
			pick, n = anchors.First(), fn
		}
	}

	href := strings.TrimSpace(pick.AttrOr("href", ""))
	if href == "" {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingInstallmentURL, selInstallment+"[href]")
	}

	rec := Record{
		Title:          title,
		Installment:    n,
		InstallmentURL: resolve(pageURL, href),
	}
	img := doc.Find(selCover).First()
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			rec.ImageURL = resolve(pageURL, v)
			break
		}
	}
	return rec, nil
}

func anchorNumber(a *goquery.Selection) (int, bool) {
	return ParseInstallmentNumber(a.Find(selNumber).First().Text())
}

// resolve makes ref absolute against base; unparsable refs are returned as-is.
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// BuiltinFamilies returns the MangaThemesia sites supported out of the box.
func BuiltinFamilies(log logx.Logger) []Family {
	return []Family{
		{
			Name:      "sing-manga",
			Domains:   []string{"sing-manga.com"},
			Extractor: ThemesiaExtractor{Family: "sing-manga", Log: log},
			Header:    http.Header{"Accept-Language": {"en-US,en;q=0.9"}},
		},
		{
			Name:      "sodsaime",
			Domains:   []string{"สดใสเมะ.com"},
			Extractor: ThemesiaExtractor{Family: "sodsaime", Log: log},
			Header:    http.Header{"Accept-Language": {"th-TH,th;q=0.9,en;q=0.8"}},
		},
	}
}
