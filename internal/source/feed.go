package source

import (
	"bytes"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"
)

// FeedExtractor reads RSS/Atom/JSON feeds. Feeds list items newest-first, so
// the first item is the latest; the last item wins if it has a higher number.
// LabelPrefix (e.g. "Chapter") limits number parsing to the text after it so
// digits in the work's own name are ignored.
type FeedExtractor struct {
	Family      string
	LabelPrefix string
}

func (x FeedExtractor) Extract(ctx context.Context, pageURL string, body []byte) (Record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingTitle, "unreadable feed: "+err.Error())
	}
	title := cleanText(feed.Title)
	if title == "" {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingTitle, "feed title")
	}
	if len(feed.Items) == 0 {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingLatestInstallment, "feed has no items")
	}

	pick := feed.Items[0]
	n, ok := ParseInstallmentNumber(labelAfter(pick.Title, x.LabelPrefix))
	if !ok {
		return Record{}, extractErr(x.Family, pageURL, ErrUnparsableInstallmentNumber, pick.Title)
	}
	if last := feed.Items[len(feed.Items)-1]; last != pick {
		if ln, ok := ParseInstallmentNumber(labelAfter(last.Title, x.LabelPrefix)); ok && ln > n {
			pick, n = last, ln
		}
	}

	link := strings.TrimSpace(pick.Link)
	if link == "" && len(pick.Links) > 0 {
		link = strings.TrimSpace(pick.Links[0])
	}
	if link == "" {
		return Record{}, extractErr(x.Family, pageURL, ErrMissingInstallmentURL, "item link")
	}

	rec := Record{Title: title, Installment: n, InstallmentURL: resolve(pageURL, link)}
	switch {
	case feed.Image != nil && feed.Image.URL != "":
		rec.ImageURL = resolve(pageURL, feed.Image.URL)
	case pick.Image != nil && pick.Image.URL != "":
		rec.ImageURL = resolve(pageURL, pick.Image.URL)
	}
	return rec, nil
}
