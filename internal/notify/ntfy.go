package notify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"mangawatch/internal/watch"
)

const (
	PlatformNtfy  = "ntfy"
	ntfyUserAgent = "mangawatch"
)

// NtfySender publishes to ntfy topics; the destination's ChannelID is the topic.
type NtfySender struct {
	Server string
	Token  string
	Client *http.Client
}

func (n NtfySender) Send(ctx context.Context, d watch.Destination, m Message) error {
	topic := strings.Trim(strings.TrimSpace(d.ChannelID), "/")
	if topic == "" {
		return fmt.Errorf("ntfy topic is empty")
	}
	endpoint, err := url.JoinPath(strings.TrimRight(n.Server, "/"), topic)
	if err != nil {
		return fmt.Errorf("ntfy endpoint: %w", err)
	}

	body := m.Description
	if m.Link != "" {
		body += "\n" + m.Link
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", ntfyUserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", mime.QEncoding.Encode("utf-8", m.Title))
	req.Header.Set("Tags", "books")
	if m.Link != "" {
		req.Header.Set("Click", m.Link)
	}
	if m.ThumbnailURL != "" {
		req.Header.Set("Attach", m.ThumbnailURL)
	}
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
