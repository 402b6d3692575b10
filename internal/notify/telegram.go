package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mangawatch/internal/transport"
	"mangawatch/internal/watch"
	"mangawatch/pkg/tgui"
)

const PlatformTelegram = "telegram"

// ChatClient is the part of the chat adapter the telegram sender uses.
type ChatClient interface {
	transport.Sender
	SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// TelegramSender posts an HTML message, as a photo caption when a cover exists.
type TelegramSender struct {
	Client ChatClient
}

func (t TelegramSender) Send(ctx context.Context, d watch.Destination, m Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(d.ChannelID), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram channel id %q: %w", d.ChannelID, err)
	}
	to := transport.ChatTarget{ChatID: chatID, ThreadID: d.ThreadID}
	text := FormatHTML(m)
	if m.ThumbnailURL != "" {
		if _, err := t.Client.SendPhoto(ctx, to, m.ThumbnailURL, text, &transport.SendOptions{ParseMode: "HTML"}); err == nil {
			return nil
		}
		// a cover the platform cannot fetch should not cost the notification
	}
	_, err = t.Client.SendText(ctx, to, text, &transport.SendOptions{ParseMode: "HTML"})
	return err
}

// FormatHTML renders m in Telegram's HTML subset.
func FormatHTML(m Message) string {
	parts := []tgui.H{tgui.B(m.Title), tgui.Esc(m.Description)}
	if m.Link != "" {
		parts = append(parts, tgui.Link("Read now", m.Link))
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, tgui.I(m.Timestamp.UTC().Format("2006-01-02 15:04 UTC")))
	}
	return tgui.JoinH("\n", parts...).String()
}
